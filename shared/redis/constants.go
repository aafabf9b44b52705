// shared/redis/constants.go
package redis

const (
	// SessionEventsChannel is the pub/sub channel carrying every session
	// fan-out event. All dashboard observers subscribe to it; the REST
	// snapshot poll is the correctness backstop if a publish is missed.
	SessionEventsChannel = "sessions:events"
)
