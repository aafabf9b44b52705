// session/events/publisher.go
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	redisu "github.com/cybercatalyst/escape-services/shared/redis"
	"github.com/redis/go-redis/v9"
)

// Publisher is what the session mutator publishes through. Implementations
// must be fire-and-forget: a failed publish never fails the mutation.
type Publisher interface {
	Publish(ctx context.Context, event *SessionEvent)
}

// RedisPublisher broadcasts session events on the shared pub/sub channel.
type RedisPublisher struct {
	redisClient *redis.ClusterClient
}

// NewRedisPublisher creates a publisher on the given Redis client.
func NewRedisPublisher(redisClient *redis.ClusterClient) *RedisPublisher {
	return &RedisPublisher{redisClient: redisClient}
}

// Publish sends the event on the session events channel. Errors are
// logged and swallowed: the mutation already committed, and observers
// self-heal through their poll interval.
func (rp *RedisPublisher) Publish(ctx context.Context, event *SessionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("ERROR: Failed to marshal %s event for session %s: %v", event.Type, event.SessionID, err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := rp.redisClient.Publish(pubCtx, redisu.SessionEventsChannel, data).Err(); err != nil {
		log.Printf("WARN: Failed to publish %s event for session %s: %v", event.Type, event.SessionID, err)
	}
}
