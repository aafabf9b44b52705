// shared/registry/constants.go
package registry

const (
	// RedisRegistryHashPrefix is the prefix for the Redis hash keys that
	// store service registration data, keyed as "services:<serviceType>".
	RedisRegistryHashPrefix = "services:"
)
