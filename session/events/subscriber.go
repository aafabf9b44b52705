// session/events/subscriber.go
package events

import (
	"context"
	"encoding/json"
	"log"

	redisu "github.com/cybercatalyst/escape-services/shared/redis"
	"github.com/redis/go-redis/v9"
)

// Subscriber consumes the session events channel and hands each decoded
// event to a handler. The websocket gateway runs one of these to feed
// connected dashboards.
type Subscriber struct {
	redisClient *redis.ClusterClient
	handler     func(*SessionEvent)
}

// NewSubscriber creates a subscriber dispatching to handler.
func NewSubscriber(redisClient *redis.ClusterClient, handler func(*SessionEvent)) *Subscriber {
	return &Subscriber{
		redisClient: redisClient,
		handler:     handler,
	}
}

// Run subscribes and dispatches until the context is cancelled. Malformed
// messages are logged and skipped; they never stop the loop.
func (s *Subscriber) Run(ctx context.Context) {
	pubsub := s.redisClient.Subscribe(ctx, redisu.SessionEventsChannel)
	defer pubsub.Close()

	log.Printf("INFO: Subscribed to %s.", redisu.SessionEventsChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Println("INFO: Session event subscriber shutting down.")
			return
		case msg, ok := <-ch:
			if !ok {
				log.Println("WARN: Session event subscription channel closed.")
				return
			}
			var event SessionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("WARN: Skipping malformed session event: %v", err)
				continue
			}
			s.handler(&event)
		}
	}
}
