// session/events/events.go
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cybercatalyst/escape-services/shared/models"
	"github.com/google/uuid"
)

// EventType is the closed set of session change notifications. Observers
// can react precisely per variant; re-fetching everything on any event
// remains a safe fallback.
type EventType string

const (
	EventSessionCreated  EventType = "SessionCreated"
	EventSessionUpdated  EventType = "SessionUpdated"
	EventSessionDeleted  EventType = "SessionDeleted"
	EventSessionTimedOut EventType = "SessionTimedOut"
)

// SessionEvent is the envelope published on the fan-out channel after a
// mutation has durably committed. It is best-effort and at-most-once:
// observers must tolerate a missed event via their own poll.
type SessionEvent struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// UpdatedPayload names the fields a SessionUpdated event touched and
// carries the post-commit record so observers can refresh their view
// without a full re-fetch.
type UpdatedPayload struct {
	ChangedFields []string            `json:"changedFields"`
	Session       *models.TeamSession `json:"session"`
}

// CreatedPayload carries the freshly provisioned record.
type CreatedPayload struct {
	Session *models.TeamSession `json:"session"`
}

// TimedOutPayload announces a derived timeout. Nothing is persisted for
// a timeout; this is a latency optimization over the dashboard's poll.
type TimedOutPayload struct {
	DisplayName string `json:"displayName"`
}

// NewEvent builds an envelope with a fresh event ID and marshaled payload.
func NewEvent(eventType EventType, sessionID string, payload interface{}) (*SessionEvent, error) {
	ev := &SessionEvent{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      eventType,
		Timestamp: time.Now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload for session %s: %w", eventType, sessionID, err)
		}
		ev.Data = data
	}
	return ev, nil
}
