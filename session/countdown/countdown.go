// session/countdown/countdown.go
package countdown

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/cybercatalyst/escape-services/session/events"
	"github.com/cybercatalyst/escape-services/shared/gameclock"
	"github.com/cybercatalyst/escape-services/shared/models"
	"github.com/jonboulle/clockwork"
)

// SessionFetcher retrieves the authoritative session snapshot. The HTTP
// session client satisfies this for kiosk deployments.
type SessionFetcher interface {
	FetchSession(ctx context.Context) (*models.TeamSession, error)
}

// Countdown is the client-side ticking display for one team. It keeps
// the last synced snapshot and derives elapsed/remaining locally from a
// ticking now, so the display never waits on the network for a tick.
// The poll resync is the correctness backstop; fan-out events just make
// updates land faster.
type Countdown struct {
	fetcher     SessionFetcher
	budget      time.Duration
	resyncEvery time.Duration
	clock       clockwork.Clock

	mu       sync.RWMutex
	snapshot *models.TeamSession
}

// New creates a countdown for the session served by fetcher.
func New(fetcher SessionFetcher, budget, resyncEvery time.Duration, clock clockwork.Clock) *Countdown {
	return &Countdown{
		fetcher:     fetcher,
		budget:      budget,
		resyncEvery: resyncEvery,
		clock:       clock,
	}
}

// Snapshot projects the current display state. ok is false until the
// first successful sync.
func (c *Countdown) Snapshot() (models.SessionProjection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return models.SessionProjection{}, false
	}
	return gameclock.Project(c.snapshot, c.clock.Now(), c.budget), true
}

// TimedOut reports whether the display should show the terminal
// timed-out state: budget exhausted and the team did not finish. This
// is purely a local rendering of derived values; nothing server-side
// stores it.
func (c *Countdown) TimedOut() bool {
	proj, ok := c.Snapshot()
	return ok && proj.Status == gameclock.StatusTimedOut
}

// Resync fetches the authoritative snapshot once.
func (c *Countdown) Resync(ctx context.Context) error {
	sess, err := c.fetcher.FetchSession(ctx)
	if err != nil {
		return err
	}
	c.apply(sess)
	return nil
}

// Apply replaces the snapshot from a fan-out event without a re-fetch,
// when the event carries the record. Events for other sessions or
// without a payload fall back to a full resync.
func (c *Countdown) Apply(ctx context.Context, ev *events.SessionEvent) {
	c.mu.RLock()
	current := c.snapshot
	c.mu.RUnlock()
	if current != nil && ev.SessionID != current.ID {
		return
	}

	switch ev.Type {
	case events.EventSessionUpdated:
		var payload events.UpdatedPayload
		if err := json.Unmarshal(ev.Data, &payload); err == nil && payload.Session != nil {
			c.apply(payload.Session)
			return
		}
	case events.EventSessionDeleted:
		c.mu.Lock()
		c.snapshot = nil
		c.mu.Unlock()
		return
	}

	if err := c.Resync(ctx); err != nil {
		log.Printf("WARN: Countdown resync after %s event failed: %v", ev.Type, err)
	}
}

func (c *Countdown) apply(sess *models.TeamSession) {
	c.mu.Lock()
	c.snapshot = sess
	c.mu.Unlock()
}

// Run keeps the snapshot fresh until ctx is done: an immediate initial
// sync, then a bounded-interval poll, interleaved with fan-out
// notifications arriving on the channel.
func (c *Countdown) Run(ctx context.Context, notifications <-chan *events.SessionEvent) {
	if err := c.Resync(ctx); err != nil {
		log.Printf("WARN: Initial countdown sync failed: %v", err)
	}

	ticker := c.clock.NewTicker(c.resyncEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := c.Resync(ctx); err != nil {
				log.Printf("WARN: Countdown resync failed: %v", err)
			}
		case ev, ok := <-notifications:
			if !ok {
				return
			}
			c.Apply(ctx, ev)
		}
	}
}
