// session/watcher/timeout_watcher.go
package watcher

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cybercatalyst/escape-services/session/events"
	"github.com/cybercatalyst/escape-services/shared/gameclock"
	"github.com/cybercatalyst/escape-services/shared/models"
	"github.com/jonboulle/clockwork"
)

// SessionLister is the slice of the store the watcher reads.
type SessionLister interface {
	ListSessions(ctx context.Context, role string) ([]models.TeamSession, error)
}

// Responsibility decides whether this instance owns a given session.
// The cluster assignment manager satisfies it; a single-instance deploy
// can use AlwaysResponsible.
type Responsibility interface {
	IsResponsible(entityID string) (bool, error)
}

// AlwaysResponsible is the single-instance Responsibility.
type AlwaysResponsible struct{}

func (AlwaysResponsible) IsResponsible(entityID string) (bool, error) { return true, nil }

// TimeoutWatcher scans active sessions and publishes a SessionTimedOut
// event when a team's budget runs out. Timeout is a derived state, so
// nothing is written back to the store; the event only saves observers
// from waiting out their poll interval. Consistent hashing over the
// instance ring keeps the announcement to one instance per team.
type TimeoutWatcher struct {
	lister      SessionLister
	publisher   events.Publisher
	responsible Responsibility
	budget      time.Duration
	interval    time.Duration
	clock       clockwork.Clock

	mu        sync.Mutex
	announced map[string]bool
}

// NewTimeoutWatcher creates a watcher over the given store slice.
func NewTimeoutWatcher(lister SessionLister, pub events.Publisher, responsible Responsibility, budget, interval time.Duration, clock clockwork.Clock) *TimeoutWatcher {
	return &TimeoutWatcher{
		lister:      lister,
		publisher:   pub,
		responsible: responsible,
		budget:      budget,
		interval:    interval,
		clock:       clock,
		announced:   make(map[string]bool),
	}
}

// Run scans on the configured interval until ctx is done.
func (tw *TimeoutWatcher) Run(ctx context.Context) {
	log.Printf("INFO: Timeout watcher running every %v.", tw.interval)
	ticker := tw.clock.NewTicker(tw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("INFO: Timeout watcher stopping.")
			return
		case <-ticker.Chan():
			tw.Scan(ctx)
		}
	}
}

// Scan performs one pass over all player sessions.
func (tw *TimeoutWatcher) Scan(ctx context.Context) {
	sessions, err := tw.lister.ListSessions(ctx, models.RolePlayer)
	if err != nil {
		log.Printf("WARN: Timeout watcher could not list sessions: %v", err)
		return
	}

	now := tw.clock.Now()
	for i := range sessions {
		tw.check(ctx, &sessions[i], now)
	}
}

func (tw *TimeoutWatcher) check(ctx context.Context, sess *models.TeamSession, now time.Time) {
	status := gameclock.Status(sess, now, tw.budget)
	if status != gameclock.StatusTimedOut {
		// A reset or a time grant brings the team back; forget the
		// announcement so a later timeout fires again.
		tw.mu.Lock()
		delete(tw.announced, sess.ID)
		tw.mu.Unlock()
		return
	}

	tw.mu.Lock()
	already := tw.announced[sess.ID]
	tw.mu.Unlock()
	if already {
		return
	}

	ours, err := tw.responsible.IsResponsible(sess.ID)
	if err != nil {
		log.Printf("WARN: Responsibility check failed for session %s: %v", sess.ID, err)
		return
	}
	if !ours {
		return
	}

	ev, err := events.NewEvent(events.EventSessionTimedOut, sess.ID, events.TimedOutPayload{DisplayName: sess.DisplayName})
	if err != nil {
		log.Printf("ERROR: Failed to build timeout event for session %s: %v", sess.ID, err)
		return
	}
	tw.publisher.Publish(ctx, ev)

	tw.mu.Lock()
	tw.announced[sess.ID] = true
	tw.mu.Unlock()
	log.Printf("INFO: Session %s (%s) ran out of time.", sess.ID, sess.DisplayName)
}
