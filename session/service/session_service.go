// session/service/session_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/cybercatalyst/escape-services/session/events"
	"github.com/cybercatalyst/escape-services/session/store"
	"github.com/cybercatalyst/escape-services/shared/auth"
	"github.com/cybercatalyst/escape-services/shared/gameclock"
	"github.com/cybercatalyst/escape-services/shared/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Custom Errors for clear communication to the API layer
var (
	ErrSessionNotFound   = fmt.Errorf("session not found")
	ErrSessionExists     = fmt.Errorf("session already exists")
	ErrInvalidTransition = fmt.Errorf("invalid session transition")
	ErrBadCredentials    = fmt.Errorf("invalid email or password")
	ErrUnknownSubTask    = fmt.Errorf("unknown sub-task")
	ErrUnknownHint       = fmt.Errorf("unknown hint")
)

// Adjustment directions. A grant moves the anchor later (more time
// left), a penalty moves it earlier.
const (
	AdjustGrant   = "grant"
	AdjustPenalty = "penalty"
)

// SessionStore is the persistence contract the mutator depends on. Every
// method is atomic with respect to a single session document; the store
// is the only serialization point for concurrent mutation.
type SessionStore interface {
	CreateSession(ctx context.Context, sess *models.TeamSession) error
	GetSession(ctx context.Context, id string) (*models.TeamSession, error)
	GetSessionByEmail(ctx context.Context, email string) (*models.TeamSession, error)
	ListSessions(ctx context.Context, role string) ([]models.TeamSession, error)
	DeleteSession(ctx context.Context, id string) error
	ApplyUpdate(ctx context.Context, id string, u models.SessionUpdate) (*models.TeamSession, error)
	CompleteLevel(ctx context.Context, id string, level int, at time.Time, advanceTo int, totalSeconds *int64, endTime *time.Time) (*models.TeamSession, bool, error)
	AddSubTask(ctx context.Context, id string, level int, taskID string) (*models.TeamSession, bool, error)
	ConsumeHintToken(ctx context.Context, id string, level int, hintID string) (bool, error)
	AdjustAnchor(ctx context.Context, id string, deltaSeconds int64, at time.Time) (*models.TeamSession, error)
	ResetToLevel(ctx context.Context, id string, targetLevel, maxLevel int) (*models.TeamSession, error)
}

// SessionService is the session state machine. Fan-out happens strictly
// after the store commit: a failed write publishes nothing.
type SessionService struct {
	store     SessionStore
	publisher events.Publisher
	levels    *LevelConfig
	budget    time.Duration
	clock     clockwork.Clock
}

// NewSessionService creates a new SessionService instance.
func NewSessionService(st SessionStore, pub events.Publisher, levels *LevelConfig, budget time.Duration, clock clockwork.Clock) *SessionService {
	return &SessionService{
		store:     st,
		publisher: pub,
		levels:    levels,
		budget:    budget,
		clock:     clock,
	}
}

// Budget returns the configured game time budget.
func (ss *SessionService) Budget() time.Duration {
	return ss.budget
}

// Levels returns the puzzle definition in play.
func (ss *SessionService) Levels() *LevelConfig {
	return ss.levels
}

// CreateSession provisions a new account. Emails are stored lowercased;
// a duplicate email surfaces as ErrSessionExists.
func (ss *SessionService) CreateSession(ctx context.Context, email, displayName, password, role string) (*models.TeamSession, error) {
	if role != models.RoleOperator {
		role = models.RolePlayer
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := ss.clock.Now().UTC()
	sess := &models.TeamSession{
		ID:              uuid.New().String(),
		Email:           strings.ToLower(strings.TrimSpace(email)),
		DisplayName:     displayName,
		PasswordHash:    hash,
		Role:            role,
		CurrentLevel:    1,
		CompletedLevels: []int{},
		CreatedAt:       &now,
	}

	if err := ss.store.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrSessionExists
		}
		return nil, err
	}

	ss.publish(ctx, events.EventSessionCreated, sess.ID, events.CreatedPayload{Session: sess})
	return sess, nil
}

// Authenticate verifies an email/password pair. Both a missing account
// and a wrong password report ErrBadCredentials, never which of the two.
func (ss *SessionService) Authenticate(ctx context.Context, email, password string) (*models.TeamSession, error) {
	sess, err := ss.store.GetSessionByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if !auth.CheckPassword(sess.PasswordHash, password) {
		return nil, ErrBadCredentials
	}
	return sess, nil
}

// GetSession retrieves a session by id.
func (ss *SessionService) GetSession(ctx context.Context, id string) (*models.TeamSession, error) {
	sess, err := ss.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

// GetProjection returns the derived read model for one session.
func (ss *SessionService) GetProjection(ctx context.Context, id string) (*models.SessionProjection, error) {
	sess, err := ss.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	proj := gameclock.Project(sess, ss.clock.Now(), ss.budget)
	return &proj, nil
}

// ListRanked returns projections for every player session, ranked by
// levels completed descending, then remaining time descending: a team
// further along wins, and ties go to whoever has more time left.
func (ss *SessionService) ListRanked(ctx context.Context) ([]models.SessionProjection, error) {
	sessions, err := ss.store.ListSessions(ctx, models.RolePlayer)
	if err != nil {
		return nil, err
	}

	now := ss.clock.Now()
	projections := make([]models.SessionProjection, 0, len(sessions))
	for i := range sessions {
		projections = append(projections, gameclock.Project(&sessions[i], now, ss.budget))
	}

	sort.SliceStable(projections, func(i, j int) bool {
		if len(projections[i].CompletedLevels) != len(projections[j].CompletedLevels) {
			return len(projections[i].CompletedLevels) > len(projections[j].CompletedLevels)
		}
		return projections[i].RemainingSeconds > projections[j].RemainingSeconds
	})
	return projections, nil
}

// StartSession anchors the clock at now and places the team on level 1.
// Calling it again restarts the clock; that is the level-1 entry
// affordance, not a bug.
func (ss *SessionService) StartSession(ctx context.Context, id string) (*models.TeamSession, error) {
	now := ss.clock.Now().UTC()
	sess, err := ss.applyUpdate(ctx, id, models.SessionUpdate{
		StartTime:    models.SetTime(now),
		CurrentLevel: models.SetInt(1),
	})
	if err != nil {
		return nil, err
	}

	ss.publishUpdated(ctx, sess, "start_time", "current_level")
	return sess, nil
}

// CompleteSubTask records partial progress inside a level. Re-reporting
// a task is a no-op, not an error, and publishes nothing.
func (ss *SessionService) CompleteSubTask(ctx context.Context, id string, level int, taskID string) (*models.TeamSession, error) {
	if !ss.levels.ValidSubTask(level, taskID) {
		return nil, ErrUnknownSubTask
	}

	sess, changed, err := ss.store.AddSubTask(ctx, id, level, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if changed {
		ss.publishUpdated(ctx, sess, "sub_tasks")
	}
	return sess, nil
}

// CompleteLevel checks the submitted key against the level's expected
// key and records the completion. A wrong key reports accepted=false and
// touches nothing; it is expected play, not an error. Submitting a level
// beyond the team's current one is rejected with ErrInvalidTransition.
// The terminal level freezes the total time at this instant.
func (ss *SessionService) CompleteLevel(ctx context.Context, id string, level int, submittedKey string) (*models.TeamSession, bool, error) {
	if !ss.levels.Exists(level) {
		return nil, false, ErrInvalidTransition
	}

	sess, err := ss.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if level > sess.CurrentLevel {
		return nil, false, ErrInvalidTransition
	}

	if !ss.levels.CheckKey(level, submittedKey) {
		return sess, false, nil
	}

	now := ss.clock.Now().UTC()
	advanceTo := level + 1
	var total *int64
	var end *time.Time
	if level == ss.levels.MaxLevel() {
		advanceTo = level
		t := gameclock.Elapsed(sess.StartTime, now)
		total = &t
		end = &now
	}

	updated, applied, err := ss.store.CompleteLevel(ctx, id, level, now, advanceTo, total, end)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, ErrSessionNotFound
		}
		return nil, false, err
	}

	if applied {
		ss.publishUpdated(ctx, updated, "completed_levels", "current_level", "level_timestamps")
	}
	return updated, true, nil
}

// ApplyTimeAdjustment shifts the anchor by seconds in the given
// direction. A grant moves the anchor later so remaining time grows; a
// penalty moves it earlier. A session that never started gets its anchor
// initialized to now first, so the adjustment always takes effect. This
// is the only mechanism for time bonuses and penalties; nothing keeps a
// separate bank of granted seconds.
func (ss *SessionService) ApplyTimeAdjustment(ctx context.Context, id string, seconds int64, direction string) (*models.TeamSession, error) {
	if seconds <= 0 {
		return nil, fmt.Errorf("%w: adjustment must be a positive number of seconds", ErrInvalidTransition)
	}

	var delta int64
	switch direction {
	case AdjustGrant:
		delta = seconds
	case AdjustPenalty:
		delta = -seconds
	default:
		return nil, fmt.Errorf("%w: unknown adjustment direction %q", ErrInvalidTransition, direction)
	}

	sess, err := ss.store.AdjustAnchor(ctx, id, delta, ss.clock.Now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	ss.publishUpdated(ctx, sess, "start_time")
	return sess, nil
}

// RevealHint consumes the one-time hint token for (session, level, hint)
// and applies the hint's penalty. The token is the idempotency gate: a
// retried reveal consumes nothing and is never penalized twice. Returns
// revealed=false when the token was already spent.
func (ss *SessionService) RevealHint(ctx context.Context, id string, level int, hintID string) (*models.TeamSession, bool, error) {
	hint, ok := ss.levels.FindHint(level, hintID)
	if !ok {
		return nil, false, ErrUnknownHint
	}

	// Existence check first: ConsumeHintToken cannot tell a missing
	// session from a spent token.
	if _, err := ss.GetSession(ctx, id); err != nil {
		return nil, false, err
	}

	consumed, err := ss.store.ConsumeHintToken(ctx, id, level, hint.ID)
	if err != nil {
		return nil, false, err
	}
	if !consumed {
		sess, err := ss.GetSession(ctx, id)
		return sess, false, err
	}

	var sess *models.TeamSession
	if hint.PenaltySeconds > 0 {
		sess, err = ss.store.AdjustAnchor(ctx, id, -hint.PenaltySeconds, ss.clock.Now().UTC())
	} else {
		sess, err = ss.GetSession(ctx, id)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, ErrSessionNotFound
		}
		return nil, false, err
	}

	ss.publishUpdated(ctx, sess, "hints_revealed", "hints_used", "start_time")
	return sess, true, nil
}

// ResetTimer restarts the clock: the anchor moves to now and all
// clock-bound progress (timestamps, sub-tasks, completion state) is
// cleared. Whether level progress also resets is the caller's explicit
// choice. Spent hint tokens survive either way, so a restarted team
// cannot farm a second free reveal of a penalized hint.
func (ss *SessionService) ResetTimer(ctx context.Context, id string, alsoResetProgress bool) (*models.TeamSession, error) {
	u := models.SessionUpdate{
		StartTime:         models.SetTime(ss.clock.Now().UTC()),
		EndTime:           models.ClearTime(),
		TotalTimeSeconds:  models.ClearInt64(),
		IsCompleted:       models.SetBool(false),
		ClearProgressMaps: true,
	}
	changed := []string{"start_time", "end_time", "total_time_seconds", "is_completed", "level_timestamps", "sub_tasks"}
	if alsoResetProgress {
		u.CurrentLevel = models.SetInt(1)
		u.ClearCompleted = true
		changed = append(changed, "current_level", "completed_levels")
	}

	sess, err := ss.applyUpdate(ctx, id, u)
	if err != nil {
		return nil, err
	}

	ss.publishUpdated(ctx, sess, changed...)
	return sess, nil
}

// ResetToLevel rewinds a team to targetLevel: the target and everything
// after it must be redone. Never a partial rollback.
func (ss *SessionService) ResetToLevel(ctx context.Context, id string, targetLevel int) (*models.TeamSession, error) {
	if targetLevel < 1 || targetLevel > ss.levels.MaxLevel() {
		return nil, fmt.Errorf("%w: target level %d out of range", ErrInvalidTransition, targetLevel)
	}

	sess, err := ss.store.ResetToLevel(ctx, id, targetLevel, ss.levels.MaxLevel())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	ss.publishUpdated(ctx, sess, "current_level", "completed_levels", "level_timestamps", "is_completed", "end_time", "total_time_seconds")
	return sess, nil
}

// DeleteSession removes the record entirely. Irreversible.
func (ss *SessionService) DeleteSession(ctx context.Context, id string) error {
	if err := ss.store.DeleteSession(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	ss.publish(ctx, events.EventSessionDeleted, id, nil)
	return nil
}

func (ss *SessionService) applyUpdate(ctx context.Context, id string, u models.SessionUpdate) (*models.TeamSession, error) {
	sess, err := ss.store.ApplyUpdate(ctx, id, u)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (ss *SessionService) publishUpdated(ctx context.Context, sess *models.TeamSession, changedFields ...string) {
	ss.publish(ctx, events.EventSessionUpdated, sess.ID, events.UpdatedPayload{
		ChangedFields: changedFields,
		Session:       sess,
	})
}

func (ss *SessionService) publish(ctx context.Context, eventType events.EventType, sessionID string, payload interface{}) {
	ev, err := events.NewEvent(eventType, sessionID, payload)
	if err != nil {
		log.Printf("ERROR: Failed to build %s event for session %s: %v", eventType, sessionID, err)
		return
	}
	ss.publisher.Publish(ctx, ev)
}
