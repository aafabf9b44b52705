// shared/gameclock/clock.go
package gameclock

import (
	"time"

	"github.com/cybercatalyst/escape-services/shared/models"
)

// Session status values derived from the record. TimedOut is never
// persisted; it is always recomputable from the start time, which is
// why both the kiosk countdown and the dashboard can agree on it.
const (
	StatusNotStarted = "NotStarted"
	StatusActive     = "Active"
	StatusTimedOut   = "TimedOut"
	StatusCompleted  = "Completed"
)

// Elapsed returns the whole seconds since the anchor. A nil anchor
// means the session has not started and elapsed is zero. An anchor in
// the future (an operator over-granted time) clamps to zero rather
// than going negative, same for client clock skew.
func Elapsed(anchor *time.Time, now time.Time) int64 {
	if anchor == nil {
		return 0
	}
	d := now.Sub(*anchor)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Remaining returns the seconds left in the budget, clamped at zero.
func Remaining(anchor *time.Time, now time.Time, budget time.Duration) int64 {
	left := int64(budget/time.Second) - Elapsed(anchor, now)
	if left < 0 {
		return 0
	}
	return left
}

// Status derives the observable state of a session. Completion wins
// over timeout: a team that finished with zero seconds to spare is
// Completed, not TimedOut.
func Status(sess *models.TeamSession, now time.Time, budget time.Duration) string {
	if sess.IsCompleted {
		return StatusCompleted
	}
	if sess.StartTime == nil {
		return StatusNotStarted
	}
	if Remaining(sess.StartTime, now, budget) == 0 {
		return StatusTimedOut
	}
	return StatusActive
}

// Project builds the read model for one session at the given instant.
// For completed sessions the frozen total is reported as elapsed so the
// value never drifts after the fact.
func Project(sess *models.TeamSession, now time.Time, budget time.Duration) models.SessionProjection {
	elapsed := Elapsed(sess.StartTime, now)
	remaining := Remaining(sess.StartTime, now, budget)
	if sess.IsCompleted && sess.TotalTimeSeconds != nil {
		elapsed = *sess.TotalTimeSeconds
	}
	return models.SessionProjection{
		ID:               sess.ID,
		DisplayName:      sess.DisplayName,
		CurrentLevel:     sess.CurrentLevel,
		CompletedLevels:  sess.CompletedLevels,
		StartTime:        sess.StartTime,
		EndTime:          sess.EndTime,
		TotalTimeSeconds: sess.TotalTimeSeconds,
		HintsUsed:        sess.HintsUsed,
		IsCompleted:      sess.IsCompleted,
		ElapsedSeconds:   elapsed,
		RemainingSeconds: remaining,
		Status:           Status(sess, now, budget),
	}
}
