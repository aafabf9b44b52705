package gameclock

import (
	"testing"
	"time"

	"github.com/cybercatalyst/escape-services/shared/models"
)

const budget = 3000 * time.Second

func TestElapsedNilAnchor(t *testing.T) {
	if got := Elapsed(nil, time.Now()); got != 0 {
		t.Fatalf("expected 0 elapsed without anchor, got %d", got)
	}
}

func TestElapsedClampsClockSkew(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	future := now.Add(5 * time.Minute)

	if got := Elapsed(&future, now); got != 0 {
		t.Fatalf("anchor in the future must clamp elapsed to 0, got %d", got)
	}
	if got := Remaining(&future, now, budget); got != 3000 {
		t.Fatalf("remaining with future anchor = %d, want full budget 3000", got)
	}
}

func TestRemainingMonotonic(t *testing.T) {
	anchor := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	prev := Remaining(&anchor, anchor, budget)
	if prev != 3000 {
		t.Fatalf("remaining at start = %d, want 3000", prev)
	}
	for _, offset := range []time.Duration{
		time.Second, time.Minute, 20 * time.Minute, 50 * time.Minute, 2 * time.Hour, 3 * time.Hour,
	} {
		cur := Remaining(&anchor, anchor.Add(offset), budget)
		if cur > prev {
			t.Fatalf("remaining increased from %d to %d at offset %v", prev, cur, offset)
		}
		prev = cur
	}
	if prev != 0 {
		t.Fatalf("remaining after budget exhausted = %d, want 0", prev)
	}
}

func TestStatusDerivation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	started := now.Add(-10 * time.Minute)
	exhausted := now.Add(-time.Duration(budget) - time.Minute)
	total := int64(1234)

	tests := []struct {
		name string
		sess models.TeamSession
		want string
	}{
		{"not started", models.TeamSession{}, StatusNotStarted},
		{"active", models.TeamSession{StartTime: &started}, StatusActive},
		{"timed out", models.TeamSession{StartTime: &exhausted}, StatusTimedOut},
		{"completed", models.TeamSession{StartTime: &started, IsCompleted: true, TotalTimeSeconds: &total}, StatusCompleted},
		{"completed beats timeout", models.TeamSession{StartTime: &exhausted, IsCompleted: true}, StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(&tt.sess, now, budget); got != tt.want {
				t.Fatalf("status = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProjectFreezesCompletedTotal(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	total := int64(1500)
	sess := &models.TeamSession{
		ID:               "team-1",
		StartTime:        &started,
		IsCompleted:      true,
		TotalTimeSeconds: &total,
	}

	// No matter how much further wall-clock time passes, a completed
	// session reports its frozen total.
	for _, later := range []time.Duration{0, time.Hour, 24 * time.Hour} {
		p := Project(sess, started.Add(2000*time.Second).Add(later), budget)
		if p.ElapsedSeconds != 1500 {
			t.Fatalf("elapsed after completion = %d, want frozen 1500", p.ElapsedSeconds)
		}
		if p.Status != StatusCompleted {
			t.Fatalf("status = %q, want Completed", p.Status)
		}
	}
}
