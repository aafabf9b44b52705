package models

import (
	"time"
)

// Role of an account. Only player sessions participate in the game clock;
// operators exist for the dashboard and never accumulate game state.
const (
	RolePlayer   = "player"
	RoleOperator = "operator"
)

// TeamSession is the authoritative per-team record stored in MongoDB.
// The start time is the single mutable clock primitive: elapsed and
// remaining time are always derived from it, never stored while a game
// is running. TotalTimeSeconds is frozen once at completion.
type TeamSession struct {
	ID               string              `bson:"_id" json:"id"`
	Email            string              `bson:"email" json:"email"`
	DisplayName      string              `bson:"display_name" json:"displayName"`
	PasswordHash     string              `bson:"password_hash" json:"-"`
	Role             string              `bson:"role" json:"role"`
	CurrentLevel     int                 `bson:"current_level" json:"currentLevel"`
	CompletedLevels  []int               `bson:"completed_levels" json:"completedLevels"`
	LevelTimestamps  map[string]time.Time `bson:"level_timestamps,omitempty" json:"levelTimestamps"`
	SubTasks         map[string][]string `bson:"sub_tasks,omitempty" json:"subTasksCompleted"`
	HintsRevealed    map[string][]string `bson:"hints_revealed,omitempty" json:"hintsRevealed"`
	HintsUsed        int                 `bson:"hints_used" json:"hintsUsed"`
	StartTime        *time.Time          `bson:"start_time,omitempty" json:"startTime"`
	EndTime          *time.Time          `bson:"end_time,omitempty" json:"endTime"`
	TotalTimeSeconds *int64              `bson:"total_time_seconds,omitempty" json:"totalTimeSeconds"`
	IsCompleted      bool                `bson:"is_completed" json:"isCompleted"`
	CreatedAt        *time.Time          `bson:"created_at,omitempty" json:"createdAt"`
}

// HasCompleted reports whether the given level is in CompletedLevels.
func (ts *TeamSession) HasCompleted(level int) bool {
	for _, l := range ts.CompletedLevels {
		if l == level {
			return true
		}
	}
	return false
}

// SessionProjection is the read model served to the dashboard and to
// player kiosks. Elapsed/remaining/status are derived per observer via
// the gameclock package; they are never persisted.
type SessionProjection struct {
	ID               string     `json:"id"`
	DisplayName      string     `json:"displayName"`
	CurrentLevel     int        `json:"currentLevel"`
	CompletedLevels  []int      `json:"completedLevels"`
	StartTime        *time.Time `json:"startTime"`
	EndTime          *time.Time `json:"endTime"`
	TotalTimeSeconds *int64     `json:"totalTimeSeconds"`
	HintsUsed        int        `json:"hintsUsed"`
	IsCompleted      bool       `json:"isCompleted"`
	ElapsedSeconds   int64      `json:"elapsedSeconds"`
	RemainingSeconds int64      `json:"remainingSeconds"`
	Status           string     `json:"status"`
}
