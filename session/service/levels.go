// session/service/levels.go
package service

import "strings"

// Hint describes one revealable hint with its opt-in time penalty.
// A zero penalty means the hint is free.
type Hint struct {
	ID             string
	PenaltySeconds int64
}

// Level is the puzzle definition for one level: the expected escape key,
// the sub-task identifiers a client may report, and the hints it may
// reveal. Key is empty for keyless levels.
type Level struct {
	Number   int
	Key      string
	SubTasks []string
	Hints    []Hint
}

// LevelConfig holds the full puzzle definition for a game. It is static
// configuration, not session state.
type LevelConfig struct {
	levels map[int]Level
	max    int
}

// NewLevelConfig builds a LevelConfig from the given levels.
func NewLevelConfig(levels []Level) *LevelConfig {
	lc := &LevelConfig{levels: make(map[int]Level, len(levels))}
	for _, l := range levels {
		lc.levels[l.Number] = l
		if l.Number > lc.max {
			lc.max = l.Number
		}
	}
	return lc
}

// DefaultLevelConfig returns the standard five-level game.
func DefaultLevelConfig() *LevelConfig {
	return NewLevelConfig([]Level{
		{
			Number:   1,
			Key:      "", // level 1 completes by finishing its sub-tasks, no key
			SubTasks: []string{"scan-files", "find-anomaly", "extract-flag"},
			Hints:    []Hint{{ID: "file-extensions", PenaltySeconds: 0}},
		},
		{
			Number:   2,
			Key:      "SHADOW",
			SubTasks: []string{"locate-city", "decode-coordinates"},
			Hints:    []Hint{{ID: "city-of-beauty", PenaltySeconds: 60}},
		},
		{
			Number:   3,
			Key:      "CIPHER",
			SubTasks: []string{"enumerate-users", "crack-password"},
			Hints:    []Hint{{ID: "wordlist-attack", PenaltySeconds: 0}},
		},
		{
			Number:   4,
			Key:      "ENIGMA",
			SubTasks: []string{"identify-cipher", "decode-vigenere", "decode-base64"},
			Hints:    []Hint{{ID: "vault-trace", PenaltySeconds: 120}},
		},
		{
			Number:   5,
			Key:      "ESCAPE",
			SubTasks: []string{"trace-route", "final-flag"},
			Hints:    []Hint{{ID: "geolocated-trace", PenaltySeconds: 180}},
		},
	})
}

// MaxLevel returns the terminal level number.
func (lc *LevelConfig) MaxLevel() int {
	return lc.max
}

// Get returns the level definition.
func (lc *LevelConfig) Get(level int) (Level, bool) {
	l, ok := lc.levels[level]
	return l, ok
}

// Exists reports whether the level number is part of the game.
func (lc *LevelConfig) Exists(level int) bool {
	_, ok := lc.levels[level]
	return ok
}

// CheckKey reports whether submittedKey matches the expected key for the
// level. Keyless levels accept any submission. Comparison is
// case-insensitive and ignores surrounding whitespace; a wrong guess is
// normal play, not an error.
func (lc *LevelConfig) CheckKey(level int, submittedKey string) bool {
	l, ok := lc.levels[level]
	if !ok {
		return false
	}
	if l.Key == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(submittedKey), l.Key)
}

// ValidSubTask reports whether taskID is a known sub-task of the level.
func (lc *LevelConfig) ValidSubTask(level int, taskID string) bool {
	l, ok := lc.levels[level]
	if !ok {
		return false
	}
	for _, t := range l.SubTasks {
		if t == taskID {
			return true
		}
	}
	return false
}

// FindHint returns the hint definition for (level, hintID).
func (lc *LevelConfig) FindHint(level int, hintID string) (Hint, bool) {
	l, ok := lc.levels[level]
	if !ok {
		return Hint{}, false
	}
	for _, h := range l.Hints {
		if h.ID == hintID {
			return h, true
		}
	}
	return Hint{}, false
}
