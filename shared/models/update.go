package models

import "time"

// FieldOp distinguishes "leave the field alone" from "set it" from
// "clear it back to null". JSON-style partial updates conflate omitted
// and null; the store contract needs all three, so every nullable field
// in a SessionUpdate carries an explicit operation tag.
type FieldOp int

const (
	FieldKeep FieldOp = iota
	FieldSet
	FieldClear
)

// TimeField is a tagged update for a nullable timestamp field.
type TimeField struct {
	Op    FieldOp
	Value time.Time
}

// Int64Field is a tagged update for a nullable integer field.
type Int64Field struct {
	Op    FieldOp
	Value int64
}

// IntField is a tagged update for a non-nullable integer field.
// FieldClear is not meaningful here and is treated as FieldKeep.
type IntField struct {
	Op    FieldOp
	Value int
}

// BoolField is a tagged update for a boolean field.
type BoolField struct {
	Op    FieldOp
	Value bool
}

// StringField is a tagged update for a string field.
type StringField struct {
	Op    FieldOp
	Value string
}

func SetTime(t time.Time) TimeField { return TimeField{Op: FieldSet, Value: t} }
func ClearTime() TimeField          { return TimeField{Op: FieldClear} }
func SetInt(v int) IntField         { return IntField{Op: FieldSet, Value: v} }
func SetInt64(v int64) Int64Field   { return Int64Field{Op: FieldSet, Value: v} }
func ClearInt64() Int64Field        { return Int64Field{Op: FieldClear} }
func SetBool(v bool) BoolField      { return BoolField{Op: FieldSet, Value: v} }
func SetString(v string) StringField { return StringField{Op: FieldSet, Value: v} }

// SessionUpdate is a partial update against a single TeamSession. Only
// fields tagged FieldSet or FieldClear are touched; everything else is
// preserved as stored. ClearProgressMaps drops level_timestamps and
// sub_tasks wholesale (timer reset).
type SessionUpdate struct {
	DisplayName       StringField
	CurrentLevel      IntField
	StartTime         TimeField
	EndTime           TimeField
	TotalTimeSeconds  Int64Field
	IsCompleted       BoolField
	ClearCompleted    bool
	ClearProgressMaps bool
}

// IsZero reports whether the update would touch nothing.
func (u SessionUpdate) IsZero() bool {
	return u.DisplayName.Op == FieldKeep &&
		u.CurrentLevel.Op == FieldKeep &&
		u.StartTime.Op == FieldKeep &&
		u.EndTime.Op == FieldKeep &&
		u.TotalTimeSeconds.Op == FieldKeep &&
		u.IsCompleted.Op == FieldKeep &&
		!u.ClearCompleted && !u.ClearProgressMaps
}
