// session/store/session_store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cybercatalyst/escape-services/shared/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store-level errors. The service layer maps these onto its own taxonomy.
var (
	ErrNotFound  = errors.New("session not found")
	ErrDuplicate = errors.New("session already exists")
)

// SessionStore is the MongoDB data store for team sessions. Every mutation
// is a single atomic update against one document; the database serializes
// concurrent writers per identity, which is the only serialization the
// session state machine needs.
type SessionStore struct {
	collection *mongo.Collection
}

// NewSessionStore creates a new SessionStore instance.
func NewSessionStore(collection *mongo.Collection) *SessionStore {
	return &SessionStore{
		collection: collection,
	}
}

// EnsureIndexes creates the unique index on the email natural key. Creation
// with a duplicate email then surfaces as a duplicate key error.
func (ss *SessionStore) EnsureIndexes(ctx context.Context) error {
	_, err := ss.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create email index: %w", err)
	}
	return nil
}

// CreateSession inserts a new team session document.
func (ss *SessionStore) CreateSession(ctx context.Context, sess *models.TeamSession) error {
	_, err := ss.collection.InsertOne(ctx, sess)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("session for %s: %w", sess.Email, ErrDuplicate)
		}
		return fmt.Errorf("failed to create session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession retrieves a session by its identity.
func (ss *SessionStore) GetSession(ctx context.Context, id string) (*models.TeamSession, error) {
	var sess models.TeamSession
	err := ss.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&sess)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &sess, nil
}

// GetSessionByEmail retrieves a session by its email natural key.
func (ss *SessionStore) GetSessionByEmail(ctx context.Context, email string) (*models.TeamSession, error) {
	var sess models.TeamSession
	err := ss.collection.FindOne(ctx, bson.M{"email": email}).Decode(&sess)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("session for %s: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session for %s: %w", email, err)
	}
	return &sess, nil
}

// ListSessions retrieves all sessions, optionally filtered by role.
func (ss *SessionStore) ListSessions(ctx context.Context, role string) ([]models.TeamSession, error) {
	filter := bson.M{}
	if role != "" {
		filter["role"] = role
	}

	cursor, err := ss.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []models.TeamSession
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session document entirely. Irreversible.
func (ss *SessionStore) DeleteSession(ctx context.Context, id string) error {
	res, err := ss.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// ApplyUpdate applies a tagged partial update and returns the document as
// stored afterwards. Only fields tagged Set or Clear are touched.
func (ss *SessionStore) ApplyUpdate(ctx context.Context, id string, u models.SessionUpdate) (*models.TeamSession, error) {
	if u.IsZero() {
		return ss.GetSession(ctx, id)
	}

	update := BuildUpdateDocument(u)

	var sess models.TeamSession
	err := ss.collection.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&sess)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update session %s: %w", id, err)
	}
	return &sess, nil
}

// BuildUpdateDocument translates a SessionUpdate into the $set/$unset
// document executed against the collection. Exported for tests: the merge
// semantics (omit vs. set vs. clear) are the sharp edge of the contract.
func BuildUpdateDocument(u models.SessionUpdate) bson.M {
	set := bson.M{}
	unset := bson.M{}

	if u.DisplayName.Op == models.FieldSet {
		set["display_name"] = u.DisplayName.Value
	}
	if u.CurrentLevel.Op == models.FieldSet {
		set["current_level"] = u.CurrentLevel.Value
	}
	switch u.StartTime.Op {
	case models.FieldSet:
		set["start_time"] = u.StartTime.Value
	case models.FieldClear:
		unset["start_time"] = ""
	}
	switch u.EndTime.Op {
	case models.FieldSet:
		set["end_time"] = u.EndTime.Value
	case models.FieldClear:
		unset["end_time"] = ""
	}
	switch u.TotalTimeSeconds.Op {
	case models.FieldSet:
		set["total_time_seconds"] = u.TotalTimeSeconds.Value
	case models.FieldClear:
		unset["total_time_seconds"] = ""
	}
	if u.IsCompleted.Op == models.FieldSet {
		set["is_completed"] = u.IsCompleted.Value
	}
	if u.ClearCompleted {
		set["completed_levels"] = []int{}
	}
	if u.ClearProgressMaps {
		unset["level_timestamps"] = ""
		unset["sub_tasks"] = ""
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

// CompleteLevelFilter builds the conditional filter for CompleteLevel.
// It requires the level to be absent from completed_levels, so a
// concurrent duplicate submission applies at most once, and requires the
// level to still be reachable (current_level >= level), so a stale
// submission racing an operator reset matches nothing instead of landing
// after the rewind. Exported for tests alongside BuildUpdateDocument.
func CompleteLevelFilter(id string, level int) bson.M {
	return bson.M{
		"_id":              id,
		"completed_levels": bson.M{"$ne": level},
		"current_level":    bson.M{"$gte": level},
	}
}

// CompleteLevel records a first-time level completion in one atomic update.
// The conditional filter enforces both idempotency and reachability in the
// same write; see CompleteLevelFilter. current_level advances via $max and
// therefore never moves backward on a stale submission. Returns
// applied=false when the level was already recorded or is no longer
// reachable.
func (ss *SessionStore) CompleteLevel(ctx context.Context, id string, level int, at time.Time, advanceTo int, totalSeconds *int64, endTime *time.Time) (*models.TeamSession, bool, error) {
	filter := CompleteLevelFilter(id, level)

	set := bson.M{
		"level_timestamps." + strconv.Itoa(level): at,
	}
	if endTime != nil {
		set["is_completed"] = true
		set["end_time"] = *endTime
	}
	if totalSeconds != nil {
		set["total_time_seconds"] = *totalSeconds
	}

	update := bson.M{
		"$addToSet": bson.M{"completed_levels": level},
		"$set":      set,
		"$max":      bson.M{"current_level": advanceTo},
	}

	var sess models.TeamSession
	err := ss.collection.FindOneAndUpdate(
		ctx,
		filter,
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&sess)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			// The session is gone, the level was already completed, or a
			// concurrent reset pulled it out of reach. Re-read to tell.
			existing, getErr := ss.GetSession(ctx, id)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to record level %d completion for session %s: %w", level, id, err)
	}
	return &sess, true, nil
}

// AddSubTask adds a sub-task id to the level's completed set. Adding an
// already-present task is a no-op, reported via changed=false so the
// caller can skip the fan-out.
func (ss *SessionStore) AddSubTask(ctx context.Context, id string, level int, taskID string) (*models.TeamSession, bool, error) {
	field := "sub_tasks." + strconv.Itoa(level)
	res, err := ss.collection.UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{field: taskID}},
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to add sub-task %s to level %d for session %s: %w", taskID, level, id, err)
	}
	if res.MatchedCount == 0 {
		return nil, false, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	sess, err := ss.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return sess, res.ModifiedCount > 0, nil
}

// ConsumeHintToken marks a hint as revealed and bumps the hint counter,
// but only if the token was not consumed before. The conditional filter is
// the idempotency gate: a retried reveal matches zero documents and
// reports consumed=false, so the caller never applies the penalty twice.
func (ss *SessionStore) ConsumeHintToken(ctx context.Context, id string, level int, hintID string) (bool, error) {
	field := "hints_revealed." + strconv.Itoa(level)
	res, err := ss.collection.UpdateOne(
		ctx,
		bson.M{"_id": id, field: bson.M{"$ne": hintID}},
		bson.M{
			"$addToSet": bson.M{field: hintID},
			"$inc":      bson.M{"hints_used": 1},
		},
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume hint %s/%d for session %s: %w", hintID, level, id, err)
	}
	if res.MatchedCount == 0 {
		// Already consumed, or no such session; the caller has checked
		// existence before reaching here.
		return false, nil
	}
	return true, nil
}

// AdjustAnchor shifts the session anchor by deltaSeconds in one atomic
// pipeline update. A null anchor is initialized to `at` before the shift,
// so an adjustment never silently no-ops on a team that has not pressed
// start. This is the only way time bonuses and penalties exist: there is
// no banked-seconds accumulator anywhere.
func (ss *SessionStore) AdjustAnchor(ctx context.Context, id string, deltaSeconds int64, at time.Time) (*models.TeamSession, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "start_time", Value: bson.D{
			{Key: "$dateAdd", Value: bson.D{
				{Key: "startDate", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$start_time", at}}}},
				{Key: "unit", Value: "second"},
				{Key: "amount", Value: deltaSeconds},
			}},
		}}}}},
	}

	var sess models.TeamSession
	err := ss.collection.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&sess)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to adjust anchor for session %s: %w", id, err)
	}
	return &sess, nil
}

// ResetToLevel rewinds progress to targetLevel in one atomic update: the
// target level and everything after it are removed from completed_levels,
// their timestamps dropped, and completion state cleared.
func (ss *SessionStore) ResetToLevel(ctx context.Context, id string, targetLevel, maxLevel int) (*models.TeamSession, error) {
	unset := bson.M{
		"end_time":           "",
		"total_time_seconds": "",
	}
	for l := targetLevel; l <= maxLevel; l++ {
		unset["level_timestamps."+strconv.Itoa(l)] = ""
	}

	update := bson.M{
		"$set": bson.M{
			"current_level": targetLevel,
			"is_completed":  false,
		},
		"$unset": unset,
		"$pull":  bson.M{"completed_levels": bson.M{"$gte": targetLevel}},
	}

	var sess models.TeamSession
	err := ss.collection.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&sess)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to reset session %s to level %d: %w", id, targetLevel, err)
	}
	return &sess, nil
}
