// session/service/session_service_test.go
package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/cybercatalyst/escape-services/session/events"
	"github.com/cybercatalyst/escape-services/session/store"
	"github.com/cybercatalyst/escape-services/shared/gameclock"
	"github.com/cybercatalyst/escape-services/shared/models"
	"github.com/jonboulle/clockwork"
)

// fakeStore is an in-memory SessionStore mirroring the atomic update
// semantics of the MongoDB store. failing simulates a store outage.
type fakeStore struct {
	sessions map[string]*models.TeamSession
	failing  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*models.TeamSession)}
}

var errStoreDown = errors.New("store unavailable")

func (fs *fakeStore) get(id string) (*models.TeamSession, error) {
	if fs.failing {
		return nil, errStoreDown
	}
	sess, ok := fs.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return sess, nil
}

// copySession deep-copies a record, keeping nil maps nil so copies
// compare equal to the originals under reflect.DeepEqual.
func copySession(s *models.TeamSession) *models.TeamSession {
	c := *s
	if s.CompletedLevels != nil {
		c.CompletedLevels = make([]int, len(s.CompletedLevels))
		copy(c.CompletedLevels, s.CompletedLevels)
	}
	if s.LevelTimestamps != nil {
		c.LevelTimestamps = make(map[string]time.Time, len(s.LevelTimestamps))
		for k, v := range s.LevelTimestamps {
			c.LevelTimestamps[k] = v
		}
	}
	if s.SubTasks != nil {
		c.SubTasks = make(map[string][]string, len(s.SubTasks))
		for k, v := range s.SubTasks {
			c.SubTasks[k] = append([]string(nil), v...)
		}
	}
	if s.HintsRevealed != nil {
		c.HintsRevealed = make(map[string][]string, len(s.HintsRevealed))
		for k, v := range s.HintsRevealed {
			c.HintsRevealed[k] = append([]string(nil), v...)
		}
	}
	return &c
}

func (fs *fakeStore) CreateSession(ctx context.Context, sess *models.TeamSession) error {
	if fs.failing {
		return errStoreDown
	}
	for _, existing := range fs.sessions {
		if existing.Email == sess.Email {
			return fmt.Errorf("session for %s: %w", sess.Email, store.ErrDuplicate)
		}
	}
	fs.sessions[sess.ID] = copySession(sess)
	return nil
}

func (fs *fakeStore) GetSession(ctx context.Context, id string) (*models.TeamSession, error) {
	sess, err := fs.get(id)
	if err != nil {
		return nil, err
	}
	return copySession(sess), nil
}

func (fs *fakeStore) GetSessionByEmail(ctx context.Context, email string) (*models.TeamSession, error) {
	if fs.failing {
		return nil, errStoreDown
	}
	for _, sess := range fs.sessions {
		if sess.Email == email {
			return copySession(sess), nil
		}
	}
	return nil, fmt.Errorf("session for %s: %w", email, store.ErrNotFound)
}

func (fs *fakeStore) ListSessions(ctx context.Context, role string) ([]models.TeamSession, error) {
	if fs.failing {
		return nil, errStoreDown
	}
	var out []models.TeamSession
	for _, sess := range fs.sessions {
		if role == "" || sess.Role == role {
			out = append(out, *copySession(sess))
		}
	}
	return out, nil
}

func (fs *fakeStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := fs.get(id); err != nil {
		return err
	}
	delete(fs.sessions, id)
	return nil
}

func (fs *fakeStore) ApplyUpdate(ctx context.Context, id string, u models.SessionUpdate) (*models.TeamSession, error) {
	sess, err := fs.get(id)
	if err != nil {
		return nil, err
	}
	if u.DisplayName.Op == models.FieldSet {
		sess.DisplayName = u.DisplayName.Value
	}
	if u.CurrentLevel.Op == models.FieldSet {
		sess.CurrentLevel = u.CurrentLevel.Value
	}
	switch u.StartTime.Op {
	case models.FieldSet:
		t := u.StartTime.Value
		sess.StartTime = &t
	case models.FieldClear:
		sess.StartTime = nil
	}
	switch u.EndTime.Op {
	case models.FieldSet:
		t := u.EndTime.Value
		sess.EndTime = &t
	case models.FieldClear:
		sess.EndTime = nil
	}
	switch u.TotalTimeSeconds.Op {
	case models.FieldSet:
		v := u.TotalTimeSeconds.Value
		sess.TotalTimeSeconds = &v
	case models.FieldClear:
		sess.TotalTimeSeconds = nil
	}
	if u.IsCompleted.Op == models.FieldSet {
		sess.IsCompleted = u.IsCompleted.Value
	}
	if u.ClearCompleted {
		sess.CompletedLevels = []int{}
	}
	if u.ClearProgressMaps {
		sess.LevelTimestamps = nil
		sess.SubTasks = nil
	}
	return copySession(sess), nil
}

func (fs *fakeStore) CompleteLevel(ctx context.Context, id string, level int, at time.Time, advanceTo int, totalSeconds *int64, endTime *time.Time) (*models.TeamSession, bool, error) {
	sess, err := fs.get(id)
	if err != nil {
		return nil, false, err
	}
	if sess.HasCompleted(level) || level > sess.CurrentLevel {
		return copySession(sess), false, nil
	}
	sess.CompletedLevels = append(sess.CompletedLevels, level)
	if sess.LevelTimestamps == nil {
		sess.LevelTimestamps = make(map[string]time.Time)
	}
	sess.LevelTimestamps[strconv.Itoa(level)] = at
	if advanceTo > sess.CurrentLevel {
		sess.CurrentLevel = advanceTo
	}
	if endTime != nil {
		sess.IsCompleted = true
		t := *endTime
		sess.EndTime = &t
	}
	if totalSeconds != nil {
		v := *totalSeconds
		sess.TotalTimeSeconds = &v
	}
	return copySession(sess), true, nil
}

func (fs *fakeStore) AddSubTask(ctx context.Context, id string, level int, taskID string) (*models.TeamSession, bool, error) {
	sess, err := fs.get(id)
	if err != nil {
		return nil, false, err
	}
	key := strconv.Itoa(level)
	for _, t := range sess.SubTasks[key] {
		if t == taskID {
			return copySession(sess), false, nil
		}
	}
	if sess.SubTasks == nil {
		sess.SubTasks = make(map[string][]string)
	}
	sess.SubTasks[key] = append(sess.SubTasks[key], taskID)
	return copySession(sess), true, nil
}

func (fs *fakeStore) ConsumeHintToken(ctx context.Context, id string, level int, hintID string) (bool, error) {
	sess, err := fs.get(id)
	if err != nil {
		return false, err
	}
	key := strconv.Itoa(level)
	for _, h := range sess.HintsRevealed[key] {
		if h == hintID {
			return false, nil
		}
	}
	if sess.HintsRevealed == nil {
		sess.HintsRevealed = make(map[string][]string)
	}
	sess.HintsRevealed[key] = append(sess.HintsRevealed[key], hintID)
	sess.HintsUsed++
	return true, nil
}

func (fs *fakeStore) AdjustAnchor(ctx context.Context, id string, deltaSeconds int64, at time.Time) (*models.TeamSession, error) {
	sess, err := fs.get(id)
	if err != nil {
		return nil, err
	}
	anchor := at
	if sess.StartTime != nil {
		anchor = *sess.StartTime
	}
	anchor = anchor.Add(time.Duration(deltaSeconds) * time.Second)
	sess.StartTime = &anchor
	return copySession(sess), nil
}

func (fs *fakeStore) ResetToLevel(ctx context.Context, id string, targetLevel, maxLevel int) (*models.TeamSession, error) {
	sess, err := fs.get(id)
	if err != nil {
		return nil, err
	}
	var kept []int
	for _, l := range sess.CompletedLevels {
		if l < targetLevel {
			kept = append(kept, l)
		}
	}
	sess.CompletedLevels = kept
	for l := targetLevel; l <= maxLevel; l++ {
		delete(sess.LevelTimestamps, strconv.Itoa(l))
	}
	sess.CurrentLevel = targetLevel
	sess.IsCompleted = false
	sess.EndTime = nil
	sess.TotalTimeSeconds = nil
	return copySession(sess), nil
}

// recordingPublisher captures published events in order.
type recordingPublisher struct {
	published []*events.SessionEvent
}

func (rp *recordingPublisher) Publish(ctx context.Context, event *events.SessionEvent) {
	rp.published = append(rp.published, event)
}

func newTestService(t *testing.T) (*SessionService, *fakeStore, *recordingPublisher, *clockwork.FakeClock) {
	t.Helper()
	fs := newFakeStore()
	pub := &recordingPublisher{}
	clock := clockwork.NewFakeClock()
	svc := NewSessionService(fs, pub, DefaultLevelConfig(), 3000*time.Second, clock)
	return svc, fs, pub, clock
}

func seedSession(fs *fakeStore, id string) *models.TeamSession {
	sess := &models.TeamSession{
		ID:              id,
		Email:           id + "@team.test",
		DisplayName:     "Team " + id,
		Role:            models.RolePlayer,
		CurrentLevel:    1,
		CompletedLevels: []int{},
	}
	fs.sessions[id] = sess
	return sess
}

func TestStartSessionAnchorsClock(t *testing.T) {
	svc, fs, pub, clock := newTestService(t)
	seedSession(fs, "t1")

	sess, err := svc.StartSession(context.Background(), "t1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.StartTime == nil || !sess.StartTime.Equal(clock.Now().UTC()) {
		t.Errorf("expected anchor %v, got %v", clock.Now().UTC(), sess.StartTime)
	}
	if sess.CurrentLevel != 1 {
		t.Errorf("expected current level 1, got %d", sess.CurrentLevel)
	}
	if len(pub.published) != 1 || pub.published[0].Type != events.EventSessionUpdated {
		t.Errorf("expected one SessionUpdated event, got %v", pub.published)
	}
}

func TestGrantThenPenaltyRestoresAnchor(t *testing.T) {
	svc, fs, _, _ := newTestService(t)
	seedSession(fs, "t1")

	started, err := svc.StartSession(context.Background(), "t1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	original := *started.StartTime

	if _, err := svc.ApplyTimeAdjustment(context.Background(), "t1", 300, AdjustGrant); err != nil {
		t.Fatalf("grant: %v", err)
	}
	after, err := svc.ApplyTimeAdjustment(context.Background(), "t1", 300, AdjustPenalty)
	if err != nil {
		t.Fatalf("penalty: %v", err)
	}

	if !after.StartTime.Equal(original) {
		t.Errorf("grant then penalty of equal size must restore the anchor: want %v, got %v", original, after.StartTime)
	}
}

func TestTimeAdjustmentInitializesNullAnchor(t *testing.T) {
	svc, fs, _, clock := newTestService(t)
	seedSession(fs, "t1")

	sess, err := svc.ApplyTimeAdjustment(context.Background(), "t1", 120, AdjustPenalty)
	if err != nil {
		t.Fatalf("ApplyTimeAdjustment: %v", err)
	}
	if sess.StartTime == nil {
		t.Fatal("adjustment on an unstarted session must initialize the anchor")
	}
	want := clock.Now().UTC().Add(-120 * time.Second)
	if !sess.StartTime.Equal(want) {
		t.Errorf("expected anchor %v, got %v", want, sess.StartTime)
	}
}

func TestApplyTimeAdjustmentRejectsBadInput(t *testing.T) {
	svc, fs, _, _ := newTestService(t)
	seedSession(fs, "t1")

	if _, err := svc.ApplyTimeAdjustment(context.Background(), "t1", 0, AdjustGrant); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("zero seconds: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.ApplyTimeAdjustment(context.Background(), "t1", 60, "sideways"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("bad direction: expected ErrInvalidTransition, got %v", err)
	}
}

func TestCompleteSubTaskIdempotent(t *testing.T) {
	svc, fs, pub, _ := newTestService(t)
	seedSession(fs, "t1")

	first, err := svc.CompleteSubTask(context.Background(), "t1", 1, "scan-files")
	if err != nil {
		t.Fatalf("first CompleteSubTask: %v", err)
	}
	second, err := svc.CompleteSubTask(context.Background(), "t1", 1, "scan-files")
	if err != nil {
		t.Fatalf("second CompleteSubTask: %v", err)
	}

	if !reflect.DeepEqual(first.SubTasks, second.SubTasks) {
		t.Errorf("repeated completion changed the set: %v vs %v", first.SubTasks, second.SubTasks)
	}
	if got := second.SubTasks["1"]; len(got) != 1 || got[0] != "scan-files" {
		t.Errorf("expected exactly one recorded task, got %v", got)
	}
	if len(pub.published) != 1 {
		t.Errorf("no-op repeat must not publish: got %d events", len(pub.published))
	}
}

func TestCompleteSubTaskRejectsUnknownTask(t *testing.T) {
	svc, fs, _, _ := newTestService(t)
	seedSession(fs, "t1")

	if _, err := svc.CompleteSubTask(context.Background(), "t1", 1, "made-up"); !errors.Is(err, ErrUnknownSubTask) {
		t.Errorf("expected ErrUnknownSubTask, got %v", err)
	}
}

func TestResetToLevelCascade(t *testing.T) {
	svc, fs, _, _ := newTestService(t)
	sess := seedSession(fs, "t1")
	sess.CompletedLevels = []int{1, 2, 3, 4}
	sess.CurrentLevel = 5
	sess.LevelTimestamps = map[string]time.Time{
		"1": time.Now(), "2": time.Now(), "3": time.Now(), "4": time.Now(),
	}

	after, err := svc.ResetToLevel(context.Background(), "t1", 3)
	if err != nil {
		t.Fatalf("ResetToLevel: %v", err)
	}

	if !reflect.DeepEqual(after.CompletedLevels, []int{1, 2}) {
		t.Errorf("expected completed levels [1 2], got %v", after.CompletedLevels)
	}
	if after.CurrentLevel != 3 {
		t.Errorf("expected current level 3, got %d", after.CurrentLevel)
	}
	for _, l := range []string{"3", "4"} {
		if _, present := after.LevelTimestamps[l]; present {
			t.Errorf("timestamp for level %s must be dropped", l)
		}
	}
}

func TestResetToLevelRejectsOutOfRange(t *testing.T) {
	svc, fs, _, _ := newTestService(t)
	seedSession(fs, "t1")

	for _, target := range []int{0, 6} {
		if _, err := svc.ResetToLevel(context.Background(), "t1", target); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("target %d: expected ErrInvalidTransition, got %v", target, err)
		}
	}
}

func TestCompletionFreezesTotalTime(t *testing.T) {
	svc, fs, _, clock := newTestService(t)
	sess := seedSession(fs, "t1")
	sess.CompletedLevels = []int{1, 2, 3, 4}
	sess.CurrentLevel = 5

	if _, err := svc.StartSession(context.Background(), "t1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	// StartSession resets the level; restore the late-game state.
	fs.sessions["t1"].CurrentLevel = 5
	fs.sessions["t1"].CompletedLevels = []int{1, 2, 3, 4}

	clock.Advance(500 * time.Second)
	after, accepted, err := svc.CompleteLevel(context.Background(), "t1", 5, "escape")
	if err != nil || !accepted {
		t.Fatalf("CompleteLevel: accepted=%v err=%v", accepted, err)
	}
	if after.TotalTimeSeconds == nil || *after.TotalTimeSeconds != 500 {
		t.Fatalf("expected frozen total 500s, got %v", after.TotalTimeSeconds)
	}
	if !after.IsCompleted || after.EndTime == nil {
		t.Errorf("terminal completion must set is_completed and end_time")
	}

	clock.Advance(2 * time.Hour)
	proj, err := svc.GetProjection(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetProjection: %v", err)
	}
	if proj.ElapsedSeconds != 500 {
		t.Errorf("frozen total must not drift: expected 500, got %d", proj.ElapsedSeconds)
	}
	if proj.Status != gameclock.StatusCompleted {
		t.Errorf("expected Completed status, got %s", proj.Status)
	}
}

func TestUnreachableLevelRejected(t *testing.T) {
	svc, fs, pub, _ := newTestService(t)
	sess := seedSession(fs, "t1")
	sess.CompletedLevels = []int{1}
	sess.CurrentLevel = 2

	_, _, err := svc.CompleteLevel(context.Background(), "t1", 4, "ENIGMA")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if len(pub.published) != 0 {
		t.Errorf("rejected submission must not publish, got %d events", len(pub.published))
	}
}

func TestWrongKeyRejectedWithoutStateChange(t *testing.T) {
	svc, fs, pub, _ := newTestService(t)
	sess := seedSession(fs, "t1")
	sess.CompletedLevels = []int{1}
	sess.CurrentLevel = 2

	after, accepted, err := svc.CompleteLevel(context.Background(), "t1", 2, "WRONG")
	if err != nil {
		t.Fatalf("wrong key must not error: %v", err)
	}
	if accepted {
		t.Error("wrong key must not be accepted")
	}
	if !reflect.DeepEqual(after.CompletedLevels, []int{1}) || after.CurrentLevel != 2 {
		t.Errorf("wrong key must not change state: %+v", after)
	}
	if len(pub.published) != 0 {
		t.Errorf("wrong key must not publish, got %d events", len(pub.published))
	}
}

func TestCompleteLevelKeyIsCaseInsensitive(t *testing.T) {
	svc, fs, _, _ := newTestService(t)
	sess := seedSession(fs, "t1")
	sess.CompletedLevels = []int{1}
	sess.CurrentLevel = 2

	_, accepted, err := svc.CompleteLevel(context.Background(), "t1", 2, "  shadow ")
	if err != nil {
		t.Fatalf("CompleteLevel: %v", err)
	}
	if !accepted {
		t.Error("key comparison must ignore case and surrounding whitespace")
	}
}

func TestKeylessLevelAcceptsAnySubmission(t *testing.T) {
	svc, fs, _, _ := newTestService(t)
	seedSession(fs, "t1")

	for _, key := range []string{"", "anything-at-all", "  WRONG  "} {
		id := "t1"
		fs.sessions[id].CompletedLevels = []int{}
		fs.sessions[id].CurrentLevel = 1
		sess, accepted, err := svc.CompleteLevel(context.Background(), id, 1, key)
		if err != nil {
			t.Fatalf("key %q: %v", key, err)
		}
		if !accepted {
			t.Errorf("key %q: a keyless level must accept any submission", key)
		}
		if sess.CurrentLevel != 2 {
			t.Errorf("key %q: expected advance to level 2, got %d", key, sess.CurrentLevel)
		}
	}
}

func TestCompleteLevelDoubleSubmitIsIdempotent(t *testing.T) {
	svc, fs, pub, _ := newTestService(t)
	sess := seedSession(fs, "t1")
	sess.CurrentLevel = 2
	sess.CompletedLevels = []int{1}

	for i := 0; i < 2; i++ {
		if _, accepted, err := svc.CompleteLevel(context.Background(), "t1", 2, "SHADOW"); err != nil || !accepted {
			t.Fatalf("submit %d: accepted=%v err=%v", i, accepted, err)
		}
	}

	after := fs.sessions["t1"]
	if !reflect.DeepEqual(after.CompletedLevels, []int{1, 2}) {
		t.Errorf("double submit must not duplicate: %v", after.CompletedLevels)
	}
	if after.CurrentLevel != 3 {
		t.Errorf("expected current level 3, got %d", after.CurrentLevel)
	}
	if len(pub.published) != 1 {
		t.Errorf("second no-op submit must not publish, got %d events", len(pub.published))
	}
}

func TestEndToEndScenario(t *testing.T) {
	svc, fs, _, clock := newTestService(t)
	seedSession(fs, "t1")
	ctx := context.Background()

	if _, err := svc.StartSession(ctx, "t1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	proj, _ := svc.GetProjection(ctx, "t1")
	if proj.RemainingSeconds != 3000 {
		t.Fatalf("at t=0 expected remaining 3000, got %d", proj.RemainingSeconds)
	}

	clock.Advance(100 * time.Second)
	if _, err := svc.ApplyTimeAdjustment(ctx, "t1", 300, AdjustGrant); err != nil {
		t.Fatalf("grant: %v", err)
	}

	clock.Advance(300 * time.Second)
	proj, _ = svc.GetProjection(ctx, "t1")
	if proj.ElapsedSeconds != 100 {
		t.Errorf("at t=400 after +300 grant expected elapsed 100, got %d", proj.ElapsedSeconds)
	}
	if proj.RemainingSeconds != 2900 {
		t.Errorf("at t=400 after +300 grant expected remaining 2900, got %d", proj.RemainingSeconds)
	}

	sess, accepted, err := svc.CompleteLevel(ctx, "t1", 1, "")
	if err != nil || !accepted {
		t.Fatalf("level 1 completion: accepted=%v err=%v", accepted, err)
	}
	if sess.CurrentLevel != 2 || !reflect.DeepEqual(sess.CompletedLevels, []int{1}) {
		t.Errorf("after level 1: %+v", sess)
	}

	if _, _, err := svc.CompleteLevel(ctx, "t1", 5, "ESCAPE"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("level 5 from level 2 must be rejected, got %v", err)
	}
}

func TestFanOutNeverPrecedesCommit(t *testing.T) {
	svc, fs, pub, _ := newTestService(t)
	sess := seedSession(fs, "t1")
	sess.CurrentLevel = 2
	sess.CompletedLevels = []int{1}
	before := copySession(sess)

	fs.failing = true
	_, _, err := svc.CompleteLevel(context.Background(), "t1", 2, "SHADOW")
	if err == nil {
		t.Fatal("expected store failure to surface")
	}
	fs.failing = false

	if len(pub.published) != 0 {
		t.Errorf("failed persist must publish nothing, got %d events", len(pub.published))
	}
	if !reflect.DeepEqual(fs.sessions["t1"], before) {
		t.Errorf("failed persist must leave the record unchanged")
	}
}

func TestRevealHintPenalizesExactlyOnce(t *testing.T) {
	svc, fs, _, _ := newTestService(t)
	seedSession(fs, "t1")
	ctx := context.Background()

	started, err := svc.StartSession(ctx, "t1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	anchorBefore := *started.StartTime

	first, revealed, err := svc.RevealHint(ctx, "t1", 4, "vault-trace")
	if err != nil || !revealed {
		t.Fatalf("first reveal: revealed=%v err=%v", revealed, err)
	}
	wantAnchor := anchorBefore.Add(-120 * time.Second)
	if !first.StartTime.Equal(wantAnchor) {
		t.Errorf("expected anchor shifted by -120s to %v, got %v", wantAnchor, first.StartTime)
	}
	if first.HintsUsed != 1 {
		t.Errorf("expected hints_used 1, got %d", first.HintsUsed)
	}

	second, revealed, err := svc.RevealHint(ctx, "t1", 4, "vault-trace")
	if err != nil {
		t.Fatalf("second reveal: %v", err)
	}
	if revealed {
		t.Error("second reveal must report the token as already spent")
	}
	if !second.StartTime.Equal(wantAnchor) {
		t.Errorf("retried reveal must not shift the anchor again: %v", second.StartTime)
	}
	if second.HintsUsed != 1 {
		t.Errorf("retried reveal must not bump hints_used: got %d", second.HintsUsed)
	}
}

func TestResetTimerKeepsOrClearsProgress(t *testing.T) {
	svc, fs, _, clock := newTestService(t)
	ctx := context.Background()

	setup := func(id string) {
		sess := seedSession(fs, id)
		sess.CompletedLevels = []int{1, 2}
		sess.CurrentLevel = 3
		sess.LevelTimestamps = map[string]time.Time{"1": clock.Now(), "2": clock.Now()}
		sess.SubTasks = map[string][]string{"3": {"enumerate-users"}}
		end := clock.Now()
		sess.EndTime = &end
		total := int64(900)
		sess.TotalTimeSeconds = &total
		sess.IsCompleted = true
	}

	setup("keep")
	kept, err := svc.ResetTimer(ctx, "keep", false)
	if err != nil {
		t.Fatalf("ResetTimer(keep): %v", err)
	}
	if kept.StartTime == nil || !kept.StartTime.Equal(clock.Now().UTC()) {
		t.Errorf("reset must re-anchor at now, got %v", kept.StartTime)
	}
	if kept.EndTime != nil || kept.TotalTimeSeconds != nil || kept.IsCompleted {
		t.Errorf("reset must clear completion state: %+v", kept)
	}
	if len(kept.LevelTimestamps) != 0 || len(kept.SubTasks) != 0 {
		t.Errorf("reset must clear clock-bound progress maps: %+v", kept)
	}
	if !reflect.DeepEqual(kept.CompletedLevels, []int{1, 2}) || kept.CurrentLevel != 3 {
		t.Errorf("reset without progress reset must keep levels: %+v", kept)
	}

	setup("clear")
	cleared, err := svc.ResetTimer(ctx, "clear", true)
	if err != nil {
		t.Fatalf("ResetTimer(clear): %v", err)
	}
	if len(cleared.CompletedLevels) != 0 || cleared.CurrentLevel != 1 {
		t.Errorf("reset with progress reset must rewind to level 1: %+v", cleared)
	}
}

func TestListRankedOrdersByLevelsThenRemaining(t *testing.T) {
	svc, fs, _, clock := newTestService(t)
	ctx := context.Background()

	anchor := func(secondsAgo int64) *time.Time {
		t := clock.Now().UTC().Add(time.Duration(-secondsAgo) * time.Second)
		return &t
	}

	ahead := seedSession(fs, "ahead")
	ahead.CompletedLevels = []int{1, 2, 3}
	ahead.StartTime = anchor(2000)

	fastOfTwo := seedSession(fs, "fast")
	fastOfTwo.CompletedLevels = []int{1, 2}
	fastOfTwo.StartTime = anchor(500)

	slowOfTwo := seedSession(fs, "slow")
	slowOfTwo.CompletedLevels = []int{1, 2}
	slowOfTwo.StartTime = anchor(1500)

	op := seedSession(fs, "op")
	op.Role = models.RoleOperator

	ranked, err := svc.ListRanked(ctx)
	if err != nil {
		t.Fatalf("ListRanked: %v", err)
	}

	var ids []string
	for _, p := range ranked {
		ids = append(ids, p.ID)
	}
	want := []string{"ahead", "fast", "slow"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("expected ranking %v, got %v", want, ids)
	}
}

func TestCreateSessionConflictOnDuplicateEmail(t *testing.T) {
	svc, _, pub, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateSession(ctx, "Team@Example.COM", "Alpha", "hunter2", models.RolePlayer); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.CreateSession(ctx, "  team@example.com ", "Beta", "hunter2", models.RolePlayer); !errors.Is(err, ErrSessionExists) {
		t.Errorf("expected ErrSessionExists for normalized duplicate email, got %v", err)
	}
	if len(pub.published) != 1 {
		t.Errorf("failed create must not publish, got %d events", len(pub.published))
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, "team@example.com", "Alpha", "hunter2", models.RolePlayer)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := svc.Authenticate(ctx, "TEAM@example.com", "hunter2")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("expected session %s, got %s", created.ID, got.ID)
	}

	if _, err := svc.Authenticate(ctx, "team@example.com", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("wrong password: expected ErrBadCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "hunter2"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("unknown email: expected ErrBadCredentials, got %v", err)
	}
}
