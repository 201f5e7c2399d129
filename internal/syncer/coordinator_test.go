package syncer

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"exam-session-service/internal/domain"
	"exam-session-service/internal/infra/memory"
)

// fakeRemote is an in-memory system-of-record with failure injection.
type fakeRemote struct {
	mu          sync.Mutex
	answers     map[string]domain.Answer
	fetchErr    error
	failPush    map[string]bool // per-question push failures
	failAllPush bool
	pushes      int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		answers:  make(map[string]domain.Answer),
		failPush: make(map[string]bool),
	}
}

func (r *fakeRemote) FetchAnswers(_ context.Context, _, _ string) (map[string]domain.Answer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	out := make(map[string]domain.Answer, len(r.answers))
	for id, a := range r.answers {
		out[id] = a
	}
	return out, nil
}

func (r *fakeRemote) PushAnswer(_ context.Context, _, _ string, answer domain.Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes++
	if r.failAllPush || r.failPush[answer.QuestionID] {
		return errors.New("server unavailable")
	}
	if len(answer.Selected) == 0 {
		delete(r.answers, answer.QuestionID)
		return nil
	}
	r.answers[answer.QuestionID] = answer
	return nil
}

func testCatalog() *memory.StaticCatalog {
	return memory.NewStaticCatalog(map[string]domain.QuestionSet{
		"exam-1": {
			ID: "exam-1",
			Questions: []domain.Question{
				{ID: "q1", Options: []domain.Option{{Text: "a", Correct: true}, {Text: "b"}}},
				{ID: "q2", Options: []domain.Option{{Text: "a"}, {Text: "b", Correct: true}}},
				{ID: "q3", Options: []domain.Option{{Text: "a", Correct: true}, {Text: "b"}}},
			},
		},
	})
}

func testKey() domain.SnapshotKey {
	return domain.SnapshotKey{UserID: "u1", SessionType: "exam", SessionID: "exam-1"}
}

func fastConfig() Config {
	return Config{Debounce: 10 * time.Millisecond, RestoreTimeout: 200 * time.Millisecond, ElapsedTick: time.Hour}
}

func TestRestorePrecedence(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	local := memory.NewSnapshotStore()

	// Server knows q1; local cache disagrees on q1 and also has q2.
	remote.answers["q1"] = domain.Answer{QuestionID: "q1", Selected: []int{0}, Verified: true, Correct: true}
	_ = local.Save(ctx, domain.SessionSnapshot{
		SnapshotKey:    testKey(),
		Answers:        map[int][]int{0: {1}, 1: {1}},
		CurrentIndex:   2,
		ElapsedSeconds: 120,
		Flagged:        []int{1},
	})

	c := NewCoordinator(testKey(), remote, local, testCatalog(), fastConfig())
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	snap := c.Snapshot()
	if !reflect.DeepEqual(snap.Answers[0], []int{0}) {
		t.Fatalf("server answer must win for q1, got %v", snap.Answers[0])
	}
	if !reflect.DeepEqual(snap.Answers[1], []int{1}) {
		t.Fatalf("local answer must fill q2, got %v", snap.Answers[1])
	}
	// UI-only fields always come from the local snapshot.
	if snap.CurrentIndex != 2 || snap.ElapsedSeconds != 120 || !reflect.DeepEqual(snap.Flagged, []int{1}) {
		t.Fatalf("UI fields not restored locally: %+v", snap)
	}
	// Server-verified answers stay locked.
	c.Select(0, 1)
	if got := c.Snapshot().Answers[0]; !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("verified answer mutated: %v", got)
	}
}

func TestRestoreDegradedModeOnServerFailure(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.fetchErr = errors.New("connection refused")
	local := memory.NewSnapshotStore()
	_ = local.Save(ctx, domain.SessionSnapshot{
		SnapshotKey: testKey(),
		Answers:     map[int][]int{0: {0}},
	})

	c := NewCoordinator(testKey(), remote, local, testCatalog(), fastConfig())
	if err := c.Start(ctx); err != nil {
		t.Fatalf("degraded start must not fail: %v", err)
	}
	if got := c.Snapshot().Answers[0]; !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("local cache not used in degraded mode: %v", got)
	}
}

func TestCatalogLoadFailureIsFatal(t *testing.T) {
	c := NewCoordinator(domain.SnapshotKey{UserID: "u1", SessionType: "exam", SessionID: "ghost"},
		newFakeRemote(), memory.NewSnapshotStore(), testCatalog(), fastConfig())
	err := c.Start(context.Background())
	if !errors.Is(err, domain.ErrCatalogLoad) {
		t.Fatalf("expected ErrCatalogLoad, got %v", err)
	}
}

func TestPurgeForeignSnapshotsOnStart(t *testing.T) {
	ctx := context.Background()
	local := memory.NewSnapshotStore()
	foreign := domain.SnapshotKey{UserID: "someone-else", SessionType: "exam", SessionID: "exam-1"}
	_ = local.Save(ctx, domain.SessionSnapshot{SnapshotKey: foreign, Answers: map[int][]int{0: {1}}})

	c := NewCoordinator(testKey(), newFakeRemote(), local, testCatalog(), fastConfig())
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, ok, _ := local.Load(ctx, foreign); ok {
		t.Fatalf("foreign snapshot survived session start")
	}
}

func TestSelectSavesLocallyAndDebouncesRemote(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	local := memory.NewSnapshotStore()
	c := NewCoordinator(testKey(), remote, local, testCatalog(), fastConfig())
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.Select(0, 0)
	// Local save is unconditional and immediate.
	snap, ok, _ := local.Load(ctx, testKey())
	if !ok || !reflect.DeepEqual(snap.Answers[0], []int{0}) {
		t.Fatalf("expected immediate local save, got %+v ok=%v", snap, ok)
	}
	if _, status := c.Status(); status != StatusDirty {
		t.Fatalf("expected dirty status before debounce fires")
	}

	// The debounce edge pushes the delta remotely.
	deadline := time.Now().Add(time.Second)
	for {
		remote.mu.Lock()
		_, pushed := remote.answers["q1"]
		remote.mu.Unlock()
		_, status := c.Status()
		if pushed && status == StatusSaved {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("remote push never settled, pushed=%v status=%v", pushed, status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFlushPartialSuccessAdvancesBaselinePerRecord(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.failPush["q2"] = true
	local := memory.NewSnapshotStore()
	// Long debounce so only explicit flushes run.
	cfg := Config{Debounce: time.Hour, RestoreTimeout: 100 * time.Millisecond, ElapsedTick: time.Hour}
	c := NewCoordinator(testKey(), remote, local, testCatalog(), cfg)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.Select(0, 0)
	c.Select(1, 1)
	c.Flush(ctx)

	if _, ok := remote.answers["q1"]; !ok {
		t.Fatalf("q1 should have been pushed")
	}
	if _, status := c.Status(); status != StatusDirty {
		t.Fatalf("failed record must keep session dirty")
	}

	// Recovery: only the failed record is retried.
	remote.mu.Lock()
	remote.failPush["q2"] = false
	before := remote.pushes
	remote.mu.Unlock()
	c.Flush(ctx)
	remote.mu.Lock()
	delta := remote.pushes - before
	_, q2ok := remote.answers["q2"]
	remote.mu.Unlock()
	if !q2ok || delta != 1 {
		t.Fatalf("expected exactly the failed record retried, pushes=%d q2=%v", delta, q2ok)
	}
	if _, status := c.Status(); status != StatusSaved {
		t.Fatalf("expected saved after full flush")
	}
}

func TestExitFlushesAndPurgesLocalCache(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	local := memory.NewSnapshotStore()
	cfg := Config{Debounce: time.Hour, RestoreTimeout: 100 * time.Millisecond, ElapsedTick: time.Hour}
	c := NewCoordinator(testKey(), remote, local, testCatalog(), cfg)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.Select(0, 0)
	c.Exit(ctx)

	if _, ok := remote.answers["q1"]; !ok {
		t.Fatalf("exit must force a flush")
	}
	if _, ok, _ := local.Load(ctx, testKey()); ok {
		t.Fatalf("local cache must be purged after a successful final flush")
	}
	if state, _ := c.Status(); state != StateDone {
		t.Fatalf("expected done state, got %v", state)
	}
}

func TestExitKeepsCacheWhenFlushFails(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.failAllPush = true
	local := memory.NewSnapshotStore()
	cfg := Config{Debounce: time.Hour, RestoreTimeout: 100 * time.Millisecond, ElapsedTick: time.Hour}
	c := NewCoordinator(testKey(), remote, local, testCatalog(), cfg)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.Select(0, 0)
	c.Exit(ctx)

	// The user leaves anyway; the cache stays as the recovery path.
	if state, _ := c.Status(); state != StateDone {
		t.Fatalf("exit must never block on network failure, got state %v", state)
	}
	snap, ok, _ := local.Load(ctx, testKey())
	if !ok || !reflect.DeepEqual(snap.Answers[0], []int{0}) {
		t.Fatalf("local cache must survive a failed final flush, got %+v ok=%v", snap, ok)
	}
}

func TestVerifiedAnswersPushWithResult(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	local := memory.NewSnapshotStore()
	cfg := Config{Debounce: time.Hour, RestoreTimeout: 100 * time.Millisecond, ElapsedTick: time.Hour}
	c := NewCoordinator(testKey(), remote, local, testCatalog(), cfg)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.Select(1, 1)
	c.RecordVerification(1, domain.VerificationResult{QuestionID: "q2", UserID: "u1", Correct: true, CorrectIndices: []int{1}})
	c.Flush(ctx)

	pushed, ok := remote.answers["q2"]
	if !ok || !pushed.Verified || !pushed.Correct {
		t.Fatalf("verified answer pushed without its result: %+v", pushed)
	}
	// Locked against further edits.
	c.Select(1, 0)
	if got := c.Snapshot().Answers[1]; !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("verified answer mutated after lock: %v", got)
	}
}

func TestElapsedTimePersistsWithoutAnswerChanges(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	local := memory.NewSnapshotStore()
	cfg := Config{Debounce: 10 * time.Millisecond, RestoreTimeout: 100 * time.Millisecond, ElapsedTick: 5 * time.Millisecond}
	c := NewCoordinator(testKey(), remote, local, testCatalog(), cfg)

	// Every clock read observes another second of session time, so each
	// tick of the elapsed loop accumulates real progress.
	var clockMu sync.Mutex
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.clock = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		now = now.Add(time.Second)
		return now
	}

	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// No answer mutations at all; elapsed time must still reach disk.
	deadline := time.Now().Add(time.Second)
	for {
		snap, ok, _ := local.Load(ctx, testKey())
		if ok && snap.ElapsedSeconds >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("elapsed time never persisted, snapshot=%+v ok=%v", snap, ok)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// An answer save racing the elapsed tick must not lose either field.
	c.Select(0, 0)
	snap, ok, _ := local.Load(ctx, testKey())
	if !ok || snap.ElapsedSeconds < 3 || !reflect.DeepEqual(snap.Answers[0], []int{0}) {
		t.Fatalf("answer save clobbered elapsed time: %+v ok=%v", snap, ok)
	}

	c.Exit(ctx)
}

func TestLocallyRestoredAnswersAreDirty(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	local := memory.NewSnapshotStore()
	_ = local.Save(ctx, domain.SessionSnapshot{
		SnapshotKey: testKey(),
		Answers:     map[int][]int{2: {0}},
	})
	cfg := Config{Debounce: time.Hour, RestoreTimeout: 100 * time.Millisecond, ElapsedTick: time.Hour}
	c := NewCoordinator(testKey(), remote, local, testCatalog(), cfg)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Cache-only answers have never reached the server; the first flush
	// must push them even with no new mutations.
	c.Flush(ctx)
	if _, ok := remote.answers["q3"]; !ok {
		t.Fatalf("restored local answer was not pushed")
	}
}
