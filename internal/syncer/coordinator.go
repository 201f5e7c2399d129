// Package syncer reconciles the client-held session state with the
// server system-of-record: restore on open, debounced delta pushes
// while active, forced flush on exit. The local snapshot cache is the
// safety net; remote push failures are retried, never surfaced.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"exam-session-service/internal/domain"
	"exam-session-service/internal/session"
	"golang.org/x/sync/errgroup"
)

// Remote is the server system-of-record for answers.
type Remote interface {
	FetchAnswers(ctx context.Context, userID, sessionID string) (map[string]domain.Answer, error)
	PushAnswer(ctx context.Context, userID, sessionID string, answer domain.Answer) error
}

// SnapshotStore is the durable local cache of in-progress session state.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot domain.SessionSnapshot) error
	Load(ctx context.Context, key domain.SnapshotKey) (domain.SessionSnapshot, bool, error)
	Delete(ctx context.Context, key domain.SnapshotKey) error
	PurgeAllExcept(ctx context.Context, userID string) error
}

// Catalog loads the ordered question set for a session.
type Catalog interface {
	QuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// State is the coordinator's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRestoring
	StateActive
	StateSaving
	StateExiting
	StateDone
)

// SaveStatus drives the non-blocking "saved / saving" indicator.
type SaveStatus int

const (
	StatusSaved SaveStatus = iota
	StatusDirty
	StatusSaving
)

// Config tunes the coordinator's timers.
type Config struct {
	// Debounce bounds server write amplification: it rearms on each
	// answer mutation and only the quiet edge triggers a remote push.
	Debounce time.Duration
	// RestoreTimeout bounds the wait on the server during restore
	// before proceeding in degraded mode with local cache only.
	RestoreTimeout time.Duration
	// ElapsedTick is the period of the local elapsed-time save, which
	// runs independently of answer changes.
	ElapsedTick time.Duration
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = time.Second
	}
	if c.RestoreTimeout <= 0 {
		c.RestoreTimeout = 3 * time.Second
	}
	if c.ElapsedTick <= 0 {
		c.ElapsedTick = 15 * time.Second
	}
	return c
}

// Coordinator owns one session's sync lifecycle. All state mutation
// happens under a single mutex so the debounce flush and the elapsed
// tick cannot interleave writes to the cached snapshot.
type Coordinator struct {
	key     domain.SnapshotKey
	remote  Remote
	local   SnapshotStore
	catalog Catalog
	cfg     Config
	clock   func() time.Time

	mu           sync.Mutex
	state        State
	status       SaveStatus
	store        *session.AnswerStore
	questions    []domain.Question
	indexByID    map[string]int
	currentIndex int
	elapsed      int
	lastTick     time.Time
	flagged      map[int]struct{}
	verification map[int]domain.VerificationResult
	baseline     map[int][]int
	pendingPush  map[int]struct{}
	debounce     *time.Timer
	stopTick     chan struct{}
}

func NewCoordinator(key domain.SnapshotKey, remote Remote, local SnapshotStore, catalog Catalog, cfg Config) *Coordinator {
	return &Coordinator{
		key:          key,
		remote:       remote,
		local:        local,
		catalog:      catalog,
		cfg:          cfg.withDefaults(),
		clock:        time.Now,
		flagged:      make(map[int]struct{}),
		verification: make(map[int]domain.VerificationResult),
		baseline:     make(map[int][]int),
		pendingPush:  make(map[int]struct{}),
		stopTick:     make(chan struct{}),
	}
}

// Start loads the catalog, restores prior state, and begins the timers.
// Server answers are authoritative per question; the local snapshot
// fills the gaps and always supplies the UI-only fields the server does
// not track. An unreachable server degrades to local cache after a
// bounded wait. Only a catalog load failure is fatal.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return errors.New("session already started")
	}
	c.state = StateRestoring

	// A stale snapshot from another user under the same storage scope
	// must never leak into this session.
	if err := c.local.PurgeAllExcept(ctx, c.key.UserID); err != nil {
		log.Printf("sync: purge foreign snapshots: %v", err)
	}

	set, err := c.catalog.QuestionSet(ctx, c.key.SessionID)
	if err != nil {
		c.state = StateIdle
		return fmt.Errorf("%w: %v", domain.ErrCatalogLoad, err)
	}
	c.questions = set.Questions
	c.store = session.NewAnswerStore(set.Questions)
	c.indexByID = make(map[string]int, len(set.Questions))
	for i, q := range set.Questions {
		c.indexByID[q.ID] = i
	}

	serverCovered := c.applyServerAnswers(ctx)
	c.applyLocalSnapshot(ctx, serverCovered)

	c.state = StateActive
	c.status = StatusSaved
	c.lastTick = c.clock()
	go c.elapsedLoop()
	return nil
}

// applyServerAnswers fetches the system-of-record within the bounded
// wait and installs its answers. Returns the covered question indices.
func (c *Coordinator) applyServerAnswers(ctx context.Context) map[int]struct{} {
	covered := make(map[int]struct{})
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.RestoreTimeout)
	defer cancel()

	answers, err := c.remote.FetchAnswers(fetchCtx, c.key.UserID, c.key.SessionID)
	if err != nil {
		log.Printf("sync: server unreachable during restore, continuing with local cache: %v", err)
		return covered
	}
	for questionID, answer := range answers {
		idx, ok := c.indexByID[questionID]
		if !ok {
			continue
		}
		c.store.Replace(idx, answer.Selected)
		c.baseline[idx] = c.store.Get(idx)
		covered[idx] = struct{}{}
		if answer.Verified {
			c.store.MarkVerified(idx)
			c.verification[idx] = domain.VerificationResult{
				QuestionID: questionID,
				UserID:     c.key.UserID,
				Correct:    answer.Correct,
			}
		}
	}
	return covered
}

// applyLocalSnapshot merges the cached snapshot: answers only where the
// server had nothing, UI-only fields unconditionally.
func (c *Coordinator) applyLocalSnapshot(ctx context.Context, serverCovered map[int]struct{}) {
	snap, ok, err := c.local.Load(ctx, c.key)
	if err != nil {
		log.Printf("sync: local snapshot load: %v", err)
		return
	}
	if !ok {
		return
	}

	for idx, selection := range snap.Answers {
		if _, fromServer := serverCovered[idx]; fromServer {
			continue
		}
		c.store.Replace(idx, selection)
		// Locally restored answers have not reached the server yet.
		c.pendingPush[idx] = struct{}{}
		c.status = StatusDirty
	}
	for idx, res := range snap.Verification {
		if _, fromServer := serverCovered[idx]; fromServer {
			continue
		}
		c.store.MarkVerified(idx)
		c.verification[idx] = res
	}

	if snap.CurrentIndex >= 0 && snap.CurrentIndex < len(c.questions) {
		c.currentIndex = snap.CurrentIndex
	}
	if snap.ElapsedSeconds > 0 {
		c.elapsed = snap.ElapsedSeconds
	}
	for _, idx := range snap.Flagged {
		if idx >= 0 && idx < len(c.questions) {
			c.flagged[idx] = struct{}{}
		}
	}
}

// Select toggles an option and schedules sync: the local save is
// immediate, the remote push waits for the debounce edge.
func (c *Coordinator) Select(questionIndex, optionIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive && c.state != StateSaving {
		return
	}
	before := c.store.Get(questionIndex)
	c.store.Select(questionIndex, optionIndex)
	if equalSelection(before, c.store.Get(questionIndex)) {
		return
	}
	c.status = StatusDirty
	c.saveLocalLocked()
	c.rearmDebounceLocked()
}

// Flag toggles a question's review flag; local-only state.
func (c *Coordinator) Flag(questionIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if questionIndex < 0 || questionIndex >= len(c.questions) {
		return
	}
	if _, on := c.flagged[questionIndex]; on {
		delete(c.flagged, questionIndex)
	} else {
		c.flagged[questionIndex] = struct{}{}
	}
	c.saveLocalLocked()
}

// SetCurrentIndex remembers the UI cursor; local-only state.
func (c *Coordinator) SetCurrentIndex(questionIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if questionIndex < 0 || questionIndex >= len(c.questions) {
		return
	}
	c.currentIndex = questionIndex
	c.saveLocalLocked()
}

// RecordVerification locks the question and queues the verified answer
// for the next push. Verification itself happens in the verify engine;
// the coordinator only replays its outcome.
func (c *Coordinator) RecordVerification(questionIndex int, result domain.VerificationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if questionIndex < 0 || questionIndex >= len(c.questions) {
		return
	}
	c.store.MarkVerified(questionIndex)
	c.verification[questionIndex] = result
	c.pendingPush[questionIndex] = struct{}{}
	c.status = StatusDirty
	c.saveLocalLocked()
	c.rearmDebounceLocked()
}

// Flush pushes the delta of changed answers since the last successful
// push. Each changed question is pushed as an independent concurrent
// call; partial success advances the baseline only for the records that
// made it. Failures stay dirty and are retried on the next tick.
func (c *Coordinator) Flush(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateActive && c.state != StateExiting {
		c.mu.Unlock()
		return
	}
	items := c.collectDeltaLocked()
	if len(items) == 0 {
		c.status = StatusSaved
		c.mu.Unlock()
		return
	}
	if c.state == StateActive {
		c.state = StateSaving
	}
	c.status = StatusSaving
	c.mu.Unlock()

	pushed := make([]bool, len(items))
	g := new(errgroup.Group)
	for i := range items {
		i := i
		g.Go(func() error {
			item := items[i]
			if err := c.remote.PushAnswer(ctx, c.key.UserID, c.key.SessionID, item.answer); err != nil {
				log.Printf("sync: push question %s failed, will retry: %v", item.answer.QuestionID, err)
				return nil
			}
			pushed[i] = true
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := false
	for i, ok := range pushed {
		item := items[i]
		if !ok {
			remaining = true
			continue
		}
		if len(item.answer.Selected) == 0 {
			delete(c.baseline, item.index)
		} else {
			c.baseline[item.index] = item.answer.Selected
		}
		delete(c.pendingPush, item.index)
	}
	if c.state == StateSaving {
		c.state = StateActive
	}
	if remaining {
		c.status = StatusDirty
		if c.state == StateActive {
			c.rearmDebounceLocked()
		}
		return
	}
	if len(c.collectDeltaLocked()) == 0 {
		c.status = StatusSaved
	}
}

type pushItem struct {
	index  int
	answer domain.Answer
}

func (c *Coordinator) collectDeltaLocked() []pushItem {
	changed := make(map[int]struct{})
	for _, idx := range c.store.ChangedSince(c.baseline) {
		changed[idx] = struct{}{}
	}
	for idx := range c.pendingPush {
		changed[idx] = struct{}{}
	}

	items := make([]pushItem, 0, len(changed))
	now := c.clock()
	for idx := range changed {
		q, ok := c.store.Question(idx)
		if !ok {
			continue
		}
		answer := domain.Answer{
			QuestionID: q.ID,
			Selected:   c.store.Get(idx),
			AnsweredAt: now,
		}
		if res, verified := c.verification[idx]; verified {
			answer.Verified = true
			answer.Correct = res.Correct
		}
		items = append(items, pushItem{index: idx, answer: answer})
	}
	return items
}

// Exit leaves the session: cancel the timers, force a final flush, and
// purge the local cache only if the flush fully succeeded. Navigation
// is never blocked on network failure; a kept cache is the recovery
// path for the next open.
func (c *Coordinator) Exit(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateDone || c.state == StateIdle || c.state == StateExiting {
		c.mu.Unlock()
		return
	}
	c.state = StateExiting
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	close(c.stopTick)
	c.saveLocalLocked()
	c.mu.Unlock()

	c.Flush(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.collectDeltaLocked()) == 0 {
		if err := c.local.Delete(ctx, c.key); err != nil {
			log.Printf("sync: delete local snapshot: %v", err)
		}
		c.status = StatusSaved
	}
	c.state = StateDone
}

// Status reports the lifecycle state and the save indicator.
func (c *Coordinator) Status() (State, SaveStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.status
}

// Snapshot returns a copy of the current session state for the UI.
func (c *Coordinator) Snapshot() domain.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Questions exposes the session's ordered catalog content.
func (c *Coordinator) Questions() []domain.Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.questions
}

func (c *Coordinator) snapshotLocked() domain.SessionSnapshot {
	flagged := make([]int, 0, len(c.flagged))
	for idx := range c.flagged {
		flagged = append(flagged, idx)
	}
	verification := make(map[int]domain.VerificationResult, len(c.verification))
	for idx, res := range c.verification {
		verification[idx] = res
	}
	var answers map[int][]int
	if c.store != nil {
		answers = c.store.Snapshot()
	}
	return domain.SessionSnapshot{
		SnapshotKey:    c.key,
		Answers:        answers,
		CurrentIndex:   c.currentIndex,
		ElapsedSeconds: c.elapsed,
		Flagged:        flagged,
		Verification:   verification,
		SavedAt:        c.clock(),
	}
}

func (c *Coordinator) saveLocalLocked() {
	if err := c.local.Save(context.Background(), c.snapshotLocked()); err != nil {
		log.Printf("sync: local save: %v", err)
	}
}

func (c *Coordinator) rearmDebounceLocked() {
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(c.cfg.Debounce, func() {
		c.Flush(context.Background())
	})
}

// elapsedLoop persists elapsed time on its own cadence so time tracking
// survives a crash even with zero answer changes.
func (c *Coordinator) elapsedLoop() {
	ticker := time.NewTicker(c.cfg.ElapsedTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			if c.state == StateExiting || c.state == StateDone {
				c.mu.Unlock()
				return
			}
			now := c.clock()
			c.elapsed += int(now.Sub(c.lastTick).Seconds())
			c.lastTick = now
			c.saveLocalLocked()
			c.mu.Unlock()
		case <-c.stopTick:
			return
		}
	}
}

func equalSelection(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
