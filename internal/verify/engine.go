// Package verify settles answer correctness and point awards. It is
// the only path that verifies answers; the sync layer merely replays
// its results.
package verify

import (
	"context"
	"sync"
	"time"

	"exam-session-service/internal/domain"
)

// Catalog looks up question content by ID.
type Catalog interface {
	Question(ctx context.Context, questionID string) (domain.Question, error)
}

// Ledger is the append-only point-event record. TotalFor must always
// equal the sum of appended amounts for the user; implementations that
// cache a total must update it inside the same unit of work as Append.
type Ledger interface {
	Append(ctx context.Context, event domain.PointEvent) error
	TotalFor(ctx context.Context, userID string) (int, error)
	HasAward(ctx context.Context, userID, questionID string, kind domain.PointKind) (bool, error)
}

// Result is what a verify call reports back for display.
type Result struct {
	Correct        bool  `json:"correct"`
	CorrectIndices []int `json:"correctIndices"`
	PointsAwarded  int   `json:"pointsAwarded"`
	TotalPoints    int   `json:"totalPoints"`
}

// Engine decides correctness against the answer key and awards the
// first-correct-answer point at most once per (user, question).
type Engine struct {
	catalog Catalog
	ledger  Ledger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(catalog Catalog, ledger Ledger) *Engine {
	return NewEngineWithClock(catalog, ledger, time.Now)
}

// NewEngineWithClock allows deterministic timestamps in tests.
func NewEngineWithClock(catalog Catalog, ledger Ledger, now func() time.Time) *Engine {
	return &Engine{
		catalog: catalog,
		ledger:  ledger,
		now:     now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Verify scores the submitted selection and settles the point award.
//
// A retry records a zero-amount audit event and resets visible state
// without re-scoring. Scoring is exact-match: the submitted set must
// equal the canonical correct set, no partial credit. Once a question
// has ever been answered correctly, no further verify call re-awards,
// so the operation is idempotent from the caller's perspective.
func (e *Engine) Verify(ctx context.Context, userID, questionID string, selected []int, isRetry bool) (Result, error) {
	question, err := e.catalog.Question(ctx, questionID)
	if err != nil {
		return Result{}, err
	}
	if question.Annulled {
		return Result{}, domain.ErrNotVerifiable
	}

	// Two near-simultaneous calls for the same (user, question) must
	// not both observe "not yet awarded".
	lock := e.lockFor(userID, questionID)
	lock.Lock()
	defer lock.Unlock()

	if isRetry {
		event := domain.PointEvent{
			UserID:     userID,
			QuestionID: questionID,
			Kind:       domain.PointRetry,
			Amount:     0,
			CreatedAt:  e.now(),
		}
		if err := e.ledger.Append(ctx, event); err != nil {
			return Result{}, err
		}
		total, err := e.ledger.TotalFor(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		// A retry clears visible state, so the answer key is not disclosed.
		return Result{Correct: false, TotalPoints: total}, nil
	}

	correctSet := question.CorrectIndices()
	correct := exactMatch(selected, correctSet)

	awarded := 0
	if correct {
		already, err := e.ledger.HasAward(ctx, userID, questionID, domain.PointNormal)
		if err != nil {
			return Result{}, err
		}
		if !already {
			event := domain.PointEvent{
				UserID:     userID,
				QuestionID: questionID,
				Kind:       domain.PointNormal,
				Amount:     1,
				CreatedAt:  e.now(),
			}
			if err := e.ledger.Append(ctx, event); err != nil {
				return Result{}, err
			}
			awarded = 1
		}
	}

	total, err := e.ledger.TotalFor(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Correct:        correct,
		CorrectIndices: correctSet,
		PointsAwarded:  awarded,
		TotalPoints:    total,
	}, nil
}

func (e *Engine) lockFor(userID, questionID string) *sync.Mutex {
	key := userID + "\x00" + questionID
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	return lock
}

// exactMatch treats both slices as sets: same size, same members.
// Duplicates in the submission shrink the set and fail the match.
func exactMatch(selected, correct []int) bool {
	set := make(map[int]struct{}, len(selected))
	for _, i := range selected {
		set[i] = struct{}{}
	}
	if len(set) != len(correct) {
		return false
	}
	for _, i := range correct {
		if _, ok := set[i]; !ok {
			return false
		}
	}
	return true
}
