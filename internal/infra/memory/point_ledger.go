package memory

import (
	"context"
	"sync"

	"exam-session-service/internal/domain"
)

// PointLedger is an in-memory append-only ledger. Per-user totals are
// cached for read but updated in the same critical section as the
// append, so the cache can never drift from the event sum.
type PointLedger struct {
	mu     sync.RWMutex
	events []domain.PointEvent
	totals map[string]int
}

func NewPointLedger() *PointLedger {
	return &PointLedger{totals: make(map[string]int)}
}

func (l *PointLedger) Append(_ context.Context, event domain.PointEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	l.totals[event.UserID] += event.Amount
	return nil
}

func (l *PointLedger) TotalFor(_ context.Context, userID string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totals[userID], nil
}

func (l *PointLedger) HasAward(_ context.Context, userID, questionID string, kind domain.PointKind) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.events {
		if e.UserID == userID && e.QuestionID == questionID && e.Kind == kind && e.Amount > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Events returns a copy of the full audit trail for a user.
func (l *PointLedger) Events(userID string) []domain.PointEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.PointEvent
	for _, e := range l.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}
