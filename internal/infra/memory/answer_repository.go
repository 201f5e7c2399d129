package memory

import (
	"context"
	"sync"

	"exam-session-service/internal/domain"
)

// AnswerRepository is the in-memory server system-of-record for session
// answers, keyed by (user, session, question). An upsert with an empty
// selection deletes the row: absence and empty are the same state.
type AnswerRepository struct {
	mu      sync.RWMutex
	answers map[string]map[string]domain.Answer
}

func NewAnswerRepository() *AnswerRepository {
	return &AnswerRepository{answers: make(map[string]map[string]domain.Answer)}
}

func (r *AnswerRepository) Upsert(_ context.Context, userID, sessionID string, answer domain.Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := scopeKey(userID, sessionID)
	rows, ok := r.answers[key]
	if !ok {
		rows = make(map[string]domain.Answer)
		r.answers[key] = rows
	}
	if len(answer.Selected) == 0 {
		delete(rows, answer.QuestionID)
		return nil
	}
	rows[answer.QuestionID] = answer
	return nil
}

func (r *AnswerRepository) ForSession(_ context.Context, userID, sessionID string) (map[string]domain.Answer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.Answer)
	for questionID, answer := range r.answers[scopeKey(userID, sessionID)] {
		out[questionID] = answer
	}
	return out, nil
}

func scopeKey(userID, sessionID string) string {
	return userID + "\x00" + sessionID
}
