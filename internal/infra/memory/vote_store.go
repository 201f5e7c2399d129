package memory

import (
	"context"
	"sync"

	"exam-session-service/internal/domain"
)

// VoteStore keeps one vote per (user, question) in memory.
type VoteStore struct {
	mu    sync.RWMutex
	votes map[string]domain.Vote
}

func NewVoteStore() *VoteStore {
	return &VoteStore{votes: make(map[string]domain.Vote)}
}

func (s *VoteStore) Upsert(_ context.Context, vote domain.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[voteKey(vote.UserID, vote.QuestionID)] = vote
	return nil
}

func (s *VoteStore) Get(_ context.Context, userID, questionID string) (domain.Vote, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vote, ok := s.votes[voteKey(userID, questionID)]
	return vote, ok, nil
}

func (s *VoteStore) ForQuestion(_ context.Context, questionID string) ([]domain.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Vote
	for _, vote := range s.votes {
		if vote.QuestionID == questionID {
			out = append(out, vote)
		}
	}
	return out, nil
}

func voteKey(userID, questionID string) string {
	return userID + "\x00" + questionID
}
