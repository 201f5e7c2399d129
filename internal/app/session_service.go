// Package app contains the server-side use cases exposed over the
// transport layer.
package app

import (
	"context"
	"time"

	"exam-session-service/internal/consensus"
	"exam-session-service/internal/domain"
	"exam-session-service/internal/verify"
)

// AnswerRepository is the server system-of-record for session answers.
type AnswerRepository interface {
	Upsert(ctx context.Context, userID, sessionID string, answer domain.Answer) error
	ForSession(ctx context.Context, userID, sessionID string) (map[string]domain.Answer, error)
}

// Catalog serves question-set content and per-question lookups.
type Catalog interface {
	QuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
	Question(ctx context.Context, questionID string) (domain.Question, error)
}

// SessionService wires the verification engine, the point ledger, the
// answer store-of-record, and the community consensus into the
// operations the client sync layer and the UI call.
type SessionService struct {
	catalog   Catalog
	answers   AnswerRepository
	ledger    verify.Ledger
	engine    *verify.Engine
	consensus *consensus.Consensus
	now       func() time.Time
}

func NewSessionService(catalog Catalog, answers AnswerRepository, ledger verify.Ledger, votes consensus.VoteStore) *SessionService {
	return &SessionService{
		catalog:   catalog,
		answers:   answers,
		ledger:    ledger,
		engine:    verify.NewEngine(catalog, ledger),
		consensus: consensus.NewConsensus(votes, ledger),
		now:       time.Now,
	}
}

// QuestionSet loads the session's catalog content.
func (s *SessionService) QuestionSet(ctx context.Context, sessionID string) (domain.QuestionSet, error) {
	return s.catalog.QuestionSet(ctx, sessionID)
}

// RecordAnswer stores a pushed answer delta as-is. This path never
// verifies; already-verified answers arrive with their settled result
// and are persisted unchanged.
func (s *SessionService) RecordAnswer(ctx context.Context, userID, sessionID string, answer domain.Answer) error {
	if _, err := s.catalog.Question(ctx, answer.QuestionID); err != nil {
		return err
	}
	if answer.AnsweredAt.IsZero() {
		answer.AnsweredAt = s.now()
	}
	return s.answers.Upsert(ctx, userID, sessionID, answer)
}

// AnswersForSession returns the authoritative answer set for restore.
func (s *SessionService) AnswersForSession(ctx context.Context, userID, sessionID string) (map[string]domain.Answer, error) {
	return s.answers.ForSession(ctx, userID, sessionID)
}

// VerifyAnswer settles correctness and the point award, then records
// the verified answer in the system-of-record. A retry clears the
// stored answer so the question reads as unanswered again.
func (s *SessionService) VerifyAnswer(ctx context.Context, userID, sessionID, questionID string, selected []int, isRetry bool) (verify.Result, error) {
	result, err := s.engine.Verify(ctx, userID, questionID, selected, isRetry)
	if err != nil {
		return verify.Result{}, err
	}
	if isRetry {
		err = s.answers.Upsert(ctx, userID, sessionID, domain.Answer{QuestionID: questionID})
	} else {
		err = s.answers.Upsert(ctx, userID, sessionID, domain.Answer{
			QuestionID: questionID,
			Selected:   selected,
			Verified:   true,
			Correct:    result.Correct,
			AnsweredAt: s.now(),
		})
	}
	if err != nil {
		return verify.Result{}, err
	}
	return result, nil
}

// CastVote upserts the user's community vote and returns the fresh tally.
func (s *SessionService) CastVote(ctx context.Context, userID, questionID string, selected []int) (domain.VoteTally, error) {
	if _, err := s.catalog.Question(ctx, questionID); err != nil {
		return domain.VoteTally{}, err
	}
	return s.consensus.CastVote(ctx, userID, questionID, selected)
}

// CommunityVotes is the aggregate vote view for one question.
type CommunityVotes struct {
	Tally       domain.VoteTally `json:"tally"`
	UserVote    []int            `json:"userVote,omitempty"`
	TotalVoters int              `json:"totalVoters"`
}

func (s *SessionService) CommunityVotes(ctx context.Context, userID, questionID string) (CommunityVotes, error) {
	tally, err := s.consensus.TallyFor(ctx, questionID)
	if err != nil {
		return CommunityVotes{}, err
	}
	voters, err := s.consensus.VoterCount(ctx, questionID)
	if err != nil {
		return CommunityVotes{}, err
	}
	out := CommunityVotes{Tally: tally, TotalVoters: voters}
	if vote, ok, err := s.consensus.UserVote(ctx, userID, questionID); err != nil {
		return CommunityVotes{}, err
	} else if ok {
		out.UserVote = vote.Selected
	}
	return out, nil
}

// ApproveExplanation promotes the user's vote weight and settles the
// one-time approval bonus.
func (s *SessionService) ApproveExplanation(ctx context.Context, userID, questionID string) (domain.VoteTally, error) {
	return s.consensus.MarkExplanationApproved(ctx, userID, questionID)
}

// TotalPoints reads the user's cumulative score from the ledger.
func (s *SessionService) TotalPoints(ctx context.Context, userID string) (int, error) {
	return s.ledger.TotalFor(ctx, userID)
}
