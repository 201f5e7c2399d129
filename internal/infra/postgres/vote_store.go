package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"exam-session-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// VoteStore persists one community vote per (user, question) with
// last-write-wins upserts on the primary key.
type VoteStore struct {
	pool *pgxpool.Pool
}

func NewVoteStore(pool *pgxpool.Pool) *VoteStore {
	return &VoteStore{pool: pool}
}

func (s *VoteStore) Upsert(ctx context.Context, vote domain.Vote) error {
	selected, err := json.Marshal(vote.Selected)
	if err != nil {
		return fmt.Errorf("marshal selection: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO community_votes (user_id, question_id, selected, weight, has_explanation, explanation_approved, voted_at)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7)
		ON CONFLICT (user_id, question_id) DO UPDATE
		SET selected=EXCLUDED.selected, weight=EXCLUDED.weight,
		    has_explanation=EXCLUDED.has_explanation,
		    explanation_approved=EXCLUDED.explanation_approved,
		    voted_at=EXCLUDED.voted_at`,
		vote.UserID, vote.QuestionID, selected, vote.Weight, vote.HasExplanation, vote.ExplanationApproved, vote.VotedAt)
	if err != nil {
		return fmt.Errorf("upsert vote: %w", err)
	}
	return nil
}

func (s *VoteStore) Get(ctx context.Context, userID, questionID string) (domain.Vote, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, question_id, selected, weight, has_explanation, explanation_approved, voted_at
		FROM community_votes WHERE user_id=$1 AND question_id=$2`,
		userID, questionID)
	vote, err := scanVote(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Vote{}, false, nil
	}
	if err != nil {
		return domain.Vote{}, false, err
	}
	return vote, true, nil
}

func (s *VoteStore) ForQuestion(ctx context.Context, questionID string) ([]domain.Vote, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, question_id, selected, weight, has_explanation, explanation_approved, voted_at
		FROM community_votes WHERE question_id=$1`,
		questionID)
	if err != nil {
		return nil, fmt.Errorf("query votes: %w", err)
	}
	defer rows.Close()

	var out []domain.Vote
	for rows.Next() {
		vote, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, vote)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVote(row rowScanner) (domain.Vote, error) {
	var vote domain.Vote
	var selected []byte
	err := row.Scan(&vote.UserID, &vote.QuestionID, &selected, &vote.Weight,
		&vote.HasExplanation, &vote.ExplanationApproved, &vote.VotedAt)
	if err != nil {
		return domain.Vote{}, err
	}
	if err := json.Unmarshal(selected, &vote.Selected); err != nil {
		return domain.Vote{}, fmt.Errorf("unmarshal selection: %w", err)
	}
	return vote, nil
}
