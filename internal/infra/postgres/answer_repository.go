package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"exam-session-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// AnswerRepository persists session answers keyed by
// (user, session, question), last write wins per row. Pushing an empty
// selection deletes the row: absence and empty are the same state.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

func (r *AnswerRepository) Upsert(ctx context.Context, userID, sessionID string, answer domain.Answer) error {
	if len(answer.Selected) == 0 {
		_, err := r.pool.Exec(ctx,
			`DELETE FROM session_answers WHERE user_id=$1 AND session_id=$2 AND question_id=$3`,
			userID, sessionID, answer.QuestionID)
		if err != nil {
			return fmt.Errorf("delete answer: %w", err)
		}
		return nil
	}
	selected, err := json.Marshal(answer.Selected)
	if err != nil {
		return fmt.Errorf("marshal selection: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO session_answers (user_id, session_id, question_id, selected, verified, correct, answered_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
		ON CONFLICT (user_id, session_id, question_id) DO UPDATE
		SET selected=EXCLUDED.selected, verified=EXCLUDED.verified,
		    correct=EXCLUDED.correct, answered_at=EXCLUDED.answered_at`,
		userID, sessionID, answer.QuestionID, selected, answer.Verified, answer.Correct, answer.AnsweredAt)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

func (r *AnswerRepository) ForSession(ctx context.Context, userID, sessionID string) (map[string]domain.Answer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT question_id, selected, verified, correct, answered_at
		FROM session_answers WHERE user_id=$1 AND session_id=$2`,
		userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Answer)
	for rows.Next() {
		var answer domain.Answer
		var selected []byte
		if err := rows.Scan(&answer.QuestionID, &selected, &answer.Verified, &answer.Correct, &answer.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		if err := json.Unmarshal(selected, &answer.Selected); err != nil {
			return nil, fmt.Errorf("unmarshal selection: %w", err)
		}
		out[answer.QuestionID] = answer
	}
	return out, rows.Err()
}
