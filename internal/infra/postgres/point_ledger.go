package postgres

import (
	"context"
	"fmt"

	"exam-session-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PointLedger is the durable append-only ledger. The at-most-one
// normal award per (user, question) is enforced by a partial unique
// index, so two near-simultaneous verifies across processes cannot
// both award: the second insert is silently dropped. Totals are always
// computed from the event sum; there is no secondary counter to drift.
type PointLedger struct {
	pool *pgxpool.Pool
}

func NewPointLedger(pool *pgxpool.Pool) *PointLedger {
	return &PointLedger{pool: pool}
}

func (l *PointLedger) Append(ctx context.Context, event domain.PointEvent) error {
	var err error
	switch {
	case event.Kind == domain.PointNormal && event.Amount > 0:
		_, err = l.pool.Exec(ctx, `
			INSERT INTO point_events (user_id, question_id, kind, amount, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, question_id) WHERE kind='normal' AND amount > 0 DO NOTHING`,
			event.UserID, event.QuestionID, string(event.Kind), event.Amount, event.CreatedAt)
	case event.Kind == domain.PointExplanationApproved:
		_, err = l.pool.Exec(ctx, `
			INSERT INTO point_events (user_id, question_id, kind, amount, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, question_id) WHERE kind='explanation-approved' DO NOTHING`,
			event.UserID, event.QuestionID, string(event.Kind), event.Amount, event.CreatedAt)
	default:
		_, err = l.pool.Exec(ctx, `
			INSERT INTO point_events (user_id, question_id, kind, amount, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			event.UserID, event.QuestionID, string(event.Kind), event.Amount, event.CreatedAt)
	}
	if err != nil {
		return fmt.Errorf("append point event: %w", err)
	}
	return nil
}

func (l *PointLedger) TotalFor(ctx context.Context, userID string) (int, error) {
	var total int
	err := l.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM point_events WHERE user_id=$1`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum point events: %w", err)
	}
	return total, nil
}

func (l *PointLedger) HasAward(ctx context.Context, userID, questionID string, kind domain.PointKind) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM point_events
			WHERE user_id=$1 AND question_id=$2 AND kind=$3 AND amount > 0
		)`, userID, questionID, string(kind)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check award: %w", err)
	}
	return exists, nil
}
