package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS question_sets (
	id   TEXT PRIMARY KEY,
	data JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS session_answers (
	user_id     TEXT        NOT NULL,
	session_id  TEXT        NOT NULL,
	question_id TEXT        NOT NULL,
	selected    JSONB       NOT NULL,
	verified    BOOLEAN     NOT NULL DEFAULT FALSE,
	correct     BOOLEAN     NOT NULL DEFAULT FALSE,
	answered_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, session_id, question_id)
);

CREATE TABLE IF NOT EXISTS point_events (
	id          BIGSERIAL   PRIMARY KEY,
	user_id     TEXT        NOT NULL,
	question_id TEXT        NOT NULL,
	kind        TEXT        NOT NULL,
	amount      INTEGER     NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);

-- The first-correct-answer award is strictly once per (user, question);
-- concurrent verifies race on this index, not on application state.
CREATE UNIQUE INDEX IF NOT EXISTS point_events_normal_award
	ON point_events (user_id, question_id)
	WHERE kind = 'normal' AND amount > 0;

CREATE UNIQUE INDEX IF NOT EXISTS point_events_explanation_bonus
	ON point_events (user_id, question_id)
	WHERE kind = 'explanation-approved';

CREATE INDEX IF NOT EXISTS point_events_user
	ON point_events (user_id);

CREATE TABLE IF NOT EXISTS community_votes (
	user_id              TEXT        NOT NULL,
	question_id          TEXT        NOT NULL,
	selected             JSONB       NOT NULL,
	weight               INTEGER     NOT NULL DEFAULT 1,
	has_explanation      BOOLEAN     NOT NULL DEFAULT FALSE,
	explanation_approved BOOLEAN     NOT NULL DEFAULT FALSE,
	voted_at             TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, question_id)
);

CREATE INDEX IF NOT EXISTS community_votes_question
	ON community_votes (question_id);
`

const dropSchemaSQL = `
DROP TABLE IF EXISTS community_votes;
DROP TABLE IF EXISTS point_events;
DROP TABLE IF EXISTS session_answers;
DROP TABLE IF EXISTS question_sets;
`

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createSchemaSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, dropSchemaSQL)
			return err
		},
	)
}
