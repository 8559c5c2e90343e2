package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS push_subscriptions (
	feature    TEXT        NOT NULL,
	user_id    TEXT        NOT NULL,
	token      TEXT        NOT NULL DEFAULT '',
	targets    JSONB       NOT NULL DEFAULT '[]',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (feature, user_id)
);

CREATE TABLE IF NOT EXISTS user_tokens (
	user_id    TEXT PRIMARY KEY,
	token      TEXT        NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS broadcast_history (
	id            BIGSERIAL PRIMARY KEY,
	sender_id     TEXT        NOT NULL,
	message       TEXT        NOT NULL,
	targets       JSONB       NOT NULL DEFAULT '[]',
	success_count INT         NOT NULL DEFAULT 0,
	fail_count    INT         NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_broadcast_history_created_at ON broadcast_history(created_at DESC);
`

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
