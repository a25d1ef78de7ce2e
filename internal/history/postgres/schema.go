// Package postgres implements history.Recorder and history.ChatStore on
// PostgreSQL using pgx.
//
// Schema:
//
//   - session_history: one row per completed live session.
//   - chats: the chat history list, keyed by ULID.
//   - chat_messages: ordered messages of each chat, cascaded on delete.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessionHistory = `
CREATE TABLE IF NOT EXISTS session_history (
    id              BIGSERIAL    PRIMARY KEY,
    session_id      TEXT         NOT NULL,
    companion_name  TEXT         NOT NULL DEFAULT '',
    subject         TEXT         NOT NULL DEFAULT '',
    topic           TEXT         NOT NULL DEFAULT '',
    voice           TEXT         NOT NULL DEFAULT '',
    style           TEXT         NOT NULL DEFAULT '',
    turns           INTEGER      NOT NULL DEFAULT 0,
    started_at      TIMESTAMPTZ,
    ended_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_history_session_id
    ON session_history (session_id);
`

const ddlChats = `
CREATE TABLE IF NOT EXISTS chats (
    id          TEXT         PRIMARY KEY,
    title       TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chat_messages (
    id       BIGSERIAL    PRIMARY KEY,
    chat_id  TEXT         NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
    role     TEXT         NOT NULL,
    content  TEXT         NOT NULL,
    at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_chat_id
    ON chat_messages (chat_id, id);
`

// Migrate creates the history tables. It is idempotent and safe to call on
// every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessionHistory, ddlChats} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
