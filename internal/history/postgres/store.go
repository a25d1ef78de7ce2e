package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/tutorcall/internal/history"
)

var (
	_ history.Recorder  = (*Store)(nil)
	_ history.ChatStore = (*Store)(nil)
)

// Store is the PostgreSQL-backed history store. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the database and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// ── Recorder ─────────────────────────────────────────────────────────────────

// RecordCompleted implements history.Recorder.
func (s *Store) RecordCompleted(ctx context.Context, rec history.Record) error {
	const q = `
		INSERT INTO session_history
		    (session_id, companion_name, subject, topic, voice, style, turns, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	ended := rec.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	var started *time.Time
	if !rec.StartedAt.IsZero() {
		started = &rec.StartedAt
	}
	_, err := s.pool.Exec(ctx, q,
		rec.SessionID, rec.CompanionName, rec.Subject, rec.Topic,
		rec.Voice, rec.Style, rec.Turns, started, ended,
	)
	if err != nil {
		return fmt.Errorf("history store: record completed: %w", err)
	}
	return nil
}

// Records returns every recorded session for sessionID, oldest first.
func (s *Store) Records(ctx context.Context, sessionID string) ([]history.Record, error) {
	const q = `
		SELECT session_id, companion_name, subject, topic, voice, style, turns, started_at, ended_at
		FROM   session_history
		WHERE  session_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history store: records: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Record, error) {
		var (
			r       history.Record
			started *time.Time
		)
		if err := row.Scan(&r.SessionID, &r.CompanionName, &r.Subject, &r.Topic,
			&r.Voice, &r.Style, &r.Turns, &started, &r.EndedAt); err != nil {
			return r, err
		}
		if started != nil {
			r.StartedAt = *started
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan records: %w", err)
	}
	return recs, nil
}

// ── ChatStore ────────────────────────────────────────────────────────────────

// CreateChat implements history.ChatStore.
func (s *Store) CreateChat(ctx context.Context, chat history.Chat) error {
	now := time.Now()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = chat.CreatedAt
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chats (id, title, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
			chat.ID, chat.Title, chat.CreatedAt, chat.UpdatedAt,
		); err != nil {
			return fmt.Errorf("history store: create chat: %w", err)
		}
		return insertMessages(ctx, tx, chat.ID, now, chat.Messages)
	})
}

// GetChat implements history.ChatStore.
func (s *Store) GetChat(ctx context.Context, id string) (history.Chat, error) {
	var c history.Chat
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, created_at, updated_at FROM chats WHERE id = $1`, id,
	).Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return history.Chat{}, history.ErrNotFound
	}
	if err != nil {
		return history.Chat{}, fmt.Errorf("history store: get chat: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content, at FROM chat_messages WHERE chat_id = $1 ORDER BY id`, id)
	if err != nil {
		return history.Chat{}, fmt.Errorf("history store: get chat messages: %w", err)
	}
	c.Messages, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.ChatMessage, error) {
		var m history.ChatMessage
		err := row.Scan(&m.Role, &m.Content, &m.At)
		return m, err
	})
	if err != nil {
		return history.Chat{}, fmt.Errorf("history store: scan chat messages: %w", err)
	}
	return c, nil
}

// ListChats implements history.ChatStore. Messages are not loaded.
func (s *Store) ListChats(ctx context.Context) ([]history.Chat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, created_at, updated_at FROM chats ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("history store: list chats: %w", err)
	}
	chats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Chat, error) {
		var c history.Chat
		err := row.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan chats: %w", err)
	}
	return chats, nil
}

// AppendMessages implements history.ChatStore.
func (s *Store) AppendMessages(ctx context.Context, id string, msgs ...history.ChatMessage) error {
	now := time.Now()
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE chats SET updated_at = $2 WHERE id = $1`, id, now)
		if err != nil {
			return fmt.Errorf("history store: touch chat: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return history.ErrNotFound
		}
		return insertMessages(ctx, tx, id, now, msgs)
	})
}

// RenameChat implements history.ChatStore.
func (s *Store) RenameChat(ctx context.Context, id, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chats SET title = $2, updated_at = now() WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("history store: rename chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return history.ErrNotFound
	}
	return nil
}

// DeleteChat implements history.ChatStore.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("history store: delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return history.ErrNotFound
	}
	return nil
}

func insertMessages(ctx context.Context, tx pgx.Tx, chatID string, now time.Time, msgs []history.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range msgs {
		at := m.At
		if at.IsZero() {
			at = now
		}
		batch.Queue(`INSERT INTO chat_messages (chat_id, role, content, at) VALUES ($1, $2, $3, $4)`,
			chatID, m.Role, m.Content, at)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("history store: insert messages: %w", err)
	}
	return nil
}
