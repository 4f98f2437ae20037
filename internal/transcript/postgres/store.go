// Package postgres provides a PostgreSQL-backed implementation of
// [transcript.Store], keeping the conversation log across restarts.
//
// All entries share a single [pgxpool.Pool]. [NewStore] runs the schema
// migration automatically via CREATE TABLE IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, sessionID)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Append(ctx, entries...)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echoline-ai/echoline/internal/transcript"
)

var _ transcript.Store = (*Store)(nil)

const ddlTranscriptEntries = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    seq        BIGSERIAL    PRIMARY KEY,
    id         UUID         NOT NULL,
    session_id TEXT         NOT NULL,
    role       TEXT         NOT NULL,
    text       TEXT         NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_session
    ON transcript_entries (session_id, seq);`

// Store is a PostgreSQL-backed conversation log scoped to one session ID.
// All methods are safe for concurrent use.
type Store struct {
	pool      *pgxpool.Pool
	sessionID string
}

// NewStore connects to the database at dsn, ensures the schema exists, and
// returns a store scoped to sessionID.
func NewStore(ctx context.Context, dsn, sessionID string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlTranscriptEntries); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: migrate: %w", err)
	}

	return &Store{pool: pool, sessionID: sessionID}, nil
}

// Ping verifies the database connection is still usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Append implements [transcript.Store]. Entries are inserted in order within
// a single transaction so a partial turn never reaches the log.
func (s *Store) Append(ctx context.Context, entries ...transcript.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("transcript store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO transcript_entries (id, session_id, role, text, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	for _, e := range entries {
		if _, err := tx.Exec(ctx, q, e.ID, s.sessionID, string(e.Role), e.Text, e.CreatedAt); err != nil {
			return fmt.Errorf("transcript store: insert entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("transcript store: commit: %w", err)
	}
	return nil
}

// All implements [transcript.Store]. Entries come back in insertion order.
func (s *Store) All(ctx context.Context) ([]transcript.Entry, error) {
	const q = `
		SELECT id, role, text, created_at
		FROM   transcript_entries
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, s.sessionID)
	if err != nil {
		return nil, fmt.Errorf("transcript store: query: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Entry, error) {
		var (
			e    transcript.Entry
			role string
		)
		if err := row.Scan(&e.ID, &role, &e.Text, &e.CreatedAt); err != nil {
			return transcript.Entry{}, err
		}
		e.Role = transcript.Role(role)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	return entries, nil
}

// Clear implements [transcript.Store]. Only this store's session is removed.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM transcript_entries WHERE session_id = $1`, s.sessionID); err != nil {
		return fmt.Errorf("transcript store: clear: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
