package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and creates the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("connect postgres: database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			seq        BIGSERIAL,
			user_id    TEXT NOT NULL,
			role       TEXT NOT NULL,
			message    TEXT NOT NULL,
			fallback   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, seq);`,
		`CREATE TABLE IF NOT EXISTS user_message_count (
			user_id TEXT PRIMARY KEY,
			count   BIGINT NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS user_interactions (
			user_id   TEXT NOT NULL,
			timestamp BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_user_interactions_ts ON user_interactions (timestamp);`,
		`CREATE TABLE IF NOT EXISTS media_items (
			source_id TEXT NOT NULL,
			ref       TEXT NOT NULL,
			mime_type TEXT NOT NULL DEFAULT '',
			posted_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (source_id, ref)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// AppendTurns writes turns in order within one transaction.
func (s *PostgresStore) AppendTurns(ctx context.Context, turns ...Turn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("append turns: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range turns {
		at := t.CreatedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversations (id, user_id, role, message, fallback, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.NewString(), t.UserID, string(t.Role), t.Content, t.Fallback, at,
		); err != nil {
			return fmt.Errorf("append turn: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// RecentTurns returns the user's latest turns, oldest first.
func (s *PostgresStore) RecentTurns(ctx context.Context, userID string, limit int, skipFallback bool) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT user_id, role, message, fallback, created_at FROM conversations
		 WHERE user_id = $1 AND (NOT $2 OR NOT fallback)
		 ORDER BY seq DESC LIMIT $3`,
		userID, skipFallback, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, limit)
	for rows.Next() {
		var (
			t    Turn
			role string
		)
		if err := rows.Scan(&t.UserID, &role, &t.Content, &t.Fallback, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	reverseTurns(turns)
	return turns, nil
}

// IncrementMessageCount upserts the counter and returns the new value.
func (s *PostgresStore) IncrementMessageCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO user_message_count (user_id, count) VALUES ($1, 1)
		 ON CONFLICT (user_id) DO UPDATE SET count = user_message_count.count + 1
		 RETURNING count`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment message count: %w", err)
	}
	return count, nil
}

// MessageCount returns the user's counter.
func (s *PostgresStore) MessageCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT count FROM user_message_count WHERE user_id = $1`, userID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query message count: %w", err)
	}
	return count, nil
}

// RecordInteraction appends one interaction row.
func (s *PostgresStore) RecordInteraction(ctx context.Context, userID string, at time.Time) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO user_interactions (user_id, timestamp) VALUES ($1, $2)`,
		userID, at.Unix(),
	); err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

// ActiveUsers counts distinct users seen after since.
func (s *PostgresStore) ActiveUsers(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM user_interactions WHERE timestamp > $1`,
		since.Unix(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active users: %w", err)
	}
	return n, nil
}

// PruneInteractions deletes rows older than before.
func (s *PostgresStore) PruneInteractions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_interactions WHERE timestamp < $1`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune interactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// KnownUsers lists every distinct user in the interaction log.
func (s *PostgresStore) KnownUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM user_interactions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query known users: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect users: %w", err)
	}
	return users, nil
}

// AddMediaItem records a photo; duplicates are ignored.
func (s *PostgresStore) AddMediaItem(ctx context.Context, item MediaItem) error {
	at := item.PostedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO media_items (source_id, ref, mime_type, posted_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (source_id, ref) DO NOTHING`,
		item.SourceID, item.Ref, item.MimeType, at,
	); err != nil {
		return fmt.Errorf("add media item: %w", err)
	}
	return nil
}

// RecentMediaItems returns the latest photos, newest first.
func (s *PostgresStore) RecentMediaItems(ctx context.Context, sourceID string, limit int) ([]MediaItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT source_id, ref, mime_type, posted_at FROM media_items
		 WHERE source_id = $1 ORDER BY posted_at DESC LIMIT $2`,
		sourceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query media items: %w", err)
	}
	defer rows.Close()

	var items []MediaItem
	for rows.Next() {
		var m MediaItem
		if err := rows.Scan(&m.SourceID, &m.Ref, &m.MimeType, &m.PostedAt); err != nil {
			return nil, fmt.Errorf("scan media item: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
