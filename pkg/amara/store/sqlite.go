package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// sqliteSchema is executed on every startup (idempotent via IF NOT EXISTS).
const sqliteSchema = `
-- Dialogue turns, append-only.
CREATE TABLE IF NOT EXISTS conversations (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT NOT NULL,
    role       TEXT NOT NULL,
    message    TEXT NOT NULL,
    fallback   INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, id);

-- One counter per user.
CREATE TABLE IF NOT EXISTS user_message_count (
    user_id TEXT PRIMARY KEY,
    count   INTEGER NOT NULL DEFAULT 0
);

-- One row per inbound message; timestamp is epoch seconds.
CREATE TABLE IF NOT EXISTS user_interactions (
    user_id   TEXT NOT NULL,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_interactions_ts ON user_interactions(timestamp);

-- Photos seen in the media source.
CREATE TABLE IF NOT EXISTS media_items (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id TEXT NOT NULL,
    ref       TEXT NOT NULL,
    mime_type TEXT NOT NULL DEFAULT '',
    posted_at INTEGER NOT NULL,
    UNIQUE(source_id, ref)
);
`

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path, enabling WAL mode
// and creating all tables.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "./data/amara.db"
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	// Deferred tasks write concurrently; one connection serializes them.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// AppendTurns writes turns in order within one transaction.
func (s *SQLiteStore) AppendTurns(ctx context.Context, turns ...Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append turns: %w", err)
	}
	defer tx.Rollback()

	for _, t := range turns {
		at := t.CreatedAt
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (user_id, role, message, fallback, created_at) VALUES (?, ?, ?, ?, ?)`,
			t.UserID, string(t.Role), t.Content, t.Fallback, at.Unix(),
		); err != nil {
			return fmt.Errorf("append turn: %w", err)
		}
	}
	return tx.Commit()
}

// RecentTurns returns the user's latest turns, oldest first.
func (s *SQLiteStore) RecentTurns(ctx context.Context, userID string, limit int, skipFallback bool) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `SELECT user_id, role, message, fallback, created_at FROM conversations WHERE user_id = ?`
	if skipFallback {
		query += ` AND fallback = 0`
	}
	query += ` ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, limit)
	for rows.Next() {
		var (
			t    Turn
			role string
			at   int64
		)
		if err := rows.Scan(&t.UserID, &role, &t.Content, &t.Fallback, &at); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = Role(role)
		t.CreatedAt = time.Unix(at, 0)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	reverseTurns(turns)
	return turns, nil
}

// IncrementMessageCount upserts the counter and returns the new value.
func (s *SQLiteStore) IncrementMessageCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO user_message_count (user_id, count) VALUES (?, 1)
		 ON CONFLICT(user_id) DO UPDATE SET count = count + 1
		 RETURNING count`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment message count: %w", err)
	}
	return count, nil
}

// MessageCount returns the user's counter.
func (s *SQLiteStore) MessageCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT count FROM user_message_count WHERE user_id = ?`, userID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query message count: %w", err)
	}
	return count, nil
}

// RecordInteraction appends one interaction row.
func (s *SQLiteStore) RecordInteraction(ctx context.Context, userID string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_interactions (user_id, timestamp) VALUES (?, ?)`,
		userID, at.Unix(),
	); err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

// ActiveUsers counts distinct users seen after since.
func (s *SQLiteStore) ActiveUsers(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM user_interactions WHERE timestamp > ?`,
		since.Unix(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active users: %w", err)
	}
	return n, nil
}

// PruneInteractions deletes rows older than before.
func (s *SQLiteStore) PruneInteractions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_interactions WHERE timestamp < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune interactions: %w", err)
	}
	return res.RowsAffected()
}

// KnownUsers lists every distinct user in the interaction log.
func (s *SQLiteStore) KnownUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM user_interactions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query known users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// AddMediaItem records a photo; duplicates are ignored.
func (s *SQLiteStore) AddMediaItem(ctx context.Context, item MediaItem) error {
	at := item.PostedAt
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO media_items (source_id, ref, mime_type, posted_at) VALUES (?, ?, ?, ?)`,
		item.SourceID, item.Ref, item.MimeType, at.Unix(),
	); err != nil {
		return fmt.Errorf("add media item: %w", err)
	}
	return nil
}

// RecentMediaItems returns the latest photos, newest first.
func (s *SQLiteStore) RecentMediaItems(ctx context.Context, sourceID string, limit int) ([]MediaItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, ref, mime_type, posted_at FROM media_items
		 WHERE source_id = ? ORDER BY posted_at DESC, id DESC LIMIT ?`,
		sourceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query media items: %w", err)
	}
	defer rows.Close()

	var items []MediaItem
	for rows.Next() {
		var (
			m  MediaItem
			at int64
		)
		if err := rows.Scan(&m.SourceID, &m.Ref, &m.MimeType, &at); err != nil {
			return nil, fmt.Errorf("scan media item: %w", err)
		}
		m.PostedAt = time.Unix(at, 0)
		items = append(items, m)
	}
	return items, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
