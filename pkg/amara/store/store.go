// Package store persists conversation turns, per-user message counters,
// the interaction log and the media catalog. SQLite is the default backend;
// PostgreSQL is available for shared deployments.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Role is the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Turn is one persisted dialogue message.
type Turn struct {
	UserID  string
	Role    Role
	Content string

	// Fallback marks assistant turns holding a canned reply written after a
	// failed completion, and the user turn of the same exchange.
	Fallback bool

	CreatedAt time.Time
}

// MediaItem is one photo known to belong to the media source.
type MediaItem struct {
	SourceID string
	Ref      string
	MimeType string
	PostedAt time.Time
}

// Store is the durable state of the bot.
type Store interface {
	// AppendTurns writes turns in order.
	AppendTurns(ctx context.Context, turns ...Turn) error

	// RecentTurns returns up to limit of the user's latest turns, oldest
	// first. With skipFallback, fallback exchanges are left out.
	RecentTurns(ctx context.Context, userID string, limit int, skipFallback bool) ([]Turn, error)

	// IncrementMessageCount upserts the user's counter and returns the new value.
	IncrementMessageCount(ctx context.Context, userID string) (int64, error)

	// MessageCount returns the user's counter, or ErrNotFound.
	MessageCount(ctx context.Context, userID string) (int64, error)

	// RecordInteraction appends one interaction row.
	RecordInteraction(ctx context.Context, userID string, at time.Time) error

	// ActiveUsers counts distinct users with an interaction after since.
	ActiveUsers(ctx context.Context, since time.Time) (int, error)

	// PruneInteractions deletes interaction rows older than before.
	PruneInteractions(ctx context.Context, before time.Time) (int64, error)

	// KnownUsers lists every distinct user that ever interacted.
	KnownUsers(ctx context.Context) ([]string, error)

	// AddMediaItem records a photo of the media source. Duplicates are ignored.
	AddMediaItem(ctx context.Context, item MediaItem) error

	// RecentMediaItems returns up to limit of the latest photos, newest first.
	RecentMediaItems(ctx context.Context, sourceID string, limit int) ([]MediaItem, error)

	Close() error
}

// Open creates the store selected by driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, path, url string) (Store, error) {
	switch driver {
	case "", "sqlite", "sqlite3":
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "postgresql":
		s, err := OpenPostgres(ctx, url)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

func reverseTurns(turns []Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
