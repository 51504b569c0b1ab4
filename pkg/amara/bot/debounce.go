package bot

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AfterFunc runs f in its own goroutine after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func())

// FlushFunc receives the consolidated block of a user's buffered messages.
type FlushFunc func(ctx context.Context, userID, block string)

// Debouncer emits one consolidated flush per user after a fixed quiet
// window. At most one flush per user is outstanding; messages buffered
// while a flush runs are picked up by a follow-up flush.
type Debouncer struct {
	sessions *Registry
	window   time.Duration
	batch    int
	after    AfterFunc
	flush    FlushFunc
	logger   *slog.Logger

	inflight sync.WaitGroup
}

// NewDebouncer creates a debouncer over sessions. after defaults to
// time.AfterFunc.
func NewDebouncer(sessions *Registry, window time.Duration, batch int, after AfterFunc, flush FlushFunc, logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = slog.Default()
	}
	if after == nil {
		after = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if batch <= 0 {
		batch = 5
	}
	return &Debouncer{
		sessions: sessions,
		window:   window,
		batch:    batch,
		after:    after,
		flush:    flush,
		logger:   logger.With("component", "debounce"),
	}
}

// Push buffers text for userID and arms a flush when none is outstanding.
// It reports whether a flush was armed.
func (d *Debouncer) Push(ctx context.Context, userID, text string) bool {
	if !d.sessions.Append(userID, text) {
		return false
	}
	d.arm(ctx, userID)
	return true
}

func (d *Debouncer) arm(ctx context.Context, userID string) {
	taskID := uuid.NewString()
	d.logger.Debug("flush armed", "user_id", userID, "task_id", taskID, "window", d.window)

	d.inflight.Add(1)
	d.after(d.window, func() {
		defer d.inflight.Done()
		d.fire(ctx, userID, taskID)
	})
}

func (d *Debouncer) fire(ctx context.Context, userID, taskID string) {
	// Runs after the recover below, so a panicking flush still releases.
	defer func() {
		if ctx.Err() != nil {
			return
		}
		if d.sessions.Release(userID) {
			d.arm(ctx, userID)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("flush panicked", "user_id", userID, "task_id", taskID,
				"panic", r, "stack", string(debug.Stack()))
		}
	}()

	if ctx.Err() != nil {
		d.logger.Debug("flush skipped, shutting down", "user_id", userID, "task_id", taskID)
		return
	}

	msgs := d.sessions.Drain(userID)
	if len(msgs) == 0 {
		d.logger.Debug("flush found empty buffer", "user_id", userID, "task_id", taskID)
		return
	}

	d.flush(ctx, userID, JoinLast(msgs, d.batch))
}

// Wait blocks until every armed flush has run.
func (d *Debouncer) Wait() {
	d.inflight.Wait()
}

// JoinLast joins the last n messages, oldest first, one per line.
func JoinLast(msgs []string, n int) string {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return strings.Join(msgs, "\n")
}
