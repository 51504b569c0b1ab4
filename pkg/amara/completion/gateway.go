package completion

import (
	"context"
	"log/slog"

	"github.com/jholhewres/amara/pkg/amara/store"
)

const (
	// DefaultFallbackReply is sent and persisted when the backend fails.
	DefaultFallbackReply = "Sorry, something went wrong."

	// DefaultEmptyReply replaces a successful response without content.
	DefaultEmptyReply = "No response."

	// DefaultSystemPrompt is used when no persona instruction is configured.
	DefaultSystemPrompt = "You are a helpful assistant."
)

// TurnStore is the part of the store the gateway reads and writes.
type TurnStore interface {
	AppendTurns(ctx context.Context, turns ...store.Turn) error
	RecentTurns(ctx context.Context, userID string, limit int, skipFallback bool) ([]store.Turn, error)
}

// Options tunes the gateway.
type Options struct {
	SystemPrompt string
	Temperature  float32
	MaxTokens    int

	// HistoryTurns bounds how many stored turns precede the new one.
	HistoryTurns int

	FallbackReply string
	EmptyReply    string

	// SkipFallbackTurns keeps failed exchanges out of later context windows.
	// They are still persisted.
	SkipFallbackTurns bool
}

// DefaultOptions returns the stock sampling parameters.
func DefaultOptions() Options {
	return Options{
		SystemPrompt:  DefaultSystemPrompt,
		Temperature:   0.7,
		MaxTokens:     200,
		HistoryTurns:  5,
		FallbackReply: DefaultFallbackReply,
		EmptyReply:    DefaultEmptyReply,
	}
}

// Reply is the outcome of one exchange.
type Reply struct {
	Text string

	// Fallback is true when Text is the canned failure reply.
	Fallback bool

	// Err is the backend error behind a fallback.
	Err error
}

// Gateway is a stateless wrapper around a Backend that keeps the durable
// dialogue in sync. Safe for concurrent use.
type Gateway struct {
	backend Backend
	turns   TurnStore
	opts    Options
	logger  *slog.Logger
}

// NewGateway creates a gateway. Zero-valued options take their defaults.
func NewGateway(backend Backend, turns TurnStore, opts Options, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = def.SystemPrompt
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.HistoryTurns < 0 {
		opts.HistoryTurns = 0
	}
	if opts.FallbackReply == "" {
		opts.FallbackReply = def.FallbackReply
	}
	if opts.EmptyReply == "" {
		opts.EmptyReply = def.EmptyReply
	}
	return &Gateway{
		backend: backend,
		turns:   turns,
		opts:    opts,
		logger:  logger.With("component", "completion"),
	}
}

// Complete generates a reply to text on behalf of userID. It never fails:
// backend errors yield the fallback reply. Both the user turn and the reply
// are persisted, including fallbacks.
func (g *Gateway) Complete(ctx context.Context, userID, text string) Reply {
	history, err := g.turns.RecentTurns(ctx, userID, g.opts.HistoryTurns, g.opts.SkipFallbackTurns)
	if err != nil {
		g.logger.Warn("reading history failed, continuing without it", "user_id", userID, "error", err)
		history = nil
	}

	req := Request{
		System:      g.opts.SystemPrompt,
		User:        text,
		Temperature: g.opts.Temperature,
		MaxTokens:   g.opts.MaxTokens,
	}
	for _, t := range history {
		req.History = append(req.History, Message{Role: string(t.Role), Content: t.Content})
	}

	var reply Reply
	out, err := g.backend.Complete(ctx, req)
	switch {
	case err != nil:
		g.logger.Error("completion failed", "user_id", userID, "error", err)
		reply = Reply{Text: g.opts.FallbackReply, Fallback: true, Err: err}
	case out == "":
		reply = Reply{Text: g.opts.EmptyReply}
	default:
		reply = Reply{Text: out}
	}

	if err := g.turns.AppendTurns(ctx,
		store.Turn{UserID: userID, Role: store.RoleUser, Content: text, Fallback: reply.Fallback},
		store.Turn{UserID: userID, Role: store.RoleAssistant, Content: reply.Text, Fallback: reply.Fallback},
	); err != nil {
		g.logger.Error("persisting exchange failed", "user_id", userID, "error", err)
	}

	return reply
}
