// Package console implements a local terminal channel. Each input line is
// delivered as a private message from a fixed user, and replies are printed
// back, so the whole engine can be driven without a chat platform.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/jholhewres/amara/pkg/amara/channels"
)

// Config holds console channel configuration.
type Config struct {
	// UserID is the identity every typed line is attributed to.
	UserID string

	// UserName is the display name of that user.
	UserName string

	// BotName prefixes printed replies.
	BotName string

	// HistoryFile persists readline history (interactive mode only).
	HistoryFile string

	// In and Out default to stdin and stdout.
	In  io.Reader
	Out io.Writer
}

// Console implements channels.Channel and channels.MediaChannel.
type Console struct {
	cfg    Config
	logger *slog.Logger

	messages chan *channels.IncomingMessage
	out      io.Writer
	outMu    sync.Mutex

	rl *readline.Instance

	connected atomic.Bool
	lastMsg   atomic.Value // time.Time
	seq       atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a console channel.
func New(cfg Config, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UserID == "" {
		cfg.UserID = "console"
	}
	if cfg.BotName == "" {
		cfg.BotName = "bot"
	}
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &Console{
		cfg:      cfg,
		logger:   logger.With("component", "console"),
		messages: make(chan *channels.IncomingMessage, 16),
		out:      cfg.Out,
	}
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// Connect starts reading input lines. Interactive terminals get a readline
// prompt with history; pipes and files are read line by line.
func (c *Console) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)

	var next func() (string, error)
	if f, ok := c.cfg.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "you> ",
			HistoryFile:     c.cfg.HistoryFile,
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			c.cancel()
			return fmt.Errorf("%w: console: %v", channels.ErrConnectionFailed, err)
		}
		c.rl = rl
		c.out = rl.Stdout()
		next = rl.Readline
	} else {
		scanner := bufio.NewScanner(c.cfg.In)
		next = func() (string, error) {
			if scanner.Scan() {
				return scanner.Text(), nil
			}
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
	}

	c.connected.Store(true)
	c.done = make(chan struct{})
	go c.readLoop(ctx, next)
	return nil
}

// readLoop forwards lines until EOF, interrupt or cancellation, then closes
// the message channel.
func (c *Console) readLoop(ctx context.Context, next func() (string, error)) {
	defer close(c.done)
	defer close(c.messages)

	for {
		line, err := next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, readline.ErrInterrupt) {
				c.logger.Warn("console: read error", "error", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		msg := &channels.IncomingMessage{
			ID:        fmt.Sprintf("console-%d", c.seq.Add(1)),
			Channel:   "console",
			From:      c.cfg.UserID,
			FromName:  c.cfg.UserName,
			ChatID:    c.cfg.UserID,
			Type:      channels.MessageText,
			Content:   line,
			Timestamp: time.Now(),
		}
		c.lastMsg.Store(msg.Timestamp)

		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Disconnect stops the read loop.
func (c *Console) Disconnect() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.rl != nil {
		_ = c.rl.Close()
	}
	c.connected.Store(false)
	return nil
}

// Done is closed once input is exhausted.
func (c *Console) Done() <-chan struct{} { return c.done }

// Send prints a text reply.
func (c *Console) Send(_ context.Context, to string, message *channels.OutgoingMessage) error {
	if !c.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	return c.printf("%s → %s: %s\n", c.cfg.BotName, to, message.Content)
}

// SendMedia prints a placeholder for the media item.
func (c *Console) SendMedia(_ context.Context, to string, media *channels.MediaMessage) error {
	if !c.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	src := media.Ref
	switch {
	case media.Path != "":
		src = media.Path
	case len(media.Data) > 0:
		src = fmt.Sprintf("%d bytes", len(media.Data))
	}
	line := fmt.Sprintf("%s → %s: [%s %s]", c.cfg.BotName, to, media.Type, src)
	if media.Caption != "" {
		line += " " + media.Caption
	}
	return c.printf("%s\n", line)
}

func (c *Console) printf(format string, args ...any) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintf(c.out, format, args...)
	return err
}

// Receive returns the incoming messages channel.
func (c *Console) Receive() <-chan *channels.IncomingMessage { return c.messages }

// IsConnected reports whether input is being read.
func (c *Console) IsConnected() bool { return c.connected.Load() }

// Health returns the channel health status.
func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{Connected: c.connected.Load(), LastMessageAt: lastAt}
}

var (
	_ channels.Channel      = (*Console)(nil)
	_ channels.MediaChannel = (*Console)(nil)
)
