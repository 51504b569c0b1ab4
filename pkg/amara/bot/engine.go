// Package bot is the per-user orchestration engine: it records every
// inbound message, evaluates the trigger policy and dispatches to the voice,
// admin, media or debounce paths. Delayed actions run as independent tasks
// that are never cancelled by later messages.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jholhewres/amara/pkg/amara/channels"
	"github.com/jholhewres/amara/pkg/amara/completion"
	"github.com/jholhewres/amara/pkg/amara/media"
	"github.com/jholhewres/amara/pkg/amara/tts"
)

// User-visible apologies.
const (
	msgVoiceUnavailable = "Sorry, I couldn't generate a voice note right now."
	msgVoiceSendFailed  = "Sorry, something went wrong while sending the voice note."
	msgNoMedia          = "Sorry, no images available right now 😔"
	msgBroadcastUsage   = "Usage: /broadcast <your message> [optional media]"
)

// Action is the outcome of trigger evaluation.
type Action int

const (
	ActionIgnore Action = iota
	ActionVoice
	ActionStats
	ActionBroadcast
	ActionMedia
	ActionBuffer
)

func (a Action) String() string {
	switch a {
	case ActionVoice:
		return "voice"
	case ActionStats:
		return "stats"
	case ActionBroadcast:
		return "broadcast"
	case ActionMedia:
		return "media"
	case ActionBuffer:
		return "buffer"
	default:
		return "ignore"
	}
}

// Decision is the classified action for one message. Milestone is only set
// alongside ActionBuffer and adds a media send after buffering.
type Decision struct {
	Action    Action
	Milestone bool
}

// Config tunes the trigger policy and its delays.
type Config struct {
	// Name is the persona name used in admin reports.
	Name string

	// AdminID is the only identity allowed to run admin commands.
	AdminID string

	QuietWindow time.Duration
	FlushBatch  int

	VoiceKeywords []string
	MediaKeywords []string

	// VoiceAt forces a voice reply at exactly this message count.
	VoiceAt int64
	// VoiceEvery forces a voice reply on every multiple of this count.
	VoiceEvery int64
	// MilestoneEvery adds a media send on every multiple of this count.
	MilestoneEvery int64

	VoiceDelay Latency
	MediaDelay Latency

	VoiceID string

	// BroadcastRate limits broadcast sends per second; zero disables pacing.
	BroadcastRate float64

	// ReportWindow is the trailing window for active-user counts.
	ReportWindow time.Duration

	// StageDir holds synthesized audio until it is sent.
	StageDir string
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		Name:           "Amara",
		QuietWindow:    60 * time.Second,
		FlushBatch:     5,
		VoiceKeywords:  []string{"voice", "vn", "voicenote"},
		MediaKeywords:  []string{"send pic", "pic", "show me", "picture", "photo"},
		VoiceAt:        2,
		VoiceEvery:     7,
		MilestoneEvery: 20,
		VoiceDelay:     Latency{Min: 60 * time.Second, Max: 180 * time.Second},
		MediaDelay:     Latency{Min: 15 * time.Second, Max: 45 * time.Second},
		BroadcastRate:  20,
		ReportWindow:   24 * time.Hour,
	}
}

// Store is the durable state the engine writes and reads.
type Store interface {
	IncrementMessageCount(ctx context.Context, userID string) (int64, error)
	RecordInteraction(ctx context.Context, userID string, at time.Time) error
	ActiveUsers(ctx context.Context, since time.Time) (int, error)
	PruneInteractions(ctx context.Context, before time.Time) (int64, error)
	KnownUsers(ctx context.Context) ([]string, error)
}

// Completer produces a reply and persists the exchange.
type Completer interface {
	Complete(ctx context.Context, userID, text string) completion.Reply
}

// MediaPicker selects photos and records media-source posts.
type MediaPicker interface {
	Pick(ctx context.Context) (media.Item, error)
	Record(ctx context.Context, msg *channels.IncomingMessage) bool
}

// Deps are the engine collaborators. Channel, Store and Completer are
// required. The remaining hooks default to real time and randomness.
type Deps struct {
	Channel   channels.Channel
	Store     Store
	Completer Completer
	Speech    tts.Provider
	Media     MediaPicker
	Metrics   Metrics
	Logger    *slog.Logger

	AfterFunc AfterFunc
	Sleep     Sleeper
	Int64N    func(n int64) int64
	Now       func() time.Time
}

// Engine dispatches inbound messages.
type Engine struct {
	cfg       Config
	ch        channels.Channel
	store     Store
	completer Completer
	speech    tts.Provider
	media     MediaPicker
	metrics   Metrics
	logger    *slog.Logger

	sessions *Registry
	debounce *Debouncer
	limiter  *rate.Limiter

	sleep  Sleeper
	int64n func(n int64) int64
	now    func() time.Time

	tasks sync.WaitGroup
}

// New creates an engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Channel == nil || deps.Store == nil || deps.Completer == nil {
		return nil, errors.New("bot: channel, store and completer are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	if deps.Int64N == nil {
		deps.Int64N = defaultInt64N
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.ReportWindow <= 0 {
		cfg.ReportWindow = 24 * time.Hour
	}
	if cfg.Name == "" {
		cfg.Name = "Amara"
	}

	e := &Engine{
		cfg:       cfg,
		ch:        deps.Channel,
		store:     deps.Store,
		completer: deps.Completer,
		speech:    deps.Speech,
		media:     deps.Media,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With("component", "bot"),
		sessions:  NewRegistry(),
		sleep:     deps.Sleep,
		int64n:    deps.Int64N,
		now:       deps.Now,
	}
	if cfg.BroadcastRate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.BroadcastRate), 1)
	}
	e.debounce = NewDebouncer(e.sessions, cfg.QuietWindow, cfg.FlushBatch, deps.AfterFunc, e.flush, deps.Logger)
	return e, nil
}

// Sessions exposes the session registry.
func (e *Engine) Sessions() *Registry { return e.sessions }

// Run consumes the channel until ctx ends or the channel closes.
func (e *Engine) Run(ctx context.Context) error {
	e.WarmUp(ctx)
	in := e.ch.Receive()
	e.logger.Info("dispatch loop started", "channel", e.ch.Name())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				e.logger.Info("channel closed, dispatch loop stopped")
				return nil
			}
			e.Handle(ctx, msg)
		}
	}
}

// WarmUp resolves the admin identity once so later sends do not pay for
// the lookup. Failure is only logged.
func (e *Engine) WarmUp(ctx context.Context) {
	if e.cfg.AdminID == "" {
		return
	}
	if _, err := channels.Resolve(ctx, e.ch, e.cfg.AdminID); err != nil {
		e.logger.Warn("admin identity could not be resolved", "admin_id", e.cfg.AdminID, "error", err)
		return
	}
	e.logger.Info("admin identity resolved", "admin_id", e.cfg.AdminID)
}

// Wait blocks until every delayed task and armed flush has finished.
func (e *Engine) Wait() {
	e.tasks.Wait()
	e.debounce.Wait()
}

// Handle records msg and dispatches it. It returns the decision taken.
func (e *Engine) Handle(ctx context.Context, msg *channels.IncomingMessage) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panicked", "panic", r, "stack", string(debug.Stack()))
			d = Decision{Action: ActionIgnore}
		}
	}()

	if msg == nil {
		return Decision{Action: ActionIgnore}
	}
	if msg.IsChannelPost {
		if e.media != nil {
			e.media.Record(ctx, msg)
		}
		return Decision{Action: ActionIgnore}
	}
	if msg.IsGroup {
		return Decision{Action: ActionIgnore}
	}
	userID := msg.From
	if userID == "" {
		e.logger.Warn("message without sender skipped", "msg_id", msg.ID)
		return Decision{Action: ActionIgnore}
	}

	e.metrics.MessageReceived(msg.Channel)
	text := strings.TrimSpace(msg.Content)

	count, err := e.store.IncrementMessageCount(ctx, userID)
	if err != nil {
		e.logger.Error("message count update failed", "user_id", userID, "error", err)
		count = 0
	}
	if err := e.store.RecordInteraction(ctx, userID, e.now()); err != nil {
		e.logger.Error("interaction log write failed", "user_id", userID, "error", err)
	}

	d = e.Classify(userID, text, count)
	e.metrics.TriggerFired(d.Action.String())
	e.logger.Debug("message classified", "user_id", userID, "count", count, "action", d.Action.String(), "milestone", d.Milestone)

	switch d.Action {
	case ActionVoice:
		e.spawn(ctx, "voice", userID, func(ctx context.Context) { e.voiceReply(ctx, userID, text) })

	case ActionStats:
		e.sendStats(ctx)

	case ActionBroadcast:
		e.startBroadcast(ctx, commandArgs(text, "/broadcast"), msg.Media)

	case ActionMedia:
		e.spawn(ctx, "media", userID, func(ctx context.Context) { e.delayedMedia(ctx, userID) })

	case ActionBuffer:
		if text != "" {
			e.debounce.Push(ctx, userID, text)
		}
		if d.Milestone {
			e.metrics.TriggerFired("milestone_media")
			e.spawn(ctx, "milestone_media", userID, func(ctx context.Context) { e.delayedMedia(ctx, userID) })
		}
	}
	return d
}

// Classify evaluates the trigger policy; the first matching rule wins.
func (e *Engine) Classify(userID, text string, count int64) Decision {
	lowered := strings.ToLower(text)
	isAdmin := e.cfg.AdminID != "" && userID == e.cfg.AdminID

	switch {
	case containsAny(lowered, e.cfg.VoiceKeywords),
		e.cfg.VoiceAt > 0 && count == e.cfg.VoiceAt,
		e.cfg.VoiceEvery > 0 && count > 0 && count%e.cfg.VoiceEvery == 0:
		return Decision{Action: ActionVoice}

	case isAdmin && strings.HasPrefix(text, "/stats"):
		return Decision{Action: ActionStats}

	case isAdmin && strings.HasPrefix(text, "/broadcast"):
		return Decision{Action: ActionBroadcast}

	case containsAny(lowered, e.cfg.MediaKeywords):
		return Decision{Action: ActionMedia}
	}

	milestone := e.cfg.MilestoneEvery > 0 && count > 0 && count%e.cfg.MilestoneEvery == 0
	return Decision{Action: ActionBuffer, Milestone: milestone}
}

// spawn runs fn as an independent task with panic isolation.
func (e *Engine) spawn(ctx context.Context, action, userID string, fn func(ctx context.Context)) {
	taskID := uuid.NewString()
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("task panicked", "action", action, "user_id", userID, "task_id", taskID,
					"panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn(ctx)
	}()
}

// flush is the debounce callback: one completion, one message.
func (e *Engine) flush(ctx context.Context, userID, block string) {
	reply := e.completer.Complete(ctx, userID, block)
	outcome := "sent"
	if reply.Fallback {
		e.metrics.CompletionFallback()
		outcome = "fallback"
	}
	if err := e.sendText(ctx, userID, "flush", reply.Text); err != nil {
		outcome = "send_failed"
	}
	e.metrics.FlushCompleted(outcome)
}

// voiceReply waits the voice delay, then answers text with a voice note.
func (e *Engine) voiceReply(ctx context.Context, userID, text string) {
	if err := e.sleep(ctx, e.cfg.VoiceDelay.Draw(e.int64n)); err != nil {
		return
	}
	reply := e.completer.Complete(ctx, userID, StripURLs(text))
	if reply.Fallback {
		e.metrics.CompletionFallback()
	}
	e.sendVoice(ctx, userID, reply.Text)
	e.sessions.Clear(userID)
}

// sendVoice synthesizes text and sends it as a voice note, falling back to
// an apology text. The staged audio file is always removed.
func (e *Engine) sendVoice(ctx context.Context, userID, text string) {
	to, err := channels.Resolve(ctx, e.ch, userID)
	if err != nil {
		e.logger.Error("resolving user failed", "user_id", userID, "action", "voice", "error", err)
		return
	}

	if e.speech == nil {
		err = errors.New("no speech provider configured")
	}
	var (
		audio []byte
		mime  string
	)
	if err == nil {
		audio, mime, err = e.speech.Synthesize(ctx, StripURLs(text), e.cfg.VoiceID)
	}
	if err != nil {
		e.metrics.SpeechFailed()
		e.logger.Error("speech synthesis failed", "user_id", userID, "action", "voice", "error", err)
		e.sendTo(ctx, to, userID, "voice_apology", msgVoiceUnavailable)
		return
	}

	path, err := tts.StageAudio(e.cfg.StageDir, audio, mime)
	if err != nil {
		e.logger.Error("staging audio failed", "user_id", userID, "action", "voice", "error", err)
		e.sendTo(ctx, to, userID, "voice_apology", msgVoiceSendFailed)
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("removing staged audio failed", "path", path, "error", err)
		}
	}()

	mc, ok := e.ch.(channels.MediaChannel)
	if !ok {
		err = channels.ErrMediaNotSupported
	} else {
		err = mc.SendMedia(ctx, to, &channels.MediaMessage{
			Type:     channels.MessageVoice,
			Path:     path,
			MimeType: mime,
		})
	}
	if err != nil {
		e.logger.Error("sending voice note failed", "user_id", userID, "action", "voice", "error", err)
		e.sendTo(ctx, to, userID, "voice_apology", msgVoiceSendFailed)
		return
	}
	e.logger.Info("voice note sent", "user_id", userID)
}

// delayedMedia waits the media delay, sends a random photo and clears the
// user's buffer.
func (e *Engine) delayedMedia(ctx context.Context, userID string) {
	if err := e.sleep(ctx, e.cfg.MediaDelay.Draw(e.int64n)); err != nil {
		return
	}
	e.sendRandomMedia(ctx, userID)
	e.sessions.Clear(userID)
}

func (e *Engine) sendRandomMedia(ctx context.Context, userID string) {
	to, err := channels.Resolve(ctx, e.ch, userID)
	if err != nil {
		e.logger.Error("resolving user failed", "user_id", userID, "action", "media", "error", err)
		return
	}

	var item media.Item
	if e.media == nil {
		err = media.ErrNoMedia
	} else {
		item, err = e.media.Pick(ctx)
	}
	if err != nil {
		if errors.Is(err, media.ErrNoMedia) {
			e.sendTo(ctx, to, userID, "media", msgNoMedia)
		} else {
			e.logger.Error("picking media failed", "user_id", userID, "action", "media", "error", err)
		}
		return
	}

	mc, ok := e.ch.(channels.MediaChannel)
	if !ok {
		e.logger.Error("sending media failed", "user_id", userID, "action", "media", "error", channels.ErrMediaNotSupported)
		return
	}
	if err := mc.SendMedia(ctx, to, &channels.MediaMessage{
		Type:     channels.MessageImage,
		Ref:      item.Ref,
		MimeType: item.MimeType,
		Caption:  item.Caption,
	}); err != nil {
		e.logger.Error("sending media failed", "user_id", userID, "action", "media", "error", err)
	}
}

// sendText resolves userID and sends text. Errors are logged and returned.
func (e *Engine) sendText(ctx context.Context, userID, action, text string) error {
	to, err := channels.Resolve(ctx, e.ch, userID)
	if err != nil {
		e.logger.Error("resolving user failed", "user_id", userID, "action", action, "error", err)
		return err
	}
	return e.sendTo(ctx, to, userID, action, text)
}

func (e *Engine) sendTo(ctx context.Context, to, userID, action, text string) error {
	if err := e.ch.Send(ctx, to, &channels.OutgoingMessage{Content: text}); err != nil {
		e.logger.Error("send failed", "user_id", userID, "action", action, "error", err)
		return fmt.Errorf("bot: %s: %w", action, err)
	}
	return nil
}
