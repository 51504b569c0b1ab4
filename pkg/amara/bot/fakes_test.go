package bot

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/amara/pkg/amara/channels"
	"github.com/jholhewres/amara/pkg/amara/completion"
	"github.com/jholhewres/amara/pkg/amara/media"
)

// ---------- channel ----------

type sentText struct {
	to   string
	text string
}

type sentMedia struct {
	to         string
	msg        channels.MediaMessage
	fileExists bool
}

type fakeChannel struct {
	mu        sync.Mutex
	texts     []sentText
	media     []sentMedia
	failTo    map[string]bool
	failMedia bool
	in        chan *channels.IncomingMessage
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{failTo: map[string]bool{}, in: make(chan *channels.IncomingMessage, 16)}
}

func (f *fakeChannel) Name() string                                   { return "fake" }
func (f *fakeChannel) Connect(context.Context) error                  { return nil }
func (f *fakeChannel) Disconnect() error                              { return nil }
func (f *fakeChannel) Receive() <-chan *channels.IncomingMessage      { return f.in }
func (f *fakeChannel) IsConnected() bool                              { return true }
func (f *fakeChannel) Health() channels.HealthStatus                  { return channels.HealthStatus{Connected: true} }

func (f *fakeChannel) Send(_ context.Context, to string, m *channels.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTo[to] {
		return channels.ErrSendFailed
	}
	f.texts = append(f.texts, sentText{to: to, text: m.Content})
	return nil
}

func (f *fakeChannel) SendMedia(_ context.Context, to string, m *channels.MediaMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMedia || f.failTo[to] {
		return channels.ErrSendFailed
	}
	exists := false
	if m.Path != "" {
		_, err := os.Stat(m.Path)
		exists = err == nil
	}
	f.media = append(f.media, sentMedia{to: to, msg: *m, fileExists: exists})
	return nil
}

func (f *fakeChannel) textsTo(to string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.texts {
		if s.to == to {
			out = append(out, s.text)
		}
	}
	return out
}

func (f *fakeChannel) sentMedia() []sentMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMedia(nil), f.media...)
}

// ---------- store ----------

type interaction struct {
	user string
	at   time.Time
}

type fakeStore struct {
	mu           sync.Mutex
	counts       map[string]int64
	interactions []interaction
	countErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: map[string]int64{}}
}

func (s *fakeStore) IncrementMessageCount(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	s.counts[userID]++
	return s.counts[userID], nil
}

func (s *fakeStore) RecordInteraction(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions = append(s.interactions, interaction{user: userID, at: at})
	return nil
}

func (s *fakeStore) ActiveUsers(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	for _, i := range s.interactions {
		if i.at.After(since) {
			seen[i.user] = true
		}
	}
	return len(seen), nil
}

func (s *fakeStore) PruneInteractions(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []interaction
	var pruned int64
	for _, i := range s.interactions {
		if i.at.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, i)
	}
	s.interactions = kept
	return pruned, nil
}

func (s *fakeStore) KnownUsers(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, i := range s.interactions {
		if !seen[i.user] {
			seen[i.user] = true
			out = append(out, i.user)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ---------- completer ----------

type completionCall struct {
	user string
	text string
}

type fakeCompleter struct {
	mu       sync.Mutex
	calls    []completionCall
	reply    string
	fallback bool
	during   func()
}

func (c *fakeCompleter) Complete(_ context.Context, userID, text string) completion.Reply {
	c.mu.Lock()
	c.calls = append(c.calls, completionCall{user: userID, text: text})
	during := c.during
	c.mu.Unlock()
	if during != nil {
		during()
	}
	if c.fallback {
		return completion.Reply{Text: completion.DefaultFallbackReply, Fallback: true, Err: errors.New("boom")}
	}
	return completion.Reply{Text: c.reply}
}

func (c *fakeCompleter) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, call := range c.calls {
		out = append(out, call.text)
	}
	return out
}

// ---------- speech ----------

type fakeSpeech struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (s *fakeSpeech) Synthesize(_ context.Context, text, _ string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	if s.err != nil {
		return nil, "", s.err
	}
	return []byte("ID3"), "audio/mpeg", nil
}

// ---------- media ----------

type fakePicker struct {
	items    []media.Item
	err      error
	recorded []*channels.IncomingMessage
}

func (p *fakePicker) Pick(context.Context) (media.Item, error) {
	if p.err != nil {
		return media.Item{}, p.err
	}
	if len(p.items) == 0 {
		return media.Item{}, media.ErrNoMedia
	}
	return p.items[0], nil
}

func (p *fakePicker) Record(_ context.Context, msg *channels.IncomingMessage) bool {
	p.recorded = append(p.recorded, msg)
	return true
}

// ---------- timers ----------

// fakeTimers captures deferred flushes so tests fire them explicitly.
type fakeTimers struct {
	mu      sync.Mutex
	pending []func()
}

func (t *fakeTimers) after(_ time.Duration, f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, f)
}

func (t *fakeTimers) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// fireAll runs every captured flush, including ones armed while firing.
func (t *fakeTimers) fireAll() {
	for {
		t.mu.Lock()
		if len(t.pending) == 0 {
			t.mu.Unlock()
			return
		}
		f := t.pending[0]
		t.pending = t.pending[1:]
		t.mu.Unlock()
		f()
	}
}

// ---------- harness ----------

type harness struct {
	engine    *Engine
	ch        *fakeChannel
	store     *fakeStore
	completer *fakeCompleter
	speech    *fakeSpeech
	picker    *fakePicker
	timers    *fakeTimers
	sleeps    []time.Duration
	sleepMu   sync.Mutex
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		ch:        newFakeChannel(),
		store:     newFakeStore(),
		completer: &fakeCompleter{reply: "hey you"},
		speech:    &fakeSpeech{},
		picker:    &fakePicker{items: []media.Item{{Ref: "photo-1", MimeType: "image/jpeg", Caption: "Miss me? 😘"}}},
		timers:    &fakeTimers{},
	}

	cfg := DefaultConfig()
	cfg.AdminID = "admin"
	cfg.BroadcastRate = 0
	cfg.StageDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}

	e, err := New(cfg, Deps{
		Channel:   h.ch,
		Store:     h.store,
		Completer: h.completer,
		Speech:    h.speech,
		Media:     h.picker,
		AfterFunc: h.timers.after,
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleepMu.Lock()
			h.sleeps = append(h.sleeps, d)
			h.sleepMu.Unlock()
			return nil
		},
		Int64N: func(n int64) int64 { return n - 1 },
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = e
	return h
}

func (h *harness) send(user, text string) Decision {
	return h.engine.Handle(context.Background(), &channels.IncomingMessage{
		Channel: "fake",
		From:    user,
		ChatID:  user,
		Type:    channels.MessageText,
		Content: text,
	})
}

// waitTasks waits for spawned voice, media and broadcast tasks. Captured
// flushes stay pending until fired.
func (h *harness) waitTasks() {
	h.engine.tasks.Wait()
}

func (h *harness) sleepDurations() []time.Duration {
	h.sleepMu.Lock()
	defer h.sleepMu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}
