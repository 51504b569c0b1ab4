package bot

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jholhewres/amara/pkg/amara/channels"
)

func noScheduledVoice(c *Config) {
	c.VoiceAt = 0
	c.VoiceEvery = 0
	c.MilestoneEvery = 0
}

func TestClassify(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	tests := []struct {
		name      string
		user      string
		text      string
		count     int64
		want      Action
		milestone bool
	}{
		{"plain text", "u1", "hello there", 1, ActionBuffer, false},
		{"voice keyword", "u1", "send me a Voice note", 1, ActionVoice, false},
		{"vn substring", "u1", "can i get a vn", 5, ActionVoice, false},
		{"second message", "u1", "hey", 2, ActionVoice, false},
		{"seventh message", "u1", "hey", 7, ActionVoice, false},
		{"multiple of seven", "u1", "hey", 14, ActionVoice, false},
		{"voice beats milestone", "u1", "hey", 140, ActionVoice, false},
		{"milestone", "u1", "hey", 20, ActionBuffer, true},
		{"milestone forty", "u1", "hey", 40, ActionBuffer, true},
		{"count unknown", "u1", "hey", 0, ActionBuffer, false},
		{"admin stats", "admin", "/stats", 3, ActionStats, false},
		{"admin broadcast", "admin", "/broadcast hi all", 3, ActionBroadcast, false},
		{"voice before admin", "admin", "/stats", 2, ActionVoice, false},
		{"non-admin stats", "u1", "/stats", 3, ActionBuffer, false},
		{"non-admin broadcast", "u1", "/broadcast hi", 3, ActionBuffer, false},
		{"media keyword", "u1", "Show me something", 3, ActionMedia, false},
		{"photo keyword", "u1", "nice photo", 3, ActionMedia, false},
		{"voice beats media", "u1", "send pic and voice", 3, ActionVoice, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := h.engine.Classify(tt.user, tt.text, tt.count)
			require.Equal(t, tt.want, got.Action)
			require.Equal(t, tt.milestone, got.Milestone)
		})
	}
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := New(DefaultConfig(), Deps{})
	require.Error(t, err)
}

func TestHandleCountsEveryMessage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	for i := 0; i < 10; i++ {
		h.send("u1", "message")
	}
	h.waitTasks()

	require.Equal(t, int64(10), h.store.counts["u1"])
	require.Len(t, h.store.interactions, 10)
}

func TestHandleIgnoresGroups(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	d := h.engine.Handle(context.Background(), &channels.IncomingMessage{
		From: "u1", ChatID: "-100", IsGroup: true, Content: "hello",
	})

	require.Equal(t, ActionIgnore, d.Action)
	require.Empty(t, h.store.counts)
	require.Empty(t, h.store.interactions)
	require.Zero(t, h.timers.count())
}

func TestHandleRecordsChannelPosts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	post := &channels.IncomingMessage{
		ChatID: "@photos", IsChannelPost: true, Type: channels.MessageImage,
		Media: &channels.MediaInfo{Type: channels.MessageImage, Ref: "file-1"},
	}
	d := h.engine.Handle(context.Background(), post)

	require.Equal(t, ActionIgnore, d.Action)
	require.Len(t, h.picker.recorded, 1)
	require.Empty(t, h.store.counts)
}

func TestHandleCountFailureStillBuffers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.store.countErr = errors.New("disk full")

	d := h.send("u1", "hello")
	require.Equal(t, ActionBuffer, d.Action)

	pending, scheduled := h.engine.Sessions().Snapshot("u1")
	require.Equal(t, []string{"hello"}, pending)
	require.True(t, scheduled)
}

func TestHandleEmptyTextNotBuffered(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noScheduledVoice)
	d := h.send("u1", "   ")

	require.Equal(t, ActionBuffer, d.Action)
	require.Equal(t, int64(1), h.store.counts["u1"])
	require.Zero(t, h.timers.count())
}

func TestFlushSendsLastFiveAsOneBlock(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noScheduledVoice)
	for _, m := range []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"} {
		h.send("u1", m)
	}
	require.Equal(t, 1, h.timers.count(), "only one flush may be outstanding")

	h.timers.fireAll()

	require.Equal(t, []string{"m3\nm4\nm5\nm6\nm7"}, h.completer.texts())
	require.Equal(t, []string{"hey you"}, h.ch.textsTo("u1"))

	pending, scheduled := h.engine.Sessions().Snapshot("u1")
	require.Empty(t, pending)
	require.False(t, scheduled)
}

func TestFlushRearmsForMessagesDuringCompletion(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noScheduledVoice)
	var once sync.Once
	h.completer.during = func() {
		once.Do(func() { h.send("u1", "late") })
	}

	h.send("u1", "first")
	h.timers.fireAll()

	require.Equal(t, []string{"first", "late"}, h.completer.texts())
	require.Len(t, h.ch.textsTo("u1"), 2)

	_, scheduled := h.engine.Sessions().Snapshot("u1")
	require.False(t, scheduled)
}

func TestFlushFallbackReplyIsSent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noScheduledVoice)
	h.completer.fallback = true

	h.send("u1", "hello")
	h.timers.fireAll()

	require.Equal(t, []string{"Sorry, something went wrong."}, h.ch.textsTo("u1"))
}

func TestFlushPanicReleasesSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noScheduledVoice)
	var once sync.Once
	h.completer.during = func() {
		once.Do(func() { panic("boom") })
	}

	h.send("u1", "first")
	h.timers.fireAll()

	_, scheduled := h.engine.Sessions().Snapshot("u1")
	require.False(t, scheduled)

	h.send("u1", "second")
	require.Equal(t, 1, h.timers.count())
	h.timers.fireAll()
	require.Equal(t, []string{"hey you"}, h.ch.textsTo("u1"))
}

func TestFlushSkippedAfterShutdown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noScheduledVoice)
	ctx, cancel := context.WithCancel(context.Background())
	h.engine.Handle(ctx, &channels.IncomingMessage{From: "u1", Content: "hello"})
	cancel()

	h.timers.fireAll()
	require.Empty(t, h.completer.texts())
}

func TestVoiceOnSecondMessage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.Equal(t, ActionBuffer, h.send("u1", "hello").Action)
	require.Equal(t, ActionVoice, h.send("u1", "how are you").Action)
	h.waitTasks()

	require.Equal(t, []string{"how are you"}, h.completer.texts())
	require.Equal(t, []string{"hey you"}, h.speech.texts)

	sent := h.ch.sentMedia()
	require.Len(t, sent, 1)
	require.Equal(t, channels.MessageVoice, sent[0].msg.Type)
	require.Equal(t, "audio/mpeg", sent[0].msg.MimeType)
	require.True(t, sent[0].fileExists, "audio must exist while sending")
	_, err := os.Stat(sent[0].msg.Path)
	require.True(t, os.IsNotExist(err), "staged audio must be removed")

	pending, _ := h.engine.Sessions().Snapshot("u1")
	require.Empty(t, pending)

	// The flush armed by the first message finds nothing to send.
	h.timers.fireAll()
	require.Len(t, h.completer.texts(), 1)
	require.Empty(t, h.ch.textsTo("u1"))

	require.Equal(t, []time.Duration{h.engine.cfg.VoiceDelay.Max}, h.sleepDurations())
}

func TestVoiceStripsURLs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.completer.reply = "look https://example.com now"
	h.send("u1", "voice please www.example.com/x")
	h.waitTasks()

	require.Equal(t, []string{"voice please "}, h.completer.texts())
	require.Equal(t, []string{"look  now"}, h.speech.texts)
}

func TestVoiceSynthesisFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.speech.err = errors.New("quota exceeded")
	h.send("u1", "voice")
	h.waitTasks()

	require.Equal(t, []string{msgVoiceUnavailable}, h.ch.textsTo("u1"))
	require.Empty(t, h.ch.sentMedia())
}

func TestVoiceSendFailureRemovesAudio(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.ch.failMedia = true
	h.send("u1", "voice")
	h.waitTasks()

	require.Equal(t, []string{msgVoiceSendFailed}, h.ch.textsTo("u1"))
	entries, err := os.ReadDir(h.engine.cfg.StageDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMediaKeywordSendsPhoto(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.store.counts["u1"] = 10

	require.Equal(t, ActionBuffer, h.send("u1", "hello").Action)
	require.Equal(t, ActionMedia, h.send("u1", "show me").Action)
	h.waitTasks()

	sent := h.ch.sentMedia()
	require.Len(t, sent, 1)
	require.Equal(t, channels.MessageImage, sent[0].msg.Type)
	require.Equal(t, "photo-1", sent[0].msg.Ref)
	require.Equal(t, "Miss me? 😘", sent[0].msg.Caption)
	require.Equal(t, []time.Duration{h.engine.cfg.MediaDelay.Max}, h.sleepDurations())

	pending, _ := h.engine.Sessions().Snapshot("u1")
	require.Empty(t, pending, "media path clears the buffer")

	h.timers.fireAll()
	require.Empty(t, h.completer.texts())
}

func TestMilestoneBuffersAndSendsPhoto(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.store.counts["u1"] = 19

	d := h.send("u1", "hi")
	require.Equal(t, ActionBuffer, d.Action)
	require.True(t, d.Milestone)
	require.Equal(t, 1, h.timers.count())
	h.waitTasks()

	require.Len(t, h.ch.sentMedia(), 1)
	pending, _ := h.engine.Sessions().Snapshot("u1")
	require.Empty(t, pending)
}

func TestNoMediaApology(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.picker.items = nil
	h.store.counts["u1"] = 10
	h.send("u1", "send pic")
	h.waitTasks()

	require.Equal(t, []string{msgNoMedia}, h.ch.textsTo("u1"))
}

func TestMediaPickerErrorIsOnlyLogged(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.picker.err = errors.New("api down")
	h.store.counts["u1"] = 10
	h.send("u1", "picture")
	h.waitTasks()

	require.Empty(t, h.ch.textsTo("u1"))
	require.Empty(t, h.ch.sentMedia())
}

func TestNoMediaWithoutPicker(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.engine.media = nil
	h.store.counts["u1"] = 10
	h.send("u1", "pic")
	h.waitTasks()

	require.Equal(t, []string{msgNoMedia}, h.ch.textsTo("u1"))
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noScheduledVoice)
	h.ch.in <- &channels.IncomingMessage{From: "u1", Content: "hello"}
	close(h.ch.in)

	require.NoError(t, h.engine.Run(context.Background()))
	require.Equal(t, int64(1), h.store.counts["u1"])
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, h.engine.Run(ctx), context.Canceled)
}
