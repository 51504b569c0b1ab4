package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jholhewres/amara/pkg/amara/channels"
)

type recordedCall struct {
	method      string
	contentType string
	json        map[string]any
	form        map[string]string
	fileField   string
	fileBody    string
}

type fakeBotAPI struct {
	mu    sync.Mutex
	calls []recordedCall
	fail  map[string]string
}

func (f *fakeBotAPI) handler(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	call := recordedCall{method: method, contentType: r.Header.Get("Content-Type")}

	if strings.HasPrefix(call.contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			call.form = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				call.form[k] = v[0]
			}
			for k, fhs := range r.MultipartForm.File {
				f, _ := fhs[0].Open()
				b, _ := io.ReadAll(f)
				f.Close()
				call.fileField = k
				call.fileBody = string(b)
			}
		}
	} else {
		_ = json.NewDecoder(r.Body).Decode(&call.json)
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	desc, failing := f.fail[method]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if failing {
		_, _ = io.WriteString(w, `{"ok":false,"description":"`+desc+`"}`)
		return
	}
	if method == "getMe" {
		_, _ = io.WriteString(w, `{"ok":true,"result":{"id":7,"username":"amara_bot","is_bot":true}}`)
		return
	}
	_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
}

func (f *fakeBotAPI) last() recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestTelegram(t *testing.T, api *fakeBotAPI) *Telegram {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)

	tg := New(Config{Token: "123:abc", APIBaseURL: srv.URL}, nil)
	tg.connected.Store(true)
	return tg
}

func TestNew(t *testing.T) {
	t.Parallel()

	tg := New(Config{Token: "t"}, nil)
	if tg.Name() != "telegram" {
		t.Errorf("expected name 'telegram', got %s", tg.Name())
	}
	if tg.cfg.PollTimeout != 30 {
		t.Errorf("expected default poll timeout 30, got %d", tg.cfg.PollTimeout)
	}
	if tg.baseURL != DefaultAPIBaseURL+"/bott" {
		t.Errorf("unexpected base URL %q", tg.baseURL)
	}
	if tg.IsConnected() {
		t.Error("expected new instance to be disconnected")
	}
}

func TestConnectRequiresToken(t *testing.T) {
	t.Parallel()

	tg := New(Config{}, nil)
	if err := tg.Connect(context.Background()); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	t.Parallel()

	tg := New(Config{Token: "t"}, nil)
	err := tg.Send(context.Background(), "1", &channels.OutgoingMessage{Content: "hi"})
	if !errors.Is(err, channels.ErrChannelDisconnected) {
		t.Fatalf("expected ErrChannelDisconnected, got %v", err)
	}
}

func TestSendText(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{}
	tg := newTestTelegram(t, api)

	if err := tg.Send(context.Background(), "42", &channels.OutgoingMessage{Content: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	call := api.last()
	if call.method != "sendMessage" {
		t.Fatalf("expected sendMessage, got %s", call.method)
	}
	if call.json["chat_id"] != float64(42) || call.json["text"] != "hello" {
		t.Errorf("unexpected payload %v", call.json)
	}
}

func TestSendInvalidChatID(t *testing.T) {
	t.Parallel()

	tg := newTestTelegram(t, &fakeBotAPI{})
	if err := tg.Send(context.Background(), "not-a-number", &channels.OutgoingMessage{Content: "x"}); err == nil {
		t.Fatal("expected error for invalid chat ID")
	}
}

func TestSendAPIFailure(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{fail: map[string]string{"sendMessage": "Forbidden: bot was blocked by the user"}}
	tg := newTestTelegram(t, api)

	err := tg.Send(context.Background(), "42", &channels.OutgoingMessage{Content: "hi"})
	if !errors.Is(err, channels.ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "blocked") {
		t.Errorf("expected description in error, got %v", err)
	}
}

func TestSendMediaByRef(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{}
	tg := newTestTelegram(t, api)

	err := tg.SendMedia(context.Background(), "42", &channels.MediaMessage{
		Type:    channels.MessageImage,
		Ref:     "AgACAgQ",
		Caption: "Miss me? 😘",
	})
	if err != nil {
		t.Fatalf("send media: %v", err)
	}
	call := api.last()
	if call.method != "sendPhoto" {
		t.Fatalf("expected sendPhoto, got %s", call.method)
	}
	if call.json["photo"] != "AgACAgQ" || call.json["caption"] != "Miss me? 😘" {
		t.Errorf("unexpected payload %v", call.json)
	}
}

func TestSendMediaUploadsFile(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{}
	tg := newTestTelegram(t, api)

	path := filepath.Join(t.TempDir(), "note.mp3")
	if err := os.WriteFile(path, []byte("ID3audio"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := tg.SendMedia(context.Background(), "42", &channels.MediaMessage{
		Type: channels.MessageVoice,
		Path: path,
	})
	if err != nil {
		t.Fatalf("send voice: %v", err)
	}
	call := api.last()
	if call.method != "sendVoice" {
		t.Fatalf("expected sendVoice, got %s", call.method)
	}
	if call.fileField != "voice" || call.fileBody != "ID3audio" {
		t.Errorf("unexpected upload field=%q body=%q", call.fileField, call.fileBody)
	}
	if call.form["chat_id"] != "42" {
		t.Errorf("expected chat_id 42, got %q", call.form["chat_id"])
	}
}

func TestSendMediaUploadsBytes(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{}
	tg := newTestTelegram(t, api)

	err := tg.SendMedia(context.Background(), "42", &channels.MediaMessage{
		Type:     channels.MessageDocument,
		Data:     []byte("report"),
		Filename: "report.txt",
		Caption:  "daily",
	})
	if err != nil {
		t.Fatalf("send document: %v", err)
	}
	call := api.last()
	if call.method != "sendDocument" || call.fileField != "document" {
		t.Fatalf("unexpected call %s field %s", call.method, call.fileField)
	}
	if call.form["caption"] != "daily" {
		t.Errorf("expected caption, got %q", call.form["caption"])
	}
}

func TestSendMediaRequiresSource(t *testing.T) {
	t.Parallel()

	tg := newTestTelegram(t, &fakeBotAPI{})
	err := tg.SendMedia(context.Background(), "42", &channels.MediaMessage{Type: channels.MessageImage})
	if err == nil {
		t.Fatal("expected error without Ref, Data or Path")
	}
}

func TestConvertUpdate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantNil bool
		check   func(t *testing.T, m *channels.IncomingMessage)
	}{
		{
			name: "private text",
			raw:  `{"update_id":1,"message":{"message_id":10,"from":{"id":99,"first_name":"Ana"},"chat":{"id":99,"type":"private"},"date":1700000000,"text":"hello"}}`,
			check: func(t *testing.T, m *channels.IncomingMessage) {
				if m.From != "99" || m.ChatID != "99" || m.Content != "hello" {
					t.Errorf("unexpected message %+v", m)
				}
				if m.IsGroup || m.IsChannelPost {
					t.Error("expected private message")
				}
				if m.FromName != "Ana" {
					t.Errorf("expected FromName Ana, got %q", m.FromName)
				}
			},
		},
		{
			name: "supergroup",
			raw:  `{"update_id":2,"message":{"message_id":11,"from":{"id":5},"chat":{"id":-100,"type":"supergroup"},"date":1700000000,"text":"hey"}}`,
			check: func(t *testing.T, m *channels.IncomingMessage) {
				if !m.IsGroup {
					t.Error("expected group message")
				}
			},
		},
		{
			name: "channel photo post",
			raw:  `{"update_id":3,"channel_post":{"message_id":12,"chat":{"id":-1001,"type":"channel"},"date":1700000000,"caption":"new","photo":[{"file_id":"small","file_size":10},{"file_id":"large","file_size":99}]}}`,
			check: func(t *testing.T, m *channels.IncomingMessage) {
				if !m.IsChannelPost {
					t.Error("expected channel post")
				}
				if m.From != "" {
					t.Errorf("channel posts have no sender, got %q", m.From)
				}
				if m.Type != channels.MessageImage || m.Media == nil || m.Media.Ref != "large" {
					t.Errorf("expected largest photo ref, got %+v", m.Media)
				}
				if m.Content != "new" {
					t.Errorf("expected caption as content, got %q", m.Content)
				}
			},
		},
		{
			name: "voice message",
			raw:  `{"update_id":4,"message":{"message_id":13,"from":{"id":5},"chat":{"id":5,"type":"private"},"date":1700000000,"voice":{"file_id":"v1","mime_type":"audio/ogg"}}}`,
			check: func(t *testing.T, m *channels.IncomingMessage) {
				if m.Type != channels.MessageVoice || m.Media.MimeType != "audio/ogg" {
					t.Errorf("unexpected voice message %+v", m)
				}
			},
		},
		{
			name:    "unsupported update",
			raw:     `{"update_id":5}`,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var u tgUpdate
			if err := json.Unmarshal([]byte(tt.raw), &u); err != nil {
				t.Fatal(err)
			}
			m := convertUpdate(u)
			if tt.wantNil {
				if m != nil {
					t.Fatalf("expected nil, got %+v", m)
				}
				return
			}
			if m == nil {
				t.Fatal("expected message")
			}
			tt.check(t, m)
		})
	}
}
