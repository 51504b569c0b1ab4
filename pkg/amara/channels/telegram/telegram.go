// Package telegram implements the Telegram channel for Amara using the
// Telegram Bot API directly via HTTP.
//
// Features:
//   - Long polling for updates (getUpdates)
//   - Send text, photos, voice notes and documents (by file_id, bytes or
//     local file)
//   - Group vs private detection
//   - Photo posts from a broadcast channel surfaced as channel posts, so the
//     media catalog can be filled without reading channel history (bots
//     cannot)
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jholhewres/amara/pkg/amara/channels"
)

// DefaultAPIBaseURL is the public Bot API endpoint.
const DefaultAPIBaseURL = "https://api.telegram.org"

// Config holds Telegram channel configuration.
type Config struct {
	// Token is the Telegram Bot API token (from @BotFather).
	Token string `yaml:"token"`

	// APIBaseURL overrides the Bot API endpoint (local bot API servers, tests).
	APIBaseURL string `yaml:"api_base_url"`

	// PollTimeout is the long-polling timeout in seconds (default: 30).
	PollTimeout int `yaml:"poll_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		APIBaseURL:  DefaultAPIBaseURL,
		PollTimeout: 30,
	}
}

// Telegram implements channels.Channel and channels.MediaChannel.
type Telegram struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	// baseURL is the Bot API method root (<api>/bot<token>).
	baseURL string

	// messages is the channel for incoming messages forwarded to the engine.
	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// offset is the last processed update ID + 1.
	offset int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new Telegram channel instance.
func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	return &Telegram{
		cfg:    cfg,
		logger: logger.With("component", "telegram"),
		// Long polls hold the request open for PollTimeout seconds.
		client:   &http.Client{Timeout: time.Duration(cfg.PollTimeout+30) * time.Second},
		baseURL:  strings.TrimRight(cfg.APIBaseURL, "/") + "/bot" + cfg.Token,
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect verifies the token and starts the long-polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	if t.connected.Load() {
		return nil
	}

	t.ctx, t.cancel = context.WithCancel(ctx)

	me, err := t.getMe(t.ctx)
	if err != nil {
		t.cancel()
		return fmt.Errorf("%w: telegram: verifying token: %v", channels.ErrConnectionFailed, err)
	}
	t.logger.Info("telegram: connected", "bot", me.Username, "id", me.ID)
	t.connected.Store(true)

	t.done = make(chan struct{})
	go t.pollLoop()
	return nil
}

// Disconnect stops the polling loop and waits for it to exit.
func (t *Telegram) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.done != nil {
		<-t.done
	}
	t.connected.Store(false)
	t.logger.Info("telegram: disconnected")
	return nil
}

// Send sends a text message to the specified chat.
func (t *Telegram) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	chatID, err := parseChatID(to)
	if err != nil {
		return err
	}
	_, err = t.apiCall(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    message.Content,
	})
	return err
}

// Receive returns the incoming messages channel.
func (t *Telegram) Receive() <-chan *channels.IncomingMessage {
	return t.messages
}

// IsConnected returns true if the bot is connected.
func (t *Telegram) IsConnected() bool { return t.connected.Load() }

// Health returns the channel health status.
func (t *Telegram) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
	}
}

// ---------- MediaChannel Interface ----------

// SendMedia sends a photo, voice note or document to the specified chat.
func (t *Telegram) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	chatID, err := parseChatID(to)
	if err != nil {
		return err
	}

	method, field := methodFor(media.Type)

	// Media already on Telegram's servers is re-sent by file_id.
	if media.Ref != "" {
		payload := map[string]any{
			"chat_id": chatID,
			field:     media.Ref,
		}
		if media.Caption != "" {
			payload["caption"] = media.Caption
		}
		_, err = t.apiCall(ctx, method, payload)
		return err
	}

	return t.uploadFile(ctx, method, chatID, field, media)
}

// ---------- Internal Methods ----------

func methodFor(mt channels.MessageType) (method, field string) {
	switch mt {
	case channels.MessageImage:
		return "sendPhoto", "photo"
	case channels.MessageVoice:
		return "sendVoice", "voice"
	case channels.MessageAudio:
		return "sendAudio", "audio"
	case channels.MessageVideo:
		return "sendVideo", "video"
	default:
		return "sendDocument", "document"
	}
}

func parseChatID(to string) (int64, error) {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat ID %q: %w", to, err)
	}
	return chatID, nil
}

// pollLoop runs the getUpdates long-polling loop.
func (t *Telegram) pollLoop() {
	defer close(t.done)
	t.logger.Info("telegram: polling started")
	backoff := time.Second

	for {
		select {
		case <-t.ctx.Done():
			t.logger.Info("telegram: polling stopped")
			return
		default:
		}

		updates, err := t.getUpdates(t.ctx, t.offset, 100, t.cfg.PollTimeout)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.errorCount.Add(1)
			t.logger.Warn("telegram: getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		t.errorCount.Store(0)

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			t.processUpdate(u)
		}
	}
}

// processUpdate converts a Telegram update into an IncomingMessage.
func (t *Telegram) processUpdate(u tgUpdate) {
	incoming := convertUpdate(u)
	if incoming == nil {
		return
	}

	t.lastMsg.Store(time.Now())

	select {
	case t.messages <- incoming:
	case <-t.ctx.Done():
	}
}

// convertUpdate maps an update to an IncomingMessage, or nil for update
// kinds the bot does not handle.
func convertUpdate(u tgUpdate) *channels.IncomingMessage {
	msg := u.Message
	isPost := false
	if msg == nil && u.ChannelPost != nil {
		msg = u.ChannelPost
		isPost = true
	}
	if msg == nil {
		return nil
	}

	incoming := &channels.IncomingMessage{
		ID:            strconv.FormatInt(int64(msg.MessageID), 10),
		Channel:       "telegram",
		ChatID:        strconv.FormatInt(msg.Chat.ID, 10),
		IsGroup:       msg.Chat.Type == "group" || msg.Chat.Type == "supergroup",
		IsChannelPost: isPost,
		Type:          channels.MessageText,
		Content:       msg.Text,
		Timestamp:     time.Unix(int64(msg.Date), 0),
	}
	if msg.From != nil {
		incoming.From = strconv.FormatInt(msg.From.ID, 10)
		incoming.FromName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if incoming.FromName == "" {
			incoming.FromName = msg.From.Username
		}
	}

	// Media messages carry their text in the caption.
	if incoming.Content == "" && msg.Caption != "" {
		incoming.Content = msg.Caption
	}

	switch {
	case len(msg.Photo) > 0:
		// The last size is the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		incoming.Type = channels.MessageImage
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageImage,
			Ref:      photo.FileID,
			MimeType: "image/jpeg",
			FileSize: uint64(photo.FileSize),
		}
	case msg.Voice != nil:
		incoming.Type = channels.MessageVoice
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageVoice,
			Ref:      msg.Voice.FileID,
			MimeType: msg.Voice.MimeType,
			FileSize: uint64(msg.Voice.FileSize),
		}
	case msg.Video != nil:
		incoming.Type = channels.MessageVideo
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageVideo,
			Ref:      msg.Video.FileID,
			MimeType: msg.Video.MimeType,
			FileSize: uint64(msg.Video.FileSize),
		}
	case msg.Document != nil:
		incoming.Type = channels.MessageDocument
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageDocument,
			Ref:      msg.Document.FileID,
			MimeType: msg.Document.MimeType,
			FileSize: uint64(msg.Document.FileSize),
			Filename: msg.Document.FileName,
		}
	}

	return incoming
}

// ---------- Telegram Bot API Types ----------

type tgUpdate struct {
	UpdateID    int64      `json:"update_id"`
	Message     *tgMessage `json:"message"`
	ChannelPost *tgMessage `json:"channel_post"`
}

type tgMessage struct {
	MessageID int         `json:"message_id"`
	From      *tgUser     `json:"from"`
	Chat      tgChat      `json:"chat"`
	Date      int         `json:"date"`
	Text      string      `json:"text"`
	Caption   string      `json:"caption"`
	Photo     []tgPhoto   `json:"photo"`
	Voice     *tgFileMeta `json:"voice"`
	Video     *tgFileMeta `json:"video"`
	Document  *tgFileMeta `json:"document"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	IsBot     bool   `json:"is_bot"`
}

type tgChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"` // "private", "group", "supergroup", "channel"
	Title string `json:"title"`
}

type tgPhoto struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int    `json:"file_size"`
}

type tgFileMeta struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int    `json:"file_size"`
}

// ---------- API Helpers ----------

// apiCall makes a POST request to the Telegram Bot API.
func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	return decodeResult(method, resp.Body)
}

func decodeResult(method string, r io.Reader) (json.RawMessage, error) {
	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("%w: telegram: %s: %s", channels.ErrSendFailed, method, result.Description)
	}
	return result.Result, nil
}

// getMe verifies the bot token and returns bot info.
func (t *Telegram) getMe(ctx context.Context) (*tgUser, error) {
	data, err := t.apiCall(ctx, "getMe", map[string]any{})
	if err != nil {
		return nil, err
	}
	var user tgUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &user, nil
}

// getUpdates fetches new updates using long polling.
func (t *Telegram) getUpdates(ctx context.Context, offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	data, err := t.apiCall(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message", "channel_post"},
	})
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

// uploadFile uploads bytes or a local file using multipart form data.
// Local files are streamed through a pipe instead of being read into memory.
func (t *Telegram) uploadFile(ctx context.Context, method string, chatID int64, field string, media *channels.MediaMessage) error {
	var src io.Reader
	filename := media.Filename
	switch {
	case media.Path != "":
		f, err := os.Open(media.Path)
		if err != nil {
			return fmt.Errorf("telegram: opening %s: %w", media.Path, err)
		}
		defer f.Close()
		src = f
		if filename == "" {
			filename = filepath.Base(media.Path)
		}
	case len(media.Data) > 0:
		src = bytes.NewReader(media.Data)
	default:
		return fmt.Errorf("telegram: media data is required for upload")
	}
	if filename == "" {
		filename = "file"
	}

	pr, pw := io.Pipe()
	w := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		_ = w.WriteField("chat_id", strconv.FormatInt(chatID, 10))
		if media.Caption != "" {
			_ = w.WriteField("caption", media.Caption)
		}
		part, err := w.CreateFormFile(field, filename)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, src); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if err := w.Close(); err != nil {
			_ = pw.CloseWithError(err)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, pr)
	if err != nil {
		_ = pr.Close()
		return fmt.Errorf("telegram: creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: upload failed: %w", err)
	}
	defer resp.Body.Close()

	_, err = decodeResult(method, resp.Body)
	return err
}

// Compile-time interface verification.
var (
	_ channels.Channel      = (*Telegram)(nil)
	_ channels.MediaChannel = (*Telegram)(nil)
)
