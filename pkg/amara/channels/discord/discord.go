// Package discord implements the Discord channel for Amara using discordgo.
//
// Features:
//   - Receive DMs and guild messages (guild messages are flagged as group)
//   - Send text, images, voice clips and documents as attachments
//   - Resolve a user ID to its DM channel
//   - List recent image attachments of a source channel for the media picker
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/amara/pkg/amara/channels"
)

// maxMessageLen is Discord's per-message character limit.
const maxMessageLen = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`
}

// sessionAPI is the subset of *discordgo.Session the channel uses.
type sessionAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// Discord implements channels.Channel, channels.MediaChannel,
// channels.Resolver and channels.PhotoSource.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	gateway *discordgo.Session
	api     sessionAPI

	// messages is the channel for incoming messages forwarded to the engine.
	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// httpClient downloads attachments referenced by URL.
	httpClient *http.Client

	// dmChannels caches user ID -> DM channel ID.
	dmChannels map[string]string
	mu         sync.RWMutex
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:        cfg,
		logger:     logger.With("component", "discord"),
		messages:   make(chan *channels.IncomingMessage, 256),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dmChannels: make(map[string]string),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("%w: discord: opening gateway: %v", channels.ErrConnectionFailed, err)
	}

	d.gateway = session
	d.api = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.gateway != nil {
		d.gateway.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Send sends a text message to the specified channel, split into chunks
// when it exceeds the per-message limit.
func (d *Discord) Send(_ context.Context, to string, message *channels.OutgoingMessage) error {
	if d.api == nil {
		return channels.ErrChannelDisconnected
	}
	for _, chunk := range splitDiscordMessage(message.Content, maxMessageLen) {
		if _, err := d.api.ChannelMessageSendComplex(to, &discordgo.MessageSend{Content: chunk}); err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("%w: discord: %v", channels.ErrSendFailed, err)
		}
	}
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

// ---------- MediaChannel Interface ----------

// SendMedia uploads a file attachment to the specified channel. Discord has
// no bot voice notes, so voice media is sent as an audio attachment.
func (d *Discord) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	if d.api == nil {
		return channels.ErrChannelDisconnected
	}

	reader, filename, err := d.openMedia(ctx, media)
	if err != nil {
		return err
	}
	if c, ok := reader.(io.Closer); ok {
		defer c.Close()
	}

	msgSend := &discordgo.MessageSend{
		Content: media.Caption,
		Files: []*discordgo.File{
			{Name: filename, ContentType: media.MimeType, Reader: reader},
		},
	}
	if _, err := d.api.ChannelMessageSendComplex(to, msgSend); err != nil {
		d.errorCount.Add(1)
		return fmt.Errorf("%w: discord: %v", channels.ErrSendFailed, err)
	}
	return nil
}

// openMedia returns a reader over the media payload and its upload name.
func (d *Discord) openMedia(ctx context.Context, media *channels.MediaMessage) (io.Reader, string, error) {
	filename := media.Filename
	switch {
	case len(media.Data) > 0:
		if filename == "" {
			filename = defaultFilename(media.Type)
		}
		return bytes.NewReader(media.Data), filename, nil

	case media.Path != "":
		f, err := os.Open(media.Path)
		if err != nil {
			return nil, "", fmt.Errorf("discord: opening %s: %w", media.Path, err)
		}
		if filename == "" {
			filename = filepath.Base(media.Path)
		}
		return f, filename, nil

	case media.Ref != "":
		// Refs are attachment URLs; download and re-upload.
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, media.Ref, nil)
		if err != nil {
			return nil, "", fmt.Errorf("discord: download media: %w", err)
		}
		resp, err := d.httpClient.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("discord: download media: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, "", fmt.Errorf("discord: download media: status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", fmt.Errorf("discord: reading media: %w", err)
		}
		if filename == "" {
			filename = filenameFromURL(media.Ref, media.Type)
		}
		return bytes.NewReader(data), filename, nil
	}
	return nil, "", fmt.Errorf("discord: no media data, path or ref")
}

// ---------- Resolver Interface ----------

// ResolveUser returns the DM channel ID for a user, creating it on first use.
func (d *Discord) ResolveUser(_ context.Context, userID string) (string, error) {
	if userID == "" {
		return "", channels.ErrUnknownUser
	}
	if d.api == nil {
		return "", channels.ErrChannelDisconnected
	}

	d.mu.RLock()
	id, ok := d.dmChannels[userID]
	d.mu.RUnlock()
	if ok {
		return id, nil
	}

	ch, err := d.api.UserChannelCreate(userID)
	if err != nil {
		return "", fmt.Errorf("%w: discord: %s: %v", channels.ErrUnknownUser, userID, err)
	}

	d.mu.Lock()
	d.dmChannels[userID] = ch.ID
	d.mu.Unlock()
	return ch.ID, nil
}

// ---------- PhotoSource Interface ----------

// RecentPhotos returns image attachments from the latest messages of
// sourceID, newest first. Discord caps a history page at 100 messages.
func (d *Discord) RecentPhotos(_ context.Context, sourceID string, limit int) ([]channels.MediaRef, error) {
	if d.api == nil {
		return nil, channels.ErrChannelDisconnected
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	msgs, err := d.api.ChannelMessages(sourceID, limit, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("discord: reading history of %s: %w", sourceID, err)
	}

	var refs []channels.MediaRef
	for _, m := range msgs {
		for _, att := range m.Attachments {
			if inferMediaType(att.ContentType) != channels.MessageImage {
				continue
			}
			refs = append(refs, channels.MediaRef{
				Ref:      att.URL,
				MimeType: att.ContentType,
				PostedAt: m.Timestamp,
			})
		}
	}
	return refs, nil
}

// ---------- Event Handlers ----------

// onMessageCreate handles incoming Discord messages.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	incoming := convertMessage(m.Message, s.State.User.ID)
	if incoming == nil {
		return
	}

	d.lastMsg.Store(time.Now())
	d.errorCount.Store(0)

	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

// convertMessage maps a Discord message to an IncomingMessage, or nil for
// messages written by bots (including this one).
func convertMessage(m *discordgo.Message, botID string) *channels.IncomingMessage {
	if m == nil || m.Author == nil || m.Author.ID == botID || m.Author.Bot {
		return nil
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		IsGroup:   m.GuildID != "",
		Type:      channels.MessageText,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}

	if len(m.Attachments) > 0 {
		att := m.Attachments[0]
		mediaType := inferMediaType(att.ContentType)
		incoming.Type = mediaType
		incoming.Media = &channels.MediaInfo{
			Type:     mediaType,
			Ref:      att.URL,
			MimeType: att.ContentType,
			FileSize: uint64(att.Size),
			Filename: att.Filename,
		}
	}
	return incoming
}

// ---------- Helpers ----------

// inferMediaType maps MIME types to message types.
func inferMediaType(contentType string) channels.MessageType {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return channels.MessageImage
	case strings.HasPrefix(ct, "audio/"):
		return channels.MessageAudio
	case strings.HasPrefix(ct, "video/"):
		return channels.MessageVideo
	default:
		return channels.MessageDocument
	}
}

func defaultFilename(mt channels.MessageType) string {
	switch mt {
	case channels.MessageImage:
		return "image.jpg"
	case channels.MessageVoice, channels.MessageAudio:
		return "voice.mp3"
	default:
		return "file"
	}
}

func filenameFromURL(rawURL string, mt channels.MessageType) string {
	name := rawURL
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return defaultFilename(mt)
	}
	return name
}

// splitDiscordMessage splits a message into chunks respecting maxLen.
func splitDiscordMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		// Prefer a newline in the second half of the window.
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// Compile-time interface verification.
var (
	_ channels.Channel      = (*Discord)(nil)
	_ channels.MediaChannel = (*Discord)(nil)
	_ channels.Resolver     = (*Discord)(nil)
	_ channels.PhotoSource  = (*Discord)(nil)
)
