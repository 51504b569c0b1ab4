// Package channels defines the interfaces and types for Amara communication
// channels. Each chat platform (Telegram, Discord, the local console)
// implements the Channel interface to receive and send messages in a unified
// way.
package channels

import (
	"context"
	"errors"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVoice    MessageType = "voice"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
)

// Channel defines the interface that every communication channel must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram", "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a text message to the specified recipient.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// MediaChannel extends Channel with media capabilities.
type MediaChannel interface {
	Channel

	// SendMedia sends a media message (photo, voice note, document).
	SendMedia(ctx context.Context, to string, media *MediaMessage) error
}

// Resolver maps a user identifier to a send target. Platforms where the
// private chat is addressed differently from the user (Discord DMs) open or
// look up that chat here.
type Resolver interface {
	ResolveUser(ctx context.Context, userID string) (string, error)
}

// PhotoSource lists recent photo-bearing posts of a source channel.
// Only platforms that can read channel history implement it.
type PhotoSource interface {
	RecentPhotos(ctx context.Context, sourceID string, limit int) ([]MediaRef, error)
}

// Resolve returns the send target for userID, using the channel's Resolver
// when it has one and the user id itself otherwise.
func Resolve(ctx context.Context, ch Channel, userID string) (string, error) {
	if r, ok := ch.(Resolver); ok {
		return r.ResolveUser(ctx, userID)
	}
	if userID == "" {
		return "", ErrUnknownUser
	}
	return userID, nil
}

// IncomingMessage represents a message received from any channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "telegram").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the group, DM or broadcast-channel identifier.
	ChatID string

	// IsGroup indicates whether the message is from a group chat.
	IsGroup bool

	// IsChannelPost marks posts published in a broadcast channel rather
	// than sent by a user.
	IsChannelPost bool

	// Type is the message content type.
	Type MessageType

	// Content is the text content (or caption) of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// Media contains media attachment details (if any).
	Media *MediaInfo
}

// OutgoingMessage represents a text message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string
}

// MediaMessage represents a media file to be sent.
// Exactly one of Ref, Data or Path must be set.
type MediaMessage struct {
	// Type is the media type (image, voice, document).
	Type MessageType

	// Ref points at media that already lives on the platform (a Telegram
	// file_id, a Discord attachment URL).
	Ref string

	// Data is the raw media bytes.
	Data []byte

	// Path is a local file to upload.
	Path string

	// MimeType is the MIME type (e.g. "image/jpeg", "audio/mpeg").
	MimeType string

	// Filename is the upload filename.
	Filename string

	// Caption is the text caption accompanying the media.
	Caption string
}

// MediaInfo describes media attached to an incoming message.
type MediaInfo struct {
	// Type is the media type.
	Type MessageType

	// Ref is the platform reference usable in MediaMessage.Ref.
	Ref string

	// MimeType is the MIME type of the media.
	MimeType string

	// Filename is the original filename (for documents).
	Filename string

	// FileSize is the size in bytes.
	FileSize uint64
}

// MediaRef is one photo found in a media source.
type MediaRef struct {
	Ref      string
	MimeType string
	PostedAt time.Time
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool           `json:"connected"`
	LastMessageAt time.Time      `json:"last_message_at"`
	ErrorCount    int            `json:"error_count"`
	Details       map[string]any `json:"details,omitempty"`
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrSendFailed          = errors.New("failed to send message")
	ErrConnectionFailed    = errors.New("failed to connect to channel")
	ErrMediaNotSupported   = errors.New("media not supported by this channel")
	ErrUnknownUser         = errors.New("user cannot be resolved")
)
