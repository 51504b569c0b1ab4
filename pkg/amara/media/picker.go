// Package media picks a random photo from the bot's media source and pairs
// it with a caption. Platforms that can read channel history list photos
// directly; otherwise photos posted to the source channel are recorded in a
// catalog as they arrive.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/jholhewres/amara/pkg/amara/channels"
	"github.com/jholhewres/amara/pkg/amara/store"
)

// ErrNoMedia is returned when the source holds no photos.
var ErrNoMedia = errors.New("media: no media available")

// DefaultScanLimit bounds how many recent photos are sampled from.
const DefaultScanLimit = 100

// DefaultCaptions accompany media sends.
var DefaultCaptions = []string{
	"Miss me? 😘",
	"Thought you'd like this one 😉",
	"Just for you, baby 😏",
	"Had to send you this one 😘",
	"You like what you see? 👀",
	"Only for you, don’t tell anyone 😉",
	"Bet you can't handle this 😏",
	"Couldn’t resist sharing this with you 😘",
	"A little something to keep you thinking about me 😏",
	"Too hot to keep to myself 🔥",
	"You’re lucky I like you 😘",
	"This one’s special… just like you 😉",
	"One look and you'll be addicted 😏",
	"Feeling generous today 😘",
	"Hope this makes your day better 😉",
}

// Catalog stores photos seen in the media source.
type Catalog interface {
	AddMediaItem(ctx context.Context, item store.MediaItem) error
	RecentMediaItems(ctx context.Context, sourceID string, limit int) ([]store.MediaItem, error)
}

// Config configures a Picker.
type Config struct {
	// SourceID is the channel whose photos are sampled.
	SourceID  string
	ScanLimit int
	Captions  []string
}

// Item is a picked photo ready to send.
type Item struct {
	Ref      string
	MimeType string
	Caption  string
}

// Picker samples one photo from the media source.
type Picker struct {
	cfg     Config
	catalog Catalog
	source  channels.PhotoSource
	intn    func(n int) int
	logger  *slog.Logger
}

// NewPicker creates a picker. source may be nil, in which case the catalog
// is sampled.
func NewPicker(cfg Config, catalog Catalog, source channels.PhotoSource, logger *slog.Logger) *Picker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = DefaultScanLimit
	}
	if len(cfg.Captions) == 0 {
		cfg.Captions = DefaultCaptions
	}
	return &Picker{
		cfg:     cfg,
		catalog: catalog,
		source:  source,
		intn:    rand.Intn,
		logger:  logger.With("component", "media"),
	}
}

// Pick returns a random photo among the latest ScanLimit with a random caption.
func (p *Picker) Pick(ctx context.Context) (Item, error) {
	if p.cfg.SourceID == "" {
		return Item{}, ErrNoMedia
	}

	var refs []channels.MediaRef
	if p.source != nil {
		found, err := p.source.RecentPhotos(ctx, p.cfg.SourceID, p.cfg.ScanLimit)
		if err != nil {
			return Item{}, fmt.Errorf("media: listing source photos: %w", err)
		}
		refs = found
	} else if p.catalog != nil {
		items, err := p.catalog.RecentMediaItems(ctx, p.cfg.SourceID, p.cfg.ScanLimit)
		if err != nil {
			return Item{}, fmt.Errorf("media: reading catalog: %w", err)
		}
		for _, it := range items {
			refs = append(refs, channels.MediaRef{Ref: it.Ref, MimeType: it.MimeType, PostedAt: it.PostedAt})
		}
	}

	if len(refs) == 0 {
		return Item{}, ErrNoMedia
	}

	ref := refs[p.intn(len(refs))]
	return Item{Ref: ref.Ref, MimeType: ref.MimeType, Caption: p.Caption()}, nil
}

// Caption returns a random caption.
func (p *Picker) Caption() string {
	return p.cfg.Captions[p.intn(len(p.cfg.Captions))]
}

// Record adds a photo posted to the media source to the catalog. It
// reports whether msg was such a post.
func (p *Picker) Record(ctx context.Context, msg *channels.IncomingMessage) bool {
	if p.catalog == nil || p.cfg.SourceID == "" {
		return false
	}
	if !msg.IsChannelPost || msg.ChatID != p.cfg.SourceID {
		return false
	}
	if msg.Media == nil || msg.Media.Type != channels.MessageImage {
		return true
	}

	err := p.catalog.AddMediaItem(ctx, store.MediaItem{
		SourceID: p.cfg.SourceID,
		Ref:      msg.Media.Ref,
		MimeType: msg.Media.MimeType,
		PostedAt: msg.Timestamp,
	})
	if err != nil {
		p.logger.Warn("recording media item failed", "ref", msg.Media.Ref, "error", err)
	} else {
		p.logger.Debug("media item recorded", "ref", msg.Media.Ref)
	}
	return true
}
