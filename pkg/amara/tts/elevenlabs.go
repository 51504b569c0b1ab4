package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ElevenLabsConfig configures both ElevenLabs providers.
type ElevenLabsConfig struct {
	APIKey string

	// BaseURL is the REST endpoint (default https://api.elevenlabs.io).
	BaseURL string

	// WSBaseURL is the WebSocket endpoint (default wss://api.elevenlabs.io).
	WSBaseURL string

	ModelID         string
	Stability       float64
	SimilarityBoost float64
	OutputFormat    string
}

func (c ElevenLabsConfig) withDefaults() ElevenLabsConfig {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(c.WSBaseURL) == "" {
		c.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(c.ModelID) == "" {
		c.ModelID = "eleven_multilingual_v2"
	}
	if c.Stability <= 0 || c.Stability > 1 {
		c.Stability = 0.5
	}
	if c.SimilarityBoost <= 0 || c.SimilarityBoost > 1 {
		c.SimilarityBoost = 0.75
	}
	if strings.TrimSpace(c.OutputFormat) == "" {
		c.OutputFormat = "mp3_44100_128"
	}
	return c
}

func (c ElevenLabsConfig) voiceSettings() map[string]any {
	return map[string]any{
		"stability":        c.Stability,
		"similarity_boost": c.SimilarityBoost,
	}
}

// ============================================================
// ElevenLabs HTTP streaming provider
// ============================================================

// ElevenLabsProvider synthesizes via POST /v1/text-to-speech/{voice}/stream.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

// NewElevenLabsProvider creates an ElevenLabs HTTP provider.
func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		cfg:    cfg.withDefaults(),
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// Synthesize returns MP3 audio for text spoken by voice (an ElevenLabs voice ID).
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	if strings.TrimSpace(voice) == "" {
		return nil, "", fmt.Errorf("tts: elevenlabs voice_id is required")
	}

	body, err := json.Marshal(map[string]any{
		"text":           truncate(text),
		"model_id":       p.cfg.ModelID,
		"voice_settings": p.cfg.voiceSettings(),
	})
	if err != nil {
		return nil, "", fmt.Errorf("tts: marshal request: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voice) + "/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("tts: creating request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("tts: API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("tts: API returned %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("tts: reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, "", ErrEmptyAudio
	}
	return audio, "audio/mpeg", nil
}

// ============================================================
// ElevenLabs WebSocket stream-input provider
// ============================================================

// ElevenLabsStreamProvider synthesizes over the stream-input WebSocket,
// collecting base64 audio chunks until the final message.
type ElevenLabsStreamProvider struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

// NewElevenLabsStreamProvider creates a WebSocket provider.
func NewElevenLabsStreamProvider(cfg ElevenLabsConfig) *ElevenLabsStreamProvider {
	return &ElevenLabsStreamProvider{cfg: cfg.withDefaults(), dialer: websocket.DefaultDialer}
}

// Synthesize opens a stream, sends the whole text and gathers the audio.
func (p *ElevenLabsStreamProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	if strings.TrimSpace(voice) == "" {
		return nil, "", fmt.Errorf("tts: elevenlabs voice_id is required")
	}

	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voice) + "/stream-input")
	if err != nil {
		return nil, "", err
	}
	q := u.Query()
	q.Set("model_id", p.cfg.ModelID)
	q.Set("output_format", p.cfg.OutputFormat)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, _, err := p.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, "", fmt.Errorf("tts: dial websocket: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the context ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	// Prime the stream, send the text, then an empty text to flush.
	msgs := []map[string]any{
		{"text": " ", "voice_settings": p.cfg.voiceSettings()},
		{"text": truncate(text) + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, m := range msgs {
		if err := conn.WriteJSON(m); err != nil {
			return nil, "", fmt.Errorf("tts: websocket write: %w", err)
		}
	}

	var audio bytes.Buffer
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			// The server closes after the final chunk on some models.
			if audio.Len() > 0 && websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return nil, "", fmt.Errorf("tts: websocket read: %w", err)
		}

		var msg struct {
			Audio   string `json:"audio"`
			IsFinal bool   `json:"isFinal"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return nil, "", fmt.Errorf("tts: elevenlabs: %s", msg.Error)
		}
		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return nil, "", fmt.Errorf("tts: decoding audio chunk: %w", err)
			}
			audio.Write(chunk)
		}
		if msg.IsFinal {
			break
		}
	}

	if audio.Len() == 0 {
		return nil, "", ErrEmptyAudio
	}
	return audio.Bytes(), "audio/mpeg", nil
}

var (
	_ Provider = (*ElevenLabsProvider)(nil)
	_ Provider = (*ElevenLabsStreamProvider)(nil)
)
