package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/santa-voice-lab/internal/logging"
)

// SessionConfig is the session.update payload sent immediately on channel
// open. The audio formats and turn-detection settings are fixed; the caller
// supplies instructions and voice.
type SessionConfig struct {
	Instructions       string
	Voice              string
	TranscriptionModel string
}

// ClientConfig configures one realtime channel to the upstream provider.
type ClientConfig struct {
	BaseURL string // e.g. wss://api.openai.com/v1/realtime
	APIKey  string
	Model   string
}

// Client is a websocket channel to the upstream realtime API for one call.
// Inbound messages are delivered to the handler passed to Run; outbound
// payloads are serialized by an internal write lock so timers and event
// handlers never interleave frames.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens the realtime channel and sends the initial session
// configuration plus a warm greeting request, mirroring what the browser
// client does on datachannel open.
func Dial(ctx context.Context, cfg ClientConfig, sess SessionConfig, greeting string) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("realtime dial: %w", err)
	}

	c := &Client{conn: conn, closed: make(chan struct{})}
	if err := c.SendSessionUpdate(sess); err != nil {
		c.Close()
		return nil, err
	}
	if greeting != "" {
		if err := c.SendGreeting(sess.Voice, greeting); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// SendSessionUpdate pushes the persona instructions and audio settings. It
// is also re-sent periodically during long calls to guard against
// instruction drift.
func (c *Client) SendSessionUpdate(sess SessionConfig) error {
	payload := map[string]interface{}{
		"type": "session.update",
		"session": map[string]interface{}{
			"instructions":        sess.Instructions,
			"voice":               sess.Voice,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"turn_detection":      map[string]interface{}{"type": "server_vad", "threshold": 0.5},
			"input_audio_transcription": map[string]interface{}{
				"model": sess.TranscriptionModel,
			},
		},
	}
	return c.writeJSON(payload)
}

// SendGreeting asks the model to speak an opening line.
func (c *Client) SendGreeting(voice, greeting string) error {
	payload := map[string]interface{}{
		"type": "response.create",
		"response": map[string]interface{}{
			"modalities": []string{"text", "audio"},
			"voice":      voice,
			"input_text": greeting,
		},
	}
	return c.writeJSON(payload)
}

// SendResponsePrompt asks the model to produce a response following the
// given one-off instructions (style nudges, idle "still there?" prompts).
func (c *Client) SendResponsePrompt(instructions string) error {
	payload := map[string]interface{}{
		"type": "response.create",
		"response": map[string]interface{}{
			"instructions": instructions,
		},
	}
	return c.writeJSON(payload)
}

func (c *Client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("realtime write: %w", err)
	}
	return nil
}

// Run reads inbound messages until the channel closes or ctx is cancelled,
// delivering each raw message to handler. Run returns nil on a normal close.
func (c *Client) Run(ctx context.Context, handler func(raw []byte)) error {
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.closed:
		}
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("realtime read: %w", err)
		}
		handler(raw)
	}
}

// Close tears the channel down. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if err := c.conn.Close(); err != nil {
			logging.Debugw("realtime: close error", "err", err)
		}
	})
}
