// Package stt streams live audio to a transcription websocket and emits
// incremental transcript deltas.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Config describes one streaming transcription connection.
type Config struct {
	URL        string // websocket endpoint, e.g. wss://api.cartesia.ai/stt/websocket
	APIKey     string
	Model      string // default "ink-whisper"
	Language   string // ISO code, default "en"
	Encoding   string // default "pcm_s16le"
	SampleRate int    // default 16000
}

// Delta is one incremental transcript update.
type Delta struct {
	Text    string
	IsFinal bool
}

// Session is a live websocket transcription session. Audio goes in via
// SendAudio; transcript deltas come out of Deltas until the session ends.
type Session struct {
	conn    *websocket.Conn
	deltas  chan Delta
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	cancel  context.CancelFunc
	ctx     context.Context
}

// Dial opens a streaming transcription session.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	endpoint, err := buildURL(cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if cfg.APIKey != "" {
		headers.Set("X-API-Key", cfg.APIKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		conn:   conn,
		deltas: make(chan Delta, 100),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.readLoop()
	return s, nil
}

func buildURL(cfg Config) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse websocket URL: %w", err)
	}

	q := u.Query()
	model := cfg.Model
	if model == "" {
		model = "ink-whisper"
	}
	q.Set("model", model)

	language := cfg.Language
	if language == "" {
		language = "en"
	}
	q.Set("language", language)

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "pcm_s16le"
	}
	q.Set("encoding", encoding)

	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))

	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wireMessage struct {
	Type    string `json:"type"` // "transcript", "flush_done", "done", "error"
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Error   string `json:"error"`
}

func (s *Session) readLoop() {
	defer func() {
		close(s.deltas)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		delta, done := mapWireMessage(msg)
		if done {
			return
		}
		if delta == nil {
			continue
		}
		select {
		case s.deltas <- *delta:
		case <-s.ctx.Done():
			return
		}
	}
}

// mapWireMessage translates one socket message into an optional delta and
// a session-over flag.
func mapWireMessage(msg wireMessage) (*Delta, bool) {
	switch msg.Type {
	case "transcript":
		return &Delta{Text: msg.Text, IsFinal: msg.IsFinal}, false
	case "flush_done":
		return nil, false
	case "done", "error":
		return nil, true
	default:
		return nil, false
	}
}

// SendAudio sends raw audio in the configured encoding.
func (s *Session) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Finalize flushes buffered audio and asks the recognizer to finalize the
// pending transcript without closing the socket.
func (s *Session) Finalize() error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
}

// Deltas returns the transcript stream. It closes when the session ends.
func (s *Session) Deltas() <-chan Delta {
	return s.deltas
}

// Close terminates the session.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	err := s.conn.Close()
	<-s.done
	return err
}
