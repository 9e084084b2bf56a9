package stt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core/voice/capture"
)

// streamSession is the part of Session the source uses. Tests inject fakes.
type streamSession interface {
	SendAudio(data []byte) error
	Finalize() error
	Deltas() <-chan Delta
	Close() error
}

// AudioOpener opens a live audio stream, typically a microphone capture
// process, producing audio in the session's configured encoding.
type AudioOpener func(ctx context.Context) (io.ReadCloser, error)

// Source adapts a streaming transcription session to the capture
// machine's TranscriptionSource port: it pumps microphone audio into the
// socket and routes deltas to the machine's event callbacks.
type Source struct {
	cfg       Config
	openAudio AudioOpener
	dial      func(ctx context.Context, cfg Config) (streamSession, error)
	logger    *slog.Logger

	mu      sync.Mutex
	session streamSession
	audio   io.ReadCloser
	cancel  context.CancelFunc
}

// NewSource creates a transcription source for the given endpoint config.
func NewSource(cfg Config, openAudio AudioOpener, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		cfg:       cfg,
		openAudio: openAudio,
		logger:    logger,
		dial: func(ctx context.Context, cfg Config) (streamSession, error) {
			return Dial(ctx, cfg)
		},
	}
}

// Start opens the websocket and the audio stream for one listening
// session. Implements capture.TranscriptionSource.
func (s *Source) Start(ctx context.Context, language string, events capture.SourceEvents) error {
	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		return fmt.Errorf("stt source already started")
	}
	cfg := s.cfg
	cfg.Language = language
	ctx, cancel := context.WithCancel(ctx)

	sess, err := s.dial(ctx, cfg)
	if err != nil {
		cancel()
		s.mu.Unlock()
		return fmt.Errorf("start transcription: %w", err)
	}
	audio, err := s.openAudio(ctx)
	if err != nil {
		cancel()
		sess.Close()
		s.mu.Unlock()
		return fmt.Errorf("open audio: %w", err)
	}
	s.session = sess
	s.audio = audio
	s.cancel = cancel
	s.mu.Unlock()

	go s.pumpAudio(sess, audio, events)
	go s.routeDeltas(sess, events)
	return nil
}

// Stop ends the current session. Safe to call multiple times and from the
// capture machine's finish path.
func (s *Source) Stop() {
	s.mu.Lock()
	sess := s.session
	audio := s.audio
	cancel := s.cancel
	s.session = nil
	s.audio = nil
	s.cancel = nil
	s.mu.Unlock()

	if audio != nil {
		audio.Close()
	}
	if sess != nil {
		// Finalize flushes the tail of the utterance before close; best
		// effort because the socket may already be gone.
		_ = sess.Finalize()
		_ = sess.Close()
	}
	if cancel != nil {
		cancel()
	}
}

func (s *Source) pumpAudio(sess streamSession, audio io.ReadCloser, events capture.SourceEvents) {
	buf := make([]byte, 4096) // ~128ms at 16kHz 16-bit mono
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := sess.SendAudio(buf[:n]); sendErr != nil {
				return
			}
		}
		if err == io.EOF {
			_ = sess.Finalize()
			return
		}
		if err != nil {
			s.logger.Debug("audio stream closed", "error", err)
			return
		}
	}
}

func (s *Source) routeDeltas(sess streamSession, events capture.SourceEvents) {
	for delta := range sess.Deltas() {
		switch {
		case delta.IsFinal && events.Final != nil:
			events.Final(delta.Text)
		case !delta.IsFinal && events.Partial != nil:
			events.Partial(delta.Text)
		}
	}
	if events.Ended != nil {
		events.Ended()
	}
}
