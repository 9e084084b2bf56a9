package capture

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// State is the capture machine's lifecycle position.
type State string

const (
	StateIdle            State = "idle"
	StateListening       State = "listening"
	StateDispatchPending State = "dispatch-pending"
	StateCoolingDown     State = "cooling-down"
)

// Config tunes the capture timers. Zero values take the defaults.
type Config struct {
	// SilenceWindow is how long to wait after the last finalized segment
	// before treating the utterance as complete.
	SilenceWindow time.Duration
	// MaxSession bounds one listening episode regardless of silence.
	MaxSession time.Duration
	// CoolDown blocks an immediate restart after any session end,
	// damping recognizer auto-restart loops.
	CoolDown time.Duration
}

const (
	defaultSilenceWindow = 4 * time.Second
	defaultMaxSession    = 60 * time.Second
	defaultCoolDown      = time.Second
)

func (c Config) withDefaults() Config {
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = defaultSilenceWindow
	}
	if c.MaxSession <= 0 {
		c.MaxSession = defaultMaxSession
	}
	if c.CoolDown <= 0 {
		c.CoolDown = defaultCoolDown
	}
	return c
}

// ErrBusy is returned by Start while a session is running or cooling down.
var ErrBusy = errors.New("capture: session already active or cooling down")

// Machine drives one listening session at a time over an injected
// TranscriptionSource and Clock.
type Machine struct {
	source   TranscriptionSource
	clock    Clock
	cfg      Config
	logger   *slog.Logger
	dispatch func(text string)
	partial  func(text string)

	mu       sync.Mutex
	state    State
	language string
	session  *session
}

// session is one continuous listening episode. done is the one-shot latch:
// whichever trigger (silence timer, source end, manual stop, hard deadline)
// sets it first owns the session's single outcome.
type session struct {
	segments      []string
	done          bool
	cancelSilence func()
	cancelHard    func()
}

func (s *session) stopTimers() {
	if s.cancelSilence != nil {
		s.cancelSilence()
		s.cancelSilence = nil
	}
	if s.cancelHard != nil {
		s.cancelHard()
		s.cancelHard = nil
	}
}

func (s *session) text() string {
	return strings.TrimSpace(strings.Join(s.segments, " "))
}

// Option configures a Machine.
type Option func(*Machine)

// WithPartialListener receives interim transcription text for display.
func WithPartialListener(fn func(text string)) Option {
	return func(m *Machine) { m.partial = fn }
}

// WithLogger sets the machine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// NewMachine creates a capture machine. dispatch receives the finalized
// utterance, at most once per session.
func NewMachine(source TranscriptionSource, clock Clock, cfg Config, dispatch func(text string), opts ...Option) *Machine {
	m := &Machine{
		source:   source,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
		dispatch: dispatch,
		state:    StateIdle,
		language: "en",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetLanguage changes the recognition language for subsequent sessions.
func (m *Machine) SetLanguage(language string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if language != "" {
		m.language = language
	}
}

// State returns the machine's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start opens a fresh listening session. It fails with ErrBusy during an
// active session or the cool-down window.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	s := &session{}
	m.session = s
	m.state = StateListening
	language := m.language
	m.mu.Unlock()

	events := SourceEvents{
		Partial: func(text string) { m.onPartial(s, text) },
		Final:   func(text string) { m.onFinal(s, text) },
		Ended:   func() { m.finish(s, "source-ended") },
		Errored: func(err error) { m.onErrored(s, err) },
	}
	if err := m.source.Start(ctx, language, events); err != nil {
		m.mu.Lock()
		if m.session == s {
			m.session = nil
			m.state = StateIdle
		}
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	if m.session == s && !s.done {
		s.cancelHard = m.clock.After(m.cfg.MaxSession, func() {
			m.finish(s, "max-duration")
		})
	}
	m.mu.Unlock()

	m.logger.Debug("capture session started", "language", language)
	return nil
}

// Stop ends the current session by user action. Accumulated text, if any,
// is dispatched through the same one-shot path as the timer triggers.
func (m *Machine) Stop() {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return
	}
	m.finish(s, "manual-stop")
}

func (m *Machine) onPartial(s *session, text string) {
	m.mu.Lock()
	current := m.session == s && !s.done
	fn := m.partial
	m.mu.Unlock()
	if current && fn != nil && text != "" {
		fn(text)
	}
}

func (m *Machine) onFinal(s *session, text string) {
	m.mu.Lock()
	if m.session != s || s.done {
		m.mu.Unlock()
		return
	}
	if trimmed := strings.TrimSpace(text); trimmed != "" {
		s.segments = append(s.segments, trimmed)
	}
	// Every finalized segment re-arms the silence window.
	if s.cancelSilence != nil {
		s.cancelSilence()
	}
	s.cancelSilence = m.clock.After(m.cfg.SilenceWindow, func() {
		m.finish(s, "silence")
	})
	m.mu.Unlock()
}

func (m *Machine) onErrored(s *session, err error) {
	m.mu.Lock()
	if m.session != s || s.done {
		m.mu.Unlock()
		return
	}
	s.done = true
	s.stopTimers()
	m.session = nil
	m.state = StateCoolingDown
	m.mu.Unlock()

	m.logger.Warn("capture source errored", "error", err)
	m.source.Stop()
	m.startCoolDown()
}

// finish is the single exit path shared by the silence timer, the source's
// own end notification, manual stop, and the hard session deadline. The
// first caller flips the session latch; later callers are no-ops even when
// all triggers fire in the same instant.
func (m *Machine) finish(s *session, reason string) {
	m.mu.Lock()
	if m.session != s || s.done {
		m.mu.Unlock()
		return
	}
	s.done = true
	s.stopTimers()
	text := s.text()
	m.session = nil
	if text != "" {
		m.state = StateDispatchPending
	} else {
		m.state = StateCoolingDown
	}
	m.mu.Unlock()

	m.source.Stop()

	if text != "" {
		m.logger.Debug("dispatching utterance", "reason", reason, "chars", len(text))
		m.dispatch(text)
		m.mu.Lock()
		m.state = StateCoolingDown
		m.mu.Unlock()
	} else {
		m.logger.Debug("session ended without speech", "reason", reason)
	}

	m.startCoolDown()
}

func (m *Machine) startCoolDown() {
	m.clock.After(m.cfg.CoolDown, func() {
		m.mu.Lock()
		if m.state == StateCoolingDown {
			m.state = StateIdle
		}
		m.mu.Unlock()
	})
}
