// Package afya is the client SDK for the HealthWise assistant service.
// It owns the conversation ledger, the request lifecycle for every
// submission, the polling protocol for long-running video analyses, and
// the continuous speech capture pipeline.
package afya

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core"
	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core/backend"
	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core/types"
	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core/voice/capture"
)

const (
	defaultBaseURL      = "http://localhost:5000/api"
	defaultPollInterval = 5 * time.Second
	defaultPollBudget   = 36 // ~3 minutes at the default interval
)

// Input is one user submission: literal text or a media reference with an
// optional accompanying query.
type Input struct {
	Kind  types.Kind
	Text  string
	Media *types.MediaRef
	Mode  types.VideoMode // video only; defaults to comprehensive
}

// ErrVoiceNotConfigured is returned by StartVoice when no transcription
// source was provided.
var ErrVoiceNotConfigured = errors.New("afya: no transcription source configured")

// Client is the main entry point for the SDK.
type Client struct {
	baseURL    string
	httpClient *http.Client
	backend    *backend.Client
	ledger     *Ledger
	logger     *slog.Logger
	filter     *contentFilter
	metrics    *clientMetrics
	metricsReg prometheus.Registerer
	denylist   []string

	pollInterval time.Duration
	pollBudget   int

	clock       capture.Clock
	captureCfg  capture.Config
	voiceSource capture.TranscriptionSource
	voicePart   func(text string)
	voice       *capture.Machine

	mu            sync.Mutex
	language      string
	cancelCurrent context.CancelFunc
	activeJobs    map[string]struct{}
	bgInputs      map[string]Input // original submissions of deferred jobs, keyed by turn ID
}

// NewClient creates a client for one assistant service deployment.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      defaultBaseURL,
		ledger:       NewLedger(),
		logger:       slog.Default(),
		language:     "en",
		pollInterval: defaultPollInterval,
		pollBudget:   defaultPollBudget,
		clock:        capture.SystemClock{},
		activeJobs:   make(map[string]struct{}),
		bgInputs:     make(map[string]Input),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newDefaultHTTPClient()
	}
	if c.metricsReg == nil {
		c.metricsReg = prometheus.NewRegistry()
	}
	c.backend = backend.NewWithClient(c.baseURL, c.httpClient)
	c.metrics = newClientMetrics(c.metricsReg)
	c.filter = newContentFilter(c.denylist)

	if c.voiceSource != nil {
		captureOpts := []capture.Option{capture.WithLogger(c.logger)}
		if c.voicePart != nil {
			captureOpts = append(captureOpts, capture.WithPartialListener(c.voicePart))
		}
		c.voice = capture.NewMachine(c.voiceSource, c.clock, c.captureCfg, func(text string) {
			c.metrics.speechDispatches.Inc()
			if _, err := c.Submit(context.Background(), Input{Kind: types.KindText, Text: text}); err != nil {
				c.logger.Warn("voice submission rejected", "error", err)
			}
		}, captureOpts...)
		c.voice.SetLanguage(c.language)
	}
	return c
}

// Health checks that the assistant service is reachable and ready.
func (c *Client) Health(ctx context.Context) error {
	return c.backend.Health(ctx)
}

// Ledger returns the conversation ledger for rendering and subscription.
func (c *Client) Ledger() *Ledger {
	return c.ledger
}

// Language returns the active target language code.
func (c *Client) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

// SetLanguage changes the target language for subsequent requests and the
// next voice session.
func (c *Client) SetLanguage(code string) {
	if code == "" {
		return
	}
	c.mu.Lock()
	c.language = code
	c.mu.Unlock()
	if c.voice != nil {
		c.voice.SetLanguage(code)
	}
}

// StartVoice begins a listening session. The finalized utterance, if any,
// is submitted exactly as a typed message would be.
func (c *Client) StartVoice() error {
	if c.voice == nil {
		return ErrVoiceNotConfigured
	}
	return c.voice.Start(context.Background())
}

// StopVoice ends the current listening session, dispatching accumulated
// speech if there is any.
func (c *Client) StopVoice() {
	if c.voice != nil {
		c.voice.Stop()
	}
}

// VoiceState reports the capture machine's state, or idle when voice
// input is not configured.
func (c *Client) VoiceState() capture.State {
	if c.voice == nil {
		return capture.StateIdle
	}
	return c.voice.State()
}

// CancelCurrent aborts the in-flight non-video request, if any. Video
// jobs keep polling; they are bounded by the attempt budget instead.
func (c *Client) CancelCurrent() {
	c.mu.Lock()
	cancel := c.cancelCurrent
	c.cancelCurrent = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Dismiss releases the media preview attached to a turn on explicit user
// action.
func (c *Client) Dismiss(turnID string) {
	if turn, ok := c.ledger.Get(turnID); ok {
		turn.Media.Release()
	}
}

// Submit validates and dispatches one user input. It appends a sending
// turn to the ledger and resolves it asynchronously; the returned turn is
// a snapshot taken at append time.
//
// Submitting a non-video input cancels the previous in-flight non-video
// request so a stale response can never overwrite a newer turn.
func (c *Client) Submit(ctx context.Context, input Input) (*Turn, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	body, masked := c.filter.Mask(input.Text)
	input.Text = body
	warning := ""
	if masked {
		warning = maskedWarning
		c.logger.Warn("content filter masked submitted text")
	}
	display := body
	if display == "" && input.Media != nil {
		display = input.Media.Name
	}

	c.mu.Lock()
	language := c.language
	reqCtx := ctx
	if input.Kind != types.KindVideo {
		// The dispatcher owns exactly one current cancellation token.
		// Video submissions never touch it: their jobs run to completion
		// or to the polling budget regardless of later interactions.
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithCancel(ctx)
		if c.cancelCurrent != nil {
			c.cancelCurrent()
		}
		c.cancelCurrent = cancel
	}
	turn := c.ledger.Append(Turn{
		Kind:    input.Kind,
		Origin:  OriginUser,
		Body:    display,
		Media:   input.Media,
		Status:  TurnSending,
		Warning: warning,
	})
	c.mu.Unlock()

	go c.dispatch(reqCtx, turn, input, language)
	return &turn, nil
}

func validateInput(input Input) error {
	switch input.Kind {
	case types.KindText:
		if input.Text == "" {
			return core.NewInvalidRequestError("nothing to send")
		}
	case types.KindImage, types.KindVideo, types.KindAudio:
		if input.Media == nil {
			if input.Text == "" {
				return core.NewInvalidRequestError("nothing to send")
			}
			return core.NewInvalidRequestError("missing media attachment")
		}
		if !types.ExtensionAllowed(input.Media.Name, input.Kind) {
			return core.NewInvalidRequestError("unsupported file type: " + input.Media.Name)
		}
	default:
		return core.NewInvalidRequestError("unknown input kind")
	}
	return nil
}

func (c *Client) dispatch(ctx context.Context, turn Turn, input Input, language string) {
	switch input.Kind {
	case types.KindText:
		reply, err := c.backend.QueryText(ctx, input.Text, language)
		if err != nil {
			c.resolveFailure(turn, input, err)
			return
		}
		c.resolveSuccess(turn, input, reply)

	case types.KindImage:
		outcome, err := c.backend.UploadImage(ctx, input.Media, input.Text, language)
		if err != nil {
			c.resolveFailure(turn, input, err)
			return
		}
		c.resolveSuccess(turn, input, outcome.Text)

	case types.KindAudio:
		transcription, err := c.backend.UploadVoice(ctx, input.Media, language)
		if err != nil {
			c.resolveFailure(turn, input, err)
			return
		}
		if transcription == "" {
			transcription = "I couldn't make out any speech in that recording."
		}
		c.resolveSuccess(turn, input, transcription)

	case types.KindVideo:
		c.dispatchVideo(ctx, turn, input, language)
	}
}

func (c *Client) dispatchVideo(ctx context.Context, turn Turn, input Input, language string) {
	mode := input.Mode
	if mode == "" {
		mode = types.VideoComprehensive
	}

	if !mode.Async() {
		analysis, err := c.backend.UploadVideoFrames(ctx, input.Media, language)
		if err != nil {
			c.resolveFailure(turn, input, err)
			return
		}
		c.resolveSuccess(turn, input, analysis)
		return
	}

	requestID := uuid.NewString()
	accept, err := c.backend.SubmitVideoJob(ctx, input.Media, mode, language, requestID)
	if err != nil {
		c.resolveFailure(turn, input, err)
		return
	}

	if accept.Completed() {
		// The server finished inline; no polling loop for this job.
		c.resolveVideoResult(turn, input, accept.Result)
		return
	}

	c.mu.Lock()
	if _, running := c.activeJobs[accept.JobID]; running {
		c.mu.Unlock()
		// The server echoed a job another loop already polls. The turn
		// still needs a terminal state and its media released.
		c.logger.Warn("duplicate polling loop suppressed", "job_id", accept.JobID)
		c.resolveFailure(turn, input, core.NewAPIError(
			"This video is already being analyzed. Results will appear when the current job finishes.", 0))
		return
	}
	c.activeJobs[accept.JobID] = struct{}{}
	c.mu.Unlock()

	// Surface the job immediately at zero progress.
	c.ledger.Update(turn.ID, func(t *Turn) {
		t.JobID = accept.JobID
		t.Progress = 0
	})
	c.logger.Debug("video job accepted", "job_id", accept.JobID, "mode", mode)
	go c.pollJob(turn, input, accept.JobID)
}

// resolveSuccess marks the user turn sent and appends the assistant's
// reply as a new turn.
func (c *Client) resolveSuccess(turn Turn, input Input, reply string) {
	c.ledger.Update(turn.ID, func(t *Turn) {
		t.Status = TurnSent
	})
	c.ledger.Append(Turn{
		Kind:   types.KindText,
		Origin: OriginAssistant,
		Body:   reply,
		Status: TurnSent,
	})
	input.Media.Release()
	c.metrics.submissions.WithLabelValues(string(input.Kind), "sent").Inc()
}

// resolveFailure classifies the error, marks the user turn, and appends a
// companion explanatory assistant turn. Cancellations mutate nothing: the
// newer submission's result is authoritative.
func (c *Client) resolveFailure(turn Turn, input Input, err error) {
	if core.IsCanceled(err) {
		c.logger.Debug("submission superseded", "turn_id", turn.ID)
		c.metrics.submissions.WithLabelValues(string(input.Kind), "canceled").Inc()
		return
	}

	classified := core.Classify(err)
	retryInput := input
	retry := func() {
		if _, rerr := c.Submit(context.Background(), retryInput); rerr != nil {
			c.logger.Warn("retry rejected", "error", rerr)
		}
	}
	c.ledger.Update(turn.ID, func(t *Turn) {
		t.Status = TurnError
		t.Failure = classified
		t.Retry = retry
	})
	c.ledger.Append(Turn{
		Kind:   types.KindText,
		Origin: OriginAssistant,
		Body:   classified.Message,
		Status: TurnSent,
	})
	input.Media.Release()
	c.metrics.submissions.WithLabelValues(string(input.Kind), "error").Inc()
	c.logger.Warn("submission failed", "turn_id", turn.ID, "type", string(classified.Type))
}

func (c *Client) resolveVideoResult(turn Turn, input Input, result types.VideoResult) {
	text := result.Render()
	if text == "" {
		text = "The video was processed, but no analysis came back. Please try again."
	}
	c.ledger.Update(turn.ID, func(t *Turn) {
		t.Status = TurnSent
		t.Progress = 100
	})
	c.ledger.Append(Turn{
		Kind:   types.KindText,
		Origin: OriginAssistant,
		Body:   text,
		Status: TurnSent,
	})
	input.Media.Release()
	c.metrics.submissions.WithLabelValues(string(input.Kind), "sent").Inc()
	c.metrics.jobOutcomes.WithLabelValues("completed").Inc()
}
