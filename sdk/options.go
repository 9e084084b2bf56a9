package afya

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core/voice/capture"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the inference service base URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithLanguage sets the initial target language (default "en").
func WithLanguage(code string) ClientOption {
	return func(c *Client) {
		c.language = code
	}
}

// WithDenylist sets the local content filter. Matching words in submitted
// text are masked in place; matching input is never blocked.
func WithDenylist(words ...string) ClientOption {
	return func(c *Client) {
		c.denylist = words
	}
}

// WithPollInterval sets the wait between job status polls.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithPollBudget sets the maximum number of status polls before a job
// degrades to pending-background.
func WithPollBudget(n int) ClientOption {
	return func(c *Client) {
		c.pollBudget = n
	}
}

// WithTranscriptionSource enables voice input through the given source.
func WithTranscriptionSource(source capture.TranscriptionSource) ClientOption {
	return func(c *Client) {
		c.voiceSource = source
	}
}

// WithVoicePartialListener receives interim (unconfirmed) transcription
// text for live feedback. Interim text is never dispatched.
func WithVoicePartialListener(fn func(text string)) ClientOption {
	return func(c *Client) {
		c.voicePart = fn
	}
}

// WithCaptureConfig tunes the speech capture timers.
func WithCaptureConfig(cfg capture.Config) ClientOption {
	return func(c *Client) {
		c.captureCfg = cfg
	}
}

// WithClock injects a clock for the speech capture timers. Tests use a
// deterministic fake; production keeps the default system clock.
func WithClock(clock capture.Clock) ClientOption {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithMetricsRegistry registers the client's metrics on the given
// registry instead of a private one.
func WithMetricsRegistry(reg prometheus.Registerer) ClientOption {
	return func(c *Client) {
		c.metricsReg = reg
	}
}
