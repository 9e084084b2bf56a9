// Command afya-cli is an interactive terminal client for the HealthWise
// assistant service: type questions, attach media, or speak, and read the
// assistant's replies inline.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Josephat-Onkoba/healthwise-afya-siri/internal/dotenv"
	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core/types"
	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core/voice/capture"
	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core/voice/stt"
	afya "github.com/Josephat-Onkoba/healthwise-afya-siri/sdk"
)

const (
	defaultBaseURL = "http://localhost:5000/api"
	defaultSTTURL  = "wss://api.cartesia.ai/stt/websocket"
	healthTimeout  = 5 * time.Second
)

var supportedLanguages = map[string]string{
	"en": "English",
	"sw": "Kiswahili",
	"ha": "Hausa",
	"yo": "Yorùbá",
	"ig": "Igbo",
}

type cliConfig struct {
	BaseURL        string
	Language       string
	Denylist       []string
	PollInterval   time.Duration
	PollBudget     int
	LogLevel       string
	STTURL         string
	CartesiaAPIKey string
}

func parseCLIConfig(args []string, getenv func(string) string) (cliConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := cliConfig{}
	fs := flag.NewFlagSet("afya-cli", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.BaseURL, "base-url", firstNonEmpty(strings.TrimSpace(getenv("AFYA_BASE_URL")), defaultBaseURL), "assistant service base URL (or AFYA_BASE_URL)")
	fs.StringVar(&cfg.Language, "lang", firstNonEmpty(strings.TrimSpace(getenv("AFYA_LANGUAGE")), "en"), "target language code (or AFYA_LANGUAGE)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", 5*time.Second, "wait between video job status polls")
	fs.IntVar(&cfg.PollBudget, "poll-budget", 36, "status polls before a video job moves to the background")
	fs.StringVar(&cfg.LogLevel, "log-level", "warn", "log level: debug, info, warn, error")
	fs.StringVar(&cfg.STTURL, "stt-url", firstNonEmpty(strings.TrimSpace(getenv("AFYA_STT_URL")), defaultSTTURL), "speech-to-text websocket URL (or AFYA_STT_URL)")

	var denylist string
	fs.StringVar(&denylist, "denylist", strings.TrimSpace(getenv("AFYA_DENYLIST")), "comma-separated words to mask locally (or AFYA_DENYLIST)")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	for _, w := range strings.Split(denylist, ",") {
		if w = strings.TrimSpace(w); w != "" {
			cfg.Denylist = append(cfg.Denylist, w)
		}
	}
	cfg.CartesiaAPIKey = strings.TrimSpace(getenv("CARTESIA_API_KEY"))

	if err := validateCLIConfig(cfg); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func validateCLIConfig(cfg cliConfig) error {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return errors.New("base-url must be a valid absolute URL")
	}
	if _, ok := supportedLanguages[cfg.Language]; !ok {
		return fmt.Errorf("unsupported language %q (supported: %s)", cfg.Language, languageCodes())
	}
	if cfg.PollInterval <= 0 {
		return errors.New("poll-interval must be > 0")
	}
	if cfg.PollBudget <= 0 {
		return errors.New("poll-budget must be > 0")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func languageCodes() string {
	codes := make([]string, 0, len(supportedLanguages))
	for code := range supportedLanguages {
		codes = append(codes, code)
	}
	return strings.Join(codes, ", ")
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func buildClient(cfg cliConfig, logger *slog.Logger, out io.Writer) *afya.Client {
	opts := []afya.ClientOption{
		afya.WithBaseURL(cfg.BaseURL),
		afya.WithLanguage(cfg.Language),
		afya.WithLogger(logger),
		afya.WithPollInterval(cfg.PollInterval),
		afya.WithPollBudget(cfg.PollBudget),
	}
	if len(cfg.Denylist) > 0 {
		opts = append(opts, afya.WithDenylist(cfg.Denylist...))
	}
	if cfg.CartesiaAPIKey != "" {
		source := stt.NewSource(stt.Config{
			URL:    cfg.STTURL,
			APIKey: cfg.CartesiaAPIKey,
		}, openMicrophone, logger)
		opts = append(opts,
			afya.WithTranscriptionSource(source),
			afya.WithVoicePartialListener(func(text string) {
				fmt.Fprintf(out, "\r… %s", text)
			}),
		)
	}
	return afya.NewClient(opts...)
}

// renderer prints ledger changes as they land: assistant replies, upload
// failures with their retry hint, and video job progress.
type renderer struct {
	out          io.Writer
	lastProgress map[string]int
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, lastProgress: make(map[string]int)}
}

func (r *renderer) handle(ev afya.LedgerEvent) {
	turn := ev.Turn
	switch {
	case ev.Type == afya.LedgerAppended && turn.Origin == afya.OriginAssistant:
		fmt.Fprintf(r.out, "\nafya> %s\n", turn.Body)
	case ev.Type == afya.LedgerAppended && turn.Warning != "":
		fmt.Fprintf(r.out, "note: %s\n", turn.Warning)
	case ev.Type == afya.LedgerUpdated && turn.Status == afya.TurnError:
		fmt.Fprintf(r.out, "\n[failed] %s (type /retry to resend)\n", turn.Failure.Message)
	case ev.Type == afya.LedgerUpdated && turn.Status == afya.TurnPendingBackground:
		fmt.Fprintf(r.out, "\n[background] job %s keeps running server-side; /jobs re-checks it\n", turn.JobID)
	case ev.Type == afya.LedgerUpdated && turn.JobID != "" && turn.Status == afya.TurnSending:
		if r.lastProgress[turn.JobID] != turn.Progress {
			r.lastProgress[turn.JobID] = turn.Progress
			fmt.Fprintf(r.out, "[video %s] %d%%\n", turn.JobID, turn.Progress)
		}
	}
}

// lastRetry finds the most recent retryable error turn.
func lastRetry(ledger *afya.Ledger) func() {
	turns := ledger.Turns()
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Status == afya.TurnError && turns[i].Retry != nil {
			return turns[i].Retry
		}
	}
	return nil
}

func attachmentInput(kind types.Kind, args string) (afya.Input, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return afya.Input{}, fmt.Errorf("usage: /%s <path> [query or mode]", kind)
	}
	path := fields[0]
	if _, err := os.Stat(path); err != nil {
		return afya.Input{}, fmt.Errorf("cannot read %s", path)
	}
	input := afya.Input{Kind: kind, Media: types.NewMediaRef(path, kind, nil)}

	rest := strings.TrimSpace(strings.TrimPrefix(args, path))
	switch kind {
	case types.KindImage:
		input.Text = rest
	case types.KindVideo:
		switch rest {
		case "", "comprehensive":
			input.Mode = types.VideoComprehensive
		case "frames":
			input.Mode = types.VideoFramesOnly
		case "audio":
			input.Mode = types.VideoAudioOnly
		default:
			return afya.Input{}, fmt.Errorf("unknown video mode %q (frames, audio, comprehensive)", rest)
		}
	}
	return input, nil
}

func runShell(ctx context.Context, cfg cliConfig, in io.Reader, out, errOut io.Writer) error {
	logger := newLogger(cfg.LogLevel, errOut)
	client := buildClient(cfg, logger, out)

	unsubscribe := client.Ledger().Subscribe(newRenderer(out).handle)
	defer unsubscribe()

	healthCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	if err := client.Health(healthCtx); err != nil {
		fmt.Fprintf(errOut, "warning: service at %s is not responding: %v\n", cfg.BaseURL, err)
	}
	cancel()

	fmt.Fprintf(out, "HealthWise assistant at %s (language: %s)\n", cfg.BaseURL, supportedLanguages[cfg.Language])
	fmt.Fprintln(out, "Type a question, or /image /video /audio /voice /lang /retry /jobs /help. /exit quits.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/exit" || line == "/quit":
			client.CancelCurrent()
			fmt.Fprintln(out, "bye")
			return nil

		case line == "/help":
			fmt.Fprintln(out, "  /image <path> [question]   analyze a photo")
			fmt.Fprintln(out, "  /video <path> [mode]       analyze a video (frames, audio, comprehensive)")
			fmt.Fprintln(out, "  /audio <path>              transcribe a recording")
			fmt.Fprintln(out, "  /voice                     toggle live speech capture")
			fmt.Fprintf(out, "  /lang <code>               switch language (%s)\n", languageCodes())
			fmt.Fprintln(out, "  /retry                     resend the last failed message")
			fmt.Fprintln(out, "  /jobs                      re-check background video jobs")
			fmt.Fprintln(out, "  /cancel                    abort the in-flight request")

		case strings.HasPrefix(line, "/lang"):
			code := strings.TrimSpace(strings.TrimPrefix(line, "/lang"))
			if _, ok := supportedLanguages[code]; !ok {
				fmt.Fprintf(errOut, "unsupported language %q (supported: %s)\n", code, languageCodes())
				continue
			}
			client.SetLanguage(code)
			fmt.Fprintf(out, "language switched to %s\n", supportedLanguages[code])

		case line == "/voice":
			if err := toggleVoice(client, out); err != nil {
				fmt.Fprintf(errOut, "voice error: %v\n", err)
			}

		case line == "/retry":
			if retry := lastRetry(client.Ledger()); retry != nil {
				retry()
			} else {
				fmt.Fprintln(out, "nothing to retry")
			}

		case line == "/jobs":
			client.ReconcileBackground(ctx)

		case line == "/cancel":
			client.CancelCurrent()
			fmt.Fprintln(out, "canceled")

		case strings.HasPrefix(line, "/image"), strings.HasPrefix(line, "/video"), strings.HasPrefix(line, "/audio"):
			kind := types.Kind(strings.TrimPrefix(strings.Fields(line)[0], "/"))
			input, err := attachmentInput(kind, strings.TrimSpace(line[len("/image"):]))
			if err != nil {
				fmt.Fprintf(errOut, "%v\n", err)
				continue
			}
			if _, err := client.Submit(ctx, input); err != nil {
				fmt.Fprintf(errOut, "rejected: %v\n", err)
			}

		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(errOut, "unknown command %s (try /help)\n", strings.Fields(line)[0])

		default:
			if _, err := client.Submit(ctx, afya.Input{Kind: types.KindText, Text: line}); err != nil {
				fmt.Fprintf(errOut, "rejected: %v\n", err)
			}
		}
	}
}

func toggleVoice(client *afya.Client, out io.Writer) error {
	if client.VoiceState() == capture.StateListening {
		client.StopVoice()
		fmt.Fprintln(out, "voice capture stopped")
		return nil
	}
	if err := client.StartVoice(); err != nil {
		return err
	}
	fmt.Fprintln(out, "listening… speak now, pause to send")
	return nil
}

func main() {
	if err := dotenv.Bootstrap(); err != nil {
		fmt.Fprintf(os.Stderr, "afya-cli: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseCLIConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "afya-cli: %v\n", err)
		os.Exit(1)
	}

	if err := runShell(context.Background(), cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "afya-cli: %v\n", err)
		os.Exit(1)
	}
}
