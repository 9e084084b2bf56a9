package afya

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core"
	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core/types"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	base := []ClientOption{
		WithBaseURL(srv.URL),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return NewClient(append(base, opts...)...)
}

func writeTempMedia(t *testing.T, name string) *types.MediaRef {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("media-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	kind := types.KindImage
	switch filepath.Ext(name) {
	case ".mp4", ".webm", ".mov", ".avi":
		kind = types.KindVideo
	case ".wav", ".mp3", ".ogg", ".m4a":
		kind = types.KindAudio
	}
	return types.NewMediaRef(path, kind, nil)
}

// waitFor polls until cond holds or the deadline passes. The dispatcher
// resolves turns on its own goroutines, so tests observe the ledger
// rather than joining them.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func jsonBody(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Errorf("decode request body: %v", err)
	}
	return body
}

func TestSubmitText_AppendsUserAndAssistantTurns(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" {
			t.Errorf("path = %s, want /query", r.URL.Path)
		}
		body := jsonBody(t, r)
		if body["text"] != "What is consent?" || body["target_language"] != "en" {
			t.Errorf("request body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"response": "Consent means freely agreeing to something.",
		})
	}))

	turn, err := c.Submit(context.Background(), Input{Kind: types.KindText, Text: "What is consent?"})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if turn.Status != TurnSending || turn.Origin != OriginUser {
		t.Fatalf("appended turn = %s/%s", turn.Origin, turn.Status)
	}

	waitFor(t, "conversation to resolve", func() bool { return c.Ledger().Len() == 2 })
	turns := c.Ledger().Turns()
	if turns[0].Status != TurnSent || turns[0].Body != "What is consent?" {
		t.Fatalf("user turn = %s %q", turns[0].Status, turns[0].Body)
	}
	if turns[1].Origin != OriginAssistant || turns[1].Body != "Consent means freely agreeing to something." {
		t.Fatalf("assistant turn = %s %q", turns[1].Origin, turns[1].Body)
	}
}

func TestSubmit_EmptyTextIsRejectedWithoutLedgerMutation(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should reach the server")
	}))

	if _, err := c.Submit(context.Background(), Input{Kind: types.KindText, Text: ""}); err == nil {
		t.Fatal("Submit() of empty text must fail")
	}
	if c.Ledger().Len() != 0 {
		t.Fatalf("ledger len = %d, want 0", c.Ledger().Len())
	}
}

func TestSubmit_UnsupportedExtensionRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should reach the server")
	}))

	ref := types.NewMediaRef("/tmp/report.exe", types.KindImage, nil)
	_, err := c.Submit(context.Background(), Input{Kind: types.KindImage, Media: ref})
	var ce *core.Error
	if !asCoreError(err, &ce) || ce.Type != core.ErrInvalidRequest {
		t.Fatalf("error = %v, want invalid_request", err)
	}
	if c.Ledger().Len() != 0 {
		t.Fatal("rejected submission must not touch the ledger")
	}
}

func TestSubmit_DenylistMasksBeforeSend(t *testing.T) {
	var mu sync.Mutex
	var sentText string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := jsonBody(t, r)
		mu.Lock()
		sentText = body["text"]
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"response": "ok"})
	}), WithDenylist("forbidden"))

	turn, err := c.Submit(context.Background(), Input{Kind: types.KindText, Text: "tell me the forbidden thing"})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if turn.Warning == "" {
		t.Fatal("masked turn must carry a warning")
	}
	if turn.Body != "tell me the ********* thing" {
		t.Fatalf("turn body = %q", turn.Body)
	}

	waitFor(t, "submission to resolve", func() bool { return c.Ledger().Len() == 2 })
	mu.Lock()
	defer mu.Unlock()
	if sentText != "tell me the ********* thing" {
		t.Fatalf("server received %q, masking must happen before send", sentText)
	}
}

func TestNewSubmissionSupersedesInFlightRequest(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := jsonBody(t, r)
		if body["text"] == "first" {
			select {
			case <-r.Context().Done():
				return
			case <-release:
			}
			json.NewEncoder(w).Encode(map[string]string{"response": "stale"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"response": "fresh"})
	}))

	if _, err := c.Submit(context.Background(), Input{Kind: types.KindText, Text: "first"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first turn to append", func() bool { return c.Ledger().Len() == 1 })

	if _, err := c.Submit(context.Background(), Input{Kind: types.KindText, Text: "second"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second turn to resolve", func() bool { return c.Ledger().Len() == 3 })
	close(release)
	time.Sleep(20 * time.Millisecond)

	turns := c.Ledger().Turns()
	if len(turns) != 3 {
		t.Fatalf("ledger len = %d, the superseded request must not add turns", len(turns))
	}
	if turns[0].Body != "first" || turns[0].Status != TurnSending {
		t.Fatalf("superseded turn = %s %q, must stay untouched", turns[0].Status, turns[0].Body)
	}
	if turns[1].Status != TurnSent || turns[2].Body != "fresh" {
		t.Fatalf("newer exchange = %s / %q", turns[1].Status, turns[2].Body)
	}
}

func TestCancelCurrent_SuppressesStaleResponse(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	if _, err := c.Submit(context.Background(), Input{Kind: types.KindText, Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "turn to append", func() bool { return c.Ledger().Len() == 1 })
	c.CancelCurrent()
	time.Sleep(20 * time.Millisecond)

	turns := c.Ledger().Turns()
	if len(turns) != 1 || turns[0].Status != TurnSending {
		t.Fatalf("canceled submission must mutate nothing, got %d turns, status %s", len(turns), turns[0].Status)
	}
}

func TestRetry_ReRunsTheFullProtocolWithIdenticalInput(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := jsonBody(t, r)
		mu.Lock()
		bodies = append(bodies, body)
		failFirst := len(bodies) == 1
		mu.Unlock()
		if failFirst {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "model overloaded"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"response": "here you go"})
	}))

	if _, err := c.Submit(context.Background(), Input{Kind: types.KindText, Text: "describe malaria symptoms"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "failure to resolve", func() bool { return c.Ledger().Len() == 2 })

	failed := c.Ledger().Turns()[0]
	if failed.Status != TurnError || failed.Failure == nil || failed.Retry == nil {
		t.Fatalf("failed turn = %s, Failure=%v, Retry nil=%v", failed.Status, failed.Failure, failed.Retry == nil)
	}
	if failed.Failure.Message != "model overloaded" {
		t.Fatalf("failure message = %q, want the server's copy", failed.Failure.Message)
	}

	failed.Retry()
	waitFor(t, "retry to resolve", func() bool { return c.Ledger().Len() == 4 })

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("requests = %d, want 2", len(bodies))
	}
	if fmt.Sprint(bodies[0]) != fmt.Sprint(bodies[1]) {
		t.Fatalf("retry payload differs: %v vs %v", bodies[0], bodies[1])
	}
	turns := c.Ledger().Turns()
	if turns[2].Status != TurnSent || turns[3].Body != "here you go" {
		t.Fatalf("retried exchange = %s / %q", turns[2].Status, turns[3].Body)
	}
}

func TestSubmitImage_ResolvesWithResultText(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload/image" {
			t.Errorf("path = %s", r.URL.Path)
		}
		// Both fields present: result outranks error.
		json.NewEncoder(w).Encode(map[string]string{
			"error":  "minor warning",
			"result": "This looks like a skin rash.",
		})
	}))

	ref := writeTempMedia(t, "photo.jpg")
	if _, err := c.Submit(context.Background(), Input{Kind: types.KindImage, Media: ref, Text: "what is this"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "image analysis", func() bool { return c.Ledger().Len() == 2 })

	turns := c.Ledger().Turns()
	if turns[1].Body != "This looks like a skin rash." {
		t.Fatalf("assistant body = %q", turns[1].Body)
	}
	if !ref.Released() {
		t.Fatal("media must be released after resolution")
	}
}

func TestSubmitAudio_ResolvesWithTranscription(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload/voice" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"transcription": "I have a headache"})
	}))

	ref := writeTempMedia(t, "note.wav")
	if _, err := c.Submit(context.Background(), Input{Kind: types.KindAudio, Media: ref}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "voice upload", func() bool { return c.Ledger().Len() == 2 })
	if body := c.Ledger().Turns()[1].Body; body != "I have a headache" {
		t.Fatalf("assistant body = %q", body)
	}
}

func asCoreError(err error, target **core.Error) bool {
	if err == nil {
		return false
	}
	ce, ok := err.(*core.Error)
	if ok {
		*target = ce
	}
	return ok
}

func TestDismiss_ReleasesMedia(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	ref := writeTempMedia(t, "photo.png")
	turn, err := c.Submit(context.Background(), Input{Kind: types.KindImage, Media: ref})
	if err != nil {
		t.Fatal(err)
	}
	if ref.Released() {
		t.Fatal("media released before any terminal event")
	}
	c.Dismiss(turn.ID)
	if !ref.Released() {
		t.Fatal("Dismiss must release the media preview")
	}
	c.CancelCurrent()
}

func TestSetLanguage_AppliesToSubsequentRequests(t *testing.T) {
	var mu sync.Mutex
	var lang string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := jsonBody(t, r)
		mu.Lock()
		lang = body["target_language"]
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"response": "sawa"})
	}))

	c.SetLanguage("sw")
	if c.Language() != "sw" {
		t.Fatalf("Language() = %s", c.Language())
	}
	if _, err := c.Submit(context.Background(), Input{Kind: types.KindText, Text: "habari"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "query to resolve", func() bool { return c.Ledger().Len() == 2 })
	mu.Lock()
	defer mu.Unlock()
	if lang != "sw" {
		t.Fatalf("target_language = %q", lang)
	}
}

func TestAssistantFailureCopyAccompaniesErrorTurn(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": "upstream model unavailable"})
	}))

	if _, err := c.Submit(context.Background(), Input{Kind: types.KindText, Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "failure to resolve", func() bool { return c.Ledger().Len() == 2 })

	turns := c.Ledger().Turns()
	if turns[0].Status != TurnError {
		t.Fatalf("user turn = %s", turns[0].Status)
	}
	if turns[1].Origin != OriginAssistant || !strings.Contains(turns[1].Body, "upstream model unavailable") {
		t.Fatalf("companion turn = %s %q", turns[1].Origin, turns[1].Body)
	}
}
