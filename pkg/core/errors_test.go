package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassify_PassesThroughCanonicalErrors(t *testing.T) {
	in := NewJobFailedError("frame extraction failed")
	out := Classify(in)
	if out != in {
		t.Fatalf("Classify() = %v, want the same *Error back", out)
	}
}

func TestClassify_WrappedCanonicalError(t *testing.T) {
	in := NewAPIError("upstream exploded", http.StatusBadGateway)
	out := Classify(fmt.Errorf("submit image: %w", in))
	if out.Type != ErrAPI || out.HTTPStatus != http.StatusBadGateway {
		t.Fatalf("Classify() = %+v, want wrapped api_error with status 502", out)
	}
}

func TestClassify_RateLimitGetsDistinctCopy(t *testing.T) {
	for _, err := range []error{
		&StatusError{Status: http.StatusTooManyRequests, Message: "slow down"},
		NewAPIError("too many requests", http.StatusTooManyRequests),
	} {
		out := Classify(err)
		if out.Type != ErrRateLimit {
			t.Fatalf("Classify(%v).Type = %s, want %s", err, out.Type, ErrRateLimit)
		}
		if out.Message != rateLimitMessage {
			t.Fatalf("Classify(%v).Message = %q, want rate-limit copy", err, out.Message)
		}
	}
}

func TestClassify_StatusErrorKeepsServerCopy(t *testing.T) {
	out := Classify(&StatusError{Status: http.StatusInternalServerError, Message: "boom"})
	if out.Type != ErrAPI || out.Message != "boom" || out.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("Classify() = %+v, want api_error carrying server message and status", out)
	}
}

func TestClassify_UnknownErrorFallsBackToGenericCopy(t *testing.T) {
	cause := errors.New("weird")
	out := Classify(cause)
	if out == nil {
		t.Fatal("Classify() = nil, want non-nil for non-nil input")
	}
	if out.Message != genericMessage {
		t.Fatalf("Classify().Message = %q, want generic copy", out.Message)
	}
	if out.Detail != "weird" {
		t.Fatalf("Classify().Detail = %q, want original error text", out.Detail)
	}
	if !errors.Is(out, cause) {
		t.Fatal("classified error should wrap its cause")
	}
}

func TestClassify_NilInput(t *testing.T) {
	if out := Classify(nil); out != nil {
		t.Fatalf("Classify(nil) = %v, want nil", out)
	}
}

func TestIsCanceled(t *testing.T) {
	if !IsCanceled(context.Canceled) {
		t.Fatal("context.Canceled should read as canceled")
	}
	if !IsCanceled(fmt.Errorf("query: %w", context.Canceled)) {
		t.Fatal("wrapped context.Canceled should read as canceled")
	}
	if IsCanceled(errors.New("nope")) {
		t.Fatal("plain error should not read as canceled")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  *Error
		want bool
	}{
		{NewInvalidRequestError("empty message"), false},
		{NewRateLimitError(5), true},
		{NewAPIError("", http.StatusBadGateway), true},
		{NewJobFailedError("codec"), true},
		{NewMalformedResponseError("unexpected shape"), true},
		{NewTransportError("POST /query", errors.New("reset")), true},
	}
	for _, tc := range cases {
		if got := tc.err.IsRetryable(); got != tc.want {
			t.Fatalf("IsRetryable(%s) = %v, want %v", tc.err.Type, got, tc.want)
		}
	}
}
