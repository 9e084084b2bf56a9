package types

import (
	"bytes"
	"encoding/json"
)

// ImageOutcomeKind names which field of an image-analysis payload was
// chosen for display.
type ImageOutcomeKind string

const (
	ImageOutcomeResult     ImageOutcomeKind = "result"
	ImageOutcomeError      ImageOutcomeKind = "error"
	ImageOutcomeMessage    ImageOutcomeKind = "message"
	ImageOutcomeEmpty      ImageOutcomeKind = "empty"
	ImageOutcomeUnexpected ImageOutcomeKind = "unexpected"
)

// ImageOutcome is the display decision for an image upload response.
type ImageOutcome struct {
	Kind ImageOutcomeKind
	Text string
}

const (
	imageEmptyFallback      = "The image was processed, but no description came back. Please try again."
	imageUnexpectedFallback = "I couldn't read the analysis for this image. Please try again."
)

type imagePayload struct {
	Result      string `json:"result"`
	Description string `json:"description"`
	Analysis    string `json:"analysis"`
	Error       string `json:"error"`
	Message     string `json:"message"`
}

// ClassifyImagePayload decodes an image-analysis response body and picks
// the display text by fixed precedence:
//
//	result > error > message > empty-object fallback > unexpected-format fallback
//
// The service has shipped the primary text under "result", "description"
// and "analysis" across versions; all three normalize to result rank.
func ClassifyImagePayload(data []byte) ImageOutcome {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ImageOutcome{Kind: ImageOutcomeUnexpected, Text: imageUnexpectedFallback}
	}

	var p imagePayload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return ImageOutcome{Kind: ImageOutcomeUnexpected, Text: imageUnexpectedFallback}
	}

	result := p.Result
	if result == "" {
		result = p.Description
	}
	if result == "" {
		result = p.Analysis
	}

	switch {
	case result != "":
		return ImageOutcome{Kind: ImageOutcomeResult, Text: result}
	case p.Error != "":
		return ImageOutcome{Kind: ImageOutcomeError, Text: p.Error}
	case p.Message != "":
		return ImageOutcome{Kind: ImageOutcomeMessage, Text: p.Message}
	default:
		return ImageOutcome{Kind: ImageOutcomeEmpty, Text: imageEmptyFallback}
	}
}
