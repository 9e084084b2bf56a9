// Package capture implements the continuous speech capture state machine:
// it listens to a live transcription stream and decides the single moment
// an utterance is complete and safe to dispatch exactly once.
package capture

import (
	"context"
	"time"
)

// SourceEvents receives events from a TranscriptionSource. Any field may
// be nil. Partial text is feedback only and is never dispatched.
type SourceEvents struct {
	Partial func(text string)
	Final   func(text string)
	Ended   func()
	Errored func(err error)
}

// TranscriptionSource is a continuous speech recognizer. Start opens one
// recognition stream for the given language; Stop closes it. A source may
// emit Ended on its own (recognizer hang-up) or in response to Stop.
type TranscriptionSource interface {
	Start(ctx context.Context, language string, events SourceEvents) error
	Stop()
}

// Clock schedules a callback after a delay and returns a cancel function.
// Production uses SystemClock; tests inject a deterministic fake.
type Clock interface {
	After(d time.Duration, fn func()) (cancel func())
}

// SystemClock is the wall-clock implementation of Clock.
type SystemClock struct{}

// After schedules fn on a timer goroutine.
func (SystemClock) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
