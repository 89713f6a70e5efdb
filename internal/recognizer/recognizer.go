// Package recognizer defines the speech-to-text collaborator contract.
//
// A recognizer delivers finalized transcripts through a callback for the
// duration of one recognition session. Sessions end on their own and are
// restarted by the caller, mirroring continuous recognizers that stop
// after silence or network hiccups.
package recognizer

import (
	"context"
	"errors"
)

var (
	// ErrUnsupported means the environment cannot provide speech
	// recognition at all. It is fatal and must not be retried.
	ErrUnsupported = errors.New("speech recognition unsupported")

	// ErrExhausted means a finite source has no more transcripts.
	ErrExhausted = errors.New("transcript source exhausted")
)

// Recognizer runs one recognition session.
//
// Listen blocks until the session ends. It returns nil on a natural end,
// a wrapped ErrUnsupported or ErrExhausted for terminal conditions, and
// any other error for transient failures. onFinal is called once per
// finalized transcript from the Listen goroutine.
type Recognizer interface {
	Name() string
	Listen(ctx context.Context, onFinal func(transcript string)) error
}

// Func adapts a plain function to the Recognizer interface.
type Func struct {
	ID string
	Fn func(ctx context.Context, onFinal func(string)) error
}

// Name returns the configured identifier.
func (f Func) Name() string { return f.ID }

// Listen calls the wrapped function.
func (f Func) Listen(ctx context.Context, onFinal func(string)) error {
	return f.Fn(ctx, onFinal)
}
