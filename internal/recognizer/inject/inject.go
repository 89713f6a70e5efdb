// Package inject is a transcript source fed programmatically, used by the
// HTTP API when the daemon has no speech front-end of its own.
package inject

import (
	"context"
	"errors"
	"strings"
)

// ErrEmpty is returned for blank transcripts.
var ErrEmpty = errors.New("empty transcript")

// Recognizer queues injected transcripts for the active session.
type Recognizer struct {
	queue chan string
}

// New creates an injection source with the given queue depth.
func New(depth int) *Recognizer {
	if depth <= 0 {
		depth = 16
	}
	return &Recognizer{queue: make(chan string, depth)}
}

// Name returns the source identifier.
func (r *Recognizer) Name() string { return "http" }

// Inject enqueues a transcript, blocking while the queue is full.
func (r *Recognizer) Inject(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmpty
	}
	select {
	case r.queue <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen delivers queued transcripts until ctx ends.
func (r *Recognizer) Listen(ctx context.Context, onFinal func(string)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text := <-r.queue:
			onFinal(text)
		}
	}
}
