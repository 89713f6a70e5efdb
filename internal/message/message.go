// Package message defines the core data types flowing through the macaria pipeline.
package message

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nadzzz/macaria/internal/textnorm"
)

// Command is a motion command from the closed vocabulary. The underlying
// string is the exact label the classifiers are asked to produce.
type Command string

const (
	// Advance moves forward.
	Advance Command = "avanzar"

	// Reverse moves backward.
	Reverse Command = "retroceder"

	// Stop halts all motion.
	Stop Command = "detener"

	TurnRight      Command = "vuelta derecha"
	TurnLeft       Command = "vuelta izquierda"
	Rotate90Right  Command = "90° derecha"
	Rotate90Left   Command = "90° izquierda"
	Rotate360Right Command = "360° derecha"
	Rotate360Left  Command = "360° izquierda"

	// Unrecognized is the only valid answer when nothing else fits. Every
	// label outside the vocabulary collapses to it.
	Unrecognized Command = "Orden no reconocida"
)

// vocabulary lists the closed set in canonical order.
var vocabulary = []Command{
	Advance,
	Reverse,
	Stop,
	TurnRight,
	TurnLeft,
	Rotate90Right,
	Rotate90Left,
	Rotate360Right,
	Rotate360Left,
	Unrecognized,
}

var tags = map[Command]string{
	Advance:        "advance",
	Reverse:        "reverse",
	Stop:           "stop",
	TurnRight:      "turn-right",
	TurnLeft:       "turn-left",
	Rotate90Right:  "rotate-90-right",
	Rotate90Left:   "rotate-90-left",
	Rotate360Right: "rotate-360-right",
	Rotate360Left:  "rotate-360-left",
	Unrecognized:   "unrecognized",
}

// Vocabulary returns a copy of the closed command set in canonical order.
func Vocabulary() []Command {
	out := make([]Command, len(vocabulary))
	copy(out, vocabulary)
	return out
}

// ParseCommand reports whether s is exactly one of the vocabulary labels.
// No trimming or case folding is applied.
func ParseCommand(s string) (Command, bool) {
	c := Command(s)
	_, ok := tags[c]
	return c, ok
}

// Validate returns s as a Command when it is an exact vocabulary member and
// Unrecognized otherwise.
func Validate(s string) Command {
	if c, ok := ParseCommand(s); ok {
		return c
	}
	return Unrecognized
}

// String returns the label.
func (c Command) String() string { return string(c) }

// Tag returns the stable English identifier of the command, or "" when c is
// not a vocabulary member.
func (c Command) Tag() string { return tags[c] }

// Recognized reports whether c is a vocabulary member other than Unrecognized.
func (c Command) Recognized() bool {
	_, ok := tags[c]
	return ok && c != Unrecognized
}

// Utterance is one finalized transcript delivered by a recognizer.
type Utterance struct {
	// ID is a unique identifier for this utterance (UUID).
	ID string `json:"id"`

	// Seq increases monotonically across the process lifetime.
	Seq uint64 `json:"seq"`

	// Text is the raw transcript as delivered by the recognizer.
	Text string `json:"text"`

	// Normalized is Text after textnorm.Normalize.
	Normalized string `json:"normalized"`

	// Source names the recognizer that produced it (e.g., "mqtt", "microphone").
	Source string `json:"source,omitempty"`

	// ReceivedAt is when the transcript entered the pipeline.
	ReceivedAt time.Time `json:"received_at"`
}

var utteranceSeq atomic.Uint64

// NewUtterance stamps a transcript with an ID, sequence number and arrival time.
func NewUtterance(text, source string, now time.Time) Utterance {
	return Utterance{
		ID:         uuid.NewString(),
		Seq:        utteranceSeq.Add(1),
		Text:       text,
		Normalized: textnorm.Normalize(text),
		Source:     source,
		ReceivedAt: now,
	}
}
