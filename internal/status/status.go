// Package status defines the presentation sink the state machine reports to.
//
// A sink exposes four independent slots: the operating mode, the last raw
// transcript, the last resolved command and a free-text substatus line.
// Sinks must be safe for concurrent use.
package status

import (
	"log/slog"
	"sync"
	"time"
)

// Mode is the operating mode shown to the user.
type Mode string

const (
	ModeSuspended       Mode = "Suspendido"
	ModeActive          Mode = "Activo"
	ModeError           Mode = "Error"
	ModeUnsupported     Mode = "No compatible"
	ModeCredentialError Mode = "Error API Key"
	ModeNoCredential    Mode = "Sin API Key"
)

// NoCommand is shown in the command slot when nothing is selected.
const NoCommand = "—"

// Sink receives status updates.
type Sink interface {
	SetMode(Mode)
	SetTranscript(string)
	SetCommand(string)
	SetSubstatus(string)
}

// Snapshot is a point-in-time copy of all four slots.
type Snapshot struct {
	Mode       Mode      `json:"mode"`
	Transcript string    `json:"transcript"`
	Command    string    `json:"command"`
	Substatus  string    `json:"substatus"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Board keeps the latest value of every slot in memory.
type Board struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewBoard returns a board showing the suspended mode and no command.
func NewBoard() *Board {
	b := &Board{now: time.Now}
	b.snap = Snapshot{Mode: ModeSuspended, Command: NoCommand, UpdatedAt: b.now()}
	return b
}

func (b *Board) update(fn func(*Snapshot)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.snap)
	b.snap.UpdatedAt = b.now()
}

func (b *Board) SetMode(m Mode)            { b.update(func(s *Snapshot) { s.Mode = m }) }
func (b *Board) SetTranscript(text string) { b.update(func(s *Snapshot) { s.Transcript = text }) }
func (b *Board) SetCommand(cmd string)     { b.update(func(s *Snapshot) { s.Command = cmd }) }
func (b *Board) SetSubstatus(text string)  { b.update(func(s *Snapshot) { s.Substatus = text }) }

// Snapshot returns a copy of the current slots.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}

// LogSink writes every update as a structured log record.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink logs to logger, or to the default logger when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "status")}
}

func (l *LogSink) SetMode(m Mode)            { l.logger.Info("mode", "mode", string(m)) }
func (l *LogSink) SetTranscript(text string) { l.logger.Info("transcript", "text", text) }
func (l *LogSink) SetCommand(cmd string)     { l.logger.Info("command", "command", cmd) }
func (l *LogSink) SetSubstatus(text string)  { l.logger.Debug("substatus", "text", text) }

// Fanout forwards every update to each sink in order. Nil sinks are skipped.
type Fanout []Sink

// NewFanout drops nil entries.
func NewFanout(sinks ...Sink) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f Fanout) SetMode(m Mode) {
	for _, s := range f {
		s.SetMode(m)
	}
}

func (f Fanout) SetTranscript(text string) {
	for _, s := range f {
		s.SetTranscript(text)
	}
}

func (f Fanout) SetCommand(cmd string) {
	for _, s := range f {
		s.SetCommand(cmd)
	}
}

func (f Fanout) SetSubstatus(text string) {
	for _, s := range f {
		s.SetSubstatus(text)
	}
}

// Discard ignores every update.
type Discard struct{}

func (Discard) SetMode(Mode)         {}
func (Discard) SetTranscript(string) {}
func (Discard) SetCommand(string)    {}
func (Discard) SetSubstatus(string)  {}
