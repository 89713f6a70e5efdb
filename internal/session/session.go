// Package session implements the interaction state machine.
//
// A Machine owns the Suspended/Active lifecycle, the idle timer and the
// recognizer restart loop. Every input arrives as an Event on a single
// channel and is handled by the Run goroutine, so state is never mutated
// concurrently. Remote classifications run in their own goroutines and
// post their results back as ClassificationDone events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/nadzzz/macaria/internal/config"
	"github.com/nadzzz/macaria/internal/dispatch"
	"github.com/nadzzz/macaria/internal/message"
	"github.com/nadzzz/macaria/internal/metrics"
	"github.com/nadzzz/macaria/internal/recognizer"
	"github.com/nadzzz/macaria/internal/status"
	"github.com/nadzzz/macaria/internal/textnorm"
)

// State is the interaction state.
type State string

const (
	Suspended State = "suspended"
	Active    State = "active"
)

const (
	eventWake = "wake"
	eventIdle = "idle"
)

// EventKind tags the events consumed by the loop.
type EventKind int

const (
	UtteranceFinal EventKind = iota
	SessionEnded
	SessionError
	SessionUnsupported
	SessionExhausted
	ClassificationDone
	IdleTimeout
	Reconfigure
)

var eventKindNames = map[EventKind]string{
	UtteranceFinal:     "utterance_final",
	SessionEnded:       "session_ended",
	SessionError:       "session_error",
	SessionUnsupported: "session_unsupported",
	SessionExhausted:   "session_exhausted",
	ClassificationDone: "classification_done",
	IdleTimeout:        "idle_timeout",
	Reconfigure:        "reconfigure",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one input to the loop. Only the fields relevant to Kind are set.
type Event struct {
	Kind     EventKind
	Text     string
	Source   string
	Err      error
	Seq      uint64
	Result   dispatch.Result
	Settings Settings

	timerGen uint64
}

// Classifier is the part of the classification pipeline the machine uses.
type Classifier interface {
	Local(normalized string) (message.Command, bool)
	Remote(ctx context.Context, raw string) dispatch.Result
}

// Settings are the parameters that can change while running.
type Settings struct {
	WakeWord    string
	IdleTimeout time.Duration
}

// Options configure a Machine.
type Options struct {
	WakeWord         string
	IdleTimeout      time.Duration
	RestartDelay     time.Duration
	DropStaleResults bool
	Clock            clock.Clock
}

// OptionsFromConfig maps the session config section to Options.
func OptionsFromConfig(cfg config.SessionConfig) Options {
	return Options{
		WakeWord:         cfg.WakeWord,
		IdleTimeout:      cfg.IdleTimeout,
		RestartDelay:     cfg.RestartDelay,
		DropStaleResults: cfg.DropStaleResults,
	}
}

// Snapshot is a point-in-time view of the machine, safe to read from any
// goroutine.
type Snapshot struct {
	State       State           `json:"state"`
	WakeWord    string          `json:"wake_word"`
	IdleTimeout time.Duration   `json:"idle_timeout"`
	InFlight    int             `json:"in_flight"`
	LastSeq     uint64          `json:"last_seq"`
	LastCommand message.Command `json:"last_command,omitempty"`
}

// Machine is the interaction state machine.
type Machine struct {
	rec    recognizer.Recognizer
	cls    Classifier
	sink   status.Sink
	clock  clock.Clock
	logger *slog.Logger
	events chan Event
	fsm    *fsm.FSM

	// Owned by the Run goroutine.
	wakeWord     string
	wakeLabel    string
	idle         time.Duration
	restartDelay time.Duration
	dropStale    bool
	latestSeq    uint64
	inflight     int
	degraded     bool
	exhausted    bool
	timerGen     uint64
	timer        clock.Timer
	timerStop    chan struct{}

	wg sync.WaitGroup

	mu   sync.RWMutex
	snap Snapshot
}

// New creates a Machine in the Suspended state. rec may be nil when
// utterances only arrive through Inject.
func New(rec recognizer.Recognizer, cls Classifier, sink status.Sink, opts Options) *Machine {
	if sink == nil {
		sink = status.Discard{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.WakeWord == "" {
		opts.WakeWord = "macaria"
	}
	m := &Machine{
		rec:          rec,
		cls:          cls,
		sink:         sink,
		clock:        opts.Clock,
		logger:       slog.With("component", "session"),
		events:       make(chan Event, 64),
		restartDelay: opts.RestartDelay,
		dropStale:    opts.DropStaleResults,
	}
	m.applySettings(Settings{WakeWord: opts.WakeWord, IdleTimeout: opts.IdleTimeout})
	m.snap.State = Suspended

	m.fsm = fsm.NewFSM(
		string(Suspended),
		fsm.Events{
			{Name: eventWake, Src: []string{string(Suspended)}, Dst: string(Active)},
			{Name: eventIdle, Src: []string{string(Active)}, Dst: string(Suspended)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.logger.Info("state changed", "event", e.Event, "from", e.Src, "to", e.Dst)
				m.updateSnapshot(func(s *Snapshot) { s.State = State(e.Dst) })
				if State(e.Dst) == Active {
					metrics.Active.Set(1)
				} else {
					metrics.Active.Set(0)
				}
			},
		},
	)
	return m
}

// State returns the current interaction state.
func (m *Machine) State() State {
	return m.Snapshot().State
}

// Snapshot returns a copy of the observable machine state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Inject delivers a finalized transcript as if a recognizer produced it.
func (m *Machine) Inject(ctx context.Context, text string) error {
	return m.send(ctx, Event{Kind: UtteranceFinal, Text: text, Source: "api"})
}

// Reconfigure applies new settings without touching the interaction state.
func (m *Machine) Reconfigure(ctx context.Context, s Settings) error {
	return m.send(ctx, Event{Kind: Reconfigure, Settings: s})
}

func (m *Machine) send(ctx context.Context, ev Event) error {
	select {
	case m.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) post(ctx context.Context, ev Event) {
	_ = m.send(ctx, ev)
}

// Run consumes events until ctx is cancelled or the recognizer reports a
// terminal condition. It returns an error wrapping
// recognizer.ErrUnsupported when speech recognition is unavailable and nil
// otherwise.
func (m *Machine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		m.stopIdle()
		m.wg.Wait()
	}()

	m.sink.SetMode(status.ModeSuspended)
	m.sink.SetCommand(status.NoCommand)
	m.sink.SetSubstatus(fmt.Sprintf("Esperando %q...", m.wakeLabel))
	m.armIdle(ctx)
	m.startListener(ctx, 0)

	m.logger.Info("session started", "wake_word", m.wakeLabel, "idle_timeout", m.idle)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("session stopped")
			return nil
		case ev := <-m.events:
			done, err := m.handle(ctx, ev)
			if done {
				return err
			}
		}
	}
}

func (m *Machine) handle(ctx context.Context, ev Event) (bool, error) {
	switch ev.Kind {
	case UtteranceFinal:
		m.onUtterance(ctx, ev)
	case ClassificationDone:
		m.onClassified(ev)
		if m.exhausted && m.inflight == 0 {
			m.logger.Info("all classifications settled")
			return true, nil
		}
	case IdleTimeout:
		m.onIdle(ctx, ev)
	case SessionEnded:
		metrics.RecognizerRestartsTotal.WithLabelValues("ended").Inc()
		m.recover()
		m.startListener(ctx, m.restartDelay)
	case SessionError:
		metrics.RecognizerRestartsTotal.WithLabelValues("error").Inc()
		m.logger.Warn("recognition session failed, restarting", "error", ev.Err)
		m.degraded = true
		m.sink.SetMode(status.ModeError)
		m.sink.SetSubstatus("Error STT: " + errorText(ev.Err))
		m.startListener(ctx, m.restartDelay)
	case SessionUnsupported:
		m.logger.Error("speech recognition unsupported", "error", ev.Err)
		m.sink.SetMode(status.ModeUnsupported)
		m.sink.SetSubstatus("El entorno no soporta reconocimiento de voz.")
		if ev.Err == nil {
			return true, recognizer.ErrUnsupported
		}
		return true, ev.Err
	case SessionExhausted:
		m.logger.Info("transcript source exhausted", "in_flight", m.inflight)
		m.exhausted = true
		return m.inflight == 0, nil
	case Reconfigure:
		m.applySettings(ev.Settings)
		m.logger.Info("session reconfigured", "wake_word", m.wakeLabel, "idle_timeout", m.idle)
	default:
		m.logger.Warn("unknown event", "kind", ev.Kind)
	}
	return false, nil
}

func (m *Machine) onUtterance(ctx context.Context, ev Event) {
	raw := strings.TrimSpace(ev.Text)
	if raw == "" {
		return
	}
	u := message.NewUtterance(raw, ev.Source, m.clock.Now())
	m.latestSeq = u.Seq
	defer m.updateSnapshot(func(s *Snapshot) { s.LastSeq = u.Seq })

	state := State(m.fsm.Current())
	metrics.UtterancesTotal.WithLabelValues(string(state)).Inc()
	m.logger.Debug("utterance received", "utterance_id", u.ID, "seq", u.Seq, "source", u.Source, "state", state)

	m.recover()
	m.sink.SetTranscript(raw)
	m.armIdle(ctx)

	normalized := u.Normalized
	wake := textnorm.Contains(normalized, m.wakeWord)

	if state == Suspended {
		if !wake {
			m.sink.SetSubstatus(fmt.Sprintf("Suspendido. Di %q para despertar.", m.wakeLabel))
			return
		}
		if err := m.fsm.Event(ctx, eventWake); err != nil {
			m.logger.Error("wake transition failed", "error", err)
			return
		}
		m.sink.SetMode(status.ModeActive)
		m.sink.SetSubstatus("Despierta. Escuchando órdenes…")
		return
	}

	if wake {
		m.sink.SetSubstatus("Wake word detectada (activo).")
		return
	}

	if cmd, ok := m.cls.Local(normalized); ok {
		m.logger.Info("command recognized", "path", dispatch.PathLocal, "command", cmd, "seq", u.Seq)
		m.emit(cmd)
		m.sink.SetSubstatus("Orden reconocida (local).")
		return
	}

	m.sink.SetSubstatus("Procesando con IA…")
	m.inflight++
	m.updateSnapshot(func(s *Snapshot) { s.InFlight = m.inflight })
	m.wg.Add(1)
	go func(seq uint64) {
		defer m.wg.Done()
		res := m.cls.Remote(ctx, raw)
		m.post(ctx, Event{Kind: ClassificationDone, Seq: seq, Result: res})
	}(u.Seq)
}

func (m *Machine) onClassified(ev Event) {
	m.inflight--
	m.updateSnapshot(func(s *Snapshot) { s.InFlight = m.inflight })

	// The credential source may have changed the mode during this cycle.
	if ev.Result.CredentialMissing {
		m.degraded = true
	}

	stale := ev.Seq != m.latestSeq || State(m.fsm.Current()) == Suspended
	if stale && m.dropStale {
		metrics.StaleResultsTotal.Inc()
		m.logger.Info("stale classification dropped", "seq", ev.Seq, "latest_seq", m.latestSeq, "command", ev.Result.Command)
		return
	}

	res := ev.Result
	if res.CredentialMissing {
		m.sink.SetMode(status.ModeNoCredential)
		m.sink.SetSubstatus("No hay API Key disponible.")
	}
	m.logger.Info("command recognized", "path", res.Path, "backend", res.Backend, "command", res.Command, "seq", ev.Seq, "duration", res.Latency)
	m.emit(res.Command)
	if res.Command.Recognized() {
		m.sink.SetSubstatus("Orden reconocida.")
	} else {
		m.sink.SetSubstatus("No se reconoció una orden válida.")
	}
}

func (m *Machine) onIdle(ctx context.Context, ev Event) {
	if ev.timerGen != m.timerGen {
		return
	}
	m.timer, m.timerStop = nil, nil
	if State(m.fsm.Current()) != Active {
		return
	}
	if err := m.fsm.Event(ctx, eventIdle); err != nil {
		m.logger.Error("idle transition failed", "error", err)
		return
	}
	m.sink.SetMode(status.ModeSuspended)
	m.sink.SetSubstatus(fmt.Sprintf("Suspendido por inactividad. Di %q para despertar.", m.wakeLabel))
	m.sink.SetCommand(status.NoCommand)
	m.updateSnapshot(func(s *Snapshot) { s.LastCommand = "" })
}

func (m *Machine) emit(cmd message.Command) {
	m.sink.SetCommand(string(cmd))
	m.updateSnapshot(func(s *Snapshot) { s.LastCommand = cmd })
}

// recover restores the mode after a recognition error or a missing
// credential once input flows again.
func (m *Machine) recover() {
	if !m.degraded {
		return
	}
	m.degraded = false
	if State(m.fsm.Current()) == Active {
		m.sink.SetMode(status.ModeActive)
		m.sink.SetSubstatus("Escuchando órdenes…")
		return
	}
	m.sink.SetMode(status.ModeSuspended)
	m.sink.SetSubstatus(fmt.Sprintf("Esperando %q...", m.wakeLabel))
}

func (m *Machine) applySettings(s Settings) {
	if w := strings.TrimSpace(s.WakeWord); w != "" {
		m.wakeLabel = w
		m.wakeWord = textnorm.Normalize(w)
	}
	if s.IdleTimeout > 0 {
		m.idle = s.IdleTimeout
	}
	m.updateSnapshot(func(snap *Snapshot) {
		snap.WakeWord = m.wakeLabel
		snap.IdleTimeout = m.idle
	})
}

func (m *Machine) updateSnapshot(fn func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.snap)
}

// armIdle replaces the idle timer. At most one timer is alive at a time.
func (m *Machine) armIdle(ctx context.Context) {
	m.stopIdle()
	if m.idle <= 0 {
		return
	}
	m.timerGen++
	gen := m.timerGen
	t := m.clock.NewTimer(m.idle)
	stop := make(chan struct{})
	m.timer, m.timerStop = t, stop

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-t.C():
			m.post(ctx, Event{Kind: IdleTimeout, timerGen: gen})
		case <-stop:
		case <-ctx.Done():
		}
	}()
}

func (m *Machine) stopIdle() {
	if m.timer == nil {
		return
	}
	m.timer.Stop()
	close(m.timerStop)
	m.timer, m.timerStop = nil, nil
}

// startListener runs one recognition session in the background and posts
// how it ended. The listener is not tracked by the wait group: some
// sources block on reads that cannot be interrupted.
func (m *Machine) startListener(ctx context.Context, delay time.Duration) {
	if m.rec == nil || m.exhausted {
		return
	}
	go func() {
		if delay > 0 {
			select {
			case <-m.clock.After(delay):
			case <-ctx.Done():
				return
			}
		}
		source := m.rec.Name()
		err := m.rec.Listen(ctx, func(text string) {
			m.post(ctx, Event{Kind: UtteranceFinal, Text: text, Source: source})
		})
		if ctx.Err() != nil {
			return
		}
		switch {
		case err == nil:
			m.post(ctx, Event{Kind: SessionEnded})
		case errors.Is(err, recognizer.ErrUnsupported):
			m.post(ctx, Event{Kind: SessionUnsupported, Err: err})
		case errors.Is(err, recognizer.ErrExhausted):
			m.post(ctx, Event{Kind: SessionExhausted})
		default:
			m.post(ctx, Event{Kind: SessionError, Err: err})
		}
	}()
}

func errorText(err error) string {
	if err == nil {
		return "desconocido"
	}
	return err.Error()
}
