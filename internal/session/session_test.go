package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/nadzzz/macaria/internal/credential"
	"github.com/nadzzz/macaria/internal/dispatch"
	"github.com/nadzzz/macaria/internal/interpreter/fastpath"
	"github.com/nadzzz/macaria/internal/message"
	"github.com/nadzzz/macaria/internal/recognizer"
	"github.com/nadzzz/macaria/internal/status"
)

const idle = 20 * time.Second

// remoteStub answers by utterance text. A gate, when present, holds the
// answer until it is closed.
type remoteStub struct {
	mu      sync.Mutex
	answers map[string]message.Command
	gates   map[string]chan struct{}
	calls   []string
}

func newRemoteStub() *remoteStub {
	return &remoteStub{answers: map[string]message.Command{}, gates: map[string]chan struct{}{}}
}

func (r *remoteStub) Name() string { return "stub" }

func (r *remoteStub) Classify(ctx context.Context, text, credential string) message.Command {
	r.mu.Lock()
	r.calls = append(r.calls, text)
	gate := r.gates[text]
	answer, ok := r.answers[text]
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return message.Unrecognized
		}
	}
	if credential == "" || !ok {
		return message.Unrecognized
	}
	return answer
}

func (r *remoteStub) Close() error { return nil }

func (r *remoteStub) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *remoteStub) answer(text string, cmd message.Command) { r.answers[text] = cmd }

func (r *remoteStub) hold(text string) chan struct{} {
	ch := make(chan struct{})
	r.gates[text] = ch
	return ch
}

type fixedKey string

func (k fixedKey) Get(context.Context) string { return string(k) }

// failingKey reports a lookup failure on the board the way the provider does.
type failingKey struct{ board *status.Board }

func (k failingKey) Get(context.Context) string {
	k.board.SetMode(status.ModeCredentialError)
	k.board.SetSubstatus("No se pudo cargar la API Key.")
	return ""
}

// idleRecognizer keeps a session open until the context ends.
type idleRecognizer struct{}

func (idleRecognizer) Name() string { return "idle" }

func (idleRecognizer) Listen(ctx context.Context, _ func(string)) error {
	<-ctx.Done()
	return ctx.Err()
}

// scriptRecognizer ends each session with the next queued result.
type scriptRecognizer struct {
	results  chan error
	lines    chan string
	sessions atomic.Int32
}

func newScriptRecognizer() *scriptRecognizer {
	return &scriptRecognizer{results: make(chan error, 8), lines: make(chan string, 8)}
}

func (s *scriptRecognizer) Name() string { return "script" }

func (s *scriptRecognizer) Listen(ctx context.Context, onFinal func(string)) error {
	s.sessions.Add(1)
	for {
		select {
		case line := <-s.lines:
			onFinal(line)
		case err := <-s.results:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type harness struct {
	t      *testing.T
	m      *Machine
	board  *status.Board
	clock  *clocktesting.FakeClock
	remote *remoteStub
	cancel context.CancelFunc
	done   chan error
}

type harnessOpts struct {
	rec       recognizer.Recognizer
	key       string
	failKey   bool
	dropStale bool
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	if o.rec == nil {
		o.rec = idleRecognizer{}
	}
	h := &harness{
		t:      t,
		board:  status.NewBoard(),
		clock:  clocktesting.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		remote: newRemoteStub(),
		done:   make(chan error, 1),
	}
	var keys credential.Source = fixedKey(o.key)
	if o.failKey {
		keys = failingKey{board: h.board}
	}
	pipeline := dispatch.New(fastpath.New(), keys, h.remote)
	h.m = New(o.rec, pipeline, h.board, Options{
		WakeWord:         "macaria",
		IdleTimeout:      idle,
		DropStaleResults: o.dropStale,
		Clock:            h.clock,
	})
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.m.Run(ctx) }()
	h.t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			h.t.Error("machine did not stop")
		}
	})
}

func (h *harness) say(text string) {
	h.t.Helper()
	seq := h.m.Snapshot().LastSeq
	require.NoError(h.t, h.m.Inject(context.Background(), text))
	require.Eventually(h.t, func() bool { return h.m.Snapshot().LastSeq > seq }, time.Second, 5*time.Millisecond)
}

func (h *harness) eventually(fn func(status.Snapshot) bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return fn(h.board.Snapshot()) }, time.Second, 5*time.Millisecond, msg)
}

func (h *harness) wake() {
	h.t.Helper()
	h.say("Macaria")
	require.Equal(h.t, Active, h.m.State())
}

func TestStartsSuspended(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	require.Equal(t, Suspended, h.m.State())
	h.start()
	h.eventually(func(s status.Snapshot) bool { return s.Substatus == `Esperando "macaria"...` }, "initial substatus")
	require.Equal(t, status.ModeSuspended, h.board.Snapshot().Mode)
	require.Equal(t, status.NoCommand, h.board.Snapshot().Command)
}

func TestWakeWordActivatesWithoutEmitting(t *testing.T) {
	h := newHarness(t, harnessOpts{key: "sk"})
	h.start()

	h.say("Macaria avanza")

	require.Equal(t, Active, h.m.State())
	snap := h.board.Snapshot()
	require.Equal(t, status.ModeActive, snap.Mode)
	require.Equal(t, "Macaria avanza", snap.Transcript)
	require.Equal(t, "Despierta. Escuchando órdenes…", snap.Substatus)
	require.Equal(t, status.NoCommand, snap.Command)
	require.Empty(t, h.remote.Calls())
}

func TestSuspendedIgnoresCommands(t *testing.T) {
	h := newHarness(t, harnessOpts{key: "sk"})
	h.start()

	h.say("haz lo contrario de ir hacia atrás")

	require.Equal(t, Suspended, h.m.State())
	snap := h.board.Snapshot()
	require.Equal(t, `Suspendido. Di "macaria" para despertar.`, snap.Substatus)
	require.Equal(t, status.NoCommand, snap.Command)
	require.Equal(t, "haz lo contrario de ir hacia atrás", snap.Transcript)
	require.Empty(t, h.remote.Calls())
}

func TestLocalFastPath(t *testing.T) {
	h := newHarness(t, harnessOpts{key: "sk"})
	h.start()
	h.wake()

	h.say("retrocede por favor")

	snap := h.board.Snapshot()
	require.Equal(t, string(message.Reverse), snap.Command)
	require.Equal(t, "Orden reconocida (local).", snap.Substatus)
	require.Empty(t, h.remote.Calls())
}

func TestRemoteEscalation(t *testing.T) {
	h := newHarness(t, harnessOpts{key: "sk", dropStale: true})
	h.remote.answer("haz lo contrario de ir hacia atrás", message.Advance)
	h.start()
	h.wake()

	h.say("haz lo contrario de ir hacia atrás")

	h.eventually(func(s status.Snapshot) bool { return s.Command == string(message.Advance) }, "remote command")
	require.Equal(t, "Orden reconocida.", h.board.Snapshot().Substatus)
	require.Equal(t, []string{"haz lo contrario de ir hacia atrás"}, h.remote.Calls())
}

func TestRemoteOutsideVocabulary(t *testing.T) {
	h := newHarness(t, harnessOpts{key: "sk", dropStale: true})
	h.remote.answer("cuéntame un chiste", message.Command("sí claro"))
	h.start()
	h.wake()

	h.say("cuéntame un chiste")

	h.eventually(func(s status.Snapshot) bool { return s.Command == string(message.Unrecognized) }, "unrecognized")
	require.Equal(t, "No se reconoció una orden válida.", h.board.Snapshot().Substatus)
}

func TestMissingCredential(t *testing.T) {
	h := newHarness(t, harnessOpts{dropStale: true})
	h.remote.answer("cuéntame un chiste", message.Advance)
	h.start()
	h.wake()

	h.say("cuéntame un chiste")

	h.eventually(func(s status.Snapshot) bool { return s.Command == string(message.Unrecognized) }, "unrecognized")
	require.Equal(t, status.ModeNoCredential, h.board.Snapshot().Mode)
	require.Equal(t, Active, h.m.State())

	h.say("avanza")
	h.eventually(func(s status.Snapshot) bool { return s.Mode == status.ModeActive }, "mode restored")
}

func TestWakeWordWhileActive(t *testing.T) {
	h := newHarness(t, harnessOpts{key: "sk"})
	h.start()
	h.wake()
	h.say("avanza")

	h.say("oye macaria")

	snap := h.board.Snapshot()
	require.Equal(t, "Wake word detectada (activo).", snap.Substatus)
	require.Equal(t, string(message.Advance), snap.Command)
	require.Equal(t, Active, h.m.State())
	require.Empty(t, h.remote.Calls())
}

func TestIdleTimeoutSuspends(t *testing.T) {
	h := newHarness(t, harnessOpts{key: "sk"})
	h.start()
	h.wake()
	h.say("avanza")

	h.clock.Step(idle)

	require.Eventually(t, func() bool { return h.m.State() == Suspended }, time.Second, 5*time.Millisecond)
	h.eventually(func(s status.Snapshot) bool { return s.Command == status.NoCommand }, "command cleared")
	snap := h.board.Snapshot()
	require.Equal(t, status.ModeSuspended, snap.Mode)
	require.Equal(t, `Suspendido por inactividad. Di "macaria" para despertar.`, snap.Substatus)
}

func TestEveryUtteranceResetsIdleTimer(t *testing.T) {
	h := newHarness(t, harnessOpts{key: "sk"})
	h.start()
	h.wake()

	h.clock.Step(idle - time.Second)
	h.say("hola")
	h.clock.Step(idle - time.Second)

	require.Never(t, func() bool { return h.m.State() == Suspended }, 100*time.Millisecond, 10*time.Millisecond)

	h.clock.Step(time.Second)
	require.Eventually(t, func() bool { return h.m.State() == Suspended }, time.Second, 5*time.Millisecond)
}

func TestIdleTimeoutWhileSuspendedIsNoop(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.start()
	h.say("hola")

	h.clock.Step(idle)

	require.Never(t, func() bool { return h.board.Snapshot().Substatus != `Suspendido. Di "macaria" para despertar.` }, 100*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, Suspended, h.m.State())
}

func TestStaleResultDropped(t *testing.T) {
	h := newHarness(t, harnessOpts{key: "sk", dropStale: true})
	h.remote.answer("primera frase rara", message.Rotate90Left)
	h.remote.answer("segunda frase rara", message.Rotate360Right)
	first := h.remote.hold("primera frase rara")
	h.start()
	h.wake()

	h.say("primera frase rara")
	h.say("segunda frase rara")
	h.eventually(func(s status.Snapshot) bool { return s.Command == string(message.Rotate360Right) }, "second result")

	close(first)
	require.Eventually(t, func() bool { return h.m.Snapshot().InFlight == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, string(message.Rotate360Right), h.board.Snapshot().Command)
}

func TestDroppedResultStillRestoresCredentialMode(t *testing.T) {
	h := newHarness(t, harnessOpts{failKey: true, dropStale: true})
	first := h.remote.hold("frase rara")
	h.start()
	h.wake()

	h.say("frase rara")
	h.eventually(func(s status.Snapshot) bool { return s.Mode == status.ModeCredentialError }, "lookup failure reported")
	h.say("avanza")
	h.eventually(func(s status.Snapshot) bool { return s.Command == string(message.Advance) }, "fast path result")

	close(first)
	require.Eventually(t, func() bool { return h.m.Snapshot().InFlight == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, status.ModeCredentialError, h.board.Snapshot().Mode)
	require.Equal(t, string(message.Advance), h.board.Snapshot().Command)

	h.say("avanza")
	require.Equal(t, status.ModeActive, h.board.Snapshot().Mode)
}

func TestLastResolvedWinsWithoutStaleDrop(t *testing.T) {
	h := newHarness(t, harnessOpts{key: "sk", dropStale: false})
	h.remote.answer("primera frase rara", message.Rotate90Left)
	h.remote.answer("segunda frase rara", message.Rotate360Right)
	first := h.remote.hold("primera frase rara")
	h.start()
	h.wake()

	h.say("primera frase rara")
	h.say("segunda frase rara")
	h.eventually(func(s status.Snapshot) bool { return s.Command == string(message.Rotate360Right) }, "second result")

	close(first)
	h.eventually(func(s status.Snapshot) bool { return s.Command == string(message.Rotate90Left) }, "late first result")
}

func TestResultAfterSuspensionDropped(t *testing.T) {
	h := newHarness(t, harnessOpts{key: "sk", dropStale: true})
	h.remote.answer("frase lenta", message.Stop)
	gate := h.remote.hold("frase lenta")
	h.start()
	h.wake()

	h.say("frase lenta")
	h.clock.Step(idle)
	require.Eventually(t, func() bool { return h.m.State() == Suspended }, time.Second, 5*time.Millisecond)

	close(gate)
	require.Eventually(t, func() bool { return h.m.Snapshot().InFlight == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, status.NoCommand, h.board.Snapshot().Command)
}

func TestRecognizerErrorRestartsWithoutStateChange(t *testing.T) {
	rec := newScriptRecognizer()
	h := newHarness(t, harnessOpts{rec: rec, key: "sk"})
	h.start()
	h.wake()

	rec.results <- errors.New("network")

	h.eventually(func(s status.Snapshot) bool { return s.Mode == status.ModeError }, "error mode")
	require.Equal(t, "Error STT: network", h.board.Snapshot().Substatus)
	require.Eventually(t, func() bool { return rec.sessions.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, Active, h.m.State())

	rec.lines <- "avanza"
	h.eventually(func(s status.Snapshot) bool { return s.Command == string(message.Advance) }, "command after restart")
	require.Equal(t, status.ModeActive, h.board.Snapshot().Mode)
}

func TestRecognizerNaturalEndRestarts(t *testing.T) {
	rec := newScriptRecognizer()
	h := newHarness(t, harnessOpts{rec: rec})
	h.start()

	for i := 0; i < 3; i++ {
		rec.results <- nil
	}
	require.Eventually(t, func() bool { return rec.sessions.Load() == 4 }, time.Second, 5*time.Millisecond)
	require.Equal(t, Suspended, h.m.State())
}

func TestUnsupportedStopsRun(t *testing.T) {
	rec := newScriptRecognizer()
	h := newHarness(t, harnessOpts{rec: rec})
	done := make(chan error, 1)
	go func() { done <- h.m.Run(context.Background()) }()

	rec.results <- fmt.Errorf("pulse: %w", recognizer.ErrUnsupported)

	select {
	case err := <-done:
		require.ErrorIs(t, err, recognizer.ErrUnsupported)
	case <-time.After(time.Second):
		t.Fatal("run did not return")
	}
	require.Equal(t, status.ModeUnsupported, h.board.Snapshot().Mode)
	require.Equal(t, int32(1), rec.sessions.Load())
}

func TestExhaustedWaitsForInflight(t *testing.T) {
	rec := newScriptRecognizer()
	h := newHarness(t, harnessOpts{rec: rec, key: "sk", dropStale: true})
	h.remote.answer("frase lenta", message.TurnLeft)
	gate := h.remote.hold("frase lenta")
	done := make(chan error, 1)
	go func() { done <- h.m.Run(context.Background()) }()

	rec.lines <- "macaria"
	rec.lines <- "frase lenta"
	require.Eventually(t, func() bool { return h.m.Snapshot().InFlight == 1 }, time.Second, 5*time.Millisecond)
	rec.results <- recognizer.ErrExhausted

	require.Never(t, func() bool { return len(done) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	close(gate)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not return")
	}
	require.Equal(t, string(message.TurnLeft), h.board.Snapshot().Command)
}

func TestReconfigure(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.start()

	require.NoError(t, h.m.Reconfigure(context.Background(), Settings{WakeWord: "Robot", IdleTimeout: time.Minute}))
	require.Eventually(t, func() bool { return h.m.Snapshot().WakeWord == "Robot" }, time.Second, 5*time.Millisecond)
	require.Equal(t, time.Minute, h.m.Snapshot().IdleTimeout)

	h.say("macaria")
	require.Equal(t, Suspended, h.m.State())

	h.say("hola robot")
	require.Equal(t, Active, h.m.State())

	h.clock.Step(idle)
	require.Never(t, func() bool { return h.m.State() == Suspended }, 100*time.Millisecond, 10*time.Millisecond)
	h.clock.Step(time.Minute - idle)
	require.Eventually(t, func() bool { return h.m.State() == Suspended }, time.Second, 5*time.Millisecond)
}

func TestBlankUtteranceIgnored(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.start()
	require.NoError(t, h.m.Inject(context.Background(), "   "))
	h.say("hola")
	require.Equal(t, "hola", h.board.Snapshot().Transcript)
}

func TestEventKindString(t *testing.T) {
	require.Equal(t, "classification_done", ClassificationDone.String())
	require.Equal(t, "event(99)", EventKind(99).String())
}
