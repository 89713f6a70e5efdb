package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/nadzzz/macaria/internal/audio"
	"github.com/nadzzz/macaria/internal/config"
	"github.com/nadzzz/macaria/internal/metrics"
)

const explanationTemplate = `Hola. Soy Macaria, tu asistente de control por voz.

Estoy lista para ayudarte.
Puedes decir comandos como avanzar, retroceder, detener,
vuelta derecha, vuelta izquierda,
noventa grados derecha o izquierda,
o giro completo de trescientos sesenta grados.

Si no detecto voz durante unos segundos,
entro en modo suspendido.

Para activarme, solo di: %s, seguido de una instrucción.

Estoy lista para recibir tus órdenes.`

// Explanation renders the spoken usage help for the given wake word.
func Explanation(wakeWord string) string {
	wakeWord = strings.TrimSpace(wakeWord)
	if wakeWord == "" {
		wakeWord = "macaria"
	}
	r, size := utf8.DecodeRuneInString(wakeWord)
	return fmt.Sprintf(explanationTemplate, string(unicode.ToUpper(r))+wakeWord[size:])
}

// Substatus lines reported while speaking.
const (
	SubstatusGenerating   = "Generando voz..."
	SubstatusDone         = "Listo."
	SubstatusFailed       = "Error al generar voz."
	SubstatusNoCredential = "No hay API Key para generar audio."
)

// Reporter is the part of the status sink the announcer writes to.
type Reporter interface {
	SetSubstatus(string)
}

// Announcer synthesizes text and plays it back. Calls are serialized so
// clips never overlap.
type Announcer struct {
	synth    Synthesizer
	player   audio.Player
	reporter Reporter
	defaults Request
	logger   *slog.Logger
	wakeWord atomic.Value

	mu sync.Mutex
}

// NewAnnouncer wires a synthesizer to a player. player may be nil, in
// which case clips are synthesized and discarded.
func NewAnnouncer(synth Synthesizer, player audio.Player, reporter Reporter, cfg config.TTSConfig) *Announcer {
	a := &Announcer{
		synth:    synth,
		player:   player,
		reporter: reporter,
		defaults: Request{Locale: cfg.Locale, Rate: cfg.Rate, Pitch: cfg.Pitch, Voice: cfg.Voice},
		logger:   slog.With("component", "tts", "backend", synth.Name()),
	}
	a.wakeWord.Store("macaria")
	return a
}

// SetWakeWord changes the wake word named in the usage help. Safe to call
// while speaking.
func (a *Announcer) SetWakeWord(word string) {
	a.wakeWord.Store(word)
}

// Speak synthesizes text with the configured locale and voice, then plays
// it. Start and end are reported on the status sink.
func (a *Announcer) Speak(ctx context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	req := a.defaults
	req.Text = text

	a.report(SubstatusGenerating)
	res, err := a.synth.Synthesize(ctx, req)
	if err != nil {
		return a.fail("synthesize", err)
	}
	if a.player != nil {
		if err := a.player.Play(ctx, res.Audio); err != nil {
			return a.fail("play", err)
		}
	}
	metrics.SynthesisTotal.WithLabelValues(a.synth.Name(), "ok").Inc()
	a.report(SubstatusDone)
	return nil
}

// Explain speaks the usage help.
func (a *Announcer) Explain(ctx context.Context) error {
	return a.Speak(ctx, Explanation(a.wakeWord.Load().(string)))
}

// Close releases the synthesizer.
func (a *Announcer) Close() error {
	return a.synth.Close()
}

func (a *Announcer) fail(stage string, err error) error {
	if errors.Is(err, ErrNoCredential) {
		metrics.SynthesisTotal.WithLabelValues(a.synth.Name(), "no_credential").Inc()
		a.report(SubstatusNoCredential)
	} else {
		metrics.SynthesisTotal.WithLabelValues(a.synth.Name(), "failed").Inc()
		a.report(SubstatusFailed)
	}
	a.logger.Warn("speech failed", "stage", stage, "error", err)
	return fmt.Errorf("%s: %w", stage, err)
}

func (a *Announcer) report(text string) {
	if a.reporter != nil {
		a.reporter.SetSubstatus(text)
	}
}
