// Package microphone implements a recognizer backed by live audio capture.
//
// Each recognition session opens the capture source, cuts a single
// utterance out of the stream with an energy-based detector, uploads it to
// a Whisper-compatible endpoint and delivers the transcript.
package microphone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nadzzz/macaria/internal/audio"
	"github.com/nadzzz/macaria/internal/config"
	"github.com/nadzzz/macaria/internal/recognizer"
)

const (
	frameDuration = 20 * time.Millisecond
	frameSamples  = sampleRate / 50
	prerollFrames = 10
)

// Recognizer captures one utterance per session.
type Recognizer struct {
	source      Source
	transcriber Transcriber
	seg         segmenter
	logger      *slog.Logger
}

// New creates a microphone recognizer.
func New(cfg config.MicrophoneConfig, source Source, transcriber Transcriber) *Recognizer {
	silenceFrames := int(cfg.SilenceHold / frameDuration)
	maxFrames := int(cfg.MaxUtterance / frameDuration)
	if maxFrames <= 0 {
		maxFrames = int(15 * time.Second / frameDuration)
	}
	return &Recognizer{
		source:      source,
		transcriber: transcriber,
		seg: segmenter{
			vad:       newVAD(cfg.SpeechThreshold, cfg.SilenceThreshold, silenceFrames),
			frameSize: frameSamples,
			preroll:   prerollFrames,
			maxFrames: maxFrames,
		},
		logger: slog.With("component", "recognizer", "source", "microphone"),
	}
}

// Name returns the recognizer identifier.
func (r *Recognizer) Name() string { return "microphone" }

// Listen captures, transcribes and delivers a single utterance. Empty
// transcripts end the session without a callback.
func (r *Recognizer) Listen(ctx context.Context, onFinal func(string)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, stop, err := r.source.Open(ctx)
	if err != nil {
		return err
	}
	defer stop()

	samples, err := r.seg.next(ctx, chunks)
	if err != nil {
		if errors.Is(err, errSourceClosed) && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	stop()

	pcm := audio.PCM{Samples: samples, SampleRate: sampleRate}
	r.logger.Debug("utterance captured", "seconds", pcm.Duration())

	text, err := r.transcriber.Transcribe(ctx, audio.EncodeMono16(samples, sampleRate))
	if err != nil {
		return fmt.Errorf("transcribe utterance: %w", err)
	}
	if text == "" {
		return nil
	}
	onFinal(text)
	return nil
}

var _ recognizer.Recognizer = (*Recognizer)(nil)
