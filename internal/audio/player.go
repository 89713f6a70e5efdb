package audio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jfreymuth/pulse"
)

// Player plays WAV clips.
type Player interface {
	Play(ctx context.Context, wav []byte) error
}

// PulsePlayer plays clips through the default PulseAudio sink.
type PulsePlayer struct {
	appName string
}

// NewPulsePlayer creates a player that connects per clip.
func NewPulsePlayer() *PulsePlayer {
	return &PulsePlayer{appName: "macaria"}
}

// Play decodes the clip and blocks until it has drained or ctx ends.
func (p *PulsePlayer) Play(ctx context.Context, wav []byte) error {
	clip, err := DecodeWAV(wav)
	if err != nil {
		return err
	}
	if len(clip.Samples) == 0 {
		return nil
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName(p.appName),
		pulse.ClientApplicationIconName("audio-speakers"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	stream, err := client.NewPlayback(
		samplesReader(ctx, clip.Samples),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(clip.SampleRate),
		pulse.PlaybackMediaName("macaria speech"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.Debug("playback complete", "seconds", clip.Duration())
	return nil
}

// samplesReader feeds samples to pulse and signals EndOfData on the last
// chunk or once ctx is done.
func samplesReader(ctx context.Context, samples []int16) pulse.Int16Reader {
	cursor := 0
	return func(buf []int16) (int, error) {
		if cursor >= len(samples) || ctx.Err() != nil {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	}
}
