package microphone

import (
	"context"
	"errors"
)

// errSourceClosed is returned when the frame channel closes mid-segment.
var errSourceClosed = errors.New("audio source closed")

// segmenter cuts one utterance out of a continuous frame stream.
type segmenter struct {
	vad       *rmsVAD
	frameSize int // samples per VAD frame
	preroll   int // frames kept from before speech onset
	maxFrames int // hard cap on utterance length
}

// next blocks until one utterance has been captured. Speech onset is padded
// with the preroll frames so leading consonants survive detection latency.
func (s *segmenter) next(ctx context.Context, chunks <-chan []int16) ([]int16, error) {
	s.vad.reset()
	var (
		pending  []int16
		ring     [][]int16
		captured []int16
		frames   int
		speaking bool
	)

	for {
		var chunk []int16
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				if speaking {
					return captured, nil
				}
				return nil, errSourceClosed
			}
			chunk = c
		}

		pending = append(pending, chunk...)
		for len(pending) >= s.frameSize {
			frame := pending[:s.frameSize:s.frameSize]
			pending = pending[s.frameSize:]

			active := s.vad.isSpeech(frame)
			switch {
			case !speaking && active:
				speaking = true
				for _, f := range ring {
					captured = append(captured, f...)
				}
				ring = nil
				captured = append(captured, frame...)
				frames = 1
			case !speaking:
				ring = append(ring, frame)
				if len(ring) > s.preroll {
					ring = ring[1:]
				}
			default:
				captured = append(captured, frame...)
				frames++
				if !active || frames >= s.maxFrames {
					return captured, nil
				}
			}
		}
	}
}
