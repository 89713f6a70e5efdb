package microphone

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/nadzzz/macaria/internal/recognizer"
)

const (
	sampleRate     = 16000
	chunkSizeBytes = 640 // 20ms @ 16kHz mono s16
)

// Source produces a stream of mono 16 kHz sample chunks.
type Source interface {
	// Open starts capture. The returned stop function releases the device.
	Open(ctx context.Context) (<-chan []int16, func(), error)
}

// PulseSource captures from a PulseAudio/PipeWire input.
type PulseSource struct {
	Device string // source name; empty selects the server default
}

// Open connects to the Pulse server and starts a record stream. A missing
// server is reported as recognizer.ErrUnsupported.
func (p PulseSource) Open(ctx context.Context) (<-chan []int16, func(), error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("macaria"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect pulse server: %w: %v", recognizer.ErrUnsupported, err)
	}

	var source *pulse.Source
	if p.Device == "" {
		source, err = client.DefaultSource()
	} else {
		source, err = client.SourceByID(p.Device)
	}
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("resolve source %q: %w: %v", p.Device, recognizer.ErrUnsupported, err)
	}

	chunks := make(chan []int16, 128)
	var (
		mu      sync.Mutex
		stopped bool
	)
	writer := pulse.NewWriter(writerFunc(func(buf []byte) (int, error) {
		samples := make([]int16, len(buf)/2)
		for i := range samples {
			samples[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
		}
		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			select {
			case chunks <- samples:
			default: // consumer is behind; drop the chunk
			}
		}
		return len(buf), nil
	}), pulseproto.FormatInt16LE)

	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordBufferFragmentSize(chunkSizeBytes),
		pulse.RecordMediaName("macaria voice commands"),
	)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	stream.Start()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			stream.Stop()
			stream.Close()
			client.Close()
			mu.Lock()
			stopped = true
			close(chunks)
			mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return chunks, stop, nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
