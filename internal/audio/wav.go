// Package audio holds the PCM/WAV helpers and the PulseAudio playback used
// for spoken announcements.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// PCM is mono 16-bit audio.
type PCM struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the length of the clip in seconds.
func (p PCM) Duration() float64 {
	if p.SampleRate == 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// EncodeWAV wraps raw little-endian PCM data in a WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels, bytesPerSample int) []byte {
	dataLen := len(pcm)

	buf := &bytes.Buffer{}
	buf.Grow(44 + dataLen)

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*channels*bytesPerSample))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels*bytesPerSample))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bytesPerSample*8))

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcm)

	return buf.Bytes()
}

// EncodeMono16 encodes mono 16-bit samples as a WAV file.
func EncodeMono16(samples []int16, sampleRate int) []byte {
	raw := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(s))
	}
	return EncodeWAV(raw, sampleRate, 1, 2)
}

// ErrNotWAV is returned for payloads that are not a valid WAV file.
var ErrNotWAV = errors.New("not a valid wav file")

// Format is the header of a WAV file.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// ReadFormat parses the WAV header without decoding any samples.
func ReadFormat(data []byte) (Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Format{}, ErrNotWAV
	}
	return Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}, nil
}

// DecodeWAV decodes a WAV file and downmixes it to mono 16-bit PCM.
func DecodeWAV(data []byte) (PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return PCM{}, ErrNotWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("decoding wav: %w", err)
	}
	return toMono16(buf), nil
}

func toMono16(buf *goaudio.IntBuffer) PCM {
	channels := 1
	rate := 0
	if buf.Format != nil {
		channels = max(buf.Format.NumChannels, 1)
		rate = buf.Format.SampleRate
	}
	shift := buf.SourceBitDepth - 16

	frames := len(buf.Data) / channels
	out := make([]int16, frames)
	for i := range frames {
		sum := 0
		for c := range channels {
			sum += buf.Data[i*channels+c]
		}
		v := sum / channels
		switch {
		case buf.SourceBitDepth == 8:
			v = (v - 128) << 8
		case shift > 0:
			v >>= shift
		}
		out[i] = int16(max(min(v, 32767), -32768))
	}
	return PCM{Samples: out, SampleRate: rate}
}
