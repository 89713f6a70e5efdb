package piper

import (
	"context"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nadzzz/macaria/internal/audio"
	"github.com/nadzzz/macaria/internal/config"
	"github.com/nadzzz/macaria/internal/tts"
)

func TestVoiceFor(t *testing.T) {
	s := New(config.TTSConfig{
		Gender: "male",
		Piper: config.PiperConfig{
			Endpoint: "tcp://localhost:10200",
			Voices:   map[string]string{"es_ES": "es_ES-custom", "en": "en_GB-alan-medium"},
		},
	})
	require.Equal(t, "localhost:10200", s.endpoint)

	require.Equal(t, "explicit", s.voiceFor(tts.Request{Voice: "explicit", Locale: "es-MX"}))
	require.Equal(t, "es_ES-custom", s.voiceFor(tts.Request{Locale: "es-ES"}))
	require.Equal(t, "en_GB-alan-medium", s.voiceFor(tts.Request{Locale: "en-US"}))
	require.Equal(t, "es_MX-ald-medium", s.voiceFor(tts.Request{Locale: "es-MX"}))
	require.Equal(t, Catalog[0].Name, s.voiceFor(tts.Request{Locale: "ja-JP"}))
}

func TestEventRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = writeEvent(client, wyomingEvent{Type: "audio-chunk", Data: map[string]any{"rate": 16000}}, []byte{1, 2, 3})
	}()

	evt, payload, err := readEvent(server)
	require.NoError(t, err)
	require.Equal(t, "audio-chunk", evt.Type)
	require.Equal(t, float64(16000), evt.Data["rate"])
	require.Equal(t, []byte{1, 2, 3}, payload)
}

// fakeServer answers one synthesize request with two audio chunks.
func fakeServer(t *testing.T, conn net.Conn, voices chan<- string) {
	defer conn.Close()
	evt, _, err := readEvent(conn)
	if err != nil {
		t.Errorf("reading synthesize event: %v", err)
		return
	}
	voice, _ := evt.Data["voice"].(map[string]any)
	name, _ := voice["name"].(string)
	voices <- name

	pcm := make([]byte, 8)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(1000*i)))
	}
	_ = writeEvent(conn, wyomingEvent{Type: "audio-start", Data: map[string]any{"rate": 22050, "width": 2, "channels": 1}}, nil)
	_ = writeEvent(conn, wyomingEvent{Type: "audio-chunk"}, pcm[:4])
	_ = writeEvent(conn, wyomingEvent{Type: "audio-chunk"}, pcm[4:])
	_ = writeEvent(conn, wyomingEvent{Type: "audio-stop"}, nil)
}

func TestSynthesize(t *testing.T) {
	s := New(config.TTSConfig{Gender: "female", Piper: config.PiperConfig{Endpoint: "piper:10200"}})
	voices := make(chan string, 1)
	var dialed string
	s.dial = func(_ context.Context, addr string) (net.Conn, error) {
		dialed = addr
		client, server := net.Pipe()
		go fakeServer(t, server, voices)
		return client, nil
	}

	res, err := s.Synthesize(context.Background(), tts.Request{Text: "Hola", Locale: "es-MX"})
	require.NoError(t, err)
	require.Equal(t, "piper:10200", dialed)
	require.Equal(t, "es_MX-claude-high", <-voices)
	require.Equal(t, 22050, res.SampleRate)

	pcm, err := audio.DecodeWAV(res.Audio)
	require.NoError(t, err)
	require.Equal(t, []int16{0, 1000, 2000, 3000}, pcm.Samples)
}

func TestSynthesizeServerError(t *testing.T) {
	s := New(config.TTSConfig{Piper: config.PiperConfig{Endpoints: map[string]string{"es": "es-piper:10200"}}})
	s.dial = func(_ context.Context, addr string) (net.Conn, error) {
		require.Equal(t, "es-piper:10200", addr)
		client, server := net.Pipe()
		go func() {
			defer server.Close()
			_, _, _ = readEvent(server)
			_ = writeEvent(server, wyomingEvent{Type: "error", Data: map[string]any{"text": "voice not found"}}, nil)
		}()
		return client, nil
	}

	_, err := s.Synthesize(context.Background(), tts.Request{Text: "Hola", Locale: "es-MX"})
	require.ErrorContains(t, err, "voice not found")
}

func TestSynthesizeRequiresEndpoint(t *testing.T) {
	s := New(config.TTSConfig{})
	_, err := s.Synthesize(context.Background(), tts.Request{Text: "Hola", Locale: "es-MX"})
	require.ErrorContains(t, err, "no piper endpoint")

	_, err = s.Synthesize(context.Background(), tts.Request{})
	require.Error(t, err)
}
