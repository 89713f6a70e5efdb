// Package piper implements the TTS Synthesizer using a Piper Wyoming protocol server.
//
// Piper is a fast, local neural text-to-speech system. The linuxserver/piper
// container exposes the Wyoming protocol on TCP port 10200.
//
// Wyoming protocol format (per event):
//
//	<json_length> <payload_length>\n
//	<json_bytes>\n
//	<payload_bytes>   (if payload_length > 0)
package piper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nadzzz/macaria/internal/audio"
	"github.com/nadzzz/macaria/internal/config"
	"github.com/nadzzz/macaria/internal/tts"
)

// Catalog lists the Piper voices considered during selection.
var Catalog = []tts.Voice{
	{Name: "es_MX-claude-high", Locale: "es-MX"},
	{Name: "es_MX-ald-medium", Locale: "es-MX", Gender: "male"},
	{Name: "es_ES-sharvard-medium", Locale: "es-ES"},
	{Name: "es_ES-davefx-medium", Locale: "es-ES", Gender: "male"},
	{Name: "es_ES-mls_10246-low", Locale: "es-ES"},
	{Name: "en_US-lessac-medium", Locale: "en-US", Gender: "female"},
	{Name: "en_US-ryan-medium", Locale: "en-US", Gender: "male"},
}

// Synthesizer implements tts.Synthesizer using the Wyoming protocol.
type Synthesizer struct {
	endpoint  string            // default host:port of the Piper Wyoming server
	endpoints map[string]string // language -> host:port for per-language Piper instances
	voices    map[string]string // locale or language -> voice name overrides
	gender    string
	dial      func(ctx context.Context, addr string) (net.Conn, error)
}

// New creates a new Piper synthesizer from config.
func New(cfg config.TTSConfig) *Synthesizer {
	cleanEndpoint := func(ep string) string {
		ep = strings.TrimPrefix(ep, "tcp://")
		ep = strings.TrimPrefix(ep, "http://")
		return ep
	}

	endpoints := make(map[string]string, len(cfg.Piper.Endpoints))
	for lang, ep := range cfg.Piper.Endpoints {
		endpoints[tts.Language(lang)] = cleanEndpoint(ep)
	}
	voices := make(map[string]string, len(cfg.Piper.Voices))
	for key, v := range cfg.Piper.Voices {
		voices[tts.NormalizeLocale(key)] = v
	}

	dialer := net.Dialer{Timeout: 10 * time.Second}
	return &Synthesizer{
		endpoint:  cleanEndpoint(cfg.Piper.Endpoint),
		endpoints: endpoints,
		voices:    voices,
		gender:    cfg.Gender,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", addr)
		},
	}
}

// Name returns the backend identifier.
func (s *Synthesizer) Name() string { return "piper" }

// voiceFor resolves the voice: explicit request, configured override for
// the locale or its language, then catalog selection.
func (s *Synthesizer) voiceFor(req tts.Request) string {
	if req.Voice != "" {
		return req.Voice
	}
	locale := tts.NormalizeLocale(req.Locale)
	if v := s.voices[locale]; v != "" {
		return v
	}
	if v := s.voices[tts.Language(locale)]; v != "" {
		return v
	}
	if v := tts.SelectVoice(Catalog, locale, s.gender); v != "" {
		return v
	}
	return Catalog[0].Name
}

// Synthesize sends text to the Piper server and returns synthesized audio as WAV.
// Rate and pitch are not part of the Wyoming synthesize event and are ignored.
func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("empty text for synthesis")
	}

	voice := s.voiceFor(req)
	lang := tts.Language(req.Locale)
	endpoint := s.endpoints[lang]
	if endpoint == "" {
		endpoint = s.endpoint
	}
	if endpoint == "" {
		return nil, fmt.Errorf("no piper endpoint configured for language %q", lang)
	}

	slog.Debug("piper synthesize", "text_length", len(req.Text), "voice", voice, "locale", req.Locale, "endpoint", endpoint)

	conn, err := s.dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to piper: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	return synthesize(conn, req.Text, voice)
}

// synthesize runs one synthesize exchange: request, then
// audio-start, audio-chunk*, audio-stop.
func synthesize(rw io.ReadWriter, text, voice string) (*tts.Result, error) {
	synthEvent := wyomingEvent{
		Type: "synthesize",
		Data: map[string]any{
			"text":  text,
			"voice": map[string]any{"name": voice},
		},
	}
	if err := writeEvent(rw, synthEvent, nil); err != nil {
		return nil, fmt.Errorf("sending synthesize event: %w", err)
	}

	var (
		pcmBuf     bytes.Buffer
		sampleRate = 22050
		channels   = 1
		width      = 2
	)
	for {
		evt, payload, err := readEvent(rw)
		if err != nil {
			return nil, fmt.Errorf("reading piper event: %w", err)
		}

		switch evt.Type {
		case "audio-start":
			if rate, ok := evt.Data["rate"].(float64); ok {
				sampleRate = int(rate)
			}
			if ch, ok := evt.Data["channels"].(float64); ok {
				channels = int(ch)
			}
			if w, ok := evt.Data["width"].(float64); ok {
				width = int(w)
			}

		case "audio-chunk":
			pcmBuf.Write(payload)

		case "audio-stop":
			slog.Debug("piper audio-stop", "pcm_bytes", pcmBuf.Len(), "rate", sampleRate)
			return &tts.Result{
				Audio:       audio.EncodeWAV(pcmBuf.Bytes(), sampleRate, channels, width),
				ContentType: "audio/wav",
				SampleRate:  sampleRate,
				Channels:    channels,
			}, nil

		case "error":
			msg := "unknown error"
			if text, ok := evt.Data["text"].(string); ok {
				msg = text
			}
			return nil, fmt.Errorf("piper error: %s", msg)

		default:
			slog.Debug("piper unknown event", "type", evt.Type)
		}
	}
}

// Close is a no-op; connections are per-request.
func (s *Synthesizer) Close() error { return nil }

type wyomingEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

func writeEvent(w io.Writer, evt wyomingEvent, payload []byte) error {
	jsonBytes, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d\n", len(jsonBytes), len(payload))
	buf.Write(jsonBytes)
	buf.WriteByte('\n')
	buf.Write(payload)
	_, err = w.Write(buf.Bytes())
	return err
}

func readEvent(r io.Reader) (*wyomingEvent, []byte, error) {
	header, err := readLine(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}

	jsonPart, payloadPart, ok := strings.Cut(header, " ")
	if !ok {
		return nil, nil, fmt.Errorf("invalid wyoming header: %q", header)
	}
	jsonLen, err := strconv.Atoi(strings.TrimSpace(jsonPart))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing json_length: %w", err)
	}
	payloadLen, err := strconv.Atoi(strings.TrimSpace(payloadPart))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing payload_length: %w", err)
	}

	jsonBuf := make([]byte, jsonLen+1) // trailing \n
	if _, err := io.ReadFull(r, jsonBuf); err != nil {
		return nil, nil, fmt.Errorf("reading json: %w", err)
	}
	var evt wyomingEvent
	if err := json.Unmarshal(jsonBuf[:jsonLen], &evt); err != nil {
		return nil, nil, fmt.Errorf("unmarshalling event: %w", err)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, fmt.Errorf("reading payload: %w", err)
		}
	}
	return &evt, payload, nil
}

// readLine reads up to '\n' one byte at a time so no payload bytes are
// consumed past the header.
func readLine(r io.Reader) (string, error) {
	var line []byte
	b := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, b); err != nil {
			return "", err
		}
		if b[0] == '\n' {
			return string(line), nil
		}
		line = append(line, b[0])
	}
}
