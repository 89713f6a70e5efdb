// Package openai implements the TTS Synthesizer using the OpenAI speech API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nadzzz/macaria/internal/audio"
	"github.com/nadzzz/macaria/internal/config"
	"github.com/nadzzz/macaria/internal/credential"
	"github.com/nadzzz/macaria/internal/tts"
)

// Voices lists the built-in OpenAI voices. They are multilingual.
var Voices = []tts.Voice{
	{Name: "shimmer", Gender: "female"},
	{Name: "nova", Gender: "female"},
	{Name: "coral", Gender: "female"},
	{Name: "sage", Gender: "female"},
	{Name: "alloy"},
	{Name: "ash", Gender: "male"},
	{Name: "echo", Gender: "male"},
	{Name: "onyx", Gender: "male"},
	{Name: "fable", Gender: "male"},
}

// Synthesizer calls POST /v1/audio/speech.
type Synthesizer struct {
	endpoint    string
	model       string
	voice       string
	gender      string
	credentials credential.Source
	client      *http.Client
}

// New creates an OpenAI speech synthesizer. The configured voice wins over
// gender-based selection.
func New(cfg config.TTSConfig, credentials credential.Source, timeout time.Duration) *Synthesizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Synthesizer{
		endpoint:    cfg.OpenAI.Endpoint,
		model:       cfg.OpenAI.Model,
		voice:       cfg.OpenAI.Voice,
		gender:      cfg.Gender,
		credentials: credentials,
		client:      &http.Client{Timeout: timeout},
	}
}

// Name returns the backend identifier.
func (s *Synthesizer) Name() string { return "openai" }

// Synthesize requests a WAV clip for the text.
func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("empty text for synthesis")
	}
	var key string
	if s.credentials != nil {
		key = s.credentials.Get(ctx)
	}
	if key == "" {
		return nil, tts.ErrNoCredential
	}

	voice := req.Voice
	if voice == "" {
		voice = s.voice
	}
	if voice == "" {
		voice = tts.SelectVoice(Voices, req.Locale, s.gender)
	}

	body, err := json.Marshal(speechRequest{
		Model:          s.model,
		Voice:          voice,
		Input:          req.Text,
		ResponseFormat: "wav",
		Speed:          clampSpeed(req.Rate),
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("speech failed (status %d): %s", resp.StatusCode, respBody)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading speech response: %w", err)
	}
	res := &tts.Result{Audio: wav, ContentType: "audio/wav"}
	// Playback owns the decode; the header only fills in the metadata.
	if format, err := audio.ReadFormat(wav); err == nil {
		res.SampleRate = format.SampleRate
		res.Channels = format.Channels
	} else {
		slog.Debug("speech response header unreadable", "error", err)
	}

	slog.Debug("openai speech complete", "voice", voice, "bytes", len(wav))
	return res, nil
}

// Close is a no-op.
func (s *Synthesizer) Close() error { return nil }

type speechRequest struct {
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	Input          string  `json:"input"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// clampSpeed maps a rate multiplier into the API's accepted range.
func clampSpeed(rate float64) float64 {
	switch {
	case rate <= 0:
		return 1
	case rate < 0.25:
		return 0.25
	case rate > 4:
		return 4
	}
	return rate
}
