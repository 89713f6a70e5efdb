package microphone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nadzzz/macaria/internal/credential"
)

// Transcriber turns a WAV clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// WhisperClient talks to a Whisper-compatible HTTP endpoint. Two flavors
// are supported:
//   - OpenAI-compatible: POST multipart "file" (OpenAI, whisper.cpp server, faster-whisper)
//   - whisper-asr-webservice: POST /asr with query params and multipart "audio_file"
type WhisperClient struct {
	endpoint    string
	model       string
	language    string
	credentials credential.Source
	client      *http.Client
}

// NewWhisperClient creates a transcription client. credentials may be nil
// for self-hosted endpoints.
func NewWhisperClient(endpoint, model, language string, credentials credential.Source, timeout time.Duration) *WhisperClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WhisperClient{
		endpoint:    endpoint,
		model:       model,
		language:    language,
		credentials: credentials,
		client:      &http.Client{Timeout: timeout},
	}
}

// Transcribe uploads the clip and returns the recognized text.
func (w *WhisperClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if strings.HasSuffix(strings.TrimRight(w.endpoint, "/"), "/asr") {
		return w.transcribeASR(ctx, wav)
	}
	return w.transcribeOpenAI(ctx, wav)
}

func (w *WhisperClient) transcribeOpenAI(ctx context.Context, wav []byte) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	if w.model != "" {
		_ = writer.WriteField("model", w.model)
	}
	if w.language != "" {
		_ = writer.WriteField("language", w.language)
	}
	_ = writer.WriteField("response_format", "json")
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if w.credentials != nil {
		if key := w.credentials.Get(ctx); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
	}

	return w.do(req)
}

func (w *WhisperClient) transcribeASR(ctx context.Context, wav []byte) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio_file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	writer.Close()

	q := make(url.Values)
	q.Set("task", "transcribe")
	q.Set("output", "json")
	q.Set("encode", "true")
	q.Set("vad_filter", "true")
	if w.language != "" {
		q.Set("language", w.language)
	}

	reqURL := w.endpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return w.do(req)
}

func (w *WhisperClient) do(req *http.Request) (string, error) {
	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("transcription failed (status %d): %s", resp.StatusCode, respBody)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding transcription: %w", err)
	}

	slog.Debug("transcription complete", "text_length", len(result.Text))
	return strings.TrimSpace(result.Text), nil
}
