// Package openai implements the Classifier interface using the OpenAI
// Responses API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nadzzz/macaria/internal/config"
	"github.com/nadzzz/macaria/internal/interpreter"
	"github.com/nadzzz/macaria/internal/message"
)

const defaultResponsesURL = "https://api.openai.com/v1/responses"

// Classifier sends utterances to the Responses API.
type Classifier struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *slog.Logger
}

// New creates a new OpenAI classifier from config.
func New(cfg config.OpenAIConfig, timeout time.Duration) *Classifier {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultResponsesURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Classifier{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: timeout},
		logger:   slog.With("component", "classifier", "backend", "openai"),
	}
}

// Name returns the backend identifier.
func (c *Classifier) Name() string { return "openai" }

// Classify resolves text to a command. It performs no I/O without a
// credential and maps every failure to message.Unrecognized.
func (c *Classifier) Classify(ctx context.Context, text, credential string) message.Command {
	if credential == "" {
		c.logger.Debug("no credential, skipping remote classification")
		return message.Unrecognized
	}

	raw, err := c.respond(ctx, text, credential)
	if err != nil {
		c.logger.Warn("remote classification failed", "error", err)
		return message.Unrecognized
	}

	cmd := interpreter.Accept(raw)
	if cmd == message.Unrecognized && strings.TrimSpace(raw) != string(message.Unrecognized) {
		c.logger.Info("answer outside vocabulary", "answer", fmt.Sprintf("%.80s", raw))
	}
	return cmd
}

// Close is a no-op for the OpenAI classifier.
func (c *Classifier) Close() error { return nil }

func (c *Classifier) respond(ctx context.Context, text, credential string) (string, error) {
	reqBody := responsesRequest{
		Model: c.model,
		Input: []inputMessage{
			{Role: "system", Content: interpreter.Instructions},
			{Role: "user", Content: text},
		},
		Temperature: 0,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshalling responses request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating responses request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("responses request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("responses failed (status %d): %s", resp.StatusCode, respBody)
	}

	var out responsesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding responses response: %w", err)
	}

	result := out.text()
	c.logger.Debug("remote classification complete", "answer_length", len(result))
	return result, nil
}

// --- Internal types ---

type responsesRequest struct {
	Model       string         `json:"model"`
	Input       []inputMessage `json:"input"`
	Temperature float64        `json:"temperature"`
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesResponse struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// text prefers the flattened output_text and otherwise concatenates every
// text fragment of the structured output array.
func (r responsesResponse) text() string {
	if r.OutputText != "" {
		return strings.TrimSpace(r.OutputText)
	}
	var sb strings.Builder
	for _, item := range r.Output {
		for _, part := range item.Content {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}
