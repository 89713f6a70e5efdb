// Package local implements the Classifier interface using self-hosted models.
//
// It supports any OpenAI-compatible chat endpoint (e.g., Ollama, vLLM,
// llama.cpp server) and Ollama's native /api/generate endpoint.
package local

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

// Classifier uses a self-hosted LLM for command classification.
type Classifier struct {
	endpoint          string
	model             string
	requireCredential bool
	client            *http.Client
	logger            *slog.Logger
}

// New creates a new local classifier from config.
func New(cfg config.LocalConfig, timeout time.Duration) *Classifier {
	model := cfg.Model
	if model == "" {
		model = "llama3"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Classifier{
		endpoint:          cfg.Endpoint,
		model:             model,
		requireCredential: cfg.RequireCredential,
		client:            &http.Client{Timeout: timeout},
		logger:            slog.With("component", "classifier", "backend", "local"),
	}
}

// Name returns the backend identifier.
func (c *Classifier) Name() string { return "local" }

// Classify sends the utterance to the local LLM endpoint. The credential,
// when present, is forwarded as a bearer token.
func (c *Classifier) Classify(ctx context.Context, text, credential string) message.Command {
	if credential == "" && c.requireCredential {
		c.logger.Debug("no credential, skipping local classification")
		return message.Unrecognized
	}

	content, err := c.complete(ctx, text, credential)
	if err != nil {
		c.logger.Warn("local classification failed", "error", err)
		return message.Unrecognized
	}
	return interpreter.Accept(content)
}

// RequiresCredential reports whether a missing credential short-circuits
// classification.
func (c *Classifier) RequiresCredential() bool { return c.requireCredential }

// Close is a no-op for the local classifier.
func (c *Classifier) Close() error { return nil }

func (c *Classifier) complete(ctx context.Context, text, credential string) (string, error) {
	// OpenAI-compatible chat completions format works with Ollama, vLLM and llama.cpp.
	var reqBody any = chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: interpreter.Instructions},
			{Role: "user", Content: text},
		},
		Temperature: 0,
		Stream:      false,
	}
	if strings.HasSuffix(c.endpoint, "/api/generate") {
		reqBody = generateRequest{
			Model:   c.model,
			System:  interpreter.Instructions,
			Prompt:  text,
			Stream:  false,
			Options: map[string]any{"temperature": 0},
		}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("local LLM request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("local LLM failed (status %d): %s", resp.StatusCode, respBody)
	}

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading LLM response: %w", err)
	}

	content := extractContent(respData)
	if content == "" {
		return "", fmt.Errorf("empty response from local LLM")
	}
	c.logger.Debug("local classification complete", "answer_length", len(content))
	return content, nil
}

// --- Internal types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

func extractContent(data []byte) string {
	// OpenAI-compatible format: {"choices": [{"message": {"content": "..."}}]}
	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &chatResp); err == nil && len(chatResp.Choices) > 0 {
		return chatResp.Choices[0].Message.Content
	}

	// Ollama format: {"response": "..."}
	var ollamaResp struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(data, &ollamaResp); err == nil && ollamaResp.Response != "" {
		return ollamaResp.Response
	}

	return ""
}
