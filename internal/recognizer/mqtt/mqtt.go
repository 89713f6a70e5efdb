// Package mqtt receives finalized transcripts published by an external
// speech-to-text engine on an MQTT topic.
//
// Payloads are either plain UTF-8 text or JSON of the form
// {"text": "...", "final": true}. Partial results (final=false) are ignored.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	broker "github.com/nadzzz/macaria/internal/mqtt"
)

// Recognizer subscribes to a transcript topic.
type Recognizer struct {
	client broker.Client
	topic  string
	qos    int
	logger *slog.Logger

	mu         sync.Mutex
	subscribed bool
	queue      chan string
}

// New creates an MQTT transcript source on an already started client.
func New(client broker.Client, topic string, qos int) *Recognizer {
	return &Recognizer{
		client: client,
		topic:  topic,
		qos:    qos,
		logger: slog.With("component", "recognizer", "source", "mqtt", "topic", topic),
		queue:  make(chan string, 32),
	}
}

// Name returns the source identifier.
func (r *Recognizer) Name() string { return "mqtt" }

// Listen waits for the broker connection, subscribes once and delivers
// transcripts until ctx ends.
func (r *Recognizer) Listen(ctx context.Context, onFinal func(string)) error {
	if err := r.client.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("awaiting broker connection: %w", err)
	}
	if err := r.subscribe(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text := <-r.queue:
			onFinal(text)
		}
	}
}

func (r *Recognizer) subscribe(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subscribed {
		return nil
	}
	if err := r.client.Subscribe(ctx, r.topic, r.qos, r.handle); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.topic, err)
	}
	r.subscribed = true
	r.logger.Info("listening for transcripts")
	return nil
}

func (r *Recognizer) handle(_ context.Context, topic string, payload []byte) {
	text, ok := parsePayload(payload)
	if !ok {
		return
	}
	select {
	case r.queue <- text:
	default:
		r.logger.Warn("transcript queue full, dropping", "topic", topic)
	}
}

func parsePayload(payload []byte) (string, bool) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return "", false
	}
	if strings.HasPrefix(trimmed, "{") {
		var msg struct {
			Text  string `json:"text"`
			Final *bool  `json:"final"`
		}
		if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
			slog.Debug("transcript payload is not JSON, using raw text", "error", err)
			return trimmed, true
		}
		if msg.Final != nil && !*msg.Final {
			return "", false
		}
		text := strings.TrimSpace(msg.Text)
		return text, text != ""
	}
	return trimmed, true
}
