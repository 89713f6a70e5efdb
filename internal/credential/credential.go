// Package credential resolves and caches the classification-service
// credential.
//
// The credential lives in a remote record store that answers a GET with
// either a list of records or a single record. The provider never returns
// an error: any failure yields the empty string and callers degrade to
// treating every command as unrecognized.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nadzzz/macaria/internal/config"
	"github.com/nadzzz/macaria/internal/metrics"
	"github.com/nadzzz/macaria/internal/status"
)

// Source returns a credential or "" when none is available.
type Source interface {
	Get(ctx context.Context) string
}

// Reporter is the part of the status sink the provider writes to.
type Reporter interface {
	SetMode(status.Mode)
	SetSubstatus(string)
}

// Provider memoizes the credential for the process lifetime.
type Provider struct {
	static    string
	lookupURL string
	fields    []string
	client    *http.Client
	reporter  Reporter
	logger    *slog.Logger

	mu     sync.RWMutex
	cached string
}

// New creates a provider from config. reporter may be nil.
func New(cfg config.CredentialConfig, reporter Reporter) *Provider {
	fields := cfg.Fields
	if len(fields) == 0 {
		fields = []string{"apikey", "apiKey"}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if reporter == nil {
		reporter = status.Discard{}
	}
	return &Provider{
		static:    strings.TrimSpace(cfg.APIKey),
		lookupURL: cfg.LookupURL,
		fields:    fields,
		client:    &http.Client{Timeout: timeout},
		reporter:  reporter,
		logger:    slog.With("component", "credential"),
	}
}

// Get returns the cached credential, fetching it when the cache is empty.
// Concurrent callers that miss the cache each perform their own lookup.
func (p *Provider) Get(ctx context.Context) string {
	if p.static != "" {
		return p.static
	}

	p.mu.RLock()
	cached := p.cached
	p.mu.RUnlock()
	if cached != "" {
		return cached
	}

	if p.lookupURL == "" {
		p.logger.Debug("no credential configured")
		return ""
	}

	p.reporter.SetSubstatus("Cargando credenciales…")
	key, err := p.fetch(ctx)
	if err != nil {
		metrics.CredentialFetchTotal.WithLabelValues("failed").Inc()
		p.logger.Error("credential lookup failed", "url", p.lookupURL, "error", err)
		p.reporter.SetMode(status.ModeCredentialError)
		p.reporter.SetSubstatus("No se pudo cargar la API Key.")
		return ""
	}
	metrics.CredentialFetchTotal.WithLabelValues("ok").Inc()

	p.mu.Lock()
	p.cached = key
	p.mu.Unlock()

	p.logger.Info("credential loaded")
	p.reporter.SetSubstatus("Listo. Escuchando órdenes…")
	return key
}

// Invalidate drops the cached credential so the next Get fetches again.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.cached = ""
	p.mu.Unlock()
}

func (p *Provider) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.lookupURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("credential request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("credential lookup failed (status %d): %s", resp.StatusCode, body)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading credential response: %w", err)
	}
	return extract(data, p.fields)
}

var errNoRecord = errors.New("credential response has no records")

// extract pulls the secret out of a list-of-records or single-record body.
// The first record is used when a list is returned.
func extract(data []byte, fields []string) (string, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("decoding credential response: %w", err)
	}

	var record map[string]json.RawMessage
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var records []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &records); err != nil {
			return "", fmt.Errorf("decoding credential records: %w", err)
		}
		if len(records) == 0 {
			return "", errNoRecord
		}
		record = records[0]
	case strings.HasPrefix(trimmed, "{"):
		if err := json.Unmarshal(raw, &record); err != nil {
			return "", fmt.Errorf("decoding credential record: %w", err)
		}
	default:
		return "", fmt.Errorf("unexpected credential response shape: %.40s", trimmed)
	}

	for _, field := range fields {
		value, ok := record[field]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("no string field among %v in credential record", fields)
}
