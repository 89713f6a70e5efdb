// Package dispatch implements the layered classification pipeline.
//
// An utterance is first offered to the local fast path. On a miss the
// pipeline resolves a credential and hands the raw text to the remote
// classifier. Every path ends in a vocabulary command; the pipeline never
// returns an error to its caller.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/nadzzz/macaria/internal/credential"
	"github.com/nadzzz/macaria/internal/interpreter"
	"github.com/nadzzz/macaria/internal/interpreter/fastpath"
	"github.com/nadzzz/macaria/internal/message"
	"github.com/nadzzz/macaria/internal/metrics"
	"github.com/nadzzz/macaria/internal/textnorm"
)

// Path identifies which classifier produced a result.
type Path string

const (
	PathLocal  Path = "local"
	PathRemote Path = "remote"
)

// Result is the outcome of one classification cycle.
type Result struct {
	Command message.Command
	Path    Path
	Rule    string // fast-path rule name, local hits only
	Backend string // remote backend name, remote results only
	Latency time.Duration

	// HadCredential reports whether a credential was available for the
	// remote call.
	HadCredential bool

	// CredentialMissing is set when the backend needs a credential and
	// none could be resolved.
	CredentialMissing bool
}

// credentialRequirer is implemented by classifiers whose credential
// requirement depends on configuration.
type credentialRequirer interface {
	RequiresCredential() bool
}

// Pipeline wires the fast path, the credential source and the remote
// classifier together.
type Pipeline struct {
	matcher     *fastpath.Matcher
	credentials credential.Source
	classifier  interpreter.Classifier
}

// New creates a Pipeline. credentials and classifier may be nil, in which
// case remote classification always yields message.Unrecognized.
func New(matcher *fastpath.Matcher, credentials credential.Source, classifier interpreter.Classifier) *Pipeline {
	if matcher == nil {
		matcher = fastpath.New()
	}
	return &Pipeline{
		matcher:     matcher,
		credentials: credentials,
		classifier:  classifier,
	}
}

// Local runs the fast path on a normalized utterance.
func (p *Pipeline) Local(normalized string) (message.Command, bool) {
	cmd, ok := p.matcher.Match(normalized)
	if ok {
		metrics.ClassificationsTotal.WithLabelValues(string(PathLocal), cmd.Tag()).Inc()
	}
	return cmd, ok
}

// Remote resolves a credential and asks the remote classifier. The raw,
// unnormalized text is what the classifier sees.
func (p *Pipeline) Remote(ctx context.Context, raw string) Result {
	start := time.Now()
	res := Result{Command: message.Unrecognized, Path: PathRemote}
	if p.classifier == nil {
		res.CredentialMissing = true
		return p.finish(res, start)
	}
	res.Backend = p.classifier.Name()

	var key string
	if p.credentials != nil {
		key = p.credentials.Get(ctx)
	}
	res.HadCredential = key != ""
	if !res.HadCredential && p.requiresCredential() {
		res.CredentialMissing = true
		slog.Warn("no credential available, remote classification skipped", "backend", res.Backend)
	}

	res.Command = message.Validate(string(p.classifier.Classify(ctx, raw, key)))
	res = p.finish(res, start)
	metrics.RemoteLatency.WithLabelValues(res.Backend).Observe(res.Latency.Seconds())
	return res
}

// Resolve runs the full pipeline: fast path first, remote on a miss.
func (p *Pipeline) Resolve(ctx context.Context, raw string) Result {
	start := time.Now()
	normalized := textnorm.Normalize(raw)
	if rule, ok := p.matcher.Explain(normalized); ok {
		metrics.ClassificationsTotal.WithLabelValues(string(PathLocal), rule.Command.Tag()).Inc()
		return Result{Command: rule.Command, Path: PathLocal, Rule: rule.Name, Latency: time.Since(start)}
	}
	return p.Remote(ctx, raw)
}

// Close releases the remote classifier.
func (p *Pipeline) Close() error {
	if p.classifier == nil {
		return nil
	}
	return p.classifier.Close()
}

func (p *Pipeline) requiresCredential() bool {
	if r, ok := p.classifier.(credentialRequirer); ok {
		return r.RequiresCredential()
	}
	return true
}

func (p *Pipeline) finish(res Result, start time.Time) Result {
	res.Latency = time.Since(start)
	metrics.ClassificationsTotal.WithLabelValues(string(res.Path), res.Command.Tag()).Inc()
	slog.Debug("classification complete",
		"path", res.Path,
		"backend", res.Backend,
		"command", res.Command,
		"had_credential", res.HadCredential,
		"duration", res.Latency,
	)
	return res
}
