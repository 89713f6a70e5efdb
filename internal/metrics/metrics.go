// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is the private registry served by the health server.
var Registry = prometheus.NewRegistry()

var (
	// UtterancesTotal counts finalized utterances by the state they arrived in.
	UtterancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macaria_utterances_total",
			Help: "Finalized utterances received, by interaction state at arrival.",
		},
		[]string{"state"},
	)

	// ClassificationsTotal counts resolved commands by path (local/remote) and tag.
	ClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macaria_classifications_total",
			Help: "Commands resolved, by classification path and command tag.",
		},
		[]string{"path", "command"},
	)

	// RemoteLatency records remote classifier round trips.
	RemoteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "macaria_remote_classification_seconds",
			Help:    "Latency of remote semantic classification, including credential lookup.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// CredentialFetchTotal counts credential lookups by result (ok/failed).
	CredentialFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macaria_credential_fetch_total",
			Help: "Remote credential lookups, by result.",
		},
		[]string{"result"},
	)

	// StaleResultsTotal counts remote results dropped because a newer
	// utterance or a suspension superseded them.
	StaleResultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "macaria_stale_results_total",
			Help: "Remote classification results discarded as stale.",
		},
	)

	// RecognizerRestartsTotal counts recognition session restarts by reason (ended/error).
	RecognizerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macaria_recognizer_restarts_total",
			Help: "Speech recognition session restarts, by reason.",
		},
		[]string{"reason"},
	)

	// Active is 1 while the interaction state is Active.
	Active = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "macaria_active",
			Help: "Interaction state (1=Active, 0=Suspended).",
		},
	)

	// SynthesisTotal counts speech synthesis requests by result.
	SynthesisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macaria_synthesis_total",
			Help: "Speech synthesis requests, by backend and result.",
		},
		[]string{"backend", "result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		UtterancesTotal,
		ClassificationsTotal,
		RemoteLatency,
		CredentialFetchTotal,
		StaleResultsTotal,
		RecognizerRestartsTotal,
		Active,
		SynthesisTotal,
	)
}
