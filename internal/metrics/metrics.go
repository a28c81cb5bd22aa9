// Package metrics holds the Prometheus instrumentation for the pipeline. It
// follows the metrics-struct convention used across the pack's services: one
// struct owning every collector, registered on a private registry so tests
// never collide with the global one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for one pipeline run. A nil *Metrics
// is valid and records nothing, so stages can be constructed without
// instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	windowsScored     prometheus.Counter
	highlightsEmitted prometheus.Counter
	llmCalls          *prometheus.CounterVec
	stageDone         *prometheus.GaugeVec
}

// New builds and registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.windowsScored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reel_windows_scored_total",
		Help: "Number of candidate windows the scorer has emitted a score row for",
	})
	m.highlightsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reel_highlights_emitted_total",
		Help: "Number of highlights the assembler has persisted",
	})
	m.llmCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_llm_calls_total",
		Help: "LLM collaborator calls by contract and outcome",
	}, []string{"contract", "outcome"})
	m.stageDone = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reel_stage_done",
		Help: "1 once a pipeline stage has set its completion flag",
	}, []string{"stage"})

	m.registry.MustRegister(m.windowsScored, m.highlightsEmitted, m.llmCalls, m.stageDone)
	return m
}

// Handler serves this run's registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WindowScored counts one emitted score row.
func (m *Metrics) WindowScored() {
	if m == nil {
		return
	}
	m.windowsScored.Inc()
}

// HighlightsEmitted counts n persisted highlights.
func (m *Metrics) HighlightsEmitted(n int) {
	if m == nil {
		return
	}
	m.highlightsEmitted.Add(float64(n))
}

// LLMCall counts one collaborator round trip. contract is one of
// "captioner", "grouper", "edge_arbiter"; outcome is "ok" or "error".
func (m *Metrics) LLMCall(contract, outcome string) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(contract, outcome).Inc()
}

// StageDone marks a stage's completion flag as set.
func (m *Metrics) StageDone(stage string) {
	if m == nil {
		return
	}
	m.stageDone.WithLabelValues(stage).Set(1)
}
