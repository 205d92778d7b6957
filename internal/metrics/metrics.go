// Package metrics exports refresh loop and advice activity to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signal-insights/internal/data"
)

const namespace = "signal_insights"

// Metrics holds the collectors of one process, registered on a private
// registry.
type Metrics struct {
	registry *prometheus.Registry

	ticks          *prometheus.CounterVec // Refresh ticks per session
	windowSize     *prometheus.GaugeVec   // Records in the current window
	skippedLines   *prometheus.CounterVec // Unparsable lines dropped
	sampleRate     *prometheus.GaugeVec   // Estimated sample rate
	dominantFreq   *prometheus.GaugeVec   // Dominant frequency of the window
	rms            *prometheus.GaugeVec   // RMS of the window
	alerts         *prometheus.CounterVec // Alerts raised, by metric
	activeSessions prometheus.Gauge
	llmRequests    *prometheus.CounterVec // Advice requests, by outcome
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "refresh_ticks_total",
			Help: "Refresh loop iterations.",
		}, []string{"session"}),
		windowSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "window_records",
			Help: "Records in the current window.",
		}, []string{"session"}),
		skippedLines: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "skipped_lines_total",
			Help: "Record lines that could not be parsed, summed over ticks.",
		}, []string{"session"}),
		sampleRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sample_rate_hz",
			Help: "Sample rate estimated from record timestamps.",
		}, []string{"session"}),
		dominantFreq: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dominant_frequency_hz",
			Help: "Dominant frequency of the current window.",
		}, []string{"session"}),
		rms: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rms",
			Help: "Root mean square of the current window.",
		}, []string{"session"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_total",
			Help: "Threshold alerts raised.",
		}, []string{"session", "metric"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_sessions",
			Help: "Dashboard sessions with a running refresh loop.",
		}),
		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "llm_requests_total",
			Help: "Language model requests, by outcome.",
		}, []string{"outcome"}),
	}
}

// Publish records one refresh snapshot.
func (m *Metrics) Publish(_ context.Context, snap *data.Snapshot) {
	id := snap.SessionID
	m.ticks.WithLabelValues(id).Inc()
	m.windowSize.WithLabelValues(id).Set(float64(len(snap.Records)))
	m.skippedLines.WithLabelValues(id).Add(float64(snap.Skipped))
	if snap.Stats != nil {
		m.sampleRate.WithLabelValues(id).Set(float64(snap.SampleRateHz))
		m.dominantFreq.WithLabelValues(id).Set(snap.Stats.DominantFrequency)
		m.rms.WithLabelValues(id).Set(snap.Stats.RMS)
	}
	for _, a := range snap.Alerts {
		m.alerts.WithLabelValues(id, a.Metric).Inc()
	}
}

// SetActiveSessions records the number of live sessions.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// ObserveLLM counts one language model request.
func (m *Metrics) ObserveLLM(outcome string) {
	m.llmRequests.WithLabelValues(outcome).Inc()
}

// Forget drops the per-session series of a closed session.
func (m *Metrics) Forget(sessionID string) {
	labels := prometheus.Labels{"session": sessionID}
	m.ticks.DeletePartialMatch(labels)
	m.windowSize.DeletePartialMatch(labels)
	m.skippedLines.DeletePartialMatch(labels)
	m.sampleRate.DeletePartialMatch(labels)
	m.dominantFreq.DeletePartialMatch(labels)
	m.rms.DeletePartialMatch(labels)
	m.alerts.DeletePartialMatch(labels)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
