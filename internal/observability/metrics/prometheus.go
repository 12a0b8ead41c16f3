// Package metrics provides Prometheus metrics for label capture and the
// status feed.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drfirst/medscan/internal/domain/scan"
	"github.com/drfirst/medscan/pkg/circuitbreaker"
)

// Metrics holds all application metrics
type Metrics struct {
	SessionsOpened      prometheus.Counter
	SessionsFinished    *prometheus.CounterVec
	CaptureOutcomes     *prometheus.CounterVec
	ExtractionScore     prometheus.Histogram
	StaleResults        *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
	StatusPublished     *prometheus.CounterVec
	OutboxPending       prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
	HTTPDuration        *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

var _ scan.Observer = (*Metrics)(nil)

// New creates the metrics and registers them with reg. A nil reg uses the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medscan_sessions_opened_total",
			Help: "Capture sessions opened",
		}),
		SessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medscan_sessions_finished_total",
			Help: "Capture sessions finished, by outcome (committed, cancelled, expired)",
		}, []string{"outcome"}),
		CaptureOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medscan_capture_calls_total",
			Help: "Collaborator calls resolved into a session, by call and outcome",
		}, []string{"call", "outcome"}),
		ExtractionScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medscan_extraction_confidence",
			Help:    "Label parser confidence per photo",
			Buckets: []float64{10, 25, 50, 70, 85, 100},
		}),
		StaleResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medscan_stale_results_total",
			Help: "Collaborator results discarded because their session moved on",
		}, []string{"call"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medscan_sessions_active",
			Help: "Capture sessions currently registered",
		}),
		StatusPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medscan_status_snapshots_total",
			Help: "Status snapshots published, by refill and expiration state",
		}, []string{"refill", "expiration"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medscan_outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "medscan_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medscan_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.SessionsOpened,
		m.SessionsFinished,
		m.CaptureOutcomes,
		m.ExtractionScore,
		m.StaleResults,
		m.ActiveSessions,
		m.StatusPublished,
		m.OutboxPending,
		m.CircuitBreakerState,
		m.HTTPDuration,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// CaptureOutcome implements scan.Observer
func (m *Metrics) CaptureOutcome(call scan.CallKind, outcome string) {
	m.CaptureOutcomes.WithLabelValues(string(call), outcome).Inc()
}

// ExtractionConfidence implements scan.Observer
func (m *Metrics) ExtractionConfidence(confidence int) {
	m.ExtractionScore.Observe(float64(confidence))
}

// StaleResult implements scan.Observer
func (m *Metrics) StaleResult(call scan.CallKind) {
	m.StaleResults.WithLabelValues(string(call)).Inc()
}

// Session outcomes
const (
	OutcomeCommitted = "committed"
	OutcomeCancelled = "cancelled"
	OutcomeExpired   = "expired"
)

// SessionOpened counts a new session
func (m *Metrics) SessionOpened() {
	m.SessionsOpened.Inc()
	m.ActiveSessions.Inc()
}

// SessionFinished counts a session leaving the registry
func (m *Metrics) SessionFinished(outcome string) {
	m.SessionsFinished.WithLabelValues(outcome).Inc()
	m.ActiveSessions.Dec()
}

// StatusSnapshot counts a published snapshot. Empty states are reported
// as "none".
func (m *Metrics) StatusSnapshot(refill, expiration string) {
	if refill == "" {
		refill = "none"
	}
	if expiration == "" {
		expiration = "none"
	}
	m.StatusPublished.WithLabelValues(refill, expiration).Inc()
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, status int, took time.Duration) {
	m.HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(took.Seconds())
}

// ObserveBreakers copies breaker states into the gauge
func (m *Metrics) ObserveBreakers(health []circuitbreaker.HealthStatus) {
	for _, h := range health {
		var v float64
		switch h.State {
		case circuitbreaker.StateOpen:
			v = 1
		case circuitbreaker.StateHalfOpen:
			v = 2
		}
		m.CircuitBreakerState.WithLabelValues(h.Name).Set(v)
	}
}

// Handler returns the Prometheus HTTP handler for the registry the metrics
// were registered with
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
