package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drfirst/medscan/internal/domain/scan"
	"github.com/drfirst/medscan/pkg/circuitbreaker"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read exposition: %v", err)
	}
	return string(body)
}

func expectSeries(t *testing.T, body string, series ...string) {
	t.Helper()
	for _, s := range series {
		if !strings.Contains(body, s) {
			t.Errorf("missing %q in exposition", s)
		}
	}
}

func TestObserverCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CaptureOutcome(scan.CallExtract, "success")
	m.CaptureOutcome(scan.CallExtract, "success")
	m.CaptureOutcome(scan.CallLookup, "lookup_not_found")
	m.StaleResult(scan.CallSearch)
	m.ExtractionConfidence(82)

	expectSeries(t, scrape(t, m),
		`medscan_capture_calls_total{call="extract",outcome="success"} 2`,
		`medscan_capture_calls_total{call="lookup",outcome="lookup_not_found"} 1`,
		`medscan_stale_results_total{call="search"} 1`,
		`medscan_extraction_confidence_count 1`,
		`medscan_extraction_confidence_bucket{le="85"} 1`,
	)
}

func TestSessionGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SessionOpened()
	m.SessionOpened()
	m.SessionFinished(OutcomeCommitted)

	expectSeries(t, scrape(t, m),
		`medscan_sessions_active 1`,
		`medscan_sessions_opened_total 2`,
		`medscan_sessions_finished_total{outcome="committed"} 1`,
	)
}

func TestStatusSnapshotDefaultsToNone(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.StatusSnapshot("low", "")
	expectSeries(t, scrape(t, m), `medscan_status_snapshots_total{expiration="none",refill="low"} 1`)
}

func TestBreakerGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveBreakers([]circuitbreaker.HealthStatus{
		{Name: "extract", State: circuitbreaker.StateOpen},
		{Name: "lookup", State: circuitbreaker.StateClosed},
	})
	expectSeries(t, scrape(t, m),
		`medscan_circuit_breaker_state{name="extract"} 1`,
		`medscan_circuit_breaker_state{name="lookup"} 0`,
	)
}
