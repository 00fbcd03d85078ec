package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func summarySampleCount(t *testing.T, vec *prometheus.SummaryVec, label string) uint64 {
	t.Helper()
	var m dto.Metric
	s, err := vec.GetMetricWithLabelValues(label)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if err := s.(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetSummary().GetSampleCount()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestTimeREDCapRequest(t *testing.T) {
	metrics := newTestMetrics(t)

	err := metrics.TimeREDCapRequest("fetch_participant", func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := summarySampleCount(t, metrics.REDCapRequestSeconds, "fetch_participant"); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
	if got := counterValue(t, metrics.REDCapErrorsTotal, "fetch_participant"); got != 0 {
		t.Errorf("errors = %v, want 0", got)
	}
}

func TestTimeREDCapRequestCountsErrors(t *testing.T) {
	metrics := newTestMetrics(t)
	wantErr := errors.New("boom")

	err := metrics.TimeREDCapRequest("register_participant", func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}

	if got := counterValue(t, metrics.REDCapErrorsTotal, "register_participant"); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
	if got := summarySampleCount(t, metrics.REDCapRequestSeconds, "register_participant"); got != 1 {
		t.Errorf("sample count = %d, want 1 (failures are timed too)", got)
	}
}

func TestInstrumentHandler(t *testing.T) {
	metrics := newTestMetrics(t)

	handler := metrics.InstrumentHandler("/status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", rec.Code)
	}
	if got := counterValue(t, metrics.HTTPRequestsTotal, "GET", "/status", "418"); got != 1 {
		t.Errorf("request count = %v, want 1", got)
	}
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	metrics := newTestMetrics(t)
	metrics.SessionsEstablishedTotal.Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "musher_sessions_established_total") {
		t.Errorf("metrics output missing sessions counter")
	}
}
