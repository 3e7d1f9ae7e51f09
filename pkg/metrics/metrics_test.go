package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, r *Registry, name string) float64 {
	t.Helper()
	mfs, err := r.reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func TestCounterAccumulates(t *testing.T) {
	r := New()
	c := r.Counter("test_total", "A test counter")
	c.WithLabelValues().Add(7)
	if got := counterValue(t, r, "test_total"); got != 7 {
		t.Fatalf("expected 7, got %v", got)
	}
}

func TestCounterSameNameReturnsSameVec(t *testing.T) {
	r := New()
	c1 := r.Counter("test_total", "A test counter")
	c2 := r.Counter("test_total", "")
	c1.WithLabelValues().Inc()
	c2.WithLabelValues().Inc()
	if got := counterValue(t, r, "test_total"); got != 2 {
		t.Fatalf("expected registering twice to share state, got %v", got)
	}
}

func TestCounterWithLabels(t *testing.T) {
	r := New()
	c := r.Counter("requests_total", "Total requests", "method")
	c.WithLabelValues("GET").Add(5)
	c.WithLabelValues("POST").Add(2)

	var m dto.Metric
	if err := c.WithLabelValues("GET").Write(&m); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.GetCounter().GetValue() != 5 {
		t.Fatalf("expected GET counter 5, got %v", m.GetCounter().GetValue())
	}
}

func TestGauge(t *testing.T) {
	r := New()
	g := r.Gauge("active_connections", "Active conns")
	g.WithLabelValues().Set(42)
	g.WithLabelValues().Inc()
	g.WithLabelValues().Inc()
	g.WithLabelValues().Dec()

	mfs, err := r.reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var found bool
	for _, mf := range mfs {
		if mf.GetName() != "active_connections" {
			continue
		}
		found = true
		if mf.GetMetric()[0].GetGauge().GetValue() != 43 {
			t.Fatalf("expected 43, got %v", mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	if !found {
		t.Fatal("gauge not registered")
	}
}

func TestHistogramObserve(t *testing.T) {
	r := New()
	h := r.Histogram("request_duration_seconds", "Request latency", []float64{0.1, 0.5, 1.0})
	h.WithLabelValues().Observe(0.05)
	h.WithLabelValues().Observe(0.3)

	mfs, err := r.reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "request_duration_seconds" {
			continue
		}
		if mf.GetMetric()[0].GetHistogram().GetSampleCount() != 2 {
			t.Fatalf("expected 2 samples, got %d", mf.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
}

func TestHandlerServesPrometheusFormat(t *testing.T) {
	r := New()
	r.Counter("test_total", "test").WithLabelValues().Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "test_total 1") {
		t.Errorf("missing metric in handler output:\n%s", rec.Body.String())
	}
}
