package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDispatchMetricsExistAndIncrement(t *testing.T) {
	DispatchTotal.Reset()
	defer DispatchTotal.Reset()

	DispatchTotal.WithLabelValues("relay", "success").Inc()
	DispatchTotal.WithLabelValues("relay", "failure").Add(2)
	if v := testutil.ToFloat64(DispatchTotal.WithLabelValues("relay", "success")); v != 1 {
		t.Fatalf("expected 1 relay success, got %v", v)
	}
	if v := testutil.ToFloat64(DispatchTotal.WithLabelValues("relay", "failure")); v != 2 {
		t.Fatalf("expected 2 relay failures, got %v", v)
	}
}

func TestLogRecordsPrunedAccumulates(t *testing.T) {
	before := testutil.ToFloat64(LogRecordsPruned)
	LogRecordsPruned.Add(3)
	if v := testutil.ToFloat64(LogRecordsPruned); v != before+3 {
		t.Fatalf("expected %v, got %v", before+3, v)
	}
}

func TestMetricsHandlerExposesRelayMetrics(t *testing.T) {
	HostFailures.WithLabelValues("independent").Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "smtp_relay_host_failures_total") {
		t.Fatal("expected smtp_relay_host_failures_total in exposition")
	}
}
