package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAuditMetricsExistAndIncrement(t *testing.T) {
	// Use a test label to avoid colliding with other tests
	lbl := "test-sink"

	AuditEventsWritten.WithLabelValues(lbl).Inc()
	if v := testutil.ToFloat64(AuditEventsWritten.WithLabelValues(lbl)); v < 1 {
		t.Fatalf("expected AuditEventsWritten >= 1, got %v", v)
	}

	AuditEventsDropped.WithLabelValues(lbl, "queue_full").Add(2)
	if v := testutil.ToFloat64(AuditEventsDropped.WithLabelValues(lbl, "queue_full")); v < 2 {
		t.Fatalf("expected AuditEventsDropped >= 2, got %v", v)
	}

	AuditStreamBuffered.WithLabelValues(lbl).Set(7)
	if v := testutil.ToFloat64(AuditStreamBuffered.WithLabelValues(lbl)); v != 7 {
		t.Fatalf("expected AuditStreamBuffered == 7, got %v", v)
	}
}

func TestHealthTransitionLabelCardinality(t *testing.T) {
	HealthTransitions.Reset()
	defer HealthTransitions.Reset()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("unexpected panic for label cardinality: %v", r)
		}
	}()
	HealthTransitions.WithLabelValues("openai", "gpt-x", "open").Inc()
	if v := testutil.ToFloat64(HealthTransitions.WithLabelValues("openai", "gpt-x", "open")); v != 1 {
		t.Fatalf("expected 1 transition, got %v", v)
	}
}

func TestMetricsHandlerServesRegisteredFamilies(t *testing.T) {
	PolicyDecisions.WithLabelValues("allow").Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "trustcore_policy_decisions_total") {
		t.Fatalf("expected policy decision family in output")
	}
}
