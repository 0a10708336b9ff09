package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRegistryObserveAndSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Observe("GET /healthz", 200, 15*time.Millisecond)
	r.Observe("GET /healthz", 503, 35*time.Millisecond)
	r.IncDecision("allow")
	r.IncDecision("allow")
	r.IncReason("read or draft scope")
	r.IncTool("blogs_list_blogs")
	r.IncIdempotentReplay()
	r.IncConfirmationIssued()
	r.IncConfirmationConsumed()
	r.IncNotificationDropped()
	r.SetGauge("breaker_notifications_open", 1)

	snap := r.Snapshot()
	ep, ok := snap.Endpoints["GET /healthz"]
	if !ok {
		t.Fatal("missing endpoint metric")
	}
	if ep.Count != 2 {
		t.Fatalf("expected count=2 got=%d", ep.Count)
	}
	if ep.ErrorCount != 1 {
		t.Fatalf("expected error_count=1 got=%d", ep.ErrorCount)
	}
	if ep.MaxMillis != 35 {
		t.Fatalf("expected max_millis=35 got=%d", ep.MaxMillis)
	}
	if snap.Decisions["allow"] != 2 {
		t.Fatalf("expected allow=2 got=%d", snap.Decisions["allow"])
	}
	if snap.Reasons["read or draft scope"] != 1 {
		t.Fatalf("unexpected reasons: %v", snap.Reasons)
	}
	if snap.Tools["blogs_list_blogs"] != 1 {
		t.Fatalf("unexpected tools: %v", snap.Tools)
	}
	if snap.IdempotentReplays != 1 || snap.ConfirmationsIssued != 1 || snap.ConfirmationsBurned != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.NotificationsDropped != 1 {
		t.Fatalf("expected notifications_dropped=1 got=%d", snap.NotificationsDropped)
	}
	if snap.Gauges["breaker_notifications_open"] != 1 {
		t.Fatalf("unexpected gauges: %v", snap.Gauges)
	}
}

func TestSortedKeys(t *testing.T) {
	keys := SortedKeys(map[string]int{"b": 2, "a": 1, "c": 3})
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys got=%d", len(keys))
	}
	if keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("unexpected order: %#v", keys)
	}
}

func TestPrometheusHandler(t *testing.T) {
	r := NewRegistry()
	r.Observe("POST /v1/actions/execute", 200, 12*time.Millisecond)
	r.Observe("POST /v1/actions/execute", 500, 20*time.Millisecond)
	r.IncDecision("confirm")
	r.IncTool("blogs_publish_blog")
	r.IncIdempotentReplay()
	r.SetGauge("breaker_notifications_open", 1)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil)
	r.PrometheusHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "pressgate_endpoint_count") {
		t.Fatalf("missing endpoint metric: %s", body)
	}
	if !strings.Contains(body, "pressgate_decision_total{action=\"confirm\"} 1") {
		t.Fatalf("missing decision metric: %s", body)
	}
	if !strings.Contains(body, "pressgate_tool_total{tool=\"blogs_publish_blog\"} 1") {
		t.Fatalf("missing tool metric: %s", body)
	}
	if !strings.Contains(body, "pressgate_idempotent_replays_total 1") {
		t.Fatalf("missing replay metric: %s", body)
	}
	if !strings.Contains(body, "pressgate_gauge{name=\"breaker_notifications_open\"} 1.000") {
		t.Fatalf("missing gauge metric: %s", body)
	}
}

func TestJSONHandlerAndEmptyInputs(t *testing.T) {
	r := NewRegistry()
	r.IncDecision("")
	r.IncReason("")
	r.IncTool("")
	r.SetGauge("", 5)
	r.Observe("GET /healthz", 204, 5*time.Millisecond)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected json content type, got %q", got)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "\"generated_at\"") {
		t.Fatalf("expected generated timestamp in body: %s", body)
	}
	if strings.Contains(body, "\"\"") {
		t.Fatalf("did not expect empty-key counters in body: %s", body)
	}
}
