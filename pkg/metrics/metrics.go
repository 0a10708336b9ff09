package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry is the in-process metrics surface for the gateway. It feeds
// both the JSON snapshot endpoint and Prometheus exposition.
type Registry struct {
	mu                   sync.RWMutex
	endpoint             map[string]*EndpointStat
	decision             map[string]int64
	reason               map[string]int64
	tool                 map[string]int64
	gauges               map[string]float64
	idempotentReplays    int64
	confirmationsIssued  int64
	confirmationsBurned  int64
	notificationsDropped int64
	Histograms           *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt          string                  `json:"generated_at"`
	Endpoints            map[string]EndpointStat `json:"endpoints"`
	Decisions            map[string]int64        `json:"decisions"`
	Reasons              map[string]int64        `json:"reasons"`
	Tools                map[string]int64        `json:"tools"`
	Gauges               map[string]float64      `json:"gauges"`
	IdempotentReplays    int64                   `json:"idempotent_replays_total"`
	ConfirmationsIssued  int64                   `json:"confirmations_issued_total"`
	ConfirmationsBurned  int64                   `json:"confirmations_consumed_total"`
	NotificationsDropped int64                   `json:"notifications_dropped_total"`
	Histograms           []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:   map[string]*EndpointStat{},
		decision:   map[string]int64{},
		reason:     map[string]int64{},
		tool:       map[string]int64{},
		gauges:     map[string]float64{},
		Histograms: NewHistogramRegistry(),
	}
}

func (r *Registry) ObserveLatency(endpoint string, d time.Duration) {
	r.Histograms.ObserveDuration(endpoint, d)
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

// IncDecision counts one policy outcome (allow, confirm, deny).
func (r *Registry) IncDecision(action string) {
	if action == "" {
		return
	}
	r.mu.Lock()
	r.decision[action]++
	r.mu.Unlock()
}

func (r *Registry) IncReason(reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return
	}
	r.mu.Lock()
	r.reason[reason]++
	r.mu.Unlock()
}

// IncTool counts one request per tool, regardless of outcome.
func (r *Registry) IncTool(tool string) {
	if tool == "" {
		return
	}
	r.mu.Lock()
	r.tool[tool]++
	r.mu.Unlock()
}

func (r *Registry) IncIdempotentReplay() {
	r.mu.Lock()
	r.idempotentReplays++
	r.mu.Unlock()
}

func (r *Registry) IncConfirmationIssued() {
	r.mu.Lock()
	r.confirmationsIssued++
	r.mu.Unlock()
}

func (r *Registry) IncConfirmationConsumed() {
	r.mu.Lock()
	r.confirmationsBurned++
	r.mu.Unlock()
}

func (r *Registry) IncNotificationDropped() {
	r.mu.Lock()
	r.notificationsDropped++
	r.mu.Unlock()
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:          time.Now().UTC().Format(time.RFC3339),
		Endpoints:            make(map[string]EndpointStat, len(r.endpoint)),
		Decisions:            make(map[string]int64, len(r.decision)),
		Reasons:              make(map[string]int64, len(r.reason)),
		Tools:                make(map[string]int64, len(r.tool)),
		Gauges:               make(map[string]float64, len(r.gauges)),
		IdempotentReplays:    r.idempotentReplays,
		ConfirmationsIssued:  r.confirmationsIssued,
		ConfirmationsBurned:  r.confirmationsBurned,
		NotificationsDropped: r.notificationsDropped,
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.decision {
		out.Decisions[k] = v
	}
	for k, v := range r.reason {
		out.Reasons[k] = v
	}
	for k, v := range r.tool {
		out.Tools[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP pressgate_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE pressgate_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "pressgate_endpoint_count{endpoint=%q} %d\n", ep, stat.Count)
		}
		b.WriteString("# HELP pressgate_endpoint_error_count total endpoint errors\n")
		b.WriteString("# TYPE pressgate_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "pressgate_endpoint_error_count{endpoint=%q} %d\n", ep, stat.ErrorCount)
		}
		b.WriteString("# HELP pressgate_endpoint_avg_millis endpoint average latency in milliseconds\n")
		b.WriteString("# TYPE pressgate_endpoint_avg_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "pressgate_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, stat.AverageMillis)
		}
		b.WriteString("# HELP pressgate_decision_total policy decisions by action\n")
		b.WriteString("# TYPE pressgate_decision_total counter\n")
		for _, action := range SortedKeys(snap.Decisions) {
			fmt.Fprintf(b, "pressgate_decision_total{action=%q} %d\n", action, snap.Decisions[action])
		}
		b.WriteString("# HELP pressgate_reason_total policy decisions by reason\n")
		b.WriteString("# TYPE pressgate_reason_total counter\n")
		for _, reason := range SortedKeys(snap.Reasons) {
			fmt.Fprintf(b, "pressgate_reason_total{reason=%q} %d\n", reason, snap.Reasons[reason])
		}
		b.WriteString("# HELP pressgate_tool_total action requests by tool\n")
		b.WriteString("# TYPE pressgate_tool_total counter\n")
		for _, tool := range SortedKeys(snap.Tools) {
			fmt.Fprintf(b, "pressgate_tool_total{tool=%q} %d\n", tool, snap.Tools[tool])
		}
		b.WriteString("# HELP pressgate_gauge operational gauge metrics\n")
		b.WriteString("# TYPE pressgate_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "pressgate_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		b.WriteString("# HELP pressgate_idempotent_replays_total responses served from the idempotency cache\n")
		b.WriteString("# TYPE pressgate_idempotent_replays_total counter\n")
		fmt.Fprintf(b, "pressgate_idempotent_replays_total %d\n", snap.IdempotentReplays)
		b.WriteString("# HELP pressgate_confirmations_issued_total confirm tokens issued\n")
		b.WriteString("# TYPE pressgate_confirmations_issued_total counter\n")
		fmt.Fprintf(b, "pressgate_confirmations_issued_total %d\n", snap.ConfirmationsIssued)
		b.WriteString("# HELP pressgate_confirmations_consumed_total confirm tokens consumed\n")
		b.WriteString("# TYPE pressgate_confirmations_consumed_total counter\n")
		fmt.Fprintf(b, "pressgate_confirmations_consumed_total %d\n", snap.ConfirmationsBurned)
		b.WriteString("# HELP pressgate_notifications_dropped_total notifications lost to breaker or publisher failures\n")
		b.WriteString("# TYPE pressgate_notifications_dropped_total counter\n")
		fmt.Fprintf(b, "pressgate_notifications_dropped_total %d\n", snap.NotificationsDropped)
		for _, h := range snap.Histograms {
			b.WriteString("# HELP pressgate_latency_seconds latency histogram\n")
			b.WriteString("# TYPE pressgate_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "pressgate_latency_seconds_bucket{endpoint=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "pressgate_latency_seconds_bucket{endpoint=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "pressgate_latency_seconds_sum{endpoint=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "pressgate_latency_seconds_count{endpoint=%q} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "pressgate_latency_p50_seconds{endpoint=%q} %.6f\n", h.Name, h.P50)
			fmt.Fprintf(b, "pressgate_latency_p95_seconds{endpoint=%q} %.6f\n", h.Name, h.P95)
			fmt.Fprintf(b, "pressgate_latency_p99_seconds{endpoint=%q} %.6f\n", h.Name, h.P99)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
