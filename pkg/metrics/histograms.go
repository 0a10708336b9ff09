package metrics

import (
	"sync"
	"time"
)

// latencyBounds are cumulative bucket upper bounds in seconds.
var latencyBounds = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

type HistogramBucket struct {
	Le    float64
	Count int64
}

// Histogram tracks a latency distribution over fixed buckets.
type Histogram struct {
	mu      sync.Mutex
	name    string
	buckets []HistogramBucket
	sum     float64
	count   int64
}

func NewHistogram(name string) *Histogram {
	buckets := make([]HistogramBucket, len(latencyBounds))
	for i, le := range latencyBounds {
		buckets[i] = HistogramBucket{Le: le}
	}
	return &Histogram{name: name, buckets: buckets}
}

func (h *Histogram) Observe(d time.Duration) {
	sec := d.Seconds()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += sec
	h.count++
	for i := range h.buckets {
		if sec <= h.buckets[i].Le {
			h.buckets[i].Count++
		}
	}
}

// Percentile estimates the given quantile (0.0-1.0) from bucket bounds.
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return percentileFromBuckets(h.buckets, h.count, p)
}

func percentileFromBuckets(buckets []HistogramBucket, count int64, p float64) float64 {
	if count == 0 {
		return 0
	}
	target := int64(p * float64(count))
	for _, b := range buckets {
		if b.Count >= target {
			return b.Le
		}
	}
	if len(buckets) > 0 {
		return buckets[len(buckets)-1].Le
	}
	return 0
}

type HistogramSnapshot struct {
	Name    string
	Buckets []HistogramBucket
	Sum     float64
	Count   int64
	P50     float64
	P95     float64
	P99     float64
}

func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	buckets := make([]HistogramBucket, len(h.buckets))
	copy(buckets, h.buckets)
	snap := HistogramSnapshot{
		Name:    h.name,
		Buckets: buckets,
		Sum:     h.sum,
		Count:   h.count,
	}
	if h.count > 0 {
		snap.P50 = percentileFromBuckets(buckets, h.count, 0.50)
		snap.P95 = percentileFromBuckets(buckets, h.count, 0.95)
		snap.P99 = percentileFromBuckets(buckets, h.count, 0.99)
	}
	return snap
}

// HistogramRegistry hands out named histograms, creating them on first use.
type HistogramRegistry struct {
	mu         sync.RWMutex
	histograms map[string]*Histogram
}

func NewHistogramRegistry() *HistogramRegistry {
	return &HistogramRegistry{histograms: map[string]*Histogram{}}
}

func (r *HistogramRegistry) Get(name string) *Histogram {
	r.mu.RLock()
	h, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.histograms[name]; ok {
		return h
	}
	h = NewHistogram(name)
	r.histograms[name] = h
	return h
}

func (r *HistogramRegistry) ObserveDuration(name string, d time.Duration) {
	r.Get(name).Observe(d)
}

func (r *HistogramRegistry) Snapshots() []HistogramSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HistogramSnapshot, 0, len(r.histograms))
	for _, h := range r.histograms {
		out = append(out, h.Snapshot())
	}
	return out
}
