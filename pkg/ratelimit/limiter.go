package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of one fixed-window check.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func newDecision(count, limit int, resetAt time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

type Limiter interface {
	Allow(key string, limit int) Decision
}

// InMemoryLimiter is a fixed-window counter for single-instance
// deployments, and the fallback when redis is unreachable.
type InMemoryLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	windows map[string]*fixedWindow
}

type fixedWindow struct {
	count   int
	resetAt time.Time
}

func NewInMemory(window time.Duration) *InMemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &InMemoryLimiter{
		window:  window,
		windows: map[string]*fixedWindow{},
	}
}

func (l *InMemoryLimiter) Allow(key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now)
	win := l.windows[key]
	if win == nil || now.After(win.resetAt) {
		win = &fixedWindow{resetAt: now.Add(l.window)}
		l.windows[key] = win
	}
	win.count++
	return newDecision(win.count, limit, win.resetAt)
}

func (l *InMemoryLimiter) prune(now time.Time) {
	for key, win := range l.windows {
		if now.After(win.resetAt) {
			delete(l.windows, key)
		}
	}
}
