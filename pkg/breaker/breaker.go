package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without invoking the wrapped function while the
// circuit is open. Callers wrapping non-critical side effects must treat it
// as a soft failure.
var ErrOpen = errors.New("breaker: circuit open")

// ErrTimeout is returned when a call exceeds the configured timeout. The
// call counts as a failure even if it eventually resolves.
var ErrTimeout = errors.New("breaker: call timed out")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

type Options struct {
	Timeout                  time.Duration
	ErrorThresholdPercentage int
	ResetTimeout             time.Duration
	VolumeThreshold          int
	RollingWindow            time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Second
	}
	if o.ErrorThresholdPercentage <= 0 {
		o.ErrorThresholdPercentage = 50
	}
	if o.ResetTimeout <= 0 {
		o.ResetTimeout = 30 * time.Second
	}
	if o.VolumeThreshold <= 0 {
		o.VolumeThreshold = 5
	}
	if o.RollingWindow <= 0 {
		o.RollingWindow = 10 * time.Second
	}
	return o
}

// Breaker guards one named downstream operation. Transitions are driven
// only by observed call outcomes.
type Breaker struct {
	name string
	opts Options

	mu            sync.Mutex
	state         State
	windowStart   time.Time
	total         int
	failures      int
	openedAt      time.Time
	trialInFlight bool

	onStateChange func(name string, from, to State)
}

func New(name string, opts Options) *Breaker {
	return &Breaker{
		name:        name,
		opts:        opts.withDefaults(),
		state:       Closed,
		windowStart: time.Now(),
	}
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Fire runs fn under the breaker's timeout and records the outcome.
func (b *Breaker) Fire(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.allow()
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	select {
	case callErr := <-done:
		b.record(callErr == nil, trial)
		return callErr
	case <-callCtx.Done():
		b.record(false, trial)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrTimeout
		}
		return callCtx.Err()
	}
}

func (b *Breaker) allow() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.opts.ResetTimeout {
			return false, ErrOpen
		}
		b.transitionLocked(HalfOpen)
		b.trialInFlight = true
		return true, nil
	case HalfOpen:
		if b.trialInFlight {
			return false, ErrOpen
		}
		b.trialInFlight = true
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) record(success, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trialInFlight = false
		if success {
			b.transitionLocked(Closed)
			b.resetWindowLocked()
		} else {
			b.transitionLocked(Open)
			b.openedAt = time.Now()
		}
		return
	}
	if b.state != Closed {
		return
	}
	if time.Since(b.windowStart) > b.opts.RollingWindow {
		b.resetWindowLocked()
	}
	b.total++
	if !success {
		b.failures++
	}
	if b.total >= b.opts.VolumeThreshold && b.failures*100 >= b.opts.ErrorThresholdPercentage*b.total {
		b.transitionLocked(Open)
		b.openedAt = time.Now()
	}
}

func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

func (b *Breaker) resetWindowLocked() {
	b.windowStart = time.Now()
	b.total = 0
	b.failures = 0
}
