package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing(context.Context) error { return errBoom }
func succeeding(context.Context) error { return nil }

func TestBreakerOpensAfterVolumeThreshold(t *testing.T) {
	b := New("test", Options{
		ErrorThresholdPercentage: 50,
		VolumeThreshold:          4,
		ResetTimeout:             time.Minute,
		RollingWindow:            time.Minute,
	})
	ctx := context.Background()

	// below volume threshold: failures pass through, breaker stays closed
	for i := 0; i < 3; i++ {
		if err := b.Fire(ctx, failing); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected errBoom, got %v", i, err)
		}
	}
	if b.State() != Closed {
		t.Fatalf("expected CLOSED before volume threshold, got %s", b.State())
	}

	if err := b.Fire(ctx, failing); !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if b.State() != Open {
		t.Fatalf("expected OPEN after threshold, got %s", b.State())
	}

	// open circuit rejects without invoking fn
	invoked := false
	err := b.Fire(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if invoked {
		t.Fatal("wrapped function must not run while open")
	}
}

func TestBreakerStaysClosedUnderThreshold(t *testing.T) {
	b := New("test", Options{
		ErrorThresholdPercentage: 60,
		VolumeThreshold:          5,
		RollingWindow:            time.Minute,
	})
	ctx := context.Background()

	// 2 failures out of 5 = 40% < 60%
	for i := 0; i < 3; i++ {
		if err := b.Fire(ctx, succeeding); err != nil {
			t.Fatalf("success call failed: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		_ = b.Fire(ctx, failing)
	}
	if b.State() != Closed {
		t.Fatalf("expected CLOSED at 40%% failures, got %s", b.State())
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := New("test", Options{
		ErrorThresholdPercentage: 50,
		VolumeThreshold:          2,
		ResetTimeout:             20 * time.Millisecond,
		RollingWindow:            time.Minute,
	})
	ctx := context.Background()

	_ = b.Fire(ctx, failing)
	_ = b.Fire(ctx, failing)
	if b.State() != Open {
		t.Fatalf("expected OPEN, got %s", b.State())
	}

	time.Sleep(25 * time.Millisecond)

	// trial call allowed, success closes the circuit
	if err := b.Fire(ctx, succeeding); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected CLOSED after successful trial, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("test", Options{
		ErrorThresholdPercentage: 50,
		VolumeThreshold:          2,
		ResetTimeout:             20 * time.Millisecond,
		RollingWindow:            time.Minute,
	})
	ctx := context.Background()

	_ = b.Fire(ctx, failing)
	_ = b.Fire(ctx, failing)
	time.Sleep(25 * time.Millisecond)

	if err := b.Fire(ctx, failing); !errors.Is(err, errBoom) {
		t.Fatalf("expected trial failure passthrough, got %v", err)
	}
	if b.State() != Open {
		t.Fatalf("expected OPEN after failed trial, got %s", b.State())
	}
	if err := b.Fire(ctx, succeeding); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen right after reopen, got %v", err)
	}
}

func TestBreakerTimeoutCountsAsFailure(t *testing.T) {
	b := New("test", Options{
		Timeout:                  15 * time.Millisecond,
		ErrorThresholdPercentage: 50,
		VolumeThreshold:          1,
		ResetTimeout:             time.Minute,
		RollingWindow:            time.Minute,
	})

	slow := func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	err := b.Fire(context.Background(), slow)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if b.State() != Open {
		t.Fatalf("expected OPEN after timeout failure, got %s", b.State())
	}
}

func TestRegistryReturnsSameBreakerByName(t *testing.T) {
	r := NewRegistry(Options{})
	a := r.Get("notify")
	b := r.Get("notify")
	if a != b {
		t.Fatal("expected identical breaker instance per name")
	}
	if r.Get("executor") == a {
		t.Fatal("expected distinct breaker per distinct name")
	}
}

func TestRegistryStateChangeHook(t *testing.T) {
	r := NewRegistry(Options{
		ErrorThresholdPercentage: 50,
		VolumeThreshold:          1,
		RollingWindow:            time.Minute,
	})
	var transitions []string
	r.OnStateChange = func(name string, from, to State) {
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	}
	b := r.Get("hook")
	_ = b.Fire(context.Background(), failing)
	if len(transitions) != 1 || transitions[0] != "hook:CLOSED->OPEN" {
		t.Fatalf("unexpected transitions: %v", transitions)
	}
}
