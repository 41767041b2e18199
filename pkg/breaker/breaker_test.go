package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOpensAfterThresholdConsecutiveFailures(t *testing.T) {
	b := New(5, time.Minute)
	failing := func(context.Context) error { return errors.New("boom") }

	for i := 0; i < 4; i++ {
		if err := b.Call(context.Background(), failing); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
		if b.State() != Closed {
			t.Fatalf("call %d: breaker opened early at state %v", i, b.State())
		}
	}

	if err := b.Call(context.Background(), failing); err == nil {
		t.Fatal("5th call: expected failure")
	}
	if b.State() != Open {
		t.Fatalf("state after 5th failure = %v, want Open", b.State())
	}
}

func TestOpenBreakerShortCircuits(t *testing.T) {
	b := New(1, time.Minute)
	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("boom") })
	if b.State() != Open {
		t.Fatalf("state = %v, want Open", b.State())
	}

	called := false
	err := b.Call(context.Background(), func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Fatal("fn was called while breaker open")
	}
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("boom") })
	if b.State() != Open {
		t.Fatalf("state = %v, want Open", b.State())
	}

	time.Sleep(15 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatalf("state after reset timeout = %v, want HalfOpen", b.State())
	}

	if err := b.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("state after successful probe = %v, want Closed", b.State())
	}
}

func TestHalfOpenProbeReopensOnFailure(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("boom") })
	time.Sleep(15 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want HalfOpen", b.State())
	}

	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("still broken") })
	if b.State() != Open {
		t.Fatalf("state after failed probe = %v, want Open", b.State())
	}
}

func TestHalfOpenOnlyAllowsOneProbeAtATime(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("boom") })
	time.Sleep(15 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("first probe should be allowed")
	}
	if b.Allow() {
		t.Fatal("second concurrent probe should not be allowed while first is in flight")
	}
}

func TestSuccessInClosedStateResetsFailureCounter(t *testing.T) {
	b := New(3, time.Minute)
	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("boom") })
	_ = b.Call(context.Background(), func(context.Context) error { return nil })
	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("boom") })
	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("boom") })

	if b.State() != Closed {
		t.Fatalf("state = %v, want Closed (success should have reset the streak)", b.State())
	}
}
