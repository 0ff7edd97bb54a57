package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPacer_EnforcesInterval(t *testing.T) {
	p := NewPacer(30 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	// First token is immediate; the next two must each wait the interval.
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected at least ~60ms of pacing, got %v", elapsed)
	}
}

func TestPacer_ZeroInterval_NeverBlocks(t *testing.T) {
	p := NewPacer(0)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("expected no pacing, got %v", elapsed)
	}
}

func TestPacerSet_ReusesPerKey(t *testing.T) {
	s := NewPacerSet()
	a := s.Get("comp-a", time.Second)
	b := s.Get("comp-b", time.Second)
	if a == b {
		t.Error("different keys should get different pacers")
	}
	if s.Get("comp-a", time.Minute) != a {
		t.Error("same key should reuse the existing pacer")
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := b.Execute(ctx, func(context.Context) error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	err := b.Execute(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_RecoversAfterResetTimeout(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	_ = b.Execute(ctx, func(context.Context) error { return errors.New("boom") })
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	time.Sleep(15 * time.Millisecond)
	if err := b.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe should be allowed after reset timeout: %v", err)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %v", b.State())
	}
}
