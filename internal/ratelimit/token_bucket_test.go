package ratelimit

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestTokenBucket_AllowAndRefill(t *testing.T) {
	clk := clock.NewMock()
	b := NewTokenBucket(clk, 5, 5) // 5 tokens capacity, 5 tokens/sec.

	if !b.Allow(5) {
		t.Fatalf("expected initial burst to succeed")
	}
	if b.Allow(1) {
		t.Fatalf("expected bucket to be empty")
	}

	clk.Add(200 * time.Millisecond) // 1 token at 5/sec.
	if !b.Allow(1) {
		t.Fatalf("expected refill after time advance")
	}
	if b.Allow(1) {
		t.Fatalf("expected exactly one refilled token")
	}
}

func TestTokenBucket_DoesNotExceedCapacity(t *testing.T) {
	clk := clock.NewMock()
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("expected initial token")
	}

	clk.Add(10 * time.Second)
	if got := b.Available(); got != 1 {
		t.Fatalf("Available=%d, want 1", got)
	}
	if !b.Allow(1) {
		t.Fatalf("expected refill up to capacity")
	}
	if b.Allow(1) {
		t.Fatalf("expected capacity clamp (only 1 token available)")
	}
}

func TestTokenBucket_ZeroTokensAlwaysAllowed(t *testing.T) {
	b := NewTokenBucket(clock.NewMock(), 0, 0)
	if !b.Allow(0) {
		t.Fatalf("Allow(0)=false, want true")
	}
	if b.Allow(1) {
		t.Fatalf("Allow(1)=true on zero-capacity bucket")
	}
}

func TestNewPerSecond(t *testing.T) {
	clk := clock.NewMock()
	b := NewPerSecond(clk, 3)
	for i := 0; i < 3; i++ {
		if !b.Allow(1) {
			t.Fatalf("message %d rejected within burst", i)
		}
	}
	if b.Allow(1) {
		t.Fatalf("expected fourth message in the same instant to be rejected")
	}
	clk.Add(time.Second)
	if got := b.Available(); got != 3 {
		t.Fatalf("Available=%d, want 3", got)
	}
}
