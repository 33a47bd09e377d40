package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const nanoTokensPerToken int64 = int64(time.Second) // 1e9

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate (tokens/sec) read from a clock.
//
// Tokens are stored as fixed-point nano-tokens (1 token = 1e9), so a rate of
// X tokens/sec adds exactly X nano-tokens per elapsed nanosecond.
type TokenBucket struct {
	mu sync.Mutex

	clock clock.Clock

	capacityNano int64
	fillRate     int64 // tokens/sec

	availableNano int64
	last          time.Time
}

// NewTokenBucket returns a full bucket. A nil clock means wall time.
func NewTokenBucket(clk clock.Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clk == nil {
		clk = clock.New()
	}
	if fillRate < 0 {
		fillRate = 0
	}
	capacityNano := tokensToNano(capacityTokens)
	return &TokenBucket{
		clock:         clk,
		capacityNano:  capacityNano,
		fillRate:      fillRate,
		availableNano: capacityNano,
		last:          clk.Now(),
	}
}

// NewPerSecond is the usual shape for message limits: a one second burst
// refilled continuously.
func NewPerSecond(clk clock.Clock, perSecond int) *TokenBucket {
	return NewTokenBucket(clk, int64(perSecond), int64(perSecond))
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := tokensToNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.availableNano < cost {
		return false
	}
	b.availableNano -= cost
	return true
}

// Available returns the whole tokens currently in the bucket.
func (b *TokenBucket) Available() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	return b.availableNano / nanoTokensPerToken
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last)
	b.last = now
	// A clock that went backwards only moves the reference point.
	if elapsed <= 0 || b.fillRate == 0 || b.availableNano >= b.capacityNano {
		return
	}

	need := b.capacityNano - b.availableNano
	// elapsed*rate could overflow; clamp once enough time has passed to fill.
	if elapsed.Nanoseconds() >= need/b.fillRate {
		b.availableNano = b.capacityNano
		return
	}
	b.availableNano += elapsed.Nanoseconds() * b.fillRate
	if b.availableNano > b.capacityNano {
		b.availableNano = b.capacityNano
	}
}

func tokensToNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}
