package pairing

import (
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
)

type pairKey struct {
	lo, hi PeerID
}

func keyFor(a, b PeerID) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

type blockEntry struct {
	until time.Time
	timer *clock.Timer
}

// Blocklist remembers pairs whose room timed out so they are not matched
// again right away. Entries expire after ttl on clk; the oldest are evicted
// beyond size. A nil *Blocklist blocks nothing.
//
// Blocklist is not safe for concurrent use. onExpire runs on a timer
// goroutine once a pair's ttl has passed; the callee takes its own lock and
// may then find the pair unblocked.
type Blocklist struct {
	clock    clock.Clock
	ttl      time.Duration
	onExpire func()
	pairs    *lru.Cache[pairKey, blockEntry]
}

// NewBlocklist returns nil when ttl <= 0. onExpire may be nil.
func NewBlocklist(clk clock.Clock, size int, ttl time.Duration, onExpire func()) *Blocklist {
	if ttl <= 0 {
		return nil
	}
	if size <= 0 {
		size = 1
	}
	// A lapsed entry keeps its timer so onExpire still runs for it.
	pairs, _ := lru.NewWithEvict[pairKey, blockEntry](size, func(_ pairKey, e blockEntry) {
		if e.timer != nil && clk.Now().Before(e.until) {
			e.timer.Stop()
		}
	})
	return &Blocklist{clock: clk, ttl: ttl, onExpire: onExpire, pairs: pairs}
}

// Block reports whether the pair was recorded. Blocking a pair again
// restarts its ttl.
func (b *Blocklist) Block(x, y PeerID) bool {
	if b == nil || x == y {
		return false
	}
	k := keyFor(x, y)
	if old, ok := b.pairs.Peek(k); ok && old.timer != nil {
		old.timer.Stop()
	}
	e := blockEntry{until: b.clock.Now().Add(b.ttl)}
	if b.onExpire != nil {
		e.timer = b.clock.AfterFunc(b.ttl, b.onExpire)
	}
	b.pairs.Add(k, e)
	return true
}

func (b *Blocklist) IsBlocked(x, y PeerID) bool {
	if b == nil {
		return false
	}
	k := keyFor(x, y)
	e, ok := b.pairs.Peek(k)
	if !ok {
		return false
	}
	if b.clock.Now().Before(e.until) {
		return true
	}
	b.pairs.Remove(k)
	return false
}

func (b *Blocklist) Len() int {
	if b == nil {
		return 0
	}
	return b.pairs.Len()
}

// Clear drops every pair and stops their timers.
func (b *Blocklist) Clear() {
	if b == nil {
		return
	}
	for _, k := range b.pairs.Keys() {
		if e, ok := b.pairs.Peek(k); ok && e.timer != nil {
			e.timer.Stop()
		}
	}
	b.pairs.Purge()
}
