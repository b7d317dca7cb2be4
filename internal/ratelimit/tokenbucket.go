// Package ratelimit provides the token bucket that paces outgoing lines.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a token bucket with a minimum charge per consume. It starts
// full and refills in whole tokens only.
type Bucket struct {
	mu       sync.Mutex
	tokens   int
	capacity int
	fillRate int
	floor    int
	last     time.Time
	now      func() time.Time
}

// Option configures a Bucket
type Option func(*Bucket)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bucket) { b.now = now }
}

// New creates a full bucket holding capacity tokens that refills at
// fillRate tokens per second. Every successful consume costs at least floor.
func New(capacity, fillRate, floor int, opts ...Option) *Bucket {
	b := &Bucket{
		tokens:   capacity,
		capacity: capacity,
		fillRate: fillRate,
		floor:    floor,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.last = b.now()
	return b
}

// Consume takes max(n, floor) tokens and returns how many were taken, or
// takes nothing and returns 0 if there are not enough.
func (b *Bucket) Consume(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.generate()
	if n < b.floor {
		n = b.floor
	}
	if n > b.tokens {
		return 0
	}
	b.tokens -= n
	return n
}

// Available returns the current token count after refilling.
func (b *Bucket) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.generate()
	return b.tokens
}

// Capacity returns the maximum number of tokens.
func (b *Bucket) Capacity() int { return b.capacity }

func (b *Bucket) generate() {
	now := b.now()
	if b.tokens >= b.capacity {
		// a full bucket must not bank idle time
		b.last = now
		return
	}

	// the clock only moves once a whole token has accrued, otherwise
	// frequent calls would never generate anything
	fresh := int(float64(b.fillRate) * now.Sub(b.last).Seconds())
	if fresh < 1 {
		return
	}
	b.tokens += fresh
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}
