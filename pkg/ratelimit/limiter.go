package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter blocks callers until they may proceed.
type Limiter interface {
	// Wait blocks until a request is allowed or ctx is done.
	Wait(ctx context.Context) error
}

// TokenBucket implements a token bucket rate limiter. The bucket holds at
// most capacity tokens and is refilled in full once per refill period.
type TokenBucket struct {
	capacity     int
	tokens       int
	refillPeriod time.Duration
	lastRefill   time.Time
	mu           sync.Mutex
}

// NewTokenBucket creates a new token bucket rate limiter
func NewTokenBucket(capacity int, refillPeriod time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		lastRefill:   time.Now(),
	}
}

// PerMinute returns a bucket admitting roughly rpm requests per minute in
// bursts of at most burst.
func PerMinute(rpm, burst int) *TokenBucket {
	if burst <= 0 || burst > rpm {
		burst = rpm
	}
	period := time.Duration(float64(time.Minute) * float64(burst) / float64(rpm))
	return NewTokenBucket(burst, period)
}

// Allow takes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for !tb.Allow() {
		tb.mu.Lock()
		wait := tb.refillPeriod - time.Since(tb.lastRefill)
		tb.mu.Unlock()
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Reset resets the token bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = time.Now()
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	if now.Sub(tb.lastRefill) >= tb.refillPeriod {
		tb.tokens = tb.capacity
		tb.lastRefill = now
	}
}

// Jitter pauses for Base plus a uniformly random share of Spread.
type Jitter struct {
	Base   time.Duration
	Spread time.Duration
}

// Next returns the next pause length.
func (j Jitter) Next() time.Duration {
	d := j.Base
	if j.Spread > 0 {
		d += time.Duration(rand.Int63n(int64(j.Spread) + 1))
	}
	return d
}

// Wait sleeps for the next pause length or until ctx is done.
func (j Jitter) Wait(ctx context.Context) error {
	d := j.Next()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
