// Package ratelimit implements the token bucket admission controller that
// gates job creation per caller+target key.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Config holds admission limiter configuration.
type Config struct {
	// MaxTokens is the bucket capacity, i.e. the number of admissions
	// allowed per Window from a cold start.
	MaxTokens float64
	// Window is the refill window: a drained bucket refills completely
	// over this duration.
	Window time.Duration
	// SweepInterval controls how often idle buckets are evicted.
	SweepInterval time.Duration
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter manages per-key token buckets. Limiting is best-effort and
// process-local; buckets are not persisted across restarts.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	max     float64
	window  time.Duration
	sweep   time.Duration
	now     func() time.Time
}

// New creates a Limiter. Zero or negative config values fall back to
// 60 admissions per minute swept every window.
func New(cfg Config) *Limiter {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 60
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = window
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		max:     maxTokens,
		window:  window,
		sweep:   sweep,
		now:     time.Now,
	}
}

// refillRate returns tokens added per second.
func (l *Limiter) refillRate() float64 {
	return l.max / l.window.Seconds()
}

// Allow admits or rejects one request for the key. A freshly-seen key is
// seeded with max-1 tokens and admitted.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.max - 1, lastRefill: now}
		return true
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(l.max, b.tokens+elapsed*l.refillRate())
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// RetryAfter returns the whole seconds until the key's bucket next holds a
// full token. Never less than 1.
func (l *Limiter) RetryAfter(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return 1
	}
	deficit := 1 - b.tokens
	if deficit <= 0 {
		return 1
	}
	secs := int(math.Ceil(deficit / l.refillRate()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Sweep evicts buckets idle for more than twice the window to bound memory.
func (l *Limiter) Sweep() {
	cutoff := l.now().Add(-2 * l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// StartSweeper runs Sweep periodically until the context finishes.
func (l *Limiter) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(l.sweep)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

// Key builds the admission key from caller identity and target.
func Key(callerIP, seedURL string) string {
	return callerIP + ":" + seedURL
}
