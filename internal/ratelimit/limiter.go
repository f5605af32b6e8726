// Package ratelimit provides a strict rate limiter for consistent
// traffic generation at high throughput.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter issues permits no faster than the configured rate by tracking the
// next available permit time and enforcing a strict minimum interval between
// permits. Unlike a token bucket it never allows bursts, which keeps the
// achieved request rate inside a tight tolerance of the target.
type Limiter struct {
	mu             sync.Mutex
	nextPermitTime time.Time
	interval       time.Duration

	// Rate tracking (atomic for lock-free reads)
	rateX1000 atomic.Int64 // rate * 1000 for precision
}

// New creates a Limiter with the specified rate in permits per second.
// Rates at or below zero are clamped to 1/s.
func New(ratePerSec float64) *Limiter {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}

	l := &Limiter{
		nextPermitTime: time.Now(),
		interval:       time.Duration(float64(time.Second) / ratePerSec),
	}
	l.rateX1000.Store(int64(ratePerSec * 1000))

	return l
}

// Wait blocks until a permit is available or the context is cancelled.
// A cancelled wait returns its permit slot so later callers are not starved;
// otherwise a worker that times out would silently consume rate capacity.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()

	// Take the next permit time and advance the schedule.
	permitTime := l.nextPermitTime
	l.nextPermitTime = permitTime.Add(l.interval)

	l.mu.Unlock()

	waitDuration := time.Until(permitTime)

	// Permit time in the past means we're behind schedule; proceed now.
	if waitDuration <= 0 {
		return nil
	}

	timer := time.NewTimer(waitDuration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		l.returnPermit(permitTime)
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// returnPermit rolls the schedule back if permitTime was the most recently
// issued slot. Out-of-order returns are dropped rather than reordered.
func (l *Limiter) returnPermit(permitTime time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.nextPermitTime.Equal(permitTime.Add(l.interval)) {
		l.nextPermitTime = permitTime
	}
}

// SetRate updates the rate limit. Takes effect for subsequent permits.
func (l *Limiter) SetRate(ratePerSec float64) {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.interval = time.Duration(float64(time.Second) / ratePerSec)
	l.rateX1000.Store(int64(ratePerSec * 1000))

	// Reset the schedule to now to avoid stalls after a rate decrease or
	// bursts after a rate increase.
	now := time.Now()
	if l.nextPermitTime.Before(now) {
		l.nextPermitTime = now
	}
}

// Rate returns the current rate limit in permits per second.
func (l *Limiter) Rate() float64 {
	return float64(l.rateX1000.Load()) / 1000
}
