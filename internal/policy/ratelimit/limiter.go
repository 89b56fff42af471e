// Package ratelimit enforces the courtesy delay between outbound requests.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time so waits can be tested without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Limiter enforces a minimum interval measured from the last recorded request.
// One Limiter is shared by every caller that must respect the same interval.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	clock    Clock
	last     time.Time
}

// New creates a Limiter. A non-positive interval disables waiting.
func New(interval time.Duration, clock Clock) *Limiter {
	return &Limiter{interval: interval, clock: clock}
}

// Wait blocks until the interval since the last recorded request has elapsed.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.interval <= 0 {
		return ctx.Err()
	}
	l.mu.Lock()
	last := l.last
	l.mu.Unlock()
	if last.IsZero() {
		return ctx.Err()
	}
	remaining := l.interval - l.clock.Now().Sub(last)
	if remaining <= 0 {
		return ctx.Err()
	}
	if err := l.clock.Sleep(ctx, remaining); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Record stores the current time as the timestamp of the latest request.
func (l *Limiter) Record() {
	now := l.clock.Now()
	l.mu.Lock()
	l.last = now
	l.mu.Unlock()
}

// Last returns the timestamp of the latest recorded request.
func (l *Limiter) Last() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Interval returns the configured minimum interval.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Pacer spaces out successive operations by a fixed interval using a token bucket
// with a burst of one. The first call never waits.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a Pacer. A non-positive interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	limit := rate.Every(interval)
	if interval <= 0 {
		limit = rate.Inf
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next operation may start.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}
	return nil
}
