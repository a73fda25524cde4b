package ratelimit

import (
	"context"
	"sync"
	"time"
)

// AdaptiveLimiter paces calls to a rate-limited dependency. The rate shrinks
// multiplicatively on throttle signals and recovers gradually on success, so
// backoff is always faster than recovery. State lives for one process only.
//
// Safe for concurrent use, though the orchestrator's unit loop is sequential
// by design.
type AdaptiveLimiter struct {
	cfg Config

	mu       sync.Mutex
	rate     float64 // calls per second, always within [MinRate, MaxRate]
	lastCall time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates a limiter starting at the configured initial rate.
func New(cfg Config) *AdaptiveLimiter {
	cfg = cfg.withDefaults()
	return &AdaptiveLimiter{
		cfg:   cfg,
		rate:  cfg.InitialRate,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Rate returns the current permitted call rate in calls per second.
func (l *AdaptiveLimiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// OnSuccess grows the rate toward the ceiling.
func (l *AdaptiveLimiter) OnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rate *= l.cfg.IncreaseFactor
	if l.rate > l.cfg.MaxRate {
		l.rate = l.cfg.MaxRate
	}
}

// OnThrottled shrinks the rate toward the floor.
func (l *AdaptiveLimiter) OnThrottled() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rate *= l.cfg.DecreaseFactor
	if l.rate < l.cfg.MinRate {
		l.rate = l.cfg.MinRate
	}
}

// Wait blocks until the interval implied by the current rate has elapsed
// since the previous call, or the context is cancelled.
func (l *AdaptiveLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	interval := time.Duration(float64(time.Second) / l.rate)
	now := l.now()

	var delay time.Duration
	if !l.lastCall.IsZero() {
		if elapsed := now.Sub(l.lastCall); elapsed < interval {
			delay = interval - elapsed
		}
	}
	l.lastCall = now.Add(delay)
	l.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	return l.sleep(ctx, delay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
