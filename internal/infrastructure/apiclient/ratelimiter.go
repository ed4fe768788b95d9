package apiclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"golang.org/x/sync/semaphore"
)

// Request costs
const (
	CostRecord = 1
	CostQuery  = 2
)

// RateLimiter bounds the cost of in-flight calls to one integration and,
// when RefillPerSecond is set, the rate at which cost is spent.
//
// Outstanding cost is capped by a weighted semaphore of size Capacity. The
// refill bucket holds at most Capacity tokens and regains RefillPerSecond
// tokens each second.
type RateLimiter struct {
	capacity int64
	sem      *semaphore.Weighted

	mu         sync.Mutex
	refill     float64
	tokens     float64
	lastRefill time.Time

	outstanding atomic.Int64
	waits       atomic.Int64
}

// RateLimiterConfig configures a RateLimiter
type RateLimiterConfig struct {
	// Capacity is the maximum outstanding cost
	Capacity int
	// RefillPerSecond is the sustained cost per second, 0 disables the bucket
	RefillPerSecond float64
}

// DefaultRateLimiterConfig returns limits suited to the supported platforms
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{Capacity: 10, RefillPerSecond: 4}
}

// NewRateLimiter creates a rate limiter
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultRateLimiterConfig().Capacity
	}
	return &RateLimiter{
		capacity:   int64(cfg.Capacity),
		sem:        semaphore.NewWeighted(int64(cfg.Capacity)),
		refill:     cfg.RefillPerSecond,
		tokens:     float64(cfg.Capacity),
		lastRefill: time.Now(),
	}
}

// Capacity returns the maximum outstanding cost
func (l *RateLimiter) Capacity() int { return int(l.capacity) }

// Outstanding returns the cost currently held
func (l *RateLimiter) Outstanding() int { return int(l.outstanding.Load()) }

// Waits returns how many acquisitions had to wait for bucket refill
func (l *RateLimiter) Waits() int64 { return l.waits.Load() }

// Acquire blocks until cost can be spent. On error nothing is held.
func (l *RateLimiter) Acquire(ctx context.Context, cost int) error {
	if cost <= 0 || int64(cost) > l.capacity {
		return integration.NewValidationError("cost", fmt.Sprintf("must be between 1 and %d, got %d", l.capacity, cost))
	}
	if err := l.sem.Acquire(ctx, int64(cost)); err != nil {
		return err
	}
	if err := l.takeTokens(ctx, float64(cost)); err != nil {
		l.sem.Release(int64(cost))
		return err
	}
	l.outstanding.Add(int64(cost))
	return nil
}

// Release returns cost acquired by Acquire
func (l *RateLimiter) Release(cost int) {
	l.outstanding.Add(-int64(cost))
	l.sem.Release(int64(cost))
}

// Do runs fn while holding cost. The cost is released on every exit path,
// including a panic in fn.
func (l *RateLimiter) Do(ctx context.Context, cost int, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx, cost); err != nil {
		return err
	}
	defer l.Release(cost)
	return fn(ctx)
}

func (l *RateLimiter) takeTokens(ctx context.Context, cost float64) error {
	if l.refill <= 0 {
		return nil
	}
	waited := false
	for {
		l.mu.Lock()
		now := time.Now()
		l.tokens += now.Sub(l.lastRefill).Seconds() * l.refill
		if ceiling := float64(l.capacity); l.tokens > ceiling {
			l.tokens = ceiling
		}
		l.lastRefill = now
		if l.tokens >= cost {
			l.tokens -= cost
			l.mu.Unlock()
			return nil
		}
		wait := time.Duration((cost - l.tokens) / l.refill * float64(time.Second))
		l.mu.Unlock()

		if !waited {
			waited = true
			l.waits.Add(1)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
