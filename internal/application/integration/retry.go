package integration

import (
	"context"
	"errors"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"go.uber.org/zap"
)

// RetryConfig configures a Retrier
type RetryConfig struct {
	// MaxAttempts bounds the total number of calls, including the first
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns default configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
	}
}

// Retrier retries operations that failed with a retryable error, using
// exponential backoff.
type Retrier struct {
	cfg    RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

// NewRetrier creates a new Retrier
func NewRetrier(cfg RetryConfig, logger *zap.Logger) *Retrier {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = max(def.MaxDelay, cfg.BaseDelay)
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{cfg: cfg, sleep: sleepContext, logger: logger}
}

// MaxAttempts returns the configured attempt bound
func (r *Retrier) MaxAttempts() int { return r.cfg.MaxAttempts }

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// attempt bound is reached. Rate limits wait at least the provider's
// Retry-After. An expired session triggers reauth once; a second expiry, or
// an expiry without reauth, is returned as-is.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error, reauth func(ctx context.Context) error) error {
	reauthed := false
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		switch {
		case integration.IsSessionExpired(err):
			if reauth == nil || reauthed {
				return err
			}
			reauthed = true
			if attempt >= r.cfg.MaxAttempts {
				return err
			}
			r.logger.Info("Session expired, re-authenticating",
				zap.String("operation", op),
				zap.Int("attempt", attempt))
			if rerr := reauth(ctx); rerr != nil {
				return rerr
			}
			continue
		case !integration.IsRetryable(err):
			return err
		case attempt >= r.cfg.MaxAttempts:
			r.logger.Warn("Giving up after retries",
				zap.String("operation", op),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return err
		}

		delay := r.Backoff(attempt)
		var rl *integration.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > delay {
			delay = rl.RetryAfter
		}
		r.logger.Debug("Retrying operation",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if serr := r.sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

// Backoff returns the delay after the given failed attempt:
// base * multiplier^(attempt-1), capped at MaxDelay.
func (r *Retrier) Backoff(attempt int) time.Duration {
	d := float64(r.cfg.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= r.cfg.Multiplier
		if d >= float64(r.cfg.MaxDelay) {
			return r.cfg.MaxDelay
		}
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
