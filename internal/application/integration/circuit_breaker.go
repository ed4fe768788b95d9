package integration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"go.uber.org/zap"
)

// BreakerState is the state of a CircuitBreaker
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreakerConfig configures a CircuitBreaker
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold int
	// Cooldown is how long the breaker stays open before a probe is allowed
	Cooldown time.Duration
}

// DefaultCircuitBreakerConfig returns default configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, Cooldown: time.Minute}
}

// CircuitBreaker isolates a failing integration. Closed passes calls
// through; after FailureThreshold consecutive failures it opens and fails
// fast with ErrCircuitOpen; after Cooldown it lets one probe through
// (half-open) and closes on its success or reopens on its failure.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	now    func() time.Time
	logger *zap.Logger

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{name: name, cfg: cfg, now: time.Now, logger: logger, state: BreakerClosed}
}

// State returns the current state, moving open to half-open once the
// cooldown has passed.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Execute runs fn unless the breaker is open. Context cancellation does not
// count as a failure.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	switch b.state {
	case BreakerOpen:
		return integration.ErrCircuitOpen
	case BreakerHalfOpen:
		if b.probing {
			return integration.ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasProbe := b.state == BreakerHalfOpen
	b.probing = false

	if err != nil && (errors.Is(err, context.Canceled) || !countsAsFailure(err)) {
		return
	}
	if err == nil {
		if b.state != BreakerClosed {
			b.logger.Info("Circuit breaker closed", zap.String("breaker", b.name))
		}
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	b.failures++
	if wasProbe || b.failures >= b.cfg.FailureThreshold {
		if b.state != BreakerOpen {
			b.logger.Warn("Circuit breaker opened",
				zap.String("breaker", b.name),
				zap.Int("consecutive_failures", b.failures),
				zap.Duration("cooldown", b.cfg.Cooldown),
				zap.Error(err))
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// advance must be called with mu held
func (b *CircuitBreaker) advance() {
	if b.state == BreakerOpen && !b.now().Before(b.openedAt.Add(b.cfg.Cooldown)) {
		b.state = BreakerHalfOpen
		b.probing = false
	}
}

// countsAsFailure reports whether err says the integration is unhealthy.
// Validation errors are caller bugs and leave the breaker alone.
func countsAsFailure(err error) bool {
	var ve *integration.ValidationError
	return !errors.As(err, &ve) && !errors.Is(err, integration.ErrCircuitOpen)
}

// ---------------------------------------------------------------------------
// Breaker registry
// ---------------------------------------------------------------------------

// BreakerRegistry hands out one breaker per key
type BreakerRegistry struct {
	cfg    CircuitBreakerConfig
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates an empty registry
func NewBreakerRegistry(cfg CircuitBreakerConfig, logger *zap.Logger) *BreakerRegistry {
	return &BreakerRegistry{cfg: cfg, logger: logger, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for key, creating it on first use
func (r *BreakerRegistry) Get(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = NewCircuitBreaker(key, r.cfg, r.logger)
		r.breakers[key] = b
	}
	return b
}

// States returns a snapshot of every breaker's state
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.Lock()
	keys := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		keys = append(keys, b)
	}
	r.mu.Unlock()
	out := make(map[string]BreakerState, len(keys))
	for _, b := range keys {
		out[b.name] = b.State()
	}
	return out
}
