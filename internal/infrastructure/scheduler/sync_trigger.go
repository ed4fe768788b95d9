package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/erp/syncengine/internal/domain/integration"
)

// IntegrationLister lists the integrations due for scheduled syncs
type IntegrationLister interface {
	FindEnabled(ctx context.Context) ([]*integration.Integration, error)
}

// SyncTriggerConfig holds configuration for the periodic trigger
type SyncTriggerConfig struct {
	// Interval is how often every enabled integration is synced
	Interval time.Duration
	// MaxRetries is copied onto each scheduled job
	MaxRetries int
}

// SyncTrigger periodically schedules a sync job for every enabled
// integration
type SyncTrigger struct {
	config       SyncTriggerConfig
	scheduler    *SyncScheduler
	integrations IntegrationLister
	logger       *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewSyncTrigger creates a new sync trigger
func NewSyncTrigger(
	config SyncTriggerConfig,
	scheduler *SyncScheduler,
	integrations IntegrationLister,
	logger *zap.Logger,
) *SyncTrigger {
	if config.Interval <= 0 {
		config.Interval = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncTrigger{
		config:       config,
		scheduler:    scheduler,
		integrations: integrations,
		logger:       logger,
	}
}

// Start starts the trigger loop
func (c *SyncTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Sync trigger started", zap.Duration("interval", c.config.Interval))
	return nil
}

// Stop stops the trigger loop
func (c *SyncTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Sync trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *SyncTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.TriggerNow(ctx); err != nil {
				c.logger.Error("Failed to schedule integration syncs", zap.Error(err))
			}
		}
	}
}

// TriggerNow schedules every enabled integration and returns how many jobs
// were queued. Integrations that already have a job are skipped.
func (c *SyncTrigger) TriggerNow(ctx context.Context) (int, error) {
	integrations, err := c.integrations.FindEnabled(ctx)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, in := range integrations {
		err := c.scheduler.SubmitJob(NewSyncJob(in, c.config.MaxRetries))
		switch {
		case err == nil:
			queued++
		case errors.Is(err, ErrJobAlreadyQueued):
			c.logger.Debug("Sync job already queued", zap.String("integration_id", in.ID.String()))
		default:
			c.logger.Warn("Failed to schedule integration sync",
				zap.String("integration_id", in.ID.String()),
				zap.Error(err),
			)
			if errors.Is(err, ErrSchedulerNotRunning) {
				return queued, err
			}
		}
	}

	c.logger.Info("Scheduled integration syncs",
		zap.Int("integrations", len(integrations)),
		zap.Int("queued", queued),
	)
	return queued, nil
}
