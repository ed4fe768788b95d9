package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebhookProcessorConfig contains configuration for WebhookProcessor
type WebhookProcessorConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts is how often an event is tried before it is marked failed
	MaxAttempts int
}

// DefaultWebhookProcessorConfig returns default configuration
func DefaultWebhookProcessorConfig() WebhookProcessorConfig {
	return WebhookProcessorConfig{PollInterval: 5 * time.Second, BatchSize: 50, MaxAttempts: 5}
}

// WebhookProcessor consumes pending webhook events through the same
// reconcile and upsert path as scheduled syncs. Every event is settled as
// processed or failed exactly once.
type WebhookProcessor struct {
	events       integration.WebhookEventRepository
	integrations integration.IntegrationRepository
	registry     *PlatformRegistry
	processor    *RecordProcessor
	metrics      WebhookMetrics
	cfg          WebhookProcessorConfig
	logger       *zap.Logger

	notify   chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

var _ Notifier = (*WebhookProcessor)(nil)

// NewWebhookProcessor creates a new WebhookProcessor
func NewWebhookProcessor(
	events integration.WebhookEventRepository,
	integrations integration.IntegrationRepository,
	registry *PlatformRegistry,
	processor *RecordProcessor,
	metrics WebhookMetrics,
	cfg WebhookProcessorConfig,
	logger *zap.Logger,
) *WebhookProcessor {
	def := DefaultWebhookProcessorConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if metrics == nil {
		metrics = noopWebhookMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookProcessor{
		events:       events,
		integrations: integrations,
		registry:     registry,
		processor:    processor,
		metrics:      metrics,
		cfg:          cfg,
		logger:       logger,
		notify:       make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Notify wakes the processing loop without blocking
func (p *WebhookProcessor) Notify() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Start runs the processing loop in a goroutine until Stop or ctx is done
func (p *WebhookProcessor) Start(ctx context.Context) {
	p.started.Store(true)
	go p.Run(ctx)
}

// Stop ends the loop started by Start and waits for the current batch
func (p *WebhookProcessor) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started.Load() {
		<-p.done
	}
}

// Run processes pending events every PollInterval and whenever notified
func (p *WebhookProcessor) Run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Webhook processor started",
		zap.Duration("poll_interval", p.cfg.PollInterval),
		zap.Int("batch_size", p.cfg.BatchSize))
	for {
		if err := p.drain(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("Webhook batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("Webhook processor stopped")
			return
		case <-p.stop:
			p.logger.Info("Webhook processor stopped")
			return
		case <-ticker.C:
		case <-p.notify:
		}
	}
}

// ProcessPending handles one batch of pending events and returns its size
func (p *WebhookProcessor) ProcessPending(ctx context.Context) (int, error) {
	events, err := p.events.FindPending(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending webhook events: %w", err)
	}
	for _, e := range events {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		p.handle(ctx, e)
	}
	return len(events), nil
}

// drain processes batches until every pending event has been tried once.
// Events that are retried wait for the next tick instead of being picked up
// again by the following batch.
func (p *WebhookProcessor) drain(ctx context.Context) error {
	retried := make(map[uuid.UUID]struct{})
	for {
		limit := p.cfg.BatchSize + len(retried)
		events, err := p.events.FindPending(ctx, limit)
		if err != nil {
			return fmt.Errorf("load pending webhook events: %w", err)
		}
		fresh := 0
		for _, e := range events {
			if _, ok := retried[e.ID]; ok {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fresh++
			if !p.handle(ctx, e) {
				retried[e.ID] = struct{}{}
			}
		}
		if fresh == 0 || len(events) < limit {
			return nil
		}
	}
}

// handle applies one event and reports whether it left the pending state
func (p *WebhookProcessor) handle(ctx context.Context, e *integration.WebhookEvent) bool {
	log := p.logger.With(
		zap.String("event_id", e.EventID),
		zap.String("integration_id", e.IntegrationID.String()),
		zap.String("entity_type", e.EntityType.String()),
		zap.String("entity_id", e.EntityID))

	err := p.apply(ctx, e)
	if err == nil {
		p.settle(ctx, e, integration.WebhookEventStatusProcessed, "", log)
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	attempts := e.Attempts + 1
	if permanent(err) || attempts >= p.cfg.MaxAttempts {
		log.Warn("Webhook event failed", zap.Int("attempts", attempts), zap.Error(err))
		p.settle(ctx, e, integration.WebhookEventStatusFailed, err.Error(), log)
		return true
	}
	if rerr := p.events.RecordAttempt(ctx, e.ID, err.Error()); rerr != nil && !errors.Is(rerr, integration.ErrWebhookAlreadySettled) {
		log.Error("Failed to record webhook attempt", zap.Error(rerr))
	}
	p.metrics.RecordWebhook(ctx, e.Platform, WebhookRetry)
	log.Info("Webhook event will be retried", zap.Int("attempts", attempts), zap.Error(err))
	return false
}

func (p *WebhookProcessor) apply(ctx context.Context, e *integration.WebhookEvent) error {
	in, err := p.integrations.FindByID(ctx, e.IntegrationID)
	if err != nil {
		return err
	}
	connector, err := p.registry.Get(in.Platform)
	if err != nil {
		return err
	}
	rec, err := connector.Transformer().Transform(e.EntityType, e.Payload)
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	rec.IntegrationID = e.IntegrationID
	rec.EntityType = e.EntityType
	r, outcome, err := p.processor.Apply(ctx, rec, false)
	if err != nil {
		return err
	}
	if len(r.Conflicts) > 0 {
		p.logger.Info("Webhook record had conflicts",
			zap.String("event_id", e.EventID),
			zap.String("external_id", rec.ExternalID),
			zap.Int("conflicts", len(r.Conflicts)),
			zap.String("resolution", string(r.Resolution)),
			zap.String("outcome", string(outcome)))
	}
	return nil
}

func (p *WebhookProcessor) settle(ctx context.Context, e *integration.WebhookEvent, status integration.WebhookEventStatus, lastError string, log *zap.Logger) {
	err := p.events.Settle(ctx, e.ID, status, lastError, time.Now())
	switch {
	case errors.Is(err, integration.ErrWebhookAlreadySettled):
		log.Debug("Webhook event already settled")
		return
	case err != nil:
		log.Error("Failed to settle webhook event", zap.Error(err))
		return
	}
	outcome := WebhookProcessed
	if status == integration.WebhookEventStatusFailed {
		outcome = WebhookFailed
	}
	p.metrics.RecordWebhook(ctx, e.Platform, outcome)
}

// permanent reports errors retrying cannot fix
func permanent(err error) bool {
	var ve *integration.ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, integration.ErrIntegrationNotFound) ||
		errors.Is(err, integration.ErrUnsupportedPlatform) ||
		errors.Is(err, integration.ErrUnsupportedEntityType)
}
