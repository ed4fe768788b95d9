package integration

import (
	"context"
	"sync"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/apiclient"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SyncMetrics records run outcomes
type SyncMetrics interface {
	RecordSync(ctx context.Context, platform integration.PlatformCode, result *integration.SyncResult)
}

type noopSyncMetrics struct{}

func (noopSyncMetrics) RecordSync(context.Context, integration.PlatformCode, *integration.SyncResult) {}

// SyncServiceConfig contains configuration for SyncService
type SyncServiceConfig struct {
	Orchestrator OrchestratorConfig
	Retry        RetryConfig
	Breaker      CircuitBreakerConfig
	RateLimit    apiclient.RateLimiterConfig
}

// SyncServiceDeps are the collaborators of a SyncService
type SyncServiceDeps struct {
	Integrations integration.IntegrationRepository
	States       integration.SyncStateRepository
	Processor    *RecordProcessor
	Credentials  *CredentialStore
	Registry     *PlatformRegistry
	Metrics      SyncMetrics
	// Observer receives the events of every run, may be nil
	Observer integration.SyncObserver
}

// SyncService resolves integrations to orchestrators and runs syncs. The
// rate limiter, circuit breaker and orchestrator of an integration are built
// once and reused by every run.
type SyncService struct {
	deps     SyncServiceDeps
	cfg      SyncServiceConfig
	retrier  *Retrier
	breakers *BreakerRegistry
	logger   *zap.Logger

	mu            sync.Mutex
	orchestrators map[uuid.UUID]*SyncOrchestrator
	limiters      map[uuid.UUID]*apiclient.RateLimiter
}

// NewSyncService creates a new SyncService
func NewSyncService(deps SyncServiceDeps, cfg SyncServiceConfig, logger *zap.Logger) *SyncService {
	if deps.Metrics == nil {
		deps.Metrics = noopSyncMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		deps:          deps,
		cfg:           cfg,
		retrier:       NewRetrier(cfg.Retry, logger),
		breakers:      NewBreakerRegistry(cfg.Breaker, logger),
		logger:        logger,
		orchestrators: make(map[uuid.UUID]*SyncOrchestrator),
		limiters:      make(map[uuid.UUID]*apiclient.RateLimiter),
	}
}

// Orchestrator returns the orchestrator of an enabled integration
func (s *SyncService) Orchestrator(ctx context.Context, integrationID uuid.UUID) (*SyncOrchestrator, error) {
	s.mu.Lock()
	o, ok := s.orchestrators[integrationID]
	s.mu.Unlock()
	if ok {
		return o, nil
	}

	in, err := s.deps.Integrations.FindByID(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if !in.Enabled {
		return nil, integration.ErrIntegrationDisabled
	}
	connector, err := s.deps.Registry.Get(in.Platform)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orchestrators[integrationID]; ok {
		return o, nil
	}
	limiter, ok := s.limiters[integrationID]
	if !ok {
		limiter = apiclient.NewRateLimiter(s.cfg.RateLimit)
		s.limiters[integrationID] = limiter
	}
	source, err := connector.Connect(in, limiter, apiclient.TokenProviderFunc(s.deps.Credentials.TokenSource(integrationID)))
	if err != nil {
		return nil, err
	}
	o, err = NewSyncOrchestrator(in, OrchestratorDeps{
		Source:      source,
		Transformer: connector.Transformer(),
		Auth:        s.deps.Credentials,
		States:      s.deps.States,
		Processor:   s.deps.Processor,
		Retrier:     s.retrier,
		Breaker:     s.breakers.Get(integrationID.String()),
		Observer:    s.deps.Observer,
	}, s.cfg.Orchestrator, s.logger)
	if err != nil {
		return nil, err
	}
	s.orchestrators[integrationID] = o
	return o, nil
}

// Invalidate drops the cached orchestrator of an integration, e.g. after its
// configuration changed. The rate limiter is kept so in-flight calls stay
// accounted for.
func (s *SyncService) Invalidate(integrationID uuid.UUID) {
	s.mu.Lock()
	delete(s.orchestrators, integrationID)
	s.mu.Unlock()
}

// Sync runs one entity type sync of an integration
func (s *SyncService) Sync(ctx context.Context, integrationID uuid.UUID, entityType integration.EntityType, opts SyncOptions) (*integration.SyncResult, error) {
	o, err := s.Orchestrator(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	result, err := o.Sync(ctx, entityType, opts)
	if result != nil {
		s.deps.Metrics.RecordSync(ctx, o.Integration().Platform, result)
	}
	return result, err
}

// SyncAll runs every entity type sync of an integration
func (s *SyncService) SyncAll(ctx context.Context, integrationID uuid.UUID, opts SyncOptions) ([]*integration.SyncResult, error) {
	o, err := s.Orchestrator(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	results, err := o.SyncAll(ctx, opts)
	for _, result := range results {
		if result != nil {
			s.deps.Metrics.RecordSync(ctx, o.Integration().Platform, result)
		}
	}
	return results, err
}

// States returns the sync states of an integration
func (s *SyncService) States(ctx context.Context, integrationID uuid.UUID) ([]*integration.SyncState, error) {
	if _, err := s.deps.Integrations.FindByID(ctx, integrationID); err != nil {
		return nil, err
	}
	return s.deps.States.ListByIntegration(ctx, integrationID)
}

// BreakerStates reports the circuit breaker state of every integration
// that has run at least once.
func (s *SyncService) BreakerStates() map[string]BreakerState {
	return s.breakers.States()
}
