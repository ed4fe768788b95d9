package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	ctxlog "github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/erp/syncengine/sync"

// Authenticator supplies and refreshes integration credentials
type Authenticator interface {
	AccessToken(ctx context.Context, integrationID uuid.UUID) (string, error)
	ForceRefresh(ctx context.Context, integrationID uuid.UUID) (*integration.Credentials, error)
}

var _ Authenticator = (*CredentialStore)(nil)

// OrchestratorConfig contains configuration for SyncOrchestrator
type OrchestratorConfig struct {
	PageSize int
	// ProgressInterval is the number of items between progress events
	ProgressInterval int
	MaxResultErrors  int
}

// DefaultOrchestratorConfig returns default configuration
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{PageSize: 100, ProgressInterval: 100, MaxResultErrors: integration.DefaultMaxResultErrors}
}

// SyncOptions tunes a single run
type SyncOptions struct {
	// DryRun reconciles without writing records or advancing state
	DryRun bool
	// FullResync ignores the stored cursor and timestamp
	FullResync bool
}

// OrchestratorDeps are the collaborators of a SyncOrchestrator
type OrchestratorDeps struct {
	Source      integration.RecordSource
	Transformer integration.Transformer
	Auth        Authenticator
	States      integration.SyncStateRepository
	Processor   *RecordProcessor
	Retrier     *Retrier
	Breaker     *CircuitBreaker
	Observer    integration.SyncObserver
}

// SyncOrchestrator drives incremental syncs of one integration. Different
// entity types may run concurrently; a second run of the same entity type
// is rejected with ErrSyncInProgress.
type SyncOrchestrator struct {
	integration *integration.Integration
	deps        OrchestratorDeps
	cfg         OrchestratorConfig
	logger      *zap.Logger
	tracer      trace.Tracer

	mu      sync.Mutex
	running map[integration.EntityType]bool
}

// NewSyncOrchestrator creates an orchestrator bound to one integration
func NewSyncOrchestrator(in *integration.Integration, deps OrchestratorDeps, cfg OrchestratorConfig, logger *zap.Logger) (*SyncOrchestrator, error) {
	if in == nil {
		return nil, errors.New("sync: integration is required")
	}
	if deps.Source == nil || deps.Transformer == nil || deps.Auth == nil || deps.States == nil || deps.Processor == nil {
		return nil, errors.New("sync: source, transformer, auth, states and processor are required")
	}
	def := DefaultOrchestratorConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = def.ProgressInterval
	}
	if cfg.MaxResultErrors <= 0 {
		cfg.MaxResultErrors = def.MaxResultErrors
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Retrier == nil {
		deps.Retrier = NewRetrier(DefaultRetryConfig(), logger)
	}
	if deps.Breaker == nil {
		deps.Breaker = NewCircuitBreaker(in.ID.String(), DefaultCircuitBreakerConfig(), logger)
	}
	if deps.Observer == nil {
		deps.Observer = integration.SyncObserverFunc(func(context.Context, integration.SyncEvent) {})
	}
	return &SyncOrchestrator{
		integration: in,
		deps:        deps,
		cfg:         cfg,
		logger:      logger.With(zap.String("integration_id", in.ID.String()), zap.String("platform", in.Platform.String())),
		tracer:      otel.Tracer(tracerName),
		running:     make(map[integration.EntityType]bool),
	}, nil
}

// Integration returns the integration the orchestrator syncs
func (o *SyncOrchestrator) Integration() *integration.Integration { return o.integration }

// SyncAll syncs every entity type of the integration concurrently. Results
// are returned in entity type order; errors of individual runs are joined.
func (o *SyncOrchestrator) SyncAll(ctx context.Context, opts SyncOptions) ([]*integration.SyncResult, error) {
	types := o.integration.EntityTypes
	results := make([]*integration.SyncResult, len(types))
	errs := make([]error, len(types))

	var g errgroup.Group
	for i, et := range types {
		g.Go(func() error {
			results[i], errs[i] = o.Sync(ctx, et, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// Sync runs one incremental sync of entityType. Per-item failures are
// reported in the result; failures that stop the run (authentication,
// fetching, state persistence, cancellation) are returned together with the
// partial result.
func (o *SyncOrchestrator) Sync(ctx context.Context, entityType integration.EntityType, opts SyncOptions) (*integration.SyncResult, error) {
	if !entityType.IsValid() || !o.integration.Syncs(entityType) {
		return nil, fmt.Errorf("%w: %s", integration.ErrUnsupportedEntityType, entityType)
	}
	if !o.acquire(entityType) {
		return nil, fmt.Errorf("%w: %s", integration.ErrSyncInProgress, entityType)
	}
	defer o.release(entityType)

	syncID := uuid.NewString()
	ctx = ctxlog.WithSyncID(ctxlog.WithIntegrationID(ctx, o.integration.ID.String()), syncID)
	ctx, span := o.tracer.Start(ctx, "sync.run", trace.WithAttributes(
		attribute.String("integration.id", o.integration.ID.String()),
		attribute.String("integration.platform", o.integration.Platform.String()),
		attribute.String("sync.entity_type", entityType.String()),
		attribute.Bool("sync.dry_run", opts.DryRun),
	))
	defer span.End()

	r := &run{
		o:      o,
		result: integration.NewSyncResult(o.integration.ID, entityType, opts.DryRun, o.cfg.MaxResultErrors),
		opts:   opts,
		log:    ctxlog.WithLogger(ctx, o.logger).With(zap.String("entity_type", entityType.String())),
	}
	err := r.execute(ctx)

	res := r.result
	span.SetAttributes(
		attribute.Int("sync.items_processed", res.ItemsProcessed),
		attribute.Int("sync.items_failed", res.ItemsFailed),
		attribute.Int("sync.pages", res.Pages),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.deps.Observer.OnSyncEvent(ctx, r.event(integration.SyncEventError, func(e *integration.SyncEvent) { e.Err = err }))
		r.log.Error("Sync run failed", zap.Int("items_processed", res.ItemsProcessed), zap.Error(err))
	} else {
		r.log.Info("Sync run completed",
			zap.Bool("success", res.Success),
			zap.Int("items_processed", res.ItemsProcessed),
			zap.Int("items_created", res.ItemsCreated),
			zap.Int("items_updated", res.ItemsUpdated),
			zap.Int("items_failed", res.ItemsFailed),
			zap.Int("items_skipped", res.ItemsSkipped),
			zap.Int("conflicts", len(res.Conflicts)),
			zap.Int("pages", res.Pages),
			zap.Duration("duration", res.Duration()))
	}
	o.deps.Observer.OnSyncEvent(ctx, r.event(integration.SyncEventCompleted, nil))
	return res, err
}

func (o *SyncOrchestrator) acquire(et integration.EntityType) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[et] {
		return false
	}
	o.running[et] = true
	return true
}

func (o *SyncOrchestrator) release(et integration.EntityType) {
	o.mu.Lock()
	delete(o.running, et)
	o.mu.Unlock()
}

func (o *SyncOrchestrator) reauth(ctx context.Context) error {
	_, err := o.deps.Auth.ForceRefresh(ctx, o.integration.ID)
	return err
}

// run is the state of one Sync invocation
type run struct {
	o      *SyncOrchestrator
	result *integration.SyncResult
	opts   SyncOptions
	log    *ctxlog.ContextLogger

	state *integration.SyncState
	// resume is the cursor of the first page not yet fully processed
	resume string
	it     integration.PageIterator
	total  int
}

func (r *run) execute(ctx context.Context) error {
	et := r.result.EntityType
	deps := r.o.deps

	if err := r.transition(ctx, integration.SyncPhaseAuthenticating); err != nil {
		return err
	}
	err := deps.Retrier.Do(ctx, "authenticate", func(ctx context.Context) error {
		_, err := deps.Auth.AccessToken(ctx, r.o.integration.ID)
		return err
	}, r.o.reauth)
	if err != nil {
		return r.fail(fmt.Errorf("authenticate: %w", err))
	}
	deps.Observer.OnSyncEvent(ctx, r.event(integration.SyncEventAuthenticated, nil))

	state, err := deps.States.Get(ctx, r.o.integration.ID, et)
	if err != nil {
		return r.fail(fmt.Errorf("load sync state: %w", err))
	}
	if state == nil || r.opts.FullResync {
		state = &integration.SyncState{IntegrationID: r.o.integration.ID, EntityType: et}
	}
	r.state = state
	r.resume = state.Cursor
	r.total = -1

	for {
		if err := r.transition(ctx, integration.SyncPhaseFetching); err != nil {
			return err
		}
		page, err := r.fetch(ctx)
		if err != nil {
			return r.fail(fmt.Errorf("fetch %s page: %w", et, err))
		}
		if page == nil {
			break
		}
		r.result.Pages++
		if page.Total >= 0 {
			r.total = page.Total
		}

		for _, raw := range page.Items {
			if err := ctx.Err(); err != nil {
				return r.fail(err)
			}
			if err := r.processItem(ctx, raw); err != nil {
				return err
			}
		}

		next := ""
		if page.HasMore {
			next = page.NextCursor
		}
		if err := r.commitPage(ctx, next); err != nil {
			return r.fail(err)
		}
		if next == "" {
			break
		}
	}

	if !r.opts.DryRun {
		r.state.Complete()
		if err := deps.States.Upsert(ctx, r.state); err != nil {
			return r.fail(fmt.Errorf("save sync state: %w", err))
		}
	}
	r.result.NextCursor = ""
	if err := r.transition(ctx, integration.SyncPhaseCompleted); err != nil {
		return err
	}
	r.result.Finish(integration.SyncPhaseCompleted)
	return nil
}

// fetch returns the next page, nil at the end. A failed fetch reopens the
// iterator at the resume cursor before the retry.
func (r *run) fetch(ctx context.Context) (*integration.Page, error) {
	deps := r.o.deps
	var page *integration.Page
	err := deps.Retrier.Do(ctx, "fetch", func(ctx context.Context) error {
		return deps.Breaker.Execute(ctx, func(ctx context.Context) error {
			if r.it == nil {
				it, err := deps.Source.Pages(integration.FetchRequest{
					EntityType:    r.result.EntityType,
					ModifiedAfter: r.state.LastSyncTimestamp,
					Cursor:        r.resume,
					PageSize:      r.o.cfg.PageSize,
				})
				if err != nil {
					return err
				}
				r.it = it
			}
			if r.it.Next(ctx) {
				page = r.it.Page()
				return nil
			}
			if err := r.it.Err(); err != nil {
				r.it = nil
				return err
			}
			page = nil
			return nil
		})
	}, r.o.reauth)
	return page, err
}

// processItem handles one raw item. Only cancellation and phase violations
// are returned; item failures are recorded in the result.
func (r *run) processItem(ctx context.Context, raw integration.RawItem) error {
	deps := r.o.deps
	if err := r.transition(ctx, integration.SyncPhaseTransforming); err != nil {
		return err
	}
	rec, err := deps.Transformer.Transform(r.result.EntityType, raw)
	if err != nil {
		r.itemFailed(ctx, externalIDOf(raw), time.Time{}, fmt.Errorf("transform: %w", err))
		return nil
	}
	rec.IntegrationID = r.o.integration.ID
	rec.EntityType = r.result.EntityType

	if err := r.transition(ctx, integration.SyncPhaseReconciling); err != nil {
		return err
	}
	recon, err := deps.Processor.Reconcile(ctx, rec)
	if err != nil {
		if ctx.Err() != nil {
			return r.fail(ctx.Err())
		}
		r.itemFailed(ctx, rec.ExternalID, rec.ExternalUpdatedAt, err)
		return nil
	}
	if ic := recon.ItemConflict(); ic != nil {
		r.result.Conflicts = append(r.result.Conflicts, *ic)
	}

	if recon.Outcome() != RecordSkipped && !r.opts.DryRun {
		if err := r.transition(ctx, integration.SyncPhasePersisting); err != nil {
			return err
		}
	}
	outcome, err := deps.Processor.Persist(ctx, recon, r.opts.DryRun)
	if err != nil {
		if ctx.Err() != nil {
			return r.fail(ctx.Err())
		}
		r.itemFailed(ctx, rec.ExternalID, rec.ExternalUpdatedAt, err)
		return nil
	}

	switch outcome {
	case RecordCreated:
		r.result.ItemsProcessed++
		r.result.ItemsCreated++
	case RecordUpdated:
		r.result.ItemsProcessed++
		r.result.ItemsUpdated++
	case RecordSkipped:
		r.result.ItemsSkipped++
	}
	r.state.ObserveUpdate(rec.ExternalUpdatedAt)
	r.progress(ctx)
	return nil
}

// itemFailed records a per-item failure. updatedAt is zero when the item
// failed before its update time was known.
func (r *run) itemFailed(ctx context.Context, externalID string, updatedAt time.Time, err error) {
	r.result.AddError(externalID, err)
	r.state.ObserveFailure(updatedAt)
	r.log.Warn("Sync item failed", zap.String("external_id", externalID), zap.Error(err))
	r.o.deps.Observer.OnSyncEvent(ctx, r.event(integration.SyncEventItemError, func(e *integration.SyncEvent) { e.Err = err }))
	r.progress(ctx)
}

func (r *run) progress(ctx context.Context) {
	current := r.result.Attempted()
	if current%r.o.cfg.ProgressInterval != 0 {
		return
	}
	r.o.deps.Observer.OnSyncEvent(ctx, r.event(integration.SyncEventProgress, func(e *integration.SyncEvent) {
		e.Current = current
		e.Total = r.total
	}))
}

// commitPage persists the cursor once every item of a page was handled
func (r *run) commitPage(ctx context.Context, next string) error {
	r.resume = next
	r.result.NextCursor = next
	if r.opts.DryRun || next == "" {
		return nil
	}
	r.state.Cursor = next
	if err := r.o.deps.States.Upsert(ctx, r.state); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	return nil
}

func (r *run) transition(ctx context.Context, next integration.SyncPhase) error {
	current := r.result.Phase
	if current == next && next != integration.SyncPhaseTransforming {
		return nil
	}
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", integration.ErrInvalidPhaseTransition, current, next)
	}
	r.result.Phase = next
	if next != integration.SyncPhaseTransforming && next != integration.SyncPhaseReconciling && next != integration.SyncPhasePersisting {
		r.o.deps.Observer.OnSyncEvent(ctx, r.event(integration.SyncEventPhase, nil))
	}
	return nil
}

func (r *run) fail(err error) error {
	r.result.Finish(integration.SyncPhaseFailed)
	return err
}

func (r *run) event(kind integration.SyncEventKind, fill func(*integration.SyncEvent)) integration.SyncEvent {
	e := integration.SyncEvent{
		Kind:          kind,
		IntegrationID: r.o.integration.ID,
		EntityType:    r.result.EntityType,
		Phase:         r.result.Phase,
		Total:         -1,
	}
	if fill != nil {
		fill(&e)
	}
	return e
}

// externalIDOf best-effort extracts an id from an item that failed to
// transform, for error reporting.
func externalIDOf(raw integration.RawItem) string {
	var probe struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.ID == nil {
		return ""
	}
	return fmt.Sprint(probe.ID)
}
