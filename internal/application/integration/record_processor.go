package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
)

// RecordOutcome is what happened to one incoming record
type RecordOutcome string

const (
	RecordCreated RecordOutcome = "created"
	RecordUpdated RecordOutcome = "updated"
	// RecordSkipped means the resolver kept the local copy
	RecordSkipped RecordOutcome = "skipped"
)

// Reconciliation is an incoming record compared with its stored copy
type Reconciliation struct {
	Incoming   *integration.ExternalRecord
	Existing   *integration.ExternalRecord
	Conflicts  []integration.Conflict
	Resolution integration.Resolution
}

// Outcome is the effect persisting the reconciliation has
func (r *Reconciliation) Outcome() RecordOutcome {
	switch {
	case r.Resolution == integration.ResolutionKeepTarget:
		return RecordSkipped
	case r.Existing == nil:
		return RecordCreated
	default:
		return RecordUpdated
	}
}

// ItemConflict returns the conflict report of this item, nil without conflicts
func (r *Reconciliation) ItemConflict() *integration.ItemConflict {
	if len(r.Conflicts) == 0 {
		return nil
	}
	return &integration.ItemConflict{
		ExternalID: r.Incoming.ExternalID,
		EntityType: r.Incoming.EntityType,
		Conflicts:  r.Conflicts,
		Resolution: r.Resolution,
	}
}

// RecordProcessor is the single reconcile and upsert path used by scheduled
// syncs and webhook processing.
type RecordProcessor struct {
	records  integration.RecordRepository
	resolver integration.ConflictResolver
	now      func() time.Time
}

// NewRecordProcessor creates a processor. A nil resolver means the external
// source always wins.
func NewRecordProcessor(records integration.RecordRepository, resolver integration.ConflictResolver) *RecordProcessor {
	if resolver == nil {
		resolver = integration.LastWriteWinsResolver{}
	}
	return &RecordProcessor{records: records, resolver: resolver, now: time.Now}
}

// Reconcile loads the stored copy of incoming and detects conflicts on the
// mapped fields.
func (p *RecordProcessor) Reconcile(ctx context.Context, incoming *integration.ExternalRecord) (*Reconciliation, error) {
	if incoming == nil || incoming.ExternalID == "" {
		return nil, integration.NewValidationError("external_id", "is required")
	}
	existing, err := p.records.FindByExternalID(ctx, incoming.IntegrationID, incoming.EntityType, incoming.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", incoming.ExternalID, err)
	}
	conflicts := integration.DetectConflicts(incoming, existing)
	resolution := integration.ResolutionApplySource
	if existing != nil {
		resolution = p.resolver.Resolve(incoming, existing, conflicts)
	}
	return &Reconciliation{
		Incoming:   incoming,
		Existing:   existing,
		Conflicts:  conflicts,
		Resolution: resolution,
	}, nil
}

// Persist upserts the incoming record unless the resolver kept the local
// copy or dryRun is set.
func (p *RecordProcessor) Persist(ctx context.Context, r *Reconciliation, dryRun bool) (RecordOutcome, error) {
	outcome := r.Outcome()
	if dryRun || outcome == RecordSkipped {
		return outcome, nil
	}
	rec := r.Incoming.Clone()
	rec.SyncedAt = p.now().UTC()
	if err := p.records.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("upsert record %s: %w", rec.ExternalID, err)
	}
	return outcome, nil
}

// Apply reconciles and persists in one step
func (p *RecordProcessor) Apply(ctx context.Context, incoming *integration.ExternalRecord, dryRun bool) (*Reconciliation, RecordOutcome, error) {
	r, err := p.Reconcile(ctx, incoming)
	if err != nil {
		return nil, "", err
	}
	outcome, err := p.Persist(ctx, r, dryRun)
	if err != nil {
		return r, "", err
	}
	return r, outcome, nil
}
