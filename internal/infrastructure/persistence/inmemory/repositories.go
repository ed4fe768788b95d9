// Package inmemory provides map-backed implementations of the integration
// repositories. They back the in-process development mode and the
// application layer tests.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Integrations
// ---------------------------------------------------------------------------

// IntegrationRepository is an in-memory integration.IntegrationRepository
type IntegrationRepository struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*integration.Integration
}

var _ integration.IntegrationRepository = (*IntegrationRepository)(nil)

// NewIntegrationRepository creates an empty repository
func NewIntegrationRepository() *IntegrationRepository {
	return &IntegrationRepository{byID: make(map[uuid.UUID]*integration.Integration)}
}

// Save inserts or replaces an integration
func (r *IntegrationRepository) Save(_ context.Context, in *integration.Integration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.byID {
		if id != in.ID && existing.Platform == in.Platform && existing.AccountID == in.AccountID {
			return fmt.Errorf("%s %s: %w", in.Platform, in.AccountID, shared.ErrAlreadyExists)
		}
	}
	cp := *in
	cp.EntityTypes = append([]integration.EntityType(nil), in.EntityTypes...)
	r.byID[in.ID] = &cp
	return nil
}

// FindByID returns ErrIntegrationNotFound when absent
func (r *IntegrationRepository) FindByID(_ context.Context, id uuid.UUID) (*integration.Integration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.byID[id]
	if !ok {
		return nil, integration.ErrIntegrationNotFound
	}
	cp := *in
	return &cp, nil
}

// FindByAccount returns ErrIntegrationNotFound when absent
func (r *IntegrationRepository) FindByAccount(_ context.Context, platform integration.PlatformCode, accountID string) (*integration.Integration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, in := range r.byID {
		if in.Platform == platform && in.AccountID == accountID {
			cp := *in
			return &cp, nil
		}
	}
	return nil, integration.ErrIntegrationNotFound
}

// FindEnabled returns enabled integrations ordered by creation time
func (r *IntegrationRepository) FindEnabled(_ context.Context) ([]*integration.Integration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*integration.Integration
	for _, in := range r.byID {
		if in.Enabled {
			cp := *in
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// FindByTenant returns the integrations of a tenant ordered by creation time
func (r *IntegrationRepository) FindByTenant(_ context.Context, tenantID uuid.UUID) ([]*integration.Integration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*integration.Integration
	for _, in := range r.byID {
		if in.TenantID == tenantID {
			cp := *in
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

// CredentialRepository is an in-memory integration.CredentialRepository
type CredentialRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]integration.Credential
}

var _ integration.CredentialRepository = (*CredentialRepository)(nil)

// NewCredentialRepository creates an empty repository
func NewCredentialRepository() *CredentialRepository {
	return &CredentialRepository{items: make(map[uuid.UUID]integration.Credential)}
}

// Upsert inserts or replaces the integration's credential
func (r *CredentialRepository) Upsert(_ context.Context, c *integration.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.items[c.IntegrationID]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	}
	r.items[c.IntegrationID] = *c
	return nil
}

// FindByIntegration returns ErrCredentialNotFound when absent
func (r *CredentialRepository) FindByIntegration(_ context.Context, integrationID uuid.UUID) (*integration.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[integrationID]
	if !ok {
		return nil, integration.ErrCredentialNotFound
	}
	return &c, nil
}

// DeleteByIntegration removes the integration's credential
func (r *CredentialRepository) DeleteByIntegration(_ context.Context, integrationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[integrationID]; !ok {
		return integration.ErrCredentialNotFound
	}
	delete(r.items, integrationID)
	return nil
}

// ---------------------------------------------------------------------------
// Sync states
// ---------------------------------------------------------------------------

type stateKey struct {
	integrationID uuid.UUID
	entityType    integration.EntityType
}

// SyncStateRepository is an in-memory integration.SyncStateRepository
type SyncStateRepository struct {
	mu      sync.RWMutex
	items   map[stateKey]integration.SyncState
	upserts int
}

var _ integration.SyncStateRepository = (*SyncStateRepository)(nil)

// NewSyncStateRepository creates an empty repository
func NewSyncStateRepository() *SyncStateRepository {
	return &SyncStateRepository{items: make(map[stateKey]integration.SyncState)}
}

// Get returns nil, nil when no state exists yet
func (r *SyncStateRepository) Get(_ context.Context, integrationID uuid.UUID, entityType integration.EntityType) (*integration.SyncState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[stateKey{integrationID, entityType}]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// Upsert stores the state, one row per (integration, entity type)
func (r *SyncStateRepository) Upsert(_ context.Context, s *integration.SyncState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.UpdatedAt = time.Now().UTC()
	r.items[stateKey{s.IntegrationID, s.EntityType}] = cp
	r.upserts++
	return nil
}

// ListByIntegration returns the integration's states ordered by entity type
func (r *SyncStateRepository) ListByIntegration(_ context.Context, integrationID uuid.UUID) ([]*integration.SyncState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*integration.SyncState
	for k, s := range r.items {
		if k.integrationID == integrationID {
			cp := s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityType < out[j].EntityType })
	return out, nil
}

// Upserts returns how many times Upsert was called
func (r *SyncStateRepository) Upserts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.upserts
}

// ---------------------------------------------------------------------------
// External records
// ---------------------------------------------------------------------------

type recordKey struct {
	integrationID uuid.UUID
	entityType    integration.EntityType
	externalID    string
}

// RecordRepository is an in-memory integration.RecordRepository
type RecordRepository struct {
	mu    sync.RWMutex
	items map[recordKey]*integration.ExternalRecord
	// FailOn makes Upsert fail for the given external ids
	FailOn map[string]error
}

var _ integration.RecordRepository = (*RecordRepository)(nil)

// NewRecordRepository creates an empty repository
func NewRecordRepository() *RecordRepository {
	return &RecordRepository{items: make(map[recordKey]*integration.ExternalRecord)}
}

// FindByExternalID returns nil, nil when the record is unknown
func (r *RecordRepository) FindByExternalID(_ context.Context, integrationID uuid.UUID, entityType integration.EntityType, externalID string) (*integration.ExternalRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.items[recordKey{integrationID, entityType, externalID}]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

// Upsert inserts or replaces a record keyed by external id
func (r *RecordRepository) Upsert(_ context.Context, rec *integration.ExternalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.FailOn[rec.ExternalID]; ok {
		return err
	}
	r.items[recordKey{rec.IntegrationID, rec.EntityType, rec.ExternalID}] = rec.Clone()
	return nil
}

// CountByIntegration counts records of one entity type
func (r *RecordRepository) CountByIntegration(_ context.Context, integrationID uuid.UUID, entityType integration.EntityType) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for k := range r.items {
		if k.integrationID == integrationID && k.entityType == entityType {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Webhook events
// ---------------------------------------------------------------------------

// WebhookEventRepository is an in-memory integration.WebhookEventRepository
type WebhookEventRepository struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*integration.WebhookEvent
	byEventID map[string]uuid.UUID
}

var _ integration.WebhookEventRepository = (*WebhookEventRepository)(nil)

// NewWebhookEventRepository creates an empty repository
func NewWebhookEventRepository() *WebhookEventRepository {
	return &WebhookEventRepository{
		byID:      make(map[uuid.UUID]*integration.WebhookEvent),
		byEventID: make(map[string]uuid.UUID),
	}
}

// CreateIfAbsent inserts the event unless its EventID exists
func (r *WebhookEventRepository) CreateIfAbsent(_ context.Context, e *integration.WebhookEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEventID[e.EventID]; ok {
		return false, nil
	}
	cp := *e
	r.byID[e.ID] = &cp
	r.byEventID[e.EventID] = e.ID
	return true, nil
}

// FindByEventID returns ErrWebhookEventNotFound when absent
func (r *WebhookEventRepository) FindByEventID(_ context.Context, eventID string) (*integration.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEventID[eventID]
	if !ok {
		return nil, integration.ErrWebhookEventNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

// FindPending returns up to limit pending events, oldest first
func (r *WebhookEventRepository) FindPending(_ context.Context, limit int) ([]*integration.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*integration.WebhookEvent
	for _, e := range r.byID {
		if e.Status == integration.WebhookEventStatusPending {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordAttempt increments the attempt counter of a pending event
func (r *WebhookEventRepository) RecordAttempt(_ context.Context, id uuid.UUID, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return integration.ErrWebhookEventNotFound
	}
	if e.IsSettled() {
		return integration.ErrWebhookAlreadySettled
	}
	e.Attempts++
	e.Error = lastError
	return nil
}

// Settle moves a pending event to processed or failed exactly once
func (r *WebhookEventRepository) Settle(_ context.Context, id uuid.UUID, status integration.WebhookEventStatus, lastError string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return integration.ErrWebhookEventNotFound
	}
	if e.IsSettled() {
		return integration.ErrWebhookAlreadySettled
	}
	e.Status = status
	e.Error = lastError
	t := at.UTC()
	e.ProcessedAt = &t
	return nil
}

// Len returns the number of stored events
func (r *WebhookEventRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
