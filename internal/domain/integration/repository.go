package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IntegrationRepository persists integrations
type IntegrationRepository interface {
	Save(ctx context.Context, integration *Integration) error
	FindByID(ctx context.Context, id uuid.UUID) (*Integration, error)
	FindByAccount(ctx context.Context, platform PlatformCode, accountID string) (*Integration, error)
	FindEnabled(ctx context.Context) ([]*Integration, error)
	FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Integration, error)
}

// CredentialRepository persists encrypted credentials, one per integration
type CredentialRepository interface {
	// Upsert inserts or replaces the integration's credential
	Upsert(ctx context.Context, credential *Credential) error
	// FindByIntegration returns ErrCredentialNotFound when absent
	FindByIntegration(ctx context.Context, integrationID uuid.UUID) (*Credential, error)
	DeleteByIntegration(ctx context.Context, integrationID uuid.UUID) error
}

// SyncStateRepository persists sync cursors
type SyncStateRepository interface {
	// Get returns nil, nil when no state exists yet
	Get(ctx context.Context, integrationID uuid.UUID, entityType EntityType) (*SyncState, error)
	Upsert(ctx context.Context, state *SyncState) error
	ListByIntegration(ctx context.Context, integrationID uuid.UUID) ([]*SyncState, error)
}

// RecordRepository persists normalized external records
type RecordRepository interface {
	// FindByExternalID returns nil, nil when the record is unknown
	FindByExternalID(ctx context.Context, integrationID uuid.UUID, entityType EntityType, externalID string) (*ExternalRecord, error)
	Upsert(ctx context.Context, record *ExternalRecord) error
	CountByIntegration(ctx context.Context, integrationID uuid.UUID, entityType EntityType) (int64, error)
}

// WebhookEventRepository persists webhook events
type WebhookEventRepository interface {
	// CreateIfAbsent inserts the event unless its EventID exists; created is
	// false for duplicates.
	CreateIfAbsent(ctx context.Context, event *WebhookEvent) (created bool, err error)
	FindByEventID(ctx context.Context, eventID string) (*WebhookEvent, error)
	// FindPending returns up to limit pending events, oldest first
	FindPending(ctx context.Context, limit int) ([]*WebhookEvent, error)
	// RecordAttempt increments the attempt counter of a pending event
	RecordAttempt(ctx context.Context, id uuid.UUID, lastError string) error
	// Settle moves a pending event to processed or failed. It returns
	// ErrWebhookAlreadySettled if the event is no longer pending.
	Settle(ctx context.Context, id uuid.UUID, status WebhookEventStatus, lastError string, at time.Time) error
}

// Encryptor seals and opens credential payloads
type Encryptor interface {
	Encrypt(ctx context.Context, keyID string, plaintext []byte) (string, error)
	Decrypt(ctx context.Context, keyID string, ciphertext string) ([]byte, error)
}

// PayloadArchive keeps raw webhook bodies for audit and replay
type PayloadArchive interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}
