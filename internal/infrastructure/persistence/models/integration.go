package models

import (
	"encoding/json"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/google/uuid"
)

// IntegrationModel is the persistence model for the Integration entity.
type IntegrationModel struct {
	BaseModel
	TenantID        uuid.UUID                `gorm:"type:uuid;not null;index"`
	Platform        integration.PlatformCode `gorm:"type:varchar(20);not null;uniqueIndex:idx_integration_account,priority:1"`
	AccountID       string                   `gorm:"type:varchar(255);not null;uniqueIndex:idx_integration_account,priority:2"`
	BaseURL         string                   `gorm:"type:varchar(500)"`
	Enabled         bool                     `gorm:"not null;index"`
	EntityTypesJSON string                   `gorm:"type:text;column:entity_types"`
}

// TableName returns the table name for GORM
func (IntegrationModel) TableName() string {
	return "integrations"
}

// ToDomain converts the persistence model to a domain Integration.
func (m *IntegrationModel) ToDomain() *integration.Integration {
	in := &integration.Integration{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Platform:  m.Platform,
		AccountID: m.AccountID,
		BaseURL:   m.BaseURL,
		Enabled:   m.Enabled,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.EntityTypesJSON != "" {
		var types []integration.EntityType
		if err := json.Unmarshal([]byte(m.EntityTypesJSON), &types); err == nil {
			in.EntityTypes = types
		}
	}
	return in
}

// FromDomain populates the persistence model from a domain Integration.
func (m *IntegrationModel) FromDomain(in *integration.Integration) {
	m.ID = in.ID
	m.TenantID = in.TenantID
	m.Platform = in.Platform
	m.AccountID = in.AccountID
	m.BaseURL = in.BaseURL
	m.Enabled = in.Enabled
	m.CreatedAt = in.CreatedAt
	m.UpdatedAt = in.UpdatedAt
	if raw, err := json.Marshal(in.EntityTypes); err == nil {
		m.EntityTypesJSON = string(raw)
	}
}

// CredentialModel stores one encrypted credential per integration.
type CredentialModel struct {
	BaseModel
	IntegrationID         uuid.UUID                  `gorm:"type:uuid;not null;uniqueIndex"`
	Type                  integration.CredentialType `gorm:"type:varchar(20);not null"`
	KeyID                 string                     `gorm:"type:varchar(100);not null"`
	EncryptedPayload      string                     `gorm:"type:text;not null"`
	AccessTokenExpiresAt  *time.Time
	RefreshTokenExpiresAt *time.Time
}

// TableName returns the table name for GORM
func (CredentialModel) TableName() string {
	return "integration_credentials"
}

// ToDomain converts the persistence model to a domain Credential.
func (m *CredentialModel) ToDomain() *integration.Credential {
	return &integration.Credential{
		ID:                    m.ID,
		IntegrationID:         m.IntegrationID,
		Type:                  m.Type,
		KeyID:                 m.KeyID,
		EncryptedPayload:      m.EncryptedPayload,
		AccessTokenExpiresAt:  m.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: m.RefreshTokenExpiresAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Credential.
func (m *CredentialModel) FromDomain(c *integration.Credential) {
	m.ID = c.ID
	m.IntegrationID = c.IntegrationID
	m.Type = c.Type
	m.KeyID = c.KeyID
	m.EncryptedPayload = c.EncryptedPayload
	m.AccessTokenExpiresAt = c.AccessTokenExpiresAt
	m.RefreshTokenExpiresAt = c.RefreshTokenExpiresAt
	m.CreatedAt = c.CreatedAt
	m.UpdatedAt = c.UpdatedAt
}

// SyncStateModel stores the fetch position per (integration, entity type).
type SyncStateModel struct {
	IntegrationID     uuid.UUID              `gorm:"type:uuid;primaryKey"`
	EntityType        integration.EntityType `gorm:"type:varchar(30);primaryKey"`
	Cursor            string                 `gorm:"type:varchar(500)"`
	LastSyncTimestamp *time.Time
	HighWaterMark     *time.Time
	UpdatedAt         time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncStateModel) TableName() string {
	return "sync_states"
}

// ToDomain converts the persistence model to a domain SyncState.
func (m *SyncStateModel) ToDomain() *integration.SyncState {
	return &integration.SyncState{
		IntegrationID:     m.IntegrationID,
		EntityType:        m.EntityType,
		Cursor:            m.Cursor,
		LastSyncTimestamp: m.LastSyncTimestamp,
		HighWaterMark:     m.HighWaterMark,
		UpdatedAt:         m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain SyncState.
func (m *SyncStateModel) FromDomain(s *integration.SyncState) {
	m.IntegrationID = s.IntegrationID
	m.EntityType = s.EntityType
	m.Cursor = s.Cursor
	m.LastSyncTimestamp = s.LastSyncTimestamp
	m.HighWaterMark = s.HighWaterMark
	m.UpdatedAt = s.UpdatedAt
}

// ExternalRecordModel stores normalized external records.
type ExternalRecordModel struct {
	IntegrationID     uuid.UUID              `gorm:"type:uuid;primaryKey"`
	EntityType        integration.EntityType `gorm:"type:varchar(30);primaryKey"`
	ExternalID        string                 `gorm:"type:varchar(255);primaryKey"`
	FieldsJSON        string                 `gorm:"type:text;column:fields;not null"`
	ExternalUpdatedAt time.Time              `gorm:"index"`
	SyncedAt          time.Time              `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ExternalRecordModel) TableName() string {
	return "external_records"
}

// ToDomain converts the persistence model to a domain ExternalRecord.
func (m *ExternalRecordModel) ToDomain() *integration.ExternalRecord {
	r := &integration.ExternalRecord{
		IntegrationID:     m.IntegrationID,
		EntityType:        m.EntityType,
		ExternalID:        m.ExternalID,
		Fields:            map[string]string{},
		ExternalUpdatedAt: m.ExternalUpdatedAt,
		SyncedAt:          m.SyncedAt,
	}
	if m.FieldsJSON != "" {
		_ = json.Unmarshal([]byte(m.FieldsJSON), &r.Fields)
	}
	return r
}

// FromDomain populates the persistence model from a domain ExternalRecord.
func (m *ExternalRecordModel) FromDomain(r *integration.ExternalRecord) error {
	raw, err := json.Marshal(r.Fields)
	if err != nil {
		return err
	}
	m.IntegrationID = r.IntegrationID
	m.EntityType = r.EntityType
	m.ExternalID = r.ExternalID
	m.FieldsJSON = string(raw)
	m.ExternalUpdatedAt = r.ExternalUpdatedAt
	m.SyncedAt = r.SyncedAt
	return nil
}

// WebhookEventModel stores inbound webhook events.
type WebhookEventModel struct {
	ID            uuid.UUID                      `gorm:"type:uuid;primary_key"`
	EventID       string                         `gorm:"type:varchar(255);not null;uniqueIndex"`
	IntegrationID uuid.UUID                      `gorm:"type:uuid;not null;index"`
	Platform      integration.PlatformCode       `gorm:"type:varchar(20);not null"`
	EventType     string                         `gorm:"type:varchar(100);not null"`
	EntityType    integration.EntityType         `gorm:"type:varchar(30);not null"`
	EntityID      string                         `gorm:"type:varchar(255)"`
	Payload       []byte                         `gorm:"not null"`
	Status        integration.WebhookEventStatus `gorm:"type:varchar(20);not null;index:idx_webhook_events_pending,priority:1"`
	Error         string                         `gorm:"type:text"`
	Attempts      int                            `gorm:"not null;default:0"`
	ReceivedAt    time.Time                      `gorm:"not null;index:idx_webhook_events_pending,priority:2"`
	ProcessedAt   *time.Time
}

// TableName returns the table name for GORM
func (WebhookEventModel) TableName() string {
	return "webhook_events"
}

// ToDomain converts the persistence model to a domain WebhookEvent.
func (m *WebhookEventModel) ToDomain() *integration.WebhookEvent {
	return &integration.WebhookEvent{
		ID:            m.ID,
		EventID:       m.EventID,
		IntegrationID: m.IntegrationID,
		Platform:      m.Platform,
		EventType:     m.EventType,
		EntityType:    m.EntityType,
		EntityID:      m.EntityID,
		Payload:       m.Payload,
		Status:        m.Status,
		Error:         m.Error,
		Attempts:      m.Attempts,
		ReceivedAt:    m.ReceivedAt,
		ProcessedAt:   m.ProcessedAt,
	}
}

// FromDomain populates the persistence model from a domain WebhookEvent.
func (m *WebhookEventModel) FromDomain(e *integration.WebhookEvent) {
	m.ID = e.ID
	m.EventID = e.EventID
	m.IntegrationID = e.IntegrationID
	m.Platform = e.Platform
	m.EventType = e.EventType
	m.EntityType = e.EntityType
	m.EntityID = e.EntityID
	m.Payload = e.Payload
	m.Status = e.Status
	m.Error = e.Error
	m.Attempts = e.Attempts
	m.ReceivedAt = e.ReceivedAt
	m.ProcessedAt = e.ProcessedAt
}

// AllModels lists every model for AutoMigrate in tests and development
func AllModels() []any {
	return []any{
		&IntegrationModel{},
		&CredentialModel{},
		&SyncStateModel{},
		&ExternalRecordModel{},
		&WebhookEventModel{},
	}
}
