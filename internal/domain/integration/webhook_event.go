package integration

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEventStatus is the processing status of a webhook event
type WebhookEventStatus string

const (
	WebhookEventStatusPending   WebhookEventStatus = "pending"
	WebhookEventStatusProcessed WebhookEventStatus = "processed"
	WebhookEventStatusFailed    WebhookEventStatus = "failed"
)

// IsValid returns true if the status is valid
func (s WebhookEventStatus) IsValid() bool {
	switch s {
	case WebhookEventStatusPending, WebhookEventStatusProcessed, WebhookEventStatusFailed:
		return true
	default:
		return false
	}
}

// WebhookEvent is a verified inbound notification awaiting processing.
// EventID is unique across all integrations.
type WebhookEvent struct {
	ID            uuid.UUID
	EventID       string
	IntegrationID uuid.UUID
	Platform      PlatformCode
	EventType     string
	EntityType    EntityType
	EntityID      string
	Payload       []byte
	Status        WebhookEventStatus
	Error         string
	Attempts      int
	ReceivedAt    time.Time
	ProcessedAt   *time.Time
}

// NewWebhookEvent creates a pending event
func NewWebhookEvent(eventID string, integrationID uuid.UUID, platform PlatformCode, eventType string, entityType EntityType, entityID string, payload []byte) *WebhookEvent {
	return &WebhookEvent{
		ID:            uuid.New(),
		EventID:       eventID,
		IntegrationID: integrationID,
		Platform:      platform,
		EventType:     eventType,
		EntityType:    entityType,
		EntityID:      entityID,
		Payload:       payload,
		Status:        WebhookEventStatusPending,
		ReceivedAt:    time.Now().UTC(),
	}
}

// IsSettled reports whether the event left the pending state
func (e *WebhookEvent) IsSettled() bool {
	return e.Status != WebhookEventStatusPending
}

// WebhookHeaders names the headers a platform puts its webhook envelope in
type WebhookHeaders struct {
	Topic     string
	Signature string
	Account   string
	// EventID is optional; events without one are keyed by a body digest
	EventID string
}
