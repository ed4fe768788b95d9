package dto

import (
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/google/uuid"
)

// CreateIntegrationRequest registers a platform account
type CreateIntegrationRequest struct {
	Platform    string   `json:"platform" binding:"required,oneof=SHOPIFY NETSUITE shopify netsuite"`
	AccountID   string   `json:"account_id" binding:"required,max=255"`
	BaseURL     string   `json:"base_url" binding:"omitempty,url"`
	EntityTypes []string `json:"entity_types" binding:"omitempty,dive,oneof=products inventory pricing"`
}

// SetEnabledRequest toggles scheduled syncs and webhook acceptance
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// IntegrationResponse is the API view of an integration
type IntegrationResponse struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Platform    string    `json:"platform"`
	AccountID   string    `json:"account_id"`
	BaseURL     string    `json:"base_url,omitempty"`
	Enabled     bool      `json:"enabled"`
	EntityTypes []string  `json:"entity_types"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewIntegrationResponse converts an integration to its API view
func NewIntegrationResponse(in *integration.Integration) IntegrationResponse {
	types := make([]string, len(in.EntityTypes))
	for i, et := range in.EntityTypes {
		types[i] = et.String()
	}
	return IntegrationResponse{
		ID:          in.ID,
		TenantID:    in.TenantID,
		Platform:    in.Platform.String(),
		AccountID:   in.AccountID,
		BaseURL:     in.BaseURL,
		Enabled:     in.Enabled,
		EntityTypes: types,
		CreatedAt:   in.CreatedAt,
		UpdatedAt:   in.UpdatedAt,
	}
}

// StoreCredentialRequest carries plaintext credentials. They are sealed
// before persistence and never returned.
type StoreCredentialRequest struct {
	Type string `json:"type" binding:"required,oneof=api_key oauth2 oauth1a"`

	APIKey    string `json:"api_key" binding:"required_if=Type api_key"`
	APISecret string `json:"api_secret"`

	ClientID     string     `json:"client_id" binding:"required_if=Type oauth2"`
	ClientSecret string     `json:"client_secret" binding:"required_if=Type oauth2"`
	AccessToken  string     `json:"access_token" binding:"required_if=Type oauth2"`
	RefreshToken string     `json:"refresh_token"`
	Scopes       []string   `json:"scopes"`
	ExpiresAt    *time.Time `json:"expires_at"`

	ConsumerKey    string `json:"consumer_key" binding:"required_if=Type oauth1a"`
	ConsumerSecret string `json:"consumer_secret" binding:"required_if=Type oauth1a"`
	TokenID        string `json:"token_id" binding:"required_if=Type oauth1a"`
	TokenSecret    string `json:"token_secret" binding:"required_if=Type oauth1a"`

	WebhookSecret string `json:"webhook_secret"`
}

// ToCredentials converts the request into domain credentials
func (r *StoreCredentialRequest) ToCredentials() *integration.Credentials {
	return &integration.Credentials{
		Type:                 integration.CredentialType(r.Type),
		APIKey:               r.APIKey,
		APISecret:            r.APISecret,
		ClientID:             r.ClientID,
		ClientSecret:         r.ClientSecret,
		AccessToken:          r.AccessToken,
		RefreshToken:         r.RefreshToken,
		Scopes:               r.Scopes,
		AccessTokenExpiresAt: r.ExpiresAt,
		ConsumerKey:          r.ConsumerKey,
		ConsumerSecret:       r.ConsumerSecret,
		TokenID:              r.TokenID,
		TokenSecret:          r.TokenSecret,
		WebhookSecret:        r.WebhookSecret,
	}
}

// CredentialResponse is the metadata of a stored credential
type CredentialResponse struct {
	ID                    uuid.UUID  `json:"id"`
	IntegrationID         uuid.UUID  `json:"integration_id"`
	Type                  string     `json:"type"`
	KeyID                 string     `json:"key_id"`
	AccessTokenExpiresAt  *time.Time `json:"access_token_expires_at,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at,omitempty"`
	Expired               bool       `json:"expired"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// NewCredentialResponse converts credential metadata to its API view
func NewCredentialResponse(c *integration.Credential, now time.Time) CredentialResponse {
	return CredentialResponse{
		ID:                    c.ID,
		IntegrationID:         c.IntegrationID,
		Type:                  string(c.Type),
		KeyID:                 c.KeyID,
		AccessTokenExpiresAt:  c.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: c.RefreshTokenExpiresAt,
		Expired:               integration.IsCredentialExpired(c, now),
		UpdatedAt:             c.UpdatedAt,
	}
}

// TriggerSyncRequest tunes a manually triggered run
type TriggerSyncRequest struct {
	DryRun     bool `json:"dry_run"`
	FullResync bool `json:"full_resync"`
}

// SyncStateResponse is the API view of a sync state
type SyncStateResponse struct {
	EntityType        string     `json:"entity_type"`
	Cursor            string     `json:"cursor,omitempty"`
	LastSyncTimestamp *time.Time `json:"last_sync_timestamp,omitempty"`
	HighWaterMark     *time.Time `json:"high_water_mark,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewSyncStateResponse converts a sync state to its API view
func NewSyncStateResponse(s *integration.SyncState) SyncStateResponse {
	return SyncStateResponse{
		EntityType:        s.EntityType.String(),
		Cursor:            s.Cursor,
		LastSyncTimestamp: s.LastSyncTimestamp,
		HighWaterMark:     s.HighWaterMark,
		UpdatedAt:         s.UpdatedAt,
	}
}

// StartOAuthRequest begins an authorization code flow
type StartOAuthRequest struct {
	RedirectURL string `json:"redirect_url" binding:"omitempty,url"`
}

// StartOAuthResponse carries the URL the operator must visit
type StartOAuthResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// IssueTokenRequest asks for an operator token
type IssueTokenRequest struct {
	TenantID string   `json:"tenant_id" binding:"required,uuid"`
	Subject  string   `json:"subject" binding:"required,max=255"`
	Scopes   []string `json:"scopes" binding:"omitempty,dive,oneof=integrations:read integrations:write sync:run"`
	TTL      int      `json:"ttl_seconds" binding:"omitempty,min=60,max=86400"`
}

// TokenResponse is an issued operator token
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// WebhookAckResponse acknowledges an inbound webhook
type WebhookAckResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
	EventID  string `json:"event_id,omitempty"`
}

// SyncJobResponse is the API view of a scheduled sync job
type SyncJobResponse struct {
	ID             uuid.UUID  `json:"id"`
	IntegrationID  uuid.UUID  `json:"integration_id"`
	Platform       string     `json:"platform"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	RetryCount     int        `json:"retry_count"`
	ItemsProcessed int        `json:"items_processed"`
	ItemsFailed    int        `json:"items_failed"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
}
