package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	ctxlog "github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshThreshold is how long before expiry an access token is refreshed
const DefaultRefreshThreshold = 10 * time.Minute

// TokenRefresher exchanges a refresh token for a new token set
type TokenRefresher interface {
	Refresh(ctx context.Context, in *integration.Integration, creds *integration.Credentials) (*integration.Credentials, error)
}

// CredentialStoreConfig contains configuration for CredentialStore
type CredentialStoreConfig struct {
	// KeyID names the encryption key new payloads are sealed with
	KeyID            string
	RefreshThreshold time.Duration
}

// CredentialStore encrypts, stores, reads and rotates integration
// credentials, and refreshes OAuth 2.0 tokens that are about to expire.
type CredentialStore struct {
	integrations integration.IntegrationRepository
	repo         integration.CredentialRepository
	encryptor    integration.Encryptor
	refresher    TokenRefresher
	logger       *zap.Logger

	keyID     string
	threshold time.Duration
	now       func() time.Time
	refreshes singleflight.Group
}

// CredentialStoreOption configures a CredentialStore
type CredentialStoreOption func(*CredentialStore)

// WithCredentialClock overrides the clock used for expiry checks
func WithCredentialClock(now func() time.Time) CredentialStoreOption {
	return func(s *CredentialStore) { s.now = now }
}

// NewCredentialStore creates a new CredentialStore. refresher may be nil, in
// which case expiring tokens are returned as-is until they expire.
func NewCredentialStore(
	integrations integration.IntegrationRepository,
	repo integration.CredentialRepository,
	encryptor integration.Encryptor,
	refresher TokenRefresher,
	logger *zap.Logger,
	cfg CredentialStoreConfig,
	opts ...CredentialStoreOption,
) *CredentialStore {
	if cfg.KeyID == "" {
		cfg.KeyID = "default"
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CredentialStore{
		integrations: integrations,
		repo:         repo,
		encryptor:    encryptor,
		refresher:    refresher,
		logger:       logger,
		keyID:        cfg.KeyID,
		threshold:    cfg.RefreshThreshold,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store validates, encrypts and persists credentials of the given type
func (s *CredentialStore) Store(ctx context.Context, integrationID uuid.UUID, credType integration.CredentialType, creds *integration.Credentials) (*integration.Credential, error) {
	in, err := s.integrations.FindByID(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, integration.NewValidationError("credentials", "is required")
	}
	if !credType.IsValid() {
		return nil, integration.NewValidationError("type", "unsupported credential type "+string(credType))
	}
	creds.Type = credType
	if err := integration.ValidateCredentials(creds, in.Platform); err != nil {
		return nil, err
	}

	credential, err := s.seal(ctx, integrationID, creds)
	if err != nil {
		return nil, err
	}
	s.audit("credential.stored", integrationID, credential)
	return credential, nil
}

// Get returns the decrypted credentials of an integration, or nil when none
// are stored. OAuth 2.0 tokens inside the refresh threshold are refreshed and
// persisted before returning.
func (s *CredentialStore) Get(ctx context.Context, integrationID uuid.UUID) (*integration.Credentials, error) {
	credential, creds, err := s.load(ctx, integrationID)
	if err != nil || creds == nil {
		return nil, err
	}
	if creds.Type != integration.CredentialTypeOAuth2 || !integration.NeedsRefresh(credential.AccessTokenExpiresAt, s.now(), s.threshold) {
		return creds, nil
	}

	refreshed, err := s.refresh(ctx, integrationID, creds)
	if err == nil {
		return refreshed, nil
	}
	if integration.IsCredentialExpired(credential, s.now()) {
		return nil, err
	}
	// Still valid for a while; the next read retries the refresh
	s.logger.Warn("Token refresh failed, using current access token",
		zap.String("integration_id", integrationID.String()),
		zap.String("access_token", ctxlog.Redact(creds.AccessToken)),
		zap.Error(err))
	return creds, nil
}

// Rotate replaces stored credentials with new ones of the same type
func (s *CredentialStore) Rotate(ctx context.Context, integrationID uuid.UUID, creds *integration.Credentials) (*integration.Credential, error) {
	in, err := s.integrations.FindByID(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.FindByIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, integration.NewValidationError("credentials", "is required")
	}
	if creds.Type == "" {
		creds.Type = existing.Type
	}
	if creds.Type != existing.Type {
		return nil, fmt.Errorf("%w: stored %s, got %s", integration.ErrCredentialTypeMismatch, existing.Type, creds.Type)
	}
	if err := integration.ValidateCredentials(creds, in.Platform); err != nil {
		return nil, err
	}

	credential, err := s.seal(ctx, integrationID, creds)
	if err != nil {
		return nil, err
	}
	s.audit("credential.rotated", integrationID, credential)
	return credential, nil
}

// Delete removes the credentials of an integration
func (s *CredentialStore) Delete(ctx context.Context, integrationID uuid.UUID) error {
	if err := s.repo.DeleteByIntegration(ctx, integrationID); err != nil {
		return err
	}
	s.logger.Info("Credential deleted",
		zap.Bool("audit", true),
		zap.String("action", "credential.deleted"),
		zap.String("integration_id", integrationID.String()))
	return nil
}

// ForceRefresh refreshes an OAuth 2.0 token regardless of its expiry. It is
// used after the platform rejected the current token.
func (s *CredentialStore) ForceRefresh(ctx context.Context, integrationID uuid.UUID) (*integration.Credentials, error) {
	_, creds, err := s.load(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, &integration.AuthenticationError{Reason: "no credentials stored", Err: integration.ErrCredentialNotFound}
	}
	if creds.Type != integration.CredentialTypeOAuth2 {
		return nil, &integration.AuthenticationError{Reason: string(creds.Type) + " credentials cannot be refreshed"}
	}
	return s.refresh(ctx, integrationID, creds)
}

// AccessToken returns the token sent on API calls for an integration
func (s *CredentialStore) AccessToken(ctx context.Context, integrationID uuid.UUID) (string, error) {
	creds, err := s.Get(ctx, integrationID)
	if err != nil {
		return "", err
	}
	if creds == nil {
		return "", &integration.AuthenticationError{Reason: "no credentials stored", Err: integration.ErrCredentialNotFound}
	}
	if creds.Type == integration.CredentialTypeOAuth1a {
		return "", &integration.AuthenticationError{Reason: "oauth1a request signing is not supported", Err: integration.ErrOAuth1aUnsupported}
	}
	token := creds.BearerToken()
	if token == "" {
		return "", &integration.AuthenticationError{Reason: "stored credentials carry no token"}
	}
	return token, nil
}

// TokenSource binds AccessToken to one integration
func (s *CredentialStore) TokenSource(integrationID uuid.UUID) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return s.AccessToken(ctx, integrationID)
	}
}

// WebhookSecret returns the shared secret inbound webhooks are signed with
func (s *CredentialStore) WebhookSecret(ctx context.Context, integrationID uuid.UUID) (string, error) {
	_, creds, err := s.load(ctx, integrationID)
	if err != nil {
		return "", err
	}
	if creds == nil || creds.WebhookSecret == "" {
		return "", &integration.AuthenticationError{Reason: "no webhook secret configured"}
	}
	return creds.WebhookSecret, nil
}

// load returns nil credentials, without error, when no row exists
func (s *CredentialStore) load(ctx context.Context, integrationID uuid.UUID) (*integration.Credential, *integration.Credentials, error) {
	credential, err := s.repo.FindByIntegration(ctx, integrationID)
	if errors.Is(err, integration.ErrCredentialNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, &integration.AuthenticationError{Reason: "load credentials", Err: err}
	}
	plaintext, err := s.encryptor.Decrypt(ctx, credential.KeyID, credential.EncryptedPayload)
	if err != nil {
		return nil, nil, &integration.AuthenticationError{Reason: "decrypt credentials", Err: err}
	}
	var creds integration.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, nil, &integration.AuthenticationError{Reason: "decode credentials", Err: err}
	}
	if creds.Type == "" {
		creds.Type = credential.Type
	}
	return credential, &creds, nil
}

func (s *CredentialStore) seal(ctx context.Context, integrationID uuid.UUID, creds *integration.Credentials) (*integration.Credential, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, &integration.AuthenticationError{Reason: "encode credentials", Err: err}
	}
	ciphertext, err := s.encryptor.Encrypt(ctx, s.keyID, plaintext)
	if err != nil {
		return nil, &integration.AuthenticationError{Reason: "encrypt credentials", Err: err}
	}
	now := s.now().UTC()
	credential := &integration.Credential{
		ID:                    uuid.New(),
		IntegrationID:         integrationID,
		Type:                  creds.Type,
		KeyID:                 s.keyID,
		EncryptedPayload:      ciphertext,
		AccessTokenExpiresAt:  creds.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: creds.RefreshTokenExpiresAt,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.repo.Upsert(ctx, credential); err != nil {
		return nil, &integration.AuthenticationError{Reason: "persist credentials", Err: err}
	}
	return credential, nil
}

// refresh runs at most one exchange per integration at a time; concurrent
// callers share its result.
func (s *CredentialStore) refresh(ctx context.Context, integrationID uuid.UUID, creds *integration.Credentials) (*integration.Credentials, error) {
	if s.refresher == nil {
		return nil, &integration.AuthenticationError{Reason: "token refresh is not configured"}
	}
	if creds.RefreshToken == "" {
		return nil, &integration.AuthenticationError{Reason: "no refresh token stored"}
	}
	if creds.RefreshTokenExpiresAt != nil && !s.now().Before(*creds.RefreshTokenExpiresAt) {
		return nil, &integration.AuthenticationError{Reason: "refresh token has expired"}
	}

	v, err, _ := s.refreshes.Do(integrationID.String(), func() (any, error) {
		in, err := s.integrations.FindByID(ctx, integrationID)
		if err != nil {
			return nil, err
		}
		refreshed, err := s.refresher.Refresh(ctx, in, creds)
		if err != nil {
			return nil, err
		}
		merged := mergeRefreshed(creds, refreshed)
		credential, err := s.seal(ctx, integrationID, merged)
		if err != nil {
			return nil, err
		}
		s.audit("credential.refreshed", integrationID, credential)
		return merged, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*integration.Credentials), nil
}

// mergeRefreshed keeps the fields a token response does not carry
func mergeRefreshed(current, refreshed *integration.Credentials) *integration.Credentials {
	out := *current
	out.Type = integration.CredentialTypeOAuth2
	out.AccessToken = refreshed.AccessToken
	out.AccessTokenExpiresAt = refreshed.AccessTokenExpiresAt
	if refreshed.RefreshToken != "" {
		out.RefreshToken = refreshed.RefreshToken
	}
	if refreshed.RefreshTokenExpiresAt != nil {
		out.RefreshTokenExpiresAt = refreshed.RefreshTokenExpiresAt
	}
	if refreshed.TokenType != "" {
		out.TokenType = refreshed.TokenType
	}
	if len(refreshed.Scopes) > 0 {
		out.Scopes = refreshed.Scopes
	}
	return &out
}

func (s *CredentialStore) audit(action string, integrationID uuid.UUID, c *integration.Credential) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("action", action),
		zap.String("integration_id", integrationID.String()),
		zap.String("credential_type", string(c.Type)),
		zap.String("key_id", c.KeyID),
	}
	if c.AccessTokenExpiresAt != nil {
		fields = append(fields, zap.Time("access_token_expires_at", *c.AccessTokenExpiresAt))
	}
	s.logger.Info("Credential "+action[len("credential."):], fields...)
}
