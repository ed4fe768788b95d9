package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/cache"
	"github.com/erp/syncengine/internal/infrastructure/config"
)

func newTestJWTService() *JWTService {
	return NewJWTService(config.JWTConfig{
		Secret:        "test-secret-key-at-least-32-chars",
		Issuer:        "test-issuer",
		OAuthStateTTL: 5 * time.Minute,
	})
}

func TestNewJWTService_DefaultsStateTTL(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{Secret: "s"})
	assert.Equal(t, 10*time.Minute, svc.stateTTL)
}

func TestOperatorToken_RoundTrip(t *testing.T) {
	svc := newTestJWTService()
	tenantID := uuid.New()

	token, expiresAt, err := svc.GenerateOperatorToken(GenerateTokenInput{
		TenantID: tenantID,
		Subject:  "ops@example.com",
		Scopes:   []string{ScopeIntegrationsRead, ScopeSyncRun},
		TTL:      time.Hour,
	})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.ValidateOperatorToken(token)
	require.NoError(t, err)
	got, err := claims.GetTenantUUID()
	require.NoError(t, err)
	assert.Equal(t, tenantID, got)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.True(t, claims.HasScope(ScopeSyncRun))
	assert.False(t, claims.HasScope(ScopeIntegrationsWrite))
}

func TestOperatorToken_Rejections(t *testing.T) {
	svc := newTestJWTService()

	_, _, err := svc.GenerateOperatorToken(GenerateTokenInput{})
	assert.ErrorIs(t, err, ErrMissingTenantID)

	t.Run("expired", func(t *testing.T) {
		token, _, err := svc.GenerateOperatorToken(GenerateTokenInput{TenantID: uuid.New(), TTL: time.Minute})
		require.NoError(t, err)
		later := *svc
		later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		_, err = later.ValidateOperatorToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, _, err := svc.GenerateOperatorToken(GenerateTokenInput{TenantID: uuid.New()})
		require.NoError(t, err)
		other := NewJWTService(config.JWTConfig{Secret: "another-secret", Issuer: "test-issuer"})
		_, err = other.ValidateOperatorToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, _, err := svc.GenerateOperatorToken(GenerateTokenInput{TenantID: uuid.New()})
		require.NoError(t, err)
		other := NewJWTService(config.JWTConfig{Secret: "test-secret-key-at-least-32-chars", Issuer: "someone-else"})
		_, err = other.ValidateOperatorToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("state used as operator token", func(t *testing.T) {
		state, err := svc.IssueState(StateInput{IntegrationID: uuid.New(), TenantID: uuid.New()})
		require.NoError(t, err)
		_, err = svc.ValidateOperatorToken(state)
		assert.ErrorIs(t, err, ErrInvalidTokenType)
	})

	t.Run("non hmac algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{TenantID: uuid.NewString(), TokenType: TokenTypeOperator})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.ValidateOperatorToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateOperatorToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestOAuthState_RoundTrip(t *testing.T) {
	svc := newTestJWTService()
	integrationID := uuid.New()

	state, err := svc.IssueState(StateInput{
		IntegrationID: integrationID,
		TenantID:      uuid.New(),
		Platform:      integration.PlatformCodeShopify,
		RedirectURL:   "https://ops.example.com/done",
	})
	require.NoError(t, err)

	claims, err := svc.ParseState(state)
	require.NoError(t, err)
	assert.Equal(t, integrationID, claims.GetIntegrationUUID())
	assert.Equal(t, "SHOPIFY", claims.Platform)
	assert.Equal(t, "https://ops.example.com/done", claims.RedirectURL)
	assert.InDelta(t, (5 * time.Minute).Seconds(), claims.GetRemainingTTL(time.Now()).Seconds(), 5)

	_, err = svc.IssueState(StateInput{})
	assert.ErrorIs(t, err, ErrInvalidClaims)

	operator, _, err := svc.GenerateOperatorToken(GenerateTokenInput{TenantID: uuid.New()})
	require.NoError(t, err)
	_, err = svc.ParseState(operator)
	assert.ErrorIs(t, err, ErrInvalidTokenType)
}

func TestStateGuard_SingleUse(t *testing.T) {
	svc := newTestJWTService()
	store := cache.NewInMemoryIdempotencyStore(time.Minute)
	defer store.Close()
	guard := NewStateGuard(svc, store)
	ctx := context.Background()

	state, err := svc.IssueState(StateInput{IntegrationID: uuid.New()})
	require.NoError(t, err)

	claims, err := guard.Consume(ctx, state)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)

	_, err = guard.Consume(ctx, state)
	assert.ErrorIs(t, err, ErrStateReused)

	_, err = guard.Consume(ctx, "tampered")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
