package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/config"
)

// TokenType represents the type of JWT token
type TokenType string

const (
	// TokenTypeOperator authenticates calls to the management API
	TokenTypeOperator TokenType = "operator"
	// TokenTypeOAuthState carries an authorization flow across the redirect
	TokenTypeOAuthState TokenType = "oauth_state"
)

// Operator scopes
const (
	ScopeIntegrationsRead  = "integrations:read"
	ScopeIntegrationsWrite = "integrations:write"
	ScopeSyncRun           = "sync:run"
)

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidTokenType = errors.New("invalid token type")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrMissingTenantID  = errors.New("missing tenant_id in claims")
	ErrStateReused      = errors.New("oauth state has already been used")
)

// Claims represents operator token claims
type Claims struct {
	jwt.RegisteredClaims
	TenantID  string    `json:"tenant_id"`
	Scopes    []string  `json:"scopes,omitempty"`
	TokenType TokenType `json:"token_type"`
}

// StateClaims is the payload of an OAuth state parameter
type StateClaims struct {
	jwt.RegisteredClaims
	IntegrationID string    `json:"integration_id"`
	TenantID      string    `json:"tenant_id"`
	Platform      string    `json:"platform"`
	RedirectURL   string    `json:"redirect_url,omitempty"`
	TokenType     TokenType `json:"token_type"`
}

// JWTService issues and validates operator tokens and OAuth states. Both
// are HS256 tokens signed with the same secret and told apart by type.
type JWTService struct {
	secret   []byte
	issuer   string
	stateTTL time.Duration
	now      func() time.Time
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.JWTConfig) *JWTService {
	stateTTL := cfg.OAuthStateTTL
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	return &JWTService{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		stateTTL: stateTTL,
		now:      time.Now,
	}
}

// GenerateTokenInput contains input for operator token generation
type GenerateTokenInput struct {
	TenantID uuid.UUID
	Subject  string
	Scopes   []string
	TTL      time.Duration
}

// GenerateOperatorToken issues an operator token
func (s *JWTService) GenerateOperatorToken(input GenerateTokenInput) (string, time.Time, error) {
	if input.TenantID == uuid.Nil {
		return "", time.Time{}, ErrMissingTenantID
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := s.now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		RegisteredClaims: s.registered(input.Subject, now, expiresAt),
		TenantID:         input.TenantID.String(),
		Scopes:           input.Scopes,
		TokenType:        TokenTypeOperator,
	}
	token, err := s.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ValidateOperatorToken validates an operator token and returns its claims
func (s *JWTService) ValidateOperatorToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeOperator {
		return nil, ErrInvalidTokenType
	}
	if claims.TenantID == "" {
		return nil, ErrMissingTenantID
	}
	return claims, nil
}

// StateInput is the flow context bound into an OAuth state
type StateInput struct {
	IntegrationID uuid.UUID
	TenantID      uuid.UUID
	Platform      integration.PlatformCode
	RedirectURL   string
}

// IssueState returns a signed, expiring state parameter
func (s *JWTService) IssueState(input StateInput) (string, error) {
	if input.IntegrationID == uuid.Nil {
		return "", ErrInvalidClaims
	}
	now := s.now()
	claims := &StateClaims{
		RegisteredClaims: s.registered(input.IntegrationID.String(), now, now.Add(s.stateTTL)),
		IntegrationID:    input.IntegrationID.String(),
		TenantID:         input.TenantID.String(),
		Platform:         input.Platform.String(),
		RedirectURL:      input.RedirectURL,
		TokenType:        TokenTypeOAuthState,
	}
	return s.sign(claims)
}

// ParseState validates a state parameter. It does not guard against reuse;
// see StateGuard.
func (s *JWTService) ParseState(state string) (*StateClaims, error) {
	claims := &StateClaims{}
	if err := s.parse(state, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeOAuthState {
		return nil, ErrInvalidTokenType
	}
	if _, err := uuid.Parse(claims.IntegrationID); err != nil {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

func (s *JWTService) registered(subject string, now, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		Issuer:    s.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{s.issuer},
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		NotBefore: jwt.NewNumericDate(now),
		IssuedAt:  jwt.NewNumericDate(now),
	}
}

// sign creates a signed JWT token
func (s *JWTService) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *JWTService) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return ErrTokenNotYetValid
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidClaims
	}
	return nil
}

// GetTenantUUID extracts and parses the tenant ID from claims
func (c *Claims) GetTenantUUID() (uuid.UUID, error) {
	return uuid.Parse(c.TenantID)
}

// HasScope checks if the claims contain a specific scope
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// GetIntegrationUUID parses the integration id of a state
func (c *StateClaims) GetIntegrationUUID() uuid.UUID {
	id, _ := uuid.Parse(c.IntegrationID)
	return id
}

// GetRemainingTTL returns the remaining time until the token expires
func (c *StateClaims) GetRemainingTTL(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	remaining := c.ExpiresAt.Time.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
