package integration

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// CredentialType is the authentication scheme of a credential
type CredentialType string

const (
	CredentialTypeAPIKey  CredentialType = "api_key"
	CredentialTypeOAuth2  CredentialType = "oauth2"
	CredentialTypeOAuth1a CredentialType = "oauth1a"
)

// IsValid returns true if the credential type is valid
func (t CredentialType) IsValid() bool {
	switch t {
	case CredentialTypeAPIKey, CredentialTypeOAuth2, CredentialTypeOAuth1a:
		return true
	default:
		return false
	}
}

// Credentials is the plaintext secret payload. It only exists in memory for
// the duration of a call and is never persisted or logged as-is.
type Credentials struct {
	Type CredentialType `json:"type"`

	// API key auth
	APIKey    string `json:"api_key,omitempty"`
	APISecret string `json:"api_secret,omitempty"`

	// OAuth 2.0
	ClientID              string     `json:"client_id,omitempty"`
	ClientSecret          string     `json:"client_secret,omitempty"`
	AccessToken           string     `json:"access_token,omitempty"`
	RefreshToken          string     `json:"refresh_token,omitempty"`
	TokenType             string     `json:"token_type,omitempty"`
	Scopes                []string   `json:"scopes,omitempty"`
	AccessTokenExpiresAt  *time.Time `json:"access_token_expires_at,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at,omitempty"`

	// OAuth 1.0a token based auth
	ConsumerKey    string `json:"consumer_key,omitempty"`
	ConsumerSecret string `json:"consumer_secret,omitempty"`
	TokenID        string `json:"token_id,omitempty"`
	TokenSecret    string `json:"token_secret,omitempty"`

	// WebhookSecret is the shared secret used to sign inbound webhooks
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// BearerToken returns the secret sent on API calls for this credential.
// OAuth 1.0a credentials sign each request instead and have none.
func (c *Credentials) BearerToken() string {
	switch c.Type {
	case CredentialTypeAPIKey:
		return c.APIKey
	case CredentialTypeOAuth1a:
		return ""
	default:
		return c.AccessToken
	}
}

// Credential is the persisted, encrypted form of Credentials
type Credential struct {
	ID            uuid.UUID
	IntegrationID uuid.UUID
	Type          CredentialType
	// KeyID names the encryption key that sealed EncryptedPayload
	KeyID            string
	EncryptedPayload string
	// Expiry metadata kept in clear so expiry checks need no decryption
	AccessTokenExpiresAt  *time.Time
	RefreshTokenExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsCredentialExpired reports whether the credential's access token has
// expired. A credential without an expiry never expires.
func IsCredentialExpired(c *Credential, now time.Time) bool {
	if c == nil || c.AccessTokenExpiresAt == nil {
		return false
	}
	return !now.Before(*c.AccessTokenExpiresAt)
}

// NeedsRefresh reports whether an access token expiring at expiresAt falls
// inside the refresh threshold.
func NeedsRefresh(expiresAt *time.Time, now time.Time, threshold time.Duration) bool {
	if expiresAt == nil {
		return false
	}
	return !now.Add(threshold).Before(*expiresAt)
}

// ---------------------------------------------------------------------------
// Validation helpers
// ---------------------------------------------------------------------------

type apiKeyRule struct {
	prefix    string
	minLength int
}

var apiKeyRules = map[PlatformCode]apiKeyRule{
	PlatformCodeShopify:  {prefix: "shpat_", minLength: 38},
	PlatformCodeNetSuite: {minLength: 32},
}

const defaultAPIKeyMinLength = 16

// ValidateAPIKey checks the shape of an API key for a platform
func ValidateAPIKey(key string, platform PlatformCode) error {
	if key == "" {
		return NewValidationError("api_key", "is required")
	}
	for _, r := range key {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return NewValidationError("api_key", "contains whitespace or control characters")
		}
	}
	rule, ok := apiKeyRules[platform]
	if !ok {
		rule = apiKeyRule{minLength: defaultAPIKeyMinLength}
	}
	if rule.prefix != "" && !strings.HasPrefix(key, rule.prefix) {
		return NewValidationError("api_key", "must start with "+rule.prefix)
	}
	if len(key) < rule.minLength {
		return NewValidationError("api_key", "is too short")
	}
	return nil
}

// ValidateOAuthCredentials checks that an OAuth 2.0 credential set is usable
func ValidateOAuthCredentials(c *Credentials) error {
	if c == nil {
		return NewValidationError("credentials", "is required")
	}
	switch {
	case strings.TrimSpace(c.ClientID) == "":
		return NewValidationError("client_id", "is required")
	case strings.TrimSpace(c.ClientSecret) == "":
		return NewValidationError("client_secret", "is required")
	case strings.TrimSpace(c.AccessToken) == "":
		return NewValidationError("access_token", "is required")
	}
	return nil
}

// ValidateCredentials checks a payload against its declared type
func ValidateCredentials(c *Credentials, platform PlatformCode) error {
	if c == nil {
		return NewValidationError("credentials", "is required")
	}
	switch c.Type {
	case CredentialTypeAPIKey:
		return ValidateAPIKey(c.APIKey, platform)
	case CredentialTypeOAuth2:
		return ValidateOAuthCredentials(c)
	case CredentialTypeOAuth1a:
		if c.ConsumerKey == "" || c.ConsumerSecret == "" || c.TokenID == "" || c.TokenSecret == "" {
			return NewValidationError("credentials", "oauth1a requires consumer key/secret and token id/secret")
		}
		return nil
	default:
		return NewValidationError("type", "unsupported credential type "+string(c.Type))
	}
}
