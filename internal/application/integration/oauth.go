package integration

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"golang.org/x/oauth2"
)

// accountPlaceholder is substituted with the integration's account id
const accountPlaceholder = "{account}"

// OAuthEndpoint describes a platform's authorization server
type OAuthEndpoint struct {
	AuthURL   string
	TokenURL  string
	Scopes    []string
	AuthStyle oauth2.AuthStyle
	// OAuth1a marks platforms that only offer OAuth 1.0a token based auth
	OAuth1a bool
}

// DefaultOAuthEndpoints is the endpoint table of the supported platforms
var DefaultOAuthEndpoints = map[integration.PlatformCode]OAuthEndpoint{
	integration.PlatformCodeShopify: {
		AuthURL:   "https://{account}/admin/oauth/authorize",
		TokenURL:  "https://{account}/admin/oauth/access_token",
		Scopes:    []string{"read_products", "write_products", "read_inventory", "write_inventory"},
		AuthStyle: oauth2.AuthStyleInParams,
	},
	integration.PlatformCodeNetSuite: {
		OAuth1a: true,
	},
}

// OAuthClientConfig is the app registration used for one authorization
type OAuthClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// AccountID fills the {account} placeholder of the endpoint templates
	AccountID string
}

// OAuthFlow runs the OAuth 2.0 authorization code flow and token refreshes
type OAuthFlow struct {
	endpoints  map[integration.PlatformCode]OAuthEndpoint
	clients    map[integration.PlatformCode]OAuthClientConfig
	httpClient *http.Client
}

// OAuthFlowOption configures an OAuthFlow
type OAuthFlowOption func(*OAuthFlow)

// WithOAuthEndpoints replaces the endpoint table
func WithOAuthEndpoints(endpoints map[integration.PlatformCode]OAuthEndpoint) OAuthFlowOption {
	return func(f *OAuthFlow) { f.endpoints = endpoints }
}

// WithOAuthHTTPClient sets the client used for token requests
func WithOAuthHTTPClient(hc *http.Client) OAuthFlowOption {
	return func(f *OAuthFlow) { f.httpClient = hc }
}

// NewOAuthFlow creates a flow. clients holds the app registration per
// platform; it is used for refreshes when the stored credential carries no
// client id of its own.
func NewOAuthFlow(clients map[integration.PlatformCode]OAuthClientConfig, opts ...OAuthFlowOption) *OAuthFlow {
	f := &OAuthFlow{endpoints: DefaultOAuthEndpoints, clients: clients}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var _ TokenRefresher = (*OAuthFlow)(nil)

// BuildAuthorizationURL returns the URL the operator is redirected to. A
// random state is generated when state is empty.
func (f *OAuthFlow) BuildAuthorizationURL(platform integration.PlatformCode, cfg OAuthClientConfig, state string) (string, error) {
	conf, err := f.config(platform, cfg)
	if err != nil {
		return "", err
	}
	if state == "" {
		if state, err = randomState(); err != nil {
			return "", err
		}
	}
	return conf.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// ExchangeCodeForToken trades an authorization code for a token set
func (f *OAuthFlow) ExchangeCodeForToken(ctx context.Context, platform integration.PlatformCode, code string, cfg OAuthClientConfig) (*integration.Credentials, error) {
	if strings.TrimSpace(code) == "" {
		return nil, integration.NewValidationError("code", "is required")
	}
	conf, err := f.config(platform, cfg)
	if err != nil {
		return nil, err
	}
	tok, err := conf.Exchange(f.context(ctx), code)
	if err != nil {
		return nil, classifyTokenError("exchange authorization code", err)
	}
	creds := credentialsFromToken(tok)
	creds.ClientID = cfg.ClientID
	creds.ClientSecret = cfg.ClientSecret
	if len(creds.Scopes) == 0 {
		creds.Scopes = conf.Scopes
	}
	return creds, nil
}

// Refresh implements TokenRefresher
func (f *OAuthFlow) Refresh(ctx context.Context, in *integration.Integration, creds *integration.Credentials) (*integration.Credentials, error) {
	cfg := f.clients[in.Platform]
	if creds.ClientID != "" {
		cfg.ClientID = creds.ClientID
		cfg.ClientSecret = creds.ClientSecret
	}
	cfg.AccountID = in.AccountID
	conf, err := f.config(in.Platform, cfg)
	if err != nil {
		return nil, err
	}
	// An expired token forces the token source to use the refresh token
	stale := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       time.Unix(1, 0),
	}
	tok, err := conf.TokenSource(f.context(ctx), stale).Token()
	if err != nil {
		return nil, classifyTokenError("refresh access token", err)
	}
	return credentialsFromToken(tok), nil
}

func (f *OAuthFlow) config(platform integration.PlatformCode, cfg OAuthClientConfig) (*oauth2.Config, error) {
	ep, ok := f.endpoints[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrUnsupportedPlatform, platform)
	}
	if ep.OAuth1a {
		return nil, fmt.Errorf("%w: %s uses token based authentication", integration.ErrOAuth1aUnsupported, platform)
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, integration.NewValidationError("client_id", "client id and secret are required")
	}
	needsAccount := strings.Contains(ep.AuthURL+ep.TokenURL, accountPlaceholder)
	if needsAccount && strings.TrimSpace(cfg.AccountID) == "" {
		return nil, integration.NewValidationError("account_id", "is required for "+string(platform))
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = ep.Scopes
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   strings.ReplaceAll(ep.AuthURL, accountPlaceholder, cfg.AccountID),
			TokenURL:  strings.ReplaceAll(ep.TokenURL, accountPlaceholder, cfg.AccountID),
			AuthStyle: ep.AuthStyle,
		},
	}, nil
}

func (f *OAuthFlow) context(ctx context.Context) context.Context {
	if f.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
}

func credentialsFromToken(tok *oauth2.Token) *integration.Credentials {
	creds := &integration.Credentials{
		Type:         integration.CredentialTypeOAuth2,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		creds.AccessTokenExpiresAt = &exp
	}
	if secs, ok := tok.Extra("refresh_token_expires_in").(float64); ok && secs > 0 {
		exp := time.Now().UTC().Add(time.Duration(secs) * time.Second)
		creds.RefreshTokenExpiresAt = &exp
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		creds.Scopes = strings.FieldsFunc(scope, func(r rune) bool { return r == ',' || r == ' ' })
	}
	return creds
}

// classifyTokenError maps authorization server failures onto the error
// taxonomy: 5xx responses are retryable, everything else needs re-authorization.
func classifyTokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		status := re.Response.StatusCode
		if status >= http.StatusInternalServerError {
			return &integration.IntegrationError{Code: fmt.Sprintf("HTTP_%d", status), Message: op, Status: status, Retryable: true, Err: err}
		}
		reason := op
		if re.ErrorCode != "" {
			reason += ": " + re.ErrorCode
		}
		return &integration.AuthenticationError{Reason: reason, Err: err}
	}
	return &integration.IntegrationError{Code: "NETWORK", Message: op, Retryable: true, Err: err}
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
