package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/auth"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OAuthCallbackPath is where platforms redirect after authorization
const OAuthCallbackPath = "/api/v1/oauth/callback"

// OAuthAuthorizer runs the authorization code flow against a platform
type OAuthAuthorizer interface {
	BuildAuthorizationURL(platform integration.PlatformCode, cfg appintegration.OAuthClientConfig, state string) (string, error)
	ExchangeCodeForToken(ctx context.Context, platform integration.PlatformCode, code string, cfg appintegration.OAuthClientConfig) (*integration.Credentials, error)
}

// StateIssuer signs OAuth state parameters
type StateIssuer interface {
	IssueState(input auth.StateInput) (string, error)
}

// StateConsumer validates a state parameter exactly once
type StateConsumer interface {
	Consume(ctx context.Context, state string) (*auth.StateClaims, error)
}

// CredentialSaver persists credentials obtained by the flow
type CredentialSaver interface {
	Store(ctx context.Context, integrationID uuid.UUID, credType integration.CredentialType, creds *integration.Credentials) (*integration.Credential, error)
}

// OAuthHandlerConfig contains the app registrations and public base URL
type OAuthHandlerConfig struct {
	Clients   map[integration.PlatformCode]appintegration.OAuthClientConfig
	PublicURL string
}

// OAuthHandler starts authorization flows and completes them on callback
type OAuthHandler struct {
	BaseHandler
	integrations IntegrationReader
	flow         OAuthAuthorizer
	issuer       StateIssuer
	states       StateConsumer
	credentials  CredentialSaver
	cfg          OAuthHandlerConfig
	now          func() time.Time
}

// NewOAuthHandler creates a new OAuthHandler
func NewOAuthHandler(
	integrations IntegrationReader,
	flow OAuthAuthorizer,
	issuer StateIssuer,
	states StateConsumer,
	credentials CredentialSaver,
	cfg OAuthHandlerConfig,
) *OAuthHandler {
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &OAuthHandler{
		integrations: integrations,
		flow:         flow,
		issuer:       issuer,
		states:       states,
		credentials:  credentials,
		cfg:          cfg,
		now:          time.Now,
	}
}

func (h *OAuthHandler) clientConfig(in *integration.Integration) appintegration.OAuthClientConfig {
	cfg := h.cfg.Clients[in.Platform]
	cfg.AccountID = in.AccountID
	cfg.RedirectURL = h.cfg.PublicURL + OAuthCallbackPath
	return cfg
}

// Start godoc
// @ID           startOAuth
// @Summary      Begin the OAuth authorization of an integration
// @Tags         oauth
// @Accept       json
// @Produce      json
// @Param        id      path string                true  "Integration ID"
// @Param        request body dto.StartOAuthRequest false "Where to send the operator afterwards"
// @Success      200 {object} APIResponse[dto.StartOAuthResponse]
// @Failure      400 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /integrations/{id}/oauth/start [post]
func (h *OAuthHandler) Start(c *gin.Context) {
	in, ok := h.ownedIntegration(c, h.integrations)
	if !ok {
		return
	}

	var req dto.StartOAuthRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	state, err := h.issuer.IssueState(auth.StateInput{
		IntegrationID: in.ID,
		TenantID:      in.TenantID,
		Platform:      in.Platform,
		RedirectURL:   req.RedirectURL,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	authURL, err := h.flow.BuildAuthorizationURL(in.Platform, h.clientConfig(in), state)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.StartOAuthResponse{AuthorizationURL: authURL})
}

// Callback godoc
// @ID           oauthCallback
// @Summary      Complete an OAuth authorization
// @Description  Exchanges the authorization code and stores the tokens. Redirects when the flow was started with a redirect URL.
// @Tags         oauth
// @Produce      json
// @Param        code  query string true "Authorization code"
// @Param        state query string true "State issued by start"
// @Success      200 {object} APIResponse[dto.CredentialResponse]
// @Success      302
// @Failure      400 {object} ErrorResponse
// @Router       /oauth/callback [get]
func (h *OAuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	if denied := c.Query("error"); denied != "" {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeIntegrationAuth, "Authorization was not granted: "+denied)
		return
	}
	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidationRequired, "code and state are required")
		return
	}

	claims, err := h.states.Consume(ctx, state)
	if err != nil {
		logger.L(ctx).Warn("OAuth state rejected", zap.Error(err))
		errCode := dto.ErrCodeTokenInvalid
		if errors.Is(err, auth.ErrExpiredToken) {
			errCode = dto.ErrCodeTokenExpired
		}
		h.Error(c, http.StatusBadRequest, errCode, "Invalid or expired authorization state")
		return
	}

	in, err := h.integrations.Get(ctx, claims.GetIntegrationUUID())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if in.TenantID.String() != claims.TenantID || in.Platform.String() != claims.Platform {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeTokenInvalid, "Authorization state does not match the integration")
		return
	}

	creds, err := h.flow.ExchangeCodeForToken(ctx, in.Platform, code, h.clientConfig(in))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	stored, err := h.credentials.Store(ctx, in.ID, integration.CredentialTypeOAuth2, creds)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	logger.L(ctx).Info("OAuth authorization completed",
		zap.String("integration_id", in.ID.String()),
		zap.String("platform", in.Platform.String()))

	if claims.RedirectURL != "" {
		if target, err := url.Parse(claims.RedirectURL); err == nil {
			q := target.Query()
			q.Set("integration_id", in.ID.String())
			q.Set("status", "connected")
			target.RawQuery = q.Encode()
			c.Redirect(http.StatusFound, target.String())
			return
		}
	}
	h.Success(c, dto.NewCredentialResponse(stored, h.now()))
}
