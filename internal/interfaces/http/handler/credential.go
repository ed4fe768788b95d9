package handler

import (
	"context"
	"time"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CredentialManager stores and rotates integration credentials
type CredentialManager interface {
	Store(ctx context.Context, integrationID uuid.UUID, credType integration.CredentialType, creds *integration.Credentials) (*integration.Credential, error)
	Rotate(ctx context.Context, integrationID uuid.UUID, creds *integration.Credentials) (*integration.Credential, error)
	Delete(ctx context.Context, integrationID uuid.UUID) error
	ForceRefresh(ctx context.Context, integrationID uuid.UUID) (*integration.Credentials, error)
}

var _ CredentialManager = (*appintegration.CredentialStore)(nil)

// RefreshResponse reports a forced token refresh. Tokens are never returned.
type RefreshResponse struct {
	Refreshed            bool       `json:"refreshed"`
	AccessTokenExpiresAt *time.Time `json:"access_token_expires_at,omitempty"`
}

// CredentialHandler handles credential endpoints. Secrets flow in only;
// responses carry metadata.
type CredentialHandler struct {
	BaseHandler
	integrations IntegrationReader
	credentials  CredentialManager
	now          func() time.Time
}

// NewCredentialHandler creates a new CredentialHandler
func NewCredentialHandler(integrations IntegrationReader, credentials CredentialManager) *CredentialHandler {
	return &CredentialHandler{integrations: integrations, credentials: credentials, now: time.Now}
}

// Store godoc
// @ID           storeCredential
// @Summary      Store the credentials of an integration
// @Tags         credentials
// @Accept       json
// @Produce      json
// @Param        id      path string                     true "Integration ID"
// @Param        request body dto.StoreCredentialRequest true "Credentials"
// @Success      200 {object} APIResponse[dto.CredentialResponse]
// @Failure      400 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /integrations/{id}/credentials [put]
func (h *CredentialHandler) Store(c *gin.Context) {
	in, ok := h.ownedIntegration(c, h.integrations)
	if !ok {
		return
	}

	var req dto.StoreCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	creds := req.ToCredentials()
	stored, err := h.credentials.Store(c.Request.Context(), in.ID, creds.Type, creds)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewCredentialResponse(stored, h.now()))
}

// Rotate godoc
// @ID           rotateCredential
// @Summary      Replace the credentials of an integration with new ones of the same type
// @Tags         credentials
// @Accept       json
// @Produce      json
// @Param        id      path string                     true "Integration ID"
// @Param        request body dto.StoreCredentialRequest true "Credentials"
// @Success      200 {object} APIResponse[dto.CredentialResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /integrations/{id}/credentials/rotate [post]
func (h *CredentialHandler) Rotate(c *gin.Context) {
	in, ok := h.ownedIntegration(c, h.integrations)
	if !ok {
		return
	}

	var req dto.StoreCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	rotated, err := h.credentials.Rotate(c.Request.Context(), in.ID, req.ToCredentials())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewCredentialResponse(rotated, h.now()))
}

// Refresh godoc
// @ID           refreshCredential
// @Summary      Refresh the OAuth access token now
// @Tags         credentials
// @Produce      json
// @Param        id path string true "Integration ID"
// @Success      200 {object} APIResponse[RefreshResponse]
// @Failure      401 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /integrations/{id}/credentials/refresh [post]
func (h *CredentialHandler) Refresh(c *gin.Context) {
	in, ok := h.ownedIntegration(c, h.integrations)
	if !ok {
		return
	}

	creds, err := h.credentials.ForceRefresh(c.Request.Context(), in.ID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, RefreshResponse{Refreshed: true, AccessTokenExpiresAt: creds.AccessTokenExpiresAt})
}

// Delete godoc
// @ID           deleteCredential
// @Summary      Delete the credentials of an integration
// @Tags         credentials
// @Param        id path string true "Integration ID"
// @Success      204
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /integrations/{id}/credentials [delete]
func (h *CredentialHandler) Delete(c *gin.Context) {
	in, ok := h.ownedIntegration(c, h.integrations)
	if !ok {
		return
	}

	if err := h.credentials.Delete(c.Request.Context(), in.ID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}
