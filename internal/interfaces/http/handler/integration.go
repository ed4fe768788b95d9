package handler

import (
	"context"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IntegrationManager is the integration lifecycle used by IntegrationHandler
type IntegrationManager interface {
	IntegrationReader
	Create(ctx context.Context, input appintegration.CreateIntegrationInput) (*integration.Integration, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*integration.Integration, error)
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*integration.Integration, error)
}

var _ IntegrationManager = (*appintegration.IntegrationService)(nil)

// IntegrationHandler handles integration management endpoints
type IntegrationHandler struct {
	BaseHandler
	integrations IntegrationManager
}

// NewIntegrationHandler creates a new IntegrationHandler
func NewIntegrationHandler(integrations IntegrationManager) *IntegrationHandler {
	return &IntegrationHandler{integrations: integrations}
}

// Create godoc
// @ID           createIntegration
// @Summary      Register a platform account
// @Tags         integrations
// @Accept       json
// @Produce      json
// @Param        request body dto.CreateIntegrationRequest true "Integration"
// @Success      201 {object} APIResponse[dto.IntegrationResponse]
// @Failure      400 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /integrations [post]
func (h *IntegrationHandler) Create(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant not found in token")
		return
	}

	var req dto.CreateIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	platform, ok := integration.ParsePlatformCode(req.Platform)
	if !ok {
		h.HandleError(c, integration.ErrUnsupportedPlatform)
		return
	}
	entityTypes := make([]integration.EntityType, len(req.EntityTypes))
	for i, et := range req.EntityTypes {
		entityTypes[i] = integration.EntityType(et)
	}

	in, err := h.integrations.Create(c.Request.Context(), appintegration.CreateIntegrationInput{
		TenantID:    tenantID,
		Platform:    platform,
		AccountID:   req.AccountID,
		BaseURL:     req.BaseURL,
		EntityTypes: entityTypes,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, dto.NewIntegrationResponse(in))
}

// List godoc
// @ID           listIntegrations
// @Summary      List the integrations of the caller's tenant
// @Tags         integrations
// @Produce      json
// @Success      200 {object} APIResponse[[]dto.IntegrationResponse]
// @Security     BearerAuth
// @Router       /integrations [get]
func (h *IntegrationHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant not found in token")
		return
	}

	items, err := h.integrations.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]dto.IntegrationResponse, len(items))
	for i, in := range items {
		out[i] = dto.NewIntegrationResponse(in)
	}
	h.BaseHandler.List(c, out, len(out))
}

// Get godoc
// @ID           getIntegration
// @Summary      Get an integration
// @Tags         integrations
// @Produce      json
// @Param        id path string true "Integration ID"
// @Success      200 {object} APIResponse[dto.IntegrationResponse]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /integrations/{id} [get]
func (h *IntegrationHandler) Get(c *gin.Context) {
	in, ok := h.ownedIntegration(c, h.integrations)
	if !ok {
		return
	}
	h.Success(c, dto.NewIntegrationResponse(in))
}

// SetEnabled godoc
// @ID           setIntegrationEnabled
// @Summary      Enable or disable an integration
// @Tags         integrations
// @Accept       json
// @Produce      json
// @Param        id      path string                true "Integration ID"
// @Param        request body dto.SetEnabledRequest true "Enabled flag"
// @Success      200 {object} APIResponse[dto.IntegrationResponse]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /integrations/{id}/enabled [put]
func (h *IntegrationHandler) SetEnabled(c *gin.Context) {
	in, ok := h.ownedIntegration(c, h.integrations)
	if !ok {
		return
	}

	var req dto.SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	updated, err := h.integrations.SetEnabled(c.Request.Context(), in.ID, *req.Enabled)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewIntegrationResponse(updated))
}
