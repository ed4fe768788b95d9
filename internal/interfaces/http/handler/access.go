package handler

import (
	"context"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IntegrationReader loads integrations by id
type IntegrationReader interface {
	Get(ctx context.Context, id uuid.UUID) (*integration.Integration, error)
}

// ownedIntegration resolves the :id parameter to an integration of the
// caller's tenant. Integrations of other tenants are reported as not found.
// It writes the error response itself and returns false on failure.
func (h *BaseHandler) ownedIntegration(c *gin.Context, reader IntegrationReader) (*integration.Integration, bool) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant not found in token")
		return nil, false
	}
	id, ok := h.parseIDParam(c)
	if !ok {
		return nil, false
	}
	in, err := reader.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return nil, false
	}
	if in.TenantID != tenantID {
		h.HandleError(c, integration.ErrIntegrationNotFound)
		return nil, false
	}
	return in, true
}
