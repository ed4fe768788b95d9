package handler

import (
	"context"
	"sort"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SyncRunner runs syncs and reports their state
type SyncRunner interface {
	Sync(ctx context.Context, integrationID uuid.UUID, entityType integration.EntityType, opts appintegration.SyncOptions) (*integration.SyncResult, error)
	SyncAll(ctx context.Context, integrationID uuid.UUID, opts appintegration.SyncOptions) ([]*integration.SyncResult, error)
	States(ctx context.Context, integrationID uuid.UUID) ([]*integration.SyncState, error)
	BreakerStates() map[string]appintegration.BreakerState
}

var _ SyncRunner = (*appintegration.SyncService)(nil)

// SyncAllResponse reports a run over every entity type. Errors lists the
// runs that stopped early; their partial results are still included.
type SyncAllResponse struct {
	Results []*integration.SyncResult `json:"results"`
	Errors  []string                  `json:"errors,omitempty"`
}

// BreakerStatus is the circuit breaker state of one integration
type BreakerStatus struct {
	IntegrationID string `json:"integration_id"`
	State         string `json:"state"`
}

// SyncHandler handles manual sync endpoints
type SyncHandler struct {
	BaseHandler
	integrations IntegrationReader
	syncs        SyncRunner
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(integrations IntegrationReader, syncs SyncRunner) *SyncHandler {
	return &SyncHandler{integrations: integrations, syncs: syncs}
}

// bindOptions reads optional run options; an empty body means defaults
func (h *SyncHandler) bindOptions(c *gin.Context) (appintegration.SyncOptions, bool) {
	var req dto.TriggerSyncRequest
	if !bindOptionalJSON(c, &req) {
		return appintegration.SyncOptions{}, false
	}
	return appintegration.SyncOptions{DryRun: req.DryRun, FullResync: req.FullResync}, true
}

// SyncAll godoc
// @ID           syncAllEntityTypes
// @Summary      Sync every configured entity type of an integration
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        id      path string                 true  "Integration ID"
// @Param        request body dto.TriggerSyncRequest false "Run options"
// @Success      200 {object} APIResponse[SyncAllResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /integrations/{id}/sync [post]
func (h *SyncHandler) SyncAll(c *gin.Context) {
	in, ok := h.ownedIntegration(c, h.integrations)
	if !ok {
		return
	}
	opts, ok := h.bindOptions(c)
	if !ok {
		return
	}

	results, err := h.syncs.SyncAll(c.Request.Context(), in.ID, opts)
	resp := SyncAllResponse{Results: make([]*integration.SyncResult, 0, len(results))}
	for _, r := range results {
		if r != nil {
			resp.Results = append(resp.Results, r)
		}
	}
	if err != nil && len(resp.Results) == 0 {
		h.HandleError(c, firstError(err))
		return
	}
	if err != nil {
		for _, e := range unjoin(err) {
			resp.Errors = append(resp.Errors, e.Error())
		}
	}
	h.Success(c, resp)
}

// Sync godoc
// @ID           syncEntityType
// @Summary      Sync one entity type of an integration
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        id      path string                 true  "Integration ID"
// @Param        entity  path string                 true  "Entity type" Enums(products, inventory, pricing)
// @Param        request body dto.TriggerSyncRequest false "Run options"
// @Success      200 {object} APIResponse[integration.SyncResult]
// @Failure      400 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /integrations/{id}/sync/{entity} [post]
func (h *SyncHandler) Sync(c *gin.Context) {
	in, ok := h.ownedIntegration(c, h.integrations)
	if !ok {
		return
	}
	entityType := integration.EntityType(c.Param("entity"))
	if !entityType.IsValid() {
		h.HandleError(c, integration.ErrUnsupportedEntityType)
		return
	}
	opts, ok := h.bindOptions(c)
	if !ok {
		return
	}

	result, err := h.syncs.Sync(c.Request.Context(), in.ID, entityType, opts)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// States godoc
// @ID           listSyncStates
// @Summary      List the sync cursors of an integration
// @Tags         sync
// @Produce      json
// @Param        id path string true "Integration ID"
// @Success      200 {object} APIResponse[[]dto.SyncStateResponse]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /integrations/{id}/states [get]
func (h *SyncHandler) States(c *gin.Context) {
	in, ok := h.ownedIntegration(c, h.integrations)
	if !ok {
		return
	}

	states, err := h.syncs.States(c.Request.Context(), in.ID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]dto.SyncStateResponse, len(states))
	for i, s := range states {
		out[i] = dto.NewSyncStateResponse(s)
	}
	h.List(c, out, len(out))
}

// Breakers godoc
// @ID           listCircuitBreakers
// @Summary      Report the circuit breaker state of the tenant's integrations that have run
// @Tags         sync
// @Produce      json
// @Success      200 {object} APIResponse[[]BreakerStatus]
// @Security     BearerAuth
// @Router       /sync/breakers [get]
func (h *SyncHandler) Breakers(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant not found in token")
		return
	}

	states := h.syncs.BreakerStates()
	out := make([]BreakerStatus, 0, len(states))
	for key, state := range states {
		id, err := uuid.Parse(key)
		if err != nil {
			continue
		}
		in, err := h.integrations.Get(c.Request.Context(), id)
		if err != nil || in.TenantID != tenantID {
			continue
		}
		out = append(out, BreakerStatus{IntegrationID: key, State: string(state)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IntegrationID < out[j].IntegrationID })
	h.List(c, out, len(out))
}

// unjoin splits an errors.Join result
func unjoin(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func firstError(err error) error {
	return unjoin(err)[0]
}
