package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/erp/syncengine/internal/infrastructure/scheduler"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultJobHistoryLimit = 20
	maxJobHistoryLimit     = 100
)

// JobQueue accepts scheduled sync jobs and reports their history
type JobQueue interface {
	SubmitJob(job *scheduler.SyncJob) error
	GetJobHistoryByIntegration(integrationID uuid.UUID, limit int) []*scheduler.SyncJob
}

var _ JobQueue = (*scheduler.SyncScheduler)(nil)

// SchedulerHandler queues background sync jobs
type SchedulerHandler struct {
	BaseHandler
	integrations IntegrationReader
	queue        JobQueue
	maxRetries   int
}

// NewSchedulerHandler creates a new SchedulerHandler
func NewSchedulerHandler(integrations IntegrationReader, queue JobQueue, maxRetries int) *SchedulerHandler {
	return &SchedulerHandler{integrations: integrations, queue: queue, maxRetries: maxRetries}
}

// Enqueue godoc
// @ID           enqueueSyncJob
// @Summary      Queue a background sync of every entity type
// @Tags         jobs
// @Produce      json
// @Param        id path string true "Integration ID"
// @Success      202 {object} APIResponse[dto.SyncJobResponse]
// @Failure      409 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /integrations/{id}/jobs [post]
func (h *SchedulerHandler) Enqueue(c *gin.Context) {
	in, ok := h.ownedIntegration(c, h.integrations)
	if !ok {
		return
	}
	if !in.Enabled {
		h.ErrorWithCode(c, dto.ErrCodeIntegrationDisabled, "Integration is disabled")
		return
	}

	job := scheduler.NewSyncJob(in, h.maxRetries)
	if err := h.queue.SubmitJob(job); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrJobAlreadyQueued):
			h.ErrorWithCode(c, dto.ErrCodeSyncInProgress, "A sync job is already queued for this integration")
		case errors.Is(err, scheduler.ErrJobQueueFull):
			c.Header("Retry-After", "30")
			h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeRateLimited, "Sync queue is full")
		case errors.Is(err, scheduler.ErrSchedulerNotRunning):
			h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnsupported, "Background syncs are disabled")
		default:
			h.HandleError(c, err)
		}
		return
	}
	h.Accepted(c, newSyncJobResponse(job))
}

// History godoc
// @ID           listSyncJobs
// @Summary      List recent background sync jobs of an integration
// @Tags         jobs
// @Produce      json
// @Param        id    path  string true  "Integration ID"
// @Param        limit query int    false "Maximum jobs returned" default(20)
// @Success      200 {object} APIResponse[[]dto.SyncJobResponse]
// @Security     BearerAuth
// @Router       /integrations/{id}/jobs [get]
func (h *SchedulerHandler) History(c *gin.Context) {
	in, ok := h.ownedIntegration(c, h.integrations)
	if !ok {
		return
	}

	limit := defaultJobHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.Error(c, http.StatusBadRequest, dto.ErrCodeValidationFormat, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJobHistoryLimit)
	}

	jobs := h.queue.GetJobHistoryByIntegration(in.ID, limit)
	out := make([]dto.SyncJobResponse, len(jobs))
	for i, j := range jobs {
		out[i] = newSyncJobResponse(j)
	}
	h.List(c, out, len(out))
}

func newSyncJobResponse(j *scheduler.SyncJob) dto.SyncJobResponse {
	return dto.SyncJobResponse{
		ID:             j.ID,
		IntegrationID:  j.IntegrationID,
		Platform:       j.Platform.String(),
		Status:         string(j.Status),
		Error:          j.Error,
		RetryCount:     j.RetryCount,
		ItemsProcessed: j.ItemsProcessed,
		ItemsFailed:    j.ItemsFailed,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		NextRetryAt:    j.NextRetryAt,
	}
}
