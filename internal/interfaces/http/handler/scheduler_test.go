package handler

import (
	"net/http"
	"testing"

	"github.com/erp/syncengine/internal/infrastructure/scheduler"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockJobQueue is a mock implementation of JobQueue
type mockJobQueue struct {
	mock.Mock
}

func (m *mockJobQueue) SubmitJob(job *scheduler.SyncJob) error {
	return m.Called(job).Error(0)
}

func (m *mockJobQueue) GetJobHistoryByIntegration(id uuid.UUID, limit int) []*scheduler.SyncJob {
	return m.Called(id, limit).Get(0).([]*scheduler.SyncJob)
}

func TestSchedulerHandler_Enqueue(t *testing.T) {
	tenantID := uuid.New()
	in := newStubIntegration(t, tenantID)
	disabled := newStubIntegration(t, tenantID)
	disabled.Enabled = false
	reader := stubReader{in.ID: in, disabled.ID: disabled}

	tests := []struct {
		name       string
		target     *uuid.UUID
		submitErr  error
		wantStatus int
		wantCode   string
	}{
		{"queued", &in.ID, nil, http.StatusAccepted, ""},
		{"already queued", &in.ID, scheduler.ErrJobAlreadyQueued, http.StatusConflict, dto.ErrCodeSyncInProgress},
		{"queue full", &in.ID, scheduler.ErrJobQueueFull, http.StatusServiceUnavailable, dto.ErrCodeRateLimited},
		{"scheduler stopped", &in.ID, scheduler.ErrSchedulerNotRunning, http.StatusServiceUnavailable, dto.ErrCodeUnsupported},
		{"disabled integration", &disabled.ID, nil, http.StatusUnprocessableEntity, dto.ErrCodeIntegrationDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &mockJobQueue{}
			queue.On("SubmitJob", mock.AnythingOfType("*scheduler.SyncJob")).Return(tt.submitErr).Maybe()
			h := NewSchedulerHandler(reader, queue, 3)

			w := testRoute{method: http.MethodPost, path: "/integrations/:id/jobs", tenant: &tenantID, handle: h.Enqueue}.
				do(t, "/integrations/"+tt.target.String()+"/jobs", nil)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
				return
			}
			job := decodeData[dto.SyncJobResponse](t, w)
			assert.Equal(t, in.ID, job.IntegrationID)
			assert.Equal(t, string(scheduler.SyncJobStatusPending), job.Status)
		})
	}
}

func TestSchedulerHandler_QueueFullSetsRetryAfter(t *testing.T) {
	tenantID := uuid.New()
	in := newStubIntegration(t, tenantID)
	queue := &mockJobQueue{}
	queue.On("SubmitJob", mock.Anything).Return(scheduler.ErrJobQueueFull)
	h := NewSchedulerHandler(stubReader{in.ID: in}, queue, 3)

	w := testRoute{method: http.MethodPost, path: "/integrations/:id/jobs", tenant: &tenantID, handle: h.Enqueue}.
		do(t, "/integrations/"+in.ID.String()+"/jobs", nil)

	assert.Equal(t, "30", w.Header().Get("Retry-After"))
}

func TestSchedulerHandler_History(t *testing.T) {
	tenantID := uuid.New()
	in := newStubIntegration(t, tenantID)
	job := scheduler.NewSyncJob(in, 3)
	job.Fail("provider unavailable")

	queue := &mockJobQueue{}
	queue.On("GetJobHistoryByIntegration", in.ID, defaultJobHistoryLimit).Return([]*scheduler.SyncJob{job}).Once()
	queue.On("GetJobHistoryByIntegration", in.ID, maxJobHistoryLimit).Return([]*scheduler.SyncJob{}).Once()
	h := NewSchedulerHandler(stubReader{in.ID: in}, queue, 3)
	route := testRoute{method: http.MethodGet, path: "/integrations/:id/jobs", tenant: &tenantID, handle: h.History}
	target := "/integrations/" + in.ID.String() + "/jobs"

	w := route.do(t, target, nil)
	require.Equal(t, http.StatusOK, w.Code)
	jobs := decodeData[[]dto.SyncJobResponse](t, w)
	require.Len(t, jobs, 1)
	assert.Equal(t, "provider unavailable", jobs[0].Error)

	w = route.do(t, target+"?limit=5000", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = route.do(t, target+"?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	queue.AssertExpectations(t)
}
