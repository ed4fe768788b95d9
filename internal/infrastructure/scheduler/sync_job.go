package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/erp/syncengine/internal/domain/integration"
)

// maxRetryDelay caps the exponential retry backoff
const maxRetryDelay = 30 * time.Minute

// SyncJobStatus represents the status of a scheduled sync job
type SyncJobStatus string

const (
	SyncJobStatusPending SyncJobStatus = "PENDING"
	SyncJobStatusRunning SyncJobStatus = "RUNNING"
	SyncJobStatusSuccess SyncJobStatus = "SUCCESS"
	SyncJobStatusPartial SyncJobStatus = "PARTIAL"
	SyncJobStatusFailed  SyncJobStatus = "FAILED"
)

// SyncJob is one scheduled run of every entity type of an integration
type SyncJob struct {
	ID            uuid.UUID
	IntegrationID uuid.UUID
	Platform      integration.PlatformCode
	Status        SyncJobStatus
	Error         string
	StartedAt     *time.Time
	CompletedAt   *time.Time
	RetryCount    int
	MaxRetries    int
	NextRetryAt   *time.Time

	// Sync results
	Results        []*integration.SyncResult
	ItemsProcessed int
	ItemsFailed    int
}

// NewSyncJob creates a new sync job
func NewSyncJob(in *integration.Integration, maxRetries int) *SyncJob {
	return &SyncJob{
		ID:            uuid.New(),
		IntegrationID: in.ID,
		Platform:      in.Platform,
		Status:        SyncJobStatusPending,
		MaxRetries:    maxRetries,
	}
}

// Start marks the job as running
func (j *SyncJob) Start() {
	now := time.Now()
	j.Status = SyncJobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete records the results of the run. A run where some entity types
// failed is partial.
func (j *SyncJob) Complete(results []*integration.SyncResult) {
	now := time.Now()
	j.CompletedAt = &now
	j.Results = results
	j.ItemsProcessed, j.ItemsFailed = 0, 0

	succeeded, failed := 0, 0
	for _, r := range results {
		if r == nil {
			failed++
			continue
		}
		j.ItemsProcessed += r.ItemsProcessed
		j.ItemsFailed += r.ItemsFailed
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		j.Status = SyncJobStatusSuccess
	case succeeded > 0:
		j.Status = SyncJobStatusPartial
	default:
		j.Status = SyncJobStatusFailed
	}
}

// Fail marks the job as failed
func (j *SyncJob) Fail(err string) {
	now := time.Now()
	j.Status = SyncJobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if the job should be retried
func (j *SyncJob) ShouldRetry() bool {
	return j.Status == SyncJobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry schedules the job for retry with exponential backoff and
// returns the delay
func (j *SyncJob) ScheduleRetry(baseDelay time.Duration) time.Duration {
	j.RetryCount++
	j.Status = SyncJobStatusPending
	// Exponential backoff: baseDelay * 2^(retryCount-1)
	delay := baseDelay * time.Duration(1<<(j.RetryCount-1))
	if delay > maxRetryDelay || delay < 0 {
		delay = maxRetryDelay
	}
	nextRetry := time.Now().Add(delay)
	j.NextRetryAt = &nextRetry
	j.Error = ""
	return delay
}

// SyncExecutor runs sync jobs
type SyncExecutor interface {
	// Execute syncs the job's integration. Returned results are recorded on
	// the job even when err is set.
	Execute(ctx context.Context, job *SyncJob) ([]*integration.SyncResult, error)
}

// SyncExecutorFunc adapts a function to SyncExecutor
type SyncExecutorFunc func(ctx context.Context, job *SyncJob) ([]*integration.SyncResult, error)

// Execute implements SyncExecutor
func (f SyncExecutorFunc) Execute(ctx context.Context, job *SyncJob) ([]*integration.SyncResult, error) {
	return f(ctx, job)
}
