package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/erp/syncengine/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func newTestIntegration(t *testing.T) *integration.Integration {
	t.Helper()
	in, err := integration.NewIntegration(uuid.New(), integration.PlatformCodeShopify, uuid.NewString()+".myshopify.com", nil)
	require.NoError(t, err)
	return in
}

func testSchedulerConfig() SyncSchedulerConfig {
	cfg := DefaultSyncSchedulerConfig()
	cfg.Workers = 2
	cfg.JobTimeout = time.Second
	cfg.RetryDelay = 5 * time.Millisecond
	return cfg
}

func newRunningScheduler(t *testing.T, cfg SyncSchedulerConfig, exec SyncExecutor) *SyncScheduler {
	t.Helper()
	s, err := NewSyncScheduler(cfg, exec, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

type staticLister struct {
	integrations []*integration.Integration
	err          error
}

func (l staticLister) FindEnabled(context.Context) ([]*integration.Integration, error) {
	return l.integrations, l.err
}

// ---------------------------------------------------------------------------
// SyncJob Tests
// ---------------------------------------------------------------------------

func TestSyncJob_Complete(t *testing.T) {
	in := newTestIntegration(t)
	ok := &integration.SyncResult{Success: true, ItemsProcessed: 10}
	bad := &integration.SyncResult{Success: false, ItemsProcessed: 4, ItemsFailed: 2}

	tests := []struct {
		name    string
		results []*integration.SyncResult
		want    SyncJobStatus
	}{
		{"all success", []*integration.SyncResult{ok, ok}, SyncJobStatusSuccess},
		{"partial", []*integration.SyncResult{ok, bad}, SyncJobStatusPartial},
		{"all failed", []*integration.SyncResult{bad, nil}, SyncJobStatusFailed},
		{"nothing to sync", nil, SyncJobStatusSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewSyncJob(in, 3)
			job.Start()
			job.Complete(tt.results)
			assert.Equal(t, tt.want, job.Status)
			assert.NotNil(t, job.CompletedAt)
		})
	}

	job := NewSyncJob(in, 3)
	job.Complete([]*integration.SyncResult{ok, bad})
	assert.Equal(t, 14, job.ItemsProcessed)
	assert.Equal(t, 2, job.ItemsFailed)
}

func TestSyncJob_ScheduleRetry_ExponentialBackoff(t *testing.T) {
	job := NewSyncJob(newTestIntegration(t), 10)

	job.Fail("boom")
	assert.True(t, job.ShouldRetry())
	assert.Equal(t, time.Minute, job.ScheduleRetry(time.Minute))
	assert.Equal(t, SyncJobStatusPending, job.Status)
	assert.Empty(t, job.Error)
	require.NotNil(t, job.NextRetryAt)

	assert.Equal(t, 2*time.Minute, job.ScheduleRetry(time.Minute))
	assert.Equal(t, 4*time.Minute, job.ScheduleRetry(time.Minute))
	for i := 0; i < 5; i++ {
		job.ScheduleRetry(time.Minute)
	}
	assert.Equal(t, maxRetryDelay, job.ScheduleRetry(time.Minute), "backoff is capped")

	job.RetryCount = job.MaxRetries
	job.Fail("boom")
	assert.False(t, job.ShouldRetry())
}

// ---------------------------------------------------------------------------
// SyncScheduler Tests
// ---------------------------------------------------------------------------

func TestSyncSchedulerConfig_Validate(t *testing.T) {
	cfg := DefaultSyncSchedulerConfig()
	require.NoError(t, cfg.Validate())

	for _, mutate := range []func(*SyncSchedulerConfig){
		func(c *SyncSchedulerConfig) { c.Workers = 0 },
		func(c *SyncSchedulerConfig) { c.QueueSize = 0 },
		func(c *SyncSchedulerConfig) { c.JobTimeout = 0 },
		func(c *SyncSchedulerConfig) { c.MaxRetries = -1 },
	} {
		c := DefaultSyncSchedulerConfig()
		mutate(&c)
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
	}
}

func TestSyncScheduler_SubmitJob_NotRunning(t *testing.T) {
	s, err := NewSyncScheduler(testSchedulerConfig(), SyncExecutorFunc(func(context.Context, *SyncJob) ([]*integration.SyncResult, error) {
		return nil, nil
	}), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, s.SubmitJob(NewSyncJob(newTestIntegration(t), 0)), ErrSchedulerNotRunning)
	require.NoError(t, s.Stop(context.Background()))
}

func TestSyncScheduler_RunsJobAndRecordsHistory(t *testing.T) {
	done := make(chan struct{})
	s := newRunningScheduler(t, testSchedulerConfig(), SyncExecutorFunc(func(ctx context.Context, job *SyncJob) ([]*integration.SyncResult, error) {
		defer close(done)
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return []*integration.SyncResult{{Success: true, ItemsProcessed: 3}}, nil
	}))
	in := newTestIntegration(t)
	require.NoError(t, s.SubmitJob(NewSyncJob(in, 0)))

	<-done
	assert.Eventually(t, func() bool { return len(s.GetJobHistory(0)) == 1 }, time.Second, 5*time.Millisecond)
	job := s.GetJobHistoryByIntegration(in.ID, 10)[0]
	assert.Equal(t, SyncJobStatusSuccess, job.Status)
	assert.Equal(t, 3, job.ItemsProcessed)

	// released after completion
	assert.Eventually(t, func() bool { return s.SubmitJob(NewSyncJob(in, 0)) == nil }, time.Second, 5*time.Millisecond)
}

func TestSyncScheduler_OneJobPerIntegration(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	s := newRunningScheduler(t, testSchedulerConfig(), SyncExecutorFunc(func(ctx context.Context, job *SyncJob) ([]*integration.SyncResult, error) {
		calls.Add(1)
		<-release
		return nil, nil
	}))
	in := newTestIntegration(t)
	require.NoError(t, s.SubmitJob(NewSyncJob(in, 0)))
	assert.ErrorIs(t, s.SubmitJob(NewSyncJob(in, 0)), ErrJobAlreadyQueued)
	require.NoError(t, s.SubmitJob(NewSyncJob(newTestIntegration(t), 0)))

	close(release)
	assert.Eventually(t, func() bool { return len(s.GetJobHistory(0)) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSyncScheduler_JobRetry(t *testing.T) {
	var calls atomic.Int32
	s := newRunningScheduler(t, testSchedulerConfig(), SyncExecutorFunc(func(ctx context.Context, job *SyncJob) ([]*integration.SyncResult, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("provider unavailable")
		}
		return []*integration.SyncResult{{Success: true}}, nil
	}))
	in := newTestIntegration(t)
	require.NoError(t, s.SubmitJob(NewSyncJob(in, 2)))

	assert.Eventually(t, func() bool {
		h := s.GetJobHistory(1)
		return len(h) == 1 && h[0].Status == SyncJobStatusSuccess
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, s.GetJobHistory(1)[0].RetryCount)
	assert.Len(t, s.GetJobHistoryByIntegration(in.ID, 10), 3)
}

func TestSyncScheduler_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	s := newRunningScheduler(t, testSchedulerConfig(), SyncExecutorFunc(func(ctx context.Context, job *SyncJob) ([]*integration.SyncResult, error) {
		calls.Add(1)
		return nil, errors.New("still down")
	}))
	in := newTestIntegration(t)
	require.NoError(t, s.SubmitJob(NewSyncJob(in, 1)))

	assert.Eventually(t, func() bool {
		h := s.GetJobHistory(1)
		return len(h) == 1 && h[0].Status == SyncJobStatusFailed && h[0].RetryCount == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return s.SubmitJob(NewSyncJob(in, 0)) == nil }, time.Second, 5*time.Millisecond)
}

func TestSyncScheduler_StopDropsPendingRetries(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.RetryDelay = time.Hour
	var calls atomic.Int32
	s, err := NewSyncScheduler(cfg, SyncExecutorFunc(func(ctx context.Context, job *SyncJob) ([]*integration.SyncResult, error) {
		calls.Add(1)
		return nil, errors.New("down")
	}), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.SubmitJob(NewSyncJob(newTestIntegration(t), 3)))
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx), "stop is idempotent")
	assert.Equal(t, int32(1), calls.Load())
}

// ---------------------------------------------------------------------------
// SyncTrigger Tests
// ---------------------------------------------------------------------------

func TestSyncTrigger_TriggerNow(t *testing.T) {
	var mu sync.Mutex
	seen := map[uuid.UUID]int{}
	release := make(chan struct{})
	s := newRunningScheduler(t, testSchedulerConfig(), SyncExecutorFunc(func(ctx context.Context, job *SyncJob) ([]*integration.SyncResult, error) {
		mu.Lock()
		seen[job.IntegrationID]++
		mu.Unlock()
		<-release
		return nil, nil
	}))
	a, b := newTestIntegration(t), newTestIntegration(t)
	trigger := NewSyncTrigger(SyncTriggerConfig{Interval: time.Hour, MaxRetries: 2}, s, staticLister{integrations: []*integration.Integration{a, b}}, zaptest.NewLogger(t))

	n, err := trigger.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// both still running, nothing new is queued
	n, err = trigger.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	close(release)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[a.ID] == 1 && seen[b.ID] == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSyncTrigger_ListerError(t *testing.T) {
	s := newRunningScheduler(t, testSchedulerConfig(), SyncExecutorFunc(func(context.Context, *SyncJob) ([]*integration.SyncResult, error) {
		return nil, nil
	}))
	trigger := NewSyncTrigger(SyncTriggerConfig{}, s, staticLister{err: errors.New("db down")}, nil)
	_, err := trigger.TriggerNow(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestSyncTrigger_LoopFiresOnInterval(t *testing.T) {
	var calls atomic.Int32
	s := newRunningScheduler(t, testSchedulerConfig(), SyncExecutorFunc(func(context.Context, *SyncJob) ([]*integration.SyncResult, error) {
		calls.Add(1)
		return nil, nil
	}))
	trigger := NewSyncTrigger(SyncTriggerConfig{Interval: 10 * time.Millisecond}, s, staticLister{integrations: []*integration.Integration{newTestIntegration(t)}}, nil)
	require.NoError(t, trigger.Start(context.Background()))
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, trigger.Stop(context.Background()))
}
