package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// SyncSchedulerConfig
// ---------------------------------------------------------------------------

// SyncSchedulerConfig holds configuration for the sync scheduler
type SyncSchedulerConfig struct {
	// Workers is the maximum number of concurrent sync jobs
	Workers int
	// QueueSize bounds the number of queued jobs
	QueueSize int
	// JobTimeout is the maximum time a job can run
	JobTimeout time.Duration
	// MaxRetries is the number of retry attempts for failed jobs
	MaxRetries int
	// RetryDelay is the base delay between retries (with exponential backoff)
	RetryDelay time.Duration
	// MaxHistory is the number of finished jobs kept for monitoring
	MaxHistory int
}

// DefaultSyncSchedulerConfig returns default configuration
func DefaultSyncSchedulerConfig() SyncSchedulerConfig {
	return SyncSchedulerConfig{
		Workers:    3,
		QueueSize:  100,
		JobTimeout: 30 * time.Minute,
		MaxRetries: 3,
		RetryDelay: time.Minute,
		MaxHistory: 100,
	}
}

// Validate validates the configuration
func (c *SyncSchedulerConfig) Validate() error {
	if c.Workers <= 0 || c.QueueSize <= 0 {
		return ErrInvalidConfig
	}
	if c.JobTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxRetries < 0 || c.RetryDelay < 0 {
		return ErrInvalidConfig
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 100
	}
	return nil
}

// ---------------------------------------------------------------------------
// SyncScheduler
// ---------------------------------------------------------------------------

// SyncScheduler runs sync jobs on a bounded worker pool. An integration has
// at most one job queued or running at a time.
type SyncScheduler struct {
	config   SyncSchedulerConfig
	executor SyncExecutor
	logger   *zap.Logger

	jobs      chan *SyncJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	active    map[uuid.UUID]bool
	timers    map[uuid.UUID]*time.Timer

	// Job history for monitoring (in-memory, limited size)
	historyMu sync.RWMutex
	history   []*SyncJob
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(config SyncSchedulerConfig, executor SyncExecutor, logger *zap.Logger) (*SyncScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncScheduler{
		config:   config,
		executor: executor,
		logger:   logger,
		jobs:     make(chan *SyncJob, config.QueueSize),
		active:   make(map[uuid.UUID]bool),
		timers:   make(map[uuid.UUID]*time.Timer),
		history:  make([]*SyncJob, 0, config.MaxHistory),
	}, nil
}

// Start starts the scheduler
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// Start worker pool
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("Sync scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop gracefully stops the scheduler. Pending retries are dropped.
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	close(s.jobs)
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sync scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Sync scheduler stop timed out")
		return ctx.Err()
	}
}

// SubmitJob queues a job. It fails when the integration already has a job
// queued or running.
func (s *SyncScheduler) SubmitJob(job *SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}
	if s.active[job.IntegrationID] {
		return ErrJobAlreadyQueued
	}

	select {
	case s.jobs <- job:
		s.active[job.IntegrationID] = true
		s.logger.Debug("Sync job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("integration_id", job.IntegrationID.String()),
			zap.String("platform", string(job.Platform)),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

// resubmit queues a retry once its delay elapsed
func (s *SyncScheduler) resubmit(job *SyncJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, job.IntegrationID)
	if !s.isRunning {
		delete(s.active, job.IntegrationID)
		return
	}
	select {
	case s.jobs <- job:
	default:
		delete(s.active, job.IntegrationID)
		s.logger.Warn("Failed to re-queue sync job for retry",
			zap.String("job_id", job.ID.String()),
		)
	}
}

func (s *SyncScheduler) release(integrationID uuid.UUID) {
	s.mu.Lock()
	delete(s.active, integrationID)
	s.mu.Unlock()
}

// worker processes jobs from the queue
func (s *SyncScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	s.logger.Debug("Sync worker started", zap.Int("worker_id", workerID))

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Sync worker stopping", zap.Int("worker_id", workerID))
			return
		case job, ok := <-s.jobs:
			if !ok {
				s.logger.Debug("Sync job channel closed", zap.Int("worker_id", workerID))
				return
			}
			s.processJob(ctx, job, workerID)
		}
	}
}

// processJob executes a single job
func (s *SyncScheduler) processJob(ctx context.Context, job *SyncJob, workerID int) {
	job.Start()
	log := s.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("integration_id", job.IntegrationID.String()),
		zap.String("platform", string(job.Platform)),
	)
	log.Info("Processing sync job", zap.Int("retry_count", job.RetryCount))

	// Create context with timeout
	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	results, err := s.executor.Execute(jobCtx, job)
	cancel()

	job.Complete(results)
	if err != nil {
		job.Fail(err.Error())
		log.Error("Sync job failed", zap.Error(err))

		if job.ShouldRetry() && ctx.Err() == nil {
			delay := job.ScheduleRetry(s.config.RetryDelay)
			log.Info("Sync job scheduled for retry",
				zap.Int("retry_count", job.RetryCount),
				zap.Int("max_retries", job.MaxRetries),
				zap.Time("next_retry_at", *job.NextRetryAt),
			)
			s.addToHistory(job)
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.isRunning {
				s.timers[job.IntegrationID] = time.AfterFunc(delay, func() { s.resubmit(job) })
			} else {
				delete(s.active, job.IntegrationID)
			}
			return
		}
		s.release(job.IntegrationID)
		s.addToHistory(job)
		return
	}

	log.Info("Sync job completed",
		zap.String("status", string(job.Status)),
		zap.Int("items_processed", job.ItemsProcessed),
		zap.Int("items_failed", job.ItemsFailed),
	)
	s.release(job.IntegrationID)
	s.addToHistory(job)
}

// addToHistory adds a snapshot of a finished attempt to history
func (s *SyncScheduler) addToHistory(job *SyncJob) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	cp := *job
	s.history = append([]*SyncJob{&cp}, s.history...)
	if len(s.history) > s.config.MaxHistory {
		s.history = s.history[:s.config.MaxHistory]
	}
}

// GetJobHistory returns recent job history, newest first
func (s *SyncScheduler) GetJobHistory(limit int) []*SyncJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]*SyncJob, limit)
	copy(result, s.history[:limit])
	return result
}

// GetJobHistoryByIntegration returns job history of one integration
func (s *SyncScheduler) GetJobHistoryByIntegration(integrationID uuid.UUID, limit int) []*SyncJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	result := make([]*SyncJob, 0, limit)
	for _, job := range s.history {
		if job.IntegrationID == integrationID {
			result = append(result, job)
			if len(result) >= limit {
				break
			}
		}
	}
	return result
}
