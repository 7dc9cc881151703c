// Package scheduler runs the control loop that turns due sources into
// bounded, non-duplicated scrape jobs, and owns the job lifecycle
// operations that are not executions: manual triggers, cancellation,
// retries and stale-job reconciliation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/grantscout/internal/common"
	"github.com/ternarybob/grantscout/internal/interfaces"
	"github.com/ternarybob/grantscout/internal/models"
	"github.com/ternarybob/grantscout/internal/services/orchestrator"
	"github.com/ternarybob/grantscout/internal/services/sources"
)

// Service implements the scheduling control loop.
type Service struct {
	sources      *sources.Service
	jobs         interfaces.JobStorage
	orchestrator *orchestrator.Service
	config       *common.SchedulerConfig
	logger       arbor.ILogger

	cron        *cron.Cron
	staleTicker *time.Ticker

	mu         sync.Mutex
	running    bool
	dispatched map[string]bool // job IDs handed to the worker pool

	workCh chan string
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewService creates a scheduler service
func NewService(
	sourceService *sources.Service,
	jobs interfaces.JobStorage,
	orchestratorService *orchestrator.Service,
	config *common.SchedulerConfig,
	logger arbor.ILogger,
) *Service {
	return &Service{
		sources:      sourceService,
		jobs:         jobs,
		orchestrator: orchestratorService,
		config:       config,
		logger:       logger,
		cron:         cron.New(),
		dispatched:   make(map[string]bool),
	}
}

// Start reconciles jobs orphaned by a previous process, launches the
// worker pool and begins ticking.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.workCh = make(chan string, s.config.MaxConcurrentJobs*2)
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.cleanupOrphanedJobs(); err != nil {
		s.logger.Warn().Err(err).Msg("Orphaned job cleanup failed")
	}

	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	spec := fmt.Sprintf("@every %s", s.config.HealthCheckInterval)
	if _, err := s.cron.AddFunc(spec, s.RunTick); err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.cron.Start()

	s.staleTicker = time.NewTicker(s.config.HealthCheckInterval)
	go s.staleJobDetectorLoop()

	s.logger.Info().
		Str("tick", s.config.HealthCheckInterval.String()).
		Int("workers", s.config.MaxConcurrentJobs).
		Msg("Scheduler started")
	return nil
}

// Stop halts ticking and drains the worker pool. In-flight jobs finish;
// queued jobs stay PENDING and are re-dispatched on the next start.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	<-cronCtx.Done()

	if s.staleTicker != nil {
		s.staleTicker.Stop()
	}
	close(s.stopCh)
	close(s.workCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Timed out waiting for workers to drain")
	}

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning reports whether the control loop is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunTick performs one pass of the control loop: dispatch any PENDING
// jobs not yet in flight, then enqueue due sources up to the concurrency
// budget. Safe to invoke manually between cron ticks.
func (s *Service) RunTick() {
	ctx := context.Background()

	if err := s.dispatchPending(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Pending job dispatch failed")
	}

	due, err := s.sources.ListDue(ctx, time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list due sources")
		return
	}
	if len(due) == 0 {
		return
	}

	// The running count is derived from storage so the ceiling survives
	// restarts.
	running, err := s.jobs.CountByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to count running jobs")
		return
	}

	budget := s.config.MaxConcurrentJobs - running
	created := 0
	for _, source := range due {
		if created >= budget {
			// Remaining due sources roll over to the next tick.
			break
		}

		job := models.NewScrapeJob(common.NewJobID(), source.ID, models.JobMetadata{
			TriggeredBy: models.TriggerScheduler,
			MaxAttempts: s.config.RetryAttempts + 1,
		})
		if err := s.jobs.CreateJob(ctx, job, false); err != nil {
			if errors.Is(err, models.ErrAlreadyRunning) {
				continue
			}
			s.logger.Warn().Err(err).Str("source_id", source.ID).Msg("Failed to create job")
			continue
		}
		created++
		s.dispatch(job.ID)
	}

	if created > 0 {
		s.logger.Info().
			Int("due", len(due)).
			Int("created", created).
			Int("running", running).
			Msg("Scheduler tick enqueued jobs")
	}
}

// Trigger creates an immediate job for one source, bypassing the due
// check. Single-flight still applies unless force is set. An INACTIVE or
// ERROR source is refused without force.
func (s *Service) Trigger(ctx context.Context, sourceID string, priority int, force bool) (*models.ScrapeJob, error) {
	source, err := s.sources.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source.Status != models.SourceStatusActive && !force {
		return nil, models.ErrSourceInactive
	}

	job := models.NewScrapeJob(common.NewJobID(), sourceID, models.JobMetadata{
		TriggeredBy: models.TriggerManual,
		Priority:    priority,
		Force:       force,
		MaxAttempts: s.config.RetryAttempts + 1,
	})
	if err := s.jobs.CreateJob(ctx, job, force); err != nil {
		return nil, err
	}

	s.dispatch(job.ID)
	s.logger.Info().Str("job_id", job.ID).Str("source_id", sourceID).Bool("force", force).Msg("Manual trigger accepted")
	return job, nil
}

// CancelJob marks a PENDING or RUNNING job CANCELLED. The orchestrator
// honors the cancel cooperatively between its major steps.
func (s *Service) CancelJob(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, models.ErrJobTerminal
	}

	job.Status = models.JobStatusCancelled
	now := time.Now()
	job.FinishedAt = &now
	job.Log = append(job.Log, string(models.ErrCodeCancelled)+": cancelled by administrator")

	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info().Str("job_id", jobID).Msg("Job cancelled")
	return job, nil
}

// dispatch hands a job to the worker pool. A full channel is not an
// error: the job stays PENDING and the next tick re-dispatches it.
func (s *Service) dispatch(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.dispatched[jobID] {
		return
	}

	select {
	case s.workCh <- jobID:
		s.dispatched[jobID] = true
	default:
		s.logger.Debug().Str("job_id", jobID).Msg("Worker queue full, job rolls over to next tick")
	}
}

// dispatchPending re-dispatches PENDING jobs that are not in flight,
// covering process restarts and manual triggers that arrived while the
// queue was full.
func (s *Service) dispatchPending(ctx context.Context) error {
	pending, err := s.jobs.ListJobs(ctx, &interfaces.JobListOptions{
		Status:   string(models.JobStatusPending),
		OrderBy:  "CreatedAt",
		OrderDir: "ASC",
	})
	if err != nil {
		return err
	}
	for _, job := range pending {
		s.dispatch(job.ID)
	}
	return nil
}

func (s *Service) worker() {
	defer s.wg.Done()

	for jobID := range s.workCh {
		if err := s.orchestrator.ExecuteScrapeJob(context.Background(), jobID); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("Job execution error")
		}

		s.mu.Lock()
		delete(s.dispatched, jobID)
		s.mu.Unlock()

		s.maybeRetry(jobID)
	}
}

// maybeRetry re-enqueues a FAILED job after the configured backoff while
// attempts remain. Retry jobs carry explicit attempt accounting and a
// link back to the originating job.
func (s *Service) maybeRetry(jobID string) {
	ctx := context.Background()
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return
	}
	if job.Status != models.JobStatusFailed || job.Metadata.Attempt >= job.Metadata.MaxAttempts {
		return
	}

	origin := job.Metadata.RetryOfJob
	if origin == "" {
		origin = job.ID
	}
	retry := models.NewScrapeJob(common.NewJobID(), job.SourceID, models.JobMetadata{
		TriggeredBy: models.TriggerRetry,
		Priority:    job.Metadata.Priority,
		Attempt:     job.Metadata.Attempt + 1,
		MaxAttempts: job.Metadata.MaxAttempts,
		RetryOfJob:  origin,
	})

	backoff := s.config.RetryBackoff
	s.logger.Info().
		Str("job_id", job.ID).
		Str("retry_job_id", retry.ID).
		Int("attempt", retry.Metadata.Attempt).
		Str("backoff", backoff.String()).
		Msg("Scheduling retry")

	time.AfterFunc(backoff, func() {
		select {
		case <-s.stopCh:
			return
		default:
		}
		if err := s.jobs.CreateJob(context.Background(), retry, false); err != nil {
			s.logger.Warn().Err(err).Str("source_id", job.SourceID).Msg("Retry enqueue failed")
			return
		}
		s.dispatch(retry.ID)
	})
}

// cleanupOrphanedJobs fails RUNNING jobs left behind by a previous
// process so their sources are not blocked by the single-flight check.
func (s *Service) cleanupOrphanedJobs() error {
	ctx := context.Background()
	orphans, err := s.jobs.ListJobs(ctx, &interfaces.JobListOptions{
		Status: string(models.JobStatusRunning),
	})
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		return nil
	}

	s.logger.Info().Int("count", len(orphans)).Msg("Cleaning up orphaned jobs from previous run")
	for _, job := range orphans {
		s.failAbandonedJob(ctx, job, models.ErrCodeStale, "service restarted while job was running")
	}
	return nil
}

// staleJobDetectorLoop marks RUNNING jobs older than the grace period as
// FAILED so a crashed worker cannot block its source forever.
func (s *Service) staleJobDetectorLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.staleTicker.C:
			if err := s.detectStaleJobs(); err != nil {
				s.logger.Error().Err(err).Msg("Stale job detection failed")
			}
		}
	}
}

func (s *Service) detectStaleJobs() error {
	ctx := context.Background()
	cutoff := time.Now().Add(-s.config.StaleAfter)
	stale, err := s.jobs.GetStaleJobs(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	s.logger.Warn().Int("count", len(stale)).Msg("Detected stale jobs")
	for _, job := range stale {
		s.failAbandonedJob(ctx, job, models.ErrCodeStale,
			fmt.Sprintf("no progress for more than %s", s.config.StaleAfter))
	}
	return nil
}

func (s *Service) failAbandonedJob(ctx context.Context, job *models.ScrapeJob, code models.ScrapeErrorCode, reason string) {
	msg := string(code) + ": " + reason
	if err := job.ApplyResult(models.JobStatusFailed, &models.JobResult{Errors: []string{msg}}); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Cannot fail abandoned job")
		return
	}
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to update abandoned job")
		return
	}
	s.logger.Info().Str("job_id", job.ID).Str("reason", reason).Msg("Marked abandoned job as failed")
}
