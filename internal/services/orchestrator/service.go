// Package orchestrator executes one scrape job end to end: claim, fetch,
// extract, upsert, record outcome. Every invocation leaves the job in a
// terminal state; nothing panics past this boundary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/grantscout/internal/common"
	"github.com/ternarybob/grantscout/internal/interfaces"
	"github.com/ternarybob/grantscout/internal/models"
	"github.com/ternarybob/grantscout/internal/services/sources"
)

// Service executes scrape jobs.
type Service struct {
	jobs     interfaces.JobStorage
	grants   interfaces.GrantStorage
	sources  *sources.Service
	executor interfaces.ScrapeExecutor
	logger   arbor.ILogger
	timeout  time.Duration
}

// NewService creates a job orchestrator
func NewService(
	jobs interfaces.JobStorage,
	grants interfaces.GrantStorage,
	sourceService *sources.Service,
	executor interfaces.ScrapeExecutor,
	config *common.ScraperConfig,
	logger arbor.ILogger,
) *Service {
	return &Service{
		jobs:     jobs,
		grants:   grants,
		sources:  sourceService,
		executor: executor,
		logger:   logger,
		timeout:  config.JobTimeout,
	}
}

// ExecuteScrapeJob runs one job to a terminal state and reports the
// outcome to job storage and the source health ledger. The returned error
// reflects infrastructure problems only; scrape failures are expressed
// through the job's FAILED status.
func (s *Service) ExecuteScrapeJob(ctx context.Context, jobID string) (err error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status == models.JobStatusCancelled {
		s.logger.Debug().Str("job_id", jobID).Msg("Job cancelled before claim, skipping")
		return nil
	}

	if err := job.MarkRunning(); err != nil {
		return err
	}
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if s.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("job_id", jobID).Msgf("Panic during job execution: %v", r)
			scrapeErr := models.NewScrapeError(models.ErrCodePanic, fmt.Sprintf("panic: %v", r), nil)
			err = s.finishFailed(context.WithoutCancel(ctx), job, scrapeErr)
		}
	}()

	result := &models.JobResult{Metadata: map[string]interface{}{}}
	started := time.Now()
	if job.StartedAt != nil {
		started = *job.StartedAt
	}

	source, err := s.sources.Get(runCtx, job.SourceID)
	if err != nil {
		result.Duration = time.Since(started)
		return s.finishFailed(ctx, job,
			models.NewScrapeError(models.ErrCodeFetchFailure, "source lookup failed", err))
	}

	scrape, scrapeErr := s.executor.Execute(runCtx, source)
	result.Duration = time.Since(started)
	if scrapeErr != nil {
		return s.finishFailed(ctx, job, classify(runCtx, scrapeErr))
	}

	// Cooperative cancellation check between fetch and upsert.
	if cancelled, cerr := s.cancelledExternally(ctx, job.ID); cerr != nil {
		return cerr
	} else if cancelled {
		s.logger.Info().Str("job_id", jobID).Msg("Job cancelled mid-run, discarding results")
		return nil
	}

	result.TotalFound = len(scrape.Grants)
	result.Metadata["content_length"] = scrape.ContentLength
	result.Metadata["reduced"] = scrape.Reduced

	for _, grant := range scrape.Grants {
		if cancelled, cerr := s.cancelledExternally(ctx, job.ID); cerr != nil {
			return cerr
		} else if cancelled {
			s.logger.Info().Str("job_id", jobID).Msg("Job cancelled mid-upsert, stopping")
			return nil
		}

		switch outcome, uerr := s.upsertGrant(runCtx, grant); {
		case uerr != nil:
			result.TotalSkipped++
			result.AddError("upsert failed for %q: %v", grant.Title, uerr)
		case outcome == upsertInserted:
			result.TotalInserted++
		case outcome == upsertUpdated:
			result.TotalUpdated++
		default:
			result.TotalSkipped++
		}
	}

	result.Duration = time.Since(started)
	return s.finishSuccess(ctx, job, source.ID, result, scrape.ParseTime)
}

type upsertOutcome int

const (
	upsertInserted upsertOutcome = iota
	upsertUpdated
	upsertSkipped
)

// upsertGrant matches by natural key and classifies the write. A byte
// identical record (same content hash) is a skip.
func (s *Service) upsertGrant(ctx context.Context, grant *models.Grant) (upsertOutcome, error) {
	existing, err := s.grants.GetGrantByKey(ctx, grant.NaturalKey)
	if err != nil {
		return upsertSkipped, err
	}

	now := time.Now()
	if existing == nil {
		grant.ID = common.NewGrantID()
		grant.CreatedAt = now
		grant.UpdatedAt = now
		if err := s.grants.SaveGrant(ctx, grant); err != nil {
			return upsertSkipped, err
		}
		return upsertInserted, nil
	}

	if existing.ContentHash == grant.ContentHash {
		return upsertSkipped, nil
	}

	grant.ID = existing.ID
	grant.CreatedAt = existing.CreatedAt
	grant.UpdatedAt = now
	if err := s.grants.SaveGrant(ctx, grant); err != nil {
		return upsertSkipped, err
	}
	return upsertUpdated, nil
}

// cancelledExternally re-reads the job to honor an administrative cancel
// issued while the run is in flight.
func (s *Service) cancelledExternally(ctx context.Context, jobID string) (bool, error) {
	current, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return current.Status == models.JobStatusCancelled, nil
}

func (s *Service) finishSuccess(ctx context.Context, job *models.ScrapeJob, sourceID string, result *models.JobResult, parseTimeMs float64) error {
	if err := job.ApplyResult(models.JobStatusSuccess, result); err != nil {
		return err
	}
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}

	if err := s.sources.RecordOutcome(ctx, sourceID, sources.OutcomeSuccess, parseTimeMs, ""); err != nil {
		// Job history is already written; the next scheduler tick
		// re-evaluates due state, which bounds the inconsistency window.
		s.logger.Warn().Err(err).Str("source_id", sourceID).Msg("Failed to record source outcome")
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Int("found", result.TotalFound).
		Int("inserted", result.TotalInserted).
		Int("updated", result.TotalUpdated).
		Int("skipped", result.TotalSkipped).
		Msg("Scrape job succeeded")
	return nil
}

func (s *Service) finishFailed(ctx context.Context, job *models.ScrapeJob, scrapeErr *models.ScrapeError) error {
	result := &models.JobResult{
		Errors: []string{scrapeErr.Error()},
	}
	if job.StartedAt != nil {
		result.Duration = time.Since(*job.StartedAt)
	}

	if err := job.ApplyResult(models.JobStatusFailed, result); err != nil {
		return err
	}
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}

	if err := s.sources.RecordOutcome(ctx, job.SourceID, sources.OutcomeFailure,
		float64(result.Duration.Milliseconds()), scrapeErr.Error()); err != nil {
		s.logger.Warn().Err(err).Str("source_id", job.SourceID).Msg("Failed to record source outcome")
	}

	s.logger.Warn().
		Str("job_id", job.ID).
		Str("code", string(scrapeErr.Code)).
		Str("error", scrapeErr.Error()).
		Msg("Scrape job failed")
	return nil
}

// classify maps a raw executor error onto the scrape error taxonomy,
// preferring the run context's own deadline over transport detail.
func classify(runCtx context.Context, err error) *models.ScrapeError {
	var scrapeErr *models.ScrapeError
	if errors.As(err, &scrapeErr) {
		return scrapeErr
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return models.NewScrapeError(models.ErrCodeTimeout, "job timed out", err)
	}
	return models.NewScrapeError(models.ErrCodeFetchFailure, "", err)
}
