package sources

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/grantscout/internal/common"
	"github.com/ternarybob/grantscout/internal/interfaces"
	"github.com/ternarybob/grantscout/internal/models"
)

// Outcome is the terminal result of one scrape run, as reported to the
// source health ledger.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Service owns the catalog of scrape sources: CRUD, status transitions and
// the rolling health fields. Health fields are mutated only through
// RecordOutcome so job history and source health cannot drift apart by
// more than one in-flight outcome.
type Service struct {
	storage          interfaces.SourceStorage
	jobs             interfaces.JobStorage
	logger           arbor.ILogger
	defaultFrequency models.ScrapeFrequency
	failCountCeiling int
}

// NewService creates a source manager service
func NewService(storage interfaces.SourceStorage, jobs interfaces.JobStorage, config *common.SchedulerConfig, logger arbor.ILogger) *Service {
	return &Service{
		storage:          storage,
		jobs:             jobs,
		logger:           logger,
		defaultFrequency: models.ScrapeFrequency(config.DefaultFrequency),
		failCountCeiling: config.FailCountCeiling,
	}
}

// CreateRequest carries the administrative fields for a new source.
type CreateRequest struct {
	URL       string `json:"url" validate:"required,url"`
	Type      string `json:"type" validate:"required,oneof=GOV FOUNDATION NGO OTHER"`
	Frequency string `json:"frequency,omitempty" validate:"omitempty,oneof=DAILY WEEKLY MONTHLY"`
	Category  string `json:"category,omitempty"`
	Region    string `json:"region,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Create registers a new source. The URL is normalized before the
// uniqueness check; an existing source with the same normalized URL fails
// with models.ErrDuplicateSource.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*models.ScrapedSource, error) {
	normalized := models.NormalizeURL(req.URL)

	if _, err := s.storage.GetSourceByURL(ctx, normalized); err == nil {
		return nil, models.ErrDuplicateSource
	} else if err != models.ErrSourceNotFound {
		return nil, err
	}

	frequency := models.ScrapeFrequency(req.Frequency)
	if frequency == "" {
		frequency = s.defaultFrequency
	}

	now := time.Now()
	source := &models.ScrapedSource{
		ID:          common.NewSourceID(),
		URL:         normalized,
		Type:        models.SourceType(req.Type),
		Status:      models.SourceStatusActive,
		Frequency:   frequency,
		Category:    req.Category,
		Region:      req.Region,
		Notes:       req.Notes,
		SuccessRate: 0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := source.Validate(); err != nil {
		return nil, err
	}

	if err := s.storage.SaveSource(ctx, source); err != nil {
		return nil, err
	}

	s.logger.Info().Str("source_id", source.ID).Str("url", source.URL).Msg("Source created")
	return source, nil
}

// Get returns a source by ID
func (s *Service) Get(ctx context.Context, id string) (*models.ScrapedSource, error) {
	return s.storage.GetSource(ctx, id)
}

// List returns sources matching the filter options
func (s *Service) List(ctx context.Context, opts *interfaces.SourceListOptions) ([]*models.ScrapedSource, error) {
	return s.storage.ListSources(ctx, opts)
}

// UpdateRequest carries mutable configuration fields. Nil pointers leave
// the field untouched; health fields are not updatable through this path.
type UpdateRequest struct {
	URL       *string `json:"url,omitempty" validate:"omitempty,url"`
	Type      *string `json:"type,omitempty" validate:"omitempty,oneof=GOV FOUNDATION NGO OTHER"`
	Frequency *string `json:"frequency,omitempty" validate:"omitempty,oneof=DAILY WEEKLY MONTHLY"`
	Category  *string `json:"category,omitempty"`
	Region    *string `json:"region,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

// Update applies administrative edits to a source's configuration.
func (s *Service) Update(ctx context.Context, id string, req *UpdateRequest) (*models.ScrapedSource, error) {
	source, err := s.storage.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.URL != nil {
		normalized := models.NormalizeURL(*req.URL)
		if normalized != source.URL {
			if existing, err := s.storage.GetSourceByURL(ctx, normalized); err == nil && existing.ID != id {
				return nil, models.ErrDuplicateSource
			} else if err != nil && err != models.ErrSourceNotFound {
				return nil, err
			}
			source.URL = normalized
		}
	}
	if req.Type != nil {
		source.Type = models.SourceType(*req.Type)
	}
	if req.Frequency != nil {
		source.Frequency = models.ScrapeFrequency(*req.Frequency)
	}
	if req.Category != nil {
		source.Category = *req.Category
	}
	if req.Region != nil {
		source.Region = *req.Region
	}
	if req.Notes != nil {
		source.Notes = *req.Notes
	}

	if err := source.Validate(); err != nil {
		return nil, err
	}

	source.UpdatedAt = time.Now()
	if err := s.storage.SaveSource(ctx, source); err != nil {
		return nil, err
	}
	return source, nil
}

// SetStatus transitions a source to the given status.
func (s *Service) SetStatus(ctx context.Context, id string, status models.SourceStatus) (*models.ScrapedSource, error) {
	source, err := s.storage.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}

	source.Status = status
	if status == models.SourceStatusActive {
		// Reactivation clears the failure streak so the source is not
		// immediately re-flagged ERROR on its next failure.
		source.FailCount = 0
	}
	source.UpdatedAt = time.Now()

	if err := s.storage.SaveSource(ctx, source); err != nil {
		return nil, err
	}

	s.logger.Info().Str("source_id", id).Str("status", string(status)).Msg("Source status changed")
	return source, nil
}

// Delete removes a source. Sources referenced by job history are never
// hard-deleted; they are flipped INACTIVE instead and the returned source
// reflects that. The boolean reports whether a hard delete happened.
func (s *Service) Delete(ctx context.Context, id string) (*models.ScrapedSource, bool, error) {
	source, err := s.storage.GetSource(ctx, id)
	if err != nil {
		return nil, false, err
	}

	referenced, err := s.jobs.HasJobsForSource(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if referenced {
		source.Status = models.SourceStatusInactive
		source.UpdatedAt = time.Now()
		if err := s.storage.SaveSource(ctx, source); err != nil {
			return nil, false, err
		}
		s.logger.Info().Str("source_id", id).Msg("Source has job history, deactivated instead of deleted")
		return source, false, nil
	}

	if err := s.storage.DeleteSource(ctx, id); err != nil {
		return nil, false, err
	}
	s.logger.Info().Str("source_id", id).Msg("Source deleted")
	return source, true, nil
}

// RecordOutcome folds one terminal job outcome into the source's rolling
// health. The success rate is an incremental blend weighted by the
// consecutive-failure streak; the first recorded outcome is authoritative
// (100 on success, 0 on failure). Crossing the fail count ceiling
// auto-transitions the source to ERROR.
func (s *Service) RecordOutcome(ctx context.Context, sourceID string, outcome Outcome, durationMs float64, errMsg string) error {
	source, err := s.storage.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}

	now := time.Now()
	source.LastScrapedAt = &now

	if source.AvgParseTime == nil {
		source.AvgParseTime = &durationMs
	} else {
		avg := *source.AvgParseTime + (durationMs-*source.AvgParseTime)/float64(source.ScrapeCount+1)
		source.AvgParseTime = &avg
	}

	switch outcome {
	case OutcomeSuccess:
		if source.ScrapeCount == 0 {
			source.SuccessRate = 100
		} else {
			n := float64(source.FailCount)
			source.SuccessRate = source.SuccessRate*n/(n+1) + 100/(n+1)
		}
		source.FailCount = 0
		source.LastError = ""
	case OutcomeFailure:
		source.FailCount++
		if source.ScrapeCount == 0 {
			source.SuccessRate = 0
		} else {
			n := float64(source.FailCount)
			source.SuccessRate = source.SuccessRate * n / (n + 1)
		}
		source.LastError = errMsg
		if source.FailCount >= s.failCountCeiling && source.Status == models.SourceStatusActive {
			source.Status = models.SourceStatusError
			s.logger.Warn().
				Str("source_id", sourceID).
				Int("fail_count", source.FailCount).
				Msg("Source exceeded failure ceiling, marked ERROR")
		}
	default:
		return fmt.Errorf("invalid outcome: %s", outcome)
	}

	if source.SuccessRate < 0 {
		source.SuccessRate = 0
	} else if source.SuccessRate > 100 {
		source.SuccessRate = 100
	}

	source.ScrapeCount++
	source.UpdatedAt = now

	return s.storage.SaveSource(ctx, source)
}

// ListDue returns the ACTIVE sources whose frequency interval has elapsed,
// ordered earliest LastScrapedAt first with never-scraped sources ahead of
// everything. The ordering gives starvation-free fairness when capacity is
// short.
func (s *Service) ListDue(ctx context.Context, now time.Time) ([]*models.ScrapedSource, error) {
	all, err := s.storage.ListSources(ctx, nil)
	if err != nil {
		return nil, err
	}

	var due []*models.ScrapedSource
	for _, source := range all {
		if source.IsDue(now) {
			due = append(due, source)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return dueBefore(due[i], due[j])
	})
	return due, nil
}

func dueBefore(a, b *models.ScrapedSource) bool {
	if a.LastScrapedAt == nil {
		return b.LastScrapedAt != nil
	}
	if b.LastScrapedAt == nil {
		return false
	}
	return a.LastScrapedAt.Before(*b.LastScrapedAt)
}

// Metrics aggregates recent job history for the source detail view.
type Metrics struct {
	RecentJobs     int      `json:"recent_jobs"`
	SuccessRate    float64  `json:"success_rate"`
	AvgDurationMs  *float64 `json:"avg_duration_ms,omitempty"`
	AvgGrantsFound *float64 `json:"avg_grants_found,omitempty"`
}

// RecentMetrics computes aggregate metrics over the source's most recent
// terminal jobs.
func (s *Service) RecentMetrics(ctx context.Context, sourceID string, window int) (*Metrics, error) {
	if window <= 0 {
		window = 20
	}
	jobs, err := s.jobs.ListJobs(ctx, &interfaces.JobListOptions{
		SourceID: sourceID,
		Limit:    window,
	})
	if err != nil {
		return nil, err
	}

	metrics := &Metrics{}
	var succeeded, durationSum, foundSum float64
	var durationCount, foundCount int
	for _, job := range jobs {
		if !job.IsTerminal() {
			continue
		}
		metrics.RecentJobs++
		if job.Status == models.JobStatusSuccess {
			succeeded++
		}
		if job.Duration != nil {
			durationSum += float64(*job.Duration)
			durationCount++
		}
		if job.TotalFound != nil {
			foundSum += float64(*job.TotalFound)
			foundCount++
		}
	}

	if metrics.RecentJobs > 0 {
		metrics.SuccessRate = succeeded / float64(metrics.RecentJobs) * 100
	}
	if durationCount > 0 {
		avg := durationSum / float64(durationCount)
		metrics.AvgDurationMs = &avg
	}
	if foundCount > 0 {
		avg := foundSum / float64(foundCount)
		metrics.AvgGrantsFound = &avg
	}
	return metrics, nil
}
