package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/grantscout/internal/interfaces"
	"github.com/ternarybob/grantscout/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// Badger has no unique secondary indexes, so the single-flight check
	// and the insert must happen under one lock.
	createMu sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// CreateJob inserts a new PENDING job. Without force it fails with
// models.ErrAlreadyRunning when the source already has an active job.
func (s *JobStorage) CreateJob(ctx context.Context, job *models.ScrapeJob, force bool) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.SourceID == "" {
		return fmt.Errorf("job source ID is required")
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if !force {
		existing, err := s.getActiveJobLocked(job.SourceID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: job %s", models.ErrAlreadyRunning, existing.ID)
		}
	}

	if err := s.db.Store().Insert(job.ID, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *JobStorage) getActiveJobLocked(sourceID string) (*models.ScrapeJob, error) {
	var jobs []models.ScrapeJob
	query := badgerhold.Where("SourceID").Eq(sourceID).
		And("Status").In(models.JobStatusPending, models.JobStatusRunning).
		Limit(1)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query active jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, job *models.ScrapeJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.ScrapeJob, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.SourceID != "" {
			query = query.And("SourceID").Eq(opts.SourceID)
		}
		if opts.Status != "" {
			query = query.And("Status").Eq(models.JobStatus(opts.Status))
		}
		if opts.OrderBy != "" {
			if opts.OrderDir == "ASC" {
				query = query.SortBy(opts.OrderBy)
			} else {
				query = query.SortBy(opts.OrderBy).Reverse()
			}
		} else {
			query = query.SortBy("CreatedAt").Reverse()
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	} else {
		query = query.SortBy("CreatedAt").Reverse()
	}

	var jobs []models.ScrapeJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.ScrapeJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) GetActiveJobForSource(ctx context.Context, sourceID string) (*models.ScrapeJob, error) {
	s.createMu.Lock()
	job, err := s.getActiveJobLocked(sourceID)
	s.createMu.Unlock()
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, models.ErrJobNotFound
	}
	return job, nil
}

func (s *JobStorage) CountByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	count, err := s.db.Store().Count(&models.ScrapeJob{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

func (s *JobStorage) GetStaleJobs(ctx context.Context, olderThan time.Time) ([]*models.ScrapeJob, error) {
	var jobs []models.ScrapeJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusRunning)); err != nil {
		return nil, fmt.Errorf("failed to query running jobs: %w", err)
	}

	var stale []*models.ScrapeJob
	for i := range jobs {
		if jobs[i].StartedAt != nil && jobs[i].StartedAt.Before(olderThan) {
			stale = append(stale, &jobs[i])
		}
	}
	return stale, nil
}

func (s *JobStorage) HasJobsForSource(ctx context.Context, sourceID string) (bool, error) {
	count, err := s.db.Store().Count(&models.ScrapeJob{}, badgerhold.Where("SourceID").Eq(sourceID))
	if err != nil {
		return false, fmt.Errorf("failed to count jobs for source: %w", err)
	}
	return count > 0, nil
}
