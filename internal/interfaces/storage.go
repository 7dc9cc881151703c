package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/grantscout/internal/models"
)

// SourceStorage persists scrape source configuration and rolling health.
type SourceStorage interface {
	SaveSource(ctx context.Context, source *models.ScrapedSource) error
	GetSource(ctx context.Context, id string) (*models.ScrapedSource, error)
	// GetSourceByURL looks up a source by its normalized URL. Returns
	// models.ErrSourceNotFound when no source matches.
	GetSourceByURL(ctx context.Context, normalizedURL string) (*models.ScrapedSource, error)
	ListSources(ctx context.Context, opts *SourceListOptions) ([]*models.ScrapedSource, error)
	DeleteSource(ctx context.Context, id string) error
}

// SourceListOptions filters and paginates source listings.
type SourceListOptions struct {
	Status string
	Type   string
	Limit  int
	Offset int
}

// JobStorage persists scrape job records and owns the single-flight
// invariant: CreateJob performs a conditional insert that fails with
// models.ErrAlreadyRunning when a PENDING or RUNNING job already exists
// for the same source, unless force is set.
type JobStorage interface {
	CreateJob(ctx context.Context, job *models.ScrapeJob, force bool) error
	GetJob(ctx context.Context, id string) (*models.ScrapeJob, error)
	UpdateJob(ctx context.Context, job *models.ScrapeJob) error
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.ScrapeJob, error)
	// GetActiveJobForSource returns the PENDING or RUNNING job for a source,
	// or models.ErrJobNotFound when there is none.
	GetActiveJobForSource(ctx context.Context, sourceID string) (*models.ScrapeJob, error)
	CountByStatus(ctx context.Context, status models.JobStatus) (int, error)
	// GetStaleJobs returns RUNNING jobs whose StartedAt is older than the
	// threshold.
	GetStaleJobs(ctx context.Context, olderThan time.Time) ([]*models.ScrapeJob, error)
	// HasJobsForSource reports whether any job history references the source.
	HasJobsForSource(ctx context.Context, sourceID string) (bool, error)
}

// JobListOptions filters, paginates and sorts job listings.
type JobListOptions struct {
	SourceID string
	Status   string
	Limit    int
	Offset   int
	OrderBy  string // "StartedAt" (default) or "Duration"
	OrderDir string // "ASC" or "DESC" (default)
}

// GrantStorage persists extracted grant opportunities.
type GrantStorage interface {
	SaveGrant(ctx context.Context, grant *models.Grant) error
	// GetGrantByKey looks up a grant by its natural key. A miss returns
	// nil, nil.
	GetGrantByKey(ctx context.Context, naturalKey string) (*models.Grant, error)
	CountGrantsForSource(ctx context.Context, sourceID string) (int, error)
}

// StorageManager provides access to all storage interfaces
type StorageManager interface {
	SourceStorage() SourceStorage
	JobStorage() JobStorage
	GrantStorage() GrantStorage
	Close() error
}
