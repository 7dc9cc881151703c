package models

import (
	"fmt"
	"time"
)

// JobStatus represents the state of a scrape job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSuccess   JobStatus = "SUCCESS"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// JobTrigger identifies what created a job.
type JobTrigger string

const (
	TriggerScheduler JobTrigger = "scheduler"
	TriggerManual    JobTrigger = "manual"
	TriggerRetry     JobTrigger = "retry"
)

// JobMetadata records trigger provenance and retry accounting for a job.
// Retry attempts are explicit counted fields rather than being inferred
// from source health, so retry exhaustion is independently observable.
type JobMetadata struct {
	TriggeredBy JobTrigger `json:"triggered_by"`
	Priority    int        `json:"priority,omitempty"`
	Force       bool       `json:"force,omitempty"`
	Attempt     int        `json:"attempt"`               // 1-based
	MaxAttempts int        `json:"max_attempts"`
	RetryOfJob  string     `json:"retry_of_job,omitempty"` // links a retry back to the original trigger
}

// ScrapeJob is one execution attempt of scraping a single source.
//
// Lifecycle: created PENDING by the scheduler or a manual trigger, RUNNING
// once the orchestrator claims it, then terminal SUCCESS/FAILED/CANCELLED.
// Terminal jobs are immutable and retained for audit and metrics. For a
// given SourceID at most one job may be PENDING or RUNNING at a time unless
// the job was created with the force flag.
type ScrapeJob struct {
	ID       string    `json:"id" badgerhold:"key"`
	SourceID string    `json:"source_id"`
	Status   JobStatus `json:"status"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Duration   *int64     `json:"duration,omitempty"` // milliseconds

	// Counters are nil until the job completes.
	TotalFound    *int `json:"total_found,omitempty"`
	TotalInserted *int `json:"total_inserted,omitempty"`
	TotalUpdated  *int `json:"total_updated,omitempty"`
	TotalSkipped  *int `json:"total_skipped,omitempty"`

	// Log carries the structured outcome or error payload: the top-level
	// error message for failed jobs plus any per-item extraction errors.
	Log      []string    `json:"log,omitempty"`
	Metadata JobMetadata `json:"metadata"`
}

// NewScrapeJob creates a PENDING job for the given source.
func NewScrapeJob(id, sourceID string, meta JobMetadata) *ScrapeJob {
	if meta.Attempt == 0 {
		meta.Attempt = 1
	}
	return &ScrapeJob{
		ID:        id,
		SourceID:  sourceID,
		Status:    JobStatusPending,
		CreatedAt: time.Now(),
		Metadata:  meta,
	}
}

// IsTerminal returns true if the job is in a terminal state.
func (j *ScrapeJob) IsTerminal() bool {
	return j.Status == JobStatusSuccess ||
		j.Status == JobStatusFailed ||
		j.Status == JobStatusCancelled
}

// IsActive returns true while the job counts against the single-flight
// invariant for its source.
func (j *ScrapeJob) IsActive() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusRunning
}

// CanTransitionTo reports whether moving to the target status is a legal
// state machine transition.
func (j *ScrapeJob) CanTransitionTo(target JobStatus) bool {
	switch target {
	case JobStatusRunning:
		return j.Status == JobStatusPending
	case JobStatusSuccess, JobStatusFailed:
		return j.Status == JobStatusRunning
	case JobStatusCancelled:
		return j.Status == JobStatusPending || j.Status == JobStatusRunning
	default:
		return false
	}
}

// MarkRunning transitions the job to RUNNING and stamps StartedAt.
func (j *ScrapeJob) MarkRunning() error {
	if !j.CanTransitionTo(JobStatusRunning) {
		return fmt.Errorf("cannot start job in status %s", j.Status)
	}
	j.Status = JobStatusRunning
	if j.StartedAt == nil {
		now := time.Now()
		j.StartedAt = &now
	}
	return nil
}

// ApplyResult stamps a terminal status and copies the result counters onto
// the job record.
func (j *ScrapeJob) ApplyResult(status JobStatus, result *JobResult) error {
	if !j.CanTransitionTo(status) {
		return fmt.Errorf("cannot transition job from %s to %s", j.Status, status)
	}
	j.Status = status
	now := time.Now()
	j.FinishedAt = &now
	if result != nil {
		durationMs := result.Duration.Milliseconds()
		j.Duration = &durationMs
		j.TotalFound = &result.TotalFound
		j.TotalInserted = &result.TotalInserted
		j.TotalUpdated = &result.TotalUpdated
		j.TotalSkipped = &result.TotalSkipped
		j.Log = append(j.Log, result.Errors...)
	}
	return nil
}

// JobResult is the in-memory outcome summary of one orchestrator run. It is
// mapped onto ScrapeJob fields rather than persisted directly.
type JobResult struct {
	TotalFound    int
	TotalInserted int
	TotalUpdated  int
	TotalSkipped  int
	Duration      time.Duration
	Errors        []string               // ordered per-item failures
	Metadata      map[string]interface{} // free-form diagnostics
}

// AddError appends a per-item failure, preserving order.
func (r *JobResult) AddError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}
