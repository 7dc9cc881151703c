package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/grantscout/internal/interfaces"
	"github.com/ternarybob/grantscout/internal/models"
	"github.com/ternarybob/grantscout/internal/services/scheduler"
)

// JobHandler handles HTTP requests for job queries and cancellation
type JobHandler struct {
	jobStorage       interfaces.JobStorage
	schedulerService *scheduler.Service
	logger           arbor.ILogger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobStorage interfaces.JobStorage, schedulerService *scheduler.Service, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobStorage:       jobStorage,
		schedulerService: schedulerService,
		logger:           logger,
	}
}

// jobListOptions builds storage list options from query parameters.
// Supported sorts: startTime (default) and duration, both descending
// unless order=ASC.
func jobListOptions(r *http.Request, page, pageSize int) *interfaces.JobListOptions {
	opts := &interfaces.JobListOptions{
		SourceID: r.URL.Query().Get("sourceId"),
		Status:   r.URL.Query().Get("status"),
		Limit:    pageSize,
		Offset:   page * pageSize,
	}

	switch r.URL.Query().Get("sortBy") {
	case "duration":
		opts.OrderBy = "Duration"
	case "startTime":
		opts.OrderBy = "StartedAt"
	default:
		opts.OrderBy = "CreatedAt"
	}
	if r.URL.Query().Get("order") == "ASC" {
		opts.OrderDir = "ASC"
	}
	return opts
}

// ListJobsHandler handles GET /api/jobs
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	page, pageSize := GetPaginationParams(r)
	jobs, err := h.jobStorage.ListJobs(r.Context(), jobListOptions(r, page, pageSize))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.ScrapeJob{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":       jobs,
		"pagination": NewPagination(page, pageSize, len(jobs)),
	})
}

// GetJobHandler handles GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/jobs/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.jobStorage.GetJob(r.Context(), id)
	if err != nil {
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// GetJobStatsHandler handles GET /api/jobs/stats: counts and a status
// breakdown over the filtered set
func (h *JobHandler) GetJobStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobs, err := h.jobStorage.ListJobs(r.Context(), &interfaces.JobListOptions{
		SourceID: r.URL.Query().Get("sourceId"),
		Status:   r.URL.Query().Get("status"),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load jobs for stats")
		WriteError(w, http.StatusInternalServerError, "Failed to compute job stats")
		return
	}

	byStatus := map[string]int{}
	var totalFound, totalInserted, totalUpdated int
	for _, job := range jobs {
		byStatus[string(job.Status)]++
		if job.TotalFound != nil {
			totalFound += *job.TotalFound
		}
		if job.TotalInserted != nil {
			totalInserted += *job.TotalInserted
		}
		if job.TotalUpdated != nil {
			totalUpdated += *job.TotalUpdated
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total":          len(jobs),
		"by_status":      byStatus,
		"total_found":    totalFound,
		"total_inserted": totalInserted,
		"total_updated":  totalUpdated,
	})
}

// CancelJobHandler handles POST /api/jobs/{id}/cancel. Valid only while
// the job is PENDING or RUNNING; returns the updated job record.
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/jobs/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.schedulerService.CancelJob(r.Context(), id)
	if err != nil {
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, job)
}
