package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/grantscout/internal/interfaces"
	"github.com/ternarybob/grantscout/internal/models"
	"github.com/ternarybob/grantscout/internal/services/scheduler"
)

// StatusHandler reports application-level status
type StatusHandler struct {
	sourceStorage    interfaces.SourceStorage
	jobStorage       interfaces.JobStorage
	schedulerService *scheduler.Service
	logger           arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(sourceStorage interfaces.SourceStorage, jobStorage interfaces.JobStorage, schedulerService *scheduler.Service, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		sourceStorage:    sourceStorage,
		jobStorage:       jobStorage,
		schedulerService: schedulerService,
		logger:           logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	sources, err := h.sourceStorage.ListSources(r.Context(), nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list sources for status")
		WriteError(w, http.StatusInternalServerError, "Failed to compute status")
		return
	}

	jobCounts := map[string]int{}
	for _, status := range []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusRunning,
		models.JobStatusSuccess,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	} {
		count, err := h.jobStorage.CountByStatus(r.Context(), status)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to count jobs for status")
			WriteError(w, http.StatusInternalServerError, "Failed to compute status")
			return
		}
		jobCounts[string(status)] = count
	}

	sourceCounts := map[string]int{}
	for _, source := range sources {
		sourceCounts[string(source.Status)]++
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"scheduler_running": h.schedulerService.IsRunning(),
		"sources":           sourceCounts,
		"jobs":              jobCounts,
	})
}
