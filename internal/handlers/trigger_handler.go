package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/grantscout/internal/interfaces"
	"github.com/ternarybob/grantscout/internal/models"
	"github.com/ternarybob/grantscout/internal/services/scheduler"
	"github.com/ternarybob/grantscout/internal/services/sources"
)

// defaultEstimateMs is the duration estimate returned for sources with no
// parse-time history yet.
const defaultEstimateMs = 30000

// TriggerHandler handles manual scrape triggers and scheduler controls
type TriggerHandler struct {
	schedulerService *scheduler.Service
	sourceService    *sources.Service
	jobStorage       interfaces.JobStorage
	logger           arbor.ILogger
}

// NewTriggerHandler creates a new TriggerHandler
func NewTriggerHandler(schedulerService *scheduler.Service, sourceService *sources.Service, jobStorage interfaces.JobStorage, logger arbor.ILogger) *TriggerHandler {
	return &TriggerHandler{
		schedulerService: schedulerService,
		sourceService:    sourceService,
		jobStorage:       jobStorage,
		logger:           logger,
	}
}

// TriggerRequest is the manual trigger payload.
type TriggerRequest struct {
	SourceID string `json:"sourceId" validate:"required"`
	Priority int    `json:"priority,omitempty" validate:"gte=0"`
	Force    bool   `json:"force,omitempty"`
}

// TriggerScrapeHandler handles POST /api/scrape/trigger.
// Responses: 202 with the new job, 404 unknown source, 400 inactive
// source without force, 409 with the conflicting job on a single-flight
// violation.
func (h *TriggerHandler) TriggerScrapeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	job, err := h.schedulerService.Trigger(r.Context(), req.SourceID, req.Priority, req.Force)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyRunning) {
			h.writeConflict(w, r, req.SourceID)
			return
		}
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":             job.ID,
		"status":            job.Status,
		"estimatedDuration": h.estimateDurationMs(r, req.SourceID),
	})
}

// writeConflict responds 409 with the id and status of the job that
// holds the single-flight slot.
func (h *TriggerHandler) writeConflict(w http.ResponseWriter, r *http.Request, sourceID string) {
	conflict, err := h.jobStorage.GetActiveJobForSource(r.Context(), sourceID)
	if err != nil {
		// The conflicting job finished in the meantime; the caller can
		// simply retry.
		WriteError(w, http.StatusConflict, models.ErrAlreadyRunning.Error())
		return
	}
	WriteJSON(w, http.StatusConflict, map[string]interface{}{
		"jobId":  conflict.ID,
		"status": conflict.Status,
		"error":  models.ErrAlreadyRunning.Error(),
	})
}

func (h *TriggerHandler) estimateDurationMs(r *http.Request, sourceID string) float64 {
	source, err := h.sourceService.Get(r.Context(), sourceID)
	if err != nil || source.AvgParseTime == nil {
		return defaultEstimateMs
	}
	return *source.AvgParseTime
}

// TriggerTickHandler handles POST /api/scheduler/trigger: run a
// scheduler tick immediately instead of waiting for the next interval
func (h *TriggerHandler) TriggerTickHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	go h.schedulerService.RunTick()
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": "Scheduler tick triggered",
	})
}
