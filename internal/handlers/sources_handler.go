package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/grantscout/internal/interfaces"
	"github.com/ternarybob/grantscout/internal/models"
	"github.com/ternarybob/grantscout/internal/services/sources"
)

var validate = validator.New()

// SourcesHandler handles HTTP requests for source management
type SourcesHandler struct {
	sourceService *sources.Service
	logger        arbor.ILogger
}

// NewSourcesHandler creates a new SourcesHandler
func NewSourcesHandler(sourceService *sources.Service, logger arbor.ILogger) *SourcesHandler {
	return &SourcesHandler{
		sourceService: sourceService,
		logger:        logger,
	}
}

// ListSourcesHandler handles GET /api/sources
func (h *SourcesHandler) ListSourcesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	page, pageSize := GetPaginationParams(r)
	opts := &interfaces.SourceListOptions{
		Status: r.URL.Query().Get("status"),
		Type:   r.URL.Query().Get("type"),
		Limit:  pageSize,
		Offset: page * pageSize,
	}

	list, err := h.sourceService.List(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list sources")
		WriteError(w, http.StatusInternalServerError, "Failed to list sources")
		return
	}
	if list == nil {
		list = []*models.ScrapedSource{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sources":    list,
		"pagination": NewPagination(page, pageSize, len(list)),
	})
}

// CreateSourceHandler handles POST /api/sources
func (h *SourcesHandler) CreateSourceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req sources.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	source, err := h.sourceService.Create(r.Context(), &req)
	if err != nil {
		h.logger.Warn().Err(err).Str("url", req.URL).Msg("Source creation rejected")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, source)
}

// GetSourceHandler handles GET /api/sources/{id}, embedding recent-job
// metrics in the detail view
func (h *SourcesHandler) GetSourceHandler(w http.ResponseWriter, r *http.Request) {
	id := extractIDFromPath(r.URL.Path, "/api/sources/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Source ID is required")
		return
	}

	source, err := h.sourceService.Get(r.Context(), id)
	if err != nil {
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	metrics, err := h.sourceService.RecentMetrics(r.Context(), id, 20)
	if err != nil {
		h.logger.Warn().Err(err).Str("source_id", id).Msg("Failed to compute source metrics")
		metrics = &sources.Metrics{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"source":  source,
		"metrics": metrics,
	})
}

// UpdateSourceHandler handles PUT /api/sources/{id}
func (h *SourcesHandler) UpdateSourceHandler(w http.ResponseWriter, r *http.Request) {
	id := extractIDFromPath(r.URL.Path, "/api/sources/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Source ID is required")
		return
	}

	var req sources.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	source, err := h.sourceService.Update(r.Context(), id, &req)
	if err != nil {
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, source)
}

// SetSourceStatusHandler handles POST /api/sources/{id}/status
func (h *SourcesHandler) SetSourceStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := extractIDFromPath(r.URL.Path, "/api/sources/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Source ID is required")
		return
	}

	var req struct {
		Status string `json:"status" validate:"required,oneof=ACTIVE INACTIVE ERROR"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	source, err := h.sourceService.SetStatus(r.Context(), id, models.SourceStatus(req.Status))
	if err != nil {
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, source)
}

// DeleteSourceHandler handles DELETE /api/sources/{id}. Sources with job
// history are deactivated rather than removed.
func (h *SourcesHandler) DeleteSourceHandler(w http.ResponseWriter, r *http.Request) {
	id := extractIDFromPath(r.URL.Path, "/api/sources/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Source ID is required")
		return
	}

	source, deleted, err := h.sourceService.Delete(r.Context(), id)
	if err != nil {
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
		"source":  source,
	})
}
