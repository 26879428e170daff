package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/services/sources"
)

// SourcesHandler handles HTTP requests for web source management
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
	list, err := h.sourceService.ListSources(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err, "list web sources")
		return
	}
	if list == nil {
		list = []*models.WebSource{}
	}
	WriteJSON(w, http.StatusOK, list)
}

// GetSourceHandler handles GET /api/sources/{id}
func (h *SourcesHandler) GetSourceHandler(w http.ResponseWriter, r *http.Request) {
	source, err := h.sourceService.GetSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, h.logger, err, "get web source")
		return
	}
	WriteJSON(w, http.StatusOK, source)
}

// CreateSourceHandler handles POST /api/sources
func (h *SourcesHandler) CreateSourceHandler(w http.ResponseWriter, r *http.Request) {
	var source models.WebSource
	if !DecodeJSON(w, r, &source) {
		return
	}
	if err := h.sourceService.CreateSource(r.Context(), &source); err != nil {
		WriteServiceError(w, h.logger, err, "create web source")
		return
	}
	WriteJSON(w, http.StatusCreated, source)
}

// UpdateSourceHandler handles PUT /api/sources/{id}
func (h *SourcesHandler) UpdateSourceHandler(w http.ResponseWriter, r *http.Request) {
	var source models.WebSource
	if !DecodeJSON(w, r, &source) {
		return
	}
	source.ID = chi.URLParam(r, "id")
	if err := h.sourceService.UpdateSource(r.Context(), &source); err != nil {
		WriteServiceError(w, h.logger, err, "update web source")
		return
	}
	WriteJSON(w, http.StatusOK, source)
}

// DeleteSourceHandler handles DELETE /api/sources/{id}
func (h *SourcesHandler) DeleteSourceHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.sourceService.DeleteSource(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteServiceError(w, h.logger, err, "delete web source")
		return
	}
	WriteSuccess(w, "Web source deleted")
}

// AnalyzeSourceHandler handles POST /api/sources/{id}/analyze
func (h *SourcesHandler) AnalyzeSourceHandler(w http.ResponseWriter, r *http.Request) {
	source, err := h.sourceService.Analyze(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, h.logger, err, "analyze web source")
		return
	}
	WriteJSON(w, http.StatusOK, source)
}
