package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/services/assignments"
)

// AssignmentHandler handles assignments, their rules and on-demand runs
type AssignmentHandler struct {
	assignmentService *assignments.Service
	scheduler         interfaces.SchedulerService
	logger            arbor.ILogger
}

// NewAssignmentHandler creates a new AssignmentHandler
func NewAssignmentHandler(assignmentService *assignments.Service, scheduler interfaces.SchedulerService, logger arbor.ILogger) *AssignmentHandler {
	return &AssignmentHandler{
		assignmentService: assignmentService,
		scheduler:         scheduler,
		logger:            logger,
	}
}

type statusRequest struct {
	Status  models.AssignmentStatus `json:"status"`
	Message string                  `json:"message"`
}

type seedRequest struct {
	Suggestions []models.ColumnSuggestion `json:"suggestions"`
	Activate    bool                      `json:"activate"`
}

type captureRequest struct {
	Analysis []models.ColumnSuggestion `json:"analysis"`
}

// ListAssignmentsHandler handles GET /api/assignments
func (h *AssignmentHandler) ListAssignmentsHandler(w http.ResponseWriter, r *http.Request) {
	opts := &interfaces.AssignmentListOptions{
		WebSourceID: r.URL.Query().Get("web_source_id"),
		Status:      models.AssignmentStatus(r.URL.Query().Get("status")),
	}
	list, err := h.assignmentService.ListAssignments(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, h.logger, err, "list assignments")
		return
	}
	if list == nil {
		list = []*models.Assignment{}
	}
	WriteJSON(w, http.StatusOK, list)
}

// GetAssignmentHandler handles GET /api/assignments/{id}
func (h *AssignmentHandler) GetAssignmentHandler(w http.ResponseWriter, r *http.Request) {
	assignment, err := h.assignmentService.GetAssignment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, h.logger, err, "get assignment")
		return
	}
	WriteJSON(w, http.StatusOK, assignment)
}

// CreateAssignmentHandler handles POST /api/assignments
func (h *AssignmentHandler) CreateAssignmentHandler(w http.ResponseWriter, r *http.Request) {
	var assignment models.Assignment
	if !DecodeJSON(w, r, &assignment) {
		return
	}
	if err := h.assignmentService.CreateAssignment(r.Context(), &assignment); err != nil {
		WriteServiceError(w, h.logger, err, "create assignment")
		return
	}
	WriteJSON(w, http.StatusCreated, assignment)
}

// UpdateAssignmentHandler handles PUT /api/assignments/{id}
func (h *AssignmentHandler) UpdateAssignmentHandler(w http.ResponseWriter, r *http.Request) {
	var assignment models.Assignment
	if !DecodeJSON(w, r, &assignment) {
		return
	}
	assignment.ID = chi.URLParam(r, "id")
	if err := h.assignmentService.UpdateAssignment(r.Context(), &assignment); err != nil {
		WriteServiceError(w, h.logger, err, "update assignment")
		return
	}
	WriteJSON(w, http.StatusOK, assignment)
}

// DeleteAssignmentHandler handles DELETE /api/assignments/{id}
func (h *AssignmentHandler) DeleteAssignmentHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.assignmentService.DeleteAssignment(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteServiceError(w, h.logger, err, "delete assignment")
		return
	}
	WriteSuccess(w, "Assignment deleted")
}

// SetStatusHandler handles POST /api/assignments/{id}/status
func (h *AssignmentHandler) SetStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	assignment, err := h.assignmentService.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.Message)
	if err != nil {
		WriteServiceError(w, h.logger, err, "change assignment status")
		return
	}
	WriteJSON(w, http.StatusOK, assignment)
}

// RunHandler handles POST /api/assignments/{id}/run. The job runs in the
// background; the response carries its ID.
func (h *AssignmentHandler) RunHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	jobID, err := h.scheduler.TriggerNow(r.Context(), id, models.TriggerManual)
	if err != nil {
		WriteServiceError(w, h.logger, err, "start extraction job")
		return
	}
	h.logger.Info().Str("assignment_id", id).Str("job_id", jobID).Msg("Manual extraction job started")
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
		"job_id": jobID,
	})
}

// SampleHandler handles POST /api/assignments/{id}/sample. Runs that stop
// with an error still return the counters reached.
func (h *AssignmentHandler) SampleHandler(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.assignmentService.Sample(r.Context(), chi.URLParam(r, "id"), QueryInt(r, "max_rows", 0))
	if err != nil && outcome == nil {
		WriteServiceError(w, h.logger, err, "run sample")
		return
	}
	response := map[string]interface{}{"outcome": outcome}
	if err != nil {
		response["error"] = err.Error()
	}
	WriteJSON(w, http.StatusOK, response)
}

// ScheduleHandler handles GET /api/assignments/{id}/schedule
func (h *AssignmentHandler) ScheduleHandler(w http.ResponseWriter, r *http.Request) {
	status, ok := h.scheduler.Status(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "Assignment has no recurring schedule")
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// SuggestHandler handles POST /api/assignments/{id}/suggest
func (h *AssignmentHandler) SuggestHandler(w http.ResponseWriter, r *http.Request) {
	suggestions, err := h.assignmentService.Suggest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, h.logger, err, "suggest rules")
		return
	}
	if suggestions == nil {
		suggestions = []models.ColumnSuggestion{}
	}
	WriteJSON(w, http.StatusOK, suggestions)
}

// SeedRulesHandler handles POST /api/assignments/{id}/rules/seed
func (h *AssignmentHandler) SeedRulesHandler(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	rules, err := h.assignmentService.SeedRules(r.Context(), chi.URLParam(r, "id"), req.Suggestions, req.Activate)
	if err != nil {
		WriteServiceError(w, h.logger, err, "seed rules")
		return
	}
	if rules == nil {
		rules = []*models.ExtractionRule{}
	}
	WriteJSON(w, http.StatusCreated, rules)
}

// CaptureHandler handles POST /api/assignments/{id}/capture
func (h *AssignmentHandler) CaptureHandler(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if r.ContentLength != 0 && !DecodeJSON(w, r, &req) {
		return
	}
	config, err := h.assignmentService.GenerateCapture(r.Context(), chi.URLParam(r, "id"), req.Analysis)
	if err != nil {
		WriteServiceError(w, h.logger, err, "generate capture configuration")
		return
	}
	WriteJSON(w, http.StatusOK, config)
}

// ListRulesHandler handles GET /api/assignments/{id}/rules
func (h *AssignmentHandler) ListRulesHandler(w http.ResponseWriter, r *http.Request) {
	rules, err := h.assignmentService.ListRules(r.Context(), chi.URLParam(r, "id"), QueryBool(r, "active"))
	if err != nil {
		WriteServiceError(w, h.logger, err, "list rules")
		return
	}
	if rules == nil {
		rules = []*models.ExtractionRule{}
	}
	WriteJSON(w, http.StatusOK, rules)
}

// CreateRuleHandler handles POST /api/assignments/{id}/rules
func (h *AssignmentHandler) CreateRuleHandler(w http.ResponseWriter, r *http.Request) {
	var rule models.ExtractionRule
	if !DecodeJSON(w, r, &rule) {
		return
	}
	rule.AssignmentID = chi.URLParam(r, "id")
	if err := h.assignmentService.CreateRule(r.Context(), &rule); err != nil {
		WriteServiceError(w, h.logger, err, "create rule")
		return
	}
	WriteJSON(w, http.StatusCreated, rule)
}

// GetRuleHandler handles GET /api/rules/{id}
func (h *AssignmentHandler) GetRuleHandler(w http.ResponseWriter, r *http.Request) {
	rule, err := h.assignmentService.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, h.logger, err, "get rule")
		return
	}
	WriteJSON(w, http.StatusOK, rule)
}

// UpdateRuleHandler handles PUT /api/rules/{id}
func (h *AssignmentHandler) UpdateRuleHandler(w http.ResponseWriter, r *http.Request) {
	var rule models.ExtractionRule
	if !DecodeJSON(w, r, &rule) {
		return
	}
	rule.ID = chi.URLParam(r, "id")
	if err := h.assignmentService.UpdateRule(r.Context(), &rule); err != nil {
		WriteServiceError(w, h.logger, err, "update rule")
		return
	}
	WriteJSON(w, http.StatusOK, rule)
}

// DeleteRuleHandler handles DELETE /api/rules/{id}
func (h *AssignmentHandler) DeleteRuleHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.assignmentService.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteServiceError(w, h.logger, err, "delete rule")
		return
	}
	WriteSuccess(w, "Rule deleted")
}
