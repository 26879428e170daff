package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/services/jobs"
)

const (
	defaultJobLimit    = 50
	defaultLogLimit    = 200
	defaultStagedLimit = 100
)

// JobHandler handles job-related API requests
type JobHandler struct {
	jobService *jobs.Service
	logger     arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService *jobs.Service, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// ListJobsHandler returns a page of jobs, newest first
// GET /api/jobs?assignment_id=asg_x&status=staging&limit=50&offset=0
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	opts := &interfaces.JobListOptions{
		AssignmentID: r.URL.Query().Get("assignment_id"),
		Status:       models.JobStatus(r.URL.Query().Get("status")),
		Limit:        QueryInt(r, "limit", defaultJobLimit),
		Offset:       QueryInt(r, "offset", 0),
	}

	list, err := h.jobService.List(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, h.logger, err, "list jobs")
		return
	}
	if list == nil {
		list = []*models.ExtractionJob{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   list,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// GetJobHandler returns one job with live progress
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobService.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, h.logger, err, "get job")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// CancelJobHandler cancels a pending, running or staging job
// POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobService.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, h.logger, err, "cancel job")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// CommitJobHandler writes the staged rows of a job into the target table
// POST /api/jobs/{id}/commit
func (h *JobHandler) CommitJobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobService.Commit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, h.logger, err, "commit job")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// GetJobLogsHandler returns the process log of a job
// GET /api/jobs/{id}/logs?level=error&limit=200&offset=0
func (h *JobHandler) GetJobLogsHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := QueryInt(r, "limit", defaultLogLimit)
	offset := QueryInt(r, "offset", 0)

	logs, total, err := h.jobService.Logs(r.Context(), id, models.LogLevel(r.URL.Query().Get("level")), limit, offset)
	if err != nil {
		WriteServiceError(w, h.logger, err, "get job logs")
		return
	}
	if logs == nil {
		logs = []*models.ProcessLog{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": id,
		"logs":   logs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetStagedRowsHandler previews the staged rows of a job awaiting commit
// GET /api/jobs/{id}/staged?limit=100
func (h *JobHandler) GetStagedRowsHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	columns, rows, err := h.jobService.StagedRows(r.Context(), id, QueryInt(r, "limit", defaultStagedLimit))
	if err != nil {
		WriteServiceError(w, h.logger, err, "get staged rows")
		return
	}
	if rows == nil {
		rows = []models.Row{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":  id,
		"columns": columns,
		"rows":    rows,
	})
}
