package handlers

import (
	"net/http"

	"github.com/ternarybob/quarry/internal/interfaces"
)

// SchedulerHandler handles scheduler-related endpoints
type SchedulerHandler struct {
	schedulerService interfaces.SchedulerService
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(schedulerService interfaces.SchedulerService) *SchedulerHandler {
	return &SchedulerHandler{
		schedulerService: schedulerService,
	}
}

// StatusHandler lists every registered recurring trigger
// GET /api/scheduler
func (h *SchedulerHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	statuses := h.schedulerService.Statuses()
	if statuses == nil {
		statuses = []*interfaces.ScheduleStatus{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": statuses,
		"count":     len(statuses),
	})
}
