package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.NotFound(s.app.APIHandler.NotFoundHandler)
	r.MethodNotAllowed(s.app.APIHandler.MethodNotAllowedHandler)

	r.Route("/api", func(r chi.Router) {
		// System
		r.Get("/health", s.app.APIHandler.HealthHandler)
		r.Get("/version", s.app.APIHandler.VersionHandler)
		r.Get("/status", s.app.StatusHandler.GetStatusHandler)
		r.Get("/scheduler", s.app.SchedulerHandler.StatusHandler)

		// Web sources
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.app.SourcesHandler.ListSourcesHandler)
			r.Post("/", s.app.SourcesHandler.CreateSourceHandler)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.app.SourcesHandler.GetSourceHandler)
				r.Put("/", s.app.SourcesHandler.UpdateSourceHandler)
				r.Delete("/", s.app.SourcesHandler.DeleteSourceHandler)
				r.Post("/analyze", s.app.SourcesHandler.AnalyzeSourceHandler)
			})
		})

		// Assignments and their rules
		r.Route("/assignments", func(r chi.Router) {
			r.Get("/", s.app.AssignmentHandler.ListAssignmentsHandler)
			r.Post("/", s.app.AssignmentHandler.CreateAssignmentHandler)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.app.AssignmentHandler.GetAssignmentHandler)
				r.Put("/", s.app.AssignmentHandler.UpdateAssignmentHandler)
				r.Delete("/", s.app.AssignmentHandler.DeleteAssignmentHandler)
				r.Post("/status", s.app.AssignmentHandler.SetStatusHandler)
				r.Post("/run", s.app.AssignmentHandler.RunHandler)
				r.Post("/sample", s.app.AssignmentHandler.SampleHandler)
				r.Get("/schedule", s.app.AssignmentHandler.ScheduleHandler)
				r.Post("/suggest", s.app.AssignmentHandler.SuggestHandler)
				r.Post("/capture", s.app.AssignmentHandler.CaptureHandler)
				r.Get("/rules", s.app.AssignmentHandler.ListRulesHandler)
				r.Post("/rules", s.app.AssignmentHandler.CreateRuleHandler)
				r.Post("/rules/seed", s.app.AssignmentHandler.SeedRulesHandler)
			})
		})
		r.Route("/rules/{id}", func(r chi.Router) {
			r.Get("/", s.app.AssignmentHandler.GetRuleHandler)
			r.Put("/", s.app.AssignmentHandler.UpdateRuleHandler)
			r.Delete("/", s.app.AssignmentHandler.DeleteRuleHandler)
		})

		// Jobs
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.app.JobHandler.ListJobsHandler)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.app.JobHandler.GetJobHandler)
				r.Post("/cancel", s.app.JobHandler.CancelJobHandler)
				r.Post("/commit", s.app.JobHandler.CommitJobHandler)
				r.Get("/logs", s.app.JobHandler.GetJobLogsHandler)
				r.Get("/staged", s.app.JobHandler.GetStagedRowsHandler)
			})
		})
	})

	return r
}
