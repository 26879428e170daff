package app

import (
	"context"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/handlers"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/services/analysis"
	"github.com/ternarybob/quarry/internal/services/assignments"
	"github.com/ternarybob/quarry/internal/services/auth"
	"github.com/ternarybob/quarry/internal/services/connector"
	"github.com/ternarybob/quarry/internal/services/crawler"
	"github.com/ternarybob/quarry/internal/services/events"
	"github.com/ternarybob/quarry/internal/services/extraction"
	"github.com/ternarybob/quarry/internal/services/jobs"
	"github.com/ternarybob/quarry/internal/services/llm"
	"github.com/ternarybob/quarry/internal/services/runner"
	"github.com/ternarybob/quarry/internal/services/scheduler"
	"github.com/ternarybob/quarry/internal/services/sources"
	"github.com/ternarybob/quarry/internal/services/status"
	"github.com/ternarybob/quarry/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService     interfaces.EventService
	SchedulerService interfaces.SchedulerService

	// Collaborators at the system boundary. Connector, SecretStore and
	// LLMProvider are nil when not configured.
	Fetcher     *crawler.Service
	Connector   interfaces.DatabaseConnector
	SecretStore *auth.FileStore
	LLMProvider interfaces.LLMProvider

	// Extraction pipeline
	Evaluator *extraction.Evaluator
	Runner    *runner.Runner

	// Domain services
	JobService        *jobs.Service
	SourceService     *sources.Service
	AssignmentService *assignments.Service
	StatusService     *status.Service

	// HTTP handlers
	APIHandler        *handlers.APIHandler
	SourcesHandler    *handlers.SourcesHandler
	AssignmentHandler *handlers.AssignmentHandler
	JobHandler        *handlers.JobHandler
	SchedulerHandler  *handlers.SchedulerHandler
	StatusHandler     *handlers.StatusHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initDatabase(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.EventService = events.NewService(app.Logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, app.Logger); err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to subscribe event logger")
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Bool("browser_enabled", cfg.Browser.Enabled).
		Bool("target_configured", app.Connector != nil).
		Bool("secrets_configured", app.SecretStore != nil).
		Bool("llm_enabled", app.LLMProvider != nil).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	if a.Config.Storage.Badger.ResetOnStartup {
		a.Logger.Warn().Str("path", a.Config.Storage.Badger.Path).Msg("Resetting database on startup")
		if err := os.RemoveAll(a.Config.Storage.Badger.Path); err != nil {
			return fmt.Errorf("failed to reset database: %w", err)
		}
	}

	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Str("staging_dir", a.Config.Storage.Staging.Dir).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order:
// fetcher, target connector, secrets and LLM at the boundary, then the
// runner, job service and scheduler, then the web source and assignment
// services that sit on top of them.
func (a *App) initServices() error {
	var err error

	a.Fetcher, err = crawler.NewService(&a.Config.Fetcher, &a.Config.Browser, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize page fetcher: %w", err)
	}

	if a.Config.Target.DSN != "" {
		sqlConnector, err := connector.NewSQLConnector(&a.Config.Target, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize target connector: %w", err)
		}
		a.Connector = sqlConnector
	} else {
		a.Logger.Warn().Msg("No target database configured - commits and column checks are disabled")
	}

	var secrets interfaces.SecretStore
	if _, statErr := os.Stat(a.Config.Secrets.File); a.Config.Secrets.File != "" && os.IsNotExist(statErr) {
		a.Logger.Warn().Str("path", a.Config.Secrets.File).Msg("Secrets file not found - web sources with secret_ref will fail to fetch")
	} else if a.Config.Secrets.File != "" {
		a.SecretStore, err = auth.NewFileStore(a.Config.Secrets.File, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to load secrets: %w", err)
		}
		secrets = a.SecretStore
	}

	a.LLMProvider, err = llm.NewProvider(a.ctx, &a.Config.LLM, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM provider: %w", err)
	}

	a.Evaluator = extraction.NewEvaluator(nil)
	var runnerOpts []runner.Option
	if a.LLMProvider != nil {
		runnerOpts = append(runnerOpts, runner.WithCaptureRunner(llm.NewCaptureRunner(a.LLMProvider, a.Logger)))
	}
	a.Runner = runner.NewRunner(a.Fetcher, a.Evaluator, &a.Config.Jobs, a.Logger, runnerOpts...)

	a.JobService = jobs.NewService(a.StorageManager, a.Runner, a.Connector, secrets, a.EventService, &a.Config.Jobs, a.Logger)
	if err := a.JobService.Recover(a.ctx); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	a.SchedulerService = scheduler.NewService(a.JobService, a.StorageManager.AssignmentStorage(), a.EventService, a.Config.Location(), a.Logger)
	if a.Config.Scheduler.Enabled {
		if err := a.SchedulerService.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		a.Logger.Info().Msg("Scheduler disabled - assignments run on demand only")
	}

	a.SourceService = sources.NewService(a.StorageManager, a.Fetcher, analysis.NewAnalyzer(a.Logger), secrets, a.EventService, a.Logger)

	assignmentOpts := []assignments.Option{assignments.WithScheduler(a.SchedulerService)}
	if a.Connector != nil {
		assignmentOpts = append(assignmentOpts, assignments.WithConnector(a.Connector))
	}
	if a.LLMProvider != nil {
		assignmentOpts = append(assignmentOpts, assignments.WithPageAnalyzer(llm.NewAnalyzer(a.LLMProvider, a.Logger), a.SourceService))
	}
	a.AssignmentService = assignments.NewService(a.StorageManager, a.Evaluator, a.JobService, a.EventService, a.Logger, assignmentOpts...)

	a.StatusService = status.NewService(a.JobService, a.Fetcher, a.SchedulerService, a.EventService, a.Logger)
	if err := a.StatusService.SubscribeToJobEvents(); err != nil {
		return fmt.Errorf("failed to subscribe status service: %w", err)
	}

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.SourcesHandler = handlers.NewSourcesHandler(a.SourceService, a.Logger)
	a.AssignmentHandler = handlers.NewAssignmentHandler(a.AssignmentService, a.SchedulerService, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService)
	a.StatusHandler = handlers.NewStatusHandler(a.StatusService, a.Logger)
}

// Close stops background work and releases resources. Running jobs are
// cancelled before storage is closed.
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.JobService != nil {
		if err := a.JobService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop job service")
		} else {
			a.Logger.Info().Msg("Job service stopped")
		}
	}

	if a.Fetcher != nil {
		if err := a.Fetcher.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close page fetcher")
		}
	}

	if a.Connector != nil {
		if err := a.Connector.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close target connector")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
