package app

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/grantscout/internal/common"
	"github.com/ternarybob/grantscout/internal/handlers"
	"github.com/ternarybob/grantscout/internal/interfaces"
	"github.com/ternarybob/grantscout/internal/services/orchestrator"
	"github.com/ternarybob/grantscout/internal/services/scheduler"
	"github.com/ternarybob/grantscout/internal/services/scraper"
	"github.com/ternarybob/grantscout/internal/services/sources"
	"github.com/ternarybob/grantscout/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Services
	SourceService       *sources.Service
	ScrapeExecutor      interfaces.ScrapeExecutor
	OrchestratorService *orchestrator.Service
	SchedulerService    *scheduler.Service

	// HTTP handlers
	APIHandler     *handlers.APIHandler
	SourcesHandler *handlers.SourcesHandler
	JobHandler     *handlers.JobHandler
	TriggerHandler *handlers.TriggerHandler
	StatusHandler  *handlers.StatusHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.initServices()
	app.initHandlers()

	if err := app.SchedulerService.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info().
		Str("badger_path", cfg.Storage.Badger.Path).
		Int("max_concurrent_jobs", cfg.Scheduler.MaxConcurrentJobs).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage initializes the storage layer (Badger)
func (a *App) initStorage() error {
	storageManager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices wires the source, scraper, orchestrator and scheduler
// services in dependency order.
func (a *App) initServices() {
	a.SourceService = sources.NewService(
		a.StorageManager.SourceStorage(),
		a.StorageManager.JobStorage(),
		&a.Config.Scheduler,
		a.Logger,
	)

	a.ScrapeExecutor = scraper.NewExecutor(&a.Config.Scraper, a.Logger)

	a.OrchestratorService = orchestrator.NewService(
		a.StorageManager.JobStorage(),
		a.StorageManager.GrantStorage(),
		a.SourceService,
		a.ScrapeExecutor,
		&a.Config.Scraper,
		a.Logger,
	)

	a.SchedulerService = scheduler.NewService(
		a.SourceService,
		a.StorageManager.JobStorage(),
		a.OrchestratorService,
		&a.Config.Scheduler,
		a.Logger,
	)
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.SourcesHandler = handlers.NewSourcesHandler(a.SourceService, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.StorageManager.JobStorage(), a.SchedulerService, a.Logger)
	a.TriggerHandler = handlers.NewTriggerHandler(a.SchedulerService, a.SourceService, a.StorageManager.JobStorage(), a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.StorageManager.SourceStorage(), a.StorageManager.JobStorage(), a.SchedulerService, a.Logger)
}

// Close stops background services and closes storage
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
			return err
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
