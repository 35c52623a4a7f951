package app

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/handlers"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/jobs"
	"github.com/ternarybob/fabrica/internal/services/events"
	"github.com/ternarybob/fabrica/internal/services/maintenance"
	"github.com/ternarybob/fabrica/internal/storage/badger"
	"github.com/ternarybob/fabrica/internal/webhook"
	"github.com/ternarybob/fabrica/internal/workers"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService interfaces.EventService

	// Job execution
	Registry   *jobs.Registry
	JobManager *jobs.Manager
	Webhooks   interfaces.WebhookDispatcher

	// Background maintenance
	MaintenanceService *maintenance.Service

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	JobHandler      *handlers.JobHandler
	BatchHandler    *handlers.BatchHandler
	DownloadHandler *handlers.DownloadHandler
	WSHandler       *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Event service first so everything downstream can publish
	app.EventService = events.NewService(app.Logger)

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	// Start the worker manager AFTER all handlers are initialized
	if cfg.Worker.Active {
		if err := app.JobManager.Start(); err != nil {
			return nil, fmt.Errorf("failed to start job manager: %w", err)
		}
		app.Logger.Debug().Msg("Job manager started")
	} else {
		app.Logger.Info().Msg("Worker disabled, jobs will queue until a worker picks them up")
	}

	if cfg.Maintenance.Enabled {
		if err := app.MaintenanceService.Start(); err != nil {
			return nil, fmt.Errorf("failed to start maintenance service: %w", err)
		}
	}

	logger.Info().
		Bool("worker_active", cfg.Worker.Active).
		Int("max_workers", cfg.Worker.MaxConcurrentWorkers).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
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

// initServices initializes business services in dependency order
func (a *App) initServices() error {
	// Webhook dispatcher (per-job targets come from job parameters)
	a.Webhooks = webhook.NewDispatcher(a.Config.Webhook, a.Logger)

	// Handler registry with the built-in processors
	a.Registry = jobs.NewRegistry(a.Logger)

	pdfWorker := workers.NewPDFWorker(a.Logger)
	registrations := []interfaces.Handler{
		pdfWorker,
		workers.NewOfficeWorker(a.Config.Office.SofficePath, a.Logger),
		workers.NewOfficeViaPDFWorker(a.Config.Office.SofficePath, pdfWorker, a.Logger),
		workers.NewAudioWorker(&workers.CommandTranscriber{Command: a.Config.Transcriber.Command}, a.Logger),
		workers.NewSessionWorker(a.Logger),
		workers.NewTemplateWorker(a.Logger),
	}
	for _, handler := range registrations {
		if err := a.Registry.Register(handler); err != nil {
			return fmt.Errorf("failed to register %s handler: %w", handler.JobType(), err)
		}
	}
	a.Logger.Debug().Strs("job_types", a.Registry.Types()).Msg("Job handlers registered")

	// Worker manager drives the claim/execute loop
	a.JobManager = jobs.NewManager(
		a.StorageManager.Jobs(),
		a.StorageManager.Batches(),
		a.Registry,
		a.Webhooks,
		a.EventService,
		jobs.ManagerConfigFromCommon(a.Config.Worker, a.Config.Artifacts.Dir),
		a.Logger,
	)

	// Maintenance service archives old terminal batches
	a.MaintenanceService = maintenance.NewService(
		a.StorageManager.Batches(),
		a.Config.Maintenance,
		a.Logger,
	)

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler(a.Registry.Types)

	wsHandler, err := handlers.NewWebSocketHandler(a.EventService, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize websocket handler: %w", err)
	}
	a.WSHandler = wsHandler

	a.JobHandler = handlers.NewJobHandler(
		a.StorageManager.Jobs(),
		a.StorageManager.Batches(),
		a.Config.Artifacts.Dir,
		a.Logger,
	)

	a.BatchHandler = handlers.NewBatchHandler(
		a.StorageManager.Jobs(),
		a.StorageManager.Batches(),
		a.Logger,
	)

	a.DownloadHandler = handlers.NewDownloadHandler(a.StorageManager.Jobs(), a.Logger)

	return nil
}

// Close closes all application resources in reverse startup order
func (a *App) Close() error {
	// Stop claiming new work before anything else goes away
	if a.JobManager != nil {
		a.JobManager.Stop()
		a.Logger.Info().Msg("Job manager stopped")
	}

	if a.MaintenanceService != nil {
		a.MaintenanceService.Stop()
	}

	if a.WSHandler != nil {
		a.WSHandler.Close()
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
