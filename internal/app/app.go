// Package app provides application initialization and wiring.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jobrunner/geopub/internal/adapters/geopackage"
	httpAdapter "github.com/jobrunner/geopub/internal/adapters/http"
	"github.com/jobrunner/geopub/internal/adapters/metrics"
	"github.com/jobrunner/geopub/internal/adapters/postgis"
	"github.com/jobrunner/geopub/internal/adapters/storage"
	"github.com/jobrunner/geopub/internal/adapters/watcher"
	"github.com/jobrunner/geopub/internal/application"
	"github.com/jobrunner/geopub/internal/config"
	"github.com/jobrunner/geopub/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Storage    output.ObjectStorage
	DB         *sql.DB
	Loader     *postgis.Loader
	Detector   *application.Detector
	Processor  *application.Processor
	Syncer     *application.Syncer
	HTTPServer *httpAdapter.Server
	Watcher    *watcher.Watcher
	Metrics    *metrics.Collector
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("geopub")
	}

	var metricsCollector output.MetricsCollector
	if app.Metrics != nil {
		metricsCollector = app.Metrics
	} else {
		metricsCollector = &output.NoOpMetrics{}
	}

	// Initialize storage adapter
	store, err := NewStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = store

	// Connect to PostGIS
	db, err := postgis.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	app.DB = db

	opener := geopackage.NewOpener()
	app.Loader = postgis.NewLoader(db, cfg.Database.Schema, opener, logger)

	// Initialize detection and processing
	app.Detector = application.NewDetector(cfg.Processing.DownloadDir, opener, logger)
	app.Processor = application.NewProcessor(
		app.Detector,
		app.Loader,
		opener,
		metricsCollector,
		logger,
		cfg.Database.TargetSRID,
		cfg.Database.BatchSize,
	)

	// Initialize storage mirror
	if cfg.Sync.Enabled {
		app.Syncer = application.NewSyncer(store, metricsCollector, logger, cfg.Processing.DownloadDir)
	}

	// Initialize HTTP server
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Handler()
	}

	var serverMiddleware []mux.MiddlewareFunc
	if app.Metrics != nil {
		serverMiddleware = append(serverMiddleware, app.Metrics.Middleware)
	}

	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		app.Processor,
		app.Syncer,
		cfg.Metrics.Path,
		metricsHandler,
		logger,
		serverMiddleware...,
	)

	// Initialize download directory watcher
	if cfg.Watcher.Enabled {
		w, err := watcher.New(
			watcher.Config{
				Paths:    []string{cfg.Processing.DownloadDir},
				Debounce: cfg.Watcher.Debounce,
			},
			app.handleFileEvent,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start starts all application components.
func (a *App) Start(ctx context.Context) error {
	// Ensure schema and metadata table exist
	if err := a.Loader.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrapping database: %w", err)
	}

	// Start storage sync scheduler
	if a.Syncer != nil {
		if _, err := a.Syncer.Sync(ctx); err != nil {
			a.Logger.Warn("initial sync failed", "error", err)
		}
		go a.Syncer.Run(ctx, a.Config.Sync.Interval)
	}

	// Catch up on orders delivered while the service was down
	if _, err := a.Processor.ProcessIncremental(ctx); err != nil {
		a.Logger.Warn("initial incremental processing failed", "error", err)
	}

	// Start file watcher
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	// Stop watcher
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	// Shutdown HTTP server
	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := a.DB.Close(); err != nil {
		a.Logger.Error("database close error", "error", err)
	}

	return nil
}

// handleFileEvent handles file system events in the download directory. Any
// new or changed delivery triggers an incremental pass; the per-layer hash
// gate skips everything already current.
func (a *App) handleFileEvent(ctx context.Context, event watcher.Event) error {
	a.Logger.Info("file event", "path", event.Path, "operation", event.Operation.String())

	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		_, err := a.Processor.ProcessIncremental(ctx)
		return err

	case watcher.OpDelete:
		// Stale tables are cleaned up explicitly via the cleanup command
		return nil
	}

	return nil
}

// NewStorage initializes the appropriate storage adapter.
func NewStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case "s3":
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
