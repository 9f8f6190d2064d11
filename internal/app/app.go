// Package app wires the daemon together: storage, feature window, inference
// clients, decision pipeline, serial transport, and the REST surface.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/riverwatch/floodsentry/internal/explain"
	"github.com/riverwatch/floodsentry/internal/features"
	"github.com/riverwatch/floodsentry/internal/inference"
	"github.com/riverwatch/floodsentry/internal/log"
	"github.com/riverwatch/floodsentry/internal/pipeline"
	"github.com/riverwatch/floodsentry/internal/restserver"
	"github.com/riverwatch/floodsentry/internal/serial"
	"github.com/riverwatch/floodsentry/internal/storage"
	"github.com/riverwatch/floodsentry/internal/storage/postgres"
	"github.com/riverwatch/floodsentry/internal/storage/sqlite"
	"github.com/riverwatch/floodsentry/pkg/config"
)

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	window := features.NewWindow(cfg.Features)

	var classifier pipeline.Classifier
	var contributor restserver.Contributor
	var labeler restserver.Labeler
	if cfg.Inference.URL != "" {
		client := inference.NewClient(cfg.Inference, a.logger)
		classifier = client
		contributor = client
		labeler = client
	} else {
		log.Warn("inference.url not configured; running without a classifier")
	}

	explainer := explain.NewGenerator(cfg.LLM, a.logger)

	pipe := pipeline.New(*cfg, window, classifier, explainer, nil, store, a.logger)

	manager := serial.NewManager(ctx, &wg, cfg.Serial, pipe, a.logger)
	pipe.SetCommander(manager)
	manager.Start()

	restController, err := restserver.NewController(ctx, &wg, cfg.REST, restserver.Deps{
		Store:       store,
		Serial:      manager,
		Window:      window,
		Narrator:    explainer,
		Contributor: contributor,
		Labeler:     labeler,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("error creating REST server: %w", err)
	}
	if err := restController.StartController(); err != nil {
		return fmt.Errorf("error starting REST server: %w", err)
	}

	log.Info("Application started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for all workers to terminate
	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}

// openStore selects the persistence backend from configuration. Postgres
// wins when both are configured.
func openStore(ctx context.Context, cfg config.StorageData) (storage.Store, error) {
	switch {
	case cfg.Postgres != nil && cfg.Postgres.ConnectionString != "":
		log.Info("using PostgreSQL storage backend")
		return postgres.New(ctx, *cfg.Postgres)
	case cfg.SQLite != nil && cfg.SQLite.Path != "":
		log.Info("using SQLite storage backend")
		return sqlite.New(ctx, *cfg.SQLite)
	default:
		return nil, fmt.Errorf("no storage backend configured: set storage.postgres or storage.sqlite")
	}
}
