package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cinelog/cinelog-api/internal/broadcast"
	"github.com/cinelog/cinelog-api/internal/config"
	"github.com/cinelog/cinelog-api/internal/ops"
	"github.com/cinelog/cinelog-api/internal/platform/postgres"
	"github.com/cinelog/cinelog-api/internal/store/memory"
	"github.com/cinelog/cinelog-api/internal/task"
)

// application holds the wired dependencies of the running server.
type application struct {
	config    *config.Config
	logger    *slog.Logger
	store     *memory.Store
	registry  *task.Registry
	hub       *broadcast.Hub
	publisher *broadcast.Publisher
	runner    *task.Runner
	archive   *postgres.TaskArchive
}

// newApplication wires the task store, operation handlers, broadcast hub,
// worker runner, and the optional postgres archive.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	taskStore := memory.New(logger)

	registry := task.NewRegistry()
	ops.Register(registry, ops.Config{
		LibraryRoot:       cfg.Library.Root,
		ScraperBaseURL:    cfg.Scraper.BaseURL,
		WatchSyncEndpoint: cfg.WatchSync.Endpoint,
	})

	hub := broadcast.NewHub(cfg.Stream.ObserverBuffer, logger)
	publisher := broadcast.NewPublisher(hub, logger)

	runner := task.NewRunner(taskStore, registry, publisher, task.RunnerConfig{
		WorkerCount:  cfg.Queue.WorkerCount,
		PollInterval: cfg.Queue.PollInterval,
	}, logger)

	app := &application{
		config:    cfg,
		logger:    logger,
		store:     taskStore,
		registry:  registry,
		hub:       hub,
		publisher: publisher,
		runner:    runner,
	}

	if cfg.Database.ArchiveEnabled() {
		archive, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open task archive: %w", err)
		}
		app.archive = archive
	}

	return app, nil
}

// Run starts the workers, the archive observer, and the HTTP server, then
// blocks until ctx is canceled and the server has drained.
func (app *application) Run(ctx context.Context) error {
	app.runner.Start()

	archiveDone := make(chan struct{})
	if app.archive != nil {
		go app.archiveLoop(archiveDone)
	} else {
		close(archiveDone)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("HTTP server listening", "addr", server.Addr)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	app.logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		app.logger.Error("HTTP server shutdown failed", "error", err)
	}

	app.runner.Stop()
	app.hub.Close()
	<-archiveDone

	if app.archive != nil {
		if err := app.archive.Close(); err != nil {
			app.logger.Error("Failed to close task archive", "error", err)
		}
	}

	app.logger.Info("Shutdown complete")
	return nil
}

// archiveLoop consumes the broadcast stream as one more observer and
// records every terminal task snapshot. Keeping the archive off the worker
// path means a slow or absent database never stalls task execution; at
// worst a snapshot is dropped by the hub's bounded buffer and the row is
// refreshed by the task's next terminal snapshot.
func (app *application) archiveLoop(done chan<- struct{}) {
	defer close(done)

	observer := app.hub.Attach()
	defer observer.Close()

	for event := range observer.C() {
		if event.Kind != broadcast.EventTaskUpdate || event.Task == nil {
			continue
		}
		if !event.Task.Status.Terminal() {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := app.archive.Record(ctx, event.Task)
		cancel()
		if err != nil {
			app.logger.Error("Failed to archive task",
				"task_id", event.Task.ID,
				"status", event.Task.Status,
				"error", err)
		}
	}
}
