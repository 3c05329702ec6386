package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cinelog/cinelog-api/internal/api"
	apiMiddleware "github.com/cinelog/cinelog-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all
// routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.Trace)

	taskHandler := api.NewTaskHandler(app.store, app.registry, app.publisher, app.runner, app.logger)
	streamHandler := api.NewStreamHandler(app.store, app.hub, app.config.Stream.KeepAlive, app.logger)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", taskHandler.Create)
		r.Get("/", taskHandler.List)
		r.Get("/stats", taskHandler.Stats)
		r.Post("/clear", taskHandler.Clear)
		r.Get("/stream", streamHandler.Stream)

		if app.archive != nil {
			archiveHandler := api.NewArchiveHandler(app.archive, app.logger)
			r.Get("/archive", archiveHandler.List)
		}

		r.Get("/{id}", taskHandler.Detail)
		r.Delete("/{id}", taskHandler.Delete)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
