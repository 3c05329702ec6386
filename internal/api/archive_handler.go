package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cinelog/cinelog-api/internal/api/shared"
	"github.com/cinelog/cinelog-api/internal/domain"
)

// ArchiveReader provides read access to the durable record of finished
// tasks. Satisfied by the postgres task archive.
type ArchiveReader interface {
	ListRecent(ctx context.Context, limit int) ([]*domain.Task, error)
}

// ArchiveHandler serves the archived-task read endpoint. It is only
// mounted when an archive database is configured.
type ArchiveHandler struct {
	archive ArchiveReader
	logger  *slog.Logger
}

// NewArchiveHandler creates a new ArchiveHandler.
func NewArchiveHandler(archive ArchiveReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		archive: archive,
		logger:  logger.With("component", "archive_handler"),
	}
}

// List handles GET /tasks/archive. The optional limit parameter caps the
// number of returned tasks (default 50, max 500).
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		if parsed > 500 {
			parsed = 500
		}
		limit = parsed
	}

	tasks, err := h.archive.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list archived tasks",
			"error", err,
			"trace_id", shared.GetTraceID(r.Context()))
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Failed to read task archive")
		return
	}

	responses := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		responses = append(responses, taskToResponse(t, true))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}
