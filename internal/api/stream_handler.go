package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cinelog/cinelog-api/internal/broadcast"
	"github.com/cinelog/cinelog-api/internal/store"
)

// StreamHandler serves the live SSE stream: one `init` event carrying the
// full current task array, then one `task_update` event per mutation.
type StreamHandler struct {
	store     store.TaskStore
	hub       *broadcast.Hub
	keepAlive time.Duration
	logger    *slog.Logger
}

// NewStreamHandler creates a StreamHandler. keepAlive bounds how long the
// connection stays silent before an SSE comment is written.
func NewStreamHandler(
	taskStore store.TaskStore,
	hub *broadcast.Hub,
	keepAlive time.Duration,
	logger *slog.Logger,
) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &StreamHandler{
		store:     taskStore,
		hub:       hub,
		keepAlive: keepAlive,
		logger:    logger.With("component", "stream_handler"),
	}
}

// Stream handles GET /tasks/stream.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Attach before building the snapshot: an update racing the attach is
	// queued behind the init event, and since every event carries full
	// state, applying it over the snapshot converges.
	observer := h.hub.Attach()
	defer observer.Close()

	logger := h.logger.With("observer_id", observer.ID())
	logger.Info("stream observer connected", "remote_addr", r.RemoteAddr)

	initEvent := broadcast.NewInit(h.store.ListVisible(store.ScopeCurrent))
	if err := writeEvent(w, initEvent); err != nil {
		logger.Debug("failed to write init event", "error", err)
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info("stream observer disconnected")
			return

		case event, open := <-observer.C():
			if !open {
				// Hub shut down.
				return
			}
			if err := writeEvent(w, event); err != nil {
				logger.Debug("failed to write event, closing stream", "error", err)
				return
			}
			flusher.Flush()

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				logger.Debug("failed to write keep-alive, closing stream", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent serializes one event in SSE framing: the event kind as the
// event name, the payload as a single data line.
func writeEvent(w http.ResponseWriter, event broadcast.Event) error {
	data, err := event.Data()
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
	return err
}
