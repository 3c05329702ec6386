// Package api implements the HTTP surface of the task engine: REST
// endpoints for enqueueing and managing tasks, and the SSE live stream.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/cinelog/cinelog-api/internal/api/shared"
	"github.com/cinelog/cinelog-api/internal/broadcast"
	"github.com/cinelog/cinelog-api/internal/domain"
	"github.com/cinelog/cinelog-api/internal/store"
	"github.com/cinelog/cinelog-api/internal/task"
)

// EnqueueTaskRequest is the request body for creating a new task.
type EnqueueTaskRequest struct {
	Type  string            `json:"type"  validate:"required"`
	Items []json.RawMessage `json:"items" validate:"required,min=1"`
	Meta  json.RawMessage   `json:"meta,omitempty"`
}

// ItemResponse is the wire representation of one task item.
type ItemResponse struct {
	ID         int64             `json:"id"`
	Index      int               `json:"index"`
	Status     domain.ItemStatus `json:"status"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Result     json.RawMessage   `json:"result,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// TaskResponse is the wire representation of a task. Items are only
// populated on the detail endpoint; the list view stays cheap.
type TaskResponse struct {
	ID             int64             `json:"id"`
	Type           string            `json:"type"`
	Status         domain.TaskStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	TotalItems     int               `json:"total_items"`
	CompletedItems int               `json:"completed_items"`
	FailedItems    int               `json:"failed_items"`
	// CompletedWithFailures is the read-time projection for display and
	// current/history routing; it is never stored.
	CompletedWithFailures bool            `json:"completed_with_failures"`
	Meta                  json.RawMessage `json:"meta,omitempty"`
	Items                 []ItemResponse  `json:"items,omitempty"`
}

// Notifier wakes the worker pool after an enqueue.
type Notifier interface {
	Notify()
}

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	store     store.TaskStore
	registry  *task.Registry
	publisher *broadcast.Publisher
	notifier  Notifier
	validator *validator.Validate
	logger    *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(
	taskStore store.TaskStore,
	registry *task.Registry,
	publisher *broadcast.Publisher,
	notifier Notifier,
	logger *slog.Logger,
) *TaskHandler {
	return &TaskHandler{
		store:     taskStore,
		registry:  registry,
		publisher: publisher,
		notifier:  notifier,
		validator: validator.New(),
		logger:    logger.With("component", "task_handler"),
	}
}

// Create handles POST /tasks requests.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req EnqueueTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: a non-empty type and at least one item are required")
		return
	}
	if !h.registry.Known(req.Type) {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown task type")
		return
	}

	created, err := h.store.Enqueue(req.Type, req.Items, req.Meta)
	if err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), SafeErrorMessage(err))
		return
	}

	h.publisher.TaskChanged(created)
	h.notifier.Notify()

	h.logger.Info("task created via API",
		"task_id", created.ID,
		"task_type", created.Type,
		"total_items", created.TotalItems,
		"trace_id", shared.GetTraceID(r.Context()))

	shared.RespondWithJSON(w, r, http.StatusCreated, taskToResponse(created, true))
}

// List handles GET /tasks?scope=current|history requests. Item lists are
// omitted unless include_items=true is passed (the reconciler's direct
// snapshot fetch needs full state; list views do not).
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeParam(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid scope, expected current or history")
		return
	}
	includeItems := r.URL.Query().Get("include_items") == "true"

	tasks := h.store.ListVisible(scope)
	out := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		out[i] = taskToResponse(t, includeItems)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, out)
}

// Detail handles GET /tasks/{id} requests, including the full item list.
func (h *TaskHandler) Detail(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task id")
		return
	}

	got, err := h.store.Get(id)
	if err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), SafeErrorMessage(err))
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(got, true))
}

// Delete handles DELETE /tasks/{id}: cancels an active task, soft-deletes
// a terminal one.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task id")
		return
	}

	got, err := h.store.Get(id)
	if err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), SafeErrorMessage(err))
		return
	}

	var snapshot *domain.Task
	if got.Status.Active() {
		var changed bool
		snapshot, changed, err = h.store.Cancel(id)
		if err == nil && !changed {
			// Lost the race with natural completion; fall through to the
			// terminal branch on the fresh snapshot.
			snapshot, err = h.store.SoftDelete(id)
		}
	} else {
		snapshot, err = h.store.SoftDelete(id)
	}
	if err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), SafeErrorMessage(err))
		return
	}

	h.publisher.TaskChanged(snapshot)

	h.logger.Info("task disposed via API",
		"task_id", id,
		"status", snapshot.Status,
		"trace_id", shared.GetTraceID(r.Context()))

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]int64{"task_id": id})
}

// Clear handles POST /tasks/clear?scope=current|history requests.
func (h *TaskHandler) Clear(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeParam(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid scope, expected current or history")
		return
	}

	cleared := h.store.Clear(scope)
	for _, t := range cleared {
		// Hard-removed history records have no wire representation left;
		// clients converge on their next snapshot. Soft-deletes are
		// published so live views reroute them immediately.
		if t.Status == domain.TaskStatusDeleted && scope == store.ScopeCurrent {
			h.publisher.TaskChanged(t)
		}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]int{"tasks_cleared": len(cleared)})
}

// Stats handles GET /tasks/stats: counts by status over both scopes.
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts := make(map[domain.TaskStatus]int)
	for _, scope := range []store.Scope{store.ScopeCurrent, store.ScopeHistory} {
		for _, t := range h.store.ListVisible(scope) {
			counts[t.Status]++
		}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, counts)
}

func scopeParam(r *http.Request) (store.Scope, bool) {
	raw := r.URL.Query().Get("scope")
	if raw == "" {
		return store.ScopeCurrent, true
	}
	scope := store.Scope(raw)
	return scope, scope.Valid()
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func taskToResponse(t *domain.Task, includeItems bool) TaskResponse {
	resp := TaskResponse{
		ID:                    t.ID,
		Type:                  t.Type,
		Status:                t.Status,
		CreatedAt:             t.CreatedAt,
		StartedAt:             t.StartedAt,
		FinishedAt:            t.FinishedAt,
		TotalItems:            t.TotalItems,
		CompletedItems:        t.CompletedItems,
		FailedItems:           t.FailedItems(),
		CompletedWithFailures: t.CompletedWithFailures(),
		Meta:                  t.Meta,
	}
	if includeItems {
		resp.Items = make([]ItemResponse, len(t.Items))
		for i, item := range t.Items {
			resp.Items[i] = ItemResponse{
				ID:         item.ID,
				Index:      item.Index,
				Status:     item.Status,
				Payload:    item.Payload,
				Result:     item.Result,
				StartedAt:  item.StartedAt,
				FinishedAt: item.FinishedAt,
			}
		}
	}
	return resp
}
