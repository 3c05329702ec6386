// Package memory provides the in-process TaskStore implementation. It is
// the authoritative copy of all task state for the lifetime of the server;
// tasks left running at shutdown are not recovered.
package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cinelog/cinelog-api/internal/domain"
	"github.com/cinelog/cinelog-api/internal/store"
)

// Store holds all tasks behind a single mutex. Mutations are the only
// operations that take the write lock; reads copy under the lock and hand
// out detached snapshots, so callers never observe a half-applied update.
type Store struct {
	mu         sync.Mutex
	tasks      map[int64]*domain.Task
	order      []int64 // insertion order, oldest first
	nextTaskID int64
	nextItemID int64
	logger     *slog.Logger
}

var _ store.TaskStore = (*Store)(nil)

// New creates an empty store.
func New(logger *slog.Logger) *Store {
	return &Store{
		tasks:  make(map[int64]*domain.Task),
		logger: logger.With("component", "task_store"),
	}
}

// Enqueue creates a new queued task with one queued item per payload.
func (s *Store) Enqueue(taskType string, payloads []json.RawMessage, meta json.RawMessage) (*domain.Task, error) {
	if strings.TrimSpace(taskType) == "" {
		return nil, fmt.Errorf("%w: type is required", domain.ErrInvalidTask)
	}
	if len(payloads) == 0 {
		return nil, fmt.Errorf("%w: item list is empty", domain.ErrInvalidTask)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTaskID++
	task := &domain.Task{
		ID:         s.nextTaskID,
		Type:       taskType,
		Status:     domain.TaskStatusQueued,
		CreatedAt:  time.Now().UTC(),
		TotalItems: len(payloads),
		Meta:       meta,
		Items:      make([]domain.Item, len(payloads)),
	}
	for i, payload := range payloads {
		s.nextItemID++
		task.Items[i] = domain.Item{
			ID:      s.nextItemID,
			Index:   i,
			Status:  domain.ItemStatusQueued,
			Payload: payload,
		}
	}

	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)

	s.logger.Info("task enqueued",
		"task_id", task.ID,
		"task_type", task.Type,
		"total_items", task.TotalItems)

	return task.Clone(), nil
}

// ClaimNext atomically claims the oldest queued task. The single mutex is
// the mutual exclusion the claim step requires: two concurrent callers can
// never both see the same task queued.
func (s *Store) ClaimNext() (*domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		task := s.tasks[id]
		if task.Status != domain.TaskStatusQueued {
			continue
		}
		now := time.Now().UTC()
		task.Status = domain.TaskStatusRunning
		task.StartedAt = &now
		return task.Clone(), true
	}
	return nil, false
}

// UpdateItem transitions one item and recomputes task-level progress.
func (s *Store) UpdateItem(taskID, itemID int64, status domain.ItemStatus, result json.RawMessage) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", store.ErrTaskNotFound, taskID)
	}

	item := findItem(task, itemID)
	if item == nil {
		return nil, fmt.Errorf("%w: task %d item %d", store.ErrItemNotFound, taskID, itemID)
	}

	switch task.Status {
	case domain.TaskStatusRunning:
		// Normal path: the owning worker is driving the items.
	case domain.TaskStatusCanceled:
		// An item that was already running when the cancel landed is
		// allowed to finish; everything else is frozen.
		if item.Status != domain.ItemStatusRunning {
			return nil, fmt.Errorf("%w: task %d is canceled", store.ErrInvalidTransition, taskID)
		}
	default:
		return nil, fmt.Errorf("%w: task %d is %s", store.ErrInvalidTransition, taskID, task.Status)
	}

	now := time.Now().UTC()
	switch status {
	case domain.ItemStatusRunning:
		item.Status = status
		item.StartedAt = &now
	case domain.ItemStatusCompleted, domain.ItemStatusFailed:
		item.Status = status
		item.Result = result
		item.FinishedAt = &now
	default:
		return nil, fmt.Errorf("%w: item cannot move to %s", store.ErrInvalidTransition, status)
	}

	s.recompute(task, now)
	return task.Clone(), nil
}

// recompute refreshes completed_items and, once every item is terminal,
// settles the task's own terminal status. A canceled task keeps its status
// regardless of item outcomes.
func (s *Store) recompute(task *domain.Task, now time.Time) {
	done := 0
	failed := 0
	for i := range task.Items {
		if task.Items[i].Status.Terminal() {
			done++
		}
		if task.Items[i].Status == domain.ItemStatusFailed {
			failed++
		}
	}
	task.CompletedItems = done

	if task.Status != domain.TaskStatusRunning || done < task.TotalItems {
		return
	}

	if failed > 0 {
		task.Status = domain.TaskStatusFailed
	} else {
		task.Status = domain.TaskStatusCompleted
	}
	task.FinishedAt = &now

	s.logger.Info("task finished",
		"task_id", task.ID,
		"task_type", task.Type,
		"status", task.Status,
		"failed_items", failed)
}

// Cancel moves an active task to canceled. Items that have not started
// stay queued; an in-flight item is allowed to finish (see UpdateItem).
func (s *Store) Cancel(taskID int64) (*domain.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, false, fmt.Errorf("%w: id %d", store.ErrTaskNotFound, taskID)
	}

	if !task.Status.Active() {
		// Lost the race with natural completion: not an error.
		return task.Clone(), false, nil
	}

	now := time.Now().UTC()
	task.Status = domain.TaskStatusCanceled
	task.FinishedAt = &now

	s.logger.Info("task canceled", "task_id", task.ID, "task_type", task.Type)
	return task.Clone(), true, nil
}

// SoftDelete marks a terminal task deleted.
func (s *Store) SoftDelete(taskID int64) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", store.ErrTaskNotFound, taskID)
	}
	if task.Status.Active() {
		return nil, fmt.Errorf("%w: cannot delete %s task %d, cancel it first",
			store.ErrInvalidTransition, task.Status, taskID)
	}

	task.Status = domain.TaskStatusDeleted
	return task.Clone(), nil
}

// Get returns a snapshot of one task.
func (s *Store) Get(taskID int64) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", store.ErrTaskNotFound, taskID)
	}
	return task.Clone(), nil
}

// ListVisible returns the tasks in the given scope, newest first.
func (s *Store) ListVisible(scope store.Scope) []*domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Task
	for _, id := range s.order {
		task := s.tasks[id]
		if store.InScope(task, scope) {
			out = append(out, task.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Clear disposes of the given scope in bulk.
func (s *Store) Clear(scope store.Scope) []*domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleared []*domain.Task
	if scope == store.ScopeCurrent {
		for _, id := range s.order {
			task := s.tasks[id]
			if store.InScope(task, store.ScopeCurrent) && !task.Status.Active() {
				task.Status = domain.TaskStatusDeleted
				cleared = append(cleared, task.Clone())
			}
		}
		return cleared
	}

	var keep []int64
	for _, id := range s.order {
		task := s.tasks[id]
		if store.InScope(task, store.ScopeHistory) {
			delete(s.tasks, id)
			cleared = append(cleared, task.Clone())
			continue
		}
		keep = append(keep, id)
	}
	s.order = keep
	return cleared
}

func findItem(task *domain.Task, itemID int64) *domain.Item {
	for i := range task.Items {
		if task.Items[i].ID == itemID {
			return &task.Items[i]
		}
	}
	return nil
}
