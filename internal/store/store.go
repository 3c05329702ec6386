// Package store defines the interface for the authoritative task
// repository and the errors its implementations return.
package store

import (
	"encoding/json"

	"github.com/cinelog/cinelog-api/internal/domain"
)

// Scope selects which slice of the task collection a read returns.
type Scope string

// Valid scopes.
const (
	// ScopeCurrent covers tasks the user is still acting on: queued,
	// running, failed, and completed-with-failures tasks.
	ScopeCurrent Scope = "current"

	// ScopeHistory covers the complement: cleanly completed, canceled,
	// and soft-deleted tasks.
	ScopeHistory Scope = "history"
)

// Valid reports whether s is a recognized scope.
func (s Scope) Valid() bool {
	return s == ScopeCurrent || s == ScopeHistory
}

// InScope reports whether the task belongs to the given scope. The
// completed-with-failures projection keeps partially failed tasks in the
// current scope so failures stay visible without digging into history.
func InScope(t *domain.Task, scope Scope) bool {
	current := t.Status.Active() ||
		t.Status == domain.TaskStatusFailed ||
		t.CompletedWithFailures()
	if scope == ScopeCurrent {
		return current
	}
	return !current
}

// TaskStore is the single source of truth for task and item state. All
// mutating operations are atomic and enforce the task/item state machines;
// every returned task is a detached snapshot, safe to hand to observers.
type TaskStore interface {
	// Enqueue creates a new queued task with one queued item per payload,
	// in order. Rejects an empty item list or an empty type with
	// domain.ErrInvalidTask.
	Enqueue(taskType string, payloads []json.RawMessage, meta json.RawMessage) (*domain.Task, error)

	// ClaimNext atomically selects the oldest queued task, flips it to
	// running and stamps started_at. Returns false when nothing is queued.
	// Safe under concurrent callers: no task is ever claimed twice.
	ClaimNext() (*domain.Task, bool)

	// UpdateItem transitions one item and recomputes the task's progress
	// counters. Once every item is terminal the task itself transitions to
	// completed (no item failures) or failed (at least one), stamping
	// finished_at. Returns the updated task snapshot for publication.
	UpdateItem(taskID, itemID int64, status domain.ItemStatus, result json.RawMessage) (*domain.Task, error)

	// Cancel moves a queued or running task to canceled. Canceling an
	// already terminal task is not an error: the returned bool is false
	// and the snapshot reflects the unchanged state, tolerating the race
	// with natural completion.
	Cancel(taskID int64) (*domain.Task, bool, error)

	// SoftDelete marks a terminal task deleted, keeping the record for
	// history queries. Returns ErrInvalidTransition for an active task.
	SoftDelete(taskID int64) (*domain.Task, error)

	// Get returns a snapshot of one task, including soft-deleted ones.
	Get(taskID int64) (*domain.Task, error)

	// ListVisible returns snapshots of the tasks in the given scope,
	// newest first.
	ListVisible(scope Scope) []*domain.Task

	// Clear bulk-disposes of the given scope: current-scope terminal
	// tasks are soft-deleted (active ones are skipped, they need an
	// explicit cancel), history records are removed outright. Returns
	// snapshots of the affected tasks so callers can publish the
	// soft-delete transitions.
	Clear(scope Scope) []*domain.Task
}
