package domain

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

// Possible task status values.
const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCanceled  TaskStatus = "canceled"
	TaskStatusDeleted   TaskStatus = "deleted"
)

// Terminal reports whether no further task-level transition is possible.
// Deleted counts as terminal even though it is reached from another
// terminal state (soft delete).
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCanceled, TaskStatusDeleted:
		return true
	}
	return false
}

// Active reports whether the task still owns (or may own) a worker.
func (s TaskStatus) Active() bool {
	return s == TaskStatusQueued || s == TaskStatusRunning
}

// ItemStatus represents the current state of a single item within a task.
type ItemStatus string

// Possible item status values.
const (
	ItemStatusQueued    ItemStatus = "queued"
	ItemStatusRunning   ItemStatus = "running"
	ItemStatusCompleted ItemStatus = "completed"
	ItemStatusFailed    ItemStatus = "failed"
)

// Terminal reports whether the item has finished, successfully or not.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed
}

// Task type identifiers for the operation classes the server registers
// handlers for. The core routes on these strings but never interprets them.
const (
	TaskTypeScrapeBatch      = "scrape_batch"
	TaskTypeRenameBatch      = "rename_batch"
	TaskTypeDeleteBatch      = "delete_batch"
	TaskTypeAnalyzeBatch     = "analyze_batch"
	TaskTypeSubtitleMuxBatch = "subtitle_mux_batch"
	TaskTypeWatchSyncBatch   = "watchsync_batch"
)

// Item is one unit of work within a task, mapped 1:1 to one invocation of
// an operation handler. Payload is opaque input to the handler; Result is
// the handler's output or error detail once the item is terminal.
type Item struct {
	ID         int64           `json:"id"`
	Index      int             `json:"index"`
	Status     ItemStatus      `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Task is one user-initiated batch operation containing an ordered list of
// items. Item order is insertion order and equals execution order.
type Task struct {
	ID             int64           `json:"id"`
	Type           string          `json:"type"`
	Status         TaskStatus      `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	TotalItems     int             `json:"total_items"`
	CompletedItems int             `json:"completed_items"`
	Meta           json.RawMessage `json:"meta,omitempty"`
	Items          []Item          `json:"items"`
}

// Clone returns a deep copy of the task. Snapshots handed to the broadcast
// hub and to API responses are always clones so that observers never share
// a mutable reference with the store.
func (t *Task) Clone() *Task {
	c := *t
	c.Items = make([]Item, len(t.Items))
	copy(c.Items, t.Items)
	return &c
}

// CompletedWithFailures reports whether the task finished in the completed
// state but at least one of its items failed. This is a read-time
// projection, never a stored status: anywhere a task is routed between
// "current" and "history" views, or rendered, this helper is the single
// source of the "completed with failures" rule.
func (t *Task) CompletedWithFailures() bool {
	if t.Status != TaskStatusCompleted {
		return false
	}
	return t.FailedItems() > 0
}

// FailedItems counts items in the failed state.
func (t *Task) FailedItems() int {
	n := 0
	for i := range t.Items {
		if t.Items[i].Status == ItemStatusFailed {
			n++
		}
	}
	return n
}
