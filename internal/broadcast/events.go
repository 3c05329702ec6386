// Package broadcast fans task-change events out to any number of
// connected observers. Observers attach and detach freely; a slow observer
// loses intermediate updates rather than ever blocking the publisher, and
// recovers full consistency from its next snapshot.
package broadcast

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cinelog/cinelog-api/internal/domain"
)

// EventKind names the wire-level event types of the live stream. Clients
// must ignore kinds they do not recognize.
type EventKind string

const (
	// EventInit carries the full current task array. Sent exactly once,
	// first, on every stream attach.
	EventInit EventKind = "init"

	// EventTaskUpdate carries one complete task snapshot. Every mutation
	// produces one; the payload is always full state, never a delta, so
	// at-least-once, any-order delivery is safe to apply.
	EventTaskUpdate EventKind = "task_update"
)

// Event is one message on the live stream.
type Event struct {
	// ID identifies the event for logging and debugging; clients do not
	// rely on it for deduplication (full-state payloads make that
	// unnecessary).
	ID uuid.UUID `json:"id"`

	Kind      EventKind `json:"kind"`
	CreatedAt time.Time `json:"created_at"`

	// Task is set for task_update events.
	Task *domain.Task `json:"task,omitempty"`

	// Tasks is set for init events.
	Tasks []*domain.Task `json:"tasks,omitempty"`
}

// NewTaskUpdate builds a task_update event around a task snapshot.
func NewTaskUpdate(task *domain.Task) Event {
	return Event{
		ID:        uuid.New(),
		Kind:      EventTaskUpdate,
		CreatedAt: time.Now().UTC(),
		Task:      task,
	}
}

// NewInit builds an init event around a full task listing.
func NewInit(tasks []*domain.Task) Event {
	return Event{
		ID:        uuid.New(),
		Kind:      EventInit,
		CreatedAt: time.Now().UTC(),
		Tasks:     tasks,
	}
}

// Data serializes the event payload for the wire: the bare task for
// task_update, the bare task array for init. The event kind travels as the
// SSE event name, not inside the payload.
func (e Event) Data() ([]byte, error) {
	if e.Kind == EventInit {
		if e.Tasks == nil {
			return json.Marshal([]*domain.Task{})
		}
		return json.Marshal(e.Tasks)
	}
	return json.Marshal(e.Task)
}
