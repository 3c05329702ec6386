// Package client implements the observer side of the live-sync protocol:
// a reconciler that merges snapshots and incremental updates into one
// consistent task view, a detector that turns item state transitions into
// one-shot notifications, and a session that keeps both fed from the
// server's SSE stream across disconnects.
package client

import (
	"sort"
	"sync"

	"github.com/cinelog/cinelog-api/internal/domain"
)

// Reconciler owns one session's local task view. Updates may arrive
// duplicated, reordered, or not at all; because every update carries the
// complete task, the merge is last-write-wins on task id and replaying any
// sequence of events converges to the same view.
type Reconciler struct {
	mu    sync.Mutex
	tasks map[int64]*domain.Task
}

// NewReconciler creates an empty view.
func NewReconciler() *Reconciler {
	return &Reconciler{tasks: make(map[int64]*domain.Task)}
}

// ReplaceAll swaps the entire view for a full snapshot. Used on stream
// open, on the init event, and on every resync: any gap accrued while
// disconnected is healed wholesale.
func (r *Reconciler) ReplaceAll(tasks []*domain.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks = make(map[int64]*domain.Task, len(tasks))
	for _, t := range tasks {
		r.tasks[t.ID] = t.Clone()
	}
}

// Apply merges one incremental update: any existing entry with the same
// id is replaced outright. Applying the same event twice, or events for
// the same task in any order, is safe.
func (r *Reconciler) Apply(t *domain.Task) {
	if t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = t.Clone()
}

// Tasks returns the view sorted by created_at descending (a display
// convenience, not a correctness requirement).
func (r *Reconciler) Tasks() []*domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Task returns one task from the view.
func (r *Reconciler) Task(id int64) (*domain.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Len reports the number of tasks in the view.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
