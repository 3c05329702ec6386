package client

import (
	"fmt"
	"sync"

	"github.com/cinelog/cinelog-api/internal/domain"
)

// Severity classifies a notification for presentation.
type Severity string

// Notification severities.
const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Notification is one user-facing event produced by an item reaching a
// terminal state.
type Notification struct {
	TaskID   int64
	ItemID   int64
	Title    string
	Message  string
	Severity Severity
}

// Detector turns incoming task snapshots into one-shot notifications. It
// keeps, per task id, the item-status map from the previous observation;
// a notification is emitted only when an item's status differs from that
// map and is now terminal. Redelivering the same snapshot (which every
// reconnect deliberately does) therefore never duplicates a notification.
type Detector struct {
	mu   sync.Mutex
	prev map[int64]map[int64]domain.ItemStatus
}

// NewDetector creates a detector with no observed state.
func NewDetector() *Detector {
	return &Detector{prev: make(map[int64]map[int64]domain.ItemStatus)}
}

// Observe compares the task against its previous item-status snapshot and
// returns the notifications for items that newly became terminal, then
// stores the new snapshot. The first observation of a task seeds the
// baseline silently: items that were already terminal before this session
// saw the task are not announced.
func (d *Detector) Observe(t *domain.Task) []Notification {
	if t == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	previous, seen := d.prev[t.ID]

	next := make(map[int64]domain.ItemStatus, len(t.Items))
	var out []Notification
	for i := range t.Items {
		item := &t.Items[i]
		next[item.ID] = item.Status

		if !seen {
			continue
		}
		if !item.Status.Terminal() {
			continue
		}
		if previous[item.ID] == item.Status {
			continue
		}
		out = append(out, buildNotification(t, item))
	}
	d.prev[t.ID] = next
	return out
}

// Forget drops the stored snapshot for a task, e.g. once it leaves the
// view for good.
func (d *Detector) Forget(taskID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.prev, taskID)
}

func buildNotification(t *domain.Task, item *domain.Item) Notification {
	n := Notification{
		TaskID: t.ID,
		ItemID: item.ID,
		Title:  t.Type,
	}
	if item.Status == domain.ItemStatusFailed {
		n.Severity = SeverityError
		n.Message = fmt.Sprintf("item %d of %d failed", item.Index+1, t.TotalItems)
	} else {
		n.Severity = SeverityInfo
		n.Message = fmt.Sprintf("item %d of %d finished", item.Index+1, t.TotalItems)
	}
	return n
}
