package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinelog/cinelog-api/internal/domain"
)

func threeItemTask(statuses ...domain.ItemStatus) *domain.Task {
	task := &domain.Task{
		ID:         1,
		Type:       domain.TaskTypeScrapeBatch,
		Status:     domain.TaskStatusRunning,
		TotalItems: len(statuses),
		Items:      make([]domain.Item, len(statuses)),
	}
	for i, s := range statuses {
		task.Items[i] = domain.Item{ID: int64(i + 1), Index: i, Status: s}
	}
	return task
}

func TestDetectorEmitsOncePerTerminalTransition(t *testing.T) {
	d := NewDetector()

	// Baseline: all queued.
	notifs := d.Observe(threeItemTask(
		domain.ItemStatusQueued, domain.ItemStatusQueued, domain.ItemStatusQueued))
	assert.Empty(t, notifs)

	// First item completes.
	notifs = d.Observe(threeItemTask(
		domain.ItemStatusCompleted, domain.ItemStatusRunning, domain.ItemStatusQueued))
	require.Len(t, notifs, 1)
	assert.Equal(t, int64(1), notifs[0].ItemID)
	assert.Equal(t, SeverityInfo, notifs[0].Severity)

	// Running is not terminal: no notification for item 2 yet.
	notifs = d.Observe(threeItemTask(
		domain.ItemStatusCompleted, domain.ItemStatusRunning, domain.ItemStatusQueued))
	assert.Empty(t, notifs)
}

func TestDetectorDuplicateDelivery(t *testing.T) {
	d := NewDetector()

	d.Observe(threeItemTask(domain.ItemStatusQueued))
	final := threeItemTask(domain.ItemStatusFailed)

	// The same terminal snapshot delivered three times in a row yields
	// exactly one notification.
	total := 0
	for i := 0; i < 3; i++ {
		total += len(d.Observe(final))
	}
	assert.Equal(t, 1, total)
}

func TestDetectorPartialFailureScenario(t *testing.T) {
	d := NewDetector()

	// Task with 3 items where item 2 fails: one notification per item,
	// three total, with the failed one carrying error severity.
	d.Observe(threeItemTask(
		domain.ItemStatusQueued, domain.ItemStatusQueued, domain.ItemStatusQueued))

	var all []Notification
	all = append(all, d.Observe(threeItemTask(
		domain.ItemStatusCompleted, domain.ItemStatusQueued, domain.ItemStatusQueued))...)
	all = append(all, d.Observe(threeItemTask(
		domain.ItemStatusCompleted, domain.ItemStatusFailed, domain.ItemStatusQueued))...)
	all = append(all, d.Observe(threeItemTask(
		domain.ItemStatusCompleted, domain.ItemStatusFailed, domain.ItemStatusCompleted))...)

	require.Len(t, all, 3)
	bySeverity := map[Severity]int{}
	for _, n := range all {
		bySeverity[n.Severity]++
	}
	assert.Equal(t, 2, bySeverity[SeverityInfo])
	assert.Equal(t, 1, bySeverity[SeverityError])
	assert.Equal(t, int64(2), all[1].ItemID)
	assert.Contains(t, all[1].Message, "failed")
}

func TestDetectorSeedsFirstObservationSilently(t *testing.T) {
	d := NewDetector()

	// A task first seen with already-terminal items (e.g. in the init
	// snapshot of a fresh session) does not replay old outcomes.
	notifs := d.Observe(threeItemTask(
		domain.ItemStatusCompleted, domain.ItemStatusFailed))
	assert.Empty(t, notifs)

	// But a transition observed after that baseline still fires, even
	// for an item the baseline had not listed yet.
	notifs = d.Observe(threeItemTask(
		domain.ItemStatusCompleted, domain.ItemStatusFailed, domain.ItemStatusCompleted))
	require.Len(t, notifs, 1)
	assert.Equal(t, int64(3), notifs[0].ItemID)
}

func TestDetectorForget(t *testing.T) {
	d := NewDetector()
	d.Observe(threeItemTask(domain.ItemStatusQueued))
	d.Forget(1)

	// After forgetting, the next observation is a fresh baseline.
	notifs := d.Observe(threeItemTask(domain.ItemStatusCompleted))
	assert.Empty(t, notifs)
}
