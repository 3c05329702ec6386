package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatusTerminal(t *testing.T) {
	assert.False(t, TaskStatusQueued.Terminal())
	assert.False(t, TaskStatusRunning.Terminal())
	assert.True(t, TaskStatusCompleted.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
	assert.True(t, TaskStatusCanceled.Terminal())
	assert.True(t, TaskStatusDeleted.Terminal())
}

func TestTaskStatusActive(t *testing.T) {
	assert.True(t, TaskStatusQueued.Active())
	assert.True(t, TaskStatusRunning.Active())
	assert.False(t, TaskStatusCompleted.Active())
	assert.False(t, TaskStatusCanceled.Active())
}

func TestItemStatusTerminal(t *testing.T) {
	assert.False(t, ItemStatusQueued.Terminal())
	assert.False(t, ItemStatusRunning.Terminal())
	assert.True(t, ItemStatusCompleted.Terminal())
	assert.True(t, ItemStatusFailed.Terminal())
}

func TestCloneIsDeep(t *testing.T) {
	task := &Task{
		ID:        1,
		Type:      TaskTypeScrapeBatch,
		Status:    TaskStatusRunning,
		CreatedAt: time.Now(),
		Items: []Item{
			{ID: 1, Index: 0, Status: ItemStatusCompleted},
			{ID: 2, Index: 1, Status: ItemStatusQueued},
		},
	}

	clone := task.Clone()
	clone.Items[1].Status = ItemStatusFailed
	clone.Status = TaskStatusFailed

	assert.Equal(t, ItemStatusQueued, task.Items[1].Status)
	assert.Equal(t, TaskStatusRunning, task.Status)
}

func TestCompletedWithFailures(t *testing.T) {
	task := &Task{
		Status: TaskStatusCompleted,
		Items: []Item{
			{Status: ItemStatusCompleted},
			{Status: ItemStatusCompleted},
		},
	}
	assert.False(t, task.CompletedWithFailures())

	task.Items[1].Status = ItemStatusFailed
	assert.True(t, task.CompletedWithFailures())
	assert.Equal(t, 1, task.FailedItems())

	// The projection only applies to tasks that are stored as completed.
	task.Status = TaskStatusRunning
	assert.False(t, task.CompletedWithFailures())
}
