package memory

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinelog/cinelog-api/internal/domain"
	"github.com/cinelog/cinelog-api/internal/store"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func payloads(n int) []json.RawMessage {
	out := make([]json.RawMessage, n)
	for i := range out {
		out[i] = json.RawMessage(`{"movie_id":` + string(rune('0'+i)) + `}`)
	}
	return out
}

func TestEnqueue(t *testing.T) {
	s := New(setupTestLogger())

	task, err := s.Enqueue(domain.TaskTypeScrapeBatch, payloads(3), json.RawMessage(`{"path":"/movies"}`))
	require.NoError(t, err)

	assert.Equal(t, int64(1), task.ID)
	assert.Equal(t, domain.TaskStatusQueued, task.Status)
	assert.Equal(t, 3, task.TotalItems)
	assert.Equal(t, 0, task.CompletedItems)
	require.Len(t, task.Items, 3)
	for i, item := range task.Items {
		assert.Equal(t, i, item.Index)
		assert.Equal(t, domain.ItemStatusQueued, item.Status)
	}

	// Sequential ids.
	second, err := s.Enqueue(domain.TaskTypeRenameBatch, payloads(1), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.ID)
}

func TestEnqueueRejectsEmptyItems(t *testing.T) {
	s := New(setupTestLogger())

	_, err := s.Enqueue(domain.TaskTypeScrapeBatch, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTask)

	// No task was created.
	assert.Empty(t, s.ListVisible(store.ScopeCurrent))
	assert.Empty(t, s.ListVisible(store.ScopeHistory))
}

func TestEnqueueRejectsEmptyType(t *testing.T) {
	s := New(setupTestLogger())

	_, err := s.Enqueue("  ", payloads(1), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTask)
}

func TestClaimNext(t *testing.T) {
	s := New(setupTestLogger())

	_, ok := s.ClaimNext()
	assert.False(t, ok)

	enqueued, err := s.Enqueue(domain.TaskTypeDeleteBatch, payloads(1), nil)
	require.NoError(t, err)

	claimed, ok := s.ClaimNext()
	require.True(t, ok)
	assert.Equal(t, enqueued.ID, claimed.ID)
	assert.Equal(t, domain.TaskStatusRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	// Already claimed, nothing left.
	_, ok = s.ClaimNext()
	assert.False(t, ok)
}

func TestClaimNextConcurrent(t *testing.T) {
	s := New(setupTestLogger())
	_, err := s.Enqueue(domain.TaskTypeScrapeBatch, payloads(1), nil)
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := s.ClaimNext()
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for ok := range results {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one caller must claim the task")
}

func runAllItems(t *testing.T, s *Store, task *domain.Task, failIndex int) *domain.Task {
	t.Helper()
	var snapshot *domain.Task
	for _, item := range task.Items {
		var err error
		_, err = s.UpdateItem(task.ID, item.ID, domain.ItemStatusRunning, nil)
		require.NoError(t, err)
		status := domain.ItemStatusCompleted
		result := json.RawMessage(`{"ok":true}`)
		if item.Index == failIndex {
			status = domain.ItemStatusFailed
			result = json.RawMessage(`{"error":"handler failed"}`)
		}
		snapshot, err = s.UpdateItem(task.ID, item.ID, status, result)
		require.NoError(t, err)
	}
	return snapshot
}

func TestTaskCompletesWhenAllItemsSucceed(t *testing.T) {
	s := New(setupTestLogger())
	task, err := s.Enqueue(domain.TaskTypeAnalyzeBatch, payloads(3), nil)
	require.NoError(t, err)
	claimed, ok := s.ClaimNext()
	require.True(t, ok)

	final := runAllItems(t, s, claimed, -1)

	assert.Equal(t, domain.TaskStatusCompleted, final.Status)
	assert.Equal(t, 3, final.CompletedItems)
	assert.NotNil(t, final.FinishedAt)
	assert.False(t, final.CompletedWithFailures())
	_ = task
}

func TestTaskFailsWhenAnyItemFails(t *testing.T) {
	s := New(setupTestLogger())
	_, err := s.Enqueue(domain.TaskTypeScrapeBatch, payloads(3), nil)
	require.NoError(t, err)
	claimed, ok := s.ClaimNext()
	require.True(t, ok)

	final := runAllItems(t, s, claimed, 1)

	// One failed item still counts toward progress; the task-level status
	// is failed once everything is terminal.
	assert.Equal(t, 3, final.CompletedItems)
	assert.Equal(t, domain.TaskStatusFailed, final.Status)
	assert.Equal(t, domain.ItemStatusCompleted, final.Items[0].Status)
	assert.Equal(t, domain.ItemStatusFailed, final.Items[1].Status)
	assert.Equal(t, domain.ItemStatusCompleted, final.Items[2].Status)
}

func TestCompletedItemsMonotonic(t *testing.T) {
	s := New(setupTestLogger())
	_, err := s.Enqueue(domain.TaskTypeScrapeBatch, payloads(4), nil)
	require.NoError(t, err)
	claimed, ok := s.ClaimNext()
	require.True(t, ok)

	prev := 0
	for _, item := range claimed.Items {
		snap, err := s.UpdateItem(claimed.ID, item.ID, domain.ItemStatusRunning, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, snap.CompletedItems, prev)
		snap, err = s.UpdateItem(claimed.ID, item.ID, domain.ItemStatusCompleted, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, snap.CompletedItems, prev)
		assert.LessOrEqual(t, snap.CompletedItems, snap.TotalItems)
		prev = snap.CompletedItems
	}
	assert.Equal(t, 4, prev)
}

func TestCancelQueuedTask(t *testing.T) {
	s := New(setupTestLogger())
	task, err := s.Enqueue(domain.TaskTypeScrapeBatch, payloads(2), nil)
	require.NoError(t, err)

	snap, changed, err := s.Cancel(task.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.TaskStatusCanceled, snap.Status)

	// The canceled task is no longer claimable: no item ever runs.
	_, ok := s.ClaimNext()
	assert.False(t, ok)
	for _, item := range snap.Items {
		assert.Equal(t, domain.ItemStatusQueued, item.Status)
	}
}

func TestCancelRunningTaskFreezesRemainingItems(t *testing.T) {
	s := New(setupTestLogger())
	_, err := s.Enqueue(domain.TaskTypeRenameBatch, payloads(3), nil)
	require.NoError(t, err)
	claimed, ok := s.ClaimNext()
	require.True(t, ok)

	// First item is in flight when the cancel lands.
	_, err = s.UpdateItem(claimed.ID, claimed.Items[0].ID, domain.ItemStatusRunning, nil)
	require.NoError(t, err)

	_, changed, err := s.Cancel(claimed.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	// The in-flight item may still finish.
	snap, err := s.UpdateItem(claimed.ID, claimed.Items[0].ID, domain.ItemStatusCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCanceled, snap.Status)
	assert.Equal(t, domain.ItemStatusCompleted, snap.Items[0].Status)

	// Subsequent items must not start.
	_, err = s.UpdateItem(claimed.ID, claimed.Items[1].ID, domain.ItemStatusRunning, nil)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	assert.Equal(t, domain.ItemStatusQueued, snap.Items[1].Status)
}

func TestCancelTerminalTaskIsNoOp(t *testing.T) {
	s := New(setupTestLogger())
	_, err := s.Enqueue(domain.TaskTypeScrapeBatch, payloads(1), nil)
	require.NoError(t, err)
	claimed, ok := s.ClaimNext()
	require.True(t, ok)
	runAllItems(t, s, claimed, -1)

	snap, changed, err := s.Cancel(claimed.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.TaskStatusCompleted, snap.Status)
}

func TestSoftDeleteRunningTaskRejected(t *testing.T) {
	s := New(setupTestLogger())
	_, err := s.Enqueue(domain.TaskTypeDeleteBatch, payloads(1), nil)
	require.NoError(t, err)
	claimed, ok := s.ClaimNext()
	require.True(t, ok)

	_, err = s.SoftDelete(claimed.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	got, err := s.Get(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRunning, got.Status)
}

func TestSoftDeleteTerminalTask(t *testing.T) {
	s := New(setupTestLogger())
	task, err := s.Enqueue(domain.TaskTypeScrapeBatch, payloads(1), nil)
	require.NoError(t, err)
	_, changed, err := s.Cancel(task.ID)
	require.NoError(t, err)
	require.True(t, changed)

	snap, err := s.SoftDelete(task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusDeleted, snap.Status)

	// Deleted records stay readable for history.
	got, err := s.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusDeleted, got.Status)
}

func TestNotFound(t *testing.T) {
	s := New(setupTestLogger())

	_, err := s.Get(42)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	_, _, err = s.Cancel(42)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	_, err = s.SoftDelete(42)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	_, err = s.UpdateItem(42, 1, domain.ItemStatusRunning, nil)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	task, err := s.Enqueue(domain.TaskTypeScrapeBatch, payloads(1), nil)
	require.NoError(t, err)
	_, ok := s.ClaimNext()
	require.True(t, ok)
	_, err = s.UpdateItem(task.ID, 999, domain.ItemStatusRunning, nil)
	assert.ErrorIs(t, err, store.ErrItemNotFound)
}

func TestListVisibleScopes(t *testing.T) {
	s := New(setupTestLogger())

	queued, err := s.Enqueue(domain.TaskTypeScrapeBatch, payloads(1), nil)
	require.NoError(t, err)

	completed, err := s.Enqueue(domain.TaskTypeAnalyzeBatch, payloads(1), nil)
	require.NoError(t, err)
	partial, err := s.Enqueue(domain.TaskTypeRenameBatch, payloads(2), nil)
	require.NoError(t, err)

	// Run the completed task cleanly. The queued task (id 1) is claimed
	// first, so cancel it out of the way before claiming the others.
	_, changed, err := s.Cancel(queued.ID)
	require.NoError(t, err)
	require.True(t, changed)

	claimed, ok := s.ClaimNext()
	require.True(t, ok)
	require.Equal(t, completed.ID, claimed.ID)
	runAllItems(t, s, claimed, -1)

	claimed, ok = s.ClaimNext()
	require.True(t, ok)
	require.Equal(t, partial.ID, claimed.ID)
	runAllItems(t, s, claimed, 1)

	fresh, err := s.Enqueue(domain.TaskTypeDeleteBatch, payloads(1), nil)
	require.NoError(t, err)

	current := s.ListVisible(store.ScopeCurrent)
	history := s.ListVisible(store.ScopeHistory)

	currentIDs := ids(current)
	historyIDs := ids(history)

	// Failed-with-failures and queued tasks are current; cleanly
	// completed and canceled tasks are history.
	assert.ElementsMatch(t, []int64{partial.ID, fresh.ID}, currentIDs)
	assert.ElementsMatch(t, []int64{queued.ID, completed.ID}, historyIDs)

	// Newest first.
	require.Len(t, current, 2)
	assert.Equal(t, fresh.ID, current[0].ID)
}

func TestCompletedWithFailuresStaysCurrent(t *testing.T) {
	s := New(setupTestLogger())
	_, err := s.Enqueue(domain.TaskTypeScrapeBatch, payloads(2), nil)
	require.NoError(t, err)
	claimed, ok := s.ClaimNext()
	require.True(t, ok)

	// One item fails: task status is failed, which is current by rule.
	final := runAllItems(t, s, claimed, 0)
	require.Equal(t, domain.TaskStatusFailed, final.Status)
	assert.True(t, store.InScope(final, store.ScopeCurrent))

	// A stored-completed task with a failed item is also current via the
	// read-time projection.
	projected := final.Clone()
	projected.Status = domain.TaskStatusCompleted
	assert.True(t, projected.CompletedWithFailures())
	assert.True(t, store.InScope(projected, store.ScopeCurrent))
}

func TestClearCurrentSkipsActiveTasks(t *testing.T) {
	s := New(setupTestLogger())

	active, err := s.Enqueue(domain.TaskTypeScrapeBatch, payloads(1), nil)
	require.NoError(t, err)

	failed, err := s.Enqueue(domain.TaskTypeRenameBatch, payloads(1), nil)
	require.NoError(t, err)
	_, changed, err := s.Cancel(active.ID)
	require.NoError(t, err)
	require.True(t, changed)
	claimed, ok := s.ClaimNext()
	require.True(t, ok)
	require.Equal(t, failed.ID, claimed.ID)
	runAllItems(t, s, claimed, 0)

	again, err := s.Enqueue(domain.TaskTypeDeleteBatch, payloads(1), nil)
	require.NoError(t, err)

	cleared := s.Clear(store.ScopeCurrent)
	require.Len(t, cleared, 1) // only the failed task; queued one is kept
	assert.Equal(t, domain.TaskStatusDeleted, cleared[0].Status)

	got, err := s.Get(again.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, got.Status)
	got, err = s.Get(failed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusDeleted, got.Status)
}

func TestClearHistoryRemovesRecords(t *testing.T) {
	s := New(setupTestLogger())
	task, err := s.Enqueue(domain.TaskTypeScrapeBatch, payloads(1), nil)
	require.NoError(t, err)
	_, changed, err := s.Cancel(task.ID)
	require.NoError(t, err)
	require.True(t, changed)

	cleared := s.Clear(store.ScopeHistory)
	require.Len(t, cleared, 1)

	_, err = s.Get(task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestSnapshotsAreDetached(t *testing.T) {
	s := New(setupTestLogger())
	task, err := s.Enqueue(domain.TaskTypeScrapeBatch, payloads(1), nil)
	require.NoError(t, err)

	task.Status = domain.TaskStatusFailed
	task.Items[0].Status = domain.ItemStatusFailed

	got, err := s.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, got.Status)
	assert.Equal(t, domain.ItemStatusQueued, got.Items[0].Status)
}

func ids(tasks []*domain.Task) []int64 {
	out := make([]int64, len(tasks))
	for i, task := range tasks {
		out[i] = task.ID
	}
	return out
}
