package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cinelog/cinelog-api/internal/broadcast"
	"github.com/cinelog/cinelog-api/internal/domain"
	"github.com/cinelog/cinelog-api/internal/store"
)

// RunnerConfig holds configuration for the task runner.
type RunnerConfig struct {
	// WorkerCount determines how many tasks may run concurrently. Items
	// within one task are always executed serially, in index order.
	WorkerCount int

	// PollInterval bounds how long an idle worker waits before re-checking
	// the store for claimable work. Enqueues wake workers immediately;
	// the poll is a backstop.
	PollInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:  2,
		PollInterval: 2 * time.Second,
	}
}

// Runner owns the worker pool. Workers claim queued tasks from the store,
// execute their items through registered handlers, and publish every
// resulting task snapshot to the broadcast hub.
type Runner struct {
	store     store.TaskStore
	registry  *Registry
	publisher *broadcast.Publisher
	config    RunnerConfig
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}
}

// NewRunner creates a runner over the given store, handler registry, and
// publisher.
func NewRunner(
	taskStore store.TaskStore,
	registry *Registry,
	publisher *broadcast.Publisher,
	config RunnerConfig,
	logger *slog.Logger,
) *Runner {
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:     taskStore,
		registry:  registry,
		publisher: publisher,
		config:    config,
		logger:    logger.With("component", "task_runner"),
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
	}
}

// Start launches the worker goroutines.
func (r *Runner) Start() {
	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.logger.Info("task runner started", "worker_count", r.config.WorkerCount)
}

// Stop shuts the pool down. Workers finish their current item and return;
// a task left running is deliberately not recovered on the next start.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("task runner stopped")
}

// Notify wakes an idle worker after an enqueue. Non-blocking; a single
// pending wake-up is enough since workers drain the store when they run.
func (r *Runner) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// worker repeatedly claims and runs tasks until shutdown.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	logger := r.logger.With("worker_id", id)
	logger.Debug("starting worker")

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		claimed, ok := r.store.ClaimNext()
		if ok {
			r.runTask(claimed, logger)
			continue
		}

		select {
		case <-r.ctx.Done():
			logger.Debug("stopping worker")
			return
		case <-r.wake:
		case <-ticker.C:
		}
	}
}

// runTask executes one claimed task's items strictly in index order. The
// worker owns all mutation of the task until it reaches a terminal state,
// checking for cancellation (and shutdown) between items.
func (r *Runner) runTask(claimed *domain.Task, logger *slog.Logger) {
	logger = logger.With("task_id", claimed.ID, "task_type", claimed.Type)
	logger.Info("processing task", "total_items", claimed.TotalItems)

	// The queued->running transition is a mutation observers care about.
	r.publisher.TaskChanged(claimed)

	handler, err := r.registry.Resolve(claimed.Type)

	for _, item := range claimed.Items {
		select {
		case <-r.ctx.Done():
			logger.Warn("shutdown while task in flight, leaving task running")
			return
		default:
		}

		current, getErr := r.store.Get(claimed.ID)
		if getErr != nil {
			logger.Error("task disappeared mid-run", "error", getErr)
			return
		}
		if current.Status != domain.TaskStatusRunning {
			// Canceled between items: remaining items stay queued.
			logger.Info("task no longer running, stopping item loop",
				"status", current.Status,
				"completed_items", current.CompletedItems)
			return
		}

		snapshot, updErr := r.store.UpdateItem(claimed.ID, item.ID, domain.ItemStatusRunning, nil)
		if updErr != nil {
			logger.Error("failed to mark item running", "item_id", item.ID, "error", updErr)
			return
		}
		r.publisher.TaskChanged(snapshot)

		result, execErr := r.executeItem(handler, err, item.Payload)

		status := domain.ItemStatusCompleted
		if execErr != nil {
			// A failed item never aborts its siblings; partial failure is
			// a first-class outcome.
			status = domain.ItemStatusFailed
			result = errorResult(execErr)
			logger.Warn("item failed",
				"item_id", item.ID,
				"item_index", item.Index,
				"error", execErr)
		}

		snapshot, updErr = r.store.UpdateItem(claimed.ID, item.ID, status, result)
		if updErr != nil {
			logger.Error("failed to record item result", "item_id", item.ID, "error", updErr)
			return
		}
		r.publisher.TaskChanged(snapshot)

		if snapshot.Status.Terminal() {
			logger.Info("task finished",
				"status", snapshot.Status,
				"failed_items", snapshot.FailedItems())
		}
	}
}

// executeItem invokes the handler for one payload, converting panics into
// item failures so one malformed payload cannot take down the worker.
func (r *Runner) executeItem(
	handler Handler,
	resolveErr error,
	payload json.RawMessage,
) (result json.RawMessage, err error) {
	if resolveErr != nil {
		return nil, resolveErr
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()

	return handler.Execute(r.ctx, payload)
}

// errorResult encodes a handler failure as the item's result detail.
func errorResult(err error) json.RawMessage {
	data, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return json.RawMessage(`{"error":"unserializable handler error"}`)
	}
	return data
}
