// Package task implements the asynchronous execution engine: a bounded
// worker pool that claims pending tasks, runs the external processor, and
// records the outcome through the store's conditional-update contract.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/MRwang520a/pixelstudio-api/internal/domain"
	"github.com/MRwang520a/pixelstudio-api/internal/processing"
	"github.com/MRwang520a/pixelstudio-api/internal/store"
)

// DispatcherConfig holds configuration for the dispatcher.
type DispatcherConfig struct {
	// WorkerCount determines how many concurrent workers process tasks.
	// It bounds in-flight external-processor invocations.
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory dispatch queue.
	QueueSize int

	// ProcessTimeout caps a single external-processor invocation. When it
	// elapses the invocation is treated as a failure.
	ProcessTimeout time.Duration

	// StuckTaskAge defines how long a task can sit in processing state
	// before it's considered stuck and reset to pending.
	StuckTaskAge time.Duration

	// StuckTaskCheckInterval defines how often to check for stuck tasks.
	// If zero, defaults to 5 minutes.
	StuckTaskCheckInterval time.Duration
}

// DefaultDispatcherConfig returns a DispatcherConfig with reasonable defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		WorkerCount:            4,
		QueueSize:              100,
		ProcessTimeout:         2 * time.Minute,
		StuckTaskAge:           30 * time.Minute,
		StuckTaskCheckInterval: 5 * time.Minute,
	}
}

// Dispatcher manages background task processing. Every status change it
// makes goes through the store's conditional update keyed on the expected
// prior status, so a cancellation that lands first always wins and a late
// processor outcome is discarded, never applied over a terminal state.
type Dispatcher struct {
	taskStore  store.TaskStore
	processor  processing.Processor
	queue      *Queue
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	config     DispatcherConfig
	logger     *slog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(
	taskStore store.TaskStore,
	processor processing.Processor,
	config DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.StuckTaskCheckInterval == 0 {
		config.StuckTaskCheckInterval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		taskStore:  taskStore,
		processor:  processor,
		queue:      NewQueue(config.QueueSize, logger),
		ctx:        ctx,
		cancelFunc: cancel,
		config:     config,
		logger:     logger,
	}
}

// Submit enqueues an already-persisted task for asynchronous execution.
// The creator never blocks on execution; a full queue is reported as an
// error and the task is picked up later by the recovery sweep.
func (d *Dispatcher) Submit(ctx context.Context, taskID uuid.UUID) error {
	if err := d.queue.Enqueue(taskID); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Start recovers unfinished tasks and launches the worker pool and the
// stuck-task monitor.
func (d *Dispatcher) Start() error {
	if err := d.Recover(); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	for i := 0; i < d.config.WorkerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.wg.Add(1)
	go d.stuckTaskMonitor()

	return nil
}

// Stop gracefully shuts down the dispatcher, waiting for in-flight tasks.
func (d *Dispatcher) Stop() {
	d.cancelFunc()
	d.wg.Wait()
	d.queue.Close()
}

// Recover re-enqueues tasks left pending by a previous run, and resets
// stale processing tasks (interrupted by a crash) back to pending through
// the conditional update, so a task that actually completed in the interim
// is never clobbered.
func (d *Dispatcher) Recover() error {
	ctx := context.Background()

	pending, err := d.taskStore.FindByStatus(ctx, domain.TaskStatusPending, 0, d.config.QueueSize)
	if err != nil {
		return fmt.Errorf("failed to load pending tasks: %w", err)
	}

	stale, err := d.taskStore.FindByStatus(ctx, domain.TaskStatusProcessing, 0, d.config.QueueSize)
	if err != nil {
		return fmt.Errorf("failed to load processing tasks: %w", err)
	}

	d.logger.Info("recovering unfinished tasks",
		"pending_count", len(pending),
		"processing_count", len(stale))

	for _, t := range pending {
		if err := d.queue.Enqueue(t.ID); err != nil {
			d.logger.Error("failed to requeue pending task",
				"task_id", t.ID,
				"task_type", t.Type,
				"error", err)
		}
	}

	for _, t := range stale {
		err := d.taskStore.UpdateStatus(ctx, t.ID,
			domain.TaskStatusProcessing, domain.TaskStatusPending, store.TaskUpdate{})
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				// Task moved on while we were recovering, nothing to do.
				continue
			}
			d.logger.Error("failed to reset processing task",
				"task_id", t.ID,
				"task_type", t.Type,
				"error", err)
			continue
		}

		if err := d.queue.Enqueue(t.ID); err != nil {
			d.logger.Error("failed to requeue processing task",
				"task_id", t.ID,
				"task_type", t.Type,
				"error", err)
		}
	}

	return nil
}

// worker consumes task IDs from the queue.
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Debug("stopping worker", "worker_id", id)
			return

		case taskID, ok := <-d.queue.GetChannel():
			if !ok {
				d.logger.Debug("task channel closed, stopping worker", "worker_id", id)
				return
			}

			d.processTask(taskID, id)
		}
	}
}

// processTask runs one task through its lifecycle:
// claim pending->processing, invoke the processor, apply the outcome.
func (d *Dispatcher) processTask(taskID uuid.UUID, workerID int) {
	ctx := context.Background()
	log := d.logger.With(
		"task_id", taskID,
		"worker_id", workerID,
	)

	// Claim the task. Losing this conditional update means the task was
	// cancelled (or already claimed) and the processor must not run.
	err := d.taskStore.UpdateStatus(ctx, taskID,
		domain.TaskStatusPending, domain.TaskStatusProcessing, store.TaskUpdate{})
	if err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrTaskNotFound) {
			log.Debug("task no longer claimable, skipping", "error", err)
			return
		}
		log.Error("failed to claim task", "error", err)
		return
	}

	t, err := d.taskStore.GetByID(ctx, taskID)
	if err != nil {
		log.Error("failed to load claimed task", "error", err)
		return
	}

	log = log.With("task_type", t.Type)
	log.Info("processing task")

	if err := validateInput(t); err != nil {
		log.Warn("task input validation failed", "error", err)
		d.recordFailure(ctx, log, t, err)
		return
	}

	result, err := d.invokeProcessor(t)
	if err != nil {
		log.Error("task execution failed", "error", err)
		d.recordFailure(ctx, log, t, err)
		return
	}

	completedAt := time.Now().UTC()
	err = d.taskStore.UpdateStatus(ctx, t.ID,
		domain.TaskStatusProcessing, domain.TaskStatusCompleted, store.TaskUpdate{
			OutputRef:       result.OutputRef,
			MergeParameters: result.Metadata,
			CompletedAt:     &completedAt,
		})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Cancellation won the race; the result is discarded.
			log.Info("task was cancelled before completion, discarding result")
			return
		}
		log.Error("failed to record task completion", "error", err)
		return
	}

	log.Info("task completed successfully")
}

// invokeProcessor calls the external processor with the configured timeout.
// The call is untrusted: it may take arbitrary time and fail with any error.
func (d *Dispatcher) invokeProcessor(t *domain.Task) (*processing.Result, error) {
	ctx := context.Background()
	if d.config.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ProcessTimeout)
		defer cancel()
	}

	result, err := d.processor.Process(ctx, processing.Request{
		TaskType:   t.Type,
		InputRef:   t.InputRef,
		Parameters: t.Parameters,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("processing timed out after %s: %w", d.config.ProcessTimeout, err)
		}
		return nil, err
	}
	if result == nil || result.OutputRef == "" {
		return nil, fmt.Errorf("%w: processor returned no output reference", processing.ErrInvalidResponse)
	}

	return result, nil
}

// recordFailure writes the terminal failed state. A conflict means
// cancellation got there first, which is also a failed terminal state, so
// the outcome is simply discarded.
func (d *Dispatcher) recordFailure(ctx context.Context, log *slog.Logger, t *domain.Task, cause error) {
	completedAt := time.Now().UTC()
	err := d.taskStore.UpdateStatus(ctx, t.ID,
		domain.TaskStatusProcessing, domain.TaskStatusFailed, store.TaskUpdate{
			ErrorMessage: cause.Error(),
			CompletedAt:  &completedAt,
		})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Info("task was cancelled before failure was recorded, discarding outcome")
			return
		}
		log.Error("failed to record task failure", "error", err)
	}
}

// validateInput enforces the per-type input rules at dispatch time.
// inputRef is also checked at creation; the prompt lives in the open
// parameters payload and is only verifiable here.
func validateInput(t *domain.Task) error {
	if t.Type.RequiresInputRef() && t.InputRef == "" {
		return fmt.Errorf("input image reference is required for %s tasks", t.Type)
	}

	if t.Type.RequiresPrompt() {
		if _, ok := t.Parameters.Prompt(); !ok {
			return fmt.Errorf("prompt parameter is required for %s tasks", t.Type)
		}
	}

	return nil
}

// stuckTaskMonitor periodically resets tasks that have been in processing
// state for too long (e.g. after a worker died mid-flight) and re-enqueues
// pending tasks that never made it into the queue.
func (d *Dispatcher) stuckTaskMonitor() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.StuckTaskCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			ctx := context.Background()
			d.resetStuckTasks(ctx)
			d.requeueOrphanedPending(ctx)
		}
	}
}

// resetStuckTasks moves long-running processing tasks back to pending
// through the conditional update and re-enqueues them.
func (d *Dispatcher) resetStuckTasks(ctx context.Context) {
	stuck, err := d.taskStore.FindByStatus(ctx,
		domain.TaskStatusProcessing, d.config.StuckTaskAge, d.config.QueueSize)
	if err != nil {
		d.logger.Error("failed to check for stuck tasks", "error", err)
		return
	}

	if len(stuck) == 0 {
		return
	}

	d.logger.Info("found stuck tasks", "count", len(stuck))

	for _, t := range stuck {
		err := d.taskStore.UpdateStatus(ctx, t.ID,
			domain.TaskStatusProcessing, domain.TaskStatusPending, store.TaskUpdate{})
		if err != nil {
			if !errors.Is(err, store.ErrConflict) {
				d.logger.Error("failed to reset stuck task",
					"task_id", t.ID,
					"task_type", t.Type,
					"error", err)
			}
			continue
		}

		if err := d.queue.Enqueue(t.ID); err != nil {
			d.logger.Error("failed to requeue stuck task",
				"task_id", t.ID,
				"task_type", t.Type,
				"error", err)
			continue
		}

		d.logger.Info("requeued stuck task",
			"task_id", t.ID,
			"task_type", t.Type)
	}
}

// requeueOrphanedPending picks up pending tasks stranded outside the queue,
// e.g. when Submit hit a full queue at creation time. A task that is still
// sitting in the queue may get enqueued twice; the second claim loses the
// conditional update and is skipped by the worker.
func (d *Dispatcher) requeueOrphanedPending(ctx context.Context) {
	orphaned, err := d.taskStore.FindByStatus(ctx,
		domain.TaskStatusPending, d.config.StuckTaskCheckInterval, d.config.QueueSize)
	if err != nil {
		d.logger.Error("failed to check for orphaned pending tasks", "error", err)
		return
	}

	for _, t := range orphaned {
		if err := d.queue.Enqueue(t.ID); err != nil {
			// Queue is full again; the rest wait for the next sweep.
			d.logger.Warn("failed to requeue orphaned pending task",
				"task_id", t.ID,
				"task_type", t.Type,
				"error", err)
			return
		}

		d.logger.Info("requeued orphaned pending task",
			"task_id", t.ID,
			"task_type", t.Type)
	}
}
