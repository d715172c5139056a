package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MRwang520a/pixelstudio-api/internal/domain"
	"github.com/MRwang520a/pixelstudio-api/internal/events"
	"github.com/MRwang520a/pixelstudio-api/internal/store"
	"github.com/google/uuid"
)

// Pagination bounds for ListTasks.
const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ClampListLimit normalizes a requested page size to the bounds ListTasks
// applies: non-positive values fall back to the default, oversized values
// are capped.
func ClampListLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// cancelledByUserMessage is recorded as the error message of a task that
// the owner cancelled.
const cancelledByUserMessage = "task cancelled by user"

// cancelMaxAttempts bounds the conditional-update retry loop in CancelTask.
// A cancel can lose at most one race per lifecycle transition
// (pending -> processing -> terminal), so two retries always suffice.
const cancelMaxAttempts = 3

// StatusCache is an optional read cache in front of the task store for the
// polling path. Implementations return the cached task, or an error when
// the entry is absent or the cache is unreachable; callers treat any error
// as a miss.
type StatusCache interface {
	GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)
	SetTask(ctx context.Context, task *domain.Task) error
}

// TaskService provides task lifecycle operations.
type TaskService interface {
	// CreateTask validates and persists a new pending task, then emits a
	// TaskCreatedEvent so the dispatcher picks it up. The caller is
	// expected to have settled quota before calling this.
	CreateTask(
		ctx context.Context,
		userID uuid.UUID,
		taskType domain.TaskType,
		inputRef string,
		parameters domain.Params,
	) (*domain.Task, error)

	// GetTask retrieves a task owned by the given user.
	// Returns ErrTaskNotFound if the task does not exist or belongs to
	// another user.
	GetTask(ctx context.Context, userID, taskID uuid.UUID) (*domain.Task, error)

	// ListTasks retrieves the user's tasks newest-first with pagination,
	// along with the total number of matching tasks regardless of the
	// page. limit is clamped to [1, 100] with a default of 20; negative
	// offsets are treated as 0.
	ListTasks(
		ctx context.Context,
		userID uuid.UUID,
		filter store.TaskFilter,
		limit, offset int,
	) ([]*domain.Task, int, error)

	// CancelTask transitions a non-terminal task owned by the user to
	// failed with a cancellation message.
	// Returns ErrTaskNotFound if the task does not exist or belongs to
	// another user, and ErrCannotCancel if it already reached a terminal
	// state.
	CancelTask(ctx context.Context, userID, taskID uuid.UUID) error
}

// TaskServiceError wraps unexpected errors from the task service with context.
type TaskServiceError struct {
	// Operation is the operation that failed (e.g., "create_task", "cancel_task")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for TaskServiceError.
func (e *TaskServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TaskServiceError) Unwrap() error {
	return e.Err
}

// NewTaskServiceError creates a new TaskServiceError.
// It returns known sentinel errors directly without wrapping.
func NewTaskServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrCannotCancel) {
		return err
	}

	if errors.Is(err, store.ErrTaskNotFound) {
		return ErrTaskNotFound
	}

	return &TaskServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// taskServiceImpl implements the TaskService interface
type taskServiceImpl struct {
	taskStore    store.TaskStore
	eventEmitter events.EventEmitter
	statusCache  StatusCache // nil when caching is disabled
	logger       *slog.Logger
}

// NewTaskService creates a new TaskService.
// statusCache may be nil, in which case every read goes to the store.
// It returns an error if any other required dependency is nil.
func NewTaskService(
	taskStore store.TaskStore,
	eventEmitter events.EventEmitter,
	statusCache StatusCache,
	logger *slog.Logger,
) (TaskService, error) {
	if taskStore == nil {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "taskStore cannot be nil",
		}
	}
	if eventEmitter == nil {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "eventEmitter cannot be nil",
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &taskServiceImpl{
		taskStore:    taskStore,
		eventEmitter: eventEmitter,
		statusCache:  statusCache,
		logger:       logger.With("component", "task_service"),
	}, nil
}

// CreateTask validates and persists a new pending task, then emits a
// TaskCreatedEvent. Task creation is synchronous and fast; execution happens
// asynchronously, so a successful return only means the task was accepted.
func (s *taskServiceImpl) CreateTask(
	ctx context.Context,
	userID uuid.UUID,
	taskType domain.TaskType,
	inputRef string,
	parameters domain.Params,
) (*domain.Task, error) {
	t, err := domain.NewTask(userID, taskType, inputRef, parameters)
	if err != nil {
		s.logger.Error("failed to create task object",
			"error", err,
			"user_id", userID,
			"task_type", taskType)
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if err := s.taskStore.Create(ctx, t); err != nil {
		s.logger.Error("failed to save task",
			"error", err,
			"user_id", userID,
			"task_id", t.ID)
		return nil, NewTaskServiceError("create_task", "failed to save task", err)
	}

	s.logger.Info("task created with pending status",
		"task_id", t.ID,
		"user_id", userID,
		"task_type", t.Type)

	event := events.NewTaskCreatedEvent(t.ID, string(t.Type))
	if err := s.eventEmitter.EmitEvent(ctx, event); err != nil {
		// The task row exists; the recovery sweep re-enqueues pending
		// tasks, so a failed emit delays dispatch rather than losing it.
		s.logger.Error("failed to emit task created event",
			"error", err,
			"task_id", t.ID,
			"event_id", event.ID)
	}

	return t, nil
}

// GetTask retrieves a task owned by the given user, consulting the status
// cache first when one is configured. Reads are idempotent: repeated polls
// of a terminal task always observe the same terminal snapshot.
func (s *taskServiceImpl) GetTask(
	ctx context.Context,
	userID, taskID uuid.UUID,
) (*domain.Task, error) {
	if s.statusCache != nil {
		cached, err := s.statusCache.GetTask(ctx, taskID)
		if err == nil && cached != nil && cached.UserID == userID {
			return cached, nil
		}
	}

	t, err := s.taskStore.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, NewTaskServiceError("get_task", "failed to retrieve task", err)
	}

	// Ownership check reports not-found rather than forbidden so task IDs
	// cannot be probed across users.
	if t.UserID != userID {
		return nil, ErrTaskNotFound
	}

	if s.statusCache != nil && t.IsTerminal() {
		if err := s.statusCache.SetTask(ctx, t); err != nil {
			s.logger.Warn("failed to cache task status",
				"error", err,
				"task_id", t.ID)
		}
	}

	return t, nil
}

// ListTasks retrieves the user's tasks newest-first with clamped pagination.
func (s *taskServiceImpl) ListTasks(
	ctx context.Context,
	userID uuid.UUID,
	filter store.TaskFilter,
	limit, offset int,
) ([]*domain.Task, int, error) {
	limit = ClampListLimit(limit)
	if offset < 0 {
		offset = 0
	}

	tasks, err := s.taskStore.ListByUser(ctx, userID, filter, limit, offset)
	if err != nil {
		return nil, 0, NewTaskServiceError("list_tasks", "failed to list tasks", err)
	}

	total, err := s.taskStore.CountByUser(ctx, userID, filter)
	if err != nil {
		return nil, 0, NewTaskServiceError("list_tasks", "failed to count tasks", err)
	}

	return tasks, total, nil
}

// CancelTask transitions a non-terminal task to failed with a cancellation
// message. Cancellation races freely with the dispatcher: the conditional
// update decides the winner, and a cancel that loses every race means the
// task reached a terminal state first.
func (s *taskServiceImpl) CancelTask(ctx context.Context, userID, taskID uuid.UUID) error {
	for attempt := 0; attempt < cancelMaxAttempts; attempt++ {
		t, err := s.taskStore.GetByID(ctx, taskID)
		if err != nil {
			if errors.Is(err, store.ErrTaskNotFound) {
				return ErrTaskNotFound
			}
			return NewTaskServiceError("cancel_task", "failed to retrieve task", err)
		}

		if t.UserID != userID {
			return ErrTaskNotFound
		}

		if t.IsTerminal() {
			return ErrCannotCancel
		}

		now := time.Now().UTC()
		err = s.taskStore.UpdateStatus(ctx, taskID, t.Status, domain.TaskStatusFailed, store.TaskUpdate{
			ErrorMessage: cancelledByUserMessage,
			CompletedAt:  &now,
		})
		if err == nil {
			s.logger.Info("task cancelled",
				"task_id", taskID,
				"user_id", userID,
				"prior_status", t.Status)
			return nil
		}

		if store.IsConflictError(err) {
			// The task moved under us (e.g. pending -> processing).
			// Re-read and try again from the new status.
			s.logger.Debug("cancel lost a status race, retrying",
				"task_id", taskID,
				"observed_status", t.Status)
			continue
		}

		if errors.Is(err, store.ErrTaskNotFound) {
			return ErrTaskNotFound
		}

		return NewTaskServiceError("cancel_task", "failed to update task status", err)
	}

	// Every attempt lost its race; the task must have reached a terminal
	// state concurrently.
	return ErrCannotCancel
}

var _ TaskService = (*taskServiceImpl)(nil)
