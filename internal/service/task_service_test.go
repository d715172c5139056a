package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRwang520a/pixelstudio-api/internal/domain"
	"github.com/MRwang520a/pixelstudio-api/internal/events"
	"github.com/MRwang520a/pixelstudio-api/internal/store"
	"github.com/MRwang520a/pixelstudio-api/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingEmitter captures emitted events and can be made to fail.
type recordingEmitter struct {
	mu      sync.Mutex
	events  []*events.TaskCreatedEvent
	emitErr error
}

func (e *recordingEmitter) EmitEvent(ctx context.Context, event *events.TaskCreatedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.emitErr != nil {
		return e.emitErr
	}
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEmitter) emitted() []*events.TaskCreatedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*events.TaskCreatedEvent(nil), e.events...)
}

// mapStatusCache is an in-memory StatusCache for tests.
type mapStatusCache struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
	sets  int
}

func newMapStatusCache() *mapStatusCache {
	return &mapStatusCache{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (c *mapStatusCache) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[taskID]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return t, nil
}

func (c *mapStatusCache) SetTask(ctx context.Context, task *domain.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[task.ID] = task
	c.sets++
	return nil
}

func newTaskServiceForTest(t *testing.T) (TaskService, *memory.TaskStore, *recordingEmitter) {
	t.Helper()
	taskStore := memory.NewTaskStore()
	emitter := &recordingEmitter{}
	svc, err := NewTaskService(taskStore, emitter, nil, testLogger())
	require.NoError(t, err)
	return svc, taskStore, emitter
}

func TestNewTaskServiceValidation(t *testing.T) {
	t.Parallel()

	_, err := NewTaskService(nil, &recordingEmitter{}, nil, testLogger())
	assert.Error(t, err)

	_, err = NewTaskService(memory.NewTaskStore(), nil, nil, testLogger())
	assert.Error(t, err)
}

func TestCreateTaskEmitsEvent(t *testing.T) {
	t.Parallel()

	svc, taskStore, emitter := newTaskServiceForTest(t)
	ctx := context.Background()
	userID := uuid.New()

	task, err := svc.CreateTask(ctx, userID, domain.TaskTypeMatting, "images/in.png", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Equal(t, userID, task.UserID)

	stored, err := taskStore.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)

	emittedEvents := emitter.emitted()
	require.Len(t, emittedEvents, 1)
	assert.Equal(t, task.ID, emittedEvents[0].TaskID)
	assert.Equal(t, string(domain.TaskTypeMatting), emittedEvents[0].TaskType)
}

func TestCreateTaskValidationFailure(t *testing.T) {
	t.Parallel()

	svc, _, emitter := newTaskServiceForTest(t)

	// Matting requires an input image reference.
	_, err := svc.CreateTask(context.Background(), uuid.New(), domain.TaskTypeMatting, "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, emitter.emitted())
}

// A failed event emit must not fail creation: the task row exists and the
// recovery sweep will pick it up.
func TestCreateTaskEmitFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	taskStore := memory.NewTaskStore()
	emitter := &recordingEmitter{emitErr: errors.New("queue full")}
	svc, err := NewTaskService(taskStore, emitter, nil, testLogger())
	require.NoError(t, err)

	task, err := svc.CreateTask(context.Background(), uuid.New(), domain.TaskTypeRetouch, "images/in.png", nil)
	require.NoError(t, err)

	stored, err := taskStore.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
}

func TestGetTaskOwnership(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTaskServiceForTest(t)
	ctx := context.Background()
	owner := uuid.New()

	task, err := svc.CreateTask(ctx, owner, domain.TaskTypeUpscale, "images/in.png", nil)
	require.NoError(t, err)

	got, err := svc.GetTask(ctx, owner, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	// Another user's lookup reports not-found, never forbidden.
	_, err = svc.GetTask(ctx, uuid.New(), task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = svc.GetTask(ctx, owner, uuid.New())
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestGetTaskCachesTerminalOnly(t *testing.T) {
	t.Parallel()

	taskStore := memory.NewTaskStore()
	cache := newMapStatusCache()
	svc, err := NewTaskService(taskStore, &recordingEmitter{}, cache, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	userID := uuid.New()

	task, err := svc.CreateTask(ctx, userID, domain.TaskTypeMatting, "images/in.png", nil)
	require.NoError(t, err)

	// Pending tasks are read through but never cached.
	_, err = svc.GetTask(ctx, userID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, cache.sets)

	// Drive the task to a terminal state; the next read caches it.
	completedAt := time.Now().UTC()
	require.NoError(t, taskStore.UpdateStatus(ctx, task.ID,
		domain.TaskStatusPending, domain.TaskStatusCompleted, store.TaskUpdate{
			OutputRef:   "images/out.png",
			CompletedAt: &completedAt,
		}))

	got, err := svc.GetTask(ctx, userID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, 1, cache.sets)

	// Subsequent polls are served from the cache.
	cached, err := svc.GetTask(ctx, userID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, cached.Status)
	assert.Equal(t, 1, cache.sets)

	// A cached entry still enforces ownership.
	_, err = svc.GetTask(ctx, uuid.New(), task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestListTasksPaginationAndTotal(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTaskServiceForTest(t)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 5; i++ {
		_, err := svc.CreateTask(ctx, userID, domain.TaskTypeMatting, "images/in.png", nil)
		require.NoError(t, err)
	}

	tasks, total, err := svc.ListTasks(ctx, userID, store.TaskFilter{}, 2, 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	assert.Equal(t, 5, total)

	// Zero limit falls back to the default; negative offset is treated as 0.
	tasks, total, err = svc.ListTasks(ctx, userID, store.TaskFilter{}, 0, -3)
	require.NoError(t, err)
	assert.Len(t, tasks, 5)
	assert.Equal(t, 5, total)

	// Oversized limits are clamped rather than rejected.
	_, _, err = svc.ListTasks(ctx, userID, store.TaskFilter{}, 10_000, 0)
	require.NoError(t, err)

	// Another user sees nothing.
	tasks, total, err = svc.ListTasks(ctx, uuid.New(), store.TaskFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Equal(t, 0, total)
}

func TestCancelTaskPending(t *testing.T) {
	t.Parallel()

	svc, taskStore, _ := newTaskServiceForTest(t)
	ctx := context.Background()
	userID := uuid.New()

	task, err := svc.CreateTask(ctx, userID, domain.TaskTypeRetouch, "images/in.png", nil)
	require.NoError(t, err)

	require.NoError(t, svc.CancelTask(ctx, userID, task.ID))

	got, err := taskStore.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, "task cancelled by user", got.ErrorMessage)
	require.NotNil(t, got.CompletedAt)
}

func TestCancelTaskTerminal(t *testing.T) {
	t.Parallel()

	svc, taskStore, _ := newTaskServiceForTest(t)
	ctx := context.Background()
	userID := uuid.New()

	task, err := svc.CreateTask(ctx, userID, domain.TaskTypeMatting, "images/in.png", nil)
	require.NoError(t, err)

	completedAt := time.Now().UTC()
	require.NoError(t, taskStore.UpdateStatus(ctx, task.ID,
		domain.TaskStatusPending, domain.TaskStatusCompleted, store.TaskUpdate{
			OutputRef:   "images/out.png",
			CompletedAt: &completedAt,
		}))

	// A completed task cannot be cancelled, and its result is untouched.
	assert.ErrorIs(t, svc.CancelTask(ctx, userID, task.ID), ErrCannotCancel)

	got, err := taskStore.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, "images/out.png", got.OutputRef)
}

func TestCancelTaskOwnershipAndMissing(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTaskServiceForTest(t)
	ctx := context.Background()
	owner := uuid.New()

	task, err := svc.CreateTask(ctx, owner, domain.TaskTypeUpscale, "images/in.png", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.CancelTask(ctx, uuid.New(), task.ID), ErrTaskNotFound)
	assert.ErrorIs(t, svc.CancelTask(ctx, owner, uuid.New()), ErrTaskNotFound)
}

// racingTaskStore simulates the dispatcher claiming the task between the
// service's read and its conditional update, forcing the cancel loop to
// retry from the new status.
type racingTaskStore struct {
	store.TaskStore
	mu       sync.Mutex
	advanced bool
}

func (s *racingTaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.TaskStatus,
	update store.TaskUpdate,
) error {
	s.mu.Lock()
	if !s.advanced && from == domain.TaskStatusPending {
		s.advanced = true
		s.mu.Unlock()
		// The dispatcher got there first.
		if err := s.TaskStore.UpdateStatus(ctx, id,
			domain.TaskStatusPending, domain.TaskStatusProcessing, store.TaskUpdate{}); err != nil {
			return err
		}
		return store.ErrConflict
	}
	s.mu.Unlock()
	return s.TaskStore.UpdateStatus(ctx, id, from, to, update)
}

func TestCancelTaskRetriesAfterStatusRace(t *testing.T) {
	t.Parallel()

	inner := memory.NewTaskStore()
	racing := &racingTaskStore{TaskStore: inner}
	svc, err := NewTaskService(racing, &recordingEmitter{}, nil, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	userID := uuid.New()

	task, err := svc.CreateTask(ctx, userID, domain.TaskTypeMatting, "images/in.png", nil)
	require.NoError(t, err)

	// The first attempt loses to the pending -> processing claim; the retry
	// cancels from processing.
	require.NoError(t, svc.CancelTask(ctx, userID, task.ID))

	got, err := inner.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, "task cancelled by user", got.ErrorMessage)
}
