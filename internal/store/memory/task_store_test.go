package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRwang520a/pixelstudio-api/internal/domain"
	"github.com/MRwang520a/pixelstudio-api/internal/store"
)

func newTestTask(t *testing.T, userID uuid.UUID, taskType domain.TaskType) *domain.Task {
	t.Helper()
	inputRef := "images/in.png"
	if !taskType.RequiresInputRef() {
		inputRef = ""
	}
	task, err := domain.NewTask(userID, taskType, inputRef, domain.Params{"prompt": "a lighthouse"})
	require.NoError(t, err)
	return task
}

func TestTaskStoreCreateAndGet(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()
	task := newTestTask(t, uuid.New(), domain.TaskTypeMatting)

	require.NoError(t, s.Create(ctx, task))

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, domain.TaskStatusPending, got.Status)

	// Duplicate IDs are rejected.
	assert.ErrorIs(t, s.Create(ctx, task), store.ErrDuplicate)

	// Unknown IDs report not found.
	_, err = s.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()
	task := newTestTask(t, uuid.New(), domain.TaskTypeDesigner)
	require.NoError(t, s.Create(ctx, task))

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)

	// Mutating the returned task must not leak into the store.
	got.Status = domain.TaskStatusFailed
	got.Parameters["prompt"] = "mutated"

	fresh, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, fresh.Status)
	assert.Equal(t, "a lighthouse", fresh.Parameters["prompt"])
}

func TestTaskStoreUpdateStatus(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()
	task := newTestTask(t, uuid.New(), domain.TaskTypeRetouch)
	require.NoError(t, s.Create(ctx, task))

	// Claim pending -> processing.
	require.NoError(t, s.UpdateStatus(ctx, task.ID,
		domain.TaskStatusPending, domain.TaskStatusProcessing, store.TaskUpdate{}))

	// A second claim from pending loses.
	err := s.UpdateStatus(ctx, task.ID,
		domain.TaskStatusPending, domain.TaskStatusProcessing, store.TaskUpdate{})
	assert.ErrorIs(t, err, store.ErrConflict)

	// Complete with output and metadata merge.
	completedAt := time.Now().UTC()
	require.NoError(t, s.UpdateStatus(ctx, task.ID,
		domain.TaskStatusProcessing, domain.TaskStatusCompleted, store.TaskUpdate{
			OutputRef:       "images/out.png",
			MergeParameters: domain.Params{"originalText": "bonjour"},
			CompletedAt:     &completedAt,
		}))

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, "images/out.png", got.OutputRef)
	assert.Equal(t, "bonjour", got.Parameters["originalText"])
	assert.Equal(t, "a lighthouse", got.Parameters["prompt"])
	require.NotNil(t, got.CompletedAt)

	// Unknown task reports not found, not conflict.
	err = s.UpdateStatus(ctx, uuid.New(),
		domain.TaskStatusPending, domain.TaskStatusProcessing, store.TaskUpdate{})
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

// TestTaskStoreCancelCompleteRace drives many concurrent cancel/complete
// pairs through the conditional update and checks that exactly one writer
// wins each race and the terminal state is never overwritten.
func TestTaskStoreCancelCompleteRace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for i := 0; i < 50; i++ {
		s := NewTaskStore()
		task := newTestTask(t, uuid.New(), domain.TaskTypeUpscale)
		require.NoError(t, s.Create(ctx, task))
		require.NoError(t, s.UpdateStatus(ctx, task.ID,
			domain.TaskStatusPending, domain.TaskStatusProcessing, store.TaskUpdate{}))

		var wg sync.WaitGroup
		results := make([]error, 2)

		wg.Add(2)
		go func() {
			defer wg.Done()
			results[0] = s.UpdateStatus(ctx, task.ID,
				domain.TaskStatusProcessing, domain.TaskStatusCompleted, store.TaskUpdate{
					OutputRef: "images/out.png",
				})
		}()
		go func() {
			defer wg.Done()
			results[1] = s.UpdateStatus(ctx, task.ID,
				domain.TaskStatusProcessing, domain.TaskStatusFailed, store.TaskUpdate{
					ErrorMessage: "task cancelled by user",
				})
		}()
		wg.Wait()

		winners := 0
		for _, err := range results {
			if err == nil {
				winners++
			} else {
				assert.ErrorIs(t, err, store.ErrConflict)
			}
		}
		require.Equal(t, 1, winners, "exactly one writer must win the race")

		got, err := s.GetByID(ctx, task.ID)
		require.NoError(t, err)
		require.True(t, got.IsTerminal())

		if results[0] == nil {
			assert.Equal(t, domain.TaskStatusCompleted, got.Status)
			assert.Equal(t, "images/out.png", got.OutputRef)
			assert.Empty(t, got.ErrorMessage)
		} else {
			assert.Equal(t, domain.TaskStatusFailed, got.Status)
			assert.Equal(t, "task cancelled by user", got.ErrorMessage)
			assert.Empty(t, got.OutputRef)
		}
	}
}

func TestTaskStoreListByUser(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()
	userID := uuid.New()
	otherUser := uuid.New()

	var created []*domain.Task
	for i := 0; i < 5; i++ {
		task := newTestTask(t, userID, domain.TaskTypeMatting)
		task.CreatedAt = time.Date(2026, 8, 1, 10, i, 0, 0, time.UTC)
		require.NoError(t, s.Create(ctx, task))
		created = append(created, task)
	}
	require.NoError(t, s.Create(ctx, newTestTask(t, otherUser, domain.TaskTypeMatting)))

	// Newest first.
	tasks, err := s.ListByUser(ctx, userID, store.TaskFilter{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 5)
	assert.Equal(t, created[4].ID, tasks[0].ID)
	assert.Equal(t, created[0].ID, tasks[4].ID)

	// Pagination.
	page, err := s.ListByUser(ctx, userID, store.TaskFilter{}, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, created[2].ID, page[0].ID)

	// Offset past the end yields an empty slice.
	empty, err := s.ListByUser(ctx, userID, store.TaskFilter{}, 10, 99)
	require.NoError(t, err)
	assert.Empty(t, empty)

	// Status filter.
	require.NoError(t, s.UpdateStatus(ctx, created[0].ID,
		domain.TaskStatusPending, domain.TaskStatusProcessing, store.TaskUpdate{}))
	processing := domain.TaskStatusProcessing
	filtered, err := s.ListByUser(ctx, userID, store.TaskFilter{Status: &processing}, 10, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, created[0].ID, filtered[0].ID)

	// Count ignores pagination, honors filters.
	total, err := s.CountByUser(ctx, userID, store.TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	count, err := s.CountByUser(ctx, userID, store.TaskFilter{Status: &processing})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTaskStoreFindByStatus(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()
	userID := uuid.New()

	old := newTestTask(t, userID, domain.TaskTypeTranslate)
	old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, s.Create(ctx, old))

	recent := newTestTask(t, userID, domain.TaskTypeTranslate)
	require.NoError(t, s.Create(ctx, recent))

	// Zero olderThan matches any age, oldest first.
	all, err := s.FindByStatus(ctx, domain.TaskStatusPending, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, old.ID, all[0].ID)

	// An age cutoff excludes the recent task.
	stale, err := s.FindByStatus(ctx, domain.TaskStatusPending, time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)

	// Limit applies after ordering.
	limited, err := s.FindByStatus(ctx, domain.TaskStatusPending, 0, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, old.ID, limited[0].ID)
}
