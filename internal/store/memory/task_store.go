// Package memory provides in-memory implementations of the store
// interfaces. They uphold the same atomicity contracts as the Postgres
// implementations and back the test suite and local development.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/MRwang520a/pixelstudio-api/internal/domain"
	"github.com/MRwang520a/pixelstudio-api/internal/store"
)

// TaskStore is a mutex-guarded, map-backed implementation of
// store.TaskStore. The conditional UpdateStatus is atomic under the lock,
// which is what makes cancel/complete races resolve to exactly one winner.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*domain.Task
}

// NewTaskStore creates an empty in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
	}
}

// Ensure TaskStore implements store.TaskStore.
var _ store.TaskStore = (*TaskStore)(nil)

// Create implements store.TaskStore.Create.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return store.ErrDuplicate
	}

	s.tasks[task.ID] = copyTask(task)
	return nil
}

// GetByID implements store.TaskStore.GetByID.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	return copyTask(task), nil
}

// UpdateStatus implements store.TaskStore.UpdateStatus. The check of the
// expected prior status and the application of the update happen under a
// single lock acquisition, so concurrent writers serialize and the loser
// receives store.ErrConflict.
func (s *TaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.TaskStatus,
	update store.TaskUpdate,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}

	if task.Status != from {
		return store.ErrConflict
	}

	task.Status = to
	if update.OutputRef != "" {
		task.OutputRef = update.OutputRef
	}
	if update.ErrorMessage != "" {
		task.ErrorMessage = update.ErrorMessage
	}
	if len(update.MergeParameters) > 0 {
		task.Parameters = task.Parameters.Merge(update.MergeParameters)
	}
	if update.CompletedAt != nil {
		completedAt := update.CompletedAt.UTC()
		task.CompletedAt = &completedAt
	}

	return nil
}

// ListByUser implements store.TaskStore.ListByUser.
func (s *TaskStore) ListByUser(
	ctx context.Context,
	userID uuid.UUID,
	filter store.TaskFilter,
	limit, offset int,
) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.Task, 0)
	for _, task := range s.tasks {
		if task.UserID != userID {
			continue
		}
		if filter.Type != nil && task.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		matched = append(matched, copyTask(task))
	}

	// Newest first, with ID as a tiebreaker for stable ordering.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() > matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return []*domain.Task{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	return matched, nil
}

// CountByUser implements store.TaskStore.CountByUser.
func (s *TaskStore) CountByUser(
	ctx context.Context,
	userID uuid.UUID,
	filter store.TaskFilter,
) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, task := range s.tasks {
		if task.UserID != userID {
			continue
		}
		if filter.Type != nil && task.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		count++
	}

	return count, nil
}

// FindByStatus implements store.TaskStore.FindByStatus.
func (s *TaskStore) FindByStatus(
	ctx context.Context,
	status domain.TaskStatus,
	olderThan time.Duration,
	limit int,
) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-olderThan)

	matched := make([]*domain.Task, 0)
	for _, task := range s.tasks {
		if task.Status != status {
			continue
		}
		if olderThan > 0 && task.CreatedAt.After(cutoff) {
			continue
		}
		matched = append(matched, copyTask(task))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	return matched, nil
}

// WithTx implements store.TaskStore.WithTx. The in-memory store has no
// transaction support; it returns the same store so transactional code
// paths still work in tests.
func (s *TaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return s
}

// copyTask returns a deep copy so callers never share mutable state with
// the store.
func copyTask(t *domain.Task) *domain.Task {
	clone := *t
	if t.Parameters != nil {
		clone.Parameters = make(domain.Params, len(t.Parameters))
		for k, v := range t.Parameters {
			clone.Parameters[k] = v
		}
	}
	if t.CompletedAt != nil {
		completedAt := *t.CompletedAt
		clone.CompletedAt = &completedAt
	}
	return &clone
}
