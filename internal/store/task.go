package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/MRwang520a/pixelstudio-api/internal/domain"
)

// TaskUpdate carries the fields applied alongside a status transition.
// Zero values are left untouched in the stored record, except
// MergeParameters, whose entries are merged on top of the existing payload.
type TaskUpdate struct {
	// OutputRef is the result image reference, set on completion.
	OutputRef string

	// ErrorMessage is the human-readable failure cause, set on failure.
	ErrorMessage string

	// MergeParameters holds result metadata merged into the task's
	// parameters payload (e.g. extracted text for translate tasks).
	MergeParameters domain.Params

	// CompletedAt marks the moment a terminal state was reached.
	CompletedAt *time.Time
}

// TaskFilter narrows ListByUser results. Nil fields match everything.
type TaskFilter struct {
	Type   *domain.TaskType
	Status *domain.TaskStatus
}

// TaskStore defines the interface for task persistence.
// Version: 1.0
type TaskStore interface {
	// Create saves a new task to the store.
	// It handles domain validation internally.
	// Returns validation errors from the domain Task if data is invalid.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// UpdateStatus transitions a task from the expected prior status to a
	// new status, applying the update fields atomically with the
	// transition. This is the conditional-update primitive every status
	// race in the system is resolved with: it only applies when the
	// task's current status equals from.
	// Returns ErrTaskNotFound if the task does not exist.
	// Returns ErrConflict if the task's current status differs from from;
	// the caller must treat its outcome as discarded.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.TaskStatus, update TaskUpdate) error

	// ListByUser retrieves the user's tasks ordered newest-first by
	// creation time, narrowed by filter, with bounded pagination.
	// Returns an empty slice if no tasks match.
	ListByUser(ctx context.Context, userID uuid.UUID, filter TaskFilter, limit, offset int) ([]*domain.Task, error)

	// CountByUser returns the total number of the user's tasks matching
	// filter, ignoring pagination. Used alongside ListByUser to report
	// the full result size.
	CountByUser(ctx context.Context, userID uuid.UUID, filter TaskFilter) (int, error)

	// FindByStatus retrieves up to limit tasks in the given status,
	// oldest-first. Used by the dispatcher's recovery and stuck-task
	// paths. A zero olderThan matches tasks of any age; otherwise only
	// tasks created longer ago than olderThan are returned.
	FindByStatus(ctx context.Context, status domain.TaskStatus, olderThan time.Duration, limit int) ([]*domain.Task, error)

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) TaskStore
}
