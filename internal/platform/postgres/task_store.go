// Package postgres provides PostgreSQL-backed implementations of the store
// interfaces.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/MRwang520a/pixelstudio-api/internal/domain"
	"github.com/MRwang520a/pixelstudio-api/internal/platform/logger"
	"github.com/MRwang520a/pixelstudio-api/internal/store"
)

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// Create implements store.TaskStore.Create
// It saves a new task to the database, handling domain validation.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	params, err := marshalParams(task.Parameters)
	if err != nil {
		return fmt.Errorf("%w: failed to encode parameters: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (id, user_id, task_type, status, input_ref, parameters, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.UserID,
		task.Type,
		task.Status,
		task.InputRef,
		params,
		task.CreatedAt,
	)

	if err != nil {
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()),
			slog.String("user_id", task.UserID.String()))
		return store.NewStoreError("task", "create", "insert failed", err)
	}

	log.Info("task created successfully",
		slog.String("task_id", task.ID.String()),
		slog.String("user_id", task.UserID.String()),
		slog.String("task_type", string(task.Type)))
	return nil
}

// GetByID implements store.TaskStore.GetByID
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, user_id, task_type, status, input_ref, output_ref,
		       parameters, error_message, created_at, completed_at
		FROM tasks
		WHERE id = $1
	`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task not found", slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task by ID",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, store.NewStoreError("task", "get_by_id", "query failed", err)
	}

	return task, nil
}

// UpdateStatus implements store.TaskStore.UpdateStatus
// The WHERE clause matches both the task ID and the expected prior status,
// so the database itself arbitrates concurrent writers: the loser's update
// matches zero rows and is reported as store.ErrConflict.
func (s *PostgresTaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.TaskStatus,
	update store.TaskUpdate,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	merge, err := marshalParams(update.MergeParameters)
	if err != nil {
		return fmt.Errorf("%w: failed to encode merge parameters: %v", store.ErrInvalidEntity, err)
	}

	query := `
		UPDATE tasks
		SET status = $1,
		    output_ref = COALESCE(NULLIF($2, ''), output_ref),
		    error_message = COALESCE(NULLIF($3, ''), error_message),
		    parameters = COALESCE(parameters, '{}'::jsonb) || $4::jsonb,
		    completed_at = COALESCE($5, completed_at)
		WHERE id = $6 AND status = $7
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		to,
		update.OutputRef,
		update.ErrorMessage,
		merge,
		update.CompletedAt,
		id,
		from,
	)
	if err != nil {
		log.Error("failed to update task status",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()),
			slog.String("from", string(from)),
			slog.String("to", string(to)))
		return store.NewStoreError("task", "update_status", "update failed", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("task", "update_status", "failed to get rows affected", err)
	}

	if rowsAffected == 0 {
		// Zero rows means either the task is gone or another writer got
		// there first. Distinguish so callers can swallow the conflict.
		var exists bool
		checkErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists)
		if checkErr != nil {
			log.Error("failed to check task existence after conflict",
				slog.String("error", checkErr.Error()),
				slog.String("task_id", id.String()))
			return store.NewStoreError("task", "update_status", "existence check failed", checkErr)
		}
		if !exists {
			return store.ErrTaskNotFound
		}

		log.Debug("conditional status update lost the race",
			slog.String("task_id", id.String()),
			slog.String("expected_from", string(from)),
			slog.String("to", string(to)))
		return store.ErrConflict
	}

	log.Debug("task status updated",
		slog.String("task_id", id.String()),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	return nil
}

// ListByUser implements store.TaskStore.ListByUser
// Results are ordered newest-first by created_at.
func (s *PostgresTaskStore) ListByUser(
	ctx context.Context,
	userID uuid.UUID,
	filter store.TaskFilter,
	limit, offset int,
) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, user_id, task_type, status, input_ref, output_ref,
		       parameters, error_message, created_at, completed_at
		FROM tasks
		WHERE user_id = $1
		  AND ($2::text IS NULL OR task_type = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`

	var taskType, status *string
	if filter.Type != nil {
		t := string(*filter.Type)
		taskType = &t
	}
	if filter.Status != nil {
		st := string(*filter.Status)
		status = &st
	}

	rows, err := s.db.QueryContext(ctx, query, userID, taskType, status, limit, offset)
	if err != nil {
		log.Error("failed to list tasks by user",
			slog.String("error", err.Error()),
			slog.String("user_id", userID.String()))
		return nil, store.NewStoreError("task", "list_by_user", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTasks(rows)
}

// CountByUser implements store.TaskStore.CountByUser
func (s *PostgresTaskStore) CountByUser(
	ctx context.Context,
	userID uuid.UUID,
	filter store.TaskFilter,
) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT COUNT(*)
		FROM tasks
		WHERE user_id = $1
		  AND ($2::text IS NULL OR task_type = $2)
		  AND ($3::text IS NULL OR status = $3)
	`

	var taskType, status *string
	if filter.Type != nil {
		t := string(*filter.Type)
		taskType = &t
	}
	if filter.Status != nil {
		st := string(*filter.Status)
		status = &st
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID, taskType, status).Scan(&count); err != nil {
		log.Error("failed to count tasks by user",
			slog.String("error", err.Error()),
			slog.String("user_id", userID.String()))
		return 0, store.NewStoreError("task", "count_by_user", "query failed", err)
	}

	return count, nil
}

// FindByStatus implements store.TaskStore.FindByStatus
// Results are ordered oldest-first so recovery replays in arrival order.
func (s *PostgresTaskStore) FindByStatus(
	ctx context.Context,
	status domain.TaskStatus,
	olderThan time.Duration,
	limit int,
) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, user_id, task_type, status, input_ref, output_ref,
		       parameters, error_message, created_at, completed_at
		FROM tasks
		WHERE status = $1 AND created_at <= $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	cutoff := time.Now().UTC()
	if olderThan > 0 {
		cutoff = cutoff.Add(-olderThan)
	}

	rows, err := s.db.QueryContext(ctx, query, status, cutoff, limit)
	if err != nil {
		log.Error("failed to find tasks by status",
			slog.String("error", err.Error()),
			slog.String("status", string(status)))
		return nil, store.NewStoreError("task", "find_by_status", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTasks(rows)
}

// WithTx implements store.TaskStore.WithTx
// It returns a new TaskStore that uses the provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning code.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var taskType, status string
	var inputRef, outputRef, errorMessage sql.NullString
	var params []byte
	var completedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.UserID,
		&taskType,
		&status,
		&inputRef,
		&outputRef,
		&params,
		&errorMessage,
		&task.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Type = domain.TaskType(taskType)
	task.Status = domain.TaskStatus(status)
	task.InputRef = inputRef.String
	task.OutputRef = outputRef.String
	task.ErrorMessage = errorMessage.String
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &task.Parameters); err != nil {
			return nil, fmt.Errorf("failed to decode task parameters: %w", err)
		}
	}

	return &task, nil
}

func collectTasks(rows *sql.Rows) ([]*domain.Task, error) {
	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// marshalParams encodes a parameters payload to JSONB, mapping nil to the
// empty object so jsonb concatenation stays well-defined.
func marshalParams(p domain.Params) ([]byte, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}
