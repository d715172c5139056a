package store

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	assert.True(t, IsNotFoundError(ErrNotFound))
	assert.True(t, IsNotFoundError(ErrTaskNotFound))
	assert.True(t, IsNotFoundError(ErrQuotaNotFound))

	assert.False(t, IsNotFoundError(ErrConflict))
	assert.False(t, IsNotFoundError(ErrInsufficientQuota))
	assert.False(t, IsNotFoundError(nil))
}

func TestIsConflictError(t *testing.T) {
	t.Parallel()

	assert.True(t, IsConflictError(ErrConflict))
	assert.False(t, IsConflictError(ErrNotFound))
	assert.False(t, IsConflictError(nil))
}

func TestStoreErrorFormatting(t *testing.T) {
	t.Parallel()

	withCause := NewStoreError("task", "create", "insert failed", sql.ErrConnDone)
	assert.Equal(t, "create operation on task failed: insert failed: sql: connection is already closed",
		withCause.Error())

	withoutCause := NewStoreError("quota", "consume", "update failed", nil)
	assert.Equal(t, "consume operation on quota failed: update failed", withoutCause.Error())
}

func TestStoreErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := NewStoreError("task", "get_by_id", "query failed", sql.ErrConnDone)
	assert.ErrorIs(t, err, sql.ErrConnDone)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "task", storeErr.Entity)
	assert.Equal(t, "get_by_id", storeErr.Operation)
}

func TestTransactionFailedIsDistinguishable(t *testing.T) {
	t.Parallel()

	wrapped := NewStoreError("quota", "ensure_defaults", "seeding failed", ErrTransactionFailed)
	assert.ErrorIs(t, wrapped, ErrTransactionFailed)
	assert.False(t, errors.Is(wrapped, ErrConflict))
}
