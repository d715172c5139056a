package task

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueueEnqueueAndConsume(t *testing.T) {
	t.Parallel()

	q := NewQueue(2, testLogger())
	id1 := uuid.New()
	id2 := uuid.New()

	require.NoError(t, q.Enqueue(id1))
	require.NoError(t, q.Enqueue(id2))

	assert.Equal(t, id1, <-q.GetChannel())
	assert.Equal(t, id2, <-q.GetChannel())
}

func TestQueueFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, testLogger())
	require.NoError(t, q.Enqueue(uuid.New()))

	err := q.Enqueue(uuid.New())
	assert.ErrorIs(t, err, ErrQueueFull)

	// Draining frees capacity again.
	<-q.GetChannel()
	assert.NoError(t, q.Enqueue(uuid.New()))
}

func TestQueueClosed(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, testLogger())
	q.Close()

	assert.ErrorIs(t, q.Enqueue(uuid.New()), ErrQueueClosed)

	// Close is idempotent.
	q.Close()

	_, ok := <-q.GetChannel()
	assert.False(t, ok)
}
