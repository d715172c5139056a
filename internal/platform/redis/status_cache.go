// Package redis provides an optional Redis-backed read cache for the task
// status polling path. The Postgres task store stays authoritative; only
// terminal tasks, which never change again, are cached.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/MRwang520a/pixelstudio-api/internal/domain"
)

// ErrCacheMiss is returned when no cached entry exists for the task.
var ErrCacheMiss = errors.New("task not in status cache")

func statusKey(taskID uuid.UUID) string { return "task:status:" + taskID.String() }

// StatusCache caches terminal task records to absorb polling traffic.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
	})
}

// NewStatusCache creates a StatusCache with the given entry TTL.
func NewStatusCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *StatusCache {
	return &StatusCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "status_cache"),
	}
}

// GetTask returns the cached task, or ErrCacheMiss when absent. Cache
// errors other than a miss are reported so callers can fall back to the
// store without failing the read.
func (c *StatusCache) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	val, err := c.client.Get(ctx, statusKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get status for %s: %w", taskID, err)
	}

	var task domain.Task
	if err := json.Unmarshal(val, &task); err != nil {
		// A corrupt entry is treated as a miss; the store is authoritative.
		c.logger.Warn("dropping corrupt status cache entry",
			"task_id", taskID,
			"error", err)
		_ = c.client.Del(ctx, statusKey(taskID)).Err()
		return nil, ErrCacheMiss
	}

	return &task, nil
}

// SetTask caches the task if it has reached a terminal state. Non-terminal
// tasks are never cached: their status is still changing and a stale entry
// would violate the idempotent-read contract.
func (c *StatusCache) SetTask(ctx context.Context, task *domain.Task) error {
	if !task.IsTerminal() {
		return nil
	}

	val, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task for cache: %w", err)
	}

	if err := c.client.Set(ctx, statusKey(task.ID), val, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set status for %s: %w", task.ID, err)
	}

	return nil
}
