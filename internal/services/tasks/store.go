// Package tasks persists CrawlTask metadata and CrawlCheckpoint records —
// the Crawl Engine's own durable state (spec.md §3, "Ownership summary";
// §6.3 key layout).
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/apperr"
	"github.com/weiqr/weiqr/internal/interfaces"
	"github.com/weiqr/weiqr/internal/models"
	redisstore "github.com/weiqr/weiqr/internal/storage/redis"
)

// ErrTaskNotFound is returned when a task/checkpoint key does not exist.
var ErrTaskNotFound = errors.New("crawl task not found")

// Store implements interfaces.TaskStore over the shared Redis pool.
type Store struct {
	pool   *redisstore.Pool
	logger arbor.ILogger
}

// New creates a task/checkpoint store.
func New(pool *redisstore.Pool, logger arbor.ILogger) *Store {
	return &Store{pool: pool, logger: logger}
}

var _ interfaces.TaskStore = (*Store)(nil)

func (s *Store) taskKey(taskID string) string {
	return s.pool.Namespace + ":crawl:task:" + taskID
}

func (s *Store) checkpointKey(taskID string) string {
	return s.pool.Namespace + ":crawl:ckpt:" + taskID
}

// SaveTask writes the task metadata record atomically (spec.md §4.6,
// "Task-level on every status change").
func (s *Store) SaveTask(ctx context.Context, task *models.CrawlTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return apperr.Wrap(apperr.CodeSerializationError, "encoding crawl task", err)
	}

	opCtx, cancel := s.pool.WithTimeout(ctx)
	defer cancel()

	if err := s.pool.Client.HSet(opCtx, s.taskKey(task.TaskID), "record", data).Err(); err != nil {
		return apperr.Wrap(apperr.CodeStorageConnectionFailed, "saving crawl task", err)
	}
	return nil
}

// GetTask reads the task metadata record.
func (s *Store) GetTask(ctx context.Context, taskID string) (*models.CrawlTask, error) {
	opCtx, cancel := s.pool.WithTimeout(ctx)
	defer cancel()

	data, err := s.pool.Client.HGet(opCtx, s.taskKey(taskID), "record").Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageConnectionFailed, "reading crawl task", err)
	}

	var task models.CrawlTask
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, apperr.Wrap(apperr.CodeSerializationError, "decoding crawl task", err)
	}
	return &task, nil
}

// ListTasks returns every known task, by prefix scan of the task namespace.
func (s *Store) ListTasks(ctx context.Context) ([]*models.CrawlTask, error) {
	opCtx, cancel := s.pool.WithTimeout(ctx)
	defer cancel()

	pattern := s.pool.Namespace + ":crawl:task:*"
	var tasks []*models.CrawlTask

	iter := s.pool.Client.Scan(opCtx, 0, pattern, 100).Iterator()
	for iter.Next(opCtx) {
		data, err := s.pool.Client.HGet(opCtx, iter.Val(), "record").Result()
		if err != nil {
			continue
		}
		var task models.CrawlTask
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			continue
		}
		tasks = append(tasks, &task)
	}
	if err := iter.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageConnectionFailed, "listing crawl tasks", err)
	}

	return tasks, nil
}

// DeleteTask removes the task record. Checkpoint deletion is explicit via
// DeleteCheckpoint — cancel/pause (spec.md §4.6) preserves the checkpoint.
func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	opCtx, cancel := s.pool.WithTimeout(ctx)
	defer cancel()

	if err := s.pool.Client.Del(opCtx, s.taskKey(taskID)).Err(); err != nil {
		return apperr.Wrap(apperr.CodeStorageConnectionFailed, "deleting crawl task", err)
	}
	return nil
}

// SaveCheckpoint writes the checkpoint record. Called at task-level,
// shard-level, and page-level granularity (spec.md §4.6); every call is a
// single idempotent record update.
func (s *Store) SaveCheckpoint(ctx context.Context, ckpt *models.CrawlCheckpoint) error {
	ckpt.SavedAt = time.Now().UTC()

	data, err := json.Marshal(ckpt)
	if err != nil {
		return apperr.Wrap(apperr.CodeSerializationError, "encoding crawl checkpoint", err)
	}

	opCtx, cancel := s.pool.WithTimeout(ctx)
	defer cancel()

	if err := s.pool.Client.HSet(opCtx, s.checkpointKey(ckpt.TaskID), "record", data).Err(); err != nil {
		return apperr.Wrap(apperr.CodeStorageConnectionFailed, "saving crawl checkpoint", err)
	}
	return nil
}

// GetCheckpoint reads the checkpoint record. A deserialization failure
// surfaces as CodeSerializationError so the caller can transition the task
// to Failed without auto-resetting (spec.md §4.6, "Failure semantics").
func (s *Store) GetCheckpoint(ctx context.Context, taskID string) (*models.CrawlCheckpoint, error) {
	opCtx, cancel := s.pool.WithTimeout(ctx)
	defer cancel()

	data, err := s.pool.Client.HGet(opCtx, s.checkpointKey(taskID), "record").Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageConnectionFailed, "reading crawl checkpoint", err)
	}

	var ckpt models.CrawlCheckpoint
	if err := json.Unmarshal([]byte(data), &ckpt); err != nil {
		return nil, apperr.Wrap(apperr.CodeSerializationError, "decoding crawl checkpoint", err)
	}
	return &ckpt, nil
}

// DeleteCheckpoint removes the checkpoint record.
func (s *Store) DeleteCheckpoint(ctx context.Context, taskID string) error {
	opCtx, cancel := s.pool.WithTimeout(ctx)
	defer cancel()

	if err := s.pool.Client.Del(opCtx, s.checkpointKey(taskID)).Err(); err != nil {
		return apperr.Wrap(apperr.CodeStorageConnectionFailed, "deleting crawl checkpoint", err)
	}
	return nil
}
