// Package posts implements the Post Store (C7): an idempotent, per-task
// ordered store of CrawledPost, keyed so range queries by time are
// efficient (spec.md §4.7).
//
// Grounded on spec.md §6.3's explicit wire layout: one Redis sorted set per
// task (score = published_at unix seconds, member = post_id) plus one
// string key per post body, following the same pool-sharing and pipelining
// idiom as the Credential Store.
package posts

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

// Store implements interfaces.PostStore over the shared Redis pool.
type Store struct {
	pool   *redisstore.Pool
	logger arbor.ILogger
}

// New creates a Post Store.
func New(pool *redisstore.Pool, logger arbor.ILogger) *Store {
	return &Store{pool: pool, logger: logger}
}

var _ interfaces.PostStore = (*Store)(nil)

// InsertBatch atomically inserts posts into the task's ordered set,
// deduplicating by post_id (spec.md §4.7, §8 "insert_batch is idempotent
// under replay").
func (s *Store) InsertBatch(ctx context.Context, taskID string, posts []models.CrawledPost) (*interfaces.InsertBatchResult, error) {
	if len(posts) == 0 {
		return &interfaces.InsertBatchResult{}, nil
	}

	opCtx, cancel := s.pool.WithTimeout(ctx)
	defer cancel()

	setKey := models.PostsKey(s.pool.Namespace, taskID)

	existing, err := s.existingMembers(opCtx, setKey, posts)
	if err != nil {
		return nil, err
	}

	pipe := s.pool.Client.TxPipeline()
	inserted := 0
	for _, p := range posts {
		if existing[p.PostID] {
			continue
		}
		data, err := json.Marshal(p)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeSerializationError, "encoding crawled post", err)
		}
		bodyKey := models.PostBodyKey(s.pool.Namespace, taskID, p.PostID)
		pipe.Set(opCtx, bodyKey, data, 0)
		pipe.ZAdd(opCtx, setKey, redisZMember(float64(p.PublishedAt.Unix()), p.PostID))
		inserted++
	}

	if inserted > 0 {
		if _, err := pipe.Exec(opCtx); err != nil {
			return nil, apperr.Wrap(apperr.CodeStorageConnectionFailed, "inserting crawled posts", err)
		}
	}

	result := &interfaces.InsertBatchResult{
		Inserted:          inserted,
		SkippedDuplicates: len(posts) - inserted,
	}

	s.logger.Info().
		Str("task_id", taskID).
		Int("inserted", result.Inserted).
		Int("skipped_duplicates", result.SkippedDuplicates).
		Msg("crawled posts inserted")

	return result, nil
}

func (s *Store) existingMembers(ctx context.Context, setKey string, posts []models.CrawledPost) (map[string]bool, error) {
	existing := make(map[string]bool, len(posts))
	for _, p := range posts {
		_, err := s.pool.Client.ZScore(ctx, setKey, p.PostID).Result()
		switch {
		case err == nil:
			existing[p.PostID] = true
		case errors.Is(err, redis.Nil):
			// not yet present, will be inserted
		default:
			return nil, apperr.Wrap(apperr.CodeStorageConnectionFailed, "checking existing crawled post", err)
		}
	}
	return existing, nil
}

// Range returns posts in [from, to) ordered by published_at.
func (s *Store) Range(ctx context.Context, taskID string, from, to time.Time) ([]models.CrawledPost, error) {
	opCtx, cancel := s.pool.WithTimeout(ctx)
	defer cancel()

	setKey := models.PostsKey(s.pool.Namespace, taskID)

	ids, err := s.pool.Client.ZRangeByScore(opCtx, setKey, zRangeByScore(from, to)).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageConnectionFailed, "range-querying crawled posts", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	bodyKeys := make([]string, len(ids))
	for i, id := range ids {
		bodyKeys[i] = models.PostBodyKey(s.pool.Namespace, taskID, id)
	}

	raw, err := s.pool.Client.MGet(opCtx, bodyKeys...).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageConnectionFailed, "fetching crawled post bodies", err)
	}

	posts := make([]models.CrawledPost, 0, len(raw))
	for _, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var p models.CrawledPost
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			return nil, apperr.Wrap(apperr.CodeSerializationError, "decoding crawled post", err)
		}
		posts = append(posts, p)
	}

	return posts, nil
}

// Count returns the number of posts stored for a task.
func (s *Store) Count(ctx context.Context, taskID string) (int64, error) {
	opCtx, cancel := s.pool.WithTimeout(ctx)
	defer cancel()

	count, err := s.pool.Client.ZCard(opCtx, models.PostsKey(s.pool.Namespace, taskID)).Result()
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeStorageConnectionFailed, "counting crawled posts", err)
	}
	return count, nil
}

// DeleteAll removes the task's post index and every post body.
func (s *Store) DeleteAll(ctx context.Context, taskID string) error {
	opCtx, cancel := s.pool.WithTimeout(ctx)
	defer cancel()

	setKey := models.PostsKey(s.pool.Namespace, taskID)
	ids, err := s.pool.Client.ZRange(opCtx, setKey, 0, -1).Result()
	if err != nil {
		return apperr.Wrap(apperr.CodeStorageConnectionFailed, "listing crawled posts for deletion", err)
	}

	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, setKey)
	for _, id := range ids {
		keys = append(keys, models.PostBodyKey(s.pool.Namespace, taskID, id))
	}

	if len(keys) == 0 {
		return nil
	}
	if err := s.pool.Client.Del(opCtx, keys...).Err(); err != nil {
		return apperr.Wrap(apperr.CodeStorageConnectionFailed, "deleting crawled posts", err)
	}
	return nil
}
