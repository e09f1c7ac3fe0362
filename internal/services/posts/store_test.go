package posts

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/models"
	redisstore "github.com/weiqr/weiqr/internal/storage/redis"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	pool := &redisstore.Pool{Client: client, Namespace: "weiqr", OpTimeout: time.Second}

	return New(pool, arbor.NewLogger())
}

func samplePost(id string, publishedAt time.Time) models.CrawledPost {
	return models.CrawledPost{
		PostID:      id,
		TaskID:      "task-1",
		PublishedAt: publishedAt,
		Content:     "hello " + id,
		Author:      "alice",
	}
}

func TestStore_InsertBatch_DedupsByPostID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	posts := []models.CrawledPost{samplePost("p1", now), samplePost("p2", now.Add(time.Minute))}

	result, err := store.InsertBatch(ctx, "task-1", posts)
	require.NoError(t, err)
	require.Equal(t, 2, result.Inserted)
	require.Equal(t, 0, result.SkippedDuplicates)

	// Replay with one duplicate and one new post.
	result, err = store.InsertBatch(ctx, "task-1", []models.CrawledPost{posts[0], samplePost("p3", now.Add(2 * time.Minute))})
	require.NoError(t, err)
	require.Equal(t, 1, result.Inserted)
	require.Equal(t, 1, result.SkippedDuplicates)

	count, err := store.Count(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
}

func TestStore_Range_OrdersByPublishedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	_, err := store.InsertBatch(ctx, "task-1", []models.CrawledPost{
		samplePost("p1", base),
		samplePost("p2", base.Add(time.Hour)),
		samplePost("p3", base.Add(2 * time.Hour)),
	})
	require.NoError(t, err)

	posts, err := store.Range(ctx, "task-1", base, base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, posts, 2)
	require.Equal(t, "p1", posts[0].PostID)
	require.Equal(t, "p2", posts[1].PostID)
}

func TestStore_DeleteAll_RemovesIndexAndBodies(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.InsertBatch(ctx, "task-1", []models.CrawledPost{samplePost("p1", now)})
	require.NoError(t, err)

	require.NoError(t, store.DeleteAll(ctx, "task-1"))

	count, err := store.Count(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}
