package tasks

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

func sampleTask(id string) *models.CrawlTask {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.CrawlTask{
		TaskID:         id,
		Keyword:        "golang",
		UID:            "42",
		EventStartTime: now,
		Status:         models.TaskCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestStore_SaveThenGetTask_RoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := sampleTask("t1")
	require.NoError(t, store.SaveTask(ctx, task))

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "golang", got.Keyword)
	require.Equal(t, models.TaskCreated, got.Status)
}

func TestStore_GetTask_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetTask(ctx, "missing")
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestStore_ListTasks_ReturnsAllSaved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTask(ctx, sampleTask("t1")))
	require.NoError(t, store.SaveTask(ctx, sampleTask("t2")))

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
}

func TestStore_DeleteTask_RemovesRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTask(ctx, sampleTask("t1")))
	require.NoError(t, store.DeleteTask(ctx, "t1"))

	_, err := store.GetTask(ctx, "t1")
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestStore_SaveThenGetCheckpoint_RoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	ckpt := &models.CrawlCheckpoint{
		TaskID:    "t1",
		Direction: models.DirectionBackward,
		CurrentRange: models.TimeRange{
			Start: now.Add(-time.Hour),
			End:   now,
		},
		CurrentPage: 3,
	}
	require.NoError(t, store.SaveCheckpoint(ctx, ckpt))

	got, err := store.GetCheckpoint(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, models.DirectionBackward, got.Direction)
	require.Equal(t, 3, got.CurrentPage)
	require.False(t, got.SavedAt.IsZero())
}

func TestStore_DeleteCheckpoint_PreservesTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTask(ctx, sampleTask("t1")))
	require.NoError(t, store.SaveCheckpoint(ctx, &models.CrawlCheckpoint{TaskID: "t1"}))

	require.NoError(t, store.DeleteCheckpoint(ctx, "t1"))

	_, err := store.GetCheckpoint(ctx, "t1")
	require.ErrorIs(t, err, ErrTaskNotFound)

	_, err = store.GetTask(ctx, "t1")
	require.NoError(t, err)
}
