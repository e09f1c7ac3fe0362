package credentials

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

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	pool := &redisstore.Pool{Client: client, Namespace: "weiqr", OpTimeout: time.Second}

	return New(pool, int64((30 * 24 * time.Hour).Seconds()), arbor.NewLogger()), mr
}

func validRecord(uid string) *models.CredentialRecord {
	now := time.Now().UTC()
	return &models.CredentialRecord{
		UID:         uid,
		Cookies:     map[string]string{"SUB": "tok", "SUBP": "sec"},
		FetchedAt:   now,
		ValidatedAt: now,
		DisplayName: "Alice",
	}
}

func TestStore_SaveThenQuery_RoundTrips(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	outcome, key, err := store.Save(ctx, validRecord("42"))
	require.NoError(t, err)
	require.Equal(t, "created", string(outcome))
	require.Equal(t, "weiqr:cookies:42", key)

	got, err := store.Query(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, "42", got.UID)
	require.Equal(t, "tok", got.Cookies["SUB"])
	require.Equal(t, "Alice", got.DisplayName)
}

func TestStore_SaveTwice_ReportsOverwrite(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Save(ctx, validRecord("42"))
	require.NoError(t, err)

	second := validRecord("42")
	second.Cookies["SUB"] = "tok2"
	outcome, _, err := store.Save(ctx, second)
	require.NoError(t, err)
	require.Equal(t, "overwritten", string(outcome))

	got, err := store.Query(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, "tok2", got.Cookies["SUB"])
}

func TestStore_Save_MissingCookie_Fails(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	record := validRecord("42")
	delete(record.Cookies, "SUBP")

	_, _, err := store.Save(ctx, record)
	require.Error(t, err)

	_, err = store.Query(ctx, "42")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Delete_ThenQuery_NotFound(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Save(ctx, validRecord("42"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "42"))

	_, err = store.Query(ctx, "42")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting again is idempotent.
	require.NoError(t, store.Delete(ctx, "42"))
}

func TestStore_List_ReturnsLiveUIDs(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Save(ctx, validRecord("42"))
	require.NoError(t, err)
	_, _, err = store.Save(ctx, validRecord("43"))
	require.NoError(t, err)

	uids, err := store.List(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"42", "43"}, uids)
}

func TestStore_TTL_SetOnSave(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Save(ctx, validRecord("42"))
	require.NoError(t, err)

	ttl := mr.TTL("weiqr:cookies:42")
	require.Greater(t, ttl, time.Duration(0))
}
