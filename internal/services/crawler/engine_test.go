package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/common"
	"github.com/weiqr/weiqr/internal/interfaces"
	"github.com/weiqr/weiqr/internal/models"
	"github.com/weiqr/weiqr/internal/services/credentials"
	"github.com/weiqr/weiqr/internal/services/posts"
	"github.com/weiqr/weiqr/internal/services/tasks"
	redisstore "github.com/weiqr/weiqr/internal/storage/redis"
)

func newTestPool(t *testing.T) *redisstore.Pool {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return &redisstore.Pool{Client: client, Namespace: "test", OpTimeout: time.Second}
}

type fakeSharder struct {
	pages int
}

func (f *fakeSharder) Plan(ctx context.Context, cookies map[string]string, keyword string, r models.TimeRange) (*models.TimeShard, error) {
	return &models.TimeShard{Range: r, EstimatedPageCount: f.pages}, nil
}

type fakeCredStore struct {
	mu      sync.Mutex
	records map[string]*models.CredentialRecord
}

func newFakeCredStore() *fakeCredStore {
	return &fakeCredStore{records: make(map[string]*models.CredentialRecord)}
}

func (f *fakeCredStore) Save(ctx context.Context, record *models.CredentialRecord) (interfaces.SaveOutcome, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[record.UID] = record
	return interfaces.SaveCreated, "key", nil
}

func (f *fakeCredStore) Query(ctx context.Context, uid string) (*models.CredentialRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[uid]
	if !ok {
		return nil, credentials.ErrNotFound
	}
	return record, nil
}

func (f *fakeCredStore) List(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeCredStore) Delete(ctx context.Context, uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, uid)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (f *fakeEvents) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	return nil
}
func (f *fakeEvents) Unsubscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	return nil
}
func (f *fakeEvents) Publish(ctx context.Context, event interfaces.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}
func (f *fakeEvents) PublishSync(ctx context.Context, event interfaces.Event) error {
	return f.Publish(ctx, event)
}
func (f *fakeEvents) Close() error { return nil }

func (f *fakeEvents) has(topic interfaces.EventType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.Type == topic {
			return true
		}
	}
	return false
}

// fakeBridge returns one page of posts per leaf, then HasNextPage=false, so
// a Backward pass over a single-leaf plan completes in one fetch.
type fakeBridge struct {
	mu         sync.Mutex
	calls      int
	failUntil  int
	rateLimitedCalls int
}

func (f *fakeBridge) Start(ctx context.Context) error { return nil }
func (f *fakeBridge) Stop(ctx context.Context) error  { return nil }
func (f *fakeBridge) Health(ctx context.Context) bool { return true }
func (f *fakeBridge) OpenSession(ctx context.Context) (*interfaces.OpenSessionResult, error) {
	return nil, errors.New("not used in this test")
}
func (f *fakeBridge) Listen(ctx context.Context, sessionID string) (<-chan interfaces.SessionUpdate, error) {
	return nil, errors.New("not used in this test")
}
func (f *fakeBridge) Validate(ctx context.Context, cookies map[string]string) (*interfaces.ValidateResult, error) {
	return nil, errors.New("not used in this test")
}
func (f *fakeBridge) Logs(ctx context.Context, limit int) ([]string, error) { return nil, nil }

func (f *fakeBridge) Search(ctx context.Context, cookies map[string]string, keyword string, r models.TimeRange, page int) (*interfaces.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.rateLimitedCalls > 0 {
		f.rateLimitedCalls--
		return &interfaces.SearchResult{RateLimited: true}, nil
	}

	if f.calls <= f.failUntil {
		return nil, errors.New("transient upstream error")
	}

	return &interfaces.SearchResult{
		Posts: []models.CrawledPost{{
			PostID:      "post-" + time.Now().UTC().Format(time.RFC3339Nano),
			PublishedAt: r.Start.Add(time.Minute),
			Content:     "hello",
			Author:      "bob",
		}},
		HasNextPage: false,
	}, nil
}

func testConfig() common.CrawlerConfig {
	return common.CrawlerConfig{
		PageCap:             50,
		MinShardWidth:       time.Hour,
		ForwardPollInterval: 20 * time.Millisecond,
		PacingMin:           time.Millisecond,
		PacingMax:           2 * time.Millisecond,
		PageRetryMax:        3,
		PageRetryJitterMin:  time.Millisecond,
		PageRetryJitterMax:  2 * time.Millisecond,
		RateLimitPause:      2 * time.Millisecond,
		ProgressHz:          1000,
		PageFetchTimeout:    time.Second,
	}
}

func waitForStatus(t *testing.T, store interfaces.TaskStore, taskID string, status models.CrawlTaskStatus) *models.CrawlTask {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last *models.CrawlTask
	for time.Now().Before(deadline) {
		task, err := store.GetTask(context.Background(), taskID)
		if err == nil {
			last = task
			if task.Status == status {
				return task
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s, last seen: %+v", status, last)
	return nil
}

func newTestEngine(t *testing.T, bridge *fakeBridge, credStore *fakeCredStore, events *fakeEvents) (*Engine, interfaces.TaskStore) {
	pool := newTestPool(t)
	taskStore := tasks.New(pool, arbor.NewLogger())
	postStore := posts.New(pool, arbor.NewLogger())
	sharder := &fakeSharder{pages: 1}

	engine := New(taskStore, postStore, credStore, bridge, sharder, events, testConfig(), arbor.NewLogger())
	return engine, taskStore
}

func TestEngine_CreateTask_RejectsEmptyKeyword(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeBridge{}, newFakeCredStore(), &fakeEvents{})
	_, err := engine.CreateTask(context.Background(), "  ", time.Now().Add(-time.Hour), "42")
	require.Error(t, err)
}

func TestEngine_CreateTask_RejectsFutureStartTime(t *testing.T) {
	credStore := newFakeCredStore()
	credStore.records["42"] = &models.CredentialRecord{UID: "42"}
	engine, _ := newTestEngine(t, &fakeBridge{}, credStore, &fakeEvents{})
	_, err := engine.CreateTask(context.Background(), "golang", time.Now().Add(time.Hour), "42")
	require.Error(t, err)
}

func TestEngine_CreateTask_RejectsMissingCredential(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeBridge{}, newFakeCredStore(), &fakeEvents{})
	_, err := engine.CreateTask(context.Background(), "golang", time.Now().Add(-time.Hour), "42")
	require.Error(t, err)
}

func TestEngine_CreateTask_Succeeds(t *testing.T) {
	credStore := newFakeCredStore()
	credStore.records["42"] = &models.CredentialRecord{UID: "42"}
	engine, _ := newTestEngine(t, &fakeBridge{}, credStore, &fakeEvents{})

	task, err := engine.CreateTask(context.Background(), "golang", time.Now().Add(-time.Hour), "42")
	require.NoError(t, err)
	require.Equal(t, models.TaskCreated, task.Status)
}

func TestEngine_StartCrawl_CompletesHistoryThenEntersIncremental(t *testing.T) {
	credStore := newFakeCredStore()
	credStore.records["42"] = &models.CredentialRecord{UID: "42", Cookies: map[string]string{"SUB": "t"}}
	bridge := &fakeBridge{}
	events := &fakeEvents{}
	engine, taskStore := newTestEngine(t, bridge, credStore, events)

	task, err := engine.CreateTask(context.Background(), "golang", time.Now().Add(-time.Hour), "42")
	require.NoError(t, err)

	require.NoError(t, engine.StartCrawl(context.Background(), task.TaskID))

	got := waitForStatus(t, taskStore, task.TaskID, models.TaskIncrementalCrawling)
	require.Equal(t, int64(1), got.CrawledCount)
	require.True(t, events.has(interfaces.TopicCrawlCompleted))

	require.NoError(t, engine.PauseCrawl(context.Background(), task.TaskID))
	waitForStatus(t, taskStore, task.TaskID, models.TaskPaused)
}

func TestEngine_StartCrawl_AlreadyRunning_Errors(t *testing.T) {
	credStore := newFakeCredStore()
	credStore.records["42"] = &models.CredentialRecord{UID: "42", Cookies: map[string]string{"SUB": "t"}}
	bridge := &fakeBridge{}
	engine, taskStore := newTestEngine(t, bridge, credStore, &fakeEvents{})

	task, err := engine.CreateTask(context.Background(), "golang", time.Now().Add(-time.Hour), "42")
	require.NoError(t, err)

	require.NoError(t, engine.StartCrawl(context.Background(), task.TaskID))
	err = engine.StartCrawl(context.Background(), task.TaskID)
	require.Error(t, err)

	engine.PauseCrawl(context.Background(), task.TaskID)
	waitForStatus(t, taskStore, task.TaskID, models.TaskPaused)
}

func TestEngine_TransientFailure_PausesAfterRetriesExhausted(t *testing.T) {
	credStore := newFakeCredStore()
	credStore.records["42"] = &models.CredentialRecord{UID: "42", Cookies: map[string]string{"SUB": "t"}}
	bridge := &fakeBridge{failUntil: 99}
	events := &fakeEvents{}
	engine, taskStore := newTestEngine(t, bridge, credStore, events)

	task, err := engine.CreateTask(context.Background(), "golang", time.Now().Add(-time.Hour), "42")
	require.NoError(t, err)

	require.NoError(t, engine.StartCrawl(context.Background(), task.TaskID))

	waitForStatus(t, taskStore, task.TaskID, models.TaskPaused)
	require.True(t, events.has(interfaces.TopicCrawlError))
}

func TestEngine_PauseCrawl_NotRunning_Errors(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeBridge{}, newFakeCredStore(), &fakeEvents{})
	err := engine.PauseCrawl(context.Background(), "no-such-task")
	require.Error(t, err)
}

func TestEngine_CredentialMissing_Pauses(t *testing.T) {
	credStore := newFakeCredStore()
	credStore.records["42"] = &models.CredentialRecord{UID: "42", Cookies: map[string]string{"SUB": "t"}}
	bridge := &fakeBridge{}
	events := &fakeEvents{}
	engine, taskStore := newTestEngine(t, bridge, credStore, events)

	task, err := engine.CreateTask(context.Background(), "golang", time.Now().Add(-time.Hour), "42")
	require.NoError(t, err)

	credStore.Delete(context.Background(), "42")

	require.NoError(t, engine.StartCrawl(context.Background(), task.TaskID))

	waitForStatus(t, taskStore, task.TaskID, models.TaskPaused)
	require.True(t, events.has(interfaces.TopicCrawlError))
}
