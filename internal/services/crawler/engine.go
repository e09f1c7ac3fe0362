// Package crawler implements the Crawl Engine (C6): executes a CrawlTask
// end to end, durably, with pause/resume/cancel and an indefinite Forward
// (incremental) phase (spec.md §4.6).
//
// Grounded on the teacher's crawler package: retry.go's backoff-loop shape
// (adapted here to spec.md's fixed 2-5s jitter rather than exponential
// backoff) and rate_limiter.go's per-domain pacing idea (adapted to
// per-task pacing, since spec.md §4.6 requires pacing to be per-task, not
// global). Checkpointing and the worker-registry pattern follow the
// Login Orchestrator's session-map shape (internal/services/login).
package crawler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/apperr"
	"github.com/weiqr/weiqr/internal/common"
	"github.com/weiqr/weiqr/internal/interfaces"
	"github.com/weiqr/weiqr/internal/models"
	"github.com/weiqr/weiqr/internal/services/credentials"
)

// errPaused signals that a shard/pass loop stopped because a pause was
// requested, distinguishing it from a genuine failure internally. It never
// escapes the package.
var errPaused = errors.New("crawl paused")

type worker struct {
	cancel    context.CancelFunc
	pause     chan struct{}
	pauseOnce sync.Once

	// lastProgressEmit is touched only by this task's own goroutine, so it
	// needs no synchronization of its own.
	lastProgressEmit time.Time
}

// Engine implements interfaces.CrawlEngine over the durable TaskStore,
// PostStore, CredentialStore, SidecarBridge, and TimeSharder. The Engine
// knows the Event Bus; the Bus never references the Engine back
// (spec.md §9, "Cyclic / back-referential structures").
type Engine struct {
	taskStore interfaces.TaskStore
	postStore interfaces.PostStore
	credStore interfaces.CredentialStore
	bridge    interfaces.SidecarBridge
	sharder   interfaces.TimeSharder
	events    interfaces.EventService
	cfg       common.CrawlerConfig
	logger    arbor.ILogger
	retrier   *pageRetrier

	mu      sync.Mutex
	workers map[string]*worker
}

// New builds a Crawl Engine.
func New(taskStore interfaces.TaskStore, postStore interfaces.PostStore, credStore interfaces.CredentialStore, bridge interfaces.SidecarBridge, sharder interfaces.TimeSharder, events interfaces.EventService, cfg common.CrawlerConfig, logger arbor.ILogger) *Engine {
	return &Engine{
		taskStore: taskStore,
		postStore: postStore,
		credStore: credStore,
		bridge:    bridge,
		sharder:   sharder,
		events:    events,
		cfg:       cfg,
		logger:    logger,
		retrier: &pageRetrier{
			maxAttempts: cfg.PageRetryMax + 1,
			jitterMin:   cfg.PageRetryJitterMin,
			jitterMax:   cfg.PageRetryJitterMax,
		},
		workers: make(map[string]*worker),
	}
}

var _ interfaces.CrawlEngine = (*Engine)(nil)

// CreateTask validates the request and persists a fresh CrawlTask in the
// Created state (spec.md §4.6, §6.1 create_crawl_task).
func (e *Engine) CreateTask(ctx context.Context, keyword string, eventStartTime time.Time, uid string) (*models.CrawlTask, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, apperr.New(apperr.CodeInvalidKeyword, "keyword must not be empty")
	}

	now := time.Now().UTC()
	eventStartTime = eventStartTime.UTC()
	if !eventStartTime.Before(now) {
		return nil, apperr.New(apperr.CodeInvalidTime, "event_start_time must be strictly before now")
	}

	if _, err := e.credStore.Query(ctx, uid); err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return nil, apperr.New(apperr.CodeCookiesNotFound, "no stored credential for uid: "+uid)
		}
		return nil, apperr.Wrap(apperr.CodeStorageError, "looking up credential for new crawl task", err)
	}

	task := &models.CrawlTask{
		TaskID:         uuid.NewString(),
		Keyword:        keyword,
		UID:            uid,
		EventStartTime: eventStartTime,
		Status:         models.TaskCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := e.taskStore.SaveTask(ctx, task); err != nil {
		return nil, err
	}

	e.logger.Info().Str("task_id", task.TaskID).Str("keyword", keyword).Str("uid", uid).Msg("crawl task created")
	return task, nil
}

// StartCrawl launches (or resumes) a task's background worker. It is
// non-blocking (spec.md §5, "RPC entry points are non-blocking").
func (e *Engine) StartCrawl(ctx context.Context, taskID string) error {
	task, err := e.taskStore.GetTask(ctx, taskID)
	if err != nil {
		return apperr.New(apperr.CodeTaskNotFound, "no such crawl task: "+taskID)
	}

	if task.Status == models.TaskHistoryCrawling || task.Status == models.TaskIncrementalCrawling {
		return apperr.New(apperr.CodeInvalidStatus, "crawl task already running: "+taskID)
	}

	e.mu.Lock()
	if _, running := e.workers[taskID]; running {
		e.mu.Unlock()
		return apperr.New(apperr.CodeInvalidStatus, "crawl task already running: "+taskID)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	w := &worker{cancel: cancel, pause: make(chan struct{})}
	e.workers[taskID] = w
	e.mu.Unlock()

	go e.run(runCtx, task, w)
	return nil
}

// PauseCrawl requests a graceful pause: the current page finishes
// persisting, a checkpoint is written, and the task transitions to Paused
// (spec.md §4.6, "Pause").
func (e *Engine) PauseCrawl(ctx context.Context, taskID string) error {
	return e.requestStop(taskID)
}

// CancelCrawl is, for safety, equivalent to Pause: the checkpoint is
// preserved and the task transitions to Paused, never deleted
// (spec.md §4.6, "Cancel").
func (e *Engine) CancelCrawl(ctx context.Context, taskID string) error {
	return e.requestStop(taskID)
}

func (e *Engine) requestStop(taskID string) error {
	e.mu.Lock()
	w, ok := e.workers[taskID]
	e.mu.Unlock()
	if !ok {
		return apperr.New(apperr.CodeInvalidStatus, "crawl task not running: "+taskID)
	}
	w.pauseOnce.Do(func() { close(w.pause) })
	return nil
}

func (e *Engine) unregister(taskID string) {
	e.mu.Lock()
	delete(e.workers, taskID)
	e.mu.Unlock()
}

// run dispatches to the Backward or Forward pass depending on the task's
// persisted status, resuming from its checkpoint where one exists.
func (e *Engine) run(ctx context.Context, task *models.CrawlTask, w *worker) {
	defer e.unregister(task.TaskID)

	switch task.Status {
	case models.TaskCreated:
		ckpt := &models.CrawlCheckpoint{
			TaskID:       task.TaskID,
			Direction:    models.DirectionBackward,
			CurrentRange: models.TimeRange{Start: task.EventStartTime, End: task.CreatedAt},
			CurrentPage:  1,
		}
		e.transition(ctx, task, models.TaskHistoryCrawling)
		e.runBackward(ctx, task, ckpt, w)

	case models.TaskPaused, models.TaskFailed:
		ckpt, err := e.taskStore.GetCheckpoint(ctx, task.TaskID)
		if err != nil {
			e.failTask(ctx, task, apperr.Wrap(apperr.CodeSerializationError, "reading checkpoint on resume", err))
			return
		}
		if ckpt.Direction == models.DirectionForward {
			e.transition(ctx, task, models.TaskIncrementalCrawling)
			e.runForward(ctx, task, ckpt, w)
		} else {
			e.transition(ctx, task, models.TaskHistoryCrawling)
			e.runBackward(ctx, task, ckpt, w)
		}

	case models.TaskHistoryCompleted:
		now := time.Now().UTC()
		ckpt := &models.CrawlCheckpoint{
			TaskID:       task.TaskID,
			Direction:    models.DirectionForward,
			CurrentRange: models.TimeRange{Start: now, End: now},
			CurrentPage:  1,
		}
		e.transition(ctx, task, models.TaskIncrementalCrawling)
		e.runForward(ctx, task, ckpt, w)

	default:
		e.logger.Warn().Str("task_id", task.TaskID).Str("status", string(task.Status)).Msg("start_crawl ignored: unexpected task status")
	}
}

func (e *Engine) cookiesFor(ctx context.Context, uid string) (map[string]string, error) {
	record, err := e.credStore.Query(ctx, uid)
	if err != nil {
		return nil, err
	}
	return record.Cookies, nil
}

func (e *Engine) transition(ctx context.Context, task *models.CrawlTask, next models.CrawlTaskStatus) {
	task.Status = next
	task.UpdatedAt = time.Now().UTC()
	if err := e.taskStore.SaveTask(ctx, task); err != nil {
		e.logger.Error().Err(err).Str("task_id", task.TaskID).Str("status", string(next)).Msg("task status save failed")
	}
}

func (e *Engine) saveCheckpoint(ctx context.Context, ckpt *models.CrawlCheckpoint) {
	ckpt.SavedAt = time.Now().UTC()
	if err := e.taskStore.SaveCheckpoint(ctx, ckpt); err != nil {
		e.logger.Error().Err(err).Str("task_id", ckpt.TaskID).Msg("checkpoint save failed")
	}
}

// pauseTask writes the checkpoint as-is and transitions to Paused
// (spec.md §4.6, "Pause/Resume/Cancel").
func (e *Engine) pauseTask(ctx context.Context, task *models.CrawlTask, ckpt *models.CrawlCheckpoint) {
	e.saveCheckpoint(ctx, ckpt)
	e.transition(ctx, task, models.TaskPaused)
}

// pauseCredentialMissing handles the "Loss of credential" failure mode of
// spec.md §4.6: C2 returning NotFound pauses rather than fails the task.
func (e *Engine) pauseCredentialMissing(ctx context.Context, task *models.CrawlTask, ckpt *models.CrawlCheckpoint) {
	e.saveCheckpoint(ctx, ckpt)
	e.transition(ctx, task, models.TaskPaused)
	e.emitError(task, apperr.CodeCredentialMissing, "credential no longer available for uid: "+task.UID)
}

// pauseCaptcha handles a captcha_detected signal from C1 (spec.md §4.6,
// "CAPTCHA and rate limiting").
func (e *Engine) pauseCaptcha(ctx context.Context, task *models.CrawlTask, ckpt *models.CrawlCheckpoint) {
	e.saveCheckpoint(ctx, ckpt)
	e.transition(ctx, task, models.TaskPaused)
	e.emitError(task, apperr.CodeCaptchaDetected, "captcha detected, crawl paused")
}

// pauseTransientFailure handles exhaustion of the per-page retry budget
// (spec.md §4.6, "A transient network error at page-fetch time retries the
// page up to three times ... before pausing").
func (e *Engine) pauseTransientFailure(ctx context.Context, task *models.CrawlTask, ckpt *models.CrawlCheckpoint, err error) {
	e.saveCheckpoint(ctx, ckpt)
	e.transition(ctx, task, models.TaskPaused)
	var appErr *apperr.Error
	code := apperr.CodeNetworkFailed
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	e.emitError(task, code, err.Error())
}

// failTask handles unrecoverable checkpoint corruption (spec.md §4.6,
// "Failure semantics"): the task moves to Failed and does NOT auto-reset.
func (e *Engine) failTask(ctx context.Context, task *models.CrawlTask, err error) {
	var appErr *apperr.Error
	code := apperr.CodeStorageError
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	task.FailureReason = err.Error()
	e.transition(ctx, task, models.TaskFailed)
	e.emitError(task, code, err.Error())
}
