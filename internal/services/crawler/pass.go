package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/weiqr/weiqr/internal/apperr"
	"github.com/weiqr/weiqr/internal/interfaces"
	"github.com/weiqr/weiqr/internal/models"
)

// runBackward executes the Backward (historical) pass: plan the full range
// via the Time Sharder, then walk leaf shards from most-recent to oldest,
// crawling each to completion (spec.md §4.6, "Passes", 1).
func (e *Engine) runBackward(ctx context.Context, task *models.CrawlTask, ckpt *models.CrawlCheckpoint, w *worker) {
	fullRange := models.TimeRange{Start: task.EventStartTime, End: task.CreatedAt}

	cookies, err := e.cookiesFor(ctx, task.UID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		e.pauseCredentialMissing(ctx, task, ckpt)
		return
	}

	plan, err := e.sharder.Plan(ctx, cookies, task.Keyword, fullRange)
	if err != nil {
		e.pauseTransientFailure(ctx, task, ckpt, err)
		return
	}

	leaves := plan.Leaves()
	reverseLeaves(leaves)

	startIdx, startPage := resumeIndex(leaves, ckpt)

	for i := startIdx; i < len(leaves); i++ {
		leaf := leaves[i]
		page := 1
		if i == startIdx {
			page = startPage
		}

		completed, err := e.crawlShard(ctx, task, ckpt, leaf.Range, page, models.DirectionBackward, w)
		if err != nil || !completed {
			return
		}

		ckpt.CompletedShards = append(ckpt.CompletedShards, leaf.Range)
		ckpt.CurrentPage = 1
		e.saveCheckpoint(ctx, ckpt)
	}

	task.Status = models.TaskHistoryCompleted
	task.UpdatedAt = time.Now().UTC()
	if err := e.taskStore.SaveTask(ctx, task); err != nil {
		e.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("task status save failed")
	}
	e.emitCompleted(task)

	now := time.Now().UTC()
	forwardCkpt := &models.CrawlCheckpoint{
		TaskID:       task.TaskID,
		Direction:    models.DirectionForward,
		CurrentRange: models.TimeRange{Start: now, End: now},
		CurrentPage:  1,
	}
	e.transition(ctx, task, models.TaskIncrementalCrawling)
	e.runForward(ctx, task, forwardCkpt, w)
}

// runForward executes the Forward (incremental) pass: poll
// [cursor, now) on a fixed interval, advancing the cursor on each success
// (spec.md §4.6, "Passes", 2). Deduplication is left to the Post Store.
func (e *Engine) runForward(ctx context.Context, task *models.CrawlTask, ckpt *models.CrawlCheckpoint, w *worker) {
	cursor := ckpt.CurrentRange.Start

	poller := newForwardPoller(e.cfg.ForwardPollInterval)
	defer poller.stop()

	for {
		now := time.Now().UTC()
		window := models.TimeRange{Start: cursor, End: now}
		ckpt.CurrentRange = window
		ckpt.CurrentPage = 1

		if window.Valid() {
			completed, err := e.crawlShard(ctx, task, ckpt, window, 1, models.DirectionForward, w)
			if err != nil || !completed {
				return
			}
			cursor = now
			ckpt.CurrentRange = models.TimeRange{Start: cursor, End: cursor}
			ckpt.CurrentPage = 1
			e.saveCheckpoint(ctx, ckpt)
		}

		select {
		case <-w.pause:
			e.pauseTask(ctx, task, ckpt)
			return
		case <-ctx.Done():
			return
		case <-poller.ticks:
		}
	}
}

// crawlShard iterates pages [startPage, ...] of one leaf range, inserting
// results into the Post Store and checkpointing after each page. It
// reports whether the shard was fully consumed (true) or the pass was
// stopped by a pause/cancel/failure (false); in the latter case the
// relevant pause/fail transition has already been applied.
func (e *Engine) crawlShard(ctx context.Context, task *models.CrawlTask, ckpt *models.CrawlCheckpoint, leaf models.TimeRange, startPage int, direction models.Direction, w *worker) (bool, error) {
	page := startPage

	for {
		select {
		case <-w.pause:
			ckpt.CurrentRange = leaf
			ckpt.CurrentPage = page
			e.pauseTask(ctx, task, ckpt)
			return false, errPaused
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		cookies, err := e.cookiesFor(ctx, task.UID)
		if err != nil {
			ckpt.CurrentRange = leaf
			ckpt.CurrentPage = page
			e.pauseCredentialMissing(ctx, task, ckpt)
			return false, err
		}

		result, err := e.fetchPage(ctx, cookies, task.Keyword, leaf, page)
		if err != nil {
			ckpt.CurrentRange = leaf
			ckpt.CurrentPage = page
			e.pauseTransientFailure(ctx, task, ckpt, err)
			return false, err
		}

		if result.CaptchaDetected {
			ckpt.CurrentRange = leaf
			ckpt.CurrentPage = page
			e.pauseCaptcha(ctx, task, ckpt)
			return false, apperr.New(apperr.CodeCaptchaDetected, "captcha detected during page fetch")
		}

		if result.RateLimited {
			if err := sleepCtx(ctx, e.cfg.RateLimitPause); err != nil {
				return false, err
			}
			continue
		}

		batch, err := e.postStore.InsertBatch(ctx, task.TaskID, result.Posts)
		if err != nil {
			ckpt.CurrentRange = leaf
			ckpt.CurrentPage = page
			e.pauseTransientFailure(ctx, task, ckpt, err)
			return false, err
		}

		task.CrawledCount += int64(batch.Inserted)
		ckpt.CurrentRange = leaf
		ckpt.CurrentPage = page + 1
		e.saveCheckpoint(ctx, ckpt)
		e.emitProgress(task, ckpt)

		if !result.HasNextPage {
			return true, nil
		}
		page++

		if err := pace(ctx, e.cfg.PacingMin, e.cfg.PacingMax); err != nil {
			return false, err
		}
	}
}

func (e *Engine) fetchPage(ctx context.Context, cookies map[string]string, keyword string, r models.TimeRange, page int) (*interfaces.SearchResult, error) {
	return e.retrier.fetch(ctx, e.logger, func() (*interfaces.SearchResult, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.PageFetchTimeout)
		defer cancel()
		return e.bridge.Search(fetchCtx, cookies, keyword, r, page)
	})
}

// resumeIndex locates where a resumed Backward pass should continue: the
// first leaf not already present in completed_shards, and the checkpoint's
// current_page if that leaf matches current_range exactly.
func resumeIndex(leaves []*models.TimeShard, ckpt *models.CrawlCheckpoint) (int, int) {
	for i, leaf := range leaves {
		if containsRange(ckpt.CompletedShards, leaf.Range) {
			continue
		}
		if leaf.Range == ckpt.CurrentRange && ckpt.CurrentPage > 1 {
			return i, ckpt.CurrentPage
		}
		return i, 1
	}
	return len(leaves), 1
}

func containsRange(haystack []models.TimeRange, r models.TimeRange) bool {
	for _, h := range haystack {
		if h == r {
			return true
		}
	}
	return false
}

func reverseLeaves(leaves []*models.TimeShard) {
	for i, j := 0, len(leaves)-1; i < j; i, j = i+1, j-1 {
		leaves[i], leaves[j] = leaves[j], leaves[i]
	}
}
