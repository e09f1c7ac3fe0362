package crawler

import (
	"context"
	"time"

	"github.com/weiqr/weiqr/internal/apperr"
	"github.com/weiqr/weiqr/internal/interfaces"
	"github.com/weiqr/weiqr/internal/models"
)

// progressInterval derives the minimum spacing between CrawlProgress
// events from the configured frequency cap (spec.md §4.6, "Progress
// frequency is capped at 10 Hz").
func (e *Engine) progressInterval() time.Duration {
	hz := e.cfg.ProgressHz
	if hz <= 0 {
		hz = 10
	}
	return time.Duration(float64(time.Second) / hz)
}

// emitProgress publishes CrawlProgress, throttled per task so a fast shard
// never floods the bus (spec.md §4.6, §5 "Backpressure").
func (e *Engine) emitProgress(task *models.CrawlTask, ckpt *models.CrawlCheckpoint) {
	e.mu.Lock()
	w := e.workers[task.TaskID]
	e.mu.Unlock()
	if w != nil {
		now := time.Now()
		if !w.lastProgressEmit.IsZero() && now.Sub(w.lastProgressEmit) < e.progressInterval() {
			return
		}
		w.lastProgressEmit = now
	}

	event := models.CrawlProgressEvent{
		TaskID:       task.TaskID,
		Timestamp:    time.Now().UTC(),
		Status:       task.Status,
		CurrentRange: ckpt.CurrentRange,
		CurrentPage:  ckpt.CurrentPage,
		CrawledCount: task.CrawledCount,
	}
	e.publish(interfaces.TopicCrawlProgress, event)
}

// emitCompleted publishes CrawlCompleted exactly once, when HistoryCompleted
// is first reached (spec.md §4.6).
func (e *Engine) emitCompleted(task *models.CrawlTask) {
	e.publish(interfaces.TopicCrawlCompleted, models.CrawlCompletedEvent{
		TaskID:       task.TaskID,
		Timestamp:    time.Now().UTC(),
		CrawledCount: task.CrawledCount,
	})
}

// emitError publishes CrawlError on a terminal or pause-inducing failure
// (spec.md §4.6).
func (e *Engine) emitError(task *models.CrawlTask, code apperr.Code, message string) {
	e.publish(interfaces.TopicCrawlError, models.CrawlErrorEvent{
		TaskID:    task.TaskID,
		Timestamp: time.Now().UTC(),
		Code:      string(code),
		Message:   message,
	})
}

func (e *Engine) publish(topic interfaces.EventType, payload interface{}) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(context.Background(), interfaces.Event{Type: topic, Payload: payload}); err != nil {
		e.logger.Warn().Err(err).Str("event_type", string(topic)).Msg("crawl event publish failed")
	}
}
