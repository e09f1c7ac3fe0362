package interfaces

import (
	"context"
	"time"

	"github.com/weiqr/weiqr/internal/models"
)

// CrawlEngine is the Crawl Engine (C6): executes a CrawlTask end to end,
// durably, with the ability to pause, resume after process restart, and
// continue indefinitely in the Forward phase (spec.md §4.6).
type CrawlEngine interface {
	CreateTask(ctx context.Context, keyword string, eventStartTime time.Time, uid string) (*models.CrawlTask, error)
	StartCrawl(ctx context.Context, taskID string) error
	PauseCrawl(ctx context.Context, taskID string) error
	CancelCrawl(ctx context.Context, taskID string) error
}
