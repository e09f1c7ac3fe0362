package interfaces

import (
	"context"
	"time"

	"github.com/weiqr/weiqr/internal/models"
)

// SaveOutcome reports whether a Credential Store save() created a new
// record or overwrote an existing one (spec.md §4.2).
type SaveOutcome string

const (
	SaveCreated    SaveOutcome = "created"
	SaveOverwritten SaveOutcome = "overwritten"
)

// CredentialStore is the Credential Store (C2): validated, TTL-bound
// persistence of CredentialRecord keyed by uid.
type CredentialStore interface {
	Save(ctx context.Context, record *models.CredentialRecord) (SaveOutcome, string, error)
	Query(ctx context.Context, uid string) (*models.CredentialRecord, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, uid string) error
}

// InsertBatchResult is the reply to PostStore.InsertBatch.
type InsertBatchResult struct {
	Inserted         int
	SkippedDuplicates int
}

// PostStore is the Post Store (C7): idempotent, time-indexed per-task
// persistence of CrawledPost.
type PostStore interface {
	InsertBatch(ctx context.Context, taskID string, posts []models.CrawledPost) (*InsertBatchResult, error)
	Range(ctx context.Context, taskID string, from, to time.Time) ([]models.CrawledPost, error)
	Count(ctx context.Context, taskID string) (int64, error)
	DeleteAll(ctx context.Context, taskID string) error
}

// TaskStore persists CrawlTask metadata and CrawlCheckpoint records, the
// Crawl Engine's own durable state (spec.md §3, "Ownership summary").
type TaskStore interface {
	SaveTask(ctx context.Context, task *models.CrawlTask) error
	GetTask(ctx context.Context, taskID string) (*models.CrawlTask, error)
	ListTasks(ctx context.Context) ([]*models.CrawlTask, error)
	DeleteTask(ctx context.Context, taskID string) error

	SaveCheckpoint(ctx context.Context, ckpt *models.CrawlCheckpoint) error
	GetCheckpoint(ctx context.Context, taskID string) (*models.CrawlCheckpoint, error)
	DeleteCheckpoint(ctx context.Context, taskID string) error
}
