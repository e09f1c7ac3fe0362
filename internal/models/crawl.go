package models

import "time"

// CrawlTaskStatus is the state machine of spec.md §3, CrawlTask.
type CrawlTaskStatus string

const (
	TaskCreated             CrawlTaskStatus = "Created"
	TaskHistoryCrawling     CrawlTaskStatus = "HistoryCrawling"
	TaskHistoryCompleted    CrawlTaskStatus = "HistoryCompleted"
	TaskIncrementalCrawling CrawlTaskStatus = "IncrementalCrawling"
	TaskPaused              CrawlTaskStatus = "Paused"
	TaskFailed              CrawlTaskStatus = "Failed"
)

// CrawlTask is one keyword-search crawl's durable metadata record
// (spec.md §3).
type CrawlTask struct {
	TaskID         string          `json:"task_id"`
	Keyword        string          `json:"keyword"`
	UID            string          `json:"uid"`
	EventStartTime time.Time       `json:"event_start_time"`
	Status         CrawlTaskStatus `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CrawledCount   int64           `json:"crawled_count"`
	FailureReason  string          `json:"failure_reason,omitempty"`
}

// StorageKey derives the namespaced Redis hash key for task metadata
// (spec.md §6.3: "<ns>:crawl:task:<task_id>").
func (t *CrawlTask) StorageKey(namespace string) string {
	return namespace + ":crawl:task:" + t.TaskID
}

// CanTransitionTo enforces the state machine of spec.md §4.6 / §3:
// {Created -> HistoryCrawling -> HistoryCompleted -> IncrementalCrawling};
// Paused and Failed are reachable from any running state; {HistoryCrawling,
// IncrementalCrawling} are re-enterable from Paused or Failed.
func (t *CrawlTask) CanTransitionTo(next CrawlTaskStatus) bool {
	if next == TaskPaused || next == TaskFailed {
		switch t.Status {
		case TaskCreated, TaskHistoryCrawling, TaskHistoryCompleted, TaskIncrementalCrawling:
			return true
		default:
			return false
		}
	}

	switch t.Status {
	case TaskCreated:
		return next == TaskHistoryCrawling
	case TaskHistoryCrawling:
		return next == TaskHistoryCompleted
	case TaskHistoryCompleted:
		return next == TaskIncrementalCrawling
	case TaskPaused, TaskFailed:
		return next == TaskHistoryCrawling || next == TaskIncrementalCrawling
	default:
		return false
	}
}

// Direction is the pass direction of a crawl checkpoint (spec.md §3).
type Direction string

const (
	DirectionBackward Direction = "Backward"
	DirectionForward  Direction = "Forward"
)

// TimeRange is an hour-aligned half-open wall-clock interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports Start < End.
func (r TimeRange) Valid() bool {
	return r.Start.Before(r.End)
}

// Overlaps reports whether two ranges share any time.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// CrawlCheckpoint is the resumable state of one task's execution
// (spec.md §3, §4.6): task-level, shard-level, and page-level granularity
// all write through this single record.
type CrawlCheckpoint struct {
	TaskID          string      `json:"task_id"`
	Direction       Direction   `json:"direction"`
	CurrentRange    TimeRange   `json:"current_range"`
	CurrentPage     int         `json:"current_page"`
	CompletedShards []TimeRange `json:"completed_shards"`
	SavedAt         time.Time   `json:"saved_at"`
}

// StorageKey derives the namespaced Redis hash key for a checkpoint
// (spec.md §6.3: "<ns>:crawl:ckpt:<task_id>").
func (c *CrawlCheckpoint) StorageKey(namespace string) string {
	return namespace + ":crawl:ckpt:" + c.TaskID
}

// CrawledPost is one result persisted by the Post Store (spec.md §3).
type CrawledPost struct {
	PostID      string                 `json:"post_id"`
	TaskID      string                 `json:"task_id"`
	PublishedAt time.Time              `json:"published_at"`
	Content     string                 `json:"content"`
	Author      string                 `json:"author"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// PostsKey derives the ordered-set key for a task's post index
// (spec.md §6.3: "<ns>:crawl:posts:<task_id>").
func PostsKey(namespace, taskID string) string {
	return namespace + ":crawl:posts:" + taskID
}

// PostBodyKey derives the per-post body key
// (spec.md §6.3: "<ns>:crawl:post:<task_id>:<post_id>").
func PostBodyKey(namespace, taskID, postID string) string {
	return namespace + ":crawl:post:" + taskID + ":" + postID
}
