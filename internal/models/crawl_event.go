package models

import "time"

// CrawlProgressEvent is published after every page fetch, capped at 10 Hz
// by the Crawl Engine (spec.md §4.6, §6.4).
type CrawlProgressEvent struct {
	TaskID       string          `json:"task_id"`
	Timestamp    time.Time       `json:"timestamp"`
	Status       CrawlTaskStatus `json:"status"`
	CurrentRange TimeRange       `json:"current_range"`
	CurrentPage  int             `json:"current_page"`
	CrawledCount int64           `json:"crawled_count"`
}

// CrawlCompletedEvent is published exactly once, when HistoryCompleted is
// first reached (spec.md §4.6).
type CrawlCompletedEvent struct {
	TaskID       string    `json:"task_id"`
	Timestamp    time.Time `json:"timestamp"`
	CrawledCount int64     `json:"crawled_count"`
}

// CrawlErrorEvent is published on a terminal or pause-inducing failure
// (spec.md §4.6).
type CrawlErrorEvent struct {
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
}
