package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/weiqr/weiqr/internal/models"
)

// handleCreateCrawlTask is the `create_crawl_task` RPC (spec.md §4.6).
func (s *Server) handleCreateCrawlTask(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Keyword        string    `json:"keyword"`
		EventStartTime time.Time `json:"event_start_time"`
		UID            string    `json:"uid"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "InvalidRequest", "malformed request body")
		return
	}

	task, err := s.crawlEngine.CreateTask(r.Context(), req.Keyword, req.EventStartTime, req.UID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, task)
}

// handleStartCrawl is the `start_crawl` RPC.
func (s *Server) handleStartCrawl(w http.ResponseWriter, r *http.Request) {
	s.dispatchByTaskID(w, r, s.crawlEngine.StartCrawl, "started")
}

// handlePauseCrawl is the `pause_crawl` RPC.
func (s *Server) handlePauseCrawl(w http.ResponseWriter, r *http.Request) {
	s.dispatchByTaskID(w, r, s.crawlEngine.PauseCrawl, "paused")
}

// handleCancelCrawl is the `cancel_crawl` RPC.
func (s *Server) handleCancelCrawl(w http.ResponseWriter, r *http.Request) {
	s.dispatchByTaskID(w, r, s.crawlEngine.CancelCrawl, "cancelled")
}

// dispatchByTaskID decodes a {"task_id": "..."} body and runs op against
// it, sharing the request/response shape common to start/pause/cancel.
func (s *Server) dispatchByTaskID(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, taskID string) error, doneStatus string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "InvalidRequest", "malformed request body")
		return
	}

	if err := op(r.Context(), req.TaskID); err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": doneStatus})
}

// handleGetCrawlTask is the `get_crawl_task` RPC.
func (s *Server) handleGetCrawlTask(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		WriteError(w, http.StatusBadRequest, "InvalidRequest", "task_id is required")
		return
	}

	task, err := s.taskStore.GetTask(r.Context(), taskID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, task)
}

// handleGetCrawlCheckpoint is the `get_crawl_checkpoint` RPC.
func (s *Server) handleGetCrawlCheckpoint(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		WriteError(w, http.StatusBadRequest, "InvalidRequest", "task_id is required")
		return
	}

	ckpt, err := s.taskStore.GetCheckpoint(r.Context(), taskID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, ckpt)
}

// handleListCrawlTasks is the `list_crawl_tasks` RPC: `{status?, sort_by?,
// sort_order?}` -> `{tasks, total}` (spec.md §6.1).
func (s *Server) handleListCrawlTasks(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	tasks, err := s.taskStore.ListTasks(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if string(t.Status) == status {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	sortCrawlTasks(tasks, r.URL.Query().Get("sort_by"), r.URL.Query().Get("sort_order"))

	WriteJSON(w, http.StatusOK, struct {
		Tasks []*models.CrawlTask `json:"tasks"`
		Total int                 `json:"total"`
	}{Tasks: tasks, Total: len(tasks)})
}

// sortCrawlTasks orders tasks in place by sortBy ("created_at" (default),
// "updated_at", or "crawled_count"), ascending unless sortOrder is "desc".
func sortCrawlTasks(tasks []*models.CrawlTask, sortBy, sortOrder string) {
	less := func(i, j int) bool {
		switch sortBy {
		case "updated_at":
			return tasks[i].UpdatedAt.Before(tasks[j].UpdatedAt)
		case "crawled_count":
			return tasks[i].CrawledCount < tasks[j].CrawledCount
		default:
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
	}
	if sortOrder == "desc" {
		asc := less
		less = func(i, j int) bool { return asc(j, i) }
	}
	sort.Slice(tasks, less)
}

// handleExportCrawlData is the `export_crawl_data` RPC. Kept directly in
// this package rather than split into its own service: it is a thin
// format-conversion layer over PostStore.Range with no state of its own,
// using only encoding/json and encoding/csv from the standard library.
func (s *Server) handleExportCrawlData(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		WriteError(w, http.StatusBadRequest, "InvalidRequest", "task_id is required")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	from := parseOptionalTime(r.URL.Query().Get("from"))
	to := parseOptionalTime(r.URL.Query().Get("to"))
	if to.IsZero() {
		to = time.Now().UTC()
	}

	posts, err := s.postStore.Range(r.Context(), taskID, from, to)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+taskID+`.csv"`)
		writer := csv.NewWriter(w)
		writer.Write([]string{"post_id", "published_at", "author", "content"})
		for _, p := range posts {
			writer.Write([]string{p.PostID, p.PublishedAt.Format(time.RFC3339), p.Author, p.Content})
		}
		writer.Flush()
	default:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(posts)
	}
}

func parseOptionalTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if unixSec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unixSec, 0).UTC()
	}
	return time.Time{}
}
