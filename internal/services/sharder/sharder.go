// Package sharder implements the Time Sharder (C5): recursive binary
// splitting of a time interval into leaves the upstream search endpoint can
// serve within its page cap (spec.md §4.5).
//
// Grounded on the teacher's preference for small, stateless, single-purpose
// services with no package-level state (internal/services/crawler's
// RetryPolicy and RateLimiter are likewise plain value types constructed
// fresh per caller).
package sharder

import (
	"context"
	"math"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/apperr"
	"github.com/weiqr/weiqr/internal/interfaces"
	"github.com/weiqr/weiqr/internal/models"
)

// CAP is the upstream per-query page cap (spec.md §4.5).
const CAP = 50

// MinShardWidth is the minimum shard width; a leaf at this width is
// accepted even if its page count exceeds CAP (spec.md §4.5, "Bounds").
const MinShardWidth = time.Hour

// Sharder implements interfaces.TimeSharder. It is stateless; a single
// instance serves the Engine (spec.md §4.5, "Concurrency").
type Sharder struct {
	counter interfaces.PageCounter
	logger  arbor.ILogger
}

// New builds a Sharder against a page counter (typically the Sidecar
// Bridge's Search, probed for page 1's total_pages).
func New(counter interfaces.PageCounter, logger arbor.ILogger) *Sharder {
	return &Sharder{counter: counter, logger: logger}
}

var _ interfaces.TimeSharder = (*Sharder)(nil)

// Plan recursively splits r into an execution tree whose leaves are each
// within CAP pages, or exactly MinShardWidth wide (spec.md §4.5,
// "Algorithm").
func (s *Sharder) Plan(ctx context.Context, cookies map[string]string, keyword string, r models.TimeRange) (*models.TimeShard, error) {
	if !r.Valid() {
		return nil, apperr.New(apperr.CodeInvalidTime, "shard range start must precede end")
	}
	return s.plan(ctx, cookies, keyword, r, 0)
}

func (s *Sharder) plan(ctx context.Context, cookies map[string]string, keyword string, r models.TimeRange, depth int) (*models.TimeShard, error) {
	pages, err := s.counter.CountPages(ctx, cookies, keyword, r)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidResponse, "counting pages for shard range", err)
	}

	width := r.End.Sub(r.Start)

	if pages <= CAP || width <= MinShardWidth {
		if width <= MinShardWidth && pages > CAP {
			s.logger.Warn().
				Time("start", r.Start).
				Time("end", r.End).
				Int("pages", pages).
				Msg("one-hour shard exceeds page cap, accepted at minimum resolution")
		}
		return &models.TimeShard{Range: r, EstimatedPageCount: pages}, nil
	}

	mid := roundToHour(r.Start.Add(width / 2))
	if !mid.After(r.Start) {
		// Mid collides with start: favor splitting to the later half
		// (spec.md §4.5, "favor splitting to the later half if mid
		// collides with start").
		mid = r.Start.Add(time.Hour)
	}
	if !mid.Before(r.End) {
		mid = r.End.Add(-time.Hour)
	}

	left, err := s.plan(ctx, cookies, keyword, models.TimeRange{Start: r.Start, End: mid}, depth+1)
	if err != nil {
		return nil, err
	}
	right, err := s.plan(ctx, cookies, keyword, models.TimeRange{Start: mid, End: r.End}, depth+1)
	if err != nil {
		return nil, err
	}

	return &models.TimeShard{
		Range:              r,
		EstimatedPageCount: pages,
		Children:           []*models.TimeShard{left, right},
	}, nil
}

// roundToHour rounds t to the nearest hour boundary in UTC
// (spec.md §4.5, "Tie-breaks": hour boundaries are computed in UTC).
func roundToHour(t time.Time) time.Time {
	u := t.UTC()
	truncated := u.Truncate(time.Hour)
	remainder := u.Sub(truncated)
	if remainder >= 30*time.Minute {
		return truncated.Add(time.Hour)
	}
	return truncated
}

// MaxDepth returns the theoretical recursion-depth bound for a range of the
// given width (spec.md §4.5, "Bounds": "Total recursion depth ≤
// ⌈log₂(range_hours)⌉"). Exposed for tests asserting the bound holds.
func MaxDepth(width time.Duration) int {
	hours := width.Hours()
	if hours <= 1 {
		return 0
	}
	return int(math.Ceil(math.Log2(hours)))
}
