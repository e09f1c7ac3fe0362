package interfaces

import (
	"context"

	"github.com/weiqr/weiqr/internal/models"
)

// PageCounter probes the upstream for a range's total page count, the one
// piece of information the Time Sharder needs from the Sidecar Bridge
// (spec.md §4.5, "Query the upstream (via C1) for page-1 of the range to
// read total-page count"). Scoped narrower than the full SidecarBridge so
// the Sharder depends only on what it actually calls.
type PageCounter interface {
	CountPages(ctx context.Context, cookies map[string]string, keyword string, r models.TimeRange) (int, error)
}

// TimeSharder is the Time Sharder (C5): turns one interval into an
// execution plan whose leaves are each known or conservatively assumed to
// fit within the upstream per-query page cap.
type TimeSharder interface {
	Plan(ctx context.Context, cookies map[string]string, keyword string, r models.TimeRange) (*models.TimeShard, error)
}
