package crawler

import (
	"context"
	"time"
)

// pace sleeps a uniform random duration in [min, max] between page
// fetches, interruptible by ctx (spec.md §4.6, "Pacing"). This delay is
// per-task: each crawlShard invocation owns its own clock, never a shared
// global limiter.
func pace(ctx context.Context, min, max time.Duration) error {
	return sleepCtx(ctx, jitter(min, max))
}
