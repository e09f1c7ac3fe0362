package crawler

import (
	"context"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/interfaces"
)

// pageRetrier makes up to maxAttempts attempts at a single page fetch (the
// first try plus maxAttempts-1 retries), waiting a uniform random jitter
// between attempts (spec.md §4.6, "A transient
// network error at page-fetch time retries the page up to three times with
// 2-5s jitter before pausing"). Adapted from the teacher's RetryPolicy,
// dropping its HTTP-status-code machinery since the Bridge's Search
// reports failure purely through error/CaptchaDetected/RateLimited.
type pageRetrier struct {
	maxAttempts int
	jitterMin   time.Duration
	jitterMax   time.Duration
}

func (r *pageRetrier) fetch(ctx context.Context, logger arbor.ILogger, fn func() (*interfaces.SearchResult, error)) (*interfaces.SearchResult, error) {
	maxAttempts := r.maxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		wait := jitter(r.jitterMin, r.jitterMax)
		logger.Debug().
			Int("attempt", attempt).
			Err(err).
			Dur("backoff", wait).
			Msg("retrying page fetch after error")

		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
