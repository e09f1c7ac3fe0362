package crawler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// forwardPoller drives the Forward pass's fixed polling interval
// (spec.md §4.6, "Periodically (every 60s by default)"). Grounded on the
// teacher's scheduler service, which wraps robfig/cron.Cron for named
// recurring jobs; here a single "@every" job per running task stands in
// for that registry, since the Forward pass needs exactly one recurring
// tick rather than a set of independently-scheduled jobs.
type forwardPoller struct {
	cron  *cron.Cron
	ticks chan struct{}
}

func newForwardPoller(interval time.Duration) *forwardPoller {
	if interval <= 0 {
		interval = time.Minute
	}

	p := &forwardPoller{
		cron:  cron.New(cron.WithSeconds()),
		ticks: make(chan struct{}, 1),
	}

	p.cron.AddFunc("@every "+interval.String(), func() {
		select {
		case p.ticks <- struct{}{}:
		default:
			// Previous tick still unconsumed; the poll loop is busy, skip.
		}
	})
	p.cron.Start()

	return p
}

func (p *forwardPoller) stop() {
	p.cron.Stop()
}
