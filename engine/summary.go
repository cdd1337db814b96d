package engine

import (
	"sync/atomic"
	"time"
)

/*
CycleSummary is what one evaluation cycle reports back to its caller: how
many keys were evaluated and how each decision was resolved.
*/
type CycleSummary struct {
	Evaluated   int64         `json:"evaluated"`
	Created     int64         `json:"created"`
	Skipped     int64         `json:"skipped"`
	Failed      int64         `json:"failed"`
	RateLimited int64         `json:"rate_limited"`
	Pending     int64         `json:"pending_approval"`
	Bypassed    int64         `json:"bypassed"`
	DroppedLate int64         `json:"dropped_late"`
	Duration    time.Duration `json:"duration"`
}

// counters accumulates cycle outcomes from concurrent workers
type counters struct {
	evaluated   atomic.Int64
	created     atomic.Int64
	skipped     atomic.Int64
	failed      atomic.Int64
	rateLimited atomic.Int64
	pending     atomic.Int64
	bypassed    atomic.Int64
}

func (c *counters) summary() CycleSummary {
	return CycleSummary{
		Evaluated:   c.evaluated.Load(),
		Created:     c.created.Load(),
		Skipped:     c.skipped.Load(),
		Failed:      c.failed.Load(),
		RateLimited: c.rateLimited.Load(),
		Pending:     c.pending.Load(),
		Bypassed:    c.bypassed.Load(),
	}
}

/*
Status is the live health view of the safety envelope, served to dashboards
while the engine runs.
*/
type Status struct {
	LimiterSaturation float64 `json:"limiter_saturation"`
	InFlight          int     `json:"in_flight_mutations"`
	PendingApprovals  int64   `json:"pending_approvals"`
}
