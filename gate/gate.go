package gate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/theapemachine/indexpilot/advisor"
	"github.com/theapemachine/indexpilot/audit"
	"github.com/theapemachine/indexpilot/logger"
)

/*
ApprovalQueue persists decisions that require a human verdict before they
may reach the executor.
*/
type ApprovalQueue interface {
	SavePendingApproval(ctx context.Context, decision advisor.Decision) error
}

/*
Result is the gate's verdict on a Create decision. When Allowed is true the
caller owns the in-flight key and must call Release once the mutation
completes or fails; otherwise Outcome and Reason describe which layer
vetoed the decision.
*/
type Result struct {
	Allowed bool
	Outcome audit.Outcome
	Reason  string

	registry *InFlightRegistry
	tenantID string
	table    string
	field    string
	released atomic.Bool
}

// Release frees the per-key mutual exclusion claimed by Admit
func (r *Result) Release() {
	if r.registry == nil || !r.released.CompareAndSwap(false, true) {
		return
	}
	r.registry.Release(r.tenantID, r.table, r.field)
}

/*
Gate is the layered veto pipeline wrapping the evaluator. Every Create
decision passes through the bypass switch, per-key mutual exclusion, the
token bucket, and the optional approval workflow, in that fixed order. Skip
decisions never enter the pipeline.
*/
type Gate struct {
	bypass          atomic.Bool
	registry        *InFlightRegistry
	limiter         *Limiter
	requireApproval bool
	approvals       ApprovalQueue
}

type GateOptionFn func(*Gate)

// NewGate creates a safety gate with the given options
func NewGate(opts ...GateOptionFn) *Gate {
	g := &Gate{
		registry: NewInFlightRegistry(),
		limiter:  NewLimiter(10, 15*time.Minute, 3),
	}

	for _, fn := range opts {
		fn(g)
	}

	return g
}

func WithBypass(enabled bool) GateOptionFn {
	return func(g *Gate) {
		g.bypass.Store(enabled)
	}
}

func WithLimiter(limiter *Limiter) GateOptionFn {
	return func(g *Gate) {
		g.limiter = limiter
	}
}

func WithRegistry(registry *InFlightRegistry) GateOptionFn {
	return func(g *Gate) {
		g.registry = registry
	}
}

func WithApproval(queue ApprovalQueue) GateOptionFn {
	return func(g *Gate) {
		g.requireApproval = true
		g.approvals = queue
	}
}

// SetBypass flips the bypass switch at runtime
func (g *Gate) SetBypass(enabled bool) {
	g.bypass.Store(enabled)
}

/*
Admit runs the veto pipeline over a Create decision. The layers apply in
fixed order; the first veto wins and later layers never run.
*/
func (g *Gate) Admit(ctx context.Context, decision advisor.Decision) (*Result, error) {
	candidate := decision.Candidate

	// 1. Bypass switch.
	if g.bypass.Load() {
		logger.Info("Decision bypassed",
			"decision", decision.ID,
			"tenant", candidate.TenantID)
		return &Result{Outcome: audit.OutcomeBypassed, Reason: "bypass switch enabled"}, nil
	}

	// 2. Per-key mutual exclusion.
	if !g.registry.TryAcquire(candidate.TenantID, candidate.Table, candidate.Field) {
		return &Result{Outcome: audit.OutcomeSkipped, Reason: "duplicate in-flight build"}, nil
	}

	// 3. Token bucket, global and per-tenant.
	if !g.limiter.Allow(candidate.TenantID) {
		g.registry.Release(candidate.TenantID, candidate.Table, candidate.Field)
		return &Result{Outcome: audit.OutcomeRateLimited, Reason: "rate limit reached"}, nil
	}

	// 4. Optional approval workflow.
	if g.requireApproval {
		g.registry.Release(candidate.TenantID, candidate.Table, candidate.Field)
		if err := g.approvals.SavePendingApproval(ctx, decision); err != nil {
			return nil, err
		}
		return &Result{Outcome: audit.OutcomePendingApproval, Reason: "awaiting approval"}, nil
	}

	return &Result{
		Allowed:  true,
		registry: g.registry,
		tenantID: candidate.TenantID,
		table:    candidate.Table,
		field:    candidate.Field,
	}, nil
}

/*
AcquireForResume claims the in-flight key for an approved decision resuming
the pipeline at the executor step. The earlier gates already passed when
the decision was parked and are not re-run.
*/
func (g *Gate) AcquireForResume(decision advisor.Decision) (*Result, bool) {
	candidate := decision.Candidate
	if !g.registry.TryAcquire(candidate.TenantID, candidate.Table, candidate.Field) {
		return nil, false
	}

	return &Result{
		Allowed:  true,
		registry: g.registry,
		tenantID: candidate.TenantID,
		table:    candidate.Table,
		field:    candidate.Field,
	}, true
}

// Saturation reports the global token bucket saturation
func (g *Gate) Saturation() float64 {
	return g.limiter.Saturation()
}

// InFlight reports the number of mutations currently holding a key
func (g *Gate) InFlight() int {
	return g.registry.Count()
}
