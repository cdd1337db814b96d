package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/theapemachine/indexpilot/advisor"
	"github.com/theapemachine/indexpilot/aggregator"
	"github.com/theapemachine/indexpilot/audit"
	"github.com/theapemachine/indexpilot/catalog"
	"github.com/theapemachine/indexpilot/executor"
	"github.com/theapemachine/indexpilot/gate"
	"github.com/theapemachine/indexpilot/logger"
	"github.com/theapemachine/indexpilot/storage"
	"github.com/theapemachine/indexpilot/telemetry"
)

/*
Engine drives one evaluation cycle end to end: telemetry in, aggregated
statistics, one decision per eligible key, the safety gate's verdict, the
mutation itself, and an audit entry for every decision regardless of how it
resolved. Per-key work runs on a bounded worker pool so a slow database
call never blocks the whole cycle.
*/
type Engine struct {
	source      telemetry.Source
	aggregator  *aggregator.Aggregator
	catalog     catalog.Catalog
	evaluator   *advisor.Evaluator
	gate        *gate.Gate
	executor    *executor.Executor
	store       *audit.Store
	archive     storage.Archive
	advisory    bool
	maxParallel int64
	now         func() time.Time
}

type EngineOptionFn func(*Engine)

// NewEngine creates a new engine with the given options
func NewEngine(opts ...EngineOptionFn) *Engine {
	eng := &Engine{
		maxParallel: 4,
		now:         time.Now,
	}

	for _, fn := range opts {
		fn(eng)
	}

	return eng
}

func WithSource(source telemetry.Source) EngineOptionFn {
	return func(e *Engine) {
		e.source = source
	}
}

func WithAggregator(agg *aggregator.Aggregator) EngineOptionFn {
	return func(e *Engine) {
		e.aggregator = agg
	}
}

func WithCatalog(cat catalog.Catalog) EngineOptionFn {
	return func(e *Engine) {
		e.catalog = cat
	}
}

func WithEvaluator(eval *advisor.Evaluator) EngineOptionFn {
	return func(e *Engine) {
		e.evaluator = eval
	}
}

func WithGate(g *gate.Gate) EngineOptionFn {
	return func(e *Engine) {
		e.gate = g
	}
}

func WithExecutor(exec *executor.Executor) EngineOptionFn {
	return func(e *Engine) {
		e.executor = exec
	}
}

func WithStore(store *audit.Store) EngineOptionFn {
	return func(e *Engine) {
		e.store = store
	}
}

func WithArchive(archive storage.Archive) EngineOptionFn {
	return func(e *Engine) {
		e.archive = archive
	}
}

func WithAdvisoryMode(enabled bool) EngineOptionFn {
	return func(e *Engine) {
		e.advisory = enabled
	}
}

func WithMaxParallel(n int) EngineOptionFn {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = int64(n)
		}
	}
}

/*
RunCycle runs one full evaluation cycle and returns its summary. It is the
entrypoint the scheduler and the CLI invoke.
*/
func (e *Engine) RunCycle(ctx context.Context) (CycleSummary, error) {
	start := e.now()

	stats, err := e.collect(ctx)
	if err != nil {
		return CycleSummary{}, err
	}

	logger.Info("Evaluation cycle started",
		"keys", len(stats),
		"advisory", e.advisory)

	var tally counters

	group, groupCtx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(e.maxParallel)

	for _, snapshot := range stats {
		snapshot := snapshot
		if err := sem.Acquire(groupCtx, 1); err != nil {
			break
		}

		group.Go(func() error {
			defer sem.Release(1)
			return e.process(groupCtx, snapshot, &tally)
		})
	}

	if err := group.Wait(); err != nil {
		return CycleSummary{}, err
	}

	summary := tally.summary()
	summary.DroppedLate = e.aggregator.DroppedLate()
	summary.Duration = e.now().Sub(start)

	logger.Info("Evaluation cycle finished",
		"evaluated", summary.Evaluated,
		"created", summary.Created,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"rate_limited", summary.RateLimited,
		"duration", summary.Duration)

	return summary, nil
}

/*
collect drains the telemetry source into the aggregator and flushes the
window, keeping only keys whose field is active for the tenant. Inactive
fields are not eligible for evaluation at all.
*/
func (e *Engine) collect(ctx context.Context) ([]aggregator.Statistics, error) {
	for {
		batch, err := e.source.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read telemetry: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, record := range batch {
			e.aggregator.Add(record)
		}
	}

	flushed := e.aggregator.Flush(e.now())

	eligible := make([]aggregator.Statistics, 0, len(flushed))
	for _, snapshot := range flushed {
		active, err := e.catalog.IsFieldActive(ctx, snapshot.TenantID, snapshot.Table, snapshot.Field)
		if err != nil {
			return nil, fmt.Errorf("failed to check field activation: %w", err)
		}
		if active {
			eligible = append(eligible, snapshot)
		}
	}

	return eligible, nil
}

/*
process evaluates one statistics snapshot and routes the decision through
the safety envelope. Every path, including every veto, appends exactly one
mutation log entry.
*/
func (e *Engine) process(ctx context.Context, snapshot aggregator.Statistics, tally *counters) error {
	exists, err := e.catalog.IndexExists(ctx, snapshot.TenantID, snapshot.Table, snapshot.Field)
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}

	estimate, err := e.catalog.Estimate(ctx, snapshot.TenantID, snapshot.Table, snapshot.Field)
	if err != nil {
		return fmt.Errorf("failed to read table estimate: %w", err)
	}

	healthRecords, err := e.store.HealthForTable(ctx, snapshot.TenantID, snapshot.Table)
	if err != nil {
		return fmt.Errorf("failed to read index health: %w", err)
	}

	decision := e.evaluator.Evaluate(advisor.Input{
		Stats: snapshot,
		Estimate: advisor.Estimate{
			RowCount:         estimate.RowCount,
			FieldCardinality: estimate.FieldCardinality,
		},
		Exists: exists,
		Health: healthRecords,
	})

	tally.evaluated.Add(1)

	// Skip decisions bypass the gate pipeline entirely.
	if decision.Action != advisor.ActionCreate {
		tally.skipped.Add(1)
		return e.record(ctx, decision, audit.OutcomeSkipped, decision.Reason, nil)
	}

	if e.advisory {
		tally.skipped.Add(1)
		return e.record(ctx, decision, audit.OutcomeSkipped, "advisory mode: decision logged, not applied", nil)
	}

	verdict, err := e.gate.Admit(ctx, decision)
	if err != nil {
		return fmt.Errorf("safety gate failed: %w", err)
	}

	if !verdict.Allowed {
		switch verdict.Outcome {
		case audit.OutcomeBypassed:
			tally.bypassed.Add(1)
		case audit.OutcomeRateLimited:
			tally.rateLimited.Add(1)
		case audit.OutcomePendingApproval:
			tally.pending.Add(1)
		default:
			tally.skipped.Add(1)
		}
		return e.record(ctx, decision, verdict.Outcome, verdict.Reason, nil)
	}

	defer verdict.Release()

	result := e.executor.Execute(ctx, decision)
	switch result.Outcome {
	case audit.OutcomeApplied:
		tally.created.Add(1)
	case audit.OutcomeFailed:
		tally.failed.Add(1)
	default:
		tally.skipped.Add(1)
	}

	return e.record(ctx, decision, result.Outcome, result.ErrorDetail, result.AppliedAt)
}

/*
record appends the mutation log entry and mirrors terminal outcomes into
the archive when one is configured.
*/
func (e *Engine) record(ctx context.Context, decision advisor.Decision, outcome audit.Outcome, detail string, appliedAt *time.Time) error {
	entry := &audit.MutationLogEntry{
		Decision:    decision,
		Outcome:     outcome,
		ErrorDetail: detail,
		AppliedAt:   appliedAt,
	}

	if err := e.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	if e.archive != nil && outcome.Terminal() {
		if err := e.archive.SaveEntry(ctx, entry); err != nil {
			// The hot store already has the entry; archiving is best-effort.
			logger.Warn("Failed to archive mutation log entry",
				"id", entry.ID,
				"error", err)
		}
	}

	return nil
}

/*
Approve resumes a pending decision at the mutation executor step. The gates
that already passed when the decision was parked are not re-run; only the
per-key mutual exclusion is re-acquired.
*/
func (e *Engine) Approve(ctx context.Context, decisionID string) (audit.Outcome, error) {
	decision, err := e.store.PendingApproval(ctx, decisionID)
	if err != nil {
		return "", err
	}

	verdict, acquired := e.gate.AcquireForResume(*decision)
	if !acquired {
		return "", fmt.Errorf("a build for this key is already in flight")
	}
	defer verdict.Release()

	result := e.executor.Execute(ctx, *decision)
	if err := e.record(ctx, *decision, result.Outcome, result.ErrorDetail, result.AppliedAt); err != nil {
		return "", err
	}

	if err := e.store.ResolveApproval(ctx, decisionID, "approved"); err != nil {
		return "", err
	}

	return result.Outcome, nil
}

/*
Reject finalizes a pending decision as Rejected without ever touching the
schema.
*/
func (e *Engine) Reject(ctx context.Context, decisionID string) error {
	decision, err := e.store.PendingApproval(ctx, decisionID)
	if err != nil {
		return err
	}

	if err := e.record(ctx, *decision, audit.OutcomeRejected, "rejected by operator", nil); err != nil {
		return err
	}

	return e.store.ResolveApproval(ctx, decisionID, "rejected")
}

/*
Status reports the live state of the safety envelope.
*/
func (e *Engine) Status(ctx context.Context) (Status, error) {
	pending, err := e.store.PendingApprovalCount(ctx)
	if err != nil {
		return Status{}, err
	}

	return Status{
		LimiterSaturation: e.gate.Saturation(),
		InFlight:          e.gate.InFlight(),
		PendingApprovals:  pending,
	}, nil
}
