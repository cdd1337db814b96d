package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/theapemachine/indexpilot/advisor"
	"github.com/theapemachine/indexpilot/audit"
	"github.com/theapemachine/indexpilot/catalog"
	"github.com/theapemachine/indexpilot/db"
	"github.com/theapemachine/indexpilot/logger"
)

/*
Recorder runs on its own schedule, independent of evaluation cycles. Each
pass asks the target database for current index size, bloat, and usage, and
upserts one IndexHealthRecord per known index. It is the only component
permitted to mutate health records; the evaluator reads them as a pressure
signal on later cycles.
*/
type Recorder struct {
	conn  *db.Conn
	store *audit.Store
	now   func() time.Time
}

type RecorderOptionFn func(*Recorder)

// NewRecorder creates a health recorder with the given options
func NewRecorder(opts ...RecorderOptionFn) *Recorder {
	rec := &Recorder{
		now: time.Now,
	}

	for _, fn := range opts {
		fn(rec)
	}

	return rec
}

func WithConn(conn *db.Conn) RecorderOptionFn {
	return func(r *Recorder) {
		r.conn = conn
	}
}

func WithStore(store *audit.Store) RecorderOptionFn {
	return func(r *Recorder) {
		r.store = store
	}
}

func WithClock(now func() time.Time) RecorderOptionFn {
	return func(r *Recorder) {
		r.now = now
	}
}

/*
Run performs one health pass: reconcile orphaned builds, then refresh the
health record of every index the engine manages.
*/
func (r *Recorder) Run(ctx context.Context) error {
	reconciled, err := r.Reconcile(ctx)
	if err != nil {
		return err
	}
	if reconciled > 0 {
		logger.Info("Reconciled orphaned builds", "count", reconciled)
	}

	return r.collect(ctx)
}

/*
Reconcile detects builds interrupted by a crash and settles them to a
terminal outcome. Two drift directions exist: the log says Applied but the
index is gone (build lost, or manually dropped), and the log says the build
failed on a timeout but the index made it into the schema before the crash.
Each drift appends one corrective entry; the original entries are never
touched.
*/
func (r *Recorder) Reconcile(ctx context.Context) (int, error) {
	entries, err := r.store.LatestPerKey(ctx)
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, entry := range entries {
		candidate := entry.Decision.Candidate
		exists, err := r.conn.IndexExists(ctx,
			catalog.IndexName(candidate.TenantID, candidate.Table, candidate.Field))
		if err != nil {
			return reconciled, err
		}

		switch {
		case entry.Outcome == audit.OutcomeApplied && !exists:
			if err := r.store.Append(ctx, &audit.MutationLogEntry{
				Decision:    entry.Decision,
				Outcome:     audit.OutcomeFailed,
				ErrorDetail: "index missing from schema; build lost or manually dropped",
			}); err != nil {
				return reconciled, err
			}
			reconciled++

		case entry.Outcome == audit.OutcomeFailed && entry.ErrorDetail == "timeout" && exists:
			appliedAt := r.now()
			if err := r.store.Append(ctx, &audit.MutationLogEntry{
				Decision:    entry.Decision,
				Outcome:     audit.OutcomeApplied,
				ErrorDetail: "reconciled orphaned build",
				AppliedAt:   &appliedAt,
			}); err != nil {
				return reconciled, err
			}
			reconciled++
		}
	}

	return reconciled, nil
}

/*
collect refreshes the health record of every index whose latest log entry
is Applied, reading usage counters from the index_usage table the telemetry
collaborator maintains.
*/
func (r *Recorder) collect(ctx context.Context) error {
	entries, err := r.store.LatestPerKey(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Outcome != audit.OutcomeApplied {
			continue
		}

		candidate := entry.Decision.Candidate
		indexName := catalog.IndexName(candidate.TenantID, candidate.Table, candidate.Field)

		record := advisor.IndexHealthRecord{
			IndexName: indexName,
			TenantID:  candidate.TenantID,
			Table:     candidate.Table,
			Field:     candidate.Field,
		}

		if err := r.readUsage(ctx, &record); err != nil {
			return err
		}

		if err := r.store.UpsertHealth(ctx, record); err != nil {
			return err
		}

		logger.Debug("Refreshed index health",
			"index", indexName,
			"bloat", record.BloatRatio,
			"usage", record.UsageCount)
	}

	return nil
}

func (r *Recorder) readUsage(ctx context.Context, record *advisor.IndexHealthRecord) error {
	var (
		sizeBytes  sql.NullInt64
		staleBytes sql.NullInt64
		usageCount sql.NullInt64
		lastUsed   sql.NullString
	)

	err := r.conn.DB.QueryRowContext(ctx,
		`SELECT size_bytes, stale_bytes, usage_count, last_used_at
		 FROM index_usage WHERE index_name = ?`,
		record.IndexName,
	).Scan(&sizeBytes, &staleBytes, &usageCount, &lastUsed)

	if err == sql.ErrNoRows {
		// No counters yet: a freshly built index starts with a clean record.
		return nil
	}
	if err != nil {
		return err
	}

	record.SizeBytes = sizeBytes.Int64
	record.UsageCount = usageCount.Int64
	if sizeBytes.Int64 > 0 {
		record.BloatRatio = float64(staleBytes.Int64) / float64(sizeBytes.Int64)
	}
	if lastUsed.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, lastUsed.String); err == nil {
			record.LastUsedAt = ts
		}
	}

	return nil
}
