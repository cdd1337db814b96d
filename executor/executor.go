package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/theapemachine/indexpilot/advisor"
	"github.com/theapemachine/indexpilot/audit"
	"github.com/theapemachine/indexpilot/catalog"
	"github.com/theapemachine/indexpilot/db"
	"github.com/theapemachine/indexpilot/logger"
)

/*
SchemaMutator issues the actual schema-altering statement against the
target database. It exists as an interface so tests can inject slow or
failing builds without a real schema.
*/
type SchemaMutator interface {
	CreateIndex(ctx context.Context, indexName, table, field string) error
}

/*
SQLMutator builds indexes through the target database connection. The
build uses IF NOT EXISTS so a race with a manual schema change degrades to
a no-op instead of an error.
*/
type SQLMutator struct {
	conn *db.Conn
}

// NewSQLMutator creates a mutator over the target connection
func NewSQLMutator(conn *db.Conn) *SQLMutator {
	return &SQLMutator{conn: conn}
}

// CreateIndex implements SchemaMutator
func (m *SQLMutator) CreateIndex(ctx context.Context, indexName, table, field string) error {
	stmt := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %q ON %q (tenant_id, %q)`,
		indexName, table, field,
	)
	_, err := m.conn.DB.ExecContext(ctx, stmt)
	return err
}

/*
Result is the terminal state of one mutation attempt, ready to become a
mutation log entry.
*/
type Result struct {
	Outcome     audit.Outcome
	ErrorDetail string
	AppliedAt   *time.Time
}

/*
Executor issues approved index builds with an operation-level timeout, a
single bounded retry for transient failures, and an idempotency re-check
before touching the schema.
*/
type Executor struct {
	mutator      SchemaMutator
	catalog      catalog.Catalog
	buildTimeout time.Duration
	retryBackoff time.Duration
	now          func() time.Time
}

type ExecutorOptionFn func(*Executor)

// NewExecutor creates a new executor with the given options
func NewExecutor(opts ...ExecutorOptionFn) *Executor {
	exec := &Executor{
		buildTimeout: 5 * time.Minute,
		retryBackoff: 2 * time.Second,
		now:          time.Now,
	}

	for _, fn := range opts {
		fn(exec)
	}

	return exec
}

func WithMutator(mutator SchemaMutator) ExecutorOptionFn {
	return func(e *Executor) {
		e.mutator = mutator
	}
}

func WithCatalog(cat catalog.Catalog) ExecutorOptionFn {
	return func(e *Executor) {
		e.catalog = cat
	}
}

func WithBuildTimeout(timeout time.Duration) ExecutorOptionFn {
	return func(e *Executor) {
		if timeout > 0 {
			e.buildTimeout = timeout
		}
	}
}

func WithRetryBackoff(backoff time.Duration) ExecutorOptionFn {
	return func(e *Executor) {
		if backoff >= 0 {
			e.retryBackoff = backoff
		}
	}
}

/*
Execute carries out an approved Create decision. The index existence
re-check guards against races with manual schema changes or a previous
cycle; a build that targets an existing index short-circuits to Skipped.
*/
func (e *Executor) Execute(ctx context.Context, decision advisor.Decision) Result {
	candidate := decision.Candidate
	indexName := catalog.IndexName(candidate.TenantID, candidate.Table, candidate.Field)

	// Idempotency guard: never create the same index twice.
	exists, err := e.catalog.IndexExists(ctx, candidate.TenantID, candidate.Table, candidate.Field)
	if err != nil {
		return Result{
			Outcome:     audit.OutcomeFailed,
			ErrorDetail: fmt.Sprintf("existence check failed: %v", err),
		}
	}
	if exists {
		return Result{
			Outcome:     audit.OutcomeSkipped,
			ErrorDetail: "existing index already covers field",
		}
	}

	buildErr := e.build(ctx, indexName, candidate.Table, candidate.Field)
	if buildErr != nil && IsTransientError(buildErr) {
		logger.Warn("Transient build failure, retrying once",
			"index", indexName,
			"error", buildErr)

		select {
		case <-time.After(e.retryBackoff):
		case <-ctx.Done():
			return Result{Outcome: audit.OutcomeFailed, ErrorDetail: "timeout"}
		}

		buildErr = e.build(ctx, indexName, candidate.Table, candidate.Field)
	}

	if buildErr != nil {
		detail := buildErr.Error()
		if IsTimeoutError(buildErr) {
			detail = "timeout"
		}

		logger.Error("Index build failed",
			"index", indexName,
			"tenant", candidate.TenantID,
			"error", buildErr)

		return Result{Outcome: audit.OutcomeFailed, ErrorDetail: detail}
	}

	// Verify the index actually exists before declaring victory.
	exists, err = e.catalog.IndexExists(ctx, candidate.TenantID, candidate.Table, candidate.Field)
	if err != nil || !exists {
		detail := "index missing after build"
		if err != nil {
			detail = fmt.Sprintf("verification failed: %v", err)
		}
		return Result{Outcome: audit.OutcomeFailed, ErrorDetail: detail}
	}

	appliedAt := e.now()
	logger.Info("Index created",
		"index", indexName,
		"tenant", candidate.TenantID,
		"table", candidate.Table,
		"field", candidate.Field)

	return Result{Outcome: audit.OutcomeApplied, AppliedAt: &appliedAt}
}

/*
build runs one attempt under the operation-level timeout and classifies the
failure. Cancellation transitions the outcome to a timeout failure rather
than leaving the mutation dangling.
*/
func (e *Executor) build(ctx context.Context, indexName, table, field string) error {
	buildCtx, cancel := context.WithTimeout(ctx, e.buildTimeout)
	defer cancel()

	err := e.mutator.CreateIndex(buildCtx, indexName, table, field)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewExecutorError(ErrorTypeTimeout, "index build timed out", err).WithIndex(indexName)
	}

	return classify(err).WithIndex(indexName).WithTable(table)
}

/*
classify maps a raw database error onto the executor's taxonomy: transient
failures are eligible for one retry, permanent ones are surfaced untouched.
*/
func classify(err error) *ExecutorError {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "locked") || strings.Contains(msg, "busy"):
		return NewExecutorError(ErrorTypeContention, "lock contention during build", err)
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied") ||
		strings.Contains(msg, "readonly") || strings.Contains(msg, "read-only"):
		return NewExecutorError(ErrorTypePrivilege, "insufficient privilege", err)
	case strings.Contains(msg, "syntax") || strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "no such column"):
		return NewExecutorError(ErrorTypeDefinition, "invalid index definition", err)
	default:
		return NewExecutorError(ErrorTypeUnknown, "index build failed", err)
	}
}
