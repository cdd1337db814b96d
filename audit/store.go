package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/theapemachine/indexpilot/advisor"
	"github.com/theapemachine/indexpilot/logger"
)

/*
Store persists the mutation log, the approval queue, and index health
records in a sqlite database. The mutation log append path is safe for
concurrent workers: sqlite serializes the single-statement inserts and no
entry is ever updated after the fact.
*/
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the audit database at the given path
func NewStore(path string) (*Store, error) {
	sqldb, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if _, err := sqldb.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := sqldb.Exec(Schema); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	return &Store{db: sqldb}, nil
}

// Close releases the underlying database handle
func (s *Store) Close() error {
	return s.db.Close()
}

/*
Append writes one mutation log entry in a single atomic insert. It assigns
the entry ID and creation timestamp when missing.
*/
func (s *Store) Append(ctx context.Context, entry *MutationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	decisionJSON, err := json.Marshal(entry.Decision)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	var appliedAt any
	if entry.AppliedAt != nil {
		appliedAt = entry.AppliedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mutation_log
		 (id, decision_id, tenant_id, table_name, field_name, action, score,
		  confidence, reason_text, outcome, error_detail, decision_json,
		  evaluated_at, applied_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Decision.ID,
		entry.Decision.Candidate.TenantID,
		entry.Decision.Candidate.Table,
		entry.Decision.Candidate.Field,
		string(entry.Decision.Action),
		entry.Decision.Score,
		entry.Decision.Confidence,
		entry.Decision.Reason,
		string(entry.Outcome),
		entry.ErrorDetail,
		string(decisionJSON),
		entry.Decision.EvaluatedAt.UTC().Format(time.RFC3339Nano),
		appliedAt,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append mutation log entry: %w", err)
	}

	logger.Debug("Appended mutation log entry",
		"decision", entry.Decision.ID,
		"outcome", entry.Outcome,
		"tenant", entry.Decision.Candidate.TenantID)

	return nil
}

/*
EntriesByDecision returns every log entry recorded for a decision, oldest
first. A decision normally has one entry; pending-approval decisions gain a
second, terminal entry once resolved.
*/
func (s *Store) EntriesByDecision(ctx context.Context, decisionID string) ([]*MutationLogEntry, error) {
	return s.queryEntries(ctx,
		`SELECT id, decision_json, outcome, error_detail, applied_at, created_at
		 FROM mutation_log WHERE decision_id = ? ORDER BY created_at`,
		decisionID)
}

/*
EntriesForKey returns every log entry for a (tenant, table, field) key,
newest first.
*/
func (s *Store) EntriesForKey(ctx context.Context, tenantID, table, field string) ([]*MutationLogEntry, error) {
	return s.queryEntries(ctx,
		`SELECT id, decision_json, outcome, error_detail, applied_at, created_at
		 FROM mutation_log
		 WHERE tenant_id = ? AND table_name = ? AND field_name = ?
		 ORDER BY created_at DESC`,
		tenantID, table, field)
}

// ListEntries returns the most recent entries up to the given limit
func (s *Store) ListEntries(ctx context.Context, limit int) ([]*MutationLogEntry, error) {
	return s.queryEntries(ctx,
		`SELECT id, decision_json, outcome, error_detail, applied_at, created_at
		 FROM mutation_log ORDER BY created_at DESC LIMIT ?`,
		limit)
}

// CountByOutcome returns how many entries carry the given outcome
func (s *Store) CountByOutcome(ctx context.Context, outcome Outcome) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mutation_log WHERE outcome = ?`, string(outcome),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count outcomes: %w", err)
	}
	return count, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]*MutationLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutation log: %w", err)
	}
	defer rows.Close()

	var entries []*MutationLogEntry
	for rows.Next() {
		var (
			entry        MutationLogEntry
			decisionJSON string
			errorDetail  sql.NullString
			appliedAt    sql.NullString
			createdAt    string
		)

		if err := rows.Scan(&entry.ID, &decisionJSON, &entry.Outcome,
			&errorDetail, &appliedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan mutation log entry: %w", err)
		}

		if err := json.Unmarshal([]byte(decisionJSON), &entry.Decision); err != nil {
			return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
		}

		entry.ErrorDetail = errorDetail.String
		if appliedAt.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, appliedAt.String); err == nil {
				entry.AppliedAt = &ts
			}
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			entry.CreatedAt = ts
		}

		entries = append(entries, &entry)
	}

	if entries == nil {
		entries = []*MutationLogEntry{}
	}

	return entries, rows.Err()
}

/*
SavePendingApproval parks a Create decision until a human resolves it.
*/
func (s *Store) SavePendingApproval(ctx context.Context, decision advisor.Decision) error {
	decisionJSON, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO approvals (decision_id, decision_json, status) VALUES (?, ?, 'pending')
		 ON CONFLICT(decision_id) DO NOTHING`,
		decision.ID, string(decisionJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save pending approval: %w", err)
	}

	return nil
}

// PendingApprovals lists all decisions currently awaiting a human verdict
func (s *Store) PendingApprovals(ctx context.Context) ([]advisor.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT decision_json FROM approvals WHERE status = 'pending' ORDER BY requested_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var decisions []advisor.Decision
	for rows.Next() {
		var decisionJSON string
		if err := rows.Scan(&decisionJSON); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}

		var decision advisor.Decision
		if err := json.Unmarshal([]byte(decisionJSON), &decision); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending decision: %w", err)
		}
		decisions = append(decisions, decision)
	}

	return decisions, rows.Err()
}

// PendingApproval loads one pending decision by ID
func (s *Store) PendingApproval(ctx context.Context, decisionID string) (*advisor.Decision, error) {
	var decisionJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT decision_json FROM approvals WHERE decision_id = ? AND status = 'pending'`,
		decisionID,
	).Scan(&decisionJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no pending approval for decision %s", decisionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending approval: %w", err)
	}

	var decision advisor.Decision
	if err := json.Unmarshal([]byte(decisionJSON), &decision); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending decision: %w", err)
	}

	return &decision, nil
}

// ResolveApproval marks a pending decision as approved or rejected
func (s *Store) ResolveApproval(ctx context.Context, decisionID, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, resolved_at = CURRENT_TIMESTAMP
		 WHERE decision_id = ? AND status = 'pending'`,
		status, decisionID,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve approval: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve approval: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no pending approval for decision %s", decisionID)
	}

	return nil
}

// PendingApprovalCount returns the size of the approval queue
func (s *Store) PendingApprovalCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approvals WHERE status = 'pending'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending approvals: %w", err)
	}
	return count, nil
}

/*
UpsertHealth writes or refreshes one index health record. The health
recorder is the only caller; everything else reads.
*/
func (s *Store) UpsertHealth(ctx context.Context, record advisor.IndexHealthRecord) error {
	var lastUsed any
	if !record.LastUsedAt.IsZero() {
		lastUsed = record.LastUsedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO index_health
		 (index_name, tenant_id, table_name, field_name, bloat_ratio, size_bytes, usage_count, last_used_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(index_name) DO UPDATE SET
			bloat_ratio = excluded.bloat_ratio,
			size_bytes = excluded.size_bytes,
			usage_count = excluded.usage_count,
			last_used_at = excluded.last_used_at,
			updated_at = CURRENT_TIMESTAMP`,
		record.IndexName, record.TenantID, record.Table, record.Field,
		record.BloatRatio, record.SizeBytes, record.UsageCount, lastUsed,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert index health: %w", err)
	}

	return nil
}

// HealthForTable returns the health records for every index on a tenant's table
func (s *Store) HealthForTable(ctx context.Context, tenantID, table string) ([]advisor.IndexHealthRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT index_name, tenant_id, table_name, field_name, bloat_ratio, size_bytes, usage_count, last_used_at
		 FROM index_health WHERE tenant_id = ? AND table_name = ?`,
		tenantID, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query index health: %w", err)
	}
	defer rows.Close()

	return scanHealthRows(rows)
}

// AllHealth returns every known index health record
func (s *Store) AllHealth(ctx context.Context) ([]advisor.IndexHealthRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT index_name, tenant_id, table_name, field_name, bloat_ratio, size_bytes, usage_count, last_used_at
		 FROM index_health`)
	if err != nil {
		return nil, fmt.Errorf("failed to query index health: %w", err)
	}
	defer rows.Close()

	return scanHealthRows(rows)
}

func scanHealthRows(rows *sql.Rows) ([]advisor.IndexHealthRecord, error) {
	var records []advisor.IndexHealthRecord
	for rows.Next() {
		var (
			record   advisor.IndexHealthRecord
			lastUsed sql.NullString
		)

		if err := rows.Scan(&record.IndexName, &record.TenantID, &record.Table,
			&record.Field, &record.BloatRatio, &record.SizeBytes,
			&record.UsageCount, &lastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan health record: %w", err)
		}

		if lastUsed.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, lastUsed.String); err == nil {
				record.LastUsedAt = ts
			}
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

/*
LatestPerKey returns the most recent mutation log entry for every
(tenant, table, field) key ever decided on. The health recorder uses this
to reconcile the log against the live schema.
*/
func (s *Store) LatestPerKey(ctx context.Context) ([]*MutationLogEntry, error) {
	return s.queryEntries(ctx,
		`SELECT id, decision_json, outcome, error_detail, applied_at, created_at
		 FROM mutation_log
		 WHERE id IN (
			SELECT id FROM mutation_log AS inner_log
			WHERE created_at = (
				SELECT MAX(created_at) FROM mutation_log AS newest
				WHERE newest.tenant_id = inner_log.tenant_id
				  AND newest.table_name = inner_log.table_name
				  AND newest.field_name = inner_log.field_name
			)
		 )
		 ORDER BY tenant_id, table_name, field_name`)
}

/*
TelemetryCursor returns the high-water mark of consumed query log ids, or
zero when nothing has been consumed yet.
*/
func (s *Store) TelemetryCursor(ctx context.Context) (int64, error) {
	var lastID int64

	err := s.db.QueryRowContext(ctx,
		`SELECT last_id FROM telemetry_cursor WHERE id = 1`).Scan(&lastID)

	if err == sql.ErrNoRows {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to read telemetry cursor: %w", err)
	}

	return lastID, nil
}

// SaveTelemetryCursor records lastID as the new high-water mark.
func (s *Store) SaveTelemetryCursor(ctx context.Context, lastID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO telemetry_cursor (id, last_id, updated_at)
		 VALUES (1, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
			last_id = excluded.last_id,
			updated_at = CURRENT_TIMESTAMP`,
		lastID)

	if err != nil {
		return fmt.Errorf("failed to save telemetry cursor: %w", err)
	}

	return nil
}
