package audit

// Schema defines the audit database schema. Field names are part of the
// stable reporting surface read by dashboards; renames break downstream
// consumers and must be versioned instead.
const Schema = `
-- Append-only mutation log: one row per decision, no updates ever.
CREATE TABLE IF NOT EXISTS mutation_log (
	id TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	table_name TEXT NOT NULL,
	field_name TEXT NOT NULL,
	action TEXT NOT NULL,
	score REAL NOT NULL,
	confidence REAL NOT NULL,
	reason_text TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error_detail TEXT,
	decision_json TEXT NOT NULL,
	evaluated_at TIMESTAMP NOT NULL,
	applied_at TIMESTAMP,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_mutation_log_decision ON mutation_log(decision_id);
CREATE INDEX IF NOT EXISTS idx_mutation_log_key ON mutation_log(tenant_id, table_name, field_name);
CREATE INDEX IF NOT EXISTS idx_mutation_log_outcome ON mutation_log(outcome);
CREATE INDEX IF NOT EXISTS idx_mutation_log_created ON mutation_log(created_at DESC);

-- Pending approvals: decisions parked until a human acts on them.
CREATE TABLE IF NOT EXISTS approvals (
	decision_id TEXT PRIMARY KEY,
	decision_json TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	requested_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);

-- Index health: one row per known index, upserted by the health recorder.
CREATE TABLE IF NOT EXISTS index_health (
	index_name TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	table_name TEXT NOT NULL,
	field_name TEXT NOT NULL,
	bloat_ratio REAL NOT NULL DEFAULT 0,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	usage_count INTEGER NOT NULL DEFAULT 0,
	last_used_at TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_index_health_table ON index_health(tenant_id, table_name);

-- Telemetry cursor: single-row high-water mark of consumed query_log ids,
-- so a restarted run resumes where the previous one left off.
CREATE TABLE IF NOT EXISTS telemetry_cursor (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	last_id INTEGER NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`
