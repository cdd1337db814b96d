package advisor

import (
	"time"

	"github.com/theapemachine/indexpilot/aggregator"
)

// Action is the advisory verdict for an index candidate
type Action string

const (
	// ActionCreate means the index should be built
	ActionCreate Action = "create"
	// ActionSkip means the index is not worth building right now
	ActionSkip Action = "skip"
	// ActionDefer means a downstream gate held the decision back
	ActionDefer Action = "defer"
)

/*
IndexCandidate is the short-lived description of a potential index, derived
once per evaluation cycle from statistics and catalog metadata.
*/
type IndexCandidate struct {
	TenantID           string  `json:"tenant_id"`
	Table              string  `json:"table"`
	Field              string  `json:"field"`
	EstimatedBuildCost float64 `json:"estimated_build_cost"`
	IndexExists        bool    `json:"current_index_exists"`
}

/*
Decision is the immutable outcome of one evaluation: the candidate, the
verdict, the benefit-minus-cost score, and a reason naming the deciding
factor. Every Decision ever produced ends up in the mutation log.
*/
type Decision struct {
	ID          string         `json:"id"`
	Candidate   IndexCandidate `json:"candidate"`
	Action      Action         `json:"action"`
	Score       float64        `json:"score"`
	Confidence  float64        `json:"confidence"`
	Reason      string         `json:"reason_text"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
}

/*
IndexHealthRecord describes the live condition of an existing index. The
health recorder is the only writer; the evaluator reads these as a pressure
signal when costing new builds nearby.
*/
type IndexHealthRecord struct {
	IndexName  string    `json:"index_name"`
	TenantID   string    `json:"tenant_id"`
	Table      string    `json:"table"`
	Field      string    `json:"field"`
	BloatRatio float64   `json:"bloat_ratio"`
	SizeBytes  int64     `json:"size_bytes"`
	UsageCount int64     `json:"usage_count"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Input bundles everything one evaluation consumes
type Input struct {
	Stats    aggregator.Statistics
	Estimate Estimate
	Exists   bool
	Health   []IndexHealthRecord
}

// Estimate carries the catalog's table size signals for the cost model
type Estimate struct {
	RowCount         int64
	FieldCardinality int64
}
