package telemetry

import "time"

// PredicateKind classifies the shape of the predicate a query used on a field
type PredicateKind string

const (
	// PredicateEquality is an exact-match predicate (field = value)
	PredicateEquality PredicateKind = "equality"
	// PredicateRange is a range predicate (field between bounds)
	PredicateRange PredicateKind = "range"
	// PredicatePrefix is a leading-substring predicate (field LIKE 'x%')
	PredicatePrefix PredicateKind = "prefix"
	// PredicateJoin is a join predicate (field matched against another table)
	PredicateJoin PredicateKind = "join"
)

// Valid reports whether the kind is one of the recognized predicate shapes
func (k PredicateKind) Valid() bool {
	switch k {
	case PredicateEquality, PredicateRange, PredicatePrefix, PredicateJoin:
		return true
	}
	return false
}

/*
QueryRecord is a single executed-query observation produced by the telemetry
capture collaborator. Records are immutable and consumed exactly once per
aggregation window.
*/
type QueryRecord struct {
	TenantID  string        `json:"tenant_id"`
	Table     string        `json:"table"`
	Field     string        `json:"field"`
	Predicate PredicateKind `json:"predicate_kind"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}
