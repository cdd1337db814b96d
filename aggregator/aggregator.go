package aggregator

import (
	"sort"
	"time"

	"github.com/theapemachine/indexpilot/logger"
	"github.com/theapemachine/indexpilot/telemetry"
)

/*
Statistics is a windowed per-(tenant, table, field) summary of query
telemetry. It is rebuilt each window and handed to the evaluator by value,
so the evaluator can never mutate the aggregator's state.

Percentiles use the exact nearest-rank method over the sorted window buffer:
for a fixed input set the output is fully deterministic, and window buffers
are bounded so exactness is affordable.
*/
type Statistics struct {
	TenantID       string                    `json:"tenant_id"`
	Table          string                    `json:"table"`
	Field          string                    `json:"field"`
	WindowStart    time.Time                 `json:"window_start"`
	WindowEnd      time.Time                 `json:"window_end"`
	QueryCount     int64                     `json:"query_count"`
	AvgDuration    time.Duration             `json:"avg_duration"`
	P95Duration    time.Duration             `json:"p95_duration"`
	P99Duration    time.Duration             `json:"p99_duration"`
	PredicateKinds []telemetry.PredicateKind `json:"distinct_predicate_kinds"`
}

// Key identifies the (tenant, table, field) tuple a statistic describes
type Key struct {
	TenantID string
	Table    string
	Field    string
}

// Key returns the grouping key of the statistics snapshot
func (s Statistics) Key() Key {
	return Key{TenantID: s.TenantID, Table: s.Table, Field: s.Field}
}

/*
Aggregator groups query records into tumbling windows keyed by
(tenant, table, field) and emits Statistics snapshots at window boundaries.
It is purely functional over its window buffer: the only side effects are
the snapshots it returns.
*/
type Aggregator struct {
	windowSize  time.Duration
	lateness    time.Duration
	windowStart time.Time
	buffers     map[Key][]telemetry.QueryRecord
	droppedLate int64
}

type AggregatorOptionFn func(*Aggregator)

// NewAggregator creates a new aggregator with the given options
func NewAggregator(opts ...AggregatorOptionFn) *Aggregator {
	agg := &Aggregator{
		windowSize: 15 * time.Minute,
		lateness:   time.Minute,
		buffers:    make(map[Key][]telemetry.QueryRecord),
	}

	for _, fn := range opts {
		fn(agg)
	}

	return agg
}

func WithWindowSize(size time.Duration) AggregatorOptionFn {
	return func(a *Aggregator) {
		if size > 0 {
			a.windowSize = size
		}
	}
}

func WithLatenessTolerance(lateness time.Duration) AggregatorOptionFn {
	return func(a *Aggregator) {
		if lateness >= 0 {
			a.lateness = lateness
		}
	}
}

func WithWindowStart(start time.Time) AggregatorOptionFn {
	return func(a *Aggregator) {
		a.windowStart = start
	}
}

/*
Add buffers a query record into the current window. Records older than the
window start minus the lateness tolerance are dropped and counted, never
buffered; out-of-order records inside the tolerance are accepted.
*/
func (a *Aggregator) Add(record telemetry.QueryRecord) {
	if a.windowStart.IsZero() {
		a.windowStart = record.Timestamp.Truncate(a.windowSize)
	}

	if record.Timestamp.Before(a.windowStart.Add(-a.lateness)) {
		a.droppedLate++
		logger.Debug("Dropped late query record",
			"tenant", record.TenantID,
			"table", record.Table,
			"field", record.Field,
			"timestamp", record.Timestamp)
		return
	}

	key := Key{TenantID: record.TenantID, Table: record.Table, Field: record.Field}
	a.buffers[key] = append(a.buffers[key], record)
}

/*
Flush closes the current window and emits one Statistics snapshot per
buffered key, sorted by key so the output order is deterministic. The
buffers are reset and the window advances to end at windowEnd.
*/
func (a *Aggregator) Flush(windowEnd time.Time) []Statistics {
	stats := make([]Statistics, 0, len(a.buffers))

	for key, records := range a.buffers {
		stats = append(stats, a.summarize(key, records, windowEnd))
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].TenantID != stats[j].TenantID {
			return stats[i].TenantID < stats[j].TenantID
		}
		if stats[i].Table != stats[j].Table {
			return stats[i].Table < stats[j].Table
		}
		return stats[i].Field < stats[j].Field
	})

	a.buffers = make(map[Key][]telemetry.QueryRecord)
	a.windowStart = windowEnd

	return stats
}

// DroppedLate returns the number of records dropped for arriving too late
func (a *Aggregator) DroppedLate() int64 {
	return a.droppedLate
}

func (a *Aggregator) summarize(key Key, records []telemetry.QueryRecord, windowEnd time.Time) Statistics {
	durations := make([]time.Duration, len(records))
	kinds := make(map[telemetry.PredicateKind]struct{})

	var total time.Duration
	for i, record := range records {
		durations[i] = record.Duration
		total += record.Duration
		kinds[record.Predicate] = struct{}{}
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	distinct := make([]telemetry.PredicateKind, 0, len(kinds))
	for kind := range kinds {
		distinct = append(distinct, kind)
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i] < distinct[j] })

	return Statistics{
		TenantID:       key.TenantID,
		Table:          key.Table,
		Field:          key.Field,
		WindowStart:    a.windowStart,
		WindowEnd:      windowEnd,
		QueryCount:     int64(len(records)),
		AvgDuration:    total / time.Duration(len(records)),
		P95Duration:    nearestRank(durations, 95),
		P99Duration:    nearestRank(durations, 99),
		PredicateKinds: distinct,
	}
}

/*
nearestRank returns the exact nearest-rank percentile of a sorted slice.
*/
func nearestRank(sorted []time.Duration, percentile int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	rank := (len(sorted)*percentile + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}

	return sorted[rank-1]
}
