package advisor

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/theapemachine/indexpilot/logger"
)

const (
	// defaultScanToSeekRatio is how much cheaper an index seek is assumed
	// to be compared to a sequential scan of the same predicate.
	defaultScanToSeekRatio = 10.0

	// defaultPerRowBuildCost is the per-row cost unit of building an index.
	defaultPerRowBuildCost = 0.05

	// defaultMaintenanceFactor is the ongoing write-amplification cost per
	// row, folded into the build cost as a future-maintenance term.
	defaultMaintenanceFactor = 0.01

	// defaultFloorBuildCost is assumed when the catalog has no row-count
	// estimate for a table yet.
	defaultFloorBuildCost = 1000.0

	// bloatPressureThreshold is the bloat ratio above which an existing
	// neighboring index starts raising the bar for new builds on its table.
	bloatPressureThreshold = 0.3

	// confidenceSaturation is the query count at which evaluation
	// confidence reaches 1.0.
	confidenceSaturation = 5000.0
)

/*
Evaluator converts windowed statistics plus current index presence into a
single build-or-skip decision with a numeric score and a human-readable
reason. Given identical inputs it always returns the same verdict; all
randomness (record ID, timestamp) is confined to bookkeeping fields.
*/
type Evaluator struct {
	minQueryThreshold int64
	safetyMargin      float64
	scanToSeekRatio   float64
	perRowBuildCost   float64
	maintenanceFactor float64
	now               func() time.Time
}

type EvaluatorOptionFn func(*Evaluator)

// NewEvaluator creates a new evaluator with the given options
func NewEvaluator(opts ...EvaluatorOptionFn) *Evaluator {
	eval := &Evaluator{
		minQueryThreshold: 100,
		safetyMargin:      1.5,
		scanToSeekRatio:   defaultScanToSeekRatio,
		perRowBuildCost:   defaultPerRowBuildCost,
		maintenanceFactor: defaultMaintenanceFactor,
		now:               time.Now,
	}

	for _, fn := range opts {
		fn(eval)
	}

	return eval
}

func WithMinQueryThreshold(threshold int) EvaluatorOptionFn {
	return func(e *Evaluator) {
		e.minQueryThreshold = int64(threshold)
	}
}

func WithSafetyMargin(margin float64) EvaluatorOptionFn {
	return func(e *Evaluator) {
		if margin >= 1.0 {
			e.safetyMargin = margin
		}
	}
}

func WithScanToSeekRatio(ratio float64) EvaluatorOptionFn {
	return func(e *Evaluator) {
		if ratio > 1.0 {
			e.scanToSeekRatio = ratio
		}
	}
}

func WithClock(now func() time.Time) EvaluatorOptionFn {
	return func(e *Evaluator) {
		e.now = now
	}
}

/*
Evaluate produces exactly one Decision for the input. The evaluator itself
never emits Defer; deferral is assigned downstream by the safety gate.
*/
func (e *Evaluator) Evaluate(input Input) Decision {
	stats := input.Stats
	buildCost := e.buildCost(input)

	decision := Decision{
		ID: uuid.New().String(),
		Candidate: IndexCandidate{
			TenantID:           stats.TenantID,
			Table:              stats.Table,
			Field:              stats.Field,
			EstimatedBuildCost: buildCost,
			IndexExists:        input.Exists,
		},
		Confidence:  e.confidence(stats.QueryCount),
		EvaluatedAt: e.now(),
	}

	// Degenerate statistics always resolve to a safe Skip.
	if stats.QueryCount == 0 {
		decision.Action = ActionSkip
		decision.Reason = "insufficient data"
		return decision
	}

	if input.Exists {
		decision.Action = ActionSkip
		decision.Reason = "existing index already covers field"
		return decision
	}

	if stats.QueryCount < e.minQueryThreshold {
		decision.Action = ActionSkip
		decision.Reason = fmt.Sprintf("insufficient data: %d queries below minimum threshold %d",
			stats.QueryCount, e.minQueryThreshold)
		return decision
	}

	benefit := e.benefit(stats.QueryCount, stats.AvgDuration)
	decision.Score = benefit - buildCost

	required := buildCost * e.safetyMargin
	if benefit > required {
		decision.Action = ActionCreate
		decision.Reason = fmt.Sprintf("benefit %.0f clears build cost %.0f at margin %.2f",
			benefit, buildCost, e.safetyMargin)

		logger.Debug("Index candidate cleared the margin",
			"tenant", stats.TenantID,
			"table", stats.Table,
			"field", stats.Field,
			"benefit", benefit,
			"cost", buildCost)

		return decision
	}

	// Exactly-equal benefit and cost resolves to Skip, the conservative default.
	shortfall := 0.0
	if benefit > 0 {
		shortfall = (required - benefit) / benefit * 100
	}
	decision.Action = ActionSkip
	decision.Reason = fmt.Sprintf("cost exceeds benefit by %.0f%%", shortfall)

	return decision
}

/*
benefit estimates the total time saved per window if the scanned predicate
became an index seek. Costs are in millisecond units; the seek cost is the
scan cost divided by the configured scan-to-seek ratio.
*/
func (e *Evaluator) benefit(queryCount int64, avgDuration time.Duration) float64 {
	scanCost := float64(avgDuration.Microseconds()) / 1000.0
	seekCost := scanCost / e.scanToSeekRatio
	return float64(queryCount) * (scanCost - seekCost)
}

/*
buildCost estimates the one-time build plus ongoing maintenance cost of the
candidate index. Bloated, rarely-used neighboring indexes on the same table
raise the estimate, reflecting real resource pressure.
*/
func (e *Evaluator) buildCost(input Input) float64 {
	cost := defaultFloorBuildCost
	if input.Estimate.RowCount > 0 {
		rows := float64(input.Estimate.RowCount)
		cost = rows*e.perRowBuildCost + rows*e.maintenanceFactor

		// High-cardinality fields cost proportionally more to keep sorted.
		if input.Estimate.FieldCardinality > 0 {
			cost += math.Log2(float64(input.Estimate.FieldCardinality)+1) * rows * 0.001
		}
	}

	pressure := 1.0
	for _, record := range input.Health {
		if record.Table != input.Stats.Table || record.TenantID != input.Stats.TenantID {
			continue
		}
		if record.BloatRatio > bloatPressureThreshold && record.UsageCount == 0 {
			pressure += record.BloatRatio
		}
	}

	return cost * pressure
}

func (e *Evaluator) confidence(queryCount int64) float64 {
	return math.Min(1.0, float64(queryCount)/confidenceSaturation)
}
