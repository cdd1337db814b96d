package advisor

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/theapemachine/indexpilot/aggregator"
)

func hotStats(count int64, avg time.Duration) aggregator.Statistics {
	return aggregator.Statistics{
		TenantID:    "tenant-a",
		Table:       "orders",
		Field:       "customer_id",
		QueryCount:  count,
		AvgDuration: avg,
	}
}

func TestNewEvaluator(t *testing.T) {
	Convey("Given a need for an evaluator", t, func() {
		Convey("When creating one without options", func() {
			eval := NewEvaluator()

			Convey("Then it should carry the default thresholds", func() {
				So(eval, ShouldNotBeNil)
				So(eval.minQueryThreshold, ShouldEqual, 100)
				So(eval.safetyMargin, ShouldEqual, 1.5)
				So(eval.scanToSeekRatio, ShouldEqual, defaultScanToSeekRatio)
			})
		})

		Convey("When creating one with options", func() {
			eval := NewEvaluator(
				WithMinQueryThreshold(250),
				WithSafetyMargin(2.0),
				WithScanToSeekRatio(4.0),
			)

			Convey("Then the options should override the defaults", func() {
				So(eval.minQueryThreshold, ShouldEqual, 250)
				So(eval.safetyMargin, ShouldEqual, 2.0)
				So(eval.scanToSeekRatio, ShouldEqual, 4.0)
			})
		})

		Convey("When an option carries an unsafe value", func() {
			eval := NewEvaluator(WithSafetyMargin(0.5), WithScanToSeekRatio(0.9))

			Convey("Then it should be ignored in favor of the default", func() {
				So(eval.safetyMargin, ShouldEqual, 1.5)
				So(eval.scanToSeekRatio, ShouldEqual, defaultScanToSeekRatio)
			})
		})
	})
}

func TestEvaluateCreate(t *testing.T) {
	Convey("Given a hot unindexed field", t, func() {
		eval := NewEvaluator(WithMinQueryThreshold(100), WithSafetyMargin(1.5))
		input := Input{Stats: hotStats(5000, 50*time.Millisecond)}

		Convey("When evaluating", func() {
			decision := eval.Evaluate(input)

			Convey("Then the verdict should be Create", func() {
				So(decision.Action, ShouldEqual, ActionCreate)
				So(decision.Score, ShouldBeGreaterThan, 0)
				So(decision.Reason, ShouldContainSubstring, "clears build cost")
				So(decision.Candidate.TenantID, ShouldEqual, "tenant-a")
				So(decision.Candidate.IndexExists, ShouldBeFalse)
				So(decision.Confidence, ShouldEqual, 1.0)
				So(decision.ID, ShouldNotBeEmpty)
			})
		})
	})
}

func TestEvaluateSkipLowTraffic(t *testing.T) {
	Convey("Given a field with too few queries", t, func() {
		eval := NewEvaluator(WithMinQueryThreshold(100))

		Convey("When the window saw only a handful of queries", func() {
			decision := eval.Evaluate(Input{Stats: hotStats(5, 50*time.Millisecond)})

			Convey("Then the verdict should be Skip for insufficient data", func() {
				So(decision.Action, ShouldEqual, ActionSkip)
				So(decision.Reason, ShouldContainSubstring, "insufficient data")
			})
		})

		Convey("When the window saw no queries at all", func() {
			decision := eval.Evaluate(Input{Stats: hotStats(0, 0)})

			Convey("Then the verdict should still be a safe Skip", func() {
				So(decision.Action, ShouldEqual, ActionSkip)
				So(decision.Reason, ShouldEqual, "insufficient data")
			})
		})
	})
}

func TestEvaluateSkipExistingIndex(t *testing.T) {
	Convey("Given a field that already has an index", t, func() {
		eval := NewEvaluator()
		input := Input{Stats: hotStats(5000, 50*time.Millisecond), Exists: true}

		Convey("When evaluating", func() {
			decision := eval.Evaluate(input)

			Convey("Then the verdict should be Skip regardless of traffic", func() {
				So(decision.Action, ShouldEqual, ActionSkip)
				So(decision.Reason, ShouldEqual, "existing index already covers field")
				So(decision.Candidate.IndexExists, ShouldBeTrue)
			})
		})
	})
}

func TestEvaluateTieResolvesToSkip(t *testing.T) {
	Convey("Given a candidate whose benefit exactly equals the margin-adjusted cost", t, func() {
		// floor build cost 1000 * margin 1.5 = 1500; 100 queries saving
		// 15ms each (30ms scan, ratio 2) = benefit 1500.
		eval := NewEvaluator(
			WithMinQueryThreshold(100),
			WithSafetyMargin(1.5),
			WithScanToSeekRatio(2.0),
		)
		input := Input{Stats: hotStats(100, 30*time.Millisecond)}

		Convey("When evaluating", func() {
			decision := eval.Evaluate(input)

			Convey("Then the tie should resolve to the conservative Skip", func() {
				So(decision.Action, ShouldEqual, ActionSkip)
				So(decision.Reason, ShouldContainSubstring, "cost exceeds benefit")
			})
		})
	})
}

func TestEvaluateDeterminism(t *testing.T) {
	Convey("Given identical inputs", t, func() {
		eval := NewEvaluator()
		input := Input{
			Stats:    hotStats(500, 12*time.Millisecond),
			Estimate: Estimate{RowCount: 200000, FieldCardinality: 1500},
		}

		Convey("When evaluating twice", func() {
			first := eval.Evaluate(input)
			second := eval.Evaluate(input)

			Convey("Then the verdict, score, and reason should be identical", func() {
				So(second.Action, ShouldEqual, first.Action)
				So(second.Score, ShouldEqual, first.Score)
				So(second.Confidence, ShouldEqual, first.Confidence)
				So(second.Reason, ShouldEqual, first.Reason)
			})

			Convey("Then only the bookkeeping fields should differ", func() {
				So(second.ID, ShouldNotEqual, first.ID)
			})
		})
	})
}

func TestEvaluateNeverDefers(t *testing.T) {
	Convey("Given evaluations across the whole input range", t, func() {
		eval := NewEvaluator()
		inputs := []Input{
			{Stats: hotStats(0, 0)},
			{Stats: hotStats(5, time.Millisecond)},
			{Stats: hotStats(5000, 50*time.Millisecond)},
			{Stats: hotStats(5000, 50*time.Millisecond), Exists: true},
			{Stats: hotStats(200, time.Microsecond), Estimate: Estimate{RowCount: 1 << 30}},
		}

		Convey("Then none of them should resolve to Defer", func() {
			for _, input := range inputs {
				So(eval.Evaluate(input).Action, ShouldNotEqual, ActionDefer)
			}
		})
	})
}

func TestBloatPressure(t *testing.T) {
	Convey("Given a table carrying a bloated, unused index", t, func() {
		eval := NewEvaluator(WithMinQueryThreshold(100))
		stats := hotStats(5000, 3*time.Millisecond)
		estimate := Estimate{RowCount: 100000}

		bloated := IndexHealthRecord{
			IndexName:  "ip_tenant-a_orders_status",
			TenantID:   "tenant-a",
			Table:      "orders",
			Field:      "status",
			BloatRatio: 0.9,
			UsageCount: 0,
		}

		Convey("When evaluating with and without the bloat signal", func() {
			clean := eval.Evaluate(Input{Stats: stats, Estimate: estimate})
			pressured := eval.Evaluate(Input{
				Stats:    stats,
				Estimate: estimate,
				Health:   []IndexHealthRecord{bloated},
			})

			Convey("Then bloat pressure should raise the bar", func() {
				So(clean.Action, ShouldEqual, ActionCreate)
				So(pressured.Action, ShouldEqual, ActionSkip)
				So(pressured.Score, ShouldBeLessThan, clean.Score)
			})
		})

		Convey("When the bloated index belongs to another table", func() {
			other := bloated
			other.Table = "invoices"
			decision := eval.Evaluate(Input{
				Stats:    stats,
				Estimate: estimate,
				Health:   []IndexHealthRecord{other},
			})

			Convey("Then it should not affect the verdict", func() {
				So(decision.Action, ShouldEqual, ActionCreate)
			})
		})

		Convey("When the bloated index is still in use", func() {
			used := bloated
			used.UsageCount = 900
			decision := eval.Evaluate(Input{
				Stats:    stats,
				Estimate: estimate,
				Health:   []IndexHealthRecord{used},
			})

			Convey("Then it should not count as pressure", func() {
				So(decision.Action, ShouldEqual, ActionCreate)
			})
		})
	})
}

func TestConfidence(t *testing.T) {
	Convey("Given evaluations with varying traffic", t, func() {
		eval := NewEvaluator()

		Convey("When the window is half saturated", func() {
			decision := eval.Evaluate(Input{Stats: hotStats(2500, 10*time.Millisecond)})

			So(decision.Confidence, ShouldEqual, 0.5)
		})

		Convey("When the window is saturated beyond the cap", func() {
			decision := eval.Evaluate(Input{Stats: hotStats(50000, 10*time.Millisecond)})

			So(decision.Confidence, ShouldEqual, 1.0)
		})
	})
}
