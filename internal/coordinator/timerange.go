package coordinator

import (
	"math"

	"github.com/robbenti/nsdb/internal/model"
	"github.com/robbenti/nsdb/internal/statement"
)

// timeRange is the inclusive hull [Lo, Hi] of timestamps a condition can
// match. It prunes the shard set; the shards still evaluate the full
// predicate, so a conservative hull never changes results.
type timeRange struct {
	Lo, Hi int64
}

var fullRange = timeRange{Lo: math.MinInt64, Hi: math.MaxInt64}
var emptyRange = timeRange{Lo: math.MaxInt64, Hi: math.MinInt64}

func (r timeRange) empty() bool { return r.Lo > r.Hi }

func (r timeRange) intersect(o timeRange) timeRange {
	if r.Lo < o.Lo {
		r.Lo = o.Lo
	}
	if r.Hi > o.Hi {
		r.Hi = o.Hi
	}
	return r
}

func (r timeRange) union(o timeRange) timeRange {
	if r.empty() {
		return o
	}
	if o.empty() {
		return r
	}
	if o.Lo < r.Lo {
		r.Lo = o.Lo
	}
	if o.Hi > r.Hi {
		r.Hi = o.Hi
	}
	return r
}

// timeRangeOf reduces a condition to its timestamp hull: conjuncts intersect,
// disjuncts take the union hull, and NOT flips the comparison it negates.
// Open sides extend to the int64 extremes; a reversed range is empty.
func timeRangeOf(expr statement.Expression) timeRange {
	if expr == nil {
		return fullRange
	}
	switch e := expr.(type) {
	case *statement.ComparisonExpression:
		if e.Field != model.TimestampField {
			return fullRange
		}
		return comparisonRange(e.Op, e.Value.Int64())
	case *statement.RangeExpression:
		if e.Field != model.TimestampField {
			return fullRange
		}
		r := timeRange{Lo: e.Lo.Int64(), Hi: e.Hi.Int64()}
		if r.empty() {
			return emptyRange
		}
		return r
	case *statement.AndExpression:
		return timeRangeOf(e.Left).intersect(timeRangeOf(e.Right))
	case *statement.OrExpression:
		return timeRangeOf(e.Left).union(timeRangeOf(e.Right))
	case *statement.NotExpression:
		return negatedRangeOf(e.Expr)
	default:
		return fullRange
	}
}

// negatedRangeOf is the hull of NOT expr. De Morgan swaps the junctions; a
// negated timestamp comparison flips; a negated interior range would split
// into a non-contiguous pair, whose hull is the full range.
func negatedRangeOf(expr statement.Expression) timeRange {
	switch e := expr.(type) {
	case *statement.ComparisonExpression:
		if e.Field != model.TimestampField {
			return fullRange
		}
		v := e.Value.Int64()
		switch e.Op {
		case statement.OpGt: // NOT (ts > v)  =>  ts <= v
			return comparisonRange(statement.OpLte, v)
		case statement.OpGte:
			return comparisonRange(statement.OpLt, v)
		case statement.OpLt:
			return comparisonRange(statement.OpGte, v)
		case statement.OpLte:
			return comparisonRange(statement.OpGt, v)
		default: // NOT (ts = v): both sides survive
			return fullRange
		}
	case *statement.AndExpression:
		return negatedRangeOf(e.Left).union(negatedRangeOf(e.Right))
	case *statement.OrExpression:
		return negatedRangeOf(e.Left).intersect(negatedRangeOf(e.Right))
	case *statement.NotExpression:
		return timeRangeOf(e.Expr)
	default:
		return fullRange
	}
}

func comparisonRange(op statement.ComparisonOperator, v int64) timeRange {
	switch op {
	case statement.OpEq:
		return timeRange{Lo: v, Hi: v}
	case statement.OpGt:
		if v == math.MaxInt64 {
			return emptyRange
		}
		return timeRange{Lo: v + 1, Hi: math.MaxInt64}
	case statement.OpGte:
		return timeRange{Lo: v, Hi: math.MaxInt64}
	case statement.OpLt:
		if v == math.MinInt64 {
			return emptyRange
		}
		return timeRange{Lo: math.MinInt64, Hi: v - 1}
	default: // OpLte
		return timeRange{Lo: math.MinInt64, Hi: v}
	}
}
