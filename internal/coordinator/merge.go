package coordinator

import (
	"sort"

	"github.com/robbenti/nsdb/internal/model"
	"github.com/robbenti/nsdb/internal/statement"
)

// merge combines per-shard results into the statement's reply: concatenation
// or k-way merge for plain selects, per-group reduction for aggregations,
// then global sort and limit.
func merge(stmt *statement.SelectSQLStatement, sch model.Schema, agg statement.Aggregation, results [][]model.Bit) ([]model.Bit, error) {
	if stmt.GroupBy != "" {
		return mergeGrouped(stmt, agg, results)
	}

	var out []model.Bit
	if stmt.Order == nil {
		// Shards are enumerated in bin order and each shard returns records
		// in timestamp order, so concatenation preserves the time axis.
		for _, part := range results {
			out = append(out, part...)
		}
	} else {
		out = mergeSorted(results, stmt.Order)
	}

	if stmt.Limit != nil && len(out) > *stmt.Limit {
		out = out[:*stmt.Limit]
	}
	return out, nil
}

// mergeSorted k-way merges per-shard runs already sorted by the order key.
func mergeSorted(results [][]model.Bit, order *statement.OrderOperator) []model.Bit {
	heads := make([]int, len(results))
	var total int
	for _, part := range results {
		total += len(part)
	}

	out := make([]model.Bit, 0, total)
	for len(out) < total {
		best := -1
		for i, part := range results {
			if heads[i] >= len(part) {
				continue
			}
			if best == -1 || bitLess(part[heads[i]], results[best][heads[best]], order) {
				best = i
			}
		}
		out = append(out, results[best][heads[best]])
		heads[best]++
	}
	return out
}

func bitLess(a, b model.Bit, order *statement.OrderOperator) bool {
	ka, aok := sortKeyOf(a, order.Dimension)
	kb, bok := sortKeyOf(b, order.Dimension)
	var cmp int
	switch {
	case aok && bok:
		cmp = ka.Compare(kb)
	case !aok && bok:
		cmp = -1 // records missing the key sort first
	case aok && !bok:
		cmp = 1
	}
	if order.Desc {
		return cmp > 0
	}
	return cmp < 0
}

func sortKeyOf(b model.Bit, field string) (model.Scalar, bool) {
	switch field {
	case model.TimestampField:
		return model.Int64Scalar(b.Timestamp), true
	case model.ValueField:
		return b.Value, true
	default:
		return b.Field(field)
	}
}

type groupState struct {
	key   model.Scalar
	value model.Scalar
	sum   float64
	count int64
	init  bool
}

// mergeGrouped reduces the per-shard partial aggregates across shards:
// sum and count add, min and max reduce element-wise, avg divides the summed
// partials by the summed counts carried in the reserved count channel.
func mergeGrouped(stmt *statement.SelectSQLStatement, agg statement.Aggregation, results [][]model.Bit) ([]model.Bit, error) {
	groups := map[string]*groupState{}
	var order []string

	for _, part := range results {
		for _, bit := range part {
			key, ok := bit.Dimensions[stmt.GroupBy]
			if !ok {
				continue
			}
			count, hasCount := bit.Dimensions[model.CountField]

			g, seen := groups[key.String()]
			if !seen {
				g = &groupState{key: key}
				groups[key.String()] = g
				order = append(order, key.String())
			}

			switch agg {
			case statement.AggCount:
				g.value = addScalars(g.value, bit.Value, g.init)
			case statement.AggSum:
				g.value = addScalars(g.value, bit.Value, g.init)
			case statement.AggMin:
				if !g.init || bit.Value.Compare(g.value) < 0 {
					g.value = bit.Value
				}
			case statement.AggMax:
				if !g.init || bit.Value.Compare(g.value) > 0 {
					g.value = bit.Value
				}
			case statement.AggAvg:
				if !hasCount {
					return nil, model.ErrUnsupportedDistributedAvg
				}
				g.sum += bit.Value.Float64()
				g.count += count.Int64()
			}
			g.init = true
		}
	}

	out := make([]model.Bit, 0, len(groups))
	for _, key := range order {
		g := groups[key]
		value := g.value
		if agg == statement.AggAvg {
			if g.count == 0 {
				continue
			}
			value = model.DecimalScalar(g.sum / float64(g.count))
		}
		out = append(out, model.Bit{
			Value:      value,
			Dimensions: map[string]model.Scalar{stmt.GroupBy: g.key},
			Tags:       map[string]model.Scalar{},
		})
	}

	// Global sort after reduction: by the group key, or by the aggregated
	// value when ordered on it. Default to the group key for stable replies.
	sortField := stmt.GroupBy
	desc := false
	if stmt.Order != nil {
		sortField = stmt.Order.Dimension
		desc = stmt.Order.Desc
	}
	sort.SliceStable(out, func(i, j int) bool {
		var cmp int
		if sortField == model.ValueField {
			cmp = out[i].Value.Compare(out[j].Value)
		} else {
			cmp = out[i].Dimensions[stmt.GroupBy].Compare(out[j].Dimensions[stmt.GroupBy])
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})

	if stmt.Limit != nil && len(out) > *stmt.Limit {
		out = out[:*stmt.Limit]
	}
	return out, nil
}

// addScalars adds two aggregates, staying in int64 space while both sides are
// integral.
func addScalars(acc, v model.Scalar, initialised bool) model.Scalar {
	if !initialised {
		return v
	}
	if acc.Kind() == model.KindInt64 && v.Kind() == model.KindInt64 {
		return model.Int64Scalar(acc.Int64() + v.Int64())
	}
	return model.DecimalScalar(acc.Float64() + v.Float64())
}
