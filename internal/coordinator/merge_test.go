package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbenti/nsdb/internal/model"
	"github.com/robbenti/nsdb/internal/statement"
)

func plainBit(ts int64, name string) model.Bit {
	return model.Bit{
		Timestamp:  ts,
		Value:      model.Int64Scalar(1),
		Dimensions: map[string]model.Scalar{},
		Tags:       map[string]model.Scalar{"name": model.StringScalar(name)},
	}
}

func groupBit(key string, value model.Scalar, count int64) model.Bit {
	return model.Bit{
		Value: value,
		Dimensions: map[string]model.Scalar{
			"name":           model.StringScalar(key),
			model.CountField: model.Int64Scalar(count),
		},
		Tags: map[string]model.Scalar{},
	}
}

func limit(n int) *int { return &n }

func TestMergeConcatAndTruncate(t *testing.T) {
	stmt := &statement.SelectSQLStatement{Metric: "people", AllFields: true, Limit: limit(3)}

	results := [][]model.Bit{
		{plainBit(2, "John"), plainBit(4, "John")},
		{plainBit(12, "Bill"), plainBit(14, "Frank")},
	}
	out, err := merge(stmt, model.Schema{}, statement.AggNone, results)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, int64(2), out[0].Timestamp)
	assert.Equal(t, int64(12), out[2].Timestamp)
}

func TestMergeSortedKWay(t *testing.T) {
	order := &statement.OrderOperator{Dimension: model.TimestampField, Desc: true}
	stmt := &statement.SelectSQLStatement{Metric: "people", AllFields: true, Order: order}

	// per-shard runs already sorted descending
	results := [][]model.Bit{
		{plainBit(9, "a"), plainBit(3, "b")},
		{plainBit(8, "c"), plainBit(5, "d"), plainBit(1, "e")},
	}
	out, err := merge(stmt, model.Schema{}, statement.AggNone, results)
	require.NoError(t, err)
	require.Len(t, out, 5)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Timestamp, out[i].Timestamp)
	}
}

func TestMergeGroupedSum(t *testing.T) {
	stmt := &statement.SelectSQLStatement{
		Metric:  "people",
		Fields:  []statement.Field{{Name: model.ValueField, Aggregation: statement.AggSum}},
		GroupBy: "name",
	}
	results := [][]model.Bit{
		{groupBit("John", model.Int64Scalar(1), 1), groupBit("Bill", model.Int64Scalar(1), 1)},
		{groupBit("John", model.Int64Scalar(1), 1), groupBit("Frank", model.Int64Scalar(2), 2)},
	}
	out, err := merge(stmt, model.Schema{}, statement.AggSum, results)
	require.NoError(t, err)
	require.Len(t, out, 3)

	sums := map[string]int64{}
	for _, b := range out {
		sums[b.Dimensions["name"].Str()] = b.Value.Int64()
	}
	assert.Equal(t, map[string]int64{"John": 2, "Bill": 1, "Frank": 2}, sums)
}

func TestMergeGroupedMinMax(t *testing.T) {
	stmt := &statement.SelectSQLStatement{
		Metric:  "people",
		Fields:  []statement.Field{{Name: model.ValueField, Aggregation: statement.AggMin}},
		GroupBy: "name",
	}
	results := [][]model.Bit{
		{groupBit("John", model.Int64Scalar(5), 1)},
		{groupBit("John", model.Int64Scalar(3), 1)},
	}
	out, err := merge(stmt, model.Schema{}, statement.AggMin, results)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(3), out[0].Value.Int64())

	out, err = merge(stmt, model.Schema{}, statement.AggMax, results)
	require.NoError(t, err)
	assert.Equal(t, int64(5), out[0].Value.Int64())
}

func TestMergeGroupedAvgUsesCountChannel(t *testing.T) {
	stmt := &statement.SelectSQLStatement{
		Metric:  "people",
		Fields:  []statement.Field{{Name: model.ValueField, Aggregation: statement.AggAvg}},
		GroupBy: "name",
	}
	// partial sums with their counts: (10 over 2) + (20 over 3) = 30 over 5
	results := [][]model.Bit{
		{groupBit("John", model.Int64Scalar(10), 2)},
		{groupBit("John", model.Int64Scalar(20), 3)},
	}
	out, err := merge(stmt, model.Schema{}, statement.AggAvg, results)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 6.0, out[0].Value.Float64(), 1e-9)
}

func TestMergeGroupedAvgWithoutCountRejected(t *testing.T) {
	stmt := &statement.SelectSQLStatement{
		Metric:  "people",
		Fields:  []statement.Field{{Name: model.ValueField, Aggregation: statement.AggAvg}},
		GroupBy: "name",
	}
	noCount := model.Bit{
		Value:      model.Int64Scalar(10),
		Dimensions: map[string]model.Scalar{"name": model.StringScalar("John")},
	}
	_, err := merge(stmt, model.Schema{}, statement.AggAvg, [][]model.Bit{{noCount}})
	assert.ErrorIs(t, err, model.ErrUnsupportedDistributedAvg)
}

func TestMergeGroupedSortByValue(t *testing.T) {
	stmt := &statement.SelectSQLStatement{
		Metric:  "people",
		Fields:  []statement.Field{{Name: model.ValueField, Aggregation: statement.AggSum}},
		GroupBy: "name",
		Order:   &statement.OrderOperator{Dimension: model.ValueField, Desc: true},
		Limit:   limit(2),
	}
	results := [][]model.Bit{{
		groupBit("John", model.Int64Scalar(2), 2),
		groupBit("Bill", model.Int64Scalar(1), 1),
		groupBit("Frank", model.Int64Scalar(5), 5),
	}}
	out, err := merge(stmt, model.Schema{}, statement.AggSum, results)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Frank", out[0].Dimensions["name"].Str())
	assert.Equal(t, "John", out[1].Dimensions["name"].Str())
}
