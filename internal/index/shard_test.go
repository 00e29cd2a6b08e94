package index

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbenti/nsdb/internal/model"
	"github.com/robbenti/nsdb/internal/statement"
)

func peopleSchema() model.Schema {
	return model.NewSchema("people",
		model.SchemaField{Name: model.TimestampField, Class: model.ClassTimestamp, Type: model.TypeBigint},
		model.SchemaField{Name: model.ValueField, Class: model.ClassValue, Type: model.TypeBigint},
		model.SchemaField{Name: "name", Class: model.ClassTag, Type: model.TypeVarchar},
		model.SchemaField{Name: "surname", Class: model.ClassTag, Type: model.TypeVarchar},
		model.SchemaField{Name: "creationDate", Class: model.ClassDimension, Type: model.TypeBigint},
	)
}

func peopleBit(ts int64, name string) model.Bit {
	return model.Bit{
		Timestamp: ts,
		Value:     model.Int64Scalar(1),
		Dimensions: map[string]model.Scalar{
			"creationDate": model.Int64Scalar(ts * 100),
		},
		Tags: map[string]model.Scalar{
			"name":    model.StringScalar(name),
			"surname": model.StringScalar("Doe"),
		},
	}
}

func newTestShard(t *testing.T) *ShardIndex {
	t.Helper()
	loc := model.Location{Metric: "people", NodeID: "node-0", Bin: 0, LowerTS: 0, UpperTS: 1000}
	s, err := OpenShard(t.TempDir()+"/shard", loc, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writePeople(t *testing.T, s *ShardIndex) {
	t.Helper()
	sch := peopleSchema()
	names := map[int64]string{2: "John", 4: "John", 6: "Bill", 8: "Frank", 10: "Frank"}

	w, err := s.AcquireWriter(context.Background())
	require.NoError(t, err)
	defer w.Close()
	for ts := int64(2); ts <= 10; ts += 2 {
		_, err := w.Write(sch, peopleBit(ts, names[ts]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Commit())
}

func TestShardWriteAndAll(t *testing.T) {
	s := newTestShard(t)
	writePeople(t, s)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	all, err := s.All(context.Background(), peopleSchema())
	require.NoError(t, err)
	require.Len(t, all, 5)

	// count() equals the length of all()
	assert.Equal(t, int(n), len(all))

	// records come back in timestamp order with full reconstruction
	first := all[0]
	assert.Equal(t, int64(2), first.Timestamp)
	assert.Equal(t, model.Int64Scalar(1), first.Value)
	assert.Equal(t, model.StringScalar("John"), first.Tags["name"])
	assert.Equal(t, model.StringScalar("Doe"), first.Tags["surname"])
	assert.Equal(t, model.Int64Scalar(200), first.Dimensions["creationDate"])
}

func TestShardValidation(t *testing.T) {
	s := newTestShard(t)
	sch := peopleSchema()

	bad := peopleBit(2, "John")
	bad.Tags["name"] = model.Int64Scalar(12)

	w, err := s.AcquireWriter(context.Background())
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write(sch, bad)
	var violation *model.SchemaViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "name", violation.Field)
	assert.Equal(t, model.TypeVarchar, violation.Expected)
	assert.Equal(t, model.KindInt64, violation.Found)
}

func TestShardTimeRangeQuery(t *testing.T) {
	s := newTestShard(t)
	writePeople(t, s)

	cond, err := statement.Parse("SELECT name FROM people WHERE timestamp >= 2 AND timestamp <= 4")
	require.NoError(t, err)
	sel := cond.(*statement.SelectSQLStatement)

	got, err := s.Query(context.Background(), peopleSchema(), sel.Condition, Projection{Fields: []string{"name"}}, 0, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].Timestamp)
	assert.Equal(t, int64(4), got[1].Timestamp)
	// projection keeps name, drops the unprojected dimension
	assert.Contains(t, got[0].Tags, "name")
	assert.NotContains(t, got[0].Dimensions, "creationDate")
}

func TestShardNotQuery(t *testing.T) {
	s := newTestShard(t)
	writePeople(t, s)

	cond, err := statement.Parse("SELECT name FROM people WHERE NOT(timestamp >= 10)")
	require.NoError(t, err)
	sel := cond.(*statement.SelectSQLStatement)

	got, err := s.Query(context.Background(), peopleSchema(), sel.Condition, Projection{Fields: []string{"name"}}, 4, nil)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	for _, b := range got {
		assert.Less(t, b.Timestamp, int64(10))
	}
}

func TestShardTermQuery(t *testing.T) {
	s := newTestShard(t)
	writePeople(t, s)

	cond, err := statement.Parse("SELECT * FROM people WHERE name = 'Frank'")
	require.NoError(t, err)
	sel := cond.(*statement.SelectSQLStatement)

	got, err := s.Query(context.Background(), peopleSchema(), sel.Condition, Projection{All: true}, 0, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, b := range got {
		assert.Equal(t, model.StringScalar("Frank"), b.Tags["name"])
	}
}

func TestShardQueryLimitAndSort(t *testing.T) {
	s := newTestShard(t)
	writePeople(t, s)

	desc := &statement.OrderOperator{Dimension: model.TimestampField, Desc: true}
	got, err := s.Query(context.Background(), peopleSchema(), nil, Projection{All: true}, 2, desc)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(10), got[0].Timestamp)
	assert.Equal(t, int64(8), got[1].Timestamp)
}

func TestShardCountQuery(t *testing.T) {
	s := newTestShard(t)
	writePeople(t, s)

	cond, err := statement.Parse("SELECT * FROM people WHERE timestamp >= 6")
	require.NoError(t, err)
	sel := cond.(*statement.SelectSQLStatement)

	n, err := s.CountQuery(context.Background(), peopleSchema(), sel.Condition, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	capped, err := s.CountQuery(context.Background(), peopleSchema(), sel.Condition, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), capped)
}

func TestShardGroupedAggregation(t *testing.T) {
	s := newTestShard(t)
	writePeople(t, s)

	cond, err := statement.Parse("SELECT sum(value) FROM people WHERE timestamp >= 2 GROUP BY name")
	require.NoError(t, err)
	sel := cond.(*statement.SelectSQLStatement)

	got, err := s.GroupedAggregation(context.Background(), peopleSchema(), sel.Condition, "name", statement.AggSum)
	require.NoError(t, err)
	require.Len(t, got, 3)

	sums := map[string]int64{}
	counts := map[string]int64{}
	for _, b := range got {
		name := b.Dimensions["name"].Str()
		sums[name] = b.Value.Int64()
		counts[name] = b.Dimensions[model.CountField].Int64()
	}
	assert.Equal(t, map[string]int64{"John": 2, "Bill": 1, "Frank": 2}, sums)
	assert.Equal(t, map[string]int64{"John": 2, "Bill": 1, "Frank": 2}, counts)
}

func TestShardGroupedAggregationUnknownField(t *testing.T) {
	s := newTestShard(t)
	writePeople(t, s)

	_, err := s.GroupedAggregation(context.Background(), peopleSchema(), nil, "nope", statement.AggSum)
	assert.True(t, model.IsInvalidStatement(err))
}

func TestShardDeleteByTimestamp(t *testing.T) {
	s := newTestShard(t)
	writePeople(t, s)

	w, err := s.AcquireWriter(context.Background())
	require.NoError(t, err)
	n, err := w.DeleteByTimestamp(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, w.Commit())

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestShardDeleteByQuery(t *testing.T) {
	s := newTestShard(t)
	writePeople(t, s)

	cond, err := statement.Parse("DELETE FROM people WHERE name = 'John'")
	require.NoError(t, err)
	del := cond.(*statement.DeleteSQLStatement)

	w, err := s.AcquireWriter(context.Background())
	require.NoError(t, err)
	n, err := w.DeleteByQuery(context.Background(), peopleSchema(), del.Condition)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, w.Commit())

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestShardWriterExclusive(t *testing.T) {
	s := newTestShard(t)

	w1, err := s.AcquireWriter(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.AcquireWriter(ctx)
	assert.ErrorIs(t, err, model.ErrTimeout)

	w1.Close()

	w2, err := s.AcquireWriter(context.Background())
	require.NoError(t, err)
	w2.Close()
}

func TestShardWriterCloseDiscards(t *testing.T) {
	s := newTestShard(t)
	sch := peopleSchema()

	w, err := s.AcquireWriter(context.Background())
	require.NoError(t, err)
	_, err = w.Write(sch, peopleBit(2, "John"))
	require.NoError(t, err)
	w.Close() // released without commit

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestShardReopen(t *testing.T) {
	dir := t.TempDir() + "/shard"
	loc := model.Location{Metric: "people", NodeID: "node-0", Bin: 0, LowerTS: 0, UpperTS: 1000}

	s, err := OpenShard(dir, loc, zerolog.Nop())
	require.NoError(t, err)
	writePeople(t, s)
	require.NoError(t, s.Close())

	reopened, err := OpenShard(dir, loc, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}
