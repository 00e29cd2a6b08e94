package index

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/robbenti/nsdb/internal/model"
	"github.com/robbenti/nsdb/internal/statement"
)

// Projection is the set of fields a query materialises. All set means `*`.
type Projection struct {
	All    bool
	Fields []string
}

func (p Projection) includes(name string) bool {
	if p.All {
		return true
	}
	for _, f := range p.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// ShardIndex is the structured record store of one Location. Writes go
// through a scoped writer token; reads see the latest committed snapshot at
// search time.
type ShardIndex struct {
	location model.Location
	path     string
	idx      bleve.Index
	logger   zerolog.Logger

	writerSlot chan struct{} // capacity 1: at most one in-flight writer
	seq        atomic.Int64
	skipped    atomic.Int64 // documents dropped during reconstruction
}

// newShardMapping indexes every string field with the keyword analyzer so
// equality translates to exact term queries, and every numeric field as a
// point field. All fields are stored for reconstruction.
func newShardMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = keyword.Name
	return im
}

// OpenShard opens (or creates) the shard index directory for a location.
func OpenShard(path string, loc model.Location, logger zerolog.Logger) (*ShardIndex, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, newShardMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open shard index at %s: %w", path, err)
	}

	s := &ShardIndex{
		location: loc,
		path:     path,
		idx:      idx,
		logger: logger.With().
			Str("component", "shard-index").
			Str("metric", loc.Metric).
			Int64("bin", loc.Bin).
			Logger(),
		writerSlot: make(chan struct{}, 1),
	}
	if n, err := idx.DocCount(); err == nil {
		s.seq.Store(int64(n))
	}
	return s, nil
}

// Location returns the location this shard stores.
func (s *ShardIndex) Location() model.Location { return s.location }

// Writer is the scoped writer token of one shard. Its holder has exclusive
// write access; Commit or Close releases it on every exit path.
type Writer struct {
	s     *ShardIndex
	batch *bleve.Batch
	done  bool
}

// AcquireWriter blocks until the shard's writer slot is free or ctx expires.
func (s *ShardIndex) AcquireWriter(ctx context.Context) (*Writer, error) {
	select {
	case s.writerSlot <- struct{}{}:
		return &Writer{s: s, batch: s.idx.NewBatch()}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquiring shard writer: %w", model.ErrTimeout)
	}
}

// Write validates the record and appends one document with its materialised
// index fields, returning the sequence number.
func (w *Writer) Write(schema model.Schema, bit model.Bit) (int64, error) {
	if err := Validate(schema, bit); err != nil {
		return 0, err
	}
	id := uuid.New().String()
	if err := w.batch.Index(id, buildDocument(bit)); err != nil {
		return 0, fmt.Errorf("failed to index record: %w", err)
	}
	return w.s.seq.Add(1), nil
}

// DeleteByTimestamp stages deletion of every document with the exact timestamp.
func (w *Writer) DeleteByTimestamp(ctx context.Context, ts int64) (int, error) {
	v := float64(ts)
	yes := true
	q := bleve.NewNumericRangeInclusiveQuery(&v, &v, &yes, &yes)
	q.SetField(model.TimestampField)
	return w.deleteMatching(ctx, q)
}

// DeleteByQuery stages deletion of every document matching the predicate.
func (w *Writer) DeleteByQuery(ctx context.Context, schema model.Schema, expr statement.Expression) (int, error) {
	q, err := Translate(expr, schema)
	if err != nil {
		return 0, err
	}
	return w.deleteMatching(ctx, q)
}

func (w *Writer) deleteMatching(ctx context.Context, q query.Query) (int, error) {
	ids, err := w.s.matchingIDs(ctx, q)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		w.batch.Delete(id)
	}
	return len(ids), nil
}

// Commit applies the batch and releases the writer slot. Deletes are merged
// by the underlying index on commit.
func (w *Writer) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	err := w.s.idx.Batch(w.batch)
	<-w.s.writerSlot
	if err != nil {
		return fmt.Errorf("failed to commit shard batch: %w", err)
	}
	return nil
}

// Close releases the writer slot without applying staged operations.
// Safe to defer alongside Commit.
func (w *Writer) Close() {
	if w.done {
		return
	}
	w.done = true
	<-w.s.writerSlot
}

// Query runs the predicate against the shard and reconstructs the projected
// records. A limit <= 0 returns every match.
func (s *ShardIndex) Query(ctx context.Context, schema model.Schema, expr statement.Expression, proj Projection, limit int, sort *statement.OrderOperator) ([]model.Bit, error) {
	q, err := Translate(expr, schema)
	if err != nil {
		return nil, err
	}
	size, err := s.searchSize(limit)
	if err != nil {
		return nil, err
	}

	req := bleve.NewSearchRequestOptions(q, size, 0, false)
	req.Fields = []string{"*"}
	if sort != nil {
		key := sort.Dimension
		if sort.Desc {
			key = "-" + key
		}
		req.SortBy([]string{key})
	} else {
		req.SortBy([]string{model.TimestampField})
	}

	res, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("shard search failed: %w", err)
	}

	out := make([]model.Bit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		bit, ok := s.reconstruct(schema, hit.Fields, proj)
		if !ok {
			s.skipped.Add(1)
			continue
		}
		out = append(out, bit)
	}
	return out, nil
}

// CountQuery counts the records matching the predicate, capped by limit when
// positive.
func (s *ShardIndex) CountQuery(ctx context.Context, schema model.Schema, expr statement.Expression, limit int) (int64, error) {
	q, err := Translate(expr, schema)
	if err != nil {
		return 0, err
	}
	req := bleve.NewSearchRequestOptions(q, 0, 0, false)
	res, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("shard count failed: %w", err)
	}
	n := int64(res.Total)
	if limit > 0 && n > int64(limit) {
		n = int64(limit)
	}
	return n, nil
}

// GroupedAggregation reduces the matching records into one synthetic record
// per group: the group key travels as a dimension, the aggregate as the value,
// and the group cardinality in the reserved count field.
func (s *ShardIndex) GroupedAggregation(ctx context.Context, schema model.Schema, expr statement.Expression, groupBy string, agg statement.Aggregation) ([]model.Bit, error) {
	groupField, ok := schema.Field(groupBy)
	if !ok {
		return nil, &model.InvalidStatementError{Detail: fmt.Sprintf("unknown group by field %q", groupBy)}
	}

	q, err := Translate(expr, schema)
	if err != nil {
		return nil, err
	}
	size, err := s.searchSize(0)
	if err != nil {
		return nil, err
	}
	req := bleve.NewSearchRequestOptions(q, size, 0, false)
	req.Fields = []string{groupBy, model.ValueField}

	res, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("shard aggregation failed: %w", err)
	}

	type groupState struct {
		key   model.Scalar
		sum   float64
		count int64
		min   float64
		max   float64
	}
	groups := make(map[string]*groupState)

	for _, hit := range res.Hits {
		rawKey, present := hit.Fields[groupBy]
		if !present {
			s.skipped.Add(1)
			continue
		}
		key, ok := scalarFromStored(groupField.Type, rawKey)
		if !ok {
			s.skipped.Add(1)
			continue
		}
		value, ok := scalarFromStored(schema.ValueType(), hit.Fields[model.ValueField])
		if !ok {
			s.skipped.Add(1)
			continue
		}
		v := value.Float64()

		g, seen := groups[key.String()]
		if !seen {
			g = &groupState{key: key, min: v, max: v}
			groups[key.String()] = g
		}
		g.sum += v
		g.count++
		if v < g.min {
			g.min = v
		}
		if v > g.max {
			g.max = v
		}
	}

	valueType := schema.ValueType()
	out := make([]model.Bit, 0, len(groups))
	for _, g := range groups {
		var value model.Scalar
		switch agg {
		case statement.AggCount:
			value = model.Int64Scalar(g.count)
		case statement.AggMin:
			value = aggregateScalar(valueType, g.min)
		case statement.AggMax:
			value = aggregateScalar(valueType, g.max)
		default: // sum and avg both ship the partial sum; avg divides after merge
			value = aggregateScalar(valueType, g.sum)
		}
		out = append(out, model.Bit{
			Value: value,
			Dimensions: map[string]model.Scalar{
				groupBy:          g.key,
				model.CountField: model.Int64Scalar(g.count),
			},
			Tags: map[string]model.Scalar{},
		})
	}
	return out, nil
}

// All returns every record in the shard with the full projection.
func (s *ShardIndex) All(ctx context.Context, schema model.Schema) ([]model.Bit, error) {
	return s.Query(ctx, schema, nil, Projection{All: true}, 0, nil)
}

// Count returns the number of live documents in the shard.
func (s *ShardIndex) Count() (int64, error) {
	n, err := s.idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("shard doc count failed: %w", err)
	}
	return int64(n), nil
}

// SkippedReconstructions reports documents dropped instead of aborting a query.
func (s *ShardIndex) SkippedReconstructions() int64 { return s.skipped.Load() }

// Close closes the underlying index.
func (s *ShardIndex) Close() error { return s.idx.Close() }

// Drop closes the shard and removes its directory.
func (s *ShardIndex) Drop() error {
	if err := s.idx.Close(); err != nil {
		return err
	}
	return os.RemoveAll(s.path)
}

// matchingIDs collects the ids of every document matching q.
func (s *ShardIndex) matchingIDs(ctx context.Context, q query.Query) ([]string, error) {
	size, err := s.searchSize(0)
	if err != nil {
		return nil, err
	}
	req := bleve.NewSearchRequestOptions(q, size, 0, false)
	res, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("shard search failed: %w", err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// searchSize resolves the request size: the caller's limit, or the whole
// shard when no limit applies.
func (s *ShardIndex) searchSize(limit int) (int, error) {
	if limit > 0 {
		return limit, nil
	}
	n, err := s.idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("shard doc count failed: %w", err)
	}
	return int(n), nil
}

// reconstruct projects a stored document back to a record. Dimensions and tags
// are the stored fields matching the schema's class entries that the
// projection includes; value and timestamp always materialise.
func (s *ShardIndex) reconstruct(schema model.Schema, stored map[string]interface{}, proj Projection) (model.Bit, bool) {
	rawTS, ok := stored[model.TimestampField].(float64)
	if !ok {
		return model.Bit{}, false
	}
	value, ok := scalarFromStored(schema.ValueType(), stored[model.ValueField])
	if !ok {
		return model.Bit{}, false
	}

	bit := model.Bit{
		Timestamp:  int64(rawTS),
		Value:      value,
		Dimensions: map[string]model.Scalar{},
		Tags:       map[string]model.Scalar{},
	}

	for _, f := range schema.FieldsOfClass(model.ClassDimension) {
		if !proj.includes(f.Name) {
			continue
		}
		raw, present := stored[f.Name]
		if !present {
			continue // sparse row
		}
		v, ok := scalarFromStored(f.Type, raw)
		if !ok {
			return model.Bit{}, false
		}
		bit.Dimensions[f.Name] = v
	}
	for _, f := range schema.FieldsOfClass(model.ClassTag) {
		if !proj.includes(f.Name) {
			continue
		}
		raw, present := stored[f.Name]
		if !present {
			continue
		}
		v, ok := scalarFromStored(f.Type, raw)
		if !ok {
			return model.Bit{}, false
		}
		bit.Tags[f.Name] = v
	}
	return bit, true
}

// aggregateScalar re-tags an aggregate computed in float space with the
// metric's declared value type.
func aggregateScalar(t model.IndexType, v float64) model.Scalar {
	if t == model.TypeInt || t == model.TypeBigint {
		return model.Int64Scalar(int64(v))
	}
	return model.DecimalScalar(v)
}
