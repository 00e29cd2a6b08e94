package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/robbenti/nsdb/internal/cluster"
	"github.com/robbenti/nsdb/internal/index"
	"github.com/robbenti/nsdb/internal/metadata"
	"github.com/robbenti/nsdb/internal/model"
	"github.com/robbenti/nsdb/internal/statement"
)

// ReadCoordinator translates a parsed select statement to shard subqueries,
// fans them out to the owning nodes on a bounded pool, and merges the results
// including group-by aggregation and global limit/sort finalisation.
type ReadCoordinator struct {
	registries RegistryProvider
	metadata   *metadata.Coordinator
	shards     *ShardDirectory
	view       cluster.View
	remote     RemoteClient
	timeout    time.Duration
	pool       *semaphore.Weighted
	tracker    *Tracker
	logger     zerolog.Logger

	Executed int64 // atomic
	Failed   int64 // atomic
}

func NewReadCoordinator(registries RegistryProvider, md *metadata.Coordinator, shards *ShardDirectory,
	view cluster.View, remote RemoteClient, timeout time.Duration, parallelism int, tracker *Tracker, logger zerolog.Logger) *ReadCoordinator {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &ReadCoordinator{
		registries: registries,
		metadata:   md,
		shards:     shards,
		view:       view,
		remote:     remote,
		timeout:    timeout,
		pool:       semaphore.NewWeighted(int64(parallelism)),
		tracker:    tracker,
		logger:     logger.With().Str("component", "read-coordinator").Logger(),
	}
}

// Tracker exposes the statement tracker for the endpoint.
func (r *ReadCoordinator) Tracker() *Tracker { return r.tracker }

// ExecuteStatement runs one select statement under the configured deadline.
func (r *ReadCoordinator) ExecuteStatement(ctx context.Context, db, ns string, stmt *statement.SelectSQLStatement) ([]model.Bit, error) {
	id, ctx := r.tracker.Register(ctx, db, ns, statement.Render(stmt))
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	records, err := r.execute(ctx, id, db, ns, stmt)
	switch {
	case err == nil:
		atomic.AddInt64(&r.Executed, 1)
		r.tracker.Complete(id, len(records))
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, model.ErrTimeout):
		atomic.AddInt64(&r.Failed, 1)
		r.tracker.TimedOut(id)
		err = model.ErrTimeout
	default:
		atomic.AddInt64(&r.Failed, 1)
		r.tracker.Fail(id, err.Error())
	}
	return records, err
}

func (r *ReadCoordinator) execute(ctx context.Context, id, db, ns string, stmt *statement.SelectSQLStatement) ([]model.Bit, error) {
	reg, err := r.registries.Registry(db, ns)
	if err != nil {
		return nil, err
	}
	sch, ok := reg.Get(stmt.Metric)
	if !ok {
		return nil, model.ErrMetricNotFound
	}

	agg, err := validateProjection(stmt, sch)
	if err != nil {
		return nil, err
	}
	if stmt.Limit != nil && *stmt.Limit == 0 {
		return nil, nil
	}

	tr := timeRangeOf(stmt.Condition)
	if tr.empty() {
		return nil, nil
	}
	locs, err := r.metadata.LocationsOverlapping(db, ns, stmt.Metric, tr.Lo, tr.Hi)
	if err != nil {
		return nil, err
	}
	r.tracker.SetShardCount(id, len(locs))
	if len(locs) == 0 {
		return nil, nil
	}

	// Fan out, bounded by the read parallelism pool; shard subqueries are
	// cancelled together when the deadline elapses or one of them fails.
	results := make([][]model.Bit, len(locs))
	g, gctx := errgroup.WithContext(ctx)
	sqlText := statement.Render(stmt)
	for i, loc := range locs {
		i, loc := i, loc
		g.Go(func() error {
			if err := r.pool.Acquire(gctx, 1); err != nil {
				return err
			}
			defer r.pool.Release(1)

			var bits []model.Bit
			var err error
			if loc.NodeID == r.view.SelfID() {
				bits, err = r.ExecuteOnShard(gctx, db, ns, loc.Bin, stmt)
			} else {
				bits, err = r.remote.QueryShard(gctx, loc.NodeID, db, ns, loc.Bin, sqlText)
			}
			if err != nil {
				return fmt.Errorf("shard %s/%d: %w", loc.Metric, loc.Bin, err)
			}
			results[i] = bits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return merge(stmt, sch, agg, results)
}

// ExecuteOnShard runs the shard-local part of a statement against one bin.
// Also the entry point for subqueries forwarded by peer coordinators.
func (r *ReadCoordinator) ExecuteOnShard(ctx context.Context, db, ns string, bin int64, stmt *statement.SelectSQLStatement) ([]model.Bit, error) {
	reg, err := r.registries.Registry(db, ns)
	if err != nil {
		return nil, err
	}
	sch, ok := reg.Get(stmt.Metric)
	if !ok {
		return nil, model.ErrMetricNotFound
	}
	loc, ok, err := r.metadata.Location(db, ns, stmt.Metric, bin)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	shard, err := r.shards.GetOrOpen(db, ns, loc)
	if err != nil {
		return nil, err
	}

	if stmt.GroupBy != "" {
		agg, err := validateProjection(stmt, sch)
		if err != nil {
			return nil, err
		}
		return shard.GroupedAggregation(ctx, sch, stmt.Condition, stmt.GroupBy, agg)
	}

	limit := 0
	if stmt.Limit != nil {
		limit = *stmt.Limit
	}
	return shard.Query(ctx, sch, stmt.Condition, projectionOf(stmt), limit, stmt.Order)
}

// CountMetric sums the live documents over the shards of a metric that this
// node owns; shards owned by other nodes are not counted.
func (r *ReadCoordinator) CountMetric(db, ns, metric string) (int64, error) {
	locs, err := r.metadata.LocationsFor(db, ns, metric)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, loc := range locs {
		if loc.NodeID != r.view.SelfID() {
			continue
		}
		shard, err := r.shards.GetOrOpen(db, ns, loc)
		if err != nil {
			return 0, err
		}
		n, err := shard.Count()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// validateProjection applies the semantic checks: a group-by projection may
// contain only aggregated fields and the group key; aggregations apply only
// to the value field; and at most one aggregator per statement.
func validateProjection(stmt *statement.SelectSQLStatement, sch model.Schema) (statement.Aggregation, error) {
	agg := statement.AggNone
	for _, f := range stmt.Fields {
		if f.Aggregation == statement.AggNone {
			continue
		}
		if f.Name != model.ValueField {
			return "", &model.InvalidStatementError{
				Detail: fmt.Sprintf("aggregation applies only to the value field, not %q", f.Name),
			}
		}
		if agg != statement.AggNone && agg != f.Aggregation {
			return "", &model.InvalidStatementError{Detail: "multiple aggregations in one statement"}
		}
		agg = f.Aggregation
	}

	if stmt.GroupBy == "" {
		if agg != statement.AggNone {
			return "", &model.InvalidStatementError{Detail: "aggregation requires group by"}
		}
		return statement.AggNone, nil
	}

	if stmt.AllFields {
		return "", &model.InvalidStatementError{Detail: "group-by requires aggregation"}
	}
	for _, f := range stmt.Fields {
		if f.Aggregation == statement.AggNone && f.Name != stmt.GroupBy {
			return "", &model.InvalidStatementError{Detail: "group-by requires aggregation"}
		}
	}
	if agg == statement.AggNone {
		return "", &model.InvalidStatementError{Detail: "group-by requires aggregation"}
	}
	// Only tags participate in group-by; dimensions are filterable but not
	// grouped.
	if f, ok := sch.Field(stmt.GroupBy); !ok || f.Class != model.ClassTag {
		return "", &model.InvalidStatementError{Detail: fmt.Sprintf("cannot group by %q: not a tag field", stmt.GroupBy)}
	}
	return agg, nil
}

func projectionOf(stmt *statement.SelectSQLStatement) index.Projection {
	if stmt.AllFields {
		return index.Projection{All: true}
	}
	names := make([]string, 0, len(stmt.Fields))
	for _, f := range stmt.Fields {
		if f.Aggregation == statement.AggNone {
			names = append(names, f.Name)
		}
	}
	return index.Projection{Fields: names}
}
