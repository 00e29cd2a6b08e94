package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/robbenti/nsdb/internal/cluster"
	"github.com/robbenti/nsdb/internal/commitlog"
	"github.com/robbenti/nsdb/internal/metadata"
	"github.com/robbenti/nsdb/internal/model"
	"github.com/robbenti/nsdb/internal/statement"
)

// WriteCoordinator validates inbound records against the evolving schema,
// routes them to the correct shard, and acknowledges. One instance per node;
// writes to one shard serialise through its writer token, writes to different
// shards are independent.
type WriteCoordinator struct {
	registries RegistryProvider
	metadata   *metadata.Coordinator
	shards     *ShardDirectory
	view       cluster.View
	remote     RemoteClient
	log        *commitlog.Log // nil when the commit log is disabled
	timeout    time.Duration
	logger     zerolog.Logger

	Accepted int64 // atomic
	Rejected int64 // atomic
}

func NewWriteCoordinator(registries RegistryProvider, md *metadata.Coordinator, shards *ShardDirectory,
	view cluster.View, remote RemoteClient, log *commitlog.Log, timeout time.Duration, logger zerolog.Logger) *WriteCoordinator {
	return &WriteCoordinator{
		registries: registries,
		metadata:   md,
		shards:     shards,
		view:       view,
		remote:     remote,
		log:        log,
		timeout:    timeout,
		logger:     logger.With().Str("component", "write-coordinator").Logger(),
	}
}

// MapInput admits one record: evolve the schema from the record's candidate,
// locate the bin, then either log the entry to the commit log and append it
// locally (this node owns the bin) or forward it to the owner, which logs it
// on its own write path. A schema
// conflict rejects the write whole; a failed append is surfaced as an I/O
// error without rolling the (additive, harmless) schema evolution back.
func (w *WriteCoordinator) MapInput(ctx context.Context, db, ns, metric string, bit model.Bit) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	reg, err := w.registries.Registry(db, ns)
	if err != nil {
		return err
	}

	candidate := model.SchemaFrom(metric, bit)
	effective, err := reg.Update(metric, candidate)
	if err != nil {
		atomic.AddInt64(&w.Rejected, 1)
		return err
	}

	loc, err := w.metadata.Locate(db, ns, metric, bit.Timestamp)
	if err != nil {
		atomic.AddInt64(&w.Rejected, 1)
		return err
	}

	// Write-ahead order: the entry is durable before the shard append and
	// the reply.
	if w.log != nil && loc.NodeID == w.view.SelfID() {
		if err := w.log.Append(commitlog.NewEntry(db, ns, metric, bit)); err != nil {
			atomic.AddInt64(&w.Rejected, 1)
			return fmt.Errorf("commit log append failed: %w", err)
		}
	}

	if loc.NodeID != w.view.SelfID() {
		if err := w.remote.WriteRemote(ctx, loc.NodeID, db, ns, metric, bit); err != nil {
			atomic.AddInt64(&w.Rejected, 1)
			return err
		}
	} else if err := w.appendLocal(ctx, db, ns, loc, effective, bit); err != nil {
		atomic.AddInt64(&w.Rejected, 1)
		return err
	}

	atomic.AddInt64(&w.Accepted, 1)
	return nil
}

// Replay re-applies a recovered commit log entry to the local shard it
// belongs to. Entries whose bin is owned elsewhere are skipped: each node
// replays its own log.
func (w *WriteCoordinator) Replay(ctx context.Context, e commitlog.Entry) error {
	bit := e.Bit()
	reg, err := w.registries.Registry(e.Db, e.Namespace)
	if err != nil {
		return err
	}
	effective, err := reg.Update(e.Metric, model.SchemaFrom(e.Metric, bit))
	if err != nil {
		return err
	}
	loc, err := w.metadata.Locate(e.Db, e.Namespace, e.Metric, bit.Timestamp)
	if err != nil {
		return err
	}
	if loc.NodeID != w.view.SelfID() {
		return nil
	}
	return w.appendLocal(ctx, e.Db, e.Namespace, loc, effective, bit)
}

func (w *WriteCoordinator) appendLocal(ctx context.Context, db, ns string, loc model.Location, schema model.Schema, bit model.Bit) error {
	shard, err := w.shards.GetOrOpen(db, ns, loc)
	if err != nil {
		return err
	}
	writer, err := shard.AcquireWriter(ctx)
	if err != nil {
		return err
	}
	defer writer.Close()

	if _, err := writer.Write(schema, bit); err != nil {
		return err
	}
	return writer.Commit()
}

// ExecuteDeleteStatement removes the records matching the statement from
// every overlapping shard, local or remote.
func (w *WriteCoordinator) ExecuteDeleteStatement(ctx context.Context, db, ns string, stmt *statement.DeleteSQLStatement) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	reg, err := w.registries.Registry(db, ns)
	if err != nil {
		return err
	}
	sch, ok := reg.Get(stmt.Metric)
	if !ok {
		return model.ErrMetricNotFound
	}

	r := timeRangeOf(stmt.Condition)
	if r.empty() {
		return nil
	}
	locs, err := w.metadata.LocationsOverlapping(db, ns, stmt.Metric, r.Lo, r.Hi)
	if err != nil {
		return err
	}

	sqlText := statement.Render(stmt)
	for _, loc := range locs {
		if loc.NodeID != w.view.SelfID() {
			if err := w.remote.DeleteShard(ctx, loc.NodeID, db, ns, loc.Bin, sqlText); err != nil {
				return err
			}
			continue
		}
		if err := w.deleteLocal(ctx, db, ns, loc, sch, stmt.Condition); err != nil {
			return err
		}
	}
	return nil
}

// DeleteOnShard removes matching records from one local shard; the entry
// point for delete subqueries forwarded by peers.
func (w *WriteCoordinator) DeleteOnShard(ctx context.Context, db, ns string, bin int64, stmt *statement.DeleteSQLStatement) error {
	reg, err := w.registries.Registry(db, ns)
	if err != nil {
		return err
	}
	sch, ok := reg.Get(stmt.Metric)
	if !ok {
		return model.ErrMetricNotFound
	}
	loc, ok, err := w.metadata.Location(db, ns, stmt.Metric, bin)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return w.deleteLocal(ctx, db, ns, loc, sch, stmt.Condition)
}

func (w *WriteCoordinator) deleteLocal(ctx context.Context, db, ns string, loc model.Location, sch model.Schema, cond statement.Expression) error {
	shard, err := w.shards.GetOrOpen(db, ns, loc)
	if err != nil {
		return err
	}
	writer, err := shard.AcquireWriter(ctx)
	if err != nil {
		return err
	}
	defer writer.Close()

	n, err := writer.DeleteByQuery(ctx, sch, cond)
	if err != nil {
		return err
	}
	if err := writer.Commit(); err != nil {
		return err
	}
	w.logger.Debug().Str("metric", loc.Metric).Int64("bin", loc.Bin).Int("deleted", n).Msg("Delete applied")
	return nil
}

// DropMetric drops the schema, every shard and the metadata of a metric.
// Idempotent: dropping twice leaves the same state, and later writes recreate
// the metric from scratch.
func (w *WriteCoordinator) DropMetric(ctx context.Context, db, ns, metric string) error {
	reg, err := w.registries.Registry(db, ns)
	if err != nil {
		return err
	}
	if err := reg.Delete(metric); err != nil {
		return err
	}
	if err := w.shards.DropMetric(db, ns, metric); err != nil {
		return err
	}
	return w.metadata.DropMetric(db, ns, metric)
}
