package metadata

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/robbenti/nsdb/internal/cluster"
	"github.com/robbenti/nsdb/internal/model"
)

// Coordinator partitions each metric's timeline into half-open bins of the
// metric's shard interval and assigns each bin to a node deterministically.
// One instance runs per node; creates are serialised, reads go straight to
// the store.
type Coordinator struct {
	store           *Store
	view            cluster.View
	mediator        *cluster.Mediator
	defaultInterval int64
	logger          zerolog.Logger

	mu sync.Mutex // serialises location/metric-info creation
}

func NewCoordinator(store *Store, view cluster.View, mediator *cluster.Mediator, defaultInterval int64, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:           store,
		view:            view,
		mediator:        mediator,
		defaultInterval: defaultInterval,
		logger:          logger.With().Str("component", "metadata-coordinator").Logger(),
	}
}

// ShardInterval resolves the bin width of a metric: its metric info if
// initialised, the configured default otherwise.
func (c *Coordinator) ShardInterval(db, ns, metric string) (int64, error) {
	info, ok, err := c.store.GetMetricInfo(db, ns, metric)
	if err != nil {
		return 0, err
	}
	if ok {
		return info.ShardInterval, nil
	}
	return c.defaultInterval, nil
}

// PutMetricInfo records the shard interval (and retention) of a metric.
// Set-once: a second put for the same metric is a no-op, because existing
// shard boundaries are frozen.
func (c *Coordinator) PutMetricInfo(db, ns string, info model.MetricInfo) error {
	if info.ShardInterval <= 0 {
		return fmt.Errorf("shard interval must be positive, got %d", info.ShardInterval)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.PutMetricInfo(db, ns, info); err != nil {
		return err
	}
	effective, _, err := c.store.GetMetricInfo(db, ns, info.Metric)
	if err != nil {
		return err
	}
	c.mediator.Publish(cluster.Event{
		Type:      cluster.EventMetricInfoPut,
		Db:        db,
		Namespace: ns,
		Metric:    info.Metric,
		Info:      &effective,
	})
	return nil
}

// GetMetricInfo reads the metric info, if set.
func (c *Coordinator) GetMetricInfo(db, ns, metric string) (model.MetricInfo, bool, error) {
	return c.store.GetMetricInfo(db, ns, metric)
}

// Locate returns the location whose half-open bin contains ts, creating and
// placing it if absent. Placement is a pure function of (metric, bin) and the
// current membership, so concurrent creates on different nodes agree.
func (c *Coordinator) Locate(db, ns, metric string, ts int64) (model.Location, error) {
	interval, err := c.ShardInterval(db, ns, metric)
	if err != nil {
		return model.Location{}, err
	}
	bin := model.BinFor(ts, interval)

	if loc, ok, err := c.store.GetLocation(db, ns, metric, bin); err != nil {
		return model.Location{}, err
	} else if ok {
		return loc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check under the lock: another writer may have created the bin.
	if loc, ok, err := c.store.GetLocation(db, ns, metric, bin); err != nil {
		return model.Location{}, err
	} else if ok {
		return loc, nil
	}

	loc := model.LocationFor(metric, ts, interval)
	loc.NodeID = Place(metric, bin, c.view.Nodes())
	if loc.NodeID == "" {
		return model.Location{}, model.ErrUnavailable
	}
	if err := c.store.PutLocation(db, ns, loc); err != nil {
		return model.Location{}, err
	}
	// Read back: a concurrent remote create may have won with a smaller id.
	effective, _, err := c.store.GetLocation(db, ns, metric, bin)
	if err != nil {
		return model.Location{}, err
	}

	c.logger.Debug().
		Str("metric", metric).
		Int64("bin", bin).
		Str("node", effective.NodeID).
		Msg("Location created")
	c.mediator.Publish(cluster.Event{
		Type:      cluster.EventLocationCreated,
		Db:        db,
		Namespace: ns,
		Metric:    metric,
		Location:  &effective,
	})
	return effective, nil
}

// LocationsOverlapping enumerates the bins intersecting [lo, hi] inclusive.
func (c *Coordinator) LocationsOverlapping(db, ns, metric string, lo, hi int64) ([]model.Location, error) {
	if lo > hi {
		return nil, nil
	}
	return c.store.LocationsOverlapping(db, ns, metric, lo, hi)
}

// Location reads one bin of a metric, if present.
func (c *Coordinator) Location(db, ns, metric string, bin int64) (model.Location, bool, error) {
	return c.store.GetLocation(db, ns, metric, bin)
}

// LocationsFor enumerates every bin of a metric.
func (c *Coordinator) LocationsFor(db, ns, metric string) ([]model.Location, error) {
	return c.store.LocationsFor(db, ns, metric)
}

// DeleteLocation removes one aged-out or dropped bin.
func (c *Coordinator) DeleteLocation(db, ns, metric string, bin int64) error {
	return c.store.DeleteLocation(db, ns, metric, bin)
}

// DropMetric removes every location and the metric info of a metric.
// Idempotent.
func (c *Coordinator) DropMetric(db, ns, metric string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.DeleteLocations(db, ns, metric); err != nil {
		return err
	}
	if err := c.store.DeleteMetricInfo(db, ns, metric); err != nil {
		return err
	}
	c.mediator.Publish(cluster.Event{
		Type:      cluster.EventMetricDropped,
		Db:        db,
		Namespace: ns,
		Metric:    metric,
	})
	return nil
}

// ExpiredLocations lists bins aged out of their retention window.
func (c *Coordinator) ExpiredLocations(nowMillis int64) ([]Expired, error) {
	return c.store.ExpiredLocations(nowMillis)
}

// Apply folds a metadata event received from a peer into the local store.
// Location creates use the same min-node-id upsert as local creates, so the
// replicas converge regardless of arrival order.
func (c *Coordinator) Apply(ev cluster.Event) error {
	switch ev.Type {
	case cluster.EventLocationCreated:
		if ev.Location == nil {
			return nil
		}
		return c.store.PutLocation(ev.Db, ev.Namespace, *ev.Location)
	case cluster.EventMetricInfoPut:
		if ev.Info == nil {
			return nil
		}
		return c.store.PutMetricInfo(ev.Db, ev.Namespace, *ev.Info)
	case cluster.EventMetricDropped:
		if err := c.store.DeleteLocations(ev.Db, ev.Namespace, ev.Metric); err != nil {
			return err
		}
		return c.store.DeleteMetricInfo(ev.Db, ev.Namespace, ev.Metric)
	default:
		return nil
	}
}
