package guardian

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/robbenti/nsdb/internal/cluster"
	"github.com/robbenti/nsdb/internal/commitlog"
	"github.com/robbenti/nsdb/internal/config"
	"github.com/robbenti/nsdb/internal/coordinator"
	"github.com/robbenti/nsdb/internal/logger"
	"github.com/robbenti/nsdb/internal/metadata"
	"github.com/robbenti/nsdb/internal/schema"
)

// Guardian owns the per-node engine: one write coordinator, one read
// coordinator, one metadata coordinator, the shard directory, and one schema
// registry per (db, namespace). It lifecycles them, republishes metadata
// events, and runs the retention sweeps.
type Guardian struct {
	cfg      *config.Config
	view     cluster.View
	mediator *cluster.Mediator
	logger   zerolog.Logger

	metaStore *metadata.Store
	Metadata  *metadata.Coordinator
	Shards    *coordinator.ShardDirectory
	Write     *coordinator.WriteCoordinator
	Read      *coordinator.ReadCoordinator

	commitLog *commitlog.Log
	sweeper   *cron.Cron

	mu         sync.Mutex
	namespaces map[string]*namespaceState

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type namespaceState struct {
	store    *schema.Store
	registry *schema.Registry
}

// New wires the engine. The remote client carries subqueries and forwarded
// writes to peer nodes; it may be swapped in tests.
func New(cfg *config.Config, view cluster.View, remote coordinator.RemoteClient) (*Guardian, error) {
	log := logger.Get("guardian")
	base := cfg.Index.BasePath

	if err := os.MkdirAll(filepath.Join(base, "metadata"), 0700); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}

	mediator := cluster.NewMediator(log)
	metaStore, err := metadata.OpenStore(filepath.Join(base, "metadata", "meta.db"), log)
	if err != nil {
		return nil, err
	}
	md := metadata.NewCoordinator(metaStore, view, mediator, cfg.Sharding.Interval, log)

	g := &Guardian{
		cfg:        cfg,
		view:       view,
		mediator:   mediator,
		logger:     log,
		metaStore:  metaStore,
		Metadata:   md,
		Shards:     coordinator.NewShardDirectory(filepath.Join(base, "shards"), log),
		namespaces: map[string]*namespaceState{},
		stop:       make(chan struct{}),
	}

	if cfg.CommitLog.Enabled {
		g.commitLog, err = commitlog.Open(commitlog.Config{
			Dir:          cfg.CommitLog.Directory,
			MaxSizeBytes: int64(cfg.CommitLog.MaxSizeMB) * 1024 * 1024,
			MaxAge:       time.Duration(cfg.CommitLog.MaxAgeSeconds) * time.Second,
			Compress:     cfg.CommitLog.Compress,
			Logger:       log,
		})
		if err != nil {
			metaStore.Close()
			return nil, err
		}
	}

	tracker := coordinator.NewTracker(100, log)
	g.Write = coordinator.NewWriteCoordinator(g, md, g.Shards, view, remote, g.commitLog,
		time.Duration(cfg.Coordinator.WriteTimeout)*time.Second, log)
	g.Read = coordinator.NewReadCoordinator(g, md, g.Shards, view, remote,
		time.Duration(cfg.Coordinator.ReadTimeout)*time.Second, cfg.Read.ParallelismUpper, tracker, log)

	g.wg.Add(1)
	go g.republishLoop()

	if cfg.Retention.Enabled {
		g.sweeper = cron.New()
		if _, err := g.sweeper.AddFunc(cfg.Retention.Schedule, g.sweepRetention); err != nil {
			g.Close()
			return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.Retention.Schedule, err)
		}
		g.sweeper.Start()
	}

	return g, nil
}

// Registry returns (lazily opening) the schema registry of a namespace.
// Implements coordinator.RegistryProvider.
func (g *Guardian) Registry(db, ns string) (*schema.Registry, error) {
	key := db + "/" + ns

	g.mu.Lock()
	defer g.mu.Unlock()

	if st, ok := g.namespaces[key]; ok {
		return st.registry, nil
	}

	path := filepath.Join(g.cfg.Index.BasePath, "schema", db, ns)
	store, err := schema.OpenStore(path, g.logger)
	if err != nil {
		return nil, err
	}
	registry, err := schema.NewRegistry(context.Background(), store, g.logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	g.namespaces[key] = &namespaceState{store: store, registry: registry}
	g.logger.Info().Str("db", db).Str("namespace", ns).Msg("Namespace opened")
	return registry, nil
}

// Mediator exposes the metadata topic, for peers feeding remote events in.
func (g *Guardian) Mediator() *cluster.Mediator { return g.mediator }

// republishLoop folds metadata events back into the local store so caches
// converge regardless of which component produced them.
func (g *Guardian) republishLoop() {
	defer g.wg.Done()
	events := g.mediator.Subscribe()
	for {
		select {
		case ev := <-events:
			if err := g.Metadata.Apply(ev); err != nil {
				g.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to apply metadata event")
			}
		case <-g.stop:
			return
		}
	}
}

// RecoverCommitLog replays the pending commit log segments through the write
// path and removes them. At-least-once: a torn tail may re-apply entries that
// already reached their shard.
func (g *Guardian) RecoverCommitLog(ctx context.Context) error {
	if !g.cfg.CommitLog.Enabled {
		return nil
	}
	reader := commitlog.NewReader(g.cfg.CommitLog.Directory, g.logger)
	return reader.ReplayAll(func(e commitlog.Entry) error {
		return g.Write.Replay(ctx, e)
	})
}

// sweepRetention drops whole shards whose bin has aged out of the metric's
// retention window, with their locations.
func (g *Guardian) sweepRetention() {
	now := time.Now().UnixMilli()
	expired, err := g.Metadata.ExpiredLocations(now)
	if err != nil {
		g.logger.Error().Err(err).Msg("Retention sweep failed")
		return
	}
	for _, e := range expired {
		if e.Location.NodeID != g.view.SelfID() {
			continue
		}
		if err := g.Shards.DropShard(e.Db, e.Namespace, e.Location); err != nil {
			g.logger.Error().Err(err).
				Str("metric", e.Location.Metric).
				Int64("bin", e.Location.Bin).
				Msg("Failed to drop expired shard")
			continue
		}
		if err := g.Metadata.DeleteLocation(e.Db, e.Namespace, e.Location.Metric, e.Location.Bin); err != nil {
			g.logger.Error().Err(err).Msg("Failed to delete expired location")
			continue
		}
		g.logger.Info().
			Str("metric", e.Location.Metric).
			Int64("bin", e.Location.Bin).
			Msg("Expired shard dropped")
	}
}

// Close stops the sweeper and the event loop and closes every owned resource.
// Safe to call more than once.
func (g *Guardian) Close() {
	g.closeOnce.Do(g.close)
}

func (g *Guardian) close() {
	close(g.stop)
	g.wg.Wait()

	if g.sweeper != nil {
		g.sweeper.Stop()
	}
	if g.commitLog != nil {
		if err := g.commitLog.Close(); err != nil {
			g.logger.Warn().Err(err).Msg("Failed to close commit log")
		}
	}
	g.Shards.Close()

	g.mu.Lock()
	for key, st := range g.namespaces {
		if err := st.store.Close(); err != nil {
			g.logger.Warn().Err(err).Str("namespace", key).Msg("Failed to close schema store")
		}
	}
	g.namespaces = map[string]*namespaceState{}
	g.mu.Unlock()

	if err := g.metaStore.Close(); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to close metadata store")
	}
	g.logger.Info().Msg("Guardian stopped")
}
