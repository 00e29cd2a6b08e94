package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/robbenti/nsdb/internal/index"
	"github.com/robbenti/nsdb/internal/model"
)

// ShardDirectory owns the shard index instances of this node: one per
// Location, opened on demand, cached, closed on drop or shutdown. The index
// directory of a shard is owned by exactly one ShardIndex object.
type ShardDirectory struct {
	basePath string
	logger   zerolog.Logger

	mu   sync.Mutex
	open map[string]*index.ShardIndex
}

func NewShardDirectory(basePath string, logger zerolog.Logger) *ShardDirectory {
	return &ShardDirectory{
		basePath: basePath,
		logger:   logger.With().Str("component", "shard-directory").Logger(),
		open:     map[string]*index.ShardIndex{},
	}
}

func shardKey(db, ns, metric string, bin int64) string {
	return db + "/" + ns + "/" + metric + "/" + strconv.FormatInt(bin, 10)
}

func (d *ShardDirectory) shardPath(db, ns string, loc model.Location) string {
	return filepath.Join(d.basePath, db, ns, loc.Metric, strconv.FormatInt(loc.Bin, 10))
}

// GetOrOpen returns the cached shard index for a location, opening it if
// needed.
func (d *ShardDirectory) GetOrOpen(db, ns string, loc model.Location) (*index.ShardIndex, error) {
	key := shardKey(db, ns, loc.Metric, loc.Bin)

	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.open[key]; ok {
		return s, nil
	}
	s, err := index.OpenShard(d.shardPath(db, ns, loc), loc, d.logger)
	if err != nil {
		return nil, err
	}
	d.open[key] = s
	return s, nil
}

// DropShard closes one shard and removes its directory. Idempotent.
func (d *ShardDirectory) DropShard(db, ns string, loc model.Location) error {
	key := shardKey(db, ns, loc.Metric, loc.Bin)

	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.open[key]; ok {
		delete(d.open, key)
		return s.Drop()
	}
	return os.RemoveAll(d.shardPath(db, ns, loc))
}

// DropMetric closes and removes every shard of a metric. Idempotent.
func (d *ShardDirectory) DropMetric(db, ns, metric string) error {
	prefix := db + "/" + ns + "/" + metric + "/"

	d.mu.Lock()
	defer d.mu.Unlock()

	for key, s := range d.open {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(d.open, key)
			if err := s.Close(); err != nil {
				d.logger.Warn().Err(err).Str("shard", key).Msg("Failed to close shard on drop")
			}
		}
	}
	if err := os.RemoveAll(filepath.Join(d.basePath, db, ns, metric)); err != nil {
		return fmt.Errorf("failed to remove shards of %s: %w", metric, err)
	}
	return nil
}

// Close closes every open shard.
func (d *ShardDirectory) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, s := range d.open {
		if err := s.Close(); err != nil {
			d.logger.Warn().Err(err).Str("shard", key).Msg("Failed to close shard")
		}
	}
	d.open = map[string]*index.ShardIndex{}
}

// SkippedReconstructions sums the reconstruction skips over the open shards.
func (d *ShardDirectory) SkippedReconstructions() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int64
	for _, s := range d.open {
		n += s.SkippedReconstructions()
	}
	return n
}
