package metadata

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbenti/nsdb/internal/cluster"
	"github.com/robbenti/nsdb/internal/model"
)

func TestPlaceDeterministic(t *testing.T) {
	nodes := []string{"node-0", "node-1", "node-2"}

	first := Place("people", 7, nodes)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Place("people", 7, nodes))
	}
	assert.Contains(t, nodes, first)
	assert.Equal(t, "", Place("people", 7, nil))
}

func TestPlaceSpreads(t *testing.T) {
	nodes := []string{"node-0", "node-1", "node-2"}
	owners := map[string]bool{}
	for bin := int64(0); bin < 100; bin++ {
		owners[Place("cpu", bin, nodes)] = true
	}
	assert.Greater(t, len(owners), 1)
}

func newTestCoordinator(t *testing.T, interval int64) (*Coordinator, *Store) {
	t.Helper()
	store, err := OpenStore(t.TempDir()+"/meta.db", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	view, err := cluster.NewStaticView("node-0", nil)
	require.NoError(t, err)
	mediator := cluster.NewMediator(zerolog.Nop())
	return NewCoordinator(store, view, mediator, interval, zerolog.Nop()), store
}

func TestLocateCreatesBin(t *testing.T) {
	c, _ := newTestCoordinator(t, 10)

	loc, err := c.Locate("db", "ns", "people", 25)
	require.NoError(t, err)
	assert.Equal(t, int64(2), loc.Bin)
	assert.Equal(t, int64(20), loc.LowerTS)
	assert.Equal(t, int64(30), loc.UpperTS)
	assert.Equal(t, "node-0", loc.NodeID)

	// locate is a pure function of (metric, bin)
	again, err := c.Locate("db", "ns", "people", 29)
	require.NoError(t, err)
	assert.Equal(t, loc, again)
}

func TestLocateBoundaryBelongsToUpperBin(t *testing.T) {
	c, _ := newTestCoordinator(t, 10)

	lower, err := c.Locate("db", "ns", "people", 19)
	require.NoError(t, err)
	upper, err := c.Locate("db", "ns", "people", 20)
	require.NoError(t, err)

	assert.Equal(t, int64(1), lower.Bin)
	assert.Equal(t, int64(2), upper.Bin)
}

func TestMetricInfoFreezesInterval(t *testing.T) {
	c, _ := newTestCoordinator(t, 10)

	require.NoError(t, c.PutMetricInfo("db", "ns", model.MetricInfo{Metric: "people", ShardInterval: 100}))
	interval, err := c.ShardInterval("db", "ns", "people")
	require.NoError(t, err)
	assert.Equal(t, int64(100), interval)

	// append-only: a second put does not change the interval
	require.NoError(t, c.PutMetricInfo("db", "ns", model.MetricInfo{Metric: "people", ShardInterval: 500}))
	interval, err = c.ShardInterval("db", "ns", "people")
	require.NoError(t, err)
	assert.Equal(t, int64(100), interval)

	assert.Error(t, c.PutMetricInfo("db", "ns", model.MetricInfo{Metric: "x", ShardInterval: 0}))
}

func TestLocationsOverlapping(t *testing.T) {
	c, _ := newTestCoordinator(t, 10)

	for _, ts := range []int64{5, 15, 25, 45} {
		_, err := c.Locate("db", "ns", "people", ts)
		require.NoError(t, err)
	}

	locs, err := c.LocationsOverlapping("db", "ns", "people", 10, 29)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, int64(1), locs[0].Bin)
	assert.Equal(t, int64(2), locs[1].Bin)

	// partition cover: bins are pairwise non-overlapping
	all, err := c.LocationsFor("db", "ns", "people")
	require.NoError(t, err)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].UpperTS, all[i].LowerTS)
	}

	// reverse range yields nothing
	empty, err := c.LocationsOverlapping("db", "ns", "people", 29, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLocationConflictResolvesToMinNode(t *testing.T) {
	_, store := newTestCoordinator(t, 10)

	loc := model.Location{Metric: "people", Bin: 1, NodeID: "node-5", LowerTS: 10, UpperTS: 20}
	require.NoError(t, store.PutLocation("db", "ns", loc))

	loc.NodeID = "node-2"
	require.NoError(t, store.PutLocation("db", "ns", loc))

	got, ok, err := store.GetLocation("db", "ns", "people", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "node-2", got.NodeID)

	// a larger id never displaces the winner
	loc.NodeID = "node-9"
	require.NoError(t, store.PutLocation("db", "ns", loc))
	got, _, err = store.GetLocation("db", "ns", "people", 1)
	require.NoError(t, err)
	assert.Equal(t, "node-2", got.NodeID)
}

func TestDropMetricRemovesMetadata(t *testing.T) {
	c, _ := newTestCoordinator(t, 10)

	require.NoError(t, c.PutMetricInfo("db", "ns", model.MetricInfo{Metric: "people", ShardInterval: 10}))
	_, err := c.Locate("db", "ns", "people", 5)
	require.NoError(t, err)

	require.NoError(t, c.DropMetric("db", "ns", "people"))
	locs, err := c.LocationsFor("db", "ns", "people")
	require.NoError(t, err)
	assert.Empty(t, locs)
	_, ok, err := c.GetMetricInfo("db", "ns", "people")
	require.NoError(t, err)
	assert.False(t, ok)

	// idempotent
	require.NoError(t, c.DropMetric("db", "ns", "people"))
}

func TestExpiredLocations(t *testing.T) {
	c, _ := newTestCoordinator(t, 10)

	now := time.Now().UnixMilli()
	require.NoError(t, c.PutMetricInfo("db", "ns", model.MetricInfo{Metric: "people", ShardInterval: 10, Retention: 1000}))

	_, err := c.Locate("db", "ns", "people", now-5000) // aged out
	require.NoError(t, err)
	_, err = c.Locate("db", "ns", "people", now) // current
	require.NoError(t, err)

	expired, err := c.ExpiredLocations(now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "people", expired[0].Location.Metric)
	assert.Less(t, expired[0].Location.UpperTS, now-1000)
}

func TestApplyRemoteEvents(t *testing.T) {
	c, _ := newTestCoordinator(t, 10)

	loc := model.Location{Metric: "people", Bin: 3, NodeID: "node-7", LowerTS: 30, UpperTS: 40}
	require.NoError(t, c.Apply(cluster.Event{
		Type: cluster.EventLocationCreated, Db: "db", Namespace: "ns", Metric: "people", Location: &loc,
	}))

	got, ok, err := c.Location("db", "ns", "people", 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "node-7", got.NodeID)

	info := model.MetricInfo{Metric: "people", ShardInterval: 10}
	require.NoError(t, c.Apply(cluster.Event{
		Type: cluster.EventMetricInfoPut, Db: "db", Namespace: "ns", Metric: "people", Info: &info,
	}))
	interval, err := c.ShardInterval("db", "ns", "people")
	require.NoError(t, err)
	assert.Equal(t, int64(10), interval)
}
