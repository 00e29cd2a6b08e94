package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data/nsdb", cfg.Index.BasePath)
	assert.Equal(t, int64(30*24*3600*1000), cfg.Sharding.Interval)
	assert.Equal(t, 10, cfg.Coordinator.WriteTimeout)
	assert.Equal(t, 10, cfg.Coordinator.ReadTimeout)
	assert.Equal(t, 5, cfg.Coordinator.MetadataTimeout)
	assert.False(t, cfg.CommitLog.Enabled)
	assert.Equal(t, 100, cfg.CommitLog.MaxSizeMB)
	assert.Equal(t, 4, cfg.Read.ParallelismInitial)
	assert.Equal(t, 1, cfg.Read.ParallelismLower)
	assert.Equal(t, 16, cfg.Read.ParallelismUpper)
	assert.Equal(t, "node-0", cfg.Cluster.NodeID)
	assert.Equal(t, 7817, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Log.Components)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NSDB_SHARDING_INTERVAL", "60000")
	t.Setenv("NSDB_CLUSTER_NODE_ID", "node-7")
	t.Setenv("NSDB_COMMIT_LOG_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(60000), cfg.Sharding.Interval)
	assert.Equal(t, "node-7", cfg.Cluster.NodeID)
	assert.True(t, cfg.CommitLog.Enabled)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("NSDB_SHARDING_INTERVAL", "-5")
	_, err := Load()
	assert.Error(t, err)
}
