package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for an NSDb node
type Config struct {
	Server      ServerConfig
	Index       IndexConfig
	Sharding    ShardingConfig
	Coordinator CoordinatorConfig
	CommitLog   CommitLogConfig
	Read        ReadConfig
	Retention   RetentionConfig
	Cluster     ClusterConfig
	Log         LogConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

type IndexConfig struct {
	BasePath string // Filesystem root for schema, metadata and shard indices
}

type ShardingConfig struct {
	Interval int64 // Default shard bin width in milliseconds when a metric is not initialised
}

type CoordinatorConfig struct {
	WriteTimeout    int // Write coordinator ask timeout in seconds
	ReadTimeout     int // Read coordinator statement deadline in seconds
	MetadataTimeout int // Read from config; no component uses it
}

type CommitLogConfig struct {
	Enabled       bool
	Directory     string
	MaxSizeMB     int  // Rotate the log when it reaches this size
	MaxAgeSeconds int  // Rotate the log after this many seconds
	Compress      bool // zstd-compress rotated segments
}

type ReadConfig struct {
	ParallelismInitial int // Read from config; the fan-out pool is sized by ParallelismUpper
	ParallelismLower   int
	ParallelismUpper   int
}

type RetentionConfig struct {
	Enabled  bool
	Schedule string // Cron schedule for retention sweeps
}

type ClusterConfig struct {
	NodeID string
	Nodes  []string // Static view entries, "id=host:port"
}

type LogConfig struct {
	Level      string
	Format     string
	Components []string // Per-component level overrides, "component=level"
}

// Load loads configuration from environment and config file
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("NSDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("nsdb")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/nsdb/")
	v.AddConfigPath("$HOME/.nsdb/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetInt("server.read-timeout"),
			WriteTimeout: v.GetInt("server.write-timeout"),
		},
		Index: IndexConfig{
			BasePath: v.GetString("index.base-path"),
		},
		Sharding: ShardingConfig{
			Interval: v.GetInt64("sharding.interval"),
		},
		Coordinator: CoordinatorConfig{
			WriteTimeout:    v.GetInt("write-coordinator.timeout"),
			ReadTimeout:     v.GetInt("read-coordinator.timeout"),
			MetadataTimeout: v.GetInt("metadata-coordinator.timeout"),
		},
		CommitLog: CommitLogConfig{
			Enabled:       v.GetBool("commit-log.enabled"),
			Directory:     v.GetString("commit-log.directory"),
			MaxSizeMB:     v.GetInt("commit-log.max-size-mb"),
			MaxAgeSeconds: v.GetInt("commit-log.max-age-seconds"),
			Compress:      v.GetBool("commit-log.compress"),
		},
		Read: ReadConfig{
			ParallelismInitial: v.GetInt("read.parallelism.initial"),
			ParallelismLower:   v.GetInt("read.parallelism.lower"),
			ParallelismUpper:   v.GetInt("read.parallelism.upper"),
		},
		Retention: RetentionConfig{
			Enabled:  v.GetBool("retention.enabled"),
			Schedule: v.GetString("retention.schedule"),
		},
		Cluster: ClusterConfig{
			NodeID: v.GetString("cluster.node-id"),
			Nodes:  v.GetStringSlice("cluster.nodes"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Components: v.GetStringSlice("log.components"),
		},
	}

	if cfg.Sharding.Interval <= 0 {
		return nil, fmt.Errorf("sharding.interval must be positive, got %d", cfg.Sharding.Interval)
	}
	if cfg.Read.ParallelismLower > cfg.Read.ParallelismUpper {
		return nil, fmt.Errorf("read.parallelism.lower (%d) exceeds read.parallelism.upper (%d)",
			cfg.Read.ParallelismLower, cfg.Read.ParallelismUpper)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7817)
	v.SetDefault("server.read-timeout", 30)
	v.SetDefault("server.write-timeout", 30)

	// Index defaults
	v.SetDefault("index.base-path", "./data/nsdb")

	// Sharding defaults - 30 days in milliseconds
	v.SetDefault("sharding.interval", int64(30*24*3600*1000))

	// Coordinator ask timeouts (seconds)
	v.SetDefault("write-coordinator.timeout", 10)
	v.SetDefault("read-coordinator.timeout", 10)
	v.SetDefault("metadata-coordinator.timeout", 5)

	// Commit log defaults
	v.SetDefault("commit-log.enabled", false)
	v.SetDefault("commit-log.directory", "./data/nsdb/commitlog")
	v.SetDefault("commit-log.max-size-mb", 100)
	v.SetDefault("commit-log.max-age-seconds", 3600)
	v.SetDefault("commit-log.compress", true)

	// Shard fan-out pool bounds
	v.SetDefault("read.parallelism.initial", 4)
	v.SetDefault("read.parallelism.lower", 1)
	v.SetDefault("read.parallelism.upper", 16)

	// Retention defaults
	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.schedule", "0 3 * * *")

	// Cluster defaults - single node
	v.SetDefault("cluster.node-id", "node-0")
	v.SetDefault("cluster.nodes", []string{})

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.components", []string{})
}
