// Package config provides the unified configuration for the analytics
// pipeline. A single sectioned Config structure covers every component;
// values are loaded from a YAML file and CHRONO_* environment variables
// via Viper.
package config

import (
	"fmt"
	"time"
)

// Config captures all pipeline configuration knobs.
type Config struct {
	DB         DBConfig         `mapstructure:"db" yaml:"db"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Backfill   BackfillConfig   `mapstructure:"backfill" yaml:"backfill"`
	Sync       SyncConfig       `mapstructure:"sync" yaml:"sync"`
	Events     EventsConfig     `mapstructure:"events" yaml:"events"`
	Compaction CompactionConfig `mapstructure:"compaction" yaml:"compaction"`
	Query      QueryConfig      `mapstructure:"query" yaml:"query"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// DBConfig controls access to the operational store.
type DBConfig struct {
	// DSN is the PostgreSQL connection string
	DSN string `mapstructure:"dsn" yaml:"dsn"`
	// Table is the operational scrape-records table
	Table string `mapstructure:"table" yaml:"table"`
	// MaxConns caps the pgx pool size
	MaxConns int `mapstructure:"max_conns" yaml:"max_conns"`
	// ConnectTimeout bounds connection establishment
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// StoreConfig sets the partitioned store layout and writer targets.
type StoreConfig struct {
	// Root is the partitioned store root directory
	Root string `mapstructure:"root" yaml:"root"`
	// Compression selects the parquet codec (snappy, zstd, gzip, none)
	Compression string `mapstructure:"compression" yaml:"compression"`
	// RowGroupSize is the parquet row group target in rows
	RowGroupSize int `mapstructure:"row_group_size" yaml:"row_group_size"`
}

// BackfillConfig governs the historical migrator.
type BackfillConfig struct {
	// PageSize bounds rows fetched per operational-store page
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
}

// SyncConfig governs the incremental sync engine.
type SyncConfig struct {
	// Stream names the sync stream (watermark + lease scope)
	Stream string `mapstructure:"stream" yaml:"stream"`
	// Interval between sync cycles
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// PageSize bounds rows per operational-store query page
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
	// LeaseTTL is how long a sync lease lives without renewal
	LeaseTTL time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl"`
	// RetryAttempts for transient I/O failures within a cycle
	RetryAttempts int `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	// RetryDelay is the initial backoff delay
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// EventsConfig governs the in-process event buffer.
type EventsConfig struct {
	// FlushThreshold is the buffered-event count that forces a flush
	FlushThreshold int `mapstructure:"flush_threshold" yaml:"flush_threshold"`
	// FlushInterval is the maximum age of buffered events
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	// SampleInterval drives the system metric sampler (0 disables)
	SampleInterval time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`
}

// CompactionConfig governs the partition manager.
type CompactionConfig struct {
	// Interval between compaction scans
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// MaxFilesPerPartition flags partitions with more files as unhealthy
	MaxFilesPerPartition int `mapstructure:"max_files_per_partition" yaml:"max_files_per_partition"`
	// SmallFileBytes flags files below this size as too small
	SmallFileBytes int64 `mapstructure:"small_file_bytes" yaml:"small_file_bytes"`
	// RetentionAge is the age past which partitions may be downsampled
	RetentionAge time.Duration `mapstructure:"retention_age" yaml:"retention_age"`
}

// QueryConfig governs the analytics query service.
type QueryConfig struct {
	// Timeout is the per-query budget
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// MaxRows caps tabular result size
	MaxRows int `mapstructure:"max_rows" yaml:"max_rows"`
}

// LoggingConfig controls zap output.
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// NewDefaultConfig returns a Config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		DB: DBConfig{
			Table:          "scrape_records",
			MaxConns:       10,
			ConnectTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Root:         "analytics-store",
			Compression:  "snappy",
			RowGroupSize: 64 * 1024,
		},
		Backfill: BackfillConfig{
			PageSize: 5000,
		},
		Sync: SyncConfig{
			Stream:        "pages",
			Interval:      5 * time.Minute,
			PageSize:      2000,
			LeaseTTL:      10 * time.Minute,
			RetryAttempts: 3,
			RetryDelay:    time.Second,
		},
		Events: EventsConfig{
			FlushThreshold: 1000,
			FlushInterval:  30 * time.Second,
			SampleInterval: time.Minute,
		},
		Compaction: CompactionConfig{
			Interval:             15 * time.Minute,
			MaxFilesPerPartition: 8,
			SmallFileBytes:       4 * 1024 * 1024,
			RetentionAge:         0, // downsampling is explicit only
		},
		Query: QueryConfig{
			Timeout: 30 * time.Second,
			MaxRows: 100000,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9107",
		},
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Store.Root == "" {
		return fmt.Errorf("store.root is required")
	}
	switch c.Store.Compression {
	case "snappy", "zstd", "gzip", "none":
	default:
		return fmt.Errorf("store.compression must be one of snappy, zstd, gzip, none")
	}
	if c.Store.RowGroupSize <= 0 {
		return fmt.Errorf("store.row_group_size must be positive")
	}
	if c.Backfill.PageSize <= 0 {
		return fmt.Errorf("backfill.page_size must be positive")
	}
	if c.Sync.Stream == "" {
		return fmt.Errorf("sync.stream is required")
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Sync.LeaseTTL <= 0 {
		return fmt.Errorf("sync.lease_ttl must be positive")
	}
	if c.Events.FlushThreshold <= 0 {
		return fmt.Errorf("events.flush_threshold must be positive")
	}
	if c.Events.FlushInterval <= 0 {
		return fmt.Errorf("events.flush_interval must be positive")
	}
	if c.Compaction.Interval <= 0 {
		return fmt.Errorf("compaction.interval must be positive")
	}
	if c.Compaction.MaxFilesPerPartition <= 1 {
		return fmt.Errorf("compaction.max_files_per_partition must be greater than 1")
	}
	if c.Query.Timeout <= 0 {
		return fmt.Errorf("query.timeout must be positive")
	}
	return nil
}
