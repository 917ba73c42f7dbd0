package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load builds a Config from an optional YAML file and CHRONO_* environment
// variables. Defaults apply for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHRONO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML, for `config init` style helpers.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("db.table", d.DB.Table)
	v.SetDefault("db.max_conns", d.DB.MaxConns)
	v.SetDefault("db.connect_timeout", d.DB.ConnectTimeout)

	v.SetDefault("store.root", d.Store.Root)
	v.SetDefault("store.compression", d.Store.Compression)
	v.SetDefault("store.row_group_size", d.Store.RowGroupSize)

	v.SetDefault("backfill.page_size", d.Backfill.PageSize)

	v.SetDefault("sync.stream", d.Sync.Stream)
	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.page_size", d.Sync.PageSize)
	v.SetDefault("sync.lease_ttl", d.Sync.LeaseTTL)
	v.SetDefault("sync.retry_attempts", d.Sync.RetryAttempts)
	v.SetDefault("sync.retry_delay", d.Sync.RetryDelay)

	v.SetDefault("events.flush_threshold", d.Events.FlushThreshold)
	v.SetDefault("events.flush_interval", d.Events.FlushInterval)
	v.SetDefault("events.sample_interval", d.Events.SampleInterval)

	v.SetDefault("compaction.interval", d.Compaction.Interval)
	v.SetDefault("compaction.max_files_per_partition", d.Compaction.MaxFilesPerPartition)
	v.SetDefault("compaction.small_file_bytes", d.Compaction.SmallFileBytes)
	v.SetDefault("compaction.retention_age", d.Compaction.RetentionAge)

	v.SetDefault("query.timeout", d.Query.Timeout)
	v.SetDefault("query.max_rows", d.Query.MaxRows)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.encoding", d.Logging.Encoding)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}
