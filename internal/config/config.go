// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	DB       DBConfig       `mapstructure:"db"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig selects and configures the active storage adapter.
// Driver is one of: postgres, sqlite, snapshot, memory.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Path     string `mapstructure:"path"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SnapshotConfig configures the static snapshot artifacts: where they live
// and how the builder partitions records.
type SnapshotConfig struct {
	ChunkSize int    `mapstructure:"chunk_size"`
	Prefix    string `mapstructure:"prefix"`
}

// StorageConfig selects the blob backend used for snapshot artifacts and
// cached media. Backend is one of: local, gcs, memory.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// IngestConfig governs the batch ingestion orchestrator.
type IngestConfig struct {
	Categories     []string `mapstructure:"categories"`
	DelaySeconds   int      `mapstructure:"delay_seconds"`
	SourceBaseURL  string   `mapstructure:"source_base_url"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	UserAgent      string   `mapstructure:"user_agent"`
	CacheMedia     bool     `mapstructure:"cache_media"`
	MediaPrefix    string   `mapstructure:"media_prefix"`
}

// PubSubConfig holds metadata for optional batch-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DIRECTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("snapshot.chunk_size", 50)
	v.SetDefault("snapshot.prefix", "snapshot")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("ingest.delay_seconds", 2)
	v.SetDefault("ingest.timeout_seconds", 15)
	v.SetDefault("ingest.user_agent", "localpages-directory/1.0")
	v.SetDefault("ingest.cache_media", false)
	v.SetDefault("ingest.media_prefix", "media")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.DB.Driver {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
	case "sqlite":
		if c.DB.Path == "" {
			return fmt.Errorf("db.path is required for the sqlite driver")
		}
	case "snapshot", "memory":
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Snapshot.ChunkSize <= 0 {
		return fmt.Errorf("snapshot.chunk_size must be > 0")
	}
	if c.Ingest.DelaySeconds < 0 {
		return fmt.Errorf("ingest.delay_seconds must be >= 0")
	}
	if c.Ingest.TimeoutSeconds <= 0 {
		return fmt.Errorf("ingest.timeout_seconds must be > 0")
	}
	return nil
}

// IngestDelay converts the configured courtesy pause into a duration.
func (c Config) IngestDelay() time.Duration {
	return time.Duration(c.Ingest.DelaySeconds) * time.Second
}

// SourceTimeout converts the per-call fetch timeout into a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Ingest.TimeoutSeconds) * time.Second
}
