// Package config implements the worker configuration surface enumerated in
// §6: sharding, durability, persistence, memory limits, partial
// materialization policy, reuse strategy, timeouts, quorum, and eviction
// policy. It is backed by viper so the same struct can be populated from a
// YAML file, environment variables, or flags, with hot-reload for the
// subset of fields safe to change without a migration.
package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Durability selects how base-table state survives a worker restart (§6).
type Durability string

const (
	DurabilityPermanent     Durability = "permanent"
	DurabilityDeleteOnExit  Durability = "delete-on-exit"
	DurabilityMemoryOnly    Durability = "memory-only"
)

// FrontierStrategy selects which nodes are eligible for partial
// materialization (§6).
type FrontierStrategy string

const (
	FrontierNone      FrontierStrategy = "none"
	FrontierReaders   FrontierStrategy = "readers"
	FrontierAllPartial FrontierStrategy = "all-partial"
)

// ReuseStrategy selects the controller's plan-reuse search (§6, §4.7 step 3).
type ReuseStrategy string

const (
	ReuseNone        ReuseStrategy = "none"
	ReuseFinkelstein ReuseStrategy = "finkelstein"
	ReuseFull        ReuseStrategy = "full"
)

// EvictionKind selects the victim-selection policy (§6).
type EvictionKind string

const (
	EvictionRandom EvictionKind = "random"
	EvictionLRU    EvictionKind = "lru"
)

// Sharding is the graph-wide sharding policy (§6): either disabled or a
// fixed shard count applied wherever a node declares itself sharded.
type Sharding struct {
	Fixed int `mapstructure:"fixed" yaml:"fixed"`
}

// Config is the full worker configuration surface (§6), decoded by viper
// from YAML (struct tags doubled as mapstructure tags since viper's default
// decoder uses mapstructure, but the on-disk format is YAML per
// gopkg.in/yaml.v3 struct tags on Recipe-adjacent types).
type Config struct {
	Sharding   Sharding   `mapstructure:"sharding" yaml:"sharding"`
	Durability Durability `mapstructure:"durability" yaml:"durability"`

	PersistenceThreads int    `mapstructure:"persistence_threads" yaml:"persistence_threads"`
	PersistenceDSN     string `mapstructure:"persistence_dsn" yaml:"persistence_dsn"`

	MemoryLimitBytes    int64         `mapstructure:"memory_limit_bytes" yaml:"memory_limit_bytes"`
	MemoryCheckInterval time.Duration `mapstructure:"memory_check_interval" yaml:"memory_check_interval"`

	PartialEnabled          bool             `mapstructure:"partial_enabled" yaml:"partial_enabled"`
	AllowFullMaterialization bool            `mapstructure:"allow_full_materialization" yaml:"allow_full_materialization"`
	FrontierStrategy        FrontierStrategy `mapstructure:"frontier_strategy" yaml:"frontier_strategy"`

	Reuse ReuseStrategy `mapstructure:"reuse" yaml:"reuse"`

	UpqueryTimeout      time.Duration `mapstructure:"upquery_timeout" yaml:"upquery_timeout"`
	ViewRequestTimeout  time.Duration `mapstructure:"view_request_timeout" yaml:"view_request_timeout"`
	TableRequestTimeout time.Duration `mapstructure:"table_request_timeout" yaml:"table_request_timeout"`

	Quorum int `mapstructure:"quorum" yaml:"quorum"`

	EvictionKind EvictionKind `mapstructure:"eviction_kind" yaml:"eviction_kind"`

	ReplicationURL      string `mapstructure:"replication_url" yaml:"replication_url"`
	ReplicationStrategy string `mapstructure:"replication_strategy" yaml:"replication_strategy"`
}

// PersistenceBackend maps durability to the internal/persist backend name
// it selects (§6: "durability config selects MySQL vs. Dolt at worker
// start"): permanent durability wants Dolt's embedded versioned store,
// delete-on-exit wants the lighter-weight MySQL-compatible backend, and
// memory-only opens no backend at all.
func (c Config) PersistenceBackend() string {
	switch c.Durability {
	case DurabilityPermanent:
		return "dolt"
	case DurabilityDeleteOnExit:
		return "mysql"
	default:
		return ""
	}
}

// Default returns the configuration a fresh worker starts with absent any
// file/env/flag overrides.
func Default() Config {
	return Config{
		Sharding:                Sharding{Fixed: 0},
		Durability:              DurabilityMemoryOnly,
		PersistenceThreads:      2,
		MemoryCheckInterval:     5 * time.Second,
		PartialEnabled:          true,
		AllowFullMaterialization: true,
		FrontierStrategy:        FrontierReaders,
		Reuse:                   ReuseFull,
		UpqueryTimeout:          5 * time.Second,
		ViewRequestTimeout:      5 * time.Second,
		TableRequestTimeout:     5 * time.Second,
		Quorum:                  1,
		EvictionKind:            EvictionLRU,
	}
}

// Loader wraps a *viper.Viper bound to a config file and environment
// prefix, with change notification for hot-reloadable fields.
type Loader struct {
	v *viper.Viper
}

// NewLoader constructs a Loader reading path (a YAML file) with FLUXCACHE_
// as the environment variable prefix (FLUXCACHE_MEMORY_LIMIT_BYTES, etc.).
func NewLoader(path string) (*Loader, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("fluxcache")
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("sharding.fixed", def.Sharding.Fixed)
	v.SetDefault("durability", string(def.Durability))
	v.SetDefault("persistence_threads", def.PersistenceThreads)
	v.SetDefault("persistence_dsn", def.PersistenceDSN)
	v.SetDefault("memory_check_interval", def.MemoryCheckInterval)
	v.SetDefault("partial_enabled", def.PartialEnabled)
	v.SetDefault("allow_full_materialization", def.AllowFullMaterialization)
	v.SetDefault("frontier_strategy", string(def.FrontierStrategy))
	v.SetDefault("reuse", string(def.Reuse))
	v.SetDefault("upquery_timeout", def.UpqueryTimeout)
	v.SetDefault("view_request_timeout", def.ViewRequestTimeout)
	v.SetDefault("table_request_timeout", def.TableRequestTimeout)
	v.SetDefault("quorum", def.Quorum)
	v.SetDefault("eviction_kind", string(def.EvictionKind))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}
	return &Loader{v: v}, nil
}

// Load decodes the current configuration.
func (l *Loader) Load() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// hotReloadable lists the fields safe to change without a migration (§6's
// timeouts, memory limits, eviction policy); Watch only invokes onChange
// after a file write, leaving callers to decide per-field whether to apply
// it — fields outside this list (sharding, durability, reuse) require a
// worker restart or a migration and are intentionally not auto-applied.
var hotReloadable = []string{
	"memory_limit_bytes",
	"memory_check_interval",
	"eviction_kind",
	"upquery_timeout",
	"view_request_timeout",
	"table_request_timeout",
}

// Watch starts an fsnotify watch on the config file (via viper's
// WatchConfig, which is itself fsnotify-backed — the same transitive
// dependency the teacher's own go.mod carries for viper) and invokes
// onChange with the freshly decoded Config after each write.
func (l *Loader) Watch(onChange func(Config)) error {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.Load()
		if err != nil {
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
	return nil
}

// HotReloadableFields exposes hotReloadable for admin/status reporting.
func HotReloadableFields() []string {
	out := make([]string, len(hotReloadable))
	copy(out, hotReloadable)
	return out
}
