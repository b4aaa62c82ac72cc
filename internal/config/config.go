// Package config collects PBRB's process-level tuning knobs into one
// struct loadable from the environment via viper, for a hosting
// process that wants to retune GC/occupancy without recompiling. The
// engine constructor itself still takes explicit typed parameters, the
// way the teacher's NewBufMgr does - Config only supplies their defaults.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config mirrors the process-level defaults quoted for PBRB's external
// interface: pool sizing, GC watermarks/interval, and the async knobs.
type Config struct {
	MaxPages       uint32        `mapstructure:"max_pages"`
	MaxPageSearch  uint32        `mapstructure:"max_page_search"`
	RetentionWindow time.Duration `mapstructure:"retention_window"`

	TargetOccupancyRatio  float64 `mapstructure:"target_occupancy_ratio"`
	StartGCOccupancyRatio float64 `mapstructure:"start_gc_occupancy_ratio"`
	GCInterval            time.Duration `mapstructure:"gc_interval"`

	AsyncQueueCapacity int `mapstructure:"async_queue_capacity"`
	AsyncDrainWorkers  int `mapstructure:"async_drain_workers"`

	AsyncWriteEnabled bool `mapstructure:"async_write_enabled"`
	AsyncGCEnabled    bool `mapstructure:"async_gc_enabled"`

	StatsInterval uint64 `mapstructure:"stats_interval"`
}

// DefaultConfig returns the defaults quoted for PBRB's external interface:
// a 100ms GC interval, 70%/75% target/start occupancy, and a 200,000
// access stats window.
func DefaultConfig() Config {
	return Config{
		MaxPages:              4096,
		MaxPageSearch:         8,
		RetentionWindow:       time.Second,
		TargetOccupancyRatio:  0.70,
		StartGCOccupancyRatio: 0.75,
		GCInterval:            100 * time.Millisecond,
		AsyncQueueCapacity:    1024,
		AsyncDrainWorkers:     1,
		AsyncWriteEnabled:     true,
		AsyncGCEnabled:        true,
		StatsInterval:         200_000,
	}
}

// Load reads Config from the environment using the PBRB_ prefix
// (PBRB_MAX_PAGES, PBRB_GC_INTERVAL, ...), falling back to DefaultConfig
// for anything unset.
func Load() (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("pbrb")
	v.AutomaticEnv()
	v.SetDefault("max_pages", cfg.MaxPages)
	v.SetDefault("max_page_search", cfg.MaxPageSearch)
	v.SetDefault("retention_window", cfg.RetentionWindow)
	v.SetDefault("target_occupancy_ratio", cfg.TargetOccupancyRatio)
	v.SetDefault("start_gc_occupancy_ratio", cfg.StartGCOccupancyRatio)
	v.SetDefault("gc_interval", cfg.GCInterval)
	v.SetDefault("async_queue_capacity", cfg.AsyncQueueCapacity)
	v.SetDefault("async_drain_workers", cfg.AsyncDrainWorkers)
	v.SetDefault("async_write_enabled", cfg.AsyncWriteEnabled)
	v.SetDefault("async_gc_enabled", cfg.AsyncGCEnabled)
	v.SetDefault("stats_interval", cfg.StatsInterval)

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
