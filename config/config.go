// Package config loads the node's TOML configuration file: database and
// broker connection strings, storage/IPFS endpoints, per-type concurrency
// overrides, and retry/scheduler tunables.
package config

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/pendingmsg"
	"github.com/aleph-im/go-ccn/scheduler"
)

// Config is the root of the TOML document a CCN process is started with.
type Config struct {
	DataDir string `toml:"datadir"`

	Store StoreConfig `toml:"store"`

	Broker BrokerConfig `toml:"broker"`

	Storage StorageConfig `toml:"storage"`

	SchedulerCfg SchedulerConfig `toml:"scheduler"`

	ProcessingCfg ProcessingConfig `toml:"processing"`

	MetricsAddr string `toml:"metrics_addr"`

	APIAddr string `toml:"api_addr"`
}

// StoreConfig names the relational database driver and DSN.
type StoreConfig struct {
	Driver string `toml:"driver"` // "postgres" or "sqlite3"
	DSN    string `toml:"dsn"`
}

// BrokerConfig names the AMQP broker to dial.
type BrokerConfig struct {
	URL string `toml:"url"`
}

// StorageConfig configures the content-addressed fetch path.
type StorageConfig struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	IPFSGateway   string `toml:"ipfs_gateway"`
	PinEnabled    bool   `toml:"pin_enabled"`
}

// SchedulerConfig overrides scheduler.DefaultConfig's tunables; zero
// fields fall back to the default.
type SchedulerConfig struct {
	BaseBackoffSeconds int `toml:"base_backoff_seconds"`
	MaxBackoffSeconds  int `toml:"max_backoff_seconds"`
	MaxRetries         int `toml:"max_retries"`
	SeenIDsWindow      int `toml:"seen_ids_window"`
	HighWaterMark      int `toml:"high_water_mark"`
	ScanIntervalSeconds int `toml:"scan_interval_seconds"`
}

// ProcessingConfig bounds per-type concurrency in the Pending-Message
// Processor.
type ProcessingConfig struct {
	DefaultLimit int64            `toml:"default_limit"`
	Limits       map[string]int   `toml:"limits"` // keyed by MessageType string
}

// Load decodes the TOML file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Scheduler builds a scheduler.Config, applying overrides onto the default.
func (c *Config) Scheduler() scheduler.Config {
	sc := scheduler.DefaultConfig()
	if c.SchedulerCfg.BaseBackoffSeconds > 0 {
		sc.BaseBackoff = time.Duration(c.SchedulerCfg.BaseBackoffSeconds) * time.Second
	}
	if c.SchedulerCfg.MaxBackoffSeconds > 0 {
		sc.MaxBackoff = time.Duration(c.SchedulerCfg.MaxBackoffSeconds) * time.Second
	}
	if c.SchedulerCfg.MaxRetries > 0 {
		sc.MaxRetries = c.SchedulerCfg.MaxRetries
	}
	if c.SchedulerCfg.SeenIDsWindow > 0 {
		sc.SeenIDsWindow = c.SchedulerCfg.SeenIDsWindow
	}
	if c.SchedulerCfg.HighWaterMark > 0 {
		sc.HighWaterMark = c.SchedulerCfg.HighWaterMark
	}
	if c.SchedulerCfg.ScanIntervalSeconds > 0 {
		sc.ScanInterval = time.Duration(c.SchedulerCfg.ScanIntervalSeconds) * time.Second
	}
	return sc
}

// Processing builds a pendingmsg.Config from the TOML overrides.
func (c *Config) Processing() pendingmsg.Config {
	limits := make(map[model.MessageType]int, len(c.ProcessingCfg.Limits))
	for k, v := range c.ProcessingCfg.Limits {
		limits[model.MessageType(k)] = v
	}
	return pendingmsg.Config{Limits: limits, DefaultLimit: c.ProcessingCfg.DefaultLimit}
}
