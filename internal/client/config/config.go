// Package config loads runtime configuration for the fieldsync client.
//
// Sources and precedence:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. Command-line flags, which override earlier values.
package config

import "time"

// Config holds runtime settings for the fieldsync client.
type Config struct {
	// ServerEndpointAddr is the base URL of the platform API.
	ServerEndpointAddr string
	// NotifyURL is the websocket endpoint for server-pushed change
	// notifications. Empty disables the listener.
	NotifyURL string
	// DatabasePath is the SQLite file backing the local store.
	DatabasePath string

	// OnlineCheckInterval is how often the client probes reachability.
	OnlineCheckInterval time.Duration
	// SyncInterval is the periodic queue-drain interval.
	SyncInterval time.Duration
	// RequestTimeout bounds a single API round trip.
	RequestTimeout time.Duration
	// StaleTime is the age past which cached data is flagged stale.
	StaleTime time.Duration

	// MaxSyncAttempts is the transient-retry ceiling per queue entry.
	MaxSyncAttempts int
	// SyncBackoffBase doubles per attempt, capped at SyncBackoffCap.
	SyncBackoffBase time.Duration
	SyncBackoffCap  time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.NotifyURL = ""
	c.DatabasePath = "fieldsync.db"
	c.OnlineCheckInterval = 3 * time.Second
	c.SyncInterval = 30 * time.Second
	c.RequestTimeout = 10 * time.Second
	c.StaleTime = 15 * time.Minute
	c.MaxSyncAttempts = 8
	c.SyncBackoffBase = time.Second
	c.SyncBackoffCap = 5 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if a config file was named) and command-line flags. Later
// sources take precedence.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
