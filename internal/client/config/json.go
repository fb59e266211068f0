package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/peerassess/fieldsync/internal/flagx"
	"github.com/peerassess/fieldsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so intervals can be strings like "30s" or integer
// nanoseconds. Parsed values are copied into the runtime Config.
type JsonConfig struct {
	ServerEndpointAddr  *string         `json:"server_endpoint_addr"`
	NotifyURL           *string         `json:"notify_url"`
	DatabasePath        *string         `json:"database_path"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval"`
	SyncInterval        *timex.Duration `json:"sync_interval"`
	RequestTimeout      *timex.Duration `json:"request_timeout"`
	StaleTime           *timex.Duration `json:"stale_time"`
	MaxSyncAttempts     *int            `json:"max_sync_attempts"`
	SyncBackoffBase     *timex.Duration `json:"sync_backoff_base"`
	SyncBackoffCap      *timex.Duration `json:"sync_backoff_cap"`
}

// parseJson overlays cfg with values from the JSON file named by -c/-config.
// Fields absent from the file keep their current values. Panics on read or
// unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != nil {
		cfg.ServerEndpointAddr = *jc.ServerEndpointAddr
	}
	if jc.NotifyURL != nil {
		cfg.NotifyURL = *jc.NotifyURL
	}
	if jc.DatabasePath != nil {
		cfg.DatabasePath = *jc.DatabasePath
	}
	if jc.OnlineCheckInterval != nil {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
	if jc.SyncInterval != nil {
		cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	}
	if jc.RequestTimeout != nil {
		cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
	}
	if jc.StaleTime != nil {
		cfg.StaleTime = time.Duration(jc.StaleTime.Duration)
	}
	if jc.MaxSyncAttempts != nil {
		cfg.MaxSyncAttempts = *jc.MaxSyncAttempts
	}
	if jc.SyncBackoffBase != nil {
		cfg.SyncBackoffBase = time.Duration(jc.SyncBackoffBase.Duration)
	}
	if jc.SyncBackoffCap != nil {
		cfg.SyncBackoffCap = time.Duration(jc.SyncBackoffCap.Duration)
	}
}
