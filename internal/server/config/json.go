package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/peerassess/fieldsync/internal/flagx"
	"github.com/peerassess/fieldsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling; timex.Duration
// lets intervals be strings like "12h" or integer nanoseconds.
type JsonConfig struct {
	EndpointAddr   *string         `json:"endpoint_addr"`
	DatabaseDSN    *string         `json:"database_dsn"`
	SecretKey      *string         `json:"secret_key"`
	TokenValidity  *timex.Duration `json:"token_validity"`
	LoginRPS       *float64        `json:"login_rps"`
	LoginBurst     *int            `json:"login_burst"`
	S3Region       *string         `json:"s3_region"`
	S3BaseEndpoint *string         `json:"s3_base_endpoint"`
	S3Bucket       *string         `json:"s3_bucket"`
	S3RootUser     *string         `json:"s3_root_user"`
	S3RootPassword *string         `json:"s3_root_password"`
	PresignExpiry  *timex.Duration `json:"presign_expiry"`
}

// parseJson overlays cfg with values from the JSON file named by -c/-config.
// Absent fields keep their current values. Panics on read/unmarshal errors.
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

	if jc.EndpointAddr != nil {
		cfg.EndpointAddr = *jc.EndpointAddr
	}
	if jc.DatabaseDSN != nil {
		cfg.DatabaseDSN = *jc.DatabaseDSN
	}
	if jc.SecretKey != nil {
		cfg.SecretKey = *jc.SecretKey
	}
	if jc.TokenValidity != nil {
		cfg.TokenValidity = time.Duration(jc.TokenValidity.Duration)
	}
	if jc.LoginRPS != nil {
		cfg.LoginRPS = *jc.LoginRPS
	}
	if jc.LoginBurst != nil {
		cfg.LoginBurst = *jc.LoginBurst
	}
	if jc.S3Region != nil {
		cfg.S3Region = *jc.S3Region
	}
	if jc.S3BaseEndpoint != nil {
		cfg.S3BaseEndpoint = *jc.S3BaseEndpoint
	}
	if jc.S3Bucket != nil {
		cfg.S3Bucket = *jc.S3Bucket
	}
	if jc.S3RootUser != nil {
		cfg.S3RootUser = *jc.S3RootUser
	}
	if jc.S3RootPassword != nil {
		cfg.S3RootPassword = *jc.S3RootPassword
	}
	if jc.PresignExpiry != nil {
		cfg.PresignExpiry = time.Duration(jc.PresignExpiry.Duration)
	}
}
