package config

import (
	"encoding/json"
	"os"

	"github.com/medkeep/phivault/internal/flagx"
	"github.com/medkeep/phivault/internal/timex"
)

// JsonConfig is the DTO for reading JSON configuration files. Duration
// fields accept either strings ("30m") or integer nanoseconds; after
// unmarshalling, values are copied into the runtime Config.
type JsonConfig struct {
	DatabaseDSN         string         `json:"database_dsn"`
	AppSecret           string         `json:"app_secret"`
	JWTSecret           string         `json:"jwt_secret"`
	AccessTokenValidity timex.Duration `json:"access_token_validity"`
	MaxShareValidity    timex.Duration `json:"max_share_validity"`
	SweepInterval       timex.Duration `json:"sweep_interval"`
	SweepRetention      timex.Duration `json:"sweep_retention"`
	KeyDeriveTimeout    timex.Duration `json:"key_derive_timeout"`
	S3RootUser          string         `json:"s3_root_user"`
	S3RootPassword      string         `json:"s3_root_password"`
	S3Bucket            string         `json:"s3_bucket"`
	S3Region            string         `json:"s3_region"`
	S3BaseEndpoint      string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from the JSON file named by the -c
// or -config flags. Absent flags mean no file is loaded. Unreadable or
// invalid files panic: a half-applied config is worse than not starting.
// Zero-valued fields in the file leave the existing Config value in place.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.AppSecret != "" {
		config.AppSecret = c.AppSecret
	}
	if c.JWTSecret != "" {
		config.JWTSecret = c.JWTSecret
	}
	if c.AccessTokenValidity.Duration != 0 {
		config.AccessTokenValidity = c.AccessTokenValidity.Duration
	}
	if c.MaxShareValidity.Duration != 0 {
		config.MaxShareValidity = c.MaxShareValidity.Duration
	}
	if c.SweepInterval.Duration != 0 {
		config.SweepInterval = c.SweepInterval.Duration
	}
	if c.SweepRetention.Duration != 0 {
		config.SweepRetention = c.SweepRetention.Duration
	}
	if c.KeyDeriveTimeout.Duration != 0 {
		config.KeyDeriveTimeout = c.KeyDeriveTimeout.Duration
	}
	if c.S3RootUser != "" {
		config.S3RootUser = c.S3RootUser
	}
	if c.S3RootPassword != "" {
		config.S3RootPassword = c.S3RootPassword
	}
	if c.S3Bucket != "" {
		config.S3Bucket = c.S3Bucket
	}
	if c.S3Region != "" {
		config.S3Region = c.S3Region
	}
	if c.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = c.S3BaseEndpoint
	}
}
