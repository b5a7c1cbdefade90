// Package config builds the process configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr     string
	APIToken       string
	MaxUploadBytes int64

	VerilatorURL  string
	OpenLaneURL   string
	SimTimeout    time.Duration
	SynthTimeout  time.Duration
	HealthTimeout time.Duration

	LogLevel  string
	LogFormat string

	RedisAddr   string
	DatabaseURL string
	Storage     Storage
}

type Storage struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// ArchiveEnabled reports whether finished evaluations are handed to the worker.
func (c *Config) ArchiveEnabled() bool { return c.RedisAddr != "" }

func defaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("max_upload_mb", 256)
	v.SetDefault("verilator_url", "http://verilator-api:8001")
	v.SetDefault("openlane_url", "http://openlane-api:8003")
	v.SetDefault("sim_timeout", 900*time.Second)
	v.SetDefault("synth_timeout", 900*time.Second)
	v.SetDefault("health_timeout", 5*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("results_prefix", "eda_results")
}

// Load reads every setting once. Callers pass the result around; nothing
// else in the module reads the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	defaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ListenAddr:     v.GetString("listen_addr"),
		APIToken:       v.GetString("api_token"),
		MaxUploadBytes: v.GetInt64("max_upload_mb") << 20,
		VerilatorURL:   strings.TrimRight(v.GetString("verilator_url"), "/"),
		OpenLaneURL:    strings.TrimRight(v.GetString("openlane_url"), "/"),
		SimTimeout:     v.GetDuration("sim_timeout"),
		SynthTimeout:   v.GetDuration("synth_timeout"),
		HealthTimeout:  v.GetDuration("health_timeout"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
		RedisAddr:      v.GetString("redis_addr"),
		DatabaseURL:    v.GetString("database_url"),
		Storage: Storage{
			Endpoint:  v.GetString("minio_endpoint"),
			Bucket:    v.GetString("minio_bucket"),
			AccessKey: v.GetString("minio_access_key"),
			SecretKey: v.GetString("minio_secret_key"),
			Prefix:    strings.Trim(v.GetString("results_prefix"), "/"),
		},
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.VerilatorURL == "" {
		return fmt.Errorf("VERILATOR_URL is required")
	}
	if cfg.OpenLaneURL == "" {
		return fmt.Errorf("OPENLANE_URL is required")
	}
	if cfg.SimTimeout <= 0 || cfg.SynthTimeout <= 0 {
		return fmt.Errorf("backend timeouts must be positive (sim=%s synth=%s)", cfg.SimTimeout, cfg.SynthTimeout)
	}
	if cfg.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	return nil
}
