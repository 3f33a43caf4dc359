// Package config loads runtime configuration for zlogd from environment
// variables and an optional config file, using Viper. zlogctl does not use
// it; the CLI takes its backend settings from command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names a configured Backend implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
	BackendGCS    Backend = "gcs"
)

// Config is the full runtime configuration for the zlogd server.
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`

	Backend Backend `mapstructure:"backend"`

	Redis RedisConfig `mapstructure:"redis"`
	GCS   GCSConfig   `mapstructure:"gcs"`

	Striper StriperConfig `mapstructure:"striper"`

	LogLevel string `mapstructure:"log_level"`
}

// RedisConfig configures the Redis-backed Backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GCSConfig configures the Cloud Storage-backed Backend.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// StriperConfig configures default stripe geometry and refresh cadence for
// every log opened by this process; there is no per-log override.
type StriperConfig struct {
	DefaultWidth    uint32        `mapstructure:"default_width"`
	DefaultSlots    uint64        `mapstructure:"default_slots"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// Load reads configuration from environment variables prefixed ZLOG_ (e.g.
// ZLOG_BACKEND, ZLOG_REDIS_ADDR), applying defaults for anything unset, and
// optionally from a config file named by the ZLOG_CONFIG_FILE environment
// variable.
func Load() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("zlog")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("backend", string(BackendMemory))
	v.SetDefault("log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("striper.default_width", 4)
	v.SetDefault("striper.default_slots", 1024)
	v.SetDefault("striper.refresh_interval", 2*time.Second)

	if cfgFile := v.GetString("config_file"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	switch cfg.Backend {
	case BackendMemory, BackendRedis, BackendGCS:
	default:
		return nil, fmt.Errorf("config: unknown backend %q", cfg.Backend)
	}

	return &cfg, nil
}
