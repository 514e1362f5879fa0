package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "DEVLOG_"

type Config struct {
	Primary  Primary        `koanf:"primary" validate:"required"`
	Server   ServerConfig   `koanf:"server" validate:"required"`
	Buffer   BufferConfig   `koanf:"buffer" validate:"required"`
	Requests RequestsConfig `koanf:"requests" validate:"required"`
	Storage  StorageConfig  `koanf:"storage" validate:"required"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Logging  LoggingConfig  `koanf:"logging" validate:"required"`
	Display  DisplayConfig  `koanf:"display"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Inputs   InputsConfig   `koanf:"inputs"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port               string   `koanf:"port" validate:"required,numeric"`
	ReadTimeout        int      `koanf:"read_timeout" validate:"gte=0"`
	WriteTimeout       int      `koanf:"write_timeout" validate:"gte=0"` // 0 keeps streams open
	IdleTimeout        int      `koanf:"idle_timeout" validate:"gte=0"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins" validate:"required"`
}

type BufferConfig struct {
	Capacity        int `koanf:"capacity" validate:"required,gt=0"`
	SubscriberQueue int `koanf:"subscriber_queue" validate:"required,gt=0"`
}

type RequestsConfig struct {
	TTL           time.Duration `koanf:"ttl" validate:"required,gt=0"`
	Retention     time.Duration `koanf:"retention" validate:"required,gt=0"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"required,gt=0"`
}

type StorageConfig struct {
	Backend       string    `koanf:"backend" validate:"required,oneof=file o3"`
	UploadDir     string    `koanf:"upload_dir" validate:"required_if=Backend file"`
	RetentionDays int       `koanf:"retention_days" validate:"gte=0"` // 0 keeps uploads forever
	O3            *O3Config `koanf:"o3" validate:"required_if=Backend o3"`
}

// O3Config is the Akave O3 (S3-compatible) upload backend.
type O3Config struct {
	Endpoint  string `koanf:"endpoint" validate:"required,url"`
	Bucket    string `koanf:"bucket" validate:"required"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Prefix    string `koanf:"prefix"`
}

// DatabaseConfig enables the Postgres upload index when URL is set.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// AuthConfig selects how bearer tokens are verified. With neither set the
// protected endpoints are disabled.
type AuthConfig struct {
	PublicKeyPath string `koanf:"public_key_path" validate:"omitempty,file"`
	HMACSecret    string `koanf:"hmac_secret"`
}

func (a AuthConfig) Enabled() bool {
	return a.PublicKeyPath != "" || a.HMACSecret != ""
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"required,oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"required,oneof=console json"`
}

type DisplayConfig struct {
	Enabled bool `koanf:"enabled"`
	Verbose bool `koanf:"verbose"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path" validate:"required_if=Enabled true"`
}

// InputsConfig configures ingestion inputs beyond POST /logs.
type InputsConfig struct {
	Listen string `koanf:"listen" validate:"omitempty,hostname_port"`
}

// Default returns the configuration used when no environment overrides exist.
func Default() *Config {
	return &Config{
		Primary: Primary{Env: "development"},
		Server: ServerConfig{
			Port:               "9006",
			ReadTimeout:        30,
			WriteTimeout:       0,
			IdleTimeout:        120,
			CORSAllowedOrigins: []string{"*"},
		},
		Buffer: BufferConfig{Capacity: 10_000, SubscriberQueue: 100},
		Requests: RequestsConfig{
			TTL:           24 * time.Hour,
			Retention:     7 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Storage: StorageConfig{Backend: "file", UploadDir: "./uploads"},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Display: DisplayConfig{Enabled: true},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// envKey maps DEVLOG_SERVER__PORT to server.port.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

// Load reads DEVLOG_* environment variables over the defaults and validates
// the result.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("could not load env variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
