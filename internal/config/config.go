// Package config provides application configuration with multi-source priority.
//
// Sources (highest to lowest priority):
//  1. Environment variables (AGUI_* prefix)
//  2. Config file (~/.agui-demo/config.yaml or ./config.yaml)
//  3. Default values
//
// The model credential is intentionally NOT part of this struct: the genkit
// googlegenai plugin reads GEMINI_API_KEY / GOOGLE_API_KEY from the
// environment itself. Config only answers "is a credential present" so the
// gateway can decide between a real model call and the mock fallback.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidAddr indicates the listen address is malformed.
	ErrInvalidAddr = errors.New("invalid listen address")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTimeout indicates the model timeout is out of range.
	ErrInvalidTimeout = errors.New("invalid model timeout")

	// ErrInvalidRateBurst indicates the rate limiter burst is out of range.
	ErrInvalidRateBurst = errors.New("invalid rate burst")
)

// Defaults used when neither environment nor config file set a value.
const (
	DefaultAddr           = ":8000"
	DefaultModelName      = "gemini-2.5-flash"
	DefaultModelTimeout   = 45 * time.Second
	DefaultRateBurst      = 60
	maxModelTimeout       = 10 * time.Minute
	credentialEnvPrimary  = "GEMINI_API_KEY"
	credentialEnvFallback = "GOOGLE_API_KEY"
)

// Config stores application configuration.
type Config struct {
	// HTTP server
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst"`

	// Model gateway
	ModelName           string `mapstructure:"model_name"`
	ModelTimeoutSeconds int    `mapstructure:"model_timeout_seconds"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".agui-demo"))
	}
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("AGUI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", DefaultRateBurst)
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("model_timeout_seconds", int(DefaultModelTimeout/time.Second))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// Validate checks configuration values and returns a sentinel-wrapped error
// for the first violation found.
func (c *Config) Validate() error {
	if c.Addr == "" || !strings.Contains(c.Addr, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidAddr, c.Addr)
	}
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModelName)
	}
	if c.ModelTimeoutSeconds <= 0 || time.Duration(c.ModelTimeoutSeconds)*time.Second > maxModelTimeout {
		return fmt.Errorf("%w: %d seconds", ErrInvalidTimeout, c.ModelTimeoutSeconds)
	}
	if c.RateBurst < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRateBurst, c.RateBurst)
	}
	return nil
}

// ModelTimeout returns the model call deadline as a duration.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.ModelTimeoutSeconds) * time.Second
}

// LogLevelValue maps the configured log level string to a slog.Level.
// Unknown values fall back to info.
func (c *Config) LogLevelValue() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HasModelCredential reports whether a Gemini API credential is present in
// the environment. Without one the gateway never attempts a model call.
func HasModelCredential() bool {
	return os.Getenv(credentialEnvPrimary) != "" || os.Getenv(credentialEnvFallback) != ""
}
