package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration from defaults, an optional YAML file,
// and the environment, in that order of precedence (later wins).
// An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	if err := loadEnv(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadFile overlays values from a YAML config file. Durations are given
// in seconds in the file, matching the environment variable names.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw struct {
		ServerSecret    *string `yaml:"server_secret"`
		Host            *string `yaml:"host"`
		Port            *int    `yaml:"port"`
		MaxMessageSize  *int64  `yaml:"max_message_size"`
		IdleTimeoutSec  *int    `yaml:"idle_timeout_sec"`
		RateLimitMax    *int    `yaml:"rate_limit_max"`
		RateLimitWinSec *int    `yaml:"rate_limit_window_sec"`
		Compression     *bool   `yaml:"compression"`
		MaxChannels     *int    `yaml:"max_channels"`
		ShutdownSec     *int    `yaml:"shutdown_timeout_sec"`
		LogLevel        *string `yaml:"log_level"`
		LogFormat       *string `yaml:"log_format"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	if raw.ServerSecret != nil {
		cfg.ServerSecret = *raw.ServerSecret
	}
	if raw.Host != nil {
		cfg.Host = *raw.Host
	}
	if raw.Port != nil {
		cfg.Port = *raw.Port
	}
	if raw.MaxMessageSize != nil {
		cfg.MaxMessageSize = *raw.MaxMessageSize
	}
	if raw.IdleTimeoutSec != nil {
		cfg.IdleTimeout = time.Duration(*raw.IdleTimeoutSec) * time.Second
	}
	if raw.RateLimitMax != nil {
		cfg.RateLimitMax = *raw.RateLimitMax
	}
	if raw.RateLimitWinSec != nil {
		cfg.RateLimitWindow = time.Duration(*raw.RateLimitWinSec) * time.Second
	}
	if raw.Compression != nil {
		cfg.Compression = *raw.Compression
	}
	if raw.MaxChannels != nil {
		cfg.MaxChannels = *raw.MaxChannels
	}
	if raw.ShutdownSec != nil {
		cfg.ShutdownTimeout = time.Duration(*raw.ShutdownSec) * time.Second
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = *raw.LogLevel
	}
	if raw.LogFormat != nil {
		cfg.LogFormat = *raw.LogFormat
	}
	return nil
}

// loadEnv overlays values from the environment.
func loadEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("SERVER_SECRET"); ok {
		cfg.ServerSecret = v
	}
	if v, ok := os.LookupEnv("HOST"); ok {
		cfg.Host = v
	}
	if err := envInt("PORT", &cfg.Port); err != nil {
		return err
	}
	if err := envInt64("MAX_MESSAGE_SIZE", &cfg.MaxMessageSize); err != nil {
		return err
	}
	if err := envSeconds("IDLE_TIMEOUT_SEC", &cfg.IdleTimeout); err != nil {
		return err
	}
	if err := envInt("RATE_LIMIT_MAX", &cfg.RateLimitMax); err != nil {
		return err
	}
	if err := envSeconds("RATE_LIMIT_WINDOW_SEC", &cfg.RateLimitWindow); err != nil {
		return err
	}
	if err := envBool("COMPRESSION", &cfg.Compression); err != nil {
		return err
	}
	if err := envInt("MAX_CHANNELS", &cfg.MaxChannels); err != nil {
		return err
	}
	if err := envSeconds("SHUTDOWN_TIMEOUT_SEC", &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("LOG_FORMAT"); ok {
		cfg.LogFormat = v
	}
	return nil
}

func envInt(name string, dst *int) error {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalidValue, name, v, err)
	}
	*dst = n
	return nil
}

func envInt64(name string, dst *int64) error {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalidValue, name, v, err)
	}
	*dst = n
	return nil
}

func envSeconds(name string, dst *time.Duration) error {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalidValue, name, v, err)
	}
	*dst = time.Duration(n) * time.Second
	return nil
}

func envBool(name string, dst *bool) error {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalidValue, name, v, err)
	}
	*dst = b
	return nil
}

// Validate checks the assembled configuration.
func Validate(cfg *Config) error {
	if cfg.ServerSecret == "" {
		return ErrSecretRequired
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidValue, cfg.Port)
	}
	if cfg.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max_message_size must be positive", ErrInvalidValue)
	}
	if cfg.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle_timeout must be positive", ErrInvalidValue)
	}
	if cfg.RateLimitMax < 1 {
		return fmt.Errorf("%w: rate_limit_max must be at least 1", ErrInvalidValue)
	}
	if cfg.RateLimitWindow <= 0 {
		return fmt.Errorf("%w: rate_limit_window must be positive", ErrInvalidValue)
	}
	if cfg.MaxChannels < 1 {
		return fmt.Errorf("%w: max_channels must be at least 1", ErrInvalidValue)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalidValue, cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format %q", ErrInvalidValue, cfg.LogFormat)
	}
	return nil
}
