package config

import (
	"time"
)

// Config holds the complete server configuration. Values come from the
// environment, optionally layered on top of a YAML config file. The
// environment always wins.
type Config struct {
	// ServerSecret is the shared secret clients must present at upgrade
	// time. There is no default; the server refuses to start without it.
	ServerSecret string `yaml:"server_secret"`

	// Host is the bind address. Empty means all interfaces.
	Host string `yaml:"host"`

	// Port is the TCP port the HTTP/WebSocket listener binds to.
	Port int `yaml:"port"`

	// MaxMessageSize caps the UTF-8 byte length of a single inbound
	// frame. Oversized frames get a MESSAGE_TOO_LARGE error frame; the
	// connection stays open.
	MaxMessageSize int64 `yaml:"max_message_size"`

	// IdleTimeout is how long a connection may stay silent before the
	// transport closes it. Enforced with read deadlines and pings.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// RateLimitMax is the number of upgrade attempts allowed per source
	// IP within one rate-limit window.
	RateLimitMax int `yaml:"rate_limit_max"`

	// RateLimitWindow is the fixed-window length for upgrade rate
	// limiting.
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`

	// Compression enables permessage-deflate on accepted connections.
	Compression bool `yaml:"compression"`

	// MaxChannels is the server-wide ceiling on concurrently existing
	// channels.
	MaxChannels int `yaml:"max_channels"`

	// ShutdownTimeout bounds graceful shutdown; a watchdog force-exits
	// the process when it expires.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format"`
}

// Defaults mirrors the documented configuration table. ServerSecret has
// no default on purpose.
func Defaults() Config {
	return Config{
		Port:            3000,
		MaxMessageSize:  100 * 1024 * 1024, // 100 MiB
		IdleTimeout:     60 * time.Second,
		RateLimitMax:    10,
		RateLimitWindow: 60 * time.Second,
		Compression:     false,
		MaxChannels:     4,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}
