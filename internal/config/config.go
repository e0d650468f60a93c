// Package config provides configuration types and loading for taskledger.
package config

import "time"

// Config is the root configuration struct.
type Config struct {
	Database DatabaseConfig `json:"database"`
	Server   ServerConfig   `json:"server"`
	Relay    RelayConfig    `json:"relay"`
	Logging  LoggingConfig  `json:"logging"`
}

// DatabaseConfig groups the SQLite storage settings.
type DatabaseConfig struct {
	Path string `json:"path" envconfig:"PATH"`
}

// ServerConfig groups the HTTP API settings.
type ServerConfig struct {
	Addr            string        `json:"addr" envconfig:"ADDR"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// RelayConfig groups the optional Kafka audit relay settings. The relay is
// off unless Brokers is set.
type RelayConfig struct {
	Brokers string        `json:"brokers" envconfig:"BROKERS"`
	Topic   string        `json:"topic" envconfig:"TOPIC"`
	Timeout time.Duration `json:"timeout" envconfig:"TIMEOUT"`
}

// LoggingConfig groups log output settings.
type LoggingConfig struct {
	Level  string `json:"level" envconfig:"LEVEL"`
	Format string `json:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns the configuration used when no file or environment
// overrides exist.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: ""},
		Server: ServerConfig{
			Addr:            ":8085",
			ShutdownTimeout: 10 * time.Second,
		},
		Relay: RelayConfig{
			Topic:   "taskledger.audit",
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
