// Package config loads runtime configuration from TOML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full runtime configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	Bus        BusConfig        `toml:"bus"`
	Heartbeat  HeartbeatConfig  `toml:"heartbeat"`
	Delegation DelegationConfig `toml:"delegation"`

	// Routes statically maps request types to specialist agent IDs.
	Routes map[string]string `toml:"routes"`
}

// BusConfig configures message routing.
type BusConfig struct {
	// MailboxSize is the per-agent mailbox capacity.
	MailboxSize int `toml:"mailbox_size"`

	// RequestTimeout is the default request deadline.
	RequestTimeout Duration `toml:"request_timeout"`
}

// HeartbeatConfig configures liveness reporting and monitoring.
type HeartbeatConfig struct {
	// Interval is how often agents broadcast liveness.
	Interval Duration `toml:"interval"`

	// StaleThreshold flags an agent unhealthy after this much silence.
	StaleThreshold Duration `toml:"stale_threshold"`

	// CheckInterval is how often the monitor sweeps for stale agents.
	CheckInterval Duration `toml:"check_interval"`
}

// DelegationConfig configures orchestrator forwarding.
type DelegationConfig struct {
	// Timeout bounds how long a forwarded request may stay unanswered.
	Timeout Duration `toml:"timeout"`

	// SweepInterval is how often expired delegations are collected.
	SweepInterval Duration `toml:"sweep_interval"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Bus: BusConfig{
			MailboxSize:    256,
			RequestTimeout: Duration(30 * time.Second),
		},
		Heartbeat: HeartbeatConfig{
			Interval:       Duration(5 * time.Second),
			StaleThreshold: Duration(15 * time.Second),
			CheckInterval:  Duration(5 * time.Second),
		},
		Delegation: DelegationConfig{
			Timeout:       Duration(10 * time.Second),
			SweepInterval: Duration(time.Second),
		},
		Routes: make(map[string]string),
	}
}

// LoadFile loads configuration from a TOML file, applying environment
// overrides on top.
func LoadFile(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(string(content))
}

// Parse parses configuration from TOML content, applying environment
// overrides on top. Missing keys keep their defaults.
func Parse(content string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv returns the default configuration with environment overrides.
func FromEnv() (Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays ACTORBUS_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("ACTORBUS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ACTORBUS_MAILBOX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Bus.MailboxSize = n
		}
	}
	if v := os.Getenv("ACTORBUS_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Bus.RequestTimeout = Duration(d)
		}
	}
	if v := os.Getenv("ACTORBUS_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Heartbeat.Interval = Duration(d)
		}
	}
	if v := os.Getenv("ACTORBUS_STALE_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Heartbeat.StaleThreshold = Duration(d)
		}
	}
	if v := os.Getenv("ACTORBUS_DELEGATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Delegation.Timeout = Duration(d)
		}
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Bus.MailboxSize <= 0 {
		return fmt.Errorf("bus.mailbox_size must be positive, got %d", c.Bus.MailboxSize)
	}
	if c.Bus.RequestTimeout <= 0 {
		return fmt.Errorf("bus.request_timeout must be positive")
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive")
	}
	if c.Heartbeat.StaleThreshold.Std() <= c.Heartbeat.Interval.Std() {
		return fmt.Errorf("heartbeat.stale_threshold must exceed heartbeat.interval")
	}
	if c.Heartbeat.CheckInterval <= 0 {
		return fmt.Errorf("heartbeat.check_interval must be positive")
	}
	if c.Delegation.Timeout <= 0 {
		return fmt.Errorf("delegation.timeout must be positive")
	}
	if c.Delegation.SweepInterval <= 0 {
		return fmt.Errorf("delegation.sweep_interval must be positive")
	}
	return nil
}
