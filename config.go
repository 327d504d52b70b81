// Copyright (c) erawl
// SPDX-License-Identifier: Apache-2.0

// Package giphyproxy holds the shared configuration for the relay and
// its observability endpoints.
package giphyproxy

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that accepts "5s"-style values from both
// YAML and the environment.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Config holds the relay configuration. Values are loaded either from
// the environment (NewConfig) or from a YAML file (LoadFile).
type Config struct {
	// Host is the local listen host. The relay is loopback-bound by
	// default; it does not bind the wildcard address unless asked to.
	Host string `env:"HOST" envDefault:"127.0.0.1" yaml:"host"`

	// Port is the local listen port.
	Port int `env:"PORT" envDefault:"8443" yaml:"port"`

	// TargetHost is the outbound service to relay to. Resolved once
	// at startup, not per connection.
	TargetHost string `env:"TARGET_HOST" envDefault:"api.giphy.com" yaml:"target_host"`

	// TargetPort is the outbound service port.
	TargetPort int `env:"TARGET_PORT" envDefault:"443" yaml:"target_port"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level"`

	// LogFormat is json or text.
	LogFormat string `env:"LOG_FORMAT" envDefault:"json" yaml:"log_format"`

	// MetricsPort serves Prometheus metrics.
	MetricsPort int `env:"METRICS_PORT" envDefault:"9090" yaml:"metrics_port"`

	// HealthPort serves liveness and readiness probes.
	HealthPort int `env:"HEALTH_PORT" envDefault:"8080" yaml:"health_port"`

	// ShutdownWait bounds the graceful shutdown of the HTTP servers.
	ShutdownWait Duration `env:"SHUTDOWN_WAIT" envDefault:"5s" yaml:"shutdown_wait"`
}

// NewConfig loads configuration from environment variables.
func NewConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile loads configuration from a YAML file, then lets environment
// variables override individual fields.
func LoadFile(path string, opts env.Options) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.applyEnv(opts); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envOverrides mirrors Config with pointer fields and no defaults, so
// only variables actually present in the environment override the file.
type envOverrides struct {
	Host         *string   `env:"HOST"`
	Port         *int      `env:"PORT"`
	TargetHost   *string   `env:"TARGET_HOST"`
	TargetPort   *int      `env:"TARGET_PORT"`
	LogLevel     *string   `env:"LOG_LEVEL"`
	LogFormat    *string   `env:"LOG_FORMAT"`
	MetricsPort  *int      `env:"METRICS_PORT"`
	HealthPort   *int      `env:"HEALTH_PORT"`
	ShutdownWait *Duration `env:"SHUTDOWN_WAIT"`
}

func (c *Config) applyEnv(opts env.Options) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return err
	}
	if o.Host != nil {
		c.Host = *o.Host
	}
	if o.Port != nil {
		c.Port = *o.Port
	}
	if o.TargetHost != nil {
		c.TargetHost = *o.TargetHost
	}
	if o.TargetPort != nil {
		c.TargetPort = *o.TargetPort
	}
	if o.LogLevel != nil {
		c.LogLevel = *o.LogLevel
	}
	if o.LogFormat != nil {
		c.LogFormat = *o.LogFormat
	}
	if o.MetricsPort != nil {
		c.MetricsPort = *o.MetricsPort
	}
	if o.HealthPort != nil {
		c.HealthPort = *o.HealthPort
	}
	if o.ShutdownWait != nil {
		c.ShutdownWait = *o.ShutdownWait
	}
	return nil
}

// Address returns the listen address as host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TargetAddress returns the outbound service address as host:port.
func (c Config) TargetAddress() string {
	return net.JoinHostPort(c.TargetHost, strconv.Itoa(c.TargetPort))
}

func (c *Config) setDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9090
	}
	if c.HealthPort == 0 {
		c.HealthPort = 8080
	}
	if c.ShutdownWait == 0 {
		c.ShutdownWait = Duration(5 * time.Second)
	}
}

func (c Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid listen port %d", c.Port)
	}
	if c.TargetHost == "" {
		return fmt.Errorf("target host is required")
	}
	if c.TargetPort < 1 || c.TargetPort > 65535 {
		return fmt.Errorf("invalid target port %d", c.TargetPort)
	}
	if c.ShutdownWait < 0 {
		return fmt.Errorf("invalid shutdown wait %s", time.Duration(c.ShutdownWait))
	}
	return nil
}
