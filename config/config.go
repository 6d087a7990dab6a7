// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a benchmark run.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Transport  TransportConfig  `yaml:"transport"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Subscriber SubscriberConfig `yaml:"subscriber"`
	Control    ControlConfig    `yaml:"control"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	History    HistoryConfig    `yaml:"history"`
	Webhook    WebhookConfig    `yaml:"webhook"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// TransportConfig holds connection settings shared by both roles.
type TransportConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
}

// PublisherConfig holds producer settings.
type PublisherConfig struct {
	Server        string        `yaml:"server"`
	Subject       string        `yaml:"subject"`
	Count         int           `yaml:"count"`
	Rate          int           `yaml:"rate"` // messages per second
	Size          int           `yaml:"size"` // payload bytes
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	FlushTimeout  time.Duration `yaml:"flush_timeout"`
	Backoff       time.Duration `yaml:"backoff"` // pause while no connection is active
}

// SubscriberConfig holds consumer settings.
type SubscriberConfig struct {
	Server           string        `yaml:"server"`
	Subject          string        `yaml:"subject"`
	QueueGroup       string        `yaml:"queue_group"`
	ReconnectWait    time.Duration `yaml:"reconnect_wait"`
	FlushTimeout     time.Duration `yaml:"flush_timeout"`
	StallPeriod      time.Duration `yaml:"stall_period"`
	PropagationDelay time.Duration `yaml:"propagation_delay"`
}

// ControlConfig holds the migration control channel settings.
type ControlConfig struct {
	Enabled        bool            `yaml:"enabled"`
	SubjectPrefix  string          `yaml:"subject_prefix"` // control subject is <prefix>.<role>
	HTTPAddr       string          `yaml:"http_addr"`      // empty disables the HTTP server
	MigrateTimeout time.Duration   `yaml:"migrate_timeout"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig throttles migration requests per source.
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Rate            float64       `yaml:"rate"` // requests per second
	Burst           int           `yaml:"burst"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// MetricsConfig holds OpenTelemetry settings.
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Endpoint        string        `yaml:"endpoint"` // OTLP gRPC collector
	ServiceName     string        `yaml:"service_name"`
	ServiceVersion  string        `yaml:"service_version"`
	TracesEnabled   bool          `yaml:"traces_enabled"`
	TraceSampleRate float64       `yaml:"trace_sample_rate"` // 0.0 to 1.0; 0 disables traces
	ExportInterval  time.Duration `yaml:"export_interval"`
}

// HistoryConfig selects where run reports are kept.
type HistoryConfig struct {
	Type string `yaml:"type"` // none, memory, badger
	Dir  string `yaml:"dir"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled         bool              `yaml:"enabled"`
	QueueSize       int               `yaml:"queue_size"`
	DropPolicy      string            `yaml:"drop_policy"` // "oldest" or "newest"
	Workers         int               `yaml:"workers"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
	Defaults        WebhookDefaults   `yaml:"defaults"`
	Endpoints       []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookDefaults holds default settings for webhook endpoints.
type WebhookDefaults struct {
	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig holds retry configuration for webhook delivery.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// WebhookEndpoint defines a single webhook endpoint.
type WebhookEndpoint struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Events  []string          `yaml:"events,omitempty"` // Event type filter (empty = all)
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"` // Override default
	Retry   *RetryConfig      `yaml:"retry,omitempty"`   // Override default
}

// Default returns the documented no-argument configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Transport: TransportConfig{
			ConnectTimeout: 5 * time.Second,
			PingInterval:   10 * time.Second,
			MaxReconnects:  1024,
			DrainTimeout:   5 * time.Second,
		},
		Publisher: PublisherConfig{
			Server:        "nats://127.0.0.1:4222",
			Subject:       "foo",
			Count:         100000,
			Rate:          10000,
			Size:          128,
			ReconnectWait: 5 * time.Second,
			FlushTimeout:  2 * time.Second,
			Backoff:       250 * time.Millisecond,
		},
		Subscriber: SubscriberConfig{
			Server:     "nats://127.0.0.1:4222",
			Subject:    "foo",
			QueueGroup: "loss-subs",
			// Subscribers reconnect before publishers.
			ReconnectWait:    20 * time.Millisecond,
			FlushTimeout:     5 * time.Second,
			StallPeriod:      10 * time.Second,
			PropagationDelay: time.Second,
		},
		Control: ControlConfig{
			Enabled:        true,
			SubjectPrefix:  "lossbench.control",
			MigrateTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:         true,
				Rate:            1,
				Burst:           2,
				CleanupInterval: time.Minute,
			},
		},
		Metrics: MetricsConfig{
			Endpoint:        "localhost:4317",
			ServiceName:     "lossbench",
			ServiceVersion:  "1.0.0",
			TraceSampleRate: 1.0,
			ExportInterval:  5 * time.Second,
		},
		History: HistoryConfig{
			Type: "none",
			Dir:  "/tmp/lossbench/history",
		},
		Webhook: WebhookConfig{
			QueueSize:       1000,
			DropPolicy:      "oldest",
			Workers:         2,
			ShutdownTimeout: 10 * time.Second,
			Defaults: WebhookDefaults{
				Timeout: 5 * time.Second,
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: time.Second,
					MaxInterval:     30 * time.Second,
					Multiplier:      2.0,
				},
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold: 5,
					ResetTimeout:     60 * time.Second,
				},
			},
		},
	}
}

// Load reads configuration from a YAML file. An empty name or a missing
// file yields the defaults.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}

	if c.Transport.ConnectTimeout <= 0 {
		return fmt.Errorf("transport.connect_timeout must be positive")
	}
	if c.Transport.MaxReconnects < -1 {
		return fmt.Errorf("transport.max_reconnects must be -1 (unlimited) or greater")
	}
	if c.Transport.DrainTimeout <= 0 {
		return fmt.Errorf("transport.drain_timeout must be positive")
	}

	// Run parameters are checked again after CLI overrides.
	if c.Publisher.Subject == "" {
		return fmt.Errorf("publisher.subject cannot be empty")
	}
	if c.Publisher.Count < 1 {
		return fmt.Errorf("publisher.count must be at least 1")
	}
	if c.Publisher.Rate < 1 {
		return fmt.Errorf("publisher.rate must be at least 1")
	}
	if c.Publisher.Size < 1 {
		return fmt.Errorf("publisher.size must be at least 1")
	}
	if c.Publisher.Backoff <= 0 {
		return fmt.Errorf("publisher.backoff must be positive")
	}

	if c.Subscriber.Subject == "" {
		return fmt.Errorf("subscriber.subject cannot be empty")
	}
	if c.Subscriber.QueueGroup == "" {
		return fmt.Errorf("subscriber.queue_group cannot be empty")
	}
	if c.Subscriber.StallPeriod <= 0 {
		return fmt.Errorf("subscriber.stall_period must be positive")
	}
	if c.Subscriber.PropagationDelay < 0 {
		return fmt.Errorf("subscriber.propagation_delay cannot be negative")
	}

	if c.Control.Enabled && c.Control.SubjectPrefix == "" {
		return fmt.Errorf("control.subject_prefix required when control is enabled")
	}
	if c.Control.RateLimit.Enabled {
		if c.Control.RateLimit.Rate <= 0 {
			return fmt.Errorf("control.rate_limit.rate must be positive")
		}
		if c.Control.RateLimit.Burst < 1 {
			return fmt.Errorf("control.rate_limit.burst must be at least 1")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Endpoint == "" {
			return fmt.Errorf("metrics.endpoint required when metrics are enabled")
		}
		if c.Metrics.TraceSampleRate < 0 || c.Metrics.TraceSampleRate > 1 {
			return fmt.Errorf("metrics.trace_sample_rate must be between 0.0 and 1.0")
		}
		if c.Metrics.ExportInterval <= 0 {
			return fmt.Errorf("metrics.export_interval must be positive")
		}
	}

	switch c.History.Type {
	case "none", "memory":
	case "badger":
		if c.History.Dir == "" {
			return fmt.Errorf("history.dir required for badger history")
		}
	default:
		return fmt.Errorf("history.type must be one of none, memory, badger")
	}

	if c.Webhook.Enabled {
		if c.Webhook.QueueSize < 1 {
			return fmt.Errorf("webhook.queue_size must be at least 1")
		}
		if c.Webhook.DropPolicy != "oldest" && c.Webhook.DropPolicy != "newest" {
			return fmt.Errorf("webhook.drop_policy must be 'oldest' or 'newest'")
		}
		if c.Webhook.Workers < 1 {
			return fmt.Errorf("webhook.workers must be at least 1")
		}
		if c.Webhook.Defaults.Retry.MaxAttempts < 1 {
			return fmt.Errorf("webhook.defaults.retry.max_attempts must be at least 1")
		}
		if c.Webhook.Defaults.Retry.Multiplier < 1.0 {
			return fmt.Errorf("webhook.defaults.retry.multiplier must be at least 1.0")
		}
		if c.Webhook.Defaults.CircuitBreaker.FailureThreshold < 1 {
			return fmt.Errorf("webhook.defaults.circuit_breaker.failure_threshold must be at least 1")
		}

		for i, endpoint := range c.Webhook.Endpoints {
			if endpoint.Name == "" {
				return fmt.Errorf("webhook.endpoints[%d].name cannot be empty", i)
			}
			if endpoint.URL == "" {
				return fmt.Errorf("webhook.endpoints[%d].url cannot be empty", i)
			}
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
