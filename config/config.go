// Package config defines the bridge configuration, its JSON file loader,
// validation, and a thread-safe wrapper for components that read settings at
// runtime. Secrets are redacted before any config is exported or logged.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/c360/chanbridge/pkg/jsoncodec"
)

// Config represents the complete bridge configuration.
type Config struct {
	Version string        `json:"version,omitempty"`
	Bridge  BridgeConfig  `json:"bridge"`
	NATS    NATSConfig    `json:"nats"`
	Metrics MetricsConfig `json:"metrics,omitempty"`
	Audit   AuditConfig   `json:"audit,omitempty"`
	Logging LoggingConfig `json:"logging,omitempty"`
}

// BridgeConfig defines the bridge identity and addressing scheme.
type BridgeConfig struct {
	// Domain is the origin service domain, e.g. "cytu.be".
	Domain string `json:"domain"`

	// Channels lists the channels to mirror and route commands for.
	Channels []string `json:"channels"`

	// ServiceName identifies this bridge on the shared query subject.
	ServiceName string `json:"service_name,omitempty"`

	// EventPrefix and CommandPrefix override the default subject prefixes.
	EventPrefix   string `json:"event_prefix,omitempty"`
	CommandPrefix string `json:"command_prefix,omitempty"`

	// QuerySubject is the shared request-reply subject for queries.
	QuerySubject string `json:"query_subject,omitempty"`

	// BucketPrefix is prepended to per-channel KV bucket names.
	BucketPrefix string `json:"bucket_prefix,omitempty"`
}

// NATSConfig defines NATS connection settings.
type NATSConfig struct {
	URL           string        `json:"url"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	TLS           TLSConfig     `json:"tls,omitempty"`
}

// TLSConfig for secure NATS connections.
type TLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// MetricsConfig defines the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// AuditConfig controls the command audit trail.
type AuditConfig struct {
	Enabled bool `json:"enabled"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // json, text
}

// Defaults applied by the loader for fields left empty.
const (
	DefaultServiceName   = "chanbridge"
	DefaultQuerySubject  = "bridge.service.command"
	DefaultBucketPrefix  = "bridge"
	DefaultEventPrefix   = "bridge.events"
	DefaultCommandPrefix = "bridge.commands"
	DefaultMetricsPort   = 9090
	DefaultMetricsPath   = "/metrics"
	DefaultNATSURL       = "nats://localhost:4222"
)

// ApplyDefaults fills in zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Bridge.ServiceName == "" {
		c.Bridge.ServiceName = DefaultServiceName
	}
	if c.Bridge.QuerySubject == "" {
		c.Bridge.QuerySubject = DefaultQuerySubject
	}
	if c.Bridge.BucketPrefix == "" {
		c.Bridge.BucketPrefix = DefaultBucketPrefix
	}
	if c.Bridge.EventPrefix == "" {
		c.Bridge.EventPrefix = DefaultEventPrefix
	}
	if c.Bridge.CommandPrefix == "" {
		c.Bridge.CommandPrefix = DefaultCommandPrefix
	}
	if c.NATS.URL == "" {
		c.NATS.URL = DefaultNATSURL
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.NATS.Timeout == 0 {
		c.NATS.Timeout = 5 * time.Second
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := jsoncodec.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := jsoncodec.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// Redacted returns a deep copy with all secrets masked, safe for logging and
// query responses.
func (c *Config) Redacted() *Config {
	clone := c.Clone()
	if clone.NATS.Password != "" {
		clone.NATS.Password = "[REDACTED]"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "[REDACTED]"
	}
	return clone
}

// SafeConfig provides thread-safe access to configuration.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a thread-safe config wrapper.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
