package config

import (
	"fmt"
	"strings"

	"github.com/c360/chanbridge/errors"
)

// Validate checks the configuration for structural problems. It assumes
// defaults have already been applied.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Bridge.Domain) == "" {
		problems = append(problems, "bridge.domain is required")
	}
	if len(c.Bridge.Channels) == 0 {
		problems = append(problems, "bridge.channels must list at least one channel")
	}
	for i, ch := range c.Bridge.Channels {
		if strings.TrimSpace(ch) == "" {
			problems = append(problems, fmt.Sprintf("bridge.channels[%d] is empty", i))
		}
	}

	if c.NATS.URL == "" {
		problems = append(problems, "nats.url is required")
	} else if !strings.HasPrefix(c.NATS.URL, "nats://") &&
		!strings.HasPrefix(c.NATS.URL, "tls://") &&
		!strings.HasPrefix(c.NATS.URL, "ws://") &&
		!strings.HasPrefix(c.NATS.URL, "wss://") {
		problems = append(problems, fmt.Sprintf("nats.url has unsupported scheme: %s", c.NATS.URL))
	}

	if c.NATS.Username != "" && c.NATS.Password == "" {
		problems = append(problems, "nats.password is required when nats.username is set")
	}

	if c.NATS.TLS.Enabled {
		if (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
			problems = append(problems, "nats.tls.cert_file and nats.tls.key_file must be set together")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			problems = append(problems, fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			problems = append(problems, fmt.Sprintf("metrics.path %q must start with /", c.Metrics.Path))
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	switch c.Logging.Format {
	case "", "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not one of json, text", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%s", strings.Join(problems, "; ")),
			"Config", "Validate", "invalid configuration")
	}

	return nil
}
