package config

import (
	"fmt"
	"os"

	"github.com/c360/chanbridge/errors"
	"github.com/c360/chanbridge/pkg/jsoncodec"
)

// Load reads a JSON config file, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Config", "Load",
			fmt.Sprintf("read config file %s", path))
	}

	return Parse(data)
}

// Parse decodes JSON config bytes, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := jsoncodec.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Parse", "decode config JSON")
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
