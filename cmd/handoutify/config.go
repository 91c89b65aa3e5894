package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds the settings a config file may provide. Command line flags
// override them.
type Config struct {
	OutputSuffix string       `toml:"output_suffix" yaml:"output_suffix" validate:"required,excludesall=/\\"`
	Prune        bool         `toml:"prune" yaml:"prune"`
	Renumber     bool         `toml:"renumber" yaml:"renumber"`
	Overwrite    bool         `toml:"overwrite" yaml:"overwrite"`
	Verify       bool         `toml:"verify" yaml:"verify"`
	Log          LogConfig    `toml:"log" yaml:"log"`
	Limits       LimitsConfig `toml:"limits" yaml:"limits"`
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level" validate:"oneof=debug info warn error"`
}

type LimitsConfig struct {
	// MaxDecompressedMB caps a single decoded stream. Zero keeps the default.
	MaxDecompressedMB int64 `toml:"max_decompressed_mb" yaml:"max_decompressed_mb" validate:"gte=0,lte=65536"`
}

func DefaultConfig() Config {
	return Config{
		OutputSuffix: "_handout",
		Log:          LogConfig{Level: "warn"},
	}
}

// LoadConfig reads path over the defaults. Files ending in .yaml or .yml are
// YAML; anything else is TOML. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty document decodes to io.EOF.
		if err := dec.Decode(&cfg); err != nil && len(bytes.TrimSpace(data)) > 0 {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// resolveConfig layers defaults, the config file and explicitly set flags.
func resolveConfig(opts options) (Config, error) {
	cfg := DefaultConfig()
	if opts.configPath != "" {
		loaded, err := LoadConfig(opts.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if opts.set["prune"] {
		cfg.Prune = opts.prune
	}
	if opts.set["renumber"] {
		cfg.Renumber = opts.renumber
	}
	if opts.set["overwrite"] {
		cfg.Overwrite = opts.overwrite
	}
	if opts.set["verify"] {
		cfg.Verify = opts.verify
	}
	if opts.set["log-level"] {
		cfg.Log.Level = strings.ToLower(opts.logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
