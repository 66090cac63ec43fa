// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads memcart's YAML configuration and region
// description files.
package config

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jproney/MemoryCartography/arch"
	"github.com/jproney/MemoryCartography/internal/logging"
	"github.com/jproney/MemoryCartography/scan"
)

// Environment variables that override the configuration file.
const (
	EnvLogLevel      = "MEMCART_LOG_LEVEL"
	EnvMinConfidence = "MEMCART_MIN_CONFIDENCE"
	EnvWorkers       = "MEMCART_WORKERS"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level configuration.
type Config struct {
	Scan ScanConfig     `yaml:"scan"`
	Log  logging.Config `yaml:"log"`
}

// ScanConfig configures the scanner and classifier.
type ScanConfig struct {
	// Arch names the target architecture (amd64, 386, arm64, ...). For
	// core files and executables it is taken from the file instead.
	Arch string `yaml:"arch"`
	// Alignment is the slot stride. Zero means the pointer size.
	Alignment int `yaml:"alignment"`
	// ValueAlignment is the minimum alignment of a plausible pointee.
	ValueAlignment uint64 `yaml:"value_alignment"`
	Workers        int    `yaml:"workers"`

	TreatNullAsPointer bool   `yaml:"treat_null_as_pointer"`
	MinConfidence      string `yaml:"min_confidence"`
	// Sentinels are values never reported as pointers.
	Sentinels []Hex `yaml:"sentinels"`
}

// Hex is a uint64 that may be written in YAML as a decimal or 0x-prefixed
// number, quoted or not.
type Hex uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *Hex) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", n.Line)
	}
	v, err := strconv.ParseUint(strings.ReplaceAll(n.Value, "_", ""), 0, 64)
	if err != nil {
		return fmt.Errorf("line %d: bad number %q", n.Line, n.Value)
	}
	*h = Hex(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (h Hex) MarshalYAML() (any, error) {
	return fmt.Sprintf("%#x", uint64(h)), nil
}

// Default returns the default configuration.
func Default() *Config {
	log := logging.DefaultConfig()
	return &Config{
		Scan: ScanConfig{
			Arch:           "amd64",
			ValueAlignment: scan.DefaultValueAlignment,
			Workers:        1,
			MinConfidence:  scan.Low.String(),
		},
		Log: log,
	}
}

// Load reads the configuration at path on top of the defaults, applies
// environment overrides and validates the result. An empty path yields
// the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from MEMCART_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvMinConfidence); v != "" {
		c.Scan.MinConfidence = v
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvWorkers, v, err)
		}
		c.Scan.Workers = n
	}
	return nil
}

// Validate checks c for values the scanner would reject.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	s := &c.Scan
	if s.Arch != "" {
		if _, err := arch.ByName(s.Arch); err != nil {
			return fmt.Errorf("%w: scan.arch: %v", ErrInvalid, err)
		}
	}
	if s.Alignment < 0 || s.Alignment&(s.Alignment-1) != 0 {
		return fmt.Errorf("%w: scan.alignment %d is not a power of two", ErrInvalid, s.Alignment)
	}
	if v := s.ValueAlignment; v&(v-1) != 0 {
		return fmt.Errorf("%w: scan.value_alignment %d is not a power of two", ErrInvalid, v)
	}
	if s.Workers < 0 {
		return fmt.Errorf("%w: scan.workers %d is negative", ErrInvalid, s.Workers)
	}
	if _, err := scan.ParseConfidence(s.MinConfidence); s.MinConfidence != "" && err != nil {
		return fmt.Errorf("%w: scan.min_confidence: %v", ErrInvalid, err)
	}
	return nil
}

// Options converts c into classifier options.
func (s *ScanConfig) Options() scan.Options {
	opts := scan.Options{
		TreatNullAsPointer: s.TreatNullAsPointer,
		ValueAlignment:     s.ValueAlignment,
	}
	if c, err := scan.ParseConfidence(s.MinConfidence); err == nil {
		opts.MinConfidence = c
	}
	for _, v := range s.Sentinels {
		opts.Sentinels = append(opts.Sentinels, uint64(v))
	}
	return opts
}

// ScannerConfig returns the scanner configuration for a snapshot of
// architecture a. A nil a means the configured architecture.
func (s *ScanConfig) ScannerConfig(a *arch.Architecture) (scan.Config, error) {
	if a == nil && s.Arch != "" {
		var err error
		if a, err = arch.ByName(s.Arch); err != nil {
			return scan.Config{}, err
		}
	}
	return scan.Config{
		Arch:      a,
		Alignment: s.Alignment,
		Workers:   s.Workers,
		Options:   s.Options(),
	}, nil
}

// parseByteOrder parses "little" or "big".
func parseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(s) {
	case "", "little", "le", "little-endian":
		return binary.LittleEndian, nil
	case "big", "be", "big-endian":
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("unknown byte order %q", s)
}
