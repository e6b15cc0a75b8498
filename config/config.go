// Package config loads the YAML configuration shared by the mmextents
// binaries.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sushant-115/mmextents/core/extents"
	"github.com/sushant-115/mmextents/pkg/logger"
	"github.com/sushant-115/mmextents/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// ExtentsConfig configures every extent index a process creates.
type ExtentsConfig struct {
	// PageSize is the coalescing granularity in bytes. Must be a power of two.
	PageSize uint64 `yaml:"page_size"`
	// Contiguity is "require_virtual" (default) or "physical_only".
	Contiguity string `yaml:"contiguity"`
	// MemoryLimitBytes caps bookkeeping memory per address space. Zero means
	// unlimited.
	MemoryLimitBytes uint64 `yaml:"memory_limit_bytes"`
	// Degree is the B-tree degree of the index.
	Degree int `yaml:"degree"`
}

// ReplayConfig configures fault trace replay.
type ReplayConfig struct {
	// RatePerSecond limits replayed faults per second. Zero means unlimited.
	RatePerSecond float64 `yaml:"rate_per_second"`
	// Burst is the limiter burst size.
	Burst int `yaml:"burst"`
}

// Config is the root of the configuration file.
type Config struct {
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Extents   ExtentsConfig    `yaml:"extents"`
	Replay    ReplayConfig     `yaml:"replay"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
			Service:    logger.DefaultService,
		},
		Telemetry: telemetry.Config{
			ServiceName: "mmextents",
		},
		Extents: ExtentsConfig{
			PageSize:   extents.DefaultPageSize,
			Contiguity: extents.RequireVirtual.String(),
			Degree:     32,
		},
		Replay: ReplayConfig{
			Burst: 1,
		},
	}
}

// Load reads path and overlays it on Default. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r over the defaults and validates the result.
func Parse(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to decode yaml: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values the index and replayer would otherwise reject
// later.
func (c Config) Validate() error {
	var errs []error
	if err := c.Logger.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logger: %w", err))
	}
	if c.Extents.PageSize == 0 || c.Extents.PageSize&(c.Extents.PageSize-1) != 0 {
		errs = append(errs, fmt.Errorf("extents.page_size: %w", extents.ErrInvalidPageSize))
	}
	if _, err := extents.ParseContiguityPolicy(c.Extents.Contiguity); err != nil {
		errs = append(errs, fmt.Errorf("extents.contiguity: %w", err))
	}
	if c.Extents.Degree < 2 {
		errs = append(errs, fmt.Errorf("extents.degree must be at least 2, got %d", c.Extents.Degree))
	}
	if c.Replay.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("replay.rate_per_second must not be negative"))
	}
	if c.Replay.Burst < 1 {
		errs = append(errs, fmt.Errorf("replay.burst must be at least 1, got %d", c.Replay.Burst))
	}
	return errors.Join(errs...)
}

// IndexOptions turns the extents section into index options.
func (c ExtentsConfig) IndexOptions() []extents.Option {
	policy, _ := extents.ParseContiguityPolicy(c.Contiguity)
	opts := []extents.Option{
		extents.WithPageSize(c.PageSize),
		extents.WithContiguity(policy),
		extents.WithDegree(c.Degree),
	}
	if c.MemoryLimitBytes > 0 {
		opts = append(opts, extents.WithAllocator(extents.NewQuotaAllocator(c.MemoryLimitBytes)))
	}
	return opts
}
