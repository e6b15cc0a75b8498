// Package logger builds the zap loggers used by mmextents binaries and
// names the per-component loggers handed to the libraries.
package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultService is stamped on every entry when Config.Service is empty.
const DefaultService = "mmextents"

// Config holds all the configuration for the logger.
type Config struct {
	// Level sets the minimum log level (e.g., "debug", "info", "warn", "error").
	// Unknown values fall back to info.
	Level string `yaml:"level"`
	// Format is "json" (default) or "console".
	Format string `yaml:"format"`
	// OutputFile is a path, or "stdout"/"stderr".
	OutputFile string `yaml:"output_file"`
	// Service is the value of the "service" field on every entry.
	Service string `yaml:"service"`
	// Sampling throttles repeated entries. Trace replay can warn once per
	// rejected fault, which floods the output on a bad trace.
	Sampling *SamplingConfig `yaml:"sampling"`
}

// SamplingConfig keeps the first Initial entries with the same level and
// message each second, then every Thereafter-th one.
type SamplingConfig struct {
	Initial    int `yaml:"initial"`
	Thereafter int `yaml:"thereafter"`
}

// Validate rejects formats and sampling settings New cannot honour.
func (c Config) Validate() error {
	switch strings.ToLower(c.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	if c.Sampling != nil && (c.Sampling.Initial < 1 || c.Sampling.Thereafter < 0) {
		return fmt.Errorf("log sampling needs initial >= 1 and thereafter >= 0, got %d/%d",
			c.Sampling.Initial, c.Sampling.Thereafter)
	}
	return nil
}

// New creates the root logger. It's designed to be called once at
// application startup.
func New(config Config) (*zap.Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(config.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	writeSyncer, err := getWriteSyncer(config.OutputFile)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(getEncoder(config.Format), writeSyncer, logLevel)
	if s := config.Sampling; s != nil {
		core = zapcore.NewSamplerWithOptions(core, time.Second, s.Initial, s.Thereafter)
	}

	service := config.Service
	if service == "" {
		service = DefaultService
	}
	return zap.New(core, zap.AddCaller(), zap.Fields(zap.String("service", service))), nil
}

// Component returns the logger a library component logs through: base
// named after the component, or a no-op logger when base is nil.
func Component(base *zap.Logger, name string) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.Named(name)
}

func getEncoder(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	if strings.ToLower(format) == "console" {
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

func getWriteSyncer(outputFile string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(outputFile) {
	case "stdout", "":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	default:
		file, err := os.OpenFile(outputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", outputFile, err)
		}
		return zapcore.AddSync(file), nil
	}
}
