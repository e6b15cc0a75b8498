package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/mmextents/core/extents"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mmextents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logger:
  level: debug
  format: json
telemetry:
  enabled: true
  prometheus_port: 9464
extents:
  page_size: 2097152
  contiguity: physical_only
  memory_limit_bytes: 65536
replay:
  rate_per_second: 500
  burst: 10
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, "stderr", cfg.Logger.OutputFile, "unset fields keep defaults")
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, 9464, cfg.Telemetry.PrometheusPort)
	require.Equal(t, uint64(2<<20), cfg.Extents.PageSize)
	require.Equal(t, 32, cfg.Extents.Degree)
	require.Equal(t, 500.0, cfg.Replay.RatePerSecond)

	x, err := extents.NewExtentIndex(cfg.Extents.IndexOptions()...)
	require.NoError(t, err)
	require.Equal(t, uint64(2<<20), x.PageSize())
	require.Equal(t, extents.PhysicalOnly, x.Policy())
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse(strings.NewReader("extents:\n  page_size: 3000\n  contiguity: sideways\n"))
	require.Error(t, err)
	require.ErrorIs(t, err, extents.ErrInvalidPageSize)
	require.Contains(t, err.Error(), "sideways")

	_, err = Parse(strings.NewReader("extents:\n  pagesize: 4096\n"))
	require.Error(t, err, "unknown keys are rejected")

	_, err = Parse(strings.NewReader("replay:\n  burst: 0\n"))
	require.Error(t, err)

	_, err = Parse(strings.NewReader("logger:\n  format: xml\n"))
	require.ErrorContains(t, err, "logger: unknown log format")
}

func TestParse_LoggerServiceAndSampling(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
logger:
  service: replay-worker
  sampling:
    initial: 5
    thereafter: 100
`))
	require.NoError(t, err)
	require.Equal(t, "replay-worker", cfg.Logger.Service)
	require.NotNil(t, cfg.Logger.Sampling)
	require.Equal(t, 5, cfg.Logger.Sampling.Initial)
	require.Equal(t, 100, cfg.Logger.Sampling.Thereafter)
	require.Equal(t, "console", cfg.Logger.Format, "unset fields keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
