package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "median", cfg.DefaultStrategy)
	assert.Equal(t, 8, cfg.AggregationWorkers)
	assert.Equal(t, "auto", cfg.ExportEncoding)
	assert.Equal(t, 24*time.Hour, cfg.RunCacheTTL)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, rune(0), cfg.Delimiter())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DEFAULT_STRATEGY", "nearest")
	t.Setenv("AGGREGATION_WORKERS", "3")
	t.Setenv("EXPORT_DELIMITER", "|")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("RUN_CACHE_TTL", "90m")

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "nearest", cfg.DefaultStrategy)
	assert.Equal(t, 3, cfg.AggregationWorkers)
	assert.Equal(t, '|', cfg.Delimiter())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 90*time.Minute, cfg.RunCacheTTL)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFrom(viper.New())
		require.NoError(t, err)
		return cfg
	}

	cases := map[string]func(*Config){
		"strategy":  func(c *Config) { c.DefaultStrategy = "mode" },
		"workers":   func(c *Config) { c.AggregationWorkers = 0 },
		"encoding":  func(c *Config) { c.ExportEncoding = "latin-9" },
		"delimiter": func(c *Config) { c.ExportDelimiter = "," },
		"s3":        func(c *Config) { c.S3Bucket = "exports" },
		"codec":     func(c *Config) { c.ArtifactCompression = "gzip" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFileReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DEFAULT_STRATEGY=last\nAGGREGATION_WORKERS=2\n"), 0o600))

	cfg, err := LoadFile(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "last", cfg.DefaultStrategy)
	assert.Equal(t, 2, cfg.AggregationWorkers)
}

func TestLoadFileToleratesMissingEnvFile(t *testing.T) {
	cfg, err := LoadFile(viper.New(), filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	assert.Equal(t, "median", cfg.DefaultStrategy)
}

func TestLoadFileRejectsBrokenEnvFile(t *testing.T) {
	dir := t.TempDir()
	malformed := filepath.Join(dir, "malformed.env")
	require.NoError(t, os.WriteFile(malformed, []byte("DEFAULT_STRATEGY=last\nthis line has no assignment\n"), 0o600))

	for name, path := range map[string]string{
		"malformed":    malformed,
		"is directory": dir,
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadFile(viper.New(), path)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), path)
		})
	}
}
