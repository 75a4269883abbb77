package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusvault/core"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.Store.Driver)
	assert.Equal(t, 4, cfg.Backup.MaxConcurrentFiles)
	assert.Equal(t, "snappy", cfg.Backup.CompressionCodec)
	assert.True(t, cfg.Backup.IncrementalEnabled)
	assert.Equal(t, int64(0), cfg.Backup.UploadRateBytes)
}

func TestLoadOverridesDefaults(t *testing.T) {
	doc := `
identity:
  app_name: Prod
  token: "170141183460469"
  region: us-east-1
store:
  driver: local
  backup_location: bucket
  backup_prefix: p
  local_root: /tmp/objstore
backup:
  max_concurrent_files: 8
  compression_codec: lzf
  upload_rate_bytes_per_sec: 1000000
`
	cfg, err := Load(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "Prod", cfg.Identity.AppName)
	assert.Equal(t, 8, cfg.Backup.MaxConcurrentFiles)
	assert.Equal(t, "lzf", cfg.Backup.CompressionCodec)
	assert.Equal(t, int64(1000000), cfg.Backup.UploadRateBytes)
	// Untouched keys keep their defaults.
	assert.Equal(t, 4, cfg.Restore.MaxConcurrentRestores)

	require.NoError(t, cfg.Validate())
	loc := cfg.Location()
	assert.Equal(t, "bucket/p/dorP/170141183460469", loc.TokenPrefix())
}

func TestLoadConfigMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/nexusvault.yaml")
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.Store.Driver)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(nil)
		require.NoError(t, err)
		cfg.Identity.AppName = "Test"
		cfg.Identity.Token = "100"
		cfg.Store.BackupLocation = "b"
		return cfg
	}

	cases := map[string]func(*Config){
		"missing_token":     func(c *Config) { c.Identity.Token = "" },
		"missing_location":  func(c *Config) { c.Store.BackupLocation = "" },
		"bad_driver":        func(c *Config) { c.Store.Driver = "ftp" },
		"zero_concurrency":  func(c *Config) { c.Backup.MaxConcurrentFiles = 0 },
		"negative_rate":     func(c *Config) { c.Backup.UploadRateBytes = -1 },
		"zero_retries":      func(c *Config) { c.Backup.RetryAttempts = 0 },
		"bad_delay":         func(c *Config) { c.Backup.RetryBaseDelay = "soon" },
		"local_needs_root":  func(c *Config) { c.Store.Driver = "local"; c.Store.LocalRoot = "" },
		"negative_retention": func(c *Config) { c.Backup.RetentionDays = -7 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, core.KindConfig, core.KindOf(err))
		})
	}

	require.NoError(t, base().Validate())
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute, nil))
	assert.Equal(t, time.Minute, ParseDuration("bogus", time.Minute, nil))
	assert.Equal(t, 5*time.Second, ParseDuration("5s", time.Minute, nil))
}
