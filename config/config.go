package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/INLOpen/nexusvault/core"
)

// IdentityConfig names the node on the ring and in the key layout.
type IdentityConfig struct {
	AppName string `yaml:"app_name"`
	Token   string `yaml:"token"`
	Region  string `yaml:"region"`
}

// StoreConfig selects and tunes the object-store driver.
type StoreConfig struct {
	// Driver is "s3" or "local".
	Driver             string `yaml:"driver"`
	BackupLocation     string `yaml:"backup_location"`
	BackupPrefix       string `yaml:"backup_prefix"`
	Region             string `yaml:"region"`
	Endpoint           string `yaml:"endpoint"`
	LocalRoot          string `yaml:"local_root"`
	RequestTimeout     string `yaml:"request_timeout"`
	MultipartThreshold int64  `yaml:"multipart_threshold"`
	MultipartPartSize  int64  `yaml:"multipart_part_size"`
}

// BackupConfig tunes the upload pipeline.
type BackupConfig struct {
	DataFileLocation   string `yaml:"data_file_location"`
	CommitLogLocation  string `yaml:"commit_log_location"`
	SnapshotSchedule   string `yaml:"snapshot_schedule"`
	IncrementalEnabled bool   `yaml:"incremental_enabled"`
	IncrementalPoll    string `yaml:"incremental_poll"`
	MaxConcurrentFiles int    `yaml:"max_concurrent_files"`
	UploadRateBytes    int64  `yaml:"upload_rate_bytes_per_sec"`
	CompressionCodec   string `yaml:"compression_codec"`
	RetryAttempts      int    `yaml:"retry_attempts"`
	RetryBaseDelay     string `yaml:"retry_base_delay"`
	RetentionDays      int    `yaml:"retention_days"`
	RoundTimeout       string `yaml:"round_timeout"`
	FileTimeout        string `yaml:"file_timeout"`
}

// RestoreConfig tunes the restore executor.
type RestoreConfig struct {
	MaxConcurrentRestores int `yaml:"max_concurrent_restores"`
}

// DBControlConfig points at the node's admin channel.
type DBControlConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Output string `yaml:"output"` // "stdout", "file", "none"
	File   string `yaml:"file"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Config is the top-level configuration struct.
type Config struct {
	Identity  IdentityConfig  `yaml:"identity"`
	Store     StoreConfig     `yaml:"store"`
	Backup    BackupConfig    `yaml:"backup"`
	Restore   RestoreConfig   `yaml:"restore"`
	DBControl DBControlConfig `yaml:"db_control"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ParseDuration parses a duration string. Returns the default duration if
// the string is empty or invalid; logs a warning when invalid.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Location builds the key-layout identity from the configuration.
func (c *Config) Location() core.Location {
	return core.Location{
		BaseDir:     c.Store.BackupLocation,
		Prefix:      c.Store.BackupPrefix,
		ClusterName: c.Identity.AppName,
		Token:       c.Identity.Token,
		Region:      c.Identity.Region,
	}
}

// Load reads configuration from an io.Reader over defaults. This is the
// core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	cfg := &Config{
		Identity: IdentityConfig{
			AppName: "nexusvault",
		},
		Store: StoreConfig{
			Driver:             "s3",
			BackupPrefix:       "backups",
			RequestTimeout:     "2m",
			MultipartThreshold: 64 << 20,
			MultipartPartSize:  16 << 20,
		},
		Backup: BackupConfig{
			DataFileLocation:   "/var/lib/nexus/data",
			CommitLogLocation:  "/var/lib/nexus/commitlog",
			SnapshotSchedule:   "@interval 24h",
			IncrementalEnabled: true,
			IncrementalPoll:    "30s",
			MaxConcurrentFiles: 4,
			UploadRateBytes:    0,
			CompressionCodec:   "snappy",
			RetryAttempts:      4,
			RetryBaseDelay:     "500ms",
			RetentionDays:      0,
			RoundTimeout:       "6h",
			FileTimeout:        "1h",
		},
		Restore: RestoreConfig{
			MaxConcurrentRestores: 4,
		},
		DBControl: DBControlConfig{
			BaseURL: "http://127.0.0.1:7199",
			Timeout: "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "nexusvault.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
		},
	}

	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, core.NewError(core.KindConfig, "config.load", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, core.NewError(core.KindConfig, "config.load", err)
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path. A missing file
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, core.NewError(core.KindConfig, "config.open", err)
	}
	defer file.Close()

	return Load(file)
}

// Validate rejects configurations the pipeline cannot run with. Config
// errors are fatal at startup.
func (c *Config) Validate() error {
	const op = "config.validate"
	if c.Identity.AppName == "" {
		return core.Errorf(core.KindConfig, op, "identity.app_name must be set")
	}
	if c.Identity.Token == "" {
		return core.Errorf(core.KindConfig, op, "identity.token must be set")
	}
	if c.Store.BackupLocation == "" {
		return core.Errorf(core.KindConfig, op, "store.backup_location must be set")
	}
	switch c.Store.Driver {
	case "s3", "local":
	default:
		return core.Errorf(core.KindConfig, op, "store.driver %q is not one of s3, local", c.Store.Driver)
	}
	if c.Store.Driver == "local" && c.Store.LocalRoot == "" {
		return core.Errorf(core.KindConfig, op, "store.local_root must be set for the local driver")
	}
	if c.Backup.MaxConcurrentFiles < 1 {
		return core.Errorf(core.KindConfig, op, "backup.max_concurrent_files must be >= 1, got %d", c.Backup.MaxConcurrentFiles)
	}
	if c.Restore.MaxConcurrentRestores < 1 {
		return core.Errorf(core.KindConfig, op, "restore.max_concurrent_restores must be >= 1, got %d", c.Restore.MaxConcurrentRestores)
	}
	if c.Backup.UploadRateBytes < 0 {
		return core.Errorf(core.KindConfig, op, "backup.upload_rate_bytes_per_sec must be >= 0")
	}
	if c.Backup.RetryAttempts < 1 {
		return core.Errorf(core.KindConfig, op, "backup.retry_attempts must be >= 1")
	}
	if c.Backup.RetentionDays < 0 {
		return core.Errorf(core.KindConfig, op, "backup.retention_days must be >= 0")
	}
	if _, err := time.ParseDuration(c.Backup.RetryBaseDelay); err != nil {
		return core.Errorf(core.KindConfig, op, "backup.retry_base_delay: %v", err)
	}
	return nil
}

// String renders a redaction-safe summary for startup logging.
func (c *Config) String() string {
	return fmt.Sprintf("app=%s token=%s store=%s location=%s/%s codec=%s",
		c.Identity.AppName, c.Identity.Token, c.Store.Driver,
		c.Store.BackupLocation, c.Store.BackupPrefix, c.Backup.CompressionCodec)
}
