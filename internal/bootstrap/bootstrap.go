// Package bootstrap builds the wired object graph the commands share:
// logger, object store, governor, registries and the backup/restore
// managers. All wiring is by construction; there is no global container.
package bootstrap

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/INLOpen/nexusvault/backup"
	"github.com/INLOpen/nexusvault/compressors"
	"github.com/INLOpen/nexusvault/config"
	"github.com/INLOpen/nexusvault/core"
	"github.com/INLOpen/nexusvault/dbctl"
	"github.com/INLOpen/nexusvault/meta"
	"github.com/INLOpen/nexusvault/objectstore"
	"github.com/INLOpen/nexusvault/restore"
	"github.com/INLOpen/nexusvault/status"
	"github.com/INLOpen/nexusvault/throttle"
)

// BuildLogger constructs the process logger from the logging flags the
// commands expose.
func BuildLogger(level, output, file string) (*slog.Logger, func(), error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, nil, core.Errorf(core.KindConfig, "bootstrap.logger", "invalid log level %q", level)
	}

	cleanup := func() {}
	var out io.Writer = os.Stdout
	switch strings.ToLower(output) {
	case "", "stdout":
	case "none":
		out = io.Discard
	case "file":
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, core.NewError(core.KindConfig, "bootstrap.logger", err)
		}
		out = f
		cleanup = func() { f.Close() }
	default:
		return nil, nil, core.Errorf(core.KindConfig, "bootstrap.logger", "invalid log output %q", output)
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})), cleanup, nil
}

// BuildStore constructs the configured object-store driver.
func BuildStore(cfg *config.Config) (objectstore.Store, error) {
	multipart := objectstore.DefaultMultipart()
	if cfg.Store.MultipartThreshold > 0 {
		multipart.Threshold = cfg.Store.MultipartThreshold
	}
	if cfg.Store.MultipartPartSize > 0 {
		multipart.MinPartSize = cfg.Store.MultipartPartSize
	}
	switch cfg.Store.Driver {
	case "local":
		return objectstore.NewLocalStore(cfg.Store.LocalRoot)
	case "s3":
		return objectstore.NewS3Store(objectstore.S3Config{
			Region:         cfg.Store.Region,
			Endpoint:       cfg.Store.Endpoint,
			RequestTimeout: config.ParseDuration(cfg.Store.RequestTimeout, 2*time.Minute, nil),
			Multipart:      multipart,
		})
	default:
		return nil, core.Errorf(core.KindConfig, "bootstrap.store", "unknown store driver %q", cfg.Store.Driver)
	}
}

// Pipeline is the wired object graph.
type Pipeline struct {
	Config     *config.Config
	Location   core.Location
	Store      objectstore.Store
	Registry   *status.Registry
	Cache      *backup.FingerprintCache
	Gate       *core.Gate
	Control    dbctl.Control
	Backup     *backup.Manager
	Restore    *restore.Manager
	Pruner     *backup.Pruner
	Logger     *slog.Logger
	Metrics    *prometheus.Registry
}

// Build wires everything from validated configuration.
func Build(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc := cfg.Location()

	store, err := BuildStore(cfg)
	if err != nil {
		return nil, err
	}

	codecType, err := compressors.ParseType(cfg.Backup.CompressionCodec)
	if err != nil {
		return nil, err
	}
	codec, err := compressors.ForType(codecType)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	registry := status.NewRegistry(status.Options{
		Metrics:   status.NewMetrics(promReg),
		Retention: time.Duration(max(cfg.Backup.RetentionDays, 1)) * 24 * time.Hour,
	})

	governor := throttle.NewGovernor(throttle.Options{
		MaxConcurrentFiles:    int64(cfg.Backup.MaxConcurrentFiles),
		MaxConcurrentRestores: int64(cfg.Restore.MaxConcurrentRestores),
		BytesPerSec:           cfg.Backup.UploadRateBytes,
	})

	retry := objectstore.RetryPolicy{
		Attempts:  cfg.Backup.RetryAttempts,
		BaseDelay: config.ParseDuration(cfg.Backup.RetryBaseDelay, 500*time.Millisecond, logger),
		MaxDelay:  30 * time.Second,
	}

	control := dbctl.NewSerialized(dbctl.NewHTTPControl(
		cfg.DBControl.BaseURL,
		config.ParseDuration(cfg.DBControl.Timeout, 30*time.Second, logger),
	))

	gate := &core.Gate{}
	cache := backup.NewFingerprintCache()

	uploader := backup.NewUploader(backup.UploaderOptions{
		Store:       store,
		Codec:       codec,
		Governor:    governor,
		Registry:    registry,
		Cache:       cache,
		Retry:       retry,
		FileTimeout: config.ParseDuration(cfg.Backup.FileTimeout, time.Hour, logger),
		Logger:      logger,
	})
	discovery := backup.NewDiscovery(cfg.Backup.DataFileLocation, cfg.Backup.CommitLogLocation, loc, logger)
	backupMgr := backup.NewManager(backup.ManagerOptions{
		Location:     loc,
		Store:        store,
		Uploader:     uploader,
		Discovery:    discovery,
		Control:      control,
		Gate:         gate,
		Logger:       logger,
		RoundTimeout: config.ParseDuration(cfg.Backup.RoundTimeout, 6*time.Hour, logger),
	})

	executor := restore.NewExecutor(restore.ExecutorOptions{
		Store:        store,
		Codec:        codec,
		Governor:     governor,
		Registry:     registry,
		Control:      control,
		DataDir:      cfg.Backup.DataFileLocation,
		CommitLogDir: cfg.Backup.CommitLogLocation,
		Retry:        retry,
		Logger:       logger,
	})
	restoreMgr := restore.NewManager(store, loc, executor, gate, nil, logger)

	pruner := backup.NewPruner(store, loc, cfg.Backup.RetentionDays, nil, logger)

	return &Pipeline{
		Config:   cfg,
		Location: loc,
		Store:    store,
		Registry: registry,
		Cache:    cache,
		Gate:     gate,
		Control:  control,
		Backup:   backupMgr,
		Restore:  restoreMgr,
		Pruner:   pruner,
		Logger:   logger,
		Metrics:  promReg,
	}, nil
}

// ExitCode maps an error to the documented one-shot exit codes: 0
// success, 2 configuration error, 3 manifest not found, 4 object-store
// permanent failure, 5 partial failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if isNoManifest(err) {
		return 3
	}
	switch core.KindOf(err) {
	case core.KindConfig:
		return 2
	case core.KindRemotePermanent:
		return 4
	case core.KindManifestBroken:
		return 3
	default:
		return 5
	}
}

func isNoManifest(err error) bool {
	return errors.Is(err, meta.ErrNoManifest)
}
