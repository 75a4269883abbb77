package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/INLOpen/nexusvault/backup"
	"github.com/INLOpen/nexusvault/config"
	"github.com/INLOpen/nexusvault/internal/bootstrap"
)

func main() {
	configPath := flag.String("config", "nexusvault.yaml", "Path to the configuration file")
	mode := flag.String("mode", "snapshot", "Round type: snapshot or incremental")
	primeCache := flag.Bool("prime-cache", true, "Prime the dedup cache from the remote listing before the round")
	timeout := flag.Duration("timeout", 12*time.Hour, "Overall round timeout")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	logOutput := flag.String("log-output", "stdout", "Log output (stdout, file, none)")
	logFile := flag.String("log-file", "backup-util.log", "Path to log file if output is 'file'")
	flag.Parse()

	logger, cleanup, err := bootstrap.BuildLogger(*logLevel, *logOutput, *logFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer cleanup()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration.", "path", *configPath, "error", err)
		os.Exit(2)
	}

	pipeline, err := bootstrap.Build(cfg, logger)
	if err != nil {
		logger.Error("Failed to build pipeline.", "error", err)
		os.Exit(bootstrap.ExitCode(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *primeCache {
		primed, err := pipeline.Cache.Prime(ctx, pipeline.Store, pipeline.Location)
		if err != nil {
			logger.Warn("Priming the dedup cache failed; continuing without it.", "error", err)
		} else {
			logger.Info("Dedup cache primed.", "objects", primed)
		}
	}

	var result *backup.RoundResult
	switch *mode {
	case "snapshot":
		result, err = pipeline.Backup.RunSnapshotRound(ctx)
	case "incremental":
		result, err = pipeline.Backup.RunIncrementalRound(ctx)
	default:
		logger.Error("Unknown mode.", "mode", *mode)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Backup round failed.", "error", err)
		os.Exit(bootstrap.ExitCode(err))
	}

	logger.Info("Backup round finished.",
		"round_id", result.RoundID, "outcome", string(result.Outcome),
		"uploaded", result.Uploaded, "skipped", result.Skipped,
		"failed", len(result.FailedKeys), "manifest", result.ManifestKey)
	if result.Outcome == backup.RoundPartialFailure {
		os.Exit(5)
	}
}
