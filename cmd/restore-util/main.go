package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/INLOpen/nexusvault/config"
	"github.com/INLOpen/nexusvault/core"
	"github.com/INLOpen/nexusvault/internal/bootstrap"
	"github.com/INLOpen/nexusvault/restore"
)

func main() {
	configPath := flag.String("config", "nexusvault.yaml", "Path to the configuration file")
	targetTime := flag.String("time", "", "Restore target instant, yyyyMMddHHmm UTC (required)")
	keyspace := flag.String("keyspace", "", "Restrict the restore to one keyspace")
	columnFamily := flag.String("column-family", "", "Restrict the restore to one column family")
	timeout := flag.Duration("timeout", 12*time.Hour, "Overall restore timeout")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	logOutput := flag.String("log-output", "stdout", "Log output (stdout, file, none)")
	logFile := flag.String("log-file", "restore-util.log", "Path to log file if output is 'file'")
	flag.Parse()

	if *targetTime == "" {
		fmt.Println("Usage: restore-util -config <path> -time <yyyyMMddHHmm> [-keyspace ks] [-column-family cf]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger, cleanup, err := bootstrap.BuildLogger(*logLevel, *logOutput, *logFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer cleanup()

	target, err := core.ParseTime(*targetTime)
	if err != nil {
		logger.Error("Invalid target time.", "input", *targetTime, "error", err)
		os.Exit(2)
	}

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

	result, err := pipeline.Restore.Restore(ctx, target, restore.Filter{
		Keyspace:     *keyspace,
		ColumnFamily: *columnFamily,
	})
	if err != nil {
		logger.Error("Restore failed.", "error", err)
		os.Exit(bootstrap.ExitCode(err))
	}

	logger.Info("Restore completed successfully.",
		"restore_id", result.RestoreID, "fetched", result.Fetched, "skipped", result.Skipped)
}
