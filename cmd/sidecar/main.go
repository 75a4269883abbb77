package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/nexusvault/config"
	"github.com/INLOpen/nexusvault/internal/bootstrap"
	"github.com/INLOpen/nexusvault/scheduler"
)

func main() {
	configPath := flag.String("config", "nexusvault.yaml", "Path to the configuration file")
	statusAddr := flag.String("status-addr", ":8778", "Status/metrics listen address, empty to disable")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	logOutput := flag.String("log-output", "stdout", "Log output (stdout, file, none)")
	logFile := flag.String("log-file", "nexusvault.log", "Path to log file if output is 'file'")
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
		os.Exit(2)
	}
	logger.Info("Sidecar starting.", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if primed, err := pipeline.Cache.Prime(ctx, pipeline.Store, pipeline.Location); err != nil {
		logger.Warn("Priming the dedup cache failed; uploads will not be skipped.", "error", err)
	} else {
		logger.Info("Dedup cache primed.", "objects", primed)
	}

	snapshotSchedule, err := scheduler.Parse(cfg.Backup.SnapshotSchedule)
	if err != nil {
		logger.Error("Invalid snapshot schedule.", "schedule", cfg.Backup.SnapshotSchedule, "error", err)
		os.Exit(2)
	}

	g, gctx := errgroup.WithContext(ctx)

	snapshotDriver := scheduler.New(snapshotSchedule, func(jobCtx context.Context) {
		if _, err := pipeline.Backup.RunSnapshotRound(jobCtx); err != nil {
			logger.Error("Scheduled snapshot round failed.", "error", err)
		}
	}, logger)
	g.Go(func() error {
		snapshotDriver.Run(gctx)
		return nil
	})

	if cfg.Backup.IncrementalEnabled {
		poll := config.ParseDuration(cfg.Backup.IncrementalPoll, 30*time.Second, logger)
		g.Go(func() error {
			ticker := time.NewTicker(poll)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if _, err := pipeline.Backup.RunIncrementalRound(gctx); err != nil {
						logger.Debug("Incremental round not run.", "error", err)
					}
				}
			}
		})
	}

	if cfg.Backup.RetentionDays > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if _, err := pipeline.Pruner.Prune(gctx); err != nil {
						logger.Warn("Retention pruning failed.", "error", err)
					}
				}
			}
		})
	}

	if *statusAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(pipeline.Metrics, promhttp.HandlerOpts{}))
		mux.HandleFunc("/status/transfers", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(pipeline.Registry.Snapshot())
		})
		mux.HandleFunc("/status/events", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(pipeline.Registry.Events())
		})
		srv := &http.Server{Addr: *statusAddr, Handler: mux}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			logger.Info("Status server listening.", "addr", *statusAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Sidecar exited with error.", "error", err)
		os.Exit(1)
	}
	logger.Info("Sidecar stopped.")
}
