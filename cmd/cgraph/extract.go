// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/cgraph/internal/errors"
	"github.com/kraklabs/cgraph/internal/ui"
	"github.com/kraklabs/cgraph/pkg/ingestion"
)

// runExtract executes the 'extract' CLI command: it builds (or
// incrementally updates) the code knowledge graph for the configured
// source tree.
//
// Flags:
//   - --full: force a full extraction, ignoring any prior snapshot
//   - --debug: enable debug logging
//   - --metrics-addr: HTTP address for Prometheus metrics (empty disables)
func runExtract(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	full := fs.Bool("full", false, "Force a full re-extraction, ignoring any prior snapshot")
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
	workers := fs.Int("workers", 0, "Worker count stored in the run's config (files are processed one at a time)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: cgraph extract [options]

Description:
  Extract the code knowledge graph for the configured source tree.
  Runs incrementally by default: only files changed since the last run
  (by git delta, or by content hash where git is unavailable) are
  re-processed. Use --full to force a complete re-extraction.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  cgraph extract
  cgraph extract --full
  cgraph extract --debug --metrics-addr :9090

`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfigOrFatal(configPath, globals)
	if *workers > 0 {
		cfg.Workers = *workers
	}

	logLevel := slog.LevelInfo
	if *debug || globals.Verbose >= 2 {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ingestion.RegisterMetrics()
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("extract.metrics_server_failed", "err", err)
			}
		}()
		defer server.Close()
		ui.Infof("Prometheus metrics on %s/metrics", *metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if globals.Quiet || total == 0 {
			return
		}
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("extracting"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(done)
	}

	if *full {
		result, err := ingestion.RunFull(ctx, cfg, logger, progress)
		if err != nil {
			errors.FatalError(errors.NewInternalError("extraction failed: %v", err), globals.JSON)
		}
		printExtractResult(result, nil, time.Since(start), globals)
		return
	}

	fullResult, incremental, err := ingestion.Run(ctx, cfg, logger, progress)
	if err != nil {
		errors.FatalError(errors.NewInternalError("extraction failed: %v", err), globals.JSON)
	}
	printExtractResult(fullResult, incremental, time.Since(start), globals)
}

func printExtractResult(full *ingestion.Result, incremental *ingestion.IncrementalResult, elapsed time.Duration, globals GlobalFlags) {
	if globals.Quiet {
		return
	}
	if incremental != nil {
		if !incremental.Changed {
			ui.Info("No changes detected; graph is up to date.")
			return
		}
		ui.Header("Incremental extraction complete")
		fmt.Printf("  Files added:      %s\n", ui.CountText(incremental.FilesAdded))
		fmt.Printf("  Files modified:   %s\n", ui.CountText(incremental.FilesModified))
		fmt.Printf("  Files deleted:    %s\n", ui.CountText(incremental.FilesDeleted))
		fmt.Printf("  Files renamed:    %s\n", ui.CountText(incremental.FilesRenamed))
		fmt.Printf("  Entities added:   %s\n", ui.CountText(incremental.EntitiesAdded))
		fmt.Printf("  Entities purged:  %s\n", ui.CountText(incremental.EntitiesPurged))
		fmt.Printf("  Relations:        %s\n", ui.CountText(incremental.Relations))
		ui.Infof("Done in %s", elapsed.Round(time.Millisecond))
		return
	}
	if full != nil {
		ui.Header("Extraction complete")
		fmt.Printf("  Files discovered: %s\n", ui.CountText(full.FilesDiscovered))
		fmt.Printf("  Files parsed:     %s\n", ui.CountText(full.FilesParsed))
		fmt.Printf("  Files failed:     %s\n", ui.CountText(full.FilesFailed))
		fmt.Printf("  Entities:         %s\n", ui.CountText(full.Entities))
		fmt.Printf("  Relations:        %s\n", ui.CountText(full.Relations))
		ui.Infof("Done in %s", elapsed.Round(time.Millisecond))
	}
}
