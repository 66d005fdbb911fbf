// Transaction blaster CLI. Loads a pool of private keys, splits the
// requested transaction count across it and fires everything at a single
// target contract on the configured chain.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/cryptondee/megaeth/internal/blaster"
	"github.com/cryptondee/megaeth/internal/config"
	"github.com/cryptondee/megaeth/internal/metrics"
	"github.com/cryptondee/megaeth/internal/report"
	"github.com/cryptondee/megaeth/internal/rpc"
	"github.com/cryptondee/megaeth/internal/watcher"
)

func main() {
	// Optional .env in the working directory; real env and flags still win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ccfg := rpc.DefaultClientConfig(cfg.RPCURL)
	ccfg.Logger = logger
	client := rpc.NewHTTPClient(ccfg)

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		m = m.WithPrometheus(metrics.NewPromMetrics(nil))
		go metrics.ListenAndServe(cfg.MetricsAddr, logger)
	}

	eng, err := blaster.New(cfg, client, m, logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(2)
	}

	ctx := context.Background()

	if cfg.DryRun {
		if err := eng.CheckChain(ctx); err != nil {
			logger.Error("preflight failed", "error", err)
			os.Exit(1)
		}
		prep, err := eng.Prepare(ctx)
		if err != nil {
			logger.Error("planning failed", "error", err)
			os.Exit(1)
		}
		eng.CheckBalances(ctx, prep)
		report.PrintPlan(os.Stdout, prep.Plan, eng.EstimatedCost(prep.Plan.Total))
		return
	}

	var w *watcher.Watcher
	if cfg.WSURL != "" {
		w = watcher.New(cfg.WSURL, logger)
		go w.Run(ctx)
	}

	sum, runErr := eng.Run(ctx)
	if w != nil {
		w.Stop()
		if sum != nil {
			sum.Blocks = w.Stats()
		}
	}

	if sum != nil {
		report.PrintSummary(os.Stdout, sum)
	}
	if runErr != nil {
		logger.Error("run failed", "error", runErr)
		os.Exit(1)
	}
}
