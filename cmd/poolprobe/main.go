// Command poolprobe exercises a single mysqlasync pool against a real
// MySQL endpoint: it periodically acquires and releases a connection, and serves the
// pool's stats/metrics surface until signaled to stop.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mysqlasync/pool/internal/config"
	"github.com/mysqlasync/pool/internal/metrics"
	"github.com/mysqlasync/pool/internal/pool"
	"github.com/mysqlasync/pool/internal/session"
	"github.com/mysqlasync/pool/internal/statsapi"
)

func main() {
	configPath := flag.String("config", "configs/poolprobe.yaml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	slog.Info("poolprobe starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded", "path", *configPath, "pool", cfg.Pool.Redacted())

	poolCfg, err := cfg.Pool.ToPoolConfig()
	if err != nil {
		slog.Error("failed to build pool config", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	p := pool.New(poolCfg, pool.WithMetrics(m))

	stats := statsapi.NewServer(p, m)
	if err := stats.Start(cfg.API.Bind, cfg.API.Port); err != nil {
		slog.Error("failed to start stats API", "error", err)
		os.Exit(1)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		slog.Info("configuration reload observed; poolprobe does not re-home a live pool",
			"pool", newCfg.Pool.Redacted())
	})
	if err != nil {
		slog.Warn("config hot-reload not available", "error", err)
	}

	stopProbe := make(chan struct{})
	go runProbeLoop(p, stopProbe)

	slog.Info("poolprobe ready", "bind", cfg.API.Bind, "port", cfg.API.Port, "capacity", poolCfg.Capacity)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig.String())

	close(stopProbe)
	if configWatcher != nil {
		configWatcher.Stop()
	}
	if err := stats.Stop(); err != nil {
		slog.Warn("stats API shutdown error", "error", err)
	}

	slog.Info("poolprobe stopped")
}

// runProbeLoop periodically borrows and immediately releases a connection,
// driving the pool's SetupStateMachine the way a real caller would.
func runProbeLoop(p *pool.Pool, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			diag := &session.Diagnostics{}
			bc, err := p.GetConnection(ctx, diag)
			cancel()
			if err != nil {
				slog.Warn("probe acquisition failed", "error", err, "diagnostics", diag)
				continue
			}
			bc.Release()
		}
	}
}
