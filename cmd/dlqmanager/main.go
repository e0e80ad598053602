package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"example.com/scheduling/internal/config"
	"example.com/scheduling/internal/logger"
	"example.com/scheduling/internal/outbox"
	httptransport "example.com/scheduling/internal/transport/http"
)

const defaultDLQBatchSize = 50

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal("failed to connect to postgres", "error", err)
	}
	defer pool.Close()

	manager := outbox.NewDLQManager(pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay, log.With("component", "dlq_manager"))

	metricsCfg := httptransport.DefaultServerConfig(cfg.MetricsAddress)
	metricsSrv := httptransport.NewServer(metricsCfg, promhttp.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httptransport.Serve(gctx, metricsSrv, metricsCfg.ShutdownTimeout, log)
	})
	g.Go(func() error {
		runLoop(gctx, manager, cfg.DLQPollInterval, log)
		return nil
	})

	log.Info("dlq manager started", "interval", cfg.DLQPollInterval, "max_retries", cfg.DLQMaxRetries)
	if err := g.Wait(); err != nil {
		log.Error("dlq manager exited", "error", err)
		return
	}
	log.Info("dlq manager stopped")
}

func runLoop(ctx context.Context, manager *outbox.DLQManager, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, err := manager.RunOnce(ctx, defaultDLQBatchSize)
			if err != nil {
				log.Error("dlq manager error", "error", err)
			} else if processed > 0 {
				log.Info("dlq manager processed entries", "count", processed)
			}
		}
	}
}
