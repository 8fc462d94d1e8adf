package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/skadi/internal"
	"github.com/dukerupert/skadi/internal/currency"
	"github.com/dukerupert/skadi/internal/jobs"
	"github.com/dukerupert/skadi/internal/postgres"
	"github.com/dukerupert/skadi/internal/registrar"
	"github.com/dukerupert/skadi/internal/service"
	"github.com/dukerupert/skadi/internal/telemetry"
	"github.com/dukerupert/skadi/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Connect to the database and ensure the schema exists
	logger.Info("Connecting to database...")
	pool, err := postgres.NewPool(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	if err := postgres.ApplySchema(ctx, pool); err != nil {
		return fmt.Errorf("schema setup failed: %w", err)
	}
	logger.Info("Database connection established")

	store := postgres.NewStore(pool)

	// Connect to NATS if configured; the worker degrades to pure polling
	// without it
	var nc *nats.Conn
	if cfg.NatsUrl != "" {
		nc, err = nats.Connect(cfg.NatsUrl,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return fmt.Errorf("nats connection failed: %w", err)
		}
		defer nc.Drain()
		logger.Info("NATS connection established", "url", cfg.NatsUrl)
	} else {
		logger.Info("NATS not configured, relying on poll interval")
	}
	notifier := jobs.NewNotifier(nc, logger)

	// Metrics
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		logger.Info("Metrics server listening", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	// Exchange-rate snapshot, refreshed in the background
	rateStore := currency.NewStore(store)
	if err := rateStore.Reload(ctx); err != nil {
		logger.Warn("initial exchange rate load failed", "error", err)
	}
	go func() {
		ticker := time.NewTicker(cfg.Rates.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := rateStore.Reload(ctx); err != nil {
					logger.Warn("exchange rate refresh failed", "error", err)
				}
			}
		}
	}()
	converter := currency.NewConverter(rateStore, cfg.Rates.MaxAge)

	// Services
	pricer := service.NewPricer(converter, metrics)
	payments := service.NewPaymentService(store, logger, metrics, cfg.Payment.MaxAttempts)
	materializer := service.NewMaterializerService(store, pricer, notifier, logger, metrics)
	renewals := service.NewRenewalService(store, converter, logger, metrics,
		cfg.Renewal.CycleTolerance, cfg.Renewal.MonthsTolerance)
	retries := service.NewRetryService(store, logger, metrics)

	registrarClient, err := registrar.New(cfg.Worker.RegistrarProvider, logger)
	if err != nil {
		return fmt.Errorf("registrar initialization failed: %w", err)
	}

	// Gateway results arrive over NATS; applying them settles orders and
	// materializes their items
	results := worker.NewResultConsumer(nc, payments, materializer, logger)
	resultSub, err := results.Start(ctx)
	if err != nil {
		return fmt.Errorf("result consumer failed to start: %w", err)
	}
	if resultSub != nil {
		defer resultSub.Drain()
	}

	w := worker.NewWorker(store, registrarClient, retries, renewals, notifier, worker.Config{
		PollInterval:    cfg.Worker.PollInterval,
		SweepInterval:   cfg.Worker.SweepInterval,
		MaxConcurrency:  cfg.Worker.Concurrency,
		StaleAttemptAge: cfg.Payment.StaleAttemptAge,
		BackoffBase:     cfg.Worker.BackoffBase,
		BackoffCap:      cfg.Worker.BackoffCap,
	}, logger, metrics)

	if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
