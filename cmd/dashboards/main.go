package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ryanbastic/go-dashboards/internal/api"
	"github.com/ryanbastic/go-dashboards/internal/config"
	"github.com/ryanbastic/go-dashboards/internal/dashboard"
	"github.com/ryanbastic/go-dashboards/internal/hydrate"
	"github.com/ryanbastic/go-dashboards/internal/metrics"
	"github.com/ryanbastic/go-dashboards/internal/query"
	"github.com/ryanbastic/go-dashboards/internal/refresh"
	"github.com/ryanbastic/go-dashboards/internal/storage"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the dashboard database
	pool, err := connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	if err := storage.RunMigrations(ctx, pool); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations complete")

	pools := map[string]*pgxpool.Pool{"dashboards": pool}

	// Build the datasource router
	router := query.NewRouter()
	if cfg.DatasourcesPath != "" {
		catalog, err := config.LoadDatasources(cfg.DatasourcesPath)
		if err != nil {
			logger.Error("failed to load datasources", "path", cfg.DatasourcesPath, "error", err)
			os.Exit(1)
		}
		for _, ds := range catalog.Datasources {
			switch ds.Kind {
			case config.KindPostgres:
				dsPool, err := connect(ctx, ds.DatabaseURL)
				if err != nil {
					logger.Error("failed to connect to datasource", "datasource", ds.ID, "error", err)
					os.Exit(1)
				}
				defer dsPool.Close()
				pools[ds.ID] = dsPool
				router.Register(ds.ID, query.NewPostgresGateway(dsPool, cfg.QueryTimeout))
			case config.KindRPC:
				router.Register(ds.ID, query.NewRPCGateway(ds.Endpoint, cfg.QueryRPCRetryMax, cfg.QueryRPCRetryBackoff, cfg.QueryTimeout))
			}
		}
	}
	if cfg.QueryRPCEndpoint != "" {
		router.SetFallback(query.NewRPCGateway(cfg.QueryRPCEndpoint, cfg.QueryRPCRetryMax, cfg.QueryRPCRetryBackoff, cfg.QueryTimeout))
	}
	if len(router.Datasources()) == 0 && cfg.QueryRPCEndpoint == "" {
		logger.Warn("no datasources configured, dynamic widgets will fail to hydrate")
	}
	logger.Info("datasources registered", "datasources", router.Datasources(), "rpc_fallback", cfg.QueryRPCEndpoint != "")

	prometheus.MustRegister(metrics.NewPoolCollector(pools))

	gateway := query.NewBreakerGateway(router, cfg.BreakerMaxFailures, cfg.BreakerResetTimeout)
	hydrator := hydrate.New(gateway, hydrate.Config{
		Concurrency:   cfg.HydrateConcurrency,
		StrictColumns: cfg.HydrateStrictColumns,
	}, logger)

	store := storage.NewPostgresStore(pool, cfg.DBQueryTimeout)
	svc := dashboard.NewService(store, hydrator, logger)

	// Scheduled refresh
	scheduler := refresh.NewScheduler(store, svc, cfg.RefreshInterval, cfg.RefreshBatchSize, logger)
	go scheduler.Run(ctx)

	// Start HTTP server
	deps := make(map[string]api.Pinger, len(pools))
	for name, p := range pools {
		deps[name] = p
	}
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewServer(logger, svc, deps),
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down...")

	// Stop the refresh scheduler and in-flight hydrations
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

func connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
