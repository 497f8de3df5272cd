// Command dispatchd is the dispatch core's process entrypoint: it loads
// configuration, wires every engine together, starts the autonomous loop
// supervisor and the health-only gRPC listener, and waits for a shutdown
// signal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatch/internal/audittrail"
	"dispatch/internal/batching"
	"dispatch/internal/dispatch"
	"dispatch/internal/driverstate"
	"dispatch/internal/errormon"
	"dispatch/internal/events"
	"dispatch/internal/matrix"
	"dispatch/internal/routeoptimizer"
	"dispatch/internal/sla"
	"dispatch/internal/store"
	"dispatch/internal/store/migrations"
	"dispatch/internal/supervisor"
	"dispatch/internal/trigger"
	"dispatch/pkg/audit"
	"dispatch/pkg/cache"
	"dispatch/pkg/config"
	"dispatch/pkg/database"
	"dispatch/pkg/logger"
	"dispatch/pkg/metrics"
	"dispatch/pkg/server"
	"dispatch/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	log := logger.Log

	ctx := context.Background()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.Init(ctx, telemetry.Config{
			Enabled:     cfg.Tracing.Enabled,
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.App.Name,
			Version:     cfg.App.Version,
			Environment: cfg.App.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			log.Warn("failed to init telemetry", "error", err)
		} else {
			defer func() {
				if err := tp.Shutdown(context.Background()); err != nil {
					log.Warn("failed to shutdown telemetry", "error", err)
				}
			}()
			log.Info("telemetry initialized", "endpoint", cfg.Tracing.Endpoint)
		}
	}

	if cfg.Metrics.Enabled {
		metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
		go func() {
			log.Info("starting metrics server", "port", cfg.Metrics.Port)
			if err := metrics.StartMetricsServer(cfg.Metrics.Port); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool(), &cfg.Database, migrations.FS, "."); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	dataStore := store.NewPostgresStore(db)

	cacheOpts := cache.FromConfig(&cfg.Cache)
	matrixCache, err := cache.New(cacheOpts)
	if err != nil {
		log.Error("failed to construct matrix cache", "error", err)
		os.Exit(1)
	}

	bus := events.NewBus()

	matrixSvc := matrix.New(matrixCache, cfg, log)
	driverEngine := driverstate.New(dataStore, bus, cfg.Dispatch.ReturnDistanceKM)
	dispatchEngine := dispatch.New(dataStore, driverEngine, bus)
	slaEngine := sla.New(dataStore, driverEngine, bus, cfg.Dispatch.MaxReassignAttempts, cfg.Dispatch.ReassignMaxDistanceKM)
	optimizer := routeoptimizer.New(matrixSvc, cfg, log)
	batchingEngine := batching.New(dataStore, driverEngine, optimizer, bus, cfg.Dispatch, log)

	errSink := errormon.New(bus, errormon.Thresholds{
		ErrorRateThreshold:        cfg.Dispatch.ErrorRateThreshold,
		CriticalErrorThreshold:    cfg.Dispatch.CriticalErrorThreshold,
		ConsecutiveErrorThreshold: cfg.Dispatch.ConsecutiveErrorThreshold,
	})

	sup := supervisor.New(dataStore, dispatchEngine, slaEngine, batchingEngine, supervisor.Config{
		DispatchInterval: 10 * time.Second,
		SLAInterval:      30 * time.Second,
		BatchingInterval: cfg.Dispatch.BatchingInterval,
	}, log)

	// manualCycle is what an agent's TriggerFromAgent call actually runs:
	// one pass of every autonomous engine, synchronously, independent of
	// the supervisor's own periodic ticking.
	manualCycle := func(ctx context.Context) error {
		orders, err := dataStore.ListPendingUnassignedOrders(ctx)
		if err != nil {
			errSink.Report(errormon.ReportedError{Err: err, Service: "dispatch"})
			return fmt.Errorf("manual cycle: list pending orders: %w", err)
		}
		for _, o := range orders {
			if _, _, err := dispatchEngine.AssignOrder(ctx, o.ID); err != nil {
				errSink.Report(errormon.ReportedError{Err: err, Service: "dispatch"})
			}
		}

		inFlight, err := dataStore.ListInFlightOrders(ctx)
		if err != nil {
			errSink.Report(errormon.ReportedError{Err: err, Service: "sla"})
			return fmt.Errorf("manual cycle: list in-flight orders: %w", err)
		}
		for _, o := range inFlight {
			if _, err := slaEngine.EvaluateOrder(ctx, o.ID); err != nil {
				errSink.Report(errormon.ReportedError{Err: err, Service: "sla"})
			}
		}

		if _, err := batchingEngine.RunCycle(ctx); err != nil {
			errSink.Report(errormon.ReportedError{Err: err, Service: "batching"})
			return fmt.Errorf("manual cycle: batching: %w", err)
		}
		return nil
	}
	gate := trigger.New(cfg.Dispatch.GlobalTriggerCooldown, cfg.Dispatch.PerAgentTriggerCooldown, manualCycle)
	_ = gate // exposed to the (not-yet-built) agent-facing API surface; wired here so its cooldown windows start from process start

	auditLogger, err := audit.New(&audit.Config{
		Enabled:     cfg.Audit.Enabled,
		Backend:     cfg.Audit.Backend,
		FilePath:    cfg.Audit.FilePath,
		BufferSize:  cfg.Audit.BufferSize,
		FlushPeriod: cfg.Audit.FlushPeriod,
	})
	if err != nil {
		log.Error("failed to construct audit logger", "error", err)
		os.Exit(1)
	}
	defer auditLogger.Close()
	audittrail.New(bus, auditLogger, log).Run(ctx)

	if err := sup.Start(ctx); err != nil {
		log.Error("supervisor failed to start", "error", err)
		os.Exit(1)
	}

	healthSrv := server.New(cfg)
	if err := healthSrv.Start(ctx); err != nil {
		log.Error("health server failed to start", "error", err)
		os.Exit(1)
	}

	log.Info("dispatch core started",
		"port", cfg.GRPC.Port,
		"environment", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	waitForShutdown(log, sup, healthSrv)
}

func waitForShutdown(log interface {
	Info(string, ...any)
	Warn(string, ...any)
}, sup *supervisor.Supervisor, healthSrv *server.HealthServer) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sup.Shutdown(shutdownCtx); err != nil {
		log.Warn("supervisor shutdown reported an error", "error", err)
	}
	healthSrv.GracefulStop()
}
