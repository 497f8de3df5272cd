package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dispatch/internal/batching"
	"dispatch/internal/dispatch"
	"dispatch/internal/sla"
	"dispatch/internal/store"
)

const (
	dispatchWorkerName = "dispatch"
	slaWorkerName      = "sla"
	batchingWorkerName = "batching"
)

// Config bounds the supervisor's per-worker tick intervals.
type Config struct {
	DispatchInterval time.Duration
	SLAInterval      time.Duration
	BatchingInterval time.Duration
}

// EngineHealth is one engine's lifecycle snapshot.
type EngineHealth struct {
	Initialized bool
	Running     bool
}

// Supervisor owns the lifecycle of the Dispatch/Assignment (D), SLA
// Reassignment (E), and Smart Batching (F) engines as three independent
// periodic workers.
type Supervisor struct {
	workers []*worker
	log     *slog.Logger
}

// New builds a Supervisor wired to the three autonomous engines. Each
// engine gets its own RunFunc sweep: D and E scan the store for the
// orders they care about and drive the engine's existing single-order
// API per order; F already owns a full-cycle RunCycle, so it is used
// directly.
func New(s store.Store, dispatchEngine *dispatch.Engine, slaEngine *sla.Engine, batchingEngine *batching.Engine, cfg Config, log *slog.Logger) *Supervisor {
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = 10 * time.Second
	}
	if cfg.SLAInterval <= 0 {
		cfg.SLAInterval = 30 * time.Second
	}
	if cfg.BatchingInterval <= 0 {
		cfg.BatchingInterval = time.Minute
	}

	return &Supervisor{
		log: log,
		workers: []*worker{
			newWorker(dispatchWorkerName, cfg.DispatchInterval, dispatchSweep(s, dispatchEngine, log), log),
			newWorker(slaWorkerName, cfg.SLAInterval, slaSweep(s, slaEngine, log), log),
			newWorker(batchingWorkerName, cfg.BatchingInterval, batchingSweep(batchingEngine, log), log),
		},
	}
}

// dispatchSweep adapts the Dispatch/Assignment Engine's single-order
// AssignOrder into a full sweep over every pending, unassigned order.
// One order's failure to find a driver never aborts the sweep — the
// next tick retries it.
func dispatchSweep(s store.Store, eng *dispatch.Engine, log *slog.Logger) RunFunc {
	return func(ctx context.Context) error {
		orders, err := s.ListPendingUnassignedOrders(ctx)
		if err != nil {
			return fmt.Errorf("dispatch sweep: %w", err)
		}
		for _, o := range orders {
			if _, _, err := eng.AssignOrder(ctx, o.ID); err != nil {
				log.Debug("dispatch sweep: order not assigned this pass", "order_id", o.ID, "error", err)
			}
		}
		return nil
	}
}

// slaSweep adapts the SLA Reassignment Engine's single-order
// EvaluateOrder into a full sweep over every in-flight order.
func slaSweep(s store.Store, eng *sla.Engine, log *slog.Logger) RunFunc {
	return func(ctx context.Context) error {
		orders, err := s.ListInFlightOrders(ctx)
		if err != nil {
			return fmt.Errorf("sla sweep: %w", err)
		}
		for _, o := range orders {
			if _, err := eng.EvaluateOrder(ctx, o.ID); err != nil {
				log.Debug("sla sweep: order evaluation failed", "order_id", o.ID, "error", err)
			}
		}
		return nil
	}
}

// batchingSweep runs one Smart Batching Engine cycle.
func batchingSweep(eng *batching.Engine, log *slog.Logger) RunFunc {
	return func(ctx context.Context) error {
		result, err := eng.RunCycle(ctx)
		if err != nil {
			return fmt.Errorf("batching sweep: %w", err)
		}
		log.Debug("batching sweep complete",
			"candidates", result.CandidatesConsidered,
			"clusters", result.ClustersFormed,
			"batches_created", result.BatchesCreated,
			"clusters_dissolved", result.ClustersDissolved,
		)
		return nil
	}
}

// Start launches every worker not already running (idempotent per
// worker). Partial success is acceptable: the supervisor reports
// operational as long as at least one worker is up; it fails only if
// every worker is down.
func (sup *Supervisor) Start(ctx context.Context) error {
	for _, w := range sup.workers {
		w.start(ctx)
	}
	if !sup.Operational() {
		return fmt.Errorf("supervisor start: no workers are running")
	}
	return nil
}

// Stop drains and halts every running worker. Idempotent.
func (sup *Supervisor) Stop() {
	for _, w := range sup.workers {
		w.stop()
	}
}

// Shutdown is an alias for Stop that accepts a context for symmetry with
// other lifecycle-managed components; the supervisor's own drain has no
// separate deadline beyond each worker's current iteration finishing.
func (sup *Supervisor) Shutdown(ctx context.Context) error {
	sup.Stop()
	return nil
}

// Operational reports whether at least one worker is currently running.
func (sup *Supervisor) Operational() bool {
	for _, w := range sup.workers {
		if w.running.Load() {
			return true
		}
	}
	return false
}

// HealthSnapshot reports each worker's {initialized, running} state.
func (sup *Supervisor) HealthSnapshot() map[string]EngineHealth {
	snapshot := make(map[string]EngineHealth, len(sup.workers))
	for _, w := range sup.workers {
		snapshot[w.name] = EngineHealth{
			Initialized: w.initialized.Load(),
			Running:     w.running.Load(),
		}
	}
	return snapshot
}
