// Package supervisor implements the Autonomous Loop Supervisor: lifecycle
// ownership for the Dispatch/Assignment, SLA Reassignment, and Smart
// Batching engines as independent periodic workers, using the same
// signal-and-drain shape as a graceful server shutdown, applied here to
// engine goroutines instead of a network listener.
package supervisor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// RunFunc runs one iteration of a worker's periodic sweep.
type RunFunc func(ctx context.Context) error

// worker owns one named, periodically-ticking engine loop.
type worker struct {
	name     string
	interval time.Duration
	run      RunFunc
	log      *slog.Logger

	initialized atomic.Bool
	running     atomic.Bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

func newWorker(name string, interval time.Duration, run RunFunc, log *slog.Logger) *worker {
	return &worker{name: name, interval: interval, run: run, log: log}
}

// start launches the worker's loop if it is not already running
// (idempotent: a second start on an already-running worker is a no-op).
func (w *worker) start(ctx context.Context) {
	if w.running.Load() {
		return
	}
	w.initialized.Store(true)
	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go w.loop(ctx)
}

func (w *worker) loop(ctx context.Context) {
	defer close(w.doneCh)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.run(ctx); err != nil {
				w.log.Warn("supervisor: worker iteration failed", "worker", w.name, "error", err)
			}
			select {
			case <-w.stopCh:
				return
			default:
			}
		}
	}
}

// stop signals the worker to halt after its current iteration drains to
// completion, then blocks until it has done so. Idempotent: calling stop
// on an already-stopped worker returns immediately.
func (w *worker) stop() {
	if !w.running.Load() {
		return
	}
	close(w.stopCh)
	<-w.doneCh
}
