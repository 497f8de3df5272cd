// Package audittrail bridges the in-process event bus (internal/events) to
// the durable audit log (pkg/audit): every reassignment, SLA breach,
// escalation, and tracked error the core's engines publish is written as a
// structured audit.Entry, independent of the bus's own best-effort,
// in-memory fan-out.
package audittrail

import (
	"context"
	"log/slog"

	"dispatch/internal/domain"
	"dispatch/internal/errormon"
	"dispatch/internal/events"
	"dispatch/internal/sla"
	"dispatch/pkg/audit"
)

const serviceName = "dispatch-core"

// Sink ranges over a fixed set of event kinds and writes one audit.Entry
// per event, for as long as ctx is alive.
type Sink struct {
	bus    *events.Bus
	logger audit.Logger
	log    *slog.Logger
}

// New builds an audit trail sink over the given logger.
func New(bus *events.Bus, logger audit.Logger, log *slog.Logger) *Sink {
	return &Sink{bus: bus, logger: logger, log: log}
}

// Run consumes every kind this sink cares about until ctx is cancelled.
// Each kind gets its own goroutine since the bus hands out one channel per
// kind rather than a single merged stream.
func (s *Sink) Run(ctx context.Context) {
	kinds := []events.Kind{
		events.KindReassignmentSucceeded,
		events.KindReassignmentFailed,
		events.KindSLABreach,
		events.KindEscalationRequired,
		events.KindErrorTracked,
		events.KindAlert,
		events.KindBatchCreated,
	}
	for _, k := range kinds {
		go s.consume(ctx, k)
	}
}

func (s *Sink) consume(ctx context.Context, kind events.Kind) {
	ch := s.bus.Subscribe(kind)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			s.write(ctx, ev)
		}
	}
}

func (s *Sink) write(ctx context.Context, ev events.Event) {
	entry := audit.NewEntry().
		Service(serviceName).
		Method(string(ev.Kind)).
		Resource("order", ev.EntityID.String())

	switch payload := ev.Payload.(type) {
	case *domain.ReassignmentEvent:
		entry = entry.Meta("from_driver", payload.FromDriverID).
			Meta("to_driver", payload.ToDriverID).
			Meta("reason", payload.Reason).
			Outcome(audit.OutcomeSuccess)
	case sla.RiskLevel:
		entry = entry.Meta("risk_level", string(payload)).Outcome(audit.OutcomeFailure)
	case errormon.ErrorRecord:
		entry = entry.Meta("category", string(payload.Category)).
			Meta("severity", string(payload.Severity)).
			Meta("message", payload.Message).
			Error(string(payload.Category), payload.Message).
			Outcome(audit.OutcomeFailure)
	case errormon.Alert:
		entry = entry.Meta("alert", string(payload.Name)).Outcome(audit.OutcomeFailure)
	case string:
		// KindReassignmentFailed carries the raw error string;
		// KindEscalationRequired carries a short escalation reason.
		entry = entry.Meta("detail", payload).Outcome(audit.OutcomeFailure)
	default:
		entry = entry.Outcome(audit.OutcomeSuccess)
	}

	if err := s.logger.Log(ctx, entry.Build()); err != nil {
		// Best-effort: a failed audit write must never back-pressure the
		// engine that published the event.
		s.log.Warn("audit trail write failed", "kind", ev.Kind, "error", err)
	}
}
