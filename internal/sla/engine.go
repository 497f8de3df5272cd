package sla

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/driverstate"
	"dispatch/internal/eta"
	"dispatch/internal/events"
	"dispatch/internal/store"
)

// Engine is the SLA Reassignment Engine. It watches in-flight orders for
// deadline risk and, when a better driver exists, performs an atomic
// handover; otherwise it escalates.
type Engine struct {
	store       store.Store
	drivers     *driverstate.Engine
	bus         *events.Bus
	maxAttempts int
	maxDistance float64

	mu       sync.Mutex
	failures map[uuid.UUID]int
}

// New builds an SLA Reassignment Engine. maxAttempts and maxDistanceKM
// come from DispatchConfig.MaxReassignAttempts / ReassignMaxDistanceKM.
func New(s store.Store, drivers *driverstate.Engine, bus *events.Bus, maxAttempts int, maxDistanceKM float64) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if maxDistanceKM <= 0 {
		maxDistanceKM = 20
	}
	return &Engine{
		store:       s,
		drivers:     drivers,
		bus:         bus,
		maxAttempts: maxAttempts,
		maxDistance: maxDistanceKM,
		failures:    make(map[uuid.UUID]int),
	}
}

// Evaluation is the outcome of checking one in-flight order.
type Evaluation struct {
	OrderID  uuid.UUID
	Level    RiskLevel
	Reassign bool
	Escalate bool
}

// EvaluateOrder classifies one in-flight order's SLA risk and, if it
// qualifies, drives a reassignment; breached orders or orders that have
// already exhausted MAX_REASSIGNMENT_ATTEMPTS escalate instead.
func (e *Engine) EvaluateOrder(ctx context.Context, orderID uuid.UUID) (Evaluation, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluate order: %w", err)
	}
	if order.Status.IsTerminal() || order.AssignedDriverID == nil {
		return Evaluation{OrderID: orderID, Level: Healthy}, nil
	}

	driver, err := e.store.GetDriver(ctx, *order.AssignedDriverID)
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluate order: %w", err)
	}

	now := time.Now()
	estimate := eta.DriverToPickupETA(eta.Request{
		DistanceKM:  domain.HaversineKM(driver.Location, order.DropoffLocation),
		VehicleType: driver.VehicleType,
		DriverState: driver.State,
	}, now)

	level, canMeetSLA := Classify(now, order.SLADeadline, estimate.ArrivalTime)
	eval := Evaluation{OrderID: orderID, Level: level}

	switch {
	case level == Breached:
		eval.Escalate = true
		e.bus.Publish(events.KindSLABreach, orderID, level, now)
		e.bus.Publish(events.KindEscalationRequired, orderID, "sla-breached", now)
		return eval, nil
	case NeedsReassignment(level, canMeetSLA):
		if order.ReassignmentCount >= e.maxAttempts {
			eval.Escalate = true
			e.bus.Publish(events.KindEscalationRequired, orderID, "max-reassign-attempts", now)
			return eval, nil
		}
		eval.Reassign = true
		if err := e.reassign(ctx, order, driver, now); err != nil {
			return eval, err
		}
		return eval, nil
	default:
		return eval, nil
	}
}

// reassign runs the candidate search and atomic handover for one at-risk
// order. On failure it increments the per-order failure counter and, once
// MAX_REASSIGNMENT_ATTEMPTS failures accumulate, requests escalation. A
// missing eligible candidate or a failed handover returns nil; a failed
// candidate query or a failed event write returns the error.
func (e *Engine) reassign(ctx context.Context, order *domain.Order, current *domain.Driver, now time.Time) error {
	candidates, err := e.store.NearbyAvailableDrivers(ctx, store.NearbyDriversQuery{
		PickupLocation: order.PickupLocation,
		RadiusKM:       e.maxDistance,
		ServiceClass:   order.ServiceClass,
	})
	if err != nil {
		e.recordFailure(ctx, order.ID, now)
		return fmt.Errorf("reassign: find candidates: %w", err)
	}

	best, distanceKM, ok := e.pickBest(candidates, current.ID, order)
	if !ok {
		e.recordFailure(ctx, order.ID, now)
		return nil
	}

	fromDriverID := current.ID
	if err := e.store.ReassignOrder(ctx, order.ID, fromDriverID, best.ID, "sla-reassignment"); err != nil {
		e.recordFailure(ctx, order.ID, now)
		e.bus.Publish(events.KindReassignmentFailed, order.ID, err.Error(), now)
		return nil
	}

	score := handoverScore(scoreInputsFor(best, distanceKM))
	ev := &domain.ReassignmentEvent{
		ID:           uuid.New(),
		OrderID:      order.ID,
		FromDriverID: fromDriverID,
		ToDriverID:   best.ID,
		Reason:       "sla-reassignment",
		DistanceKM:   distanceKM,
		DriverScore:  score,
		Timestamp:    now,
	}
	if err := e.store.RecordReassignmentEvent(ctx, ev); err != nil {
		// The order+driver handover already committed; a failure to record
		// the audit row does not roll that back, it is logged by the caller
		// via the error return and counted as a (non-blocking) failure.
		e.recordFailure(ctx, order.ID, now)
		return fmt.Errorf("reassign: record event: %w", err)
	}

	e.clearFailures(order.ID)
	e.bus.Publish(events.KindReassignmentSucceeded, order.ID, ev, now)
	e.bus.Publish(events.KindStateChanged, best.ID, nil, now)
	return nil
}

// pickBest applies the eligibility filters and weighted score, returning
// the top candidate. The currently assigned driver is always suppressed.
func (e *Engine) pickBest(candidates []*domain.Driver, currentDriverID uuid.UUID, order *domain.Order) (*domain.Driver, float64, bool) {
	type scored struct {
		driver     *domain.Driver
		distanceKM float64
		score      float64
	}
	var pool []scored
	for _, d := range candidates {
		if d.ID == currentDriverID {
			continue
		}
		distanceKM := domain.HaversineKM(d.Location, order.PickupLocation)
		if !eligible(d, distanceKM, order.WeightKG, e.maxDistance) {
			continue
		}
		pool = append(pool, scored{driver: d, distanceKM: distanceKM, score: handoverScore(scoreInputsFor(d, distanceKM))})
	}
	if len(pool) == 0 {
		return nil, 0, false
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].score > pool[j].score })
	return pool[0].driver, pool[0].distanceKM, true
}

func (e *Engine) recordFailure(ctx context.Context, orderID uuid.UUID, now time.Time) {
	e.mu.Lock()
	e.failures[orderID]++
	n := e.failures[orderID]
	e.mu.Unlock()

	if n >= e.maxAttempts {
		e.bus.Publish(events.KindEscalationRequired, orderID, "reassignment-failure-exhausted", now)
	}
}

func (e *Engine) clearFailures(orderID uuid.UUID) {
	e.mu.Lock()
	delete(e.failures, orderID)
	e.mu.Unlock()
}

// FailureCount reports the current per-order failure streak, mainly for
// tests and diagnostics.
func (e *Engine) FailureCount(orderID uuid.UUID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures[orderID]
}
