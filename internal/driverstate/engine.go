// Package driverstate implements the per-driver finite state machine,
// availability scoring, and lifecycle event emission. Every mutation goes
// through Engine so exactly one lifecycle event is published per
// transition, in order.
package driverstate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/store"
	"dispatch/pkg/apperror"
)

const returnDistanceDefaultKM = 15.0

// Engine is the Driver State Engine: the sole mutator of driver records.
type Engine struct {
	store             store.Store
	bus               *events.Bus
	returnDistanceKM  float64
}

// New builds a Driver State Engine.
func New(s store.Store, bus *events.Bus, returnDistanceKM float64) *Engine {
	if returnDistanceKM <= 0 {
		returnDistanceKM = returnDistanceDefaultKM
	}
	return &Engine{store: s, bus: bus, returnDistanceKM: returnDistanceKM}
}

// GetAvailableDriversOptions bounds a candidate search.
type GetAvailableDriversOptions struct {
	RadiusKM     float64
	ServiceClass domain.ServiceClass
	MinRating    float64
	TimeWindow   *domain.TimeWindow
	TravelMinsFn func(d *domain.Driver) (distanceKM, travelMins float64)
}

// ScoredDriver pairs a candidate driver with its availability score.
type ScoredDriver struct {
	Driver     *domain.Driver
	Score      float64
	DistanceKM float64
}

// GetAvailableDrivers returns candidates sorted by descending score, ties
// broken by ascending distance.
func (e *Engine) GetAvailableDrivers(ctx context.Context, pickup domain.Location, opts GetAvailableDriversOptions) ([]ScoredDriver, error) {
	candidates, err := e.store.NearbyAvailableDrivers(ctx, store.NearbyDriversQuery{
		PickupLocation: pickup,
		RadiusKM:       opts.RadiusKM,
		ServiceClass:   opts.ServiceClass,
		MinRating:      opts.MinRating,
	})
	if err != nil {
		return nil, fmt.Errorf("get available drivers: %w", err)
	}

	now := time.Now()
	scored := make([]ScoredDriver, 0, len(candidates))
	for _, d := range candidates {
		if Unavailability(d, true) != ReasonNone {
			continue
		}

		var distanceKM, travelMins float64
		if opts.TravelMinsFn != nil {
			distanceKM, travelMins = opts.TravelMinsFn(d)
		} else {
			distanceKM = domain.HaversineKM(d.Location, pickup)
			travelMins = (distanceKM / 30) * 60
		}
		if opts.RadiusKM > 0 && distanceKM > opts.RadiusKM {
			continue
		}

		score := AvailabilityScore(d, ScoreInputs{
			DistanceKM: distanceKM,
			Now:        now,
			TimeWindow: opts.TimeWindow,
			TravelMins: travelMins,
		})
		scored = append(scored, ScoredDriver{Driver: d, Score: score, DistanceKM: distanceKM})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].DistanceKM < scored[j].DistanceKM
	})

	return scored, nil
}

// StartShift transitions OFFLINE -> AVAILABLE.
func (e *Engine) StartShift(ctx context.Context, driverID uuid.UUID) error {
	d, err := e.store.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if d.State != domain.StateOffline {
		return illegalTransition(driverID)
	}

	d.State = domain.StateAvailable
	d.Counters.ConsecutiveDeliveries = 0
	if err := e.store.UpdateDriver(ctx, d); err != nil {
		return fmt.Errorf("start shift: %w", err)
	}

	e.publish(events.KindShiftStarted, driverID, nil)
	e.publish(events.KindStateChanged, driverID, stateChange{domain.StateOffline, domain.StateAvailable})
	return nil
}

// EndShift transitions AVAILABLE -> OFFLINE. Rejected if the driver has
// an active order.
func (e *Engine) EndShift(ctx context.Context, driverID uuid.UUID) error {
	d, err := e.store.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if d.ActiveOrderID != nil {
		return illegalTransition(driverID)
	}
	if d.State != domain.StateAvailable {
		return illegalTransition(driverID)
	}

	from := d.State
	d.State = domain.StateOffline
	if err := e.store.UpdateDriver(ctx, d); err != nil {
		return fmt.Errorf("end shift: %w", err)
	}

	e.publish(events.KindShiftEnded, driverID, nil)
	e.publish(events.KindStateChanged, driverID, stateChange{from, domain.StateOffline})
	return nil
}

// StartBreak transitions AVAILABLE or RETURNING -> ON_BREAK.
func (e *Engine) StartBreak(ctx context.Context, driverID uuid.UUID) error {
	d, err := e.store.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if d.State != domain.StateAvailable && d.State != domain.StateReturning {
		return illegalTransition(driverID)
	}

	from := d.State
	d.State = domain.StateOnBreak
	if err := e.store.UpdateDriver(ctx, d); err != nil {
		return fmt.Errorf("start break: %w", err)
	}

	e.publish(events.KindBreakStarted, driverID, nil)
	e.publish(events.KindStateChanged, driverID, stateChange{from, domain.StateOnBreak})
	return nil
}

// EndBreak transitions ON_BREAK -> AVAILABLE and resets the consecutive
// delivery counter.
func (e *Engine) EndBreak(ctx context.Context, driverID uuid.UUID) error {
	d, err := e.store.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if d.State != domain.StateOnBreak {
		return illegalTransition(driverID)
	}

	d.State = domain.StateAvailable
	d.Counters.ConsecutiveDeliveries = 0
	if err := e.store.UpdateDriver(ctx, d); err != nil {
		return fmt.Errorf("end break: %w", err)
	}

	e.publish(events.KindBreakEnded, driverID, nil)
	e.publish(events.KindStateChanged, driverID, stateChange{domain.StateOnBreak, domain.StateAvailable})
	return nil
}

// AssignOrder transitions AVAILABLE -> BUSY and records the active order.
func (e *Engine) AssignOrder(ctx context.Context, driverID, orderID uuid.UUID) error {
	d, err := e.store.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if d.State != domain.StateAvailable {
		return illegalTransition(driverID)
	}

	d.State = domain.StateBusy
	d.ActiveOrderID = &orderID
	if err := e.store.UpdateDriver(ctx, d); err != nil {
		return fmt.Errorf("assign order: %w", err)
	}

	e.publish(events.KindStateChanged, driverID, stateChange{domain.StateAvailable, domain.StateBusy})
	return nil
}

// CompletePickup is an intra-state BUSY -> BUSY transition.
func (e *Engine) CompletePickup(ctx context.Context, driverID uuid.UUID) error {
	d, err := e.store.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if d.State != domain.StateBusy || d.ActiveOrderID == nil {
		return illegalTransition(driverID)
	}

	e.publish(events.KindPickupCompleted, driverID, *d.ActiveOrderID)
	return nil
}

// CompleteDelivery transitions BUSY -> RETURNING (if far from base) or
// BUSY -> AVAILABLE (if close), clears the active order, and advances
// the daily counters.
func (e *Engine) CompleteDelivery(ctx context.Context, driverID uuid.UUID) error {
	d, err := e.store.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if d.State != domain.StateBusy || d.ActiveOrderID == nil {
		return illegalTransition(driverID)
	}

	completedOrder := *d.ActiveOrderID
	d.ActiveOrderID = nil
	d.Counters.Completed++
	d.Counters.ConsecutiveDeliveries++
	if d.Counters.GapFromTarget > 0 {
		d.Counters.GapFromTarget--
	}

	from := d.State
	if d.DistanceFromBaseKM() > e.returnDistanceKM {
		d.State = domain.StateReturning
	} else {
		d.State = domain.StateAvailable
	}

	if err := e.store.UpdateDriver(ctx, d); err != nil {
		return fmt.Errorf("complete delivery: %w", err)
	}

	e.publish(events.KindDeliveryCompleted, driverID, completedOrder)
	e.publish(events.KindStateChanged, driverID, stateChange{from, d.State})

	if d.Counters.RequiresBreakAfter > 0 && d.Counters.ConsecutiveDeliveries >= d.Counters.RequiresBreakAfter {
		e.publish(events.KindBreakRequired, driverID, nil)
	}
	return nil
}

// UpdateLocation records a driver's new position.
func (e *Engine) UpdateLocation(ctx context.Context, driverID uuid.UUID, loc domain.Location) error {
	d, err := e.store.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	d.Location = loc
	if err := e.store.UpdateDriver(ctx, d); err != nil {
		return fmt.Errorf("update location: %w", err)
	}
	e.publish(events.KindLocationUpdated, driverID, loc)
	return nil
}

// BatchUpdateLocations applies a set of location updates as one
// operation, publishing one location-updated event per driver.
func (e *Engine) BatchUpdateLocations(ctx context.Context, updates map[uuid.UUID]domain.Location) error {
	if err := e.store.BatchUpdateDriverLocations(ctx, updates); err != nil {
		return fmt.Errorf("batch update locations: %w", err)
	}
	for id, loc := range updates {
		e.publish(events.KindLocationUpdated, id, loc)
	}
	return nil
}

// ResetDailyMetrics clears the per-shift-day counters for the whole
// fleet and emits one daily-reset event.
func (e *Engine) ResetDailyMetrics(ctx context.Context, asOf time.Time) (int64, error) {
	n, err := e.store.ResetDailyMetrics(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("reset daily metrics: %w", err)
	}
	e.publish(events.KindDailyReset, uuid.Nil, n)
	return n, nil
}

// FleetStatus summarizes the current driver population by state.
type FleetStatus struct {
	TotalDrivers int
	ByState      map[domain.OperationalState]int
}

// GetFleetStatus aggregates the current operational state distribution.
func (e *Engine) GetFleetStatus(ctx context.Context) (*FleetStatus, error) {
	drivers, err := e.store.ListDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("get fleet status: %w", err)
	}

	status := &FleetStatus{
		TotalDrivers: len(drivers),
		ByState:      make(map[domain.OperationalState]int),
	}
	for _, d := range drivers {
		status.ByState[d.State]++
	}
	return status, nil
}

type stateChange struct {
	From domain.OperationalState
	To   domain.OperationalState
}

func (e *Engine) publish(kind events.Kind, id uuid.UUID, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(kind, id, payload, time.Now())
}

func illegalTransition(driverID uuid.UUID) error {
	return apperror.NewWithField(apperror.CodeIllegalTransition, "illegal state transition", "driver_id").
		WithDetails("driver_id", driverID.String())
}
