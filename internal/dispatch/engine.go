// Package dispatch implements the single-order Dispatch/Assignment Engine:
// given one order, find the best driver via the Driver State Engine,
// enrich candidates with a dynamic ETA, and hand the winning candidate off
// to the Driver State Engine for its state transition.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/driverstate"
	"dispatch/internal/eta"
	"dispatch/internal/events"
	"dispatch/internal/store"
	"dispatch/pkg/apperror"
)

// Engine is the Dispatch/Assignment Engine. A single order's candidate
// search uses direct haversine/ETA math rather than the Matrix Cache —
// that cache amortizes the n×n cost of multi-stop batch/CVRP planning
// (components F/G), which a one-driver, one-pickup lookup never pays.
type Engine struct {
	store   store.Store
	drivers *driverstate.Engine
	bus     *events.Bus
}

// New builds a Dispatch/Assignment Engine.
func New(s store.Store, drivers *driverstate.Engine, bus *events.Bus) *Engine {
	return &Engine{store: s, drivers: drivers, bus: bus}
}

// AssignOrder loads the order, scores every eligible driver, and hands the
// winning candidate to the order and driver records. It never queues
// internally — if there are zero eligible candidates, the caller (typically
// the Autonomous Loop Supervisor) decides whether and when to retry.
func (e *Engine) AssignOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, *domain.Driver, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, apperror.Wrap(err, apperror.CodeDatabaseError, "assign order: load order").
			WithDetails("order_id", orderID.String())
	}

	candidates, err := e.drivers.GetAvailableDrivers(ctx, order.PickupLocation, driverstate.GetAvailableDriversOptions{
		ServiceClass: order.ServiceClass,
		TimeWindow:   order.TimeWindow,
		TravelMinsFn: func(d *domain.Driver) (float64, float64) {
			return e.pickupDistanceAndETA(ctx, d, order)
		},
	})
	if err != nil {
		return nil, nil, apperror.Wrap(err, apperror.CodeDatabaseError, "assign order: find candidates").
			WithDetails("order_id", orderID.String())
	}
	if len(candidates) == 0 {
		return nil, nil, apperror.New(apperror.CodeNoAvailableDrivers, "no available drivers satisfy the eligibility filters").
			WithDetails("order_id", orderID.String())
	}

	best := candidates[0]

	if err := e.store.AssignOrderToDriver(ctx, orderID, best.Driver.ID); err != nil {
		return nil, nil, apperror.Wrap(err, apperror.CodeDatabaseError, "assign order to driver").
			WithDetails("order_id", orderID.String()).
			WithDetails("driver_id", best.Driver.ID.String())
	}
	// drivers.AssignOrder is the sole owner of the driver's AVAILABLE -> BUSY
	// transition and its state-changed event; AssignOrderToDriver above only
	// touches the order row so the two never race the same guard.
	if err := e.drivers.AssignOrder(ctx, best.Driver.ID, orderID); err != nil {
		return nil, nil, apperror.Wrap(err, apperror.CodeIllegalTransition, "mark driver busy").
			WithDetails("order_id", orderID.String()).
			WithDetails("driver_id", best.Driver.ID.String())
	}

	order.Status = domain.OrderAssigned
	order.AssignedDriverID = &best.Driver.ID

	e.bus.Publish(events.KindOrderAssigned, orderID, best.Driver.ID, time.Now())

	return order, best.Driver, nil
}

func (e *Engine) pickupDistanceAndETA(ctx context.Context, d *domain.Driver, order *domain.Order) (distanceKM, travelMins float64) {
	distanceKM = domain.HaversineKM(d.Location, order.PickupLocation)
	est := eta.DriverToPickupETA(eta.Request{
		DistanceKM:  distanceKM,
		VehicleType: d.VehicleType,
		DriverState: d.State,
	}, time.Now())
	return distanceKM, est.TotalMinutes
}
