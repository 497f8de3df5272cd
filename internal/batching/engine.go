package batching

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/driverstate"
	"dispatch/internal/events"
	"dispatch/internal/routeoptimizer"
	"dispatch/internal/store"
	"dispatch/pkg/config"
)

// Engine is the Smart Batching Engine. It runs one clustering cycle at a
// time; the Autonomous Loop Supervisor is responsible for
// calling RunCycle on DispatchConfig.BatchingInterval.
type Engine struct {
	store     store.Store
	drivers   *driverstate.Engine
	optimizer *routeoptimizer.Service
	bus       *events.Bus
	cfg       config.DispatchConfig
	log       *slog.Logger
}

// New builds a Smart Batching Engine.
func New(s store.Store, drivers *driverstate.Engine, optimizer *routeoptimizer.Service, bus *events.Bus, cfg config.DispatchConfig, log *slog.Logger) *Engine {
	return &Engine{store: s, drivers: drivers, optimizer: optimizer, bus: bus, cfg: cfg, log: log}
}

// CycleResult summarizes one RunCycle invocation for observability.
type CycleResult struct {
	CandidatesConsidered int
	ClustersFormed       int
	BatchesCreated       int
	ClustersDissolved    int
}

// RunCycle selects candidate orders, clusters them, and assigns+routes+
// persists one batch per viable cluster. A failure processing one cluster
// never aborts the rest of the cycle — batching is a periodic background
// pass, not a single atomic operation.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	orders, err := e.store.ListPendingUnassignedOrders(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("batching cycle: %w", err)
	}

	now := time.Now()
	candidates := SelectCandidates(orders, now, expressSet(e.cfg.ExpressServiceClasses))
	clusters := Cluster(candidates, ClusterOptions{
		MaxDistanceKM:  e.cfg.MaxBatchDistanceM / 1000,
		MaxSLASpread:   e.cfg.MaxBatchSLASpread.Minutes(),
		MinOrdersBatch: e.cfg.MinOrdersPerBatch,
		MaxOrdersBatch: e.cfg.MaxOrdersPerBatch,
	})

	result := CycleResult{CandidatesConsidered: len(candidates), ClustersFormed: len(clusters)}
	for _, cluster := range clusters {
		created, err := e.processCluster(ctx, cluster, now)
		if err != nil {
			e.log.Warn("batching: cluster processing failed", "error", err, "cluster_size", len(cluster))
		}
		if created {
			result.BatchesCreated++
		} else {
			result.ClustersDissolved++
		}
	}
	return result, nil
}

// processCluster runs the assign+route+persist flow for one
// cluster. It returns (true, nil) when a batch was created, (false, nil)
// when the cluster dissolved for lack of a driver (no DB state to roll
// back, since nothing is persisted until after a driver is found), and
// (false, err) on an unexpected failure.
func (e *Engine) processCluster(ctx context.Context, cluster []*domain.Order, now time.Time) (bool, error) {
	anchor := aggregateFootprint(cluster)
	deadline := earliestDeadline(cluster)

	scored, err := e.drivers.GetAvailableDrivers(ctx, anchor, driverstate.GetAvailableDriversOptions{
		ServiceClass: cluster[0].ServiceClass,
		TimeWindow:   &domain.TimeWindow{Earliest: now, Latest: deadline},
	})
	if err != nil {
		return false, fmt.Errorf("find driver for cluster: %w", err)
	}
	if len(scored) == 0 {
		return false, nil // dissolve: no persisted state exists yet to unlink
	}
	driver := scored[0].Driver

	stops := make([]routeoptimizer.DeliveryStop, 0, len(cluster))
	orderIDs := make([]uuid.UUID, 0, len(cluster))
	for _, o := range cluster {
		stops = append(stops, routeoptimizer.DeliveryStop{
			OrderID:         o.ID,
			PickupLocation:  o.PickupLocation,
			DropoffLocation: o.DropoffLocation,
			WeightKG:        o.WeightKG,
		})
		orderIDs = append(orderIDs, o.ID)
	}

	optResult, err := e.optimizer.Optimize(ctx, routeoptimizer.Request{
		DriverID:          driver.ID,
		DriverLocation:    driver.Location,
		Orders:            stops,
		AvailableVehicles: 1,
		SLAMinutes:        deadline.Sub(now).Minutes(),
		ServiceClass:      cluster[0].ServiceClass,
	})
	if err != nil || len(optResult.Routes) == 0 {
		return false, fmt.Errorf("optimize route for cluster: %w", err)
	}
	route := optResult.Routes[0]

	batch := &domain.Batch{
		ID:               uuid.New(),
		Number:           "BATCH-" + uuid.New().String()[:8],
		OrderIDs:         orderIDs,
		ServiceClass:     cluster[0].ServiceClass,
		AssignedDriverID: &driver.ID,
		Status:           domain.BatchAssigned,
	}
	if err := e.store.CreateBatch(ctx, batch, route); err != nil {
		return false, fmt.Errorf("persist batch: %w", err)
	}

	if err := e.drivers.AssignOrder(ctx, driver.ID, orderIDs[0]); err != nil {
		e.log.Warn("batching: failed to mark driver busy after batch creation", "error", err, "driver_id", driver.ID)
	}

	apportionETAs(cluster, route, now)
	for _, o := range cluster {
		o.BatchID = &batch.ID
		o.Status = domain.OrderAssigned
		o.AssignedDriverID = &driver.ID
		if err := e.store.UpdateOrder(ctx, o); err != nil {
			e.log.Warn("batching: failed to persist apportioned ETA", "error", err, "order_id", o.ID)
		}
	}

	e.bus.Publish(events.KindBatchCreated, batch.ID, batch, now)
	return true, nil
}

// aggregateFootprint is the cluster's pickup centroid, used as the
// synthetic "pickup" anchor when asking the Driver State Engine for
// candidates.
func aggregateFootprint(cluster []*domain.Order) domain.Location {
	var lat, lng float64
	for _, o := range cluster {
		lat += o.PickupLocation.Lat
		lng += o.PickupLocation.Lng
	}
	n := float64(len(cluster))
	return domain.Location{Lat: lat / n, Lng: lng / n}
}

func earliestDeadline(cluster []*domain.Order) time.Time {
	deadline := cluster[0].SLADeadline
	for _, o := range cluster[1:] {
		if o.SLADeadline.Before(deadline) {
			deadline = o.SLADeadline
		}
	}
	return deadline
}

// apportionETAs copies each delivery stop's ETA, as the route optimizer
// set it, onto the stop's order. It does not apportion the route's total
// duration across the stops itself.
func apportionETAs(cluster []*domain.Order, route *domain.Route, now time.Time) {
	byOrder := make(map[uuid.UUID]time.Time, len(route.Stops))
	for _, stop := range route.Stops {
		if stop.Kind != domain.StopDelivery || stop.OrderID == nil {
			continue
		}
		byOrder[*stop.OrderID] = stop.ETA
	}
	for _, o := range cluster {
		if eta, ok := byOrder[o.ID]; ok {
			etaCopy := eta
			o.DeliveryETA = &etaCopy
		}
	}
}

func expressSet(classes []string) map[domain.ServiceClass]bool {
	out := make(map[domain.ServiceClass]bool, len(classes))
	for _, c := range classes {
		out[domain.ServiceClass(c)] = true
	}
	return out
}
