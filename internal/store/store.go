// Package store is the data-access boundary every engine uses instead of
// touching SQL directly: Driver/Order/Batch/Route/ReassignmentEvent CRUD,
// the geospatial "available drivers within radius" query, and the
// transactional updates that need to be atomic (reassignment handover,
// batch+route+order creation, daily-reset batch update).
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
)

// NearbyDriversQuery bounds a candidate search for available drivers.
type NearbyDriversQuery struct {
	PickupLocation  domain.Location
	RadiusKM        float64
	ServiceClass    domain.ServiceClass
	MinRating       float64
	ExcludeVehicles []domain.VehicleType
}

// Store is the persistence contract for the dispatch core.
type Store interface {
	// Drivers
	GetDriver(ctx context.Context, id uuid.UUID) (*domain.Driver, error)
	NearbyAvailableDrivers(ctx context.Context, q NearbyDriversQuery) ([]*domain.Driver, error)
	UpdateDriver(ctx context.Context, d *domain.Driver) error
	BatchUpdateDriverLocations(ctx context.Context, updates map[uuid.UUID]domain.Location) error
	ResetDailyMetrics(ctx context.Context, asOf time.Time) (int64, error)
	ListDrivers(ctx context.Context) ([]*domain.Driver, error)

	// Orders
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
	ListPendingUnassignedOrders(ctx context.Context) ([]*domain.Order, error)
	ListInFlightOrders(ctx context.Context) ([]*domain.Order, error)
	UpdateOrder(ctx context.Context, o *domain.Order) error

	// Atomic cross-entity operations
	AssignOrderToDriver(ctx context.Context, orderID, driverID uuid.UUID) error
	ReassignOrder(ctx context.Context, orderID, fromDriverID, toDriverID uuid.UUID, reason string) error

	// Batches & routes
	CreateBatch(ctx context.Context, b *domain.Batch, route *domain.Route) error
	GetBatch(ctx context.Context, id uuid.UUID) (*domain.Batch, error)
	UpdateBatch(ctx context.Context, b *domain.Batch) error

	// Reassignment history
	RecordReassignmentEvent(ctx context.Context, ev *domain.ReassignmentEvent) error

	Close()
}
