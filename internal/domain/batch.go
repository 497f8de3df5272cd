package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus is a multi-order batch's lifecycle stage.
type BatchStatus string

const (
	BatchPending   BatchStatus = "PENDING"
	BatchAssigned  BatchStatus = "ASSIGNED"
	BatchCompleted BatchStatus = "COMPLETED"
	BatchCancelled BatchStatus = "CANCELLED"
)

// Batch groups 2-5 compatible orders onto a single route.
type Batch struct {
	ID               uuid.UUID    `json:"id"`
	Number           string       `json:"number"`
	OrderIDs         []uuid.UUID  `json:"order_ids"`
	ServiceClass     ServiceClass `json:"service_class"`
	AssignedDriverID *uuid.UUID   `json:"assigned_driver_id,omitempty"`
	Status           BatchStatus  `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
}

// StopKind distinguishes pickup, delivery, and return-to-base stops on a
// Route.
type StopKind string

const (
	StopPickup   StopKind = "PICKUP"
	StopDelivery StopKind = "DELIVERY"
	StopReturn   StopKind = "RETURN"
)

// Stop is one leg of a Route.
type Stop struct {
	OrderID        *uuid.UUID `json:"order_id,omitempty"`
	Kind           StopKind   `json:"kind"`
	Location       Location   `json:"location"`
	ETA            time.Time  `json:"eta"`
	CumulativeLoad float64    `json:"cumulative_load"`
}

// Route is the ordered sequence of stops one driver must complete for one
// batch.
type Route struct {
	ID             uuid.UUID `json:"id"`
	BatchID        uuid.UUID `json:"batch_id"`
	DriverID       uuid.UUID `json:"driver_id"`
	Stops          []Stop    `json:"stops"`
	TotalDistanceKM float64  `json:"total_distance_km"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
}
