package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is an order's position in its lifecycle.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderAssigned  OrderStatus = "ASSIGNED"
	OrderPickedUp  OrderStatus = "PICKED_UP"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderFailed    OrderStatus = "FAILED"
	OrderReturned  OrderStatus = "RETURNED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderDelivered, OrderCancelled, OrderFailed, OrderReturned:
		return true
	default:
		return false
	}
}

// TimeWindow bounds when a stop may be serviced.
type TimeWindow struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// Order is a single delivery request.
type Order struct {
	ID                     uuid.UUID    `json:"id"`
	TrackingNumber         string       `json:"tracking_number"`
	PickupLocation         Location     `json:"pickup_location"`
	PickupAddress          string       `json:"pickup_address"`
	DropoffLocation        Location     `json:"dropoff_location"`
	DropoffAddress         string       `json:"dropoff_address"`
	ServiceClass           ServiceClass `json:"service_class"`
	WeightKG               float64      `json:"weight_kg"`
	CreatedAt              time.Time    `json:"created_at"`
	SLADeadline            time.Time    `json:"sla_deadline"`
	Status                 OrderStatus  `json:"status"`
	AssignedDriverID       *uuid.UUID   `json:"assigned_driver_id,omitempty"`
	ReassignmentCount      int          `json:"reassignment_count"`
	LastReassignmentReason string       `json:"last_reassignment_reason,omitempty"`
	BatchID                *uuid.UUID   `json:"batch_id,omitempty"`
	TimeWindow             *TimeWindow  `json:"time_window,omitempty"`
	DeliveryETA            *time.Time   `json:"delivery_eta,omitempty"`
}

// MinutesToDeadline returns the signed number of minutes left before the
// SLA deadline, relative to now. Negative when the deadline has passed.
func (o *Order) MinutesToDeadline(now time.Time) float64 {
	return o.SLADeadline.Sub(now).Minutes()
}

// AgeMinutes returns how long ago the order was created, relative to now.
func (o *Order) AgeMinutes(now time.Time) float64 {
	return now.Sub(o.CreatedAt).Minutes()
}
