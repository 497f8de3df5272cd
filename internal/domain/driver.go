// Package domain holds the shared types every engine in the dispatch core
// operates on: drivers, orders, batches, routes, and the small value types
// that connect them. None of these types import a transport, storage, or
// ambient-observability package — they are pure data.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// OperationalState is a driver's position in the state machine.
type OperationalState string

const (
	StateAvailable OperationalState = "AVAILABLE"
	StateBusy      OperationalState = "BUSY"
	StateReturning OperationalState = "RETURNING"
	StateOnBreak   OperationalState = "ON_BREAK"
	StateOffline   OperationalState = "OFFLINE"
)

// VehicleType constrains which batches/orders a driver can carry.
type VehicleType string

const (
	VehicleBike  VehicleType = "bike"
	VehicleMoto  VehicleType = "moto"
	VehicleCar   VehicleType = "car"
	VehicleVan   VehicleType = "van"
	VehicleTruck VehicleType = "truck"
)

// ServiceClass is an order's SLA tier.
type ServiceClass string

const (
	ServiceFastLane ServiceClass = "fast-lane"
	ServiceStandard ServiceClass = "standard-lane"
)

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PerformanceHistory is a driver's rolling service-quality record.
type PerformanceHistory struct {
	OnTimeRate float64 `json:"on_time_rate"`
	Rating     float64 `json:"rating"`
}

// DailyCounters track per-shift-day progress used by the state machine and
// scoring functions.
type DailyCounters struct {
	Completed             int `json:"completed"`
	GapFromTarget         int `json:"gap_from_target"`
	TargetDeliveries      int `json:"target_deliveries"`
	ConsecutiveDeliveries int `json:"consecutive_deliveries"`
	HoursWorkedToday      float64 `json:"hours_worked_today"`
	RequiresBreakAfter    int `json:"requires_break_after"`
}

// Driver is the authoritative record for one fleet member.
type Driver struct {
	ID                 uuid.UUID          `json:"id"`
	Name               string             `json:"name"`
	Location           Location           `json:"location"`
	BaseLocation       Location           `json:"base_location"`
	State              OperationalState   `json:"state"`
	VehicleType        VehicleType        `json:"vehicle_type"`
	CapacityKG         float64            `json:"capacity_kg"`
	CurrentLoadKG      float64            `json:"current_load_kg"`
	ServiceEligibility []ServiceClass     `json:"service_eligibility"`
	Counters           DailyCounters      `json:"counters"`
	Performance        PerformanceHistory `json:"performance"`
	ActiveOrderID      *uuid.UUID         `json:"active_order_id,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// ResidualCapacityKG returns the load a driver can still accept.
func (d *Driver) ResidualCapacityKG() float64 {
	remaining := d.CapacityKG - d.CurrentLoadKG
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DistanceFromBaseKM reports the great-circle distance between the
// driver's current location and its base, in kilometers.
func (d *Driver) DistanceFromBaseKM() float64 {
	return HaversineKM(d.Location, d.BaseLocation)
}

// EligibleFor reports whether the driver carries the given service class.
func (d *Driver) EligibleFor(class ServiceClass) bool {
	for _, c := range d.ServiceEligibility {
		if c == class {
			return true
		}
	}
	return false
}
