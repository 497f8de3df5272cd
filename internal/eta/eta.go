// Package eta implements a deterministic ETA model: a base-speed-per-vehicle
// model adjusted by traffic and weather factors and a small return-trip
// penalty, plus a time-window feasibility classifier shared by the
// dispatch and reassignment engines.
package eta

import (
	"time"

	"dispatch/internal/domain"
)

// TrafficCondition is the traffic level along a route segment.
type TrafficCondition string

const (
	TrafficLight  TrafficCondition = "light"
	TrafficNormal TrafficCondition = "normal"
	TrafficMedium TrafficCondition = "medium"
	TrafficHeavy  TrafficCondition = "heavy"
)

// WeatherCondition is the weather along a route segment.
type WeatherCondition string

const (
	WeatherSunny  WeatherCondition = "sunny"
	WeatherNormal WeatherCondition = "normal"
	WeatherRainy  WeatherCondition = "rainy"
	WeatherStormy WeatherCondition = "stormy"
)

// Request bundles everything the ETA model needs for one leg.
type Request struct {
	DistanceKM       float64
	VehicleType      domain.VehicleType
	TrafficCondition TrafficCondition
	WeatherCondition WeatherCondition
	DriverState      domain.OperationalState
}

// Estimate is the model's output: minutes of travel and the resulting
// wall-clock arrival time.
type Estimate struct {
	TotalMinutes float64
	ArrivalTime  time.Time
}

// returningPenaltyFactor accounts for a driver needing to first peel away
// from a return-to-base leg before heading to the new pickup.
const returningPenaltyFactor = 1.1

// baseSpeedKMH returns the nominal cruising speed for a vehicle type.
// Unknown vehicle types default to the car speed rather than erroring —
// the model must stay total.
func baseSpeedKMH(v domain.VehicleType) float64 {
	switch v {
	case domain.VehicleBike:
		return 15
	case domain.VehicleMoto:
		return 35
	case domain.VehicleCar:
		return 40
	case domain.VehicleVan:
		return 35
	case domain.VehicleTruck:
		return 30
	default:
		return 40
	}
}

func trafficFactor(c TrafficCondition) float64 {
	switch c {
	case TrafficLight:
		return 0.9
	case TrafficNormal:
		return 1.0
	case TrafficMedium:
		return 1.2
	case TrafficHeavy:
		return 1.5
	default:
		return 1.0
	}
}

func weatherFactor(c WeatherCondition) float64 {
	switch c {
	case WeatherSunny, WeatherNormal:
		return 1.0
	case WeatherRainy:
		return 1.15
	case WeatherStormy:
		return 1.35
	default:
		return 1.0
	}
}

// DriverToPickupETA computes a deterministic travel time estimate relative
// to now, and the resulting arrival time.
func DriverToPickupETA(req Request, now time.Time) Estimate {
	minutes := (req.DistanceKM / baseSpeedKMH(req.VehicleType)) * 60
	minutes *= trafficFactor(req.TrafficCondition)
	minutes *= weatherFactor(req.WeatherCondition)

	if req.DriverState == domain.StateReturning {
		minutes *= returningPenaltyFactor
	}

	return Estimate{
		TotalMinutes: minutes,
		ArrivalTime:  now.Add(time.Duration(minutes * float64(time.Minute))),
	}
}

// Feasibility is the result of checking a travel estimate against a
// delivery time window.
type Feasibility string

const (
	OnTime     Feasibility = "ON_TIME"
	Tight      Feasibility = "TIGHT"
	Infeasible Feasibility = "INFEASIBLE"
)

// CheckTimeWindowFeasibility classifies whether travelMinutes of travel
// starting at currentTime lands within [earliest, latest], returning the
// classification and the signed slack in minutes.
func CheckTimeWindowFeasibility(currentTime time.Time, window domain.TimeWindow, travelMinutes float64) (Feasibility, float64) {
	arrival := currentTime.Add(time.Duration(travelMinutes * float64(time.Minute)))
	slackMinutes := window.Latest.Sub(arrival).Minutes()

	switch {
	case slackMinutes < 0:
		return Infeasible, slackMinutes
	case slackMinutes < 10:
		return Tight, slackMinutes
	default:
		return OnTime, slackMinutes
	}
}
