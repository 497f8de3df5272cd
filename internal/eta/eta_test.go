package eta

import (
	"testing"
	"time"

	"dispatch/internal/domain"
)

func TestDriverToPickupETA_Deterministic(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	req := Request{
		DistanceKM:       20,
		VehicleType:      domain.VehicleCar,
		TrafficCondition: TrafficNormal,
		WeatherCondition: WeatherSunny,
		DriverState:      domain.StateAvailable,
	}

	e1 := DriverToPickupETA(req, now)
	e2 := DriverToPickupETA(req, now)

	if e1.TotalMinutes != e2.TotalMinutes {
		t.Fatalf("expected deterministic output, got %v and %v", e1.TotalMinutes, e2.TotalMinutes)
	}
	if e1.TotalMinutes <= 0 {
		t.Fatalf("expected positive travel time, got %v", e1.TotalMinutes)
	}
}

func TestDriverToPickupETA_UnknownEnumsDefaultToNeutral(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	req := Request{
		DistanceKM:       20,
		VehicleType:      "unknown-vehicle",
		TrafficCondition: "unknown-traffic",
		WeatherCondition: "unknown-weather",
		DriverState:      domain.StateAvailable,
	}

	// Must not panic and must produce a sane result (total function).
	e := DriverToPickupETA(req, now)
	if e.TotalMinutes <= 0 {
		t.Fatalf("expected positive travel time for unknown enums, got %v", e.TotalMinutes)
	}
}

func TestDriverToPickupETA_HeavyTrafficAndStormIncreaseTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	base := Request{DistanceKM: 20, VehicleType: domain.VehicleCar, TrafficCondition: TrafficLight, WeatherCondition: WeatherSunny, DriverState: domain.StateAvailable}
	worse := Request{DistanceKM: 20, VehicleType: domain.VehicleCar, TrafficCondition: TrafficHeavy, WeatherCondition: WeatherStormy, DriverState: domain.StateAvailable}

	if DriverToPickupETA(worse, now).TotalMinutes <= DriverToPickupETA(base, now).TotalMinutes {
		t.Fatal("expected heavy traffic + storm to take longer than light traffic + sun")
	}
}

func TestDriverToPickupETA_ReturningPenalty(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	available := Request{DistanceKM: 20, VehicleType: domain.VehicleCar, TrafficCondition: TrafficNormal, WeatherCondition: WeatherSunny, DriverState: domain.StateAvailable}
	returning := available
	returning.DriverState = domain.StateReturning

	if DriverToPickupETA(returning, now).TotalMinutes <= DriverToPickupETA(available, now).TotalMinutes {
		t.Fatal("expected a RETURNING driver to take longer")
	}
}

func TestCheckTimeWindowFeasibility(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		latest   time.Time
		minutes  float64
		wantFeas Feasibility
	}{
		{"comfortable", now.Add(60 * time.Minute), 10, OnTime},
		{"tight", now.Add(15 * time.Minute), 10, Tight},
		{"infeasible", now.Add(5 * time.Minute), 10, Infeasible},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			window := domain.TimeWindow{Earliest: now, Latest: c.latest}
			feas, slack := CheckTimeWindowFeasibility(now, window, c.minutes)
			if feas != c.wantFeas {
				t.Fatalf("got %v (slack=%v), want %v", feas, slack, c.wantFeas)
			}
		})
	}
}

func TestCheckTimeWindowFeasibility_BoundaryAtTenMinutes(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	// slack exactly 10 -> ON_TIME (ON_TIME iff slack >= 10)
	window := domain.TimeWindow{Latest: now.Add(20 * time.Minute)}
	feas, slack := CheckTimeWindowFeasibility(now, window, 10)
	if feas != OnTime || slack != 10 {
		t.Fatalf("got %v (slack=%v), want ON_TIME with slack 10", feas, slack)
	}
}

func TestCheckTimeWindowFeasibility_BoundaryAtZero(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	// slack exactly 0 -> TIGHT (TIGHT iff 0 <= slack < 10)
	window := domain.TimeWindow{Latest: now.Add(10 * time.Minute)}
	feas, slack := CheckTimeWindowFeasibility(now, window, 10)
	if feas != Tight || slack != 0 {
		t.Fatalf("got %v (slack=%v), want TIGHT with slack 0", feas, slack)
	}
}
