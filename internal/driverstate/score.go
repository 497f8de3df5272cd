package driverstate

import (
	"math"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/eta"
)

// UnavailabilityReason explains why a driver is not a dispatch candidate.
// Reasons are checked in priority order: the first reason that applies
// wins.
type UnavailabilityReason string

const (
	ReasonNone               UnavailabilityReason = ""
	ReasonInactive           UnavailabilityReason = "INACTIVE"
	ReasonWrongState         UnavailabilityReason = "NON_AVAILABLE_STATE"
	ReasonMaxHoursReached    UnavailabilityReason = "MAX_HOURS_REACHED"
	ReasonBreakRequired      UnavailabilityReason = "MANDATORY_BREAK_REQUIRED"
	ReasonDailyTargetMet     UnavailabilityReason = "DAILY_TARGET_MET"
)

const maxHoursPerDay = 10.0

// Unavailability returns the single highest-priority reason a driver
// cannot take a new order right now, or ReasonNone if it can.
func Unavailability(d *domain.Driver, active bool) UnavailabilityReason {
	if !active {
		return ReasonInactive
	}
	if d.State != domain.StateAvailable && d.State != domain.StateReturning {
		return ReasonWrongState
	}
	if d.Counters.HoursWorkedToday >= maxHoursPerDay {
		return ReasonMaxHoursReached
	}
	if d.Counters.RequiresBreakAfter > 0 && d.Counters.ConsecutiveDeliveries >= d.Counters.RequiresBreakAfter {
		return ReasonBreakRequired
	}
	if d.Counters.TargetDeliveries > 0 && d.Counters.Completed >= d.Counters.TargetDeliveries {
		return ReasonDailyTargetMet
	}
	return ReasonNone
}

// ScoreInputs bundles everything AvailabilityScore needs beyond the
// driver record itself.
type ScoreInputs struct {
	DistanceKM  float64
	Now         time.Time
	TimeWindow  *domain.TimeWindow
	TravelMins  float64
}

// AvailabilityScore computes the additive, ≥0-clamped score used for
// ranking candidate drivers, rounded to two decimals.
func AvailabilityScore(d *domain.Driver, in ScoreInputs) float64 {
	var score float64

	switch d.State {
	case domain.StateAvailable:
		score += 40
	case domain.StateReturning:
		score += 20
	}

	distanceComponent := 30 * (1 - in.DistanceKM/10)
	if distanceComponent > 0 {
		score += distanceComponent
	}

	score += (d.Performance.Rating / 5) * 15

	gapComponent := float64(d.Counters.GapFromTarget) * 2
	if gapComponent > 15 {
		gapComponent = 15
	}
	if gapComponent > 0 {
		score += gapComponent
	}

	if in.TimeWindow != nil {
		feas, slack := eta.CheckTimeWindowFeasibility(in.Now, *in.TimeWindow, in.TravelMins)
		switch {
		case feas == eta.OnTime && slack >= 10:
			score += 20
		case feas == eta.OnTime:
			score += 15
		case feas == eta.Tight:
			score += 10
		case feas == eta.Infeasible:
			score -= 50
		}
	}

	if score < 0 {
		score = 0
	}

	return math.Round(score*100) / 100
}
