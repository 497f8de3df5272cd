// Package sla implements the SLA Reassignment Engine: an at-risk
// classifier for in-flight orders and the atomic handover that moves an
// at-risk order to a better driver.
package sla

import (
	"time"

	"dispatch/internal/domain"
)

// RiskLevel is an in-flight order's SLA health classification.
type RiskLevel string

const (
	Healthy  RiskLevel = "HEALTHY"
	Warning  RiskLevel = "WARNING"
	Critical RiskLevel = "CRITICAL"
	Breached RiskLevel = "BREACHED"
)

// Classify applies a concrete policy: breached if the
// deadline has already passed; critical if minutesToDeadline <= 15 and
// the current ETA misses the deadline; warning if minutesToDeadline <=
// 30 and the ETA is within 5 minutes of missing it; healthy otherwise.
// canMeetSLA reports whether etaArrival lands at or before the deadline.
func Classify(now time.Time, deadline time.Time, etaArrival time.Time) (level RiskLevel, canMeetSLA bool) {
	minutesToDeadline := deadline.Sub(now).Minutes()
	canMeetSLA = !etaArrival.After(deadline)

	if now.After(deadline) {
		return Breached, canMeetSLA
	}

	switch {
	case minutesToDeadline <= 15 && etaArrival.After(deadline):
		return Critical, canMeetSLA
	case minutesToDeadline <= 30 && !etaArrival.Before(deadline.Add(-5*time.Minute)):
		return Warning, canMeetSLA
	default:
		return Healthy, canMeetSLA
	}
}

// NeedsReassignment reports whether an order's classification makes it a
// reassignment candidate: only warning or critical orders that cannot
// meet their SLA on the current driver qualify. Breached orders escalate
// instead of reassigning.
func NeedsReassignment(level RiskLevel, canMeetSLA bool) bool {
	return (level == Warning || level == Critical) && !canMeetSLA
}

// eligible reports whether a candidate driver passes the eligibility
// filters for taking over an at-risk order.
func eligible(d *domain.Driver, distanceKM, orderWeightKG float64, maxDistanceKM float64) bool {
	if d.Performance.OnTimeRate < 0.9 {
		return false
	}
	if d.Counters.HoursWorkedToday >= 10 {
		return false
	}
	if d.Counters.GapFromTarget <= 0 {
		return false
	}
	if d.ResidualCapacityKG() < orderWeightKG {
		return false
	}
	if distanceKM > maxDistanceKM {
		return false
	}
	return true
}
