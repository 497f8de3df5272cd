package sla

import "dispatch/internal/domain"

// scoreInputs bundles what the weighted handover score needs for one
// candidate driver.
type scoreInputs struct {
	DistanceKM    float64
	OnTimeRate    float64
	CurrentLoadKG float64
	CapacityKG    float64
	GapFromTarget int
	Target        int
}

// handoverScore computes the weighted candidate score:
//
//	score = 0.4*distanceScore + 0.3*performanceScore
//	      + 0.2*loadScore     + 0.1*targetScore
func handoverScore(in scoreInputs) float64 {
	distanceScore := 1 - in.DistanceKM/50
	if distanceScore < 0 {
		distanceScore = 0
	}

	performanceScore := in.OnTimeRate
	if performanceScore <= 0 {
		performanceScore = 0.85
	}

	var loadScore float64
	if in.CapacityKG > 0 {
		loadScore = 1 - in.CurrentLoadKG/in.CapacityKG
	}
	if loadScore < 0 {
		loadScore = 0
	}

	var targetScore float64
	if in.Target > 0 {
		targetScore = float64(in.GapFromTarget) / float64(in.Target)
	}

	return 0.4*distanceScore + 0.3*performanceScore + 0.2*loadScore + 0.1*targetScore
}

func scoreInputsFor(d *domain.Driver, distanceKM float64) scoreInputs {
	return scoreInputs{
		DistanceKM:    distanceKM,
		OnTimeRate:    d.Performance.OnTimeRate,
		CurrentLoadKG: d.CurrentLoadKG,
		CapacityKG:    d.CapacityKG,
		GapFromTarget: d.Counters.GapFromTarget,
		Target:        d.Counters.TargetDeliveries,
	}
}
