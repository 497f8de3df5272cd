package routeoptimizer

import "math"

// vehiclesNeeded implements the enhanced-CVRP fairness formula: enough
// vehicles to keep the per-vehicle workload near slaMinutes/10
// deliveries, capped by what's actually available.
func vehiclesNeeded(deliveryCount, available int, slaMinutes float64) int {
	if available <= 0 || deliveryCount <= 0 {
		return 0
	}
	if slaMinutes <= 0 {
		slaMinutes = 1
	}
	needed := int(math.Ceil(float64(deliveryCount) * 10 / slaMinutes))
	if needed < 1 {
		needed = 1
	}
	if needed > available {
		needed = available
	}
	return needed
}

// roundRobinAssign distributes stops across vehicleCount buckets in
// round-robin order, guaranteeing every vehicle that can be used is used
// when there is surplus demand.
func roundRobinAssign[T any](stops []T, vehicleCount int) [][]T {
	if vehicleCount <= 0 {
		vehicleCount = 1
	}
	buckets := make([][]T, vehicleCount)
	for i, s := range stops {
		b := i % vehicleCount
		buckets[b] = append(buckets[b], s)
	}
	return buckets
}
