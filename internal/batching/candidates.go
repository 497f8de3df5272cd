// Package batching implements the Smart Batching Engine: candidate
// selection over pending unassigned orders, single-link
// clustering by dropoff proximity, and the assign+route+persist flow that
// hands each cluster to the Dispatch/Assignment Engine and the Hybrid
// Route Optimizer.
package batching

import (
	"sort"
	"time"

	"dispatch/internal/domain"
)

const candidateCap = 50

// SelectCandidates filters orders down to the pending, unassigned,
// non-express set eligible for batching: age <= 30 min and
// at least 30 minutes left before the SLA deadline. The result is sorted
// by creation time (oldest first) and capped at 50 per cycle.
func SelectCandidates(orders []*domain.Order, now time.Time, expressClasses map[domain.ServiceClass]bool) []*domain.Order {
	var out []*domain.Order
	for _, o := range orders {
		if o.Status != domain.OrderPending || o.BatchID != nil {
			continue
		}
		if expressClasses[o.ServiceClass] {
			continue
		}
		if o.AgeMinutes(now) > 30 {
			continue
		}
		if o.MinutesToDeadline(now) < 30 {
			continue
		}
		out = append(out, o)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > candidateCap {
		out = out[:candidateCap]
	}
	return out
}
