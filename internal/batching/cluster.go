package batching

import "dispatch/internal/domain"

// ClusterOptions bounds the single-link clustering pass.
type ClusterOptions struct {
	MaxDistanceKM  float64
	MaxSLASpread   float64 // minutes
	MinOrdersBatch int
	MaxOrdersBatch int
}

// Cluster performs single-link clustering over candidates' dropoff
// coordinates: from each unvisited seed (taken in input order, which
// SelectCandidates has already made deterministic), greedily absorb any
// unvisited order within MaxDistanceKM of ANY current batch member that
// is also compatible — same service class, and the resulting batch's SLA
// deadline spread does not exceed MaxSLASpread. A batch stops growing at
// MaxOrdersBatch; a finished batch below MinOrdersBatch is discarded (its
// orders remain candidates for whichever seed claims them next, or for
// the next cycle if none does).
func Cluster(candidates []*domain.Order, opts ClusterOptions) [][]*domain.Order {
	n := len(candidates)
	claimed := make([]bool, n)
	var clusters [][]*domain.Order

	for seedIdx := 0; seedIdx < n; seedIdx++ {
		if claimed[seedIdx] {
			continue
		}

		batch := []*domain.Order{candidates[seedIdx]}
		members := []int{seedIdx}

		for len(batch) < opts.MaxOrdersBatch {
			absorbIdx := -1
			for j := 0; j < n; j++ {
				if claimed[j] || j == seedIdx || contains(members, j) {
					continue
				}
				if compatible(batch, candidates[j], opts) {
					absorbIdx = j
					break
				}
			}
			if absorbIdx == -1 {
				break
			}
			batch = append(batch, candidates[absorbIdx])
			members = append(members, absorbIdx)
		}

		if len(batch) < opts.MinOrdersBatch {
			continue // discard: release members back to the candidate pool
		}

		for _, idx := range members {
			claimed[idx] = true
		}
		clusters = append(clusters, batch)
	}

	return clusters
}

func contains(members []int, idx int) bool {
	for _, m := range members {
		if m == idx {
			return true
		}
	}
	return false
}

// compatible reports whether candidate can join batch under single-link
// proximity (within MaxDistanceKM of any current member), same service
// class, and SLA spread constraints.
func compatible(batch []*domain.Order, candidate *domain.Order, opts ClusterOptions) bool {
	if candidate.ServiceClass != batch[0].ServiceClass {
		return false
	}

	linked := false
	for _, member := range batch {
		if domain.HaversineKM(member.DropoffLocation, candidate.DropoffLocation) <= opts.MaxDistanceKM {
			linked = true
			break
		}
	}
	if !linked {
		return false
	}

	minDeadline, maxDeadline := candidate.SLADeadline, candidate.SLADeadline
	for _, member := range batch {
		if member.SLADeadline.Before(minDeadline) {
			minDeadline = member.SLADeadline
		}
		if member.SLADeadline.After(maxDeadline) {
			maxDeadline = member.SLADeadline
		}
	}
	spreadMinutes := maxDeadline.Sub(minDeadline).Minutes()
	return spreadMinutes <= opts.MaxSLASpread
}
