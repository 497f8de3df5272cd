package batching

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
)

func dropoffOrder(serviceClass domain.ServiceClass, dropoff domain.Location, deadline time.Time) *domain.Order {
	return &domain.Order{
		ID:              uuid.New(),
		ServiceClass:    serviceClass,
		DropoffLocation: dropoff,
		SLADeadline:     deadline,
	}
}

func TestCluster_GroupsNearbyCompatibleOrders(t *testing.T) {
	now := time.Now()
	a := dropoffOrder(domain.ServiceStandard, domain.Location{Lat: 52.50, Lng: 13.40}, now.Add(40*time.Minute))
	b := dropoffOrder(domain.ServiceStandard, domain.Location{Lat: 52.501, Lng: 13.401}, now.Add(42*time.Minute))

	opts := ClusterOptions{MaxDistanceKM: 3, MaxSLASpread: 20, MinOrdersBatch: 2, MaxOrdersBatch: 5}
	clusters := Cluster([]*domain.Order{a, b}, opts)

	if len(clusters) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(clusters))
	}
	if len(clusters[0]) != 2 {
		t.Fatalf("expected 2 members, got %d", len(clusters[0]))
	}
}

func TestCluster_SeparatesDifferentServiceClasses(t *testing.T) {
	now := time.Now()
	a := dropoffOrder(domain.ServiceStandard, domain.Location{Lat: 52.50, Lng: 13.40}, now.Add(40*time.Minute))
	b := dropoffOrder(domain.ServiceClass("SAME_DAY"), domain.Location{Lat: 52.501, Lng: 13.401}, now.Add(40*time.Minute))

	opts := ClusterOptions{MaxDistanceKM: 3, MaxSLASpread: 20, MinOrdersBatch: 1, MaxOrdersBatch: 5}
	clusters := Cluster([]*domain.Order{a, b}, opts)

	if len(clusters) != 2 {
		t.Fatalf("expected 2 separate single-order clusters, got %d", len(clusters))
	}
}

func TestCluster_DiscardsBelowMinimum(t *testing.T) {
	now := time.Now()
	lonely := dropoffOrder(domain.ServiceStandard, domain.Location{Lat: 52.50, Lng: 13.40}, now.Add(40*time.Minute))

	opts := ClusterOptions{MaxDistanceKM: 3, MaxSLASpread: 20, MinOrdersBatch: 2, MaxOrdersBatch: 5}
	clusters := Cluster([]*domain.Order{lonely}, opts)

	if len(clusters) != 0 {
		t.Fatalf("expected a lone order below the minimum batch size to be discarded, got %d clusters", len(clusters))
	}
}

func TestCluster_RespectsMaxDistance(t *testing.T) {
	now := time.Now()
	a := dropoffOrder(domain.ServiceStandard, domain.Location{Lat: 52.50, Lng: 13.40}, now.Add(40*time.Minute))
	far := dropoffOrder(domain.ServiceStandard, domain.Location{Lat: 53.50, Lng: 14.40}, now.Add(40*time.Minute))

	opts := ClusterOptions{MaxDistanceKM: 3, MaxSLASpread: 20, MinOrdersBatch: 1, MaxOrdersBatch: 5}
	clusters := Cluster([]*domain.Order{a, far}, opts)

	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters for orders far apart, got %d", len(clusters))
	}
}

func TestCluster_RespectsSLASpread(t *testing.T) {
	now := time.Now()
	a := dropoffOrder(domain.ServiceStandard, domain.Location{Lat: 52.50, Lng: 13.40}, now.Add(10*time.Minute))
	b := dropoffOrder(domain.ServiceStandard, domain.Location{Lat: 52.501, Lng: 13.401}, now.Add(90*time.Minute))

	opts := ClusterOptions{MaxDistanceKM: 3, MaxSLASpread: 20, MinOrdersBatch: 1, MaxOrdersBatch: 5}
	clusters := Cluster([]*domain.Order{a, b}, opts)

	if len(clusters) != 2 {
		t.Fatalf("expected the wide SLA spread to split the orders into separate clusters, got %d", len(clusters))
	}
}

func TestCluster_RespectsMaxBatchSize(t *testing.T) {
	now := time.Now()
	var candidates []*domain.Order
	for i := 0; i < 4; i++ {
		candidates = append(candidates, dropoffOrder(domain.ServiceStandard, domain.Location{Lat: 52.50, Lng: 13.40}, now.Add(40*time.Minute)))
	}

	opts := ClusterOptions{MaxDistanceKM: 3, MaxSLASpread: 20, MinOrdersBatch: 1, MaxOrdersBatch: 2}
	clusters := Cluster(candidates, opts)

	for _, c := range clusters {
		if len(c) > 2 {
			t.Fatalf("expected no cluster to exceed MaxOrdersBatch=2, got %d", len(c))
		}
	}
	total := 0
	for _, c := range clusters {
		total += len(c)
	}
	if total != 4 {
		t.Fatalf("expected all 4 orders to be accounted for across clusters, got %d", total)
	}
}
