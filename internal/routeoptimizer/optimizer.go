// Package routeoptimizer implements the Hybrid Route Optimizer: a
// CVRP-vs-fast-matrix engine choice, an enhanced CVRP fan-out across
// multiple vehicles for fairness, and a deterministic naive-route
// fallback shared with the Smart Batching Engine.
package routeoptimizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/matrix"
	"dispatch/pkg/apperror"
	"dispatch/pkg/config"
)

// DeliveryStop is one order's pickup/delivery pair to be routed.
type DeliveryStop struct {
	OrderID         uuid.UUID
	PickupLocation  domain.Location
	DropoffLocation domain.Location
	WeightKG        float64
}

// Request describes one routing problem for a single driver (or, in
// enhanced-CVRP mode, a small vehicle fleet sharing the same cluster).
type Request struct {
	DriverID          uuid.UUID
	DriverLocation    domain.Location
	Orders            []DeliveryStop
	AvailableVehicles int
	SLAMinutes        float64
	ServiceClass      domain.ServiceClass
	UseCVRP           *bool
}

// Result is the normalized outcome: one Route per vehicle actually used.
type Result struct {
	Routes         []*domain.Route
	EngineUsed     EngineKind
	DecisionReason string
	FallbackReason string
}

// Service chooses between the CVRP solver and the fast matrix-based
// nearest-neighbor heuristic, and normalizes either one's output into the
// shared Route shape.
type Service struct {
	matrix             *matrix.Service
	httpClient         *http.Client
	baseURL            string
	maxRetries         int
	cvrpEnabled        bool
	healthCheckTimeout time.Duration
	log                *slog.Logger
}

// New builds a Hybrid Route Optimizer.
func New(m *matrix.Service, cfg *config.Config, log *slog.Logger) *Service {
	ep := cfg.Services.CVRPSolver
	return &Service{
		matrix:             m,
		httpClient:         &http.Client{Timeout: ep.Timeout},
		baseURL:            strings.TrimRight(ep.BaseURL, "/"),
		maxRetries:         ep.MaxRetries,
		cvrpEnabled:        cfg.Dispatch.CVRPEnabled,
		healthCheckTimeout: 2 * time.Second,
		log:                log,
	}
}

// Optimize runs the full engine-choice and solve flow for req.
func (s *Service) Optimize(ctx context.Context, req Request) (*Result, error) {
	if len(req.Orders) == 0 {
		return &Result{Routes: nil, EngineUsed: EngineFastMatrix, DecisionReason: "no-orders"}, nil
	}

	healthy := s.cvrpEnabled && s.probeCVRPHealth(ctx)
	engine, reason := chooseEngine(len(req.Orders), req.UseCVRP, s.cvrpEnabled, healthy)
	s.log.Info("route optimizer engine decision", "engine", engine, "reason", reason, "orders", len(req.Orders))

	if engine == EngineCVRP {
		routes, err := s.solveCVRP(ctx, req)
		if err == nil {
			return &Result{Routes: routes, EngineUsed: EngineCVRP, DecisionReason: reason}, nil
		}
		s.log.Warn("cvrp solve failed, falling back to naive route", "error", err, "driver_id", req.DriverID)
		naive := naiveRoute(req)
		naive.FallbackReason = err.Error()
		return &Result{
			Routes:         []*domain.Route{naive},
			EngineUsed:     EngineFastMatrix,
			DecisionReason: reason,
			FallbackReason: err.Error(),
		}, nil
	}

	route, err := s.solveFastMatrix(ctx, req)
	if err != nil {
		s.log.Warn("fast matrix solve failed, falling back to naive route", "error", err, "driver_id", req.DriverID)
		naive := naiveRoute(req)
		naive.FallbackReason = err.Error()
		return &Result{Routes: []*domain.Route{naive}, EngineUsed: EngineFastMatrix, DecisionReason: reason, FallbackReason: err.Error()}, nil
	}
	return &Result{Routes: []*domain.Route{route}, EngineUsed: EngineFastMatrix, DecisionReason: reason}, nil
}

func (s *Service) probeCVRPHealth(ctx context.Context) bool {
	if s.baseURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// solveFastMatrix orders req.Orders with a nearest-neighbor heuristic over
// the Matrix Cache's distance table, respecting each order's pickup-before-
// delivery precedence.
func (s *Service) solveFastMatrix(ctx context.Context, req Request) (*domain.Route, error) {
	locs := []domain.Location{req.DriverLocation}
	// index 2i+1 is order i's pickup, 2i+2 its delivery.
	for _, o := range req.Orders {
		locs = append(locs, o.PickupLocation, o.DropoffLocation)
	}

	m, err := s.matrix.GetMatrix(ctx, locs)
	if err != nil {
		return nil, fmt.Errorf("fast matrix solve: %w", err)
	}

	visited := make([]bool, len(locs))
	pickedUp := make([]bool, len(req.Orders))
	visited[0] = true
	current := 0

	type ordered struct {
		idx  int
		kind domain.StopKind
		ord  int
	}
	var sequence []ordered

	for visitedCount := 1; visitedCount < len(locs); visitedCount++ {
		best := -1
		bestDist := -1.0
		for i := 1; i < len(locs); i++ {
			if visited[i] {
				continue
			}
			orderIdx := (i - 1) / 2
			isDelivery := (i-1)%2 == 1
			if isDelivery && !pickedUp[orderIdx] {
				continue // precedence: can't deliver before picking up
			}
			d := m.Distances[current][i]
			if best == -1 || d < bestDist {
				best = i
				bestDist = d
			}
		}
		if best == -1 {
			break
		}
		visited[best] = true
		orderIdx := (best - 1) / 2
		isDelivery := (best-1)%2 == 1
		kind := domain.StopPickup
		if isDelivery {
			kind = domain.StopDelivery
		} else {
			pickedUp[orderIdx] = true
		}
		sequence = append(sequence, ordered{idx: best, kind: kind, ord: orderIdx})
		current = best
	}

	now := time.Now()
	route := &domain.Route{ID: uuid.New(), DriverID: req.DriverID}
	cumulative := 0.0
	prevIdx := 0
	for _, seq := range sequence {
		orderID := req.Orders[seq.ord].OrderID
		distKM := m.Distances[prevIdx][seq.idx]
		route.TotalDistanceKM += distKM
		if seq.kind == domain.StopDelivery {
			cumulative += req.Orders[seq.ord].WeightKG
		}
		route.Stops = append(route.Stops, domain.Stop{
			OrderID:        &orderID,
			Kind:           seq.kind,
			Location:       locs[seq.idx],
			ETA:            now.Add(time.Duration(m.Durations[prevIdx][seq.idx]) * time.Second),
			CumulativeLoad: cumulative,
		})
		prevIdx = seq.idx
	}
	return route, nil
}

type cvrpStopReq struct {
	OrderID string  `json:"order_id"`
	Kind    string  `json:"kind"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	WeightKG float64 `json:"weight_kg"`
}

type cvrpSolveRequest struct {
	VehicleID string        `json:"vehicle_id"`
	Origin    [2]float64    `json:"origin"`
	Stops     []cvrpStopReq `json:"stops"`
}

type cvrpSolveResponse struct {
	Code            string  `json:"code"`
	VisitOrder      []int   `json:"visit_order"`
	TotalDistanceKM float64 `json:"total_distance_km"`
}

// solveCVRP fans req.Orders out across vehiclesNeeded() vehicles
// round-robin, then calls the solver once per vehicle independently.
func (s *Service) solveCVRP(ctx context.Context, req Request) ([]*domain.Route, error) {
	n := vehiclesNeeded(len(req.Orders), req.AvailableVehicles, req.SLAMinutes)
	buckets := roundRobinAssign(req.Orders, n)

	routes := make([]*domain.Route, 0, len(buckets))
	for vi, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		route, err := s.solveOneVehicle(ctx, req.DriverID, req.DriverLocation, bucket, vi)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	return routes, nil
}

func (s *Service) solveOneVehicle(ctx context.Context, driverID uuid.UUID, origin domain.Location, stops []DeliveryStop, vehicleIndex int) (*domain.Route, error) {
	body := cvrpSolveRequest{
		VehicleID: fmt.Sprintf("%s-%d", driverID, vehicleIndex),
		Origin:    [2]float64{origin.Lng, origin.Lat},
	}
	for _, o := range stops {
		body.Stops = append(body.Stops,
			cvrpStopReq{OrderID: o.OrderID.String(), Kind: "PICKUP", Lat: o.PickupLocation.Lat, Lng: o.PickupLocation.Lng, WeightKG: o.WeightKG},
			cvrpStopReq{OrderID: o.OrderID.String(), Kind: "DELIVERY", Lat: o.DropoffLocation.Lat, Lng: o.DropoffLocation.Lng},
		)
	}

	operation := func() (*cvrpSolveResponse, error) {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/solve", strings.NewReader(string(payload)))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("cvrp solver returned status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("cvrp solver returned status %d", resp.StatusCode))
		}

		var sr cvrpSolveResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode cvrp response: %w", err))
		}
		if sr.Code != "Ok" {
			return nil, backoff.Permanent(apperror.New(apperror.CodeCVRPFailed, fmt.Sprintf("cvrp solver returned code %q", sr.Code)))
		}
		return &sr, nil
	}

	sr, err := backoff.Retry(ctx, operation, backoff.WithMaxTries(uint(s.maxRetries)+1))
	if err != nil {
		return nil, err
	}

	return normalizeCVRPResult(driverID, origin, body.Stops, sr), nil
}

// normalizeCVRPResult maps the solver's visit-order indices back onto the
// shared Route/Stop shape.
func normalizeCVRPResult(driverID uuid.UUID, origin domain.Location, stops []cvrpStopReq, sr *cvrpSolveResponse) *domain.Route {
	route := &domain.Route{ID: uuid.New(), DriverID: driverID, TotalDistanceKM: sr.TotalDistanceKM}
	now := time.Now()
	cumulative := 0.0
	prev := origin

	order := sr.VisitOrder
	if len(order) == 0 {
		order = make([]int, len(stops))
		for i := range stops {
			order[i] = i
		}
	}

	for _, idx := range order {
		if idx < 0 || idx >= len(stops) {
			continue
		}
		st := stops[idx]
		loc := domain.Location{Lat: st.Lat, Lng: st.Lng}
		distKM := domain.HaversineKM(prev, loc)
		route.TotalDistanceKM += distKM

		kind := domain.StopPickup
		if st.Kind == "DELIVERY" {
			kind = domain.StopDelivery
			cumulative += st.WeightKG
		}
		orderID, err := uuid.Parse(st.OrderID)
		if err != nil {
			continue
		}
		route.Stops = append(route.Stops, domain.Stop{
			OrderID:        &orderID,
			Kind:           kind,
			Location:       loc,
			ETA:            now,
			CumulativeLoad: cumulative,
		})
		prev = loc
	}
	return route
}

// naiveRoute builds the deterministic fallback: every pickup first in
// input order, then every delivery in input order,
// then a synthetic return-to-base stop at the driver's starting location.
func naiveRoute(req Request) *domain.Route {
	route := &domain.Route{ID: uuid.New(), DriverID: req.DriverID}
	now := time.Now()
	prev := req.DriverLocation
	cumulative := 0.0

	for _, o := range req.Orders {
		orderID := o.OrderID
		dist := domain.HaversineKM(prev, o.PickupLocation)
		route.TotalDistanceKM += dist
		route.Stops = append(route.Stops, domain.Stop{OrderID: &orderID, Kind: domain.StopPickup, Location: o.PickupLocation, ETA: now, CumulativeLoad: cumulative})
		prev = o.PickupLocation
	}
	for _, o := range req.Orders {
		orderID := o.OrderID
		dist := domain.HaversineKM(prev, o.DropoffLocation)
		route.TotalDistanceKM += dist
		cumulative += o.WeightKG
		route.Stops = append(route.Stops, domain.Stop{OrderID: &orderID, Kind: domain.StopDelivery, Location: o.DropoffLocation, ETA: now, CumulativeLoad: cumulative})
		prev = o.DropoffLocation
	}
	route.Stops = append(route.Stops, domain.Stop{Kind: domain.StopReturn, Location: req.DriverLocation, ETA: now})
	route.TotalDistanceKM += domain.HaversineKM(prev, req.DriverLocation)
	return route
}
