package matrix

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dispatch/internal/domain"
	"dispatch/pkg/cache"
	"dispatch/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Services.RoutingEngine = config.ServiceEndpoint{
		BaseURL:    baseURL,
		Timeout:    2 * time.Second,
		MaxRetries: 1,
	}
	cfg.Dispatch.MatrixCacheTTL = 300 * time.Second
	return cfg
}

func newMemCache() cache.Cache {
	return cache.NewMemoryCache(cache.DefaultOptions())
}

var berlin = domain.Location{Lat: 52.52, Lng: 13.405}
var munich = domain.Location{Lat: 48.1351, Lng: 11.582}

func TestGetMatrix_SinglePointReturnsZeroMatrix(t *testing.T) {
	svc := New(newMemCache(), testConfig("http://unused"), testLogger())

	m, err := svc.GetMatrix(context.Background(), []domain.Location{berlin})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Distances) != 1 || m.Distances[0][0] != 0 {
		t.Fatalf("expected 1x1 zero matrix, got %+v", m)
	}
}

func TestGetMatrix_RouterSuccessIsCached(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_ = json.NewEncoder(w).Encode(routerResponse{
			Code:      "Ok",
			Distances: [][]float64{{0, 10}, {10, 0}},
			Durations: [][]float64{{0, 600}, {600, 0}},
		})
	}))
	defer srv.Close()

	svc := New(newMemCache(), testConfig(srv.URL), testLogger())
	coords := []domain.Location{berlin, munich}

	m1, err := svc.GetMatrix(context.Background(), coords)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m1.Distances[0][1] != 10 {
		t.Fatalf("expected distance 10, got %v", m1.Distances[0][1])
	}
	if svc.Degraded() {
		t.Fatal("expected non-degraded result on router success")
	}

	m2, err := svc.GetMatrix(context.Background(), coords)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m2.Distances[0][1] != 10 {
		t.Fatalf("expected cached distance 10, got %v", m2.Distances[0][1])
	}
	if hits != 1 {
		t.Fatalf("expected router to be hit exactly once, got %d", hits)
	}
}

func TestGetMatrix_RouterErrorFallsBackToHaversine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(routerResponse{Code: "Error"})
	}))
	defer srv.Close()

	svc := New(newMemCache(), testConfig(srv.URL), testLogger())
	coords := []domain.Location{berlin, munich}

	m, err := svc.GetMatrix(context.Background(), coords)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := domain.HaversineKM(berlin, munich)
	if diff := m.Distances[0][1] - want; diff > 0.01 || diff < -0.01 {
		t.Fatalf("expected haversine fallback distance ~%v, got %v", want, m.Distances[0][1])
	}
	if !svc.Degraded() {
		t.Fatal("expected degraded flag to be set after router failure")
	}
}

func TestGetMatrix_FallbackIsNeverCached(t *testing.T) {
	failing := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			_ = json.NewEncoder(w).Encode(routerResponse{Code: "Error"})
			return
		}
		_ = json.NewEncoder(w).Encode(routerResponse{
			Code:      "Ok",
			Distances: [][]float64{{0, 42}, {42, 0}},
			Durations: [][]float64{{0, 1000}, {1000, 0}},
		})
	}))
	defer srv.Close()

	svc := New(newMemCache(), testConfig(srv.URL), testLogger())
	coords := []domain.Location{berlin, munich}

	if _, err := svc.GetMatrix(context.Background(), coords); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failing = false
	m, err := svc.GetMatrix(context.Background(), coords)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Distances[0][1] != 42 {
		t.Fatalf("expected router's fresh value 42 once recovered, got %v (fallback was cached)", m.Distances[0][1])
	}
}

func TestHaversineMatrix_DiagonalIsZero(t *testing.T) {
	m := haversineMatrix([]domain.Location{berlin, munich})
	if m.Distances[0][0] != 0 || m.Distances[1][1] != 0 {
		t.Fatal("expected zero diagonal")
	}
	if m.Distances[0][1] <= 0 {
		t.Fatal("expected positive off-diagonal distance")
	}
}

func TestCoordPath_Format(t *testing.T) {
	got := coordPath([]domain.Location{berlin, munich})
	want := "13.405000,52.520000;11.582000,48.135100"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
