// Package matrix implements the content-addressed distance/duration
// matrix cache. A Service answers getMatrix(coords) by
// fingerprinting the coordinate list, checking a shared key-value cache,
// falling through to an external routing engine on a miss or a cache read
// failure, and falling back to a pure haversine matrix when the router
// fetch fails. The haversine fallback is never cached, so a transient router
// outage cannot poison the matrix for later callers once it recovers.
package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"dispatch/internal/domain"
	"dispatch/pkg/cache"
	"dispatch/pkg/config"
)

const keyPrefix = "mx:"

// Matrix is a pair of n×n distance (km) and duration (seconds) tables for
// an ordered coordinate list.
type Matrix struct {
	Distances [][]float64 `json:"distances"`
	Durations [][]float64 `json:"durations"`
}

// Service answers getMatrix requests with cache-then-router-then-haversine
// fallthrough.
type Service struct {
	cache      cache.Cache
	httpClient *http.Client
	baseURL    string
	maxRetries int
	ttl        time.Duration
	log        *slog.Logger

	degraded atomic.Bool
}

// New builds a Service from the routing engine endpoint and shared cache
// configured in cfg.
func New(c cache.Cache, cfg *config.Config, log *slog.Logger) *Service {
	ep := cfg.Services.RoutingEngine
	return &Service{
		cache:      c,
		httpClient: &http.Client{Timeout: ep.Timeout},
		baseURL:    strings.TrimRight(ep.BaseURL, "/"),
		maxRetries: ep.MaxRetries,
		ttl:        cfg.Dispatch.MatrixCacheTTL,
		log:        log,
	}
}

// GetMatrix returns the distance/duration matrix for coords, in the same
// order they were given. A single-point input is the degenerate case: it
// returns a 1x1 zero matrix without touching the cache or the router.
func (s *Service) GetMatrix(ctx context.Context, coords []domain.Location) (*Matrix, error) {
	n := len(coords)
	if n <= 1 {
		return zeroMatrix(n), nil
	}

	key := keyPrefix + domain.MatrixFingerprint(coords)

	if m, ok := s.lookupCache(ctx, key); ok {
		return m, nil
	}

	m, err := s.fetchFromRouter(ctx, coords)
	if err != nil {
		s.degraded.Store(true)
		s.log.Warn("routing engine unavailable, falling back to haversine matrix", "error", err, "n", n)
		return haversineMatrix(coords), nil
	}
	s.degraded.Store(false)

	s.writeCache(ctx, key, m)
	return m, nil
}

// Degraded reports whether the most recent fetch fell back to haversine.
// It is recorded for observability only and never changes the shape of
// GetMatrix's return value.
func (s *Service) Degraded() bool {
	return s.degraded.Load()
}

func (s *Service) lookupCache(ctx context.Context, key string) (*Matrix, bool) {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if err != cache.ErrKeyNotFound {
			s.log.Warn("matrix cache read failed, degrading to direct fetch", "error", err)
		}
		return nil, false
	}

	var m Matrix
	if err := json.Unmarshal(raw, &m); err != nil {
		s.log.Warn("matrix cache entry corrupt, degrading to direct fetch", "error", err)
		return nil, false
	}
	return &m, true
}

func (s *Service) writeCache(ctx context.Context, key string, m *Matrix) {
	raw, err := json.Marshal(m)
	if err != nil {
		s.log.Warn("matrix cache encode failed", "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		s.log.Warn("matrix cache write failed", "error", err)
	}
}

type routerResponse struct {
	Code      string      `json:"code"`
	Distances [][]float64 `json:"distances"`
	Durations [][]float64 `json:"durations"`
}

func (s *Service) fetchFromRouter(ctx context.Context, coords []domain.Location) (*Matrix, error) {
	url := fmt.Sprintf("%s/table/v1/driving/%s?annotations=duration,distance", s.baseURL, coordPath(coords))

	operation := func() (*routerResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("routing engine returned status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("routing engine returned status %d", resp.StatusCode))
		}

		var rr routerResponse
		if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode routing engine response: %w", err))
		}
		if rr.Code != "Ok" {
			return nil, backoff.Permanent(fmt.Errorf("routing engine returned code %q", rr.Code))
		}
		return &rr, nil
	}

	rr, err := backoff.Retry(ctx, operation, backoff.WithMaxTries(uint(s.maxRetries)+1))
	if err != nil {
		return nil, err
	}

	return &Matrix{Distances: rr.Distances, Durations: rr.Durations}, nil
}

// coordPath renders coordinates as lng,lat;lng,lat;... for the routing
// engine's path-segment coordinate syntax.
func coordPath(coords []domain.Location) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = fmt.Sprintf("%f,%f", c.Lng, c.Lat)
	}
	return strings.Join(parts, ";")
}

func haversineMatrix(coords []domain.Location) *Matrix {
	n := len(coords)
	m := zeroMatrix(n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			km := domain.HaversineKM(coords[i], coords[j])
			m.Distances[i][j] = km
			m.Durations[i][j] = (km / 30) * 3600
		}
	}
	return m
}

func zeroMatrix(n int) *Matrix {
	if n <= 0 {
		n = 1
	}
	d := make([][]float64, n)
	t := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
		t[i] = make([]float64, n)
	}
	return &Matrix{Distances: d, Durations: t}
}
