package errormon

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/events"
)

const (
	ringCapacity = 1000
	ringTTL      = 24 * time.Hour
)

// ErrorRecord is one classified, timestamped entry in the rolling ring.
type ErrorRecord struct {
	ID        uuid.UUID
	Timestamp time.Time
	Category  Category
	Severity  Severity
	Service   string
	Message   string
}

// Thresholds bounds the three alert conditions the sink watches for.
type Thresholds struct {
	ErrorRateThreshold        float64 // errors/min over the last 5 min
	CriticalErrorThreshold    int     // critical errors in the last hour
	ConsecutiveErrorThreshold int     // consecutive errors within the last 60s
}

const (
	alertRateWindow        = 5 * time.Minute
	alertCriticalWindow    = time.Hour
	alertConsecutiveWindow = 60 * time.Second
)

// AlertName identifies one of the sink's alert conditions.
type AlertName string

const (
	AlertHighErrorRate        AlertName = "HIGH_ERROR_RATE"
	AlertCriticalErrorThresh  AlertName = "CRITICAL_ERROR_THRESHOLD"
	AlertConsecutiveErrors    AlertName = "CONSECUTIVE_ERRORS"
)

// Alert is the payload published on events.KindAlert.
type Alert struct {
	Name      AlertName
	Timestamp time.Time
}

// Sink is the Error Monitoring Sink: a capacity/TTL-bounded ring of
// classified errors with derived windowed metrics and edge-triggered
// alerting. The ring mechanics are hand-rolled — no available library
// offers a capacity+TTL ring buffer with windowed aggregation.
type Sink struct {
	bus        *events.Bus
	thresholds Thresholds

	mu      sync.Mutex
	records []ErrorRecord
	crossed map[AlertName]bool
}

// New builds an Error Monitoring Sink. Zero-value thresholds fall back
// to their stated defaults.
func New(bus *events.Bus, thresholds Thresholds) *Sink {
	if thresholds.ErrorRateThreshold <= 0 {
		thresholds.ErrorRateThreshold = 10
	}
	if thresholds.CriticalErrorThreshold <= 0 {
		thresholds.CriticalErrorThreshold = 5
	}
	if thresholds.ConsecutiveErrorThreshold <= 0 {
		thresholds.ConsecutiveErrorThreshold = 20
	}
	return &Sink{
		bus:        bus,
		thresholds: thresholds,
		crossed:    make(map[AlertName]bool, 3),
	}
}

// Report classifies and records one error, publishes events.KindErrorTracked,
// and evaluates every alert condition, publishing events.KindAlert exactly
// once per rising edge: no alert de-duplication state is kept beyond
// edge detection.
func (s *Sink) Report(in ReportedError) ErrorRecord {
	category, severity := Classify(in)
	now := time.Now()
	rec := ErrorRecord{
		ID:        uuid.New(),
		Timestamp: now,
		Category:  category,
		Severity:  severity,
		Service:   in.Service,
		Message:   errMessage(in.Err),
	}

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.evictLocked(now)
	s.mu.Unlock()

	s.bus.Publish(events.KindErrorTracked, rec.ID, rec, now)
	s.evaluateAlerts(now)
	return rec
}

func (s *Sink) evictLocked(now time.Time) {
	cutoff := now.Add(-ringTTL)
	start := 0
	for start < len(s.records) && s.records[start].Timestamp.Before(cutoff) {
		start++
	}
	if start > 0 {
		s.records = s.records[start:]
	}
	if len(s.records) > ringCapacity {
		s.records = s.records[len(s.records)-ringCapacity:]
	}
}

// WindowMetrics summarizes the ring over one trailing window.
type WindowMetrics struct {
	Window     time.Duration
	Count      int
	ByCategory map[Category]int
	BySeverity map[Severity]int
}

// Metrics derives counts for the 5 min / 1 h / 24 h windows.
func (s *Sink) Metrics(now time.Time) map[time.Duration]WindowMetrics {
	windows := []time.Duration{alertRateWindow, alertCriticalWindow, ringTTL}
	out := make(map[time.Duration]WindowMetrics, len(windows))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range windows {
		out[w] = s.metricsLocked(now, w)
	}
	return out
}

func (s *Sink) metricsLocked(now time.Time, window time.Duration) WindowMetrics {
	cutoff := now.Add(-window)
	m := WindowMetrics{Window: window, ByCategory: map[Category]int{}, BySeverity: map[Severity]int{}}
	for _, r := range s.records {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		m.Count++
		m.ByCategory[r.Category]++
		m.BySeverity[r.Severity]++
	}
	return m
}

func (s *Sink) evaluateAlerts(now time.Time) {
	s.mu.Lock()
	rateCount := s.countSinceLocked(now, alertRateWindow, nil)
	rate := float64(rateCount) / alertRateWindow.Minutes()

	criticalCount := s.countSinceLocked(now, alertCriticalWindow, func(r ErrorRecord) bool {
		return r.Severity == SeverityCritical
	})

	consecutive := s.consecutiveWithinLocked(now)
	s.mu.Unlock()

	s.crossEdge(AlertHighErrorRate, rate > s.thresholds.ErrorRateThreshold, now)
	s.crossEdge(AlertCriticalErrorThresh, criticalCount >= s.thresholds.CriticalErrorThreshold, now)
	s.crossEdge(AlertConsecutiveErrors, consecutive, now)
}

func (s *Sink) countSinceLocked(now time.Time, window time.Duration, match func(ErrorRecord) bool) int {
	cutoff := now.Add(-window)
	count := 0
	for _, r := range s.records {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		if match == nil || match(r) {
			count++
		}
	}
	return count
}

// consecutiveWithinLocked reports whether the last ConsecutiveErrorThreshold
// recorded errors all fall within the trailing 60s window.
func (s *Sink) consecutiveWithinLocked(now time.Time) bool {
	n := s.thresholds.ConsecutiveErrorThreshold
	if len(s.records) < n {
		return false
	}
	recent := s.records[len(s.records)-n:]
	cutoff := now.Add(-alertConsecutiveWindow)
	for _, r := range recent {
		if r.Timestamp.Before(cutoff) {
			return false
		}
	}
	return true
}

func (s *Sink) crossEdge(name AlertName, active bool, now time.Time) {
	s.mu.Lock()
	was := s.crossed[name]
	s.crossed[name] = active
	s.mu.Unlock()

	if active && !was {
		s.bus.Publish(events.KindAlert, uuid.New(), Alert{Name: name, Timestamp: now}, now)
	}
}
