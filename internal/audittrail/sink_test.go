package audittrail

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/pkg/audit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (r *recordingLogger) Log(_ context.Context, e *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}
func (r *recordingLogger) Query(context.Context, *audit.QueryFilter) ([]*audit.Entry, error) {
	return nil, nil
}
func (r *recordingLogger) Close() error { return nil }

func (r *recordingLogger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func TestSink_WritesAuditEntryForReassignmentSucceeded(t *testing.T) {
	bus := events.NewBus()
	rec := &recordingLogger{}
	sink := New(bus, rec, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink.Run(ctx)

	orderID := uuid.New()
	ev := &domain.ReassignmentEvent{
		ID: uuid.New(), OrderID: orderID,
		FromDriverID: uuid.New(), ToDriverID: uuid.New(),
		Reason: "sla-reassignment", Timestamp: time.Now(),
	}
	bus.Publish(events.KindReassignmentSucceeded, orderID, ev, time.Now())

	waitFor(t, func() bool { return rec.count() == 1 })
}

func TestSink_WritesAuditEntryForAlert(t *testing.T) {
	bus := events.NewBus()
	rec := &recordingLogger{}
	sink := New(bus, rec, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink.Run(ctx)

	bus.Publish(events.KindAlert, uuid.New(), struct{ Name string }{"x"}, time.Now())
	waitFor(t, func() bool { return rec.count() == 1 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}
