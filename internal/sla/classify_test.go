package sla

import (
	"testing"
	"time"
)

func TestClassify_Breached(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(-1 * time.Minute)
	level, canMeet := Classify(now, deadline, now)
	if level != Breached {
		t.Fatalf("got %v, want Breached", level)
	}
	if canMeet {
		t.Fatal("expected canMeetSLA to be false once breached")
	}
}

func TestClassify_Critical(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(10 * time.Minute)
	eta := now.Add(20 * time.Minute) // ETA after deadline
	level, canMeet := Classify(now, deadline, eta)
	if level != Critical {
		t.Fatalf("got %v, want Critical", level)
	}
	if canMeet {
		t.Fatal("expected canMeetSLA false")
	}
}

func TestClassify_Warning(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(25 * time.Minute)
	eta := deadline.Add(-2 * time.Minute) // within 5 min of missing
	level, _ := Classify(now, deadline, eta)
	if level != Warning {
		t.Fatalf("got %v, want Warning", level)
	}
}

func TestClassify_Healthy(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(2 * time.Hour)
	eta := now.Add(10 * time.Minute)
	level, canMeet := Classify(now, deadline, eta)
	if level != Healthy {
		t.Fatalf("got %v, want Healthy", level)
	}
	if !canMeet {
		t.Fatal("expected canMeetSLA true")
	}
}

func TestNeedsReassignment(t *testing.T) {
	if NeedsReassignment(Healthy, false) {
		t.Fatal("healthy orders never need reassignment")
	}
	if NeedsReassignment(Breached, false) {
		t.Fatal("breached orders escalate, not reassign")
	}
	if !NeedsReassignment(Critical, false) {
		t.Fatal("critical + cannot meet SLA should need reassignment")
	}
	if NeedsReassignment(Warning, true) {
		t.Fatal("warning that can still meet SLA should not reassign")
	}
}
