package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTriggerFromAgent_FirstCallAllowed(t *testing.T) {
	var calls int32
	g := New(60*time.Second, 5*time.Minute, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	decision, err := g.TriggerFromAgent(context.Background(), "agent-a", "sla-breach", "", PriorityNormal)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !decision.Allowed || decision.Bypassed {
		t.Fatalf("expected the first call to be allowed without bypass, got %+v", decision)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected the cycle to run exactly once, got %d", calls)
	}
}

func TestTriggerFromAgent_SecondCallBlockedByGlobalCooldown(t *testing.T) {
	var calls int32
	g := New(60*time.Second, 5*time.Minute, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	if _, err := g.TriggerFromAgent(context.Background(), "agent-a", "r1", "", PriorityNormal); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	decision, err := g.TriggerFromAgent(context.Background(), "agent-b", "r2", "", PriorityNormal)
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("expected the global cooldown to block a second trigger from a different agent")
	}
	if decision.RetryAfterMs <= 0 {
		t.Fatalf("expected a positive retryAfterMs, got %d", decision.RetryAfterMs)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected the cycle to run only once, got %d", calls)
	}
}

func TestTriggerFromAgent_SamePerAgentCooldownBlocksRepeat(t *testing.T) {
	g := New(1*time.Millisecond, 5*time.Minute, func(ctx context.Context) error { return nil })

	if _, err := g.TriggerFromAgent(context.Background(), "agent-a", "r1", "", PriorityNormal); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	time.Sleep(5 * time.Millisecond) // let the global cooldown clear so only the per-agent window is tested

	decision, err := g.TriggerFromAgent(context.Background(), "agent-a", "r2", "", PriorityNormal)
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("expected the per-agent cooldown to block a repeat trigger from the same agent")
	}
}

func TestTriggerFromAgent_CriticalBypassesCooldowns(t *testing.T) {
	var calls int32
	g := New(60*time.Second, 5*time.Minute, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	if _, err := g.TriggerFromAgent(context.Background(), "agent-a", "r1", "", PriorityNormal); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	decision, err := g.TriggerFromAgent(context.Background(), "agent-a", "critical-escalation", "", PriorityCritical)
	if err != nil {
		t.Fatalf("critical trigger: %v", err)
	}
	if !decision.Allowed || !decision.Bypassed {
		t.Fatalf("expected a critical-priority trigger to bypass both cooldowns, got %+v", decision)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected the cycle to run twice, got %d", calls)
	}
}

func TestTriggerFromAgent_RecordsBoundedHistory(t *testing.T) {
	g := New(0, 0, func(ctx context.Context) error { return nil })

	for i := 0; i < perAgentRingCapacity+5; i++ {
		if _, err := g.TriggerFromAgent(context.Background(), "agent-a", "r", "", PriorityCritical); err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
	}

	history := g.AgentHistory("agent-a")
	if len(history) != perAgentRingCapacity {
		t.Fatalf("expected the per-agent ring to be capped at %d, got %d", perAgentRingCapacity, len(history))
	}
}

func TestTriggerFromAgent_CycleFailurePropagatesError(t *testing.T) {
	boom := errors.New("boom")
	g := New(0, 0, func(ctx context.Context) error { return boom })

	decision, err := g.TriggerFromAgent(context.Background(), "agent-a", "r", "", PriorityCritical)
	if err == nil {
		t.Fatalf("expected the cycle's error to propagate")
	}
	if !decision.Allowed {
		t.Fatalf("expected Allowed=true even when the cycle itself fails (the gate let it through)")
	}
	stats := g.Stats()
	if stats.Bypassed != 1 {
		t.Fatalf("expected the bypass counter to increment regardless of cycle outcome, got %d", stats.Bypassed)
	}
}
