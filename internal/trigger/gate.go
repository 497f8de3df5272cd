// Package trigger implements the Agent Trigger / Autonomous Cycle Gate: a
// dual-window cooldown in front of the autonomous dispatch cycle, with a
// bounded trigger-history ring for observability.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dispatch/internal/domain"
	"dispatch/pkg/ratelimit"
)

const (
	globalRingCapacity  = 100
	perAgentRingCapacity = 10
)

// Priority is the caller-supplied urgency of a trigger request.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

const globalCooldownKey = "global"

// Decision is the outcome of one triggerFromAgent call.
type Decision struct {
	Allowed      bool
	Bypassed     bool
	RetryAfterMs int64
}

// CycleFunc runs one autonomous dispatch cycle. It is supplied by the
// Autonomous Loop Supervisor's wiring; Gate itself has no opinion on what
// a "cycle" does.
type CycleFunc func(ctx context.Context) error

// Stats tracks the gate's lifetime counters.
type Stats struct {
	Triggered int64
	Bypassed  int64
	Blocked   int64
	Failed    int64
}

// Gate is the Agent Trigger / Autonomous Cycle Gate.
type Gate struct {
	global   ratelimit.Limiter
	perAgent ratelimit.Limiter
	cycle    CycleFunc

	mu                sync.Mutex
	globalHistory     []domain.TriggerRecord
	perAgentHistory   map[string][]domain.TriggerRecord
	lastGlobalTrigger time.Time
	stats             Stats
}

// New builds a Gate. globalCooldown/perAgentCooldown default to 60s/5min
// (DispatchConfig.GlobalTriggerCooldown / PerAgentTriggerCooldown),
// enforced as sliding-window rate limiters with a limit of one pass per
// window — a trigger either falls inside the cooldown window (blocked) or
// outside it (allowed), sliding from the last successful trigger.
func New(globalCooldown, perAgentCooldown time.Duration, cycle CycleFunc) *Gate {
	if globalCooldown <= 0 {
		globalCooldown = 60 * time.Second
	}
	if perAgentCooldown <= 0 {
		perAgentCooldown = 5 * time.Minute
	}
	return &Gate{
		global: ratelimit.NewMemoryLimiter(&ratelimit.Config{
			Requests: 1,
			Window:   globalCooldown,
			Strategy: "sliding_window",
			Backend:  "memory",
		}),
		perAgent: ratelimit.NewMemoryLimiter(&ratelimit.Config{
			Requests: 1,
			Window:   perAgentCooldown,
			Strategy: "sliding_window",
			Backend:  "memory",
		}),
		cycle:           cycle,
		perAgentHistory: make(map[string][]domain.TriggerRecord),
	}
}

// TriggerFromAgent takes an agent name, reason, free-form context, and
// priority, and decides whether to kick the autonomous cycle right now.
// Priority "critical" bypasses both cooldowns. Every other priority is
// subject to both the global and per-agent cooldown windows.
func (g *Gate) TriggerFromAgent(ctx context.Context, agentName, reason, triggerContext string, priority Priority) (Decision, error) {
	now := time.Now()

	if priority == PriorityCritical {
		g.record(agentName, reason, triggerContext, priority, now)
		if err := g.runCycle(ctx); err != nil {
			return Decision{Allowed: true, Bypassed: true}, fmt.Errorf("trigger from agent %s (bypass): %w", agentName, err)
		}
		return Decision{Allowed: true, Bypassed: true}, nil
	}

	globalOK, err := g.global.Allow(ctx, globalCooldownKey)
	if err != nil {
		return Decision{}, fmt.Errorf("check global cooldown: %w", err)
	}
	agentOK, err := g.perAgent.Allow(ctx, agentName)
	if err != nil {
		return Decision{}, fmt.Errorf("check per-agent cooldown: %w", err)
	}

	if !globalOK || !agentOK {
		g.mu.Lock()
		g.stats.Blocked++
		g.mu.Unlock()
		return Decision{Allowed: false, RetryAfterMs: g.retryAfterMs(ctx, globalOK, agentName)}, nil
	}

	g.record(agentName, reason, triggerContext, priority, now)
	if err := g.runCycle(ctx); err != nil {
		g.mu.Lock()
		g.stats.Failed++
		g.mu.Unlock()
		return Decision{Allowed: true}, fmt.Errorf("trigger from agent %s: %w", agentName, err)
	}

	g.mu.Lock()
	g.lastGlobalTrigger = now
	g.mu.Unlock()
	return Decision{Allowed: true}, nil
}

func (g *Gate) runCycle(ctx context.Context) error {
	if g.cycle == nil {
		return nil
	}
	return g.cycle(ctx)
}

func (g *Gate) retryAfterMs(ctx context.Context, globalOK bool, agentName string) int64 {
	limiter := g.perAgent
	key := agentName
	if !globalOK {
		limiter = g.global
		key = globalCooldownKey
	}
	info, err := limiter.GetInfo(ctx, key)
	if err != nil {
		return 0
	}
	ms := time.Until(info.ResetAt).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

func (g *Gate) record(agentName, reason, triggerContext string, priority Priority, now time.Time) {
	rec := domain.TriggerRecord{
		Timestamp: now,
		AgentName: agentName,
		Reason:    reason,
		Priority:  string(priority),
		Context:   triggerContext,
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.stats.Triggered++
	if priority == PriorityCritical {
		g.stats.Bypassed++
	}

	g.globalHistory = appendBounded(g.globalHistory, rec, globalRingCapacity)
	perAgent := g.perAgentHistory[agentName]
	g.perAgentHistory[agentName] = appendBounded(perAgent, rec, perAgentRingCapacity)
}

func appendBounded(ring []domain.TriggerRecord, rec domain.TriggerRecord, capacity int) []domain.TriggerRecord {
	ring = append(ring, rec)
	if len(ring) > capacity {
		ring = ring[len(ring)-capacity:]
	}
	return ring
}

// Stats returns a snapshot of the gate's lifetime counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// GlobalHistory returns a copy of the global trigger ring, oldest first.
func (g *Gate) GlobalHistory() []domain.TriggerRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.TriggerRecord, len(g.globalHistory))
	copy(out, g.globalHistory)
	return out
}

// LastGlobalTrigger returns the timestamp of the last successful
// (non-bypass) trigger, or the zero time if none has occurred yet.
func (g *Gate) LastGlobalTrigger() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastGlobalTrigger
}

// AgentHistory returns a copy of one agent's trigger ring, oldest first.
func (g *Gate) AgentHistory(agentName string) []domain.TriggerRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	ring := g.perAgentHistory[agentName]
	out := make([]domain.TriggerRecord, len(ring))
	copy(out, ring)
	return out
}
