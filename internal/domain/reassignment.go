package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReassignmentEvent records one SLA-driven driver handover for an order.
type ReassignmentEvent struct {
	ID           uuid.UUID `json:"id"`
	OrderID      uuid.UUID `json:"order_id"`
	FromDriverID uuid.UUID `json:"from_driver_id"`
	ToDriverID   uuid.UUID `json:"to_driver_id"`
	Reason       string    `json:"reason"`
	DistanceKM   float64   `json:"distance_km"`
	DriverScore  float64   `json:"driver_score"`
	Timestamp    time.Time `json:"timestamp"`
}

// TriggerRecord is one entry in the Agent Trigger's bounded history:
// 10 per agent, 100 globally.
type TriggerRecord struct {
	Timestamp time.Time `json:"timestamp"`
	AgentName string    `json:"agent_name"`
	Reason    string    `json:"reason"`
	Priority  string    `json:"priority"`
	Context   string    `json:"context,omitempty"`
}
