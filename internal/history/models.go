package history

import "time"

// Record is an immutable, append-only call history entry, written once when a
// call ends.
//
// Invariants:
// - Records are never updated or deleted.
// - Recording is best-effort; do not block call teardown on history failures.
//
// Storage recommendation (Postgres):
// - Table call_history with an INSERT-only policy.
// - Optional: partition by time for retention.

type Record struct {
	ID        string        `json:"id" db:"id"`
	CallID    string        `json:"call_id" db:"call_id"`
	UserID    string        `json:"user_id,omitempty" db:"user_id"`
	Handle    string        `json:"handle" db:"handle"`
	Direction string        `json:"direction" db:"direction"`
	Reason    string        `json:"reason" db:"reason"`
	Duration  time.Duration `json:"duration" db:"duration"`
	CostUSD   float64       `json:"cost_usd" db:"cost_usd"`
	EndedAt   time.Time     `json:"ended_at" db:"ended_at"`
}

// Summary aggregates call history over a time range.
type Summary struct {
	TotalCalls     int            `json:"total_calls"`
	CallsByReason  map[string]int `json:"calls_by_reason"`
	TotalDuration  time.Duration  `json:"total_duration"`
	AverageSeconds float64        `json:"average_seconds"`
	TotalCostUSD   float64        `json:"total_cost_usd"`
}
