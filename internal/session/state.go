package session

import "time"

// State is the call lifecycle state. Exactly one call identity may be
// associated with a non-idle state at a time; the controller is the single
// owner of this value.
type State int

const (
	StateIdle State = iota
	StateRinging
	StateMediaConnecting
	StateActive
	StateDraining
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRinging:
		return "ringing"
	case StateMediaConnecting:
		return "media_connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// CallIdentity identifies one call attempt. Immutable; created when a call is
// initiated and discarded on call end.
type CallIdentity struct {
	ID        string    `json:"call_id"`
	Handle    string    `json:"handle"`
	UserID    string    `json:"user_id,omitempty"`
	Direction Direction `json:"direction"`
	CreatedAt time.Time `json:"created_at"`
}

// EndReason codes the terminal outcome of a call. Errors never cross the
// state boundary; they are reduced to one of these.
type EndReason string

const (
	EndReasonCompleted          EndReason = "completed"
	EndReasonDrainTimeout       EndReason = "drain_timeout"
	EndReasonHangup             EndReason = "hangup"
	EndReasonRejected           EndReason = "rejected"
	EndReasonPresentationFailed EndReason = "presentation_failed"
	EndReasonCredentialFailed   EndReason = "credential_failed"
	EndReasonNegotiationFailed  EndReason = "negotiation_failed"
	EndReasonTransportFailed    EndReason = "transport_failed"
	EndReasonCostLimit          EndReason = "cost_limit"
	EndReasonShutdown           EndReason = "shutdown"
)

// Snapshot is a point-in-time view of the controller for status endpoints
// and logging. Never a live reference into controller state.
type Snapshot struct {
	State         State         `json:"state"`
	Call          *CallIdentity `json:"call,omitempty"`
	CostUSD       float64       `json:"cost_usd"`
	LastEndReason EndReason     `json:"last_end_reason,omitempty"`
}
