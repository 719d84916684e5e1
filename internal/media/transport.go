package media

import "context"

// ConnState is the provider-agnostic transport connection state.
type ConnState int

const (
	ConnStateConnecting ConnState = iota
	ConnStateConnected
	ConnStateDisconnected
	ConnStateFailed
	ConnStateClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnStateConnecting:
		return "connecting"
	case ConnStateConnected:
		return "connected"
	case ConnStateDisconnected:
		return "disconnected"
	case ConnStateFailed:
		return "failed"
	case ConnStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Callbacks are invoked by the transport. OnMessage delivery order follows
// the underlying channel's delivery order.
type Callbacks struct {
	OnMessage     func(data []byte)
	OnStateChange func(state ConnState)
}

// Transport owns one peer connection, its audio track and its event data
// channel. Implementations must make Close idempotent.
type Transport interface {
	// CreateOffer produces the local SDP offer, waiting for candidate
	// gathering bounded by ctx.
	CreateOffer(ctx context.Context) (string, error)

	// ApplyAnswer installs the remote SDP answer.
	ApplyAnswer(sdp string) error

	// Send writes one message to the event data channel.
	Send(data []byte) error

	Close()
}

// TransportFactory builds a fresh transport for one start attempt.
type TransportFactory func(cb Callbacks) (Transport, error)
