package telephony

import (
	"context"
	"errors"
)

// Provider is the narrow surface through which the orchestrator reaches the
// device-side native call UI.
//
// Rules:
// - No gateway/SDK specifics outside telephony adapters.
// - PresentIncomingCall failures are terminal for that call attempt; the
//   controller never retries presentation.
//
// User actions (answered/ended/rejected) travel the other way: the device
// reports them to the API surface, which drives the controller directly.
type Provider interface {
	Name() string

	// PresentIncomingCall asks the device to ring with native call UI.
	PresentIncomingCall(ctx context.Context, callID, displayName string) error

	// ReportCallEnded tells the device the call is over so it can dismiss
	// the call UI. Best-effort; errors are logged, never surfaced as call
	// failures.
	ReportCallEnded(ctx context.Context, callID, reason string) error
}

// ErrPresentationFailed wraps gateway refusals to show call UI.
var ErrPresentationFailed = errors.New("telephony: call presentation failed")
