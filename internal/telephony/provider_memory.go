package telephony

import (
	"context"
	"sync"
)

// MemoryProvider is an in-memory Provider useful for tests and early
// development. It records every presentation and end report.
type MemoryProvider struct {
	mu sync.Mutex

	// PresentErr, when set, is returned by PresentIncomingCall.
	PresentErr error

	Presented []PresentedCall
	Ended     []EndedCall
}

type PresentedCall struct {
	CallID      string
	DisplayName string
}

type EndedCall struct {
	CallID string
	Reason string
}

func (p *MemoryProvider) Name() string { return "memory" }

func (p *MemoryProvider) PresentIncomingCall(ctx context.Context, callID, displayName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PresentErr != nil {
		return p.PresentErr
	}
	p.Presented = append(p.Presented, PresentedCall{CallID: callID, DisplayName: displayName})
	return nil
}

func (p *MemoryProvider) ReportCallEnded(ctx context.Context, callID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Ended = append(p.Ended, EndedCall{CallID: callID, Reason: reason})
	return nil
}

func (p *MemoryProvider) PresentedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Presented)
}

func (p *MemoryProvider) EndedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Ended)
}
