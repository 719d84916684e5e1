package push

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestParseCallSignal(t *testing.T) {
	cases := []struct {
		name string
		body string
		ok   bool
	}{
		{"valid", `{"uuid":"71a67b6a-7f7c-4f9e-9d3b-0a93b7b7f001","handle":"010-1111-2222"}`, true},
		// The id is opaque; any non-empty string must be accepted.
		{"opaque uuid", `{"uuid":"a","handle":"010-1111-2222"}`, true},
		{"missing uuid", `{"handle":"010-1111-2222"}`, false},
		{"blank uuid", `{"uuid":"  ","handle":"x"}`, false},
		{"missing handle", `{"uuid":"71a67b6a-7f7c-4f9e-9d3b-0a93b7b7f001"}`, false},
		{"blank handle", `{"uuid":"71a67b6a-7f7c-4f9e-9d3b-0a93b7b7f001","handle":"  "}`, false},
		{"not json", `ring ring`, false},
		{"empty", ``, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig, ok := ParseCallSignal([]byte(tc.body))
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if ok && (sig.UUID == "" || sig.Handle == "") {
				t.Fatalf("expected populated signal, got %+v", sig)
			}
		})
	}
}

type memoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]DeviceToken
}

func (s *memoryTokenStore) Register(ctx context.Context, userID string, tok DeviceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = make(map[string]DeviceToken)
	}
	s.tokens[userID] = tok
	return nil
}

func (s *memoryTokenStore) Lookup(ctx context.Context, userID string) (DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[userID]
	if !ok {
		return DeviceToken{}, ErrNoToken
	}
	return tok, nil
}

type memoryLimiter struct {
	mu    sync.Mutex
	slots map[string]bool
}

func (l *memoryLimiter) Acquire(ctx context.Context, receiverID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slots == nil {
		l.slots = make(map[string]bool)
	}
	if l.slots[receiverID] {
		return false, nil
	}
	l.slots[receiverID] = true
	return true, nil
}

func (l *memoryLimiter) Release(ctx context.Context, receiverID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.slots, receiverID)
	return nil
}

func TestService_SendCallPush(t *testing.T) {
	tokens := &memoryTokenStore{}
	_ = tokens.Register(context.Background(), "bob", DeviceToken{Token: "dev-1", TokenType: TokenTypeVoIP})
	sender := &MemorySender{}
	svc := NewService(tokens, sender, &memoryLimiter{}, nil)

	callID, err := svc.SendCallPush(context.Background(), SendCallPushRequest{
		CallerID:   "alice",
		ReceiverID: "bob",
		CallerName: "Alice",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if callID == "" {
		t.Fatalf("expected assigned call id")
	}
	if sender.SentCount() != 1 {
		t.Fatalf("expected 1 push, got %d", sender.SentCount())
	}
	if got := sender.Sent[0]; got.DeviceToken != "dev-1" || got.CallID != callID {
		t.Fatalf("unexpected push %+v", got)
	}
}

func TestService_ReceiverBusy(t *testing.T) {
	tokens := &memoryTokenStore{}
	_ = tokens.Register(context.Background(), "bob", DeviceToken{Token: "dev-1"})
	sender := &MemorySender{}
	limiter := &memoryLimiter{}
	svc := NewService(tokens, sender, limiter, nil)

	if _, err := svc.SendCallPush(context.Background(), SendCallPushRequest{CallerID: "a", ReceiverID: "bob"}); err != nil {
		t.Fatalf("first push failed: %v", err)
	}
	_, err := svc.SendCallPush(context.Background(), SendCallPushRequest{CallerID: "c", ReceiverID: "bob"})
	if !errors.Is(err, ErrReceiverBusy) {
		t.Fatalf("expected ErrReceiverBusy, got %v", err)
	}
}

func TestService_NoTokenAndSendFailure(t *testing.T) {
	tokens := &memoryTokenStore{}
	sender := &MemorySender{}
	limiter := &memoryLimiter{}
	svc := NewService(tokens, sender, limiter, nil)

	if _, err := svc.SendCallPush(context.Background(), SendCallPushRequest{CallerID: "a", ReceiverID: "ghost"}); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}

	_ = tokens.Register(context.Background(), "bob", DeviceToken{Token: "dev-1"})
	sender.SendErr = errors.New("gateway down")
	if _, err := svc.SendCallPush(context.Background(), SendCallPushRequest{CallerID: "a", ReceiverID: "bob"}); err == nil {
		t.Fatalf("expected send error")
	}

	// The ring slot must be released on failure so a retry can ring.
	sender.SendErr = nil
	if _, err := svc.SendCallPush(context.Background(), SendCallPushRequest{CallerID: "a", ReceiverID: "bob"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestService_ValidatesRequest(t *testing.T) {
	svc := NewService(&memoryTokenStore{}, &MemorySender{}, nil, nil)
	if _, err := svc.SendCallPush(context.Background(), SendCallPushRequest{ReceiverID: "bob"}); !errors.Is(err, ErrInvalidPush) {
		t.Fatalf("expected ErrInvalidPush, got %v", err)
	}
}
