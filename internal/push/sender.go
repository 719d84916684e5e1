package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CallPush is one outbound "ring this device" delivery.
type CallPush struct {
	CallID      string `json:"uuid"`
	CallerID    string `json:"caller_id"`
	CallerName  string `json:"caller_name"`
	ReceiverID  string `json:"receiver_id"`
	DeviceToken string `json:"device_token"`
	TokenType   string `json:"token_type"`
}

// Sender delivers call pushes. Delivery is fire-and-forget from the caller's
// perspective; the receiving device reports back through the call API.
type Sender interface {
	SendCallPush(ctx context.Context, p CallPush) error
}

// GatewaySender posts call pushes to the push delivery gateway.
type GatewaySender struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewGatewaySender(baseURL, apiKey string) *GatewaySender {
	return &GatewaySender{
		http:    &http.Client{Timeout: 5 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (s *GatewaySender) SendCallPush(ctx context.Context, p CallPush) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/send-call-push", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push: gateway status %d", resp.StatusCode)
	}
	return nil
}

// MemorySender records pushes for tests.
type MemorySender struct {
	mu      sync.Mutex
	SendErr error
	Sent    []CallPush
}

func (s *MemorySender) SendCallPush(ctx context.Context, p CallPush) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	s.Sent = append(s.Sent, p)
	return nil
}

func (s *MemorySender) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}

// Service coordinates token lookup, ring capping and delivery for outbound
// call pushes.
type Service struct {
	tokens  TokenStore
	sender  Sender
	limiter RingLimiter
	log     *slog.Logger
}

func NewService(tokens TokenStore, sender Sender, limiter RingLimiter, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{tokens: tokens, sender: sender, limiter: limiter, log: log}
}

var (
	ErrInvalidPush  = errors.New("push: invalid call push request")
	ErrReceiverBusy = errors.New("push: receiver already being rung")
)

// SendCallPushRequest is the API-level request to ring another user.
type SendCallPushRequest struct {
	CallerID   string `json:"caller_id"`
	ReceiverID string `json:"receiver_id"`
	CallerName string `json:"caller_name"`
}

// SendCallPush rings the receiver's registered device. Returns the call id
// assigned to the new call signal.
func (s *Service) SendCallPush(ctx context.Context, req SendCallPushRequest) (string, error) {
	if req.CallerID == "" || req.ReceiverID == "" {
		return "", ErrInvalidPush
	}
	if req.CallerName == "" {
		req.CallerName = req.CallerID
	}

	tok, err := s.tokens.Lookup(ctx, req.ReceiverID)
	if err != nil {
		return "", err
	}

	if s.limiter != nil {
		ok, err := s.limiter.Acquire(ctx, req.ReceiverID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrReceiverBusy
		}
	}

	callID := uuid.NewString()
	push := CallPush{
		CallID:      callID,
		CallerID:    req.CallerID,
		CallerName:  req.CallerName,
		ReceiverID:  req.ReceiverID,
		DeviceToken: tok.Token,
		TokenType:   tok.TokenType,
	}
	if err := s.sender.SendCallPush(ctx, push); err != nil {
		if s.limiter != nil {
			if relErr := s.limiter.Release(ctx, req.ReceiverID); relErr != nil {
				s.log.Warn("ring slot release failed", "receiver_id", req.ReceiverID, "err", relErr)
			}
		}
		return "", err
	}
	return callID, nil
}
