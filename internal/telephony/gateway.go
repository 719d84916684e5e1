package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GatewayProvider reaches devices through the push/call-UI gateway.
type GatewayProvider struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewGatewayProvider(baseURL, apiKey string) *GatewayProvider {
	return &GatewayProvider{
		http:    &http.Client{Timeout: 5 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (p *GatewayProvider) Name() string { return "gateway" }

type presentCallRequest struct {
	CallID      string `json:"call_id"`
	DisplayName string `json:"display_name"`
}

type endCallRequest struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason"`
}

func (p *GatewayProvider) PresentIncomingCall(ctx context.Context, callID, displayName string) error {
	err := p.post(ctx, "/present-call", presentCallRequest{CallID: callID, DisplayName: displayName})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPresentationFailed, err)
	}
	return nil
}

func (p *GatewayProvider) ReportCallEnded(ctx context.Context, callID, reason string) error {
	return p.post(ctx, "/end-call", endCallRequest{CallID: callID, Reason: reason})
}

func (p *GatewayProvider) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway status %d", resp.StatusCode)
	}
	return nil
}
