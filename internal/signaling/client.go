package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client performs the two HTTP round trips needed to set up one media
// session: minting an ephemeral credential and exchanging SDP.
//
// Contract:
// - Stateless per call; no retries. Failures surface upward and the caller
//   decides whether to place a fresh call.
// - Both round trips are bounded by the request context and the client
//   timeout; there is no unbounded wait.
type Client struct {
	http         *http.Client
	sessionURL   string
	mediaBaseURL string
	apiKey       string
	model        string
}

type Options struct {
	SessionURL   string
	MediaBaseURL string
	APIKey       string
	Model        string

	// Timeout applies per request. Defaults to 10s.
	Timeout time.Duration
}

var (
	ErrCredential  = errors.New("signaling: credential fetch failed")
	ErrNegotiation = errors.New("signaling: offer/answer exchange failed")
)

func NewClient(opts Options) (*Client, error) {
	if opts.SessionURL == "" || opts.MediaBaseURL == "" {
		return nil, errors.New("signaling: session and media URLs are required")
	}
	if opts.APIKey == "" {
		return nil, errors.New("signaling: api key is required")
	}
	if opts.Model == "" {
		return nil, errors.New("signaling: model is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:         &http.Client{Timeout: timeout},
		sessionURL:   opts.SessionURL,
		mediaBaseURL: opts.MediaBaseURL,
		apiKey:       opts.APIKey,
		model:        opts.Model,
	}, nil
}

// CallContext carries caller context sent along with the credential request
// so the remote persona can greet the caller appropriately.
type CallContext struct {
	UserID      string   `json:"user_id"`
	Locale      string   `json:"locale,omitempty"`
	CallerName  string   `json:"caller_name,omitempty"`
	Persona     string   `json:"persona,omitempty"`
	Transcripts []string `json:"recent_transcripts,omitempty"`
}

type sessionResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
}

// FetchCredential mints a short-lived bearer token for one session.
func (c *Client) FetchCredential(ctx context.Context, cc CallContext) (string, error) {
	body, err := json.Marshal(cc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredential, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredential, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredential, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrCredential, resp.StatusCode)
	}

	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredential, err)
	}
	if out.ClientSecret.Value == "" {
		return "", fmt.Errorf("%w: empty client secret", ErrCredential)
	}
	return out.ClientSecret.Value, nil
}

// Exchange posts the local SDP offer and returns the remote answer.
// token must be an ephemeral credential from FetchCredential, never the API key.
func (c *Client) Exchange(ctx context.Context, offerSDP, token string) (string, error) {
	url := fmt.Sprintf("%s?model=%s", c.mediaBaseURL, c.model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(offerSDP)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrNegotiation, resp.StatusCode)
	}

	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	if len(answer) == 0 {
		return "", fmt.Errorf("%w: empty answer body", ErrNegotiation)
	}
	return string(answer), nil
}
