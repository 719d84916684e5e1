package signaling

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, sessionURL, mediaBaseURL string) *Client {
	t.Helper()
	c, err := NewClient(Options{
		SessionURL:   sessionURL,
		MediaBaseURL: mediaBaseURL,
		APIKey:       "sk-test",
		Model:        "gpt-realtime",
	})
	if err != nil {
		t.Fatalf("expected client, got %v", err)
	}
	return c
}

func TestFetchCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"user_id":"u1"`) {
			t.Errorf("expected caller context in body, got %s", body)
		}
		w.Write([]byte(`{"client_secret":{"value":"eph-token"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	token, err := c.FetchCredential(context.Background(), CallContext{UserID: "u1"})
	if err != nil {
		t.Fatalf("expected token, got %v", err)
	}
	if token != "eph-token" {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestFetchCredential_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	_, err := c.FetchCredential(context.Background(), CallContext{UserID: "u1"})
	if !errors.Is(err, ErrCredential) {
		t.Fatalf("expected ErrCredential, got %v", err)
	}
}

func TestFetchCredential_EmptySecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"client_secret":{}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	_, err := c.FetchCredential(context.Background(), CallContext{UserID: "u1"})
	if !errors.Is(err, ErrCredential) {
		t.Fatalf("expected ErrCredential, got %v", err)
	}
}

func TestExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("model"); got != "gpt-realtime" {
			t.Errorf("expected model query param, got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/sdp" {
			t.Errorf("unexpected content type %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer eph-token" {
			t.Errorf("expected ephemeral token, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.HasPrefix(string(body), "v=0") {
			t.Errorf("expected SDP offer, got %s", body)
		}
		w.Write([]byte("v=0\r\nanswer"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	answer, err := c.Exchange(context.Background(), "v=0\r\noffer", "eph-token")
	if err != nil {
		t.Fatalf("expected answer, got %v", err)
	}
	if answer != "v=0\r\nanswer" {
		t.Fatalf("unexpected answer %q", answer)
	}
}

func TestExchange_Non2xxAndEmptyBody(t *testing.T) {
	status := http.StatusBadGateway
	body := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)

	if _, err := c.Exchange(context.Background(), "v=0", "tok"); !errors.Is(err, ErrNegotiation) {
		t.Fatalf("expected ErrNegotiation on 502, got %v", err)
	}

	status = http.StatusOK
	if _, err := c.Exchange(context.Background(), "v=0", "tok"); !errors.Is(err, ErrNegotiation) {
		t.Fatalf("expected ErrNegotiation on empty body, got %v", err)
	}
}
