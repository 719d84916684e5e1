package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"voicelink/internal/auth"
	"voicelink/internal/config"
	"voicelink/internal/history"
	"voicelink/internal/media"
	"voicelink/internal/push"
	"voicelink/internal/session"
	"voicelink/internal/signaling"
	"voicelink/internal/telephony"
	"voicelink/internal/transcript"
	"voicelink/internal/usage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type stubMedia struct{}

func (stubMedia) Start(ctx context.Context, credential string) error { return nil }
func (stubMedia) Stop()                                              {}
func (stubMedia) RequestDrain()                                      {}

type stubCreds struct{}

func (stubCreds) FetchCredential(ctx context.Context, cc signaling.CallContext) (string, error) {
	return "tok", nil
}

type memoryTokens struct {
	mu     sync.Mutex
	tokens map[string]push.DeviceToken
}

func newMemoryTokens() *memoryTokens {
	return &memoryTokens{tokens: map[string]push.DeviceToken{}}
}

func (s *memoryTokens) Register(ctx context.Context, userID string, tok push.DeviceToken) error {
	if userID == "" || tok.Token == "" {
		return push.ErrInvalidToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = tok
	return nil
}

func (s *memoryTokens) Lookup(ctx context.Context, userID string) (push.DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[userID]
	if !ok {
		return push.DeviceToken{}, push.ErrNoToken
	}
	return tok, nil
}

type testAPI struct {
	router *gin.Engine
	auth   *auth.Manager
	ctrl   *session.Controller
	tokens *memoryTokens
	sender *push.MemorySender
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authManager, err := auth.NewManager(config.AuthConfig{
		JWTSecret:      "test-secret",
		AccessTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := func(callID string, emit media.EmitFunc) session.MediaSession {
		return stubMedia{}
	}
	callHistory := history.NewService(history.NewMemoryRepo())
	ctrl := session.NewController(session.Config{}, &telephony.MemoryProvider{}, stubCreds{},
		factory, transcript.NewMemoryStore(), callHistory, usage.DefaultRates(), log)

	tokens := newMemoryTokens()
	sender := &push.MemorySender{}
	pushSvc := push.NewService(tokens, sender, nil, log)

	h := Handlers{
		Auth:        authManager,
		Calls:       ctrl,
		Push:        pushSvc,
		Tokens:      tokens,
		Transcripts: transcript.NewMemoryStore(),
		History:     callHistory,
	}

	r := gin.New()
	r.POST("/webhooks/push/incoming", h.IncomingPushWebhook)
	r.POST("/auth/login", h.Login)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(authManager))
	{
		v1.POST("/push/register-token", h.RegisterPushToken)
		v1.POST("/calls/send-push", h.SendCallPush)
		v1.POST("/calls/outgoing", h.StartOutgoingCall)
		v1.POST("/calls/:call_id/answer", h.AnswerCall)
		v1.POST("/calls/:call_id/reject", h.RejectCall)
		v1.POST("/calls/:call_id/end", h.EndCall)
		v1.GET("/calls/current", h.CurrentCall)
		v1.GET("/calls/history", h.CallHistory)
		v1.GET("/calls/history/summary", h.CallHistorySummary)
		v1.GET("/calls/:call_id/transcript", h.CallTranscript)
	}

	return &testAPI{router: r, auth: authManager, ctrl: ctrl, tokens: tokens, sender: sender}
}

func (a *testAPI) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) login(t *testing.T, userID string) string {
	t.Helper()
	tok, err := a.auth.Issue(time.Now(), userID, "device-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return out
}

func TestIncomingPushWebhook(t *testing.T) {
	api := newTestAPI(t)

	// Malformed payloads are silent no-ops.
	for _, body := range []string{`not json`, `{}`, `{"handle":"x"}`, `{"uuid":"  ","handle":"x"}`, `{"uuid":"` + uuid.NewString() + `","handle":"  "}`} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/push/incoming", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		api.router.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204 for %q, got %d", body, w.Code)
		}
	}
	if api.ctrl.Snapshot().State != session.StateIdle {
		t.Fatalf("malformed pushes changed call state")
	}

	// A valid payload rings. The call id is opaque; it does not have to be
	// uuid-shaped, only matched verbatim by later call actions.
	callID := "a"
	w := api.request(t, http.MethodPost, "/webhooks/push/incoming", "", push.CallSignal{UUID: callID, Handle: "010-1111-2222"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["status"]; got != "ringing" {
		t.Fatalf("expected ringing, got %v", got)
	}
	if api.ctrl.Snapshot().State != session.StateRinging {
		t.Fatalf("expected ringing state")
	}

	// A second push while ringing reports busy and leaves the call alone.
	w = api.request(t, http.MethodPost, "/webhooks/push/incoming", "", push.CallSignal{UUID: uuid.NewString(), Handle: "other"})
	if w.Code != http.StatusOK || decode(t, w)["status"] != "busy" {
		t.Fatalf("expected busy, got %d: %s", w.Code, w.Body.String())
	}
	snap := api.ctrl.Snapshot()
	if snap.State != session.StateRinging || snap.Call.ID != callID {
		t.Fatalf("busy push disturbed the ringing call: %+v", snap)
	}

	// The opaque id from the push is what the device answers with.
	tok := api.login(t, "receiver-1")
	w = api.request(t, http.MethodPost, "/v1/calls/"+callID+"/answer", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected answer to succeed, got %d: %s", w.Code, w.Body.String())
	}
	if got := api.ctrl.Snapshot().State; got != session.StateMediaConnecting {
		t.Fatalf("expected media_connecting after answer, got %s", got)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)

	w := api.request(t, http.MethodPost, "/v1/calls/outgoing", "", gin.H{"handle": "x"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	w = api.request(t, http.MethodGet, "/v1/calls/current", "garbage", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", w.Code)
	}
}

func TestLoginIssuesToken(t *testing.T) {
	api := newTestAPI(t)

	w := api.request(t, http.MethodPost, "/auth/login", "", gin.H{"user_id": "u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	tok, _ := decode(t, w)["access_token"].(string)
	if tok == "" {
		t.Fatalf("expected access token")
	}

	w = api.request(t, http.MethodGet, "/v1/calls/current", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected issued token to be accepted, got %d", w.Code)
	}
}

func TestOutgoingCallLifecycle(t *testing.T) {
	api := newTestAPI(t)
	tok := api.login(t, "u1")

	w := api.request(t, http.MethodPost, "/v1/calls/outgoing", tok, gin.H{"handle": "010-1111-2222"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	callID, _ := decode(t, w)["call_id"].(string)
	if callID == "" {
		t.Fatalf("expected call id")
	}

	// Second outgoing call while one is in flight.
	w = api.request(t, http.MethodPost, "/v1/calls/outgoing", tok, gin.H{"handle": "other"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	// Actions on an id that is not the current call.
	w = api.request(t, http.MethodPost, "/v1/calls/"+uuid.NewString()+"/end", tok, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d", w.Code)
	}

	// Answer is not valid for an outgoing call already connecting.
	w = api.request(t, http.MethodPost, "/v1/calls/"+callID+"/answer", tok, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 answering a connecting call, got %d", w.Code)
	}

	w = api.request(t, http.MethodPost, "/v1/calls/"+callID+"/end", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 ending call, got %d: %s", w.Code, w.Body.String())
	}

	w = api.request(t, http.MethodGet, "/v1/calls/current", tok, nil)
	resp := decode(t, w)
	if resp["state"] != "idle" || resp["last_end_reason"] != "hangup" {
		t.Fatalf("unexpected snapshot: %v", resp)
	}

	w = api.request(t, http.MethodGet, "/v1/calls/history", tok, nil)
	records, _ := decode(t, w)["records"].([]any)
	if len(records) != 1 {
		t.Fatalf("expected one history record, got %s", w.Body.String())
	}
	rec, _ := records[0].(map[string]any)
	if rec["call_id"] != callID || rec["reason"] != "hangup" {
		t.Fatalf("unexpected history record: %v", rec)
	}

	w = api.request(t, http.MethodGet, "/v1/calls/history/summary?since=bogus", tok, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cutoff, got %d", w.Code)
	}
}

func TestRegisterTokenAndSendPush(t *testing.T) {
	api := newTestAPI(t)
	caller := api.login(t, "caller-1")
	receiver := api.login(t, "receiver-1")

	// No token registered yet.
	w := api.request(t, http.MethodPost, "/v1/calls/send-push", caller, gin.H{"receiver_id": "receiver-1", "caller_name": "Mina"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before registration, got %d", w.Code)
	}

	w = api.request(t, http.MethodPost, "/v1/push/register-token", receiver, gin.H{"device_token": "tok-abc", "token_type": "voip"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = api.request(t, http.MethodPost, "/v1/calls/send-push", caller, gin.H{"receiver_id": "receiver-1", "caller_name": "Mina"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["call_id"] == "" {
		t.Fatalf("expected call id in response")
	}
	if len(api.sender.Sent) != 1 || api.sender.Sent[0].DeviceToken != "tok-abc" {
		t.Fatalf("expected one push with registered token, got %+v", api.sender.Sent)
	}
}
