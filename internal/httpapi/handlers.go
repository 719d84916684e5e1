package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"voicelink/internal/auth"
	"voicelink/internal/history"
	"voicelink/internal/push"
	"voicelink/internal/session"
	"voicelink/internal/telephony"
	"voicelink/internal/transcript"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth        *auth.Manager
	Calls       *session.Controller
	Push        *push.Service
	Tokens      push.TokenStore
	Transcripts transcript.Store
	History     *history.Service
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

// Login issues an access token.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	tok, err := h.Auth.Issue(time.Now(), req.UserID, req.DeviceID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Push ---

// IncomingPushWebhook receives the wake-up payload from the push gateway.
// Invalid payloads are dropped without error; a malformed push must never
// produce a retry loop at the gateway or ring a device.
func (h Handlers) IncomingPushWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		c.Status(http.StatusNoContent)
		return
	}
	sig, ok := push.ParseCallSignal(body)
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}

	err = h.Calls.PresentIncoming(c.Request.Context(), sig.UUID, sig.Handle)
	switch {
	case errors.Is(err, session.ErrCallInProgress):
		c.JSON(http.StatusOK, gin.H{"status": "busy"})
	case errors.Is(err, telephony.ErrPresentationFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "call presentation failed"})
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call setup failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ringing", "call_id": sig.UUID})
	}
}

type registerTokenRequest struct {
	DeviceToken string `json:"device_token"`
	TokenType   string `json:"token_type"`
}

func (h Handlers) RegisterPushToken(c *gin.Context) {
	if h.Tokens == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "push not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req registerTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	err = h.Tokens.Register(c.Request.Context(), userID, push.DeviceToken{
		Token:     req.DeviceToken,
		TokenType: req.TokenType,
	})
	if err != nil {
		if errors.Is(err, push.ErrInvalidToken) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token registration failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "registered"})
}

type sendPushRequest struct {
	ReceiverID string `json:"receiver_id"`
	CallerName string `json:"caller_name"`
}

// SendCallPush rings another user's registered device.
func (h Handlers) SendCallPush(c *gin.Context) {
	if h.Push == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "push not configured"})
		return
	}
	callerID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req sendPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	callID, err := h.Push.SendCallPush(c.Request.Context(), push.SendCallPushRequest{
		CallerID:   callerID,
		ReceiverID: req.ReceiverID,
		CallerName: req.CallerName,
	})
	switch {
	case errors.Is(err, push.ErrInvalidPush):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, push.ErrReceiverBusy):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "receiver busy"})
	case errors.Is(err, push.ErrNoToken):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "receiver has no registered device"})
	case err != nil:
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "push delivery failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"call_id": callID})
	}
}

// --- Calls ---

type outgoingCallRequest struct {
	Handle string `json:"handle"`
}

func (h Handlers) StartOutgoingCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req outgoingCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Handle == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "handle required"})
		return
	}
	callID, err := h.Calls.StartOutgoing(userID, req.Handle)
	if errors.Is(err, session.ErrCallInProgress) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "another call is in progress"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call setup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID})
}

// AnswerCall, RejectCall and EndCall are device-reported user actions on the
// native call UI.
func (h Handlers) AnswerCall(c *gin.Context) {
	h.callAction(c, h.Calls.Answer)
}

func (h Handlers) RejectCall(c *gin.Context) {
	h.callAction(c, h.Calls.Reject)
}

func (h Handlers) EndCall(c *gin.Context) {
	h.callAction(c, h.Calls.EndByUser)
}

func (h Handlers) callAction(c *gin.Context, action func(callID string) error) {
	callID := c.Param("call_id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}
	err := action(callID)
	switch {
	case errors.Is(err, session.ErrUnknownCall):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown call"})
	case errors.Is(err, session.ErrInvalidState):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "not valid in current call state"})
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call action failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (h Handlers) CurrentCall(c *gin.Context) {
	snap := h.Calls.Snapshot()
	resp := gin.H{
		"state":    snap.State.String(),
		"cost_usd": snap.CostUSD,
	}
	if snap.Call != nil {
		resp["call_id"] = snap.Call.ID
		resp["handle"] = snap.Call.Handle
		resp["direction"] = string(snap.Call.Direction)
	}
	if snap.LastEndReason != "" {
		resp["last_end_reason"] = string(snap.LastEndReason)
	}
	c.JSON(http.StatusOK, resp)
}

// sinceParam parses the optional ?since RFC3339 cutoff; zero means all.
func sinceParam(c *gin.Context) (time.Time, bool) {
	raw := c.Query("since")
	if raw == "" {
		return time.Time{}, true
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
		return time.Time{}, false
	}
	return ts, true
}

func (h Handlers) CallHistory(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	since, ok := sinceParam(c)
	if !ok {
		return
	}
	records, err := h.History.Recent(c.Request.Context(), since)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h Handlers) CallHistorySummary(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	since, ok := sinceParam(c)
	if !ok {
		return
	}
	sum, err := h.History.Summarize(c.Request.Context(), since)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h Handlers) CallTranscript(c *gin.Context) {
	if h.Transcripts == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transcripts not configured"})
		return
	}
	callID := c.Param("call_id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}
	entries, err := h.Transcripts.ListByCall(c.Request.Context(), callID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transcript lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
