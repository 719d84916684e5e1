package main

import (
	"database/sql"
	"net/http"
	"time"

	"voicelink/internal/auth"
	"voicelink/internal/history"
	"voicelink/internal/httpapi"
	"voicelink/internal/push"
	"voicelink/internal/session"
	"voicelink/internal/transcript"
	"voicelink/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type registerDeps struct {
	Auth        *auth.Manager
	Controller  *session.Controller
	Push        *push.Service
	Tokens      push.TokenStore
	Transcripts transcript.Store
	History     *history.Service
	DB          *sql.DB
	Redis       *redis.Client
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps registerDeps) {
	h := httpapi.Handlers{
		Auth:        deps.Auth,
		Calls:       deps.Controller,
		Push:        deps.Push,
		Tokens:      deps.Tokens,
		Transcripts: deps.Transcripts,
		History:     deps.History,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		ctx := c.Request.Context()
		if deps.DB != nil {
			if err := utils.HealthCheck(ctx, deps.DB, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
				return
			}
		}
		if deps.Redis != nil {
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Push gateway webhook (public).
	// NOTE: protect with gateway signature validation in production.
	r.POST("/webhooks/push/incoming", h.IncomingPushWebhook)

	// AUTH routes (token issuance).
	r.POST("/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(deps.Auth))
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "device_id": auth.DeviceID(c.Request.Context())})
		})

		pushGroup := v1.Group("/push")
		{
			pushGroup.POST("/register-token", h.RegisterPushToken)
		}

		calls := v1.Group("/calls")
		{
			calls.POST("/send-push", h.SendCallPush)
			calls.POST("/outgoing", h.StartOutgoingCall)
			calls.GET("/current", h.CurrentCall)
			calls.GET("/history", h.CallHistory)
			calls.GET("/history/summary", h.CallHistorySummary)
			calls.POST("/:call_id/answer", h.AnswerCall)
			calls.POST("/:call_id/reject", h.RejectCall)
			calls.POST("/:call_id/end", h.EndCall)
			calls.GET("/:call_id/transcript", h.CallTranscript)
		}
	}
}
