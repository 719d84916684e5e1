package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
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
	"voicelink/pkg/logger"
	"voicelink/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local development convenience; absent .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	sigClient, err := signaling.NewClient(signaling.Options{
		SessionURL:   cfg.Realtime.SessionURL,
		MediaBaseURL: cfg.Realtime.MediaBaseURL,
		APIKey:       cfg.Realtime.APIKey,
		Model:        cfg.Realtime.Model,
	})
	if err != nil {
		log.Error("signaling init failed", "err", err)
		os.Exit(1)
	}

	provider := telephony.NewGatewayProvider(cfg.Push.GatewayURL, cfg.Push.GatewayKey)
	transcripts := transcript.NewPostgresStore(db)
	callHistory := history.NewService(history.NewMemoryRepo())

	mediaFactory := func(callID string, emit media.EmitFunc) session.MediaSession {
		return media.NewSession(callID, sigClient, media.NewWebRTCTransport, emit, log)
	}

	controller := session.NewController(
		session.Config{
			ConnectTimeout: cfg.Session.ConnectTimeout,
			DrainTimeout:   cfg.Session.DrainTimeout,
			CostLimitUSD:   cfg.Session.CostLimitUSD,
		},
		provider,
		sigClient,
		mediaFactory,
		transcripts,
		callHistory,
		usage.DefaultRates(),
		log,
	)

	tokens := push.NewRedisTokenStore(rdb)
	pushService := push.NewService(
		tokens,
		push.NewGatewaySender(cfg.Push.GatewayURL, cfg.Push.GatewayKey),
		push.NewRedisRingLimiter(rdb),
		log,
	)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, registerDeps{
		Auth:        authManager,
		Controller:  controller,
		Push:        pushService,
		Tokens:      tokens,
		Transcripts: transcripts,
		History:     callHistory,
		DB:          db,
		Redis:       rdb,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	// End any in-flight call before the listener closes so the device is told.
	controller.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
