package config

import (
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "voicelink", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Realtime: RealtimeConfig{
			APIKey:       "sk-test",
			SessionURL:   "https://api.example.com/v1/realtime/sessions",
			MediaBaseURL: "https://api.example.com/v1/realtime",
			Model:        "gpt-realtime",
		},
		Push: PushConfig{GatewayURL: "https://push.example.com"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "voicelink"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Session.ConnectTimeout != 15*time.Second {
		t.Fatalf("expected connect timeout default, got %v", c.Session.ConnectTimeout)
	}
	if c.Session.DrainTimeout != 5*time.Second {
		t.Fatalf("expected drain timeout default, got %v", c.Session.DrainTimeout)
	}
}

func TestValidate_RealtimeRequired(t *testing.T) {
	c := validLocal()
	c.Realtime.Model = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing REALTIME_MODEL")
	}
}

func TestValidate_NegativeCostLimitRejected(t *testing.T) {
	c := validLocal()
	c.Session.CostLimitUSD = -1
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for negative cost limit")
	}
}
