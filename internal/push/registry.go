package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voicelink/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// TokenTypeVoIP is the only token type accepted today; it identifies tokens
// able to wake a device for an incoming call.
const TokenTypeVoIP = "voip"

// DeviceToken is one user's registered push destination.
type DeviceToken struct {
	Token     string    `json:"device_token"`
	TokenType string    `json:"token_type"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenStore persists device push tokens per user.
type TokenStore interface {
	Register(ctx context.Context, userID string, tok DeviceToken) error
	Lookup(ctx context.Context, userID string) (DeviceToken, error)
}

var (
	ErrInvalidToken = errors.New("push: invalid token registration")
	ErrNoToken      = errors.New("push: no token registered")
)

// RedisTokenStore keeps the latest token per user in a Redis hash. Tokens
// rotate on app reinstall, so only the most recent registration matters.
type RedisTokenStore struct {
	rdb   *redis.Client
	clock func() time.Time
}

func NewRedisTokenStore(rdb *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb, clock: time.Now}
}

func tokenKey(userID string) string {
	return "push:token:" + userID
}

func (s *RedisTokenStore) Register(ctx context.Context, userID string, tok DeviceToken) error {
	if userID == "" || tok.Token == "" {
		return ErrInvalidToken
	}
	if tok.TokenType == "" {
		tok.TokenType = TokenTypeVoIP
	}
	if tok.TokenType != TokenTypeVoIP {
		return fmt.Errorf("%w: unsupported token type %q", ErrInvalidToken, tok.TokenType)
	}

	now := s.clock().UTC()
	return s.rdb.HSet(ctx, tokenKey(userID), map[string]any{
		"device_token": tok.Token,
		"token_type":   tok.TokenType,
		"updated_at":   now.Format(time.RFC3339),
	}).Err()
}

func (s *RedisTokenStore) Lookup(ctx context.Context, userID string) (DeviceToken, error) {
	if userID == "" {
		return DeviceToken{}, ErrInvalidToken
	}

	vals, err := s.rdb.HGetAll(ctx, tokenKey(userID)).Result()
	if err != nil {
		return DeviceToken{}, err
	}
	if len(vals) == 0 || vals["device_token"] == "" {
		return DeviceToken{}, ErrNoToken
	}

	tok := DeviceToken{
		Token:     vals["device_token"],
		TokenType: vals["token_type"],
	}
	if at, err := time.Parse(time.RFC3339, vals["updated_at"]); err == nil {
		tok.UpdatedAt = at
	}
	return tok, nil
}

// RingLimiter caps concurrent ring attempts per receiver so one user is never
// rung twice at the same time.
type RingLimiter interface {
	Acquire(ctx context.Context, receiverID string) (bool, error)
	Release(ctx context.Context, receiverID string) error
}

// ringWindow is how long one ring attempt owns a receiver's slot. It matches
// the gateway's ring timeout: the slot covers the whole window in which the
// device may still be ringing. The wake-up payload does not carry the receiver
// id, so the receiving side cannot release the slot early on answer; a second
// call to the same receiver inside the window is deliberately deferred rather
// than risking a double ring. Release is only called on delivery failure.
const ringWindow = 45 * time.Second

// RedisRingLimiter implements RingLimiter on the shared Redis concurrency cap.
type RedisRingLimiter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRingLimiter(rdb *redis.Client) *RedisRingLimiter {
	return &RedisRingLimiter{rdb: rdb, ttl: ringWindow}
}

func ringKey(receiverID string) string {
	return "push:ring:" + receiverID
}

func (l *RedisRingLimiter) Acquire(ctx context.Context, receiverID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, ringKey(receiverID), 1, l.ttl)
}

func (l *RedisRingLimiter) Release(ctx context.Context, receiverID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, ringKey(receiverID))
}
