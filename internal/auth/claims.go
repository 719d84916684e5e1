package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service. Tokens
// identify one end user and, optionally, the device they registered from.
type Claims struct {
	jwt.RegisteredClaims

	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
}
