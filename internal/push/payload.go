package push

import (
	"encoding/json"
	"strings"
)

// CallSignal is the wake-up payload that initiates an incoming call. The uuid
// is an opaque call identifier minted by the caller's side; it is matched, not
// interpreted, so no format is imposed on it.
type CallSignal struct {
	UUID   string `json:"uuid"`
	Handle string `json:"handle"`
}

// ParseCallSignal validates an inbound push payload.
//
// The payload is sender-controlled; anything invalid or missing is treated as
// a no-op, not an error, so a malformed push can never crash or ring a device.
func ParseCallSignal(body []byte) (CallSignal, bool) {
	var sig CallSignal
	if err := json.Unmarshal(body, &sig); err != nil {
		return CallSignal{}, false
	}

	sig.UUID = strings.TrimSpace(sig.UUID)
	sig.Handle = strings.TrimSpace(sig.Handle)
	if sig.UUID == "" || sig.Handle == "" {
		return CallSignal{}, false
	}
	return sig, true
}
