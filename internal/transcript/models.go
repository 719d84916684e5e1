package transcript

import "time"

// Entry is one line of a call's conversation.
//
// The transcript is append-only per call; entries are never updated or
// deleted. Seq is assigned by the store and orders entries within a call.
type Entry struct {
	ID      string `json:"id" db:"id"`
	CallID  string `json:"call_id" db:"call_id"`
	Seq     int    `json:"seq" db:"seq"`
	Role    Role   `json:"role" db:"role"`
	Text    string `json:"text" db:"text"`

	// CostUSD is set on assistant entries only, from the usage breakdown of
	// the response that produced the text.
	CostUSD *float64 `json:"cost_usd,omitempty" db:"cost_usd"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}
