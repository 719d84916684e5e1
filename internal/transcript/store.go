package transcript

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voicelink/pkg/utils"

	"github.com/google/uuid"
)

// Store is the persistence contract for call transcripts.
//
// It MUST be append-only. No Update/Delete methods are provided by design.
type Store interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	ListByCall(ctx context.Context, callID string) ([]Entry, error)
}

var ErrInvalidEntry = errors.New("transcript: invalid entry")

// PostgresStore persists transcripts in Postgres.
//
// Assumes the table:
//
//	call_transcripts(id, call_id, seq, role, text, cost_usd, created_at)
//	UNIQUE (call_id, seq)
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const (
	appendLockQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`

	nextSeqQuery = `
SELECT COALESCE(MAX(seq), 0) + 1
FROM call_transcripts
WHERE call_id = $1
`

	insertQuery = `
INSERT INTO call_transcripts (id, call_id, seq, role, text, cost_usd, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
)

// Append inserts the entry with the next sequence number for its call. The
// sequence assignment and insert run in one transaction so concurrent appends
// for the same call cannot collide.
func (s *PostgresStore) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.CallID == "" || !e.Role.Valid() || e.Text == "" {
		return Entry{}, ErrInvalidEntry
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// MAX(seq) cannot take a row lock, and the first append for a call
		// has no row to lock anyway. A transaction-scoped advisory lock
		// keyed by the call id serializes appends per call instead.
		if _, err := tx.ExecContext(ctx, appendLockQuery, e.CallID); err != nil {
			return err
		}

		if err := tx.QueryRowContext(ctx, nextSeqQuery, e.CallID).Scan(&e.Seq); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, insertQuery,
			e.ID,
			e.CallID,
			e.Seq,
			string(e.Role),
			e.Text,
			e.CostUSD,
			e.CreatedAt,
		)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *PostgresStore) ListByCall(ctx context.Context, callID string) ([]Entry, error) {
	if callID == "" {
		return nil, ErrInvalidEntry
	}

	const q = `
SELECT id, call_id, seq, role, text, cost_usd, created_at
FROM call_transcripts
WHERE call_id = $1
ORDER BY seq ASC
`
	rows, err := s.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var role string
		if err := rows.Scan(&e.ID, &e.CallID, &e.Seq, &role, &e.Text, &e.CostUSD, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Role = Role(role)
		out = append(out, e)
	}
	return out, rows.Err()
}
