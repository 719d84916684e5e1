package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call history.
//
// It MUST be append-only for writes.

type Repository interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Record, error)
}

// Service records ended calls and serves aggregate views of them.
// Callers should treat recording as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidRecord = errors.New("history: invalid record")

func (s *Service) RecordEnd(ctx context.Context, rec Record) error {
	if s.repo == nil {
		return errors.New("history: repository not configured")
	}
	if rec.CallID == "" || rec.Reason == "" {
		return ErrInvalidRecord
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, rec)
}

// Recent returns records ending at or after the cutoff, newest last.
func (s *Service) Recent(ctx context.Context, since time.Time) ([]Record, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	for _, rec := range all {
		if rec.EndedAt.Before(since) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Summarize aggregates records ending at or after the cutoff.
func (s *Service) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	records, err := s.Recent(ctx, since)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{CallsByReason: map[string]int{}}
	for _, rec := range records {
		sum.TotalCalls++
		sum.CallsByReason[rec.Reason]++
		sum.TotalDuration += rec.Duration
		sum.TotalCostUSD += rec.CostUSD
	}
	if sum.TotalCalls > 0 {
		sum.AverageSeconds = sum.TotalDuration.Seconds() / float64(sum.TotalCalls)
	}
	return sum, nil
}
