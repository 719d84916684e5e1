package usage

import (
	"math"
	"testing"
	"time"
)

func TestCost_UncachedBreakdown(t *testing.T) {
	// 728 audio-in + 801 text-in + 255 audio-out + 75 text-out, 4s spoken.
	rec := Record{
		InputAudioTokens:  728,
		InputTextTokens:   801,
		OutputAudioTokens: 255,
		OutputTextTokens:  75,
		AudioDuration:     4 * time.Second,
	}
	got := DefaultRates().Cost(rec)

	want := 728*10.0/1e6 + 801*0.6/1e6 + 255*20.0/1e6 + 75*2.4/1e6 + 4*0.0001
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, got)
	}
	// Sanity check against the hand-computed value.
	if math.Abs(got-0.0134406) > 1e-6 {
		t.Fatalf("expected ~0.01344, got %v", got)
	}
}

func TestCost_ZeroRecord(t *testing.T) {
	if got := DefaultRates().Cost(Record{}); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestCost_CachedRates(t *testing.T) {
	rec := Record{
		InputAudioCachedTokens: 1_000_000,
		InputTextCachedTokens:  1_000_000,
	}
	got := DefaultRates().Cost(rec)
	want := 2.5 + 0.3
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAccumulator_MonotonicAndReset(t *testing.T) {
	var acc Accumulator

	rates := DefaultRates()
	recs := []Record{
		{InputAudioTokens: 100, OutputAudioTokens: 50},
		{InputTextTokens: 10, OutputTextTokens: 5, AudioDuration: time.Second},
		{InputAudioTokens: 728, InputTextTokens: 801, OutputAudioTokens: 255, OutputTextTokens: 75},
	}

	var want float64
	prev := 0.0
	for _, rec := range recs {
		c := rates.Cost(rec)
		want += c
		total := acc.Add(c)
		if total < prev {
			t.Fatalf("total decreased: %v < %v", total, prev)
		}
		prev = total
	}
	if math.Abs(acc.Total()-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, acc.Total())
	}

	// Negative amounts must not shrink the total.
	if got := acc.Add(-1); math.Abs(got-want) > 1e-12 {
		t.Fatalf("negative add changed total: %v", got)
	}

	acc.Reset()
	if acc.Total() != 0 {
		t.Fatalf("expected 0 after reset, got %v", acc.Total())
	}
}
