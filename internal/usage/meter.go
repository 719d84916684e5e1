package usage

import (
	"sync"
	"time"
)

// Record is the per-response usage breakdown reported by the realtime peer.
// Produced once per completed response; immutable.
type Record struct {
	InputAudioTokens       int `json:"input_audio_tokens"`
	InputTextTokens        int `json:"input_text_tokens"`
	InputAudioCachedTokens int `json:"input_audio_cached_tokens"`
	InputTextCachedTokens  int `json:"input_text_cached_tokens"`
	OutputAudioTokens      int `json:"output_audio_tokens"`
	OutputTextTokens       int `json:"output_text_tokens"`

	// AudioDuration is the spoken interval billed at the per-second rate.
	AudioDuration time.Duration `json:"audio_duration"`
}

// RateTable holds USD prices per million tokens, one rate per
// (modality x cached-or-not x direction), plus a flat per-second rate
// for spoken audio.
type RateTable struct {
	InputAudioPerM       float64
	InputTextPerM        float64
	InputAudioCachedPerM float64
	InputTextCachedPerM  float64
	OutputAudioPerM      float64
	OutputTextPerM       float64

	AudioPerSecond float64
}

// DefaultRates returns the fixed rate table for the realtime voice model.
func DefaultRates() RateTable {
	return RateTable{
		InputAudioPerM:       10,
		InputTextPerM:        0.6,
		InputAudioCachedPerM: 2.5,
		InputTextCachedPerM:  0.3,
		OutputAudioPerM:      20,
		OutputTextPerM:       2.4,
		AudioPerSecond:       0.0001,
	}
}

const tokensPerUnit = 1_000_000

// Cost converts a usage record into USD. Pure; no I/O.
func (r RateTable) Cost(rec Record) float64 {
	cost := float64(rec.InputAudioTokens) * r.InputAudioPerM / tokensPerUnit
	cost += float64(rec.InputTextTokens) * r.InputTextPerM / tokensPerUnit
	cost += float64(rec.InputAudioCachedTokens) * r.InputAudioCachedPerM / tokensPerUnit
	cost += float64(rec.InputTextCachedTokens) * r.InputTextCachedPerM / tokensPerUnit
	cost += float64(rec.OutputAudioTokens) * r.OutputAudioPerM / tokensPerUnit
	cost += float64(rec.OutputTextTokens) * r.OutputTextPerM / tokensPerUnit
	cost += rec.AudioDuration.Seconds() * r.AudioPerSecond
	return cost
}

// Accumulator tracks the accumulated cost of one call.
//
// Money invariants:
// - Total never decreases during a call.
// - Reset only when a new call starts.
type Accumulator struct {
	mu    sync.Mutex
	total float64
}

// Add increases the accumulated total and returns the new value.
// Negative amounts are ignored; the total is monotonic.
func (a *Accumulator) Add(amount float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount > 0 {
		a.total += amount
	}
	return a.total
}

func (a *Accumulator) Total() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Reset zeroes the total. Called by the controller on new-call start.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total = 0
}
