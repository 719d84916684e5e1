package media

import (
	"encoding/json"

	"voicelink/internal/usage"
)

// Data-channel wire protocol. Messages are JSON with a "type" discriminator.
// Only the fields this service consumes are modeled; unknown fields are
// ignored and unknown types are dropped at the session boundary.

const (
	typeSpeechStarted          = "input_audio_buffer.speech_started"
	typeSpeechStopped          = "input_audio_buffer.speech_stopped"
	typeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	typeResponseDone           = "response.done"
	typeFunctionCallDone       = "response.function_call_arguments.done"
	typeOutputAudioStopped     = "output_audio_buffer.stopped"

	typeConversationItemCreate = "conversation.item.create"
	typeResponseCreate         = "response.create"
)

// endCallFunction is the in-band function the remote peer invokes to request
// call termination instead of closing the transport.
const endCallFunction = "endCall"

type wireEnvelope struct {
	Type string `json:"type"`
}

type speechStartedEvent struct {
	AudioStartMS int64 `json:"audio_start_ms"`
}

type speechStoppedEvent struct {
	AudioEndMS int64 `json:"audio_end_ms"`
}

type transcriptionCompletedEvent struct {
	Transcript string `json:"transcript"`
}

type functionCallDoneEvent struct {
	Name   string `json:"name"`
	CallID string `json:"call_id"`
}

type responseDoneEvent struct {
	Response struct {
		Output []responseOutputItem `json:"output"`
		Usage  wireUsage            `json:"usage"`
	} `json:"response"`
}

type responseOutputItem struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type       string `json:"type"`
		Transcript string `json:"transcript"`
		Text       string `json:"text"`
	} `json:"content"`
}

type wireUsage struct {
	InputTokenDetails struct {
		AudioTokens         int `json:"audio_tokens"`
		TextTokens          int `json:"text_tokens"`
		CachedTokensDetails struct {
			AudioTokens int `json:"audio_tokens"`
			TextTokens  int `json:"text_tokens"`
		} `json:"cached_tokens_details"`
	} `json:"input_token_details"`
	OutputTokenDetails struct {
		AudioTokens int `json:"audio_tokens"`
		TextTokens  int `json:"text_tokens"`
	} `json:"output_token_details"`
}

func (u wireUsage) toRecord() usage.Record {
	return usage.Record{
		InputAudioTokens:       u.InputTokenDetails.AudioTokens,
		InputTextTokens:        u.InputTokenDetails.TextTokens,
		InputAudioCachedTokens: u.InputTokenDetails.CachedTokensDetails.AudioTokens,
		InputTextCachedTokens:  u.InputTokenDetails.CachedTokensDetails.TextTokens,
		OutputAudioTokens:      u.OutputTokenDetails.AudioTokens,
		OutputTextTokens:       u.OutputTokenDetails.TextTokens,
	}
}

// assistantText joins the transcripts of a completed response's message output.
func (e responseDoneEvent) assistantText() string {
	for _, item := range e.Response.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Transcript != "" {
				return c.Transcript
			}
			if c.Text != "" {
				return c.Text
			}
		}
	}
	return ""
}

// functionCallOutput is the acknowledgment sent back after the remote invokes
// a function, so it can keep talking (e.g., speak a closing line).
type functionCallOutput struct {
	Type string                 `json:"type"`
	Item functionCallOutputItem `json:"item"`
}

type functionCallOutputItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

func newFunctionCallOutput(callID, output string) []byte {
	b, _ := json.Marshal(functionCallOutput{
		Type: typeConversationItemCreate,
		Item: functionCallOutputItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	})
	return b
}

func newResponseCreate() []byte {
	b, _ := json.Marshal(map[string]string{"type": typeResponseCreate})
	return b
}

// Domain events surfaced to the call session controller, in the order the
// transport delivered the underlying messages.

type EventKind int

const (
	// EventConnected fires when the transport reaches the connected state.
	EventConnected EventKind = iota

	// EventDisconnected fires exactly once per start attempt, on stop.
	EventDisconnected

	// EventUserTranscript carries a completed user utterance.
	EventUserTranscript

	// EventAssistantResponse carries the assistant text and usage breakdown
	// of one completed response.
	EventAssistantResponse

	// EventTerminationRequested fires after the remote invoked the end-call
	// function and the acknowledgment round trip was sent.
	EventTerminationRequested

	// EventPlaybackFinished fires when the remote's output audio stopped
	// after termination was requested.
	EventPlaybackFinished

	// EventFatal reports transport-level degradation. Always terminal.
	EventFatal
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventUserTranscript:
		return "user_transcript"
	case EventAssistantResponse:
		return "assistant_response"
	case EventTerminationRequested:
		return "termination_requested"
	case EventPlaybackFinished:
		return "playback_finished"
	case EventFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind   EventKind
	CallID string

	// Text is set for EventUserTranscript and EventAssistantResponse.
	Text string

	// Usage is set for EventAssistantResponse.
	Usage usage.Record

	// Err is set for EventFatal.
	Err error
}

// EmitFunc receives domain events. Implementations must be safe to call from
// transport callback goroutines.
type EmitFunc func(Event)
