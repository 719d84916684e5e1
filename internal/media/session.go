package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Session establishes and maintains the signaling-and-media channel for
// exactly one call. It translates transport-level events into the domain
// event set consumed by the call session controller.
//
// Lifecycle: one Start attempt, then Stop. A Session is not reusable; the
// controller builds a fresh one per call.
type Session struct {
	callID   string
	exchange Exchanger
	factory  TransportFactory
	emit     EmitFunc
	log      *slog.Logger

	mu             sync.Mutex
	starting       bool
	started        bool
	stopped        bool
	startAttempted bool
	disconnectSent bool
	endRequested   bool
	transport      Transport

	// Last spoken interval, used only for cost computation of the upcoming
	// response.
	speechStartMS int64
	speechEndMS   int64
	haveInterval  bool
}

// Exchanger performs the offer/answer exchange. Satisfied by signaling.Client.
type Exchanger interface {
	Exchange(ctx context.Context, offerSDP, token string) (string, error)
}

var (
	ErrStartInProgress = errors.New("media: start already in progress")
	ErrAlreadyStarted  = errors.New("media: session already started")
	ErrStopped         = errors.New("media: session stopped")
)

func NewSession(callID string, ex Exchanger, factory TransportFactory, emit EmitFunc, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		callID:   callID,
		exchange: ex,
		factory:  factory,
		emit:     emit,
		log:      log.With("call_id", callID),
	}
}

// Start creates the local media endpoint, generates an offer, exchanges it
// for an answer using the ephemeral credential, and applies the answer.
//
// Only one invocation may be in flight; a concurrent second Start is rejected,
// not queued. On any step failure all partially created resources are released
// before the failure is reported.
func (s *Session) Start(ctx context.Context, credential string) error {
	s.mu.Lock()
	switch {
	case s.stopped:
		s.mu.Unlock()
		return ErrStopped
	case s.starting:
		s.mu.Unlock()
		return ErrStartInProgress
	case s.started:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.starting = true
	s.startAttempted = true
	s.mu.Unlock()

	t, err := s.factory(Callbacks{
		OnMessage:     s.handleMessage,
		OnStateChange: s.handleConnState,
	})
	if err != nil {
		s.abortStart(nil)
		return fmt.Errorf("media: transport setup: %w", err)
	}

	offer, err := t.CreateOffer(ctx)
	if err != nil {
		s.abortStart(t)
		return err
	}

	answer, err := s.exchange.Exchange(ctx, offer, credential)
	if err != nil {
		s.abortStart(t)
		return err
	}

	if err := t.ApplyAnswer(answer); err != nil {
		s.abortStart(t)
		return err
	}

	s.mu.Lock()
	if s.stopped {
		// Stop raced in while we were negotiating; the attempt loses.
		s.mu.Unlock()
		t.Close()
		return ErrStopped
	}
	s.transport = t
	s.started = true
	s.starting = false
	s.mu.Unlock()
	return nil
}

// abortStart releases a partially built transport and clears the in-flight flag.
func (s *Session) abortStart(t Transport) {
	if t != nil {
		t.Close()
	}
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
}

// Stop releases the audio track, data channel and transport handle.
// Idempotent: safe to call whether or not Start completed, any number of
// times. Emits the disconnected event exactly once per start attempt.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.starting = false
	t := s.transport
	s.transport = nil
	notify := s.startAttempted && !s.disconnectSent
	if notify {
		s.disconnectSent = true
	}
	s.mu.Unlock()

	if t != nil {
		t.Close()
	}
	if notify {
		s.emit(Event{Kind: EventDisconnected, CallID: s.callID})
	}
}

// RequestDrain marks the session as draining so the next output-audio-stopped
// signal surfaces as playback-finished. Used when termination originates on
// our side (e.g. cost limit) rather than from the remote's end-call function.
func (s *Session) RequestDrain() {
	s.mu.Lock()
	s.endRequested = true
	s.mu.Unlock()
}

func (s *Session) handleConnState(state ConnState) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		// Our own teardown; the disconnected event is emitted from Stop.
		return
	}

	switch state {
	case ConnStateConnected:
		s.emit(Event{Kind: EventConnected, CallID: s.callID})
	case ConnStateDisconnected, ConnStateFailed, ConnStateClosed:
		// Degradation always wins over any pending drain logic.
		s.emit(Event{
			Kind:   EventFatal,
			CallID: s.callID,
			Err:    fmt.Errorf("media: transport %s", state),
		})
	}
}

// handleMessage maps one inbound data-channel message to a domain event.
// Malformed payloads are logged and dropped; one bad event must not kill an
// otherwise-healthy call.
func (s *Session) handleMessage(data []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Warn("dropping malformed data-channel message", "err", err)
		return
	}

	switch env.Type {
	case typeSpeechStarted:
		var ev speechStartedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.log.Warn("dropping malformed speech_started", "err", err)
			return
		}
		s.mu.Lock()
		s.speechStartMS = ev.AudioStartMS
		s.haveInterval = false
		s.mu.Unlock()

	case typeSpeechStopped:
		var ev speechStoppedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.log.Warn("dropping malformed speech_stopped", "err", err)
			return
		}
		s.mu.Lock()
		s.speechEndMS = ev.AudioEndMS
		s.haveInterval = s.speechEndMS > s.speechStartMS
		s.mu.Unlock()

	case typeTranscriptionCompleted:
		var ev transcriptionCompletedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.log.Warn("dropping malformed transcription", "err", err)
			return
		}
		if ev.Transcript == "" {
			return
		}
		s.emit(Event{Kind: EventUserTranscript, CallID: s.callID, Text: ev.Transcript})

	case typeResponseDone:
		var ev responseDoneEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.log.Warn("dropping malformed response.done", "err", err)
			return
		}
		rec := ev.Response.Usage.toRecord()
		s.mu.Lock()
		if s.haveInterval {
			rec.AudioDuration = time.Duration(s.speechEndMS-s.speechStartMS) * time.Millisecond
			s.haveInterval = false
		}
		s.mu.Unlock()
		s.emit(Event{
			Kind:   EventAssistantResponse,
			CallID: s.callID,
			Text:   ev.assistantText(),
			Usage:  rec,
		})

	case typeFunctionCallDone:
		var ev functionCallDoneEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.log.Warn("dropping malformed function call", "err", err)
			return
		}
		if ev.Name != endCallFunction {
			s.log.Warn("ignoring unknown remote function call", "name", ev.Name)
			return
		}
		// Acknowledge and trigger a follow-up response so the remote can
		// speak its closing line before the call is torn down.
		s.send(newFunctionCallOutput(ev.CallID, `{"success":true}`))
		s.send(newResponseCreate())
		s.mu.Lock()
		s.endRequested = true
		s.mu.Unlock()
		s.emit(Event{Kind: EventTerminationRequested, CallID: s.callID})

	case typeOutputAudioStopped:
		s.mu.Lock()
		draining := s.endRequested
		s.mu.Unlock()
		if !draining {
			// End of turn, not end of call.
			return
		}
		s.emit(Event{Kind: EventPlaybackFinished, CallID: s.callID})

	default:
		s.log.Debug("ignoring data-channel event", "type", env.Type)
	}
}

func (s *Session) send(payload []byte) {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		s.log.Warn("dropping outbound event, transport not ready")
		return
	}
	if err := t.Send(payload); err != nil {
		s.log.Warn("outbound event send failed", "err", err)
	}
}
