package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voicelink/internal/history"
	"voicelink/internal/media"
	"voicelink/internal/signaling"
	"voicelink/internal/telephony"
	"voicelink/internal/transcript"
	"voicelink/internal/usage"

	"github.com/google/uuid"
)

// MediaSession is the per-call media lifecycle consumed by the controller.
// Satisfied by *media.Session.
type MediaSession interface {
	Start(ctx context.Context, credential string) error
	Stop()
	RequestDrain()
}

// MediaFactory builds a fresh media session for one call attempt. The emit
// function delivers domain events back to the controller.
type MediaFactory func(callID string, emit media.EmitFunc) MediaSession

// CredentialFetcher mints the ephemeral credential for one session.
// Satisfied by *signaling.Client.
type CredentialFetcher interface {
	FetchCredential(ctx context.Context, cc signaling.CallContext) (string, error)
}

type Config struct {
	// ConnectTimeout bounds the whole path from answer to media connected.
	ConnectTimeout time.Duration

	// DrainTimeout bounds the wait for the remote's final audio after a
	// termination request.
	DrainTimeout time.Duration

	// CostLimitUSD ends the call once accumulated cost crosses it.
	// Zero disables the limit.
	CostLimitUSD float64
}

func (c Config) withDefaults() Config {
	out := c
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 15 * time.Second
	}
	if out.DrainTimeout <= 0 {
		out.DrainTimeout = 5 * time.Second
	}
	return out
}

var (
	// ErrCallInProgress is the "busy" rejection: a second call signal while
	// one call is in flight. Expected, user-visible, leaves state unchanged.
	ErrCallInProgress = errors.New("session: another call is in progress")

	// ErrInvalidState reports protocol misuse (e.g. answer while idle).
	// Never silently ignored so callers can detect it.
	ErrInvalidState = errors.New("session: operation not valid in current state")

	// ErrUnknownCall reports an operation referencing a call id that is not
	// the current call.
	ErrUnknownCall = errors.New("session: unknown call id")
)

// Controller is the single authority over call state. It owns at most one
// active call and mediates between the telephony provider, the media session
// and the usage meter.
//
// Every mutation of call state, pending termination or accumulated cost goes
// through one mutex; events from the telephony surface, push delivery, the
// data channel and HTTP responses all serialize here. Teardown side effects
// run after the lock is released so a media stop can never re-enter and
// deadlock.
type Controller struct {
	cfg         Config
	provider    telephony.Provider
	creds       CredentialFetcher
	newMedia    MediaFactory
	transcripts transcript.Store
	history     *history.Service
	rates       usage.RateTable
	log         *slog.Logger

	mu           sync.Mutex
	state        State
	current      *CallIdentity
	gen          uint64
	media        MediaSession
	costs        usage.Accumulator
	pendingEnd   EndReason
	drainTimer   *time.Timer
	connectTimer *time.Timer
	startCancel  context.CancelFunc
	answeredAt   time.Time
	lastEnd      EndReason
}

func NewController(
	cfg Config,
	provider telephony.Provider,
	creds CredentialFetcher,
	newMedia MediaFactory,
	transcripts transcript.Store,
	hist *history.Service,
	rates usage.RateTable,
	log *slog.Logger,
) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		cfg:         cfg.withDefaults(),
		provider:    provider,
		creds:       creds,
		newMedia:    newMedia,
		transcripts: transcripts,
		history:     hist,
		rates:       rates,
		log:         log,
		state:       StateIdle,
	}
}

// PresentIncoming handles an inbound call signal. Rejected with
// ErrCallInProgress unless idle; a second call never disturbs the current one.
func (c *Controller) PresentIncoming(ctx context.Context, callID, handle string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrCallInProgress
	}
	id := CallIdentity{
		ID:        callID,
		Handle:    handle,
		Direction: DirectionInbound,
		CreatedAt: time.Now().UTC(),
	}
	c.beginCallLocked(id, StateRinging)
	gen := c.gen
	c.mu.Unlock()

	if err := c.provider.PresentIncomingCall(ctx, callID, handle); err != nil {
		c.log.Error("call presentation failed", "call_id", callID, "err", err)
		c.endIfCurrent(gen, EndReasonPresentationFailed)
		return fmt.Errorf("%w: %v", telephony.ErrPresentationFailed, err)
	}
	c.log.Info("incoming call ringing", "call_id", callID, "handle", handle)
	return nil
}

// StartOutgoing places an outgoing call and returns its id.
func (c *Controller) StartOutgoing(userID, handle string) (string, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return "", ErrCallInProgress
	}
	id := CallIdentity{
		ID:        uuid.NewString(),
		Handle:    handle,
		UserID:    userID,
		Direction: DirectionOutbound,
		CreatedAt: time.Now().UTC(),
	}
	c.beginCallLocked(id, StateMediaConnecting)
	c.connectLocked()
	c.mu.Unlock()

	c.log.Info("outgoing call connecting", "call_id", id.ID, "handle", handle)
	return id.ID, nil
}

// Answer accepts the ringing call and starts media setup.
func (c *Controller) Answer(callID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRinging {
		return ErrInvalidState
	}
	if callID != "" && c.current != nil && callID != c.current.ID {
		return ErrUnknownCall
	}
	c.state = StateMediaConnecting
	c.logTransition("answered")
	c.connectLocked()
	return nil
}

// Reject declines the ringing call.
func (c *Controller) Reject(callID string) error {
	c.mu.Lock()
	if c.state != StateRinging {
		c.mu.Unlock()
		return ErrInvalidState
	}
	if callID != "" && c.current != nil && callID != c.current.ID {
		c.mu.Unlock()
		return ErrUnknownCall
	}
	teardown := c.finishLocked(EndReasonRejected)
	c.mu.Unlock()

	teardown()
	return nil
}

// EndByUser is the local hang-up. Valid while ringing, connecting, active or
// draining; during a drain it overrides the graceful wait and tears down
// immediately, since explicit user intent beats the remote's closing line.
func (c *Controller) EndByUser(callID string) error {
	c.mu.Lock()
	switch c.state {
	case StateRinging, StateMediaConnecting, StateActive, StateDraining:
	default:
		c.mu.Unlock()
		return ErrInvalidState
	}
	if callID != "" && c.current != nil && callID != c.current.ID {
		c.mu.Unlock()
		return ErrUnknownCall
	}
	teardown := c.finishLocked(EndReasonHangup)
	c.mu.Unlock()

	teardown()
	return nil
}

// Shutdown ends any in-flight call during process shutdown.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	teardown := c.finishLocked(EndReasonShutdown)
	c.mu.Unlock()

	teardown()
}

// Snapshot returns a copy of the controller's current view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:         c.state,
		CostUSD:       c.costs.Total(),
		LastEndReason: c.lastEnd,
	}
	if c.current != nil {
		cp := *c.current
		snap.Call = &cp
	}
	return snap
}

// beginCallLocked installs a new current call. Caller holds the lock.
func (c *Controller) beginCallLocked(id CallIdentity, st State) {
	c.gen++
	cp := id
	c.current = &cp
	c.state = st
	c.pendingEnd = ""
	c.answeredAt = time.Time{}
	c.costs.Reset()
}

// connectLocked kicks off credential fetch and media start for the current
// call. Caller holds the lock. The network steps run in a goroutine; their
// results re-enter through the generation check.
func (c *Controller) connectLocked() {
	gen := c.gen
	id := *c.current

	m := c.newMedia(id.ID, func(ev media.Event) { c.onMediaEvent(gen, ev) })
	c.media = m

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	c.startCancel = cancel

	// Covers the gap after a successful SDP exchange where the transport
	// never reaches connected.
	c.connectTimer = time.AfterFunc(c.cfg.ConnectTimeout, func() {
		c.connectTimedOut(gen)
	})

	go func() {
		defer cancel()

		cc := signaling.CallContext{
			UserID:     id.UserID,
			CallerName: id.Handle,
		}
		token, err := c.creds.FetchCredential(ctx, cc)
		if err != nil {
			c.log.Error("credential fetch failed", "call_id", id.ID, "err", err)
			c.endIfCurrent(gen, EndReasonCredentialFailed)
			return
		}

		if err := m.Start(ctx, token); err != nil {
			c.log.Error("media start failed", "call_id", id.ID, "err", err)
			c.endIfCurrent(gen, EndReasonNegotiationFailed)
			return
		}
		// The connected transition arrives as a media event.
	}()
}

func (c *Controller) connectTimedOut(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateMediaConnecting {
		c.mu.Unlock()
		return
	}
	c.log.Error("media connect timed out", "call_id", c.current.ID)
	teardown := c.finishLocked(EndReasonNegotiationFailed)
	c.mu.Unlock()

	teardown()
}

// endIfCurrent finishes the call identified by gen, if it is still current.
func (c *Controller) endIfCurrent(gen uint64, reason EndReason) {
	c.mu.Lock()
	if gen != c.gen || c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	teardown := c.finishLocked(reason)
	c.mu.Unlock()

	teardown()
}

// onMediaEvent is the single entry point for media domain events. Events for
// a call that is no longer current are logged and dropped.
func (c *Controller) onMediaEvent(gen uint64, ev media.Event) {
	c.mu.Lock()

	if gen != c.gen || c.current == nil || ev.CallID != c.current.ID {
		c.mu.Unlock()
		c.log.Debug("dropping event for stale call", "kind", ev.Kind.String(), "call_id", ev.CallID)
		return
	}

	var teardown func()

	switch ev.Kind {
	case media.EventConnected:
		if c.state != StateMediaConnecting {
			c.log.Warn("connected event in unexpected state", "state", c.state.String())
			break
		}
		c.stopConnectTimerLocked()
		c.state = StateActive
		c.answeredAt = time.Now().UTC()
		c.costs.Reset()
		c.logTransition("media connected")

	case media.EventFatal:
		// Transport degradation wins over any pending drain.
		c.log.Error("fatal media error", "call_id", ev.CallID, "err", ev.Err)
		teardown = c.finishLocked(EndReasonTransportFailed)

	case media.EventUserTranscript:
		c.appendTranscriptLocked(transcript.Entry{
			CallID: ev.CallID,
			Role:   transcript.RoleUser,
			Text:   ev.Text,
		})

	case media.EventAssistantResponse:
		cost := c.rates.Cost(ev.Usage)
		total := c.costs.Add(cost)
		if ev.Text != "" {
			c.appendTranscriptLocked(transcript.Entry{
				CallID:  ev.CallID,
				Role:    transcript.RoleAssistant,
				Text:    ev.Text,
				CostUSD: &cost,
			})
		}
		if c.cfg.CostLimitUSD > 0 && total >= c.cfg.CostLimitUSD && c.state == StateActive {
			c.log.Warn("cost limit reached, draining call",
				"call_id", ev.CallID, "total_usd", total, "limit_usd", c.cfg.CostLimitUSD)
			c.beginDrainLocked(EndReasonCostLimit)
			c.media.RequestDrain()
		}

	case media.EventTerminationRequested:
		if c.state != StateActive {
			// Duplicate requests while already draining are ignored.
			c.log.Debug("ignoring termination request", "state", c.state.String())
			break
		}
		c.beginDrainLocked(EndReasonCompleted)

	case media.EventPlaybackFinished:
		if c.state != StateDraining {
			// End-of-turn noise or a late signal; only a drain consumes it.
			break
		}
		teardown = c.finishLocked(c.pendingEnd)

	case media.EventDisconnected:
		// Normally emitted by our own teardown (stale by then). Reaching
		// here means the session died under a live call.
		teardown = c.finishLocked(EndReasonTransportFailed)
	}

	c.mu.Unlock()
	if teardown != nil {
		teardown()
	}
}

// beginDrainLocked arms the bounded drain wait. Caller holds the lock.
func (c *Controller) beginDrainLocked(reason EndReason) {
	gen := c.gen
	c.state = StateDraining
	c.pendingEnd = reason
	c.logTransition("draining")

	c.drainTimer = time.AfterFunc(c.cfg.DrainTimeout, func() {
		c.drainTimedOut(gen)
	})
}

func (c *Controller) drainTimedOut(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateDraining {
		c.mu.Unlock()
		return
	}
	c.log.Warn("drain timed out, forcing teardown", "call_id", c.current.ID)
	teardown := c.finishLocked(EndReasonDrainTimeout)
	c.mu.Unlock()

	teardown()
}

// finishLocked drives the current call to ended and resets to idle. It
// returns the teardown side effects as a closure the caller must run after
// releasing the lock; media stop re-emits a disconnected event and must not
// find the lock held. Teardown is best-effort: the state transition has
// already happened by the time it runs.
func (c *Controller) finishLocked(reason EndReason) func() {
	c.stopConnectTimerLocked()
	if c.drainTimer != nil {
		c.drainTimer.Stop()
		c.drainTimer = nil
	}
	if c.startCancel != nil {
		c.startCancel()
		c.startCancel = nil
	}

	m := c.media
	c.media = nil
	id := c.current
	c.current = nil
	c.pendingEnd = ""
	c.lastEnd = reason

	var duration time.Duration
	if !c.answeredAt.IsZero() {
		duration = time.Since(c.answeredAt)
	}
	c.answeredAt = time.Time{}

	c.state = StateEnded
	if id != nil {
		c.log.Info("call ended",
			"call_id", id.ID,
			"reason", string(reason),
			"duration_s", duration.Seconds(),
			"cost_usd", c.costs.Total(),
		)
	}
	// Ended is momentary; the controller is immediately ready for the next call.
	c.state = StateIdle
	c.gen++

	cost := c.costs.Total()
	provider := c.provider
	hist := c.history
	return func() {
		if m != nil {
			m.Stop()
		}
		if id == nil {
			return
		}
		if provider != nil {
			if err := provider.ReportCallEnded(context.Background(), id.ID, string(reason)); err != nil {
				c.log.Warn("end report failed", "call_id", id.ID, "err", err)
			}
		}
		if hist != nil {
			err := hist.RecordEnd(context.Background(), history.Record{
				CallID:    id.ID,
				UserID:    id.UserID,
				Handle:    id.Handle,
				Direction: string(id.Direction),
				Reason:    string(reason),
				Duration:  duration,
				CostUSD:   cost,
			})
			if err != nil {
				c.log.Warn("history record failed", "call_id", id.ID, "err", err)
			}
		}
	}
}

func (c *Controller) stopConnectTimerLocked() {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
}

// appendTranscriptLocked persists one entry. Best-effort: a storage failure
// must never kill an otherwise-healthy call.
func (c *Controller) appendTranscriptLocked(e transcript.Entry) {
	if c.transcripts == nil {
		return
	}
	if _, err := c.transcripts.Append(context.Background(), e); err != nil {
		c.log.Error("transcript append failed", "call_id", e.CallID, "role", string(e.Role), "err", err)
	}
}

func (c *Controller) logTransition(msg string) {
	if c.current == nil {
		return
	}
	c.log.Info(msg, "call_id", c.current.ID, "state", c.state.String())
}
