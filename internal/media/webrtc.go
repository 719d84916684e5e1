package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// dataChannelLabel is the event channel the realtime peer listens on.
const dataChannelLabel = "oai-events"

// webrtcTransport implements Transport on a pion peer connection with one
// opus audio track and one ordered data channel.
type webrtcTransport struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	closeOnce sync.Once
}

// NewWebRTCTransport is the production TransportFactory.
func NewWebRTCTransport(cb Callbacks) (Transport, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("media: new peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "voicelink",
	)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("media: new audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("media: add audio track: %w", err)
	}

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("media: create data channel: %w", err)
	}

	if cb.OnMessage != nil {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			cb.OnMessage(msg.Data)
		})
	}
	if cb.OnStateChange != nil {
		pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
			cb.OnStateChange(mapPeerState(s))
		})
	}

	return &webrtcTransport{pc: pc, dc: dc}, nil
}

func (t *webrtcTransport) CreateOffer(ctx context.Context) (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("media: create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("media: set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", fmt.Errorf("media: candidate gathering: %w", ctx.Err())
	}

	ld := t.pc.LocalDescription()
	if ld == nil {
		return "", errors.New("media: no local description after gathering")
	}
	return ld.SDP, nil
}

func (t *webrtcTransport) ApplyAnswer(sdp string) error {
	err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("media: set remote description: %w", err)
	}
	return nil
}

func (t *webrtcTransport) Send(data []byte) error {
	if err := t.dc.Send(data); err != nil {
		return fmt.Errorf("media: data channel send: %w", err)
	}
	return nil
}

func (t *webrtcTransport) Close() {
	t.closeOnce.Do(func() {
		_ = t.dc.Close()
		_ = t.pc.Close()
	})
}

func mapPeerState(s webrtc.PeerConnectionState) ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return ConnStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnStateFailed
	case webrtc.PeerConnectionStateClosed:
		return ConnStateClosed
	default:
		return ConnStateConnecting
	}
}
