// Package transport adapts a pion PeerConnection to the coordinator's media
// engine contract.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/cast/internal/coordinator"
	"github.com/1ureka/cast/internal/protocol"
	"github.com/1ureka/cast/internal/util"
)

var _ coordinator.Engine = (*Transport)(nil)

// LocalMedia is a local capture source whose tracks are sent to the peer.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
}

// Transport wraps a single PeerConnection for one negotiation attempt.
// Remote media is surfaced as *webrtc.TrackRemote handles.
type Transport struct {
	pc *webrtc.PeerConnection
}

// New creates a Transport backed by a fresh PeerConnection.
func New(api *webrtc.API, iceServers []string) (*Transport, error) {
	pc, err := newPeerConnection(api, iceServers)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &Transport{pc: pc}, nil
}

// ---------------------------------------------------------------------------
// Descriptions
// ---------------------------------------------------------------------------

func (t *Transport) CreateOffer() (protocol.SessionDescription, error) {
	sd, err := t.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	return fromPion(sd), nil
}

func (t *Transport) CreateAnswer() (protocol.SessionDescription, error) {
	sd, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	return fromPion(sd), nil
}

func (t *Transport) SetLocalDescription(desc protocol.SessionDescription) error {
	return t.pc.SetLocalDescription(toPion(desc))
}

func (t *Transport) SetRemoteDescription(desc protocol.SessionDescription) error {
	return t.pc.SetRemoteDescription(toPion(desc))
}

func fromPion(sd webrtc.SessionDescription) protocol.SessionDescription {
	return protocol.SessionDescription{Type: protocol.SDPType(sd.Type.String()), SDP: sd.SDP}
}

func toPion(desc protocol.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(string(desc.Type)), SDP: desc.SDP}
}

// ---------------------------------------------------------------------------
// Candidates
// ---------------------------------------------------------------------------

// AddICECandidate applies a remote candidate carried as a JSON
// RTCIceCandidateInit. An empty candidate string marks the end of the
// remote's gathering and is ignored.
func (t *Transport) AddICECandidate(c protocol.ICECandidate) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(c, &init); err != nil {
		return fmt.Errorf("%w: candidate: %v", protocol.ErrMalformedMessage, err)
	}
	if init.Candidate == "" {
		return nil
	}
	return t.pc.AddICECandidate(init)
}

// OnLocalCandidate forwards each gathered candidate as JSON. The end of
// gathering is not forwarded.
func (t *Transport) OnLocalCandidate(fn func(protocol.ICECandidate)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			util.LogWarning("encode local candidate: %v", err)
			return
		}
		fn(protocol.ICECandidate(data))
	})
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// AttachLocalMedia adds every track of handle, which must be a LocalMedia.
func (t *Transport) AttachLocalMedia(handle coordinator.MediaHandle) error {
	src, ok := handle.(LocalMedia)
	if !ok {
		return fmt.Errorf("unsupported local media %T", handle)
	}

	for _, track := range src.Tracks() {
		sender, err := t.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
		go drainRTCP(sender)
	}
	return nil
}

// drainRTCP reads incoming RTCP so interceptors (NACK, reports) keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogDebug("rtcp reader stopped: %v", err)
			}
			return
		}
	}
}

func (t *Transport) OnRemoteMedia(fn func(coordinator.MediaHandle)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		util.LogInfo("remote %s track: %s (%s)", track.Kind(), track.ID(), track.Codec().MimeType)
		fn(track)
	})
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func (t *Transport) OnStateChange(fn func(coordinator.EngineState)) {
	t.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state)
		if s, ok := engineState(state); ok {
			fn(s)
		}
	})
}

func engineState(state webrtc.PeerConnectionState) (coordinator.EngineState, bool) {
	switch state {
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
		return coordinator.EngineConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return coordinator.EngineConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return coordinator.EngineDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return coordinator.EngineFailed, true
	case webrtc.PeerConnectionStateClosed:
		return coordinator.EngineClosed, true
	default:
		return 0, false
	}
}

// Close shuts the PeerConnection down.
func (t *Transport) Close() error {
	return t.pc.Close()
}
