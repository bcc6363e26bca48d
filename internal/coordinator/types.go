// Package coordinator drives one peer pairing from relay rendezvous to an
// established media session: it decides the caller/callee role, sequences the
// offer/answer exchange, trickles ICE candidates, and reconciles engine and
// relay state into a single phase.
package coordinator

import (
	"context"

	"github.com/1ureka/cast/internal/protocol"
)

// Role is the negotiation role of this endpoint.
type Role int

const (
	RoleUndetermined Role = iota
	RoleCaller
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "undetermined"
	}
}

// Phase is the negotiation phase of a session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingPeer
	PhaseNegotiating
	PhaseOffering
	PhaseAnswering
	PhaseConnected
	PhaseFailed
	PhaseClosed
)

var phaseNames = [...]string{
	PhaseIdle:         "idle",
	PhaseAwaitingPeer: "awaiting-peer",
	PhaseNegotiating:  "negotiating",
	PhaseOffering:     "offering",
	PhaseAnswering:    "answering",
	PhaseConnected:    "connected",
	PhaseFailed:       "failed",
	PhaseClosed:       "closed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Terminal reports whether no further transition can leave p.
func (p Phase) Terminal() bool {
	return p == PhaseFailed || p == PhaseClosed
}

// MediaHandle is an opaque local or remote media handle. The coordinator only
// passes it between the engine and the session entry point.
type MediaHandle any

// EngineState is the connectivity state reported by an Engine.
type EngineState int

const (
	EngineConnecting EngineState = iota
	EngineConnected
	EngineDisconnected
	EngineFailed
	EngineClosed
)

func (s EngineState) String() string {
	switch s {
	case EngineConnecting:
		return "connecting"
	case EngineConnected:
		return "connected"
	case EngineDisconnected:
		return "disconnected"
	case EngineFailed:
		return "failed"
	case EngineClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Link is the relay channel shared with exactly one other participant.
// Callbacks must be registered before Connect. OnMessage callbacks are
// invoked in arrival order.
type Link interface {
	Connect(ctx context.Context) error
	Send(payload []byte) error
	OnReady(fn func())
	OnMessage(fn func(payload []byte))
	OnPeerLeft(fn func())
	OnClose(fn func(err error))
	Close() error
}

// Engine is the media transport engine performing the actual peer
// connection. An Engine instance serves a single negotiation attempt.
type Engine interface {
	CreateOffer() (protocol.SessionDescription, error)
	CreateAnswer() (protocol.SessionDescription, error)
	SetLocalDescription(desc protocol.SessionDescription) error
	SetRemoteDescription(desc protocol.SessionDescription) error
	// AddICECandidate returns an error wrapping protocol.ErrMalformedMessage
	// when the candidate payload cannot be parsed.
	AddICECandidate(candidate protocol.ICECandidate) error
	AttachLocalMedia(handle MediaHandle) error
	OnLocalCandidate(fn func(protocol.ICECandidate))
	OnRemoteMedia(fn func(MediaHandle))
	OnStateChange(fn func(EngineState))
	Close() error
}

// Observer receives session events. Every callback is optional. Callbacks
// run in order on a goroutine owned by the session, never on the caller's.
type Observer struct {
	OnPhase       func(phase Phase)
	OnConnected   func(remote MediaHandle)
	OnRemoteMedia func(remote MediaHandle)
	OnFailed      func(err error)
	OnClosed      func()
}

// Config wires a Coordinator to its collaborators.
type Config struct {
	// NewLink returns a fresh, unconnected relay link for each session.
	NewLink func() Link

	// NewEngine returns a fresh engine for each negotiation attempt.
	NewEngine func() (Engine, error)

	Observer Observer

	// MaxPendingCandidates bounds the candidates buffered while our offer
	// awaits its answer. Zero means 64.
	MaxPendingCandidates int
}

const defaultMaxPendingCandidates = 64

func (c *Config) maxPending() int {
	if c.MaxPendingCandidates <= 0 {
		return defaultMaxPendingCandidates
	}
	return c.MaxPendingCandidates
}
