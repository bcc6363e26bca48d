// Package protocol defines the signaling messages exchanged between the two
// peers through the relay, and their JSON wire format.
package protocol

import "encoding/json"

// MessageType is the wire tag of a signaling message.
type MessageType string

const (
	TypeOffer     MessageType = "offer"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "candidate"
	TypeBye       MessageType = "bye"
)

// SDPType tells an offer description from an answer description.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription is an opaque description produced and consumed by the
// media engine. It is forwarded, never inspected.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// ICECandidate is an opaque, JSON-encoded candidate as emitted by the engine.
type ICECandidate json.RawMessage

// Message is a signaling message. The set of implementations is closed:
// Offer, Answer, Candidate and Bye.
type Message interface {
	Type() MessageType
	isMessage()
}

// Offer carries the caller's session description.
type Offer struct {
	SDP string
}

// Answer carries the callee's session description.
type Answer struct {
	SDP string
}

// Candidate carries one trickled ICE candidate.
type Candidate struct {
	Candidate ICECandidate
}

// Bye tells the peer the session is being torn down.
type Bye struct{}

func (Offer) Type() MessageType     { return TypeOffer }
func (Answer) Type() MessageType    { return TypeAnswer }
func (Candidate) Type() MessageType { return TypeCandidate }
func (Bye) Type() MessageType       { return TypeBye }

func (Offer) isMessage()     {}
func (Answer) isMessage()    {}
func (Candidate) isMessage() {}
func (Bye) isMessage()       {}

// Description returns the offer as a session description.
func (o Offer) Description() SessionDescription {
	return SessionDescription{Type: SDPTypeOffer, SDP: o.SDP}
}

// Description returns the answer as a session description.
func (a Answer) Description() SessionDescription {
	return SessionDescription{Type: SDPTypeAnswer, SDP: a.SDP}
}
