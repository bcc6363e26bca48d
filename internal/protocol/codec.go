package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedMessage is returned for payloads that are not valid JSON, carry
// an unknown type tag, or miss the fields their type requires.
var ErrMalformedMessage = errors.New("malformed signaling message")

// wireMessage is the JSON shape of every signaling message.
type wireMessage struct {
	Type      MessageType     `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Encode serializes a Message into its JSON wire form.
func Encode(msg Message) ([]byte, error) {
	var w wireMessage
	switch m := msg.(type) {
	case Offer:
		w = wireMessage{Type: TypeOffer, SDP: m.SDP}
	case Answer:
		w = wireMessage{Type: TypeAnswer, SDP: m.SDP}
	case Candidate:
		w = wireMessage{Type: TypeCandidate, Candidate: json.RawMessage(m.Candidate)}
	case Bye:
		w = wireMessage{Type: TypeBye}
	default:
		return nil, fmt.Errorf("cannot encode %T: %w", msg, ErrMalformedMessage)
	}
	return json.Marshal(w)
}

// Decode parses a JSON payload into a Message. Every error wraps
// ErrMalformedMessage.
func Decode(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var w wireMessage
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected trailing data", ErrMalformedMessage)
	}

	switch w.Type {
	case TypeOffer, TypeAnswer:
		if w.SDP == "" {
			return nil, fmt.Errorf("%w: %s without sdp", ErrMalformedMessage, w.Type)
		}
		if len(w.Candidate) > 0 {
			return nil, fmt.Errorf("%w: %s with candidate", ErrMalformedMessage, w.Type)
		}
		if w.Type == TypeOffer {
			return Offer{SDP: w.SDP}, nil
		}
		return Answer{SDP: w.SDP}, nil

	case TypeCandidate:
		if len(w.Candidate) == 0 || bytes.Equal(w.Candidate, []byte("null")) {
			return nil, fmt.Errorf("%w: candidate without payload", ErrMalformedMessage)
		}
		if w.SDP != "" {
			return nil, fmt.Errorf("%w: candidate with sdp", ErrMalformedMessage)
		}
		return Candidate{Candidate: ICECandidate(w.Candidate)}, nil

	case TypeBye:
		return Bye{}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, w.Type)
	}
}
