// Package relay implements the rendezvous relay: a WebSocket server that pairs
// exactly two participants per room key and forwards opaque payloads between
// them, and the client-side Link the coordinator talks through.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names a relay frame.
type Event string

const (
	EventReady    Event = "ready"     // server → both, room now holds two participants
	EventData     Event = "data"      // either direction, payload forwarded verbatim
	EventPeerLeft Event = "peer-left" // server → the remaining participant
)

// frame is the envelope of every WebSocket text message on the relay.
type frame struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var errBadFrame = errors.New("bad relay frame")

func parseFrame(raw []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return frame{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	switch f.Event {
	case EventReady, EventPeerLeft:
	case EventData:
		if len(f.Data) == 0 || string(f.Data) == "null" {
			return frame{}, fmt.Errorf("%w: data frame without payload", errBadFrame)
		}
	default:
		return frame{}, fmt.Errorf("%w: unknown event %q", errBadFrame, f.Event)
	}
	return f, nil
}

func encodeFrame(ev Event, data []byte) ([]byte, error) {
	return json.Marshal(frame{Event: ev, Data: data})
}
