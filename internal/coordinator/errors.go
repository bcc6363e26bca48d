package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned by Start while a session is active.
	ErrAlreadyStarted = errors.New("negotiation session already started")

	// ErrOutOfSequence marks a message that is inconsistent with the current
	// phase. Such messages are dropped, never surfaced.
	ErrOutOfSequence = errors.New("signaling message out of sequence")

	// ErrEngineFailure matches every *EngineError.
	ErrEngineFailure = errors.New("media engine failure")

	// ErrLinkLost is reported when the relay link drops while the session is live.
	ErrLinkLost = errors.New("relay link lost")

	// ErrPeerLeft is reported when the peer leaves the relay before the media
	// connection is up.
	ErrPeerLeft = errors.New("peer left before connecting")
)

// EngineError is an unrecoverable engine failure during operation Op.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrEngineFailure and the underlying cause.
func (e *EngineError) Unwrap() []error {
	return []error{ErrEngineFailure, e.Err}
}

func engineError(op string, err error) error {
	return &EngineError{Op: op, Err: err}
}
