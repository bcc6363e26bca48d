package coordinator

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/cast/internal/protocol"
	"github.com/1ureka/cast/internal/util"
)

// Coordinator owns at most one active negotiation session at a time. Each
// Start creates a new session with its own relay link and engine; a session
// that reached Failed or Closed is never reused.
type Coordinator struct {
	cfg Config

	mu   sync.Mutex
	sess *session
}

// New creates an idle Coordinator.
func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// Start begins a new session: it connects a fresh relay link and waits for
// the peer. hint forces a role; RoleUndetermined lets the presence of
// localMedia decide (media → caller, none → callee). localMedia is borrowed
// for the lifetime of the session.
//
// Start returns ErrAlreadyStarted while a previous session is neither Failed
// nor Closed. It does not wait for the relay connection.
func (c *Coordinator) Start(ctx context.Context, hint Role, localMedia MediaHandle) error {
	if c.cfg.NewLink == nil || c.cfg.NewEngine == nil {
		return errors.New("coordinator: NewLink and NewEngine must be set")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		if !c.sess.currentPhase().Terminal() {
			return ErrAlreadyStarted
		}
		c.sess.retire()
	}

	s := newSession(ctx, &c.cfg, hint, localMedia)
	c.sess = s
	util.Stats.AddSession()
	s.start()
	return nil
}

// HandleMessage feeds a decoded signaling message into the active session.
// Messages that do not fit the current phase are logged and dropped.
func (c *Coordinator) HandleMessage(msg protocol.Message) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()

	if s == nil || !s.events.push(evMessage{msg: msg}) {
		util.LogWarning("dropping %T: no active session", msg)
		util.Stats.AddDropped()
	}
}

// Teardown ends the current session from any phase: the engine is released,
// a best-effort bye is sent, and the relay link is closed. It is idempotent,
// always leaves the Coordinator in PhaseClosed, and may be called from
// Observer callbacks.
func (c *Coordinator) Teardown() {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.sess = closedSession()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	s.teardown()
}

// Phase returns the phase of the current session, or PhaseIdle if none was
// ever started.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()

	if s == nil {
		return PhaseIdle
	}
	return s.currentPhase()
}

// Role returns the role of the current session.
func (c *Coordinator) Role() Role {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()

	if s == nil {
		return RoleUndetermined
	}
	return s.currentRole()
}
