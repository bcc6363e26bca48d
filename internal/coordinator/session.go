package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/cast/internal/protocol"
	"github.com/1ureka/cast/internal/util"
)

// Events consumed by the session loop.
type (
	evReady          struct{}
	evPayload        struct{ data []byte }
	evMessage        struct{ msg protocol.Message }
	evPeerLeft       struct{}
	evLinkClosed     struct{ err error }
	evLocalCandidate struct {
		engine    Engine
		candidate protocol.ICECandidate
	}
	evRemoteMedia struct {
		engine Engine
		handle MediaHandle
	}
	evEngineState struct {
		engine Engine
		state  EngineState
	}
	evTeardown struct{}
)

// session is one negotiation attempt. All fields below the mutex are owned by
// the loop goroutine; phase and role are also read from other goroutines.
type session struct {
	cfg        *Config
	ctx        context.Context
	cancel     context.CancelFunc
	hint       Role
	localMedia MediaHandle

	events  *queue[any]
	notices *queue[func()]
	done    chan struct{}

	mu    sync.RWMutex
	phase Phase
	role  Role

	link        Link
	linkUp      bool
	linkClosed  bool
	engine      Engine
	localSet    bool
	remoteSet   bool
	engineUp    bool
	remoteMedia MediaHandle
	pending     []protocol.ICECandidate
}

func newSession(ctx context.Context, cfg *Config, hint Role, localMedia MediaHandle) *session {
	sctx, cancel := context.WithCancel(ctx)
	return &session{
		cfg:        cfg,
		ctx:        sctx,
		cancel:     cancel,
		hint:       hint,
		localMedia: localMedia,
		events:     newQueue[any](),
		notices:    newQueue[func()](),
		done:       make(chan struct{}),
		phase:      PhaseIdle,
	}
}

// closedSession is the placeholder left by a Teardown on a never-started
// Coordinator.
func closedSession() *session {
	s := newSession(context.Background(), &Config{}, RoleUndetermined, nil)
	s.cancel()
	s.phase = PhaseClosed
	s.events.close()
	s.notices.close()
	close(s.done)
	return s
}

// start creates the relay link, moves to AwaitingPeer and launches the loop.
func (s *session) start() {
	s.link = s.cfg.NewLink()
	s.link.OnReady(func() { s.events.push(evReady{}) })
	s.link.OnMessage(func(payload []byte) { s.events.push(evPayload{data: payload}) })
	s.link.OnPeerLeft(func() { s.events.push(evPeerLeft{}) })
	s.link.OnClose(func(err error) { s.events.push(evLinkClosed{err: err}) })

	s.setPhase(PhaseAwaitingPeer)

	go s.dispatch()
	go s.run()
}

// run is the single thread of control of the session.
func (s *session) run() {
	defer close(s.done)
	defer s.finishNotices(PhaseFailed)
	defer s.events.close()

	if err := s.link.Connect(s.ctx); err != nil {
		if s.ctx.Err() != nil {
			s.close(false)
		} else {
			s.fail(fmt.Errorf("%w: %v", ErrLinkLost, err))
		}
		return
	}
	s.linkUp = true
	util.LogDebug("relay link connected, waiting for peer")

	for {
		ev, ok := s.events.pop()
		if !ok {
			return
		}
		s.handle(ev)
		if s.currentPhase().Terminal() {
			return
		}
	}
}

// dispatch delivers observer callbacks in order, off the loop goroutine.
func (s *session) dispatch() {
	for {
		fn, ok := s.notices.pop()
		if !ok {
			return
		}
		fn()
	}
}

// teardown cancels any in-flight dial, asks the loop to close, and waits for
// it to release the engine and link.
func (s *session) teardown() {
	s.cancel()
	s.events.push(evTeardown{})
	<-s.done

	s.mu.Lock()
	failed := s.phase == PhaseFailed
	if failed {
		s.phase = PhaseClosed
	}
	s.mu.Unlock()

	if failed {
		// OnFailed was already reported; only the phase moves on.
		util.LogDebug("phase → %s", PhaseClosed)
		s.notify(func() {
			if s.cfg.Observer.OnPhase != nil {
				s.cfg.Observer.OnPhase(PhaseClosed)
			}
		})
		s.notices.close()
	}
}

// retire stops the notifier of a finished session that is being replaced.
func (s *session) retire() {
	<-s.done
	s.notices.close()
}

// finishNotices stops the notifier once the loop has exited, unless the
// session ended in keep, which still owes observers a later phase notice.
func (s *session) finishNotices(keep Phase) {
	if s.currentPhase() != keep {
		s.notices.close()
	}
}

func (s *session) handle(ev any) {
	var err error

	switch e := ev.(type) {
	case evReady:
		err = s.onReady()
	case evPayload:
		util.Stats.AddRecv()
		msg, derr := protocol.Decode(e.data)
		if derr != nil {
			s.drop(derr)
			return
		}
		err = s.onMessage(msg)
	case evMessage:
		err = s.onMessage(e.msg)
	case evPeerLeft:
		err = s.onPeerLeft()
	case evLinkClosed:
		err = fmt.Errorf("%w: %v", ErrLinkLost, e.err)
	case evLocalCandidate:
		err = s.onLocalCandidate(e)
	case evRemoteMedia:
		s.onRemoteMedia(e)
	case evEngineState:
		err = s.onEngineState(e)
	case evTeardown:
		s.close(true)
	default:
		util.LogWarning("session: unknown event %T", ev)
	}

	if err != nil {
		s.fail(err)
	}
}

func (s *session) onMessage(msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.Offer:
		return s.onOffer(m)
	case protocol.Answer:
		return s.onAnswer(m)
	case protocol.Candidate:
		return s.onCandidate(m)
	case protocol.Bye:
		util.LogInfo("peer hung up")
		s.close(false)
		return nil
	default:
		s.drop(fmt.Errorf("%w: %T", protocol.ErrMalformedMessage, msg))
		return nil
	}
}

// ---------------------------------------------------------------------------
// Role and offer/answer sequencing
// ---------------------------------------------------------------------------

// wantsOffer reports whether this side initiates once the peer is ready.
func (s *session) wantsOffer() bool {
	return s.hint == RoleCaller || (s.hint == RoleUndetermined && s.localMedia != nil)
}

func (s *session) onReady() error {
	if s.phase != PhaseAwaitingPeer {
		util.LogDebug("ignoring ready in phase %s", s.phase)
		return nil
	}
	util.LogInfo("peer joined the relay")

	if err := s.ensureEngine(); err != nil {
		return err
	}
	s.setPhase(PhaseNegotiating)

	if !s.wantsOffer() {
		s.setRole(RoleCallee)
		util.LogInfo("waiting for offer")
		return nil
	}

	s.setRole(RoleCaller)
	return s.sendOffer()
}

func (s *session) sendOffer() error {
	offer, err := s.engine.CreateOffer()
	if err != nil {
		return engineError("create offer", err)
	}
	if err := s.engine.SetLocalDescription(offer); err != nil {
		return engineError("set local description", err)
	}
	s.localSet = true

	if err := s.send(protocol.Offer{SDP: offer.SDP}); err != nil {
		return err
	}
	s.setPhase(PhaseOffering)
	util.LogInfo("offer sent")
	return nil
}

func (s *session) onOffer(m protocol.Offer) error {
	switch {
	case s.role == RoleCaller || (s.phase == PhaseAwaitingPeer && s.wantsOffer()):
		s.drop(fmt.Errorf("%w: offer received while this side offers", ErrOutOfSequence))
		return nil
	case s.remoteSet:
		s.drop(fmt.Errorf("%w: duplicate offer", ErrOutOfSequence))
		return nil
	case s.phase != PhaseAwaitingPeer && s.phase != PhaseNegotiating:
		s.drop(fmt.Errorf("%w: offer in phase %s", ErrOutOfSequence, s.phase))
		return nil
	}

	if err := s.ensureEngine(); err != nil {
		return err
	}
	s.setRole(RoleCallee)

	if err := s.engine.SetRemoteDescription(m.Description()); err != nil {
		return engineError("set remote description", err)
	}
	s.remoteSet = true
	s.setPhase(PhaseAnswering)

	answer, err := s.engine.CreateAnswer()
	if err != nil {
		return engineError("create answer", err)
	}
	if err := s.engine.SetLocalDescription(answer); err != nil {
		return engineError("set local description", err)
	}
	s.localSet = true

	if err := s.send(protocol.Answer{SDP: answer.SDP}); err != nil {
		return err
	}
	s.setPhase(PhaseNegotiating)
	util.LogInfo("answer sent")
	return s.maybeConnected()
}

func (s *session) onAnswer(m protocol.Answer) error {
	if s.phase != PhaseOffering {
		s.drop(fmt.Errorf("%w: answer without outstanding offer (phase %s)", ErrOutOfSequence, s.phase))
		return nil
	}

	if err := s.engine.SetRemoteDescription(m.Description()); err != nil {
		return engineError("set remote description", err)
	}
	s.remoteSet = true
	s.setPhase(PhaseNegotiating)
	util.LogInfo("answer applied")

	if err := s.flushPending(); err != nil {
		return err
	}
	return s.maybeConnected()
}

// maybeConnected enters Connected once the engine is up and both
// descriptions are in place.
func (s *session) maybeConnected() error {
	if !s.engineUp || !s.localSet || !s.remoteSet || s.phase != PhaseNegotiating {
		return nil
	}

	s.setPhase(PhaseConnected)
	util.LogSuccess("peer connection established as %s", s.role)

	remote := s.remoteMedia
	s.notify(func() {
		if s.cfg.Observer.OnConnected != nil {
			s.cfg.Observer.OnConnected(remote)
		}
	})
	return nil
}

// ---------------------------------------------------------------------------
// Candidates
// ---------------------------------------------------------------------------

func (s *session) onCandidate(m protocol.Candidate) error {
	switch {
	case s.engine == nil || s.phase == PhaseAwaitingPeer || (s.phase == PhaseNegotiating && !s.remoteSet):
		s.drop(fmt.Errorf("%w: candidate before description exchange", ErrOutOfSequence))
		return nil

	case !s.remoteSet:
		// Our offer is out and the answer has not landed yet.
		if len(s.pending) >= s.cfg.maxPending() {
			s.drop(fmt.Errorf("%w: candidate buffer full", ErrOutOfSequence))
			return nil
		}
		s.pending = append(s.pending, m.Candidate)
		return nil
	}

	return s.applyCandidate(m.Candidate)
}

func (s *session) flushPending() error {
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		if err := s.applyCandidate(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) applyCandidate(c protocol.ICECandidate) error {
	if err := s.engine.AddICECandidate(c); err != nil {
		if errors.Is(err, protocol.ErrMalformedMessage) {
			s.drop(err)
			return nil
		}
		return engineError("add ice candidate", err)
	}
	util.Stats.AddCandidateRecv()
	return nil
}

func (s *session) onLocalCandidate(e evLocalCandidate) error {
	if e.engine != s.engine {
		return nil
	}
	if err := s.send(protocol.Candidate{Candidate: e.candidate}); err != nil {
		return err
	}
	util.Stats.AddCandidateSent()
	return nil
}

// ---------------------------------------------------------------------------
// Engine and relay events
// ---------------------------------------------------------------------------

func (s *session) ensureEngine() error {
	if s.engine != nil {
		return nil
	}

	eng, err := s.cfg.NewEngine()
	if err != nil {
		return engineError("create", err)
	}
	s.engine = eng

	eng.OnLocalCandidate(func(c protocol.ICECandidate) {
		s.events.push(evLocalCandidate{engine: eng, candidate: c})
	})
	eng.OnRemoteMedia(func(h MediaHandle) {
		s.events.push(evRemoteMedia{engine: eng, handle: h})
	})
	eng.OnStateChange(func(st EngineState) {
		s.events.push(evEngineState{engine: eng, state: st})
	})

	if s.localMedia != nil {
		if err := eng.AttachLocalMedia(s.localMedia); err != nil {
			return engineError("attach local media", err)
		}
	}
	return nil
}

func (s *session) onRemoteMedia(e evRemoteMedia) {
	if e.engine != s.engine {
		return
	}
	s.remoteMedia = e.handle
	s.notify(func() {
		if s.cfg.Observer.OnRemoteMedia != nil {
			s.cfg.Observer.OnRemoteMedia(e.handle)
		}
	})
}

func (s *session) onEngineState(e evEngineState) error {
	if e.engine != s.engine {
		return nil
	}
	util.LogDebug("engine state: %s", e.state)

	switch e.state {
	case EngineConnected:
		s.engineUp = true
		return s.maybeConnected()
	case EngineDisconnected:
		util.LogWarning("peer connection interrupted, waiting for recovery")
	case EngineFailed:
		return engineError("connect", errors.New("peer connection failed"))
	case EngineClosed:
		return engineError("connect", errors.New("peer connection closed unexpectedly"))
	}
	return nil
}

func (s *session) onPeerLeft() error {
	if s.phase == PhaseConnected {
		util.LogInfo("peer left the relay; media continues peer-to-peer")
		return nil
	}
	return ErrPeerLeft
}

// ---------------------------------------------------------------------------
// Terminal transitions
// ---------------------------------------------------------------------------

// fail moves a live session to Failed and reports err exactly once.
func (s *session) fail(err error) {
	if s.phase.Terminal() {
		return
	}
	util.LogError("negotiation failed: %v", err)
	util.Stats.AddFailure()

	s.release()
	s.setPhase(PhaseFailed)
	s.notify(func() {
		if s.cfg.Observer.OnFailed != nil {
			s.cfg.Observer.OnFailed(err)
		}
	})
}

// close moves the session to Closed. sayBye sends a best-effort bye first.
func (s *session) close(sayBye bool) {
	if s.phase == PhaseClosed {
		return
	}
	if sayBye && s.linkUp && !s.linkClosed && s.phase != PhaseFailed {
		if payload, err := protocol.Encode(protocol.Bye{}); err == nil {
			if err := s.link.Send(payload); err != nil {
				util.LogDebug("bye not delivered: %v", err)
			}
		}
	}

	s.release()
	s.setPhase(PhaseClosed)
	s.notify(func() {
		if s.cfg.Observer.OnClosed != nil {
			s.cfg.Observer.OnClosed()
		}
	})
}

// release closes the engine and the link, each at most once.
func (s *session) release() {
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			util.LogWarning("engine close: %v", err)
		}
		s.engine = nil
	}
	if !s.linkClosed {
		s.linkClosed = true
		if err := s.link.Close(); err != nil {
			util.LogDebug("relay link close: %v", err)
		}
	}
	s.pending = nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *session) send(msg protocol.Message) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := s.link.Send(payload); err != nil {
		return fmt.Errorf("%w: send %s: %v", ErrLinkLost, msg.Type(), err)
	}
	util.Stats.AddSent()
	return nil
}

func (s *session) drop(err error) {
	util.LogWarning("dropped signaling message: %v", err)
	util.Stats.AddDropped()
}

func (s *session) notify(fn func()) {
	s.notices.push(fn)
}

func (s *session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()

	util.LogDebug("phase → %s", p)
	s.notify(func() {
		if s.cfg.Observer.OnPhase != nil {
			s.cfg.Observer.OnPhase(p)
		}
	})
}

func (s *session) setRole(r Role) {
	s.mu.Lock()
	s.role = r
	s.mu.Unlock()
}

func (s *session) currentPhase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *session) currentRole() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}
