package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/cast/internal/protocol"
)

// Compile-time interface checks.
var (
	_ Link   = (*mockLink)(nil)
	_ Engine = (*mockEngine)(nil)
)

// ---------------------------------------------------------------------------
// mockLink
// ---------------------------------------------------------------------------

// mockLink records outgoing payloads and lets the test drive relay events.
// Two links joined with pairLinks forward Send to each other in order.
type mockLink struct {
	mu         sync.Mutex
	sent       []protocol.Message
	closed     int
	connectErr error
	gate       chan struct{} // when set, Connect waits for it or ctx
	peer       *mockLink

	onReady    func()
	onMessage  func([]byte)
	onPeerLeft func()
	onClose    func(error)
}

func newMockLink() *mockLink { return &mockLink{} }

// pairLinks connects two mock links so that each one's Send is delivered to
// the other one's OnMessage.
func pairLinks() (*mockLink, *mockLink) {
	a, b := newMockLink(), newMockLink()
	a.peer, b.peer = b, a
	return a, b
}

func (l *mockLink) Connect(ctx context.Context) error {
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return l.connectErr
}

func (l *mockLink) Send(payload []byte) error {
	msg, err := protocol.Decode(payload)
	if err != nil {
		return fmt.Errorf("mock link: coordinator sent invalid payload: %w", err)
	}

	l.mu.Lock()
	if l.closed > 0 {
		l.mu.Unlock()
		return errors.New("mock link: closed")
	}
	l.sent = append(l.sent, msg)
	peer := l.peer
	l.mu.Unlock()

	if peer != nil {
		peer.deliverRaw(payload)
	}
	return nil
}

func (l *mockLink) OnReady(fn func())          { l.onReady = fn }
func (l *mockLink) OnMessage(fn func([]byte))  { l.onMessage = fn }
func (l *mockLink) OnPeerLeft(fn func())       { l.onPeerLeft = fn }
func (l *mockLink) OnClose(fn func(err error)) { l.onClose = fn }

func (l *mockLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

func (l *mockLink) ready()    { l.onReady() }
func (l *mockLink) peerLeft() { l.onPeerLeft() }
func (l *mockLink) lose()     { l.onClose(errors.New("connection reset by peer")) }

func (l *mockLink) deliver(t *testing.T, msg protocol.Message) {
	t.Helper()
	payload, err := protocol.Encode(msg)
	require.NoError(t, err)
	l.deliverRaw(payload)
}

func (l *mockLink) deliverRaw(payload []byte) { l.onMessage(payload) }

func (l *mockLink) sentOfType(typ protocol.MessageType) []protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []protocol.Message
	for _, m := range l.sent {
		if m.Type() == typ {
			out = append(out, m)
		}
	}
	return out
}

func (l *mockLink) closeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// ---------------------------------------------------------------------------
// mockEngine
// ---------------------------------------------------------------------------

// mockEngine treats "connected" as "both descriptions set" when autoConnect
// is true; otherwise the test reports connectivity explicitly.
type mockEngine struct {
	mu          sync.Mutex
	offerSDP    string
	answerSDP   string
	autoConnect bool
	failOp      string

	local      *protocol.SessionDescription
	remote     *protocol.SessionDescription
	remoteSets int
	candidates []protocol.ICECandidate
	attached   MediaHandle
	closed     int

	onCandidate func(protocol.ICECandidate)
	onMedia     func(MediaHandle)
	onState     func(EngineState)
}

func (e *mockEngine) fail(op string) error {
	if e.failOp == op {
		return fmt.Errorf("mock engine: %s refused", op)
	}
	return nil
}

func (e *mockEngine) CreateOffer() (protocol.SessionDescription, error) {
	if err := e.fail("create offer"); err != nil {
		return protocol.SessionDescription{}, err
	}
	return protocol.SessionDescription{Type: protocol.SDPTypeOffer, SDP: e.offerSDP}, nil
}

func (e *mockEngine) CreateAnswer() (protocol.SessionDescription, error) {
	if err := e.fail("create answer"); err != nil {
		return protocol.SessionDescription{}, err
	}
	return protocol.SessionDescription{Type: protocol.SDPTypeAnswer, SDP: e.answerSDP}, nil
}

func (e *mockEngine) SetLocalDescription(desc protocol.SessionDescription) error {
	if err := e.fail("set local"); err != nil {
		return err
	}
	e.mu.Lock()
	e.local = &desc
	e.mu.Unlock()
	e.checkConnected()
	return nil
}

func (e *mockEngine) SetRemoteDescription(desc protocol.SessionDescription) error {
	if err := e.fail("set remote"); err != nil {
		return err
	}
	e.mu.Lock()
	e.remote = &desc
	e.remoteSets++
	e.mu.Unlock()
	e.checkConnected()
	return nil
}

func (e *mockEngine) AddICECandidate(c protocol.ICECandidate) error {
	if string(c) == `"garbage"` {
		return fmt.Errorf("mock engine: %w", protocol.ErrMalformedMessage)
	}
	if err := e.fail("add candidate"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote == nil {
		return errors.New("mock engine: remote description not set")
	}
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *mockEngine) AttachLocalMedia(h MediaHandle) error {
	if err := e.fail("attach"); err != nil {
		return err
	}
	e.mu.Lock()
	e.attached = h
	e.mu.Unlock()
	return nil
}

func (e *mockEngine) OnLocalCandidate(fn func(protocol.ICECandidate)) { e.onCandidate = fn }
func (e *mockEngine) OnRemoteMedia(fn func(MediaHandle))              { e.onMedia = fn }
func (e *mockEngine) OnStateChange(fn func(EngineState))              { e.onState = fn }

func (e *mockEngine) Close() error {
	e.mu.Lock()
	e.closed++
	e.mu.Unlock()
	return nil
}

func (e *mockEngine) checkConnected() {
	e.mu.Lock()
	ready := e.autoConnect && e.local != nil && e.remote != nil
	e.mu.Unlock()
	if ready {
		e.onState(EngineConnected)
	}
}

func (e *mockEngine) remoteDescription() *protocol.SessionDescription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

func (e *mockEngine) remoteSetCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteSets
}

func (e *mockEngine) appliedCandidates() []protocol.ICECandidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]protocol.ICECandidate(nil), e.candidates...)
}

func (e *mockEngine) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

// harness builds a Coordinator whose links and engines are mocks, recording
// every link and engine it hands out and every observer callback.
type harness struct {
	t     *testing.T
	coord *Coordinator

	mu          sync.Mutex
	links       []*mockLink
	nextLinks   []*mockLink
	engines     []*mockEngine
	phases      []Phase
	failures    []error
	connected   int
	closedCount int
	remote      []MediaHandle

	offerSDP    string
	answerSDP   string
	autoConnect bool
	failOp      string
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, offerSDP: "A", answerSDP: "B", autoConnect: true}
	h.coord = New(Config{
		NewLink:   h.newLink,
		NewEngine: h.newEngine,
		Observer: Observer{
			OnPhase: func(p Phase) {
				h.mu.Lock()
				h.phases = append(h.phases, p)
				h.mu.Unlock()
			},
			OnConnected: func(MediaHandle) {
				h.mu.Lock()
				h.connected++
				h.mu.Unlock()
			},
			OnRemoteMedia: func(m MediaHandle) {
				h.mu.Lock()
				h.remote = append(h.remote, m)
				h.mu.Unlock()
			},
			OnFailed: func(err error) {
				h.mu.Lock()
				h.failures = append(h.failures, err)
				h.mu.Unlock()
			},
			OnClosed: func() {
				h.mu.Lock()
				h.closedCount++
				h.mu.Unlock()
			},
		},
		MaxPendingCandidates: 4,
	})
	t.Cleanup(h.coord.Teardown)
	return h
}

// useLink makes the next session use l instead of a fresh mock.
func (h *harness) useLink(l *mockLink) {
	h.mu.Lock()
	h.nextLinks = append(h.nextLinks, l)
	h.mu.Unlock()
}

func (h *harness) newLink() Link {
	h.mu.Lock()
	defer h.mu.Unlock()
	var l *mockLink
	if len(h.nextLinks) > 0 {
		l, h.nextLinks = h.nextLinks[0], h.nextLinks[1:]
	} else {
		l = newMockLink()
	}
	h.links = append(h.links, l)
	return l
}

func (h *harness) newEngine() (Engine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := &mockEngine{
		offerSDP:    h.offerSDP,
		answerSDP:   h.answerSDP,
		autoConnect: h.autoConnect,
		failOp:      h.failOp,
	}
	h.engines = append(h.engines, e)
	return e, nil
}

func (h *harness) link(i int) *mockLink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.links[i]
}

func (h *harness) engine(i int) *mockEngine {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.engines) > i
	}, waitFor, tick, "engine %d never created", i)

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engines[i]
}

func (h *harness) engineCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.engines)
}

func (h *harness) seenPhases() []Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Phase(nil), h.phases...)
}

func (h *harness) failureList() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.failures...)
}

func (h *harness) connectedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *harness) closedCallbacks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closedCount
}

func (h *harness) waitPhase(want Phase) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.coord.Phase() == want }, waitFor, tick,
		"phase never became %s (now %s)", want, h.coord.Phase())
}

// waitSeen waits until the observer has been told about phase p.
func (h *harness) waitSeen(p Phase) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		for _, seen := range h.seenPhases() {
			if seen == p {
				return true
			}
		}
		return false
	}, waitFor, tick, "observer never saw %s", p)
}

// sync blocks until every event queued so far on the active session has been
// handled, by queueing a marker message and waiting for it to be dropped.
func (h *harness) sync() {
	h.t.Helper()
	before := droppedCount()
	h.coord.HandleMessage(nil)
	require.Eventually(h.t, func() bool { return droppedCount() > before }, waitFor, tick)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
