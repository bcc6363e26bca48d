// Package app contains the top-level orchestration: the Session entry point
// used by the UI, and the send, receive and relay roles built on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/cast/internal/config"
	"github.com/1ureka/cast/internal/coordinator"
	"github.com/1ureka/cast/internal/relay"
	"github.com/1ureka/cast/internal/transport"
)

// ErrNoLocalMedia is returned when a caller is started without media.
var ErrNoLocalMedia = errors.New("caller requires local media")

// SessionConfig wires a Session to its collaborators.
type SessionConfig struct {
	NewLink              func() coordinator.Link
	NewEngine            func() (coordinator.Engine, error)
	MaxPendingCandidates int
}

// Session is the entry point the UI drives. It owns one Coordinator and fans
// its events out to any number of subscribers. Subscribers run in order on
// the session's notifier goroutine and must not block for long.
type Session struct {
	coord *coordinator.Coordinator

	mu          sync.Mutex
	onPhase     []func(phase coordinator.Phase)
	onConnected []func(remote coordinator.MediaHandle)
	onRemote    []func(remote coordinator.MediaHandle)
	onFailed    []func(err error)
	onClosed    []func()
}

// NewSession creates an idle Session.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{}
	s.coord = coordinator.New(coordinator.Config{
		NewLink:              cfg.NewLink,
		NewEngine:            cfg.NewEngine,
		MaxPendingCandidates: cfg.MaxPendingCandidates,
		Observer: coordinator.Observer{
			OnPhase:       s.emitPhase,
			OnConnected:   s.emitConnected,
			OnRemoteMedia: s.emitRemoteMedia,
			OnFailed:      s.emitFailed,
			OnClosed:      s.emitClosed,
		},
	})
	return s
}

// NewSessionFromConfig builds a Session that reaches the peer through the
// configured relay room and connects with pion.
func NewSessionFromConfig(cfg *config.Config) (*Session, error) {
	newLink, err := LinkFactory(cfg)
	if err != nil {
		return nil, err
	}

	api, err := transport.NewAPI(transport.APIOptions{})
	if err != nil {
		return nil, err
	}

	return NewSession(SessionConfig{
		NewLink:              newLink,
		NewEngine:            EngineFactory(api, cfg.ICEServers),
		MaxPendingCandidates: cfg.MaxPendingCandidates,
	}), nil
}

// LinkFactory returns a constructor for relay links joining cfg.Room.
func LinkFactory(cfg *config.Config) (func() coordinator.Link, error) {
	u, err := relay.LinkURL(cfg.RelayURL, cfg.Room)
	if err != nil {
		return nil, err
	}
	opts := relay.LinkOptions{WriteWait: cfg.WriteWait, ReadLimit: cfg.ReadLimit}

	return func() coordinator.Link { return relay.NewLink(u, opts) }, nil
}

// EngineFactory returns a constructor for pion engines on api. No ICE servers
// means the public STUN defaults.
func EngineFactory(api *webrtc.API, iceServers []string) func() (coordinator.Engine, error) {
	if len(iceServers) == 0 {
		iceServers = transport.DefaultICEServers
	}
	return func() (coordinator.Engine, error) {
		t, err := transport.New(api, iceServers)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// StartAsCallerWithMedia joins the room and offers handle to the peer once
// the room is ready.
func (s *Session) StartAsCallerWithMedia(ctx context.Context, handle coordinator.MediaHandle) error {
	if handle == nil {
		return ErrNoLocalMedia
	}
	if err := s.coord.Start(ctx, coordinator.RoleCaller, handle); err != nil {
		return fmt.Errorf("start caller: %w", err)
	}
	return nil
}

// StartAsCalleeWaiting joins the room and waits for the peer's offer.
func (s *Session) StartAsCalleeWaiting(ctx context.Context) error {
	if err := s.coord.Start(ctx, coordinator.RoleCallee, nil); err != nil {
		return fmt.Errorf("start callee: %w", err)
	}
	return nil
}

// Teardown ends the current session. It is safe to call at any time, more
// than once, and from a subscriber.
func (s *Session) Teardown() { s.coord.Teardown() }

// Phase reports the phase of the current session.
func (s *Session) Phase() coordinator.Phase { return s.coord.Phase() }

// Role reports the role of the current session.
func (s *Session) Role() coordinator.Role { return s.coord.Role() }

// OnPhase subscribes to every phase change.
func (s *Session) OnPhase(fn func(phase coordinator.Phase)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPhase = append(s.onPhase, fn)
}

func (s *Session) OnConnected(fn func(remote coordinator.MediaHandle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnected = append(s.onConnected, fn)
}

func (s *Session) OnRemoteMedia(fn func(remote coordinator.MediaHandle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemote = append(s.onRemote, fn)
}

func (s *Session) OnFailed(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailed = append(s.onFailed, fn)
}

// OnClosed subscribes to the end of a session, by Teardown or by the peer
// hanging up.
func (s *Session) OnClosed(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClosed = append(s.onClosed, fn)
}

func (s *Session) emitPhase(p coordinator.Phase) {
	s.mu.Lock()
	subs := slices.Clone(s.onPhase)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(p)
	}
}

func (s *Session) emitConnected(remote coordinator.MediaHandle) {
	s.mu.Lock()
	subs := slices.Clone(s.onConnected)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(remote)
	}
}

func (s *Session) emitRemoteMedia(remote coordinator.MediaHandle) {
	s.mu.Lock()
	subs := slices.Clone(s.onRemote)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(remote)
	}
}

func (s *Session) emitFailed(err error) {
	s.mu.Lock()
	subs := slices.Clone(s.onFailed)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

func (s *Session) emitClosed() {
	s.mu.Lock()
	subs := slices.Clone(s.onClosed)
	s.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
