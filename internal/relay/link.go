package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/cast/internal/util"
)

const (
	defaultWriteWait = 10 * time.Second
	defaultReadLimit = 64 << 10
)

// LinkOptions tunes a Link. Zero values fall back to defaults.
type LinkOptions struct {
	WriteWait time.Duration
	ReadLimit int64
}

// Link is the client side of a relay room. It implements coordinator.Link.
// Callbacks must be registered before Connect; they run on the read goroutine
// in frame arrival order.
type Link struct {
	url  string
	opts LinkOptions

	mu   sync.Mutex // serializes writes
	conn *websocket.Conn

	closed    atomic.Bool
	closeOnce sync.Once

	onReady    func()
	onMessage  func([]byte)
	onPeerLeft func()
	onClose    func(error)
}

// NewLink creates an unconnected link to the relay room at rawURL, which
// already carries the room key (see LinkURL).
func NewLink(rawURL string, opts LinkOptions) *Link {
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	return &Link{url: rawURL, opts: opts}
}

// LinkURL builds the WebSocket join URL for room on the relay at base.
// http(s) schemes are mapped to ws(s) and a missing path becomes /ws.
func LinkURL(base, room string) (string, error) {
	if room == "" {
		return "", errors.New("relay: empty room key")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("relay: parse url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("relay: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relay: url %q has no host", base)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	q := u.Query()
	q.Set("room", room)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (l *Link) OnReady(fn func())          { l.onReady = fn }
func (l *Link) OnMessage(fn func([]byte))  { l.onMessage = fn }
func (l *Link) OnPeerLeft(fn func())       { l.onPeerLeft = fn }
func (l *Link) OnClose(fn func(err error)) { l.onClose = fn }

// Connect dials the relay and starts reading frames. It returns once the
// WebSocket handshake completes; the ready event arrives later.
func (l *Link) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	conn.SetReadLimit(l.opts.ReadLimit)

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	if l.closed.Load() {
		conn.Close()
		return errors.New("relay link closed during connect")
	}

	util.LogDebug("relay connected: %s", l.url)
	go l.readLoop(conn)
	return nil
}

func (l *Link) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !l.closed.Load() && l.onClose != nil {
				l.onClose(err)
			}
			return
		}

		f, err := parseFrame(raw)
		if err != nil {
			util.LogWarning("relay: %v", err)
			continue
		}

		switch f.Event {
		case EventReady:
			if l.onReady != nil {
				l.onReady()
			}
		case EventData:
			if l.onMessage != nil {
				l.onMessage(f.Data)
			}
		case EventPeerLeft:
			if l.onPeerLeft != nil {
				l.onPeerLeft()
			}
		}
	}
}

// Send forwards payload, which must be a JSON value, to the other participant.
func (l *Link) Send(payload []byte) error {
	msg, err := encodeFrame(EventData, payload)
	if err != nil {
		return fmt.Errorf("encode relay frame: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil || l.closed.Load() {
		return errors.New("relay link not connected")
	}
	if err := l.conn.SetWriteDeadline(time.Now().Add(l.opts.WriteWait)); err != nil {
		return err
	}
	return l.conn.WriteMessage(websocket.TextMessage, msg)
}

// Close leaves the room. It is idempotent and never triggers OnClose.
func (l *Link) Close() error {
	l.closed.Store(true)

	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()
		if conn == nil {
			return
		}

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = conn.Close()
	})
	return err
}
