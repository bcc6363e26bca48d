package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/cast/internal/util"
)

// roomCapacity is fixed: a room pairs one caller with one callee.
const roomCapacity = 2

var (
	errRoomFull = errors.New("room full")
	errRoomGone = errors.New("room closed")
)

// participant is one WebSocket connection inside a room. All writes go
// through the send queue and are performed by writePump.
type participant struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newParticipant(id string, conn *websocket.Conn) *participant {
	return &participant{
		id:   id,
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

// enqueue schedules msg for delivery. A participant whose queue is full is
// disconnected rather than allowed to stall the room.
func (p *participant) enqueue(msg []byte) {
	select {
	case <-p.done:
	case p.send <- msg:
	default:
		util.LogWarning("relay: participant %s is not draining, disconnecting", util.ShortID(p.id))
		p.close()
	}
}

func (p *participant) close() {
	p.once.Do(func() { close(p.done) })
}

// writePump owns every write on the connection, including keepalive pings.
func (p *participant) writePump(cfg ServerConfig) {
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case msg := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				util.LogDebug("relay: write to %s: %v", util.ShortID(p.id), err)
				p.close()
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteWait)); err != nil {
				p.close()
				return
			}
		case <-p.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(cfg.WriteWait))
			return
		}
	}
}

// room holds at most two participants sharing a key.
type room struct {
	key string

	mu      sync.Mutex
	members []*participant
	closed  bool // removed from the registry, join must retry
}

// admit adds p to the room. When the room becomes full both members are told
// the peer is ready.
func (r *room) admit(p *participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errRoomGone
	}
	if len(r.members) >= roomCapacity {
		return errRoomFull
	}
	r.members = append(r.members, p)

	if len(r.members) == roomCapacity {
		ready, _ := encodeFrame(EventReady, nil)
		for _, m := range r.members {
			m.enqueue(ready)
		}
	}
	return nil
}

// forward delivers a raw data frame from p to the other member, if any.
func (r *room) forward(from *participant, raw []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.members {
		if m != from {
			m.enqueue(raw)
			return true
		}
	}
	return false
}

// leave removes p and tells the remaining member. It reports whether the
// room became empty, in which case it is marked closed.
func (r *room) leave(p *participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.members[:0]
	for _, m := range r.members {
		if m != p {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(r.members) {
		return false
	}
	r.members = kept

	if len(kept) > 0 {
		left, _ := encodeFrame(EventPeerLeft, nil)
		for _, m := range kept {
			m.enqueue(left)
		}
		return false
	}
	r.closed = true
	return true
}

func (r *room) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		m.close()
	}
}
