package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/cast/internal/util"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServerConfig holds the relay's per-connection limits.
type ServerConfig struct {
	ReadLimit  int64         // largest inbound frame accepted
	PingPeriod time.Duration // must be shorter than PongWait
	PongWait   time.Duration
	WriteWait  time.Duration
}

// DefaultServerConfig returns the limits used when none are configured.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadLimit:  defaultReadLimit,
		PingPeriod: 25 * time.Second,
		PongWait:   60 * time.Second,
		WriteWait:  defaultWriteWait,
	}
}

func (c ServerConfig) withDefaults() ServerConfig {
	d := DefaultServerConfig()
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	return c
}

// Server pairs WebSocket participants by room key and forwards data frames
// between the two members of each room.
type Server struct {
	cfg    ServerConfig
	rooms  *hashmap.Map[string, *room]
	router chi.Router
}

// NewServer creates a relay server. Use Handler to mount it or
// ListenAndServe to run it standalone.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		cfg:   cfg.withDefaults(),
		rooms: hashmap.New[string, *room](),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws", s.handleWS)
	s.router = r

	return s
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Rooms returns the number of rooms with at least one participant.
func (s *Server) Rooms() int { return s.rooms.Len() }

// ListenAndServe serves the relay on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes every
// room and shuts the HTTP server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	util.LogInfo("relay listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.rooms.Range(func(_ string, r *room) bool {
		r.closeAll()
		return true
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("room")
	if key == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("relay: upgrade: %v", err)
		return
	}

	p := newParticipant(uuid.NewString(), conn)
	rm, err := s.join(key, p)
	if err != nil {
		util.LogWarning("relay: rejecting %s from room %q: %v", conn.RemoteAddr(), key, err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteWait))
		conn.Close()
		return
	}
	util.LogInfo("relay: participant %s joined room %q", util.ShortID(p.id), key)

	go p.writePump(s.cfg)
	s.readPump(rm, p)
}

// join places p in the room for key, creating the room on first use.
func (s *Server) join(key string, p *participant) (*room, error) {
	for {
		rm, _ := s.rooms.GetOrInsert(key, &room{key: key})
		err := rm.admit(p)
		if errors.Is(err, errRoomGone) {
			// The last member is leaving; let it drop the room first.
			runtime.Gosched()
			continue
		}
		if err != nil {
			return nil, err
		}
		return rm, nil
	}
}

// readPump forwards data frames to the other member until the connection
// drops, then removes p from its room.
func (s *Server) readPump(rm *room, p *participant) {
	defer func() {
		if rm.leave(p) {
			s.rooms.Del(rm.key)
		}
		p.close()
		util.LogInfo("relay: participant %s left room %q", util.ShortID(p.id), rm.key)
	}()

	p.conn.SetReadLimit(s.cfg.ReadLimit)
	_ = p.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("relay: read from %s: %v", util.ShortID(p.id), err)
			}
			return
		}

		f, err := parseFrame(raw)
		if err != nil {
			util.LogWarning("relay: ignoring frame from %s: %v", util.ShortID(p.id), err)
			continue
		}
		if f.Event != EventData {
			util.LogWarning("relay: ignoring %q frame from %s", f.Event, util.ShortID(p.id))
			continue
		}
		if !rm.forward(p, raw) {
			util.LogDebug("relay: no peer in room %q yet, dropping frame", rm.key)
		}
	}
}

// requestLogger logs every request once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		util.LogDebug("%s %s → %d (%s) from %s [%s]",
			r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond),
			r.RemoteAddr, middleware.GetReqID(r.Context()))
	})
}
