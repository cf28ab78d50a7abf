package fabric

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/oshokin/alarm-pipeline/internal/logger"
)

const (
	// DefaultPingInterval is how often the server sends ping control frames.
	DefaultPingInterval = 30 * time.Second
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// maxMessageSize bounds inbound frames.
	maxMessageSize = 64 * 1024
)

// Server upgrades HTTP requests to websocket subscriber connections.
type Server struct {
	hub          *Hub
	upgrader     websocket.Upgrader
	origins      []string
	pingInterval time.Duration
	baseCtx      context.Context
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithAllowedOrigins restricts the Origin header. "*" or an empty list allows any.
func WithAllowedOrigins(origins ...string) ServerOption {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithPingInterval sets the control-frame ping interval.
func WithPingInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithBaseContext sets the context connection loggers derive from.
func WithBaseContext(ctx context.Context) ServerOption {
	return func(s *Server) {
		s.baseCtx = ctx
	}
}

// NewServer creates a websocket endpoint bound to hub.
func NewServer(hub *Hub, options ...ServerOption) *Server {
	s := &Server{
		hub:          hub,
		pingInterval: DefaultPingInterval,
		baseCtx:      context.Background(),
	}

	for _, opt := range options {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	return s
}

// ServeHTTP upgrades the request and serves the connection until it closes.
// A token query parameter authenticates the connection right away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnKV(r.Context(), "Websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)

		return
	}

	c := s.hub.NewConn()
	ctx := logger.WithKV(logger.WithKV(s.baseCtx, "connection_id", c.ID()), "remote_addr", r.RemoteAddr)

	if token := r.URL.Query().Get("token"); token != "" {
		s.hub.AuthenticateToken(ctx, c, token)
	}

	s.hub.Register(c)
	logger.InfoKV(ctx, "Subscriber connected")

	go s.writeLoop(ctx, ws, c)

	s.readLoop(ctx, ws, c)

	s.hub.Unregister(c)
	logger.InfoKV(ctx, "Subscriber disconnected")
}

// readLoop handles inbound frames until the peer goes away.
func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, c *Conn) {
	pongWait := s.pingInterval * 2

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.DebugKV(ctx, "Subscriber read failed", "error", err)
			}

			return
		}

		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.TextMessage {
			s.hub.replyError(ctx, c, errInvalidMessage)

			continue
		}

		s.hub.Handle(ctx, c, frame)
	}
}

// writeLoop drains the connection queue and keeps the peer alive with pings.
// It owns all writes to ws and closes it on exit.
func (s *Server) writeLoop(ctx context.Context, ws *websocket.Conn, c *Conn) {
	ticker := time.NewTicker(s.pingInterval)

	defer func() {
		ticker.Stop()

		_ = ws.Close()
	}()

	for {
		select {
		case <-c.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))

			return
		case frame := <-c.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))

			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.DebugKV(ctx, "Subscriber write failed", "error", err)
				c.Close()

				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()

				return
			}
		}
	}
}

// checkOrigin applies the allowed origin list.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.origins) == 0 || lo.Contains(s.origins, "*") {
		return true
	}

	return lo.ContainsBy(s.origins, func(allowed string) bool {
		return strings.EqualFold(allowed, origin)
	})
}
