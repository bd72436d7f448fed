// Package wsserver exposes the client-facing WebSocket endpoint: it
// upgrades HTTP connections, binds each one to a Session Actor, and relays
// frames between the socket and the session state machine.
package wsserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nexus-arena/core/internal/matchmaking/protocol"
	"github.com/nexus-arena/core/internal/matchmaking/session"
	"github.com/nexus-arena/core/internal/matchmaking/subscription"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// MatchmakerLookup resolves a game_mode string to its Matchmaker, or
// reports invalid_game_mode if the mode is unconfigured.
type MatchmakerLookup func(gameMode string) (session.Matchmaker, bool)

// Handler wires the chi router to the session/subscription layer.
type Handler struct {
	sub       *subscription.Registry
	lookup    MatchmakerLookup
	logger    *zap.SugaredLogger
	allowList []string

	writeTimeout time.Duration
}

func New(sub *subscription.Registry, lookup MatchmakerLookup, logger *zap.Logger, allowedOrigins []string) *Handler {
	return &Handler{
		sub:          sub,
		lookup:       lookup,
		logger:       logger.Sugar(),
		allowList:    allowedOrigins,
		writeTimeout: 10 * time.Second,
	}
}

// Router builds the chi mux: CORS middleware plus the single /ws upgrade
// route.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.allowList,
		AllowedMethods:   []string{"GET"},
		AllowCredentials: true,
	}))
	r.Get("/ws", h.HandleWS)
	r.Get("/healthz", h.HandleHealthz)
	return r
}

func (h *Handler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleWS upgrades the connection and runs the session's read loop until
// the client disconnects or sends Close.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	playerID := uuid.New()
	sender := newConnSender(conn, h.writeTimeout)

	var sess *session.Session
	var mm session.Matchmaker

	defer func() {
		if sess != nil {
			h.sub.Deregister(playerID, sess)
		}
		sender.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.DecodeClientMessage(raw)
		if err != nil {
			_ = sender.Send(protocol.Error(protocol.ErrInvalidMessageFormat, "malformed client frame"))
			continue
		}

		if sess == nil {
			if msg.Type != protocol.ClientEnqueue {
				_ = sender.Send(protocol.Error(protocol.ErrInvalidMessageFormat, "first message must be enqueue"))
				continue
			}
			found, ok := h.lookup(msg.GameMode)
			if !ok {
				_ = sender.Send(protocol.Error(protocol.ErrInvalidGameMode, "unknown game mode"))
				continue
			}
			mm = found
			sess = session.New(playerID, h.sub, mm, sender)
			if err := h.sub.Register(playerID, sess); err != nil {
				h.logger.Errorw("subscription register failed", "player_id", playerID, "error", err)
				return
			}
		}

		if err := sess.HandleClientMessage(msg); err != nil {
			h.logger.Warnw("session message handling failed", "player_id", playerID, "error", err)
		}
		if sess.State() == session.StateDisconnecting || sess.State() == session.StateCompleted || sess.State() == session.StateError {
			return
		}
	}
}

// connSender adapts a *websocket.Conn to session.Sender, serializing
// writes (gorilla/websocket connections are not safe for concurrent
// writers) behind a mutex.
type connSender struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
	closed  bool
}

func newConnSender(conn *websocket.Conn, timeout time.Duration) *connSender {
	return &connSender{conn: conn, timeout: timeout}
}

func (s *connSender) Send(msg protocol.ServerMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *connSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
