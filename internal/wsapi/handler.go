// Package wsapi serves the Keyboardia session WebSocket endpoint and wires
// it to internal/coordinator, following the teacher's Echo + gorilla
// websocket handler shape.
package wsapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/adewale/keyboardia/internal/coordinator"
	"github.com/adewale/keyboardia/internal/protocol"
)

// Handler owns the WebSocket transport for the coordinator.
type Handler struct {
	registry *coordinator.Registry
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler bound to registry.
func NewHandler(registry *coordinator.Registry) *Handler {
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds websocket routes on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/session/:id", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	remoteAddr := c.RealIP()
	slog.Debug("ws upgrade request", "remote", remoteAddr, "session_id", sessionID)

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("ws upgrade failed", "remote", remoteAddr, "err", err)
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn, sessionID, remoteAddr)
	return nil
}

func (h *Handler) serveConn(conn *websocket.Conn, sessionID, remoteAddr string) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Time{})
	conn.SetReadLimit(1 << 20)

	var hello protocol.Envelope
	if err := conn.ReadJSON(&hello); err != nil {
		slog.Debug("ws read hello failed", "remote", remoteAddr, "err", err)
		return
	}
	if hello.Type != protocol.TypeHello {
		slog.Debug("ws bad first message", "remote", remoteAddr, "type", hello.Type)
		h.writeDirectError(conn, "first message must be hello")
		return
	}

	playerID := hello.ClientID
	if playerID == "" {
		playerID = uuid.NewString()
	}
	slog.Info("ws connected", "player_id", playerID, "session_id", sessionID, "remote", remoteAddr)

	sess, err := h.registry.GetOrCreate(context.Background(), sessionID)
	if err != nil {
		slog.Error("session hydration failed", "session_id", sessionID, "err", err)
		h.writeDirectError(conn, "session unavailable")
		return
	}

	pc := newPlayerConn(playerID)
	defer func() {
		close(pc.outbox)
		sess.Leave(playerID)
		slog.Info("ws disconnected", "player_id", playerID, "session_id", sessionID, "remote", remoteAddr)
	}()

	go writePump(conn, pc)

	state, seq, hash := sess.Join(pc)
	snapshotEnv, err := buildSnapshotEnvelope(state, seq, hash)
	if err != nil {
		slog.Error("build snapshot envelope failed", "session_id", sessionID, "err", err)
		return
	}
	pc.Send(snapshotEnv)

	for {
		var in protocol.Envelope
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws unexpected close", "player_id", playerID, "err", err)
			}
			return
		}
		h.handleInbound(sess, playerID, pc, in)
	}
}

func (h *Handler) handleInbound(sess *coordinator.Session, playerID string, pc *playerConn, in protocol.Envelope) {
	switch in.Type {
	case protocol.TypeMutate:
		ack, nack := sess.Mutate(playerID, in.ClientOpID, in.Op, in.Payload)
		if nack != nil {
			pc.Send(*nack)
			return
		}
		pc.Send(*ack)

	case protocol.TypePing:
		pc.Send(sess.Ping(in.ClientTimeMs))

	case protocol.TypeSnapshotRequest:
		pc.Send(sess.SnapshotRequest())

	case protocol.TypeHashChallenge:
		result, needsSnapshot := sess.HashChallenge(playerID, in.Hash)
		pc.Send(result)
		if needsSnapshot {
			pc.Send(sess.SnapshotRequest())
		}

	case protocol.TypeCursor:
		sess.Cursor(playerID, in)

	default:
		slog.Warn("ws unknown message type", "player_id", playerID, "type", in.Type)
	}
}

func (h *Handler) writeDirectError(conn *websocket.Conn, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteJSON(protocol.Envelope{Type: protocol.TypeNack, Reason: reason})
}
