package wsapi

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adewale/keyboardia/internal/coordinator"
	"github.com/adewale/keyboardia/internal/protocol"
)

const writeTimeout = 5 * time.Second

// sendBufSize bounds how many outbound envelopes can queue for a connection
// before Send starts reporting failure, mirroring the teacher's per-session
// send-channel buffer.
const sendBufSize = 64

// playerConn is the coordinator.Conn implementation bound to one live
// WebSocket. Send is non-blocking: it either enqueues onto outbox or
// reports failure immediately, so a slow reader can never stall the
// session's mailbox loop (see coordinator.Conn's doc comment).
type playerConn struct {
	playerID string
	outbox   chan protocol.Envelope
}

func newPlayerConn(playerID string) *playerConn {
	return &playerConn{playerID: playerID, outbox: make(chan protocol.Envelope, sendBufSize)}
}

func (c *playerConn) PlayerID() string { return c.playerID }

func (c *playerConn) Send(env protocol.Envelope) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.outbox <- env:
		return true
	default:
		slog.Debug("outbox full, dropping message", "player_id", c.playerID, "type", env.Type)
		return false
	}
}

// writePump drains outbox onto conn until outbox is closed or a write fails.
func writePump(conn *websocket.Conn, c *playerConn) {
	for env := range c.outbox {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(env); err != nil {
			slog.Debug("ws write error", "player_id", c.playerID, "type", env.Type, "err", err)
			return
		}
	}
}

var _ coordinator.Conn = (*playerConn)(nil)
