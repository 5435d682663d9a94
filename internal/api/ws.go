package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/asandberg/crawltask/internal/hub"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Task updates are not sensitive to origin; clients authenticate
	// at the API layer if auth is enabled.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn adapts a gorilla connection to the hub's Conn interface.
// WriteJSON is not safe for concurrent use, so sends are serialized.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(msg hub.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return fmt.Errorf("%w: %v", hub.ErrConnClosed, err)
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %v", hub.ErrConnClosed, err)
	}
	return nil
}

// serveWS upgrades the request and pumps inbound frames into the hub
// until the peer disconnects.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connID, err := s.hub.Connect(&wsConn{conn: conn})
	if err != nil {
		s.logger.Error("websocket connect failed", zap.Error(err))
		_ = conn.Close()
		return
	}
	defer func() {
		s.hub.Disconnect(connID)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed",
					zap.String("conn_id", connID),
					zap.Error(err),
				)
			}
			return
		}
		s.hub.HandleInbound(connID, data)
	}
}
