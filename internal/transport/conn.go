package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

const (
	sendQueueSize = 32
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxMessage    = 1 << 20
)

// clientConn is the domain.ClientHandle of one websocket client. Invoke and
// Stop only enqueue; a dedicated writer drains the queue, so a slow client
// never blocks a broadcast.
type clientConn struct {
	id     domain.ClientID
	conn   *websocket.Conn
	logger *zap.Logger

	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func newClientConn(id domain.ClientID, conn *websocket.Conn, logger *zap.Logger) *clientConn {
	return &clientConn{
		id:     id,
		conn:   conn,
		logger: logger.With(zap.String("client_id", string(id))),
		send:   make(chan Message, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Invoke queues payload for delivery.
func (c *clientConn) Invoke(payload json.RawMessage) error {
	return c.enqueue(Message{Type: MessageInvoke, Data: payload})
}

// Stop queues a stop notice.
func (c *clientConn) Stop() error {
	return c.enqueue(Message{Type: MessageStop})
}

func (c *clientConn) enqueue(m Message) error {
	select {
	case <-c.done:
		return domain.ErrClientGone
	default:
	}
	select {
	case c.send <- m:
		return nil
	case <-c.done:
		return domain.ErrClientGone
	default:
		return fmt.Errorf("client %s: send queue full", c.id)
	}
}

func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *clientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case m := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(m); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump handles client frames until the connection drops or the client
// unbinds.
func (c *clientConn) readPump(svc Service) {
	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var m Message
		if err := c.conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("client connection lost", zap.Error(err))
			}
			return
		}

		switch m.Type {
		case MessageInvoke:
			if err := svc.Invoke(c.id, m.Data); err != nil {
				c.logger.Warn("invoke rejected", zap.Error(err))
			}
		case MessageUnbind:
			return
		default:
			c.logger.Warn("dropping unknown message", zap.String("type", m.Type))
		}
	}
}
