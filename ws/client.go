package ws

import (
	"context"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"time"
)

const (
	// writeTimeout is the timeout for writing a message to the peer.
	writeTimeout = 10 * time.Second
	// pingInterval is the interval in which pings are sent to the peer. Must be
	// less than pongTimeout.
	pingInterval = (pongTimeout * 9) / 10
	// pongTimeout is the timeout for waiting for the next pong message from the
	// peer. Must be greater than pingInterval.
	pongTimeout = 60 * time.Second
	// maxMessageSize is the maximum message size allowed from peer. Clients are
	// not expected to send anything but control frames.
	maxMessageSize = 512
)

// Client holds the websocket connection and is being used by Hub.
type Client struct {
	// ID identifies the client in logs.
	ID     uuid.UUID
	logger *zap.Logger
	// hub is the actual websocket hub which is used for registering and
	// unregistering.
	hub *Hub
	// connection is the actual websocket connection.
	connection *websocket.Conn
	// send holds outgoing messages. It is closed by the hub.
	send chan []byte
}

// readPump keeps reading in order to process control frames and to notice
// closed connections. Messages from the peer are discarded.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		err := c.connection.Close()
		if err != nil {
			c.logger.Debug("close connection", zap.Error(err))
		}
	}()
	c.connection.SetReadLimit(maxMessageSize)
	_ = c.connection.SetReadDeadline(time.Now().Add(pongTimeout))
	// Handle received pong.
	c.connection.SetPongHandler(func(string) error {
		_ = c.connection.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		_, _, err := c.connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("unexpected close", zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// writePump forwards outgoing messages from the hub to the websocket
// connection. We do not pass a context.Context here because the hub will close
// the send-channel which will lead to termination, anyways.
func (c *Client) writePump() {
	pingTicker := time.NewTicker(pingInterval)
	defer func() {
		// Stop ping ticker in order to avoid ticker leak.
		pingTicker.Stop()
		err := c.connection.Close()
		if err != nil {
			c.logger.Debug("close connection", zap.Error(err))
		}
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			// Check if connection close is requested from hub.
			if !ok {
				err := c.connection.WriteMessage(websocket.CloseMessage, []byte{})
				if err != nil {
					c.logger.Debug("write close message", zap.Error(err))
				}
				return
			}
			err := c.connection.WriteMessage(websocket.TextMessage, message)
			if err != nil {
				// We expect the read pump to fail as well.
				c.logger.Debug("write message", zap.Error(err))
				return
			}
		case <-pingTicker.C:
			_ = c.connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("write ping", zap.Error(err))
				return
			}
		}
	}
}
