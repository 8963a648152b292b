// Package ws pushes the event board and all following status changes to
// websocket clients.
package ws

import (
	"context"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lefinal/event-status-server/errors"
	"go.uber.org/zap"
	"net/http"
	"strings"
)

// Message types.
const (
	// MessageTypeBoard is sent once after connecting. The payload is an
	// event.Board.
	MessageTypeBoard = "board"
	// MessageTypeStatusChanged is sent for each committed status change. The
	// payload is an event.StatusChange.
	MessageTypeStatusChanged = "status-changed"
)

// Message is the envelope for all messages sent to clients.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// checkOrigin returns a function for websocket.Upgrader that accepts requests
// without Origin header and ones from the given origins. "*" allows any.
func checkOrigin(allowedOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range allowedOrigins {
			if allowed == "*" || strings.EqualFold(allowed, origin) {
				return true
			}
		}
		return false
	}
}

// HandleWS handles websocket requests. The passed context is used in order to
// stop all remaining read-pumps.
func HandleWS(ctx context.Context, logger *zap.Logger, hub *Hub, allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin:     checkOrigin(allowedOrigins),
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader already responded.
			logger.Debug("upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			ID:         uuid.New(),
			hub:        hub,
			connection: conn,
			send:       make(chan []byte, 64),
		}
		client.logger = logger.With(zap.String("client_id", client.ID.String()))
		// Use the client's hub so that the reference from the handler can be dropped.
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-hub.done:
			_ = conn.Close()
			return
		case client.hub.register <- client:
		}
		// Power the pumps.
		go client.writePump()
		go client.readPump(ctx)
	}
}

// encodeError is logged when a message could not be encoded.
func encodeError(err error, messageType string) error {
	return errors.Error{
		Code:    errors.ErrInternal,
		Kind:    errors.KindEncodeJSON,
		Err:     err,
		Message: "encode websocket message",
		Details: errors.Details{"messageType": messageType},
	}
}
