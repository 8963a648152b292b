package ws

import (
	"context"
	"encoding/json"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/event"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// BoardSource provides the current event board for newly connected clients.
type BoardSource interface {
	Snapshot() event.Board
}

// ClientCountObserver is notified whenever the number of connected clients
// changes.
type ClientCountObserver interface {
	SetWSClients(n int)
}

// Hub holds all active clients and broadcasts status changes.
type Hub struct {
	logger *zap.Logger
	// boardSource provides the board that is sent to new clients.
	boardSource BoardSource
	// clientCountObserver is optional.
	clientCountObserver ClientCountObserver
	// clients holds all online clients. Only accessed in Run.
	clients map[*Client]struct{}
	// clientCount mirrors the length of clients.
	clientCount *atomic.Int32
	// register receives when a Client wants to register itself.
	register chan *Client
	// unregister receives when a Client wants to unregister itself.
	unregister chan *Client
	// broadcast receives status changes to forward to all clients.
	broadcast chan event.StatusChange
	// done is closed when Run exits.
	done chan struct{}
}

// NewHub creates a new Hub. Start it with Hub.Run. The ClientCountObserver may
// be nil.
func NewHub(logger *zap.Logger, boardSource BoardSource, clientCountObserver ClientCountObserver) *Hub {
	return &Hub{
		logger:              logger,
		boardSource:         boardSource,
		clientCountObserver: clientCountObserver,
		clients:             make(map[*Client]struct{}),
		clientCount:         atomic.NewInt32(0),
		register:            make(chan *Client),
		unregister:          make(chan *Client),
		broadcast:           make(chan event.StatusChange, 256),
		done:                make(chan struct{}),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

// StatusChanged queues the change for broadcasting. It never blocks. If the
// queue is full, the change is dropped and clients catch up with the next one
// as each change carries the full event list.
func (h *Hub) StatusChanged(change event.StatusChange) {
	select {
	case h.broadcast <- change:
	default:
		h.logger.Warn("broadcast queue full, dropping status change",
			zap.Uint64("revision", change.Revision))
	}
}

// Run the Hub until the given context is done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.removeClient(c)
			}
			return nil
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.clientCountChanged()
			c.logger.Debug("client connected")
			h.sendBoard(c)
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.removeClient(c)
				c.logger.Debug("client disconnected")
			}
		case change := <-h.broadcast:
			h.broadcastChange(change)
		}
	}
}

// sendBoard sends the current board to the given client.
func (h *Hub) sendBoard(c *Client) {
	raw, err := json.Marshal(Message{
		Type:    MessageTypeBoard,
		Payload: h.boardSource.Snapshot(),
	})
	if err != nil {
		errors.Log(h.logger, encodeError(err, MessageTypeBoard))
		return
	}
	h.deliver(c, raw)
}

// broadcastChange sends the change to all clients.
func (h *Hub) broadcastChange(change event.StatusChange) {
	if len(h.clients) == 0 {
		return
	}
	raw, err := json.Marshal(Message{
		Type:    MessageTypeStatusChanged,
		Payload: change,
	})
	if err != nil {
		errors.Log(h.logger, encodeError(err, MessageTypeStatusChanged))
		return
	}
	for c := range h.clients {
		h.deliver(c, raw)
	}
}

// deliver queues the message for the client. Clients that cannot keep up are
// disconnected.
func (h *Hub) deliver(c *Client, message []byte) {
	select {
	case c.send <- message:
	default:
		c.logger.Warn("client too slow, disconnecting")
		h.removeClient(c)
	}
}

// removeClient removes the client and closes its send channel, which stops the
// write pump.
func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.clientCountChanged()
}

func (h *Hub) clientCountChanged() {
	h.clientCount.Store(int32(len(h.clients)))
	if h.clientCountObserver != nil {
		h.clientCountObserver.SetWSClients(len(h.clients))
	}
}
