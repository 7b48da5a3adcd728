package statusserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/passivehome/climatecore/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans tick statuses out to websocket subscribers.
type Hub struct {
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

// NewHub creates an empty hub.
func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		logger:  logger.Named("wshub"),
		clients: make(map[*wsClient]bool),
	}
}

// Run closes every client connection when the context ends.
func (h *Hub) Run(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
	}()
}

// Broadcast sends a tick status to every subscriber. Slow clients drop
// messages rather than stalling the broadcast.
func (h *Hub) Broadcast(status orchestrator.TickStatus) {
	msg, err := json.Marshal(status)
	if err != nil {
		h.logger.Errorw("could not marshal tick status", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("websocket client backlogged, dropping message")
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and subscribes the client to the live feed.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 16),
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go client.writePump()
	h.readPump(client)
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	// The feed is one-way; reads only detect the client going away.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("websocket read failed", "error", err)
			}
			return
		}
	}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
