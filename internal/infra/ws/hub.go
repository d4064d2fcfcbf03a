// Package ws streams auction events to WebSocket subscribers.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nft_auction/internal/domain"
	"nft_auction/internal/event"
	"nft_auction/internal/infra"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans events out to connected clients. A client may subscribe to one
// auction with ?auction=<id>; otherwise it receives everything.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan message

	clients map[*client]struct{} // owned by Run
	count   atomic.Int32
	done    chan struct{}

	metrics *infra.Metrics
	logger  *slog.Logger
}

type client struct {
	id        string
	auctionID uint64
	filtered  bool
	conn      *websocket.Conn
	send      chan []byte
}

type message struct {
	kind      domain.EventKind
	auctionID uint64
	payload   []byte
}

func (c *client) wants(m message) bool {
	if !c.filtered {
		return true
	}
	return !m.kind.Global() && m.auctionID == c.auctionID
}

// NewHub creates a hub. metrics may be nil.
func NewHub(metrics *infra.Metrics) *Hub {
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan message, sendBuffer),
		clients:    make(map[*client]struct{}),
		done:       make(chan struct{}),
		metrics:    metrics,
		logger:     slog.Default().With(slog.String("module", "ws")),
	}
}

// Run owns the client set until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)
			h.metrics.IncrementConnections()
			go c.writePump()
			h.logger.Debug("Client subscribed", slog.String("client_id", c.id))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case m := <-h.broadcast:
			for c := range h.clients {
				if !c.wants(m) {
					continue
				}
				select {
				case c.send <- m.payload:
				default:
					// slow consumer
					h.logger.Warn("Dropping slow client", slog.String("client_id", c.id))
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
	h.metrics.DecrementConnections()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Publish implements domain.EventSink.
func (h *Hub) Publish(ctx context.Context, env domain.Envelope) error {
	payload, err := event.Encode(env)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- message{kind: env.Kind, auctionID: env.AuctionID, payload: payload}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades the connection and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := &client{
		id:   uuid.New().String(),
		send: make(chan []byte, sendBuffer),
	}
	if raw := r.URL.Query().Get("auction"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid auction id", http.StatusBadRequest)
			return
		}
		c.auctionID, c.filtered = id, true
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Upgrade failed", slog.Any("error", err))
		return
	}
	c.conn = conn

	welcome, _ := json.Marshal(map[string]any{"type": "connected", "client_id": c.id})
	c.send <- welcome

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}
	go c.readPump(h)
}

// writePump pumps messages from the send channel to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
