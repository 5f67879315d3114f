// Package stream pushes order lifecycle and fraud events to dashboard
// clients over websockets. The hub runs its own listener next to the HTTP
// API; a slow or dead client is dropped rather than allowed to back up the
// event bus.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/internal/metrics"
	"github.com/Meridian-Markets/engine/internal/order"
	"github.com/Meridian-Markets/engine/pkg/eventbus"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	pongWait       = 60 * time.Second
	sendBufferSize = 32
)

// Authenticator resolves a bearer token to a principal. admin clients
// receive every event; others only their own.
type Authenticator func(token string) (userID string, admin bool, err error)

// Message is the wire shape pushed to clients.
type Message struct {
	Type    string    `json:"type"`
	UserID  string    `json:"userId,omitempty"`
	OrderID string    `json:"orderId,omitempty"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string
	admin  bool
}

// Hub fans bus events out to connected websocket clients.
type Hub struct {
	logger   *zap.Logger
	auth     Authenticator
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub and subscribes it to the bus.
func NewHub(logger *zap.Logger, bus *eventbus.EventBus, auth Authenticator) *Hub {
	h := &Hub{
		logger:  logger,
		auth:    auth,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	h.subscribe(bus)
	return h
}

func (h *Hub) subscribe(bus *eventbus.EventBus) {
	bus.Subscribe(order.Accepted{}, func(e any) {
		if ev, ok := e.(order.Accepted); ok {
			h.broadcast(Message{Type: "order.accepted", UserID: ev.Order.UserID, OrderID: ev.Order.ID, Payload: ev.Order, At: time.Now().UTC()})
		}
	})
	bus.Subscribe(order.Executed{}, func(e any) {
		if ev, ok := e.(order.Executed); ok {
			h.broadcast(Message{Type: "order.executed", UserID: ev.Order.UserID, OrderID: ev.Order.ID, Payload: ev.Order, At: time.Now().UTC()})
		}
	})
	bus.Subscribe(order.Updated{}, func(e any) {
		if ev, ok := e.(order.Updated); ok {
			h.broadcast(Message{Type: "order.updated", UserID: ev.Order.UserID, OrderID: ev.Order.ID, Payload: ev.Order, At: time.Now().UTC()})
		}
	})
	bus.Subscribe(order.Cancelled{}, func(e any) {
		if ev, ok := e.(order.Cancelled); ok {
			h.broadcast(Message{Type: "order.cancelled", UserID: ev.Order.UserID, OrderID: ev.Order.ID, Payload: ev.Order, At: time.Now().UTC()})
		}
	})
	bus.Subscribe(order.Failed{}, func(e any) {
		if ev, ok := e.(order.Failed); ok {
			h.broadcast(Message{Type: "order.failed", UserID: ev.Order.UserID, OrderID: ev.Order.ID, Payload: ev, At: time.Now().UTC()})
		}
	})
	bus.Subscribe(order.FraudFlagged{}, func(e any) {
		if ev, ok := e.(order.FraudFlagged); ok {
			h.broadcast(Message{Type: "fraud.flagged", UserID: ev.UserID, Payload: ev.Decision, At: time.Now().UTC()})
		}
	})
}

// broadcast serializes once and fans out to every eligible client. Clients
// whose send buffer is full are dropped.
func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("stream.marshal_failed", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	var dropped []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.admin && c.userID != msg.UserID {
			continue
		}
		select {
		case c.send <- data:
		default:
			dropped = append(dropped, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dropped {
		h.logger.Warn("stream.client_dropped",
			zap.String("user_id", c.userID),
			zap.Bool("admin", c.admin))
		metrics.IncError("stream", "slow_client")
		h.remove(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler upgrades HTTP requests to websocket sessions. The bearer token is
// taken from the Authorization header or a token query parameter.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		userID, admin, err := h.auth(token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("stream.upgrade_failed", zap.Error(err))
			return
		}

		c := &client{
			conn:   conn,
			send:   make(chan []byte, sendBufferSize),
			userID: userID,
			admin:  admin,
		}
		h.mu.Lock()
		h.clients[c] = struct{}{}
		h.mu.Unlock()

		h.logger.Info("stream.client_connected",
			zap.String("user_id", userID),
			zap.Bool("admin", admin))

		go h.writePump(c)
		go h.readPump(c)
	}
}

// Run serves the websocket endpoint until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(c)
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the stream is one-way. It exists to
// process control frames and detect disconnects.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	if present {
		close(c.send)
		_ = c.conn.Close()
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return r.URL.Query().Get("token")
}
