package server

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"compute-perps-indexer/internal/domain"
)

// Hub pushes freshly aggregated stats rows to WebSocket subscribers.
// Subscriptions are per market; a connection subscribed to "*" receives
// every market. Delivery is best-effort: a failed write drops the
// connection, consumers are expected to reconnect and re-read the REST
// endpoint for the current row.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu   sync.Mutex
	subs map[string]map[*websocket.Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
		subs:   make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Broadcast sends a stats row to every subscriber of its market.
func (h *Hub) Broadcast(row *domain.MarketStats24h) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, key := range []string{row.MarketID, "*"} {
		for c := range h.subs[key] {
			if err := c.WriteJSON(row); err != nil {
				h.dropLocked(key, c)
			}
		}
	}
}

// ServeHTTP upgrades the request and registers the connection for the
// market named by the "market" query parameter (default "*"). The
// connection stays registered until the peer closes or a write fails.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	market := r.URL.Query().Get("market")
	if market == "" {
		market = "*"
	}

	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[ws] upgrade: %v", err)
		return
	}

	h.mu.Lock()
	if h.subs[market] == nil {
		h.subs[market] = make(map[*websocket.Conn]struct{})
	}
	h.subs[market][c] = struct{}{}
	h.mu.Unlock()

	// Read loop exists only to detect the peer going away. Inbound
	// messages are discarded.
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				h.mu.Lock()
				h.dropLocked(market, c)
				h.mu.Unlock()
				return
			}
		}
	}()
}

// Close drops every connection. Called on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, set := range h.subs {
		for c := range set {
			_ = c.Close()
		}
		delete(h.subs, key)
	}
}

func (h *Hub) dropLocked(key string, c *websocket.Conn) {
	delete(h.subs[key], c)
	_ = c.Close()
}
