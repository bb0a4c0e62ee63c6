package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/motorline/auction-engine/configs"
	"github.com/motorline/auction-engine/internal/engine"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// AuctionHandler bridges the engine's change feed to WebSocket clients
// and routes inbound bid messages into the engine.
type AuctionHandler struct {
	engine *engine.Engine // Injected dependency
	cfg    *configs.Config

	mu      sync.Mutex
	clients map[*Client]bool
	byUser  map[string]map[*Client]bool
}

func NewAuctionHandler(eng *engine.Engine, cfg *configs.Config) *AuctionHandler {
	return &AuctionHandler{
		engine:  eng,
		cfg:     cfg,
		clients: make(map[*Client]bool),
		byUser:  make(map[string]map[*Client]bool),
	}
}

// HandleAuctions upgrades the HTTP request to a WebSocket connection.
// Authentication happens upstream; the surrounding application passes the
// caller's user id along with the request.
func (h *AuctionHandler) HandleAuctions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "Missing user_id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Infof("Failed to upgrade connection: %v", err)
		return
	}

	limit := rate.Limit(1)
	burst := 3
	if h.cfg != nil && h.cfg.WebSocket.RateLimitPerSecond > 0 {
		limit = rate.Limit(h.cfg.WebSocket.RateLimitPerSecond)
		burst = h.cfg.WebSocket.RateLimitBurst
	}

	client := &Client{
		ID:          userID,
		Conn:        conn,
		Send:        make(chan []byte, 16),
		RateLimiter: rate.NewLimiter(limit, burst),
		onClose:     h.removeClient,
	}

	h.mu.Lock()
	h.clients[client] = true
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[*Client]bool)
	}
	h.byUser[userID][client] = true
	h.mu.Unlock()

	go client.ReadMessages(h.HandleMessage)
	go client.WriteMessages()
}

func (h *AuctionHandler) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	if conns, ok := h.byUser[c.ID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.byUser, c.ID)
		}
	}
}

// Run pumps the engine's change feed to all connected clients until the
// context is cancelled or the feed closes.
func (h *AuctionHandler) Run(ctx context.Context) {
	events, cancel := h.engine.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Error("Error marshalling event", "error", err)
				continue
			}
			h.Broadcast(payload)
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *AuctionHandler) Broadcast(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.Send <- message:
		default:
			// Drop clients that stopped draining their queue.
			delete(h.clients, client)
			if conns, ok := h.byUser[client.ID]; ok {
				delete(conns, client)
			}
			go client.Disconnect()
		}
	}
}

// Notify implements engine.Notifier: user notifications are delivered as
// direct messages to every connection the user holds. Users without an
// open connection simply miss the push; the change feed remains the
// source of truth.
func (h *AuctionHandler) Notify(userID string, kind engine.NotificationKind, message string) {
	payload, err := json.Marshal(struct {
		Type    string `json:"type"`
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}{"notification", string(kind), message})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.byUser[userID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}
