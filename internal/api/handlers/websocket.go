package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/logger"
	"github.com/onnwee/reddit-scraper-fleet/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// How often the hub re-reads fleet state while clients are connected.
	statusPollInterval = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS middleware is the origin gate for the rest of the API.
		return true
	},
}

// wsMessage is the envelope for every frame sent to clients.
// Type is "snapshot" or "error".
type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// fleetScraperStatus is the per-worker slice of a snapshot. It carries the
// fields a dashboard polls for; detail lives behind the REST endpoints.
type fleetScraperStatus struct {
	ID               string    `json:"id"`
	ScraperType      string    `json:"scraper_type"`
	PrimarySubreddit string    `json:"primary_subreddit"`
	Status           string    `json:"status"`
	SubredditCount   int       `json:"subreddit_count"`
	PendingCount     int       `json:"pending_count"`
	RestartCount     int32     `json:"restart_count"`
	AccountName      string    `json:"account_name,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	LastUpdated      time.Time `json:"last_updated"`
}

// fleetSnapshot is the full broadcast payload. Its marshaled bytes double as
// the change detector, so it must not carry a timestamp of its own.
type fleetSnapshot struct {
	Scrapers []fleetScraperStatus `json:"scrapers"`
	Counts   map[string]int       `json:"counts"`
	Total    int                  `json:"total"`
}

// FleetLister reads the fleet for status snapshots. *db.Queries satisfies
// it; tests substitute fakes.
type FleetLister interface {
	ListScrapers(ctx context.Context) ([]db.Scraper, error)
}

// wsClient is one connected dashboard.
type wsClient struct {
	hub  *FleetHub
	conn *websocket.Conn
	send chan []byte
}

// FleetHub fans fleet status out to WebSocket clients. It polls the scraper
// table while at least one client is connected and broadcasts a snapshot
// whenever the fleet's state differs from the last one sent.
type FleetHub struct {
	queries FleetLister

	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte

	mu           sync.RWMutex
	lastSnapshot []byte

	stop     chan struct{}
	stopOnce sync.Once
}

// NewFleetHub creates a hub. Call Run to start it.
func NewFleetHub(q FleetLister) *FleetHub {
	return &FleetHub{
		queries:    q,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 256),
		stop:       make(chan struct{}),
	}
}

// Run owns the client set and drives the status poller. It returns when the
// context is cancelled or Stop is called.
func (h *FleetHub) Run(ctx context.Context) {
	go h.pollStatus(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case <-h.stop:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketConnections.Inc()
			logger.Info("WebSocket client connected", "total_clients", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.WebSocketConnections.Dec()
			}
			total := len(h.clients)
			h.mu.Unlock()
			logger.Info("WebSocket client disconnected", "total_clients", total)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
					metrics.WebSocketMessagesSent.Inc()
				default:
					// Client's send buffer is full, drop the connection.
					close(client.send)
					delete(h.clients, client)
					metrics.WebSocketConnections.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down. Safe to call more than once.
func (h *FleetHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// pollStatus re-reads the fleet on a ticker and broadcasts when it changed.
func (h *FleetHub) pollStatus(ctx context.Context) {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
			h.mu.RLock()
			clientCount := len(h.clients)
			h.mu.RUnlock()

			if clientCount == 0 {
				// Nobody listening, skip the read.
				continue
			}

			payload, changed, err := h.refreshSnapshot(ctx)
			if err != nil {
				logger.Warn("Fleet status poll failed", "error", err)
				continue
			}
			if !changed {
				continue
			}

			frame, err := json.Marshal(wsMessage{Type: "snapshot", Payload: payload})
			if err != nil {
				logger.Error("Failed to marshal fleet snapshot", "error", err)
				continue
			}
			h.broadcast <- frame
		}
	}
}

// refreshSnapshot reads the fleet, stores the marshaled snapshot and reports
// whether it differs from the previous one.
func (h *FleetHub) refreshSnapshot(ctx context.Context) ([]byte, bool, error) {
	recs, err := h.queries.ListScrapers(ctx)
	if err != nil {
		return nil, false, err
	}

	snap := fleetSnapshot{
		Scrapers: make([]fleetScraperStatus, 0, len(recs)),
		Counts:   make(map[string]int),
		Total:    len(recs),
	}
	for _, rec := range recs {
		snap.Counts[rec.Status]++
		snap.Scrapers = append(snap.Scrapers, fleetScraperStatus{
			ID:               rec.ID,
			ScraperType:      rec.ScraperType,
			PrimarySubreddit: rec.PrimarySubreddit,
			Status:           rec.Status,
			SubredditCount:   len(rec.Subreddits),
			PendingCount:     len(rec.PendingScrape),
			RestartCount:     rec.RestartCount,
			AccountName:      rec.AccountName.String,
			LastError:        rec.LastError.String,
			LastUpdated:      rec.LastUpdated,
		})
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, false, err
	}

	h.mu.Lock()
	changed := !bytes.Equal(payload, h.lastSnapshot)
	if changed {
		h.lastSnapshot = payload
	}
	h.mu.Unlock()
	return payload, changed, nil
}

// currentSnapshot returns the cached snapshot, building one on first use.
func (h *FleetHub) currentSnapshot(ctx context.Context) ([]byte, error) {
	h.mu.RLock()
	cached := h.lastSnapshot
	h.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}
	payload, _, err := h.refreshSnapshot(ctx)
	return payload, err
}

// sendSnapshot queues the current snapshot to a single client.
func (h *FleetHub) sendSnapshot(ctx context.Context, c *wsClient) {
	payload, err := h.currentSnapshot(ctx)
	if err != nil {
		logger.Warn("Failed to build fleet snapshot for client", "error", err)
		return
	}
	frame, err := json.Marshal(wsMessage{Type: "snapshot", Payload: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
		metrics.WebSocketMessagesSent.Inc()
	default:
	}
}

// readPump drains the connection so pings work and honors client refresh
// requests ({"type":"refresh"} resends the current snapshot).
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket unexpected close", "error", err)
			}
			break
		}

		var clientMsg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &clientMsg); err == nil && clientMsg.Type == "refresh" {
			c.hub.sendSnapshot(context.Background(), c)
		}
	}
}

// writePump pushes queued frames and keepalive pings to the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Fold queued frames into the same write.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// FleetWS upgrades the connection and hands it to the hub. The client gets
// the current snapshot immediately, then updates as the fleet changes.
// GET /api/fleet/ws
func FleetWS(hub *FleetHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote an HTTP error response.
			logger.Error("Failed to upgrade to WebSocket", "error", err)
			return
		}

		client := &wsClient{
			hub:  hub,
			conn: conn,
			send: make(chan []byte, 256),
		}

		hub.register <- client
		hub.sendSnapshot(r.Context(), client)

		go client.writePump()
		go client.readPump()
	}
}
