package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Dashboards refetch only when the version changes, at most once per heartbeat
	versionHeartbeatInterval = 2 * time.Second

	// Outbound buffer per client
	sendBufferSize = 256

	// MessageTypeVersionUpdate tells dashboards the student table changed
	MessageTypeVersionUpdate = "VERSION_UPDATE"
)

// VersionSource returns the change counter of the student data
type VersionSource interface {
	GetVersion(ctx context.Context) (int64, error)
}

// Client represents a WebSocket client connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of active dashboards and tells them when the
// student data changed
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	versions VersionSource
	logger   zerolog.Logger
	interval time.Duration

	mu sync.RWMutex

	// Last known version, only touched by the Run goroutine
	lastVersion int64
}

// VersionUpdate represents the version heartbeat message
type VersionUpdate struct {
	Type    string `json:"type"`
	Version int64  `json:"version"`
}

// NewHub creates a new WebSocket hub
func NewHub(versions VersionSource, logger zerolog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		versions:   versions,
		logger:     logger.With().Str("component", "ws_hub").Logger(),
		interval:   versionHeartbeatInterval,
	}
}

// Run starts the WebSocket hub
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info().Dur("heartbeat", h.interval).Msg("websocket hub started")
	defer close(h.done)

	versionTicker := time.NewTicker(h.interval)
	defer versionTicker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", total).Msg("dashboard connected")

			h.sendInitialVersion(ctx, client)

		case client := <-h.unregister:
			h.removeClient(client)

		case <-versionTicker.C:
			h.checkAndBroadcastVersion(ctx)

		case <-ctx.Done():
			h.closeAll()
			h.logger.Info().Msg("websocket hub shutting down")
			return
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug().Int("clients", total).Msg("dashboard disconnected")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// checkAndBroadcastVersion broadcasts the version to every client when it changed
func (h *Hub) checkAndBroadcastVersion(ctx context.Context) {
	currentVersion, err := h.versions.GetVersion(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to read student data version")
		return
	}
	if currentVersion == h.lastVersion {
		return
	}
	h.lastVersion = currentVersion

	message, err := encodeVersion(currentVersion)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal version update")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.logger.Debug().Int64("version", currentVersion).Int("clients", len(h.clients)).Msg("broadcasting version update")
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			h.logger.Warn().Msg("client send buffer full, skipping")
		}
	}
}

// sendInitialVersion sends the current version to a newly connected client
func (h *Hub) sendInitialVersion(ctx context.Context, client *Client) {
	currentVersion, err := h.versions.GetVersion(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to read initial version")
		return
	}
	if h.lastVersion == 0 {
		h.lastVersion = currentVersion
	}

	message, err := encodeVersion(currentVersion)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal initial version")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, exists := h.clients[client]; !exists {
		return
	}
	select {
	case client.send <- message:
	default:
		h.logger.Warn().Msg("client send buffer full, initial version dropped")
	}
}

// GetClientCount returns the current number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encodeVersion(version int64) ([]byte, error) {
	return json.Marshal(VersionUpdate{
		Type:    MessageTypeVersionUpdate,
		Version: version,
	})
}

// readPump drains the connection until the peer goes away. Dashboards never
// send anything meaningful.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

		w, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		_, _ = w.Write(message)

		// Coalesce queued messages into the current frame
		n := len(c.send)
		for i := 0; i < n; i++ {
			_, _ = w.Write([]byte{'\n'})
			_, _ = w.Write(<-c.send)
		}

		if err := w.Close(); err != nil {
			return
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// ServeWS handles WebSocket requests from clients
func ServeWS(hub *Hub, conn *websocket.Conn) {
	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()

	// Blocks until disconnect
	client.readPump()
}
