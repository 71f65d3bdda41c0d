package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/basharjaffan/radio-revive-stream/internal/fleet"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/config"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/logging"
)

// Stream message types.
const (
	WSTypeSnapshot = "snapshot"
	WSTypeEvent    = "event"

	// EventDeviceStatus is the event type carried by status stream messages.
	EventDeviceStatus = "device.status"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage is a message sent to a stream client.
type WSMessage struct {
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// StatusHub fans device status changes out to WebSocket clients watching
// an organisation's devices. It is a status sink for the relay.
type StatusHub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*streamClient]struct{}
	mu      sync.RWMutex
}

// streamClient is one connected dashboard.
type streamClient struct {
	hub   *StatusHub
	conn  *websocket.Conn
	send  chan []byte
	orgID string
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewStatusHub creates a hub with no clients.
func NewStatusHub(cfg config.WebSocketConfig, logger *logging.Logger) *StatusHub {
	return &StatusHub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// Name identifies the hub in relay logs.
func (h *StatusHub) Name() string { return "websocket" }

// WriteStatus pushes an accepted status to every client watching its
// organisation. Slow clients miss events rather than stall the relay.
func (h *StatusHub) WriteStatus(_ context.Context, status *fleet.DeviceStatus, _ []byte) error {
	if status == nil {
		return errors.New("websocket: nil status")
	}

	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: EventDeviceStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   status,
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	clients := make([]*streamClient, 0, len(h.clients))
	for client := range h.clients {
		if client.orgID == status.OrganizationID {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.trySend(data)
	}
	if len(clients) > 0 {
		h.logger.Debug("status streamed", "organization_id", status.OrganizationID, "recipients", len(clients))
	}
	return nil
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *StatusHub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// register adds a client to the hub.
func (h *StatusHub) register(client *streamClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "organization_id", client.orgID, "clients", h.ClientCount())
}

// unregister removes a client. Only the caller that removes the client from
// the map closes its send channel.
func (h *StatusHub) unregister(client *streamClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *StatusHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *StatusHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleDeviceStream upgrades to a WebSocket, sends the organisation's
// current device statuses as a snapshot and then streams every change.
func (s *Server) handleDeviceStream(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &streamClient{
		hub:   s.stream,
		conn:  conn,
		send:  make(chan []byte, wsSendBufferSize),
		orgID: orgID,
	}

	// Registering before reading the snapshot means a change stored in
	// between reaches the client at least once.
	s.stream.register(client)

	statuses, err := s.statuses.ListStatuses(r.Context(), orgID)
	if err != nil {
		s.logger.Error("loading stream snapshot failed", "organization_id", orgID, "error", err)
		statuses = []fleet.DeviceStatus{}
	}
	if data, err := json.Marshal(WSMessage{
		Type:      WSTypeSnapshot,
		EventType: EventDeviceStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   statuses,
	}); err == nil {
		client.trySend(data)
	}

	go client.writePump(s.stream.cfg)
	go client.readPump(s.stream.cfg)
}

// readPump discards client messages and detects disconnects.
func (c *streamClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}
}

// writePump writes queued messages and keepalive pings.
func (c *streamClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues data without blocking. Closed channels and full buffers
// drop the message.
func (c *streamClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}
