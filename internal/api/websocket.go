package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wattwise/wattsync/internal/device"
	"github.com/wattwise/wattsync/internal/infrastructure/config"
	"github.com/wattwise/wattsync/internal/infrastructure/logging"
	"github.com/wattwise/wattsync/internal/synchronizer"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypeToggle      = "toggle"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// wsToggleTimeout bounds a toggle requested over the socket.
	wsToggleTimeout = 30 * time.Second
)

// allChannels are the event types a new client receives until it narrows
// its subscription.
var allChannels = []synchronizer.EventType{
	synchronizer.EventDevicesReplaced,
	synchronizer.EventDevicesUpdated,
	synchronizer.EventDeviceRemoved,
	synchronizer.EventConnectionStatus,
	synchronizer.EventToggleResult,
}

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// WSTogglePayload is the payload of a toggle message.
type WSTogglePayload struct {
	DeviceID int `json:"device_id"`
}

// WSEventPayload is the payload of a pushed synchronizer event.
type WSEventPayload struct {
	HouseID  int                 `json:"house_id"`
	Devices  []device.Device     `json:"devices"`
	DeviceID int                 `json:"device_id,omitempty"`
	Status   synchronizer.Status `json:"status,omitempty"`
	OK       *bool               `json:"ok,omitempty"`
	Message  string              `json:"message,omitempty"`
}

// HubSource supplies the state a newly connected client starts from and
// executes toggles requested over the socket.
type HubSource interface {
	HouseID() int
	Devices() []device.Device
	Status() synchronizer.Status
	Toggle(ctx context.Context, deviceID int) (string, error)
}

// Hub manages WebSocket connections and pushes synchronizer events to them.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	src     HubSource
	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	// deliverMu orders broadcasts against a new client's snapshot.
	deliverMu sync.Mutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex

	readLimit    int64
	pingInterval time.Duration
	pongWait     time.Duration
}

// newWSClient creates a client subscribed to every event type.
func newWSClient(hub *Hub, conn *websocket.Conn) *WSClient {
	c := &WSClient{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}, len(allChannels)),
		readLimit:     int64(hub.cfg.MaxMessageSize),
		pingInterval:  time.Duration(hub.cfg.PingInterval) * time.Second,
		pongWait:      time.Duration(hub.cfg.PongTimeout) * time.Second,
	}
	for _, ch := range allChannels {
		c.subscriptions[string(ch)] = struct{}{}
	}
	return c
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

// NewHub creates a hub. src may be nil, in which case new clients get no
// initial snapshot and toggle messages are refused.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, src HubSource) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		src:     src,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that removes the client from the map closes its send
// channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// HandleEvent is a synchronizer.Listener that pushes ev to subscribed clients.
func (h *Hub) HandleEvent(ev synchronizer.Event) {
	h.Broadcast(string(ev.Type), eventPayload(ev))
}

func eventPayload(ev synchronizer.Event) WSEventPayload {
	p := WSEventPayload{
		HouseID:  ev.HouseID,
		Devices:  ev.Devices,
		DeviceID: ev.DeviceID,
		Status:   ev.Status,
		Message:  ev.Message,
	}
	if ev.Type == synchronizer.EventDevicesReplaced && p.Devices == nil {
		p.Devices = []device.Device{}
	}
	if ev.Type == synchronizer.EventToggleResult {
		ok := ev.OK
		p.OK = &ok
	}
	return p
}

// Broadcast sends an event to all clients subscribed to the given channel.
// The client list is snapshotted under the hub lock so no client lock is
// taken while holding it.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeEvent(channel, payload)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sentCount := 0
	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
			sentCount++
		}
	}
	if sentCount > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sentCount)
	}
}

func encodeEvent(channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
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

// attach queues the current view for c, then registers it. No broadcast
// can overtake the snapshot: one that lands meanwhile is delivered after.
func (h *Hub) attach(c *WSClient) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()
	h.sendSnapshot(c)
	h.Register(c)
}

// sendSnapshot queues the current view for one client so it does not have
// to wait for the next change.
func (h *Hub) sendSnapshot(c *WSClient) {
	if h.src == nil {
		return
	}
	houseID := h.src.HouseID()
	devices := h.src.Devices()
	if devices == nil {
		devices = []device.Device{}
	}

	for _, ev := range []synchronizer.Event{
		{Type: synchronizer.EventConnectionStatus, HouseID: houseID, Status: h.src.Status()},
		{Type: synchronizer.EventDevicesReplaced, HouseID: houseID, Devices: devices},
	} {
		data, err := encodeEvent(string(ev.Type), eventPayload(ev))
		if err != nil {
			continue
		}
		c.trySend(data)
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn)
	s.hub.attach(client)

	go client.writePump()
	go client.readPump()
}

// readPump reads client messages until the connection fails. Any message
// from the client extends the read deadline, since browsers do not always
// answer protocol-level pings.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.readLimit)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		return c.extendReadDeadline()
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.extendReadDeadline()
		c.handleMessage(message)
	}
}

func (c *WSClient) extendReadDeadline() error {
	return c.conn.SetReadDeadline(time.Now().Add(c.pingInterval + c.pongWait))
}

// writePump drains the send queue and pings the client every pingInterval.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var (
			msgType = websocket.PingMessage
			data    []byte
		)
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			msgType, data = websocket.TextMessage, message
		case <-ticker.C:
		}

		//nolint:errcheck // Best-effort deadline; write error caught below
		c.conn.SetWriteDeadline(time.Now().Add(c.pongWait))
		if err := c.conn.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.updateSubscriptions(msg, true)
	case WSTypeUnsubscribe:
		c.updateSubscriptions(msg, false)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	case WSTypeToggle:
		c.handleToggle(msg)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// decodePayload re-decodes a message's generic payload into dst.
func decodePayload(msg WSMessage, dst any) error {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// updateSubscriptions adds or removes channels from the client's set.
func (c *WSClient) updateSubscriptions(msg WSMessage, subscribe bool) {
	var sub WSSubscribePayload
	if err := decodePayload(msg, &sub); err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if subscribe {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
	}
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{key: sub.Channels})
}

// handleToggle issues a toggle without blocking the read loop. The reply
// carries the backend's message; the state change itself arrives as
// devices.updated and toggle.result events.
func (c *WSClient) handleToggle(msg WSMessage) {
	var req WSTogglePayload
	if err := decodePayload(msg, &req); err != nil || req.DeviceID <= 0 {
		c.sendError(msg.ID, "toggle needs a positive device_id")
		return
	}
	if c.hub.src == nil {
		c.sendError(msg.ID, "toggle unavailable")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), wsToggleTimeout)
		defer cancel()

		message, err := c.hub.src.Toggle(ctx, req.DeviceID)
		if err != nil {
			var toggleErr *synchronizer.ToggleError
			if errors.As(err, &toggleErr) {
				c.sendError(msg.ID, toggleErr.Message)
				return
			}
			c.sendError(msg.ID, err.Error())
			return
		}
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
			"device_id": req.DeviceID,
			"message":   message,
		})
	}()
}

// trySend queues data for the client, dropping it when the buffer is full
// or the client has already disconnected.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// sendResponse sends a response message to the client.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
