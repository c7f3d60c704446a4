package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/satindergrewal/nyanrace/internal/race"
)

// Message types pushed to view clients.
const (
	TypeView  = "view"
	TypeToast = "toast"
)

// Message is one frame on the view socket.
type Message struct {
	Type       string     `json:"type"`
	View       *race.View `json:"view,omitempty"`
	Message    string     `json:"message,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
}

// Command is a control sent by a view client, e.g. {"type":"mute"} or
// {"type":"visibility","visible":false}.
type Command struct {
	Type    string `json:"type"`
	Visible *bool  `json:"visible,omitempty"`
}

// HubConfig holds WebSocket settings.
type HubConfig struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
	CheckOrigin    func(r *http.Request) bool
}

// DefaultHubConfig returns the WebSocket defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 1024,
		SendBuffer:     32,
		CheckOrigin:    func(r *http.Request) bool { return true },
	}
}

// Hub pushes race views and toasts to every connected browser. A client
// connecting mid-race gets the latest view first.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  []byte

	broadcastCh chan []byte
	onCommand   func(Command)
	onCount     func(int)
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// NewHub creates a hub. Run must be started for broadcasts to flow.
func NewHub(config HubConfig) *Hub {
	if config.SendBuffer < 1 {
		config.SendBuffer = 1
	}
	return &Hub{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     config.CheckOrigin,
		},
		clients:     make(map[*client]struct{}),
		broadcastCh: make(chan []byte, 64),
	}
}

// OnCommand registers the handler for client controls.
func (h *Hub) OnCommand(fn func(Command)) { h.onCommand = fn }

// OnClientCount registers fn to hear the client count after every change.
func (h *Hub) OnClientCount(fn func(int)) { h.onCount = fn }

// Run fans queued messages out to clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("view hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			log.Info().Msg("view hub stopped")
			return
		case msg := <-h.broadcastCh:
			h.fanOut(msg)
		}
	}
}

// PublishView records v as the latest view and sends it to every client.
func (h *Hub) PublishView(v race.View) {
	data, err := json.Marshal(Message{Type: TypeView, View: &v})
	if err != nil {
		log.Error().Err(err).Msg("marshal view")
		return
	}
	h.mu.Lock()
	h.latest = data
	h.mu.Unlock()
	h.enqueue(data)
}

// PublishToast sends a transient notice shown for d.
func (h *Hub) PublishToast(message string, d time.Duration) {
	data, err := json.Marshal(Message{Type: TypeToast, Message: message, DurationMS: d.Milliseconds()})
	if err != nil {
		log.Error().Err(err).Msg("marshal toast")
		return
	}
	h.enqueue(data)
}

// Latest returns the last published view.
func (h *Hub) Latest() (race.View, bool) {
	h.mu.RLock()
	data := h.latest
	h.mu.RUnlock()
	if data == nil {
		return race.View{}, false
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.View == nil {
		return race.View{}, false
	}
	return *msg.View, true
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) enqueue(data []byte) {
	select {
	case h.broadcastCh <- data:
	default:
		log.Warn().Msg("view broadcast queue full, dropping message")
	}
}

// ServeHTTP upgrades the request to a view socket.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.config.SendBuffer),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- h.latest
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.countChanged(n)

	go c.writePump()
	go c.readPump()

	log.Info().Str("client", c.id).Int("clients", n).Msg("view client connected")
}

func (h *Hub) fanOut(msg []byte) {
	// Sends happen under the read lock so unregister cannot close a channel mid-send.
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("client", c.id).Msg("client send buffer full, closing connection")
		h.unregister(c)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.countChanged(n)
	log.Info().Str("client", c.id).Int("clients", n).Msg("view client disconnected")
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.unregister(c)
	}
}

func (h *Hub) countChanged(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("client", c.id).Msg("websocket write failed")
				c.hub.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client", c.id).Msg("unexpected websocket close")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Debug().Err(err).Str("client", c.id).Msg("ignoring malformed client message")
			continue
		}
		if c.hub.onCommand != nil {
			c.hub.onCommand(cmd)
		}
	}
}
