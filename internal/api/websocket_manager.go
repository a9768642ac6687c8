package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/findmydocs/backend/internal/domain"
	"github.com/findmydocs/backend/internal/realtime"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxCommandSize = 4096
	sendBufferSize = 256
	subscribeWait  = 10 * time.Second
)

var ErrManagerStopped = errors.New("websocket manager stopped")

// Server to client event types besides realtime deliveries.
const (
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventError        = "error"
)

// WSEvent is a server to client frame.
type WSEvent struct {
	Type    string      `json:"type"`
	Channel string      `json:"channel,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// wsCommand is a client to server frame.
type wsCommand struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

type messagePayload struct {
	Message *domain.Message        `json:"message"`
	Sender  *domain.DisplayProfile `json:"sender"`
}

type Client struct {
	ID         uuid.UUID
	Conn       *websocket.Conn
	Send       chan []byte
	UserID     uuid.UUID
	dispatcher *realtime.Dispatcher
	logger     *zap.Logger
}

// WebSocketManager tracks connected clients. Each client routes its channel
// subscriptions through its own Dispatcher on the shared change feed.
type WebSocketManager struct {
	feed     realtime.ChangeFeed
	profiles realtime.SenderResolver
	upgrader websocket.Upgrader

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	// Map userID to list of active clients (for multi-device support)
	userClients map[uuid.UUID]map[*Client]bool
	done        chan struct{}
	mu          sync.RWMutex
	logger      *zap.Logger
}

// OriginChecker accepts requests whose Origin is in allowed. An empty list
// accepts every origin, as does a request without an Origin header.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// NewWebSocketManager creates a manager. checkOrigin may be nil to accept any origin.
func NewWebSocketManager(feed realtime.ChangeFeed, profiles realtime.SenderResolver, checkOrigin func(r *http.Request) bool, logger *zap.Logger) *WebSocketManager {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &WebSocketManager{
		feed:     feed,
		profiles: profiles,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		userClients: make(map[uuid.UUID]map[*Client]bool),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run processes registrations until ctx is cancelled, then drops every client.
func (m *WebSocketManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(m.done)
			// read pumps see the closed connection and clean up after themselves
			m.mu.Lock()
			for client := range m.clients {
				client.Conn.Close()
			}
			m.clients = make(map[*Client]bool)
			m.userClients = make(map[uuid.UUID]map[*Client]bool)
			m.mu.Unlock()
			return

		case client := <-m.register:
			m.mu.Lock()
			m.clients[client] = true
			if _, ok := m.userClients[client.UserID]; !ok {
				m.userClients[client.UserID] = make(map[*Client]bool)
			}
			m.userClients[client.UserID][client] = true
			m.mu.Unlock()
			m.logger.Debug("Client registered", zap.String("userID", client.UserID.String()))

		case client := <-m.unregister:
			m.mu.Lock()
			if _, ok := m.clients[client]; ok {
				m.remove(client)
				m.logger.Debug("Client unregistered", zap.String("userID", client.UserID.String()))
			}
			m.mu.Unlock()
		}
	}
}

// remove must be called with m.mu held.
func (m *WebSocketManager) remove(client *Client) {
	delete(m.clients, client)
	if userMap, ok := m.userClients[client.UserID]; ok {
		delete(userMap, client)
		if len(userMap) == 0 {
			delete(m.userClients, client.UserID)
		}
	}
	client.release()
}

// release stops deliveries before closing Send, so nothing writes to a closed
// channel.
func (c *Client) release() {
	c.dispatcher.Close()
	close(c.Send)
}

// ClientCount returns the number of connected clients.
func (m *WebSocketManager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// IsOnline reports whether the user has at least one open connection.
func (m *WebSocketManager) IsOnline(userID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.userClients[userID]) > 0
}

// Serve upgrades the request and runs the connection until it closes.
func (m *WebSocketManager) Serve(w http.ResponseWriter, r *http.Request, userID uuid.UUID) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:         uuid.New(),
		Conn:       conn,
		Send:       make(chan []byte, sendBufferSize),
		UserID:     userID,
		dispatcher: realtime.NewDispatcher(m.feed, m.profiles, m.logger),
		logger:     m.logger.With(zap.String("user_id", userID.String())),
	}

	select {
	case m.register <- client:
	case <-m.done:
		conn.Close()
		return ErrManagerStopped
	}

	go client.WritePump()
	go client.ReadPump(m)
	return nil
}

// enqueue sends an event without blocking. A client too slow to drain its
// buffer loses the event.
func (c *Client) enqueue(ev WSEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("Failed to marshal websocket event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	select {
	case c.Send <- data:
	default:
		c.logger.Warn("websocket send buffer full, dropping event", zap.String("type", ev.Type))
	}
}

func (c *Client) deliver(d realtime.Delivery) {
	ev := WSEvent{Type: string(d.Type), Channel: d.Channel}
	if d.Notification != nil {
		ev.Payload = d.Notification
	} else {
		ev.Payload = messagePayload{Message: d.Message, Sender: d.Sender}
	}
	c.enqueue(ev)
}

func (c *Client) handleCommand(raw []byte) {
	var cmd wsCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.enqueue(WSEvent{Type: EventError, Payload: "malformed command"})
		return
	}

	switch cmd.Action {
	case "subscribe":
		session, err := realtime.NewChannelSession(cmd.Channel, c.UserID)
		if err != nil {
			c.enqueue(WSEvent{Type: EventError, Channel: cmd.Channel, Payload: err.Error()})
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), subscribeWait)
		err = c.dispatcher.Subscribe(ctx, session, c.deliver)
		cancel()
		if err != nil {
			c.logger.Warn("websocket subscribe failed", zap.String("channel", session.Key), zap.Error(err))
			c.enqueue(WSEvent{Type: EventError, Channel: session.Key, Payload: "subscribe failed"})
			return
		}
		c.enqueue(WSEvent{Type: EventSubscribed, Channel: session.Key})

	case "unsubscribe":
		key := cmd.Channel
		if session, err := realtime.NewChannelSession(cmd.Channel, c.UserID); err == nil {
			key = session.Key
		}
		c.dispatcher.Unsubscribe(key)
		c.enqueue(WSEvent{Type: EventUnsubscribed, Channel: key})

	default:
		c.enqueue(WSEvent{Type: EventError, Payload: "unknown action " + cmd.Action})
	}
}

func (c *Client) ReadPump(manager *WebSocketManager) {
	defer func() {
		select {
		case manager.unregister <- c:
		case <-manager.done:
			c.release()
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxCommandSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		c.handleCommand(raw)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one event per frame so clients can parse each as JSON
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
