package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openmatka/engine/internal/events"
	"github.com/rs/zerolog/log"
)

// StateProvider supplies the current round snapshot pushed to late
// joiners the moment they connect.
type StateProvider interface {
	Snapshot() (label string, secondsLeft int, ok bool)
}

// ConnectionConfig holds configuration for websocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// broadcastMessage is one queued delivery. Empty UserID means global.
type broadcastMessage struct {
	UserID string
	Event  *Event
}

// ConnectionManager is the capability registry from user id to live
// connection handles. Delivery is best-effort: targeted events to an
// offline user drop silently, nothing is queued for missed events.
type ConnectionManager struct {
	userConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader    websocket.Upgrader
	config      ConnectionConfig
	state       StateProvider
	broadcastCh chan broadcastMessage
}

// Connection represents one websocket client.
type Connection struct {
	ID      string
	UserID  string
	Send    chan []byte
	manager *ConnectionManager
	ws      *websocket.Conn

	ConnectedAt time.Time
	LastPing    time.Time
}

// NewConnectionManager creates a websocket connection manager.
func NewConnectionManager(config ConnectionConfig, state StateProvider) *ConnectionManager {
	return &ConnectionManager{
		userConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		state:       state,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// Start processes queued broadcasts until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// BroadcastGlobal queues an event for every connected client.
func (cm *ConnectionManager) BroadcastGlobal(event *Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{Event: event}:
	default:
		log.Warn().Str("type", event.Type).Msg("broadcast channel full, dropping event")
	}
}

// BroadcastToUser queues an event for one user's connections, if any.
func (cm *ConnectionManager) BroadcastToUser(userID string, event *Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{UserID: userID, Event: event}:
	default:
		log.Warn().Str("type", event.Type).Str("user_id", userID).Msg("broadcast channel full, dropping event")
	}
}

// BroadcastTimer pushes the countdown tick. Implements round.Broadcaster.
func (cm *ConnectionManager) BroadcastTimer(label string, secondsLeft int) {
	event, err := newEvent(events.TypeTimer, events.TimerPayload{Label: label, SecondsLeft: secondsLeft})
	if err != nil {
		log.Error().Err(err).Msg("failed to build timer event")
		return
	}
	cm.BroadcastGlobal(event)
}

// BroadcastPreview pushes one frame of the pre-result flicker.
func (cm *ConnectionManager) BroadcastPreview(secondsLeft, decoy int) {
	event, err := newEvent(events.TypePreview, events.PreviewPayload{SecondsLeft: secondsLeft, Decoy: decoy})
	if err != nil {
		log.Error().Err(err).Msg("failed to build preview event")
		return
	}
	cm.BroadcastGlobal(event)
}

// handleBroadcast delivers one queued message. Sends happen under the
// read lock: unregisterConnection closes Send under the write lock, so a
// connection visible here cannot be closed underneath the send.
func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	var slow []*Connection
	deliver := func(conn *Connection) {
		select {
		case conn.Send <- data:
		default:
			slow = append(slow, conn)
		}
	}

	cm.mu.RLock()
	if message.UserID != "" {
		for conn := range cm.userConnections[message.UserID] {
			deliver(conn)
		}
	} else {
		for _, conns := range cm.userConnections {
			for conn := range conns {
				deliver(conn)
			}
		}
	}
	cm.mu.RUnlock()

	// Slow or dead clients get dropped rather than stalling everyone.
	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.close()
	}
}

// registerConnection adds a connection and immediately pushes the current
// round snapshot so the client synchronizes without waiting for a tick.
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	if cm.userConnections[conn.UserID] == nil {
		cm.userConnections[conn.UserID] = make(map[*Connection]bool)
	}
	cm.userConnections[conn.UserID][conn] = true
	total := len(cm.userConnections[conn.UserID])

	// Pushed while still holding the lock so the snapshot cannot race a
	// concurrent unregister closing Send.
	if label, secondsLeft, ok := cm.state.Snapshot(); ok {
		if event, err := newEvent(events.TypeTimer, events.TimerPayload{Label: label, SecondsLeft: secondsLeft}); err == nil {
			if data, err := json.Marshal(event); err == nil {
				select {
				case conn.Send <- data:
				default:
				}
			}
		}
	}
	cm.mu.Unlock()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Int("user_connections", total).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the registry.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conns, exists := cm.userConnections[conn.UserID]
	if !exists {
		return
	}
	if _, exists := conns[conn]; !exists {
		return
	}
	delete(conns, conn)
	close(conn.Send)
	if len(conns) == 0 {
		delete(cm.userConnections, conn.UserID)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Msg("connection unregistered")
}

// ConnectionStats returns counts of active connections per user.
func (cm *ConnectionManager) ConnectionStats() map[string]int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := make(map[string]int, len(cm.userConnections))
	for userID, conns := range cm.userConnections {
		stats[userID] = len(conns)
	}
	return stats
}

func (c *Connection) close() {
	if c.ws != nil {
		c.ws.Close()
	}
}

// writePump sends queued messages and keep-alive pings to the client.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		c.manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump drains client messages and keeps the read deadline fresh.
func (c *Connection) readPump() {
	defer func() {
		c.manager.unregisterConnection(c)
		c.close()
	}()

	c.ws.SetReadLimit(c.manager.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close")
			}
			break
		}
		// Clients have nothing to say on this channel yet; log and move on.
		log.Debug().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			RawJSON("message", message).
			Msg("received client message")
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
