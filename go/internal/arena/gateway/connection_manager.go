package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// MessageHandler receives decoded traffic from connections
type MessageHandler interface {
	HandleMessage(connectionID string, message []byte)
	HandleDisconnect(connectionID string)
}

// Mirror receives a copy of every room broadcast. Publish must not block.
type Mirror interface {
	Publish(roomID, eventType, eventID string, body []byte)
}

// ConnectionManager manages WebSocket connections and implements the
// coordinator's dispatcher. Each connection belongs to at most one room.
type ConnectionManager struct {
	// All live connections by ID
	connections map[string]*Connection
	// Broadcast pools by room ID
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	handler MessageHandler
	mirror  Mirror

	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	RoomID  string // guarded by Manager.mu
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	BroadcastBuffer int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is a pending delivery. Exactly one of RoomID and
// ConnectionID is set.
type BroadcastMessage struct {
	RoomID       string
	ConnectionID string
	Type         string
	Payload      any
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		BroadcastBuffer: 1000,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		connections:     make(map[string]*Connection),
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, config.BroadcastBuffer),
	}
}

// SetMessageHandler installs the inbound handler. Must be called before
// connections are accepted.
func (cm *ConnectionManager) SetMessageHandler(h MessageHandler) {
	cm.handler = h
}

// SetMirror installs an optional copy target for room broadcasts
func (cm *ConnectionManager) SetMirror(m Mirror) {
	cm.mirror = m
}

// Start processes broadcast messages until ctx is done
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket. The new
// connection is in no room until it sends join-room.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn.ID] = conn

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection and closes its send channel.
// Safe to call more than once; the handler hears about it once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	if _, exists := cm.connections[conn.ID]; !exists {
		cm.mu.Unlock()
		return
	}
	delete(cm.connections, conn.ID)
	cm.leaveRoomLocked(conn)
	close(conn.Send)
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Msg("connection unregistered")

	if cm.handler != nil {
		cm.handler.HandleDisconnect(conn.ID)
	}
}

func (cm *ConnectionManager) leaveRoomLocked(conn *Connection) {
	if conn.RoomID == "" {
		return
	}
	if pool, exists := cm.roomConnections[conn.RoomID]; exists {
		delete(pool, conn)
		// Clean up empty room pools
		if len(pool) == 0 {
			delete(cm.roomConnections, conn.RoomID)
		}
	}
	conn.RoomID = ""
}

// Subscribe moves a connection into roomID's broadcast pool
func (cm *ConnectionManager) Subscribe(connectionID, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, exists := cm.connections[connectionID]
	if !exists || conn.RoomID == roomID {
		return
	}

	cm.leaveRoomLocked(conn)
	if cm.roomConnections[roomID] == nil {
		cm.roomConnections[roomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomID][conn] = true
	conn.RoomID = roomID

	log.Debug().
		Str("connection_id", connectionID).
		Str("room_id", roomID).
		Int("room_connections", len(cm.roomConnections[roomID])).
		Msg("connection subscribed")
}

// ToRoom queues event for every connection subscribed to roomID
func (cm *ConnectionManager) ToRoom(roomID, event string, payload any) {
	cm.enqueue(BroadcastMessage{RoomID: roomID, Type: event, Payload: payload})
}

// ToConnection queues event for a single connection
func (cm *ConnectionManager) ToConnection(connectionID, event string, payload any) {
	cm.enqueue(BroadcastMessage{ConnectionID: connectionID, Type: event, Payload: payload})
}

func (cm *ConnectionManager) enqueue(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().
			Str("room_id", message.RoomID).
			Str("connection_id", message.ConnectionID).
			Str("event_type", message.Type).
			Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	roomID := message.RoomID
	if message.ConnectionID != "" {
		if conn, exists := cm.connections[message.ConnectionID]; exists {
			targets = append(targets, conn)
			roomID = conn.RoomID
		}
	} else {
		for conn := range cm.roomConnections[message.RoomID] {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	// Marshal the event once
	event, err := NewArenaEvent(roomID, message.Type, message.Payload, time.Now())
	if err != nil {
		log.Error().Err(err).Str("event_type", message.Type).Msg("failed to build event for broadcast")
		return
	}
	eventData, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	if message.RoomID != "" && cm.mirror != nil {
		cm.mirror.Publish(message.RoomID, message.Type, event.ID, eventData)
	}

	if len(targets) == 0 {
		return
	}

	// Sends happen under the read lock so Send cannot be closed mid-send
	var slow []*Connection
	cm.mu.RLock()
	for _, conn := range targets {
		if _, live := cm.connections[conn.ID]; !live {
			continue
		}
		select {
		case conn.Send <- eventData:
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		// Connection is slow/dead, close it
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", message.Type).
		Str("room_id", roomID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		cm.unregisterConnection(conn)
	}
}

// ConnectionStats is the body of /ws/stats
type ConnectionStats struct {
	TotalConnections int              `json:"total_connections"`
	ActiveRooms      int              `json:"active_rooms"`
	RoomConnections  map[string]int   `json:"room_connections"`
	Connections      []ConnectionInfo `json:"connections"`
}

// ConnectionInfo describes one live connection
type ConnectionInfo struct {
	ConnectionID string    `json:"connection_id"`
	RoomID       string    `json:"room_id,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	roomCounts := make(map[string]int, len(cm.roomConnections))
	for roomID, pool := range cm.roomConnections {
		roomCounts[roomID] = len(pool)
	}

	conns := make([]ConnectionInfo, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, ConnectionInfo{
			ConnectionID: conn.ID,
			RoomID:       conn.RoomID,
			ConnectedAt:  conn.ConnectedAt,
		})
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ConnectedAt.Before(conns[j].ConnectedAt) })

	return ConnectionStats{
		TotalConnections: len(cm.connections),
		ActiveRooms:      len(cm.roomConnections),
		RoomConnections:  roomCounts,
		Connections:      conns,
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.Manager.handler != nil {
			c.Manager.handler.HandleMessage(c.ID, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
