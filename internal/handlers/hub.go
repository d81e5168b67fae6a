package handlers

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// WSEvent is the envelope for all WebSocket messages
type WSEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client represents a single WebSocket connection. A user may hold several
// at once (one per device); each is tracked separately in the presence map.
type Client struct {
	hub  *Hub
	h    *Handler
	conn *websocket.Conn
	send chan []byte

	id         string // connection id, unique per socket
	userID     string
	registered bool

	chatID      string // currently viewed direct chat
	currentRoom string // game room this connection occupies, if any
	mu          sync.Mutex
}

// Hub manages all active WebSocket clients, the per-user presence sets and
// the game-room membership. It is the single process-wide connection
// registry; everything that needs to reach a user goes through it.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	// presence: userID → set of live connections. An entry exists iff the
	// user has at least one open socket, so map membership doubles as the
	// online check.
	presence   map[string]map[*Client]bool
	presenceMu sync.RWMutex

	// rooms: game room id → set of connections currently joined
	rooms   map[string]map[*Client]bool
	roomsMu sync.RWMutex

	allowedOrigin string

	// onDisconnect runs after a client is removed. wentOffline is true when
	// this was the user's last connection.
	onDisconnect func(c *Client, wentOffline bool, roomID string)
}

func NewHub(allowedOrigin string) *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		broadcast:     make(chan []byte, 256),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		presence:      make(map[string]map[*Client]bool),
		rooms:         make(map[string]map[*Client]bool),
		allowedOrigin: allowedOrigin,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

			wentOffline := h.leavePresence(client)
			roomID := h.leaveCurrentRoom(client)
			if h.onDisconnect != nil {
				h.onDisconnect(client, wentOffline, roomID)
			}

		case message := <-h.broadcast:
			// Collect dead clients under RLock, then evict under write lock
			// to avoid a map-write-while-read-locked data race.
			h.mu.RLock()
			var dead []*Client
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					dead = append(dead, client)
				}
			}
			h.mu.RUnlock()
			if len(dead) > 0 {
				h.mu.Lock()
				for _, client := range dead {
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// --- Presence (connection registry) ---

// enterPresence adds the client to its user's connection set, creating the
// set if absent. Returns true when this is the user's first live connection.
func (h *Hub) enterPresence(c *Client) bool {
	userID := c.getUserID()
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	set := h.presence[userID]
	cameOnline := len(set) == 0
	if set == nil {
		set = make(map[*Client]bool)
		h.presence[userID] = set
	}
	set[c] = true
	return cameOnline
}

// leavePresence removes the client; when its user's set empties the entry
// is dropped entirely so membership stays equivalent to liveness.
func (h *Hub) leavePresence(c *Client) bool {
	userID := c.getUserID()
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	set, ok := h.presence[userID]
	if !ok {
		return false
	}
	if _, in := set[c]; !in {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.presence, userID)
		return true
	}
	return false
}

func (h *Hub) IsOnline(userID string) bool {
	h.presenceMu.RLock()
	defer h.presenceMu.RUnlock()
	return len(h.presence[userID]) > 0
}

// OnlineSnapshot returns userID → number of live connections.
func (h *Hub) OnlineSnapshot() map[string]int {
	h.presenceMu.RLock()
	defer h.presenceMu.RUnlock()
	out := make(map[string]int, len(h.presence))
	for userID, set := range h.presence {
		out[userID] = len(set)
	}
	return out
}

// --- Game rooms ---

// joinRoom moves the connection into a game room. A connection occupies at
// most one room; joining another leaves the previous one first.
func (h *Hub) joinRoom(roomID string, c *Client) {
	h.leaveCurrentRoom(c)
	h.roomsMu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][c] = true
	h.roomsMu.Unlock()
	c.setCurrentRoom(roomID)
}

// leaveCurrentRoom clears the connection's room pointer and removes it from
// the room set. Returns the room id it left, or "".
func (h *Hub) leaveCurrentRoom(c *Client) string {
	roomID := c.getCurrentRoom()
	if roomID == "" {
		return ""
	}
	h.roomsMu.Lock()
	if room, ok := h.rooms[roomID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.roomsMu.Unlock()
	c.setCurrentRoom("")
	return roomID
}

// --- Event routing ---

// Broadcast sends an event to all connected clients
func (h *Hub) Broadcast(event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Println("ws marshal error:", err)
		return
	}
	h.broadcast <- data
}

// SendToUser delivers an event to every live connection of a user. Delivery
// is fire-and-forget; a full send buffer drops that connection's copy.
func (h *Hub) SendToUser(userID string, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.presenceMu.RLock()
	defer h.presenceMu.RUnlock()
	for client := range h.presence[userID] {
		select {
		case client.send <- data:
		default:
		}
	}
}

// BroadcastToRoom sends an event to every connection in a game room,
// optionally excluding one.
func (h *Hub) BroadcastToRoom(roomID string, event WSEvent, exclude *Client) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	for client := range h.rooms[roomID] {
		if client == exclude {
			continue
		}
		select {
		case client.send <- data:
		default:
		}
	}
}

// roomOccupants returns the user ids currently connected to a room.
func (h *Hub) roomOccupants(roomID string) []string {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	ids := make([]string, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		ids = append(ids, c.getUserID())
	}
	return ids
}

// --- Client ---

// getUserID and setUserID guard the identity field: the register handshake
// rewrites it on the read loop while hub goroutines read it for presence and
// room bookkeeping.
func (c *Client) getUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) setUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

func (c *Client) setViewedChat(chatID string) {
	c.mu.Lock()
	c.chatID = chatID
	c.mu.Unlock()
}

func (c *Client) setCurrentRoom(roomID string) {
	c.mu.Lock()
	c.currentRoom = roomID
	c.mu.Unlock()
}

func (c *Client) getCurrentRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentRoom
}

func (c *Client) isRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

func (c *Client) markRegistered() {
	c.mu.Lock()
	c.registered = true
	c.mu.Unlock()
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
}

type rawClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	// Limit incoming message size to prevent memory-exhaustion DoS.
	c.conn.SetReadLimit(64 * 1024) // 64 KB per message
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var evt rawClientMessage
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		c.handleMessage(evt)
	}
}

// handleMessage dispatches one inbound event. Everything except the register
// handshake requires the connection to have completed it.
func (c *Client) handleMessage(evt rawClientMessage) {
	if evt.Type == "register" {
		c.h.handleRegister(c, evt.Data)
		return
	}
	if !c.isRegistered() {
		c.sendEvent(WSEvent{Type: "error", Data: map[string]string{"error": "not registered"}})
		return
	}

	switch evt.Type {

	case "chat.open":
		var d struct {
			ChatID string `json:"chat_id"`
		}
		if json.Unmarshal(evt.Data, &d) == nil {
			c.setViewedChat(d.ChatID)
		}

	case "chat.send":
		c.h.handleChatSend(c, evt.Data)

	case "chat.delivered":
		c.h.handleChatDelivered(c, evt.Data)

	case "chat.seen":
		c.h.handleChatSeen(c, evt.Data)

	case "chat.edit":
		c.h.handleChatEdit(c, evt.Data)

	case "chat.delete":
		c.h.handleChatDelete(c, evt.Data)

	case "chat.typing", "chat.stop_typing":
		c.h.handleChatTyping(c, evt.Type, evt.Data)

	case "chat.reaction":
		c.h.handleChatReaction(c, evt.Data)

	case "chamber.send":
		c.h.handleChamberSend(c, evt.Data)

	case "chamber.edit":
		c.h.handleChamberEdit(c, evt.Data)

	case "chamber.delete_message":
		c.h.handleChamberDeleteMessage(c, evt.Data)

	case "chamber.typing", "chamber.stop_typing":
		c.h.handleChamberTyping(c, evt.Type, evt.Data)

	case "chess.invite":
		c.h.handleChessInvite(c, evt.Data)

	case "chess.join":
		c.h.handleChessJoin(c, evt.Data)

	case "chess.leave":
		c.h.handleChessLeave(c)

	case "chess.move":
		c.h.handleChessMove(c, evt.Data)

	case "chess.capture":
		c.h.handleChessCapture(c, evt.Data)

	case "chess.time_update":
		c.h.handleChessTimeUpdate(c, evt.Data)

	case "chess.game_state":
		c.h.handleChessGameState(c, evt.Data)

	case "chess.checkmate":
		c.h.handleCheckmateDeclared(c, evt.Data)

	case "chess.board_state":
		c.h.handleGetBoardState(c, evt.Data)

	case "ai.request_move":
		c.h.handleAIRequestMove(c, evt.Data)

	case "ai.board_state":
		c.h.handleAIBoardState(c, evt.Data)

	case "ai.retry":
		c.h.handleAIRetry(c, evt.Data)

	case "ai.status":
		c.h.handleAIGameStatus(c, evt.Data)

	case "ai.track_move":
		c.h.handleAITrackMove(c, evt.Data)

	case "ai.simple_move":
		c.h.handleAISimpleMove(c, evt.Data)
	}
}

func (c *Client) sendEvent(event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// sendError emits a domain error event back to the acting connection.
// Handlers have no HTTP caller to return to, so failures surface this way.
func (c *Client) sendError(eventType, msg string) {
	c.sendEvent(WSEvent{Type: eventType, Data: map[string]string{"error": msg}})
}
