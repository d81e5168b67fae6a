package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"soulhub/internal/auth"
	"soulhub/internal/db"
	mw "soulhub/internal/middleware"
)

type Handler struct {
	db    *db.DB
	auth  *auth.Service
	hub   *Hub
	moves MoveGenerator

	// AI pacing knobs. thinkDelay spaces the broadcast of a generated move
	// so it lands at a human-like cadence; genPause separates generation
	// attempts.
	thinkDelay func() time.Duration
	genPause   time.Duration
}

func New(database *db.DB, authSvc *auth.Service, hub *Hub, moves MoveGenerator) *Handler {
	if moves == nil {
		moves = naiveGenerator{}
	}
	h := &Handler{
		db:         database,
		auth:       authSvc,
		hub:        hub,
		moves:      moves,
		thinkDelay: humanlikeDelay,
		genPause:   200 * time.Millisecond,
	}
	hub.onDisconnect = h.disconnected
	return h
}

// makeUpgrader builds a WebSocket upgrader that validates the Origin header.
// allowedOrigin is e.g. "https://app.yourdomain.com". If empty, only
// same-host origins (matching the request Host header) are permitted.
func makeUpgrader(allowedOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients (curl, API tools) send no Origin.
				return true
			}
			if allowedOrigin != "" {
				return origin == allowedOrigin
			}
			// Default: allow same host only (covers both http and https).
			return origin == "http://"+r.Host || origin == "https://"+r.Host
		},
	}
}

// --- Response helpers ---

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func ok(w http.ResponseWriter, data interface{}) {
	respond(w, http.StatusOK, data)
}

func created(w http.ResponseWriter, data interface{}) {
	respond(w, http.StatusCreated, data)
}

func errResp(w http.ResponseWriter, status int, msg string) {
	respond(w, status, map[string]string{"error": msg})
}

func (h *Handler) currentUser(r *http.Request) (*db.User, error) {
	claims := mw.GetClaims(r)
	if claims == nil {
		return nil, nil
	}
	return h.db.GetUserByID(claims.UserID)
}

// --- WebSocket handler ---

func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	claims := mw.GetClaims(r)
	if claims == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := makeUpgrader(os.Getenv("ALLOWED_ORIGIN"))
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:    h.hub,
		h:      h,
		conn:   conn,
		send:   make(chan []byte, 256),
		id:     uuid.NewString(),
		userID: claims.UserID,
	}
	h.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// handleRegister binds the connection to an identity and enters presence.
// The payload may carry a user id or an email; the JWT identity from the
// upgrade is the fallback. No further authentication happens here; an
// unresolvable identity still gets a registry entry.
func (h *Handler) handleRegister(c *Client, data json.RawMessage) {
	var d struct {
		Email  string `json:"email"`
		UserID string `json:"user_id"`
	}
	json.Unmarshal(data, &d)

	userID := c.getUserID()
	if d.UserID != "" {
		userID = d.UserID
	} else if d.Email != "" {
		if u, err := h.db.GetUserByEmail(d.Email); err == nil {
			userID = u.ID
		}
	}

	// A re-register under a new identity must release the old one first, or
	// its presence entry would keep a handle to this connection forever.
	if oldID := c.getUserID(); c.isRegistered() && oldID != userID {
		if h.hub.leavePresence(c) {
			h.notifyFriendsOffline(oldID)
		}
	}
	c.setUserID(userID)
	c.markRegistered()

	cameOnline := h.hub.enterPresence(c)
	c.sendEvent(WSEvent{Type: "registered", Data: map[string]string{"user_id": userID, "connection_id": c.id}})

	// Greet online friends in both directions: they learn this user came
	// online, and this connection learns which friends already are.
	friends, err := h.db.GetFriendIDs(userID)
	if err != nil {
		log.Printf("register: friends lookup for %s: %v", userID, err)
	}
	for _, f := range friends {
		if !h.hub.IsOnline(f) {
			continue
		}
		if cameOnline {
			h.hub.SendToUser(f, WSEvent{Type: "friend.online", Data: map[string]string{"user_id": userID}})
		}
		c.sendEvent(WSEvent{Type: "friend.online", Data: map[string]string{"user_id": f}})
	}

	h.deliverBacklog(c)

	if count, err := h.db.UnseenCount(userID); err == nil {
		c.sendEvent(WSEvent{Type: "chat.unseen_count", Data: map[string]int{"count": count}})
	}
}

// deliverBacklog pushes messages that were sent while the user was offline,
// marks them delivered and echoes the status change to each sender.
func (h *Handler) deliverBacklog(c *Client) {
	msgs, err := h.db.UndeliveredMessages(c.userID)
	if err != nil {
		log.Printf("backlog delivery for %s: %v", c.userID, err)
		return
	}
	for i := range msgs {
		m := &msgs[i]
		c.sendEvent(WSEvent{Type: "chat.message", Data: m})
		advanced, err := h.db.MarkDelivered(m.ID)
		if err != nil || !advanced {
			continue
		}
		m.Status = db.StatusDelivered
		h.hub.SendToUser(m.SenderID, WSEvent{Type: "chat.status", Data: map[string]string{
			"message_id": m.ID,
			"chat_id":    m.ChatID,
			"status":     db.StatusDelivered,
		}})
	}
}

// notifyFriendsOffline tells every online friend the user's last connection
// is gone.
func (h *Handler) notifyFriendsOffline(userID string) {
	friends, err := h.db.GetFriendIDs(userID)
	if err != nil {
		log.Printf("offline fan-out: friends lookup for %s: %v", userID, err)
	}
	for _, f := range friends {
		h.hub.SendToUser(f, WSEvent{Type: "friend.offline", Data: map[string]string{"user_id": userID}})
	}
}

// disconnected runs when a socket drops: friends learn about the last
// connection going away, and an occupied game room is notified.
func (h *Handler) disconnected(c *Client, wentOffline bool, roomID string) {
	userID := c.getUserID()
	if wentOffline && c.isRegistered() {
		h.notifyFriendsOffline(userID)
	}
	if roomID != "" {
		h.hub.BroadcastToRoom(roomID, WSEvent{Type: "chess.player_left", Data: map[string]string{
			"room_id": roomID,
			"user_id": userID,
		}}, nil)
	}
}

// Presence returns a snapshot of who is online and with how many devices.
// Used by clients on page load to populate friend lists.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]interface{}{"online": h.hub.OnlineSnapshot()})
}
