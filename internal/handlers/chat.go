package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"soulhub/internal/db"
)

// --- WS: message lifecycle (sent → delivered → seen) ---

func (h *Handler) handleChatSend(c *Client, data json.RawMessage) {
	var d struct {
		ChatID      string  `json:"chat_id"`
		RecipientID string  `json:"recipient_id"`
		Content     string  `json:"content"`
		Media       string  `json:"media"`
		ReplyToID   *string `json:"reply_to_id"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		c.sendError("chat.error", "invalid payload")
		return
	}

	d.Content = strings.TrimSpace(d.Content)
	if d.Content == "" && d.Media == "" {
		c.sendError("chat.error", "message requires text or media")
		return
	}

	var chat *db.Chat
	var err error
	if d.ChatID != "" {
		chat, err = h.db.GetChatByID(d.ChatID)
		if err != nil {
			c.sendError("chat.error", "chat not found")
			return
		}
	} else if d.RecipientID != "" {
		chat, err = h.db.GetOrCreateChat(c.userID, d.RecipientID)
		if err != nil {
			c.sendError("chat.error", "failed to open chat")
			return
		}
	} else {
		c.sendError("chat.error", "chat_id or recipient_id required")
		return
	}
	if !chat.HasParticipant(c.userID) {
		c.sendError("chat.error", "not a participant of this chat")
		return
	}

	if d.ReplyToID != nil {
		parent, err := h.db.GetChatMessageByID(*d.ReplyToID)
		if err != nil || parent.ChatID != chat.ID {
			c.sendError("chat.error", "replied message not found in this chat")
			return
		}
	}

	msg, err := h.db.CreateChatMessage(chat.ID, c.userID, d.Content, d.Media, d.ReplyToID)
	if err != nil {
		c.sendError("chat.error", "failed to send message")
		return
	}

	recipient := chat.Other(c.userID)
	c.sendEvent(WSEvent{Type: "chat.sent", Data: msg})

	if h.hub.IsOnline(recipient) {
		h.hub.SendToUser(recipient, WSEvent{Type: "chat.message", Data: msg})
		h.pushUnseenCount(recipient)
	} else {
		// Offline recipient: the message row is the durable record; leave a
		// notification for the pull path as well.
		meta, _ := json.Marshal(map[string]string{"chat_id": chat.ID, "message_id": msg.ID})
		h.dispatchNotification(recipient, &c.userID, nil, "New message", "chat_message", string(meta))
	}
}

func (h *Handler) handleChatDelivered(c *Client, data json.RawMessage) {
	var d struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.MessageID == "" {
		c.sendError("chat.error", "message_id required")
		return
	}

	msg, err := h.db.GetChatMessageByID(d.MessageID)
	if err != nil {
		c.sendError("chat.error", "message not found")
		return
	}
	if msg.SenderID == c.userID {
		c.sendError("chat.error", "cannot acknowledge own message")
		return
	}

	advanced, err := h.db.MarkDelivered(d.MessageID)
	if err != nil {
		c.sendError("chat.error", "failed to update status")
		return
	}
	if !advanced {
		// Already delivered or seen; transitions never move backward.
		return
	}
	h.hub.SendToUser(msg.SenderID, WSEvent{Type: "chat.status", Data: map[string]string{
		"message_id": msg.ID,
		"chat_id":    msg.ChatID,
		"status":     db.StatusDelivered,
	}})
}

func (h *Handler) handleChatSeen(c *Client, data json.RawMessage) {
	var d struct {
		MessageID string `json:"message_id"`
		ChatID    string `json:"chat_id"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		c.sendError("chat.error", "invalid payload")
		return
	}

	// Whole-chat form: mark everything the reader received as seen.
	if d.MessageID == "" && d.ChatID != "" {
		chat, err := h.db.GetChatByID(d.ChatID)
		if err != nil || !chat.HasParticipant(c.userID) {
			c.sendError("chat.error", "chat not found")
			return
		}
		if err := h.db.MarkChatSeen(chat.ID, c.userID); err != nil {
			c.sendError("chat.error", "failed to update status")
			return
		}
		h.hub.SendToUser(chat.Other(c.userID), WSEvent{Type: "chat.seen", Data: map[string]string{"chat_id": chat.ID}})
		h.pushUnseenCount(c.userID)
		h.pushUnseenCount(chat.Other(c.userID))
		return
	}

	msg, err := h.db.GetChatMessageByID(d.MessageID)
	if err != nil {
		c.sendError("chat.error", "message not found")
		return
	}
	if msg.SenderID == c.userID {
		c.sendError("chat.error", "cannot acknowledge own message")
		return
	}

	advanced, err := h.db.MarkSeen(d.MessageID)
	if err != nil {
		c.sendError("chat.error", "failed to update status")
		return
	}
	if !advanced {
		return
	}
	h.hub.SendToUser(msg.SenderID, WSEvent{Type: "chat.status", Data: map[string]string{
		"message_id": msg.ID,
		"chat_id":    msg.ChatID,
		"status":     db.StatusSeen,
	}})
	h.pushUnseenCount(c.userID)
	h.pushUnseenCount(msg.SenderID)
}

func (h *Handler) handleChatEdit(c *Client, data json.RawMessage) {
	var d struct {
		MessageID string `json:"message_id"`
		Content   string `json:"content"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		c.sendError("chat.error", "invalid payload")
		return
	}
	d.Content = strings.TrimSpace(d.Content)
	if d.Content == "" {
		c.sendError("chat.error", "content cannot be empty")
		return
	}

	msg, err := h.db.GetChatMessageByID(d.MessageID)
	if err != nil {
		c.sendError("chat.error", "message not found")
		return
	}
	if msg.SenderID != c.userID {
		c.sendError("chat.error", "cannot edit this message")
		return
	}

	if err := h.db.EditChatMessage(msg.ID, d.Content); err != nil {
		c.sendError("chat.error", "failed to edit message")
		return
	}

	updated, _ := h.db.GetChatMessageByID(msg.ID)
	h.notifyChatParticipants(msg.ChatID, WSEvent{Type: "chat.edited", Data: updated})
}

func (h *Handler) handleChatDelete(c *Client, data json.RawMessage) {
	var d struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.MessageID == "" {
		c.sendError("chat.error", "message_id required")
		return
	}

	msg, err := h.db.GetChatMessageByID(d.MessageID)
	if err != nil {
		c.sendError("chat.error", "message not found")
		return
	}
	if msg.SenderID != c.userID {
		c.sendError("chat.error", "cannot delete this message")
		return
	}

	if err := h.db.SoftDeleteChatMessage(msg.ID); err != nil {
		c.sendError("chat.error", "failed to delete message")
		return
	}
	h.notifyChatParticipants(msg.ChatID, WSEvent{Type: "chat.deleted", Data: map[string]string{
		"message_id": msg.ID,
		"chat_id":    msg.ChatID,
	}})
}

// handleChatTyping forwards typing indicators to the other participant.
// Fire-and-forget: invalid payloads are ignored.
func (h *Handler) handleChatTyping(c *Client, eventType string, data json.RawMessage) {
	var d struct {
		ChatID string `json:"chat_id"`
	}
	if json.Unmarshal(data, &d) != nil || d.ChatID == "" {
		return
	}
	chat, err := h.db.GetChatByID(d.ChatID)
	if err != nil || !chat.HasParticipant(c.userID) {
		return
	}
	h.hub.SendToUser(chat.Other(c.userID), WSEvent{Type: eventType, Data: map[string]string{
		"chat_id": chat.ID,
		"user_id": c.userID,
	}})
}

func (h *Handler) notifyChatParticipants(chatID string, evt WSEvent) {
	chat, err := h.db.GetChatByID(chatID)
	if err != nil {
		return
	}
	h.hub.SendToUser(chat.UserA, evt)
	h.hub.SendToUser(chat.UserB, evt)
}

func (h *Handler) pushUnseenCount(userID string) {
	count, err := h.db.UnseenCount(userID)
	if err != nil {
		return
	}
	h.hub.SendToUser(userID, WSEvent{Type: "chat.unseen_count", Data: map[string]int{"count": count}})
}

// --- HTTP ---

func (h *Handler) StartChat(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		errResp(w, http.StatusBadRequest, "user_id required")
		return
	}
	if _, err := h.db.GetUserByID(req.UserID); err != nil {
		errResp(w, http.StatusNotFound, "user not found")
		return
	}

	chat, err := h.db.GetOrCreateChat(u.ID, req.UserID)
	if err != nil {
		errResp(w, http.StatusInternalServerError, "failed to open chat")
		return
	}
	created(w, chat)
}

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	chats, err := h.db.ListChats(u.ID)
	if err != nil {
		errResp(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	if chats == nil {
		chats = []db.Chat{}
	}
	ok(w, chats)
}

func (h *Handler) GetChatMessages(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	chatID := chi.URLParam(r, "id")
	chat, err := h.db.GetChatByID(chatID)
	if err != nil {
		errResp(w, http.StatusNotFound, "chat not found")
		return
	}
	if !chat.HasParticipant(u.ID) {
		errResp(w, http.StatusForbidden, "not a participant of this chat")
		return
	}

	before := r.URL.Query().Get("before")
	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}

	msgs, err := h.db.ListChatMessages(chatID, before, limit)
	if err != nil {
		errResp(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if msgs == nil {
		msgs = []db.ChatMessage{}
	}
	ok(w, msgs)
}
