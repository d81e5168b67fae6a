package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"soulhub/internal/db"
)

// dispatchNotification persists the notification first, then pushes the
// stored row to every live connection of the recipient. Persistence failure
// is logged and ends the dispatch; nothing is pushed that was not stored.
// An offline recipient keeps the row as the durable record to pull later.
func (h *Handler) dispatchNotification(recipientID string, actorID, threadID *string, message, ntype, metadata string) {
	n, err := h.db.CreateNotification(recipientID, actorID, threadID, message, ntype, metadata)
	if err != nil {
		log.Printf("notification persist for %s: %v", recipientID, err)
		return
	}
	h.hub.SendToUser(recipientID, WSEvent{Type: "notification", Data: n})
}

// --- HTTP (pull path) ---

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}

	list, err := h.db.ListNotifications(u.ID, limit)
	if err != nil {
		errResp(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if list == nil {
		list = []db.Notification{}
	}
	ok(w, map[string]interface{}{
		"notifications": list,
		"unread":        h.db.UnreadNotificationCount(u.ID),
	})
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.db.MarkNotificationRead(id, u.ID); err != nil {
		errResp(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	ok(w, map[string]string{"message": "read"})
}

func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.db.MarkAllNotificationsRead(u.ID); err != nil {
		errResp(w, http.StatusInternalServerError, "failed to mark all read")
		return
	}
	ok(w, map[string]string{"message": "read"})
}

func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.db.DeleteNotification(id, u.ID); err != nil {
		errResp(w, http.StatusInternalServerError, "failed to delete notification")
		return
	}
	ok(w, map[string]string{"message": "deleted"})
}
