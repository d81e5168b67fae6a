package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"soulhub/internal/db"
)

// chamberRole resolves the actor's standing in a chamber. The creator is
// implicitly privileged and holds no membership row.
func (h *Handler) chamberRole(chamber *db.Chamber, userID string) (isCreator, isModerator, isMember bool) {
	if chamber.CreatorID == userID {
		return true, false, true
	}
	m, err := h.db.GetChamberMember(chamber.ID, userID)
	if err != nil || m == nil {
		return false, false, false
	}
	return false, m.IsModerator, true
}

// notifyChamberMembers fans an event out to every member's connection set
// plus the creator. Chamber broadcast is a membership lookup on top of the
// per-user routing.
func (h *Handler) notifyChamberMembers(chamber *db.Chamber, evt WSEvent, excludeUserID string) {
	ids, err := h.db.ListChamberMemberIDs(chamber.ID)
	if err != nil {
		return
	}
	ids = append(ids, chamber.CreatorID)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == excludeUserID || seen[id] {
			continue
		}
		seen[id] = true
		h.hub.SendToUser(id, evt)
	}
}

// --- HTTP: chamber lifecycle ---

func (h *Handler) CreateChamber(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		IsPublic    *bool  `json:"is_public"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp(w, http.StatusBadRequest, "invalid request")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		errResp(w, http.StatusBadRequest, "name required")
		return
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	chamber, err := h.db.CreateChamber(req.Name, req.Description, isPublic, u.ID)
	if err != nil {
		errResp(w, http.StatusInternalServerError, "failed to create chamber")
		return
	}
	created(w, chamber)
}

func (h *Handler) ListChambers(w http.ResponseWriter, r *http.Request) {
	chambers, err := h.db.ListChambers()
	if err != nil {
		errResp(w, http.StatusInternalServerError, "failed to list chambers")
		return
	}
	if chambers == nil {
		chambers = []db.Chamber{}
	}
	ok(w, chambers)
}

func (h *Handler) GetChamber(w http.ResponseWriter, r *http.Request) {
	chamber, err := h.db.GetChamberByID(chi.URLParam(r, "id"))
	if err != nil {
		errResp(w, http.StatusNotFound, "chamber not found")
		return
	}
	ok(w, chamber)
}

// JoinChamber implements the three-way join workflow: public chambers admit
// directly, private chambers admit with a valid invite code, and otherwise a
// pending join request is stored for asynchronous approval.
func (h *Handler) JoinChamber(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	chamber, err := h.db.GetChamberByID(chi.URLParam(r, "id"))
	if err != nil {
		errResp(w, http.StatusNotFound, "chamber not found")
		return
	}
	if chamber.CreatorID == u.ID {
		errResp(w, http.StatusBadRequest, "creator is implicitly a member")
		return
	}

	var req struct {
		InviteCode string `json:"invite_code"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	if !chamber.IsPublic && !h.db.IsChamberInviteValid(chamber, req.InviteCode) {
		request, err := h.db.CreateJoinRequest(chamber.ID, u.ID)
		if err != nil {
			errResp(w, http.StatusInternalServerError, "failed to create join request")
			return
		}
		meta, _ := json.Marshal(map[string]string{"chamber_id": chamber.ID, "request_id": request.ID})
		h.dispatchNotification(chamber.CreatorID, &u.ID, nil, u.Username+" requested to join "+chamber.Name, "chamber_join_request", string(meta))
		ok(w, map[string]interface{}{"status": "pending", "request": request})
		return
	}

	if err := h.db.AddChamberMember(chamber.ID, u.ID); err != nil {
		errResp(w, http.StatusInternalServerError, "failed to join chamber")
		return
	}
	h.notifyChamberMembers(chamber, WSEvent{Type: "chamber.member_joined", Data: map[string]string{
		"chamber_id": chamber.ID,
		"user_id":    u.ID,
	}}, "")
	ok(w, map[string]string{"status": "joined"})
}

func (h *Handler) LeaveChamber(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	chamber, err := h.db.GetChamberByID(chi.URLParam(r, "id"))
	if err != nil {
		errResp(w, http.StatusNotFound, "chamber not found")
		return
	}
	if chamber.CreatorID == u.ID {
		errResp(w, http.StatusBadRequest, "creator cannot leave; delete the chamber instead")
		return
	}

	if err := h.db.RemoveChamberMember(chamber.ID, u.ID); err != nil {
		errResp(w, http.StatusInternalServerError, "failed to leave chamber")
		return
	}
	h.notifyChamberMembers(chamber, WSEvent{Type: "chamber.member_left", Data: map[string]string{
		"chamber_id": chamber.ID,
		"user_id":    u.ID,
	}}, "")
	ok(w, map[string]string{"status": "left"})
}

// --- HTTP: join request approval ---

func (h *Handler) ListJoinRequests(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	chamber, err := h.db.GetChamberByID(chi.URLParam(r, "id"))
	if err != nil {
		errResp(w, http.StatusNotFound, "chamber not found")
		return
	}
	isCreator, isModerator, _ := h.chamberRole(chamber, u.ID)
	if !isCreator && !isModerator {
		errResp(w, http.StatusForbidden, "moderator or creator required")
		return
	}

	reqs, err := h.db.ListPendingJoinRequests(chamber.ID)
	if err != nil {
		errResp(w, http.StatusInternalServerError, "failed to list requests")
		return
	}
	if reqs == nil {
		reqs = []db.ChamberJoinRequest{}
	}
	ok(w, reqs)
}

func (h *Handler) ResolveJoinRequest(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	chamber, err := h.db.GetChamberByID(chi.URLParam(r, "id"))
	if err != nil {
		errResp(w, http.StatusNotFound, "chamber not found")
		return
	}
	isCreator, isModerator, _ := h.chamberRole(chamber, u.ID)
	if !isCreator && !isModerator {
		errResp(w, http.StatusForbidden, "moderator or creator required")
		return
	}

	request, err := h.db.GetJoinRequest(chi.URLParam(r, "requestId"))
	if err != nil || request.ChamberID != chamber.ID {
		errResp(w, http.StatusNotFound, "request not found")
		return
	}
	if request.Status != "pending" {
		errResp(w, http.StatusBadRequest, "request already resolved")
		return
	}

	var req struct {
		Approve bool `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp(w, http.StatusBadRequest, "invalid request")
		return
	}

	if !req.Approve {
		h.db.ResolveJoinRequest(request.ID, "rejected")
		h.dispatchNotification(request.UserID, &u.ID, nil, "Your request to join "+chamber.Name+" was declined", "chamber_join_rejected", "{}")
		ok(w, map[string]string{"status": "rejected"})
		return
	}

	if err := h.db.ResolveJoinRequest(request.ID, "approved"); err != nil {
		errResp(w, http.StatusInternalServerError, "failed to resolve request")
		return
	}
	if err := h.db.AddChamberMember(chamber.ID, request.UserID); err != nil {
		errResp(w, http.StatusInternalServerError, "failed to add member")
		return
	}
	h.dispatchNotification(request.UserID, &u.ID, nil, "You joined "+chamber.Name, "chamber_join_approved", "{}")
	h.notifyChamberMembers(chamber, WSEvent{Type: "chamber.member_joined", Data: map[string]string{
		"chamber_id": chamber.ID,
		"user_id":    request.UserID,
	}}, "")
	ok(w, map[string]string{"status": "approved"})
}

// --- HTTP: membership management ---

func (h *Handler) AddChamberMembers(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	chamber, err := h.db.GetChamberByID(chi.URLParam(r, "id"))
	if err != nil {
		errResp(w, http.StatusNotFound, "chamber not found")
		return
	}
	isCreator, isModerator, _ := h.chamberRole(chamber, u.ID)
	if !isCreator && !isModerator {
		errResp(w, http.StatusForbidden, "moderator or creator required")
		return
	}

	var req struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.UserIDs) == 0 {
		errResp(w, http.StatusBadRequest, "user_ids required")
		return
	}

	for _, id := range req.UserIDs {
		if id == chamber.CreatorID {
			continue
		}
		if err := h.db.AddChamberMember(chamber.ID, id); err != nil {
			continue
		}
		meta, _ := json.Marshal(map[string]string{"chamber_id": chamber.ID})
		h.dispatchNotification(id, &u.ID, nil, "You were added to "+chamber.Name, "chamber_added", string(meta))
		h.notifyChamberMembers(chamber, WSEvent{Type: "chamber.member_joined", Data: map[string]string{
			"chamber_id": chamber.ID,
			"user_id":    id,
		}}, "")
	}
	ok(w, map[string]string{"status": "added"})
}

func (h *Handler) RemoveChamberMemberHTTP(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	chamber, err := h.db.GetChamberByID(chi.URLParam(r, "id"))
	if err != nil {
		errResp(w, http.StatusNotFound, "chamber not found")
		return
	}
	isCreator, isModerator, _ := h.chamberRole(chamber, u.ID)
	if !isCreator && !isModerator {
		errResp(w, http.StatusForbidden, "moderator or creator required")
		return
	}

	target := chi.URLParam(r, "userId")
	if target == chamber.CreatorID {
		errResp(w, http.StatusBadRequest, "cannot remove the creator")
		return
	}

	if err := h.db.RemoveChamberMember(chamber.ID, target); err != nil {
		errResp(w, http.StatusInternalServerError, "failed to remove member")
		return
	}
	h.hub.SendToUser(target, WSEvent{Type: "chamber.removed", Data: map[string]string{"chamber_id": chamber.ID}})
	h.notifyChamberMembers(chamber, WSEvent{Type: "chamber.member_left", Data: map[string]string{
		"chamber_id": chamber.ID,
		"user_id":    target,
	}}, "")
	ok(w, map[string]string{"status": "removed"})
}

// PromoteModerator grants moderator standing. Creator only.
func (h *Handler) PromoteModerator(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	chamber, err := h.db.GetChamberByID(chi.URLParam(r, "id"))
	if err != nil {
		errResp(w, http.StatusNotFound, "chamber not found")
		return
	}
	if chamber.CreatorID != u.ID {
		errResp(w, http.StatusForbidden, "creator required")
		return
	}

	target := chi.URLParam(r, "userId")
	m, err := h.db.GetChamberMember(chamber.ID, target)
	if err != nil || m == nil {
		errResp(w, http.StatusNotFound, "not a member")
		return
	}

	if err := h.db.SetChamberModerator(chamber.ID, target, true); err != nil {
		errResp(w, http.StatusInternalServerError, "failed to promote")
		return
	}
	meta, _ := json.Marshal(map[string]string{"chamber_id": chamber.ID})
	h.dispatchNotification(target, &u.ID, nil, "You are now a moderator of "+chamber.Name, "chamber_promoted", string(meta))
	h.notifyChamberMembers(chamber, WSEvent{Type: "chamber.moderator_added", Data: map[string]string{
		"chamber_id": chamber.ID,
		"user_id":    target,
	}}, "")
	ok(w, map[string]string{"status": "promoted"})
}

// --- HTTP: chamber settings ---

func (h *Handler) UpdateChamber(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	chamber, err := h.db.GetChamberByID(chi.URLParam(r, "id"))
	if err != nil {
		errResp(w, http.StatusNotFound, "chamber not found")
		return
	}
	isCreator, isModerator, _ := h.chamberRole(chamber, u.ID)
	if !isCreator && !isModerator {
		errResp(w, http.StatusForbidden, "moderator or creator required")
		return
	}

	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Avatar      *string `json:"avatar"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp(w, http.StatusBadRequest, "invalid request")
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			errResp(w, http.StatusBadRequest, "name cannot be empty")
			return
		}
		if err := h.db.UpdateChamberName(chamber.ID, name); err != nil {
			errResp(w, http.StatusInternalServerError, "failed to update name")
			return
		}
	}
	if req.Description != nil {
		if err := h.db.UpdateChamberDescription(chamber.ID, *req.Description); err != nil {
			errResp(w, http.StatusInternalServerError, "failed to update description")
			return
		}
	}
	if req.Avatar != nil {
		if err := h.db.UpdateChamberAvatar(chamber.ID, *req.Avatar); err != nil {
			errResp(w, http.StatusInternalServerError, "failed to update avatar")
			return
		}
	}

	updated, _ := h.db.GetChamberByID(chamber.ID)
	h.notifyChamberMembers(chamber, WSEvent{Type: "chamber.updated", Data: updated}, "")
	ok(w, updated)
}

// DeleteChamber removes the room entirely. Creator only.
func (h *Handler) DeleteChamber(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	chamber, err := h.db.GetChamberByID(chi.URLParam(r, "id"))
	if err != nil {
		errResp(w, http.StatusNotFound, "chamber not found")
		return
	}
	if chamber.CreatorID != u.ID {
		errResp(w, http.StatusForbidden, "creator required")
		return
	}

	// Notify before the membership rows cascade away.
	h.notifyChamberMembers(chamber, WSEvent{Type: "chamber.deleted", Data: map[string]string{"chamber_id": chamber.ID}}, "")

	if err := h.db.DeleteChamber(chamber.ID); err != nil {
		errResp(w, http.StatusInternalServerError, "failed to delete chamber")
		return
	}
	ok(w, map[string]string{"status": "deleted"})
}

func (h *Handler) GetChamberMessages(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	chamber, err := h.db.GetChamberByID(chi.URLParam(r, "id"))
	if err != nil {
		errResp(w, http.StatusNotFound, "chamber not found")
		return
	}
	if _, _, isMember := h.chamberRole(chamber, u.ID); !isMember {
		errResp(w, http.StatusForbidden, "not a chamber member")
		return
	}

	msgs, err := h.db.ListChamberMessages(chamber.ID, 100)
	if err != nil {
		errResp(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if msgs == nil {
		msgs = []db.ChamberMessage{}
	}
	ok(w, msgs)
}

// --- WS: chamber messaging ---

func (h *Handler) handleChamberSend(c *Client, data json.RawMessage) {
	var d struct {
		ChamberID string  `json:"chamber_id"`
		Content   string  `json:"content"`
		Media     string  `json:"media"`
		ReplyToID *string `json:"reply_to_id"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.ChamberID == "" {
		c.sendError("chamber.error", "chamber_id required")
		return
	}

	d.Content = strings.TrimSpace(d.Content)
	if d.Content == "" && d.Media == "" {
		c.sendError("chamber.error", "message requires text or media")
		return
	}

	chamber, err := h.db.GetChamberByID(d.ChamberID)
	if err != nil {
		c.sendError("chamber.error", "chamber not found")
		return
	}
	if _, _, isMember := h.chamberRole(chamber, c.userID); !isMember {
		c.sendError("chamber.error", "not a chamber member")
		return
	}

	if d.ReplyToID != nil {
		parent, err := h.db.GetChamberMessageByID(*d.ReplyToID)
		if err != nil || parent.ChamberID != chamber.ID {
			c.sendError("chamber.error", "replied message not found in this chamber")
			return
		}
	}

	msg, err := h.db.CreateChamberMessage(chamber.ID, c.userID, d.Content, d.Media, d.ReplyToID)
	if err != nil {
		c.sendError("chamber.error", "failed to send message")
		return
	}
	h.notifyChamberMembers(chamber, WSEvent{Type: "chamber.message", Data: msg}, "")
}

func (h *Handler) handleChamberEdit(c *Client, data json.RawMessage) {
	var d struct {
		MessageID string `json:"message_id"`
		Content   string `json:"content"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		c.sendError("chamber.error", "invalid payload")
		return
	}
	d.Content = strings.TrimSpace(d.Content)
	if d.Content == "" {
		c.sendError("chamber.error", "content cannot be empty")
		return
	}

	msg, err := h.db.GetChamberMessageByID(d.MessageID)
	if err != nil {
		c.sendError("chamber.error", "message not found")
		return
	}
	chamber, err := h.db.GetChamberByID(msg.ChamberID)
	if err != nil {
		c.sendError("chamber.error", "chamber not found")
		return
	}
	isCreator, isModerator, _ := h.chamberRole(chamber, c.userID)
	if msg.SenderID != c.userID && !isCreator && !isModerator {
		c.sendError("chamber.error", "cannot edit this message")
		return
	}

	if err := h.db.EditChamberMessage(msg.ID, d.Content); err != nil {
		c.sendError("chamber.error", "failed to edit message")
		return
	}
	updated, _ := h.db.GetChamberMessageByID(msg.ID)
	h.notifyChamberMembers(chamber, WSEvent{Type: "chamber.message_edited", Data: updated}, "")
}

func (h *Handler) handleChamberDeleteMessage(c *Client, data json.RawMessage) {
	var d struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.MessageID == "" {
		c.sendError("chamber.error", "message_id required")
		return
	}

	msg, err := h.db.GetChamberMessageByID(d.MessageID)
	if err != nil {
		c.sendError("chamber.error", "message not found")
		return
	}
	chamber, err := h.db.GetChamberByID(msg.ChamberID)
	if err != nil {
		c.sendError("chamber.error", "chamber not found")
		return
	}
	isCreator, isModerator, _ := h.chamberRole(chamber, c.userID)
	if msg.SenderID != c.userID && !isCreator && !isModerator {
		c.sendError("chamber.error", "cannot delete this message")
		return
	}

	if err := h.db.SoftDeleteChamberMessage(msg.ID); err != nil {
		c.sendError("chamber.error", "failed to delete message")
		return
	}
	h.notifyChamberMembers(chamber, WSEvent{Type: "chamber.message_deleted", Data: map[string]string{
		"message_id": msg.ID,
		"chamber_id": chamber.ID,
	}}, "")
}

// handleChamberTyping relays typing indicators to the other members.
// Fire-and-forget.
func (h *Handler) handleChamberTyping(c *Client, eventType string, data json.RawMessage) {
	var d struct {
		ChamberID string `json:"chamber_id"`
	}
	if json.Unmarshal(data, &d) != nil || d.ChamberID == "" {
		return
	}
	chamber, err := h.db.GetChamberByID(d.ChamberID)
	if err != nil {
		return
	}
	if _, _, isMember := h.chamberRole(chamber, c.userID); !isMember {
		return
	}
	h.notifyChamberMembers(chamber, WSEvent{Type: eventType, Data: map[string]string{
		"chamber_id": chamber.ID,
		"user_id":    c.userID,
	}}, c.userID)
}
