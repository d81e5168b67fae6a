package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"soulhub/internal/db"
)

// Soulpoints granted to a target's author the first time someone adds a
// reaction of the given type. Doubled when the target sits in a monetized
// group. Removal never claws points back.
var soulpointTable = map[string]int{
	db.ReactionLike:       1,
	db.ReactionDislike:    0,
	db.ReactionInsightful: 3,
	db.ReactionHeart:      2,
	db.ReactionHug:        2,
	db.ReactionSoul:       5,
}

// Reaction outcomes.
const (
	reactionAdded   = "added"
	reactionRemoved = "removed"
	reactionChanged = "changed"
)

var (
	errInvalidReaction = errors.New("invalid reaction type")
	errInvalidTarget   = errors.New("invalid target type")
	errTargetNotFound  = errors.New("target not found")
	errNotParticipant  = errors.New("not a participant of this chat")
)

type reactionResult struct {
	Action   string `json:"action"`
	Type     string `json:"type"`
	Previous string `json:"previous,omitempty"`
}

// restrictedTarget reports whether the target kind only admits like/dislike.
func restrictedTarget(targetType string) bool {
	return targetType == db.TargetChatMessage || targetType == db.TargetComment
}

// applyReaction runs the add / toggle-off / replace state machine for one
// (user, target) pair. Counter updates are atomic per step; the unique
// constraint on (user, target) keeps concurrent writers from doubling rows.
func (h *Handler) applyReaction(actorID, targetID, targetType, rtype string) (*reactionResult, error) {
	if !db.ValidTargetType(targetType) {
		return nil, errInvalidTarget
	}
	if !db.ValidReactionType(rtype) {
		return nil, errInvalidReaction
	}
	if restrictedTarget(targetType) && rtype != db.ReactionLike && rtype != db.ReactionDislike {
		return nil, errInvalidReaction
	}

	target, err := h.db.ResolveTarget(targetType, targetID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errTargetNotFound
		}
		return nil, err
	}

	// Chat messages are private to their two participants; outsiders may not
	// react regardless of which entry point they came through.
	if targetType == db.TargetChatMessage {
		msg, err := h.db.GetChatMessageByID(targetID)
		if err != nil {
			return nil, errTargetNotFound
		}
		chat, err := h.db.GetChatByID(msg.ChatID)
		if err != nil || !chat.HasParticipant(actorID) {
			return nil, errNotParticipant
		}
	}

	existing, err := h.db.GetReaction(actorID, targetID, targetType)
	if err != nil {
		return nil, err
	}

	hasCounters := targetType != db.TargetChatMessage

	switch {
	case existing == nil:
		if _, err := h.db.InsertReaction(actorID, targetID, targetType, rtype); err != nil {
			return nil, err
		}
		if hasCounters {
			if err := h.db.AdjustReactionCounter(targetID, rtype, 1); err != nil {
				return nil, err
			}
		}
		if actorID != target.AuthorID {
			h.notifyReaction(target, actorID, targetID, targetType, rtype, reactionAdded)
			h.awardReactionPoints(target, rtype)
		}
		return &reactionResult{Action: reactionAdded, Type: rtype}, nil

	case existing.Type == rtype:
		// Same type again toggles the reaction off. Points stay awarded.
		if err := h.db.DeleteReaction(existing.ID); err != nil {
			return nil, err
		}
		if hasCounters {
			if err := h.db.AdjustReactionCounter(targetID, rtype, -1); err != nil {
				return nil, err
			}
		}
		if actorID != target.AuthorID {
			h.notifyReaction(target, actorID, targetID, targetType, rtype, reactionRemoved)
		}
		return &reactionResult{Action: reactionRemoved, Type: rtype}, nil

	default:
		previous := existing.Type
		if err := h.db.UpdateReactionType(existing.ID, rtype, actorID); err != nil {
			return nil, err
		}
		if hasCounters {
			if err := h.db.AdjustReactionCounter(targetID, previous, -1); err != nil {
				return nil, err
			}
			if err := h.db.AdjustReactionCounter(targetID, rtype, 1); err != nil {
				return nil, err
			}
		}
		if actorID != target.AuthorID {
			h.notifyReaction(target, actorID, targetID, targetType, rtype, reactionChanged)
		}
		return &reactionResult{Action: reactionChanged, Type: rtype, Previous: previous}, nil
	}
}

// notifyReaction tells the target's author what happened. Best-effort: a
// failed dispatch never fails the reaction itself.
func (h *Handler) notifyReaction(target *db.TargetInfo, actorID, targetID, targetType, rtype, action string) {
	meta, _ := json.Marshal(map[string]string{
		"target_id":   targetID,
		"target_type": targetType,
		"reaction":    rtype,
		"action":      action,
	})
	msg := "Someone reacted to your " + targetType
	if action == reactionRemoved {
		msg = "A reaction on your " + targetType + " was removed"
	}
	h.dispatchNotification(target.AuthorID, &actorID, nil, msg, "reaction", string(meta))
}

// awardReactionPoints grants first-time-add soulpoints. Best-effort.
func (h *Handler) awardReactionPoints(target *db.TargetInfo, rtype string) {
	points := soulpointTable[rtype]
	if points == 0 {
		return
	}
	if target.Monetized {
		points *= 2
	}
	if err := h.db.AwardSoulpoints(target.AuthorID, points); err != nil {
		// Logged by the storage layer caller side; the reaction already
		// succeeded, so swallow.
		return
	}
}

// --- WS: chat-message reactions ---

func (h *Handler) handleChatReaction(c *Client, data json.RawMessage) {
	var d struct {
		MessageID string `json:"message_id"`
		Type      string `json:"type"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.MessageID == "" {
		c.sendError("reaction.error", "message_id required")
		return
	}

	msg, err := h.db.GetChatMessageByID(d.MessageID)
	if err != nil {
		c.sendError("reaction.error", "message not found")
		return
	}
	chat, err := h.db.GetChatByID(msg.ChatID)
	if err != nil || !chat.HasParticipant(c.userID) {
		c.sendError("reaction.error", "not a participant of this chat")
		return
	}

	if _, err := h.applyReaction(c.userID, msg.ID, db.TargetChatMessage, d.Type); err != nil {
		c.sendError("reaction.error", err.Error())
		return
	}

	reactions, _ := h.db.ReactionMap(msg.ID, db.TargetChatMessage)
	evt := WSEvent{Type: "chat.reaction", Data: map[string]interface{}{
		"message_id": msg.ID,
		"chat_id":    msg.ChatID,
		"reactions":  reactions,
	}}
	h.hub.SendToUser(chat.UserA, evt)
	h.hub.SendToUser(chat.UserB, evt)
}

// --- HTTP: content reactions ---

func (h *Handler) React(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		TargetID   string `json:"target_id"`
		TargetType string `json:"target_type"`
		Type       string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetID == "" {
		errResp(w, http.StatusBadRequest, "target_id required")
		return
	}

	result, err := h.applyReaction(u.ID, req.TargetID, req.TargetType, req.Type)
	switch {
	case err == errInvalidReaction || err == errInvalidTarget:
		errResp(w, http.StatusBadRequest, err.Error())
		return
	case err == errTargetNotFound:
		errResp(w, http.StatusNotFound, "target not found")
		return
	case err == errNotParticipant:
		errResp(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		errResp(w, http.StatusInternalServerError, "failed to apply reaction")
		return
	}

	resp := map[string]interface{}{"result": result}
	if req.TargetType == db.TargetChatMessage {
		reactions, _ := h.db.ReactionMap(req.TargetID, req.TargetType)
		resp["reactions"] = reactions
	} else if content, err := h.db.GetContentByID(req.TargetID); err == nil {
		resp["counters"] = content.Counters
	}
	ok(w, resp)
}

// CreateContent registers a reactable target. The full content CRUD lives
// outside this service; this is the minimal surface the reaction core and
// its tests need.
func (h *Handler) CreateContent(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Kind        string `json:"kind"`
		Title       string `json:"title"`
		GroupID     string `json:"group_id"`
		IsMonetized bool   `json:"is_monetized"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !db.ValidTargetType(req.Kind) || req.Kind == db.TargetChatMessage {
		errResp(w, http.StatusBadRequest, "invalid content kind")
		return
	}

	content, err := h.db.CreateContent(req.Kind, u.ID, req.Title, req.GroupID, req.IsMonetized)
	if err != nil {
		errResp(w, http.StatusInternalServerError, "failed to create content")
		return
	}
	created(w, content)
}
