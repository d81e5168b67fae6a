package handlers

import (
	"database/sql"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"soulhub/internal/db"
)

// handleChessInvite creates a game room and a pending invitation for it.
// A public invitation leaves the second seat open to anyone; a private one
// is addressed to a specific invitee.
func (h *Handler) handleChessInvite(c *Client, data json.RawMessage) {
	var d struct {
		InviteeID string `json:"invitee_id"`
		RoomID    string `json:"room_id"`
		IsPublic  bool   `json:"is_public"`
		IsAIGame  bool   `json:"is_ai_game"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		c.sendError("chess.error", "invalid payload")
		return
	}
	if !d.IsPublic && d.InviteeID == "" {
		c.sendError("chess.error", "invitee_id required for a private invitation")
		return
	}

	roomID := d.RoomID
	if roomID == "" {
		roomID = uuid.NewString()
	}
	room, err := h.db.GetGameRoom(roomID)
	if err == sql.ErrNoRows {
		room, err = h.db.CreateGameRoom(roomID, d.IsAIGame)
	}
	if err != nil {
		c.sendError("chess.error", "failed to create game room")
		return
	}
	if room.GameStatus == db.GameFinished {
		c.sendError("chess.error", "game already finished")
		return
	}

	inv, err := h.db.CreateChessInvitation(c.userID, d.InviteeID, room.RoomID, d.IsPublic)
	if err != nil {
		c.sendError("chess.error", "failed to create invitation")
		return
	}

	c.sendEvent(WSEvent{Type: "chess.invite", Data: map[string]interface{}{
		"invitation": inv,
		"room":       room,
	}})

	if d.InviteeID != "" && d.InviteeID != c.userID {
		h.hub.SendToUser(d.InviteeID, WSEvent{Type: "chess.invite", Data: map[string]interface{}{
			"invitation": inv,
			"room":       room,
		}})
		meta, _ := json.Marshal(map[string]string{"room_id": room.RoomID, "invitation_id": inv.ID})
		h.dispatchNotification(d.InviteeID, &c.userID, nil, "You have been challenged to a chess game", "chess_invite", string(meta))
	}
}

// handleChessJoin seats a player in a room, resolving in priority order: a
// pending public invitation, a pending private invitation addressed to the
// joiner, then any free seat of a waiting room. The game activates once both
// seats are filled.
func (h *Handler) handleChessJoin(c *Client, data json.RawMessage) {
	var d struct {
		RoomID string `json:"room_id"`
		Color  string `json:"color"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.RoomID == "" {
		c.sendError("chess.error", "room_id required")
		return
	}

	room, err := h.db.GetGameRoom(d.RoomID)
	if err != nil {
		c.sendError("chess.error", "game room not found")
		return
	}
	if room.GameStatus == db.GameFinished {
		c.sendError("chess.error", "game already finished")
		return
	}

	if room.HasPlayer(c.userID) {
		// Reconnect into an occupied seat.
		h.hub.joinRoom(room.RoomID, c)
		c.sendEvent(WSEvent{Type: "chess.game_state", Data: room})
		return
	}

	inv, err := h.db.GetPendingInvitationForRoom(room.RoomID)
	if err != nil {
		c.sendError("chess.error", "failed to resolve invitation")
		return
	}

	switch {
	case inv != nil && inv.IsPublic && inv.InviterID == c.userID:
		// Inviter arriving at their own open invitation: take a seat and wait.
		if err := h.seatJoiner(room, c.userID, d.Color); err != nil {
			c.sendError("chess.error", "failed to join room")
			return
		}
		h.hub.joinRoom(room.RoomID, c)
		room, _ = h.db.GetGameRoom(room.RoomID)
		c.sendEvent(WSEvent{Type: "chess.game_state", Data: room})
		return

	case inv != nil && inv.IsPublic:
		// A distinct joiner accepts the open invitation and starts the game.
		if err := h.db.SetInvitationStatus(inv.ID, db.InviteAccepted); err != nil {
			c.sendError("chess.error", "failed to accept invitation")
			return
		}

	case inv != nil && !inv.IsPublic && inv.InviteeID == c.userID:
		if err := h.db.SetInvitationStatus(inv.ID, db.InviteAccepted); err != nil {
			c.sendError("chess.error", "failed to accept invitation")
			return
		}

	case inv != nil && !inv.IsPublic:
		c.sendError("chess.error", "this room is invite-only")
		return
	}

	if room.PlayerCount() >= 2 {
		c.sendError("chess.error", "room is full")
		return
	}

	if err := h.seatJoiner(room, c.userID, d.Color); err != nil {
		c.sendError("chess.error", "failed to join room")
		return
	}
	h.hub.joinRoom(room.RoomID, c)

	room, err = h.db.GetGameRoom(room.RoomID)
	if err != nil {
		c.sendError("chess.error", "failed to load room")
		return
	}
	h.hub.BroadcastToRoom(room.RoomID, WSEvent{Type: "chess.game_joined", Data: map[string]interface{}{
		"room":    room,
		"user_id": c.userID,
	}}, nil)

	if room.PlayerCount() == 2 && room.GameStatus == db.GameWaiting {
		if err := h.db.SetGameStatus(room.RoomID, db.GameActive); err != nil {
			log.Printf("chess: failed to activate room %s: %v", room.RoomID, err)
			return
		}
		room.GameStatus = db.GameActive
		h.hub.BroadcastToRoom(room.RoomID, WSEvent{Type: "chess.game_start", Data: room}, nil)
	}
}

// seatJoiner fills a free seat, honoring a requested color when it is open.
func (h *Handler) seatJoiner(room *db.GameRoom, userID, color string) error {
	if color == "black" && room.BlackPlayer == "" {
		room.BlackPlayer = userID
		return h.db.SeatPlayer(room.RoomID, "black", userID)
	}
	if color == "white" && room.WhitePlayer == "" {
		room.WhitePlayer = userID
		return h.db.SeatPlayer(room.RoomID, "white", userID)
	}
	if room.WhitePlayer == "" {
		room.WhitePlayer = userID
		return h.db.SeatPlayer(room.RoomID, "white", userID)
	}
	room.BlackPlayer = userID
	return h.db.SeatPlayer(room.RoomID, "black", userID)
}

func (h *Handler) handleChessLeave(c *Client) {
	roomID := h.hub.leaveCurrentRoom(c)
	if roomID == "" {
		return
	}
	h.hub.BroadcastToRoom(roomID, WSEvent{Type: "chess.player_left", Data: map[string]string{
		"room_id": roomID,
		"user_id": c.userID,
	}}, nil)
}

// handleChessMove persists a human move and relays it to the room. AI games
// reject human moves outright; those rooms move only through the ai.* events.
func (h *Handler) handleChessMove(c *Client, data json.RawMessage) {
	var d struct {
		RoomID    string `json:"room_id"`
		From      string `json:"from"`
		To        string `json:"to"`
		Piece     string `json:"piece"`
		Captured  string `json:"captured"`
		NextTurn  string `json:"next_turn"`
		GameState string `json:"game_state"`
		Checkmate bool   `json:"checkmate"`
		Winner    string `json:"winner"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.RoomID == "" || d.From == "" || d.To == "" {
		c.sendError("chess.error", "room_id, from and to required")
		return
	}

	room, err := h.db.GetGameRoom(d.RoomID)
	if err != nil {
		c.sendError("chess.error", "game room not found")
		return
	}
	if room.IsAIGame {
		c.sendError("chess.error", "AI games accept moves only through the AI protocol")
		return
	}
	if room.GameStatus != db.GameActive {
		c.sendError("chess.error", "game is not active")
		return
	}
	if !room.HasPlayer(c.userID) {
		c.sendError("chess.error", "you are not seated in this room")
		return
	}

	move, err := h.db.RecordMove(room.RoomID, d.From, d.To, d.Piece, d.Captured, c.userID)
	if err != nil {
		c.sendError("chess.error", "failed to record move")
		return
	}

	nextTurn := d.NextTurn
	if nextTurn == "" {
		nextTurn = flipTurn(room.CurrentTurn)
	}
	if err := h.db.UpdateTurnAndState(room.RoomID, nextTurn, d.GameState); err != nil {
		c.sendError("chess.error", "failed to update game state")
		return
	}

	h.hub.BroadcastToRoom(room.RoomID, WSEvent{Type: "chess.move", Data: map[string]interface{}{
		"move":       move,
		"next_turn":  nextTurn,
		"game_state": d.GameState,
	}}, nil)

	if d.Checkmate {
		winner := d.Winner
		if winner == "" {
			winner = c.userID
		}
		h.finishGame(room.RoomID, winner)
	}
}

// handleChessCapture relays a capture announcement to the room.
func (h *Handler) handleChessCapture(c *Client, data json.RawMessage) {
	var d struct {
		RoomID string `json:"room_id"`
		Piece  string `json:"piece"`
	}
	if json.Unmarshal(data, &d) != nil || d.RoomID == "" {
		return
	}
	h.hub.BroadcastToRoom(d.RoomID, WSEvent{Type: "chess.capture", Data: map[string]string{
		"room_id":     d.RoomID,
		"piece":       d.Piece,
		"captured_by": c.userID,
	}}, nil)
}

// handleChessTimeUpdate relays clock state to the other occupants.
// Fire-and-forget.
func (h *Handler) handleChessTimeUpdate(c *Client, data json.RawMessage) {
	var d struct {
		RoomID    string `json:"room_id"`
		WhiteTime int    `json:"white_time"`
		BlackTime int    `json:"black_time"`
	}
	if json.Unmarshal(data, &d) != nil || d.RoomID == "" {
		return
	}
	h.hub.BroadcastToRoom(d.RoomID, WSEvent{Type: "chess.time_update", Data: map[string]interface{}{
		"room_id":    d.RoomID,
		"white_time": d.WhiteTime,
		"black_time": d.BlackTime,
	}}, c)
}

func (h *Handler) handleChessGameState(c *Client, data json.RawMessage) {
	var d struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.RoomID == "" {
		c.sendError("chess.error", "room_id required")
		return
	}
	room, err := h.db.GetGameRoom(d.RoomID)
	if err != nil {
		c.sendError("chess.error", "game room not found")
		return
	}
	moves, err := h.db.ListMoves(room.RoomID)
	if err != nil {
		c.sendError("chess.error", "failed to load moves")
		return
	}
	c.sendEvent(WSEvent{Type: "chess.game_state", Data: map[string]interface{}{
		"room":  room,
		"moves": moves,
	}})
}

// handleCheckmateDeclared finalizes a game on an explicit client declaration.
func (h *Handler) handleCheckmateDeclared(c *Client, data json.RawMessage) {
	var d struct {
		RoomID string `json:"room_id"`
		Winner string `json:"winner"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.RoomID == "" {
		c.sendError("chess.error", "room_id required")
		return
	}
	if _, err := h.db.GetGameRoom(d.RoomID); err != nil {
		c.sendError("chess.error", "game room not found")
		return
	}
	winner := d.Winner
	if winner == "" {
		winner = c.userID
	}
	h.finishGame(d.RoomID, winner)
}

func (h *Handler) handleGetBoardState(c *Client, data json.RawMessage) {
	var d struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.RoomID == "" {
		c.sendError("chess.error", "room_id required")
		return
	}
	room, err := h.db.GetGameRoom(d.RoomID)
	if err != nil {
		c.sendError("chess.error", "game room not found")
		return
	}
	c.sendEvent(WSEvent{Type: "chess.board_state", Data: map[string]interface{}{
		"room_id":      room.RoomID,
		"game_state":   room.GameState,
		"current_turn": room.CurrentTurn,
		"game_status":  room.GameStatus,
	}})
}

// finishGame persists the terminal state and announces the result. Only the
// first finalization writes, but every declaration still broadcasts so late
// clients converge on the outcome.
func (h *Handler) finishGame(roomID, winner string) {
	first, err := h.db.FinishGame(roomID, winner)
	if err != nil {
		log.Printf("chess: failed to finish room %s: %v", roomID, err)
		return
	}
	if !first {
		room, err := h.db.GetGameRoom(roomID)
		if err == nil && room.Winner != "" {
			winner = room.Winner
		}
	}
	h.hub.BroadcastToRoom(roomID, WSEvent{Type: "chess.game_over", Data: map[string]string{
		"room_id": roomID,
		"winner":  winner,
	}}, nil)
}

func flipTurn(turn string) string {
	if turn == "white" {
		return "black"
	}
	return "white"
}
