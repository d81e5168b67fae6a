package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"time"

	"soulhub/internal/db"
)

const (
	aiPlayerID            = "ai"
	maxGenerationAttempts = 3
	maxClientRetries      = 5
	retryBackoff          = 500 * time.Millisecond
)

var errNoValidMove = errors.New("no valid move generated")

// CandidateMove is a proposed move plus the serialized board it results in.
type CandidateMove struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Piece     string `json:"piece"`
	Captured  string `json:"captured,omitempty"`
	GameState string `json:"game_state,omitempty"`
}

// MoveGenerator produces a candidate move for the given side. Implementations
// may consult the serialized board and the room's move history; candidates are
// validated by the caller before being committed.
type MoveGenerator interface {
	GenerateMove(boardState, turn string, history []db.Move) (*CandidateMove, error)
}

// naiveGenerator walks pawns forward file by file. It is a placeholder
// strategy: good enough to exercise the protocol, nowhere near a chess engine.
type naiveGenerator struct{}

func (naiveGenerator) GenerateMove(boardState, turn string, history []db.Move) (*CandidateMove, error) {
	files := "abcdefgh"
	file := string(files[len(history)%len(files)])
	if turn == "black" {
		return &CandidateMove{From: file + "7", To: file + "5", Piece: "pawn"}, nil
	}
	return &CandidateMove{From: file + "2", To: file + "4", Piece: "pawn"}, nil
}

func humanlikeDelay() time.Duration {
	return 2*time.Second + time.Duration(rand.Intn(2000))*time.Millisecond
}

func validSquare(sq string) bool {
	return len(sq) == 2 && sq[0] >= 'a' && sq[0] <= 'h' && sq[1] >= '1' && sq[1] <= '8'
}

// validCandidate applies shallow checks only: square syntax, a real
// displacement, and no immediate repetition of the previous move.
func validCandidate(cand *CandidateMove, history []db.Move) bool {
	if cand == nil || !validSquare(cand.From) || !validSquare(cand.To) || cand.From == cand.To {
		return false
	}
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.From == cand.From && last.To == cand.To {
			return false
		}
	}
	return true
}

// aiColorFor derives the AI's side from the human's declared color, falling
// back to the opposite of whichever seat the requesting user holds.
func aiColorFor(room *db.GameRoom, humanColor, userID string) string {
	switch humanColor {
	case "white":
		return "black"
	case "black":
		return "white"
	}
	if room.BlackPlayer == userID {
		return "white"
	}
	return "black"
}

// handleAIRequestMove asks the engine for a move. Arbitration happens first:
// the turn is re-derived from the payload or the room and compared to the AI's
// color, and a request out of turn is dropped without a reply so clients do
// not retry in a storm.
func (h *Handler) handleAIRequestMove(c *Client, data json.RawMessage) {
	var d struct {
		RoomID      string `json:"room_id"`
		CurrentTurn string `json:"current_turn"`
		HumanColor  string `json:"human_color"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.RoomID == "" {
		c.sendError("ai.error", "room_id required")
		return
	}

	room, err := h.db.GetGameRoom(d.RoomID)
	if err != nil {
		c.sendError("ai.error", "game room not found")
		return
	}
	if !room.IsAIGame {
		c.sendError("ai.error", "not an AI game")
		return
	}
	if room.GameStatus == db.GameFinished {
		c.sendError("ai.error", "game already finished")
		return
	}

	aiColor := aiColorFor(room, d.HumanColor, c.userID)
	turn := d.CurrentTurn
	if turn == "" {
		turn = room.CurrentTurn
	}
	if turn != aiColor {
		// Not the AI's turn. Silent drop.
		return
	}

	h.performAIMove(c, room, aiColor)
}

// performAIMove runs the bounded generate-validate loop, commits the winning
// candidate, and broadcasts it after the think delay.
func (h *Handler) performAIMove(c *Client, room *db.GameRoom, aiColor string) {
	history, err := h.db.ListMoves(room.RoomID)
	if err != nil {
		c.sendError("ai.error", "failed to load move history")
		return
	}

	var cand *CandidateMove
	for attempt := 0; attempt < maxGenerationAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(h.genPause)
		}
		proposed, err := h.moves.GenerateMove(room.GameState, aiColor, history)
		if err != nil {
			log.Printf("ai: generation attempt %d failed for room %s: %v", attempt+1, room.RoomID, err)
			continue
		}
		if validCandidate(proposed, history) {
			cand = proposed
			break
		}
	}
	if cand == nil {
		c.sendError("ai.error", errNoValidMove.Error())
		return
	}

	move, err := h.db.RecordMove(room.RoomID, cand.From, cand.To, cand.Piece, cand.Captured, aiPlayerID)
	if err != nil {
		c.sendError("ai.error", "failed to record move")
		return
	}
	state := cand.GameState
	if state == "" {
		state = room.GameState
	}
	nextTurn := flipTurn(aiColor)
	if err := h.db.UpdateTurnAndState(room.RoomID, nextTurn, state); err != nil {
		c.sendError("ai.error", "failed to update game state")
		return
	}

	evt := WSEvent{Type: "chess.move", Data: map[string]interface{}{
		"move":       move,
		"next_turn":  nextTurn,
		"game_state": state,
		"by":         aiPlayerID,
	}}
	// The move is committed; only its announcement waits. Scheduling it keeps
	// the connection's read loop free during the pause.
	if delay := h.thinkDelay(); delay > 0 {
		roomID := room.RoomID
		time.AfterFunc(delay, func() {
			h.hub.BroadcastToRoom(roomID, evt, nil)
		})
		return
	}
	h.hub.BroadcastToRoom(room.RoomID, evt, nil)
}

// handleAIBoardState is the client's board channel for AI games: "sync"
// records an authoritative serialized board, "move" is the sanctioned path
// for a human move in an AI game.
func (h *Handler) handleAIBoardState(c *Client, data json.RawMessage) {
	var d struct {
		RoomID      string         `json:"room_id"`
		Action      string         `json:"action"`
		CurrentTurn string         `json:"current_turn"`
		GameState   string         `json:"game_state"`
		Move        *CandidateMove `json:"move"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.RoomID == "" {
		c.sendError("ai.error", "room_id required")
		return
	}

	room, err := h.db.GetGameRoom(d.RoomID)
	if err != nil {
		c.sendError("ai.error", "game room not found")
		return
	}
	if !room.IsAIGame {
		c.sendError("ai.error", "not an AI game")
		return
	}
	if room.GameStatus == db.GameFinished {
		c.sendError("ai.error", "game already finished")
		return
	}

	switch d.Action {
	case "move":
		if d.Move == nil || !validSquare(d.Move.From) || !validSquare(d.Move.To) {
			c.sendError("ai.error", "invalid move payload")
			return
		}
		move, err := h.db.RecordMove(room.RoomID, d.Move.From, d.Move.To, d.Move.Piece, d.Move.Captured, c.userID)
		if err != nil {
			c.sendError("ai.error", "failed to record move")
			return
		}
		nextTurn := d.CurrentTurn
		if nextTurn == "" {
			nextTurn = flipTurn(room.CurrentTurn)
		}
		if err := h.db.UpdateTurnAndState(room.RoomID, nextTurn, d.GameState); err != nil {
			c.sendError("ai.error", "failed to update game state")
			return
		}
		c.sendEvent(WSEvent{Type: "ai.board_state", Data: map[string]interface{}{
			"action": "move",
			"move":   move,
		}})
	default:
		// Plain sync of the serialized board.
		turn := d.CurrentTurn
		if turn == "" {
			turn = room.CurrentTurn
		}
		if err := h.db.UpdateTurnAndState(room.RoomID, turn, d.GameState); err != nil {
			c.sendError("ai.error", "failed to sync board state")
			return
		}
		c.sendEvent(WSEvent{Type: "ai.board_state", Data: map[string]string{
			"action":  "sync",
			"room_id": room.RoomID,
		}})
	}
}

// handleAIRetry is the client-initiated recovery path. It re-validates turn
// ownership on every attempt and reschedules instead of spinning when the
// turn has not come around yet.
func (h *Handler) handleAIRetry(c *Client, data json.RawMessage) {
	var d struct {
		RoomID     string `json:"room_id"`
		HumanColor string `json:"human_color"`
		RetryCount int    `json:"retry_count"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.RoomID == "" {
		c.sendError("ai.error", "room_id required")
		return
	}
	h.retryAIMove(c, d.RoomID, d.HumanColor, d.RetryCount)
}

func (h *Handler) retryAIMove(c *Client, roomID, humanColor string, retryCount int) {
	if retryCount >= maxClientRetries {
		c.sendError("ai.error", "AI move retries exhausted")
		return
	}

	room, err := h.db.GetGameRoom(roomID)
	if err != nil {
		c.sendError("ai.error", "game room not found")
		return
	}
	if !room.IsAIGame || room.GameStatus == db.GameFinished {
		c.sendError("ai.error", "room does not accept AI moves")
		return
	}

	// May run from a rescheduled timer, off the connection's read loop.
	aiColor := aiColorFor(room, humanColor, c.getUserID())
	if room.CurrentTurn != aiColor {
		time.AfterFunc(retryBackoff, func() {
			h.retryAIMove(c, roomID, humanColor, retryCount+1)
		})
		return
	}
	h.performAIMove(c, room, aiColor)
}

// handleAIGameStatus reports the room's status and whose turn it is.
func (h *Handler) handleAIGameStatus(c *Client, data json.RawMessage) {
	var d struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.RoomID == "" {
		c.sendError("ai.error", "room_id required")
		return
	}
	room, err := h.db.GetGameRoom(d.RoomID)
	if err != nil {
		c.sendError("ai.error", "game room not found")
		return
	}
	moves, err := h.db.ListMoves(room.RoomID)
	if err != nil {
		c.sendError("ai.error", "failed to load moves")
		return
	}
	c.sendEvent(WSEvent{Type: "ai.status", Data: map[string]interface{}{
		"room_id":      room.RoomID,
		"game_status":  room.GameStatus,
		"current_turn": room.CurrentTurn,
		"is_ai_game":   room.IsAIGame,
		"move_count":   len(moves),
	}})
}

// handleAITrackMove records a client-observed move without touching the turn,
// for clients that drive the board locally and report afterwards.
func (h *Handler) handleAITrackMove(c *Client, data json.RawMessage) {
	var d struct {
		RoomID string         `json:"room_id"`
		Move   *CandidateMove `json:"move"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.RoomID == "" || d.Move == nil {
		c.sendError("ai.error", "room_id and move required")
		return
	}
	if !validSquare(d.Move.From) || !validSquare(d.Move.To) {
		c.sendError("ai.error", "invalid move payload")
		return
	}
	room, err := h.db.GetGameRoom(d.RoomID)
	if err != nil {
		c.sendError("ai.error", "game room not found")
		return
	}
	if room.GameStatus == db.GameFinished {
		c.sendError("ai.error", "game already finished")
		return
	}
	move, err := h.db.RecordMove(d.RoomID, d.Move.From, d.Move.To, d.Move.Piece, d.Move.Captured, c.userID)
	if err != nil {
		c.sendError("ai.error", "failed to record move")
		return
	}
	c.sendEvent(WSEvent{Type: "ai.track_move", Data: move})
}

// handleAISimpleMove generates and commits a move for the requester without
// arbitration or the think delay. Meant for quick local play against the
// engine.
func (h *Handler) handleAISimpleMove(c *Client, data json.RawMessage) {
	var d struct {
		RoomID string `json:"room_id"`
		Turn   string `json:"turn"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.RoomID == "" {
		c.sendError("ai.error", "room_id required")
		return
	}

	room, err := h.db.GetGameRoom(d.RoomID)
	if err != nil {
		c.sendError("ai.error", "game room not found")
		return
	}
	if !room.IsAIGame {
		c.sendError("ai.error", "not an AI game")
		return
	}
	if room.GameStatus == db.GameFinished {
		c.sendError("ai.error", "game already finished")
		return
	}

	turn := d.Turn
	if turn == "" {
		turn = room.CurrentTurn
	}
	history, err := h.db.ListMoves(room.RoomID)
	if err != nil {
		c.sendError("ai.error", "failed to load move history")
		return
	}
	cand, err := h.moves.GenerateMove(room.GameState, turn, history)
	if err != nil || !validCandidate(cand, history) {
		c.sendError("ai.error", errNoValidMove.Error())
		return
	}

	move, err := h.db.RecordMove(room.RoomID, cand.From, cand.To, cand.Piece, cand.Captured, aiPlayerID)
	if err != nil {
		c.sendError("ai.error", "failed to record move")
		return
	}
	if err := h.db.UpdateTurnAndState(room.RoomID, flipTurn(turn), room.GameState); err != nil {
		c.sendError("ai.error", "failed to update game state")
		return
	}
	c.sendEvent(WSEvent{Type: "ai.simple_move", Data: map[string]interface{}{
		"move":      move,
		"next_turn": flipTurn(turn),
	}})
}
