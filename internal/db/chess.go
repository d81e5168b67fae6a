package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Game room states. A finished room is terminal.
const (
	GameWaiting  = "waiting"
	GameActive   = "active"
	GameFinished = "finished"
)

// Invitation states.
const (
	InvitePending  = "pending"
	InviteAccepted = "accepted"
	InviteExpired  = "expired"
	InviteRejected = "rejected"
)

type GameRoom struct {
	RoomID      string    `json:"room_id"`
	WhitePlayer string    `json:"white_player,omitempty"`
	BlackPlayer string    `json:"black_player,omitempty"`
	CurrentTurn string    `json:"current_turn"`
	GameStatus  string    `json:"game_status"`
	IsAIGame    bool      `json:"is_ai_game"`
	Winner      string    `json:"winner,omitempty"`
	GameState   string    `json:"game_state,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PlayerCount returns how many seats are filled.
func (g *GameRoom) PlayerCount() int {
	n := 0
	if g.WhitePlayer != "" {
		n++
	}
	if g.BlackPlayer != "" {
		n++
	}
	return n
}

func (g *GameRoom) HasPlayer(userID string) bool {
	return userID != "" && (g.WhitePlayer == userID || g.BlackPlayer == userID)
}

type ChessInvitation struct {
	ID        string    `json:"id"`
	InviterID string    `json:"inviter_id"`
	InviteeID string    `json:"invitee_id,omitempty"`
	RoomID    string    `json:"room_id"`
	IsPublic  bool      `json:"is_public"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type Move struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	MoveNumber int       `json:"move_number"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Piece      string    `json:"piece"`
	Captured   string    `json:"captured,omitempty"`
	PlayerID   string    `json:"player_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// --- Game rooms ---

func (d *DB) CreateGameRoom(roomID string, isAI bool) (*GameRoom, error) {
	ai := 0
	if isAI {
		ai = 1
	}
	_, err := d.Exec(`INSERT INTO game_rooms (room_id, is_ai_game) VALUES (?, ?)`, roomID, ai)
	if err != nil {
		return nil, err
	}
	return d.GetGameRoom(roomID)
}

func (d *DB) GetGameRoom(roomID string) (*GameRoom, error) {
	g := &GameRoom{}
	var ai int
	err := d.QueryRow(`
		SELECT room_id, white_player, black_player, current_turn, game_status, is_ai_game, winner, game_state, created_at, updated_at
		FROM game_rooms WHERE room_id = ?`, roomID).
		Scan(&g.RoomID, &g.WhitePlayer, &g.BlackPlayer, &g.CurrentTurn, &g.GameStatus, &ai, &g.Winner, &g.GameState, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.IsAIGame = ai == 1
	return g, nil
}

// SeatPlayer fills one color seat. color must be "white" or "black".
func (d *DB) SeatPlayer(roomID, color, userID string) error {
	if color == "black" {
		_, err := d.Exec(`UPDATE game_rooms SET black_player = ?, updated_at = CURRENT_TIMESTAMP WHERE room_id = ?`, userID, roomID)
		return err
	}
	_, err := d.Exec(`UPDATE game_rooms SET white_player = ?, updated_at = CURRENT_TIMESTAMP WHERE room_id = ?`, userID, roomID)
	return err
}

func (d *DB) SetGameStatus(roomID, status string) error {
	_, err := d.Exec(`UPDATE game_rooms SET game_status = ?, updated_at = CURRENT_TIMESTAMP WHERE room_id = ?`, status, roomID)
	return err
}

// UpdateTurnAndState records the post-move turn and serialized board.
func (d *DB) UpdateTurnAndState(roomID, turn, state string) error {
	_, err := d.Exec(`
		UPDATE game_rooms SET current_turn = ?, game_state = ?, updated_at = CURRENT_TIMESTAMP
		WHERE room_id = ?`, turn, state, roomID)
	return err
}

// FinishGame marks a room finished with its winner. Returns true only for
// the write that actually transitioned the room; a finished room is terminal
// and later declarations leave it untouched.
func (d *DB) FinishGame(roomID, winner string) (bool, error) {
	res, err := d.Exec(`
		UPDATE game_rooms SET game_status = 'finished', winner = ?, updated_at = CURRENT_TIMESTAMP
		WHERE room_id = ? AND game_status != 'finished'`, winner, roomID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- Invitations ---

func (d *DB) CreateChessInvitation(inviterID, inviteeID, roomID string, isPublic bool) (*ChessInvitation, error) {
	id := NewID()
	pub := 0
	if isPublic {
		pub = 1
	}
	_, err := d.Exec(`
		INSERT INTO chess_invitations (id, inviter_id, invitee_id, room_id, is_public)
		VALUES (?, ?, ?, ?, ?)`, id, inviterID, inviteeID, roomID, pub)
	if err != nil {
		return nil, err
	}
	return d.GetChessInvitation(id)
}

func (d *DB) GetChessInvitation(id string) (*ChessInvitation, error) {
	inv := &ChessInvitation{}
	var pub int
	err := d.QueryRow(`
		SELECT id, inviter_id, invitee_id, room_id, is_public, status, created_at
		FROM chess_invitations WHERE id = ?`, id).
		Scan(&inv.ID, &inv.InviterID, &inv.InviteeID, &inv.RoomID, &pub, &inv.Status, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	inv.IsPublic = pub == 1
	return inv, nil
}

// GetPendingInvitationForRoom returns the room's pending invitation, or nil
// without error when there is none.
func (d *DB) GetPendingInvitationForRoom(roomID string) (*ChessInvitation, error) {
	inv := &ChessInvitation{}
	var pub int
	err := d.QueryRow(`
		SELECT id, inviter_id, invitee_id, room_id, is_public, status, created_at
		FROM chess_invitations WHERE room_id = ? AND status = 'pending'
		ORDER BY created_at ASC LIMIT 1`, roomID).
		Scan(&inv.ID, &inv.InviterID, &inv.InviteeID, &inv.RoomID, &pub, &inv.Status, &inv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	inv.IsPublic = pub == 1
	return inv, nil
}

func (d *DB) SetInvitationStatus(id, status string) error {
	_, err := d.Exec(`UPDATE chess_invitations SET status = ? WHERE id = ? AND status = 'pending'`, status, id)
	return err
}

// ExpireStaleInvitations marks pending invitations older than maxAge as
// expired and returns how many were affected.
func (d *DB) ExpireStaleInvitations(maxAge time.Duration) (int64, error) {
	// created_at is CURRENT_TIMESTAMP (UTC), so the cutoff is computed on
	// the SQLite side rather than bound as a Go time.
	offset := fmt.Sprintf("-%d seconds", int64(maxAge.Seconds()))
	res, err := d.Exec(`
		UPDATE chess_invitations SET status = 'expired'
		WHERE status = 'pending' AND created_at <= datetime('now', ?)`, offset)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Moves ---

// RecordMove persists a move with the next move_number for the room. The
// number is assigned inside the INSERT itself, so it stays strictly
// increasing without a read-modify-write race; the unique index on
// (room_id, move_number) rejects any duplicate a concurrent writer could
// still produce.
func (d *DB) RecordMove(roomID, from, to, piece, captured, playerID string) (*Move, error) {
	id := NewID()
	_, err := d.Exec(`
		INSERT INTO moves (id, room_id, move_number, from_square, to_square, piece, captured, player_id)
		SELECT ?, ?, COALESCE(MAX(move_number), 0) + 1, ?, ?, ?, ?, ?
		FROM moves WHERE room_id = ?`,
		id, roomID, from, to, piece, captured, playerID, roomID)
	if err != nil {
		return nil, err
	}
	m := &Move{}
	err = d.QueryRow(`
		SELECT id, room_id, move_number, from_square, to_square, piece, captured, player_id, created_at
		FROM moves WHERE id = ?`, id).
		Scan(&m.ID, &m.RoomID, &m.MoveNumber, &m.From, &m.To, &m.Piece, &m.Captured, &m.PlayerID, &m.CreatedAt)
	return m, err
}

func (d *DB) ListMoves(roomID string) ([]Move, error) {
	rows, err := d.Query(`
		SELECT id, room_id, move_number, from_square, to_square, piece, captured, player_id, created_at
		FROM moves WHERE room_id = ? ORDER BY move_number ASC`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var moves []Move
	for rows.Next() {
		var m Move
		if rows.Scan(&m.ID, &m.RoomID, &m.MoveNumber, &m.From, &m.To, &m.Piece, &m.Captured, &m.PlayerID, &m.CreatedAt) == nil {
			moves = append(moves, m)
		}
	}
	return moves, rows.Err()
}
