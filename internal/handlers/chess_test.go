package handlers

import (
	"encoding/json"
	"testing"

	"soulhub/internal/db"
)

func TestPublicInvitationJoinFlow(t *testing.T) {
	h, d := testHandler(t)
	inviter := mkUser(t, d, "inviter")
	joiner := mkUser(t, d, "joiner")

	ci := connect(t, h, inviter.ID)
	cj := connect(t, h, joiner.ID)
	drain(t, ci)
	drain(t, cj)

	room, err := d.CreateGameRoom("open-room", false)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	inv, err := d.CreateChessInvitation(inviter.ID, "", room.RoomID, true)
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}

	// Inviter joins first: they wait, nothing starts.
	h.handleChessJoin(ci, raw(t, map[string]string{"room_id": room.RoomID}))
	got, _ := d.GetGameRoom(room.RoomID)
	if got.GameStatus != db.GameWaiting || got.PlayerCount() != 1 {
		t.Fatalf("after inviter join: status=%s players=%d", got.GameStatus, got.PlayerCount())
	}
	if len(eventsOfType(drain(t, ci), "chess.game_state")) != 1 {
		t.Fatal("inviter got no waiting-room state")
	}

	// A distinct identity accepts the open invitation and the game starts.
	h.handleChessJoin(cj, raw(t, map[string]string{"room_id": room.RoomID}))

	got, _ = d.GetGameRoom(room.RoomID)
	if got.GameStatus != db.GameActive || got.PlayerCount() != 2 {
		t.Fatalf("after second join: status=%s players=%d", got.GameStatus, got.PlayerCount())
	}
	gotInv, _ := d.GetChessInvitation(inv.ID)
	if gotInv.Status != db.InviteAccepted {
		t.Fatalf("invitation status = %q, want accepted", gotInv.Status)
	}

	for name, c := range map[string]*Client{"inviter": ci, "joiner": cj} {
		events := drain(t, c)
		if len(eventsOfType(events, "chess.game_joined")) != 1 {
			t.Fatalf("%s missed chess.game_joined", name)
		}
		if len(eventsOfType(events, "chess.game_start")) != 1 {
			t.Fatalf("%s missed chess.game_start", name)
		}
	}
}

func TestPrivateInvitationOnlyAdmitsInvitee(t *testing.T) {
	h, d := testHandler(t)
	inviter := mkUser(t, d, "inviter")
	invitee := mkUser(t, d, "invitee")
	stranger := mkUser(t, d, "stranger")

	room, _ := d.CreateGameRoom("closed-room", false)
	d.CreateChessInvitation(inviter.ID, invitee.ID, room.RoomID, false)
	d.SeatPlayer(room.RoomID, "white", inviter.ID)

	cs := connect(t, h, stranger.ID)
	drain(t, cs)
	h.handleChessJoin(cs, raw(t, map[string]string{"room_id": room.RoomID}))
	if len(eventsOfType(drain(t, cs), "chess.error")) != 1 {
		t.Fatal("stranger slipped into an invite-only room")
	}

	ce := connect(t, h, invitee.ID)
	drain(t, ce)
	h.handleChessJoin(ce, raw(t, map[string]string{"room_id": room.RoomID}))
	got, _ := d.GetGameRoom(room.RoomID)
	if !got.HasPlayer(invitee.ID) || got.GameStatus != db.GameActive {
		t.Fatalf("invitee join failed: %+v", got)
	}
}

func TestHumanMoveRejectedInAIGame(t *testing.T) {
	h, d := testHandler(t)
	human := mkUser(t, d, "human")

	room, _ := d.CreateGameRoom("ai-room", true)
	d.SeatPlayer(room.RoomID, "white", human.ID)
	d.SetGameStatus(room.RoomID, db.GameActive)

	c := connect(t, h, human.ID)
	drain(t, c)

	h.handleChessMove(c, raw(t, map[string]string{
		"room_id": room.RoomID,
		"from":    "e2",
		"to":      "e4",
		"piece":   "pawn",
	}))
	if len(eventsOfType(drain(t, c), "chess.error")) != 1 {
		t.Fatal("human move accepted in an AI game")
	}
	moves, _ := d.ListMoves(room.RoomID)
	if len(moves) != 0 {
		t.Fatalf("rejected move persisted: %+v", moves)
	}
}

func TestMoveBroadcastAndCheckmateFinalization(t *testing.T) {
	h, d := testHandler(t)
	white := mkUser(t, d, "white")
	black := mkUser(t, d, "black")

	room, _ := d.CreateGameRoom("live-room", false)
	d.SeatPlayer(room.RoomID, "white", white.ID)
	d.SeatPlayer(room.RoomID, "black", black.ID)
	d.SetGameStatus(room.RoomID, db.GameActive)

	cw := connect(t, h, white.ID)
	cb := connect(t, h, black.ID)
	drain(t, cw)
	drain(t, cb)
	h.hub.joinRoom(room.RoomID, cw)
	h.hub.joinRoom(room.RoomID, cb)

	h.handleChessMove(cw, raw(t, map[string]interface{}{
		"room_id":   room.RoomID,
		"from":      "f3",
		"to":        "f7",
		"piece":     "queen",
		"captured":  "pawn",
		"checkmate": true,
		"winner":    "white",
	}))

	for name, c := range map[string]*Client{"white": cw, "black": cb} {
		events := drain(t, c)
		if len(eventsOfType(events, "chess.move")) != 1 {
			t.Fatalf("%s missed chess.move", name)
		}
		over := eventsOfType(events, "chess.game_over")
		if len(over) != 1 {
			t.Fatalf("%s missed chess.game_over", name)
		}
		var result struct {
			Winner string `json:"winner"`
		}
		json.Unmarshal(over[0].Data, &result)
		if result.Winner != "white" {
			t.Fatalf("winner = %q, want white", result.Winner)
		}
	}

	got, _ := d.GetGameRoom(room.RoomID)
	if got.GameStatus != db.GameFinished || got.Winner != "white" {
		t.Fatalf("room = %s/%s, want finished/white", got.GameStatus, got.Winner)
	}
}

func TestDuplicateCheckmateKeepsFirstResult(t *testing.T) {
	h, d := testHandler(t)
	white := mkUser(t, d, "white")
	black := mkUser(t, d, "black")

	room, _ := d.CreateGameRoom("dup-room", false)
	d.SeatPlayer(room.RoomID, "white", white.ID)
	d.SeatPlayer(room.RoomID, "black", black.ID)
	d.SetGameStatus(room.RoomID, db.GameActive)

	cw := connect(t, h, white.ID)
	cb := connect(t, h, black.ID)
	drain(t, cw)
	drain(t, cb)
	h.hub.joinRoom(room.RoomID, cw)
	h.hub.joinRoom(room.RoomID, cb)

	h.handleCheckmateDeclared(cw, raw(t, map[string]string{"room_id": room.RoomID, "winner": "white"}))
	h.handleCheckmateDeclared(cb, raw(t, map[string]string{"room_id": room.RoomID, "winner": "black"}))

	// The first declaration persists; the late one still broadcasts but
	// carries the recorded result.
	got, _ := d.GetGameRoom(room.RoomID)
	if got.Winner != "white" {
		t.Fatalf("winner = %q, want white", got.Winner)
	}
	events := drain(t, cw)
	over := eventsOfType(events, "chess.game_over")
	if len(over) != 2 {
		t.Fatalf("got %d chess.game_over broadcasts, want 2", len(over))
	}
	for _, e := range over {
		var result struct {
			Winner string `json:"winner"`
		}
		json.Unmarshal(e.Data, &result)
		if result.Winner != "white" {
			t.Fatalf("a broadcast carried winner %q", result.Winner)
		}
	}
}

func TestLeaveNotifiesRoom(t *testing.T) {
	h, d := testHandler(t)
	white := mkUser(t, d, "white")
	black := mkUser(t, d, "black")

	room, _ := d.CreateGameRoom("leave-room", false)
	cw := connect(t, h, white.ID)
	cb := connect(t, h, black.ID)
	drain(t, cw)
	drain(t, cb)
	h.hub.joinRoom(room.RoomID, cw)
	h.hub.joinRoom(room.RoomID, cb)

	h.handleChessLeave(cw)
	if cw.getCurrentRoom() != "" {
		t.Fatal("room pointer not cleared")
	}
	if len(eventsOfType(drain(t, cb), "chess.player_left")) != 1 {
		t.Fatal("remaining player not notified")
	}
}
