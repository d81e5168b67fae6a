package handlers

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"soulhub/internal/db"
)

// scriptedGenerator returns queued candidates in order, then errors.
type scriptedGenerator struct {
	moves []*CandidateMove
	calls int
}

func (g *scriptedGenerator) GenerateMove(boardState, turn string, history []db.Move) (*CandidateMove, error) {
	g.calls++
	if len(g.moves) == 0 {
		return nil, errors.New("out of moves")
	}
	m := g.moves[0]
	g.moves = g.moves[1:]
	return m, nil
}

func aiRoom(t *testing.T, h *Handler, d *db.DB, humanID string) *db.GameRoom {
	t.Helper()
	room, err := d.CreateGameRoom("ai-room", true)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	d.SeatPlayer(room.RoomID, "white", humanID)
	d.SetGameStatus(room.RoomID, db.GameActive)
	room, _ = d.GetGameRoom(room.RoomID)
	return room
}

func TestAIMoveOnItsTurn(t *testing.T) {
	h, d := testHandler(t)
	human := mkUser(t, d, "human")
	room := aiRoom(t, h, d, human.ID)

	c := connect(t, h, human.ID)
	drain(t, c)
	h.hub.joinRoom(room.RoomID, c)

	// White (the human) moved; it is black's turn and black is the AI.
	d.UpdateTurnAndState(room.RoomID, "black", "")

	h.handleAIRequestMove(c, raw(t, map[string]string{
		"room_id":      room.RoomID,
		"current_turn": "black",
		"human_color":  "white",
	}))

	events := drain(t, c)
	moves := eventsOfType(events, "chess.move")
	if len(moves) != 1 {
		t.Fatalf("got %d move events, want exactly 1 (all: %+v)", len(moves), events)
	}
	var payload struct {
		By       string `json:"by"`
		NextTurn string `json:"next_turn"`
	}
	json.Unmarshal(moves[0].Data, &payload)
	if payload.By != aiPlayerID || payload.NextTurn != "white" {
		t.Fatalf("move payload = %+v", payload)
	}

	recorded, _ := d.ListMoves(room.RoomID)
	if len(recorded) != 1 || recorded[0].PlayerID != aiPlayerID {
		t.Fatalf("recorded moves = %+v", recorded)
	}
	got, _ := d.GetGameRoom(room.RoomID)
	if got.CurrentTurn != "white" {
		t.Fatalf("turn = %q after AI move, want white", got.CurrentTurn)
	}
}

func TestAIRequestDroppedOutOfTurn(t *testing.T) {
	h, d := testHandler(t)
	human := mkUser(t, d, "human")
	room := aiRoom(t, h, d, human.ID)

	c := connect(t, h, human.ID)
	drain(t, c)
	h.hub.joinRoom(room.RoomID, c)

	// It is white's (the human's) turn: the AI must stay silent.
	d.UpdateTurnAndState(room.RoomID, "white", "")

	h.handleAIRequestMove(c, raw(t, map[string]string{
		"room_id":      room.RoomID,
		"current_turn": "white",
		"human_color":  "white",
	}))

	if events := drain(t, c); len(events) != 0 {
		t.Fatalf("out-of-turn request produced events: %+v", events)
	}
	if moves, _ := d.ListMoves(room.RoomID); len(moves) != 0 {
		t.Fatalf("out-of-turn request mutated state: %+v", moves)
	}
}

func TestAIGenerationRetriesThenGivesUp(t *testing.T) {
	h, d := testHandler(t)
	human := mkUser(t, d, "human")

	// Every candidate is garbage; three attempts then an explicit error.
	gen := &scriptedGenerator{moves: []*CandidateMove{
		{From: "z9", To: "e4"},
		{From: "e2", To: "e2"},
		{From: "", To: ""},
	}}
	h.moves = gen

	room := aiRoom(t, h, d, human.ID)
	c := connect(t, h, human.ID)
	drain(t, c)
	h.hub.joinRoom(room.RoomID, c)
	d.UpdateTurnAndState(room.RoomID, "black", "")

	h.handleAIRequestMove(c, raw(t, map[string]string{
		"room_id":     room.RoomID,
		"human_color": "white",
	}))

	if gen.calls != maxGenerationAttempts {
		t.Fatalf("generator called %d times, want %d", gen.calls, maxGenerationAttempts)
	}
	if len(eventsOfType(drain(t, c), "ai.error")) != 1 {
		t.Fatal("exhausted generation did not emit ai.error")
	}
	if moves, _ := d.ListMoves(room.RoomID); len(moves) != 0 {
		t.Fatalf("invalid candidates persisted: %+v", moves)
	}
}

func TestAIGenerationRecoversOnLaterAttempt(t *testing.T) {
	h, d := testHandler(t)
	human := mkUser(t, d, "human")

	gen := &scriptedGenerator{moves: []*CandidateMove{
		{From: "bad", To: "worse"},
		{From: "d7", To: "d5", Piece: "pawn"},
	}}
	h.moves = gen

	room := aiRoom(t, h, d, human.ID)
	c := connect(t, h, human.ID)
	drain(t, c)
	h.hub.joinRoom(room.RoomID, c)
	d.UpdateTurnAndState(room.RoomID, "black", "")

	h.handleAIRequestMove(c, raw(t, map[string]string{
		"room_id":     room.RoomID,
		"human_color": "white",
	}))

	if gen.calls != 2 {
		t.Fatalf("generator called %d times, want 2", gen.calls)
	}
	if len(eventsOfType(drain(t, c), "chess.move")) != 1 {
		t.Fatal("recovered candidate was not broadcast")
	}
}

func TestAIRetryStopsAfterMaxAttempts(t *testing.T) {
	h, d := testHandler(t)
	human := mkUser(t, d, "human")
	room := aiRoom(t, h, d, human.ID)

	c := connect(t, h, human.ID)
	drain(t, c)

	h.handleAIRetry(c, raw(t, map[string]interface{}{
		"room_id":     room.RoomID,
		"human_color": "white",
		"retry_count": maxClientRetries,
	}))
	if len(eventsOfType(drain(t, c), "ai.error")) != 1 {
		t.Fatal("exhausted retries did not emit ai.error")
	}
}

func TestAIBoardStateSyncAndHumanMove(t *testing.T) {
	h, d := testHandler(t)
	human := mkUser(t, d, "human")
	room := aiRoom(t, h, d, human.ID)

	c := connect(t, h, human.ID)
	drain(t, c)

	h.handleAIBoardState(c, raw(t, map[string]string{
		"room_id":      room.RoomID,
		"action":       "sync",
		"current_turn": "white",
		"game_state":   `{"fen":"test"}`,
	}))
	if len(eventsOfType(drain(t, c), "ai.board_state")) != 1 {
		t.Fatal("sync not acknowledged")
	}
	got, _ := d.GetGameRoom(room.RoomID)
	if got.GameState != `{"fen":"test"}` {
		t.Fatalf("game state = %q", got.GameState)
	}

	h.handleAIBoardState(c, raw(t, map[string]interface{}{
		"room_id":      room.RoomID,
		"action":       "move",
		"current_turn": "black",
		"move":         map[string]string{"from": "e2", "to": "e4", "piece": "pawn"},
	}))
	if len(eventsOfType(drain(t, c), "ai.board_state")) != 1 {
		t.Fatal("human move not acknowledged")
	}
	moves, _ := d.ListMoves(room.RoomID)
	if len(moves) != 1 || moves[0].PlayerID != human.ID {
		t.Fatalf("recorded moves = %+v", moves)
	}
	got, _ = d.GetGameRoom(room.RoomID)
	if got.CurrentTurn != "black" {
		t.Fatalf("turn = %q after human move, want black", got.CurrentTurn)
	}
}

func TestFinishedAIGameRejectsFurtherWrites(t *testing.T) {
	h, d := testHandler(t)
	human := mkUser(t, d, "human")
	room := aiRoom(t, h, d, human.ID)

	if _, err := d.FinishGame(room.RoomID, "white"); err != nil {
		t.Fatalf("finish game: %v", err)
	}

	c := connect(t, h, human.ID)
	drain(t, c)

	h.handleAIBoardState(c, raw(t, map[string]interface{}{
		"room_id": room.RoomID,
		"action":  "move",
		"move":    map[string]string{"from": "e2", "to": "e4", "piece": "pawn"},
	}))
	if len(eventsOfType(drain(t, c), "ai.error")) != 1 {
		t.Fatal("board-state move into a finished room was not rejected")
	}

	h.handleAITrackMove(c, raw(t, map[string]interface{}{
		"room_id": room.RoomID,
		"move":    map[string]string{"from": "d2", "to": "d4", "piece": "pawn"},
	}))
	if len(eventsOfType(drain(t, c), "ai.error")) != 1 {
		t.Fatal("track_move into a finished room was not rejected")
	}

	h.handleAISimpleMove(c, raw(t, map[string]string{"room_id": room.RoomID}))
	if len(eventsOfType(drain(t, c), "ai.error")) != 1 {
		t.Fatal("simple_move into a finished room was not rejected")
	}

	if moves, _ := d.ListMoves(room.RoomID); len(moves) != 0 {
		t.Fatalf("finished room recorded %d moves", len(moves))
	}
	got, _ := d.GetGameRoom(room.RoomID)
	if got.GameStatus != db.GameFinished || got.Winner != "white" {
		t.Fatalf("finished room was rewritten: %+v", got)
	}
}

func TestAIMoveAnnouncementDoesNotBlockTheRequest(t *testing.T) {
	h, d := testHandler(t)
	human := mkUser(t, d, "human")
	room := aiRoom(t, h, d, human.ID)
	h.thinkDelay = func() time.Duration { return 250 * time.Millisecond }

	c := connect(t, h, human.ID)
	drain(t, c)
	h.hub.joinRoom(room.RoomID, c)
	d.UpdateTurnAndState(room.RoomID, "black", "")

	h.handleAIRequestMove(c, raw(t, map[string]string{
		"room_id":     room.RoomID,
		"human_color": "white",
	}))

	// The move commits before the announcement goes out.
	if moves, _ := d.ListMoves(room.RoomID); len(moves) != 1 {
		t.Fatalf("recorded %d moves right after the request, want 1", len(moves))
	}
	if len(eventsOfType(drain(t, c), "chess.move")) != 0 {
		t.Fatal("announcement arrived before the pause elapsed")
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(eventsOfType(drain(t, c), "chess.move")) == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("scheduled announcement never arrived")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNaiveGeneratorProducesValidSquares(t *testing.T) {
	g := naiveGenerator{}
	var history []db.Move
	for i := 0; i < 16; i++ {
		cand, err := g.GenerateMove("", "black", history)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !validCandidate(cand, history) {
			t.Fatalf("candidate %d invalid: %+v", i, cand)
		}
		history = append(history, db.Move{From: cand.From, To: cand.To})
	}
}
