package handlers

import (
	"testing"

	"soulhub/internal/db"
)

func TestApplyReactionToggleIsANoOpPair(t *testing.T) {
	h, d := testHandler(t)
	author := mkUser(t, d, "author")
	reactor := mkUser(t, d, "reactor")
	content, _ := d.CreateContent("thread", author.ID, "t", "", false)

	res, err := h.applyReaction(reactor.ID, content.ID, db.TargetThread, db.ReactionHeart)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if res.Action != reactionAdded {
		t.Fatalf("action = %q, want added", res.Action)
	}

	res, err = h.applyReaction(reactor.ID, content.ID, db.TargetThread, db.ReactionHeart)
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if res.Action != reactionRemoved {
		t.Fatalf("action = %q, want removed", res.Action)
	}

	got, _ := d.GetContentByID(content.ID)
	if got.Counters[db.ReactionHeart] != 0 {
		t.Fatalf("counter = %d after toggle pair, want 0", got.Counters[db.ReactionHeart])
	}
	row, _ := d.GetReaction(reactor.ID, content.ID, db.TargetThread)
	if row != nil {
		t.Fatalf("reaction row lingered: %+v", row)
	}
}

func TestApplyReactionReplaceLeavesOneRow(t *testing.T) {
	h, d := testHandler(t)
	author := mkUser(t, d, "author")
	reactor := mkUser(t, d, "reactor")
	content, _ := d.CreateContent("post", author.ID, "p", "", false)

	for _, rtype := range []string{db.ReactionLike, db.ReactionInsightful, db.ReactionSoul} {
		if _, err := h.applyReaction(reactor.ID, content.ID, db.TargetPost, rtype); err != nil {
			t.Fatalf("apply %s: %v", rtype, err)
		}
	}

	row, err := d.GetReaction(reactor.ID, content.ID, db.TargetPost)
	if err != nil || row == nil {
		t.Fatalf("reaction row missing: %v", err)
	}
	if row.Type != db.ReactionSoul {
		t.Fatalf("final type = %q, want soul", row.Type)
	}

	got, _ := d.GetContentByID(content.ID)
	if got.Counters[db.ReactionLike] != 0 || got.Counters[db.ReactionInsightful] != 0 {
		t.Fatalf("stale counters: %v", got.Counters)
	}
	if got.Counters[db.ReactionSoul] != 1 {
		t.Fatalf("soul counter = %d, want 1", got.Counters[db.ReactionSoul])
	}
}

func TestReactionSoulpointsAwardedOncePerAdd(t *testing.T) {
	h, d := testHandler(t)
	author := mkUser(t, d, "author")
	reactor := mkUser(t, d, "reactor")
	content, _ := d.CreateContent("thread", author.ID, "t", "", false)

	h.applyReaction(reactor.ID, content.ID, db.TargetThread, db.ReactionSoul)
	got, _ := d.GetUserByID(author.ID)
	if got.Soulpoints != soulpointTable[db.ReactionSoul] {
		t.Fatalf("soulpoints = %d, want %d", got.Soulpoints, soulpointTable[db.ReactionSoul])
	}

	// Removal does not claw points back.
	h.applyReaction(reactor.ID, content.ID, db.TargetThread, db.ReactionSoul)
	got, _ = d.GetUserByID(author.ID)
	if got.Soulpoints != soulpointTable[db.ReactionSoul] {
		t.Fatalf("soulpoints changed on removal: %d", got.Soulpoints)
	}
}

func TestReactionMonetizedDoublesPoints(t *testing.T) {
	h, d := testHandler(t)
	author := mkUser(t, d, "author")
	reactor := mkUser(t, d, "reactor")
	content, _ := d.CreateContent("post", author.ID, "p", "grp", true)

	h.applyReaction(reactor.ID, content.ID, db.TargetPost, db.ReactionHeart)
	got, _ := d.GetUserByID(author.ID)
	if got.Soulpoints != 2*soulpointTable[db.ReactionHeart] {
		t.Fatalf("soulpoints = %d, want doubled %d", got.Soulpoints, 2*soulpointTable[db.ReactionHeart])
	}
}

func TestSelfReactionAwardsNothing(t *testing.T) {
	h, d := testHandler(t)
	author := mkUser(t, d, "author")
	content, _ := d.CreateContent("thread", author.ID, "t", "", false)

	h.applyReaction(author.ID, content.ID, db.TargetThread, db.ReactionSoul)
	got, _ := d.GetUserByID(author.ID)
	if got.Soulpoints != 0 {
		t.Fatalf("author farmed %d points off their own content", got.Soulpoints)
	}
	if n := d.UnreadNotificationCount(author.ID); n != 0 {
		t.Fatalf("author notified about their own reaction %d times", n)
	}
}

func TestChatMessageReactionRequiresParticipation(t *testing.T) {
	h, d := testHandler(t)
	a := mkUser(t, d, "alice")
	b := mkUser(t, d, "bob")
	eve := mkUser(t, d, "eve")

	chat, _ := d.GetOrCreateChat(a.ID, b.ID)
	msg, _ := d.CreateChatMessage(chat.ID, a.ID, "between us", "", nil)

	if _, err := h.applyReaction(eve.ID, msg.ID, db.TargetChatMessage, db.ReactionLike); err != errNotParticipant {
		t.Fatalf("outsider reaction err = %v, want %v", err, errNotParticipant)
	}
	if row, _ := d.GetReaction(eve.ID, msg.ID, db.TargetChatMessage); row != nil {
		t.Fatalf("outsider reaction row persisted: %+v", row)
	}
	if n := d.UnreadNotificationCount(a.ID); n != 0 {
		t.Fatalf("sender notified %d times about a rejected reaction", n)
	}

	// A participant still goes through.
	if _, err := h.applyReaction(b.ID, msg.ID, db.TargetChatMessage, db.ReactionLike); err != nil {
		t.Fatalf("participant reaction: %v", err)
	}
}

func TestReactionValidation(t *testing.T) {
	h, d := testHandler(t)
	author := mkUser(t, d, "author")
	reactor := mkUser(t, d, "reactor")
	content, _ := d.CreateContent("comment", author.ID, "", "", false)

	if _, err := h.applyReaction(reactor.ID, content.ID, db.TargetComment, db.ReactionSoul); err != errInvalidReaction {
		t.Fatalf("comment accepted a soul reaction: %v", err)
	}
	if _, err := h.applyReaction(reactor.ID, content.ID, "bogus", db.ReactionLike); err != errInvalidTarget {
		t.Fatalf("bogus target type: %v", err)
	}
	if _, err := h.applyReaction(reactor.ID, "missing", db.TargetThread, db.ReactionLike); err != errTargetNotFound {
		t.Fatalf("missing target: %v", err)
	}
	if _, err := h.applyReaction(reactor.ID, content.ID, db.TargetComment, db.ReactionLike); err != nil {
		t.Fatalf("like on comment rejected: %v", err)
	}
}
