package db

import (
	"database/sql"
	"testing"
)

func TestResolveTargetKindMismatch(t *testing.T) {
	d := testDB(t)
	u := mkUser(t, d, "author")

	content, err := d.CreateContent("thread", u.ID, "a thread", "", false)
	if err != nil {
		t.Fatalf("create content: %v", err)
	}

	info, err := d.ResolveTarget(TargetThread, content.ID)
	if err != nil {
		t.Fatalf("resolve thread: %v", err)
	}
	if info.AuthorID != u.ID || info.Title != "a thread" {
		t.Fatalf("resolved %+v", info)
	}

	// Asking for the same row under the wrong kind is a not-found, not a
	// silent mis-resolution.
	if _, err := d.ResolveTarget(TargetPost, content.ID); err != sql.ErrNoRows {
		t.Fatalf("kind mismatch err = %v, want sql.ErrNoRows", err)
	}
}

func TestReactionUniquePerUserAndTarget(t *testing.T) {
	d := testDB(t)
	u := mkUser(t, d, "reactor")
	author := mkUser(t, d, "author")
	content, _ := d.CreateContent("post", author.ID, "p", "", false)

	if _, err := d.InsertReaction(u.ID, content.ID, TargetPost, ReactionLike); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := d.InsertReaction(u.ID, content.ID, TargetPost, ReactionHeart); err == nil {
		t.Fatal("second reaction row for same (user, target) was allowed")
	}
}

func TestAdjustReactionCounterFloorsAtZero(t *testing.T) {
	d := testDB(t)
	author := mkUser(t, d, "author")
	content, _ := d.CreateContent("post", author.ID, "p", "", false)

	if err := d.AdjustReactionCounter(content.ID, ReactionLike, -1); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	got, _ := d.GetContentByID(content.ID)
	if got.Counters[ReactionLike] != 0 {
		t.Fatalf("counter went negative: %d", got.Counters[ReactionLike])
	}

	d.AdjustReactionCounter(content.ID, ReactionLike, 1)
	d.AdjustReactionCounter(content.ID, ReactionLike, 1)
	got, _ = d.GetContentByID(content.ID)
	if got.Counters[ReactionLike] != 2 {
		t.Fatalf("counter = %d, want 2", got.Counters[ReactionLike])
	}
}

func TestReactionMapGroupsByType(t *testing.T) {
	d := testDB(t)
	author := mkUser(t, d, "author")
	u1 := mkUser(t, d, "u1")
	u2 := mkUser(t, d, "u2")
	u3 := mkUser(t, d, "u3")
	content, _ := d.CreateContent("thread", author.ID, "t", "", false)

	d.InsertReaction(u1.ID, content.ID, TargetThread, ReactionLike)
	d.InsertReaction(u2.ID, content.ID, TargetThread, ReactionLike)
	d.InsertReaction(u3.ID, content.ID, TargetThread, ReactionSoul)

	m, err := d.ReactionMap(content.ID, TargetThread)
	if err != nil {
		t.Fatalf("reaction map: %v", err)
	}
	if len(m[ReactionLike]) != 2 {
		t.Fatalf("likes = %v", m[ReactionLike])
	}
	if len(m[ReactionSoul]) != 1 || m[ReactionSoul][0] != u3.ID {
		t.Fatalf("souls = %v", m[ReactionSoul])
	}
}
