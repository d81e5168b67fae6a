package db

import "testing"

func TestGetOrCreateChatIsStableAcrossPairOrder(t *testing.T) {
	d := testDB(t)
	a := mkUser(t, d, "alice")
	b := mkUser(t, d, "bob")

	c1, err := d.GetOrCreateChat(a.ID, b.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	c2, err := d.GetOrCreateChat(b.ID, a.ID)
	if err != nil {
		t.Fatalf("create chat reversed: %v", err)
	}
	if c1.ID != c2.ID {
		t.Fatalf("pair order produced distinct chats: %s vs %s", c1.ID, c2.ID)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	d := testDB(t)
	a := mkUser(t, d, "alice")
	b := mkUser(t, d, "bob")
	chat, _ := d.GetOrCreateChat(a.ID, b.ID)

	msg, err := d.CreateChatMessage(chat.ID, a.ID, "hello", "", nil)
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if msg.Status != StatusSent {
		t.Fatalf("initial status = %q, want %q", msg.Status, StatusSent)
	}

	advanced, err := d.MarkDelivered(msg.ID)
	if err != nil || !advanced {
		t.Fatalf("mark delivered: advanced=%v err=%v", advanced, err)
	}
	advanced, err = d.MarkSeen(msg.ID)
	if err != nil || !advanced {
		t.Fatalf("mark seen: advanced=%v err=%v", advanced, err)
	}

	// A late delivered ack must not pull the message back from seen.
	advanced, err = d.MarkDelivered(msg.ID)
	if err != nil {
		t.Fatalf("late delivered: %v", err)
	}
	if advanced {
		t.Fatal("late delivered ack advanced a seen message")
	}
	got, _ := d.GetChatMessageByID(msg.ID)
	if got.Status != StatusSeen {
		t.Fatalf("status regressed to %q", got.Status)
	}

	// Repeating seen is an idempotent no-op, not an error.
	if _, err := d.MarkSeen(msg.ID); err != nil {
		t.Fatalf("repeat seen: %v", err)
	}
}

func TestUnseenCountAcrossChats(t *testing.T) {
	d := testDB(t)
	me := mkUser(t, d, "me")
	friends := []*User{mkUser(t, d, "f1"), mkUser(t, d, "f2"), mkUser(t, d, "f3")}

	// Chat 1: two unseen from f1, one message of my own (never counted).
	c1, _ := d.GetOrCreateChat(me.ID, friends[0].ID)
	d.CreateChatMessage(c1.ID, friends[0].ID, "one", "", nil)
	m2, _ := d.CreateChatMessage(c1.ID, friends[0].ID, "two", "", nil)
	d.MarkDelivered(m2.ID)
	d.CreateChatMessage(c1.ID, me.ID, "mine", "", nil)

	// Chat 2: one seen, one unseen.
	c2, _ := d.GetOrCreateChat(me.ID, friends[1].ID)
	m4, _ := d.CreateChatMessage(c2.ID, friends[1].ID, "three", "", nil)
	d.MarkSeen(m4.ID)
	d.CreateChatMessage(c2.ID, friends[1].ID, "four", "", nil)

	// Chat 3: all seen.
	c3, _ := d.GetOrCreateChat(me.ID, friends[2].ID)
	m6, _ := d.CreateChatMessage(c3.ID, friends[2].ID, "five", "", nil)
	d.MarkSeen(m6.ID)

	n, err := d.UnseenCount(me.ID)
	if err != nil {
		t.Fatalf("unseen count: %v", err)
	}
	if n != 3 {
		t.Fatalf("unseen count = %d, want 3", n)
	}

	// The other side only has my one unsent-back message to account for.
	n, err = d.UnseenCount(friends[0].ID)
	if err != nil {
		t.Fatalf("unseen count: %v", err)
	}
	if n != 1 {
		t.Fatalf("unseen count for f1 = %d, want 1", n)
	}
}

func TestMarkChatSeenClearsWholeChat(t *testing.T) {
	d := testDB(t)
	a := mkUser(t, d, "alice")
	b := mkUser(t, d, "bob")
	chat, _ := d.GetOrCreateChat(a.ID, b.ID)

	for i := 0; i < 3; i++ {
		if _, err := d.CreateChatMessage(chat.ID, b.ID, "m", "", nil); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}

	if err := d.MarkChatSeen(chat.ID, a.ID); err != nil {
		t.Fatalf("mark chat seen: %v", err)
	}
	n, _ := d.UnseenCount(a.ID)
	if n != 0 {
		t.Fatalf("unseen count after mark chat seen = %d, want 0", n)
	}
}

func TestSoftDeleteKeepsRow(t *testing.T) {
	d := testDB(t)
	a := mkUser(t, d, "alice")
	b := mkUser(t, d, "bob")
	chat, _ := d.GetOrCreateChat(a.ID, b.ID)
	msg, _ := d.CreateChatMessage(chat.ID, a.ID, "oops", "", nil)

	if err := d.SoftDeleteChatMessage(msg.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	got, err := d.GetChatMessageByID(msg.ID)
	if err != nil {
		t.Fatalf("row physically removed: %v", err)
	}
	if !got.IsDeleted {
		t.Fatal("is_deleted not set")
	}
}

func TestUndeliveredMessagesBacklog(t *testing.T) {
	d := testDB(t)
	a := mkUser(t, d, "alice")
	b := mkUser(t, d, "bob")
	chat, _ := d.GetOrCreateChat(a.ID, b.ID)

	m1, _ := d.CreateChatMessage(chat.ID, a.ID, "first", "", nil)
	m2, _ := d.CreateChatMessage(chat.ID, a.ID, "second", "", nil)
	d.MarkDelivered(m1.ID)

	backlog, err := d.UndeliveredMessages(b.ID)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(backlog) != 1 || backlog[0].ID != m2.ID {
		t.Fatalf("backlog = %+v, want only %s", backlog, m2.ID)
	}
}
