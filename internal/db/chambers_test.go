package db

import "testing"

func TestChamberMemberCountTracksMembership(t *testing.T) {
	d := testDB(t)
	creator := mkUser(t, d, "creator")
	m1 := mkUser(t, d, "m1")
	m2 := mkUser(t, d, "m2")

	chamber, err := d.CreateChamber("den", "", true, creator.ID)
	if err != nil {
		t.Fatalf("create chamber: %v", err)
	}
	if chamber.MemberCount != 0 {
		t.Fatalf("fresh chamber member_count = %d", chamber.MemberCount)
	}

	d.AddChamberMember(chamber.ID, m1.ID)
	d.AddChamberMember(chamber.ID, m2.ID)
	// Re-joining must not double-count.
	d.AddChamberMember(chamber.ID, m1.ID)

	got, _ := d.GetChamberByID(chamber.ID)
	if got.MemberCount != 2 {
		t.Fatalf("member_count = %d, want 2", got.MemberCount)
	}

	d.RemoveChamberMember(chamber.ID, m1.ID)
	// Removing a non-member must not decrement.
	d.RemoveChamberMember(chamber.ID, m1.ID)

	got, _ = d.GetChamberByID(chamber.ID)
	if got.MemberCount != 1 {
		t.Fatalf("member_count after removals = %d, want 1", got.MemberCount)
	}
}

func TestPrivateChamberInviteCode(t *testing.T) {
	d := testDB(t)
	creator := mkUser(t, d, "creator")

	chamber, err := d.CreateChamber("sanctum", "", false, creator.ID)
	if err != nil {
		t.Fatalf("create chamber: %v", err)
	}
	if chamber.InviteCode == "" {
		t.Fatal("private chamber has no invite code")
	}
	if !d.IsChamberInviteValid(chamber, chamber.InviteCode) {
		t.Fatal("own invite code rejected")
	}
	if d.IsChamberInviteValid(chamber, "wrong") {
		t.Fatal("wrong invite code accepted")
	}
}

func TestJoinRequestResolvesOnce(t *testing.T) {
	d := testDB(t)
	creator := mkUser(t, d, "creator")
	joiner := mkUser(t, d, "joiner")
	chamber, _ := d.CreateChamber("sanctum", "", false, creator.ID)

	req, err := d.CreateJoinRequest(chamber.ID, joiner.ID)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	pending, _ := d.ListPendingJoinRequests(chamber.ID)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	if err := d.ResolveJoinRequest(req.ID, "approved"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// A second resolution attempt leaves the first outcome in place.
	d.ResolveJoinRequest(req.ID, "rejected")
	got, _ := d.GetJoinRequest(req.ID)
	if got.Status != "approved" {
		t.Fatalf("status = %q, want approved", got.Status)
	}

	pending, _ = d.ListPendingJoinRequests(chamber.ID)
	if len(pending) != 0 {
		t.Fatalf("resolved request still pending")
	}
}

func TestChamberModeratorFlag(t *testing.T) {
	d := testDB(t)
	creator := mkUser(t, d, "creator")
	m := mkUser(t, d, "member")
	chamber, _ := d.CreateChamber("den", "", true, creator.ID)
	d.AddChamberMember(chamber.ID, m.ID)

	member, _ := d.GetChamberMember(chamber.ID, m.ID)
	if member == nil || member.IsModerator {
		t.Fatalf("fresh member = %+v", member)
	}

	if err := d.SetChamberModerator(chamber.ID, m.ID, true); err != nil {
		t.Fatalf("promote: %v", err)
	}
	member, _ = d.GetChamberMember(chamber.ID, m.ID)
	if member == nil || !member.IsModerator {
		t.Fatal("promotion did not stick")
	}

	// Non-members resolve to nil, not an error.
	ghost, err := d.GetChamberMember(chamber.ID, "nobody")
	if err != nil || ghost != nil {
		t.Fatalf("ghost member = %+v err=%v", ghost, err)
	}
}
