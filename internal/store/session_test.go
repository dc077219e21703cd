package store

import (
	"testing"

	"github.com/dukerupert/bywater/internal/database"
)

func setupSessionTestDB(t *testing.T) (*SessionStore, int64, int64) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fs := NewFamilyStore(db)
	ms := NewMemberStore(db)
	family, err := fs.Create("Baggins")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	member, err := ms.Create(family.ID, "Frodo", nil, "", false, true)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	return NewSessionStore(db), member.ID, family.ID
}

func TestSessionCreateAndGet(t *testing.T) {
	ss, memberID, familyID := setupSessionTestDB(t)

	session, err := ss.Create(memberID, familyID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(session.Token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(session.Token))
	}

	got, err := ss.GetByToken(session.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got == nil || got.MemberID != memberID || got.FamilyID != familyID {
		t.Fatalf("got %+v, want member %d family %d", got, memberID, familyID)
	}
}

func TestSessionTokensUnique(t *testing.T) {
	ss, memberID, familyID := setupSessionTestDB(t)

	a, err := ss.Create(memberID, familyID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	b, err := ss.Create(memberID, familyID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if a.Token == b.Token {
		t.Error("two sessions share a token")
	}
}

func TestSessionUnknownToken(t *testing.T) {
	ss, _, _ := setupSessionTestDB(t)

	got, err := ss.GetByToken("deadbeef")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got != nil {
		t.Errorf("unknown token returned %+v", got)
	}
}

func TestSessionDeleteByMemberID(t *testing.T) {
	ss, memberID, familyID := setupSessionTestDB(t)

	session, err := ss.Create(memberID, familyID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := ss.DeleteByMemberID(memberID); err != nil {
		t.Fatalf("delete by member: %v", err)
	}

	got, err := ss.GetByToken(session.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got != nil {
		t.Error("session survived DeleteByMemberID")
	}
}
