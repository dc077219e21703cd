package store

import (
	"testing"

	"github.com/dukerupert/bywater/internal/database"
	"github.com/dukerupert/bywater/internal/model"
)

func setupMemberTestDB(t *testing.T) (*MemberStore, *FamilyStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMemberStore(db), NewFamilyStore(db)
}

func testFamily(t *testing.T, fs *FamilyStore) *model.Family {
	t.Helper()
	family, err := fs.Create("Baggins")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	return family
}

func TestMemberCRUD(t *testing.T) {
	ms, fs := setupMemberTestDB(t)
	family := testFamily(t, fs)

	member, err := ms.Create(family.ID, "Frodo", nil, "", true, false)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	if member.Name != "Frodo" {
		t.Errorf("name = %q, want %q", member.Name, "Frodo")
	}
	if !member.IsResponsible || member.IsAdmin {
		t.Errorf("flags = responsible:%v admin:%v, want responsible only", member.IsResponsible, member.IsAdmin)
	}
	if member.Role() != model.RoleResponsible {
		t.Errorf("role = %q, want %q", member.Role(), model.RoleResponsible)
	}

	got, err := ms.GetByID(member.ID)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if got == nil || got.Name != "Frodo" {
		t.Fatalf("get returned %+v, want Frodo", got)
	}

	updated, err := ms.Update(member.ID, "Frodo Baggins", nil, "male")
	if err != nil {
		t.Fatalf("update member: %v", err)
	}
	if updated.Name != "Frodo Baggins" || updated.Gender != "male" {
		t.Errorf("updated = %+v", updated)
	}

	if err := ms.Delete(member.ID); err != nil {
		t.Fatalf("delete member: %v", err)
	}
	got, err = ms.GetByID(member.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}

func TestMemberSetRole(t *testing.T) {
	ms, fs := setupMemberTestDB(t)
	family := testFamily(t, fs)

	member, err := ms.Create(family.ID, "Sam", nil, "", false, false)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	if member.Role() != model.RoleOrdinary {
		t.Fatalf("role = %q, want ordinary", member.Role())
	}

	promoted, err := ms.SetRole(member.ID, true, true)
	if err != nil {
		t.Fatalf("set role: %v", err)
	}
	if promoted.Role() != model.RoleAdmin {
		t.Errorf("role = %q, want admin", promoted.Role())
	}
}

func TestMemberPIN(t *testing.T) {
	ms, fs := setupMemberTestDB(t)
	family := testFamily(t, fs)

	member, err := ms.Create(family.ID, "Merry", nil, "", false, false)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	if member.HasPIN {
		t.Error("new member should not have a PIN")
	}

	if err := ms.SetPIN(member.ID, "fake-hash"); err != nil {
		t.Fatalf("set pin: %v", err)
	}

	got, err := ms.GetByID(member.ID)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if !got.HasPIN {
		t.Error("HasPIN = false after SetPIN")
	}

	hash, err := ms.GetPINHash(member.ID)
	if err != nil {
		t.Fatalf("get pin hash: %v", err)
	}
	if hash != "fake-hash" {
		t.Errorf("hash = %q, want %q", hash, "fake-hash")
	}

	if err := ms.ClearPIN(member.ID); err != nil {
		t.Fatalf("clear pin: %v", err)
	}
	hash, err = ms.GetPINHash(member.ID)
	if err != nil {
		t.Fatalf("get pin hash after clear: %v", err)
	}
	if hash != "" {
		t.Errorf("hash = %q after clear, want empty", hash)
	}
}

func TestMemberNameExists(t *testing.T) {
	ms, fs := setupMemberTestDB(t)
	family := testFamily(t, fs)

	member, err := ms.Create(family.ID, "Pippin", nil, "", false, false)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}

	exists, err := ms.NameExists(family.ID, "Pippin", 0)
	if err != nil {
		t.Fatalf("name exists: %v", err)
	}
	if !exists {
		t.Error("expected Pippin to exist")
	}

	// The member themself is excluded when renaming.
	exists, err = ms.NameExists(family.ID, "Pippin", member.ID)
	if err != nil {
		t.Fatalf("name exists with exclusion: %v", err)
	}
	if exists {
		t.Error("exclusion id should not count as a conflict")
	}

	exists, err = ms.NameExists(family.ID, "Gandalf", 0)
	if err != nil {
		t.Fatalf("name exists: %v", err)
	}
	if exists {
		t.Error("Gandalf should not exist")
	}
}

func TestListByFamily(t *testing.T) {
	ms, fs := setupMemberTestDB(t)
	family := testFamily(t, fs)
	other := testFamilyNamed(t, fs, "Took")

	if _, err := ms.Create(family.ID, "Frodo", nil, "", false, true); err != nil {
		t.Fatalf("create member: %v", err)
	}
	if _, err := ms.Create(family.ID, "Sam", nil, "", false, false); err != nil {
		t.Fatalf("create member: %v", err)
	}
	if _, err := ms.Create(other.ID, "Pippin", nil, "", false, true); err != nil {
		t.Fatalf("create member: %v", err)
	}

	members, err := ms.ListByFamily(family.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	for _, m := range members {
		if m.FamilyID != family.ID {
			t.Errorf("member %q leaked from family %d", m.Name, m.FamilyID)
		}
	}
}

func testFamilyNamed(t *testing.T, fs *FamilyStore, name string) *model.Family {
	t.Helper()
	family, err := fs.Create(name)
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	return family
}
