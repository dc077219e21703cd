package access_test

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/bywater/internal/access"
	"github.com/dukerupert/bywater/internal/database"
	"github.com/dukerupert/bywater/internal/hierarchy"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/store"
)

// world is a family with one space, one category, and a two-level folder
// tree owned by the owner member, wired into the real stores.
type world struct {
	grants   *access.Grants
	resolver *access.Resolver
	families *store.FamilyStore
	members  *store.MemberStore
	perms    *store.PermissionStore
	audit    *store.AuditStore

	owner      *model.FamilyMember
	other      *model.FamilyMember
	admin      *model.FamilyMember
	spaceID    int64
	categoryID int64
	rootFolder *model.Folder
	subFolder  *model.Folder
	file       *model.File
}

func setupWorld(t *testing.T) *world {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fs := store.NewFamilyStore(db)
	ms := store.NewMemberStore(db)
	spaces := store.NewSpaceStore(db)
	categories := store.NewCategoryStore(db)
	folders := store.NewFolderStore(db)
	files := store.NewFileStore(db)
	perms := store.NewPermissionStore(db)
	audit := store.NewAuditStore(db)

	family, err := fs.Create("Baggins")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	admin, err := ms.Create(family.ID, "Bilbo", nil, "", false, true)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	owner, err := ms.Create(family.ID, "Frodo", nil, "", false, false)
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	other, err := ms.Create(family.ID, "Sam", nil, "", false, false)
	if err != nil {
		t.Fatalf("create other: %v", err)
	}

	space, err := spaces.Create(family.ID, "Home")
	if err != nil {
		t.Fatalf("create space: %v", err)
	}
	category, err := categories.Create(space.ID, "Photos")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	root, err := folders.Create(category.ID, nil, owner.ID, "2024")
	if err != nil {
		t.Fatalf("create root folder: %v", err)
	}
	sub, err := folders.Create(category.ID, &root.ID, owner.ID, "Summer")
	if err != nil {
		t.Fatalf("create sub folder: %v", err)
	}
	file, err := files.Create(sub.ID, owner.ID, owner.ID, "beach.jpg", 2048)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}

	index := hierarchy.NewIndex(spaces, categories, folders, files)
	logger := slog.Default()
	grants := access.NewGrants(perms, ms, audit, index, logger)
	resolver := access.NewResolver(ms, index, grants)

	return &world{
		grants:     grants,
		resolver:   resolver,
		families:   fs,
		members:    ms,
		perms:      perms,
		audit:      audit,
		owner:      owner,
		other:      other,
		admin:      admin,
		spaceID:    space.ID,
		categoryID: category.ID,
		rootFolder: root,
		subFolder:  sub,
		file:       file,
	}
}

func TestGrantAndRevokeRoundTrip(t *testing.T) {
	w := setupWorld(t)
	now := time.Now().UTC()

	perm, err := w.grants.Grant(w.owner.ID, w.other.ID, model.ScopeFolder, &w.rootFolder.ID, model.PermissionRead, nil, now)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	ref := model.ResourceRef{Kind: model.ScopeFolder, ID: w.rootFolder.ID}
	granted, err := w.grants.IsGranted(w.other.ID, ref, model.PermissionRead, now)
	if err != nil {
		t.Fatalf("is granted: %v", err)
	}
	if !granted {
		t.Fatal("grant not visible")
	}

	if err := w.grants.Revoke(perm.ID, w.owner.ID, "done", now); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	granted, err = w.grants.IsGranted(w.other.ID, ref, model.PermissionRead, now)
	if err != nil {
		t.Fatalf("is granted: %v", err)
	}
	if granted {
		t.Error("revoked grant still honored")
	}

	trail, err := w.audit.ListForPermission(perm.ID)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	if len(trail) != 2 || trail[0].Action != model.AuditGranted || trail[1].Action != model.AuditRevoked {
		t.Errorf("trail = %+v, want granted then revoked", trail)
	}
}

func TestGrantScopeInheritance(t *testing.T) {
	w := setupWorld(t)
	now := time.Now().UTC()

	// A grant on the root folder covers the subfolder and the file.
	if _, err := w.grants.Grant(w.owner.ID, w.other.ID, model.ScopeFolder, &w.rootFolder.ID, model.PermissionWrite, nil, now); err != nil {
		t.Fatalf("grant: %v", err)
	}

	cases := []struct {
		name string
		ref  model.ResourceRef
		want bool
	}{
		{"folder itself", model.ResourceRef{Kind: model.ScopeFolder, ID: w.rootFolder.ID}, true},
		{"nested folder", model.ResourceRef{Kind: model.ScopeFolder, ID: w.subFolder.ID}, true},
		{"nested file", model.ResourceRef{Kind: model.ScopeFile, ID: w.file.ID}, true},
		{"the category above", model.ResourceRef{Kind: model.ScopeCategory, ID: w.categoryID}, false},
	}
	for _, tc := range cases {
		granted, err := w.grants.IsGranted(w.other.ID, tc.ref, model.PermissionWrite, now)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if granted != tc.want {
			t.Errorf("%s: granted = %v, want %v", tc.name, granted, tc.want)
		}
	}
}

func TestGrantKindOrdering(t *testing.T) {
	w := setupWorld(t)
	now := time.Now().UTC()

	if _, err := w.grants.Grant(w.owner.ID, w.other.ID, model.ScopeFolder, &w.rootFolder.ID, model.PermissionWrite, nil, now); err != nil {
		t.Fatalf("grant: %v", err)
	}

	ref := model.ResourceRef{Kind: model.ScopeFolder, ID: w.rootFolder.ID}

	read, err := w.grants.IsGranted(w.other.ID, ref, model.PermissionRead, now)
	if err != nil {
		t.Fatalf("is granted read: %v", err)
	}
	if !read {
		t.Error("write grant does not cover read")
	}

	del, err := w.grants.IsGranted(w.other.ID, ref, model.PermissionDelete, now)
	if err != nil {
		t.Fatalf("is granted delete: %v", err)
	}
	if del {
		t.Error("write grant covers delete")
	}
}

func TestGrantRejectsNonOwner(t *testing.T) {
	w := setupWorld(t)
	now := time.Now().UTC()

	// Sam does not own the folder, so Sam cannot grant access to it.
	_, err := w.grants.Grant(w.other.ID, w.admin.ID, model.ScopeFolder, &w.rootFolder.ID, model.PermissionRead, nil, now)
	if !errors.Is(err, access.ErrPermissionDenied) {
		t.Errorf("error = %v, want ErrPermissionDenied", err)
	}
}

func TestGrantRejectsSelfDelegation(t *testing.T) {
	w := setupWorld(t)
	now := time.Now().UTC()

	_, err := w.grants.Grant(w.owner.ID, w.owner.ID, model.ScopeFolder, &w.rootFolder.ID, model.PermissionRead, nil, now)
	if !errors.Is(err, access.ErrInvalidTransition) {
		t.Errorf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestGrantNilTargetOnlyAtSpaceScope(t *testing.T) {
	w := setupWorld(t)
	now := time.Now().UTC()

	_, err := w.grants.Grant(w.owner.ID, w.other.ID, model.ScopeFolder, nil, model.PermissionRead, nil, now)
	if !errors.Is(err, access.ErrStructuralConflict) {
		t.Errorf("error = %v, want ErrStructuralConflict", err)
	}

	// Space-wide grants are role-gated; an ordinary member cannot issue one.
	_, err = w.grants.Grant(w.owner.ID, w.other.ID, model.ScopeSpace, nil, model.PermissionRead, nil, now)
	if !errors.Is(err, access.ErrPermissionDenied) {
		t.Errorf("error = %v, want ErrPermissionDenied", err)
	}

	// An admin can, and it covers every resource under every space,
	// including files owned by other members.
	if _, err := w.grants.Grant(w.admin.ID, w.other.ID, model.ScopeSpace, nil, model.PermissionRead, nil, now); err != nil {
		t.Fatalf("admin space-wide grant: %v", err)
	}
	granted, err := w.grants.IsGranted(w.other.ID, model.ResourceRef{Kind: model.ScopeFile, ID: w.file.ID}, model.PermissionRead, now)
	if err != nil {
		t.Fatalf("is granted: %v", err)
	}
	if !granted {
		t.Error("space-wide grant does not reach a leaf file")
	}
}

func TestGrantCategoryScopeReachesLeaves(t *testing.T) {
	w := setupWorld(t)
	now := time.Now().UTC()

	// Category grants are issued by admins, not by the member owning the
	// files underneath. The grant still has to cover those files.
	if _, err := w.grants.Grant(w.admin.ID, w.other.ID, model.ScopeCategory, &w.categoryID, model.PermissionRead, nil, now); err != nil {
		t.Fatalf("admin category grant: %v", err)
	}

	cases := []struct {
		name string
		ref  model.ResourceRef
		kind model.PermissionKind
		want bool
	}{
		{"category itself", model.ResourceRef{Kind: model.ScopeCategory, ID: w.categoryID}, model.PermissionRead, true},
		{"folder beneath", model.ResourceRef{Kind: model.ScopeFolder, ID: w.subFolder.ID}, model.PermissionRead, true},
		{"file beneath", model.ResourceRef{Kind: model.ScopeFile, ID: w.file.ID}, model.PermissionRead, true},
		{"file beneath, write", model.ResourceRef{Kind: model.ScopeFile, ID: w.file.ID}, model.PermissionWrite, false},
	}
	for _, tc := range cases {
		granted, err := w.grants.IsGranted(w.other.ID, tc.ref, tc.kind, now)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if granted != tc.want {
			t.Errorf("%s: granted = %v, want %v", tc.name, granted, tc.want)
		}
	}
}

func TestRevokeAuthority(t *testing.T) {
	w := setupWorld(t)
	now := time.Now().UTC()

	perm, err := w.grants.Grant(w.owner.ID, w.other.ID, model.ScopeFolder, &w.rootFolder.ID, model.PermissionRead, nil, now)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	// A third ordinary member may not revoke.
	outsider, err := w.members.Create(w.owner.FamilyID, "Merry", nil, "", false, false)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	err = w.grants.Revoke(perm.ID, outsider.ID, "", now)
	if !errors.Is(err, access.ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}

	// The refusal itself is on the record.
	trail, err := w.audit.ListForPermission(perm.ID)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	last := trail[len(trail)-1]
	if last.Action != model.AuditDenied || last.ActorID != outsider.ID {
		t.Errorf("last entry = %+v, want denied by %d", last, outsider.ID)
	}

	// The beneficiary may relinquish their own grant.
	if err := w.grants.Revoke(perm.ID, w.other.ID, "", now); err != nil {
		t.Fatalf("beneficiary revoke: %v", err)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	w := setupWorld(t)
	now := time.Now().UTC()

	perm, err := w.grants.Grant(w.owner.ID, w.other.ID, model.ScopeFolder, &w.rootFolder.ID, model.PermissionRead, nil, now)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	if err := w.grants.Revoke(perm.ID, w.owner.ID, "", now); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	// Second revoke is a silent no-op; no duplicate audit entry.
	if err := w.grants.Revoke(perm.ID, w.owner.ID, "", now); err != nil {
		t.Fatalf("second revoke: %v", err)
	}

	trail, err := w.audit.ListForPermission(perm.ID)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	revoked := 0
	for _, e := range trail {
		if e.Action == model.AuditRevoked {
			revoked++
		}
	}
	if revoked != 1 {
		t.Errorf("revoked entries = %d, want 1", revoked)
	}
}

func TestSweepExpired(t *testing.T) {
	w := setupWorld(t)
	now := time.Now().UTC()
	soon := now.Add(time.Minute)

	perm, err := w.grants.Grant(w.owner.ID, w.other.ID, model.ScopeFolder, &w.rootFolder.ID, model.PermissionRead, &soon, now)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	ref := model.ResourceRef{Kind: model.ScopeFolder, ID: w.rootFolder.ID}
	later := now.Add(2 * time.Minute)

	// Before the sweep runs, a lookup past the expiry already refuses the
	// stale grant.
	granted, err := w.grants.IsGranted(w.other.ID, ref, model.PermissionRead, later)
	if err != nil {
		t.Fatalf("is granted: %v", err)
	}
	if granted {
		t.Error("expired grant honored before sweep")
	}

	n, err := w.grants.SweepExpired(later)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}

	// Sweeping again finds nothing and writes nothing.
	n, err = w.grants.SweepExpired(later)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep = %d, want 0", n)
	}

	trail, err := w.audit.ListForPermission(perm.ID)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	expired := 0
	for _, e := range trail {
		if e.Action == model.AuditExpired {
			expired++
			if e.ActorID != 0 {
				t.Errorf("expiry actor = %d, want system actor 0", e.ActorID)
			}
		}
	}
	if expired != 1 {
		t.Errorf("expired entries = %d, want exactly 1", expired)
	}
}
