package hierarchy

import (
	"errors"
	"testing"

	"github.com/dukerupert/bywater/internal/access"
	"github.com/dukerupert/bywater/internal/database"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/store"
)

type fixture struct {
	index   *Index
	folders *store.FolderStore
	files   *store.FileStore

	familyID   int64
	memberID   int64
	spaceID    int64
	categoryID int64
}

func setupIndex(t *testing.T) *fixture {
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

	family, err := fs.Create("Baggins")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	member, err := ms.Create(family.ID, "Frodo", nil, "", false, true)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	space, err := spaces.Create(family.ID, "Home")
	if err != nil {
		t.Fatalf("create space: %v", err)
	}
	category, err := categories.Create(space.ID, "Photos")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}

	return &fixture{
		index:      NewIndex(spaces, categories, folders, files),
		folders:    folders,
		files:      files,
		familyID:   family.ID,
		memberID:   member.ID,
		spaceID:    space.ID,
		categoryID: category.ID,
	}
}

func (f *fixture) folder(t *testing.T, parentID *int64, name string) *model.Folder {
	t.Helper()
	folder, err := f.folders.Create(f.categoryID, parentID, f.memberID, name)
	if err != nil {
		t.Fatalf("create folder %q: %v", name, err)
	}
	return folder
}

func TestChainForNestedFile(t *testing.T) {
	f := setupIndex(t)

	root := f.folder(t, nil, "2024")
	child := f.folder(t, &root.ID, "Summer")
	file, err := f.files.Create(child.ID, f.memberID, f.memberID, "beach.jpg", 1024)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}

	chain, err := f.index.Chain(model.ResourceRef{Kind: model.ScopeFile, ID: file.ID})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}

	want := []model.ResourceRef{
		{Kind: model.ScopeFile, ID: file.ID},
		{Kind: model.ScopeFolder, ID: child.ID},
		{Kind: model.ScopeFolder, ID: root.ID},
		{Kind: model.ScopeCategory, ID: f.categoryID},
		{Kind: model.ScopeSpace, ID: f.spaceID},
	}
	if len(chain) != len(want) {
		t.Fatalf("chain length = %d, want %d (%v)", len(chain), len(want), chain)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Errorf("chain[%d] = %v, want %v", i, chain[i], want[i])
		}
	}
}

func TestOwnerOf(t *testing.T) {
	f := setupIndex(t)
	folder := f.folder(t, nil, "Docs")

	owner, err := f.index.OwnerOf(model.ResourceRef{Kind: model.ScopeFolder, ID: folder.ID})
	if err != nil {
		t.Fatalf("owner of folder: %v", err)
	}
	if owner != f.memberID {
		t.Errorf("owner = %d, want %d", owner, f.memberID)
	}

	// Spaces and categories have no single owning member.
	owner, err = f.index.OwnerOf(model.ResourceRef{Kind: model.ScopeCategory, ID: f.categoryID})
	if err != nil {
		t.Fatalf("owner of category: %v", err)
	}
	if owner != 0 {
		t.Errorf("category owner = %d, want 0", owner)
	}

	_, err = f.index.OwnerOf(model.ResourceRef{Kind: model.ScopeFolder, ID: 9999})
	if !errors.Is(err, access.ErrNotFound) {
		t.Errorf("missing folder error = %v, want ErrNotFound", err)
	}
}

func TestFamilyOf(t *testing.T) {
	f := setupIndex(t)
	folder := f.folder(t, nil, "Docs")

	familyID, err := f.index.FamilyOf(model.ResourceRef{Kind: model.ScopeFolder, ID: folder.ID})
	if err != nil {
		t.Fatalf("family of: %v", err)
	}
	if familyID != f.familyID {
		t.Errorf("family = %d, want %d", familyID, f.familyID)
	}
}

func TestValidateMoveRejectsSelfParent(t *testing.T) {
	f := setupIndex(t)
	folder := f.folder(t, nil, "Docs")

	err := f.index.ValidateMove(folder.ID, &folder.ID)
	if !errors.Is(err, access.ErrStructuralConflict) {
		t.Errorf("self-parent error = %v, want ErrStructuralConflict", err)
	}
}

func TestValidateMoveRejectsCycle(t *testing.T) {
	f := setupIndex(t)

	// a -> b -> c, then try to hang a under c.
	a := f.folder(t, nil, "a")
	b := f.folder(t, &a.ID, "b")
	c := f.folder(t, &b.ID, "c")

	err := f.index.ValidateMove(a.ID, &c.ID)
	if !errors.Is(err, access.ErrStructuralConflict) {
		t.Fatalf("cycle error = %v, want ErrStructuralConflict", err)
	}

	// Rejection must leave the tree untouched.
	got, err := f.folders.GetByID(a.ID)
	if err != nil {
		t.Fatalf("get folder: %v", err)
	}
	if got.ParentID != nil {
		t.Errorf("folder a was reparented despite rejected move")
	}
}

func TestValidateMoveRejectsCrossCategory(t *testing.T) {
	f := setupIndex(t)
	folder := f.folder(t, nil, "Docs")

	db := f.index.categories
	otherCat, err := db.Create(f.spaceID, "Music")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	foreign, err := f.folders.Create(otherCat.ID, nil, f.memberID, "Albums")
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}

	err = f.index.ValidateMove(folder.ID, &foreign.ID)
	if !errors.Is(err, access.ErrStructuralConflict) {
		t.Errorf("cross-category error = %v, want ErrStructuralConflict", err)
	}
}

func TestValidateMoveAllowsLegalReparent(t *testing.T) {
	f := setupIndex(t)
	a := f.folder(t, nil, "a")
	b := f.folder(t, &a.ID, "b")
	c := f.folder(t, nil, "c")

	if err := f.index.ValidateMove(b.ID, &c.ID); err != nil {
		t.Errorf("legal move rejected: %v", err)
	}
	if err := f.index.ValidateMove(b.ID, nil); err != nil {
		t.Errorf("move to root rejected: %v", err)
	}
}

func TestIsDescendant(t *testing.T) {
	f := setupIndex(t)
	a := f.folder(t, nil, "a")
	b := f.folder(t, &a.ID, "b")

	refA := model.ResourceRef{Kind: model.ScopeFolder, ID: a.ID}
	refB := model.ResourceRef{Kind: model.ScopeFolder, ID: b.ID}

	yes, err := f.index.IsDescendant(refA, refB)
	if err != nil {
		t.Fatalf("is descendant: %v", err)
	}
	if !yes {
		t.Error("b should descend from a")
	}

	no, err := f.index.IsDescendant(refB, refA)
	if err != nil {
		t.Fatalf("is descendant: %v", err)
	}
	if no {
		t.Error("a should not descend from b")
	}

	// A resource is not its own descendant.
	self, err := f.index.IsDescendant(refA, refA)
	if err != nil {
		t.Fatalf("is descendant: %v", err)
	}
	if self {
		t.Error("descent is strict")
	}
}
