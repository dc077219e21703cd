package hierarchy

import (
	"fmt"

	"github.com/dukerupert/bywater/internal/access"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/store"
)

// maxDepth bounds ancestor walks. The folder tree is validated against cycles
// on every move, so hitting this limit means the stored data is corrupt.
const maxDepth = 256

// Index is a read-only view over resource containment and ownership. All
// relations are id references resolved through the stores; walks are bounded,
// never pointer-chasing.
type Index struct {
	spaces     *store.SpaceStore
	categories *store.CategoryStore
	folders    *store.FolderStore
	files      *store.FileStore
}

func NewIndex(spaces *store.SpaceStore, categories *store.CategoryStore, folders *store.FolderStore, files *store.FileStore) *Index {
	return &Index{spaces: spaces, categories: categories, folders: folders, files: files}
}

// OwnerOf returns the owning member of a folder or file. Spaces and
// categories have no single owning member and yield 0.
func (ix *Index) OwnerOf(ref model.ResourceRef) (int64, error) {
	switch ref.Kind {
	case model.ScopeFile:
		f, err := ix.files.GetByID(ref.ID)
		if err != nil {
			return 0, err
		}
		if f == nil {
			return 0, fmt.Errorf("%s: %w", ref, access.ErrNotFound)
		}
		return f.OwnerID, nil
	case model.ScopeFolder:
		f, err := ix.folders.GetByID(ref.ID)
		if err != nil {
			return 0, err
		}
		if f == nil {
			return 0, fmt.Errorf("%s: %w", ref, access.ErrNotFound)
		}
		return f.OwnerID, nil
	case model.ScopeCategory, model.ScopeSpace:
		// Existence check only.
		if _, err := ix.FamilyOf(ref); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unknown scope %q: %w", ref.Kind, access.ErrNotFound)
}

// AncestorsOf returns the refs from the immediate parent up to the space
// root: for a file that is folder, parent folders, category, space.
func (ix *Index) AncestorsOf(ref model.ResourceRef) ([]model.ResourceRef, error) {
	var ancestors []model.ResourceRef

	switch ref.Kind {
	case model.ScopeSpace:
		if _, err := ix.FamilyOf(ref); err != nil {
			return nil, err
		}
		return nil, nil

	case model.ScopeCategory:
		c, err := ix.categories.GetByID(ref.ID)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, fmt.Errorf("%s: %w", ref, access.ErrNotFound)
		}
		return []model.ResourceRef{{Kind: model.ScopeSpace, ID: c.SpaceID}}, nil

	case model.ScopeFolder:
		chain, categoryID, err := ix.folderAncestors(ref.ID)
		if err != nil {
			return nil, err
		}
		ancestors = chain
		c, err := ix.categories.GetByID(categoryID)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, fmt.Errorf("category/%d: %w", categoryID, access.ErrNotFound)
		}
		ancestors = append(ancestors, model.ResourceRef{Kind: model.ScopeCategory, ID: c.ID})
		ancestors = append(ancestors, model.ResourceRef{Kind: model.ScopeSpace, ID: c.SpaceID})
		return ancestors, nil

	case model.ScopeFile:
		f, err := ix.files.GetByID(ref.ID)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, fmt.Errorf("%s: %w", ref, access.ErrNotFound)
		}
		folderRef := model.ResourceRef{Kind: model.ScopeFolder, ID: f.FolderID}
		up, err := ix.AncestorsOf(folderRef)
		if err != nil {
			return nil, err
		}
		return append([]model.ResourceRef{folderRef}, up...), nil
	}
	return nil, fmt.Errorf("unknown scope %q: %w", ref.Kind, access.ErrNotFound)
}

// folderAncestors walks parent links from the folder's parent upward and
// returns the folder refs plus the category the chain roots in.
func (ix *Index) folderAncestors(folderID int64) ([]model.ResourceRef, int64, error) {
	f, err := ix.folders.GetByID(folderID)
	if err != nil {
		return nil, 0, err
	}
	if f == nil {
		return nil, 0, fmt.Errorf("folder/%d: %w", folderID, access.ErrNotFound)
	}

	var chain []model.ResourceRef
	current := f
	for depth := 0; current.ParentID != nil; depth++ {
		if depth >= maxDepth {
			return nil, 0, fmt.Errorf("folder/%d ancestor chain exceeds depth %d: %w", folderID, maxDepth, access.ErrStructuralConflict)
		}
		parent, err := ix.folders.GetByID(*current.ParentID)
		if err != nil {
			return nil, 0, err
		}
		if parent == nil {
			return nil, 0, fmt.Errorf("folder/%d: %w", *current.ParentID, access.ErrNotFound)
		}
		chain = append(chain, model.ResourceRef{Kind: model.ScopeFolder, ID: parent.ID})
		current = parent
	}
	return chain, current.CategoryID, nil
}

// Chain returns the ref itself followed by its ancestors, which is the scope
// set a permission lookup has to match against.
func (ix *Index) Chain(ref model.ResourceRef) ([]model.ResourceRef, error) {
	ancestors, err := ix.AncestorsOf(ref)
	if err != nil {
		return nil, err
	}
	return append([]model.ResourceRef{ref}, ancestors...), nil
}

// FamilyOf resolves the family the resource's space belongs to, used as the
// cross-family fence in authorization.
func (ix *Index) FamilyOf(ref model.ResourceRef) (int64, error) {
	if ref.Kind == model.ScopeSpace {
		sp, err := ix.spaces.GetByID(ref.ID)
		if err != nil {
			return 0, err
		}
		if sp == nil {
			return 0, fmt.Errorf("%s: %w", ref, access.ErrNotFound)
		}
		return sp.FamilyID, nil
	}

	ancestors, err := ix.AncestorsOf(ref)
	if err != nil {
		return 0, err
	}
	for _, a := range ancestors {
		if a.Kind == model.ScopeSpace {
			sp, err := ix.spaces.GetByID(a.ID)
			if err != nil {
				return 0, err
			}
			if sp == nil {
				return 0, fmt.Errorf("%s: %w", a, access.ErrNotFound)
			}
			return sp.FamilyID, nil
		}
	}
	return 0, fmt.Errorf("%s has no space ancestor: %w", ref, access.ErrStructuralConflict)
}

// IsDescendant reports whether resource lies strictly beneath candidateAncestor.
func (ix *Index) IsDescendant(candidateAncestor, resource model.ResourceRef) (bool, error) {
	ancestors, err := ix.AncestorsOf(resource)
	if err != nil {
		return false, err
	}
	for _, a := range ancestors {
		if a == candidateAncestor {
			return true, nil
		}
	}
	return false, nil
}

// ValidateMove checks a proposed folder re-parenting before it is committed.
// It rejects cross-category moves and any parent assignment that would create
// a cycle, walking the proposed ancestor chain rather than trusting the
// caller. On error the hierarchy is left unchanged.
func (ix *Index) ValidateMove(folderID int64, newParentID *int64) error {
	folder, err := ix.folders.GetByID(folderID)
	if err != nil {
		return err
	}
	if folder == nil {
		return fmt.Errorf("folder/%d: %w", folderID, access.ErrNotFound)
	}
	if newParentID == nil {
		return nil
	}
	if *newParentID == folderID {
		return fmt.Errorf("folder/%d cannot be its own parent: %w", folderID, access.ErrStructuralConflict)
	}

	parent, err := ix.folders.GetByID(*newParentID)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("folder/%d: %w", *newParentID, access.ErrNotFound)
	}
	if parent.CategoryID != folder.CategoryID {
		return fmt.Errorf("folder/%d belongs to category/%d, not category/%d: %w",
			*newParentID, parent.CategoryID, folder.CategoryID, access.ErrStructuralConflict)
	}

	// Walk upward from the proposed parent; finding the folder itself means
	// the move would close a cycle.
	current := parent
	for depth := 0; ; depth++ {
		if depth >= maxDepth {
			return fmt.Errorf("folder/%d ancestor chain exceeds depth %d: %w", *newParentID, maxDepth, access.ErrStructuralConflict)
		}
		if current.ID == folderID {
			return fmt.Errorf("moving folder/%d under its own descendant folder/%d: %w",
				folderID, *newParentID, access.ErrStructuralConflict)
		}
		if current.ParentID == nil {
			return nil
		}
		next, err := ix.folders.GetByID(*current.ParentID)
		if err != nil {
			return err
		}
		if next == nil {
			return fmt.Errorf("folder/%d: %w", *current.ParentID, access.ErrNotFound)
		}
		current = next
	}
}
