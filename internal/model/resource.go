package model

import (
	"fmt"
	"time"
)

// Scope is the granularity level a permission or request applies to.
type Scope string

const (
	ScopeSpace    Scope = "space"
	ScopeCategory Scope = "category"
	ScopeFolder   Scope = "folder"
	ScopeFile     Scope = "file"
)

// ParseScope validates a scope string from the API or database.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeSpace, ScopeCategory, ScopeFolder, ScopeFile:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// ResourceRef identifies a node in the resource hierarchy.
type ResourceRef struct {
	Kind Scope `json:"kind"`
	ID   int64 `json:"id"`
}

func (r ResourceRef) String() string {
	return fmt.Sprintf("%s/%d", r.Kind, r.ID)
}

type Space struct {
	ID        int64     `json:"id"`
	FamilyID  int64     `json:"family_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Category struct {
	ID        int64     `json:"id"`
	SpaceID   int64     `json:"space_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Folder is a node in the per-category folder tree. ParentID is nil at the
// category root.
type Folder struct {
	ID         int64     `json:"id"`
	CategoryID int64     `json:"category_id"`
	ParentID   *int64    `json:"parent_id,omitempty"`
	OwnerID    int64     `json:"owner_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type File struct {
	ID        int64     `json:"id"`
	FolderID  int64     `json:"folder_id"`
	OwnerID   int64     `json:"owner_id"`
	CreatorID int64     `json:"creator_id"`
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
