package model

import (
	"fmt"
	"time"
)

// PermissionKind is the action level of a grant, ordered
// Read < Write < Delete < FullControl.
type PermissionKind string

const (
	PermissionRead        PermissionKind = "read"
	PermissionWrite       PermissionKind = "write"
	PermissionDelete      PermissionKind = "delete"
	PermissionFullControl PermissionKind = "full_control"
)

var permissionRank = map[PermissionKind]int{
	PermissionRead:        1,
	PermissionWrite:       2,
	PermissionDelete:      3,
	PermissionFullControl: 4,
}

// ParsePermissionKind validates a permission kind string from the API or database.
func ParsePermissionKind(s string) (PermissionKind, error) {
	if _, ok := permissionRank[PermissionKind(s)]; !ok {
		return "", fmt.Errorf("unknown permission kind %q", s)
	}
	return PermissionKind(s), nil
}

// Covers reports whether a grant of kind k satisfies a request for other.
// FullControl implies all other kinds.
func (k PermissionKind) Covers(other PermissionKind) bool {
	return permissionRank[k] >= permissionRank[other]
}

// ActivePermission is a delegated grant from a resource owner to another
// family member. TargetID is nil only for whole-space-scope grants covering
// every space in the owner's family. Rows are deactivated, never deleted,
// so audit entries keep a valid reference.
type ActivePermission struct {
	ID            int64          `json:"id"`
	OwnerID       int64          `json:"owner_id"`
	BeneficiaryID int64          `json:"beneficiary_id"`
	Scope         Scope          `json:"scope"`
	TargetID      *int64         `json:"target_id,omitempty"`
	Kind          PermissionKind `json:"kind"`
	GrantedAt     time.Time      `json:"granted_at"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	Active        bool           `json:"active"`
}

// Expired reports whether the permission's expiry has passed at the given time.
// A nil ExpiresAt means no expiry.
func (p *ActivePermission) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}
