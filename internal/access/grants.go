package access

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/store"
)

// Hierarchy resolves resource containment and ownership. Implemented by
// hierarchy.Index; declared here so the access core stays independent of the
// index's storage wiring.
type Hierarchy interface {
	// OwnerOf returns the owning member id, or 0 for nodes without a single
	// owning member (spaces and categories).
	OwnerOf(ref model.ResourceRef) (int64, error)
	// Chain returns the ref itself followed by its ancestors up to the space
	// root.
	Chain(ref model.ResourceRef) ([]model.ResourceRef, error)
	// FamilyOf returns the family owning the space the ref lives under.
	FamilyOf(ref model.ResourceRef) (int64, error)
}

// Grants owns the active-permission lifecycle: direct grants, revocation,
// scoped lookups, and the expiry sweep. Every mutation lands in the audit log.
type Grants struct {
	perms   *store.PermissionStore
	members *store.MemberStore
	audit   *store.AuditStore
	index   Hierarchy
	logger  *slog.Logger
}

func NewGrants(perms *store.PermissionStore, members *store.MemberStore, audit *store.AuditStore, index Hierarchy, logger *slog.Logger) *Grants {
	return &Grants{perms: perms, members: members, audit: audit, index: index, logger: logger}
}

// Grant creates an active permission from owner to beneficiary. For folder and
// file scope the owner must actually own the target; space and category nodes
// have no owning member, so grants there are gated on the owner's role
// instead. A nil target is legal only at space scope and means every space in
// the owner's family.
func (g *Grants) Grant(ownerID, beneficiaryID int64, scope model.Scope, targetID *int64, kind model.PermissionKind, expiresAt *time.Time, now time.Time) (*model.ActivePermission, error) {
	if ownerID == beneficiaryID {
		return nil, &InvalidTransitionError{Reason: "self-delegation"}
	}

	owner, err := g.members.GetByID(ownerID)
	if err != nil {
		return nil, fmt.Errorf("load owner: %w", err)
	}
	if owner == nil {
		return nil, fmt.Errorf("owner %d: %w", ownerID, ErrNotFound)
	}
	beneficiary, err := g.members.GetByID(beneficiaryID)
	if err != nil {
		return nil, fmt.Errorf("load beneficiary: %w", err)
	}
	if beneficiary == nil {
		return nil, fmt.Errorf("beneficiary %d: %w", beneficiaryID, ErrNotFound)
	}
	if owner.FamilyID != beneficiary.FamilyID {
		return nil, &InvalidTransitionError{Reason: "cross-family delegation"}
	}

	if err := g.validateTarget(owner, scope, targetID); err != nil {
		return nil, err
	}

	perm, err := g.perms.Create(ownerID, beneficiaryID, scope, targetID, kind, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("save permission: %w", err)
	}

	detail := fmt.Sprintf("%s on %s to member %d", kind, describeTarget(scope, targetID), beneficiaryID)
	if _, err := g.audit.Append(&perm.ID, nil, model.AuditGranted, ownerID, detail, now); err != nil {
		return nil, fmt.Errorf("audit grant: %w", err)
	}
	return perm, nil
}

func (g *Grants) validateTarget(owner *model.FamilyMember, scope model.Scope, targetID *int64) error {
	if targetID == nil {
		if scope != model.ScopeSpace {
			return fmt.Errorf("%s scope requires a target: %w", scope, ErrStructuralConflict)
		}
		if !CanManageFamily(owner) {
			return fmt.Errorf("space-wide grant requires admin or responsible role: %w", ErrPermissionDenied)
		}
		return nil
	}

	ref := model.ResourceRef{Kind: scope, ID: *targetID}
	familyID, err := g.index.FamilyOf(ref)
	if err != nil {
		return err
	}
	if familyID != owner.FamilyID {
		return &InvalidTransitionError{Reason: "cross-family target"}
	}

	switch scope {
	case model.ScopeSpace, model.ScopeCategory:
		// No single owning member at these scopes; role-gated instead.
		if !CanManageFamily(owner) {
			return fmt.Errorf("%s grant requires admin or responsible role: %w", scope, ErrPermissionDenied)
		}
	case model.ScopeFolder, model.ScopeFile:
		resOwner, err := g.index.OwnerOf(ref)
		if err != nil {
			return err
		}
		if resOwner != owner.ID {
			return fmt.Errorf("member %d does not own %s: %w", owner.ID, ref, ErrPermissionDenied)
		}
	}
	return nil
}

// Revoke deactivates a permission. Authority: the owner, an admin, or the
// beneficiary relinquishing their own grant. The row stays in place for audit
// references; revoking an already-inactive permission is a no-op.
func (g *Grants) Revoke(permissionID, actorID int64, reason string, now time.Time) error {
	perm, err := g.perms.GetByID(permissionID)
	if err != nil {
		return fmt.Errorf("load permission: %w", err)
	}
	if perm == nil {
		return fmt.Errorf("permission %d: %w", permissionID, ErrNotFound)
	}

	actor, err := g.members.GetByID(actorID)
	if err != nil {
		return fmt.Errorf("load actor: %w", err)
	}
	if actor == nil {
		return fmt.Errorf("actor %d: %w", actorID, ErrNotFound)
	}

	if actorID != perm.OwnerID && actorID != perm.BeneficiaryID && !actor.IsAdmin {
		detail := fmt.Sprintf("revoke of permission %d refused", permissionID)
		if _, err := g.audit.Append(&perm.ID, nil, model.AuditDenied, actorID, detail, now); err != nil {
			g.logger.Error("audit denied revoke", "permission_id", permissionID, "error", err)
		}
		return fmt.Errorf("member %d may not revoke permission %d: %w", actorID, permissionID, ErrPermissionDenied)
	}

	won, err := g.perms.Deactivate(permissionID)
	if err != nil {
		return fmt.Errorf("deactivate permission: %w", err)
	}
	if !won {
		// Already revoked or expired; nothing further to record.
		return nil
	}

	detail := "revoked"
	if reason != "" {
		detail = "revoked: " + reason
	}
	if _, err := g.audit.Append(&perm.ID, nil, model.AuditRevoked, actorID, detail, now); err != nil {
		return fmt.Errorf("audit revoke: %w", err)
	}
	return nil
}

// FindCovering returns an active, unexpired permission that satisfies the
// requested action on the resource, or nil. A permission covers the resource
// when its target is the resource itself or an ancestor scope and its kind is
// at least the requested kind. Folder and file grants additionally have to
// come from the resource's owner; space and category grants were role-gated
// at grant time (those nodes have no owning member), so any grantor counts.
func (g *Grants) FindCovering(beneficiaryID int64, ref model.ResourceRef, kind model.PermissionKind, now time.Time) (*model.ActivePermission, error) {
	resOwner, err := g.index.OwnerOf(ref)
	if err != nil {
		return nil, err
	}
	chain, err := g.index.Chain(ref)
	if err != nil {
		return nil, err
	}

	perms, err := g.perms.ListActiveForBeneficiary(beneficiaryID)
	if err != nil {
		return nil, fmt.Errorf("load permissions: %w", err)
	}
	for i := range perms {
		p := &perms[i]
		if p.Expired(now) {
			// Sweep hasn't caught this one yet; never honor a stale grant.
			continue
		}
		if resOwner != 0 && p.OwnerID != resOwner && !roleGatedScope(p.Scope) {
			continue
		}
		if !p.Kind.Covers(kind) {
			continue
		}
		if permissionCovers(p, chain) {
			return p, nil
		}
	}
	return nil, nil
}

// FindCoveringAllSpaces returns an active, unexpired whole-space permission
// (nil target) whose kind is at least the requested kind, or nil.
func (g *Grants) FindCoveringAllSpaces(beneficiaryID int64, kind model.PermissionKind, now time.Time) (*model.ActivePermission, error) {
	perms, err := g.perms.ListActiveForBeneficiary(beneficiaryID)
	if err != nil {
		return nil, fmt.Errorf("load permissions: %w", err)
	}
	for i := range perms {
		p := &perms[i]
		if p.Expired(now) {
			continue
		}
		if p.Scope == model.ScopeSpace && p.TargetID == nil && p.Kind.Covers(kind) {
			return p, nil
		}
	}
	return nil, nil
}

// roleGatedScope reports whether grants at this scope are authorized by role
// rather than ownership.
func roleGatedScope(s model.Scope) bool {
	return s == model.ScopeSpace || s == model.ScopeCategory
}

// IsGranted reports whether the beneficiary holds a covering delegated
// permission for the action on the resource at the given instant.
func (g *Grants) IsGranted(beneficiaryID int64, ref model.ResourceRef, kind model.PermissionKind, now time.Time) (bool, error) {
	p, err := g.FindCovering(beneficiaryID, ref, kind, now)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

func permissionCovers(p *model.ActivePermission, chain []model.ResourceRef) bool {
	for _, ref := range chain {
		if p.Scope != ref.Kind {
			continue
		}
		if p.TargetID == nil {
			// Whole-space grant; the chain only contains in-family refs.
			return p.Scope == model.ScopeSpace
		}
		if *p.TargetID == ref.ID {
			return true
		}
	}
	return false
}

// SweepExpired deactivates every active permission whose expiry has passed and
// records one Expired audit entry per permission. The compare-and-set in the
// store makes a second sweep at the same instant a no-op.
func (g *Grants) SweepExpired(now time.Time) (int, error) {
	ids, err := g.perms.ListExpired(now)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	count := 0
	for _, id := range ids {
		won, err := g.perms.Deactivate(id)
		if err != nil {
			return count, fmt.Errorf("deactivate permission %d: %w", id, err)
		}
		if !won {
			continue
		}
		permID := id
		if _, err := g.audit.Append(&permID, nil, model.AuditExpired, 0, "expired by sweep", now); err != nil {
			return count, fmt.Errorf("audit expiry of permission %d: %w", id, err)
		}
		count++
	}
	return count, nil
}

func describeTarget(scope model.Scope, targetID *int64) string {
	if targetID == nil {
		return "all spaces"
	}
	return fmt.Sprintf("%s/%d", scope, *targetID)
}
