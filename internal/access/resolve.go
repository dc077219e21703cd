package access

import (
	"fmt"
	"time"

	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/store"
)

// Decision is the outcome of an authorization check with the rule that
// produced it.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func allow(reason string) Decision {
	return Decision{Allowed: true, Reason: reason}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Resolver composes the intrinsic role rules with delegated grants into a
// single effective-access decision.
type Resolver struct {
	members *store.MemberStore
	index   Hierarchy
	grants  *Grants
}

func NewResolver(members *store.MemberStore, index Hierarchy, grants *Grants) *Resolver {
	return &Resolver{members: members, index: index, grants: grants}
}

// Authorize decides whether the actor may perform the action on the resource.
// The actor's member record is loaded fresh on every call; role flags are
// never trusted from the session. Evaluation order: cross-family fence,
// ownership, role, then delegation, short-circuiting on the first allow.
func (r *Resolver) Authorize(actorID int64, ref model.ResourceRef, action model.PermissionKind, now time.Time) (Decision, error) {
	actor, err := r.members.GetByID(actorID)
	if err != nil {
		return Decision{}, fmt.Errorf("load actor: %w", err)
	}
	if actor == nil {
		return Decision{}, fmt.Errorf("actor %d: %w", actorID, ErrNotFound)
	}

	familyID, err := r.index.FamilyOf(ref)
	if err != nil {
		return Decision{}, err
	}
	if familyID != actor.FamilyID {
		return deny("cross-family"), nil
	}

	ownerID, err := r.index.OwnerOf(ref)
	if err != nil {
		return Decision{}, err
	}
	if ownerID != 0 && ownerID == actorID {
		return allow("owner"), nil
	}

	if action == model.PermissionRead && CanSeeAllFiles(actor) {
		return allow("role:visibility"), nil
	}
	if actor.IsAdmin {
		return allow("role:admin"), nil
	}

	granted, err := r.grants.IsGranted(actorID, ref, action, now)
	if err != nil {
		return Decision{}, err
	}
	if granted {
		return allow("delegation"), nil
	}
	return deny("no-grant"), nil
}
