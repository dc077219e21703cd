package access

import "github.com/dukerupert/bywater/internal/model"

// Intrinsic role and ownership rules. These are pure predicates over member
// records: they never consult delegation state, so the resolver can evaluate
// them before scanning any permissions.

// CanManageFamily reports whether the actor may manage family-level settings.
func CanManageFamily(actor *model.FamilyMember) bool {
	return actor.IsAdmin || actor.IsResponsible
}

// CanManagePermissions reports whether the actor may decide delegation
// requests and revoke grants on other members' behalf.
func CanManagePermissions(actor *model.FamilyMember) bool {
	return actor.IsAdmin
}

// CanSeeAllFiles reports whether the actor has read visibility over every
// resource in the family.
func CanSeeAllFiles(actor *model.FamilyMember) bool {
	return actor.IsAdmin || actor.IsResponsible
}

// CanAccessMember reports whether the actor may view the target member's
// profile.
func CanAccessMember(actor, target *model.FamilyMember) bool {
	return actor.ID == target.ID || actor.IsAdmin || actor.IsResponsible
}

// CanModifyMember reports whether the actor may edit the target member.
// A responsible member may edit anyone except admins.
func CanModifyMember(actor, target *model.FamilyMember) bool {
	if actor.ID == target.ID || actor.IsAdmin {
		return true
	}
	return actor.IsResponsible && !target.IsAdmin
}

// CanChangeRole reports whether the actor may change the target's role flags.
// Members never edit their own role.
func CanChangeRole(actor, target *model.FamilyMember) bool {
	if actor.ID == target.ID {
		return false
	}
	return actor.IsAdmin
}

// CanRemoveMember reports whether removing the target would keep the family's
// admin floor intact: a family with members must retain at least one admin.
func CanRemoveMember(target *model.FamilyMember, allMembers []model.FamilyMember) bool {
	if !target.IsAdmin {
		return true
	}
	for _, m := range allMembers {
		if m.IsAdmin && m.ID != target.ID {
			return true
		}
	}
	return false
}

// CanDecideRequest reports whether the actor may approve or reject a request
// for the given resource owner: the owner themself, or an admin/responsible
// member acting on the owner's behalf.
func CanDecideRequest(actor *model.FamilyMember, ownerID int64) bool {
	return actor.ID == ownerID || CanManageFamily(actor)
}
