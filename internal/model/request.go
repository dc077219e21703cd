package model

import "time"

// RequestStatus is the lifecycle status of a delegation request.
// Pending is the only non-terminal status.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// DelegationRequest asks a resource owner (or an admin acting for them) to
// grant the beneficiary a permission. The decision fields are written exactly
// once at transition time; a request is immutable after reaching a terminal
// status.
type DelegationRequest struct {
	ID            int64          `json:"id"`
	OwnerID       int64          `json:"owner_id"`
	BeneficiaryID int64          `json:"beneficiary_id"`
	Scope         Scope          `json:"scope"`
	TargetID      *int64         `json:"target_id,omitempty"`
	Kind          PermissionKind `json:"kind"`
	Reason        string         `json:"reason,omitempty"`
	AdminComment  string         `json:"admin_comment,omitempty"`
	Status        RequestStatus  `json:"status"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	DecidedAt     *time.Time     `json:"decided_at,omitempty"`
	DecidedBy     *int64         `json:"decided_by,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
