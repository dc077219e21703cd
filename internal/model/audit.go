package model

import "time"

// AuditAction identifies what an audit entry records.
type AuditAction string

const (
	AuditGranted         AuditAction = "granted"
	AuditRevoked         AuditAction = "revoked"
	AuditExpired         AuditAction = "expired"
	AuditRequestCreated  AuditAction = "request_created"
	AuditRequestApproved AuditAction = "request_approved"
	AuditRequestRejected AuditAction = "request_rejected"
	AuditDenied          AuditAction = "denied"
)

// AuditEntry is an append-only record of a permission or request event.
// Entries are snapshots: they are never mutated or removed once written.
// Ordering is by timestamp with the autoincrement id breaking ties.
type AuditEntry struct {
	ID           int64       `json:"id"`
	PermissionID *int64      `json:"permission_id,omitempty"`
	RequestID    *int64      `json:"request_id,omitempty"`
	Action       AuditAction `json:"action"`
	ActorID      int64       `json:"actor_id"`
	Detail       string      `json:"detail,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}
