package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/bywater/internal/model"
)

// AuditStore is the append-only record of permission and request events.
// Rows are never updated or deleted; the autoincrement id is the tie-breaking
// sequence number for entries sharing a timestamp.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

const auditCols = `id, permission_id, request_id, action, actor_id, detail, created_at`

func scanAuditEntry(scanner interface{ Scan(...any) error }) (*model.AuditEntry, error) {
	var e model.AuditEntry
	var permissionID, requestID sql.NullInt64
	err := scanner.Scan(&e.ID, &permissionID, &requestID, &e.Action, &e.ActorID, &e.Detail, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if permissionID.Valid {
		e.PermissionID = &permissionID.Int64
	}
	if requestID.Valid {
		e.RequestID = &requestID.Int64
	}
	return &e, nil
}

func (s *AuditStore) Append(permissionID, requestID *int64, action model.AuditAction, actorID int64, detail string, at time.Time) (*model.AuditEntry, error) {
	result, err := s.db.Exec(
		`INSERT INTO audit_log (permission_id, request_id, action, actor_id, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		permissionID, requestID, action, actorID, detail, at.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+auditCols+` FROM audit_log WHERE id = ?`, id)
	e, err := scanAuditEntry(row)
	if err != nil {
		return nil, fmt.Errorf("get audit entry: %w", err)
	}
	return e, nil
}

// ListForPermission returns the trail for one permission, oldest first.
func (s *AuditStore) ListForPermission(permissionID int64) ([]model.AuditEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+auditCols+` FROM audit_log WHERE permission_id = ? ORDER BY created_at, id`,
		permissionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit for permission: %w", err)
	}
	return collectAuditEntries(rows)
}

// ListForRequest returns the trail for one delegation request, oldest first.
func (s *AuditStore) ListForRequest(requestID int64) ([]model.AuditEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+auditCols+` FROM audit_log WHERE request_id = ? ORDER BY created_at, id`,
		requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit for request: %w", err)
	}
	return collectAuditEntries(rows)
}

// ListRecent returns the newest entries, newest first.
func (s *AuditStore) ListRecent(limit int) ([]model.AuditEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+auditCols+` FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent audit: %w", err)
	}
	return collectAuditEntries(rows)
}

func collectAuditEntries(rows *sql.Rows) ([]model.AuditEntry, error) {
	defer rows.Close()
	var entries []model.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
