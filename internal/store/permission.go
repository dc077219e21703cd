package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/bywater/internal/model"
)

type PermissionStore struct {
	db *sql.DB
}

func NewPermissionStore(db *sql.DB) *PermissionStore {
	return &PermissionStore{db: db}
}

const permissionCols = `id, owner_id, beneficiary_id, scope, target_id, kind, granted_at, expires_at, active`

func scanPermission(scanner interface{ Scan(...any) error }) (*model.ActivePermission, error) {
	var p model.ActivePermission
	var targetID sql.NullInt64
	var expiresAt sql.NullTime
	err := scanner.Scan(
		&p.ID, &p.OwnerID, &p.BeneficiaryID, &p.Scope, &targetID, &p.Kind,
		&p.GrantedAt, &expiresAt, &p.Active,
	)
	if err != nil {
		return nil, err
	}
	if targetID.Valid {
		p.TargetID = &targetID.Int64
	}
	if expiresAt.Valid {
		p.ExpiresAt = &expiresAt.Time
	}
	return &p, nil
}

func (s *PermissionStore) Create(ownerID, beneficiaryID int64, scope model.Scope, targetID *int64, kind model.PermissionKind, grantedAt time.Time, expiresAt *time.Time) (*model.ActivePermission, error) {
	result, err := s.db.Exec(
		`INSERT INTO active_permissions (owner_id, beneficiary_id, scope, target_id, kind, granted_at, expires_at, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		ownerID, beneficiaryID, scope, targetID, kind, grantedAt.UTC(), expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert permission: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *PermissionStore) GetByID(id int64) (*model.ActivePermission, error) {
	row := s.db.QueryRow(`SELECT `+permissionCols+` FROM active_permissions WHERE id = ?`, id)
	p, err := scanPermission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get permission: %w", err)
	}
	return p, nil
}

// ListActiveForBeneficiary returns every active row for the beneficiary.
// Expiry is evaluated by the caller against its own clock; the store only
// filters on the active flag so reads stay correct between sweeps.
func (s *PermissionStore) ListActiveForBeneficiary(beneficiaryID int64) ([]model.ActivePermission, error) {
	rows, err := s.db.Query(
		`SELECT `+permissionCols+` FROM active_permissions WHERE beneficiary_id = ? AND active = 1`,
		beneficiaryID,
	)
	if err != nil {
		return nil, fmt.Errorf("list permissions for beneficiary: %w", err)
	}
	return collectPermissions(rows)
}

// ListForMember returns permissions where the member is the owner or the
// beneficiary, including deactivated rows so revocations stay visible.
func (s *PermissionStore) ListForMember(memberID int64, asOwner bool) ([]model.ActivePermission, error) {
	col := "beneficiary_id"
	if asOwner {
		col = "owner_id"
	}
	rows, err := s.db.Query(
		`SELECT `+permissionCols+` FROM active_permissions WHERE `+col+` = ? ORDER BY granted_at DESC`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("list permissions for member: %w", err)
	}
	return collectPermissions(rows)
}

func collectPermissions(rows *sql.Rows) ([]model.ActivePermission, error) {
	defer rows.Close()
	var perms []model.ActivePermission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		perms = append(perms, *p)
	}
	return perms, rows.Err()
}

// Deactivate flips active to false with a compare-and-set on the flag.
// It reports whether this call was the one that deactivated the row, so a
// concurrent revoke and expiry sweep produce exactly one audit entry.
func (s *PermissionStore) Deactivate(id int64) (bool, error) {
	result, err := s.db.Exec(`UPDATE active_permissions SET active = 0 WHERE id = ? AND active = 1`, id)
	if err != nil {
		return false, fmt.Errorf("deactivate permission: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ListExpired returns the ids of active permissions whose expiry has passed.
func (s *PermissionStore) ListExpired(now time.Time) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT id FROM active_permissions WHERE active = 1 AND expires_at IS NOT NULL AND expires_at <= ?`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired permissions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan permission id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
