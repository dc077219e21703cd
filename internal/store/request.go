package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/bywater/internal/model"
)

type RequestStore struct {
	db *sql.DB
}

func NewRequestStore(db *sql.DB) *RequestStore {
	return &RequestStore{db: db}
}

const requestCols = `id, owner_id, beneficiary_id, scope, target_id, kind, reason, admin_comment, status, expires_at, decided_at, decided_by, created_at`

func scanRequest(scanner interface{ Scan(...any) error }) (*model.DelegationRequest, error) {
	var r model.DelegationRequest
	var targetID, decidedBy sql.NullInt64
	var reason, adminComment sql.NullString
	var expiresAt, decidedAt sql.NullTime
	err := scanner.Scan(
		&r.ID, &r.OwnerID, &r.BeneficiaryID, &r.Scope, &targetID, &r.Kind,
		&reason, &adminComment, &r.Status, &expiresAt, &decidedAt, &decidedBy, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if targetID.Valid {
		r.TargetID = &targetID.Int64
	}
	if decidedBy.Valid {
		r.DecidedBy = &decidedBy.Int64
	}
	if expiresAt.Valid {
		r.ExpiresAt = &expiresAt.Time
	}
	if decidedAt.Valid {
		r.DecidedAt = &decidedAt.Time
	}
	r.Reason = reason.String
	r.AdminComment = adminComment.String
	return &r, nil
}

func (s *RequestStore) Create(ownerID, beneficiaryID int64, scope model.Scope, targetID *int64, kind model.PermissionKind, reason string, expiresAt *time.Time) (*model.DelegationRequest, error) {
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	result, err := s.db.Exec(
		`INSERT INTO delegation_requests (owner_id, beneficiary_id, scope, target_id, kind, reason, status, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'pending', ?)`,
		ownerID, beneficiaryID, scope, targetID, kind, reasonPtr, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert delegation request: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *RequestStore) GetByID(id int64) (*model.DelegationRequest, error) {
	row := s.db.QueryRow(`SELECT `+requestCols+` FROM delegation_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get delegation request: %w", err)
	}
	return r, nil
}

// ListPendingFor returns pending requests where the member is either the
// resource owner (awaiting their decision) or the beneficiary (awaiting an
// answer), oldest first.
func (s *RequestStore) ListPendingFor(memberID int64) ([]model.DelegationRequest, error) {
	rows, err := s.db.Query(
		`SELECT `+requestCols+` FROM delegation_requests
		 WHERE status = 'pending' AND (owner_id = ? OR beneficiary_id = ?)
		 ORDER BY created_at`,
		memberID, memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return collectRequests(rows)
}

func (s *RequestStore) ListForMember(memberID int64) ([]model.DelegationRequest, error) {
	rows, err := s.db.Query(
		`SELECT `+requestCols+` FROM delegation_requests
		 WHERE owner_id = ? OR beneficiary_id = ?
		 ORDER BY created_at DESC`,
		memberID, memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("list requests for member: %w", err)
	}
	return collectRequests(rows)
}

func collectRequests(rows *sql.Rows) ([]model.DelegationRequest, error) {
	defer rows.Close()
	var requests []model.DelegationRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delegation request: %w", err)
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// Decide moves a pending request to a terminal status with a compare-and-set
// on the status column. It reports whether this call won the transition;
// concurrent approve and reject on the same request see exactly one winner.
// decidedBy is nil for the automatic expiry rejection.
func (s *RequestStore) Decide(id int64, status model.RequestStatus, decidedBy *int64, adminComment string, decidedAt time.Time) (bool, error) {
	var commentPtr *string
	if adminComment != "" {
		commentPtr = &adminComment
	}
	result, err := s.db.Exec(
		`UPDATE delegation_requests SET status = ?, decided_by = ?, admin_comment = ?, decided_at = ?
		 WHERE id = ? AND status = 'pending'`,
		status, decidedBy, commentPtr, decidedAt.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("decide request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ListExpiredPending returns ids of pending requests whose expiration passed
// without a decision.
func (s *RequestStore) ListExpiredPending(now time.Time) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT id FROM delegation_requests WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= ?`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired pending requests: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan request id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
