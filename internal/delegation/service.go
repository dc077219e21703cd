package delegation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/bywater/internal/access"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/store"
)

// Service runs the delegation request lifecycle: PENDING → APPROVED or
// REJECTED, with approved grants later revocable through the permission
// store. Terminal statuses are final; the approve/reject race is settled by a
// compare-and-set on the status column, so exactly one caller wins.
type Service struct {
	requests *store.RequestStore
	members  *store.MemberStore
	audit    *store.AuditStore
	grants   *access.Grants
	index    access.Hierarchy
	logger   *slog.Logger
}

func NewService(requests *store.RequestStore, members *store.MemberStore, audit *store.AuditStore, grants *access.Grants, index access.Hierarchy, logger *slog.Logger) *Service {
	return &Service{requests: requests, members: members, audit: audit, grants: grants, index: index, logger: logger}
}

// CreateParams describes a new delegation request. TargetID is nil only for
// whole-space scope.
type CreateParams struct {
	OwnerID       int64
	BeneficiaryID int64
	Scope         model.Scope
	TargetID      *int64
	Kind          model.PermissionKind
	Reason        string
	ExpiresAt     *time.Time
}

// Create opens a pending request from beneficiary to owner. If the
// beneficiary already holds an equal-or-broader active permission over the
// same resource, no duplicate request is created: the existing permission is
// returned alongside ErrStructuralConflict so the caller can decide to treat
// it as idempotent success.
func (s *Service) Create(p CreateParams, now time.Time) (*model.DelegationRequest, *model.ActivePermission, error) {
	if p.OwnerID == p.BeneficiaryID {
		return nil, nil, &access.InvalidTransitionError{Reason: "self-delegation"}
	}

	owner, err := s.members.GetByID(p.OwnerID)
	if err != nil {
		return nil, nil, fmt.Errorf("load owner: %w", err)
	}
	if owner == nil {
		return nil, nil, fmt.Errorf("owner %d: %w", p.OwnerID, access.ErrNotFound)
	}
	beneficiary, err := s.members.GetByID(p.BeneficiaryID)
	if err != nil {
		return nil, nil, fmt.Errorf("load beneficiary: %w", err)
	}
	if beneficiary == nil {
		return nil, nil, fmt.Errorf("beneficiary %d: %w", p.BeneficiaryID, access.ErrNotFound)
	}
	if owner.FamilyID != beneficiary.FamilyID {
		return nil, nil, &access.InvalidTransitionError{Reason: "cross-family target"}
	}

	if p.TargetID == nil && p.Scope != model.ScopeSpace {
		return nil, nil, fmt.Errorf("%s scope requires a target: %w", p.Scope, access.ErrStructuralConflict)
	}

	if p.TargetID != nil {
		ref := model.ResourceRef{Kind: p.Scope, ID: *p.TargetID}
		targetFamily, err := s.index.FamilyOf(ref)
		if err != nil {
			// Includes ErrNotFound: a request must never be enqueued against a
			// resource that does not exist, or Approve would strand it.
			return nil, nil, err
		}
		if targetFamily != owner.FamilyID {
			return nil, nil, &access.InvalidTransitionError{Reason: "cross-family target"}
		}
		existing, err := s.grants.FindCovering(p.BeneficiaryID, ref, p.Kind, now)
		if err != nil {
			return nil, nil, err
		}
		if existing != nil {
			return nil, existing, fmt.Errorf("member %d already holds permission %d covering %s: %w",
				p.BeneficiaryID, existing.ID, ref, access.ErrStructuralConflict)
		}
	} else {
		existing, err := s.grants.FindCoveringAllSpaces(p.BeneficiaryID, p.Kind, now)
		if err != nil {
			return nil, nil, err
		}
		if existing != nil {
			return nil, existing, fmt.Errorf("member %d already holds whole-space permission %d: %w",
				p.BeneficiaryID, existing.ID, access.ErrStructuralConflict)
		}
	}

	req, err := s.requests.Create(p.OwnerID, p.BeneficiaryID, p.Scope, p.TargetID, p.Kind, p.Reason, p.ExpiresAt)
	if err != nil {
		return nil, nil, fmt.Errorf("save request: %w", err)
	}

	detail := fmt.Sprintf("member %d requests %s on %s from member %d",
		p.BeneficiaryID, p.Kind, describeTarget(p.Scope, p.TargetID), p.OwnerID)
	if _, err := s.audit.Append(nil, &req.ID, model.AuditRequestCreated, p.BeneficiaryID, detail, now); err != nil {
		return nil, nil, fmt.Errorf("audit request: %w", err)
	}
	return req, nil, nil
}

// Approve moves a pending request to APPROVED and creates the permission it
// asked for. Authority: the resource owner, or an admin/responsible member on
// the owner's behalf. Ownership of the target is re-validated against current
// state inside the grant, not against what was true at request time.
func (s *Service) Approve(requestID, actorID int64, adminComment string, now time.Time) (*model.ActivePermission, error) {
	req, err := s.loadForDecision(requestID, actorID, now, "approve")
	if err != nil {
		return nil, err
	}

	won, err := s.requests.Decide(requestID, model.RequestApproved, &actorID, adminComment, now)
	if err != nil {
		return nil, fmt.Errorf("approve request: %w", err)
	}
	if !won {
		return nil, s.lostRace(requestID)
	}

	perm, err := s.grants.Grant(req.OwnerID, req.BeneficiaryID, req.Scope, req.TargetID, req.Kind, req.ExpiresAt, now)
	if err != nil {
		// The request is already approved; surface the grant failure rather
		// than pretending the permission exists.
		return nil, fmt.Errorf("grant for approved request %d: %w", requestID, err)
	}

	detail := fmt.Sprintf("request %d approved, permission %d", requestID, perm.ID)
	if _, err := s.audit.Append(&perm.ID, &req.ID, model.AuditRequestApproved, actorID, detail, now); err != nil {
		return nil, fmt.Errorf("audit approval: %w", err)
	}
	return perm, nil
}

// Reject moves a pending request to REJECTED. No permission is created.
func (s *Service) Reject(requestID, actorID int64, adminComment string, now time.Time) error {
	req, err := s.loadForDecision(requestID, actorID, now, "reject")
	if err != nil {
		return err
	}

	won, err := s.requests.Decide(requestID, model.RequestRejected, &actorID, adminComment, now)
	if err != nil {
		return fmt.Errorf("reject request: %w", err)
	}
	if !won {
		return s.lostRace(requestID)
	}

	detail := fmt.Sprintf("request %d rejected by member %d", requestID, actorID)
	if _, err := s.audit.Append(nil, &req.ID, model.AuditRequestRejected, actorID, detail, now); err != nil {
		return fmt.Errorf("audit rejection: %w", err)
	}
	return nil
}

// Revoke deactivates a granted permission. The originating request, if any,
// stays untouched: requests are immutable once decided, and the trace back is
// carried by the shared owner/beneficiary/scope/target tuple.
func (s *Service) Revoke(permissionID, actorID int64, reason string, now time.Time) error {
	return s.grants.Revoke(permissionID, actorID, reason, now)
}

func (s *Service) loadForDecision(requestID, actorID int64, now time.Time, verb string) (*model.DelegationRequest, error) {
	req, err := s.requests.GetByID(requestID)
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("request %d: %w", requestID, access.ErrNotFound)
	}
	if req.Status != model.RequestPending {
		return nil, &access.InvalidTransitionError{Status: req.Status}
	}

	actor, err := s.members.GetByID(actorID)
	if err != nil {
		return nil, fmt.Errorf("load actor: %w", err)
	}
	if actor == nil {
		return nil, fmt.Errorf("actor %d: %w", actorID, access.ErrNotFound)
	}
	if !access.CanDecideRequest(actor, req.OwnerID) {
		detail := fmt.Sprintf("%s of request %d refused", verb, requestID)
		if _, err := s.audit.Append(nil, &req.ID, model.AuditDenied, actorID, detail, now); err != nil {
			s.logger.Error("audit denied decision", "request_id", requestID, "error", err)
		}
		return nil, fmt.Errorf("member %d may not %s request %d: %w", actorID, verb, requestID, access.ErrPermissionDenied)
	}
	return req, nil
}

// lostRace reports the terminal status a concurrent decision beat us to.
func (s *Service) lostRace(requestID int64) error {
	req, err := s.requests.GetByID(requestID)
	if err != nil {
		return fmt.Errorf("reload request: %w", err)
	}
	status := model.RequestStatus("unknown")
	if req != nil {
		status = req.Status
	}
	return &access.InvalidTransitionError{Status: status, Reason: "decided concurrently"}
}

// SweepExpired auto-rejects pending requests whose expiration passed without
// a decision. The audit detail distinguishes the implicit rejection from a
// member's explicit one. Returns the number of requests swept.
func (s *Service) SweepExpired(now time.Time) (int, error) {
	ids, err := s.requests.ListExpiredPending(now)
	if err != nil {
		return 0, fmt.Errorf("list expired pending: %w", err)
	}

	count := 0
	for _, id := range ids {
		won, err := s.requests.Decide(id, model.RequestRejected, nil, "", now)
		if err != nil {
			return count, fmt.Errorf("auto-reject request %d: %w", id, err)
		}
		if !won {
			continue
		}
		reqID := id
		if _, err := s.audit.Append(nil, &reqID, model.AuditRequestRejected, 0, "expired before decision", now); err != nil {
			return count, fmt.Errorf("audit auto-rejection of request %d: %w", id, err)
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
