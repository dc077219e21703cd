package delegation

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/bywater/internal/access"
	"github.com/dukerupert/bywater/internal/database"
	"github.com/dukerupert/bywater/internal/hierarchy"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/store"
)

type fixture struct {
	service  *Service
	grants   *access.Grants
	requests *store.RequestStore
	audit    *store.AuditStore
	families *store.FamilyStore
	members  *store.MemberStore

	owner  *model.FamilyMember
	ben    *model.FamilyMember
	admin  *model.FamilyMember
	folder *model.Folder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fs := store.NewFamilyStore(db)
	ms := store.NewMemberStore(db)
	spaces := store.NewSpaceStore(db)
	categories := store.NewCategoryStore(db)
	folders := store.NewFolderStore(db)
	files := store.NewFileStore(db)
	perms := store.NewPermissionStore(db)
	requests := store.NewRequestStore(db)
	audit := store.NewAuditStore(db)

	family, err := fs.Create("Baggins")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	admin, err := ms.Create(family.ID, "Bilbo", nil, "", false, true)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	owner, err := ms.Create(family.ID, "Frodo", nil, "", false, false)
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	ben, err := ms.Create(family.ID, "Sam", nil, "", false, false)
	if err != nil {
		t.Fatalf("create beneficiary: %v", err)
	}

	space, err := spaces.Create(family.ID, "Home")
	if err != nil {
		t.Fatalf("create space: %v", err)
	}
	category, err := categories.Create(space.ID, "Photos")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	folder, err := folders.Create(category.ID, nil, owner.ID, "2024")
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}

	index := hierarchy.NewIndex(spaces, categories, folders, files)
	logger := slog.Default()
	grants := access.NewGrants(perms, ms, audit, index, logger)
	service := NewService(requests, ms, audit, grants, index, logger)

	return &fixture{
		service:  service,
		grants:   grants,
		requests: requests,
		audit:    audit,
		families: fs,
		members:  ms,
		owner:    owner,
		ben:      ben,
		admin:    admin,
		folder:   folder,
	}
}

func (f *fixture) params() CreateParams {
	return CreateParams{
		OwnerID:       f.owner.ID,
		BeneficiaryID: f.ben.ID,
		Scope:         model.ScopeFolder,
		TargetID:      &f.folder.ID,
		Kind:          model.PermissionWrite,
		Reason:        "school project",
	}
}

func TestCreateApproveRoundTrip(t *testing.T) {
	f := setup(t)
	now := time.Now().UTC()

	req, existing, err := f.service.Create(f.params(), now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if existing != nil {
		t.Fatalf("unexpected existing permission %+v", existing)
	}
	if req.Status != model.RequestPending {
		t.Fatalf("status = %q, want pending", req.Status)
	}

	perm, err := f.service.Approve(req.ID, f.owner.ID, "fine", now)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if perm.BeneficiaryID != f.ben.ID || perm.Kind != model.PermissionWrite {
		t.Errorf("permission = %+v", perm)
	}

	got, err := f.requests.GetByID(req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != model.RequestApproved {
		t.Errorf("status = %q, want approved", got.Status)
	}
	if got.AdminComment != "fine" {
		t.Errorf("comment = %q, want fine", got.AdminComment)
	}

	granted, err := f.grants.IsGranted(f.ben.ID, model.ResourceRef{Kind: model.ScopeFolder, ID: f.folder.ID}, model.PermissionWrite, now)
	if err != nil {
		t.Fatalf("is granted: %v", err)
	}
	if !granted {
		t.Error("approved request produced no usable grant")
	}

	trail, err := f.audit.ListForRequest(req.ID)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	if len(trail) != 2 || trail[0].Action != model.AuditRequestCreated || trail[1].Action != model.AuditRequestApproved {
		t.Errorf("trail actions = %+v, want created then approved", trail)
	}
}

func TestRejectLeavesNoGrant(t *testing.T) {
	f := setup(t)
	now := time.Now().UTC()

	req, _, err := f.service.Create(f.params(), now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.service.Reject(req.ID, f.owner.ID, "not now", now); err != nil {
		t.Fatalf("reject: %v", err)
	}

	granted, err := f.grants.IsGranted(f.ben.ID, model.ResourceRef{Kind: model.ScopeFolder, ID: f.folder.ID}, model.PermissionWrite, now)
	if err != nil {
		t.Fatalf("is granted: %v", err)
	}
	if granted {
		t.Error("rejected request produced a grant")
	}
}

func TestDecisionIsTerminal(t *testing.T) {
	f := setup(t)
	now := time.Now().UTC()

	req, _, err := f.service.Create(f.params(), now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.service.Approve(req.ID, f.owner.ID, "", now); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// A second decision, either way, is an invalid transition.
	err = f.service.Reject(req.ID, f.owner.ID, "", now)
	if !errors.Is(err, access.ErrInvalidTransition) {
		t.Errorf("reject after approve: error = %v, want ErrInvalidTransition", err)
	}
	_, err = f.service.Approve(req.ID, f.owner.ID, "", now)
	if !errors.Is(err, access.ErrInvalidTransition) {
		t.Errorf("approve after approve: error = %v, want ErrInvalidTransition", err)
	}
}

func TestDecideAuthority(t *testing.T) {
	f := setup(t)
	now := time.Now().UTC()

	req, _, err := f.service.Create(f.params(), now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The beneficiary cannot approve their own request.
	_, err = f.service.Approve(req.ID, f.ben.ID, "", now)
	if !errors.Is(err, access.ErrPermissionDenied) {
		t.Fatalf("self-approve error = %v, want ErrPermissionDenied", err)
	}

	// The refused attempt lands in the audit trail.
	trail, err := f.audit.ListForRequest(req.ID)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	last := trail[len(trail)-1]
	if last.Action != model.AuditDenied || last.ActorID != f.ben.ID {
		t.Errorf("last entry = %+v, want denied by %d", last, f.ben.ID)
	}

	// An admin may decide on the owner's behalf.
	if _, err := f.service.Approve(req.ID, f.admin.ID, "", now); err != nil {
		t.Fatalf("admin approve: %v", err)
	}
}

func TestCreateRejectsSelfAndCrossFamily(t *testing.T) {
	f := setup(t)
	now := time.Now().UTC()

	p := f.params()
	p.BeneficiaryID = f.owner.ID
	_, _, err := f.service.Create(p, now)
	if !errors.Is(err, access.ErrInvalidTransition) {
		t.Errorf("self-delegation error = %v, want ErrInvalidTransition", err)
	}

	other, err := f.families.Create("Sackville")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	stranger, err := f.members.Create(other.ID, "Lotho", nil, "", false, false)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}

	p = f.params()
	p.BeneficiaryID = stranger.ID
	_, _, err = f.service.Create(p, now)
	if !errors.Is(err, access.ErrInvalidTransition) {
		t.Errorf("cross-family error = %v, want ErrInvalidTransition", err)
	}
}

func TestCreateRejectsMissingTarget(t *testing.T) {
	f := setup(t)
	now := time.Now().UTC()

	missing := int64(9999)
	p := f.params()
	p.TargetID = &missing
	_, _, err := f.service.Create(p, now)
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}

	// Nothing was enqueued for the owner to decide.
	pending, err := f.requests.ListPendingFor(f.owner.ID)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending requests = %+v, want none", pending)
	}
}

func TestCreateIdempotentOnCoveringGrant(t *testing.T) {
	f := setup(t)
	now := time.Now().UTC()

	perm, err := f.grants.Grant(f.owner.ID, f.ben.ID, model.ScopeFolder, &f.folder.ID, model.PermissionFullControl, nil, now)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	// Asking for less than an existing grant returns the grant, not a
	// duplicate request.
	req, existing, err := f.service.Create(f.params(), now)
	if !errors.Is(err, access.ErrStructuralConflict) {
		t.Fatalf("error = %v, want ErrStructuralConflict", err)
	}
	if req != nil {
		t.Errorf("duplicate request created: %+v", req)
	}
	if existing == nil || existing.ID != perm.ID {
		t.Errorf("existing = %+v, want permission %d", existing, perm.ID)
	}
}

func TestCreateIdempotentOnWholeSpaceGrant(t *testing.T) {
	f := setup(t)
	now := time.Now().UTC()

	perm, err := f.grants.Grant(f.admin.ID, f.ben.ID, model.ScopeSpace, nil, model.PermissionWrite, nil, now)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	// A whole-space request duplicates a whole-space grant just as a targeted
	// one would.
	p := f.params()
	p.OwnerID = f.admin.ID
	p.Scope = model.ScopeSpace
	p.TargetID = nil
	req, existing, err := f.service.Create(p, now)
	if !errors.Is(err, access.ErrStructuralConflict) {
		t.Fatalf("error = %v, want ErrStructuralConflict", err)
	}
	if req != nil {
		t.Errorf("duplicate request created: %+v", req)
	}
	if existing == nil || existing.ID != perm.ID {
		t.Errorf("existing = %+v, want permission %d", existing, perm.ID)
	}
}

func TestConcurrentDecisionSingleWinner(t *testing.T) {
	f := setup(t)
	now := time.Now().UTC()

	req, _, err := f.service.Create(f.params(), now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	type result struct {
		err error
	}
	approve := make(chan result, 1)
	reject := make(chan result, 1)

	go func() {
		_, err := f.service.Approve(req.ID, f.owner.ID, "", now)
		approve <- result{err}
	}()
	go func() {
		reject <- result{f.service.Reject(req.ID, f.admin.ID, "", now)}
	}()

	a := <-approve
	r := <-reject

	wins := 0
	if a.err == nil {
		wins++
	} else if !errors.Is(a.err, access.ErrInvalidTransition) {
		t.Errorf("approve error = %v", a.err)
	}
	if r.err == nil {
		wins++
	} else if !errors.Is(r.err, access.ErrInvalidTransition) {
		t.Errorf("reject error = %v", r.err)
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}

	got, err := f.requests.GetByID(req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != model.RequestApproved && got.Status != model.RequestRejected {
		t.Fatalf("status = %q, want a terminal status", got.Status)
	}
}

func TestSweepExpiredAutoRejects(t *testing.T) {
	f := setup(t)
	now := time.Now().UTC()
	soon := now.Add(time.Minute)

	p := f.params()
	p.ExpiresAt = &soon
	req, _, err := f.service.Create(p, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	later := now.Add(2 * time.Minute)
	n, err := f.service.SweepExpired(later)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}

	got, err := f.requests.GetByID(req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != model.RequestRejected {
		t.Errorf("status = %q, want rejected", got.Status)
	}
	if got.DecidedBy != nil {
		t.Errorf("decided_by = %v, want nil for the automatic rejection", got.DecidedBy)
	}

	// Second sweep at the same instant changes nothing.
	n, err = f.service.SweepExpired(later)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep = %d, want 0", n)
	}

	trail, err := f.audit.ListForRequest(req.ID)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	last := trail[len(trail)-1]
	if last.Action != model.AuditRequestRejected || last.ActorID != 0 {
		t.Errorf("last entry = %+v, want system rejection", last)
	}
	if last.Detail != "expired before decision" {
		t.Errorf("detail = %q", last.Detail)
	}
}
