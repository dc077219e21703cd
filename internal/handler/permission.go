package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/bywater/internal/access"
	"github.com/dukerupert/bywater/internal/auth"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/push"
	"github.com/dukerupert/bywater/internal/store"
	"github.com/dukerupert/bywater/internal/websocket"
)

type PermissionHandler struct {
	permStore   *store.PermissionStore
	memberStore *store.MemberStore
	auditStore  *store.AuditStore
	grants      *access.Grants
	resolver    *access.Resolver
	hub         *websocket.Hub
	notifier    *push.Service
	logger      *slog.Logger
}

func NewPermissionHandler(
	ps *store.PermissionStore,
	ms *store.MemberStore,
	as *store.AuditStore,
	grants *access.Grants,
	resolver *access.Resolver,
	hub *websocket.Hub,
	notifier *push.Service,
	logger *slog.Logger,
) *PermissionHandler {
	return &PermissionHandler{
		permStore:   ps,
		memberStore: ms,
		auditStore:  as,
		grants:      grants,
		resolver:    resolver,
		hub:         hub,
		notifier:    notifier,
		logger:      logger.With("component", "permission"),
	}
}

func (h *PermissionHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type grantRequest struct {
	OwnerID       int64      `json:"owner_id"`
	BeneficiaryID int64      `json:"beneficiary_id"`
	Scope         string     `json:"scope"`
	TargetID      *int64     `json:"target_id"`
	Kind          string     `json:"kind"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

// Grant issues a permission directly, without a request round-trip. The
// actor must be the owner, or an admin acting on the owner's behalf.
func (h *PermissionHandler) Grant(w http.ResponseWriter, r *http.Request) {
	actorID := auth.MemberID(r.Context())

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	scope, err := model.ParseScope(req.Scope)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	kind, err := model.ParsePermissionKind(req.Kind)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ownerID := req.OwnerID
	if ownerID == 0 {
		ownerID = actorID
	}
	if ownerID != actorID {
		actor, err := h.memberStore.GetByID(actorID)
		if err != nil || actor == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			return
		}
		if !access.CanManagePermissions(actor) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "only admins can grant on another member's behalf"})
			return
		}
	}

	perm, err := h.grants.Grant(ownerID, req.BeneficiaryID, scope, req.TargetID, kind, req.ExpiresAt, time.Now().UTC())
	if err != nil {
		writeError(w, err, "failed to grant permission")
		return
	}

	h.broadcast(websocket.NewMessage("permission", "granted", perm.ID, actorID, nil))
	writeJSON(w, http.StatusCreated, perm)
}

// List returns the actor's permissions, as owner or as beneficiary
// depending on the role query parameter.
func (h *PermissionHandler) List(w http.ResponseWriter, r *http.Request) {
	actorID := auth.MemberID(r.Context())
	asOwner := r.URL.Query().Get("role") == "owner"

	// Opportunistic sweep so the listing never shows a grant the background
	// ticker has not caught up with yet.
	if _, err := h.grants.SweepExpired(time.Now().UTC()); err != nil {
		h.logger.Error("sweep expired permissions", "error", err)
	}

	perms, err := h.permStore.ListForMember(actorID, asOwner)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list permissions"})
		return
	}
	if perms == nil {
		perms = []model.ActivePermission{}
	}
	writeJSON(w, http.StatusOK, perms)
}

func (h *PermissionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	// Reason is optional; an empty body is fine.
	json.NewDecoder(r.Body).Decode(&req)

	actorID := auth.MemberID(r.Context())

	perm, err := h.permStore.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get permission"})
		return
	}

	if err := h.grants.Revoke(id, actorID, req.Reason, time.Now().UTC()); err != nil {
		writeError(w, err, "failed to revoke permission")
		return
	}

	h.broadcast(websocket.NewMessage("permission", "revoked", id, actorID, nil))
	if h.notifier != nil && perm != nil && perm.BeneficiaryID != actorID {
		h.notifier.NotifyMember(perm.BeneficiaryID, push.Payload{
			Title: "Permission revoked",
			Body:  "One of your delegated permissions was revoked.",
			Tag:   "grant-revoked",
		})
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// Audit returns the append-only trail for one permission. Visible to the
// grant's owner, its beneficiary, and admins.
func (h *PermissionHandler) Audit(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	actorID := auth.MemberID(r.Context())
	perm, err := h.permStore.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get permission"})
		return
	}
	if perm == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "permission not found"})
		return
	}
	if perm.OwnerID != actorID && perm.BeneficiaryID != actorID && !auth.IsAdmin(r.Context()) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not a party to this permission"})
		return
	}

	entries, err := h.auditStore.ListForPermission(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list audit entries"})
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Authorize answers "may this member do this to this resource" without
// side effects. Useful for building UIs that grey out actions.
func (h *PermissionHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resource model.ResourceRef `json:"resource"`
		Action   string            `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	kind, err := model.ParsePermissionKind(req.Action)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	decision, err := h.resolver.Authorize(auth.MemberID(r.Context()), req.Resource, kind, time.Now().UTC())
	if err != nil {
		writeError(w, err, "authorization failed")
		return
	}

	writeJSON(w, http.StatusOK, decision)
}
