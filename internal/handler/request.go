package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/bywater/internal/access"
	"github.com/dukerupert/bywater/internal/auth"
	"github.com/dukerupert/bywater/internal/delegation"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/push"
	"github.com/dukerupert/bywater/internal/store"
	"github.com/dukerupert/bywater/internal/websocket"
)

type RequestHandler struct {
	service      *delegation.Service
	requestStore *store.RequestStore
	auditStore   *store.AuditStore
	hub          *websocket.Hub
	notifier     *push.Service
	logger       *slog.Logger
}

func NewRequestHandler(
	svc *delegation.Service,
	rs *store.RequestStore,
	as *store.AuditStore,
	hub *websocket.Hub,
	notifier *push.Service,
	logger *slog.Logger,
) *RequestHandler {
	return &RequestHandler{
		service:      svc,
		requestStore: rs,
		auditStore:   as,
		hub:          hub,
		notifier:     notifier,
		logger:       logger.With("component", "request"),
	}
}

func (h *RequestHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

func (h *RequestHandler) notify(memberID int64, payload push.Payload) {
	if h.notifier != nil {
		h.notifier.NotifyMember(memberID, payload)
	}
}

// Create opens a delegation request from the actor to a resource owner.
// If the actor already holds a covering permission, the existing grant is
// returned with 200 instead of creating a duplicate request.
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID := auth.MemberID(r.Context())

	var req struct {
		OwnerID   int64      `json:"owner_id"`
		Scope     string     `json:"scope"`
		TargetID  *int64     `json:"target_id"`
		Kind      string     `json:"kind"`
		Reason    string     `json:"reason"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
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

	request, existing, err := h.service.Create(delegation.CreateParams{
		OwnerID:       req.OwnerID,
		BeneficiaryID: actorID,
		Scope:         scope,
		TargetID:      req.TargetID,
		Kind:          kind,
		Reason:        req.Reason,
		ExpiresAt:     req.ExpiresAt,
	}, time.Now().UTC())
	if errors.Is(err, access.ErrStructuralConflict) && existing != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "already granted",
			"permission": existing,
		})
		return
	}
	if err != nil {
		writeError(w, err, "failed to create request")
		return
	}

	h.broadcast(websocket.NewMessage("request", "created", request.ID, actorID, nil))
	h.notify(request.OwnerID, push.Payload{
		Title: "New delegation request",
		Body:  "A family member is asking for access to one of your resources.",
		Tag:   "request-created",
	})

	writeJSON(w, http.StatusCreated, request)
}

// ListPending returns requests awaiting the actor's attention, as owner
// or as beneficiary.
func (h *RequestHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	requests, err := h.requestStore.ListPendingFor(auth.MemberID(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list requests"})
		return
	}
	if requests == nil {
		requests = []model.DelegationRequest{}
	}
	writeJSON(w, http.StatusOK, requests)
}

// List returns the actor's full request history, decided ones included.
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	requests, err := h.requestStore.ListForMember(auth.MemberID(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list requests"})
		return
	}
	if requests == nil {
		requests = []model.DelegationRequest{}
	}
	writeJSON(w, http.StatusOK, requests)
}

func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	request, err := h.requestStore.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get request"})
		return
	}
	actorID := auth.MemberID(r.Context())
	if request == nil || (request.OwnerID != actorID && request.BeneficiaryID != actorID && !auth.IsAdmin(r.Context())) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "request not found"})
		return
	}
	writeJSON(w, http.StatusOK, request)
}

func (h *RequestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Comment string `json:"comment"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	actorID := auth.MemberID(r.Context())
	perm, err := h.service.Approve(id, actorID, req.Comment, time.Now().UTC())
	if err != nil {
		writeError(w, err, "failed to approve request")
		return
	}

	h.broadcast(websocket.NewMessage("request", "approved", id, actorID, nil))
	h.notify(perm.BeneficiaryID, push.Payload{
		Title: "Request approved",
		Body:  "Your delegation request was approved.",
		Tag:   "request-decided",
	})

	writeJSON(w, http.StatusOK, perm)
}

func (h *RequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Comment string `json:"comment"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	actorID := auth.MemberID(r.Context())
	if err := h.service.Reject(id, actorID, req.Comment, time.Now().UTC()); err != nil {
		writeError(w, err, "failed to reject request")
		return
	}

	h.broadcast(websocket.NewMessage("request", "rejected", id, actorID, nil))
	if request, err := h.requestStore.GetByID(id); err == nil && request != nil {
		h.notify(request.BeneficiaryID, push.Payload{
			Title: "Request rejected",
			Body:  "Your delegation request was rejected.",
			Tag:   "request-decided",
		})
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// Audit returns the append-only trail for one request.
func (h *RequestHandler) Audit(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	request, err := h.requestStore.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get request"})
		return
	}
	actorID := auth.MemberID(r.Context())
	if request == nil || (request.OwnerID != actorID && request.BeneficiaryID != actorID && !auth.IsAdmin(r.Context())) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "request not found"})
		return
	}

	entries, err := h.auditStore.ListForRequest(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list audit entries"})
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
