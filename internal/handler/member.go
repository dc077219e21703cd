package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/bywater/internal/access"
	"github.com/dukerupert/bywater/internal/auth"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/store"
)

type MemberHandler struct {
	memberStore  *store.MemberStore
	sessionStore *store.SessionStore
	logger       *slog.Logger
}

func NewMemberHandler(ms *store.MemberStore, ss *store.SessionStore, logger *slog.Logger) *MemberHandler {
	return &MemberHandler{memberStore: ms, sessionStore: ss, logger: logger.With("component", "member")}
}

type memberRequest struct {
	Name          string  `json:"name"`
	BirthDate     *string `json:"birth_date"`
	Gender        string  `json:"gender"`
	IsResponsible bool    `json:"is_responsible"`
	IsAdmin       bool    `json:"is_admin"`
}

func parseBirthDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// actor loads the authenticated member fresh from the store. Role checks
// never trust the session snapshot.
func (h *MemberHandler) actor(r *http.Request) (*model.FamilyMember, error) {
	return h.memberStore.GetByID(auth.MemberID(r.Context()))
}

func (h *MemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil || actor == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	if !access.CanManageFamily(actor) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "only responsible members can add members"})
		return
	}

	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	exists, err := h.memberStore.NameExists(actor.FamilyID, req.Name, 0)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to check name"})
		return
	}
	if exists {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a member with that name already exists"})
		return
	}

	birthDate, err := parseBirthDate(req.BirthDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "birth_date must be YYYY-MM-DD"})
		return
	}

	// Only admins can mint new admins.
	if req.IsAdmin && !actor.IsAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "only admins can create admins"})
		return
	}

	member, err := h.memberStore.Create(actor.FamilyID, req.Name, birthDate, req.Gender, req.IsResponsible, req.IsAdmin)
	if err != nil {
		h.logger.Error("create member", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create member"})
		return
	}

	writeJSON(w, http.StatusCreated, member)
}

func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	members, err := h.memberStore.ListByFamily(auth.FamilyID(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list members"})
		return
	}
	if members == nil {
		members = []model.FamilyMember{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *MemberHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	actor, err := h.actor(r)
	if err != nil || actor == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	member, err := h.memberStore.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get member"})
		return
	}
	if member == nil || !access.CanAccessMember(actor, member) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}

	writeJSON(w, http.StatusOK, member)
}

func (h *MemberHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	actor, err := h.actor(r)
	if err != nil || actor == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	target, err := h.memberStore.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get member"})
		return
	}
	if target == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}
	if !access.CanModifyMember(actor, target) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "cannot modify this member"})
		return
	}

	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	birthDate, err := parseBirthDate(req.BirthDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "birth_date must be YYYY-MM-DD"})
		return
	}

	member, err := h.memberStore.Update(id, req.Name, birthDate, req.Gender)
	if err != nil {
		h.logger.Error("update member", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update member"})
		return
	}

	writeJSON(w, http.StatusOK, member)
}

// SetRole changes the responsible/admin flags. Admin-only, and the last
// admin can never be demoted.
func (h *MemberHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	actor, err := h.actor(r)
	if err != nil || actor == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	target, err := h.memberStore.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get member"})
		return
	}
	if target == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}
	if !access.CanChangeRole(actor, target) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "cannot change this member's role"})
		return
	}

	var req struct {
		IsResponsible bool `json:"is_responsible"`
		IsAdmin       bool `json:"is_admin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if target.IsAdmin && !req.IsAdmin {
		members, err := h.memberStore.ListByFamily(target.FamilyID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list members"})
			return
		}
		if !access.CanRemoveMember(target, members) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "cannot demote the last admin"})
			return
		}
	}

	member, err := h.memberStore.SetRole(id, req.IsResponsible, req.IsAdmin)
	if err != nil {
		h.logger.Error("set role", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to set role"})
		return
	}

	writeJSON(w, http.StatusOK, member)
}

func (h *MemberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	actor, err := h.actor(r)
	if err != nil || actor == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	if !actor.IsAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "only admins can remove members"})
		return
	}

	target, err := h.memberStore.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get member"})
		return
	}
	if target == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}

	members, err := h.memberStore.ListByFamily(target.FamilyID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list members"})
		return
	}
	if !access.CanRemoveMember(target, members) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "cannot remove the last admin"})
		return
	}

	if err := h.memberStore.Delete(id); err != nil {
		h.logger.Error("delete member", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete member"})
		return
	}
	h.sessionStore.DeleteByMemberID(id)

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *MemberHandler) SetPIN(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	actor, err := h.actor(r)
	if err != nil || actor == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	target, err := h.memberStore.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get member"})
		return
	}
	if target == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}
	if !access.CanModifyMember(actor, target) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "cannot modify this member"})
		return
	}

	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if len(req.PIN) != 4 || !isDigits(req.PIN) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "PIN must be exactly 4 digits"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), bcrypt.DefaultCost)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to hash PIN"})
		return
	}
	if err := h.memberStore.SetPIN(id, string(hash)); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to set PIN"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "pin set"})
}

func (h *MemberHandler) ClearPIN(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	actor, err := h.actor(r)
	if err != nil || actor == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	target, err := h.memberStore.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get member"})
		return
	}
	if target == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}
	if !access.CanModifyMember(actor, target) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "cannot modify this member"})
		return
	}

	if err := h.memberStore.ClearPIN(id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to clear PIN"})
		return
	}
	h.sessionStore.DeleteByMemberID(id)

	writeJSON(w, http.StatusOK, map[string]string{"status": "pin cleared"})
}
