package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/bywater/internal/auth"
	"github.com/dukerupert/bywater/internal/store"
)

const sessionCookieName = "bywater_session"

type AuthHandler struct {
	familyStore  *store.FamilyStore
	memberStore  *store.MemberStore
	sessionStore *store.SessionStore
	secureCookie bool
	logger       *slog.Logger
}

func NewAuthHandler(fs *store.FamilyStore, ms *store.MemberStore, ss *store.SessionStore, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		familyStore:  fs,
		memberStore:  ms,
		sessionStore: ss,
		secureCookie: secureCookie,
		logger:       logger.With("component", "auth"),
	}
}

// Setup bootstraps the very first family and its admin member. It only
// works while no family exists; after that it always returns 409.
func (h *AuthHandler) Setup(w http.ResponseWriter, r *http.Request) {
	families, err := h.familyStore.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to check families"})
		return
	}
	if len(families) > 0 {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "already set up"})
		return
	}

	var req struct {
		FamilyName string `json:"family_name"`
		Name       string `json:"name"`
		PIN        string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.FamilyName = strings.TrimSpace(req.FamilyName)
	req.Name = strings.TrimSpace(req.Name)
	if req.FamilyName == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "family_name and name are required"})
		return
	}
	if len(req.PIN) != 4 || !isDigits(req.PIN) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "PIN must be exactly 4 digits"})
		return
	}

	family, err := h.familyStore.Create(req.FamilyName)
	if err != nil {
		h.logger.Error("create family", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create family"})
		return
	}

	member, err := h.memberStore.Create(family.ID, req.Name, nil, "", true, true)
	if err != nil {
		h.logger.Error("create admin member", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create member"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), bcrypt.DefaultCost)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to hash PIN"})
		return
	}
	if err := h.memberStore.SetPIN(member.ID, string(hash)); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to set PIN"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"family": family,
		"member": member,
	})
}

// Login authenticates a member by id and PIN and sets a session cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID int64  `json:"member_id"`
		PIN      string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	member, err := h.memberStore.GetByID(req.MemberID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to look up member"})
		return
	}
	if member == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "incorrect member or PIN"})
		return
	}

	hash, err := h.memberStore.GetPINHash(member.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to look up PIN"})
		return
	}
	if hash == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no PIN set for this member"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.PIN)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "incorrect member or PIN"})
		return
	}

	session, err := h.sessionStore.Create(member.ID, member.FamilyID)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, member)
}

// Logout deletes the current session and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if session, err := h.sessionStore.GetByToken(cookie.Value); err == nil && session != nil {
			h.sessionStore.Delete(session.ID)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// Me returns the authenticated member.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	member, err := h.memberStore.GetByID(auth.MemberID(r.Context()))
	if err != nil || member == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	writeJSON(w, http.StatusOK, member)
}
