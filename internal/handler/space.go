package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/bywater/internal/access"
	"github.com/dukerupert/bywater/internal/auth"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/store"
	"github.com/dukerupert/bywater/internal/websocket"
)

type SpaceHandler struct {
	spaceStore    *store.SpaceStore
	categoryStore *store.CategoryStore
	memberStore   *store.MemberStore
	hub           *websocket.Hub
	logger        *slog.Logger
}

func NewSpaceHandler(ss *store.SpaceStore, cs *store.CategoryStore, ms *store.MemberStore, hub *websocket.Hub, logger *slog.Logger) *SpaceHandler {
	return &SpaceHandler{
		spaceStore:    ss,
		categoryStore: cs,
		memberStore:   ms,
		hub:           hub,
		logger:        logger.With("component", "space"),
	}
}

func (h *SpaceHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

// requireManager loads the actor and checks the responsible/admin gate.
// Spaces and categories are family structure, not member property.
func (h *SpaceHandler) requireManager(w http.ResponseWriter, r *http.Request) *model.FamilyMember {
	actor, err := h.memberStore.GetByID(auth.MemberID(r.Context()))
	if err != nil || actor == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return nil
	}
	if !access.CanManageFamily(actor) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "only responsible members can manage spaces"})
		return nil
	}
	return actor
}

func (h *SpaceHandler) CreateSpace(w http.ResponseWriter, r *http.Request) {
	actor := h.requireManager(w, r)
	if actor == nil {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	space, err := h.spaceStore.Create(actor.FamilyID, req.Name)
	if err != nil {
		h.logger.Error("create space", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create space"})
		return
	}

	h.broadcast(websocket.NewMessage("space", "created", space.ID, actor.ID, nil))
	writeJSON(w, http.StatusCreated, space)
}

func (h *SpaceHandler) ListSpaces(w http.ResponseWriter, r *http.Request) {
	spaces, err := h.spaceStore.ListByFamily(auth.FamilyID(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list spaces"})
		return
	}
	if spaces == nil {
		spaces = []model.Space{}
	}
	writeJSON(w, http.StatusOK, spaces)
}

func (h *SpaceHandler) DeleteSpace(w http.ResponseWriter, r *http.Request) {
	actor := h.requireManager(w, r)
	if actor == nil {
		return
	}

	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	space, err := h.spaceStore.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get space"})
		return
	}
	if space == nil || space.FamilyID != actor.FamilyID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "space not found"})
		return
	}

	if err := h.spaceStore.Delete(id); err != nil {
		h.logger.Error("delete space", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete space"})
		return
	}

	h.broadcast(websocket.NewMessage("space", "deleted", id, actor.ID, nil))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *SpaceHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	actor := h.requireManager(w, r)
	if actor == nil {
		return
	}

	var req struct {
		SpaceID int64  `json:"space_id"`
		Name    string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	space, err := h.spaceStore.GetByID(req.SpaceID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get space"})
		return
	}
	if space == nil || space.FamilyID != actor.FamilyID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "space not found"})
		return
	}

	category, err := h.categoryStore.Create(req.SpaceID, req.Name)
	if err != nil {
		h.logger.Error("create category", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create category"})
		return
	}

	h.broadcast(websocket.NewMessage("category", "created", category.ID, actor.ID, nil))
	writeJSON(w, http.StatusCreated, category)
}

func (h *SpaceHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	spaceID, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	space, err := h.spaceStore.GetByID(spaceID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get space"})
		return
	}
	if space == nil || space.FamilyID != auth.FamilyID(r.Context()) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "space not found"})
		return
	}

	categories, err := h.categoryStore.ListBySpace(spaceID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list categories"})
		return
	}
	if categories == nil {
		categories = []model.Category{}
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *SpaceHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	actor := h.requireManager(w, r)
	if actor == nil {
		return
	}

	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	category, err := h.categoryStore.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get category"})
		return
	}
	if category == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "category not found"})
		return
	}

	space, err := h.spaceStore.GetByID(category.SpaceID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get space"})
		return
	}
	if space == nil || space.FamilyID != actor.FamilyID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "category not found"})
		return
	}

	if err := h.categoryStore.Delete(id); err != nil {
		h.logger.Error("delete category", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete category"})
		return
	}

	h.broadcast(websocket.NewMessage("category", "deleted", id, actor.ID, nil))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
