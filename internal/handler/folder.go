package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/bywater/internal/access"
	"github.com/dukerupert/bywater/internal/auth"
	"github.com/dukerupert/bywater/internal/hierarchy"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/store"
	"github.com/dukerupert/bywater/internal/websocket"
)

type FolderHandler struct {
	folderStore *store.FolderStore
	index       *hierarchy.Index
	resolver    *access.Resolver
	hub         *websocket.Hub
	logger      *slog.Logger
}

func NewFolderHandler(fs *store.FolderStore, index *hierarchy.Index, resolver *access.Resolver, hub *websocket.Hub, logger *slog.Logger) *FolderHandler {
	return &FolderHandler{
		folderStore: fs,
		index:       index,
		resolver:    resolver,
		hub:         hub,
		logger:      logger.With("component", "folder"),
	}
}

func (h *FolderHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

// authorize runs the resolution engine and writes the refusal if denied.
// Returns true when the caller may proceed.
func (h *FolderHandler) authorize(w http.ResponseWriter, actorID int64, ref model.ResourceRef, action model.PermissionKind) bool {
	decision, err := h.resolver.Authorize(actorID, ref, action, time.Now().UTC())
	if err != nil {
		writeError(w, err, "authorization failed")
		return false
	}
	if !decision.Allowed {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": decision.Reason})
		return false
	}
	return true
}

func (h *FolderHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID := auth.MemberID(r.Context())

	var req struct {
		CategoryID int64  `json:"category_id"`
		ParentID   *int64 `json:"parent_id"`
		Name       string `json:"name"`
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

	categoryRef := model.ResourceRef{Kind: model.ScopeCategory, ID: req.CategoryID}
	familyID, err := h.index.FamilyOf(categoryRef)
	if err != nil {
		writeError(w, err, "failed to resolve category")
		return
	}
	if familyID != auth.FamilyID(r.Context()) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "category not found"})
		return
	}

	if req.ParentID != nil {
		parent, err := h.folderStore.GetByID(*req.ParentID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get parent folder"})
			return
		}
		if parent == nil || parent.CategoryID != req.CategoryID {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "parent folder not in category"})
			return
		}
		// Creating inside someone else's folder needs write access there.
		if !h.authorize(w, actorID, model.ResourceRef{Kind: model.ScopeFolder, ID: parent.ID}, model.PermissionWrite) {
			return
		}
	}

	folder, err := h.folderStore.Create(req.CategoryID, req.ParentID, actorID, req.Name)
	if err != nil {
		h.logger.Error("create folder", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create folder"})
		return
	}

	h.broadcast(websocket.NewMessage("folder", "created", folder.ID, actorID, nil))
	writeJSON(w, http.StatusCreated, folder)
}

func (h *FolderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	ref := model.ResourceRef{Kind: model.ScopeFolder, ID: id}
	if !h.authorize(w, auth.MemberID(r.Context()), ref, model.PermissionRead) {
		return
	}

	folder, err := h.folderStore.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get folder"})
		return
	}
	if folder == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "folder not found"})
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

// ListByCategory returns the folders in a category the actor may read.
// Folders the actor cannot read are filtered out, not errored on.
func (h *FolderHandler) ListByCategory(w http.ResponseWriter, r *http.Request) {
	categoryID, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	actorID := auth.MemberID(r.Context())
	categoryRef := model.ResourceRef{Kind: model.ScopeCategory, ID: categoryID}
	familyID, err := h.index.FamilyOf(categoryRef)
	if err != nil {
		writeError(w, err, "failed to resolve category")
		return
	}
	if familyID != auth.FamilyID(r.Context()) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "category not found"})
		return
	}

	folders, err := h.folderStore.ListByCategory(categoryID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list folders"})
		return
	}

	now := time.Now().UTC()
	visible := []model.Folder{}
	for _, f := range folders {
		decision, err := h.resolver.Authorize(actorID, model.ResourceRef{Kind: model.ScopeFolder, ID: f.ID}, model.PermissionRead, now)
		if err != nil {
			writeError(w, err, "authorization failed")
			return
		}
		if decision.Allowed {
			visible = append(visible, f)
		}
	}

	writeJSON(w, http.StatusOK, visible)
}

func (h *FolderHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
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

	ref := model.ResourceRef{Kind: model.ScopeFolder, ID: id}
	actorID := auth.MemberID(r.Context())
	if !h.authorize(w, actorID, ref, model.PermissionWrite) {
		return
	}

	folder, err := h.folderStore.Rename(id, req.Name)
	if err != nil {
		h.logger.Error("rename folder", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to rename folder"})
		return
	}

	h.broadcast(websocket.NewMessage("folder", "updated", id, actorID, nil))
	writeJSON(w, http.StatusOK, folder)
}

// Move reparents a folder within its category. The hierarchy index
// rejects cross-category moves and cycles before anything is written.
func (h *FolderHandler) Move(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		ParentID *int64 `json:"parent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	ref := model.ResourceRef{Kind: model.ScopeFolder, ID: id}
	actorID := auth.MemberID(r.Context())
	if !h.authorize(w, actorID, ref, model.PermissionWrite) {
		return
	}
	if req.ParentID != nil {
		if !h.authorize(w, actorID, model.ResourceRef{Kind: model.ScopeFolder, ID: *req.ParentID}, model.PermissionWrite) {
			return
		}
	}

	if err := h.index.ValidateMove(id, req.ParentID); err != nil {
		writeError(w, err, "failed to validate move")
		return
	}

	folder, err := h.folderStore.SetParent(id, req.ParentID)
	if err != nil {
		h.logger.Error("move folder", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to move folder"})
		return
	}

	h.broadcast(websocket.NewMessage("folder", "moved", id, actorID, nil))
	writeJSON(w, http.StatusOK, folder)
}

func (h *FolderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	ref := model.ResourceRef{Kind: model.ScopeFolder, ID: id}
	actorID := auth.MemberID(r.Context())
	if !h.authorize(w, actorID, ref, model.PermissionDelete) {
		return
	}

	if err := h.folderStore.Delete(id); err != nil {
		h.logger.Error("delete folder", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete folder"})
		return
	}

	h.broadcast(websocket.NewMessage("folder", "deleted", id, actorID, nil))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
