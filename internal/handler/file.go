package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/bywater/internal/access"
	"github.com/dukerupert/bywater/internal/auth"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/store"
	"github.com/dukerupert/bywater/internal/websocket"
)

type FileHandler struct {
	fileStore   *store.FileStore
	folderStore *store.FolderStore
	resolver    *access.Resolver
	hub         *websocket.Hub
	logger      *slog.Logger
}

func NewFileHandler(fs *store.FileStore, fos *store.FolderStore, resolver *access.Resolver, hub *websocket.Hub, logger *slog.Logger) *FileHandler {
	return &FileHandler{
		fileStore:   fs,
		folderStore: fos,
		resolver:    resolver,
		hub:         hub,
		logger:      logger.With("component", "file"),
	}
}

func (h *FileHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

func (h *FileHandler) authorize(w http.ResponseWriter, actorID int64, ref model.ResourceRef, action model.PermissionKind) bool {
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

// Create records a file in a folder. Writing into a folder the actor
// does not own requires write access there; the file's owner follows
// the folder, the creator is the actor.
func (h *FileHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID := auth.MemberID(r.Context())

	var req struct {
		FolderID  int64  `json:"folder_id"`
		Name      string `json:"name"`
		SizeBytes int64  `json:"size_bytes"`
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
	if req.SizeBytes < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "size_bytes must not be negative"})
		return
	}

	folder, err := h.folderStore.GetByID(req.FolderID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get folder"})
		return
	}
	if folder == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "folder not found"})
		return
	}

	if !h.authorize(w, actorID, model.ResourceRef{Kind: model.ScopeFolder, ID: folder.ID}, model.PermissionWrite) {
		return
	}

	file, err := h.fileStore.Create(folder.ID, folder.OwnerID, actorID, req.Name, req.SizeBytes)
	if err != nil {
		h.logger.Error("create file", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create file"})
		return
	}

	h.broadcast(websocket.NewMessage("file", "created", file.ID, actorID, nil))
	writeJSON(w, http.StatusCreated, file)
}

func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	if !h.authorize(w, auth.MemberID(r.Context()), model.ResourceRef{Kind: model.ScopeFile, ID: id}, model.PermissionRead) {
		return
	}

	file, err := h.fileStore.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get file"})
		return
	}
	if file == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// ListByFolder returns the files in a folder, provided the actor can
// read the folder itself.
func (h *FileHandler) ListByFolder(w http.ResponseWriter, r *http.Request) {
	folderID, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	if !h.authorize(w, auth.MemberID(r.Context()), model.ResourceRef{Kind: model.ScopeFolder, ID: folderID}, model.PermissionRead) {
		return
	}

	files, err := h.fileStore.ListByFolder(folderID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list files"})
		return
	}
	if files == nil {
		files = []model.File{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *FileHandler) Rename(w http.ResponseWriter, r *http.Request) {
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

	actorID := auth.MemberID(r.Context())
	if !h.authorize(w, actorID, model.ResourceRef{Kind: model.ScopeFile, ID: id}, model.PermissionWrite) {
		return
	}

	file, err := h.fileStore.Rename(id, req.Name)
	if err != nil {
		h.logger.Error("rename file", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to rename file"})
		return
	}

	h.broadcast(websocket.NewMessage("file", "updated", id, actorID, nil))
	writeJSON(w, http.StatusOK, file)
}

func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	actorID := auth.MemberID(r.Context())
	if !h.authorize(w, actorID, model.ResourceRef{Kind: model.ScopeFile, ID: id}, model.PermissionDelete) {
		return
	}

	if err := h.fileStore.Delete(id); err != nil {
		h.logger.Error("delete file", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete file"})
		return
	}

	h.broadcast(websocket.NewMessage("file", "deleted", id, actorID, nil))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
