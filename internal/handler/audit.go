package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/store"
)

const defaultAuditLimit = 100

type AuditHandler struct {
	auditStore *store.AuditStore
	logger     *slog.Logger
}

func NewAuditHandler(as *store.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{auditStore: as, logger: logger.With("component", "audit")}
}

// Recent returns the newest audit entries. The route is admin-gated by
// the router.
func (h *AuditHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	entries, err := h.auditStore.ListRecent(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list audit entries"})
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
