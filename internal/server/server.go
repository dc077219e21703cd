package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/bywater/internal/access"
	"github.com/dukerupert/bywater/internal/backup"
	"github.com/dukerupert/bywater/internal/delegation"
	"github.com/dukerupert/bywater/internal/handler"
	"github.com/dukerupert/bywater/internal/hierarchy"
	"github.com/dukerupert/bywater/internal/middleware"
	"github.com/dukerupert/bywater/internal/push"
	"github.com/dukerupert/bywater/internal/store"
	ws "github.com/dukerupert/bywater/internal/websocket"
)

// Config holds everything the server needs beyond the database handle.
type Config struct {
	SecureCookie bool
	Backup       backup.Config
	Push         push.Config
}

type Server struct {
	db           *sql.DB
	hub          *ws.Hub
	authH        *handler.AuthHandler
	memberH      *handler.MemberHandler
	spaceH       *handler.SpaceHandler
	folderH      *handler.FolderHandler
	fileH        *handler.FileHandler
	permissionH  *handler.PermissionHandler
	requestH     *handler.RequestHandler
	auditH       *handler.AuditHandler
	pushH        *handler.PushHandler
	backupH      *handler.BackupHandler
	sessionStore *store.SessionStore
	memberStore  *store.MemberStore
	rateLimiter  *middleware.RateLimiter

	grants        *access.Grants
	delegationSvc *delegation.Service
	backupManager *backup.Manager
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	familyStore := store.NewFamilyStore(db)
	memberStore := store.NewMemberStore(db)
	sessionStore := store.NewSessionStore(db)
	spaceStore := store.NewSpaceStore(db)
	categoryStore := store.NewCategoryStore(db)
	folderStore := store.NewFolderStore(db)
	fileStore := store.NewFileStore(db)
	permStore := store.NewPermissionStore(db)
	requestStore := store.NewRequestStore(db)
	auditStore := store.NewAuditStore(db)
	pushStore := store.NewPushStore(db)
	backupStore := store.NewBackupStore(db)

	index := hierarchy.NewIndex(spaceStore, categoryStore, folderStore, fileStore)
	grants := access.NewGrants(permStore, memberStore, auditStore, index, logger.With("component", "grants"))
	resolver := access.NewResolver(memberStore, index, grants)
	delegationSvc := delegation.NewService(requestStore, memberStore, auditStore, grants, index, logger.With("component", "delegation"))

	backupMgr := backup.NewManager(cfg.Backup, db, backupStore, logger, func(s backup.Status) {
		hub.Broadcast(ws.Message{
			Type:   "backup_status",
			Entity: "backup",
			Action: string(s.State),
			Extra: map[string]any{
				"in_progress": s.InProgress,
				"error":       s.Error,
			},
		})
	})

	var pushSvc *push.Service
	if cfg.Push.VAPIDPublicKey != "" && cfg.Push.VAPIDPrivateKey != "" {
		pushSvc = push.NewService(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, pushStore, logger)
	}

	return &Server{
		db:            db,
		hub:           hub,
		authH:         handler.NewAuthHandler(familyStore, memberStore, sessionStore, cfg.SecureCookie, logger),
		memberH:       handler.NewMemberHandler(memberStore, sessionStore, logger),
		spaceH:        handler.NewSpaceHandler(spaceStore, categoryStore, memberStore, hub, logger),
		folderH:       handler.NewFolderHandler(folderStore, index, resolver, hub, logger),
		fileH:         handler.NewFileHandler(fileStore, folderStore, resolver, hub, logger),
		permissionH:   handler.NewPermissionHandler(permStore, memberStore, auditStore, grants, resolver, hub, pushSvc, logger),
		requestH:      handler.NewRequestHandler(delegationSvc, requestStore, auditStore, hub, pushSvc, logger),
		auditH:        handler.NewAuditHandler(auditStore, logger),
		pushH:         handler.NewPushHandler(pushStore, pushSvc, logger),
		backupH:       handler.NewBackupHandler(backupMgr, backupStore, logger),
		sessionStore:  sessionStore,
		memberStore:   memberStore,
		rateLimiter:   middleware.NewRateLimiter(),
		grants:        grants,
		delegationSvc: delegationSvc,
		backupManager: backupMgr,
		logger:        logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// SweepExpired retires lapsed permissions and auto-rejects stale pending
// requests. Called on a timer from main.
func (s *Server) SweepExpired(now time.Time) {
	if n, err := s.grants.SweepExpired(now); err != nil {
		s.logger.Error("permission sweep", "error", err)
	} else if n > 0 {
		s.hub.Broadcast(ws.NewMessage("permission", "expired", 0, 0, map[string]any{"count": n}))
	}

	if n, err := s.delegationSvc.SweepExpired(now); err != nil {
		s.logger.Error("request sweep", "error", err)
	} else if n > 0 {
		s.hub.Broadcast(ws.NewMessage("request", "expired", 0, 0, map[string]any{"count": n}))
	}
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /setup", s.rateLimitedHandler(s.authH.Setup))
	outerMux.HandleFunc("POST /login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore, s.memberStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /logout", s.authH.Logout)
	mux.HandleFunc("GET /api/me", s.authH.Me)

	// Member routes
	mux.HandleFunc("GET /api/members", s.memberH.List)
	mux.HandleFunc("POST /api/members", s.memberH.Create)
	mux.HandleFunc("GET /api/members/{id}", s.memberH.Get)
	mux.HandleFunc("PUT /api/members/{id}", s.memberH.Update)
	mux.HandleFunc("DELETE /api/members/{id}", s.memberH.Delete)
	mux.HandleFunc("PUT /api/members/{id}/role", s.memberH.SetRole)
	mux.HandleFunc("POST /api/members/{id}/pin", s.memberH.SetPIN)
	mux.HandleFunc("DELETE /api/members/{id}/pin", s.memberH.ClearPIN)

	// Space and category routes
	mux.HandleFunc("GET /api/spaces", s.spaceH.ListSpaces)
	mux.HandleFunc("POST /api/spaces", s.spaceH.CreateSpace)
	mux.HandleFunc("DELETE /api/spaces/{id}", s.spaceH.DeleteSpace)
	mux.HandleFunc("GET /api/spaces/{id}/categories", s.spaceH.ListCategories)
	mux.HandleFunc("POST /api/categories", s.spaceH.CreateCategory)
	mux.HandleFunc("DELETE /api/categories/{id}", s.spaceH.DeleteCategory)

	// Folder routes
	mux.HandleFunc("POST /api/folders", s.folderH.Create)
	mux.HandleFunc("GET /api/folders/{id}", s.folderH.Get)
	mux.HandleFunc("GET /api/categories/{id}/folders", s.folderH.ListByCategory)
	mux.HandleFunc("PUT /api/folders/{id}", s.folderH.Rename)
	mux.HandleFunc("PUT /api/folders/{id}/parent", s.folderH.Move)
	mux.HandleFunc("DELETE /api/folders/{id}", s.folderH.Delete)

	// File routes
	mux.HandleFunc("POST /api/files", s.fileH.Create)
	mux.HandleFunc("GET /api/files/{id}", s.fileH.Get)
	mux.HandleFunc("GET /api/folders/{id}/files", s.fileH.ListByFolder)
	mux.HandleFunc("PUT /api/files/{id}", s.fileH.Rename)
	mux.HandleFunc("DELETE /api/files/{id}", s.fileH.Delete)

	// Permission routes
	mux.HandleFunc("GET /api/permissions", s.permissionH.List)
	mux.HandleFunc("POST /api/permissions", s.permissionH.Grant)
	mux.HandleFunc("DELETE /api/permissions/{id}", s.permissionH.Revoke)
	mux.HandleFunc("GET /api/permissions/{id}/audit", s.permissionH.Audit)
	mux.HandleFunc("POST /api/authorize", s.permissionH.Authorize)

	// Delegation request routes
	mux.HandleFunc("POST /api/requests", s.requestH.Create)
	mux.HandleFunc("GET /api/requests", s.requestH.List)
	mux.HandleFunc("GET /api/requests/pending", s.requestH.ListPending)
	mux.HandleFunc("GET /api/requests/{id}", s.requestH.Get)
	mux.HandleFunc("POST /api/requests/{id}/approve", s.requestH.Approve)
	mux.HandleFunc("POST /api/requests/{id}/reject", s.requestH.Reject)
	mux.HandleFunc("GET /api/requests/{id}/audit", s.requestH.Audit)

	// Push notification routes
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)
	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("POST /api/push/unsubscribe", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)

	// Admin-only routes
	mux.Handle("GET /api/audit", middleware.RequireAdmin(http.HandlerFunc(s.auditH.Recent)))
	mux.Handle("GET /api/backups", middleware.RequireAdmin(http.HandlerFunc(s.backupH.List)))
	mux.Handle("GET /api/backups/status", middleware.RequireAdmin(http.HandlerFunc(s.backupH.Status)))
	mux.Handle("POST /api/backups/run", middleware.RequireAdmin(http.HandlerFunc(s.backupH.RunNow)))
	mux.Handle("GET /api/backups/{id}/download", middleware.RequireAdmin(http.HandlerFunc(s.backupH.Download)))
}
