package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukerupert/bywater/internal/backup"
	"github.com/dukerupert/bywater/internal/database"
	"github.com/dukerupert/bywater/internal/logging"
	"github.com/dukerupert/bywater/internal/push"
	"github.com/dukerupert/bywater/internal/server"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := logging.Setup(os.Getenv("BYWATER_LOG_LEVEL"), os.Getenv("BYWATER_LOG_FORMAT"))

	port := envOr("BYWATER_PORT", "8080")
	dbPath := envOr("BYWATER_DB_PATH", "bywater.db")

	db, err := database.Open(dbPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	retentionDays, _ := strconv.Atoi(envOr("BYWATER_BACKUP_RETENTION_DAYS", "30"))
	backupInterval, err := time.ParseDuration(envOr("BYWATER_BACKUP_INTERVAL", "24h"))
	if err != nil {
		backupInterval = 24 * time.Hour
	}

	cfg := server.Config{
		SecureCookie: os.Getenv("BYWATER_SECURE_COOKIE") == "true",
		Backup: backup.Config{
			S3: backup.S3Config{
				Endpoint:  os.Getenv("BYWATER_S3_ENDPOINT"),
				Bucket:    os.Getenv("BYWATER_S3_BUCKET"),
				Region:    envOr("BYWATER_S3_REGION", "auto"),
				AccessKey: os.Getenv("BYWATER_S3_ACCESS_KEY"),
				SecretKey: os.Getenv("BYWATER_S3_SECRET_KEY"),
			},
			DBPath:        dbPath,
			Passphrase:    os.Getenv("BYWATER_BACKUP_PASSPHRASE"),
			Interval:      backupInterval,
			RetentionDays: retentionDays,
		},
		Push: push.Config{
			VAPIDPublicKey:  os.Getenv("BYWATER_VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: os.Getenv("BYWATER_VAPID_PRIVATE_KEY"),
		},
	}

	srv := server.New(db, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv.BackupManager().Start(ctx)
	defer srv.BackupManager().Stop()

	// Expiry sweep: retire lapsed grants and auto-reject stale requests.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.SweepExpired(time.Now().UTC())
			}
		}
	}()

	// Housekeeping: expired sessions and stale rate limit buckets.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					logger.Error("session cleanup", "error", err)
				} else if n > 0 {
					logger.Info("expired sessions removed", "count", n)
				}
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("Bywater running at http://localhost:%s\n", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
