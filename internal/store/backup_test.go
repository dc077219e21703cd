package store

import (
	"testing"
	"time"

	"github.com/dukerupert/bywater/internal/database"
	"github.com/dukerupert/bywater/internal/model"
)

func setupBackupTestDB(t *testing.T) (*BackupStore, int64) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	family, err := NewFamilyStore(db).Create("Baggins")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	return NewBackupStore(db), family.ID
}

func TestBackupLifecycle(t *testing.T) {
	bs, familyID := setupBackupTestDB(t)

	b, err := bs.Create(familyID, "bywater-20260829.db.enc", "backups/abc.enc")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if b.Status != model.BackupStatusPending {
		t.Errorf("Status = %q, want %q", b.Status, model.BackupStatusPending)
	}
	if b.StartedAt == nil {
		t.Error("StartedAt not set")
	}

	if err := bs.UpdateCompleted(b.ID, 4096); err != nil {
		t.Fatalf("update completed: %v", err)
	}

	got, err := bs.GetByID(b.ID, familyID)
	if err != nil {
		t.Fatalf("get backup: %v", err)
	}
	if got.Status != model.BackupStatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, model.BackupStatusCompleted)
	}
	if got.SizeBytes != 4096 {
		t.Errorf("SizeBytes = %d, want 4096", got.SizeBytes)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	latest, err := bs.LatestCompleted(familyID)
	if err != nil {
		t.Fatalf("latest completed: %v", err)
	}
	if latest == nil || latest.ID != b.ID {
		t.Errorf("LatestCompleted = %+v, want id %d", latest, b.ID)
	}
}

func TestBackupFailureStatus(t *testing.T) {
	bs, familyID := setupBackupTestDB(t)

	b, err := bs.Create(familyID, "snap.db.enc", "backups/fail.enc")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if err := bs.UpdateStatus(b.ID, model.BackupStatusFailed, "upload timed out"); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, err := bs.GetByID(b.ID, familyID)
	if err != nil {
		t.Fatalf("get backup: %v", err)
	}
	if got.Status != model.BackupStatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, model.BackupStatusFailed)
	}
	if got.ErrorMessage != "upload timed out" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}

	latest, err := bs.LatestCompleted(familyID)
	if err != nil {
		t.Fatalf("latest completed: %v", err)
	}
	if latest != nil {
		t.Error("failed backup reported as latest completed")
	}
}

func TestBackupGetByIDWrongFamily(t *testing.T) {
	bs, familyID := setupBackupTestDB(t)

	b, err := bs.Create(familyID, "snap.db.enc", "backups/x.enc")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}

	got, err := bs.GetByID(b.ID, familyID+1)
	if err != nil {
		t.Fatalf("get backup: %v", err)
	}
	if got != nil {
		t.Error("backup visible to another family")
	}
}

func TestBackupDeleteOlderThan(t *testing.T) {
	bs, familyID := setupBackupTestDB(t)

	if _, err := bs.Create(familyID, "old.db.enc", "backups/old.enc"); err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if _, err := bs.Create(familyID, "new.db.enc", "backups/new.enc"); err != nil {
		t.Fatalf("create backup: %v", err)
	}

	keys, err := bs.DeleteOlderThan(familyID, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}

	list, err := bs.List(familyID, 10)
	if err != nil {
		t.Fatalf("list backups: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("got %d rows after delete, want 0", len(list))
	}
}
