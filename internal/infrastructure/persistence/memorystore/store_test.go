package memorystore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/saorsa-labs/fae/internal/domain/entity"
)

func TestIndexAndFindByID(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "fae.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	record, err := entity.NewMemoryRecord("mem_1", entity.MemoryKindFact, "the sky is blue", 0.9)
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if err := store.Index(ctx, record, nil); err != nil {
		t.Fatalf("index: %v", err)
	}

	got, err := store.FindByID(ctx, "mem_1")
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if got.Text != "the sky is blue" {
		t.Fatalf("text mismatch: %q", got.Text)
	}
}

func TestIndexRejectsWrongEmbeddingDimension(t *testing.T) {
	ctx := context.Background()
	store, err := Open(filepath.Join(t.TempDir(), "fae.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	record, _ := entity.NewMemoryRecord("mem_2", entity.MemoryKindFact, "x", 0.5)
	if err := store.Index(ctx, record, make([]float32, 10)); err == nil {
		t.Fatal("expected error for wrong embedding dimension")
	}
}

func TestSearchRanksByCosineSimilarity(t *testing.T) {
	ctx := context.Background()
	store, err := Open(filepath.Join(t.TempDir(), "fae.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	closeRecord, _ := entity.NewMemoryRecord("close", entity.MemoryKindFact, "near", 0.9)
	far, _ := entity.NewMemoryRecord("far", entity.MemoryKindFact, "away", 0.9)

	closeVec := make([]float32, EmbeddingDimension)
	closeVec[0] = 1
	farVec := make([]float32, EmbeddingDimension)
	farVec[1] = 1

	if err := store.Index(ctx, closeRecord, closeVec); err != nil {
		t.Fatalf("index close: %v", err)
	}
	if err := store.Index(ctx, far, farVec); err != nil {
		t.Fatalf("index far: %v", err)
	}

	query := make([]float32, EmbeddingDimension)
	query[0] = 1

	results, err := store.Search(ctx, query, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Record.ID != "close" {
		t.Fatalf("expected closest match first, got %q", results[0].Record.ID)
	}
}

func TestBackupSurvivesAndContainsIndexedRows(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "fae.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	record, _ := entity.NewMemoryRecord("mem_backup", entity.MemoryKindFact, "test backup", 0.8)
	if err := store.Index(ctx, record, nil); err != nil {
		t.Fatalf("index: %v", err)
	}

	backupDir := t.TempDir()
	backupPath, err := store.Backup(ctx, backupDir, 5)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}

	backupStore, err := Open(backupPath)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer backupStore.Close()

	got, err := backupStore.FindByID(ctx, "mem_backup")
	if err != nil {
		t.Fatalf("find in backup: %v", err)
	}
	if got.Text != "test backup" {
		t.Fatalf("expected %q, got %q", "test backup", got.Text)
	}
}

func TestBackupRotationKeepsOnlyNewestGenerations(t *testing.T) {
	backupDir := t.TempDir()
	names := []string{
		"fae-backup-20260101-000000.db",
		"fae-backup-20260102-000000.db",
		"fae-backup-20260103-000000.db",
		"fae-backup-20260104-000000.db",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(backupDir, n), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed backup file %s: %v", n, err)
		}
	}

	if err := rotateBackups(backupDir, 2); err != nil {
		t.Fatalf("rotateBackups: %v", err)
	}

	entries, err := filepath.Glob(filepath.Join(backupDir, "fae-backup-*.db"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected exactly 2 retained backups, got %d: %v", len(entries), entries)
	}
	for _, e := range entries {
		base := filepath.Base(e)
		if base == names[0] || base == names[1] {
			t.Fatalf("expected oldest backups to be removed, found %s", base)
		}
	}
}
