package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/notepro/internal/durable"
	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

func TestApplyMigrationsBackfillsNoteColumns(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&durable.NoteRecord{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := database.Exec(
		"INSERT INTO notes (id, project_id, title, content, format, created_at_ms, updated_at_ms) VALUES (?, ?, ?, ?, ?, ?, ?)",
		"note-1", "project-1", "  ", "[]", "", 1, 1,
	).Error; err != nil {
		testContext.Fatalf("failed to insert note: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored durable.NoteRecord
	if err := database.Where("id = ?", "note-1").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload note: %v", err)
	}
	if stored.Format != string(notes.FormatText) {
		testContext.Fatalf("expected format to be backfilled, got %q", stored.Format)
	}
	if stored.Title != notes.DefaultNoteTitle {
		testContext.Fatalf("expected title to be normalized, got %q", stored.Title)
	}

	for _, name := range []string{migrationBackfillNoteFormat, migrationNormalizeEmptyTitle} {
		var record migrationRecord
		if err := database.Where("name = ?", name).Take(&record).Error; err != nil {
			testContext.Fatalf("expected migration record %s to be created: %v", name, err)
		}
		if record.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration timestamp to be set")
		}
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	database, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "once.db")), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&durable.NoteRecord{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	if err := applyMigrations(database, nil); err != nil {
		testContext.Fatalf("first run failed: %v", err)
	}
	if err := applyMigrations(database, nil); err != nil {
		testContext.Fatalf("second run failed: %v", err)
	}
	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		testContext.Fatalf("expected 2 migration records, got %d", count)
	}
}

func TestOpenSQLiteCreatesTables(testContext *testing.T) {
	database, err := OpenSQLite(filepath.Join(testContext.TempDir(), "app.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("open failed: %v", err)
	}
	defer Close(database)
	for _, table := range []string{"notes", "kv_entries", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s", table)
		}
	}
	if !database.Migrator().HasIndex(&durable.NoteRecord{}, "idx_notes_project") {
		testContext.Fatalf("expected idx_notes_project index")
	}
}
