package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/notepro/internal/durable"
	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

const (
	migrationBackfillNoteFormat  = "2024-06-01_backfill_note_format"
	migrationNormalizeEmptyTitle = "2024-06-15_normalize_empty_note_titles"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillNoteFormat, apply: backfillNoteFormat},
		{name: migrationNormalizeEmptyTitle, apply: normalizeEmptyNoteTitles},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func backfillNoteFormat(db *gorm.DB) error {
	return db.Model(&durable.NoteRecord{}).
		Where("format = '' OR format IS NULL").
		Update("format", string(notes.FormatText)).Error
}

func normalizeEmptyNoteTitles(db *gorm.DB) error {
	return db.Model(&durable.NoteRecord{}).
		Where("TRIM(title) = ''").
		Update("title", notes.DefaultNoteTitle).Error
}
