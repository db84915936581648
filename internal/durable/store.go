package durable

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

const (
	opStoreNew     = "durable.new"
	opPut          = "durable.put"
	opGetByID      = "durable.get_by_id"
	opGetByProject = "durable.get_by_project"
	opGetAll       = "durable.get_all"
	opRemove       = "durable.remove"

	reasonMissingDatabase = "missing_database"
	reasonInvalidNote     = "invalid_note"
	reasonLegacyContent   = "legacy_content"
	reasonEncodeFailed    = "encode_failed"
	reasonDecodeFailed    = "decode_failed"
	reasonWriteFailed     = "write_failed"
	reasonQueryFailed     = "query_failed"

	fieldNoteID    = "note_id"
	fieldProjectID = "project_id"

	queryByID        = "id = ?"
	queryByProject   = "project_id = ?"
	orderByCreatedAt = "created_at_ms ASC, id ASC"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrInvalidNote indicates a note that cannot be stored as given.
	ErrInvalidNote = errors.New("durable: invalid note")
	// ErrLegacyContent indicates a note whose content has not been converted to blocks.
	ErrLegacyContent = errors.New("durable: legacy content must be migrated before storage")
	noOpLogger       = zap.NewNop()
)

// StoreError carries a stable "operation.reason" code for every storage failure.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the failure code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// NoteStore is the durable document store for notes.
type NoteStore interface {
	Put(ctx context.Context, note notes.Note) error
	GetByID(ctx context.Context, noteID string) (notes.Note, bool, error)
	GetByProject(ctx context.Context, projectID string) ([]notes.Note, error)
	GetAll(ctx context.Context) ([]notes.Note, error)
	Remove(ctx context.Context, noteID string) error
}

// StoreConfig describes the dependencies of a SQLiteStore.
type StoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// SQLiteStore keeps notes in the notes table of the application database.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteStore validates the configuration and returns a store.
func NewSQLiteStore(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, reasonMissingDatabase, errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &SQLiteStore{db: cfg.Database, logger: logger}, nil
}

// Put inserts the note or replaces the stored copy with the same id.
func (s *SQLiteStore) Put(ctx context.Context, note notes.Note) error {
	if _, err := notes.NewNoteID(note.ID); err != nil {
		return newStoreError(opPut, reasonInvalidNote, fmt.Errorf("%w: %v", ErrInvalidNote, err))
	}
	if _, err := notes.NewProjectID(note.ProjectID); err != nil {
		return newStoreError(opPut, reasonInvalidNote, fmt.Errorf("%w: %v", ErrInvalidNote, err))
	}
	if note.IsLegacy() && len(note.Content) == 0 {
		return newStoreError(opPut, reasonLegacyContent, ErrLegacyContent)
	}
	if err := note.Content.Validate(); err != nil {
		return newStoreError(opPut, reasonInvalidNote, fmt.Errorf("%w: %v", ErrInvalidNote, err))
	}

	record, err := recordFromNote(note)
	if err != nil {
		s.logError(opPut, reasonEncodeFailed, err, zap.String(fieldNoteID, note.ID))
		return newStoreError(opPut, reasonEncodeFailed, err)
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error; err != nil {
		s.logError(opPut, reasonWriteFailed, err, zap.String(fieldNoteID, note.ID))
		return newStoreError(opPut, reasonWriteFailed, err)
	}
	return nil
}

// GetByID returns the stored note. The boolean is false when no note has the id.
func (s *SQLiteStore) GetByID(ctx context.Context, noteID string) (notes.Note, bool, error) {
	var record NoteRecord
	err := s.db.WithContext(ctx).Where(queryByID, noteID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notes.Note{}, false, nil
	}
	if err != nil {
		s.logError(opGetByID, reasonQueryFailed, err, zap.String(fieldNoteID, noteID))
		return notes.Note{}, false, newStoreError(opGetByID, reasonQueryFailed, err)
	}
	note, err := record.toNote()
	if err != nil {
		s.logError(opGetByID, reasonDecodeFailed, err, zap.String(fieldNoteID, noteID))
		return notes.Note{}, false, newStoreError(opGetByID, reasonDecodeFailed, err)
	}
	return note, true, nil
}

// GetByProject returns the notes of one project in creation order.
func (s *SQLiteStore) GetByProject(ctx context.Context, projectID string) ([]notes.Note, error) {
	var records []NoteRecord
	if err := s.db.WithContext(ctx).
		Where(queryByProject, projectID).
		Order(orderByCreatedAt).
		Find(&records).Error; err != nil {
		s.logError(opGetByProject, reasonQueryFailed, err, zap.String(fieldProjectID, projectID))
		return nil, newStoreError(opGetByProject, reasonQueryFailed, err)
	}
	return s.decodeAll(opGetByProject, records)
}

// GetAll returns every stored note in creation order.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]notes.Note, error) {
	var records []NoteRecord
	if err := s.db.WithContext(ctx).Order(orderByCreatedAt).Find(&records).Error; err != nil {
		s.logError(opGetAll, reasonQueryFailed, err)
		return nil, newStoreError(opGetAll, reasonQueryFailed, err)
	}
	return s.decodeAll(opGetAll, records)
}

// Remove deletes the note. Removing a missing note succeeds.
func (s *SQLiteStore) Remove(ctx context.Context, noteID string) error {
	if err := s.db.WithContext(ctx).Where(queryByID, noteID).Delete(&NoteRecord{}).Error; err != nil {
		s.logError(opRemove, reasonWriteFailed, err, zap.String(fieldNoteID, noteID))
		return newStoreError(opRemove, reasonWriteFailed, err)
	}
	return nil
}

func (s *SQLiteStore) decodeAll(operation string, records []NoteRecord) ([]notes.Note, error) {
	result := make([]notes.Note, 0, len(records))
	for _, record := range records {
		note, err := record.toNote()
		if err != nil {
			s.logError(operation, reasonDecodeFailed, err, zap.String(fieldNoteID, record.ID))
			return nil, newStoreError(operation, reasonDecodeFailed, err)
		}
		result = append(result, note)
	}
	return result, nil
}

func (s *SQLiteStore) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("durable store error", attrs...)
}
