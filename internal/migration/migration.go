package migration

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

var (
	errMissingStore       = errors.New("note store is required")
	errMissingCoordinator = errors.New("coordinator is required")
	errMissingIDProvider  = errors.New("id provider is required")
	noOpLogger            = zap.NewNop()
)

// Outcome names the branch a migration run took.
type Outcome string

const (
	// OutcomeLoadedFromStore means the durable store already held notes.
	OutcomeLoadedFromStore Outcome = "loaded_from_store"
	// OutcomeMigratedFromCache means cached notes were written to the durable store.
	OutcomeMigratedFromCache Outcome = "migrated_from_cache"
	// OutcomeNothingToDo means neither store held notes.
	OutcomeNothingToDo Outcome = "nothing_to_do"
)

// Report summarizes one run.
type Report struct {
	Outcome   Outcome
	Loaded    int
	Converted int
	Persisted int
	Skipped   int
	Failed    int
}

// NoteStore is the slice of the durable store the migration reads and writes.
type NoteStore interface {
	GetAll(ctx context.Context) ([]notes.Note, error)
	Put(ctx context.Context, note notes.Note) error
}

// Coordinator exposes the state the migration reads and the bulk init it triggers.
// TouchedNoteIDs names the notes dispatch has already written or deleted this session.
type Coordinator interface {
	State() notes.AppState
	InitFromStore(stored []notes.Note) (notes.AppState, error)
	TouchedNoteIDs() map[string]struct{}
}

// Config describes the dependencies of a Migrator.
type Config struct {
	Store       NoteStore
	Coordinator Coordinator
	IDProvider  notes.IDProvider
	Logger      *zap.Logger
}

// Migrator reconciles the cache-seeded state with the durable store once per session.
type Migrator struct {
	store       NoteStore
	coordinator Coordinator
	idProvider  notes.IDProvider
	logger      *zap.Logger

	mu     sync.Mutex
	done   bool
	report Report
}

// New validates the configuration and returns a Migrator.
func New(cfg Config) (*Migrator, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Coordinator == nil {
		return nil, errMissingCoordinator
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Migrator{
		store:       cfg.Store,
		coordinator: cfg.Coordinator,
		idProvider:  cfg.IDProvider,
		logger:      logger,
	}, nil
}

// Run performs the migration. After a successful run later calls return the first
// report without touching either store; a failed durable read leaves the migrator
// ready to try again.
func (m *Migrator) Run(ctx context.Context) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return m.report, nil
	}

	stored, err := m.store.GetAll(ctx)
	if err != nil {
		m.logger.Error("migration could not read durable store",
			zap.String("operation", "migration.run"),
			zap.String("reason", "get_all_failed"),
			zap.Error(err),
		)
		return Report{}, err
	}

	// Notes this session already mirrored do not make the store authoritative.
	touched := m.coordinator.TouchedNoteIDs()
	preexisting := 0
	for _, note := range stored {
		if _, ok := touched[note.ID]; !ok {
			preexisting++
		}
	}

	var report Report
	switch {
	case preexisting > 0:
		if _, err := m.coordinator.InitFromStore(stored); err != nil {
			return Report{}, err
		}
		report = Report{Outcome: OutcomeLoadedFromStore, Loaded: len(stored)}
	default:
		cached := m.coordinator.State().Notes
		if len(cached) == 0 {
			report = Report{Outcome: OutcomeNothingToDo}
			break
		}
		report, err = m.migrateCached(ctx, cached, touched)
		if err != nil {
			return Report{}, err
		}
	}

	m.done = true
	m.report = report
	m.logger.Info("migration finished",
		zap.String("outcome", string(report.Outcome)),
		zap.Int("loaded", report.Loaded),
		zap.Int("converted", report.Converted),
		zap.Int("persisted", report.Persisted),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (m *Migrator) migrateCached(ctx context.Context, cached []notes.Note, touched map[string]struct{}) (Report, error) {
	report := Report{Outcome: OutcomeMigratedFromCache}
	next := make([]notes.Note, 0, len(cached))
	for _, note := range cached {
		candidate, err := m.convert(note)
		if err != nil {
			report.Skipped++
			m.logger.Warn("skipping note with malformed legacy content",
				zap.String("operation", "migration.convert"),
				zap.String("reason", "malformed_legacy_content"),
				zap.String("note_id", note.ID),
				zap.Error(err),
			)
			next = append(next, note)
			continue
		}
		if note.IsLegacy() {
			report.Converted++
		} else if _, mirrored := touched[note.ID]; mirrored {
			next = append(next, candidate)
			continue
		}
		if err := m.store.Put(ctx, candidate); err != nil {
			report.Failed++
			m.logger.Warn("migrated note was not persisted",
				zap.String("operation", "migration.persist"),
				zap.String("reason", "put_failed"),
				zap.String("note_id", note.ID),
				zap.Error(err),
			)
		} else {
			report.Persisted++
		}
		next = append(next, candidate)
	}
	if _, err := m.coordinator.InitFromStore(next); err != nil {
		return Report{}, err
	}
	return report, nil
}

// convert rewrites a legacy note into block form. Block notes pass through unchanged.
func (m *Migrator) convert(note notes.Note) (notes.Note, error) {
	if !note.IsLegacy() {
		return note.Clone(), nil
	}
	text, err := note.Legacy.Text()
	if err != nil {
		return notes.Note{}, err
	}
	block, err := notes.NewTextBlock(m.idProvider, text)
	if err != nil {
		return notes.Note{}, err
	}
	converted := note.Clone()
	converted.Content = notes.Blocks{block}
	converted.Legacy = nil
	if !converted.Format.Valid() {
		converted.Format = notes.DetectFormat(text)
	}
	return converted, nil
}
