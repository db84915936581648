package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/notepro/internal/ai"
	"github.com/MarcoPoloResearchLab/notepro/internal/autosave"
	"github.com/MarcoPoloResearchLab/notepro/internal/cache"
	"github.com/MarcoPoloResearchLab/notepro/internal/config"
	"github.com/MarcoPoloResearchLab/notepro/internal/database"
	"github.com/MarcoPoloResearchLab/notepro/internal/durable"
	"github.com/MarcoPoloResearchLab/notepro/internal/editor"
	"github.com/MarcoPoloResearchLab/notepro/internal/migration"
	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
	"github.com/MarcoPoloResearchLab/notepro/internal/search"
	"github.com/MarcoPoloResearchLab/notepro/internal/settings"
	"github.com/MarcoPoloResearchLab/notepro/internal/state"
)

var (
	// ErrNoActiveNote is returned by operations on the active note when none is selected.
	ErrNoActiveNote = errors.New("app: no active note")

	noOpLogger = zap.NewNop()
)

// Options carries the collaborators an embedding program may replace.
type Options struct {
	Logger     *zap.Logger
	Clock      func() time.Time
	IDProvider notes.IDProvider
	Completer  ai.Completer
	Notifier   editor.Notifier
}

// App owns every component of one profile's session: the database handle, the
// state store with its durable mirror, the migration, the editor, the search
// inputs, the settings and the AI processor.
type App struct {
	cfg    config.AppConfig
	logger *zap.Logger
	ids    notes.IDProvider

	db        *gorm.DB
	noteStore durable.NoteStore
	store     *state.Store
	migrator  *migration.Migrator
	scheduler *autosave.Scheduler
	editor    *editor.Session
	search    *search.Session
	settings  *settings.Store
	processor *ai.Processor

	closeOnce sync.Once
	closeErr  error
}

// Open builds the session: the database is opened and migrated, the state is seeded
// from the snapshot cache, and the durable mirror starts. The note migration is not
// run; call Migrate once the caller is ready for it.
func Open(cfg config.AppConfig, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = noOpLogger
	}
	ids := opts.IDProvider
	if ids == nil {
		ids = notes.NewUUIDProvider()
	}

	db, err := database.OpenSQLite(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	built, err := assemble(cfg, opts, logger, ids, db)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return built, nil
}

func assemble(cfg config.AppConfig, opts Options, logger *zap.Logger, ids notes.IDProvider, db *gorm.DB) (*App, error) {
	sqliteStore, err := durable.NewSQLiteStore(durable.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}
	noteStore := durable.NewRetrying(sqliteStore, durable.RetryConfig{Attempts: cfg.WriteAttempts, Logger: logger})

	kv, err := cache.NewSQLiteKV(cache.KVConfig{Database: db, MaxValueBytes: cfg.MaxValueBytes, Clock: opts.Clock, Logger: logger})
	if err != nil {
		return nil, err
	}
	snapshots, err := cache.NewSnapshots(cache.SnapshotConfig{Store: kv, Profile: cfg.Profile, Logger: logger})
	if err != nil {
		return nil, err
	}
	var initial notes.AppState
	if cached := snapshots.LoadSnapshot(); cached != nil {
		initial = *cached
	}

	reducer, err := state.NewReducer(state.ReducerConfig{Clock: opts.Clock, IDProvider: ids})
	if err != nil {
		return nil, err
	}
	store, err := state.NewStore(state.StoreConfig{
		Initial:   initial,
		Reducer:   reducer,
		Snapshots: snapshots,
		Notes:     noteStore,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	migrator, err := migration.New(migration.Config{Store: noteStore, Coordinator: store, IDProvider: ids, Logger: logger})
	if err != nil {
		return nil, err
	}

	scheduler := autosave.NewScheduler(autosave.Config{Delay: cfg.AutosaveDelay, Logger: logger})
	notifier := opts.Notifier
	if notifier == nil {
		notifier = editor.NotifierFunc(func(noteID string, format notes.NoteFormat) {
			logger.Info("note format detected", zap.String("note_id", noteID), zap.String("format", string(format)))
		})
	}
	session, err := editor.NewSession(editor.Config{
		Store:      store,
		Scheduler:  scheduler,
		IDProvider: ids,
		Notifier:   notifier,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	settingsStore, err := settings.NewStore(settings.Config{KeyValue: kv, Profile: cfg.Profile, MemoTTL: cfg.SettingsCacheTTL, Logger: logger})
	if err != nil {
		return nil, err
	}
	completer := opts.Completer
	if completer == nil {
		completer = ai.NewClient(ai.ClientConfig{Endpoint: cfg.AIEndpoint, Logger: logger})
	}
	processor, err := ai.NewProcessor(ai.ProcessorConfig{
		Completer:  completer,
		Keys:       settingsStore,
		BuiltinKey: cfg.AIBuiltinAPIKey,
		Model:      cfg.AIModel,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		ids:       ids,
		db:        db,
		noteStore: noteStore,
		store:     store,
		migrator:  migrator,
		scheduler: scheduler,
		editor:    session,
		search:    search.NewSession(),
		settings:  settingsStore,
		processor: processor,
	}, nil
}

func (a *App) Config() config.AppConfig       { return a.cfg }
func (a *App) Store() *state.Store            { return a.store }
func (a *App) Editor() *editor.Session        { return a.editor }
func (a *App) Search() *search.Session        { return a.search }
func (a *App) Settings() *settings.Store      { return a.settings }
func (a *App) Notes() durable.NoteStore       { return a.noteStore }
func (a *App) Scheduler() *autosave.Scheduler { return a.scheduler }

// Dispatch forwards to the state store.
func (a *App) Dispatch(action state.Action) (notes.AppState, error) {
	return a.store.Dispatch(action)
}

// Migrate reconciles the cached state with the durable store. Only the first
// successful call does any work.
func (a *App) Migrate(ctx context.Context) (migration.Report, error) {
	return a.migrator.Run(ctx)
}

// SearchResults evaluates the session's search inputs against the current state.
func (a *App) SearchResults() []notes.Note {
	return a.search.Results(a.store.State())
}

// ProcessActiveNote rewrites the active note by instruction and stores the result.
// Unsaved editor changes to the note are saved first so the model sees them.
func (a *App) ProcessActiveNote(ctx context.Context, instruction string) (notes.Note, error) {
	activeNoteID := a.store.State().ActiveNote
	if activeNoteID == "" {
		return notes.Note{}, ErrNoActiveNote
	}
	editing := a.editor.NoteID() == activeNoteID
	if editing {
		if _, err := a.editor.Save(); err != nil {
			return notes.Note{}, err
		}
	}
	note, ok := a.store.State().FindNote(activeNoteID)
	if !ok {
		return notes.Note{}, ErrNoActiveNote
	}

	content, err := a.processor.ProcessNote(ctx, note, instruction)
	if err != nil {
		return notes.Note{}, err
	}
	updated, err := ai.ApplyResult(note, content, a.ids)
	if err != nil {
		return notes.Note{}, err
	}
	current, err := a.store.Dispatch(state.UpdateNote{Note: updated})
	if err != nil {
		return notes.Note{}, err
	}
	saved, ok := current.FindNote(activeNoteID)
	if !ok {
		return notes.Note{}, ErrNoActiveNote
	}
	if editing {
		if err := a.editor.Open(activeNoteID); err != nil {
			return notes.Note{}, err
		}
	}
	a.logger.Info("note processed",
		zap.String("operation", "app.process_active_note"),
		zap.String("note_id", activeNoteID),
	)
	return saved, nil
}

// Close runs pending autosaves, drains the durable mirror and closes the database.
// Later calls return the first result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		flushed := a.scheduler.FlushAll()
		if flushed > 0 {
			a.logger.Debug("pending autosaves flushed", zap.Int("count", flushed))
		}
		storeErr := a.store.Close(ctx)
		dbErr := database.Close(a.db)
		a.closeErr = errors.Join(storeErr, dbErr)
	})
	return a.closeErr
}
