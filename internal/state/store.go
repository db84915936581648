package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

var (
	errMissingReducer    = errors.New("reducer is required")
	errMissingSnapshots  = errors.New("snapshot saver is required")
	errMissingNoteWriter = errors.New("note writer is required")
	errMissingAction     = errors.New("action is required")
	// ErrStoreClosed indicates a dispatch after Close.
	ErrStoreClosed = errors.New("state: store closed")
	noOpLogger     = zap.NewNop()
)

// SnapshotSaver persists the whole state tree on the fast path. Implementations log
// and swallow their own failures.
type SnapshotSaver interface {
	SaveSnapshot(state notes.AppState)
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Initial      notes.AppState
	Reducer      *Reducer
	Snapshots    SnapshotSaver
	Notes        NoteWriter
	Logger       *zap.Logger
	WriteTimeout time.Duration
}

// Store owns the state tree. Dispatch is serialized: each action is validated,
// reduced, written to the snapshot cache, queued for the durable store and
// broadcast before the next one starts.
type Store struct {
	mu        sync.Mutex
	state     notes.AppState
	reducer   *Reducer
	snapshots SnapshotSaver
	mirror    *mirror
	listeners *Broadcaster
	logger    *zap.Logger
	closed    bool

	// Notes written or deleted by dispatch since the store was built.
	dirty   map[string]struct{}
	deleted map[string]struct{}
}

// NewStore validates the configuration and starts the durable mirror.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Reducer == nil {
		return nil, errMissingReducer
	}
	if cfg.Snapshots == nil {
		return nil, errMissingSnapshots
	}
	if cfg.Notes == nil {
		return nil, errMissingNoteWriter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	initial := cfg.Initial.Clone()
	if initial.Projects == nil {
		initial.Projects = []notes.Project{}
	}
	if initial.Notes == nil {
		initial.Notes = []notes.Note{}
	}
	return &Store{
		state:     initial,
		reducer:   cfg.Reducer,
		snapshots: cfg.Snapshots,
		mirror:    newMirror(cfg.Notes, logger, cfg.WriteTimeout),
		listeners: NewBroadcaster(),
		logger:    logger,
		dirty:     make(map[string]struct{}),
		deleted:   make(map[string]struct{}),
	}, nil
}

// State returns a copy of the current state.
func (s *Store) State() notes.AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Dispatch applies the action and returns the resulting state. A validation failure
// returns a *ValidationError and leaves the state untouched. Actions that reference
// a missing project or note are accepted and change nothing.
func (s *Store) Dispatch(action Action) (notes.AppState, error) {
	if action == nil {
		return s.State(), errMissingAction
	}
	if err := action.Validate(); err != nil {
		return s.State(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.state.Clone(), ErrStoreClosed
	}

	transition, err := s.reducer.Reduce(s.state, action)
	if err != nil {
		return s.state.Clone(), err
	}
	if !transition.Applied {
		s.logger.Debug("action referenced a missing entity",
			zap.String("operation", "state.dispatch"),
			zap.String("reason", "referential_miss"),
			zap.String("action", string(action.Type())),
		)
		return s.state.Clone(), nil
	}

	s.commitLocked(transition.State)
	for _, note := range transition.Upserted {
		s.dirty[note.ID] = struct{}{}
		delete(s.deleted, note.ID)
		if err := s.mirror.put(note); err != nil {
			s.logMirrorRejected(note.ID, err)
		}
	}
	for _, noteID := range transition.Removed {
		delete(s.dirty, noteID)
		s.deleted[noteID] = struct{}{}
		if err := s.mirror.remove(noteID); err != nil {
			s.logMirrorRejected(noteID, err)
		}
	}
	s.publishLocked(action.Type())
	return s.state.Clone(), nil
}

// InitFromStore replaces the notes with the durable store's contents, keeping the
// current projects. When notes were changed by dispatch since boot, the two sets are
// merged: the newer updatedAt wins per note (local on ties), local deletions stay
// deleted and local creations are kept.
func (s *Store) InitFromStore(stored []notes.Note) (notes.AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.state.Clone(), ErrStoreClosed
	}

	incoming := stored
	if len(s.dirty) > 0 || len(s.deleted) > 0 {
		incoming = s.mergeLocked(stored)
	}
	transition, err := s.reducer.Reduce(s.state, InitFromDB{Notes: incoming, Projects: s.state.Projects})
	if err != nil {
		return s.state.Clone(), err
	}
	s.commitLocked(transition.State)
	s.publishLocked(ActionInitFromDB)
	return s.state.Clone(), nil
}

// TouchedNoteIDs returns the ids of notes written or deleted by dispatch since the
// store was built.
func (s *Store) TouchedNoteIDs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := make(map[string]struct{}, len(s.dirty)+len(s.deleted))
	for noteID := range s.dirty {
		touched[noteID] = struct{}{}
	}
	for noteID := range s.deleted {
		touched[noteID] = struct{}{}
	}
	return touched
}

func (s *Store) mergeLocked(stored []notes.Note) []notes.Note {
	local := make(map[string]notes.Note, len(s.state.Notes))
	for _, note := range s.state.Notes {
		local[note.ID] = note
	}
	merged := make([]notes.Note, 0, len(stored)+len(s.dirty))
	seen := make(map[string]struct{}, len(stored))
	for _, note := range stored {
		seen[note.ID] = struct{}{}
		if _, removed := s.deleted[note.ID]; removed {
			continue
		}
		if _, touched := s.dirty[note.ID]; touched {
			if current, ok := local[note.ID]; ok && current.UpdatedAt >= note.UpdatedAt {
				merged = append(merged, current)
				continue
			}
		}
		merged = append(merged, note)
	}
	for _, note := range s.state.Notes {
		if _, ok := seen[note.ID]; ok {
			continue
		}
		if _, touched := s.dirty[note.ID]; touched {
			merged = append(merged, note)
		}
	}
	return merged
}

func (s *Store) commitLocked(next notes.AppState) {
	s.state = next
	s.snapshots.SaveSnapshot(s.state)
}

func (s *Store) publishLocked(actionType ActionType) {
	s.listeners.Publish(StateChange{Action: actionType, State: s.state.Clone()})
}

func (s *Store) logMirrorRejected(noteID string, err error) {
	s.logger.Warn("durable mirror rejected write",
		zap.String("operation", "state.dispatch"),
		zap.String("reason", "mirror_closed"),
		zap.String("note_id", noteID),
		zap.Error(err),
	)
}

// Subscribe registers a listener for applied actions.
func (s *Store) Subscribe(ctx context.Context) (<-chan StateChange, func()) {
	return s.listeners.Subscribe(ctx)
}

// Flush waits for every queued durable write to be attempted.
func (s *Store) Flush(ctx context.Context) error {
	return s.mirror.flush(ctx)
}

// Close stops accepting actions, drains the durable mirror and stops its worker.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.mirror.close(ctx)
}
