package editor

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/notepro/internal/autosave"
	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
	"github.com/MarcoPoloResearchLab/notepro/internal/state"
)

var (
	errMissingStore      = errors.New("state store is required")
	errMissingScheduler  = errors.New("autosave scheduler is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrNoNoteOpen indicates an edit while no note is open.
	ErrNoNoteOpen = errors.New("editor: no note open")
	// ErrNoteNotFound indicates that the note is not (or no longer) in the state.
	ErrNoteNotFound = errors.New("editor: note not found")
	// ErrNotTextBlock indicates a text edit aimed at an image block.
	ErrNotTextBlock = errors.New("editor: block is not a text block")
	// ErrEmptyImage indicates an image without data.
	ErrEmptyImage = errors.New("editor: image data is required")
)

// Dispatcher is the part of the state store the editor drives.
type Dispatcher interface {
	State() notes.AppState
	Dispatch(action state.Action) (notes.AppState, error)
}

// Notifier is told when the detected format of the open note changes.
type Notifier interface {
	FormatDetected(noteID string, format notes.NoteFormat)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(noteID string, format notes.NoteFormat)

// FormatDetected calls f.
func (f NotifierFunc) FormatDetected(noteID string, format notes.NoteFormat) {
	f(noteID, format)
}

// Config describes the dependencies of a Session.
type Config struct {
	Store      Dispatcher
	Scheduler  *autosave.Scheduler
	IDProvider notes.IDProvider
	Notifier   Notifier
	Logger     *zap.Logger
}

// Session is the working copy of the note being edited. Edits stay local until the
// autosave interval elapses, the note is closed, or Save is called.
type Session struct {
	store     Dispatcher
	scheduler *autosave.Scheduler
	ids       notes.IDProvider
	notifier  Notifier
	logger    *zap.Logger

	mu            sync.Mutex
	noteID        string
	base          notes.Note
	title         string
	content       notes.Blocks
	format        notes.NoteFormat
	modified      bool
	lastDetection string
}

// NewSession validates the configuration and returns an idle session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Scheduler == nil {
		return nil, errMissingScheduler
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(string, notes.NoteFormat) {})
	}
	return &Session{
		store:     cfg.Store,
		scheduler: cfg.Scheduler,
		ids:       cfg.IDProvider,
		notifier:  notifier,
		logger:    logger,
	}, nil
}

// Open selects the note and loads it into the session. A pending save of the
// previously open note runs first.
func (s *Session) Open(noteID string) error {
	s.flushOpen()

	current, err := s.store.Dispatch(state.SetActiveNote{ID: noteID})
	if err != nil {
		return err
	}
	note, ok := current.FindNote(noteID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoteNotFound, noteID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(note)
	return nil
}

// Close saves pending edits and empties the session.
func (s *Session) Close() {
	s.flushOpen()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(notes.Note{})
}

func (s *Session) flushOpen() {
	s.mu.Lock()
	previous := s.noteID
	s.mu.Unlock()
	if previous != "" {
		s.scheduler.Flush(previous)
	}
}

func (s *Session) load(note notes.Note) {
	s.noteID = note.ID
	s.base = note.Clone()
	s.title = note.Title
	s.content = note.Content.Clone()
	s.format = note.Format
	if s.format == "" {
		s.format = notes.FormatText
	}
	s.modified = false
	s.lastDetection = ""
}

// NoteID returns the id of the open note, or "".
func (s *Session) NoteID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noteID
}

// Modified reports whether the draft differs from the last saved note.
func (s *Session) Modified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modified
}

// Draft returns the working copy of the open note.
func (s *Session) Draft() (notes.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noteID == "" {
		return notes.Note{}, ErrNoNoteOpen
	}
	return s.draftLocked(), nil
}

func (s *Session) draftLocked() notes.Note {
	draft := s.base.Clone()
	draft.Title = s.title
	draft.Content = s.content.Clone()
	draft.Format = s.format
	if len(draft.Content) > 0 {
		draft.Legacy = nil
	}
	return draft
}

// SetTitle renames the draft.
func (s *Session) SetTitle(title string) error {
	return s.edit(func() error {
		s.title = title
		return nil
	})
}

// SetTextBlock replaces the text of one block.
func (s *Session) SetTextBlock(blockID, text string) error {
	return s.edit(func() error {
		index := s.content.Index(blockID)
		if index < 0 {
			return fmt.Errorf("%w: %s", notes.ErrBlockNotFound, blockID)
		}
		block, ok := s.content[index].(notes.TextBlock)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotTextBlock, blockID)
		}
		block.Content = text
		s.content = s.content.Clone()
		s.content[index] = block
		return nil
	})
}

// AppendText adds a text block to the end of the draft and returns its id.
func (s *Session) AppendText(text string) (string, error) {
	var blockID string
	err := s.edit(func() error {
		block, err := notes.NewTextBlock(s.ids, text)
		if err != nil {
			return err
		}
		blockID = block.ID
		s.content = append(s.content.Clone(), block)
		return nil
	})
	return blockID, err
}

// AppendImage adds a pasted image to the end of the draft and returns its id.
func (s *Session) AppendImage(dataURL, alt string) (string, error) {
	if strings.TrimSpace(dataURL) == "" {
		return "", ErrEmptyImage
	}
	var blockID string
	err := s.edit(func() error {
		id, err := notes.NewBlockID(s.ids, notes.BlockTypeImage)
		if err != nil {
			return err
		}
		blockID = id
		s.content = append(s.content.Clone(), notes.ImageBlock{ID: id, DataURL: dataURL, Alt: alt})
		return nil
	})
	return blockID, err
}

// DeleteBlock removes one block from the draft.
func (s *Session) DeleteBlock(blockID string) error {
	return s.edit(func() error {
		index := s.content.Index(blockID)
		if index < 0 {
			return fmt.Errorf("%w: %s", notes.ErrBlockNotFound, blockID)
		}
		next := make(notes.Blocks, 0, len(s.content)-1)
		next = append(next, s.content[:index]...)
		next = append(next, s.content[index+1:]...)
		s.content = next
		return nil
	})
}

// edit applies a change to the draft, re-runs format detection and re-arms autosave.
func (s *Session) edit(change func() error) error {
	s.mu.Lock()
	if s.noteID == "" {
		s.mu.Unlock()
		return ErrNoNoteOpen
	}
	if err := change(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.modified = true
	noteID := s.noteID
	detected, changed := s.detectLocked()
	s.mu.Unlock()

	if changed {
		s.notifier.FormatDetected(noteID, detected)
	}
	s.scheduler.Schedule(noteID, func() {
		if _, err := s.saveNote(noteID); err != nil {
			s.logger.Warn("autosave failed",
				zap.String("operation", "editor.autosave"),
				zap.String("note_id", noteID),
				zap.Error(err),
			)
		}
	})
	return nil
}

// detectLocked classifies the combined text of the draft. Detection only runs when
// the text is non-empty and differs from the text last examined.
func (s *Session) detectLocked() (notes.NoteFormat, bool) {
	text := notes.ComposeText(s.content)
	if text == "" || text == s.lastDetection {
		return s.format, false
	}
	s.lastDetection = text
	detected := notes.DetectFormat(text)
	if detected == s.format {
		return detected, false
	}
	s.format = detected
	return detected, true
}

// Save dispatches the draft when it has unsaved edits. It reports whether an update
// was dispatched.
func (s *Session) Save() (bool, error) {
	s.mu.Lock()
	noteID := s.noteID
	s.mu.Unlock()
	if noteID == "" {
		return false, ErrNoNoteOpen
	}
	s.scheduler.Cancel(noteID)
	return s.saveNote(noteID)
}

func (s *Session) saveNote(noteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noteID != noteID || !s.modified {
		return false, nil
	}
	draft := s.draftLocked()
	current, err := s.store.Dispatch(state.UpdateNote{Note: draft})
	if err != nil {
		return false, err
	}
	saved, ok := current.FindNote(noteID)
	if !ok {
		s.modified = false
		return false, fmt.Errorf("%w: %s", ErrNoteNotFound, noteID)
	}
	s.base = saved.Clone()
	s.modified = false
	return true, nil
}
