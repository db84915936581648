package state

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) {
	return "", errors.New("entropy exhausted")
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Millisecond)
	return c.current
}

func newTestReducer(t *testing.T) *Reducer {
	t.Helper()
	reducer, err := NewReducer(ReducerConfig{Clock: newSteppingClock().Now, IDProvider: &sequenceIDs{}})
	if err != nil {
		t.Fatalf("failed to build reducer: %v", err)
	}
	return reducer
}

func mustReduce(t *testing.T, reducer *Reducer, current notes.AppState, action Action) Transition {
	t.Helper()
	transition, err := reducer.Reduce(current, action)
	if err != nil {
		t.Fatalf("reduce %s failed: %v", action.Type(), err)
	}
	return transition
}

func assertReferentialIntegrity(t *testing.T, current notes.AppState) {
	t.Helper()
	for _, note := range current.Notes {
		if _, ok := current.FindProject(note.ProjectID); !ok {
			t.Fatalf("note %s references missing project %s", note.ID, note.ProjectID)
		}
	}
	if current.ActiveProject != "" {
		if _, ok := current.FindProject(current.ActiveProject); !ok {
			t.Fatalf("active project %s does not exist", current.ActiveProject)
		}
	}
	if current.ActiveNote != "" {
		if _, ok := current.FindNote(current.ActiveNote); !ok {
			t.Fatalf("active note %s does not exist", current.ActiveNote)
		}
	}
}

func TestNewReducerRequiresIDProvider(t *testing.T) {
	if _, err := NewReducer(ReducerConfig{}); !errors.Is(err, errMissingIDProvider) {
		t.Fatalf("expected errMissingIDProvider, got %v", err)
	}
}

func TestReducerAddProjectDefaultsColor(t *testing.T) {
	reducer := newTestReducer(t)
	transition := mustReduce(t, reducer, notes.AppState{}, AddProject{Name: "Work"})
	if len(transition.State.Projects) != 1 {
		t.Fatalf("expected one project, got %d", len(transition.State.Projects))
	}
	project := transition.State.Projects[0]
	if project.ID == "" || project.Name != "Work" {
		t.Fatalf("unexpected project %+v", project)
	}
	if project.Color != notes.ProjectColors[0] {
		t.Fatalf("expected default color, got %q", project.Color)
	}
	if project.CreatedAt == 0 || project.CreatedAt != project.UpdatedAt {
		t.Fatalf("unexpected timestamps %+v", project)
	}
}

func TestReducerAddNoteCreatesEmptyTextBlockAndSelectsIt(t *testing.T) {
	reducer := newTestReducer(t)
	current := mustReduce(t, reducer, notes.AppState{}, AddProject{Name: "Work"}).State
	projectID := current.Projects[0].ID

	transition := mustReduce(t, reducer, current, AddNote{ProjectID: projectID})
	if !transition.Applied {
		t.Fatalf("expected note to be added")
	}
	note := transition.State.Notes[0]
	if note.Title != notes.DefaultNoteTitle || note.Format != notes.FormatText {
		t.Fatalf("unexpected defaults %+v", note)
	}
	if len(note.Content) != 1 {
		t.Fatalf("expected one block, got %d", len(note.Content))
	}
	block, ok := note.Content[0].(notes.TextBlock)
	if !ok || block.Content != "" {
		t.Fatalf("expected empty text block, got %#v", note.Content[0])
	}
	if transition.State.ActiveNote != note.ID {
		t.Fatalf("expected new note to be active")
	}
	if len(transition.Upserted) != 1 || transition.Upserted[0].ID != note.ID {
		t.Fatalf("expected the new note to be mirrored, got %+v", transition.Upserted)
	}
}

func TestReducerAddNoteForMissingProjectIsNoOp(t *testing.T) {
	reducer := newTestReducer(t)
	transition := mustReduce(t, reducer, notes.AppState{}, AddNote{ProjectID: "ghost"})
	if transition.Applied || len(transition.State.Notes) != 0 || len(transition.Upserted) != 0 {
		t.Fatalf("expected no-op, got %+v", transition)
	}
}

func TestReducerUpdateNoteKeepsCreatedAt(t *testing.T) {
	reducer := newTestReducer(t)
	current := mustReduce(t, reducer, notes.AppState{}, AddProject{Name: "Work"}).State
	current = mustReduce(t, reducer, current, AddNote{ProjectID: current.Projects[0].ID}).State
	original := current.Notes[0]

	edited := original.Clone()
	edited.Title = "Edited"
	edited.CreatedAt = 1
	edited.Content = notes.Blocks{notes.TextBlock{ID: "text-a", Content: "hello"}}

	transition := mustReduce(t, reducer, current, UpdateNote{Note: edited})
	updated := transition.State.Notes[0]
	if updated.CreatedAt != original.CreatedAt {
		t.Fatalf("createdAt moved from %d to %d", original.CreatedAt, updated.CreatedAt)
	}
	if updated.UpdatedAt <= original.UpdatedAt {
		t.Fatalf("expected updatedAt to advance")
	}
	if updated.Title != "Edited" || updated.PlainText() != "hello" {
		t.Fatalf("unexpected note %+v", updated)
	}
	if current.Notes[0].Title != original.Title {
		t.Fatalf("reducer mutated its input")
	}
}

func TestReducerUpdateNoteMissingIsNoOp(t *testing.T) {
	reducer := newTestReducer(t)
	current := mustReduce(t, reducer, notes.AppState{}, AddProject{Name: "Work"}).State
	ghost := notes.Note{ID: "ghost", ProjectID: current.Projects[0].ID, Format: notes.FormatText}
	transition := mustReduce(t, reducer, current, UpdateNote{Note: ghost})
	if transition.Applied || len(transition.State.Notes) != 0 {
		t.Fatalf("expected no-op, got %+v", transition)
	}
}

func TestReducerDeleteProjectCascades(t *testing.T) {
	reducer := newTestReducer(t)
	current := mustReduce(t, reducer, notes.AppState{}, AddProject{Name: "Work"}).State
	current = mustReduce(t, reducer, current, AddProject{Name: "Home"}).State
	work, home := current.Projects[0].ID, current.Projects[1].ID
	current = mustReduce(t, reducer, current, AddNote{ProjectID: home}).State
	current = mustReduce(t, reducer, current, AddNote{ProjectID: work}).State
	current = mustReduce(t, reducer, current, AddNote{ProjectID: work}).State
	current = mustReduce(t, reducer, current, SetActiveProject{ID: work}).State
	activeNote := current.ActiveNote

	transition := mustReduce(t, reducer, current, DeleteProject{ID: work})
	next := transition.State
	if len(next.Projects) != 1 || next.Projects[0].ID != home {
		t.Fatalf("unexpected projects %+v", next.Projects)
	}
	if len(next.Notes) != 1 || next.Notes[0].ProjectID != home {
		t.Fatalf("unexpected notes %+v", next.Notes)
	}
	if next.ActiveProject != "" || next.ActiveNote != "" {
		t.Fatalf("expected selections cleared, got %q %q", next.ActiveProject, next.ActiveNote)
	}
	if len(transition.Removed) != 2 {
		t.Fatalf("expected two cascaded removals, got %v", transition.Removed)
	}
	found := false
	for _, removed := range transition.Removed {
		if removed == activeNote {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected active note %s among removals %v", activeNote, transition.Removed)
	}
	assertReferentialIntegrity(t, next)
}

func TestReducerDeleteProjectKeepsUnrelatedActiveNote(t *testing.T) {
	reducer := newTestReducer(t)
	current := mustReduce(t, reducer, notes.AppState{}, AddProject{Name: "Work"}).State
	current = mustReduce(t, reducer, current, AddProject{Name: "Home"}).State
	work, home := current.Projects[0].ID, current.Projects[1].ID
	current = mustReduce(t, reducer, current, AddNote{ProjectID: home}).State
	keep := current.ActiveNote
	current.ActiveProject = work

	next := mustReduce(t, reducer, current, DeleteProject{ID: work}).State
	if next.ActiveProject != "" {
		t.Fatalf("expected active project cleared")
	}
	if next.ActiveNote != keep {
		t.Fatalf("expected active note %s to survive, got %q", keep, next.ActiveNote)
	}
}

func TestReducerReferentialIntegrityAcrossSequences(t *testing.T) {
	reducer := newTestReducer(t)
	current := notes.AppState{}
	for round := 0; round < 4; round++ {
		current = mustReduce(t, reducer, current, AddProject{Name: fmt.Sprintf("P%d", round)}).State
		projectID := current.Projects[len(current.Projects)-1].ID
		current = mustReduce(t, reducer, current, AddNote{ProjectID: projectID}).State
		current = mustReduce(t, reducer, current, SetActiveProject{ID: projectID}).State
		assertReferentialIntegrity(t, current)
		if round%2 == 1 {
			current = mustReduce(t, reducer, current, DeleteProject{ID: current.Projects[0].ID}).State
			assertReferentialIntegrity(t, current)
		}
	}
}

func TestReducerSetActiveProject(t *testing.T) {
	reducer := newTestReducer(t)
	current := mustReduce(t, reducer, notes.AppState{}, AddProject{Name: "Work"}).State
	current = mustReduce(t, reducer, current, AddProject{Name: "Home"}).State
	work, home := current.Projects[0].ID, current.Projects[1].ID
	current = mustReduce(t, reducer, current, AddNote{ProjectID: work}).State
	workNote := current.ActiveNote

	tests := []struct {
		name           string
		projectID      string
		expectApplied  bool
		expectProject  string
		expectActiveID string
	}{
		{name: "same-project-keeps-note", projectID: work, expectApplied: true, expectProject: work, expectActiveID: workNote},
		{name: "other-project-clears-note", projectID: home, expectApplied: true, expectProject: home, expectActiveID: ""},
		{name: "clear", projectID: "", expectApplied: true, expectProject: "", expectActiveID: ""},
		{name: "missing", projectID: "ghost", expectApplied: false, expectProject: "", expectActiveID: workNote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transition := mustReduce(t, reducer, current, SetActiveProject{ID: tt.projectID})
			if transition.Applied != tt.expectApplied {
				t.Fatalf("applied = %v, want %v", transition.Applied, tt.expectApplied)
			}
			if transition.State.ActiveProject != tt.expectProject {
				t.Fatalf("active project = %q, want %q", transition.State.ActiveProject, tt.expectProject)
			}
			if transition.State.ActiveNote != tt.expectActiveID {
				t.Fatalf("active note = %q, want %q", transition.State.ActiveNote, tt.expectActiveID)
			}
		})
	}
}

func TestReducerSetActiveNoteIgnoresMissing(t *testing.T) {
	reducer := newTestReducer(t)
	current := mustReduce(t, reducer, notes.AppState{}, AddProject{Name: "Work"}).State
	current = mustReduce(t, reducer, current, AddNote{ProjectID: current.Projects[0].ID}).State
	existing := current.ActiveNote

	if next := mustReduce(t, reducer, current, SetActiveNote{ID: "ghost"}).State; next.ActiveNote != existing {
		t.Fatalf("expected missing note to be ignored")
	}
	if next := mustReduce(t, reducer, current, SetActiveNote{ID: ""}).State; next.ActiveNote != "" {
		t.Fatalf("expected selection cleared")
	}
}

func TestReducerInitFromDBIsIdempotent(t *testing.T) {
	reducer := newTestReducer(t)
	payload := InitFromDB{
		Projects: []notes.Project{{ID: "p1", Name: "Work"}},
		Notes: []notes.Note{{
			ID:        "n1",
			ProjectID: "p1",
			Format:    notes.FormatText,
			Content:   notes.Blocks{notes.TextBlock{ID: "text-1", Content: "hello"}},
		}},
	}
	once := mustReduce(t, reducer, notes.AppState{ActiveProject: "p1"}, payload).State
	twice := mustReduce(t, reducer, once, payload).State
	if len(twice.Notes) != 1 || len(twice.Projects) != 1 {
		t.Fatalf("unexpected state after second init %+v", twice)
	}
	if twice.Notes[0].PlainText() != once.Notes[0].PlainText() || twice.ActiveProject != "p1" {
		t.Fatalf("init is not idempotent: %+v vs %+v", once, twice)
	}

	payload.Notes[0].Title = "mutated"
	if once.Notes[0].Title == "mutated" {
		t.Fatalf("reduced state shares slices with the action payload")
	}
}

func TestReducerInitFromDBClearsUnresolvedActiveIDs(t *testing.T) {
	reducer := newTestReducer(t)
	current := notes.AppState{
		Projects:      []notes.Project{{ID: "p1", Name: "Work"}, {ID: "gone", Name: "Old"}},
		Notes:         []notes.Note{{ID: "cached", ProjectID: "gone", Format: notes.FormatText}},
		ActiveProject: "gone",
		ActiveNote:    "cached",
	}
	stored := notes.Note{
		ID:        "stored",
		ProjectID: "p1",
		Format:    notes.FormatText,
		Content:   notes.Blocks{notes.TextBlock{ID: "text-1", Content: "durable"}},
	}
	next := mustReduce(t, reducer, current, InitFromDB{
		Projects: []notes.Project{{ID: "p1", Name: "Work"}},
		Notes:    []notes.Note{stored},
	}).State
	if next.ActiveNote != "" || next.ActiveProject != "" {
		t.Fatalf("expected unresolved active ids to be cleared, got project=%q note=%q", next.ActiveProject, next.ActiveNote)
	}
	assertReferentialIntegrity(t, next)

	kept := mustReduce(t, reducer, notes.AppState{ActiveProject: "p1", ActiveNote: "stored"}, InitFromDB{
		Projects: []notes.Project{{ID: "p1", Name: "Work"}},
		Notes:    []notes.Note{stored},
	}).State
	if kept.ActiveNote != "stored" || kept.ActiveProject != "p1" {
		t.Fatalf("expected resolvable active ids to survive, got %+v", kept)
	}
}

func TestReducerPropagatesIDFailure(t *testing.T) {
	reducer, err := NewReducer(ReducerConfig{IDProvider: failingIDs{}})
	if err != nil {
		t.Fatalf("failed to build reducer: %v", err)
	}
	if _, err := reducer.Reduce(notes.AppState{}, AddProject{Name: "Work"}); err == nil {
		t.Fatalf("expected id failure to surface")
	}
}

func TestActionValidationMessages(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		message string
	}{
		{name: "blank-project-name", action: AddProject{Name: "   "}, message: "Project name is required"},
		{name: "note-without-project", action: AddNote{}, message: "Project is required"},
		{name: "delete-note-without-id", action: DeleteNote{}, message: "Note id is required"},
		{name: "delete-project-without-id", action: DeleteProject{}, message: "Project id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if validationErr.Error() != tt.message {
				t.Fatalf("message = %q, want %q", validationErr.Error(), tt.message)
			}
		})
	}
	if err := (AddNote{ProjectID: "p1", Format: "poetry"}).Validate(); !errors.Is(err, notes.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}
