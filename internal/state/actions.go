package state

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

// ActionType names a reducer transition.
type ActionType string

const (
	ActionAddProject       ActionType = "ADD_PROJECT"
	ActionUpdateProject    ActionType = "UPDATE_PROJECT"
	ActionDeleteProject    ActionType = "DELETE_PROJECT"
	ActionAddNote          ActionType = "ADD_NOTE"
	ActionUpdateNote       ActionType = "UPDATE_NOTE"
	ActionDeleteNote       ActionType = "DELETE_NOTE"
	ActionSetActiveProject ActionType = "SET_ACTIVE_PROJECT"
	ActionSetActiveNote    ActionType = "SET_ACTIVE_NOTE"
	ActionInitFromDB       ActionType = "INIT_FROM_DB"
)

// Action is a request to transition the state tree. Validate runs before dispatch.
type Action interface {
	Type() ActionType
	Validate() error
}

// ValidationError reports an action rejected before it reached the reducer.
type ValidationError struct {
	Action ActionType
	Field  string
	err    error
}

func (e *ValidationError) Error() string {
	return e.err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

func newValidationError(action ActionType, field string, err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Action: action, Field: field, err: err}
}

var notBlank = validation.NewStringRule(func(value string) bool {
	return strings.TrimSpace(value) != ""
}, "must not be blank")

func requiredText(message string) []validation.Rule {
	return []validation.Rule{
		validation.Required.Error(message),
		notBlank.Error(message),
	}
}

// AddProject creates a project.
type AddProject struct {
	Name        string
	Description string
	Color       string
}

func (AddProject) Type() ActionType { return ActionAddProject }

func (a AddProject) Validate() error {
	return newValidationError(ActionAddProject, "name",
		validation.Validate(a.Name, requiredText("Project name is required")...))
}

// UpdateProject replaces the project with a matching id.
type UpdateProject struct {
	Project notes.Project
}

func (UpdateProject) Type() ActionType { return ActionUpdateProject }

func (a UpdateProject) Validate() error {
	if err := validation.Validate(a.Project.ID, requiredText("Project id is required")...); err != nil {
		return newValidationError(ActionUpdateProject, "id", err)
	}
	return newValidationError(ActionUpdateProject, "name",
		validation.Validate(a.Project.Name, requiredText("Project name is required")...))
}

// DeleteProject removes a project and every note that belongs to it.
type DeleteProject struct {
	ID string
}

func (DeleteProject) Type() ActionType { return ActionDeleteProject }

func (a DeleteProject) Validate() error {
	return newValidationError(ActionDeleteProject, "id",
		validation.Validate(a.ID, requiredText("Project id is required")...))
}

// AddNote creates a note in a project with one empty text block and selects it.
type AddNote struct {
	ProjectID string
	Title     string
	Format    notes.NoteFormat
	Tags      []string
}

func (AddNote) Type() ActionType { return ActionAddNote }

func (a AddNote) Validate() error {
	if err := validation.Validate(a.ProjectID, requiredText("Project is required")...); err != nil {
		return newValidationError(ActionAddNote, "projectId", err)
	}
	return newValidationError(ActionAddNote, "format", validateOptionalFormat(a.Format))
}

// UpdateNote replaces the note with a matching id.
type UpdateNote struct {
	Note notes.Note
}

func (UpdateNote) Type() ActionType { return ActionUpdateNote }

func (a UpdateNote) Validate() error {
	if err := validation.Validate(a.Note.ID, requiredText("Note id is required")...); err != nil {
		return newValidationError(ActionUpdateNote, "id", err)
	}
	if err := validation.Validate(a.Note.ProjectID, requiredText("Project is required")...); err != nil {
		return newValidationError(ActionUpdateNote, "projectId", err)
	}
	if err := validateOptionalFormat(a.Note.Format); err != nil {
		return newValidationError(ActionUpdateNote, "format", err)
	}
	return newValidationError(ActionUpdateNote, "content", a.Note.Content.Validate())
}

// DeleteNote removes one note.
type DeleteNote struct {
	ID string
}

func (DeleteNote) Type() ActionType { return ActionDeleteNote }

func (a DeleteNote) Validate() error {
	return newValidationError(ActionDeleteNote, "id",
		validation.Validate(a.ID, requiredText("Note id is required")...))
}

// SetActiveProject selects a project; an empty ID clears the selection.
type SetActiveProject struct {
	ID string
}

func (SetActiveProject) Type() ActionType { return ActionSetActiveProject }

func (SetActiveProject) Validate() error { return nil }

// SetActiveNote selects a note; an empty ID clears the selection.
type SetActiveNote struct {
	ID string
}

func (SetActiveNote) Type() ActionType { return ActionSetActiveNote }

func (SetActiveNote) Validate() error { return nil }

// InitFromDB replaces notes and projects wholesale.
type InitFromDB struct {
	Notes    []notes.Note
	Projects []notes.Project
}

func (InitFromDB) Type() ActionType { return ActionInitFromDB }

func (InitFromDB) Validate() error { return nil }

func validateOptionalFormat(format notes.NoteFormat) error {
	if format == "" || format.Valid() {
		return nil
	}
	return notes.ErrInvalidFormat
}
