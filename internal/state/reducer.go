package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

var (
	errMissingIDProvider = errors.New("id provider is required")
	// ErrUnknownAction indicates an action type the reducer does not handle.
	ErrUnknownAction = errors.New("state: unknown action")
)

// ReducerConfig describes the dependencies of a Reducer.
type ReducerConfig struct {
	Clock      func() time.Time
	IDProvider notes.IDProvider
}

// Reducer computes the next state from the current state and an action. It
// performs no I/O; durable side effects are described in the returned Transition.
type Reducer struct {
	clock      func() time.Time
	idProvider notes.IDProvider
}

// Transition is the outcome of reducing one action.
type Transition struct {
	State notes.AppState
	// Applied is false when the action referenced a missing project or note.
	Applied bool
	// Upserted lists notes the durable store must receive.
	Upserted []notes.Note
	// Removed lists note ids the durable store must drop.
	Removed []string
}

// NewReducer validates the configuration and returns a Reducer.
func NewReducer(cfg ReducerConfig) (*Reducer, error) {
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Reducer{clock: clock, idProvider: cfg.IDProvider}, nil
}

// Reduce applies the action to a copy of the state. The input state is never modified
// and the returned state shares no slices with it.
func (r *Reducer) Reduce(current notes.AppState, action Action) (Transition, error) {
	next := current.Clone()
	switch typed := action.(type) {
	case AddProject:
		return r.addProject(next, typed)
	case UpdateProject:
		return r.updateProject(next, typed), nil
	case DeleteProject:
		return r.deleteProject(next, typed), nil
	case AddNote:
		return r.addNote(next, typed)
	case UpdateNote:
		return r.updateNote(next, typed), nil
	case DeleteNote:
		return r.deleteNote(next, typed), nil
	case SetActiveProject:
		return r.setActiveProject(next, typed), nil
	case SetActiveNote:
		return r.setActiveNote(next, typed), nil
	case InitFromDB:
		return r.initFromDB(next, typed), nil
	default:
		return Transition{State: current}, fmt.Errorf("%w: %T", ErrUnknownAction, action)
	}
}

func (r *Reducer) now() int64 {
	return notes.UnixMillis(r.clock())
}

func (r *Reducer) addProject(next notes.AppState, action AddProject) (Transition, error) {
	projectID, err := r.idProvider.NewID()
	if err != nil {
		return Transition{}, err
	}
	timestamp := r.now()
	color := action.Color
	if color == "" {
		color = notes.ProjectColors[0]
	}
	next.Projects = append(next.Projects, notes.Project{
		ID:          projectID,
		Name:        action.Name,
		Description: action.Description,
		Color:       color,
		CreatedAt:   timestamp,
		UpdatedAt:   timestamp,
	})
	return Transition{State: next, Applied: true}, nil
}

func (r *Reducer) updateProject(next notes.AppState, action UpdateProject) Transition {
	for index, project := range next.Projects {
		if project.ID != action.Project.ID {
			continue
		}
		updated := action.Project
		updated.CreatedAt = project.CreatedAt
		updated.UpdatedAt = r.now()
		next.Projects[index] = updated
		return Transition{State: next, Applied: true}
	}
	return Transition{State: next}
}

// deleteProject cascades to the project's notes. The active project and the active
// note are checked independently.
func (r *Reducer) deleteProject(next notes.AppState, action DeleteProject) Transition {
	projects := make([]notes.Project, 0, len(next.Projects))
	found := false
	for _, project := range next.Projects {
		if project.ID == action.ID {
			found = true
			continue
		}
		projects = append(projects, project)
	}

	activeNoteProject := ""
	if active, ok := next.FindNote(next.ActiveNote); ok {
		activeNoteProject = active.ProjectID
	}

	kept := make([]notes.Note, 0, len(next.Notes))
	var removed []string
	for _, note := range next.Notes {
		if note.ProjectID == action.ID {
			removed = append(removed, note.ID)
			continue
		}
		kept = append(kept, note)
	}

	next.Projects = projects
	next.Notes = kept
	if next.ActiveProject == action.ID {
		next.ActiveProject = ""
	}
	if next.ActiveNote != "" && activeNoteProject == action.ID {
		next.ActiveNote = ""
	}
	return Transition{State: next, Applied: found || len(removed) > 0, Removed: removed}
}

func (r *Reducer) addNote(next notes.AppState, action AddNote) (Transition, error) {
	if _, ok := next.FindProject(action.ProjectID); !ok {
		return Transition{State: next}, nil
	}
	noteID, err := r.idProvider.NewID()
	if err != nil {
		return Transition{}, err
	}
	initialBlock, err := notes.NewTextBlock(r.idProvider, "")
	if err != nil {
		return Transition{}, err
	}
	format := action.Format
	if format == "" {
		format = notes.FormatText
	}
	title := action.Title
	if title == "" {
		title = notes.DefaultNoteTitle
	}
	timestamp := r.now()
	note := notes.Note{
		ID:        noteID,
		Title:     title,
		Content:   notes.Blocks{initialBlock},
		Format:    format,
		ProjectID: action.ProjectID,
		CreatedAt: timestamp,
		UpdatedAt: timestamp,
	}
	if len(action.Tags) > 0 {
		note.Tags = append([]string(nil), action.Tags...)
	}
	next.Notes = append(next.Notes, note)
	next.ActiveNote = note.ID
	return Transition{State: next, Applied: true, Upserted: []notes.Note{note.Clone()}}, nil
}

func (r *Reducer) updateNote(next notes.AppState, action UpdateNote) Transition {
	if _, ok := next.FindProject(action.Note.ProjectID); !ok {
		return Transition{State: next}
	}
	for index, note := range next.Notes {
		if note.ID != action.Note.ID {
			continue
		}
		updated := action.Note.Clone()
		updated.CreatedAt = note.CreatedAt
		updated.UpdatedAt = r.now()
		if updated.Format == "" {
			updated.Format = note.Format
		}
		if len(updated.Content) > 0 {
			updated.Legacy = nil
		}
		next.Notes[index] = updated
		return Transition{State: next, Applied: true, Upserted: []notes.Note{updated.Clone()}}
	}
	return Transition{State: next}
}

func (r *Reducer) deleteNote(next notes.AppState, action DeleteNote) Transition {
	kept := make([]notes.Note, 0, len(next.Notes))
	found := false
	for _, note := range next.Notes {
		if note.ID == action.ID {
			found = true
			continue
		}
		kept = append(kept, note)
	}
	if !found {
		return Transition{State: next}
	}
	next.Notes = kept
	if next.ActiveNote == action.ID {
		next.ActiveNote = ""
	}
	return Transition{State: next, Applied: true, Removed: []string{action.ID}}
}

func (r *Reducer) setActiveProject(next notes.AppState, action SetActiveProject) Transition {
	if action.ID == "" {
		next.ActiveProject = ""
		next.ActiveNote = ""
		return Transition{State: next, Applied: true}
	}
	if _, ok := next.FindProject(action.ID); !ok {
		return Transition{State: next}
	}
	next.ActiveProject = action.ID
	if active, ok := next.FindNote(next.ActiveNote); !ok || active.ProjectID != action.ID {
		next.ActiveNote = ""
	}
	return Transition{State: next, Applied: true}
}

func (r *Reducer) setActiveNote(next notes.AppState, action SetActiveNote) Transition {
	if action.ID != "" {
		if _, ok := next.FindNote(action.ID); !ok {
			return Transition{State: next}
		}
	}
	next.ActiveNote = action.ID
	return Transition{State: next, Applied: true}
}

func (r *Reducer) initFromDB(next notes.AppState, action InitFromDB) Transition {
	incoming := notes.AppState{Notes: action.Notes, Projects: action.Projects}.Clone()
	next.Notes = incoming.Notes
	next.Projects = incoming.Projects
	if next.Notes == nil {
		next.Notes = []notes.Note{}
	}
	if next.Projects == nil {
		next.Projects = []notes.Project{}
	}
	if _, ok := next.FindProject(next.ActiveProject); !ok {
		next.ActiveProject = ""
	}
	if _, ok := next.FindNote(next.ActiveNote); !ok {
		next.ActiveNote = ""
	}
	return Transition{State: next, Applied: true}
}
