package notes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NoteFormat enumerates the semantic classifications a note can carry.
type NoteFormat string

const (
	// FormatText is the default classification.
	FormatText NoteFormat = "text"
	// FormatMarkdown marks notes containing markdown syntax.
	FormatMarkdown NoteFormat = "markdown"
	// FormatCode marks notes that look like source code.
	FormatCode NoteFormat = "code"
	// FormatTask marks checklist notes.
	FormatTask NoteFormat = "task"
	// FormatLink marks notes that carry a URL.
	FormatLink NoteFormat = "link"
)

const maxIdentifierLength = 190

// DefaultNoteTitle is assigned to notes created without a title.
const DefaultNoteTitle = "Untitled Note"

// ProjectColors is the palette offered for projects; the first entry is the default.
var ProjectColors = []string{
	"#3f51b5",
	"#f44336",
	"#4caf50",
	"#ff9800",
	"#9c27b0",
	"#009688",
	"#795548",
	"#607d8b",
}

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidProjectID indicates that a project identifier is empty or exceeds storage bounds.
	ErrInvalidProjectID = errors.New("notes: invalid project id")
	// ErrInvalidFormat indicates that a format tag is not one of the known formats.
	ErrInvalidFormat = errors.New("notes: invalid format")
)

// Valid reports whether the format is one of the known classifications.
func (format NoteFormat) Valid() bool {
	switch format {
	case FormatText, FormatMarkdown, FormatCode, FormatTask, FormatLink:
		return true
	default:
		return false
	}
}

// ParseNoteFormat validates raw input and returns a NoteFormat.
func ParseNoteFormat(rawInput string) (NoteFormat, error) {
	format := NoteFormat(strings.ToLower(strings.TrimSpace(rawInput)))
	if !format.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, rawInput)
	}
	return format, nil
}

// NewNoteID validates raw input and returns a trimmed note identifier.
func NewNoteID(rawInput string) (string, error) {
	return validateIdentifier(rawInput, ErrInvalidNoteID)
}

// NewProjectID validates raw input and returns a trimmed project identifier.
func NewProjectID(rawInput string) (string, error) {
	return validateIdentifier(rawInput, ErrInvalidProjectID)
}

func validateIdentifier(rawInput string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}

// UnixMillis converts a time to the millisecond timestamps stored on notes and projects.
func UnixMillis(moment time.Time) int64 {
	return moment.UnixMilli()
}

// Project groups notes.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// Note is a titled, ordered sequence of content blocks that belongs to one project.
type Note struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   Blocks     `json:"content"`
	Format    NoteFormat `json:"format"`
	ProjectID string     `json:"projectId"`
	CreatedAt int64      `json:"createdAt"`
	UpdatedAt int64      `json:"updatedAt"`
	Tags      []string   `json:"tags,omitempty"`

	// Legacy is set when the note was decoded from a snapshot that still stores
	// content as a single string (or as something unreadable). Content is empty then.
	Legacy *LegacyContent `json:"-"`
}

type noteAlias Note

type noteWire struct {
	noteAlias
	Content json.RawMessage `json:"content"`
}

// MarshalJSON writes the block array, or the untouched legacy payload for unmigrated notes.
func (note Note) MarshalJSON() ([]byte, error) {
	wire := noteWire{noteAlias: noteAlias(note)}
	if note.Legacy != nil && len(note.Content) == 0 {
		wire.Content = note.Legacy.Raw()
	} else {
		encoded, err := note.Content.MarshalJSON()
		if err != nil {
			return nil, err
		}
		wire.Content = encoded
	}
	return json.Marshal(wire)
}

// UnmarshalJSON accepts both block arrays and legacy content payloads.
func (note *Note) UnmarshalJSON(data []byte) error {
	var wire noteWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	decoded := Note(wire.noteAlias)
	decoded.Content = nil
	decoded.Legacy = nil

	raw := []byte(strings.TrimSpace(string(wire.Content)))
	switch {
	case len(raw) == 0 || string(raw) == "null":
		decoded.Content = Blocks{}
	case raw[0] == '[':
		var blocks Blocks
		if err := json.Unmarshal(raw, &blocks); err != nil {
			decoded.Legacy = &LegacyContent{raw: append(json.RawMessage(nil), raw...)}
		} else {
			decoded.Content = blocks
		}
	default:
		decoded.Legacy = &LegacyContent{raw: append(json.RawMessage(nil), raw...)}
	}
	*note = decoded
	return nil
}

// IsLegacy reports whether the note still awaits conversion to block content.
func (note Note) IsLegacy() bool {
	return note.Legacy != nil
}

// Clone returns a deep copy so callers can mutate the result freely.
func (note Note) Clone() Note {
	cloned := note
	cloned.Content = note.Content.Clone()
	if note.Tags != nil {
		cloned.Tags = append([]string(nil), note.Tags...)
	}
	return cloned
}

// PlainText joins the note's text blocks with the separator used for format detection.
func (note Note) PlainText() string {
	return note.Content.Text("\n")
}

// HasAnyTag reports whether the note carries at least one of the provided tags.
func (note Note) HasAnyTag(tags []string) bool {
	for _, wanted := range tags {
		for _, tag := range note.Tags {
			if tag == wanted {
				return true
			}
		}
	}
	return false
}

// AppState is the root state tree owned by the reducer.
type AppState struct {
	Projects      []Project
	Notes         []Note
	ActiveProject string
	ActiveNote    string
}

type appStateWire struct {
	Projects      []Project `json:"projects"`
	Notes         []Note    `json:"notes"`
	ActiveProject *string   `json:"activeProject"`
	ActiveNote    *string   `json:"activeNote"`
}

// MarshalJSON writes the snapshot layout, with null for unset selections.
func (state AppState) MarshalJSON() ([]byte, error) {
	wire := appStateWire{
		Projects:      state.Projects,
		Notes:         state.Notes,
		ActiveProject: optionalString(state.ActiveProject),
		ActiveNote:    optionalString(state.ActiveNote),
	}
	if wire.Projects == nil {
		wire.Projects = []Project{}
	}
	if wire.Notes == nil {
		wire.Notes = []Note{}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON reads the snapshot layout.
func (state *AppState) UnmarshalJSON(data []byte) error {
	var wire appStateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	decoded := AppState{
		Projects: wire.Projects,
		Notes:    wire.Notes,
	}
	if wire.ActiveProject != nil {
		decoded.ActiveProject = *wire.ActiveProject
	}
	if wire.ActiveNote != nil {
		decoded.ActiveNote = *wire.ActiveNote
	}
	*state = decoded
	return nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	v := value
	return &v
}

// Clone returns a deep copy of the state tree.
func (state AppState) Clone() AppState {
	cloned := AppState{
		ActiveProject: state.ActiveProject,
		ActiveNote:    state.ActiveNote,
	}
	if state.Projects != nil {
		cloned.Projects = append([]Project(nil), state.Projects...)
	}
	if state.Notes != nil {
		cloned.Notes = make([]Note, len(state.Notes))
		for index, note := range state.Notes {
			cloned.Notes[index] = note.Clone()
		}
	}
	return cloned
}

// FindNote returns the note with the given id.
func (state AppState) FindNote(noteID string) (Note, bool) {
	for _, note := range state.Notes {
		if note.ID == noteID {
			return note, true
		}
	}
	return Note{}, false
}

// FindProject returns the project with the given id.
func (state AppState) FindProject(projectID string) (Project, bool) {
	for _, project := range state.Projects {
		if project.ID == projectID {
			return project, true
		}
	}
	return Project{}, false
}
