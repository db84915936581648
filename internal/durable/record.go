package durable

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

// NoteRecord is the row layout of the notes collection.
type NoteRecord struct {
	ID              string         `gorm:"column:id;primaryKey;size:190;not null"`
	ProjectID       string         `gorm:"column:project_id;size:190;not null;index:idx_notes_project"`
	Title           string         `gorm:"column:title;type:text;not null"`
	Content         datatypes.JSON `gorm:"column:content;not null"`
	Format          string         `gorm:"column:format;size:16;not null;default:text"`
	Tags            datatypes.JSON `gorm:"column:tags"`
	CreatedAtMillis int64          `gorm:"column:created_at_ms;not null;index:idx_notes_created"`
	UpdatedAtMillis int64          `gorm:"column:updated_at_ms;not null;index:idx_notes_updated"`
}

// TableName provides the explicit table binding for GORM.
func (NoteRecord) TableName() string {
	return "notes"
}

func recordFromNote(note notes.Note) (NoteRecord, error) {
	content, err := json.Marshal(note.Content)
	if err != nil {
		return NoteRecord{}, err
	}
	record := NoteRecord{
		ID:              note.ID,
		ProjectID:       note.ProjectID,
		Title:           note.Title,
		Content:         datatypes.JSON(content),
		Format:          string(note.Format),
		CreatedAtMillis: note.CreatedAt,
		UpdatedAtMillis: note.UpdatedAt,
	}
	if len(note.Tags) > 0 {
		tags, err := json.Marshal(note.Tags)
		if err != nil {
			return NoteRecord{}, err
		}
		record.Tags = datatypes.JSON(tags)
	}
	return record, nil
}

func (record NoteRecord) toNote() (notes.Note, error) {
	blocks := notes.Blocks{}
	if len(record.Content) > 0 {
		if err := json.Unmarshal(record.Content, &blocks); err != nil {
			return notes.Note{}, fmt.Errorf("note %s content: %w", record.ID, err)
		}
	}
	format := notes.NoteFormat(record.Format)
	if !format.Valid() {
		format = notes.FormatText
	}
	note := notes.Note{
		ID:        record.ID,
		Title:     record.Title,
		Content:   blocks,
		Format:    format,
		ProjectID: record.ProjectID,
		CreatedAt: record.CreatedAtMillis,
		UpdatedAt: record.UpdatedAtMillis,
	}
	if len(record.Tags) > 0 && string(record.Tags) != "null" {
		if err := json.Unmarshal(record.Tags, &note.Tags); err != nil {
			return notes.Note{}, fmt.Errorf("note %s tags: %w", record.ID, err)
		}
	}
	return note, nil
}
