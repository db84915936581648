package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

// SortKey names the note attribute results are ordered by.
type SortKey string

const (
	SortByUpdatedAt SortKey = "updatedAt"
	SortByCreatedAt SortKey = "createdAt"
	SortByTitle     SortKey = "title"
)

// SortDirection orders results ascending or descending.
type SortDirection string

const (
	SortAscending  SortDirection = "asc"
	SortDescending SortDirection = "desc"
)

// ErrInvalidFilters indicates filters that name an unknown sort key, direction or format.
var ErrInvalidFilters = errors.New("search: invalid filters")

// Filters narrows and orders a result set. A zero Format matches every format.
type Filters struct {
	Format        notes.NoteFormat `json:"format"`
	SortBy        SortKey          `json:"sortBy"`
	SortDirection SortDirection    `json:"sortDirection"`
	Tags          []string         `json:"tags,omitempty"`
}

// MarshalJSON writes a zero Format as null.
func (f Filters) MarshalJSON() ([]byte, error) {
	type plain Filters
	wire := struct {
		plain
		Format *notes.NoteFormat `json:"format"`
	}{plain: plain(f)}
	if f.Format != "" {
		wire.Format = &f.Format
	}
	return json.Marshal(wire)
}

// DefaultFilters returns the filters a fresh session starts with.
func DefaultFilters() Filters {
	return Filters{SortBy: SortByUpdatedAt, SortDirection: SortDescending}
}

// Validate reports whether every field names a known value.
func (f Filters) Validate() error {
	err := validation.ValidateStruct(&f,
		validation.Field(&f.SortBy, validation.Required, validation.In(SortByUpdatedAt, SortByCreatedAt, SortByTitle)),
		validation.Field(&f.SortDirection, validation.Required, validation.In(SortAscending, SortDescending)),
		validation.Field(&f.Format, validation.In(
			notes.FormatText, notes.FormatMarkdown, notes.FormatCode, notes.FormatTask, notes.FormatLink,
		)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilters, err)
	}
	return nil
}

// ParseFilters builds filters from loosely typed input, falling back to defaults for
// empty values.
func ParseFilters(format, sortBy, direction string, tags []string) (Filters, error) {
	filters := DefaultFilters()
	if trimmed := strings.TrimSpace(format); trimmed != "" {
		filters.Format = notes.NoteFormat(strings.ToLower(trimmed))
	}
	if trimmed := strings.TrimSpace(sortBy); trimmed != "" {
		filters.SortBy = SortKey(trimmed)
	}
	if trimmed := strings.TrimSpace(direction); trimmed != "" {
		filters.SortDirection = SortDirection(strings.ToLower(trimmed))
	}
	for _, tag := range tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			filters.Tags = append(filters.Tags, trimmed)
		}
	}
	if err := filters.Validate(); err != nil {
		return Filters{}, err
	}
	return filters, nil
}
