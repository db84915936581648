package search

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

// Query is one search request over a state tree.
type Query struct {
	Term    string  `json:"term"`
	Global  bool    `json:"global"`
	Filters Filters `json:"filters"`
}

// Run returns the notes matching the query, ordered by the query's sort key. Notes
// with equal keys keep their order in state. The result never aliases state.Notes.
func Run(state notes.AppState, query Query) []notes.Note {
	filters := query.Filters
	if filters.SortBy == "" {
		filters.SortBy = SortByUpdatedAt
	}
	if filters.SortDirection == "" {
		filters.SortDirection = SortDescending
	}

	if !query.Global && state.ActiveProject == "" {
		return []notes.Note{}
	}

	folder := cases.Fold()
	term := folder.String(query.Term)

	results := make([]notes.Note, 0, len(state.Notes))
	for _, note := range state.Notes {
		if !query.Global && note.ProjectID != state.ActiveProject {
			continue
		}
		if term != "" && !matchesTerm(folder, note, term) {
			continue
		}
		if filters.Format != "" && note.Format != filters.Format {
			continue
		}
		if len(filters.Tags) > 0 && !note.HasAnyTag(filters.Tags) {
			continue
		}
		results = append(results, note.Clone())
	}

	sortNotes(results, filters)
	return results
}

func matchesTerm(folder cases.Caser, note notes.Note, term string) bool {
	if strings.Contains(folder.String(note.Title), term) {
		return true
	}
	for _, block := range note.Content {
		switch typed := block.(type) {
		case notes.TextBlock:
			if strings.Contains(folder.String(typed.Content), term) {
				return true
			}
		case notes.ImageBlock:
		}
	}
	return false
}

func sortNotes(results []notes.Note, filters Filters) {
	compare := compareByTimestamp(filters.SortBy)
	if filters.SortBy == SortByTitle {
		collator := collate.New(language.Und)
		compare = func(left, right notes.Note) int {
			return collator.CompareString(left.Title, right.Title)
		}
	}
	descending := filters.SortDirection == SortDescending
	sort.SliceStable(results, func(i, j int) bool {
		comparison := compare(results[i], results[j])
		if descending {
			return comparison > 0
		}
		return comparison < 0
	})
}

func compareByTimestamp(key SortKey) func(left, right notes.Note) int {
	return func(left, right notes.Note) int {
		var a, b int64
		if key == SortByCreatedAt {
			a, b = left.CreatedAt, right.CreatedAt
		} else {
			a, b = left.UpdatedAt, right.UpdatedAt
		}
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
}
