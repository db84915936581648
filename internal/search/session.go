package search

import (
	"sync"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

// Session holds the ephemeral search inputs of one user session. Nothing here is
// persisted; a new session starts from DefaultFilters.
type Session struct {
	mu     sync.RWMutex
	term   string
	global bool
	filter Filters
}

// NewSession returns a session with an empty term, project scope and default filters.
func NewSession() *Session {
	return &Session{filter: DefaultFilters()}
}

func (s *Session) SetTerm(term string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term = term
}

func (s *Session) SetGlobal(global bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = global
}

// SetFilters replaces the filters after validating them.
func (s *Session) SetFilters(filters Filters) error {
	if err := filters.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = filters
	if filters.Tags != nil {
		s.filter.Tags = append([]string(nil), filters.Tags...)
	}
	return nil
}

// Query returns the current inputs as a Query.
func (s *Session) Query() Query {
	s.mu.RLock()
	defer s.mu.RUnlock()
	query := Query{Term: s.term, Global: s.global, Filters: s.filter}
	if s.filter.Tags != nil {
		query.Filters.Tags = append([]string(nil), s.filter.Tags...)
	}
	return query
}

// Results evaluates the current inputs against the state.
func (s *Session) Results(state notes.AppState) []notes.Note {
	return Run(state, s.Query())
}

// Clear resets the term, the scope and the filters.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term = ""
	s.global = false
	s.filter = DefaultFilters()
}
