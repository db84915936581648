package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

type recordedWrite struct {
	kind   string
	noteID string
	title  string
}

type recordingWriter struct {
	mu     sync.Mutex
	writes []recordedWrite
	fail   error
	gate   chan struct{}
}

func (w *recordingWriter) Put(ctx context.Context, note notes.Note) error {
	if w.gate != nil {
		<-w.gate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, recordedWrite{kind: "put", noteID: note.ID, title: note.Title})
	return w.fail
}

func (w *recordingWriter) Remove(ctx context.Context, noteID string) error {
	if w.gate != nil {
		<-w.gate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, recordedWrite{kind: "remove", noteID: noteID})
	return w.fail
}

func (w *recordingWriter) snapshot() []recordedWrite {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]recordedWrite(nil), w.writes...)
}

type recordingSnapshots struct {
	mu    sync.Mutex
	saves []notes.AppState
}

func (s *recordingSnapshots) SaveSnapshot(current notes.AppState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, current.Clone())
}

func (s *recordingSnapshots) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *recordingSnapshots) last() notes.AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[len(s.saves)-1]
}

type storeHarness struct {
	store     *Store
	writer    *recordingWriter
	snapshots *recordingSnapshots
}

func newStoreHarness(t *testing.T, writer *recordingWriter) storeHarness {
	t.Helper()
	if writer == nil {
		writer = &recordingWriter{}
	}
	snapshots := &recordingSnapshots{}
	store, err := NewStore(StoreConfig{
		Reducer:   newTestReducer(t),
		Snapshots: snapshots,
		Notes:     writer,
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(ctx)
	})
	return storeHarness{store: store, writer: writer, snapshots: snapshots}
}

func mustDispatch(t *testing.T, store *Store, action Action) notes.AppState {
	t.Helper()
	next, err := store.Dispatch(action)
	if err != nil {
		t.Fatalf("dispatch %s failed: %v", action.Type(), err)
	}
	return next
}

func flush(t *testing.T, store *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
}

func TestNewStoreValidatesConfig(t *testing.T) {
	reducer := newTestReducer(t)
	if _, err := NewStore(StoreConfig{Snapshots: &recordingSnapshots{}, Notes: &recordingWriter{}}); !errors.Is(err, errMissingReducer) {
		t.Fatalf("expected errMissingReducer, got %v", err)
	}
	if _, err := NewStore(StoreConfig{Reducer: reducer, Notes: &recordingWriter{}}); !errors.Is(err, errMissingSnapshots) {
		t.Fatalf("expected errMissingSnapshots, got %v", err)
	}
	if _, err := NewStore(StoreConfig{Reducer: reducer, Snapshots: &recordingSnapshots{}}); !errors.Is(err, errMissingNoteWriter) {
		t.Fatalf("expected errMissingNoteWriter, got %v", err)
	}
}

func TestStoreDispatchRejectsInvalidActionWithoutSideEffects(t *testing.T) {
	harness := newStoreHarness(t, nil)
	_, err := harness.store.Dispatch(AddProject{Name: ""})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if harness.snapshots.count() != 0 {
		t.Fatalf("expected no snapshot write")
	}
	if len(harness.store.State().Projects) != 0 {
		t.Fatalf("state changed after invalid action")
	}
}

func TestStoreDispatchMirrorsNoteWritesInOrder(t *testing.T) {
	harness := newStoreHarness(t, nil)
	current := mustDispatch(t, harness.store, AddProject{Name: "Work"})
	current = mustDispatch(t, harness.store, AddNote{ProjectID: current.Projects[0].ID})
	note := current.Notes[0]

	for _, title := range []string{"one", "two", "three"} {
		edited := note.Clone()
		edited.Title = title
		mustDispatch(t, harness.store, UpdateNote{Note: edited})
	}
	mustDispatch(t, harness.store, DeleteNote{ID: note.ID})
	flush(t, harness.store)

	writes := harness.writer.snapshot()
	expected := []recordedWrite{
		{kind: "put", noteID: note.ID, title: notes.DefaultNoteTitle},
		{kind: "put", noteID: note.ID, title: "one"},
		{kind: "put", noteID: note.ID, title: "two"},
		{kind: "put", noteID: note.ID, title: "three"},
		{kind: "remove", noteID: note.ID},
	}
	if len(writes) != len(expected) {
		t.Fatalf("expected %d writes, got %+v", len(expected), writes)
	}
	for index := range expected {
		if writes[index] != expected[index] {
			t.Fatalf("write %d = %+v, want %+v", index, writes[index], expected[index])
		}
	}
	if harness.snapshots.count() != 6 {
		t.Fatalf("expected a snapshot per applied action, got %d", harness.snapshots.count())
	}
	if len(harness.snapshots.last().Notes) != 0 {
		t.Fatalf("last snapshot should have no notes")
	}
}

func TestStoreDispatchDoesNotWaitForDurableWrites(t *testing.T) {
	writer := &recordingWriter{gate: make(chan struct{})}
	harness := newStoreHarness(t, writer)
	current := mustDispatch(t, harness.store, AddProject{Name: "Work"})

	done := make(chan notes.AppState, 1)
	go func() {
		next, _ := harness.store.Dispatch(AddNote{ProjectID: current.Projects[0].ID})
		done <- next
	}()
	select {
	case next := <-done:
		if len(next.Notes) != 1 {
			t.Fatalf("expected optimistic note, got %+v", next.Notes)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch blocked on the durable store")
	}
	close(writer.gate)
	flush(t, harness.store)
	if len(writer.snapshot()) != 1 {
		t.Fatalf("expected the write to land after the gate opened")
	}
}

func TestStoreDeleteProjectMirrorsCascade(t *testing.T) {
	harness := newStoreHarness(t, nil)
	current := mustDispatch(t, harness.store, AddProject{Name: "Work"})
	projectID := current.Projects[0].ID
	mustDispatch(t, harness.store, AddNote{ProjectID: projectID})
	current = mustDispatch(t, harness.store, AddNote{ProjectID: projectID})

	next := mustDispatch(t, harness.store, DeleteProject{ID: projectID})
	if next.ActiveNote != "" || len(next.Notes) != 0 {
		t.Fatalf("expected cascade, got %+v", next)
	}
	flush(t, harness.store)

	removed := map[string]bool{}
	for _, write := range harness.writer.snapshot() {
		if write.kind == "remove" {
			removed[write.noteID] = true
		}
	}
	for _, note := range current.Notes {
		if !removed[note.ID] {
			t.Fatalf("expected durable removal of %s", note.ID)
		}
	}
}

func TestStoreDurableFailureDoesNotAffectState(t *testing.T) {
	harness := newStoreHarness(t, &recordingWriter{fail: errors.New("disk full")})
	current := mustDispatch(t, harness.store, AddProject{Name: "Work"})
	current = mustDispatch(t, harness.store, AddNote{ProjectID: current.Projects[0].ID})
	flush(t, harness.store)
	if len(harness.store.State().Notes) != 1 {
		t.Fatalf("durable failure leaked into state")
	}
}

func TestStoreReferentialMissSkipsSideEffects(t *testing.T) {
	harness := newStoreHarness(t, nil)
	mustDispatch(t, harness.store, AddNote{ProjectID: "ghost"})
	flush(t, harness.store)
	if harness.snapshots.count() != 0 || len(harness.writer.snapshot()) != 0 {
		t.Fatalf("expected no side effects for a referential miss")
	}
}

func TestStoreBroadcastsAppliedActions(t *testing.T) {
	harness := newStoreHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, unsubscribe := harness.store.Subscribe(ctx)
	defer unsubscribe()

	mustDispatch(t, harness.store, AddProject{Name: "Work"})
	select {
	case change := <-stream:
		if change.Action != ActionAddProject || len(change.State.Projects) != 1 {
			t.Fatalf("unexpected change %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a state change")
	}
}

func TestStoreInitFromStoreWithoutLocalChanges(t *testing.T) {
	harness := newStoreHarness(t, nil)
	mustDispatch(t, harness.store, AddProject{Name: "Work"})
	projectID := harness.store.State().Projects[0].ID
	stored := []notes.Note{{ID: "n1", ProjectID: projectID, Format: notes.FormatText, UpdatedAt: 5}}

	first, err := harness.store.InitFromStore(stored)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	second, err := harness.store.InitFromStore(stored)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if len(first.Notes) != 1 || len(second.Notes) != 1 || len(second.Projects) != 1 {
		t.Fatalf("unexpected init results %+v %+v", first, second)
	}
}

func TestStoreInitFromStoreMergesLocalChanges(t *testing.T) {
	harness := newStoreHarness(t, nil)
	current := mustDispatch(t, harness.store, AddProject{Name: "Work"})
	projectID := current.Projects[0].ID
	current = mustDispatch(t, harness.store, AddNote{ProjectID: projectID, Title: "local"})
	created := current.ActiveNote
	current = mustDispatch(t, harness.store, AddNote{ProjectID: projectID, Title: "doomed"})
	doomed := current.ActiveNote
	mustDispatch(t, harness.store, DeleteNote{ID: doomed})
	touched := harness.store.TouchedNoteIDs()
	if _, ok := touched[created]; !ok || len(touched) != 2 {
		t.Fatalf("expected created and deleted notes to be reported as touched, got %v", touched)
	}
	if _, ok := touched[doomed]; !ok {
		t.Fatalf("expected deleted note to be reported as touched, got %v", touched)
	}

	stored := []notes.Note{
		{ID: "remote", ProjectID: projectID, Title: "remote", Format: notes.FormatText, UpdatedAt: 1},
		{ID: doomed, ProjectID: projectID, Title: "doomed", Format: notes.FormatText, UpdatedAt: 1},
		{ID: created, ProjectID: projectID, Title: "stale", Format: notes.FormatText, UpdatedAt: 1},
	}
	merged, err := harness.store.InitFromStore(stored)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	titles := map[string]string{}
	for _, note := range merged.Notes {
		titles[note.ID] = note.Title
	}
	if _, ok := titles[doomed]; ok {
		t.Fatalf("locally deleted note was resurrected")
	}
	if titles[created] != "local" {
		t.Fatalf("expected local edit to win, got %q", titles[created])
	}
	if titles["remote"] != "remote" {
		t.Fatalf("expected stored note to be kept")
	}
	assertReferentialIntegrity(t, merged)
}

func TestStoreRejectsDispatchAfterClose(t *testing.T) {
	harness := newStoreHarness(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := harness.store.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := harness.store.Dispatch(AddProject{Name: "Late"}); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
	if err := harness.store.Flush(ctx); err != nil {
		t.Fatalf("flush after close should return immediately, got %v", err)
	}
}
