package autosave

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDelay is the quiet interval after the last edit before a save runs.
const DefaultDelay = time.Second

// Task persists one note. It runs on the timer goroutine or on the caller of Flush.
type Task func()

type pendingTask struct {
	seq   uint64
	timer *time.Timer
	task  Task
}

// Config describes a Scheduler.
type Config struct {
	Delay  time.Duration
	Logger *zap.Logger
}

// Scheduler keeps at most one pending save per note id. Scheduling again before the
// delay elapses cancels the earlier task and restarts the interval.
type Scheduler struct {
	mu      sync.Mutex
	delay   time.Duration
	pending map[string]*pendingTask
	seq     uint64
	logger  *zap.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(cfg Config) *Scheduler {
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		delay:   delay,
		pending: make(map[string]*pendingTask),
		logger:  logger,
	}
}

// Delay returns the configured quiet interval.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Schedule replaces any pending task for the note and arms a new timer.
func (s *Scheduler) Schedule(noteID string, task Task) {
	if task == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pending[noteID]; ok {
		existing.timer.Stop()
		s.logger.Debug("autosave superseded", zap.String("note_id", noteID))
	}
	s.seq++
	seq := s.seq
	entry := &pendingTask{seq: seq, task: task}
	entry.timer = time.AfterFunc(s.delay, func() {
		s.fire(noteID, seq)
	})
	s.pending[noteID] = entry
}

func (s *Scheduler) fire(noteID string, seq uint64) {
	s.mu.Lock()
	entry, ok := s.pending[noteID]
	if !ok || entry.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.pending, noteID)
	s.mu.Unlock()

	entry.task()
}

// Cancel drops the pending task for the note. It reports whether one was pending.
func (s *Scheduler) Cancel(noteID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[noteID]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.pending, noteID)
	return true
}

// Flush runs the pending task for the note now, on the caller's goroutine.
func (s *Scheduler) Flush(noteID string) bool {
	s.mu.Lock()
	entry, ok := s.pending[noteID]
	if ok {
		entry.timer.Stop()
		delete(s.pending, noteID)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	entry.task()
	return true
}

// FlushAll runs every pending task in the order they were scheduled.
func (s *Scheduler) FlushAll() int {
	s.mu.Lock()
	entries := make([]*pendingTask, 0, len(s.pending))
	for noteID, entry := range s.pending {
		entry.timer.Stop()
		entries = append(entries, entry)
		delete(s.pending, noteID)
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	for _, entry := range entries {
		entry.task()
	}
	return len(entries)
}

// Pending reports whether a task is waiting for the note.
func (s *Scheduler) Pending(noteID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[noteID]
	return ok
}

// Count returns the number of pending tasks.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
