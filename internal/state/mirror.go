package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

const defaultWriteTimeout = 10 * time.Second

// ErrMirrorClosed indicates that the durable mirror no longer accepts work.
var ErrMirrorClosed = errors.New("state: durable mirror closed")

// NoteWriter is the slice of the durable store the coordinator writes through.
type NoteWriter interface {
	Put(ctx context.Context, note notes.Note) error
	Remove(ctx context.Context, noteID string) error
}

type mirrorOpKind int

const (
	mirrorPut mirrorOpKind = iota
	mirrorRemove
	mirrorBarrier
)

type mirrorOp struct {
	kind    mirrorOpKind
	note    notes.Note
	noteID  string
	reached chan struct{}
}

// mirror applies durable writes in the order they were enqueued. The queue is
// unbounded and drained by a single goroutine.
type mirror struct {
	writer       NoteWriter
	logger       *zap.Logger
	writeTimeout time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []mirrorOp
	closed  bool
	stopped chan struct{}
}

func newMirror(writer NoteWriter, logger *zap.Logger, writeTimeout time.Duration) *mirror {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	m := &mirror{
		writer:       writer,
		logger:       logger,
		writeTimeout: writeTimeout,
		stopped:      make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	go m.run()
	return m
}

func (m *mirror) put(note notes.Note) error {
	return m.enqueue(mirrorOp{kind: mirrorPut, note: note.Clone(), noteID: note.ID})
}

func (m *mirror) remove(noteID string) error {
	return m.enqueue(mirrorOp{kind: mirrorRemove, noteID: noteID})
}

func (m *mirror) enqueue(op mirrorOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMirrorClosed
	}
	m.queue = append(m.queue, op)
	m.cond.Signal()
	return nil
}

// flush waits until every write enqueued before the call has been attempted.
func (m *mirror) flush(ctx context.Context) error {
	barrier := mirrorOp{kind: mirrorBarrier, reached: make(chan struct{})}
	if err := m.enqueue(barrier); err != nil {
		select {
		case <-m.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-barrier.reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close drains pending writes and stops the worker.
func (m *mirror) close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
	select {
	case <-m.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mirror) run() {
	defer close(m.stopped)
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		op := m.queue[0]
		m.queue[0] = mirrorOp{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.apply(op)
	}
}

func (m *mirror) apply(op mirrorOp) {
	switch op.kind {
	case mirrorBarrier:
		close(op.reached)
		return
	case mirrorPut:
		ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
		defer cancel()
		if err := m.writer.Put(ctx, op.note); err != nil {
			m.logger.Warn("durable mirror write failed",
				zap.String("operation", "state.mirror.put"),
				zap.String("note_id", op.noteID),
				zap.Error(err),
			)
		}
	case mirrorRemove:
		ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
		defer cancel()
		if err := m.writer.Remove(ctx, op.noteID); err != nil {
			m.logger.Warn("durable mirror write failed",
				zap.String("operation", "state.mirror.remove"),
				zap.String("note_id", op.noteID),
				zap.Error(err),
			)
		}
	}
}
