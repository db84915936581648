package durable

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 50 * time.Millisecond
)

// RetryConfig describes how a Retrying store repeats failed calls.
type RetryConfig struct {
	Attempts int
	Backoff  time.Duration
	Logger   *zap.Logger
}

// Retrying wraps a NoteStore and repeats calls that fail for reasons other than
// invalid input. The backoff doubles after each failed attempt.
type Retrying struct {
	inner    NoteStore
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

// NewRetrying decorates inner with retries.
func NewRetrying(inner NoteStore, cfg RetryConfig) *Retrying {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Retrying{inner: inner, attempts: attempts, backoff: backoff, logger: logger}
}

func (r *Retrying) Put(ctx context.Context, note notes.Note) error {
	return r.do(ctx, opPut, func() error {
		return r.inner.Put(ctx, note)
	})
}

func (r *Retrying) GetByID(ctx context.Context, noteID string) (notes.Note, bool, error) {
	var (
		note  notes.Note
		found bool
	)
	err := r.do(ctx, opGetByID, func() error {
		var err error
		note, found, err = r.inner.GetByID(ctx, noteID)
		return err
	})
	return note, found, err
}

func (r *Retrying) GetByProject(ctx context.Context, projectID string) ([]notes.Note, error) {
	var result []notes.Note
	err := r.do(ctx, opGetByProject, func() error {
		var err error
		result, err = r.inner.GetByProject(ctx, projectID)
		return err
	})
	return result, err
}

func (r *Retrying) GetAll(ctx context.Context) ([]notes.Note, error) {
	var result []notes.Note
	err := r.do(ctx, opGetAll, func() error {
		var err error
		result, err = r.inner.GetAll(ctx)
		return err
	})
	return result, err
}

func (r *Retrying) Remove(ctx context.Context, noteID string) error {
	return r.do(ctx, opRemove, func() error {
		return r.inner.Remove(ctx, noteID)
	})
}

func (r *Retrying) do(ctx context.Context, operation string, call func() error) error {
	wait := r.backoff
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = call()
		if err == nil || permanent(err) || attempt == r.attempts {
			return err
		}
		r.logger.Debug("retrying durable store call",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		wait *= 2
	}
	return err
}

func permanent(err error) bool {
	return errors.Is(err, ErrInvalidNote) ||
		errors.Is(err, ErrLegacyContent) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
