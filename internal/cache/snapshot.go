package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

const (
	// StateKeyName is the key under which the whole state tree is cached.
	StateKeyName = "notepro-state"

	defaultProfile         = "default"
	defaultSnapshotTimeout = 5 * time.Second
)

var errMissingKeyValue = errors.New("key-value store is required")

// ProfileKey scopes a key name to a profile.
func ProfileKey(profile, name string) string {
	trimmed := strings.TrimSpace(profile)
	if trimmed == "" {
		trimmed = defaultProfile
	}
	return trimmed + ":" + name
}

// SnapshotConfig describes the dependencies of Snapshots.
type SnapshotConfig struct {
	Store   KeyValue
	Profile string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Snapshots reads and writes the whole state tree as one JSON value.
type Snapshots struct {
	store   KeyValue
	key     string
	timeout time.Duration
	logger  *zap.Logger
}

// NewSnapshots validates the configuration and returns a snapshot cache.
func NewSnapshots(cfg SnapshotConfig) (*Snapshots, error) {
	if cfg.Store == nil {
		return nil, errMissingKeyValue
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSnapshotTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Snapshots{
		store:   cfg.Store,
		key:     ProfileKey(cfg.Profile, StateKeyName),
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Key returns the profile-scoped snapshot key.
func (s *Snapshots) Key() string {
	return s.key
}

// LoadSnapshot returns the cached state, or nil when nothing usable is cached.
func (s *Snapshots) LoadSnapshot() *notes.AppState {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	raw, found, err := s.store.Get(ctx, s.key)
	if err != nil {
		s.logger.Warn("snapshot read failed",
			zap.String("operation", "cache.load_snapshot"),
			zap.String("reason", "read_failed"),
			zap.Error(err),
		)
		return nil
	}
	if !found || strings.TrimSpace(raw) == "" {
		return nil
	}
	var state notes.AppState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		s.logger.Warn("snapshot is corrupt",
			zap.String("operation", "cache.load_snapshot"),
			zap.String("reason", "decode_failed"),
			zap.Error(err),
		)
		return nil
	}
	if state.Projects == nil {
		state.Projects = []notes.Project{}
	}
	if state.Notes == nil {
		state.Notes = []notes.Note{}
	}
	return &state
}

// SaveSnapshot writes the state tree. Failures, including quota overflow, are logged.
func (s *Snapshots) SaveSnapshot(state notes.AppState) {
	encoded, err := json.Marshal(state)
	if err != nil {
		s.logger.Warn("snapshot encode failed",
			zap.String("operation", "cache.save_snapshot"),
			zap.String("reason", "encode_failed"),
			zap.Error(err),
		)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.Set(ctx, s.key, string(encoded)); err != nil {
		reason := "write_failed"
		if errors.Is(err, ErrQuotaExceeded) {
			reason = "quota_exceeded"
		}
		s.logger.Warn("snapshot write skipped",
			zap.String("operation", "cache.save_snapshot"),
			zap.String("reason", reason),
			zap.Int("bytes", len(encoded)),
			zap.Error(err),
		)
	}
}
