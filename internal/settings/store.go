package settings

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/notepro/internal/cache"
)

const (
	ThemeKeyName         = "notepro-theme-settings"
	UseBuiltinKeyKeyName = "notepro-use-env-api-key"
	APIKeyKeyName        = "notepro-openai-api-key"

	defaultMemoTTL = 10 * time.Minute
)

var errMissingKeyValue = errors.New("key-value store is required")

type memoEntry struct {
	value string
	found bool
}

// Config describes the dependencies of a Store.
type Config struct {
	KeyValue cache.KeyValue
	Profile  string
	// MemoTTL bounds how long a read is served from memory.
	MemoTTL time.Duration
	Logger  *zap.Logger
}

// Store reads and writes the settings entries of one profile. Reads are served
// from an in-memory cache in front of the key-value store.
type Store struct {
	kv      cache.KeyValue
	profile string
	memo    *gocache.Cache
	logger  *zap.Logger
}

// NewStore validates the configuration and returns a settings store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.KeyValue == nil {
		return nil, errMissingKeyValue
	}
	ttl := cfg.MemoTTL
	if ttl <= 0 {
		ttl = defaultMemoTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		kv:      cfg.KeyValue,
		profile: cfg.Profile,
		memo:    gocache.New(ttl, 2*ttl),
		logger:  logger,
	}, nil
}

func (s *Store) key(name string) string {
	return cache.ProfileKey(s.profile, name)
}

func (s *Store) read(ctx context.Context, name string) (string, bool) {
	key := s.key(name)
	if cached, ok := s.memo.Get(key); ok {
		entry := cached.(memoEntry)
		return entry.value, entry.found
	}
	value, found, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("settings read failed",
			zap.String("operation", "settings.read"),
			zap.String("key", key),
			zap.Error(err),
		)
		return "", false
	}
	s.memo.Set(key, memoEntry{value: value, found: found}, gocache.DefaultExpiration)
	return value, found
}

func (s *Store) write(ctx context.Context, name, value string) error {
	key := s.key(name)
	if err := s.kv.Set(ctx, key, value); err != nil {
		s.memo.Delete(key)
		return err
	}
	s.memo.Set(key, memoEntry{value: value, found: true}, gocache.DefaultExpiration)
	return nil
}

// Theme returns the stored theme, or the default when missing or unreadable.
func (s *Store) Theme(ctx context.Context) Theme {
	raw, found := s.read(ctx, ThemeKeyName)
	if !found {
		return DefaultTheme()
	}
	var theme Theme
	if err := json.Unmarshal([]byte(raw), &theme); err != nil || theme.Validate() != nil {
		s.logger.Warn("stored theme is unreadable, using default",
			zap.String("operation", "settings.theme"),
			zap.String("reason", "decode_failed"),
		)
		return DefaultTheme()
	}
	return theme
}

// SetTheme validates and stores the theme.
func (s *Store) SetTheme(ctx context.Context, theme Theme) error {
	if err := theme.Validate(); err != nil {
		return err
	}
	encoded, err := json.Marshal(theme)
	if err != nil {
		return err
	}
	return s.write(ctx, ThemeKeyName, string(encoded))
}

// UseBuiltinKey reports whether the built-in AI key is preferred over the stored one.
func (s *Store) UseBuiltinKey(ctx context.Context) bool {
	raw, found := s.read(ctx, UseBuiltinKeyKeyName)
	return found && raw == "true"
}

func (s *Store) SetUseBuiltinKey(ctx context.Context, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	return s.write(ctx, UseBuiltinKeyKeyName, value)
}

// APIKey returns the stored AI key, or "".
func (s *Store) APIKey(ctx context.Context) string {
	raw, _ := s.read(ctx, APIKeyKeyName)
	return raw
}

// SetAPIKey validates and stores the AI key.
func (s *Store) SetAPIKey(ctx context.Context, raw string) error {
	key, err := ValidateAPIKey(raw)
	if err != nil {
		return err
	}
	return s.write(ctx, APIKeyKeyName, key)
}

// ClearAPIKey removes the stored AI key.
func (s *Store) ClearAPIKey(ctx context.Context) error {
	key := s.key(APIKeyKeyName)
	if err := s.kv.Delete(ctx, key); err != nil {
		return err
	}
	s.memo.Delete(key)
	return nil
}
