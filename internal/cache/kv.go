package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrQuotaExceeded indicates a value larger than the configured per-value quota.
	ErrQuotaExceeded = errors.New("cache: quota exceeded")
	noOpLogger       = zap.NewNop()
)

// KeyValue is a small synchronous string store keyed by name.
type KeyValue interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Entry is one row of the key-value table.
type Entry struct {
	Key              string `gorm:"column:entry_key;primaryKey;size:190;not null"`
	Value            string `gorm:"column:entry_value;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "kv_entries"
}

// KVConfig describes the dependencies of a SQLiteKV.
type KVConfig struct {
	Database *gorm.DB
	// MaxValueBytes bounds a single value; zero disables the quota.
	MaxValueBytes int
	Clock         func() time.Time
	Logger        *zap.Logger
}

// SQLiteKV stores entries in the kv_entries table.
type SQLiteKV struct {
	db            *gorm.DB
	maxValueBytes int
	clock         func() time.Time
	logger        *zap.Logger
}

// NewSQLiteKV validates the configuration and returns a store.
func NewSQLiteKV(cfg KVConfig) (*SQLiteKV, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &SQLiteKV{db: cfg.Database, maxValueBytes: cfg.MaxValueBytes, clock: clock, logger: logger}, nil
}

func (kv *SQLiteKV) Get(ctx context.Context, key string) (string, bool, error) {
	var entry Entry
	err := kv.db.WithContext(ctx).Where("entry_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return entry.Value, true, nil
}

func (kv *SQLiteKV) Set(ctx context.Context, key, value string) error {
	if kv.maxValueBytes > 0 && len(value) > kv.maxValueBytes {
		kv.logger.Debug("cache value over quota",
			zap.String("key", key),
			zap.Int("bytes", len(value)),
			zap.Int("limit", kv.maxValueBytes),
		)
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrQuotaExceeded, key, len(value), kv.maxValueBytes)
	}
	entry := Entry{Key: key, Value: value, UpdatedAtSeconds: kv.clock().UTC().Unix()}
	if err := kv.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&entry).Error; err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (kv *SQLiteKV) Delete(ctx context.Context, key string) error {
	if err := kv.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&Entry{}).Error; err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}
