package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type kvEntry struct {
	Key       string `gorm:"column:key;primaryKey;size:512;not null"`
	Value     []byte `gorm:"column:value;not null"`
	ExpiresAt int64  `gorm:"column:expires_at;not null;default:0;index"` // unix millis, 0 = never
}

// TableName provides the explicit table binding for GORM.
func (kvEntry) TableName() string {
	return "kv_entries"
}

// SQLiteConfig configures the persistent store.
type SQLiteConfig struct {
	Path          string
	Logger        *zap.Logger
	Clock         func() time.Time
	SweepInterval time.Duration
}

// SQLiteStore persists documents in a single key-value table. A background
// sweeper deletes expired rows; reads filter them out regardless.
type SQLiteStore struct {
	db        *gorm.DB
	clock     func() time.Time
	logger    *zap.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// OpenSQLite establishes the SQLite connection, migrates the schema and
// starts the expiry sweeper.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := &SQLiteStore{
		db:     db,
		clock:  clock,
		logger: log,
		done:   make(chan struct{}),
	}
	go s.sweep(interval)
	log.Info("store initialized", zap.String("path", cfg.Path))
	return s, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry kvEntry
	err := s.db.WithContext(ctx).Take(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if s.expired(entry.ExpiresAt) {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := kvEntry{Key: key, Value: value}
	if ttl > 0 {
		entry.ExpiresAt = s.clock().Add(ttl).UnixMilli()
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("key = ? AND (expires_at = 0 OR expires_at > ?)", key, s.clock().UnixMilli()).
		Delete(&kvEntry{})
	if result.Error != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *SQLiteStore) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&kvEntry{}).
		Where("key LIKE ? AND (expires_at = 0 OR expires_at > ?)", prefix+"%", s.clock().UnixMilli()).
		Order("key").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return keys, nil
}

func (s *SQLiteStore) Clear(ctx context.Context, prefix string) error {
	err := s.db.WithContext(ctx).
		Where("key LIKE ?", prefix+"%").
		Delete(&kvEntry{}).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) expired(expiresAt int64) bool {
	return expiresAt > 0 && expiresAt <= s.clock().UnixMilli()
}

func (s *SQLiteStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			err := s.db.
				Where("expires_at > 0 AND expires_at <= ?", s.clock().UnixMilli()).
				Delete(&kvEntry{}).Error
			if err != nil {
				s.logger.Warn("expiry sweep failed", zap.Error(err))
			}
		}
	}
}
