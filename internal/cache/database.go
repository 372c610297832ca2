// Package cache holds short-lived shared counters kept in the primary database.
package cache

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/liveclass/internal/models"
)

const keyPrefix = "liveclass:"

// DatabaseStore implements fixed-window counters on the primary SQL database so every
// replica behind a load balancer enforces one shared limit.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// Option customises a DatabaseStore.
type Option func(*DatabaseStore)

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *DatabaseStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewDatabaseStore constructs a database-backed counter store.
func NewDatabaseStore(db *gorm.DB, opts ...Option) *DatabaseStore {
	if db == nil {
		return nil
	}
	s := &DatabaseStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Increment bumps the counter for key and returns the new count with the time left in the
// current window. An expired window restarts at one.
func (s *DatabaseStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if s == nil {
		return 0, 0, errors.New("cache: database store not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if window <= 0 {
		window = time.Minute
	}

	now := s.now().UTC()
	key = keyPrefix + key

	var entry models.RateCounter
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&entry, "key = ?", key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			entry = models.RateCounter{Key: key, Count: 1, ExpiresAt: now.Add(window)}
			return tx.Create(&entry).Error
		}
		if err != nil {
			return err
		}

		if !entry.ExpiresAt.After(now) {
			entry.Count = 1
			entry.ExpiresAt = now.Add(window)
		} else {
			entry.Count++
		}
		return tx.Save(&entry).Error
	})
	if err != nil {
		return 0, 0, err
	}

	return int(entry.Count), entry.ExpiresAt.Sub(now), nil
}

// PruneOlderThan deletes counters whose window closed before cutoff.
func (s *DatabaseStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil {
		return 0, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	result := s.db.WithContext(ctx).Where("expires_at < ?", cutoff.UTC()).Delete(&models.RateCounter{})
	return result.RowsAffected, result.Error
}
