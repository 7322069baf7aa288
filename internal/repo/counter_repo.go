package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-anon-backend/internal/domain"
)

// counterNoExpiry marks a bucket whose TTL has not been set yet.
var counterNoExpiry = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// CounterStore is a relational ratelimit.Store for deployments that share a
// database but not a Redis. Each increment is an upsert inside a transaction.
type CounterStore struct {
	DB  *gorm.DB
	Now func() time.Time
}

// NewCounterStore returns a CounterStore using the wall clock.
func NewCounterStore(db *gorm.DB) *CounterStore {
	return &CounterStore{DB: db, Now: time.Now}
}

func (s *CounterStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Incr increments key and returns the new count. An expired bucket restarts at 1.
func (s *CounterStore) Incr(ctx context.Context, key string) (int64, error) {
	now := s.now()
	var hits int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("bucket_key = ? AND expires_at <= ?", key, now).
			Delete(&domain.RateCounter{}).Error; err != nil {
			return err
		}
		row := &domain.RateCounter{BucketKey: key, Hits: 1, ExpiresAt: counterNoExpiry}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "bucket_key"}},
			DoUpdates: clause.Assignments(map[string]any{
				"hits": gorm.Expr("rate_counters.hits + 1"),
			}),
		}).Create(row).Error; err != nil {
			return err
		}
		return tx.Model(&domain.RateCounter{}).
			Select("hits").
			Where("bucket_key = ?", key).
			Scan(&hits).Error
	})
	return hits, err
}

// Expire sets the bucket to lapse after ttl. Missing keys are a no-op.
func (s *CounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.DB.WithContext(ctx).
		Model(&domain.RateCounter{}).
		Where("bucket_key = ?", key).
		Update("expires_at", s.now().Add(ttl)).Error
}

// PurgeExpiredCounters deletes lapsed buckets and returns how many were removed.
func PurgeExpiredCounters(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&domain.RateCounter{})
	return res.RowsAffected, res.Error
}
