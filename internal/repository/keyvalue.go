package repository

import (
	"context"
	"errors"
	"time"

	"outpost/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeyValueRepository is a small expiring JSON store.
type KeyValueRepository interface {
	Get(ctx context.Context, key string) (datatypes.JSON, bool, error)
	Set(ctx context.Context, key string, value datatypes.JSON, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key string, value datatypes.JSON, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type keyValueRepository struct {
	db *gorm.DB
}

// NewKeyValueRepository creates a new key-value repository
func NewKeyValueRepository(db *gorm.DB) KeyValueRepository {
	return &keyValueRepository{db: db}
}

func expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().UTC().Add(ttl)
	return &t
}

// Get returns the value for key, ignoring expired entries.
func (r *keyValueRepository) Get(ctx context.Context, key string) (datatypes.JSON, bool, error) {
	var kv models.KeyValue
	err := r.db.WithContext(ctx).
		Where("key = ? AND (expires_at IS NULL OR expires_at > ?)", key, time.Now().UTC()).
		First(&kv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, models.NewInternalError(err)
	}
	return kv.Value, true, nil
}

func (r *keyValueRepository) Set(ctx context.Context, key string, value datatypes.JSON, ttl time.Duration) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&models.KeyValue{Key: key, Value: value, ExpiresAt: expiry(ttl)}).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// SetIfAbsent stores key only when no live entry exists and reports whether it did.
// An expired entry is replaced.
func (r *keyValueRepository) SetIfAbsent(ctx context.Context, key string, value datatypes.JSON, ttl time.Duration) (bool, error) {
	var inserted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, time.Now().UTC()).
			Delete(&models.KeyValue{}).Error; err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.KeyValue{Key: key, Value: value, ExpiresAt: expiry(ttl)})
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return inserted, nil
}

func (r *keyValueRepository) Delete(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).Where("key = ?", key).Delete(&models.KeyValue{}).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *keyValueRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", now).Delete(&models.KeyValue{})
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}
