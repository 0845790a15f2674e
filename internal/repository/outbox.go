package repository

import (
	"context"

	"outpost/internal/models"

	"gorm.io/gorm"
)

// OutboxRepository stores activities produced by local accounts.
type OutboxRepository interface {
	Create(ctx context.Context, item *models.Outbox) error
	GetByApID(ctx context.Context, apID string) (*models.Outbox, error)
	FindLatest(ctx context.Context, accountID uint, activityType, objectID string) (*models.Outbox, error)
	List(ctx context.Context, accountID, cursor uint, limit int) ([]models.Outbox, error)
	Count(ctx context.Context, accountID uint) (int64, error)
}

type outboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Create(ctx context.Context, item *models.Outbox) error {
	return mapError(r.db.WithContext(ctx).Create(item).Error, "Outbox item", item.ApID)
}

func (r *outboxRepository) GetByApID(ctx context.Context, apID string) (*models.Outbox, error) {
	var item models.Outbox
	if err := r.db.WithContext(ctx).Where("ap_id = ?", apID).First(&item).Error; err != nil {
		return nil, mapError(err, "Outbox item", apID)
	}
	return &item, nil
}

// FindLatest returns the newest activity of activityType by accountID about objectID.
func (r *outboxRepository) FindLatest(ctx context.Context, accountID uint, activityType, objectID string) (*models.Outbox, error) {
	var item models.Outbox
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND activity_type = ? AND object_id = ?", accountID, activityType, objectID).
		Order("id DESC").
		First(&item).Error
	if err != nil {
		return nil, mapError(err, "Outbox item", activityType+" "+objectID)
	}
	return &item, nil
}

func (r *outboxRepository) List(ctx context.Context, accountID, cursor uint, limit int) ([]models.Outbox, error) {
	var out []models.Outbox
	q := r.db.WithContext(ctx).Where("account_id = ?", accountID)
	if err := page(q, "id", cursor, limit).Find(&out).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return out, nil
}

func (r *outboxRepository) Count(ctx context.Context, accountID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Outbox{}).Where("account_id = ?", accountID).Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}
