package repository

import (
	"context"

	"outpost/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotificationRepository defines the interface for notification data operations
type NotificationRepository interface {
	Insert(ctx context.Context, n *models.Notification) (bool, error)
	List(ctx context.Context, userID, cursor uint, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID uint) (int64, error)
	MarkAllRead(ctx context.Context, userID uint) error
	DeleteFromAccount(ctx context.Context, userID, accountID uint) (int64, error)
	DeleteFromDomain(ctx context.Context, userID uint, domain string) (int64, error)
	DeleteForPost(ctx context.Context, postID uint) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

// Insert stores n unless a notification with the same dedup key exists. It reports whether a row was written.
func (r *notificationRepository) Insert(ctx context.Context, n *models.Notification) (bool, error) {
	if n.DedupKey == "" {
		n.DedupKey = models.NotificationDedupKey(n.UserID, n.EventType, n.AccountID, n.PostID)
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedup_key"}},
		DoNothing: true,
	}).Create(n)
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *notificationRepository) List(ctx context.Context, userID, cursor uint, limit int) ([]models.Notification, error) {
	var out []models.Notification
	q := r.db.WithContext(ctx).Preload("Account").Preload("Post").Where("user_id = ?", userID)
	if err := page(q, "id", cursor, limit).Find(&out).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return out, nil
}

func (r *notificationRepository) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID uint) error {
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *notificationRepository) DeleteFromAccount(ctx context.Context, userID, accountID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ? AND account_id = ?", userID, accountID).Delete(&models.Notification{})
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *notificationRepository) DeleteFromDomain(ctx context.Context, userID uint, domain string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND account_id IN (?)", userID,
			r.db.Model(&models.Account{}).Select("id").Where("domain = ?", domain)).
		Delete(&models.Notification{})
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteForPost removes notifications about postID or replying to it.
func (r *notificationRepository) DeleteForPost(ctx context.Context, postID uint) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("post_id = ? OR in_reply_to_post_id = ?", postID, postID).
		Delete(&models.Notification{})
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}
