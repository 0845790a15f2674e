package repository

import (
	"context"

	"outpost/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FeedRepository defines the interface for materialized feed rows
type FeedRepository interface {
	InsertMany(ctx context.Context, rows []models.Feed) (int64, error)
	List(ctx context.Context, userID uint, postType *models.PostType, cursor uint, limit int) ([]models.Feed, error)
	DeleteForPost(ctx context.Context, postID uint) (int64, error)
	DeleteRepost(ctx context.Context, postID, repostedByID uint) (int64, error)
	DeleteForUserByAccount(ctx context.Context, userID, accountID uint) (int64, error)
	DeleteFollowedForUser(ctx context.Context, userID, accountID uint) (int64, error)
	DeleteForUserByDomain(ctx context.Context, userID uint, domain string) (int64, error)
}

type feedRepository struct {
	db *gorm.DB
}

// NewFeedRepository creates a new feed repository
func NewFeedRepository(db *gorm.DB) FeedRepository {
	return &feedRepository{db: db}
}

// InsertMany writes rows, skipping any (user, post, reposted_by) that already exists.
func (r *feedRepository) InsertMany(ctx context.Context, rows []models.Feed) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, 500)
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *feedRepository) List(ctx context.Context, userID uint, postType *models.PostType, cursor uint, limit int) ([]models.Feed, error) {
	var out []models.Feed
	q := r.db.WithContext(ctx).Preload("Post").Preload("Post.Author").Where("user_id = ?", userID)
	if postType != nil {
		q = q.Where("post_type = ?", *postType)
	}
	if err := page(q, "id", cursor, limit).Find(&out).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return out, nil
}

func (r *feedRepository) DeleteForPost(ctx context.Context, postID uint) (int64, error) {
	return r.delete(r.db.WithContext(ctx).Where("post_id = ?", postID))
}

func (r *feedRepository) DeleteRepost(ctx context.Context, postID, repostedByID uint) (int64, error) {
	return r.delete(r.db.WithContext(ctx).Where("post_id = ? AND reposted_by_id = ?", postID, repostedByID))
}

// DeleteForUserByAccount drops rows in userID's feed authored or reposted by accountID.
func (r *feedRepository) DeleteForUserByAccount(ctx context.Context, userID, accountID uint) (int64, error) {
	return r.delete(r.db.WithContext(ctx).
		Where("user_id = ? AND (author_id = ? OR reposted_by_id = ?)", userID, accountID, accountID))
}

// DeleteFollowedForUser drops what userID saw through following accountID:
// its own posts and its reposts. Reposts of its posts by others stay.
func (r *feedRepository) DeleteFollowedForUser(ctx context.Context, userID, accountID uint) (int64, error) {
	return r.delete(r.db.WithContext(ctx).
		Where("user_id = ? AND ((author_id = ? AND reposted_by_id = 0) OR reposted_by_id = ?)", userID, accountID, accountID))
}

// DeleteForUserByDomain drops rows in userID's feed authored or reposted by accounts on domain.
func (r *feedRepository) DeleteForUserByDomain(ctx context.Context, userID uint, domain string) (int64, error) {
	onDomain := r.db.Model(&models.Account{}).Select("id").Where("domain = ?", domain)
	return r.delete(r.db.WithContext(ctx).
		Where("user_id = ? AND (author_id IN (?) OR reposted_by_id IN (?))", userID, onDomain, onDomain))
}

func (r *feedRepository) delete(q *gorm.DB) (int64, error) {
	res := q.Delete(&models.Feed{})
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}
