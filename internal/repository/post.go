package repository

import (
	"context"
	"fmt"

	"outpost/internal/domain"
	"outpost/internal/events"
	"outpost/internal/models"
	"outpost/internal/observability"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostRepository defines the interface for post data operations
type PostRepository interface {
	GetByID(ctx context.Context, id uint) (*domain.Post, error)
	GetByIDUnscoped(ctx context.Context, id uint) (*domain.Post, error)
	GetByApID(ctx context.Context, apID string) (*domain.Post, error)
	GetByUUID(ctx context.Context, uuid string) (*domain.Post, error)
	GetRow(ctx context.Context, id uint) (*models.Post, error)
	Save(ctx context.Context, post *domain.Post) error
	ListLikedBy(ctx context.Context, accountID, cursor uint, limit int) ([]models.Like, error)
	CountLikedBy(ctx context.Context, accountID uint) (int64, error)
	CountLocalPosts(ctx context.Context) (int64, error)
}

// postRepository implements PostRepository
type postRepository struct {
	db       *gorm.DB
	bus      *events.Bus
	accounts AccountRepository
	logger   *observability.RepoLogger
}

// NewPostRepository creates a new post repository. Events raised by saved
// posts are published on bus after commit; bus may be nil.
func NewPostRepository(db *gorm.DB, bus *events.Bus, accounts AccountRepository) PostRepository {
	return &postRepository{db: db, bus: bus, accounts: accounts, logger: observability.NewRepoLogger("posts")}
}

func (r *postRepository) load(ctx context.Context, q *gorm.DB, key interface{}) (*domain.Post, error) {
	var row models.Post
	if err := q.First(&row).Error; err != nil {
		return nil, mapError(err, "Post", key)
	}
	return r.toEntity(ctx, &row)
}

func (r *postRepository) toEntity(ctx context.Context, row *models.Post) (*domain.Post, error) {
	author, err := r.accounts.GetByID(ctx, row.AuthorID)
	if err != nil {
		return nil, err
	}

	var mentionIDs []uint
	if err := r.db.WithContext(ctx).Model(&models.Mention{}).Where("post_id = ?", row.ID).Order("id").Pluck("account_id", &mentionIDs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	mentions, err := r.accounts.GetByIDs(ctx, mentionIDs)
	if err != nil {
		return nil, err
	}

	post, err := domain.PostFromRow(row, author, mentions)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if row.InReplyTo != nil {
		var parent models.Post
		if err := r.db.WithContext(ctx).Unscoped().Select("author_id").First(&parent, *row.InReplyTo).Error; err == nil {
			post.ReplyToAuthorID = parent.AuthorID
		}
	}
	return post, nil
}

func (r *postRepository) GetByID(ctx context.Context, id uint) (*domain.Post, error) {
	return r.load(ctx, r.db.WithContext(ctx).Where("id = ?", id), id)
}

// GetByIDUnscoped also returns deleted posts, so their tombstones can be federated.
func (r *postRepository) GetByIDUnscoped(ctx context.Context, id uint) (*domain.Post, error) {
	return r.load(ctx, r.db.WithContext(ctx).Unscoped().Where("id = ?", id), id)
}

func (r *postRepository) GetByApID(ctx context.Context, apID string) (*domain.Post, error) {
	return r.load(ctx, r.db.WithContext(ctx).Where("ap_id = ?", apID), apID)
}

func (r *postRepository) GetByUUID(ctx context.Context, uuid string) (*domain.Post, error) {
	return r.load(ctx, r.db.WithContext(ctx).Where("uuid = ?", uuid), uuid)
}

func (r *postRepository) GetRow(ctx context.Context, id uint) (*models.Post, error) {
	var row models.Post
	if err := r.db.WithContext(ctx).Preload("Author").First(&row, id).Error; err != nil {
		return nil, mapError(err, "Post", id)
	}
	return &row, nil
}

// Save inserts a new post or applies pending changes, in one transaction, then publishes events.
func (r *postRepository) Save(ctx context.Context, post *domain.Post) (err error) {
	defer observability.TrackQuery("save", "posts")()
	ctx, span := observability.TraceRepositoryMethod(ctx, "Save", "posts")
	defer func() { observability.EndSpan(span, err) }()

	if post.IsNew() {
		err = r.insert(ctx, post)
	} else {
		err = r.update(ctx, post)
	}
	if err != nil {
		r.logger.LogError(ctx, err, "save")
		return mapError(err, "Post", post.UUID)
	}

	evs := post.PullEvents()
	if r.bus != nil {
		r.bus.PublishAll(ctx, evs)
	}
	return nil
}

func (r *postRepository) insert(ctx context.Context, post *domain.Post) error {
	if post.ApID == nil && post.Author != nil && post.Author.ApID != nil {
		apID := *post.Author.ApID
		apID.Path = "/posts/" + post.UUID
		apID.RawQuery, apID.Fragment = "", ""
		post.ApID = &apID
	}
	row := domain.PostToRow(post)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		if len(post.Mentions) > 0 {
			mentions := lo.Map(post.Mentions, func(a *domain.Account, _ int) models.Mention {
				return models.Mention{PostID: row.ID, AccountID: a.ID}
			})
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&mentions).Error; err != nil {
				return err
			}
		}
		if row.InReplyTo != nil {
			return recountReplies(tx, *row.InReplyTo)
		}
		return nil
	})
	if err != nil {
		return err
	}

	post.ID = row.ID
	r.logger.LogCreate(ctx, map[string]interface{}{"post_id": row.ID, "author_id": row.AuthorID})
	return nil
}

func (r *postRepository) update(ctx context.Context, post *domain.Post) error {
	changes := post.Changes()
	if len(changes) == 0 {
		return nil
	}
	var applied []domain.Change
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied = applied[:0]
		for _, c := range changes {
			ok, err := applyPostChange(tx, post, c)
			if err != nil {
				return err
			}
			if ok {
				applied = append(applied, c)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, c := range applied {
		switch c.Kind {
		case domain.ChangeDelete:
			r.logger.LogDelete(ctx, map[string]interface{}{"post_id": post.ID})
		case domain.ChangeContent:
			r.logger.LogUpdate(ctx, map[string]interface{}{"post_id": post.ID})
		}
	}
	post.KeepChanges(applied)
	return nil
}

// applyPostChange writes c and reports whether it changed any row. Likes and
// reposts that already exist (or are already gone) report false.
func applyPostChange(tx *gorm.DB, p *domain.Post, c domain.Change) (bool, error) {
	doNothing := clause.OnConflict{DoNothing: true}
	switch c.Kind {
	case domain.ChangeLike:
		res := tx.Clauses(doNothing).Create(&models.Like{AccountID: c.TargetID, PostID: p.ID})
		return interaction(res, func() error { return recountLikes(tx, p) })
	case domain.ChangeUnlike:
		res := tx.Where("account_id = ? AND post_id = ?", c.TargetID, p.ID).Delete(&models.Like{})
		return interaction(res, func() error { return recountLikes(tx, p) })
	case domain.ChangeRepost:
		res := tx.Clauses(doNothing).Create(&models.Repost{AccountID: c.TargetID, PostID: p.ID})
		return interaction(res, func() error { return recountReposts(tx, p) })
	case domain.ChangeDerepost:
		res := tx.Where("account_id = ? AND post_id = ?", c.TargetID, p.ID).Delete(&models.Repost{})
		return interaction(res, func() error { return recountReposts(tx, p) })
	case domain.ChangeDelete:
		if err := tx.Delete(&models.Post{}, p.ID).Error; err != nil {
			return false, err
		}
		if p.InReplyTo != nil {
			return true, recountReplies(tx, *p.InReplyTo)
		}
		return true, nil
	case domain.ChangeContent:
		row := domain.PostToRow(p)
		err := tx.Model(&models.Post{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
			"title":     row.Title,
			"excerpt":   row.Excerpt,
			"summary":   row.Summary,
			"content":   row.Content,
			"image_url": row.ImageURL,
			"url":       row.URL,
		}).Error
		return err == nil, err
	default:
		return false, fmt.Errorf("unsupported post change %d", c.Kind)
	}
}

func interaction(res *gorm.DB, recount func() error) (bool, error) {
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, recount()
}

// Counters are recomputed from rows so replays cannot drift them.
func recountLikes(tx *gorm.DB, p *domain.Post) error {
	var count int64
	if err := tx.Model(&models.Like{}).Where("post_id = ?", p.ID).Count(&count).Error; err != nil {
		return err
	}
	p.LikeCount = int(count)
	return tx.Model(&models.Post{}).Where("id = ?", p.ID).Update("like_count", count).Error
}

func recountReposts(tx *gorm.DB, p *domain.Post) error {
	var count int64
	if err := tx.Model(&models.Repost{}).Where("post_id = ?", p.ID).Count(&count).Error; err != nil {
		return err
	}
	p.RepostCount = int(count)
	return tx.Model(&models.Post{}).Where("id = ?", p.ID).Update("repost_count", count).Error
}

func recountReplies(tx *gorm.DB, parentID uint) error {
	var count int64
	if err := tx.Model(&models.Post{}).Where("in_reply_to = ?", parentID).Count(&count).Error; err != nil {
		return err
	}
	return tx.Model(&models.Post{}).Where("id = ?", parentID).Update("reply_count", count).Error
}

func (r *postRepository) ListLikedBy(ctx context.Context, accountID, cursor uint, limit int) ([]models.Like, error) {
	var likes []models.Like
	q := r.db.WithContext(ctx).Preload("Post").Where("account_id = ?", accountID)
	if err := page(q, "id", cursor, limit).Find(&likes).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return likes, nil
}

func (r *postRepository) CountLikedBy(ctx context.Context, accountID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Like{}).Where("account_id = ?", accountID).Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

func (r *postRepository) CountLocalPosts(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Post{}).
		Joins("JOIN users ON users.account_id = posts.author_id").
		Count(&count).Error
	if err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}
