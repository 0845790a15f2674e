package repository

import (
	"context"

	"outpost/internal/models"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TopicMembers is the desired membership of one topic.
type TopicMembers struct {
	Slug       string
	Name       string
	AccountIDs []uint
}

// ReconcileStats summarizes what a reconciliation changed.
type ReconcileStats struct {
	TopicsUpserted  int
	MappingsAdded   int64
	MappingsRemoved int64
}

// TopicRepository defines the interface for topic data operations
type TopicRepository interface {
	Reconcile(ctx context.Context, desired []TopicMembers) (ReconcileStats, error)
	List(ctx context.Context) ([]models.Topic, error)
	AccountIDs(ctx context.Context, slug string) ([]uint, error)
}

type topicRepository struct {
	db *gorm.DB
}

// NewTopicRepository creates a new topic repository
func NewTopicRepository(db *gorm.DB) TopicRepository {
	return &topicRepository{db: db}
}

// Reconcile makes the stored topics match desired in one transaction. Topics
// missing from desired keep their row but lose every mapping.
func (r *topicRepository) Reconcile(ctx context.Context, desired []TopicMembers) (ReconcileStats, error) {
	var stats ReconcileStats
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keepTopicIDs := make([]uint, 0, len(desired))
		for _, d := range desired {
			topic := models.Topic{Slug: d.Slug, Name: d.Name}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "slug"}},
				DoUpdates: clause.AssignmentColumns([]string{"name"}),
			}).Create(&topic).Error; err != nil {
				return err
			}
			// The upsert does not return the id on every driver when it updates.
			if err := tx.Where("slug = ?", d.Slug).First(&topic).Error; err != nil {
				return err
			}
			stats.TopicsUpserted++
			keepTopicIDs = append(keepTopicIDs, topic.ID)

			ids := lo.Uniq(d.AccountIDs)
			if len(ids) > 0 {
				rows := lo.Map(ids, func(id uint, _ int) models.AccountTopic {
					return models.AccountTopic{AccountID: id, TopicID: topic.ID}
				})
				res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
				if res.Error != nil {
					return res.Error
				}
				stats.MappingsAdded += res.RowsAffected
			}

			stale := tx.Where("topic_id = ?", topic.ID)
			if len(ids) > 0 {
				stale = stale.Where("account_id NOT IN ?", ids)
			}
			res := stale.Delete(&models.AccountTopic{})
			if res.Error != nil {
				return res.Error
			}
			stats.MappingsRemoved += res.RowsAffected
		}

		orphaned := tx.Model(&models.AccountTopic{})
		if len(keepTopicIDs) > 0 {
			orphaned = orphaned.Where("topic_id NOT IN ?", keepTopicIDs)
		} else {
			orphaned = orphaned.Where("1 = 1")
		}
		res := orphaned.Delete(&models.AccountTopic{})
		if res.Error != nil {
			return res.Error
		}
		stats.MappingsRemoved += res.RowsAffected
		return nil
	})
	if err != nil {
		return ReconcileStats{}, models.NewInternalError(err)
	}
	return stats, nil
}

func (r *topicRepository) List(ctx context.Context) ([]models.Topic, error) {
	var topics []models.Topic
	if err := r.db.WithContext(ctx).Order("slug").Find(&topics).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return topics, nil
}

func (r *topicRepository) AccountIDs(ctx context.Context, slug string) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.AccountTopic{}).
		Joins("JOIN topics ON topics.id = account_topics.topic_id").
		Where("topics.slug = ?", slug).
		Order("account_topics.account_id").
		Pluck("account_topics.account_id", &ids).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}
