package models

import (
	"time"

	"gorm.io/datatypes"
)

// Outbox stores every activity produced by a local account.
type Outbox struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	UUID         string         `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	AccountID    uint           `gorm:"not null;index:idx_outboxes_account_published" json:"account_id"`
	PostID       *uint          `gorm:"index" json:"post_id,omitempty"`
	ActivityType string         `gorm:"type:varchar(32);not null" json:"activity_type"`
	ApID         string         `gorm:"uniqueIndex;not null" json:"ap_id"`
	ObjectID     string         `gorm:"index" json:"object_id"`
	Payload      datatypes.JSON `json:"payload"`
	PublishedAt  time.Time      `gorm:"index:idx_outboxes_account_published" json:"published_at"`
}

// TableName specifies the table name for GORM
func (Outbox) TableName() string {
	return "outboxes"
}

// KeyValue is a small expiring JSON store.
type KeyValue struct {
	Key       string         `gorm:"primaryKey;type:varchar(512)" json:"key"`
	Value     datatypes.JSON `json:"value"`
	ExpiresAt *time.Time     `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName specifies the table name for GORM
func (KeyValue) TableName() string {
	return "key_value"
}

// Topic groups accounts for discovery.
type Topic struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Slug      string    `gorm:"uniqueIndex;not null" json:"slug"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (Topic) TableName() string {
	return "topics"
}

// AccountTopic maps an account into a topic.
type AccountTopic struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	AccountID uint `gorm:"not null;uniqueIndex:idx_account_topics_pair" json:"account_id"`
	TopicID   uint `gorm:"not null;uniqueIndex:idx_account_topics_pair;index" json:"topic_id"`
}

// TableName specifies the table name for GORM
func (AccountTopic) TableName() string {
	return "account_topics"
}
