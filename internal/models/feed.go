package models

import "time"

// Feed is a materialized feed row. RepostedByID is zero for the original post entry.
type Feed struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;uniqueIndex:idx_feeds_user_post_repost;index:idx_feeds_user_published" json:"user_id"`
	PostID       uint      `gorm:"not null;uniqueIndex:idx_feeds_user_post_repost;index" json:"post_id"`
	RepostedByID uint      `gorm:"not null;default:0;uniqueIndex:idx_feeds_user_post_repost;index" json:"reposted_by_id"`
	AuthorID     uint      `gorm:"not null;index" json:"author_id"`
	PostType     PostType  `gorm:"not null" json:"post_type"`
	Audience     Audience  `gorm:"not null" json:"audience"`
	PublishedAt  time.Time `gorm:"index:idx_feeds_user_published" json:"published_at"`
	CreatedAt    time.Time `json:"created_at"`

	Post *Post `gorm:"foreignKey:PostID" json:"post,omitempty"`
}

// TableName specifies the table name for GORM
func (Feed) TableName() string {
	return "feeds"
}

// IsRepost reports whether the entry was materialized through a repost.
func (f Feed) IsRepost() bool {
	return f.RepostedByID != 0
}
