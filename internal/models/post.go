package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PostType distinguishes long-form articles from short notes.
type PostType int

const (
	PostTypeNote    PostType = 0
	PostTypeArticle PostType = 1
)

// Audience controls who may see a post.
type Audience int

const (
	AudiencePublic        Audience = 0
	AudienceFollowersOnly Audience = 1
	AudienceDirect        Audience = 2
)

// Attachment is a media item attached to a post.
type Attachment struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Name      string `json:"name,omitempty"`
	URL       string `json:"url"`
}

// Post represents a local or remote post.
type Post struct {
	ID                 uint                            `gorm:"primaryKey" json:"id"`
	UUID               string                          `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	Type               PostType                        `gorm:"not null;default:0" json:"type"`
	Audience           Audience                        `gorm:"not null;default:0" json:"audience"`
	AuthorID           uint                            `gorm:"not null;index" json:"author_id"`
	Author             *Account                        `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Title              string                          `json:"title"`
	Excerpt            string                          `gorm:"type:text" json:"excerpt"`
	Summary            string                          `gorm:"type:text" json:"summary"`
	Content            string                          `gorm:"type:text" json:"content"`
	URL                string                          `json:"url"`
	ImageURL           string                          `json:"image_url"`
	PublishedAt        time.Time                       `gorm:"index" json:"published_at"`
	LikeCount          int                             `gorm:"not null;default:0" json:"like_count"`
	RepostCount        int                             `gorm:"not null;default:0" json:"repost_count"`
	ReplyCount         int                             `gorm:"not null;default:0" json:"reply_count"`
	ReadingTimeMinutes int                             `gorm:"not null;default:0" json:"reading_time_minutes"`
	Attachments        datatypes.JSONSlice[Attachment] `json:"attachments"`
	InReplyTo          *uint                           `gorm:"index" json:"in_reply_to,omitempty"`
	ThreadRoot         *uint                           `gorm:"index" json:"thread_root,omitempty"`
	ApID               string                          `gorm:"uniqueIndex;not null" json:"ap_id"`
	CreatedAt          time.Time                       `json:"created_at"`
	UpdatedAt          time.Time                       `json:"updated_at"`
	DeletedAt          gorm.DeletedAt                  `gorm:"index" json:"-"`
}

// TableName specifies the table name for GORM
func (Post) TableName() string {
	return "posts"
}

// Like is an account liking a post.
type Like struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID uint      `gorm:"not null;uniqueIndex:idx_likes_account_post" json:"account_id"`
	PostID    uint      `gorm:"not null;uniqueIndex:idx_likes_account_post;index" json:"post_id"`
	CreatedAt time.Time `json:"created_at"`

	Post *Post `gorm:"foreignKey:PostID" json:"post,omitempty"`
}

// TableName specifies the table name for GORM
func (Like) TableName() string {
	return "likes"
}

// Repost is an account announcing a post.
type Repost struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID uint      `gorm:"not null;uniqueIndex:idx_reposts_account_post" json:"account_id"`
	PostID    uint      `gorm:"not null;uniqueIndex:idx_reposts_account_post;index" json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (Repost) TableName() string {
	return "reposts"
}

// Mention records an account mentioned in a post.
type Mention struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	PostID    uint `gorm:"not null;uniqueIndex:idx_mentions_post_account" json:"post_id"`
	AccountID uint `gorm:"not null;uniqueIndex:idx_mentions_post_account;index" json:"account_id"`
}

// TableName specifies the table name for GORM
func (Mention) TableName() string {
	return "mentions"
}
