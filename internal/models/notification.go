package models

import (
	"fmt"
	"time"
)

// NotificationType enumerates the interactions that notify a user.
type NotificationType int

const (
	NotificationLike    NotificationType = 1
	NotificationReply   NotificationType = 2
	NotificationRepost  NotificationType = 3
	NotificationFollow  NotificationType = 4
	NotificationMention NotificationType = 5
)

// String returns the wire name of the notification type.
func (t NotificationType) String() string {
	switch t {
	case NotificationLike:
		return "like"
	case NotificationReply:
		return "reply"
	case NotificationRepost:
		return "repost"
	case NotificationFollow:
		return "follow"
	case NotificationMention:
		return "mention"
	default:
		return "unknown"
	}
}

// Notification is a row in a local user's notification list.
type Notification struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	UserID          uint             `gorm:"not null;index:idx_notifications_user_created" json:"user_id"`
	AccountID       uint             `gorm:"not null;index" json:"account_id"`
	PostID          *uint            `gorm:"index" json:"post_id,omitempty"`
	InReplyToPostID *uint            `gorm:"index" json:"in_reply_to_post_id,omitempty"`
	EventType       NotificationType `gorm:"not null" json:"event_type"`
	Read            bool             `gorm:"not null;default:false" json:"read"`
	DedupKey        string           `gorm:"uniqueIndex;not null" json:"-"`
	CreatedAt       time.Time        `gorm:"index:idx_notifications_user_created" json:"created_at"`

	Account *Account `gorm:"foreignKey:AccountID" json:"account,omitempty"`
	Post    *Post    `gorm:"foreignKey:PostID" json:"post,omitempty"`
}

// TableName specifies the table name for GORM
func (Notification) TableName() string {
	return "notifications"
}

// NotificationDedupKey identifies a notification by recipient, type, source account and post.
func NotificationDedupKey(userID uint, eventType NotificationType, accountID uint, postID *uint) string {
	var pid uint
	if postID != nil {
		pid = *postID
	}
	return fmt.Sprintf("%d:%d:%d:%d", userID, eventType, accountID, pid)
}
