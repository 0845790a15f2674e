// Package models contains the persisted row types of the federation node.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// Account is a federated actor row. Internal accounts are backed by a User and
// always carry a key pair; external accounts are cached copies of remote actors.
type Account struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	UUID             string            `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	Username         string            `gorm:"not null" json:"username"`
	Name             string            `json:"name"`
	Bio              string            `gorm:"type:text" json:"bio"`
	AvatarURL        string            `json:"avatar_url"`
	BannerImageURL   string            `json:"banner_image_url"`
	URL              string            `json:"url"`
	CustomFields     datatypes.JSONMap `json:"custom_fields"`
	ApID             string            `gorm:"uniqueIndex;not null" json:"ap_id"`
	ApInboxURL       string            `gorm:"not null" json:"ap_inbox_url"`
	ApSharedInboxURL string            `json:"ap_shared_inbox_url"`
	ApOutboxURL      string            `json:"ap_outbox_url"`
	ApFollowersURL   string            `json:"ap_followers_url"`
	ApFollowingURL   string            `json:"ap_following_url"`
	ApLikedURL       string            `json:"ap_liked_url"`
	ApPublicKey      string            `gorm:"type:text" json:"-"`
	ApPrivateKey     string            `gorm:"type:text" json:"-"`
	Domain           string            `gorm:"index;not null" json:"domain"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Account) TableName() string {
	return "accounts"
}

// Site is a tenant: one publication served on one host.
type Site struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Host          string    `gorm:"uniqueIndex;not null" json:"host"`
	WebhookSecret string    `gorm:"not null" json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Site) TableName() string {
	return "sites"
}

// User binds a local login to its internal account on a site.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID uint      `gorm:"uniqueIndex;not null" json:"account_id"`
	SiteID    uint      `gorm:"index;not null" json:"site_id"`
	CreatedAt time.Time `json:"created_at"`

	Account *Account `gorm:"foreignKey:AccountID" json:"account,omitempty"`
	Site    *Site    `gorm:"foreignKey:SiteID" json:"site,omitempty"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}
