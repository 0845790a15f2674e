package models

import "time"

// Follow is a directed follow edge. Self-follows are never stored.
type Follow struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	FollowerID  uint      `gorm:"not null;uniqueIndex:idx_follows_pair" json:"follower_id"`
	FollowingID uint      `gorm:"not null;uniqueIndex:idx_follows_pair;index" json:"following_id"`
	CreatedAt   time.Time `json:"created_at"`

	Follower  *Account `gorm:"foreignKey:FollowerID" json:"follower,omitempty"`
	Following *Account `gorm:"foreignKey:FollowingID" json:"following,omitempty"`
}

// TableName specifies the table name for GORM
func (Follow) TableName() string {
	return "follows"
}

// Block is a directed account block.
type Block struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BlockerID uint      `gorm:"not null;uniqueIndex:idx_blocks_pair" json:"blocker_id"`
	BlockedID uint      `gorm:"not null;uniqueIndex:idx_blocks_pair;index" json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (Block) TableName() string {
	return "blocks"
}

// DomainBlock hides every account of a domain from the blocker.
type DomainBlock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BlockerID uint      `gorm:"not null;uniqueIndex:idx_domain_blocks_pair" json:"blocker_id"`
	Domain    string    `gorm:"not null;uniqueIndex:idx_domain_blocks_pair;index" json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (DomainBlock) TableName() string {
	return "domain_blocks"
}
