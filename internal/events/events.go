// Package events defines the domain events raised by account and post
// mutations and the in-process bus that delivers them to reactors.
package events

// Name identifies an event variant on the bus and in its JSON envelope.
type Name string

const (
	AccountFollowed   Name = "account.followed"
	AccountUnfollowed Name = "account.unfollowed"
	AccountBlocked    Name = "account.blocked"
	AccountUnblocked  Name = "account.unblocked"
	DomainBlocked     Name = "domain.blocked"
	DomainUnblocked   Name = "domain.unblocked"
	AccountUpdated    Name = "account.updated"
	NotificationsRead Name = "notifications.read"
	PostCreated       Name = "post.created"
	PostUpdated       Name = "post.updated"
	PostDeleted       Name = "post.deleted"
	PostLiked         Name = "post.liked"
	PostUnliked       Name = "post.unliked"
	PostReposted      Name = "post.reposted"
	PostDereposted    Name = "post.dereposted"
	MentionCreated    Name = "mention.created"
)

// Event is implemented only by the types in this package.
type Event interface {
	EventName() Name
	sealed()
}

// AccountFollowedEvent: FollowerID started following AccountID.
type AccountFollowedEvent struct {
	AccountID  uint `json:"accountId"`
	FollowerID uint `json:"followerId"`
}

// AccountUnfollowedEvent: FollowerID stopped following AccountID.
type AccountUnfollowedEvent struct {
	AccountID  uint `json:"accountId"`
	FollowerID uint `json:"followerId"`
}

// AccountBlockedEvent: BlockerID blocked AccountID.
type AccountBlockedEvent struct {
	AccountID uint `json:"accountId"`
	BlockerID uint `json:"blockerId"`
}

// AccountUnblockedEvent: BlockerID lifted its block on AccountID.
type AccountUnblockedEvent struct {
	AccountID uint `json:"accountId"`
	BlockerID uint `json:"blockerId"`
}

// DomainBlockedEvent: BlockerID blocked every account on Domain.
type DomainBlockedEvent struct {
	Domain    string `json:"domain"`
	BlockerID uint   `json:"blockerId"`
}

// DomainUnblockedEvent: BlockerID lifted its block on Domain.
type DomainUnblockedEvent struct {
	Domain    string `json:"domain"`
	BlockerID uint   `json:"blockerId"`
}

// AccountUpdatedEvent is raised when at least one profile field changed.
type AccountUpdatedEvent struct {
	AccountID uint `json:"accountId"`
}

// NotificationsReadEvent: the owner of AccountID read all notifications.
type NotificationsReadEvent struct {
	AccountID uint `json:"accountId"`
}

type PostCreatedEvent struct {
	PostID   uint `json:"postId"`
	AuthorID uint `json:"authorId"`
}

type PostUpdatedEvent struct {
	PostID   uint `json:"postId"`
	AuthorID uint `json:"authorId"`
}

type PostDeletedEvent struct {
	PostID   uint `json:"postId"`
	AuthorID uint `json:"authorId"`
}

// PostLikedEvent: AccountID liked PostID, written by PostAuthorID.
type PostLikedEvent struct {
	PostID       uint `json:"postId"`
	PostAuthorID uint `json:"postAuthorId"`
	AccountID    uint `json:"accountId"`
}

type PostUnlikedEvent struct {
	PostID       uint `json:"postId"`
	PostAuthorID uint `json:"postAuthorId"`
	AccountID    uint `json:"accountId"`
}

// PostRepostedEvent: AccountID reposted PostID, written by PostAuthorID.
type PostRepostedEvent struct {
	PostID       uint `json:"postId"`
	PostAuthorID uint `json:"postAuthorId"`
	AccountID    uint `json:"accountId"`
}

type PostDerepostedEvent struct {
	PostID       uint `json:"postId"`
	PostAuthorID uint `json:"postAuthorId"`
	AccountID    uint `json:"accountId"`
}

// MentionCreatedEvent: PostID, written by PostAuthorID, mentions AccountID.
type MentionCreatedEvent struct {
	PostID       uint `json:"postId"`
	PostAuthorID uint `json:"postAuthorId"`
	AccountID    uint `json:"accountId"`
}

func (AccountFollowedEvent) EventName() Name   { return AccountFollowed }
func (AccountUnfollowedEvent) EventName() Name { return AccountUnfollowed }
func (AccountBlockedEvent) EventName() Name    { return AccountBlocked }
func (AccountUnblockedEvent) EventName() Name  { return AccountUnblocked }
func (DomainBlockedEvent) EventName() Name     { return DomainBlocked }
func (DomainUnblockedEvent) EventName() Name   { return DomainUnblocked }
func (AccountUpdatedEvent) EventName() Name    { return AccountUpdated }
func (NotificationsReadEvent) EventName() Name { return NotificationsRead }
func (PostCreatedEvent) EventName() Name       { return PostCreated }
func (PostUpdatedEvent) EventName() Name       { return PostUpdated }
func (PostDeletedEvent) EventName() Name       { return PostDeleted }
func (PostLikedEvent) EventName() Name         { return PostLiked }
func (PostUnlikedEvent) EventName() Name       { return PostUnliked }
func (PostRepostedEvent) EventName() Name      { return PostReposted }
func (PostDerepostedEvent) EventName() Name    { return PostDereposted }
func (MentionCreatedEvent) EventName() Name    { return MentionCreated }

func (AccountFollowedEvent) sealed()   {}
func (AccountUnfollowedEvent) sealed() {}
func (AccountBlockedEvent) sealed()    {}
func (AccountUnblockedEvent) sealed()  {}
func (DomainBlockedEvent) sealed()     {}
func (DomainUnblockedEvent) sealed()   {}
func (AccountUpdatedEvent) sealed()    {}
func (NotificationsReadEvent) sealed() {}
func (PostCreatedEvent) sealed()       {}
func (PostUpdatedEvent) sealed()       {}
func (PostDeletedEvent) sealed()       {}
func (PostLikedEvent) sealed()         {}
func (PostUnlikedEvent) sealed()       {}
func (PostRepostedEvent) sealed()      {}
func (PostDerepostedEvent) sealed()    {}
func (MentionCreatedEvent) sealed()    {}
