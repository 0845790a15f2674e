package domain

import (
	"errors"
	"net/url"
	"time"

	"outpost/internal/events"
	"outpost/internal/models"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ErrNotAuthor is returned when an account other than the author tries to change a post.
var ErrNotAuthor = errors.New("only the author can modify this post")

// Post is a note or article by a local or remote author.
type Post struct {
	ID          uint
	UUID        string
	Type        models.PostType
	Audience    models.Audience
	Author      *Account
	Title       string
	Excerpt     string
	Summary     string
	Content     string
	URL         string
	ImageURL    string
	PublishedAt time.Time
	Attachments []models.Attachment
	InReplyTo   *uint
	ThreadRoot  *uint
	ApID        *url.URL
	Mentions    []*Account
	LikeCount   int
	RepostCount int
	ReplyCount  int
	Deleted     bool

	// ReplyToAuthorID is the author of the post being replied to, if known.
	ReplyToAuthorID uint

	created bool
	changes []Change
}

// PostInput describes a post about to be created.
type PostInput struct {
	Type        models.PostType
	Audience    models.Audience
	Title       string
	Excerpt     string
	Summary     string
	Content     string
	URL         string
	ImageURL    string
	PublishedAt time.Time
	Attachments []models.Attachment
	ApID        *url.URL
	UUID        string
	Mentions    []*Account
}

// NewPost builds an unsaved post. For internal authors ApID may be nil; the
// repository assigns one from the author's host and the post uuid.
func NewPost(author *Account, in PostInput) *Post {
	id := in.UUID
	if id == "" {
		id = uuid.NewString()
	}
	published := in.PublishedAt
	if published.IsZero() {
		published = time.Now().UTC()
	}
	return &Post{
		UUID:        id,
		Type:        in.Type,
		Audience:    in.Audience,
		Author:      author,
		Title:       in.Title,
		Excerpt:     in.Excerpt,
		Summary:     in.Summary,
		Content:     in.Content,
		URL:         in.URL,
		ImageURL:    in.ImageURL,
		PublishedAt: published,
		Attachments: in.Attachments,
		ApID:        in.ApID,
		Mentions:    uniqueMentions(author, in.Mentions),
		created:     true,
	}
}

// NewReply builds an unsaved note replying to parent. The parent's author is mentioned.
func NewReply(author *Account, parent *Post, in PostInput) *Post {
	if in.Audience == models.AudiencePublic && parent.Audience != models.AudiencePublic {
		in.Audience = parent.Audience
	}
	in.Mentions = append([]*Account{parent.Author}, in.Mentions...)
	p := NewPost(author, in)
	p.Type = models.PostTypeNote
	parentID := parent.ID
	p.InReplyTo = &parentID
	root := parent.ID
	if parent.ThreadRoot != nil {
		root = *parent.ThreadRoot
	}
	p.ThreadRoot = &root
	p.ReplyToAuthorID = parent.Author.ID
	return p
}

func uniqueMentions(author *Account, in []*Account) []*Account {
	filtered := lo.Filter(in, func(a *Account, _ int) bool {
		return a != nil && a.ID != author.ID
	})
	return lo.UniqBy(filtered, func(a *Account) uint { return a.ID })
}

// IsNew reports whether the post has not been persisted yet.
func (p *Post) IsNew() bool {
	return p.ID == 0
}

// IsReply reports whether the post replies to another post.
func (p *Post) IsReply() bool {
	return p.InReplyTo != nil
}

// MentionsAccount reports whether the post mentions account id.
func (p *Post) MentionsAccount(id uint) bool {
	return lo.ContainsBy(p.Mentions, func(a *Account) bool { return a.ID == id })
}

// Materializes reports whether the post belongs in feeds at all.
func (p *Post) Materializes() bool {
	return p.Audience == models.AudiencePublic || p.Audience == models.AudienceFollowersOnly
}

func (p *Post) record(c Change) {
	p.changes = append(p.changes, c)
}

// AddLike records account liking the post.
func (p *Post) AddLike(account *Account) {
	if account == nil || p.Deleted {
		return
	}
	p.record(Change{Kind: ChangeLike, TargetID: account.ID})
}

// RemoveLike records account withdrawing its like.
func (p *Post) RemoveLike(account *Account) {
	if account == nil || p.Deleted {
		return
	}
	p.record(Change{Kind: ChangeUnlike, TargetID: account.ID})
}

// AddRepost records account reposting the post.
func (p *Post) AddRepost(account *Account) {
	if account == nil || p.Deleted {
		return
	}
	p.record(Change{Kind: ChangeRepost, TargetID: account.ID})
}

// RemoveRepost records account undoing its repost.
func (p *Post) RemoveRepost(account *Account) {
	if account == nil || p.Deleted {
		return
	}
	p.record(Change{Kind: ChangeDerepost, TargetID: account.ID})
}

// Delete marks the post deleted. Deleting twice is a no-op.
func (p *Post) Delete(by *Account) error {
	if by == nil || p.Author == nil || by.ID != p.Author.ID {
		return ErrNotAuthor
	}
	if p.Deleted {
		return nil
	}
	p.Deleted = true
	p.record(Change{Kind: ChangeDelete})
	return nil
}

// PostUpdate carries editable post fields; nil leaves a field unchanged.
type PostUpdate struct {
	Title    *string
	Excerpt  *string
	Summary  *string
	Content  *string
	ImageURL *string
	URL      *string
}

// Update applies u by the author and reports whether anything changed.
func (p *Post) Update(by *Account, u PostUpdate) (bool, error) {
	if by == nil || p.Author == nil || by.ID != p.Author.ID {
		return false, ErrNotAuthor
	}
	if p.Deleted {
		return false, nil
	}
	changed := false
	set := func(dst *string, v *string) {
		if v != nil && *v != *dst {
			*dst = *v
			changed = true
		}
	}
	set(&p.Title, u.Title)
	set(&p.Excerpt, u.Excerpt)
	set(&p.Summary, u.Summary)
	set(&p.Content, u.Content)
	set(&p.ImageURL, u.ImageURL)
	set(&p.URL, u.URL)
	if changed {
		p.record(Change{Kind: ChangeContent})
	}
	return changed, nil
}

// Changes returns the pending writes without draining them.
func (p *Post) Changes() []Change {
	return append([]Change(nil), p.changes...)
}

// KeepChanges replaces the pending changes with applied, the ones that took
// effect when persisted. Only those raise events.
func (p *Post) KeepChanges(applied []Change) {
	p.changes = append([]Change(nil), applied...)
}

// PullEvents drains pending changes. A freshly persisted post yields
// PostCreatedEvent followed by one MentionCreatedEvent per mention.
func (p *Post) PullEvents() []events.Event {
	var authorID uint
	if p.Author != nil {
		authorID = p.Author.ID
	}

	var out []events.Event
	if p.created && !p.IsNew() {
		out = append(out, events.PostCreatedEvent{PostID: p.ID, AuthorID: authorID})
		for _, m := range p.Mentions {
			out = append(out, events.MentionCreatedEvent{PostID: p.ID, PostAuthorID: authorID, AccountID: m.ID})
		}
		p.created = false
	}

	for _, c := range p.changes {
		switch c.Kind {
		case ChangeLike:
			out = append(out, events.PostLikedEvent{PostID: p.ID, PostAuthorID: authorID, AccountID: c.TargetID})
		case ChangeUnlike:
			out = append(out, events.PostUnlikedEvent{PostID: p.ID, PostAuthorID: authorID, AccountID: c.TargetID})
		case ChangeRepost:
			out = append(out, events.PostRepostedEvent{PostID: p.ID, PostAuthorID: authorID, AccountID: c.TargetID})
		case ChangeDerepost:
			out = append(out, events.PostDerepostedEvent{PostID: p.ID, PostAuthorID: authorID, AccountID: c.TargetID})
		case ChangeDelete:
			out = append(out, events.PostDeletedEvent{PostID: p.ID, AuthorID: authorID})
		case ChangeContent:
			out = append(out, events.PostUpdatedEvent{PostID: p.ID, AuthorID: authorID})
		}
	}
	p.changes = nil
	return out
}
