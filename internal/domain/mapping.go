package domain

import (
	"fmt"
	"net/url"

	"outpost/internal/models"

	"gorm.io/datatypes"
)

// MappingError reports a row that cannot be turned into an entity.
type MappingError struct {
	Entity string
	ID     uint
	Field  string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s %d: %s %s", e.Entity, e.ID, e.Field, e.Reason)
}

// ParseActorURL parses an absolute http(s) URL.
func ParseActorURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("not an absolute http(s) url: %q", raw)
	}
	return u, nil
}

// AccountFromRow maps a row. internal is true when a local user owns the account,
// in which case a key pair is required.
func AccountFromRow(row *models.Account, internal bool) (*Account, error) {
	fail := func(field, reason string) error {
		return &MappingError{Entity: "account", ID: row.ID, Field: field, Reason: reason}
	}

	apID, err := ParseActorURL(row.ApID)
	if err != nil {
		return nil, fail("ap_id", "is not a valid url")
	}
	inbox, err := ParseActorURL(row.ApInboxURL)
	if err != nil {
		return nil, fail("ap_inbox_url", "is not a valid url")
	}
	var shared *url.URL
	if row.ApSharedInboxURL != "" {
		if shared, err = ParseActorURL(row.ApSharedInboxURL); err != nil {
			return nil, fail("ap_shared_inbox_url", "is not a valid url")
		}
	}
	if internal && (row.ApPublicKey == "" || row.ApPrivateKey == "") {
		return nil, fail("ap_private_key", "is required for internal accounts")
	}

	domain := row.Domain
	if domain == "" {
		domain = DomainOf(apID)
	}

	return &Account{
		ID:             row.ID,
		UUID:           row.UUID,
		Username:       row.Username,
		Name:           row.Name,
		Bio:            row.Bio,
		AvatarURL:      row.AvatarURL,
		BannerImageURL: row.BannerImageURL,
		URL:            row.URL,
		CustomFields:   map[string]any(row.CustomFields),
		ApID:           apID,
		Inbox:          inbox,
		SharedInbox:    shared,
		OutboxURL:      row.ApOutboxURL,
		FollowersURL:   row.ApFollowersURL,
		FollowingURL:   row.ApFollowingURL,
		LikedURL:       row.ApLikedURL,
		PublicKeyPEM:   row.ApPublicKey,
		PrivateKeyPEM:  row.ApPrivateKey,
		Domain:         domain,
		Internal:       internal,
		CreatedAt:      row.CreatedAt,
	}, nil
}

// AccountToRow maps the entity back to its row.
func AccountToRow(a *Account) *models.Account {
	row := &models.Account{
		ID:             a.ID,
		UUID:           a.UUID,
		Username:       a.Username,
		Name:           a.Name,
		Bio:            a.Bio,
		AvatarURL:      a.AvatarURL,
		BannerImageURL: a.BannerImageURL,
		URL:            a.URL,
		CustomFields:   datatypes.JSONMap(a.CustomFields),
		ApOutboxURL:    a.OutboxURL,
		ApFollowersURL: a.FollowersURL,
		ApFollowingURL: a.FollowingURL,
		ApLikedURL:     a.LikedURL,
		ApPublicKey:    a.PublicKeyPEM,
		ApPrivateKey:   a.PrivateKeyPEM,
		Domain:         a.Domain,
		CreatedAt:      a.CreatedAt,
	}
	if a.ApID != nil {
		row.ApID = a.ApID.String()
	}
	if a.Inbox != nil {
		row.ApInboxURL = a.Inbox.String()
	}
	if a.SharedInbox != nil {
		row.ApSharedInboxURL = a.SharedInbox.String()
	}
	return row
}

// PostFromRow maps a row whose author has already been mapped.
func PostFromRow(row *models.Post, author *Account, mentions []*Account) (*Post, error) {
	fail := func(field, reason string) error {
		return &MappingError{Entity: "post", ID: row.ID, Field: field, Reason: reason}
	}

	if author == nil || author.ID != row.AuthorID {
		return nil, fail("author_id", "does not match the loaded author")
	}
	apID, err := ParseActorURL(row.ApID)
	if err != nil {
		return nil, fail("ap_id", "is not a valid url")
	}
	if row.Type != models.PostTypeNote && row.Type != models.PostTypeArticle {
		return nil, fail("type", "is not a known post type")
	}

	return &Post{
		ID:          row.ID,
		UUID:        row.UUID,
		Type:        row.Type,
		Audience:    row.Audience,
		Author:      author,
		Title:       row.Title,
		Excerpt:     row.Excerpt,
		Summary:     row.Summary,
		Content:     row.Content,
		URL:         row.URL,
		ImageURL:    row.ImageURL,
		PublishedAt: row.PublishedAt,
		Attachments: []models.Attachment(row.Attachments),
		InReplyTo:   row.InReplyTo,
		ThreadRoot:  row.ThreadRoot,
		ApID:        apID,
		Mentions:    mentions,
		LikeCount:   row.LikeCount,
		RepostCount: row.RepostCount,
		ReplyCount:  row.ReplyCount,
		Deleted:     row.DeletedAt.Valid,
	}, nil
}

// PostToRow maps the entity back to its row. Counters are owned by the repository.
func PostToRow(p *Post) *models.Post {
	row := &models.Post{
		ID:          p.ID,
		UUID:        p.UUID,
		Type:        p.Type,
		Audience:    p.Audience,
		Title:       p.Title,
		Excerpt:     p.Excerpt,
		Summary:     p.Summary,
		Content:     p.Content,
		URL:         p.URL,
		ImageURL:    p.ImageURL,
		PublishedAt: p.PublishedAt,
		Attachments: datatypes.JSONSlice[models.Attachment](p.Attachments),
		InReplyTo:   p.InReplyTo,
		ThreadRoot:  p.ThreadRoot,
	}
	if p.Author != nil {
		row.AuthorID = p.Author.ID
	}
	if p.ApID != nil {
		row.ApID = p.ApID.String()
	}
	return row
}
