package activitypub

import (
	"time"

	"outpost/internal/domain"
	"outpost/internal/models"

	"github.com/samber/lo"
)

// ActivityID builds the id of a new activity by actor.
func ActivityID(actor *domain.Account, uuid string) string {
	u := *actor.ApID
	u.Path = "/activities/" + uuid
	u.RawQuery, u.Fragment = "", ""
	return u.String()
}

// addressing returns to and cc for a post's audience.
func addressing(p *domain.Post) (to, cc Audience) {
	mentions := lo.Map(p.Mentions, func(a *domain.Account, _ int) string { return a.ApID.String() })
	followers := p.Author.FollowersURL
	switch p.Audience {
	case models.AudiencePublic:
		to = Audience{PublicCollection}
		cc = append(Audience{followers}, mentions...)
	case models.AudienceFollowersOnly:
		to = Audience{followers}
		cc = mentions
	default:
		to = mentions
	}
	return to, cc
}

// NewPostObject serializes p as its variant. inReplyTo is the parent's id, if any.
func NewPostObject(p *domain.Post, inReplyTo string) PostObject {
	to, cc := addressing(p)
	published := p.PublishedAt.UTC()
	base := ObjectBase{
		ID:           p.ApID.String(),
		AttributedTo: p.Author.ApID.String(),
		Content:      p.Content,
		Summary:      p.Excerpt,
		URL:          p.URL,
		InReplyTo:    inReplyTo,
		Published:    &published,
		To:           to,
		Cc:           cc,
	}
	if base.URL == "" {
		base.URL = base.ID
	}
	for _, m := range p.Mentions {
		base.Tag = append(base.Tag, Tag{Type: TypeMention, Href: m.ApID.String(), Name: "@" + m.Handle()})
	}
	for _, att := range p.Attachments {
		base.Attachment = append(base.Attachment, Link{Type: lo.Ternary(att.Type == "", TypeDocument, att.Type), MediaType: att.MediaType, URL: att.URL, Name: att.Name})
	}

	if p.Type == models.PostTypeArticle {
		base.Type = TypeArticle
		a := &Article{ObjectBase: base, Name: p.Title}
		if p.ImageURL != "" {
			a.Image = &Link{Type: TypeImage, URL: p.ImageURL}
		}
		return a
	}
	base.Type = TypeNote
	return &Note{ObjectBase: base}
}

// Document wraps a post object with a @context for standalone serving.
func Document(obj PostObject) PostObject {
	obj.Base().Context = DefaultContext()
	return obj
}

func envelope(id, typ string, actor *domain.Account, object ObjectRef, to, cc Audience) *Activity {
	now := time.Now().UTC()
	return &Activity{
		Context:   DefaultContext(),
		ID:        id,
		Type:      typ,
		Actor:     actor.ApID.String(),
		Object:    object,
		To:        to,
		Cc:        cc,
		Published: &now,
	}
}

// NewCreate wraps a new post.
func NewCreate(id string, p *domain.Post, inReplyTo string) *Activity {
	obj := NewPostObject(p, inReplyTo)
	b := obj.Base()
	return envelope(id, TypeCreate, p.Author, Embed(obj), b.To, b.Cc)
}

// NewUpdatePost wraps an edited post.
func NewUpdatePost(id string, p *domain.Post, inReplyTo string) *Activity {
	obj := NewPostObject(p, inReplyTo)
	now := time.Now().UTC()
	b := obj.Base()
	b.Updated = &now
	return envelope(id, TypeUpdate, p.Author, Embed(obj), b.To, b.Cc)
}

// NewUpdateActor announces a profile change.
func NewUpdateActor(id string, a *domain.Account) *Activity {
	doc := NewActor(a)
	doc.Context = nil
	return envelope(id, TypeUpdate, a, Embed(doc), Audience{PublicCollection}, Audience{a.FollowersURL})
}

// NewDelete replaces a post with a tombstone.
func NewDelete(id string, p *domain.Post) *Activity {
	to, cc := addressing(p)
	return envelope(id, TypeDelete, p.Author, Embed(Tombstone{ID: p.ApID.String(), Type: TypeTombstone}), to, cc)
}

// NewAnnounce reposts p as actor.
func NewAnnounce(id string, actor *domain.Account, p *domain.Post) *Activity {
	return envelope(id, TypeAnnounce, actor, IRIRef(p.ApID.String()),
		Audience{PublicCollection}, Audience{actor.FollowersURL, p.Author.ApID.String()})
}

// NewLike likes p as actor.
func NewLike(id string, actor *domain.Account, p *domain.Post) *Activity {
	return envelope(id, TypeLike, actor, IRIRef(p.ApID.String()), Audience{p.Author.ApID.String()}, nil)
}

// NewFollow asks target to accept actor as a follower.
func NewFollow(id string, actor, target *domain.Account) *Activity {
	return envelope(id, TypeFollow, actor, IRIRef(target.ApID.String()), Audience{target.ApID.String()}, nil)
}

// NewAccept accepts an inbound follow on behalf of actor.
func NewAccept(id string, actor *domain.Account, follow *Activity) *Activity {
	return answer(id, TypeAccept, actor, follow)
}

// NewReject refuses an inbound follow on behalf of actor.
func NewReject(id string, actor *domain.Account, follow *Activity) *Activity {
	return answer(id, TypeReject, actor, follow)
}

func answer(id, kind string, actor *domain.Account, follow *Activity) *Activity {
	inner := *follow
	inner.Context = nil
	return envelope(id, kind, actor, Embed(&inner), Audience{follow.Actor}, nil)
}

// NewUndo withdraws an earlier activity by the same actor.
func NewUndo(id string, actor *domain.Account, inner *Activity) *Activity {
	undone := *inner
	undone.Context = nil
	return envelope(id, TypeUndo, actor, Embed(&undone), inner.To, inner.Cc)
}
