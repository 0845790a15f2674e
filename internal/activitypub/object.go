package activitypub

import (
	"bytes"
	"time"

	"outpost/internal/models"

	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
)

// ObjectRef is the "object" of an activity: either a bare IRI or an embedded document.
type ObjectRef struct {
	IRI string

	raw   jsoniter.RawMessage
	value interface{}
	id    string
	typ   string
}

// IRIRef references an object by id.
func IRIRef(iri string) ObjectRef {
	return ObjectRef{IRI: iri, id: iri}
}

// Embed references an object by embedding it.
func Embed(v interface{}) ObjectRef {
	ref := ObjectRef{value: v}
	if raw, err := json.Marshal(v); err == nil {
		ref.raw = raw
		ref.id, ref.typ = peek(raw)
	}
	return ref
}

// ID returns the object's id whether referenced or embedded.
func (r ObjectRef) ID() string {
	return r.id
}

// Type returns the embedded object's type, or "" for a bare IRI.
func (r ObjectRef) Type() string {
	return r.typ
}

// IsEmbedded reports whether the object was sent inline.
func (r ObjectRef) IsEmbedded() bool {
	return len(r.raw) > 0
}

// IsZero reports whether no object was given.
func (r ObjectRef) IsZero() bool {
	return r.id == "" && len(r.raw) == 0
}

// Raw returns the embedded document.
func (r ObjectRef) Raw() []byte {
	return r.raw
}

// Activity decodes an embedded activity, as found in Undo and Accept.
func (r ObjectRef) Activity() (*Activity, error) {
	if !r.IsEmbedded() {
		return nil, models.NewValidationError("object is not an embedded activity")
	}
	var a Activity
	if err := json.Unmarshal(r.raw, &a); err != nil {
		return nil, models.NewValidationError("object is not a valid activity")
	}
	return &a, nil
}

// Post decodes an embedded Note or Article.
func (r ObjectRef) Post() (PostObject, error) {
	if !r.IsEmbedded() {
		return nil, models.NewValidationError("object is not embedded")
	}
	return DecodePostObject(r.raw)
}

// Actor decodes an embedded actor document.
func (r ObjectRef) Actor() (*Actor, error) {
	if !r.IsEmbedded() || !IsActorType(r.typ) {
		return nil, models.NewValidationError("object is not an embedded actor")
	}
	var a Actor
	if err := json.Unmarshal(r.raw, &a); err != nil {
		return nil, models.NewValidationError("object is not a valid actor")
	}
	return &a, nil
}

// MarshalJSON writes the IRI or the embedded document.
func (r ObjectRef) MarshalJSON() ([]byte, error) {
	switch {
	case r.value != nil:
		return json.Marshal(r.value)
	case len(r.raw) > 0:
		return r.raw, nil
	default:
		return json.Marshal(r.IRI)
	}
}

// UnmarshalJSON accepts a string IRI or an object with an id.
func (r *ObjectRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*r = ObjectRef{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		if err := json.Unmarshal(data, &r.IRI); err != nil {
			return err
		}
		r.id = r.IRI
		return nil
	case '{':
		r.raw = append(jsoniter.RawMessage(nil), data...)
		r.id, r.typ = peek(r.raw)
		return nil
	default:
		return models.NewValidationError("object must be an IRI or an embedded object")
	}
}

func peek(raw []byte) (id, typ string) {
	var head struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", ""
	}
	return head.ID, head.Type
}

// Tag is a Mention or Hashtag attached to a post.
type Tag struct {
	Type string `json:"type"`
	Href string `json:"href,omitempty"`
	Name string `json:"name,omitempty"`
}

// Link is an attachment such as an image.
type Link struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url"`
	Name      string `json:"name,omitempty"`
}

// Tombstone replaces a deleted object.
type Tombstone struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// PostObject is the tagged union of post variants: *Note or *Article.
type PostObject interface {
	Base() *ObjectBase
	postObject()
}

// ObjectBase holds the fields shared by every post variant.
type ObjectBase struct {
	Context      interface{} `json:"@context,omitempty"`
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	AttributedTo string      `json:"attributedTo"`
	Content      string      `json:"content"`
	Summary      string      `json:"summary,omitempty"`
	URL          string      `json:"url,omitempty"`
	InReplyTo    string      `json:"inReplyTo,omitempty"`
	Published    *time.Time  `json:"published,omitempty"`
	Updated      *time.Time  `json:"updated,omitempty"`
	To           Audience    `json:"to,omitempty"`
	Cc           Audience    `json:"cc,omitempty"`
	Tag          []Tag       `json:"tag,omitempty"`
	Attachment   []Link      `json:"attachment,omitempty"`
}

// Base returns the shared fields.
func (b *ObjectBase) Base() *ObjectBase { return b }

// Note is a short-form post.
type Note struct {
	ObjectBase
}

func (*Note) postObject() {}

// Article is a long-form post with a title.
type Article struct {
	ObjectBase
	Name  string `json:"name"`
	Image *Link  `json:"image,omitempty"`
}

func (*Article) postObject() {}

// DecodePostObject decodes raw into the variant named by its type.
func DecodePostObject(raw []byte) (PostObject, error) {
	_, typ := peek(raw)
	var obj PostObject
	switch typ {
	case TypeNote:
		obj = &Note{}
	case TypeArticle:
		obj = &Article{}
	default:
		return nil, models.NewValidationError("unsupported object type " + typ)
	}
	if err := json.Unmarshal(raw, obj); err != nil {
		return nil, models.NewValidationError("malformed " + typ)
	}
	if err := validatePostObject(obj.Base()); err != nil {
		return nil, err
	}
	return obj, nil
}

// Mentions returns the hrefs of Mention tags.
func (b *ObjectBase) Mentions() []string {
	hrefs := lo.FilterMap(b.Tag, func(t Tag, _ int) (string, bool) {
		return t.Href, t.Type == TypeMention && t.Href != ""
	})
	return lo.Uniq(hrefs)
}

// Addressed reports whether iri appears in to or cc.
func (b *ObjectBase) Addressed(iri string) bool {
	return iri != "" && (lo.Contains(b.To, iri) || lo.Contains(b.Cc, iri))
}

// AudienceFor derives the audience from the addressing, given the author's followers collection.
func (b *ObjectBase) AudienceFor(followersURL string) models.Audience {
	switch {
	case b.Addressed(PublicCollection) || b.Addressed("as:Public") || b.Addressed("Public"):
		return models.AudiencePublic
	case b.Addressed(followersURL):
		return models.AudienceFollowersOnly
	default:
		return models.AudienceDirect
	}
}

// Audience is a to/cc list. A single string is accepted when decoding.
type Audience []string

// UnmarshalJSON accepts a string or an array of strings.
func (a *Audience) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Audience{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return models.NewValidationError("addressing must be a string or a list of strings")
	}
	*a = list
	return nil
}
