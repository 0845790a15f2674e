package activitypub

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"outpost/internal/domain"
	"outpost/internal/models"

	"github.com/samber/lo"
	"gorm.io/datatypes"
)

// PublicKey is the actor's signing key.
type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// Endpoints carries the shared inbox.
type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// PropertyValue is a profile metadata field.
type PropertyValue struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Actor is an actor document.
type Actor struct {
	Context                   interface{}     `json:"@context,omitempty"`
	ID                        string          `json:"id"`
	Type                      string          `json:"type"`
	PreferredUsername         string          `json:"preferredUsername"`
	Name                      string          `json:"name,omitempty"`
	Summary                   string          `json:"summary,omitempty"`
	URL                       string          `json:"url,omitempty"`
	Icon                      *Link           `json:"icon,omitempty"`
	Image                     *Link           `json:"image,omitempty"`
	Inbox                     string          `json:"inbox"`
	Outbox                    string          `json:"outbox,omitempty"`
	Followers                 string          `json:"followers,omitempty"`
	Following                 string          `json:"following,omitempty"`
	Liked                     string          `json:"liked,omitempty"`
	Endpoints                 *Endpoints      `json:"endpoints,omitempty"`
	PublicKey                 *PublicKey      `json:"publicKey,omitempty"`
	Attachment                []PropertyValue `json:"attachment,omitempty"`
	ManuallyApprovesFollowers bool            `json:"manuallyApprovesFollowers"`
	Discoverable              bool            `json:"discoverable"`
	Published                 *time.Time      `json:"published,omitempty"`
}

// KeyID is the id of the actor's main key.
func KeyID(a *domain.Account) string {
	return a.ApID.String() + "#main-key"
}

// NewActor serializes an internal account.
func NewActor(a *domain.Account) *Actor {
	id := a.ApID.String()
	published := a.CreatedAt.UTC()
	doc := &Actor{
		Context:                   DefaultContext(),
		ID:                        id,
		Type:                      "Person",
		PreferredUsername:         a.Username,
		Name:                      a.Name,
		Summary:                   a.Bio,
		URL:                       a.URL,
		Inbox:                     a.Inbox.String(),
		Outbox:                    a.OutboxURL,
		Followers:                 a.FollowersURL,
		Following:                 a.FollowingURL,
		Liked:                     a.LikedURL,
		ManuallyApprovesFollowers: false,
		Discoverable:              true,
		PublicKey: &PublicKey{
			ID:           KeyID(a),
			Owner:        id,
			PublicKeyPem: a.PublicKeyPEM,
		},
	}
	if !published.IsZero() {
		doc.Published = &published
	}
	if a.SharedInbox != nil {
		doc.Endpoints = &Endpoints{SharedInbox: a.SharedInbox.String()}
	}
	if a.AvatarURL != "" {
		doc.Icon = &Link{Type: TypeImage, URL: a.AvatarURL}
	}
	if a.BannerImageURL != "" {
		doc.Image = &Link{Type: TypeImage, URL: a.BannerImageURL}
	}
	names := lo.Keys(a.CustomFields)
	sort.Strings(names)
	for _, name := range names {
		if s, ok := a.CustomFields[name].(string); ok {
			doc.Attachment = append(doc.Attachment, PropertyValue{Type: "PropertyValue", Name: name, Value: s})
		}
	}
	return doc
}

// Validate checks the fields the node needs to talk to the actor.
func (a *Actor) Validate() error {
	if !IsActorType(a.Type) {
		return models.NewValidationError("unsupported actor type " + a.Type)
	}
	if !isAbsoluteURL(a.ID) {
		return models.NewValidationError("actor id must be an absolute URL")
	}
	if !isAbsoluteURL(a.Inbox) {
		return models.NewValidationError("actor inbox must be an absolute URL")
	}
	if a.Endpoints != nil && a.Endpoints.SharedInbox != "" && !isAbsoluteURL(a.Endpoints.SharedInbox) {
		return models.NewValidationError("actor shared inbox must be an absolute URL")
	}
	if a.PublicKey != nil && a.PublicKey.Owner != "" && a.PublicKey.Owner != a.ID {
		return models.NewValidationError("actor key belongs to another actor")
	}
	return nil
}

// ToRow maps a validated remote actor onto an account row.
func (a *Actor) ToRow() (*models.Account, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	id, _ := url.Parse(a.ID)
	row := &models.Account{
		Username:       a.PreferredUsername,
		Name:           a.Name,
		Bio:            a.Summary,
		URL:            a.URL,
		ApID:           a.ID,
		ApInboxURL:     a.Inbox,
		ApOutboxURL:    a.Outbox,
		ApFollowersURL: a.Followers,
		ApFollowingURL: a.Following,
		ApLikedURL:     a.Liked,
		Domain:         domain.DomainOf(id),
	}
	if row.Username == "" {
		row.Username = lastSegment(id)
	}
	if a.Endpoints != nil {
		row.ApSharedInboxURL = a.Endpoints.SharedInbox
	}
	if a.PublicKey != nil {
		row.ApPublicKey = a.PublicKey.PublicKeyPem
	}
	if a.Icon != nil {
		row.AvatarURL = a.Icon.URL
	}
	if a.Image != nil {
		row.BannerImageURL = a.Image.URL
	}
	if len(a.Attachment) > 0 {
		fields := datatypes.JSONMap{}
		for _, f := range a.Attachment {
			if f.Type == "PropertyValue" && f.Name != "" {
				fields[f.Name] = f.Value
			}
		}
		row.CustomFields = fields
	}
	return row, nil
}

// ProfileUpdate returns the profile fields of the document as a domain update.
func (a *Actor) ProfileUpdate() domain.ProfileUpdate {
	u := domain.ProfileUpdate{Name: &a.Name, Bio: &a.Summary}
	avatar, banner := "", ""
	if a.Icon != nil {
		avatar = a.Icon.URL
	}
	if a.Image != nil {
		banner = a.Image.URL
	}
	u.AvatarURL, u.BannerImageURL = &avatar, &banner
	if len(a.Attachment) > 0 {
		u.CustomFields = map[string]any{}
		for _, f := range a.Attachment {
			if f.Type == "PropertyValue" && f.Name != "" {
				u.CustomFields[f.Name] = f.Value
			}
		}
	}
	return u
}

func lastSegment(u *url.URL) string {
	path := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return strings.TrimPrefix(path, "@")
}
