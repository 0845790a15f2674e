package ghost

import (
	"time"

	"outpost/internal/models"
	"outpost/internal/validation"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Post is the subset of a Ghost post the node federates.
type Post struct {
	ID            string     `json:"id"`
	UUID          string     `json:"uuid" validate:"required,uuid"`
	Title         string     `json:"title" validate:"required,max=500"`
	HTML          string     `json:"html"`
	Excerpt       string     `json:"excerpt"`
	CustomExcerpt string     `json:"custom_excerpt"`
	FeatureImage  string     `json:"feature_image" validate:"omitempty,url"`
	URL           string     `json:"url" validate:"required,url"`
	Visibility    string     `json:"visibility"`
	Status        string     `json:"status"`
	PublishedAt   *time.Time `json:"published_at"`
}

// IsPublic reports whether the post is visible to everyone.
func (p Post) IsPublic() bool {
	return p.Visibility == "public"
}

// IsPublished reports whether Ghost considers the post live.
func (p Post) IsPublished() bool {
	return p.Status == "published"
}

// Summary prefers the author's custom excerpt.
func (p Post) Summary() string {
	if p.CustomExcerpt != "" {
		return p.CustomExcerpt
	}
	return p.Excerpt
}

// PostPayload is the body of post.published and post.updated.
type PostPayload struct {
	Post struct {
		Current Post `json:"current" validate:"required"`
	} `json:"post" validate:"required"`
}

// Site is the subset of Ghost site settings mirrored onto the site actor.
type Site struct {
	Title       string `json:"title" validate:"max=255"`
	Description string `json:"description" validate:"max=2000"`
	Icon        string `json:"icon" validate:"omitempty,url"`
	CoverImage  string `json:"cover_image" validate:"omitempty,url"`
}

// SitePayload is the body of site.changed.
type SitePayload struct {
	Site Site `json:"site" validate:"required"`
}

// DecodePost decodes and validates a post webhook body.
func DecodePost(body []byte) (*PostPayload, error) {
	var p PostPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, models.NewValidationError("invalid post payload")
	}
	if err := validation.Struct(p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeSite decodes and validates a site.changed body.
func DecodeSite(body []byte) (*SitePayload, error) {
	var p SitePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, models.NewValidationError("invalid site payload")
	}
	if err := validation.Struct(p); err != nil {
		return nil, err
	}
	return &p, nil
}
