package activitypub

import (
	"strings"

	"outpost/internal/domain"
	"outpost/internal/models"
)

// WebFingerContentType is the media type of a JRD document.
const WebFingerContentType = "application/jrd+json"

// WebFingerLink is one JRD link.
type WebFingerLink struct {
	Rel      string `json:"rel"`
	Type     string `json:"type,omitempty"`
	Href     string `json:"href,omitempty"`
	Template string `json:"template,omitempty"`
}

// WebFinger is the JRD document for an account.
type WebFinger struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebFingerLink `json:"links"`
}

// NewWebFinger describes an internal account.
func NewWebFinger(a *domain.Account) *WebFinger {
	wf := &WebFinger{
		Subject: "acct:" + a.Handle(),
		Aliases: []string{a.ApID.String()},
		Links: []WebFingerLink{
			{Rel: "self", Type: ContentType, Href: a.ApID.String()},
		},
	}
	if a.URL != "" {
		wf.Aliases = append(wf.Aliases, a.URL)
		wf.Links = append(wf.Links, WebFingerLink{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: a.URL})
	}
	return wf
}

// SelfLink returns the actor id advertised by the document.
func (w *WebFinger) SelfLink() (string, error) {
	for _, l := range w.Links {
		if l.Rel != "self" || !isAbsoluteURL(l.Href) {
			continue
		}
		if l.Type == ContentType || strings.HasPrefix(l.Type, "application/ld+json") {
			return l.Href, nil
		}
	}
	return "", models.NewNotFoundError("WebFinger self link", w.Subject)
}

// ParseResource splits "acct:user@host" into user and host.
func ParseResource(resource string) (string, string, error) {
	rest, ok := strings.CutPrefix(resource, "acct:")
	if !ok {
		return "", "", models.NewValidationError("resource must use the acct: scheme")
	}
	rest = strings.TrimPrefix(rest, "@")
	user, host, ok := strings.Cut(rest, "@")
	if !ok || user == "" || host == "" {
		return "", "", models.NewValidationError("resource must look like acct:user@host")
	}
	return user, strings.ToLower(host), nil
}
