package activitypub

import (
	"net/url"

	"outpost/internal/models"
)

// MaxBodyBytes bounds inbound documents.
const MaxBodyBytes = 1 << 20

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

// ValidateContext accepts a string, an object, or a list of strings and
// objects. Anything else (booleans, numbers, nested lists) is rejected.
func ValidateContext(ctx interface{}) error {
	switch v := ctx.(type) {
	case string, map[string]interface{}:
		return nil
	case []interface{}:
		if len(v) == 0 {
			return models.NewValidationError("@context must not be empty")
		}
		for _, item := range v {
			switch item.(type) {
			case string, map[string]interface{}:
			default:
				return models.NewValidationError("@context entries must be strings or objects")
			}
		}
		return nil
	case nil:
		return models.NewValidationError("@context is required")
	default:
		return models.NewValidationError("@context must be a string, an object or a list")
	}
}

// ParseActivity decodes and validates an inbound activity. Every failure is a
// VALIDATION_ERROR; nothing here touches storage.
func ParseActivity(body []byte) (*Activity, error) {
	if len(body) > MaxBodyBytes {
		return nil, models.NewValidationError("activity is too large")
	}
	var a Activity
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, models.NewValidationError("activity is not valid JSON-LD")
	}
	if err := ValidateContext(a.Context); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks the envelope and, for embedded objects, their shape.
func (a *Activity) Validate() error {
	if _, ok := activityTypes[a.Type]; !ok {
		return models.NewValidationError("unsupported activity type " + a.Type)
	}
	if !isAbsoluteURL(a.ID) {
		return models.NewValidationError("activity id must be an absolute URL")
	}
	if !isAbsoluteURL(a.Actor) {
		return models.NewValidationError("activity actor must be an absolute URL")
	}
	if a.Object.IsZero() {
		return models.NewValidationError("activity object is required")
	}
	if !isAbsoluteURL(a.Object.ID()) {
		return models.NewValidationError("activity object id must be an absolute URL")
	}

	switch a.Type {
	case TypeCreate:
		if !IsPostType(a.Object.Type()) {
			return models.NewValidationError("Create must embed a Note or an Article")
		}
		_, err := a.Object.Post()
		return err
	case TypeUndo, TypeAccept, TypeReject:
		if !a.Object.IsEmbedded() {
			return nil
		}
		inner, err := a.Object.Activity()
		if err != nil {
			return err
		}
		return inner.Validate()
	case TypeUpdate:
		if !a.Object.IsEmbedded() {
			return models.NewValidationError("Update must embed the updated object")
		}
		switch t := a.Object.Type(); {
		case IsActorType(t):
			actor, err := a.Object.Actor()
			if err != nil {
				return err
			}
			return actor.Validate()
		case IsPostType(t):
			_, err := a.Object.Post()
			return err
		default:
			return models.NewValidationError("unsupported Update object " + t)
		}
	}
	return nil
}

func validatePostObject(b *ObjectBase) error {
	if !isAbsoluteURL(b.ID) {
		return models.NewValidationError("object id must be an absolute URL")
	}
	if !isAbsoluteURL(b.AttributedTo) {
		return models.NewValidationError("attributedTo must be an absolute URL")
	}
	if b.InReplyTo != "" && !isAbsoluteURL(b.InReplyTo) {
		return models.NewValidationError("inReplyTo must be an absolute URL")
	}
	if b.URL != "" && !isAbsoluteURL(b.URL) {
		return models.NewValidationError("url must be an absolute URL")
	}
	for _, t := range b.Tag {
		if t.Type == TypeMention && !isAbsoluteURL(t.Href) {
			return models.NewValidationError("mention href must be an absolute URL")
		}
	}
	return nil
}
