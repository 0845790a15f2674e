// Package validation checks client and webhook input before it reaches a service.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"outpost/internal/models"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("handle", func(fl validator.FieldLevel) bool {
			_, _, err := SplitHandle(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Struct validates v by its `validate` tags and returns a VALIDATION_ERROR
// naming the first failing field.
func Struct(v interface{}) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return models.NewValidationError(fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
	}
	return models.NewValidationError(err.Error())
}

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]([a-zA-Z0-9_.-]{0,62}[a-zA-Z0-9_])?$`)

// SplitHandle parses user@host (an optional leading @ is allowed).
func SplitHandle(handle string) (string, string, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	user, host, ok := strings.Cut(handle, "@")
	if !ok || user == "" || host == "" || strings.ContainsAny(host, "/@ ") {
		return "", "", models.NewValidationError("handle must look like user@host")
	}
	if !usernameRegex.MatchString(user) {
		return "", "", models.NewValidationError("handle has an invalid username")
	}
	return user, strings.ToLower(host), nil
}

var topicSlugRegex = regexp.MustCompile(`^[a-z0-9-]{2,48}$`)

var reservedTopicSlugs = map[string]struct{}{
	"api":       {},
	"inbox":     {},
	"outbox":    {},
	"users":     {},
	"posts":     {},
	"followers": {},
	"following": {},
	"liked":     {},
	"webhooks":  {},
	"health":    {},
	"metrics":   {},
	"nodeinfo":  {},
}

// ValidateTopicSlug validates topic slug format and reserved names.
func ValidateTopicSlug(slug string) error {
	if !topicSlugRegex.MatchString(slug) {
		return fmt.Errorf("slug must be 2-48 characters and contain only lowercase letters, numbers, and hyphens")
	}
	if strings.HasPrefix(slug, "-") || strings.HasSuffix(slug, "-") {
		return fmt.Errorf("slug cannot start or end with a hyphen")
	}
	if _, exists := reservedTopicSlugs[slug]; exists {
		return fmt.Errorf("slug is reserved")
	}
	return nil
}
