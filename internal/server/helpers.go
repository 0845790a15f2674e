package server

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"outpost/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// Page holds a parsed keyset cursor and limit.
type Page struct {
	Cursor uint
	Limit  int
}

const maxPaginationLimit = 100

// parsePage extracts the cursor and limit query parameters with the given default limit.
func parsePage(c *fiber.Ctx, defaultLimit int) Page {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxPaginationLimit {
		limit = maxPaginationLimit
	}

	var cursor uint
	if raw := c.Query("cursor"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
			cursor = uint(v)
		}
	}
	return Page{Cursor: cursor, Limit: limit}
}

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// The error message is derived from the parameter name (e.g. "id" -> "Invalid ID",
// "accountId" -> "Invalid account ID").
func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// humanizeParam converts a route param name into a human-readable label.
// Examples: "id" -> "ID", "postId" -> "post ID", "accountId" -> "account ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		words := splitCamel(param[:len(param)-2])
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

// splitCamel splits a camelCase string into words.
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	words = append(words, s[start:])
	return words
}

// pathParam returns a route parameter with percent-escapes decoded.
func pathParam(c *fiber.Ctx, name string) string {
	raw := c.Params(name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// currentUserID returns the authenticated user id set by AuthRequired.
func currentUserID(c *fiber.Ctx) (uint, error) {
	id, ok := c.Locals("userID").(uint)
	if !ok || id == 0 {
		_ = models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Not authenticated"))
		return 0, errResponseWritten
	}
	return id, nil
}

// host returns the lower-cased request host, which selects the site.
func host(c *fiber.Ctx) string {
	return strings.ToLower(c.Hostname())
}

// localIRI builds an absolute IRI on the request host.
func localIRI(c *fiber.Ctx, path string) string {
	return "https://" + host(c) + path
}

// respondActivityJSON writes v with the ActivityStreams media type.
func respondActivityJSON(c *fiber.Ctx, contentType string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return models.RespondWithAppError(c, models.NewInternalError(err))
	}
	c.Set(fiber.HeaderContentType, contentType)
	return c.Status(fiber.StatusOK).Send(body)
}

// respondError writes err, hiding internal details.
func respondError(c *fiber.Ctx, err error) error {
	return models.RespondWithAppError(c, err)
}
