// Package middleware provides authentication and authorization middleware for the application.
package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"outpost/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Role is the access level a route requires.
type Role string

const (
	RolePublic Role = "public"
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

var (
	errMissingSubject = errors.New("Invalid token structure - missing subject")
	errSubjectType    = errors.New("Invalid token subject type")
	errSubjectValue   = errors.New("Invalid user ID in token")
)

// IssueToken signs an HS256 token for userID. Only RoleAdmin is written into
// the claims; every other role parses back as RoleUser.
func IssueToken(secret string, userID uint, role Role, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	if role == RoleAdmin {
		claims["role"] = string(RoleAdmin)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// parseToken validates an HS256 token and returns its user id and role.
func parseToken(tokenString string) (uint, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return 0, "", errors.New("Invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", errors.New("Invalid token claims")
	}

	subClaim, ok := claims["sub"]
	if !ok {
		return 0, "", errMissingSubject
	}
	subStr, ok := subClaim.(string)
	if !ok {
		return 0, "", errSubjectType
	}
	userID, err := strconv.ParseUint(subStr, 10, 32)
	if err != nil || userID == 0 {
		return 0, "", errSubjectValue
	}

	role := RoleUser
	if r, ok := claims["role"].(string); ok && r == string(RoleAdmin) {
		role = RoleAdmin
	}
	return uint(userID), role, nil
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("Authorization header required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("Invalid authorization header format")
	}
	return parts[1], nil
}

func unauthorized(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// AuthRequired is a middleware that enforces authentication for protected routes.
func AuthRequired(c *fiber.Ctx) error {
	tokenString, err := bearerToken(c)
	if err != nil {
		return unauthorized(c, err)
	}

	userID, role, err := parseToken(tokenString)
	if err != nil {
		return unauthorized(c, err)
	}

	c.Locals("userID", userID)
	c.Locals("role", role)
	return c.Next()
}

// WebSocketAuthRequired accepts the token from the "token" query parameter, falling back to the header.
func WebSocketAuthRequired(c *fiber.Ctx) error {
	tokenString := c.Query("token")
	if tokenString == "" {
		var err error
		if tokenString, err = bearerToken(c); err != nil {
			return unauthorized(c, err)
		}
	}

	userID, role, err := parseToken(tokenString)
	if err != nil {
		return unauthorized(c, err)
	}

	c.Locals("userID", userID)
	c.Locals("role", role)
	return c.Next()
}

// RequireRole rejects requests whose authenticated role is below want. It must run after AuthRequired.
func RequireRole(want Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if want == RolePublic || want == RoleUser {
			return c.Next()
		}
		role, _ := c.Locals("role").(Role)
		if role != want {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Insufficient permissions",
			})
		}
		return c.Next()
	}
}
