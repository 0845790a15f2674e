package server

import (
	"outpost/internal/models"

	"github.com/gofiber/fiber/v2"
)

// requireFlag hides a route from users the flag is off for. It must run
// after an auth middleware.
func (s *Server) requireFlag(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("userID").(uint)
		if !s.flags.Enabled(name, userID) {
			return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{Error: "Not found"})
		}
		return c.Next()
	}
}

// GetFeatures returns configured feature flags and their state for the caller.
// @Summary Feature flags
// @Tags account
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/features [get]
func (s *Server) GetFeatures(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(uint)
	return c.JSON(fiber.Map{
		"raw":       s.flags.Raw(),
		"evaluated": s.flags.Snapshot(userID),
	})
}
