package server

import (
	"context"
	"log/slog"

	"outpost/internal/domain"
	"outpost/internal/ghost"
	"outpost/internal/middleware"
	"outpost/internal/models"

	"github.com/gofiber/fiber/v2"
)

// webhookPostResponse reports the post a webhook created or changed.
type webhookPostResponse struct {
	ID   uint   `json:"id"`
	UUID string `json:"uuid"`
	ApID string `json:"ap_id"`
}

// authenticateWebhook verifies the Ghost signature for the request host.
// Every rejection is a 400 except an unknown site, which is a 404.
func (s *Server) authenticateWebhook(c *fiber.Ctx) (*models.Site, error) {
	site, err := s.ghostSvc.CheckWebhook(c.UserContext(), host(c), c.Body(), c.Get(ghost.SignatureHeader))
	if err != nil {
		middleware.Logger.WarnContext(c.UserContext(), "webhook rejected",
			slog.String("host", host(c)), slog.String("error", err.Error()))
		_ = respondWebhookError(c, err)
		return nil, errResponseWritten
	}
	return site, nil
}

func respondWebhookError(c *fiber.Ctx, err error) error {
	switch {
	case models.IsNotFound(err):
		return models.RespondWithError(c, fiber.StatusNotFound, err)
	case models.IsValidation(err), models.IsConflict(err), models.HasCode(err, models.CodeUnauthorized):
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	default:
		return respondError(c, err)
	}
}

type postWebhook func(ctx context.Context, site *models.Site, payload *ghost.PostPayload) (*domain.Post, error)

func (s *Server) handlePostWebhook(c *fiber.Ctx, apply postWebhook) error {
	site, err := s.authenticateWebhook(c)
	if err != nil {
		return nil
	}
	payload, err := ghost.DecodePost(c.Body())
	if err != nil {
		return respondWebhookError(c, err)
	}
	post, err := apply(c.UserContext(), site, payload)
	if err != nil {
		return respondWebhookError(c, err)
	}
	if post == nil {
		return c.SendStatus(fiber.StatusOK)
	}
	return c.Status(fiber.StatusOK).JSON(webhookPostResponse{ID: post.ID, UUID: post.UUID, ApID: post.ApID.String()})
}

// PostPublished federates a newly published Ghost post.
// @Summary Ghost post.published webhook
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Ghost-Signature header string true "sha256=<hex>, t=<ms>"
// @Success 200 {object} webhookPostResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /webhooks/post/published [post]
func (s *Server) PostPublished(c *fiber.Ctx) error {
	return s.handlePostWebhook(c, s.ghostSvc.PostPublished)
}

// PostUpdated federates an edit of a Ghost post.
// @Summary Ghost post.updated webhook
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} webhookPostResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /webhooks/post/updated [post]
func (s *Server) PostUpdated(c *fiber.Ctx) error {
	return s.handlePostWebhook(c, s.ghostSvc.PostUpdated)
}

// SiteChanged mirrors Ghost site settings onto the site actor.
// @Summary Ghost site.changed webhook
// @Tags webhooks
// @Accept json
// @Success 200
// @Failure 400 {object} models.ErrorResponse
// @Router /webhooks/site/changed [post]
func (s *Server) SiteChanged(c *fiber.Ctx) error {
	site, err := s.authenticateWebhook(c)
	if err != nil {
		return nil
	}
	payload, err := ghost.DecodeSite(c.Body())
	if err != nil {
		return respondWebhookError(c, err)
	}
	if _, err := s.ghostSvc.SiteChanged(c.UserContext(), site, payload); err != nil {
		return respondWebhookError(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}
