package server

import (
	"context"
	"log/slog"

	"outpost/internal/domain"
	"outpost/internal/middleware"
	"outpost/internal/models"
	"outpost/internal/service"
	"outpost/internal/validation"

	"github.com/gofiber/fiber/v2"
)

// ListResponse is one page of a client listing. Next is the cursor of the
// following page, zero when there is none.
type ListResponse[T any] struct {
	Items []T  `json:"items"`
	Next  uint `json:"next,omitempty"`
}

func newListResponse[T any](items []T, limit int, id func(T) uint) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	resp := ListResponse[T]{Items: items}
	if len(items) >= limit && len(items) > 0 {
		resp.Next = id(items[len(items)-1])
	}
	return resp
}

// AccountView is the client representation of an account.
type AccountView struct {
	ID        uint   `json:"id"`
	Handle    string `json:"handle"`
	Name      string `json:"name"`
	Bio       string `json:"bio"`
	AvatarURL string `json:"avatar_url"`
	URL       string `json:"url"`
	ApID      string `json:"ap_id"`
}

func accountView(a *domain.Account) AccountView {
	v := AccountView{
		ID:        a.ID,
		Handle:    a.Handle(),
		Name:      a.Name,
		Bio:       a.Bio,
		AvatarURL: a.AvatarURL,
		URL:       a.URL,
	}
	if a.ApID != nil {
		v.ApID = a.ApID.String()
	}
	return v
}

// PostView is the client representation of a post.
type PostView struct {
	ID          uint            `json:"id"`
	UUID        string          `json:"uuid"`
	Type        models.PostType `json:"type"`
	Author      *AccountView    `json:"author,omitempty"`
	Title       string          `json:"title,omitempty"`
	Content     string          `json:"content"`
	URL         string          `json:"url,omitempty"`
	ApID        string          `json:"ap_id"`
	InReplyTo   *uint           `json:"in_reply_to,omitempty"`
	LikeCount   int             `json:"like_count"`
	RepostCount int             `json:"repost_count"`
	ReplyCount  int             `json:"reply_count"`
}

func postView(p *domain.Post) PostView {
	v := PostView{
		ID:          p.ID,
		UUID:        p.UUID,
		Type:        p.Type,
		Title:       p.Title,
		Content:     p.Content,
		URL:         p.URL,
		InReplyTo:   p.InReplyTo,
		LikeCount:   p.LikeCount,
		RepostCount: p.RepostCount,
		ReplyCount:  p.ReplyCount,
	}
	if p.ApID != nil {
		v.ApID = p.ApID.String()
	}
	if p.Author != nil {
		author := accountView(p.Author)
		v.Author = &author
	}
	return v
}

// GetFeed returns the user's note feed.
// @Summary Get feed
// @Tags feed
// @Produce json
// @Security BearerAuth
// @Param cursor query int false "Keyset cursor"
// @Param limit query int false "Page size"
// @Success 200 {object} ListResponse[models.Feed]
// @Router /api/v1/feed [get]
func (s *Server) GetFeed(c *fiber.Ctx) error {
	return s.feed(c, service.FeedInbox)
}

// GetReaderFeed returns the user's article feed.
// @Summary Get reader feed
// @Tags feed
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ListResponse[models.Feed]
// @Router /api/v1/feed/reader [get]
func (s *Server) GetReaderFeed(c *fiber.Ctx) error {
	return s.feed(c, service.FeedReader)
}

func (s *Server) feed(c *fiber.Ctx, kind service.FeedKind) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	p := parsePage(c, s.config.FeedPageSize)
	rows, err := s.feedSvc.GetFeed(c.UserContext(), userID, kind, p.Cursor, p.Limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(newListResponse(rows, p.Limit, func(f models.Feed) uint { return f.ID }))
}

// GetNotifications lists the user's notifications, newest first.
// @Summary List notifications
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ListResponse[models.Notification]
// @Router /api/v1/notifications [get]
func (s *Server) GetNotifications(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	p := parsePage(c, s.config.FeedPageSize)
	rows, err := s.notifications.List(c.UserContext(), userID, p.Cursor, p.Limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(newListResponse(rows, p.Limit, func(n models.Notification) uint { return n.ID }))
}

// GetUnreadCount returns how many notifications are unread.
// @Summary Unread notification count
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]int64
// @Router /api/v1/notifications/unread/count [get]
func (s *Server) GetUnreadCount(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	n, err := s.notifications.UnreadCount(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"count": n})
}

// MarkNotificationsRead marks every notification read.
// @Summary Mark notifications read
// @Tags notifications
// @Security BearerAuth
// @Success 204
// @Router /api/v1/notifications/read [put]
func (s *Server) MarkNotificationsRead(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	if err := s.notifications.MarkAllRead(c.UserContext(), userID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// FollowResponse reports the followed account and whether the follow awaits acceptance.
type FollowResponse struct {
	Account AccountView `json:"account"`
	Pending bool        `json:"pending"`
}

// Follow follows a user@host handle.
// @Summary Follow an account
// @Tags actions
// @Produce json
// @Security BearerAuth
// @Param handle path string true "user@host"
// @Success 200 {object} FollowResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/actions/follow/{handle} [post]
func (s *Server) Follow(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	res, err := s.accountSvc.Follow(c.UserContext(), userID, pathParam(c, "handle"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(FollowResponse{Account: accountView(res.Account), Pending: res.Pending})
}

// Unfollow removes a follow.
// @Summary Unfollow an account
// @Tags actions
// @Produce json
// @Security BearerAuth
// @Param handle path string true "user@host"
// @Success 200 {object} AccountView
// @Router /api/v1/actions/unfollow/{handle} [post]
func (s *Server) Unfollow(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	target, err := s.accountSvc.Unfollow(c.UserContext(), userID, pathParam(c, "handle"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(accountView(target))
}

// Block blocks an account by id.
// @Summary Block an account
// @Tags actions
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Success 204
// @Router /api/v1/actions/block/{id} [post]
func (s *Server) Block(c *fiber.Ctx) error {
	return s.accountAction(c, s.accountSvc.Block)
}

// Unblock removes an account block.
// @Summary Unblock an account
// @Tags actions
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Success 204
// @Router /api/v1/actions/unblock/{id} [post]
func (s *Server) Unblock(c *fiber.Ctx) error {
	return s.accountAction(c, s.accountSvc.Unblock)
}

func (s *Server) accountAction(c *fiber.Ctx, apply func(ctx context.Context, userID, accountID uint) error) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	accountID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := apply(c.UserContext(), userID, accountID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DomainRequest is the body of a domain block.
type DomainRequest struct {
	Domain string `json:"domain" validate:"required,hostname"`
}

// BlockDomain hides every account of a domain.
// @Summary Block a domain
// @Tags actions
// @Accept json
// @Security BearerAuth
// @Param request body DomainRequest true "Domain"
// @Success 204
// @Failure 400 {object} models.ErrorResponse
// @Router /api/v1/actions/block/domain [post]
func (s *Server) BlockDomain(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	var req DomainRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}
	if err := validation.Struct(req); err != nil {
		return respondError(c, err)
	}
	if err := s.accountSvc.BlockDomain(c.UserContext(), userID, req.Domain); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UnblockDomain removes a domain block.
// @Summary Unblock a domain
// @Tags actions
// @Security BearerAuth
// @Param domain path string true "Domain"
// @Success 204
// @Router /api/v1/actions/unblock/domain/{domain} [post]
func (s *Server) UnblockDomain(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	if err := s.accountSvc.UnblockDomain(c.UserContext(), userID, pathParam(c, "domain")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Like likes a post.
// @Summary Like a post
// @Tags actions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Success 200 {object} PostView
// @Router /api/v1/actions/like/{id} [post]
func (s *Server) Like(c *fiber.Ctx) error {
	return s.postAction(c, s.postSvc.Like)
}

// Unlike removes a like.
// @Summary Unlike a post
// @Tags actions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Success 200 {object} PostView
// @Router /api/v1/actions/unlike/{id} [post]
func (s *Server) Unlike(c *fiber.Ctx) error {
	return s.postAction(c, s.postSvc.Unlike)
}

// Repost reposts a post to the user's followers.
// @Summary Repost a post
// @Tags actions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Success 200 {object} PostView
// @Router /api/v1/actions/repost/{id} [post]
func (s *Server) Repost(c *fiber.Ctx) error {
	return s.postAction(c, s.postSvc.Repost)
}

// Derepost undoes a repost.
// @Summary Undo a repost
// @Tags actions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Success 200 {object} PostView
// @Router /api/v1/actions/derepost/{id} [post]
func (s *Server) Derepost(c *fiber.Ctx) error {
	return s.postAction(c, s.postSvc.Derepost)
}

func (s *Server) postAction(c *fiber.Ctx, apply func(ctx context.Context, userID, postID uint) (*domain.Post, error)) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	post, err := apply(c.UserContext(), userID, postID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(postView(post))
}

func parseNote(c *fiber.Ctx) (service.NoteInput, error) {
	var in service.NoteInput
	if err := c.BodyParser(&in); err != nil {
		_ = respondError(c, models.NewValidationError("Invalid request body"))
		return in, errResponseWritten
	}
	if err := validation.Struct(in); err != nil {
		_ = respondError(c, err)
		return in, errResponseWritten
	}
	return in, nil
}

// CreateNote publishes a note.
// @Summary Publish a note
// @Tags actions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.NoteInput true "Note"
// @Success 201 {object} PostView
// @Failure 400 {object} models.ErrorResponse
// @Router /api/v1/actions/note [post]
func (s *Server) CreateNote(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	in, err := parseNote(c)
	if err != nil {
		return nil
	}
	post, err := s.postSvc.CreateNote(c.UserContext(), userID, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(postView(post))
}

// Reply publishes a reply to a post.
// @Summary Reply to a post
// @Tags actions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Param request body service.NoteInput true "Reply"
// @Success 201 {object} PostView
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/actions/reply/{id} [post]
func (s *Server) Reply(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	in, err := parseNote(c)
	if err != nil {
		return nil
	}
	post, err := s.postSvc.Reply(c.UserContext(), userID, postID, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(postView(post))
}

// DeletePost deletes one of the user's posts.
// @Summary Delete a post
// @Tags posts
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Success 204
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/posts/{id} [delete]
func (s *Server) DeletePost(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.postSvc.Delete(c.UserContext(), userID, postID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdateAccountRequest carries profile edits; omitted fields are unchanged.
type UpdateAccountRequest struct {
	Name           *string        `json:"name" validate:"omitempty,max=255"`
	Bio            *string        `json:"bio" validate:"omitempty,max=2000"`
	AvatarURL      *string        `json:"avatar_url" validate:"omitempty,url"`
	BannerImageURL *string        `json:"banner_image_url" validate:"omitempty,url"`
	CustomFields   map[string]any `json:"custom_fields"`
}

// UpdateAccount edits the user's profile.
// @Summary Update profile
// @Tags account
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body UpdateAccountRequest true "Profile"
// @Success 200 {object} AccountView
// @Failure 400 {object} models.ErrorResponse
// @Router /api/v1/account [put]
func (s *Server) UpdateAccount(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	var req UpdateAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}
	if err := validation.Struct(req); err != nil {
		return respondError(c, err)
	}
	account, err := s.accountSvc.UpdateProfile(c.UserContext(), userID, domain.ProfileUpdate{
		Name:           req.Name,
		Bio:            req.Bio,
		AvatarURL:      req.AvatarURL,
		BannerImageURL: req.BannerImageURL,
		CustomFields:   req.CustomFields,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(accountView(account))
}

// GetTopics lists the discovery topics.
// @Summary List topics
// @Tags topics
// @Produce json
// @Success 200 {array} models.Topic
// @Router /api/v1/topics [get]
func (s *Server) GetTopics(c *fiber.Ctx) error {
	topics, err := s.topicSvc.Topics(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(topics)
}

// SyncTopics reloads the topic source file now.
// @Summary Sync topics
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} repository.ReconcileStats
// @Failure 403 {object} models.ErrorResponse
// @Router /api/v1/admin/topics/sync [post]
func (s *Server) SyncTopics(c *fiber.Ctx) error {
	stats, err := s.syncer.SyncTopics(c.UserContext())
	if err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "manual topic sync failed",
			slog.Any("user_id", c.Locals("userID")),
			slog.String("error", err.Error()))
		return respondError(c, err)
	}
	return c.JSON(stats)
}
