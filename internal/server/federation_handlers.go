package server

import (
	"log/slog"
	"net/url"
	"strings"

	"outpost/internal/activitypub"
	"outpost/internal/domain"
	"outpost/internal/federation"
	"outpost/internal/middleware"
	"outpost/internal/models"
	"outpost/internal/observability"
	"outpost/internal/queue"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/samber/lo"
)

// WebFinger resolves acct: resources of local accounts.
// @Summary WebFinger lookup
// @Tags federation
// @Produce json
// @Param resource query string true "acct:user@host"
// @Success 200 {object} activitypub.WebFinger
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /.well-known/webfinger [get]
func (s *Server) WebFinger(c *fiber.Ctx) error {
	user, resourceHost, err := activitypub.ParseResource(c.Query("resource"))
	if err != nil {
		return respondError(c, err)
	}
	if resourceHost != host(c) {
		return respondError(c, models.NewNotFoundError("Account", user+"@"+resourceHost))
	}
	account, err := s.accounts.GetLocalByHandle(c.UserContext(), resourceHost, user)
	if err != nil {
		return respondError(c, err)
	}
	return respondActivityJSON(c, activitypub.WebFingerContentType, activitypub.NewWebFinger(account))
}

// NodeInfoLinks points at the nodeinfo document.
func (s *Server) NodeInfoLinks(c *fiber.Ctx) error {
	return c.JSON(activitypub.NewNodeInfoLinks("https://" + host(c)))
}

// NodeInfo reports software and usage.
// @Summary NodeInfo 2.1
// @Tags federation
// @Produce json
// @Success 200 {object} activitypub.NodeInfo
// @Router /nodeinfo/2.1 [get]
func (s *Server) NodeInfo(c *fiber.Ctx) error {
	ctx := c.UserContext()
	users, err := s.accounts.CountLocalUsers(ctx)
	if err != nil {
		return respondError(c, models.NewInternalError(err))
	}
	posts, err := s.posts.CountLocalPosts(ctx)
	if err != nil {
		return respondError(c, models.NewInternalError(err))
	}
	return respondActivityJSON(c, `application/json; profile="`+activitypub.NodeInfoSchema+`#"`,
		activitypub.NewNodeInfo(Version, users, posts))
}

// localAccount loads the internal account named by the :handle param on the request host.
func (s *Server) localAccount(c *fiber.Ctx) (*domain.Account, error) {
	account, err := s.accounts.GetLocalByHandle(c.UserContext(), host(c), c.Params("handle"))
	if err != nil {
		_ = respondError(c, err)
		return nil, errResponseWritten
	}
	return account, nil
}

// GetActor serves the actor document of a local account.
// @Summary Get actor
// @Tags federation
// @Produce json
// @Param handle path string true "Username"
// @Success 200 {object} activitypub.Actor
// @Failure 404 {object} models.ErrorResponse
// @Router /users/{handle} [get]
func (s *Server) GetActor(c *fiber.Ctx) error {
	account, err := s.localAccount(c)
	if err != nil {
		return nil
	}
	return respondActivityJSON(c, activitypub.ContentType, activitypub.NewActor(account))
}

// PostInbox accepts an activity for a local account, or for the node when
// no handle is given. The signature is checked before anything is queued.
// @Summary Deliver an activity
// @Tags federation
// @Accept json
// @Param handle path string false "Recipient username"
// @Success 202
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /inbox/{handle} [post]
func (s *Server) PostInbox(c *fiber.Ctx) error {
	ctx := c.UserContext()
	recipient := c.Params("handle")
	if recipient != "" {
		if _, err := s.localAccount(c); err != nil {
			return nil
		}
	}

	body := append([]byte(nil), c.Body()...)
	activity, err := activitypub.ParseActivity(body)
	if err != nil {
		return respondError(c, err)
	}
	ctx = middleware.WithActivity(ctx, activity.ID, activity.Actor)

	if !s.config.SkipSignatureCheck {
		req, err := adaptor.ConvertRequest(c, false)
		if err != nil {
			return respondError(c, models.NewValidationError("malformed request"))
		}
		signer, err := s.verifier.Verify(ctx, req, body)
		if err != nil {
			middleware.Logger.WarnContext(ctx, "inbox signature rejected", slog.String("error", err.Error()))
			return respondError(c, err)
		}
		if !sameOrigin(signer.ApID, activity.Actor) {
			return respondError(c, models.NewUnauthorizedError("activity actor does not match the signing key"))
		}
	}

	payload, err := json.Marshal(federation.InboxJob{
		Recipient:     recipient,
		Activity:      body,
		CorrelationID: observability.ExtractCorrelationID(ctx),
	})
	if err != nil {
		return respondError(c, models.NewInternalError(err))
	}
	if err := s.inbox.Enqueue(ctx, queue.Message{
		Subscription: federation.SubscriptionInbox,
		EventHost:    host(c),
		Payload:      payload,
	}); err != nil {
		middleware.Logger.ErrorContext(ctx, "inbox enqueue failed", slog.String("error", err.Error()))
		return respondError(c, models.NewInternalError(err))
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// sameOrigin reports whether actor shares the signer's scheme and host.
func sameOrigin(signer *url.URL, actor string) bool {
	u, err := url.Parse(actor)
	if err != nil || signer == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, signer.Scheme) && strings.EqualFold(u.Host, signer.Host)
}

// collection serves a landing document, or a page when ?page=true.
func (s *Server) collection(c *fiber.Ctx, id string, total func() (int64, error), page func(cursor uint, limit int) ([]interface{}, uint, error)) error {
	count, err := total()
	if err != nil {
		return respondError(c, models.NewInternalError(err))
	}
	if c.Query("page") != "true" {
		return respondActivityJSON(c, activitypub.ContentType, activitypub.NewCollection(id, count))
	}

	p := parsePage(c, s.config.CollectionPageSize)
	items, next, err := page(p.Cursor, p.Limit)
	if err != nil {
		return respondError(c, models.NewInternalError(err))
	}
	doc := activitypub.NewCollectionPage(id, count, p.Cursor, items, p.Limit, next)
	// Filtered pages can be short while more rows remain.
	if doc.Next == "" && next > 0 {
		doc.Next = activitypub.PageURL(id, next)
	}
	return respondActivityJSON(c, activitypub.ContentType, doc)
}

// nextCursor is the id of the last row when the page came back full, else 0.
func nextCursor(n, limit int, lastID uint) uint {
	if n < limit {
		return 0
	}
	return lastID
}

// GetOutbox lists the activities of a local account.
// @Summary Outbox collection
// @Tags federation
// @Produce json
// @Param handle path string true "Username"
// @Param page query bool false "Return a page"
// @Param cursor query int false "Keyset cursor"
// @Success 200 {object} activitypub.OrderedCollectionPage
// @Router /outbox/{handle} [get]
func (s *Server) GetOutbox(c *fiber.Ctx) error {
	account, err := s.localAccount(c)
	if err != nil {
		return nil
	}
	ctx := c.UserContext()
	return s.collection(c, account.OutboxURL,
		func() (int64, error) { return s.outbox.Count(ctx, account.ID) },
		func(cursor uint, limit int) ([]interface{}, uint, error) {
			rows, err := s.outbox.List(ctx, account.ID, cursor, limit)
			if err != nil || len(rows) == 0 {
				return nil, 0, err
			}
			items := lo.FilterMap(rows, func(r models.Outbox, _ int) (interface{}, bool) {
				return r.Payload, isPublicActivity(r.Payload)
			})
			return items, nextCursor(len(rows), limit, rows[len(rows)-1].ID), nil
		})
}

// isPublicActivity reports whether a stored activity is addressed to the public collection.
func isPublicActivity(payload []byte) bool {
	var a activitypub.Activity
	if err := json.Unmarshal(payload, &a); err != nil {
		return false
	}
	return lo.Contains(a.Recipients(), activitypub.PublicCollection)
}

// GetFollowers lists the followers of a local account by actor id.
// @Summary Followers collection
// @Tags federation
// @Produce json
// @Param handle path string true "Username"
// @Success 200 {object} activitypub.OrderedCollectionPage
// @Router /followers/{handle} [get]
func (s *Server) GetFollowers(c *fiber.Ctx) error {
	account, err := s.localAccount(c)
	if err != nil {
		return nil
	}
	ctx := c.UserContext()
	return s.collection(c, account.FollowersURL,
		func() (int64, error) { return s.accounts.CountFollowers(ctx, account.ID) },
		func(cursor uint, limit int) ([]interface{}, uint, error) {
			rows, err := s.accounts.ListFollowers(ctx, account.ID, cursor, limit)
			return followItems(rows, func(f models.Follow) *models.Account { return f.Follower }), lastFollowID(rows, limit), err
		})
}

// GetFollowing lists the accounts a local account follows.
// @Summary Following collection
// @Tags federation
// @Produce json
// @Param handle path string true "Username"
// @Success 200 {object} activitypub.OrderedCollectionPage
// @Router /following/{handle} [get]
func (s *Server) GetFollowing(c *fiber.Ctx) error {
	account, err := s.localAccount(c)
	if err != nil {
		return nil
	}
	ctx := c.UserContext()
	return s.collection(c, account.FollowingURL,
		func() (int64, error) { return s.accounts.CountFollowing(ctx, account.ID) },
		func(cursor uint, limit int) ([]interface{}, uint, error) {
			rows, err := s.accounts.ListFollowing(ctx, account.ID, cursor, limit)
			return followItems(rows, func(f models.Follow) *models.Account { return f.Following }), lastFollowID(rows, limit), err
		})
}

func followItems(rows []models.Follow, side func(models.Follow) *models.Account) []interface{} {
	return lo.FilterMap(rows, func(f models.Follow, _ int) (interface{}, bool) {
		a := side(f)
		if a == nil {
			return nil, false
		}
		return a.ApID, true
	})
}

func lastFollowID(rows []models.Follow, limit int) uint {
	if len(rows) == 0 {
		return 0
	}
	return nextCursor(len(rows), limit, rows[len(rows)-1].ID)
}

// GetLiked lists the posts a local account liked.
// @Summary Liked collection
// @Tags federation
// @Produce json
// @Param handle path string true "Username"
// @Success 200 {object} activitypub.OrderedCollectionPage
// @Router /liked/{handle} [get]
func (s *Server) GetLiked(c *fiber.Ctx) error {
	account, err := s.localAccount(c)
	if err != nil {
		return nil
	}
	ctx := c.UserContext()
	return s.collection(c, account.LikedURL,
		func() (int64, error) { return s.posts.CountLikedBy(ctx, account.ID) },
		func(cursor uint, limit int) ([]interface{}, uint, error) {
			rows, err := s.posts.ListLikedBy(ctx, account.ID, cursor, limit)
			if err != nil || len(rows) == 0 {
				return nil, 0, err
			}
			items := lo.FilterMap(rows, func(l models.Like, _ int) (interface{}, bool) {
				if l.Post == nil {
					return nil, false
				}
				return l.Post.ApID, true
			})
			return items, nextCursor(len(rows), limit, rows[len(rows)-1].ID), nil
		})
}

// GetPostObject serves a public local post as a Note or Article.
// @Summary Get post object
// @Tags federation
// @Produce json
// @Param uuid path string true "Post UUID"
// @Success 200 {object} activitypub.Note
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{uuid} [get]
func (s *Server) GetPostObject(c *fiber.Ctx) error {
	ctx := c.UserContext()
	uuid := c.Params("uuid")
	post, err := s.posts.GetByUUID(ctx, uuid)
	if err != nil {
		return respondError(c, err)
	}
	if post.Deleted || post.Audience != models.AudiencePublic || post.Author == nil ||
		!post.Author.Internal || post.Author.Domain != host(c) {
		return respondError(c, models.NewNotFoundError("Post", uuid))
	}

	var inReplyTo string
	if post.InReplyTo != nil {
		if parent, err := s.posts.GetByIDUnscoped(ctx, *post.InReplyTo); err == nil && parent.ApID != nil {
			inReplyTo = parent.ApID.String()
		}
	}
	return respondActivityJSON(c, activitypub.ContentType, activitypub.Document(activitypub.NewPostObject(post, inReplyTo)))
}

// GetActivity serves a stored outbox activity by its id.
// @Summary Get activity
// @Tags federation
// @Produce json
// @Param uuid path string true "Activity UUID"
// @Success 200 {object} activitypub.Activity
// @Failure 404 {object} models.ErrorResponse
// @Router /activities/{uuid} [get]
func (s *Server) GetActivity(c *fiber.Ctx) error {
	iri := localIRI(c, "/activities/"+c.Params("uuid"))
	row, err := s.outbox.GetByApID(c.UserContext(), iri)
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, activitypub.ContentType)
	return c.Status(fiber.StatusOK).Send(row.Payload)
}
