// Package server exposes the node over HTTP: the federation endpoints, the
// Ghost webhooks and the client API.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "outpost/docs" // swagger docs
	"outpost/internal/bootstrap"
	"outpost/internal/config"
	"outpost/internal/featureflags"
	"outpost/internal/federation"
	"outpost/internal/middleware"
	"outpost/internal/models"
	"outpost/internal/notifications"
	"outpost/internal/repository"
	"outpost/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version is reported by nodeinfo.
const Version = "1.0.0"

// bodyLimit caps inbox and webhook payloads.
const bodyLimit = 1 << 20

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	promMiddleware *fiberprometheus.FiberPrometheus

	accounts      repository.AccountRepository
	posts         repository.PostRepository
	outbox        repository.OutboxRepository
	sites         repository.SiteRepository
	accountSvc    *service.AccountService
	postSvc       *service.PostService
	feedSvc       *service.FeedService
	notifications *service.NotificationService
	ghostSvc      *service.GhostService
	topicSvc      *service.TopicService

	verifier *federation.Verifier
	inbox    federation.Enqueuer
	syncer   TopicSyncer
	hub      *notifications.Hub
	flags    *featureflags.Manager
}

// TopicSyncer runs the topic reconciliation on demand.
type TopicSyncer interface {
	SyncTopics(ctx context.Context) (repository.ReconcileStats, error)
}

// NewServer creates a Server over an assembled runtime.
func NewServer(rt *bootstrap.Runtime) *Server {
	middleware.InitMiddleware(rt.Config)
	return &Server{
		config:         rt.Config,
		db:             rt.DB,
		redis:          rt.Redis,
		promMiddleware: middleware.InitMetrics("outpost"),
		accounts:       rt.Accounts,
		posts:          rt.Posts,
		outbox:         rt.Outbox,
		sites:          rt.Sites,
		accountSvc:     rt.AccountService,
		postSvc:        rt.PostService,
		feedSvc:        rt.FeedService,
		notifications:  rt.NotificationService,
		ghostSvc:       rt.GhostService,
		topicSvc:       rt.TopicService,
		verifier:       rt.Verifier,
		inbox:          rt.Inbox,
		syncer:         rt.Jobs,
		hub:            rt.Hub,
		flags:          featureflags.NewManager(rt.Config.FeatureFlags),
	}
}

// NewApp returns a fiber app configured for the node, with middleware and routes.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "outpost",
		BodyLimit:    bodyLimit,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		ErrorHandler: errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// errorHandler renders errors that escaped a handler with the AppError shape.
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
	}
	return models.RespondWithAppError(c, err)
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	// Per-IP ceiling for the client API; inbox traffic is limited per sender host instead.
	app.Use("/api", limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all API routes
func (s *Server) SetupRoutes(app *fiber.App) {
	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Discovery
	app.Get("/.well-known/webfinger", s.WebFinger)
	app.Get("/.well-known/nodeinfo", s.NodeInfoLinks)
	app.Get("/nodeinfo/2.1", s.NodeInfo)

	// ActivityPub documents
	app.Get("/users/:handle", s.GetActor)
	app.Get("/outbox/:handle", s.GetOutbox)
	app.Get("/followers/:handle", s.GetFollowers)
	app.Get("/following/:handle", s.GetFollowing)
	app.Get("/liked/:handle", s.GetLiked)
	app.Get("/posts/:uuid", s.GetPostObject)
	app.Get("/activities/:uuid", s.GetActivity)

	// Inboxes, limited per sending server
	inboxLimit := middleware.RateLimitBy(s.redis, s.config.InboxRateLimit, time.Minute,
		middleware.FailOpen, "inbox", middleware.SenderHostKey)
	app.Post("/inbox", inboxLimit, s.PostInbox)
	app.Post("/inbox/:handle", inboxLimit, s.PostInbox)

	// Ghost webhooks
	webhooks := app.Group("/webhooks")
	webhooks.Post("/post/published", s.PostPublished)
	webhooks.Post("/post/updated", s.PostUpdated)
	webhooks.Post("/site/changed", s.SiteChanged)

	api := app.Group("/api/v1")

	// Swagger documentation
	api.Get("/swagger/*", swagger.HandlerDefault)

	api.Get("/topics", s.GetTopics)

	// Live notifications accept the token as a query parameter
	api.Get("/notifications/stream", middleware.WebSocketAuthRequired,
		s.requireFlag(featureflags.LiveNotifications), s.NotificationStream())

	protected := api.Group("", middleware.AuthRequired)

	feed := protected.Group("/feed")
	feed.Get("/", s.GetFeed)
	feed.Get("/reader", s.requireFlag(featureflags.ReaderFeed), s.GetReaderFeed)

	notifs := protected.Group("/notifications")
	notifs.Get("/", s.GetNotifications)
	notifs.Get("/unread/count", s.GetUnreadCount)
	notifs.Put("/read", s.MarkNotificationsRead)

	actions := protected.Group("/actions")
	actions.Post("/follow/:handle", s.Follow)
	actions.Post("/unfollow/:handle", s.Unfollow)
	actions.Post("/block/domain", s.BlockDomain)
	actions.Post("/unblock/domain/:domain", s.UnblockDomain)
	actions.Post("/block/:id", s.Block)
	actions.Post("/unblock/:id", s.Unblock)
	actions.Post("/like/:id", s.Like)
	actions.Post("/unlike/:id", s.Unlike)
	actions.Post("/repost/:id", s.Repost)
	actions.Post("/derepost/:id", s.Derepost)
	actions.Post("/reply/:id", s.Reply)
	actions.Post("/note", s.CreateNote)

	protected.Delete("/posts/:id", s.DeletePost)
	protected.Put("/account", s.UpdateAccount)
	protected.Get("/features", s.GetFeatures)

	// Admin routes
	admin := protected.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	admin.Post("/topics/sync", s.SyncTopics)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports whether the database and redis answer.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	switch {
	case s.redis == nil && s.config.QueueEnabled:
		redisStatus = "unavailable"
	case s.redis == nil:
		redisStatus = "disabled"
	default:
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" || redisStatus == "unavailable" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"version": Version,
		"status":  overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Shutdown closes live websocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub == nil {
		return nil
	}
	if err := s.hub.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s: %w", s.hub.Name(), err)
	}
	return nil
}
