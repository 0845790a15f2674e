// Package bootstrap assembles the node: storage, the event bus with its
// reactors, the federation pipeline and the background workers.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"outpost/internal/cache"
	"outpost/internal/config"
	"outpost/internal/database"
	"outpost/internal/events"
	"outpost/internal/federation"
	"outpost/internal/jobs"
	"outpost/internal/middleware"
	"outpost/internal/moderation"
	"outpost/internal/notifications"
	"outpost/internal/observability"
	"outpost/internal/queue"
	"outpost/internal/repository"
	"outpost/internal/service"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options adjust runtime assembly. The zero value is the production setup.
type Options struct {
	// HTTPClient is shared by remote fetches and deliveries.
	HTTPClient *http.Client
	// AllowHTTP lets the resolver fetch plain http remotes.
	AllowHTTP bool
	Logger    *slog.Logger
}

// Runtime holds every long-lived component of a running node.
type Runtime struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client
	Bus    *events.Bus
	Logger *slog.Logger

	Accounts      repository.AccountRepository
	Posts         repository.PostRepository
	Outbox        repository.OutboxRepository
	KV            repository.KeyValueRepository
	Sites         repository.SiteRepository
	Feeds         repository.FeedRepository
	Notifications repository.NotificationRepository
	Topics        repository.TopicRepository

	AccountService      *service.AccountService
	PostService         *service.PostService
	FeedService         *service.FeedService
	NotificationService *service.NotificationService
	GhostService        *service.GhostService
	TopicService        *service.TopicService

	Resolver   *federation.Resolver
	Verifier   *federation.Verifier
	Publisher  *federation.Publisher
	Dispatcher *federation.Dispatcher
	Sender     *federation.Sender

	// InboxQueue and DeliveryQueue are nil when the queue is disabled.
	InboxQueue    *queue.Queue
	DeliveryQueue *queue.Queue
	// Inbox receives verified inbound activities.
	Inbox federation.Enqueuer

	Notifier *notifications.Notifier
	Hub      *notifications.Hub
	Jobs     *jobs.Scheduler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Connect opens the database and redis. Redis is required when the queue is enabled.
func Connect(ctx context.Context, cfg *config.Config) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	rdb, err := cache.InitRedis(ctx, cfg.RedisURL)
	if err != nil {
		if cfg.QueueEnabled {
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		middleware.Logger.Warn("redis unavailable, live notifications and rate limits disabled",
			slog.String("error", err.Error()))
		rdb = nil
	}
	return db, rdb, nil
}

// New wires the node on top of db and rdb. rdb may be nil only when the queue is disabled.
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, opts Options) (*Runtime, error) {
	if cfg.QueueEnabled && rdb == nil {
		return nil, errors.New("queue enabled but no redis client")
	}
	logger := opts.Logger
	if logger == nil {
		logger = middleware.Logger
	}
	observability.SetGlobalLogger(logger)

	bus := events.NewBus(logger)
	accounts := repository.NewAccountRepository(db, bus)
	rt := &Runtime{
		Config:        cfg,
		DB:            db,
		Redis:         rdb,
		Bus:           bus,
		Logger:        logger,
		Accounts:      accounts,
		Posts:         repository.NewPostRepository(db, bus, accounts),
		Outbox:        repository.NewOutboxRepository(db),
		KV:            repository.NewKeyValueRepository(db),
		Sites:         repository.NewSiteRepository(db),
		Feeds:         repository.NewFeedRepository(db),
		Notifications: repository.NewNotificationRepository(db),
		Topics:        repository.NewTopicRepository(db),
	}

	resolver, err := federation.NewResolver(rt.Accounts, rt.Sites, federation.ResolverConfig{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.FetchTimeout(),
		CacheTTL:  actorCacheTTL(cfg),
		AllowHTTP: opts.AllowHTTP,
		Client:    opts.HTTPClient,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	rt.Resolver = resolver
	rt.Verifier = federation.NewVerifier(resolver, cfg.SignatureTolerance())
	rt.Sender = federation.NewSender(rt.Accounts, opts.HTTPClient, cfg.UserAgent, cfg.FetchTimeout(), logger)

	var deliveries federation.Enqueuer = queue.Direct{Handler: rt.Sender.HandleMessage}
	if cfg.QueueEnabled {
		rt.DeliveryQueue = queue.New(rdb, rt.queueConfig(cfg.QueueOutboxStream, federation.SubscriptionDelivery), logger)
		deliveries = rt.DeliveryQueue
	}
	rt.Publisher = federation.NewPublisher(rt.Accounts, rt.Posts, rt.Outbox, deliveries, logger)
	rt.Dispatcher = federation.NewDispatcher(rt.Accounts, rt.Posts, rt.Outbox, rt.KV, resolver, rt.Publisher, logger)

	rt.Inbox = queue.Direct{Handler: rt.Dispatcher.HandleMessage}
	if cfg.QueueEnabled {
		rt.InboxQueue = queue.New(rdb, rt.queueConfig(cfg.QueueInboxStream, federation.SubscriptionInbox), logger)
		rt.Inbox = rt.InboxQueue
	}

	var live service.LivePublisher
	if rdb != nil {
		rt.Notifier = notifications.NewNotifier(rdb)
		rt.Hub = notifications.NewHub()
		live = rt.Notifier
	}

	filter := moderation.NewFilter(db)
	rt.NotificationService = service.NewNotificationService(rt.Accounts, rt.Posts, rt.Notifications, filter, live, logger)
	rt.FeedService = service.NewFeedService(rt.Accounts, rt.Posts, rt.Feeds, filter)
	rt.AccountService = service.NewAccountService(rt.Accounts, resolver, rt.Publisher)
	rt.PostService = service.NewPostService(rt.Accounts, rt.Posts, resolver)
	rt.GhostService = service.NewGhostService(rt.Sites, rt.Accounts, rt.Posts, rt.KV, cfg.SignatureTolerance())
	rt.TopicService = service.NewTopicService(rt.Accounts, rt.Topics, resolver, logger)

	// Reactors run concurrently per event; Save returns once all have finished.
	rt.NotificationService.Register(bus)
	rt.FeedService.Register(bus)
	rt.Publisher.Register(bus)

	rt.Jobs, err = jobs.New(jobs.Config{
		TopicSourcePath: cfg.TopicSourcePath,
		TopicSchedule:   cfg.TopicSyncSchedule,
	}, rt.TopicService, rt.KV, logger)
	if err != nil {
		return nil, err
	}

	return rt, nil
}

func actorCacheTTL(cfg *config.Config) time.Duration {
	return time.Duration(cfg.ActorCacheTTLMins) * time.Minute
}

func (rt *Runtime) queueConfig(stream, subscription string) queue.Config {
	return queue.Config{
		Stream:       stream,
		Group:        rt.Config.QueueGroup,
		Consumer:     rt.Config.QueueConsumer,
		Subscription: subscription,
		MaxRetries:   rt.Config.QueueMaxRetries,
		BackoffBase:  rt.Config.BackoffBase(),
		BackoffMax:   rt.Config.BackoffMax(),
	}
}

// Start launches the queue listeners, the live notification wiring and the
// scheduler. They stop when ctx is cancelled or Shutdown is called.
func (rt *Runtime) Start(ctx context.Context) error {
	ctx, rt.cancel = context.WithCancel(ctx)

	if rt.Hub != nil {
		if err := rt.Hub.StartWiring(ctx, rt.Notifier); err != nil {
			rt.cancel()
			return fmt.Errorf("notification wiring: %w", err)
		}
	}

	rt.listen(ctx, rt.InboxQueue, rt.Dispatcher.HandleMessage)
	rt.listen(ctx, rt.DeliveryQueue, rt.Sender.HandleMessage)

	if rt.Config.TopicSourcePath != "" {
		if _, err := rt.Jobs.SyncTopics(ctx); err != nil {
			rt.Logger.WarnContext(ctx, "initial topic sync failed", slog.String("error", err.Error()))
		}
	}
	rt.Jobs.Start()
	return nil
}

func (rt *Runtime) listen(ctx context.Context, q *queue.Queue, h queue.Handler) {
	if q == nil {
		return
	}
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		if err := q.Listen(ctx, h); err != nil {
			rt.Logger.Error("queue listener exited", slog.String("stream", q.Stream()), slog.String("error", err.Error()))
		}
	}()
}

// Shutdown stops the workers and closes connections, waiting at most until ctx ends.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if rt.cancel != nil {
		rt.cancel()
	}
	var errs []error
	if err := rt.Jobs.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("jobs: %w", err))
	}

	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("queue listeners: %w", ctx.Err()))
	}

	if rt.Hub != nil {
		if err := rt.Hub.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("hub: %w", err))
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if sqlDB, err := rt.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
