package service

import (
	"context"
	"log/slog"
	"time"

	"outpost/internal/events"
	"outpost/internal/models"
	"outpost/internal/observability"
	"outpost/internal/repository"
)

// NotificationService writes notification rows in reaction to interaction
// events and cleans them up when their source is blocked or deleted.
type NotificationService struct {
	accounts      repository.AccountRepository
	posts         repository.PostRepository
	notifications repository.NotificationRepository
	filter        VisibilityFilter
	live          LivePublisher
	logger        *slog.Logger
}

// NewNotificationService returns a new NotificationService. live may be nil.
func NewNotificationService(
	accounts repository.AccountRepository,
	posts repository.PostRepository,
	notifications repository.NotificationRepository,
	filter VisibilityFilter,
	live LivePublisher,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationService{
		accounts:      accounts,
		posts:         posts,
		notifications: notifications,
		filter:        filter,
		live:          live,
		logger:        logger,
	}
}

// Register subscribes the reactor to bus.
func (s *NotificationService) Register(bus *events.Bus) {
	events.Subscribe(bus, "notifications.like", s.onPostLiked)
	events.Subscribe(bus, "notifications.repost", s.onPostReposted)
	events.Subscribe(bus, "notifications.follow", s.onAccountFollowed)
	events.Subscribe(bus, "notifications.reply", s.onPostCreated)
	events.Subscribe(bus, "notifications.mention", s.onMentionCreated)
	events.Subscribe(bus, "notifications.block", s.onAccountBlocked)
	events.Subscribe(bus, "notifications.domain_block", s.onDomainBlocked)
	events.Subscribe(bus, "notifications.post_deleted", s.onPostDeleted)
	events.Subscribe(bus, "notifications.read", s.onNotificationsRead)
}

type notificationInput struct {
	recipientAccountID uint
	actorID            uint
	eventType          models.NotificationType
	postID             *uint
	inReplyToPostID    *uint
}

func uintPtr(v uint) *uint { return &v }

func (s *NotificationService) onPostLiked(ctx context.Context, e events.PostLikedEvent) error {
	return s.notify(ctx, notificationInput{
		recipientAccountID: e.PostAuthorID,
		actorID:            e.AccountID,
		eventType:          models.NotificationLike,
		postID:             uintPtr(e.PostID),
	})
}

func (s *NotificationService) onPostReposted(ctx context.Context, e events.PostRepostedEvent) error {
	return s.notify(ctx, notificationInput{
		recipientAccountID: e.PostAuthorID,
		actorID:            e.AccountID,
		eventType:          models.NotificationRepost,
		postID:             uintPtr(e.PostID),
	})
}

func (s *NotificationService) onAccountFollowed(ctx context.Context, e events.AccountFollowedEvent) error {
	return s.notify(ctx, notificationInput{
		recipientAccountID: e.AccountID,
		actorID:            e.FollowerID,
		eventType:          models.NotificationFollow,
	})
}

func (s *NotificationService) onPostCreated(ctx context.Context, e events.PostCreatedEvent) error {
	post, err := s.posts.GetByID(ctx, e.PostID)
	if models.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !post.IsReply() || post.ReplyToAuthorID == 0 {
		return nil
	}
	return s.notify(ctx, notificationInput{
		recipientAccountID: post.ReplyToAuthorID,
		actorID:            e.AuthorID,
		eventType:          models.NotificationReply,
		postID:             uintPtr(post.ID),
		inReplyToPostID:    post.InReplyTo,
	})
}

func (s *NotificationService) onMentionCreated(ctx context.Context, e events.MentionCreatedEvent) error {
	post, err := s.posts.GetByID(ctx, e.PostID)
	if models.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	// The reply notification already covers the account being replied to.
	if post.IsReply() && post.ReplyToAuthorID == e.AccountID {
		observability.Notifications.WithLabelValues(models.NotificationMention.String(), "skipped").Inc()
		return nil
	}
	return s.notify(ctx, notificationInput{
		recipientAccountID: e.AccountID,
		actorID:            e.PostAuthorID,
		eventType:          models.NotificationMention,
		postID:             uintPtr(e.PostID),
	})
}

func (s *NotificationService) notify(ctx context.Context, in notificationInput) error {
	kind := in.eventType.String()
	if in.recipientAccountID == in.actorID {
		observability.Notifications.WithLabelValues(kind, "skipped").Inc()
		return nil
	}

	userID, ok, err := s.accounts.UserIDForAccount(ctx, in.recipientAccountID)
	if err != nil {
		return err
	}
	if !ok {
		observability.Notifications.WithLabelValues(kind, "skipped").Inc()
		return nil
	}

	allowed, err := s.filter.FilterUsersForAccountInteraction(ctx, []uint{userID}, in.actorID)
	if err != nil {
		return err
	}
	if len(allowed) == 0 {
		observability.Notifications.WithLabelValues(kind, "filtered").Inc()
		return nil
	}

	n := &models.Notification{
		UserID:          userID,
		AccountID:       in.actorID,
		PostID:          in.postID,
		InReplyToPostID: in.inReplyToPostID,
		EventType:       in.eventType,
	}
	inserted, err := s.notifications.Insert(ctx, n)
	if err != nil {
		return err
	}
	if !inserted {
		observability.Notifications.WithLabelValues(kind, "duplicate").Inc()
		return nil
	}
	observability.Notifications.WithLabelValues(kind, "created").Inc()
	s.push(ctx, userID, "notification", livePayload{
		ID:        n.ID,
		EventType: kind,
		AccountID: n.AccountID,
		PostID:    n.PostID,
		CreatedAt: n.CreatedAt,
	})
	return nil
}

type livePayload struct {
	ID        uint      `json:"id"`
	EventType string    `json:"event_type"`
	AccountID uint      `json:"account_id"`
	PostID    *uint     `json:"post_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type liveMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// push is best effort: the row is already stored and clients re-fetch on reconnect.
func (s *NotificationService) push(ctx context.Context, userID uint, kind string, payload interface{}) {
	if s.live == nil {
		return
	}
	body, err := json.Marshal(liveMessage{Type: kind, Payload: payload})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode live notification", slog.String("error", err.Error()))
		return
	}
	if err := s.live.PublishUser(ctx, userID, string(body)); err != nil {
		s.logger.WarnContext(ctx, "failed to push live notification",
			slog.Any("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *NotificationService) onAccountBlocked(ctx context.Context, e events.AccountBlockedEvent) error {
	userID, ok, err := s.accounts.UserIDForAccount(ctx, e.BlockerID)
	if err != nil || !ok {
		return err
	}
	_, err = s.notifications.DeleteFromAccount(ctx, userID, e.AccountID)
	return err
}

func (s *NotificationService) onDomainBlocked(ctx context.Context, e events.DomainBlockedEvent) error {
	userID, ok, err := s.accounts.UserIDForAccount(ctx, e.BlockerID)
	if err != nil || !ok {
		return err
	}
	_, err = s.notifications.DeleteFromDomain(ctx, userID, e.Domain)
	return err
}

func (s *NotificationService) onPostDeleted(ctx context.Context, e events.PostDeletedEvent) error {
	_, err := s.notifications.DeleteForPost(ctx, e.PostID)
	return err
}

func (s *NotificationService) onNotificationsRead(ctx context.Context, e events.NotificationsReadEvent) error {
	userID, ok, err := s.accounts.UserIDForAccount(ctx, e.AccountID)
	if err != nil || !ok {
		return err
	}
	s.push(ctx, userID, "notifications_read", nil)
	return nil
}

// List returns a page of the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID, cursor uint, limit int) ([]models.Notification, error) {
	return s.notifications.List(ctx, userID, cursor, limit)
}

// UnreadCount returns how many notifications the user has not read.
func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	return s.notifications.UnreadCount(ctx, userID)
}

// MarkAllRead marks every notification of the user's account as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) error {
	account, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	account.ReadAllNotifications()
	return s.accounts.Save(ctx, account)
}
