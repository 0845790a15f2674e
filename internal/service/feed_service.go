package service

import (
	"context"

	"outpost/internal/domain"
	"outpost/internal/events"
	"outpost/internal/models"
	"outpost/internal/repository"

	"github.com/samber/lo"
)

// FeedKind selects which posts a feed listing returns.
type FeedKind string

const (
	// FeedInbox is the short-form feed (notes).
	FeedInbox FeedKind = "feed"
	// FeedReader is the long-form feed (articles).
	FeedReader FeedKind = "reader"
)

// FeedService materializes feed rows from post lifecycle events.
type FeedService struct {
	accounts repository.AccountRepository
	posts    repository.PostRepository
	feeds    repository.FeedRepository
	filter   VisibilityFilter
}

// NewFeedService returns a new FeedService.
func NewFeedService(
	accounts repository.AccountRepository,
	posts repository.PostRepository,
	feeds repository.FeedRepository,
	filter VisibilityFilter,
) *FeedService {
	return &FeedService{accounts: accounts, posts: posts, feeds: feeds, filter: filter}
}

// Register subscribes the reactor to bus.
func (s *FeedService) Register(bus *events.Bus) {
	events.Subscribe(bus, "feeds.post_created", s.onPostCreated)
	events.Subscribe(bus, "feeds.post_reposted", s.onPostReposted)
	events.Subscribe(bus, "feeds.post_deleted", s.onPostDeleted)
	events.Subscribe(bus, "feeds.post_dereposted", s.onPostDereposted)
	events.Subscribe(bus, "feeds.account_blocked", s.onAccountBlocked)
	events.Subscribe(bus, "feeds.domain_blocked", s.onDomainBlocked)
	events.Subscribe(bus, "feeds.account_unfollowed", s.onAccountUnfollowed)
}

// audience returns the local users who follow accountID, plus the owner of
// accountID when it is local.
func (s *FeedService) audience(ctx context.Context, accountID uint) ([]uint, error) {
	userIDs, err := s.accounts.LocalFollowerUserIDs(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ownerID, ok, err := s.accounts.UserIDForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if ok {
		userIDs = append(userIDs, ownerID)
	}
	return lo.Uniq(userIDs), nil
}

func (s *FeedService) load(ctx context.Context, postID uint) (*domain.Post, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if models.IsNotFound(err) {
		return nil, nil
	}
	return post, err
}

func (s *FeedService) materialize(ctx context.Context, post *domain.Post, audienceOf, reposterID uint) error {
	userIDs, err := s.audience(ctx, audienceOf)
	if err != nil {
		return err
	}
	allowed, err := s.filter.FilterUsersForPost(ctx, userIDs, post, reposterID)
	if err != nil || len(allowed) == 0 {
		return err
	}
	rows := lo.Map(allowed, func(userID uint, _ int) models.Feed {
		return models.Feed{
			UserID:       userID,
			PostID:       post.ID,
			AuthorID:     post.Author.ID,
			RepostedByID: reposterID,
			PostType:     post.Type,
			Audience:     post.Audience,
			PublishedAt:  post.PublishedAt,
		}
	})
	_, err = s.feeds.InsertMany(ctx, rows)
	return err
}

func (s *FeedService) onPostCreated(ctx context.Context, e events.PostCreatedEvent) error {
	post, err := s.load(ctx, e.PostID)
	if err != nil || post == nil {
		return err
	}
	// Replies live in their thread, not in feeds.
	if !post.Materializes() || post.IsReply() {
		return nil
	}
	return s.materialize(ctx, post, post.Author.ID, 0)
}

func (s *FeedService) onPostReposted(ctx context.Context, e events.PostRepostedEvent) error {
	post, err := s.load(ctx, e.PostID)
	if err != nil || post == nil {
		return err
	}
	if post.Audience != models.AudiencePublic {
		return nil
	}
	return s.materialize(ctx, post, e.AccountID, e.AccountID)
}

func (s *FeedService) onPostDeleted(ctx context.Context, e events.PostDeletedEvent) error {
	_, err := s.feeds.DeleteForPost(ctx, e.PostID)
	return err
}

func (s *FeedService) onPostDereposted(ctx context.Context, e events.PostDerepostedEvent) error {
	_, err := s.feeds.DeleteRepost(ctx, e.PostID, e.AccountID)
	return err
}

func (s *FeedService) onAccountBlocked(ctx context.Context, e events.AccountBlockedEvent) error {
	userID, ok, err := s.accounts.UserIDForAccount(ctx, e.BlockerID)
	if err != nil || !ok {
		return err
	}
	_, err = s.feeds.DeleteForUserByAccount(ctx, userID, e.AccountID)
	return err
}

func (s *FeedService) onDomainBlocked(ctx context.Context, e events.DomainBlockedEvent) error {
	userID, ok, err := s.accounts.UserIDForAccount(ctx, e.BlockerID)
	if err != nil || !ok {
		return err
	}
	_, err = s.feeds.DeleteForUserByDomain(ctx, userID, e.Domain)
	return err
}

func (s *FeedService) onAccountUnfollowed(ctx context.Context, e events.AccountUnfollowedEvent) error {
	userID, ok, err := s.accounts.UserIDForAccount(ctx, e.FollowerID)
	if err != nil || !ok {
		return err
	}
	_, err = s.feeds.DeleteFollowedForUser(ctx, userID, e.AccountID)
	return err
}

// GetFeed returns a page of the user's feed: notes for FeedInbox, articles for FeedReader.
func (s *FeedService) GetFeed(ctx context.Context, userID uint, kind FeedKind, cursor uint, limit int) ([]models.Feed, error) {
	var postType models.PostType
	switch kind {
	case FeedInbox:
		postType = models.PostTypeNote
	case FeedReader:
		postType = models.PostTypeArticle
	default:
		return nil, models.NewValidationError("unknown feed " + string(kind))
	}
	return s.feeds.List(ctx, userID, &postType, cursor, limit)
}
