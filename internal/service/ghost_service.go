package service

import (
	"context"
	"time"

	"outpost/internal/domain"
	"outpost/internal/ghost"
	"outpost/internal/models"
	"outpost/internal/repository"

	"gorm.io/datatypes"
)

// SiteAccountUsername is the username of the actor that publishes a site's posts.
const SiteAccountUsername = "index"

// GhostService turns Ghost CMS webhooks into posts and profile updates of the site actor.
type GhostService struct {
	sites     repository.SiteRepository
	accounts  repository.AccountRepository
	posts     repository.PostRepository
	kv        repository.KeyValueRepository
	tolerance time.Duration
	now       func() time.Time
}

// NewGhostService returns a new GhostService. Signatures older than tolerance are rejected.
func NewGhostService(
	sites repository.SiteRepository,
	accounts repository.AccountRepository,
	posts repository.PostRepository,
	kv repository.KeyValueRepository,
	tolerance time.Duration,
) *GhostService {
	return &GhostService{
		sites:     sites,
		accounts:  accounts,
		posts:     posts,
		kv:        kv,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// CheckWebhook authenticates a webhook for host and returns its site. A
// signature is accepted once.
func (s *GhostService) CheckWebhook(ctx context.Context, host string, body []byte, header string) (*models.Site, error) {
	site, err := s.sites.GetByHost(ctx, host)
	if err != nil {
		return nil, err
	}
	sig, err := ghost.Verify(site.WebhookSecret, body, header, s.now(), s.tolerance)
	if err != nil {
		return nil, err
	}
	fresh, err := s.kv.SetIfAbsent(ctx, sig.Key(), datatypes.JSON(`true`), 2*s.tolerance)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, models.NewValidationError("webhook signature already used")
	}
	return site, nil
}

func (s *GhostService) siteAccount(ctx context.Context, site *models.Site) (*domain.Account, error) {
	return s.accounts.GetLocalByHandle(ctx, site.Host, SiteAccountUsername)
}

func audienceFor(p ghost.Post) models.Audience {
	if p.IsPublic() {
		return models.AudiencePublic
	}
	return models.AudienceFollowersOnly
}

// PostPublished creates an article for a newly published Ghost post. It
// returns nil for posts Ghost has not published and a conflict when the post
// uuid already exists.
func (s *GhostService) PostPublished(ctx context.Context, site *models.Site, payload *ghost.PostPayload) (*domain.Post, error) {
	in := payload.Post.Current
	if !in.IsPublished() {
		return nil, nil
	}
	if _, err := s.posts.GetByUUID(ctx, in.UUID); err == nil {
		return nil, models.NewConflictError("post " + in.UUID + " already published")
	} else if !models.IsNotFound(err) {
		return nil, err
	}

	author, err := s.siteAccount(ctx, site)
	if err != nil {
		return nil, err
	}
	var published time.Time
	if in.PublishedAt != nil {
		published = in.PublishedAt.UTC()
	}
	post := domain.NewPost(author, domain.PostInput{
		Type:        models.PostTypeArticle,
		Audience:    audienceFor(in),
		Title:       in.Title,
		Excerpt:     in.Summary(),
		Content:     in.HTML,
		URL:         in.URL,
		ImageURL:    in.FeatureImage,
		PublishedAt: published,
		UUID:        in.UUID,
	})
	if err := s.posts.Save(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// PostUpdated applies an edit of an already federated Ghost post. An edit
// of a post never seen before is treated as a publish.
func (s *GhostService) PostUpdated(ctx context.Context, site *models.Site, payload *ghost.PostPayload) (*domain.Post, error) {
	in := payload.Post.Current
	post, err := s.posts.GetByUUID(ctx, in.UUID)
	if models.IsNotFound(err) {
		return s.PostPublished(ctx, site, payload)
	}
	if err != nil {
		return nil, err
	}

	author, err := s.siteAccount(ctx, site)
	if err != nil {
		return nil, err
	}
	summary := in.Summary()
	if _, err := post.Update(author, domain.PostUpdate{
		Title:    &in.Title,
		Excerpt:  &summary,
		Content:  &in.HTML,
		ImageURL: &in.FeatureImage,
		URL:      &in.URL,
	}); err != nil {
		return nil, models.NewUnauthorizedError("post belongs to another account")
	}
	if err := s.posts.Save(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// SiteChanged mirrors site settings onto the site actor's profile.
func (s *GhostService) SiteChanged(ctx context.Context, site *models.Site, payload *ghost.SitePayload) (*domain.Account, error) {
	account, err := s.siteAccount(ctx, site)
	if err != nil {
		return nil, err
	}
	in := payload.Site
	account.UpdateProfile(domain.ProfileUpdate{
		Name:           &in.Title,
		Bio:            &in.Description,
		AvatarURL:      &in.Icon,
		BannerImageURL: &in.CoverImage,
	})
	if err := s.accounts.Save(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}
