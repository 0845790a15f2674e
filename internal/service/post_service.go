package service

import (
	"context"
	"strings"

	"outpost/internal/domain"
	"outpost/internal/models"
	"outpost/internal/repository"
)

// PostService applies post actions of local users.
type PostService struct {
	accounts repository.AccountRepository
	posts    repository.PostRepository
	resolver ActorResolver
}

// NewPostService returns a new PostService.
func NewPostService(accounts repository.AccountRepository, posts repository.PostRepository, resolver ActorResolver) *PostService {
	return &PostService{accounts: accounts, posts: posts, resolver: resolver}
}

// NoteInput is the body of a note or reply written by a local user.
type NoteInput struct {
	Content  string   `json:"content" validate:"required,max=10000"`
	Mentions []string `json:"mentions" validate:"max=20,dive,required"`
	Audience string   `json:"audience" validate:"omitempty,oneof=public followers"`
}

func (in NoteInput) audience() models.Audience {
	if in.Audience == "followers" {
		return models.AudienceFollowersOnly
	}
	return models.AudiencePublic
}

type postAction func(p *domain.Post, by *domain.Account)

func (s *PostService) interact(ctx context.Context, userID, postID uint, apply postAction) (*domain.Post, error) {
	me, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	apply(post, me)
	if err := s.posts.Save(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// Like likes postID.
func (s *PostService) Like(ctx context.Context, userID, postID uint) (*domain.Post, error) {
	return s.interact(ctx, userID, postID, (*domain.Post).AddLike)
}

// Unlike withdraws a like on postID.
func (s *PostService) Unlike(ctx context.Context, userID, postID uint) (*domain.Post, error) {
	return s.interact(ctx, userID, postID, (*domain.Post).RemoveLike)
}

// Repost reposts postID. Only public posts can be reposted.
func (s *PostService) Repost(ctx context.Context, userID, postID uint) (*domain.Post, error) {
	return s.interact(ctx, userID, postID, func(p *domain.Post, by *domain.Account) {
		if p.Audience == models.AudiencePublic {
			p.AddRepost(by)
		}
	})
}

// Derepost undoes a repost of postID.
func (s *PostService) Derepost(ctx context.Context, userID, postID uint) (*domain.Post, error) {
	return s.interact(ctx, userID, postID, (*domain.Post).RemoveRepost)
}

func (s *PostService) resolveMentions(ctx context.Context, handles []string) ([]*domain.Account, error) {
	out := make([]*domain.Account, 0, len(handles))
	for _, h := range handles {
		h = strings.TrimPrefix(strings.TrimSpace(h), "@")
		if h == "" {
			continue
		}
		account, err := s.resolver.ResolveHandle(ctx, h)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, nil
}

// CreateNote publishes a standalone note by the user.
func (s *PostService) CreateNote(ctx context.Context, userID uint, in NoteInput) (*domain.Post, error) {
	me, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	mentions, err := s.resolveMentions(ctx, in.Mentions)
	if err != nil {
		return nil, err
	}
	post := domain.NewPost(me, domain.PostInput{
		Type:     models.PostTypeNote,
		Audience: in.audience(),
		Content:  in.Content,
		Mentions: mentions,
	})
	if err := s.posts.Save(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// Reply publishes a note replying to postID.
func (s *PostService) Reply(ctx context.Context, userID, postID uint, in NoteInput) (*domain.Post, error) {
	me, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	parent, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	mentions, err := s.resolveMentions(ctx, in.Mentions)
	if err != nil {
		return nil, err
	}
	reply := domain.NewReply(me, parent, domain.PostInput{
		Audience: in.audience(),
		Content:  in.Content,
		Mentions: mentions,
	})
	if err := s.posts.Save(ctx, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Delete deletes one of the user's posts.
func (s *PostService) Delete(ctx context.Context, userID, postID uint) error {
	me, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if err := post.Delete(me); err != nil {
		return models.NewUnauthorizedError("You can only delete your own posts")
	}
	return s.posts.Save(ctx, post)
}
