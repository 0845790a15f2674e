// Package service holds the business logic between the HTTP layer and the
// repositories, including the event reactors that keep feeds and
// notifications in step with the account/post graph.
package service

import (
	"context"
	"net/url"

	"outpost/internal/domain"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// VisibilityFilter drops users that must not see a post or an interaction.
type VisibilityFilter interface {
	FilterUsersForPost(ctx context.Context, userIDs []uint, post *domain.Post, reposterID uint) ([]uint, error)
	FilterUsersForAccountInteraction(ctx context.Context, userIDs []uint, accountID uint) ([]uint, error)
}

// LivePublisher pushes a payload to a user's live notification stream.
type LivePublisher interface {
	PublishUser(ctx context.Context, userID uint, payload string) error
}

// ActorResolver finds or fetches accounts by handle or actor id.
type ActorResolver interface {
	ResolveHandle(ctx context.Context, handle string) (*domain.Account, error)
	ResolveActor(ctx context.Context, id *url.URL) (*domain.Account, error)
}

// FollowRequester sends a Follow activity to a remote account. The follow
// relation is stored once the remote server accepts.
type FollowRequester interface {
	SendFollow(ctx context.Context, follower, target *domain.Account) error
}
