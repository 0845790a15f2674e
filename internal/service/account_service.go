package service

import (
	"context"
	"strings"

	"outpost/internal/domain"
	"outpost/internal/models"
	"outpost/internal/repository"
)

// AccountService applies relationship and profile actions of local users.
type AccountService struct {
	accounts repository.AccountRepository
	resolver ActorResolver
	follows  FollowRequester
}

// NewAccountService returns a new AccountService.
func NewAccountService(accounts repository.AccountRepository, resolver ActorResolver, follows FollowRequester) *AccountService {
	return &AccountService{accounts: accounts, resolver: resolver, follows: follows}
}

// FollowResult tells the caller whether the follow is in place or waiting for the remote server.
type FollowResult struct {
	Account *domain.Account
	Pending bool
}

func (s *AccountService) actor(ctx context.Context, userID uint) (*domain.Account, error) {
	return s.accounts.GetByUserID(ctx, userID)
}

// Follow follows the account behind handle (user@host). Local accounts are
// followed immediately; remote ones get a Follow activity and the relation is
// stored when they accept. Following yourself changes nothing, and a block
// in either direction refuses the follow.
func (s *AccountService) Follow(ctx context.Context, userID uint, handle string) (*FollowResult, error) {
	me, err := s.actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	target, err := s.resolver.ResolveHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if target.ID == me.ID {
		return &FollowResult{Account: me}, nil
	}
	if err := s.checkNotBlocked(ctx, me, target); err != nil {
		return nil, err
	}

	if target.Internal {
		me.Follow(target)
		if err := s.accounts.Save(ctx, me); err != nil {
			return nil, err
		}
		return &FollowResult{Account: target}, nil
	}

	following, err := s.accounts.IsFollowing(ctx, me.ID, target.ID)
	if err != nil {
		return nil, err
	}
	if following {
		return &FollowResult{Account: target}, nil
	}
	if err := s.follows.SendFollow(ctx, me, target); err != nil {
		return nil, err
	}
	return &FollowResult{Account: target, Pending: true}, nil
}

func (s *AccountService) checkNotBlocked(ctx context.Context, me, target *domain.Account) error {
	blocked, err := s.accounts.IsBlocking(ctx, me.ID, target)
	if err != nil {
		return err
	}
	if !blocked && target.Internal {
		blocked, err = s.accounts.IsBlocking(ctx, target.ID, me)
		if err != nil {
			return err
		}
	}
	if blocked {
		return models.NewForbiddenError("Cannot follow a blocked account")
	}
	return nil
}

// Unfollow removes the follow of handle. Remote accounts are sent an Undo by the publisher.
func (s *AccountService) Unfollow(ctx context.Context, userID uint, handle string) (*domain.Account, error) {
	me, err := s.actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	target, err := s.resolver.ResolveHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	me.Unfollow(target)
	if err := s.accounts.Save(ctx, me); err != nil {
		return nil, err
	}
	return target, nil
}

// Block blocks the account with accountID.
func (s *AccountService) Block(ctx context.Context, userID, accountID uint) error {
	return s.withTarget(ctx, userID, accountID, (*domain.Account).Block)
}

// Unblock lifts a block on accountID.
func (s *AccountService) Unblock(ctx context.Context, userID, accountID uint) error {
	return s.withTarget(ctx, userID, accountID, (*domain.Account).Unblock)
}

func (s *AccountService) withTarget(ctx context.Context, userID, accountID uint, apply func(*domain.Account, *domain.Account)) error {
	me, err := s.actor(ctx, userID)
	if err != nil {
		return err
	}
	target, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	apply(me, target)
	return s.accounts.Save(ctx, me)
}

// BlockDomain hides every account on domain from the user.
func (s *AccountService) BlockDomain(ctx context.Context, userID uint, domainName string) error {
	d, err := normalizeDomain(domainName)
	if err != nil {
		return err
	}
	me, err := s.actor(ctx, userID)
	if err != nil {
		return err
	}
	me.BlockDomain(d)
	return s.accounts.Save(ctx, me)
}

// UnblockDomain lifts a domain block.
func (s *AccountService) UnblockDomain(ctx context.Context, userID uint, domainName string) error {
	d, err := normalizeDomain(domainName)
	if err != nil {
		return err
	}
	me, err := s.actor(ctx, userID)
	if err != nil {
		return err
	}
	me.UnblockDomain(d)
	return s.accounts.Save(ctx, me)
}

func normalizeDomain(raw string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" || strings.ContainsAny(d, "/@ ") {
		return "", models.NewValidationError("Invalid domain")
	}
	return d, nil
}

// UpdateProfile applies profile changes to the user's account.
func (s *AccountService) UpdateProfile(ctx context.Context, userID uint, u domain.ProfileUpdate) (*domain.Account, error) {
	me, err := s.actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !me.UpdateProfile(u) {
		return me, nil
	}
	if err := s.accounts.Save(ctx, me); err != nil {
		return nil, err
	}
	return me, nil
}
