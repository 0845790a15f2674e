package service

import (
	"context"
	"testing"

	"outpost/internal/domain"
	"outpost/internal/models"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedService_FollowPublishDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	aliceUser, alice := h.local()
	carolUser, _ := h.local()
	bob := h.remote("bob.example")

	res, err := h.account.Follow(ctx, carolUser, alice.Handle())
	require.NoError(t, err)
	assert.False(t, res.Pending)
	h.follow(bob, alice)

	post, err := h.post.CreateNote(ctx, aliceUser, NoteInput{Content: "<p>first</p>"})
	require.NoError(t, err)

	for _, userID := range []uint{aliceUser, carolUser} {
		rows := h.feedOf(userID)
		require.Len(t, rows, 1, "user %d", userID)
		assert.Equal(t, post.ID, rows[0].PostID)
		assert.Zero(t, rows[0].RepostedByID)
	}

	follows := lo.Filter(h.notificationsOf(aliceUser), func(n models.Notification, _ int) bool {
		return n.EventType == models.NotificationFollow
	})
	assert.Len(t, follows, 2)

	require.NoError(t, h.post.Delete(ctx, aliceUser, post.ID))
	assert.Empty(t, h.feedOf(aliceUser))
	assert.Empty(t, h.feedOf(carolUser))

	err = h.post.Delete(ctx, carolUser, post.ID)
	assert.True(t, models.IsNotFound(err))
}

func TestFeedService_UnfollowRemovesRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, alice := h.local()
	carolUser, _ := h.local()

	_, err := h.account.Follow(ctx, carolUser, alice.Handle())
	require.NoError(t, err)
	h.publish(alice, domain.PostInput{})
	require.Len(t, h.feedOf(carolUser), 1)

	_, err = h.account.Unfollow(ctx, carolUser, alice.Handle())
	require.NoError(t, err)
	assert.Empty(t, h.feedOf(carolUser))
}

func TestFeedService_AudienceRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, alice := h.local()
	carolUser, carol := h.local()
	h.follow(carol, alice)

	direct := h.publish(alice, domain.PostInput{Audience: models.AudienceDirect})
	followers := h.publish(alice, domain.PostInput{Audience: models.AudienceFollowersOnly})
	article := h.publish(alice, domain.PostInput{Type: models.PostTypeArticle, Title: "Long read"})

	rows := h.feedOf(carolUser)
	ids := lo.Map(rows, func(r models.Feed, _ int) uint { return r.PostID })
	assert.NotContains(t, ids, direct.ID)
	assert.Contains(t, ids, followers.ID)
	assert.Contains(t, ids, article.ID)

	notes, err := h.feed.GetFeed(ctx, carolUser, FeedInbox, 0, 20)
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	articles, err := h.feed.GetFeed(ctx, carolUser, FeedReader, 0, 20)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, article.ID, articles[0].PostID)

	_, err = h.feed.GetFeed(ctx, carolUser, FeedKind("everything"), 0, 20)
	assert.True(t, models.IsValidation(err))

	// Followers-only posts cannot be reposted.
	_, err = h.post.Repost(ctx, carolUser, followers.ID)
	require.NoError(t, err)
	got, err := h.posts.GetByID(ctx, followers.ID)
	require.NoError(t, err)
	assert.Zero(t, got.RepostCount)
}

func TestFeedService_BlockAndRepost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	carolUser, carol := h.local()
	daveUser, dave := h.local()
	bob := h.remote("bob.example")
	h.follow(carol, dave)

	original := h.publish(bob, domain.PostInput{})

	// Carol blocks the author: dave's repost must not reach her.
	h.block(carol, bob)
	_, err := h.post.Repost(ctx, daveUser, original.ID)
	require.NoError(t, err)
	assert.Empty(t, h.feedOf(carolUser))

	daveRows := h.feedOf(daveUser)
	require.Len(t, daveRows, 1)
	assert.Equal(t, dave.ID, daveRows[0].RepostedByID)

	// Dereposting removes the attributed rows.
	_, err = h.post.Derepost(ctx, daveUser, original.ID)
	require.NoError(t, err)
	assert.Empty(t, h.feedOf(daveUser))
}

func TestFeedService_AuthorBlockingReposterHidesRepost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	carolUser, carol := h.local()
	daveUser, dave := h.local()
	bob := h.remote("bob.example")
	h.follow(carol, dave)
	h.f.Block(&models.Account{ID: bob.ID}, &models.Account{ID: dave.ID})

	original := h.publish(bob, domain.PostInput{})
	_, err := h.post.Repost(ctx, daveUser, original.ID)
	require.NoError(t, err)

	assert.Empty(t, h.feedOf(carolUser))
	assert.Empty(t, h.feedOf(daveUser))
}

func TestFeedService_DomainBlockClearsFeed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	carolUser, carol := h.local()
	bob := h.remote("bob.example")
	h.follow(carol, bob)
	h.publish(bob, domain.PostInput{})
	require.Len(t, h.feedOf(carolUser), 1)

	require.NoError(t, h.account.BlockDomain(ctx, carolUser, "Bob.Example"))
	assert.Empty(t, h.feedOf(carolUser))

	// Posts from the blocked domain no longer materialize.
	h.publish(bob, domain.PostInput{})
	assert.Empty(t, h.feedOf(carolUser))

	assert.True(t, models.IsValidation(h.account.BlockDomain(ctx, carolUser, "bad/domain")))
}

func TestFeedService_DerepostKeepsOriginalForAuthorFollowers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	carolUser, carol := h.local()
	daveUser, dave := h.local()
	bob := h.remote("bob.example")
	h.follow(carol, bob)
	h.follow(carol, dave)

	original := h.publish(bob, domain.PostInput{})
	_, err := h.post.Repost(ctx, daveUser, original.ID)
	require.NoError(t, err)
	require.Len(t, h.feedOf(carolUser), 2)

	_, err = h.post.Derepost(ctx, daveUser, original.ID)
	require.NoError(t, err)

	rows := h.feedOf(carolUser)
	require.Len(t, rows, 1)
	assert.Equal(t, original.ID, rows[0].PostID)
	assert.Zero(t, rows[0].RepostedByID)
}

func TestFeedService_UnfollowKeepsRepostsByFollowedAccounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	carolUser, carol := h.local()
	daveUser, dave := h.local()
	bob := h.remote("bob.example")
	h.follow(carol, bob)
	h.follow(carol, dave)

	original := h.publish(bob, domain.PostInput{})
	_, err := h.post.Repost(ctx, daveUser, original.ID)
	require.NoError(t, err)
	require.Len(t, h.feedOf(carolUser), 2)

	_, err = h.account.Unfollow(ctx, carolUser, bob.Handle())
	require.NoError(t, err)

	rows := h.feedOf(carolUser)
	require.Len(t, rows, 1)
	assert.Equal(t, dave.ID, rows[0].RepostedByID)
}
