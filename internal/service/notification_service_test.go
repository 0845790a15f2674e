package service

import (
	"context"
	"testing"

	"outpost/internal/domain"
	"outpost/internal/events"
	"outpost/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationService_ReplayedLikeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	aliceUser, alice := h.local()
	bob := h.remote("bob.example")
	post := h.publish(alice, domain.PostInput{})

	e := events.PostLikedEvent{PostID: post.ID, PostAuthorID: alice.ID, AccountID: bob.ID}
	h.bus.Publish(ctx, e)
	h.bus.Publish(ctx, e)

	rows := h.notificationsOf(aliceUser)
	require.Len(t, rows, 1)
	assert.Equal(t, models.NotificationLike, rows[0].EventType)
	assert.Equal(t, bob.ID, rows[0].AccountID)
	require.NotNil(t, rows[0].PostID)
	assert.Equal(t, post.ID, *rows[0].PostID)
	assert.Equal(t, 1, h.live.count(aliceUser))

	unread, err := h.notifier.UnreadCount(ctx, aliceUser)
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread)

	require.NoError(t, h.notifier.MarkAllRead(ctx, aliceUser))
	unread, err = h.notifier.UnreadCount(ctx, aliceUser)
	require.NoError(t, err)
	assert.Zero(t, unread)
	assert.Equal(t, 2, h.live.count(aliceUser))
}

func TestNotificationService_SkipsSelfAndRemote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	aliceUser, alice := h.local()
	bob := h.remote("bob.example")
	own := h.publish(alice, domain.PostInput{})
	remote := h.publish(bob, domain.PostInput{})

	_, err := h.post.Like(ctx, aliceUser, own.ID)
	require.NoError(t, err)
	_, err = h.post.Like(ctx, aliceUser, remote.ID)
	require.NoError(t, err)

	assert.Empty(t, h.notificationsOf(aliceUser))
}

func TestNotificationService_MentionOnReplyNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	aliceUser, alice := h.local()
	carolUser, carol := h.local()
	daveUser, dave := h.local()
	parent := h.publish(alice, domain.PostInput{})

	reply, err := h.post.Reply(ctx, carolUser, parent.ID, NoteInput{
		Content:  "<p>@alice @dave agreed</p>",
		Mentions: []string{alice.Handle(), "@" + dave.Handle()},
	})
	require.NoError(t, err)

	aliceRows := h.notificationsOf(aliceUser)
	require.Len(t, aliceRows, 1)
	assert.Equal(t, models.NotificationReply, aliceRows[0].EventType)
	assert.Equal(t, carol.ID, aliceRows[0].AccountID)
	require.NotNil(t, aliceRows[0].InReplyToPostID)
	assert.Equal(t, parent.ID, *aliceRows[0].InReplyToPostID)

	daveRows := h.notificationsOf(daveUser)
	require.Len(t, daveRows, 1)
	assert.Equal(t, models.NotificationMention, daveRows[0].EventType)
	assert.Equal(t, reply.ID, *daveRows[0].PostID)

	got, err := h.posts.GetByID(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReplyCount)
}

func TestNotificationService_BlockedActorsAreFiltered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	aliceUser, alice := h.local()
	bob := h.remote("bob.example")
	charlie := h.remote("charlie.example")
	post := h.publish(alice, domain.PostInput{})

	h.bus.Publish(ctx, events.PostLikedEvent{PostID: post.ID, PostAuthorID: alice.ID, AccountID: bob.ID})
	h.bus.Publish(ctx, events.PostRepostedEvent{PostID: post.ID, PostAuthorID: alice.ID, AccountID: charlie.ID})
	require.Len(t, h.notificationsOf(aliceUser), 2)

	// Blocking removes existing notifications from the account.
	require.NoError(t, h.account.Block(ctx, aliceUser, bob.ID))
	rows := h.notificationsOf(aliceUser)
	require.Len(t, rows, 1)
	assert.Equal(t, charlie.ID, rows[0].AccountID)

	// ... and suppresses new ones.
	h.follow(bob, alice)
	assert.Len(t, h.notificationsOf(aliceUser), 1)

	require.NoError(t, h.account.BlockDomain(ctx, aliceUser, "charlie.example"))
	assert.Empty(t, h.notificationsOf(aliceUser))
	h.bus.Publish(ctx, events.PostLikedEvent{PostID: post.ID, PostAuthorID: alice.ID, AccountID: charlie.ID})
	assert.Empty(t, h.notificationsOf(aliceUser))
}

func TestNotificationService_PostDeletedClearsRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	aliceUser, alice := h.local()
	bob := h.remote("bob.example")
	post := h.publish(alice, domain.PostInput{})

	h.bus.Publish(ctx, events.PostLikedEvent{PostID: post.ID, PostAuthorID: alice.ID, AccountID: bob.ID})
	require.Len(t, h.notificationsOf(aliceUser), 1)

	require.NoError(t, h.post.Delete(ctx, aliceUser, post.ID))
	assert.Empty(t, h.notificationsOf(aliceUser))
}

func TestNotificationService_DomainBlockPurgesThatDomain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	aliceUser, alice := h.local()
	_, carol := h.local()
	bob := h.remote("spam.example")
	bobTwin := h.remote("spam.example")
	post := h.publish(alice, domain.PostInput{})

	h.follow(bob, alice)
	h.bus.Publish(ctx, events.PostLikedEvent{PostID: post.ID, PostAuthorID: alice.ID, AccountID: bobTwin.ID})
	h.bus.Publish(ctx, events.PostLikedEvent{PostID: post.ID, PostAuthorID: alice.ID, AccountID: carol.ID})
	require.Len(t, h.notificationsOf(aliceUser), 3)

	require.NoError(t, h.account.BlockDomain(ctx, aliceUser, "spam.example"))

	rows := h.notificationsOf(aliceUser)
	require.Len(t, rows, 1)
	assert.Equal(t, carol.ID, rows[0].AccountID)
}
