package federation

import (
	"testing"
	"time"

	"outpost/internal/activitypub"
	"outpost/internal/domain"
	"outpost/internal/models"
	"outpost/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func note(author *domain.Account, extra map[string]interface{}) map[string]interface{} {
	obj := map[string]interface{}{
		"id":           remoteID(author, "notes"),
		"type":         activitypub.TypeNote,
		"attributedTo": author.ApID.String(),
		"content":      "<p>hello from afar</p>",
		"to":           []string{activitypub.PublicCollection},
		"cc":           []string{author.FollowersURL},
		"published":    time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		obj[k] = v
	}
	return obj
}

func TestDispatcher_FollowStoresRelationAndAccepts(t *testing.T) {
	fx := newFedFixture(t)
	follow := fx.inbound(map[string]interface{}{
		"id":     remoteID(fx.remote, "activities"),
		"type":   activitypub.TypeFollow,
		"actor":  fx.remote.ApID.String(),
		"object": fx.local.ApID.String(),
	})

	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, follow))

	following, err := fx.accounts.IsFollowing(fx.ctx, fx.remote.ID, fx.local.ID)
	require.NoError(t, err)
	assert.True(t, following)

	jobs := fx.queue.jobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, fx.remote.Inbox.String(), jobs[0].Inbox)
	assert.Equal(t, fx.local.ID, jobs[0].AccountID)
	accept := decodeActivity(t, jobs[0].Body)
	assert.Equal(t, activitypub.TypeAccept, accept.Type)
	assert.Equal(t, follow.ID, accept.Object.ID())
}

func TestDispatcher_FollowFromBlockedActorIsRejected(t *testing.T) {
	tests := []struct {
		name  string
		block func(fx *fedFixture)
	}{
		{
			name:  "account block",
			block: func(fx *fedFixture) { fx.f.Block(&models.Account{ID: fx.local.ID}, fx.remoteRow) },
		},
		{
			name:  "domain block",
			block: func(fx *fedFixture) { fx.f.DomainBlock(&models.Account{ID: fx.local.ID}, "remote.example") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFedFixture(t)
			tt.block(fx)
			follow := fx.inbound(map[string]interface{}{
				"id":     remoteID(fx.remote, "activities"),
				"type":   activitypub.TypeFollow,
				"actor":  fx.remote.ApID.String(),
				"object": fx.local.ApID.String(),
			})

			require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, follow))

			following, err := fx.accounts.IsFollowing(fx.ctx, fx.remote.ID, fx.local.ID)
			require.NoError(t, err)
			assert.False(t, following)

			jobs := fx.queue.jobs(t)
			require.Len(t, jobs, 1)
			reject := decodeActivity(t, jobs[0].Body)
			assert.Equal(t, activitypub.TypeReject, reject.Type)
			assert.Equal(t, follow.ID, reject.Object.ID())

			fx.queue.reset()
			fx.localPost("<p>not for you</p>")
			assert.Empty(t, fx.queue.jobs(t), "a refused follower gets no deliveries")
		})
	}
}

func TestDispatcher_ReplayIsIgnored(t *testing.T) {
	fx := newFedFixture(t)
	follow := fx.inbound(map[string]interface{}{
		"id":     remoteID(fx.remote, "activities"),
		"type":   activitypub.TypeFollow,
		"actor":  fx.remote.ApID.String(),
		"object": fx.local.ApID.String(),
	})

	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, follow))
	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, follow))

	assert.Len(t, fx.queue.jobs(t), 1, "a replayed follow must not be accepted twice")
	_, seen, err := fx.kv.Get(fx.ctx, "activity:"+follow.ID)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestDispatcher_FollowOfUnknownAccountIsIgnored(t *testing.T) {
	fx := newFedFixture(t)
	follow := fx.inbound(map[string]interface{}{
		"id":     remoteID(fx.remote, "activities"),
		"type":   activitypub.TypeFollow,
		"actor":  fx.remote.ApID.String(),
		"object": "https://local.example/users/nobody",
	})

	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, follow))
	assert.Empty(t, fx.queue.jobs(t))
}

func TestDispatcher_UnreachableSenderIsDropped(t *testing.T) {
	fx := newFedFixture(t)
	like := fx.inbound(map[string]interface{}{
		"id":     "https://gone.example/activities/1",
		"type":   activitypub.TypeLike,
		"actor":  "https://gone.example/users/ghost",
		"object": "https://local.example/posts/whatever",
	})

	assert.NoError(t, fx.dispatcher.Dispatch(fx.ctx, like))
}

func TestDispatcher_AcceptCompletesOutgoingFollow(t *testing.T) {
	fx := newFedFixture(t)
	require.NoError(t, fx.publisher.SendFollow(fx.ctx, fx.local, fx.remote))
	jobs := fx.queue.jobs(t)
	require.Len(t, jobs, 1)
	follow := decodeActivity(t, jobs[0].Body)
	require.Equal(t, activitypub.TypeFollow, follow.Type)

	following, err := fx.accounts.IsFollowing(fx.ctx, fx.local.ID, fx.remote.ID)
	require.NoError(t, err)
	require.False(t, following, "a follow is pending until accepted")

	accept := fx.inbound(map[string]interface{}{
		"id":     remoteID(fx.remote, "activities"),
		"type":   activitypub.TypeAccept,
		"actor":  fx.remote.ApID.String(),
		"object": follow.ID,
	})
	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, accept))

	following, err = fx.accounts.IsFollowing(fx.ctx, fx.local.ID, fx.remote.ID)
	require.NoError(t, err)
	assert.True(t, following)
}

func TestDispatcher_AcceptAfterBlockStoresNothing(t *testing.T) {
	fx := newFedFixture(t)
	require.NoError(t, fx.publisher.SendFollow(fx.ctx, fx.local, fx.remote))
	follow := decodeActivity(t, fx.queue.jobs(t)[0].Body)
	fx.f.Block(&models.Account{ID: fx.local.ID}, fx.remoteRow)

	accept := fx.inbound(map[string]interface{}{
		"id":     remoteID(fx.remote, "activities"),
		"type":   activitypub.TypeAccept,
		"actor":  fx.remote.ApID.String(),
		"object": follow.ID,
	})
	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, accept))

	following, err := fx.accounts.IsFollowing(fx.ctx, fx.local.ID, fx.remote.ID)
	require.NoError(t, err)
	assert.False(t, following)
}

func TestDispatcher_AcceptFromAnotherActorIsDropped(t *testing.T) {
	fx := newFedFixture(t)
	_, other := fx.addRemote("other.example")
	require.NoError(t, fx.publisher.SendFollow(fx.ctx, fx.local, fx.remote))
	follow := decodeActivity(t, fx.queue.jobs(t)[0].Body)

	accept := fx.inbound(map[string]interface{}{
		"id":     remoteID(other, "activities"),
		"type":   activitypub.TypeAccept,
		"actor":  other.ApID.String(),
		"object": follow.ID,
	})
	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, accept))

	following, err := fx.accounts.IsFollowing(fx.ctx, fx.local.ID, fx.remote.ID)
	require.NoError(t, err)
	assert.False(t, following)
}

func TestDispatcher_UndoFollow(t *testing.T) {
	fx := newFedFixture(t)
	fx.f.Follow(fx.remoteRow, &models.Account{ID: fx.local.ID})

	undo := fx.inbound(map[string]interface{}{
		"id":    remoteID(fx.remote, "activities"),
		"type":  activitypub.TypeUndo,
		"actor": fx.remote.ApID.String(),
		"object": map[string]interface{}{
			"id":     remoteID(fx.remote, "activities"),
			"type":   activitypub.TypeFollow,
			"actor":  fx.remote.ApID.String(),
			"object": fx.local.ApID.String(),
		},
	})
	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, undo))

	following, err := fx.accounts.IsFollowing(fx.ctx, fx.remote.ID, fx.local.ID)
	require.NoError(t, err)
	assert.False(t, following)
}

func TestDispatcher_CreateStoresPost(t *testing.T) {
	fx := newFedFixture(t)
	obj := note(fx.remote, map[string]interface{}{
		"tag": []map[string]string{{"type": activitypub.TypeMention, "href": fx.local.ApID.String()}},
	})
	create := fx.inbound(map[string]interface{}{
		"id":     remoteID(fx.remote, "activities"),
		"type":   activitypub.TypeCreate,
		"actor":  fx.remote.ApID.String(),
		"object": obj,
	})

	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, create))

	post, err := fx.posts.GetByApID(fx.ctx, obj["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "<p>hello from afar</p>", post.Content)
	assert.Equal(t, models.AudiencePublic, post.Audience)
	assert.Equal(t, fx.remote.ID, post.Author.ID)
	assert.True(t, post.MentionsAccount(fx.local.ID))
	assert.Empty(t, fx.queue.jobs(t), "remote posts are never re-published")

	again := fx.inbound(map[string]interface{}{
		"id":     remoteID(fx.remote, "activities"),
		"type":   activitypub.TypeCreate,
		"actor":  fx.remote.ApID.String(),
		"object": obj,
	})
	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, again))
	var count int64
	require.NoError(t, fx.f.DB().Model(&models.Post{}).Where("ap_id = ?", obj["id"]).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDispatcher_CreateWithForeignAttributionIsDropped(t *testing.T) {
	fx := newFedFixture(t)
	_, other := fx.addRemote("other.example")
	obj := note(other, nil)
	create := fx.inbound(map[string]interface{}{
		"id":     remoteID(fx.remote, "activities"),
		"type":   activitypub.TypeCreate,
		"actor":  fx.remote.ApID.String(),
		"object": obj,
	})

	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, create))

	_, err := fx.posts.GetByApID(fx.ctx, obj["id"].(string))
	assert.True(t, models.IsNotFound(err))
}

func TestDispatcher_CreateReplyLinksLocalParent(t *testing.T) {
	fx := newFedFixture(t)
	parent := fx.localPost("<p>original</p>")
	obj := note(fx.remote, map[string]interface{}{"inReplyTo": parent.ApID.String()})
	create := fx.inbound(map[string]interface{}{
		"id":     remoteID(fx.remote, "activities"),
		"type":   activitypub.TypeCreate,
		"actor":  fx.remote.ApID.String(),
		"object": obj,
	})

	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, create))

	reply, err := fx.posts.GetByApID(fx.ctx, obj["id"].(string))
	require.NoError(t, err)
	require.NotNil(t, reply.InReplyTo)
	assert.Equal(t, parent.ID, *reply.InReplyTo)
	require.NotNil(t, reply.ThreadRoot)
	assert.Equal(t, parent.ID, *reply.ThreadRoot)

	reloaded, err := fx.posts.GetByID(fx.ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.ReplyCount)
}

func TestDispatcher_LikeAndUndoLike(t *testing.T) {
	fx := newFedFixture(t)
	post := fx.localPost("<p>like me</p>")
	like := map[string]interface{}{
		"id":     remoteID(fx.remote, "activities"),
		"type":   activitypub.TypeLike,
		"actor":  fx.remote.ApID.String(),
		"object": post.ApID.String(),
	}
	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, fx.inbound(like)))

	liked, err := fx.posts.GetByID(fx.ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, liked.LikeCount)

	delete(like, "@context")
	undo := fx.inbound(map[string]interface{}{
		"id":     remoteID(fx.remote, "activities"),
		"type":   activitypub.TypeUndo,
		"actor":  fx.remote.ApID.String(),
		"object": like,
	})
	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, undo))

	unliked, err := fx.posts.GetByID(fx.ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, unliked.LikeCount)
}

func TestDispatcher_AnnounceFetchesUnknownPost(t *testing.T) {
	fx := newFedFixture(t)
	_, origin := fx.addRemote("origin.example")
	id := remoteID(origin, "notes")
	fx.remotes.objects[id] = &activitypub.Note{ObjectBase: activitypub.ObjectBase{
		ID:           id,
		Type:         activitypub.TypeNote,
		AttributedTo: origin.ApID.String(),
		Content:      "<p>boost me</p>",
		To:           activitypub.Audience{activitypub.PublicCollection},
	}}

	announce := fx.inbound(map[string]interface{}{
		"id":     remoteID(fx.remote, "activities"),
		"type":   activitypub.TypeAnnounce,
		"actor":  fx.remote.ApID.String(),
		"object": id,
	})
	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, announce))

	post, err := fx.posts.GetByApID(fx.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, origin.ID, post.Author.ID)
	assert.Equal(t, 1, post.RepostCount)
}

func TestDispatcher_AnnounceOfPrivatePostIsIgnored(t *testing.T) {
	fx := newFedFixture(t)
	post := fx.localPost("<p>followers only</p>", func(in *domain.PostInput) {
		in.Audience = models.AudienceFollowersOnly
	})

	announce := fx.inbound(map[string]interface{}{
		"id":     remoteID(fx.remote, "activities"),
		"type":   activitypub.TypeAnnounce,
		"actor":  fx.remote.ApID.String(),
		"object": post.ApID.String(),
	})
	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, announce))

	reloaded, err := fx.posts.GetByID(fx.ctx, post.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.RepostCount)
}

func TestDispatcher_DeleteRequiresAuthor(t *testing.T) {
	fx := newFedFixture(t)
	row := fx.f.Post(fx.remoteRow)
	_, other := fx.addRemote("other.example")

	forged := fx.inbound(map[string]interface{}{
		"id":     remoteID(other, "activities"),
		"type":   activitypub.TypeDelete,
		"actor":  other.ApID.String(),
		"object": row.ApID,
	})
	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, forged))
	_, err := fx.posts.GetByApID(fx.ctx, row.ApID)
	require.NoError(t, err, "a delete from someone else must not remove the post")

	genuine := fx.inbound(map[string]interface{}{
		"id":     remoteID(fx.remote, "activities"),
		"type":   activitypub.TypeDelete,
		"actor":  fx.remote.ApID.String(),
		"object": row.ApID,
	})
	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, genuine))
	_, err = fx.posts.GetByApID(fx.ctx, row.ApID)
	assert.True(t, models.IsNotFound(err))
}

func TestDispatcher_UpdateActorRefreshesProfile(t *testing.T) {
	fx := newFedFixture(t)
	update := fx.inbound(map[string]interface{}{
		"id":    remoteID(fx.remote, "activities"),
		"type":  activitypub.TypeUpdate,
		"actor": fx.remote.ApID.String(),
		"object": map[string]interface{}{
			"id":                fx.remote.ApID.String(),
			"type":              "Person",
			"preferredUsername": fx.remote.Username,
			"name":              "Renamed Remote",
			"summary":           "new bio",
			"inbox":             fx.remote.Inbox.String(),
		},
	})

	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, update))

	reloaded := fx.account(fx.remote.ID)
	assert.Equal(t, "Renamed Remote", reloaded.Name)
	assert.Equal(t, "new bio", reloaded.Bio)
	assert.Len(t, fx.remotes.stored, 1)
}

func TestDispatcher_UpdatePostByAuthor(t *testing.T) {
	fx := newFedFixture(t)
	row := fx.f.Post(fx.remoteRow)
	update := fx.inbound(map[string]interface{}{
		"id":    remoteID(fx.remote, "activities"),
		"type":  activitypub.TypeUpdate,
		"actor": fx.remote.ApID.String(),
		"object": map[string]interface{}{
			"id":           row.ApID,
			"type":         activitypub.TypeNote,
			"attributedTo": fx.remote.ApID.String(),
			"content":      "<p>edited</p>",
			"to":           []string{activitypub.PublicCollection},
		},
	})

	require.NoError(t, fx.dispatcher.Dispatch(fx.ctx, update))

	post, err := fx.posts.GetByApID(fx.ctx, row.ApID)
	require.NoError(t, err)
	assert.Equal(t, "<p>edited</p>", post.Content)
}

func TestDispatcher_HandleMessageDropsInvalidJobs(t *testing.T) {
	fx := newFedFixture(t)

	assert.NoError(t, fx.dispatcher.HandleMessage(fx.ctx, queue.Message{ID: "1", Payload: []byte("not json")}))

	payload, err := json.Marshal(InboxJob{Activity: []byte(`{"@context":true,"type":"Create"}`)})
	require.NoError(t, err)
	assert.NoError(t, fx.dispatcher.HandleMessage(fx.ctx, queue.Message{ID: "2", Payload: payload}))
}

func TestDispatcher_HandleMessageDispatches(t *testing.T) {
	fx := newFedFixture(t)
	raw, err := json.Marshal(map[string]interface{}{
		"@context": activitypub.ActivityStreamsContext,
		"id":       remoteID(fx.remote, "activities"),
		"type":     activitypub.TypeFollow,
		"actor":    fx.remote.ApID.String(),
		"object":   fx.local.ApID.String(),
	})
	require.NoError(t, err)
	payload, err := json.Marshal(InboxJob{Recipient: fx.local.ApID.String(), Activity: raw})
	require.NoError(t, err)

	require.NoError(t, fx.dispatcher.HandleMessage(fx.ctx, queue.Message{ID: "m1", Subscription: SubscriptionInbox, Payload: payload}))

	following, err := fx.accounts.IsFollowing(fx.ctx, fx.remote.ID, fx.local.ID)
	require.NoError(t, err)
	assert.True(t, following)
}
