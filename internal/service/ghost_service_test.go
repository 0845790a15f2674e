package service

import (
	"context"
	"testing"
	"time"

	"outpost/internal/ghost"
	"outpost/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postBody(id, visibility, status string) []byte {
	return []byte(`{"post":{"current":{"uuid":"` + id + `","title":"Launch","html":"<p>We shipped</p>",` +
		`"custom_excerpt":"Shipped","url":"https://local.example/launch/","visibility":"` + visibility +
		`","status":"` + status + `","published_at":"2026-03-01T10:00:00.000Z"}}}`)
}

func (h *harness) siteAccount(t *testing.T) uint {
	t.Helper()
	_, user, err := h.accounts.CreateInternal(context.Background(), h.site, SiteAccountUsername, "Local Blog")
	require.NoError(t, err)
	return user.ID
}

func TestGhostService_CheckWebhook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body := postBody(uuid.NewString(), "public", "published")

	header := ghost.Sign(h.site.WebhookSecret, body, time.Now())
	site, err := h.ghost.CheckWebhook(ctx, "LOCAL.example", body, header)
	require.NoError(t, err)
	assert.Equal(t, h.site.ID, site.ID)

	_, err = h.ghost.CheckWebhook(ctx, "local.example", body, header)
	assert.True(t, models.IsValidation(err), "replayed signature")

	_, err = h.ghost.CheckWebhook(ctx, "local.example", body, ghost.Sign("wrong", body, time.Now()))
	assert.True(t, models.IsValidation(err))

	_, err = h.ghost.CheckWebhook(ctx, "local.example", body, ghost.Sign(h.site.WebhookSecret, body, time.Now().Add(-time.Hour)))
	assert.True(t, models.IsValidation(err))

	_, err = h.ghost.CheckWebhook(ctx, "unknown.example", body, header)
	assert.True(t, models.IsNotFound(err))
}

func TestGhostService_DuplicatePublishCreatesOnePost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	siteUser := h.siteAccount(t)
	readerUser, reader := h.local()

	index, err := h.accounts.GetByUserID(ctx, siteUser)
	require.NoError(t, err)
	h.follow(reader, index)

	id := uuid.NewString()
	payload, err := ghost.DecodePost(postBody(id, "public", "published"))
	require.NoError(t, err)

	post, err := h.ghost.PostPublished(ctx, h.site, payload)
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.Equal(t, models.PostTypeArticle, post.Type)
	assert.Equal(t, models.AudiencePublic, post.Audience)
	assert.Equal(t, "Shipped", post.Excerpt)
	assert.Equal(t, "https://local.example/posts/"+id, post.ApID.String())

	_, err = h.ghost.PostPublished(ctx, h.site, payload)
	assert.True(t, models.IsConflict(err))

	articles, err := h.feed.GetFeed(ctx, readerUser, FeedReader, 0, 20)
	require.NoError(t, err)
	assert.Len(t, articles, 1)
}

func TestGhostService_VisibilityAndDrafts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.siteAccount(t)

	payload, err := ghost.DecodePost(postBody(uuid.NewString(), "members", "published"))
	require.NoError(t, err)
	post, err := h.ghost.PostPublished(ctx, h.site, payload)
	require.NoError(t, err)
	assert.Equal(t, models.AudienceFollowersOnly, post.Audience)

	draft, err := ghost.DecodePost(postBody(uuid.NewString(), "public", "draft"))
	require.NoError(t, err)
	post, err = h.ghost.PostPublished(ctx, h.site, draft)
	require.NoError(t, err)
	assert.Nil(t, post)
}

func TestGhostService_PostUpdated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.siteAccount(t)
	id := uuid.NewString()

	// An edit of an unseen post publishes it.
	payload, err := ghost.DecodePost(postBody(id, "public", "published"))
	require.NoError(t, err)
	post, err := h.ghost.PostUpdated(ctx, h.site, payload)
	require.NoError(t, err)
	require.NotNil(t, post)

	payload.Post.Current.Title = "Launch, revised"
	updated, err := h.ghost.PostUpdated(ctx, h.site, payload)
	require.NoError(t, err)
	assert.Equal(t, post.ID, updated.ID)

	got, err := h.posts.GetByUUID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Launch, revised", got.Title)
}

func TestGhostService_SiteChanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	siteUser := h.siteAccount(t)

	payload, err := ghost.DecodeSite([]byte(`{"site":{"title":"Field Notes","description":"Notes from the field","icon":"https://local.example/icon.png"}}`))
	require.NoError(t, err)
	account, err := h.ghost.SiteChanged(ctx, h.site, payload)
	require.NoError(t, err)
	assert.Equal(t, "Field Notes", account.Name)

	stored, err := h.accounts.GetByUserID(ctx, siteUser)
	require.NoError(t, err)
	assert.Equal(t, "Notes from the field", stored.Bio)
	assert.Equal(t, "https://local.example/icon.png", stored.AvatarURL)
}
