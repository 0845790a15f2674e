package server

import (
	"net/http"
	"net/url"
	"strconv"
	"testing"

	"outpost/internal/config"
	"outpost/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAPI_RequiresToken(t *testing.T) {
	h := newHarness(t, false)

	resp, _ := h.api(http.MethodGet, "/api/v1/feed", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.api(http.MethodGet, "/api/v1/feed", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClientAPI_AdminRoutes(t *testing.T) {
	h := newHarness(t, false)
	user, _ := h.local()

	resp, _ := h.api(http.MethodPost, "/api/v1/admin/topics/sync", h.token(user.ID, ""), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestClientAPI_CreateNotePublishes(t *testing.T) {
	h := newHarness(t, false)
	user, account := h.local()
	token := h.token(user.ID, "")

	resp, body := h.api(http.MethodPost, "/api/v1/actions/note", token, []byte(`{"content":"<p>first light</p>"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var view PostView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, models.PostTypeNote, view.Type)
	assert.NotEmpty(t, view.ApID)

	var row models.Outbox
	require.NoError(t, h.rt.DB.Where("account_id = ? AND activity_type = ?", account.ID, "Create").First(&row).Error)
	require.NotNil(t, row.PostID)
	assert.Equal(t, view.ID, *row.PostID)

	activityURL, err := url.Parse(row.ApID)
	require.NoError(t, err)
	resp, body = h.get(activityURL.Path)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), view.ApID)

	resp, body = h.get("/outbox/" + account.Username + "?page=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), row.ApID)
}

func TestClientAPI_CreateNoteValidation(t *testing.T) {
	h := newHarness(t, false)
	user, _ := h.local()
	token := h.token(user.ID, "")

	resp, _ := h.api(http.MethodPost, "/api/v1/actions/note", token, []byte(`{"content":""}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.api(http.MethodPost, "/api/v1/actions/note", token, []byte(`{"content":"x","audience":"everyone"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.api(http.MethodPost, "/api/v1/actions/note", token, []byte(`{`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, h.countPosts())
}

func TestClientAPI_LikeNotifiesAuthor(t *testing.T) {
	h := newHarness(t, false)
	author, authorAccount := h.local()
	liker, _ := h.local()
	post := h.f.Post(authorAccount)

	path := "/api/v1/actions/like/" + strconv.FormatUint(uint64(post.ID), 10)
	resp, body := h.api(http.MethodPost, path, h.token(liker.ID, ""), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	authorToken := h.token(author.ID, "")
	resp, body = h.api(http.MethodGet, "/api/v1/notifications/unread/count", authorToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"count":1}`, string(body))

	resp, _ = h.api(http.MethodPut, "/api/v1/notifications/read", authorToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, body = h.api(http.MethodGet, "/api/v1/notifications/unread/count", authorToken, nil)
	assert.JSONEq(t, `{"count":0}`, string(body))

	resp, _ = h.api(http.MethodPost, "/api/v1/actions/like/0", h.token(liker.ID, ""), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.api(http.MethodPost, "/api/v1/actions/like/99999", h.token(liker.ID, ""), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClientAPI_FeedShowsOwnNote(t *testing.T) {
	h := newHarness(t, false)
	user, _ := h.local()
	token := h.token(user.ID, "")

	resp, _ := h.api(http.MethodPost, "/api/v1/actions/note", token, []byte(`{"content":"<p>in my feed</p>"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := h.api(http.MethodGet, "/api/v1/feed", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list ListResponse[models.Feed]
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Items, 1)
	require.NotNil(t, list.Items[0].Post)
	assert.Contains(t, list.Items[0].Post.Content, "in my feed")
}

func TestClientAPI_BlockDomainValidation(t *testing.T) {
	h := newHarness(t, false)
	user, _ := h.local()
	token := h.token(user.ID, "")

	resp, _ := h.api(http.MethodPost, "/api/v1/actions/block/domain", token, []byte(`{"domain":"not a host"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.api(http.MethodPost, "/api/v1/actions/block/domain", token, []byte(`{"domain":"spam.example"}`))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var n int64
	require.NoError(t, h.rt.DB.Model(&models.DomainBlock{}).Where("domain = ?", "spam.example").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestNotificationStream_Auth(t *testing.T) {
	h := newHarness(t, false)
	user, _ := h.local()

	resp, _ := h.get("/api/v1/notifications/stream")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A valid token without a websocket handshake is refused.
	resp, _ = h.get("/api/v1/notifications/stream?token=" + h.token(user.ID, ""))
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestFeatureFlags_GateReaderFeed(t *testing.T) {
	h := newHarness(t, false)
	user, _ := h.local()
	token := h.token(user.ID, "")

	resp, body := h.api(http.MethodGet, "/api/v1/feed/reader", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = h.api(http.MethodGet, "/api/v1/features", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var flags struct {
		Raw       map[string]string `json:"raw"`
		Evaluated map[string]bool   `json:"evaluated"`
	}
	require.NoError(t, json.Unmarshal(body, &flags))
	assert.Equal(t, "on", flags.Raw["reader_feed"])
	assert.True(t, flags.Evaluated["reader_feed"])
	assert.True(t, flags.Evaluated["live_notifications"])

	h = newHarness(t, false, func(c *config.Config) { c.FeatureFlags = "reader_feed=off,live_notifications=off" })
	user, _ = h.local()
	token = h.token(user.ID, "")

	resp, _ = h.api(http.MethodGet, "/api/v1/feed/reader", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = h.api(http.MethodGet, "/api/v1/feed", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = h.get("/api/v1/notifications/stream?token=" + token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
