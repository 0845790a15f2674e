package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"outpost/internal/config"
	"outpost/internal/domain"
	"outpost/internal/federation"
	"outpost/internal/models"
	"outpost/internal/queue"
	"outpost/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type offline struct{}

func (offline) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("network disabled in tests")
}

func testConfig() *config.Config {
	return &config.Config{
		UserAgent:         "outpost-test",
		FetchTimeoutSecs:  1,
		ActorCacheTTLMins: 30,
		QueueEnabled:      true,
		QueueInboxStream:  "test:inbox",
		QueueOutboxStream: "test:outbox",
		QueueGroup:        "test",
		QueueConsumer:     "test-1",
		QueueMaxRetries:   3,
		QueueBackoffBase:  "10ms",
		QueueBackoffMax:   "50ms",
		WebhookTolerance:  "5m",
	}
}

func TestNew_QueueNeedsRedis(t *testing.T) {
	_, err := New(testConfig(), testutil.NewTestDB(t), nil, Options{})
	assert.Error(t, err)
}

func TestNew_WithoutQueueRunsInline(t *testing.T) {
	cfg := testConfig()
	cfg.QueueEnabled = false

	rt, err := New(cfg, testutil.NewTestDB(t), nil, Options{})
	require.NoError(t, err)
	assert.Nil(t, rt.InboxQueue)
	assert.Nil(t, rt.DeliveryQueue)
	assert.Nil(t, rt.Hub)
	assert.IsType(t, queue.Direct{}, rt.Inbox)
}

func TestRuntime_ProcessesQueuedInbox(t *testing.T) {
	db := testutil.NewTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	rt, err := New(testConfig(), db, rdb, Options{
		HTTPClient: &http.Client{Transport: offline{}, Timeout: time.Second},
	})
	require.NoError(t, err)
	require.NotNil(t, rt.InboxQueue)
	require.NotNil(t, rt.Hub)

	f := testutil.NewFactory(t, db)
	f.Site("local.example")
	author := f.ExternalAccount("remote.example")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.Start(ctx))

	actor, err := url.Parse(author.ApID)
	require.NoError(t, err)
	activity := []byte(`{"@context":"https://www.w3.org/ns/activitystreams",` +
		`"id":"https://remote.example/activities/1","type":"Create","actor":"` + actor.String() + `",` +
		`"to":["https://www.w3.org/ns/activitystreams#Public"],` +
		`"object":{"id":"https://remote.example/notes/1","type":"Note","attributedTo":"` + actor.String() + `",` +
		`"content":"via the stream","to":["https://www.w3.org/ns/activitystreams#Public"]}}`)
	payload, err := jsoniter.Marshal(federation.InboxJob{Activity: activity})
	require.NoError(t, err)
	require.NoError(t, rt.Inbox.Enqueue(ctx, queue.Message{
		Subscription: federation.SubscriptionInbox,
		EventHost:    "local.example",
		Payload:      payload,
	}))

	require.Eventually(t, func() bool {
		var n int64
		db.Model(&models.Post{}).Where("ap_id = ?", "https://remote.example/notes/1").Count(&n)
		return n == 1
	}, 10*time.Second, 50*time.Millisecond)

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	require.NoError(t, rt.Shutdown(shutdownCtx))
}

func TestRuntime_LocalPostFansOutToDeliveryQueue(t *testing.T) {
	db := testutil.NewTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rt, err := New(testConfig(), db, rdb, Options{})
	require.NoError(t, err)

	f := testutil.NewFactory(t, db)
	site := f.Site("local.example")
	_, me := f.InternalAccount(site)
	f.Follow(f.ExternalAccount("remote.example"), me)
	f.Follow(f.ExternalAccount("remote.example"), me)
	f.Follow(f.ExternalAccount("far.example"), me)

	ctx := context.Background()
	author, err := rt.Accounts.GetByID(ctx, me.ID)
	require.NoError(t, err)
	post := domain.NewPost(author, domain.PostInput{Type: models.PostTypeNote, Audience: models.AudiencePublic, Content: "<p>hi</p>"})
	require.NoError(t, rt.Posts.Save(ctx, post))

	// Followers on one host share its inbox.
	n, err := rdb.XLen(ctx, "test:outbox").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
