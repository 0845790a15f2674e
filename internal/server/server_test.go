package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"outpost/internal/bootstrap"
	"outpost/internal/config"
	"outpost/internal/domain"
	"outpost/internal/federation"
	"outpost/internal/middleware"
	"outpost/internal/models"
	"outpost/internal/queue"
	"outpost/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	testHost   = "local.example"
	testSecret = "test-secret-key-12345678901234567890123456789012"
)

// offline fails every outbound request so resolvers fall back to stored copies.
type offline struct{}

func (offline) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("network disabled in tests")
}

// inboxRecorder captures inbox messages instead of dispatching them.
type inboxRecorder struct {
	mu   sync.Mutex
	msgs []queue.Message
}

func (r *inboxRecorder) Enqueue(_ context.Context, m queue.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *inboxRecorder) jobs(t *testing.T) []federation.InboxJob {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]federation.InboxJob, 0, len(r.msgs))
	for _, m := range r.msgs {
		var job federation.InboxJob
		require.NoError(t, json.Unmarshal(m.Payload, &job))
		out = append(out, job)
	}
	return out
}

type harness struct {
	t     *testing.T
	rt    *bootstrap.Runtime
	srv   *Server
	app   *fiber.App
	f     *testutil.Factory
	site  *models.Site
	inbox *inboxRecorder
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:          testSecret,
		Port:               "8080",
		AllowedOrigins:     "*",
		Env:                "test",
		CollectionPageSize: 2,
		FeedPageSize:       20,
		UserAgent:          "outpost-test",
		FetchTimeoutSecs:   1,
		InboxRateLimit:     300,
		ActorCacheTTLMins:  30,
		QueueEnabled:       true,
		QueueInboxStream:   "test:inbox",
		QueueOutboxStream:  "test:outbox",
		QueueGroup:         "test",
		QueueConsumer:      "test-1",
		QueueMaxRetries:    3,
		QueueBackoffBase:   "10ms",
		QueueBackoffMax:    "50ms",
		WebhookTolerance:   "5m",
	}
}

// newHarness builds the whole node on sqlite and miniredis. Inbound activities
// are recorded unless dispatch is true, in which case they are applied inline.
func newHarness(t *testing.T, dispatch bool, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	db := testutil.NewTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rt, err := bootstrap.New(cfg, db, rdb, bootstrap.Options{
		HTTPClient: &http.Client{Transport: offline{}, Timeout: time.Second},
	})
	require.NoError(t, err)

	h := &harness{t: t, rt: rt, f: testutil.NewFactory(t, db), inbox: &inboxRecorder{}}
	if dispatch {
		rt.Inbox = queue.Direct{Handler: rt.Dispatcher.HandleMessage}
	} else {
		rt.Inbox = h.inbox
	}
	h.site = h.f.Site(testHost)
	h.srv = NewServer(rt)
	h.app = h.srv.NewApp()
	return h
}

func (h *harness) do(req *http.Request) (*http.Response, []byte) {
	h.t.Helper()
	resp, err := h.app.Test(req, -1)
	require.NoError(h.t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp, body
}

func (h *harness) get(path string) (*http.Response, []byte) {
	return h.do(httptest.NewRequest(http.MethodGet, "https://"+testHost+path, nil))
}

func (h *harness) api(method, path, token string, body []byte) (*http.Response, []byte) {
	req := httptest.NewRequest(method, "https://"+testHost+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return h.do(req)
}

func (h *harness) token(userID uint, role middleware.Role) string {
	h.t.Helper()
	s, err := middleware.IssueToken(testSecret, userID, role, time.Hour)
	require.NoError(h.t, err)
	return s
}

func (h *harness) local() (*models.User, *models.Account) {
	return h.f.InternalAccount(h.site)
}

// remoteSigner stores a remote actor and returns a signing identity for it.
func (h *harness) remoteSigner(remoteHost string) (*models.Account, *domain.Account) {
	h.t.Helper()
	pub, priv := testutil.KeyPair(h.t)
	row := h.f.ExternalAccount(remoteHost, func(a *models.Account) { a.ApPublicKey = pub })
	apID, err := url.Parse(row.ApID)
	require.NoError(h.t, err)
	return row, &domain.Account{ApID: apID, PrivateKeyPEM: priv, Domain: remoteHost}
}

func (h *harness) signedInbox(path string, signer *domain.Account, body []byte) *http.Request {
	h.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "https://"+testHost+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	require.NoError(h.t, federation.SignRequest(req, body, signer))
	return req
}

func (h *harness) countPosts() int64 {
	var n int64
	require.NoError(h.t, h.rt.DB.Model(&models.Post{}).Count(&n).Error)
	return n
}
