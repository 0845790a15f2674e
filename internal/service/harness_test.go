package service

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"outpost/internal/domain"
	"outpost/internal/events"
	"outpost/internal/models"
	"outpost/internal/moderation"
	"outpost/internal/repository"
	"outpost/internal/testutil"

	"github.com/stretchr/testify/require"
)

// liveStub records pushed payloads per user.
type liveStub struct {
	mu   sync.Mutex
	sent map[uint][]string
}

func (l *liveStub) PublishUser(_ context.Context, userID uint, payload string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sent == nil {
		l.sent = make(map[uint][]string)
	}
	l.sent[userID] = append(l.sent[userID], payload)
	return nil
}

func (l *liveStub) count(userID uint) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent[userID])
}

// resolverStub resolves from fixed maps keyed by handle and actor id.
type resolverStub struct {
	handles map[string]*domain.Account
	actors  map[string]*domain.Account
}

func (r *resolverStub) ResolveHandle(_ context.Context, handle string) (*domain.Account, error) {
	if a, ok := r.handles[handle]; ok {
		return a, nil
	}
	return nil, models.NewNotFoundError("Account", handle)
}

func (r *resolverStub) ResolveActor(_ context.Context, id *url.URL) (*domain.Account, error) {
	if a, ok := r.actors[id.String()]; ok {
		return a, nil
	}
	return nil, models.NewUpstreamError("actor fetch failed", nil)
}

// followStub records outgoing follow requests.
type followStub struct {
	sent []uint
}

func (f *followStub) SendFollow(_ context.Context, _, target *domain.Account) error {
	f.sent = append(f.sent, target.ID)
	return nil
}

type harness struct {
	t             *testing.T
	f             *testutil.Factory
	bus           *events.Bus
	accounts      repository.AccountRepository
	posts         repository.PostRepository
	notifications repository.NotificationRepository
	feeds         repository.FeedRepository
	kv            repository.KeyValueRepository
	sites         repository.SiteRepository
	topics        repository.TopicRepository
	live          *liveStub
	resolver      *resolverStub
	follows       *followStub

	notifier *NotificationService
	feed     *FeedService
	account  *AccountService
	post     *PostService
	ghost    *GhostService
	topic    *TopicService
	site     *models.Site
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewTestDB(t)
	bus := events.NewBus(nil)
	accounts := repository.NewAccountRepository(db, bus)
	posts := repository.NewPostRepository(db, bus, accounts)
	h := &harness{
		t:             t,
		f:             testutil.NewFactory(t, db),
		bus:           bus,
		accounts:      accounts,
		posts:         posts,
		notifications: repository.NewNotificationRepository(db),
		feeds:         repository.NewFeedRepository(db),
		kv:            repository.NewKeyValueRepository(db),
		sites:         repository.NewSiteRepository(db),
		topics:        repository.NewTopicRepository(db),
		live:          &liveStub{},
		resolver:      &resolverStub{handles: map[string]*domain.Account{}, actors: map[string]*domain.Account{}},
		follows:       &followStub{},
	}
	filter := moderation.NewFilter(db)

	h.notifier = NewNotificationService(accounts, posts, h.notifications, filter, h.live, nil)
	h.notifier.Register(bus)
	h.feed = NewFeedService(accounts, posts, h.feeds, filter)
	h.feed.Register(bus)
	h.account = NewAccountService(accounts, h.resolver, h.follows)
	h.post = NewPostService(accounts, posts, h.resolver)
	h.ghost = NewGhostService(h.sites, accounts, posts, h.kv, 5*time.Minute)
	h.topic = NewTopicService(accounts, h.topics, h.resolver, nil)
	h.site = h.f.Site("local.example")
	return h
}

// local creates an internal account and returns its user id and entity.
func (h *harness) local() (uint, *domain.Account) {
	h.t.Helper()
	user, row := h.f.InternalAccount(h.site)
	a, err := h.accounts.GetByID(context.Background(), row.ID)
	require.NoError(h.t, err)
	h.resolver.handles[a.Handle()] = a
	return user.ID, a
}

// remote creates an external account on host.
func (h *harness) remote(host string) *domain.Account {
	h.t.Helper()
	row := h.f.ExternalAccount(host)
	a, err := h.accounts.GetByID(context.Background(), row.ID)
	require.NoError(h.t, err)
	h.resolver.handles[a.Handle()] = a
	h.resolver.actors[a.ApID.String()] = a
	return a
}

func (h *harness) reload(a *domain.Account) *domain.Account {
	h.t.Helper()
	fresh, err := h.accounts.GetByID(context.Background(), a.ID)
	require.NoError(h.t, err)
	return fresh
}

func (h *harness) follow(follower, target *domain.Account) {
	h.t.Helper()
	follower = h.reload(follower)
	follower.Follow(target)
	require.NoError(h.t, h.accounts.Save(context.Background(), follower))
}

func (h *harness) block(blocker, target *domain.Account) {
	h.t.Helper()
	blocker = h.reload(blocker)
	blocker.Block(target)
	require.NoError(h.t, h.accounts.Save(context.Background(), blocker))
}

func (h *harness) publish(author *domain.Account, in domain.PostInput) *domain.Post {
	h.t.Helper()
	if in.Content == "" {
		in.Content = "<p>hello</p>"
	}
	p := domain.NewPost(author, in)
	require.NoError(h.t, h.posts.Save(context.Background(), p))
	return p
}

func (h *harness) feedOf(userID uint) []models.Feed {
	h.t.Helper()
	rows, err := h.feeds.List(context.Background(), userID, nil, 0, 100)
	require.NoError(h.t, err)
	return rows
}

func (h *harness) notificationsOf(userID uint) []models.Notification {
	h.t.Helper()
	rows, err := h.notifications.List(context.Background(), userID, 0, 100)
	require.NoError(h.t, err)
	return rows
}
