package federation

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"outpost/internal/activitypub"
	"outpost/internal/domain"
	"outpost/internal/events"
	"outpost/internal/models"
	"outpost/internal/queue"
	"outpost/internal/repository"
	"outpost/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// queueStub records enqueued messages.
type queueStub struct {
	mu   sync.Mutex
	msgs []queue.Message
}

func (q *queueStub) Enqueue(_ context.Context, m queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, m)
	return nil
}

func (q *queueStub) jobs(t *testing.T) []DeliveryJob {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeliveryJob, 0, len(q.msgs))
	for _, m := range q.msgs {
		require.Equal(t, SubscriptionDelivery, m.Subscription)
		var job DeliveryJob
		require.NoError(t, json.Unmarshal(m.Payload, &job))
		out = append(out, job)
	}
	return out
}

func (q *queueStub) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = nil
}

// remoteStub answers resolver calls from fixed maps.
type remoteStub struct {
	actors  map[string]*domain.Account
	objects map[string]activitypub.PostObject
	stored  []*activitypub.Actor
}

func (r *remoteStub) ResolveActor(_ context.Context, id *url.URL) (*domain.Account, error) {
	if a, ok := r.actors[id.String()]; ok {
		return a, nil
	}
	return nil, models.NewUpstreamError("actor fetch failed", nil)
}

func (r *remoteStub) FetchObject(_ context.Context, iri string) (activitypub.PostObject, error) {
	if o, ok := r.objects[iri]; ok {
		return o, nil
	}
	return nil, models.NewNotFoundError("Remote object", iri)
}

func (r *remoteStub) Store(_ context.Context, doc *activitypub.Actor) (*domain.Account, error) {
	r.stored = append(r.stored, doc)
	return r.actors[doc.ID], nil
}

type fedFixture struct {
	t          *testing.T
	ctx        context.Context
	f          *testutil.Factory
	accounts   repository.AccountRepository
	posts      repository.PostRepository
	outbox     repository.OutboxRepository
	kv         repository.KeyValueRepository
	site       *models.Site
	local      *domain.Account
	remote     *domain.Account
	remoteRow  *models.Account
	remotes    *remoteStub
	queue      *queueStub
	publisher  *Publisher
	dispatcher *Dispatcher
}

func newFedFixture(t *testing.T) *fedFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	f := testutil.NewFactory(t, db)
	bus := events.NewBus(nil)
	accounts := repository.NewAccountRepository(db, bus)
	posts := repository.NewPostRepository(db, bus, accounts)
	outbox := repository.NewOutboxRepository(db)
	kv := repository.NewKeyValueRepository(db)

	fx := &fedFixture{
		t:        t,
		ctx:      context.Background(),
		f:        f,
		accounts: accounts,
		posts:    posts,
		outbox:   outbox,
		kv:       kv,
		site:     f.Site("local.example"),
		queue:    &queueStub{},
	}
	_, localRow := f.InternalAccount(fx.site)
	fx.remoteRow = f.ExternalAccount("remote.example")
	fx.local = fx.account(localRow.ID)
	fx.remote = fx.account(fx.remoteRow.ID)
	fx.remotes = &remoteStub{
		actors:  map[string]*domain.Account{fx.remote.ApID.String(): fx.remote},
		objects: map[string]activitypub.PostObject{},
	}

	fx.publisher = NewPublisher(accounts, posts, outbox, fx.queue, nil)
	fx.publisher.Register(bus)
	fx.dispatcher = NewDispatcher(accounts, posts, outbox, kv, fx.remotes, fx.publisher, nil)
	return fx
}

func (fx *fedFixture) account(id uint) *domain.Account {
	fx.t.Helper()
	a, err := fx.accounts.GetByID(fx.ctx, id)
	require.NoError(fx.t, err)
	return a
}

// addRemote stores another remote actor the stub can resolve.
func (fx *fedFixture) addRemote(host string) (*models.Account, *domain.Account) {
	fx.t.Helper()
	row := fx.f.ExternalAccount(host)
	a := fx.account(row.ID)
	fx.remotes.actors[a.ApID.String()] = a
	return row, a
}

func (fx *fedFixture) localPost(content string, mutate ...func(*domain.PostInput)) *domain.Post {
	fx.t.Helper()
	in := domain.PostInput{Type: models.PostTypeNote, Audience: models.AudiencePublic, Content: content}
	for _, m := range mutate {
		m(&in)
	}
	p := domain.NewPost(fx.local, in)
	require.NoError(fx.t, fx.posts.Save(fx.ctx, p))
	return p
}

func remoteID(actor *domain.Account, kind string) string {
	return "https://" + actor.Domain + "/" + kind + "/" + uuid.NewString()
}

// inbound builds a validated activity from doc, as the inbox would.
func (fx *fedFixture) inbound(doc map[string]interface{}) *activitypub.Activity {
	fx.t.Helper()
	doc["@context"] = activitypub.ActivityStreamsContext
	raw, err := json.Marshal(doc)
	require.NoError(fx.t, err)
	a, err := activitypub.ParseActivity(raw)
	require.NoError(fx.t, err)
	return a
}

func decodeActivity(t *testing.T, body []byte) *activitypub.Activity {
	t.Helper()
	var a activitypub.Activity
	require.NoError(t, json.Unmarshal(body, &a))
	return &a
}
