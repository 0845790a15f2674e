package federation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"outpost/internal/activitypub"
	"outpost/internal/cache"
	"outpost/internal/domain"
	"outpost/internal/models"
	"outpost/internal/observability"
	"outpost/internal/repository"
	"outpost/internal/validation"

	jsoniter "github.com/json-iterator/go"
)

// ResolverConfig tunes remote lookups.
type ResolverConfig struct {
	UserAgent string
	Timeout   time.Duration
	CacheTTL  time.Duration
	// AllowHTTP permits plain http remotes; only for tests and local development.
	AllowHTTP bool
	Client    *http.Client
}

// Resolver finds accounts by handle, actor id or key id, fetching and
// storing remote actors on first contact. Fetched actor documents are cached
// in process; an expired entry is refetched and, when the remote is
// unreachable, the stored copy is served instead.
type Resolver struct {
	accounts  repository.AccountRepository
	sites     repository.SiteRepository
	actors    *cache.Local[models.Account]
	handles   *cache.Local[string]
	client    *http.Client
	userAgent string
	allowHTTP bool
	logger    *slog.Logger
}

// NewResolver returns a Resolver.
func NewResolver(accounts repository.AccountRepository, sites repository.SiteRepository, cfg ResolverConfig, logger *slog.Logger) (*Resolver, error) {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	actors, err := cache.NewLocal[models.Account](cache.RemoteActorPrefix, 10000, cfg.CacheTTL)
	if err != nil {
		return nil, err
	}
	handles, err := cache.NewLocal[string](cache.WebfingerPrefix, 10000, cfg.CacheTTL)
	if err != nil {
		return nil, err
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Resolver{
		accounts:  accounts,
		sites:     sites,
		actors:    actors,
		handles:   handles,
		client:    client,
		userAgent: cfg.UserAgent,
		allowHTTP: cfg.AllowHTTP,
		logger:    loggerOrDefault(logger),
	}, nil
}

func (r *Resolver) isLocalHost(ctx context.Context, host string) (bool, error) {
	_, err := r.sites.GetByHost(ctx, host)
	switch {
	case err == nil:
		return true, nil
	case models.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// ResolveHandle finds user@host. Local handles are read from storage; remote
// ones are looked up with WebFinger.
func (r *Resolver) ResolveHandle(ctx context.Context, handle string) (*domain.Account, error) {
	user, host, err := validation.SplitHandle(handle)
	if err != nil {
		return nil, err
	}
	local, err := r.isLocalHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if local {
		return r.accounts.GetLocalByHandle(ctx, host, user)
	}

	key := user + "@" + host
	if iri, ok := r.handles.Get(ctx, key); ok {
		if u, err := domain.ParseActorURL(*iri); err == nil {
			return r.ResolveActor(ctx, u)
		}
	}

	var wf activitypub.WebFinger
	endpoint := r.scheme() + "://" + host + "/.well-known/webfinger?resource=" + url.QueryEscape("acct:"+key)
	if err := r.get(ctx, endpoint, activitypub.WebFingerContentType, &wf); err != nil {
		if models.IsNotFound(err) {
			return nil, models.NewNotFoundError("Account", key)
		}
		return nil, err
	}
	self, err := wf.SelfLink()
	if err != nil {
		return nil, err
	}
	u, err := domain.ParseActorURL(self)
	if err != nil {
		return nil, models.NewValidationError("webfinger self link is not a valid url")
	}
	_ = r.handles.Set(ctx, key, &self)
	return r.ResolveActor(ctx, u)
}

// ResolveActor returns the account with actor id, fetching it when unknown or stale.
func (r *Resolver) ResolveActor(ctx context.Context, id *url.URL) (*domain.Account, error) {
	iri := id.String()
	local, err := r.isLocalHost(ctx, domain.DomainOf(id))
	if err != nil {
		return nil, err
	}
	if local {
		return r.accounts.GetByApID(ctx, iri)
	}

	if row, ok := r.actors.Get(ctx, iri); ok {
		if account, err := domain.AccountFromRow(row, false); err == nil {
			observability.ActorCache.WithLabelValues("hit").Inc()
			return account, nil
		}
		r.actors.Delete(ctx, iri)
	}

	existing, err := r.accounts.GetByApID(ctx, iri)
	if err != nil && !models.IsNotFound(err) {
		return nil, err
	}
	if existing != nil && existing.Internal {
		return existing, nil
	}

	account, err := r.refresh(ctx, iri)
	if err != nil {
		if existing != nil {
			observability.ActorCache.WithLabelValues("stale").Inc()
			r.logger.WarnContext(ctx, "actor refetch failed, serving stored copy",
				slog.String("actor", iri),
				slog.String("error", err.Error()),
			)
			return existing, nil
		}
		return nil, err
	}
	observability.ActorCache.WithLabelValues("miss").Inc()
	return account, nil
}

// ResolveKey returns the owner of keyID.
func (r *Resolver) ResolveKey(ctx context.Context, keyID string) (*domain.Account, error) {
	owner, err := keyOwner(keyID)
	if err != nil {
		return nil, err
	}
	return r.ResolveActor(ctx, owner)
}

// RefreshKey refetches the owner of keyID, bypassing the cache.
func (r *Resolver) RefreshKey(ctx context.Context, keyID string) (*domain.Account, error) {
	owner, err := keyOwner(keyID)
	if err != nil {
		return nil, err
	}
	local, err := r.isLocalHost(ctx, domain.DomainOf(owner))
	if err != nil {
		return nil, err
	}
	if local {
		return r.accounts.GetByApID(ctx, owner.String())
	}
	r.actors.Delete(ctx, owner.String())
	return r.refresh(ctx, owner.String())
}

func keyOwner(keyID string) (*url.URL, error) {
	u, err := domain.ParseActorURL(keyID)
	if err != nil {
		return nil, models.NewValidationError("key id is not a valid url")
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

// Store upserts an actor document received inline, such as the object of an Update.
func (r *Resolver) Store(ctx context.Context, doc *activitypub.Actor) (*domain.Account, error) {
	row, err := doc.ToRow()
	if err != nil {
		return nil, err
	}
	account, err := r.accounts.UpsertExternal(ctx, row)
	if err != nil {
		return nil, err
	}
	_ = r.actors.Set(ctx, doc.ID, domain.AccountToRow(account))
	return account, nil
}

// Evict drops the cached copy of an actor.
func (r *Resolver) Evict(ctx context.Context, iri string) {
	r.actors.Delete(ctx, iri)
}

func (r *Resolver) refresh(ctx context.Context, iri string) (*domain.Account, error) {
	var doc activitypub.Actor
	if err := r.get(ctx, iri, activitypub.AcceptHeader, &doc); err != nil {
		return nil, err
	}
	if doc.ID != iri {
		return nil, models.NewValidationError(fmt.Sprintf("fetched actor id %q does not match %q", doc.ID, iri))
	}
	return r.Store(ctx, &doc)
}

// FetchObject fetches a remote Note or Article.
func (r *Resolver) FetchObject(ctx context.Context, iri string) (activitypub.PostObject, error) {
	var raw jsoniter.RawMessage
	if err := r.get(ctx, iri, activitypub.AcceptHeader, &raw); err != nil {
		return nil, err
	}
	obj, err := activitypub.DecodePostObject(raw)
	if err != nil {
		return nil, err
	}
	if obj.Base().ID != iri {
		return nil, models.NewValidationError(fmt.Sprintf("fetched object id %q does not match %q", obj.Base().ID, iri))
	}
	return obj, nil
}

func (r *Resolver) scheme() string {
	if r.allowHTTP {
		return "http"
	}
	return "https"
}

// get fetches iri and decodes the JSON body into v.
func (r *Resolver) get(ctx context.Context, iri, accept string, v interface{}) error {
	u, err := url.Parse(iri)
	if err != nil || u.Host == "" {
		return models.NewValidationError("not a fetchable url: " + iri)
	}
	if u.Scheme != "https" && !(r.allowHTTP && u.Scheme == "http") {
		return models.NewValidationError("refusing to fetch non-https url: " + iri)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iri, nil)
	if err != nil {
		return models.NewValidationError("not a fetchable url: " + iri)
	}
	req.Header.Set("Accept", accept)
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return models.NewUpstreamError("fetch "+iri, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return models.NewNotFoundError("Remote object", iri)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return models.NewUpstreamError("fetch "+iri, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, activitypub.MaxBodyBytes+1))
	if err != nil {
		return models.NewUpstreamError("read "+iri, err)
	}
	if len(body) > activitypub.MaxBodyBytes {
		return models.NewValidationError("remote document too large: " + iri)
	}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if ct != "" && !strings.Contains(ct, "json") {
		return models.NewValidationError("remote document is not json: " + iri)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return models.NewValidationError("remote document is not valid json: " + iri)
	}
	return nil
}
