package federation

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"outpost/internal/activitypub"
	"outpost/internal/domain"
	"outpost/internal/middleware"
	"outpost/internal/models"
	"outpost/internal/observability"
	"outpost/internal/queue"
	"outpost/internal/repository"

	"gorm.io/datatypes"
)

// ReplayWindow is how long processed activity ids are remembered.
const ReplayWindow = 7 * 24 * time.Hour

// RemoteResolver is what the dispatcher needs from the Resolver.
type RemoteResolver interface {
	ResolveActor(ctx context.Context, id *url.URL) (*domain.Account, error)
	FetchObject(ctx context.Context, iri string) (activitypub.PostObject, error)
	Store(ctx context.Context, doc *activitypub.Actor) (*domain.Account, error)
}

// FollowAcceptor answers inbound follows of local accounts.
type FollowAcceptor interface {
	SendAccept(ctx context.Context, actor, follower *domain.Account, follow *activitypub.Activity) error
	SendReject(ctx context.Context, actor, follower *domain.Account, follow *activitypub.Activity) error
}

// Dispatcher applies verified inbound activities to the domain.
type Dispatcher struct {
	accounts repository.AccountRepository
	posts    repository.PostRepository
	outbox   repository.OutboxRepository
	kv       repository.KeyValueRepository
	resolver RemoteResolver
	acceptor FollowAcceptor
	logger   *slog.Logger
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(
	accounts repository.AccountRepository,
	posts repository.PostRepository,
	outbox repository.OutboxRepository,
	kv repository.KeyValueRepository,
	resolver RemoteResolver,
	acceptor FollowAcceptor,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		accounts: accounts,
		posts:    posts,
		outbox:   outbox,
		kv:       kv,
		resolver: resolver,
		acceptor: acceptor,
		logger:   loggerOrDefault(logger),
	}
}

// Outcomes recorded per inbound activity.
const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeDropped   = "dropped"
	outcomeFailed    = "failed"
)

// errIgnored marks activities that are valid but have nothing to act on.
var errIgnored = errors.New("nothing to apply")

// HandleMessage is the queue handler for inbox jobs.
func (d *Dispatcher) HandleMessage(ctx context.Context, m queue.Message) error {
	var job InboxJob
	if err := json.Unmarshal(m.Payload, &job); err != nil {
		d.logger.ErrorContext(ctx, "dropping undecodable inbox job", slog.String("message_id", m.ID), slog.String("error", err.Error()))
		return nil
	}
	correlationID := job.CorrelationID
	if correlationID == "" {
		correlationID = observability.GenerateCorrelationID()
	}
	ctx = observability.WithCorrelationID(ctx, correlationID)

	activity, err := activitypub.ParseActivity(job.Activity)
	if err != nil {
		d.logger.WarnContext(ctx, "dropping invalid queued activity", slog.String("message_id", m.ID), slog.String("error", err.Error()))
		return nil
	}
	return d.Dispatch(ctx, activity)
}

// Dispatch routes one validated activity. Replays, unknown objects and
// unreachable remotes are logged and swallowed; only storage failures are
// returned, so the queue retries them.
func (d *Dispatcher) Dispatch(ctx context.Context, a *activitypub.Activity) (err error) {
	ctx = middleware.WithActivity(ctx, a.ID, a.Actor)
	ctx, span := observability.TraceDispatch(ctx, a.Type, a.ID)
	outcome := outcomeApplied
	defer func() {
		observability.EndSpan(span, err)
		observability.InboxActivities.WithLabelValues(a.Type, outcome).Inc()
	}()

	key := "activity:" + a.ID
	_, seen, kvErr := d.kv.Get(ctx, key)
	if kvErr != nil {
		outcome = outcomeFailed
		return kvErr
	}
	if seen {
		outcome = outcomeDuplicate
		observability.LogActivity(ctx, "inbound", a.Type, a.ID, outcome, nil)
		return nil
	}

	routeErr := d.route(ctx, a)
	switch {
	case routeErr == nil:
	case errors.Is(routeErr, errIgnored):
		outcome = outcomeIgnored
		routeErr = nil
	case dropped(routeErr):
		outcome = outcomeDropped
	default:
		outcome = outcomeFailed
		observability.LogActivity(ctx, "inbound", a.Type, a.ID, outcome, routeErr)
		return routeErr
	}
	observability.LogActivity(ctx, "inbound", a.Type, a.ID, outcome, routeErr)

	marker, _ := json.Marshal(map[string]string{"type": a.Type, "outcome": outcome})
	if setErr := d.kv.Set(ctx, key, datatypes.JSON(marker), ReplayWindow); setErr != nil {
		d.logger.WarnContext(ctx, "could not remember processed activity", slog.String("error", setErr.Error()))
	}
	return nil
}

// dropped reports errors that retrying cannot fix.
func dropped(err error) bool {
	return models.IsValidation(err) || models.IsNotFound(err) ||
		models.HasCode(err, models.CodeUpstream) || models.HasCode(err, models.CodeUnauthorized)
}

func (d *Dispatcher) route(ctx context.Context, a *activitypub.Activity) error {
	actorURL, err := domain.ParseActorURL(a.Actor)
	if err != nil {
		return models.NewValidationError("activity actor is not a valid url")
	}
	sender, err := d.resolver.ResolveActor(ctx, actorURL)
	if err != nil {
		return err
	}
	if sender.Internal {
		return errIgnored
	}

	switch a.Type {
	case activitypub.TypeFollow:
		return d.follow(ctx, sender, a)
	case activitypub.TypeAccept:
		return d.answerFollow(ctx, sender, a, true)
	case activitypub.TypeReject:
		return d.answerFollow(ctx, sender, a, false)
	case activitypub.TypeUndo:
		return d.undo(ctx, sender, a)
	case activitypub.TypeCreate:
		return d.create(ctx, sender, a)
	case activitypub.TypeAnnounce:
		return d.announce(ctx, sender, a)
	case activitypub.TypeLike:
		return d.like(ctx, sender, a)
	case activitypub.TypeDelete:
		return d.delete(ctx, sender, a)
	case activitypub.TypeUpdate:
		return d.update(ctx, sender, a)
	default:
		return errIgnored
	}
}

// localAccount returns the local account with actor id iri, or errIgnored.
func (d *Dispatcher) localAccount(ctx context.Context, iri string) (*domain.Account, error) {
	account, err := d.accounts.GetByApID(ctx, iri)
	if models.IsNotFound(err) {
		return nil, errIgnored
	}
	if err != nil {
		return nil, err
	}
	if !account.Internal {
		return nil, errIgnored
	}
	return account, nil
}

func (d *Dispatcher) follow(ctx context.Context, sender *domain.Account, a *activitypub.Activity) error {
	target, err := d.localAccount(ctx, a.Object.ID())
	if err != nil {
		return err
	}
	blocked, err := d.accounts.IsBlocking(ctx, target.ID, sender)
	if err != nil {
		return err
	}
	if blocked {
		return d.acceptor.SendReject(ctx, target, sender, a)
	}
	sender.Follow(target)
	if err := d.accounts.Save(ctx, sender); err != nil {
		return err
	}
	return d.acceptor.SendAccept(ctx, target, sender, a)
}

// answerFollow applies an Accept or Reject of a Follow sent by a local account.
func (d *Dispatcher) answerFollow(ctx context.Context, sender *domain.Account, a *activitypub.Activity, accepted bool) error {
	follow, err := d.innerActivity(ctx, a)
	if err != nil {
		return err
	}
	if follow.Type != activitypub.TypeFollow {
		return errIgnored
	}
	if follow.Object.ID() != sender.ApID.String() {
		return models.NewValidationError("only the followed actor can answer a follow")
	}
	follower, err := d.localAccount(ctx, follow.Actor)
	if err != nil {
		return err
	}
	if accepted {
		blocked, err := d.accounts.IsBlocking(ctx, follower.ID, sender)
		if err != nil {
			return err
		}
		if blocked {
			return errIgnored
		}
		follower.Follow(sender)
	} else {
		follower.Unfollow(sender)
	}
	return d.accounts.Save(ctx, follower)
}

// innerActivity returns the embedded object of a, or the stored outbox
// activity it references by id.
func (d *Dispatcher) innerActivity(ctx context.Context, a *activitypub.Activity) (*activitypub.Activity, error) {
	if a.Object.IsEmbedded() {
		return a.Object.Activity()
	}
	item, err := d.outbox.GetByApID(ctx, a.Object.ID())
	if models.IsNotFound(err) {
		return nil, errIgnored
	}
	if err != nil {
		return nil, err
	}
	var inner activitypub.Activity
	if err := json.Unmarshal(item.Payload, &inner); err != nil {
		return nil, models.NewInternalError(err)
	}
	return &inner, nil
}

func (d *Dispatcher) undo(ctx context.Context, sender *domain.Account, a *activitypub.Activity) error {
	if !a.Object.IsEmbedded() {
		return errIgnored
	}
	inner, err := a.Object.Activity()
	if err != nil {
		return err
	}
	if inner.Actor != sender.ApID.String() {
		return models.NewValidationError("an actor can only undo its own activities")
	}

	switch inner.Type {
	case activitypub.TypeFollow:
		target, err := d.localAccount(ctx, inner.Object.ID())
		if err != nil {
			return err
		}
		sender.Unfollow(target)
		return d.accounts.Save(ctx, sender)
	case activitypub.TypeAnnounce:
		return d.onKnownPost(ctx, inner.Object.ID(), func(p *domain.Post) { p.RemoveRepost(sender) })
	case activitypub.TypeLike:
		return d.onKnownPost(ctx, inner.Object.ID(), func(p *domain.Post) { p.RemoveLike(sender) })
	default:
		return errIgnored
	}
}

// onKnownPost applies mutate to a stored post; unknown posts are ignored.
func (d *Dispatcher) onKnownPost(ctx context.Context, iri string, mutate func(*domain.Post)) error {
	post, err := d.posts.GetByApID(ctx, iri)
	if models.IsNotFound(err) {
		return errIgnored
	}
	if err != nil {
		return err
	}
	mutate(post)
	return d.posts.Save(ctx, post)
}

func (d *Dispatcher) create(ctx context.Context, sender *domain.Account, a *activitypub.Activity) error {
	obj, err := a.Object.Post()
	if err != nil {
		return err
	}
	if obj.Base().AttributedTo != sender.ApID.String() {
		return models.NewValidationError("attributedTo does not match the activity actor")
	}
	_, err = d.storePost(ctx, sender, obj)
	return err
}

// storePost saves a remote post unless its id is already known, and returns the stored post.
func (d *Dispatcher) storePost(ctx context.Context, author *domain.Account, obj activitypub.PostObject) (*domain.Post, error) {
	b := obj.Base()
	if existing, err := d.posts.GetByApID(ctx, b.ID); err == nil {
		return existing, nil
	} else if !models.IsNotFound(err) {
		return nil, err
	}

	post, err := d.buildPost(ctx, author, obj)
	if err != nil {
		return nil, err
	}
	if err := d.posts.Save(ctx, post); err != nil {
		if models.IsConflict(err) {
			return d.posts.GetByApID(ctx, b.ID)
		}
		return nil, err
	}
	return post, nil
}

func (d *Dispatcher) buildPost(ctx context.Context, author *domain.Account, obj activitypub.PostObject) (*domain.Post, error) {
	b := obj.Base()
	apID, err := domain.ParseActorURL(b.ID)
	if err != nil {
		return nil, models.NewValidationError("object id is not a valid url")
	}
	if domain.DomainOf(apID) != author.Domain {
		return nil, models.NewValidationError("object id is not on the author's host")
	}

	in := domain.PostInput{
		Type:     models.PostTypeNote,
		Audience: b.AudienceFor(author.FollowersURL),
		Summary:  b.Summary,
		Excerpt:  b.Summary,
		Content:  b.Content,
		URL:      b.URL,
		ApID:     apID,
		Mentions: d.mentions(ctx, b.Mentions()),
	}
	if b.Published != nil {
		in.PublishedAt = b.Published.UTC()
	}
	for _, att := range b.Attachment {
		if att.URL != "" {
			in.Attachments = append(in.Attachments, models.Attachment{Type: att.Type, MediaType: att.MediaType, Name: att.Name, URL: att.URL})
		}
	}
	if article, ok := obj.(*activitypub.Article); ok {
		in.Type = models.PostTypeArticle
		in.Title = article.Name
		if article.Image != nil {
			in.ImageURL = article.Image.URL
		}
	}

	post := domain.NewPost(author, in)
	if b.InReplyTo != "" {
		parent, err := d.posts.GetByApID(ctx, b.InReplyTo)
		switch {
		case err == nil:
			parentID := parent.ID
			root := parent.ID
			if parent.ThreadRoot != nil {
				root = *parent.ThreadRoot
			}
			post.InReplyTo = &parentID
			post.ThreadRoot = &root
			post.ReplyToAuthorID = parent.Author.ID
		case !models.IsNotFound(err):
			return nil, err
		}
	}
	return post, nil
}

// mentions resolves mention hrefs, skipping the ones that cannot be reached.
func (d *Dispatcher) mentions(ctx context.Context, hrefs []string) []*domain.Account {
	out := make([]*domain.Account, 0, len(hrefs))
	for _, href := range hrefs {
		if account, err := d.accounts.GetByApID(ctx, href); err == nil {
			out = append(out, account)
			continue
		}
		u, err := domain.ParseActorURL(href)
		if err != nil {
			continue
		}
		account, err := d.resolver.ResolveActor(ctx, u)
		if err != nil {
			d.logger.WarnContext(ctx, "skipping unresolvable mention", slog.String("href", href), slog.String("error", err.Error()))
			continue
		}
		out = append(out, account)
	}
	return out
}

// resolvePost finds a post by id, fetching it from its origin when unknown.
func (d *Dispatcher) resolvePost(ctx context.Context, iri string) (*domain.Post, error) {
	post, err := d.posts.GetByApID(ctx, iri)
	if err == nil || !models.IsNotFound(err) {
		return post, err
	}

	obj, err := d.resolver.FetchObject(ctx, iri)
	if err != nil {
		return nil, err
	}
	authorURL, err := domain.ParseActorURL(obj.Base().AttributedTo)
	if err != nil {
		return nil, models.NewValidationError("attributedTo is not a valid url")
	}
	author, err := d.resolver.ResolveActor(ctx, authorURL)
	if err != nil {
		return nil, err
	}
	return d.storePost(ctx, author, obj)
}

func (d *Dispatcher) announce(ctx context.Context, sender *domain.Account, a *activitypub.Activity) error {
	post, err := d.resolvePost(ctx, a.Object.ID())
	if err != nil {
		return err
	}
	if post.Audience != models.AudiencePublic {
		return errIgnored
	}
	post.AddRepost(sender)
	return d.posts.Save(ctx, post)
}

func (d *Dispatcher) like(ctx context.Context, sender *domain.Account, a *activitypub.Activity) error {
	return d.onKnownPost(ctx, a.Object.ID(), func(p *domain.Post) { p.AddLike(sender) })
}

func (d *Dispatcher) delete(ctx context.Context, sender *domain.Account, a *activitypub.Activity) error {
	if a.Object.ID() == sender.ApID.String() {
		// Account deletion is not supported.
		return errIgnored
	}
	post, err := d.posts.GetByApID(ctx, a.Object.ID())
	if models.IsNotFound(err) {
		return errIgnored
	}
	if err != nil {
		return err
	}
	if err := post.Delete(sender); err != nil {
		return models.NewValidationError(err.Error())
	}
	return d.posts.Save(ctx, post)
}

func (d *Dispatcher) update(ctx context.Context, sender *domain.Account, a *activitypub.Activity) error {
	if activitypub.IsActorType(a.Object.Type()) {
		doc, err := a.Object.Actor()
		if err != nil {
			return err
		}
		if doc.ID != sender.ApID.String() {
			return models.NewValidationError("an actor can only update itself")
		}
		if sender.UpdateProfile(doc.ProfileUpdate()) {
			if err := d.accounts.Save(ctx, sender); err != nil {
				return err
			}
		}
		_, err = d.resolver.Store(ctx, doc)
		return err
	}

	obj, err := a.Object.Post()
	if err != nil {
		return err
	}
	b := obj.Base()
	if b.AttributedTo != sender.ApID.String() {
		return models.NewValidationError("attributedTo does not match the activity actor")
	}
	post, err := d.posts.GetByApID(ctx, b.ID)
	if models.IsNotFound(err) {
		return errIgnored
	}
	if err != nil {
		return err
	}

	u := domain.PostUpdate{Content: &b.Content, Summary: &b.Summary, Excerpt: &b.Summary}
	if b.URL != "" {
		u.URL = &b.URL
	}
	if article, ok := obj.(*activitypub.Article); ok {
		u.Title = &article.Name
		if article.Image != nil {
			u.ImageURL = &article.Image.URL
		}
	}
	changed, err := post.Update(sender, u)
	if err != nil {
		return models.NewValidationError(err.Error())
	}
	if !changed {
		return errIgnored
	}
	return d.posts.Save(ctx, post)
}
