package federation

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"outpost/internal/activitypub"
	"outpost/internal/domain"
	"outpost/internal/events"
	"outpost/internal/models"
	"outpost/internal/queue"
	"outpost/internal/repository"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/datatypes"
)

// Publisher turns domain events of local accounts into activities, stores
// them in the outbox and queues one delivery per recipient inbox.
type Publisher struct {
	accounts repository.AccountRepository
	posts    repository.PostRepository
	outbox   repository.OutboxRepository
	queue    Enqueuer
	logger   *slog.Logger
}

// NewPublisher returns a Publisher that enqueues deliveries on q.
func NewPublisher(accounts repository.AccountRepository, posts repository.PostRepository, outbox repository.OutboxRepository, q Enqueuer, logger *slog.Logger) *Publisher {
	return &Publisher{accounts: accounts, posts: posts, outbox: outbox, queue: q, logger: loggerOrDefault(logger)}
}

// Register subscribes the publisher to bus.
func (p *Publisher) Register(bus *events.Bus) {
	events.Subscribe(bus, "publisher.post_created", p.onPostCreated)
	events.Subscribe(bus, "publisher.post_updated", p.onPostUpdated)
	events.Subscribe(bus, "publisher.post_deleted", p.onPostDeleted)
	events.Subscribe(bus, "publisher.post_reposted", p.onPostReposted)
	events.Subscribe(bus, "publisher.post_dereposted", p.onPostDereposted)
	events.Subscribe(bus, "publisher.post_liked", p.onPostLiked)
	events.Subscribe(bus, "publisher.post_unliked", p.onPostUnliked)
	events.Subscribe(bus, "publisher.account_updated", p.onAccountUpdated)
	events.Subscribe(bus, "publisher.account_unfollowed", p.onAccountUnfollowed)
}

// SelectInboxes reduces follower endpoints to the inboxes to POST to. Each
// host gets the shared inbox most of its followers advertise; hosts where
// nobody advertises one get every personal inbox.
func SelectInboxes(rows []repository.Inbox) []string {
	byHost := lo.GroupBy(rows, func(r repository.Inbox) string { return r.Domain })
	hosts := lo.Keys(byHost)
	sort.Strings(hosts)

	var out []string
	for _, host := range hosts {
		group := byHost[host]
		shared := lo.CountValuesBy(
			lo.Filter(group, func(r repository.Inbox, _ int) bool { return r.SharedInbox != "" }),
			func(r repository.Inbox) string { return r.SharedInbox },
		)
		if len(shared) == 0 {
			out = append(out, lo.Map(group, func(r repository.Inbox, _ int) string { return r.Inbox })...)
			continue
		}
		// One server answers for the whole host, so its shared inbox also
		// reaches the followers there that only list a personal inbox.
		candidates := lo.Keys(shared)
		sort.Strings(candidates)
		best := candidates[0]
		for _, c := range candidates[1:] {
			if shared[c] > shared[best] {
				best = c
			}
		}
		out = append(out, best)
	}
	return lo.Uniq(out)
}

// recipients returns the inboxes for an activity by actor: its followers
// (when withFollowers) plus every explicit remote account.
func (p *Publisher) recipients(ctx context.Context, actor *domain.Account, withFollowers bool, explicit ...*domain.Account) ([]string, error) {
	var inboxes []string
	if withFollowers {
		rows, err := p.accounts.ExternalFollowerInboxes(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		inboxes = SelectInboxes(rows)
	}
	for _, a := range explicit {
		if a == nil || a.Internal || a.ID == actor.ID {
			continue
		}
		if inbox := a.InboxFor(); inbox != nil {
			inboxes = append(inboxes, inbox.String())
		}
	}
	return lo.Uniq(inboxes), nil
}

// publish stores activity in actor's outbox and queues it for inboxes.
func (p *Publisher) publish(ctx context.Context, actor *domain.Account, activity *activitypub.Activity, postID *uint, inboxes []string) error {
	body, err := activity.Encode()
	if err != nil {
		return err
	}
	published := time.Now().UTC()
	if activity.Published != nil {
		published = *activity.Published
	}
	item := &models.Outbox{
		UUID:         uuid.NewString(),
		AccountID:    actor.ID,
		PostID:       postID,
		ActivityType: activity.Type,
		ApID:         activity.ID,
		ObjectID:     activity.Object.ID(),
		Payload:      datatypes.JSON(body),
		PublishedAt:  published,
	}
	if err := p.outbox.Create(ctx, item); err != nil {
		return err
	}

	for _, inbox := range inboxes {
		job, err := json.Marshal(DeliveryJob{ActivityID: activity.ID, AccountID: actor.ID, Inbox: inbox, Body: body})
		if err != nil {
			return err
		}
		host := ""
		if u, err := url.Parse(inbox); err == nil {
			host = u.Host
		}
		err = p.queue.Enqueue(ctx, queue.Message{
			Subscription: SubscriptionDelivery,
			EventHost:    host,
			Payload:      job,
		})
		if err != nil {
			return fmt.Errorf("enqueue delivery to %s: %w", inbox, err)
		}
	}
	p.logger.InfoContext(ctx, "activity published",
		slog.String("activity_id", activity.ID),
		slog.String("activity_type", activity.Type),
		slog.Int("inboxes", len(inboxes)),
	)
	return nil
}

func newActivityID(actor *domain.Account) string {
	return activitypub.ActivityID(actor, uuid.NewString())
}

// postContext loads a post by a local author along with its parent and the
// accounts that must receive it regardless of following.
func (p *Publisher) postContext(ctx context.Context, post *domain.Post) (inReplyTo string, explicit []*domain.Account, err error) {
	explicit = append(explicit, post.Mentions...)
	if post.InReplyTo != nil {
		parent, err := p.posts.GetByIDUnscoped(ctx, *post.InReplyTo)
		if err != nil && !models.IsNotFound(err) {
			return "", nil, err
		}
		if parent != nil {
			inReplyTo = parent.ApID.String()
			explicit = append(explicit, parent.Author)
		}
	}
	return inReplyTo, explicit, nil
}

func (p *Publisher) localPost(ctx context.Context, postID uint) (*domain.Post, error) {
	post, err := p.posts.GetByIDUnscoped(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.Author == nil || !post.Author.Internal {
		return nil, nil
	}
	return post, nil
}

func (p *Publisher) onPostCreated(ctx context.Context, e events.PostCreatedEvent) error {
	post, err := p.localPost(ctx, e.PostID)
	if err != nil || post == nil {
		return err
	}
	inReplyTo, explicit, err := p.postContext(ctx, post)
	if err != nil {
		return err
	}
	inboxes, err := p.recipients(ctx, post.Author, post.Materializes(), explicit...)
	if err != nil {
		return err
	}
	return p.publish(ctx, post.Author, activitypub.NewCreate(newActivityID(post.Author), post, inReplyTo), &post.ID, inboxes)
}

func (p *Publisher) onPostUpdated(ctx context.Context, e events.PostUpdatedEvent) error {
	post, err := p.localPost(ctx, e.PostID)
	if err != nil || post == nil || post.Deleted {
		return err
	}
	inReplyTo, explicit, err := p.postContext(ctx, post)
	if err != nil {
		return err
	}
	inboxes, err := p.recipients(ctx, post.Author, post.Materializes(), explicit...)
	if err != nil {
		return err
	}
	return p.publish(ctx, post.Author, activitypub.NewUpdatePost(newActivityID(post.Author), post, inReplyTo), &post.ID, inboxes)
}

func (p *Publisher) onPostDeleted(ctx context.Context, e events.PostDeletedEvent) error {
	post, err := p.localPost(ctx, e.PostID)
	if err != nil || post == nil {
		return err
	}
	_, explicit, err := p.postContext(ctx, post)
	if err != nil {
		return err
	}
	inboxes, err := p.recipients(ctx, post.Author, post.Materializes(), explicit...)
	if err != nil {
		return err
	}
	return p.publish(ctx, post.Author, activitypub.NewDelete(newActivityID(post.Author), post), &post.ID, inboxes)
}

// interaction loads the local actor and the post of a like or repost.
func (p *Publisher) interaction(ctx context.Context, accountID, postID uint) (*domain.Account, *domain.Post, error) {
	actor, err := p.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	if !actor.Internal {
		return nil, nil, nil
	}
	post, err := p.posts.GetByIDUnscoped(ctx, postID)
	if err != nil {
		return nil, nil, err
	}
	return actor, post, nil
}

func (p *Publisher) onPostReposted(ctx context.Context, e events.PostRepostedEvent) error {
	actor, post, err := p.interaction(ctx, e.AccountID, e.PostID)
	if err != nil || actor == nil {
		return err
	}
	inboxes, err := p.recipients(ctx, actor, true, post.Author)
	if err != nil {
		return err
	}
	return p.publish(ctx, actor, activitypub.NewAnnounce(newActivityID(actor), actor, post), &post.ID, inboxes)
}

func (p *Publisher) onPostDereposted(ctx context.Context, e events.PostDerepostedEvent) error {
	actor, post, err := p.interaction(ctx, e.AccountID, e.PostID)
	if err != nil || actor == nil {
		return err
	}
	inner, err := p.previous(ctx, actor, activitypub.TypeAnnounce, post.ApID.String(), func() *activitypub.Activity {
		return activitypub.NewAnnounce(newActivityID(actor), actor, post)
	})
	if err != nil {
		return err
	}
	inboxes, err := p.recipients(ctx, actor, true, post.Author)
	if err != nil {
		return err
	}
	return p.publish(ctx, actor, activitypub.NewUndo(newActivityID(actor), actor, inner), &post.ID, inboxes)
}

// Likes are only federated for remote posts; local authors see them directly.
func (p *Publisher) onPostLiked(ctx context.Context, e events.PostLikedEvent) error {
	actor, post, err := p.interaction(ctx, e.AccountID, e.PostID)
	if err != nil || actor == nil || post.Author.Internal {
		return err
	}
	inboxes, err := p.recipients(ctx, actor, false, post.Author)
	if err != nil {
		return err
	}
	return p.publish(ctx, actor, activitypub.NewLike(newActivityID(actor), actor, post), &post.ID, inboxes)
}

func (p *Publisher) onPostUnliked(ctx context.Context, e events.PostUnlikedEvent) error {
	actor, post, err := p.interaction(ctx, e.AccountID, e.PostID)
	if err != nil || actor == nil || post.Author.Internal {
		return err
	}
	inner, err := p.previous(ctx, actor, activitypub.TypeLike, post.ApID.String(), func() *activitypub.Activity {
		return activitypub.NewLike(newActivityID(actor), actor, post)
	})
	if err != nil {
		return err
	}
	inboxes, err := p.recipients(ctx, actor, false, post.Author)
	if err != nil {
		return err
	}
	return p.publish(ctx, actor, activitypub.NewUndo(newActivityID(actor), actor, inner), &post.ID, inboxes)
}

func (p *Publisher) onAccountUpdated(ctx context.Context, e events.AccountUpdatedEvent) error {
	actor, err := p.accounts.GetByID(ctx, e.AccountID)
	if err != nil || !actor.Internal {
		return err
	}
	inboxes, err := p.recipients(ctx, actor, true)
	if err != nil {
		return err
	}
	return p.publish(ctx, actor, activitypub.NewUpdateActor(newActivityID(actor), actor), nil, inboxes)
}

// onAccountUnfollowed tells a remote account that a local follower left.
func (p *Publisher) onAccountUnfollowed(ctx context.Context, e events.AccountUnfollowedEvent) error {
	follower, err := p.accounts.GetByID(ctx, e.FollowerID)
	if err != nil || !follower.Internal {
		return err
	}
	target, err := p.accounts.GetByID(ctx, e.AccountID)
	if err != nil || target.Internal {
		return err
	}
	inner, err := p.previous(ctx, follower, activitypub.TypeFollow, target.ApID.String(), func() *activitypub.Activity {
		return activitypub.NewFollow(newActivityID(follower), follower, target)
	})
	if err != nil {
		return err
	}
	return p.publish(ctx, follower, activitypub.NewUndo(newActivityID(follower), follower, inner), nil, []string{target.Inbox.String()})
}

// previous returns the stored activity an Undo withdraws, or a rebuilt one
// when it predates the outbox.
func (p *Publisher) previous(ctx context.Context, actor *domain.Account, activityType, objectID string, rebuild func() *activitypub.Activity) (*activitypub.Activity, error) {
	item, err := p.outbox.FindLatest(ctx, actor.ID, activityType, objectID)
	if err != nil {
		if models.IsNotFound(err) {
			return rebuild(), nil
		}
		return nil, err
	}
	var a activitypub.Activity
	if err := json.Unmarshal(item.Payload, &a); err != nil {
		return rebuild(), nil
	}
	return &a, nil
}

// SendFollow asks target to accept follower. The follow row is written when the Accept arrives.
func (p *Publisher) SendFollow(ctx context.Context, follower, target *domain.Account) error {
	if !follower.Internal {
		return models.NewValidationError("only local accounts can send follows")
	}
	if target.Inbox == nil {
		return models.NewValidationError("target has no inbox")
	}
	follow := activitypub.NewFollow(newActivityID(follower), follower, target)
	return p.publish(ctx, follower, follow, nil, []string{target.Inbox.String()})
}

// SendAccept accepts follow on behalf of the local account it targets.
func (p *Publisher) SendAccept(ctx context.Context, actor, follower *domain.Account, follow *activitypub.Activity) error {
	return p.answer(ctx, actor, follower, activitypub.NewAccept(newActivityID(actor), actor, follow))
}

// SendReject refuses follow on behalf of the local account it targets.
func (p *Publisher) SendReject(ctx context.Context, actor, follower *domain.Account, follow *activitypub.Activity) error {
	return p.answer(ctx, actor, follower, activitypub.NewReject(newActivityID(actor), actor, follow))
}

func (p *Publisher) answer(ctx context.Context, actor, follower *domain.Account, activity *activitypub.Activity) error {
	if follower.Inbox == nil {
		return models.NewValidationError("follower has no inbox")
	}
	return p.publish(ctx, actor, activity, nil, []string{follower.Inbox.String()})
}
