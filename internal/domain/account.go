// Package domain holds the account and post aggregates. Mutators are pure:
// they record pending changes and queue events, and persistence happens in
// the repository layer, which drains the events only after committing.
package domain

import (
	"net/url"
	"reflect"
	"strings"
	"time"

	"outpost/internal/events"
)

// ChangeKind names a pending relationship or state change on an aggregate.
type ChangeKind int

const (
	ChangeFollow ChangeKind = iota + 1
	ChangeUnfollow
	ChangeBlock
	ChangeUnblock
	ChangeBlockDomain
	ChangeUnblockDomain
	ChangeReadNotifications
	ChangeProfile
	ChangeLike
	ChangeUnlike
	ChangeRepost
	ChangeDerepost
	ChangeDelete
	ChangeContent
)

// Change is one pending write. TargetID is the other account involved (if any).
type Change struct {
	Kind     ChangeKind
	TargetID uint
	Domain   string
}

// Account is a local or remote actor.
type Account struct {
	ID             uint
	UUID           string
	Username       string
	Name           string
	Bio            string
	AvatarURL      string
	BannerImageURL string
	URL            string
	CustomFields   map[string]any

	ApID          *url.URL
	Inbox         *url.URL
	SharedInbox   *url.URL
	OutboxURL     string
	FollowersURL  string
	FollowingURL  string
	LikedURL      string
	PublicKeyPEM  string
	PrivateKeyPEM string
	Domain        string
	Internal      bool
	CreatedAt     time.Time

	changes []Change
}

// ProfileUpdate carries the editable profile fields; nil leaves a field unchanged.
type ProfileUpdate struct {
	Name           *string
	Bio            *string
	AvatarURL      *string
	BannerImageURL *string
	CustomFields   map[string]any
}

// DomainOf returns the lower-cased host of an actor or object id.
func DomainOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Handle returns user@domain.
func (a *Account) Handle() string {
	return a.Username + "@" + a.Domain
}

// InboxFor returns the shared inbox when the actor advertises one, otherwise its personal inbox.
func (a *Account) InboxFor() *url.URL {
	if a.SharedInbox != nil {
		return a.SharedInbox
	}
	return a.Inbox
}

func (a *Account) record(c Change) {
	a.changes = append(a.changes, c)
}

// Follow makes a follow target. Following yourself does nothing.
func (a *Account) Follow(target *Account) {
	if target == nil || target.ID == a.ID {
		return
	}
	a.record(Change{Kind: ChangeFollow, TargetID: target.ID})
}

// Unfollow removes a follow of target. Unfollowing yourself does nothing.
func (a *Account) Unfollow(target *Account) {
	if target == nil || target.ID == a.ID {
		return
	}
	a.record(Change{Kind: ChangeUnfollow, TargetID: target.ID})
}

// Block blocks target. Blocking yourself does nothing.
func (a *Account) Block(target *Account) {
	if target == nil || target.ID == a.ID {
		return
	}
	a.record(Change{Kind: ChangeBlock, TargetID: target.ID})
}

// Unblock lifts a block on target.
func (a *Account) Unblock(target *Account) {
	if target == nil || target.ID == a.ID {
		return
	}
	a.record(Change{Kind: ChangeUnblock, TargetID: target.ID})
}

// BlockDomain hides every account on domain. The account's own domain cannot be blocked.
func (a *Account) BlockDomain(domain string) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || domain == a.Domain {
		return
	}
	a.record(Change{Kind: ChangeBlockDomain, Domain: domain})
}

// UnblockDomain lifts a domain block.
func (a *Account) UnblockDomain(domain string) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || domain == a.Domain {
		return
	}
	a.record(Change{Kind: ChangeUnblockDomain, Domain: domain})
}

// ReadAllNotifications marks every notification of the account's user as read.
func (a *Account) ReadAllNotifications() {
	a.record(Change{Kind: ChangeReadNotifications})
}

// UpdateProfile applies u and reports whether anything changed. An event is
// only queued when at least one field differs.
func (a *Account) UpdateProfile(u ProfileUpdate) bool {
	changed := false
	set := func(dst *string, v *string) {
		if v != nil && *v != *dst {
			*dst = *v
			changed = true
		}
	}
	set(&a.Name, u.Name)
	set(&a.Bio, u.Bio)
	set(&a.AvatarURL, u.AvatarURL)
	set(&a.BannerImageURL, u.BannerImageURL)
	if u.CustomFields != nil && !sameFields(a.CustomFields, u.CustomFields) {
		a.CustomFields = u.CustomFields
		changed = true
	}

	if changed {
		a.record(Change{Kind: ChangeProfile})
	}
	return changed
}

func sameFields(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Changes returns the pending writes without draining them.
func (a *Account) Changes() []Change {
	return append([]Change(nil), a.changes...)
}

// PullEvents drains the pending changes and returns the events they raise.
func (a *Account) PullEvents() []events.Event {
	out := make([]events.Event, 0, len(a.changes))
	for _, c := range a.changes {
		switch c.Kind {
		case ChangeFollow:
			out = append(out, events.AccountFollowedEvent{AccountID: c.TargetID, FollowerID: a.ID})
		case ChangeUnfollow:
			out = append(out, events.AccountUnfollowedEvent{AccountID: c.TargetID, FollowerID: a.ID})
		case ChangeBlock:
			out = append(out, events.AccountBlockedEvent{AccountID: c.TargetID, BlockerID: a.ID})
		case ChangeUnblock:
			out = append(out, events.AccountUnblockedEvent{AccountID: c.TargetID, BlockerID: a.ID})
		case ChangeBlockDomain:
			out = append(out, events.DomainBlockedEvent{Domain: c.Domain, BlockerID: a.ID})
		case ChangeUnblockDomain:
			out = append(out, events.DomainUnblockedEvent{Domain: c.Domain, BlockerID: a.ID})
		case ChangeReadNotifications:
			out = append(out, events.NotificationsReadEvent{AccountID: a.ID})
		case ChangeProfile:
			out = append(out, events.AccountUpdatedEvent{AccountID: a.ID})
		}
	}
	a.changes = nil
	return out
}
