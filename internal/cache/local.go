package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	gocache "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/marshaler"
	"github.com/eko/gocache/lib/v4/store"
	ristrettostore "github.com/eko/gocache/store/ristretto/v4"
)

// Local is an in-process, size-bounded cache of T values keyed by string.
type Local[T any] struct {
	client  *ristretto.Cache
	marshal *marshaler.Marshaler
	prefix  string
	ttl     time.Duration
}

// NewLocal creates a cache holding at most maxEntries values for ttl each.
func NewLocal[T any](prefix string, maxEntries int64, ttl time.Duration) (*Local[T], error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	client, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}

	manager := gocache.New[any](ristrettostore.NewRistretto(client))
	return &Local[T]{
		client:  client,
		marshal: marshaler.New(manager),
		prefix:  prefix,
		ttl:     ttl,
	}, nil
}

func (l *Local[T]) key(k string) string {
	return l.prefix + "#" + k
}

// Get returns the cached value for k, or false on a miss.
func (l *Local[T]) Get(ctx context.Context, k string) (*T, bool) {
	v, err := l.marshal.Get(ctx, l.key(k), new(T))
	if err != nil {
		return nil, false
	}
	out, ok := v.(*T)
	return out, ok
}

// Set stores v under k. Writes are visible to Get once Set returns.
func (l *Local[T]) Set(ctx context.Context, k string, v *T) error {
	err := l.marshal.Set(ctx, l.key(k), v,
		store.WithExpiration(l.ttl),
		store.WithCost(1),
	)
	if err != nil {
		return err
	}
	l.client.Wait()
	return nil
}

// Delete evicts k.
func (l *Local[T]) Delete(ctx context.Context, k string) {
	_ = l.marshal.Delete(ctx, l.key(k))
}

// Keys used across the node.
const (
	NotificationChannelPrefix = "notifications:user:%d"
	RemoteActorPrefix         = "actor"
	WebfingerPrefix           = "webfinger"
)

// NotificationChannel is the pub/sub channel carrying live notifications for a user.
func NotificationChannel(userID uint) string {
	return fmt.Sprintf(NotificationChannelPrefix, userID)
}
