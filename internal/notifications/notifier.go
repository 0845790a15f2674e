// Package notifications pushes freshly created notifications to connected
// websocket clients through redis pub/sub, so every instance can serve them.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"outpost/internal/cache"
	"outpost/internal/middleware"

	"github.com/redis/go-redis/v9"
)

const userPattern = "notifications:user:*"

// Notifier publishes notification payloads into per-user redis channels.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishUser sends a notification payload to a user's channel.
func (n *Notifier) PublishUser(ctx context.Context, userID uint, payload string) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, cache.NotificationChannel(userID), payload).Err()
}

// StartPatternSubscriber subscribes to every user channel and calls onMessage
// for each incoming message until ctx is cancelled.
func (n *Notifier) StartPatternSubscriber(ctx context.Context, onMessage func(channel, payload string)) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, userPattern)
	// Wait for the subscription so messages published right after start are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", userPattern, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in notification subscriber",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}

// ParseUserChannel extracts the user id from a notifications:user:<id> channel.
func ParseUserChannel(channel string) (uint, bool) {
	if !strings.HasPrefix(channel, "notifications:user:") {
		return 0, false
	}
	var userID uint
	if _, err := fmt.Sscanf(channel, "notifications:user:%d", &userID); err != nil || userID == 0 {
		return 0, false
	}
	return userID, true
}
