// Package federation moves activities between this node and remote servers:
// it resolves and caches remote actors, verifies and produces HTTP
// signatures, routes inbound activities to the domain, and fans outbound
// activities out to follower inboxes through the queue.
package federation

import (
	"context"
	"log/slog"

	"outpost/internal/queue"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Queue subscriptions.
const (
	SubscriptionInbox    = "inbox"
	SubscriptionDelivery = "delivery"
)

// Enqueuer accepts messages for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, m queue.Message) error
}

// InboxJob is one verified inbound activity waiting for dispatch.
type InboxJob struct {
	// Recipient is the local username for personal inboxes, empty for the shared inbox.
	Recipient string              `json:"recipient,omitempty"`
	Activity  jsoniter.RawMessage `json:"activity"`

	// CorrelationID ties the job's log lines to the inbox request that queued it.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// DeliveryJob is one signed POST of an outbox activity to one inbox.
type DeliveryJob struct {
	ActivityID string              `json:"activity_id"`
	AccountID  uint                `json:"account_id"`
	Inbox      string              `json:"inbox"`
	Body       jsoniter.RawMessage `json:"body"`
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
