// Package queue is an at-least-once message queue on Redis streams. Messages
// are read through a consumer group; failed messages stay pending and are
// reclaimed with exponential backoff until they succeed or are dead-lettered.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"outpost/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message field names on the stream entry.
const (
	fieldID           = "id"
	fieldSubscription = "subscription"
	fieldEventHost    = "event_host"
	fieldPayload      = "payload"
	fieldError        = "error"
)

// Message is one queued unit of work.
type Message struct {
	ID           string
	Subscription string
	EventHost    string
	Payload      []byte
	// DeliverAt requests delayed delivery, which streams cannot do. Messages
	// with a future DeliverAt are skipped at enqueue time.
	DeliverAt time.Time

	// Attempt is the delivery count, starting at 1. Set by the listener.
	Attempt int64
	entryID string
}

// Handler processes a message. A nil error acknowledges it.
type Handler func(ctx context.Context, m Message) error

// Config describes one stream and its consumer group.
type Config struct {
	Stream       string
	Group        string
	Consumer     string
	Subscription string
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	// Block is how long one read waits for new entries.
	Block     time.Duration
	BatchSize int64
	MaxLen    int64
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 8
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Minute
	}
	if c.Block <= 0 {
		c.Block = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.MaxLen <= 0 {
		c.MaxLen = 100000
	}
	if c.Subscription == "" {
		c.Subscription = c.Group
	}
}

// DeadLetterStream is where exhausted messages of stream end up.
func DeadLetterStream(stream string) string {
	return stream + ":dead"
}

// Backoff returns the wait before delivery attempt+1: base * 2^(attempt-1), capped at max.
func Backoff(attempt int64, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := int64(1); i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Queue publishes to and consumes from one stream.
type Queue struct {
	rdb    redis.Cmdable
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Queue for cfg.
func New(rdb redis.Cmdable, cfg Config, logger *slog.Logger) *Queue {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{rdb: rdb, cfg: cfg, logger: logger.With(slog.String("stream", cfg.Stream)), now: time.Now}
}

// Stream returns the stream name.
func (q *Queue) Stream() string {
	return q.cfg.Stream
}

// Subscription returns the subscription messages default to.
func (q *Queue) Subscription() string {
	return q.cfg.Subscription
}

func (q *Queue) count(result string) {
	observability.QueueMessages.WithLabelValues(q.cfg.Stream, result).Inc()
}

// Enqueue appends m to the stream. The message id travels as a field for
// tracing and dedup by consumers.
func (q *Queue) Enqueue(ctx context.Context, m Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if !m.DeliverAt.IsZero() && m.DeliverAt.After(q.now()) {
		q.count("skipped")
		q.logger.WarnContext(ctx, "delayed delivery is not supported, message not enqueued",
			slog.String("message_id", m.ID),
			slog.Time("deliver_at", m.DeliverAt),
		)
		return nil
	}
	if m.Subscription == "" {
		m.Subscription = q.cfg.Subscription
	}

	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		MaxLen: q.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			fieldID:           m.ID,
			fieldSubscription: m.Subscription,
			fieldEventHost:    m.EventHost,
			fieldPayload:      string(m.Payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", q.cfg.Stream, err)
	}
	q.count("enqueued")
	return nil
}

func (q *Queue) ensureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func decode(x redis.XMessage) (Message, error) {
	str := func(k string) string {
		v, _ := x.Values[k].(string)
		return v
	}
	m := Message{
		ID:           str(fieldID),
		Subscription: str(fieldSubscription),
		EventHost:    str(fieldEventHost),
		Payload:      []byte(str(fieldPayload)),
		entryID:      x.ID,
	}
	if m.ID == "" || m.Subscription == "" {
		return m, errors.New("message is missing id or subscription")
	}
	return m, nil
}

// Listen consumes the stream until ctx is cancelled, then returns nil.
func (q *Queue) Listen(ctx context.Context, h Handler) error {
	if ctx.Err() != nil {
		return nil
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	q.logger.InfoContext(ctx, "queue listener started",
		slog.String("group", q.cfg.Group),
		slog.String("consumer", q.cfg.Consumer),
	)

	reclaimEvery := q.cfg.BackoffBase
	if reclaimEvery > 5*time.Second {
		reclaimEvery = 5 * time.Second
	}
	lastReclaim := q.now()

	for {
		if ctx.Err() != nil {
			q.logger.Info("queue listener stopped")
			return nil
		}

		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    q.cfg.BatchSize,
			Block:    q.cfg.Block,
		}).Result()
		switch {
		case ctx.Err() != nil:
			continue
		case errors.Is(err, redis.Nil):
		case err != nil:
			q.logger.ErrorContext(ctx, "queue read failed", slog.String("error", err.Error()))
			sleep(ctx, q.cfg.Block)
			continue
		}

		for _, s := range streams {
			for _, x := range s.Messages {
				q.process(ctx, x, 1, h)
			}
		}

		if q.now().Sub(lastReclaim) >= reclaimEvery {
			lastReclaim = q.now()
			if err := q.reclaim(ctx, h); err != nil && ctx.Err() == nil {
				q.logger.ErrorContext(ctx, "queue reclaim failed", slog.String("error", err.Error()))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (q *Queue) process(ctx context.Context, x redis.XMessage, attempt int64, h Handler) {
	m, err := decode(x)
	if err != nil {
		q.deadLetter(ctx, x, err)
		return
	}
	m.Attempt = attempt

	log := q.logger.With(slog.String("message_id", m.ID), slog.Int64("attempt", attempt))
	if m.Subscription != q.cfg.Subscription {
		// Left pending for the consumer it was meant for.
		q.count("mismatch")
		log.WarnContext(ctx, "message subscription mismatch, nacked",
			slog.String("subscription", m.Subscription),
			slog.String("expected", q.cfg.Subscription),
		)
		return
	}

	spanCtx, span := observability.TraceQueueMessage(ctx, q.cfg.Stream, m.ID)
	err = q.invoke(spanCtx, h, m)
	observability.EndSpan(span, err)
	if err != nil {
		q.count("nack")
		log.WarnContext(ctx, "message handler failed, will retry",
			slog.Duration("retry_in", Backoff(attempt, q.cfg.BackoffBase, q.cfg.BackoffMax)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, x.ID).Err(); err != nil {
		log.ErrorContext(ctx, "queue ack failed", slog.String("error", err.Error()))
		return
	}
	q.count("ack")
}

func (q *Queue) invoke(ctx context.Context, h Handler, m Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, m)
}

// reclaim retries pending messages whose backoff elapsed and dead-letters
// the ones that used up their retries.
func (q *Queue) reclaim(ctx context.Context, h Handler) error {
	pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.cfg.Stream,
		Group:  q.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  q.cfg.BatchSize * 4,
	}).Result()
	if err != nil {
		return err
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			return nil
		}
		if p.RetryCount >= int64(q.cfg.MaxRetries) {
			entries, err := q.rdb.XRangeN(ctx, q.cfg.Stream, p.ID, p.ID, 1).Result()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				_ = q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, p.ID).Err()
				continue
			}
			q.deadLetter(ctx, entries[0], fmt.Errorf("gave up after %d attempts", p.RetryCount))
			continue
		}

		wait := Backoff(p.RetryCount, q.cfg.BackoffBase, q.cfg.BackoffMax)
		if p.Idle < wait {
			continue
		}
		claimed, err := q.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.cfg.Stream,
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			MinIdle:  wait,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			return err
		}
		for _, x := range claimed {
			q.count("reclaimed")
			q.process(ctx, x, p.RetryCount+1, h)
		}
	}
	return nil
}

func (q *Queue) deadLetter(ctx context.Context, x redis.XMessage, reason error) {
	values := make(map[string]interface{}, len(x.Values)+1)
	for k, v := range x.Values {
		values[k] = v
	}
	values[fieldError] = reason.Error()

	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream(q.cfg.Stream),
		MaxLen: q.cfg.MaxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		q.logger.ErrorContext(ctx, "dead-letter write failed", slog.String("entry_id", x.ID), slog.String("error", err.Error()))
		return
	}
	if err := q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, x.ID).Err(); err != nil {
		q.logger.ErrorContext(ctx, "dead-letter ack failed", slog.String("entry_id", x.ID), slog.String("error", err.Error()))
		return
	}
	q.count("dead")
	q.logger.WarnContext(ctx, "message dead-lettered", slog.String("entry_id", x.ID), slog.String("reason", reason.Error()))
}

// Direct hands messages straight to a handler. It stands in for a stream
// when the node runs without the queue.
type Direct struct {
	Handler Handler
}

// Enqueue runs the handler synchronously.
func (d Direct) Enqueue(ctx context.Context, m Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Attempt = 1
	return d.Handler(ctx, m)
}
