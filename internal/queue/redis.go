package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const bodyField = "body"

// RedisStreamQueue runs on a Redis stream with one consumer group shared by
// every worker process. Entries stay in the group's pending list until
// XACK; entries idle longer than the visibility timeout are reclaimed by
// whichever consumer asks next.
type RedisStreamQueue struct {
	client            *redis.Client
	stream            string
	group             string
	consumer          string
	visibilityTimeout time.Duration
	block             time.Duration

	mu          sync.Mutex
	lastReclaim time.Time
	closed      bool
}

var _ Queue = (*RedisStreamQueue)(nil)

type RedisStreamOption func(*RedisStreamQueue)

// WithBlock sets how long one XREADGROUP call waits for new entries.
func WithBlock(d time.Duration) RedisStreamOption {
	return func(q *RedisStreamQueue) { q.block = d }
}

// NewRedisStreamQueue creates the consumer group if it does not exist.
func NewRedisStreamQueue(ctx context.Context, client *redis.Client, stream, consumer string, visibilityTimeout time.Duration, opts ...RedisStreamOption) (*RedisStreamQueue, error) {
	q := &RedisStreamQueue{
		client:            client,
		stream:            stream,
		group:             stream + ":workers",
		consumer:          consumer,
		visibilityTimeout: visibilityTimeout,
		block:             2 * time.Second,
	}
	for _, opt := range opts {
		opt(q)
	}
	err := client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

func (q *RedisStreamQueue) deadStream() string { return q.stream + ":dead" }

func (q *RedisStreamQueue) Publish(ctx context.Context, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	return q.publishRaw(ctx, q.stream, body)
}

func (q *RedisStreamQueue) publishRaw(ctx context.Context, stream string, body []byte) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{bodyField: string(body)},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

func (q *RedisStreamQueue) Receive(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q.isClosed() {
			return nil, ErrClosed
		}

		if q.reclaimDue() {
			msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   q.stream,
				Group:    q.group,
				Consumer: q.consumer,
				MinIdle:  q.visibilityTimeout,
				Start:    "0-0",
				Count:    1,
			}).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				slog.Warn("stream reclaim failed", "stream", q.stream, "error", err)
			}
			if len(msgs) > 0 {
				slog.Info("reclaimed idle stream entry", "stream", q.stream, "entry_id", msgs[0].ID)
				return q.delivery(msgs[0]), nil
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    q.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("xreadgroup: %w", err)
		}
		for _, s := range streams {
			if len(s.Messages) > 0 {
				return q.delivery(s.Messages[0]), nil
			}
		}
	}
}

// reclaimDue rate-limits XAUTOCLAIM scans to a fraction of the visibility timeout.
func (q *RedisStreamQueue) reclaimDue() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	interval := q.visibilityTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	if time.Since(q.lastReclaim) < interval {
		return false
	}
	q.lastReclaim = time.Now()
	return true
}

func (q *RedisStreamQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *RedisStreamQueue) delivery(m redis.XMessage) *redisDelivery {
	body, _ := m.Values[bodyField].(string)
	return &redisDelivery{q: q, id: m.ID, body: []byte(body)}
}

// Close stops Receive. The client is owned by the caller.
func (q *RedisStreamQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

type redisDelivery struct {
	q    *RedisStreamQueue
	id   string
	body []byte
}

func (d *redisDelivery) Body() []byte { return d.body }

func (d *redisDelivery) Ack(ctx context.Context) error {
	pipe := d.q.client.TxPipeline()
	pipe.XAck(ctx, d.q.stream, d.q.group, d.id)
	pipe.XDel(ctx, d.q.stream, d.id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xack %s: %w", d.id, err)
	}
	return nil
}

func (d *redisDelivery) Nack(ctx context.Context, requeue bool) error {
	target := d.q.stream
	if !requeue {
		target = d.q.deadStream()
	}
	pipe := d.q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{Stream: target, Values: map[string]any{bodyField: string(d.body)}})
	pipe.XAck(ctx, d.q.stream, d.q.group, d.id)
	pipe.XDel(ctx, d.q.stream, d.id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("nack %s: %w", d.id, err)
	}
	return nil
}
