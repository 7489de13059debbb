package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// kafkaReader abstracts kafka.Reader for testability of commit behavior.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue consumes a topic within a consumer group. Offsets are committed
// only once every earlier message of the same partition has been acked, so
// concurrent handlers never commit past work still in progress.
type KafkaQueue struct {
	reader  kafkaReader
	writer  kafkaWriter
	dead    kafkaWriter
	tracker *offsetTracker
}

var _ Queue = (*KafkaQueue)(nil)

func NewKafkaQueue(brokers []string, topic, groupID string) *KafkaQueue {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	newWriter := func(t string) *kafka.Writer {
		return &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  t,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
	}
	return newKafkaQueue(reader, newWriter(topic), newWriter(topic+".dead"))
}

func newKafkaQueue(reader kafkaReader, writer, dead kafkaWriter) *KafkaQueue {
	return &KafkaQueue{reader: reader, writer: writer, dead: dead, tracker: newOffsetTracker()}
}

func (q *KafkaQueue) Publish(ctx context.Context, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := q.writer.WriteMessages(ctx, kafka.Message{Key: []byte(partitionKey(msg)), Value: body}); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

func (q *KafkaQueue) Receive(ctx context.Context) (Delivery, error) {
	msg, err := q.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("kafka fetch: %w", err)
	}
	q.tracker.fetched(msg)
	return &kafkaDelivery{q: q, msg: msg}, nil
}

func (q *KafkaQueue) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{q.reader, q.writer, q.dead} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (q *KafkaQueue) complete(ctx context.Context, msg kafka.Message) error {
	commit, ok := q.tracker.completed(msg)
	if !ok {
		return nil
	}
	if err := q.reader.CommitMessages(ctx, commit); err != nil {
		return fmt.Errorf("kafka commit partition=%d offset=%d: %w", commit.Partition, commit.Offset, err)
	}
	return nil
}

type kafkaDelivery struct {
	q   *KafkaQueue
	msg kafka.Message
}

func (d *kafkaDelivery) Body() []byte { return d.msg.Value }

func (d *kafkaDelivery) Ack(ctx context.Context) error {
	return d.q.complete(ctx, d.msg)
}

// Nack republishes the message (to the topic or its dead-letter topic) and
// then treats the original offset as done.
func (d *kafkaDelivery) Nack(ctx context.Context, requeue bool) error {
	w := d.q.writer
	if !requeue {
		w = d.q.dead
	}
	if err := w.WriteMessages(ctx, kafka.Message{Key: d.msg.Key, Value: d.msg.Value}); err != nil {
		return fmt.Errorf("kafka republish: %w", err)
	}
	return d.q.complete(ctx, d.msg)
}

// offsetTracker keeps fetched offsets per partition in fetch order and
// releases the newest offset whose predecessors are all done.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	inflight []kafka.Message
	done     map[int64]bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int]*partitionOffsets)}
}

func (t *offsetTracker) fetched(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.partitions[msg.Partition]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]bool)}
		t.partitions[msg.Partition] = p
	}
	p.inflight = append(p.inflight, msg)
}

func (t *offsetTracker) completed(msg kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.partitions[msg.Partition]
	if !ok {
		return kafka.Message{}, false
	}
	p.done[msg.Offset] = true

	var commit kafka.Message
	var released bool
	for len(p.inflight) > 0 && p.done[p.inflight[0].Offset] {
		commit = p.inflight[0]
		delete(p.done, commit.Offset)
		p.inflight = p.inflight[1:]
		released = true
	}
	return commit, released
}
