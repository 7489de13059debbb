package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitQueue consumes a durable queue with manual acks. Rejected messages
// are routed to "<name>.dead" through the default exchange.
type RabbitQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	name       string
	deliveries <-chan amqp.Delivery

	mu sync.Mutex
}

var _ Queue = (*RabbitQueue)(nil)

func NewRabbitQueue(url, name string, prefetch int) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel open failed: %w", err)
	}
	if err := configureChannel(ch, name, prefetch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	deliveries, err := ch.Consume(name, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq consume setup failed: %w", err)
	}
	return &RabbitQueue{conn: conn, ch: ch, name: name, deliveries: deliveries}, nil
}

func configureChannel(ch *amqp.Channel, name string, prefetch int) error {
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq qos setup failed: %w", err)
	}
	if _, err := ch.QueueDeclare(name+".dead", true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq dead-letter queue declare failed: %w", err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": name + ".dead",
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return fmt.Errorf("rabbitmq queue declare failed: %w", err)
	}
	return nil
}

func (q *RabbitQueue) Publish(ctx context.Context, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	err = q.ch.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.JobID.String(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

func (q *RabbitQueue) Receive(ctx context.Context) (Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, ErrClosed
		}
		return &rabbitDelivery{d: d}, nil
	}
}

func (q *RabbitQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}

type rabbitDelivery struct {
	d amqp.Delivery
}

func (r *rabbitDelivery) Body() []byte { return r.d.Body }

func (r *rabbitDelivery) Ack(_ context.Context) error {
	return r.d.Ack(false)
}

func (r *rabbitDelivery) Nack(_ context.Context, requeue bool) error {
	return r.d.Nack(false, requeue)
}
