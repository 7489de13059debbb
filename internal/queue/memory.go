package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process queue with the same claim/ack semantics as
// the networked backends. Unacked deliveries stay in flight until acked,
// nacked or handed back with Redeliver.
type MemoryQueue struct {
	mu       sync.Mutex
	items    [][]byte
	inflight map[uint64][]byte
	dead     [][]byte
	acked    int
	counter  uint64
	closed   bool
	notify   chan struct{}
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items:    make([][]byte, 0, 64),
		inflight: make(map[uint64][]byte),
		notify:   make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Publish(_ context.Context, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	return q.PublishRaw(body)
}

// PublishRaw enqueues body as is, which lets tests inject malformed messages.
func (q *MemoryQueue) PublishRaw(body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, body)
	q.signal()
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context) (Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.items) > 0 {
			d := q.takeLocked()
			q.mu.Unlock()
			return d, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// TryReceive returns a delivery if one is immediately available.
func (q *MemoryQueue) TryReceive() (Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.items) == 0 {
		return nil, false
	}
	return q.takeLocked(), true
}

func (q *MemoryQueue) takeLocked() *memoryDelivery {
	body := q.items[0]
	q.items = q.items[1:]
	q.counter++
	q.inflight[q.counter] = body
	if len(q.items) > 0 {
		q.signal()
	}
	return &memoryDelivery{q: q, id: q.counter, body: body}
}

// Redeliver returns every in-flight message to the queue, as a broker does
// when a consumer dies without acking.
func (q *MemoryQueue) Redeliver() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, body := range q.inflight {
		q.items = append(q.items, body)
		delete(q.inflight, id)
		n++
	}
	if n > 0 && !q.closed {
		q.signal()
	}
	return n
}

// Pending returns the bodies waiting to be received.
func (q *MemoryQueue) Pending() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.items))
	copy(out, q.items)
	return out
}

// PendingMessages decodes Pending, skipping malformed bodies.
func (q *MemoryQueue) PendingMessages() []Message {
	var out []Message
	for _, body := range q.Pending() {
		if m, err := Decode(body); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *MemoryQueue) Acked() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked
}

func (q *MemoryQueue) DeadLetters() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.dead))
	copy(out, q.dead)
	return out
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.notify)
	}
	return nil
}

type memoryDelivery struct {
	q    *MemoryQueue
	id   uint64
	body []byte
}

func (d *memoryDelivery) Body() []byte { return d.body }

func (d *memoryDelivery) Ack(_ context.Context) error {
	d.q.mu.Lock()
	defer d.q.mu.Unlock()
	if _, ok := d.q.inflight[d.id]; ok {
		delete(d.q.inflight, d.id)
		d.q.acked++
	}
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, requeue bool) error {
	d.q.mu.Lock()
	defer d.q.mu.Unlock()
	body, ok := d.q.inflight[d.id]
	if !ok {
		return nil
	}
	delete(d.q.inflight, d.id)
	if requeue && !d.q.closed {
		d.q.items = append(d.q.items, body)
		d.q.signal()
		return nil
	}
	d.q.dead = append(d.q.dead, body)
	return nil
}
