package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/queue"
)

// Pool runs a fixed number of receive loops against one queue.
type Pool struct {
	queue       queue.Queue
	dispatcher  *Dispatcher
	concurrency int
	backoff     time.Duration
	logger      *slog.Logger
}

func NewPool(q queue.Queue, d *Dispatcher, concurrency int, logger *slog.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{queue: q, dispatcher: d, concurrency: concurrency, backoff: time.Second, logger: logger}
}

// Run blocks until ctx is cancelled or the queue is closed. Deliveries
// already received are finished with a context that outlives ctx.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting", "concurrency", p.concurrency)
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.loop(ctx, worker)
		}(i)
	}
	wg.Wait()
	p.logger.Info("worker pool stopped")
	return nil
}

func (p *Pool) loop(ctx context.Context, worker int) {
	work := context.WithoutCancel(ctx)
	for {
		del, err := p.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			p.logger.Warn("receive failed", "worker", worker, "error", err, "retry_after", p.backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.backoff):
			}
			continue
		}
		p.dispatcher.Dispatch(work, del)
	}
}
