package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/metrics"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/queue"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

// Outcome is what a handler reports on success.
type Outcome struct {
	// Skipped marks a run that found nothing to do, such as a cloudy week.
	// The job still ends DONE.
	Skipped bool
	Reason  string
	Result  map[string]any
}

// Skip returns a skipped outcome.
func Skip(reason string) Outcome {
	return Outcome{Skipped: true, Reason: reason}
}

// Done returns a successful outcome carrying result.
func Done(result map[string]any) Outcome {
	return Outcome{Result: result}
}

func (o Outcome) result() map[string]any {
	out := make(map[string]any, len(o.Result)+2)
	for k, v := range o.Result {
		out[k] = v
	}
	if o.Skipped {
		out["skipped"] = true
		out["reason"] = o.Reason
	}
	return out
}

// Handler runs one pipeline stage. It must be safe to run again with the
// same request.
type Handler interface {
	Handle(ctx context.Context, req Request) (Outcome, error)
}

type HandlerFunc func(ctx context.Context, req Request) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (Outcome, error) {
	return f(ctx, req)
}

// DefaultRequeueDelay is how long a worker holds a delivery before handing it
// back after a storage error.
const DefaultRequeueDelay = 2 * time.Second

// Dispatcher turns queue deliveries into job status transitions.
type Dispatcher struct {
	jobs         store.JobStore
	handlers     map[models.JobType]Handler
	logger       *slog.Logger
	requeueDelay time.Duration
}

type DispatcherOption func(*Dispatcher)

// WithRequeueDelay sets the pause before a delivery is requeued because the
// job store failed. Zero requeues at once.
func WithRequeueDelay(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.requeueDelay = d }
}

func NewDispatcher(jobs store.JobStore, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		jobs:         jobs,
		handlers:     make(map[models.JobType]Handler),
		logger:       logger,
		requeueDelay: DefaultRequeueDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds h to jobType. It is not safe to call once dispatching started.
func (d *Dispatcher) Register(jobType models.JobType, h Handler) {
	d.handlers[jobType] = h
}

// Registered reports the job types with a handler.
func (d *Dispatcher) Registered() []models.JobType {
	out := make([]models.JobType, 0, len(d.handlers))
	for _, t := range models.AllJobTypes {
		if _, ok := d.handlers[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Dispatch processes one delivery. The delivery is acked only once the job
// row is terminal; storage failures nack it for redelivery after the requeue
// delay.
func (d *Dispatcher) Dispatch(ctx context.Context, del queue.Delivery) {
	msg, err := queue.Decode(del.Body())
	if err != nil {
		d.logger.Warn("dropping malformed message", "error", err)
		metrics.MessagesDropped.Inc("malformed")
		d.settle(ctx, del, false, true)
		return
	}
	log := d.logger.With("job_id", msg.JobID, "job_type", msg.JobType)

	job, err := d.jobs.GetJob(ctx, msg.JobID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("dropping message for unknown job")
		metrics.MessagesDropped.Inc("unknown_job")
		d.settle(ctx, del, false, true)
		return
	}
	if err != nil {
		log.Error("loading job", "error", err)
		d.requeue(ctx, del)
		return
	}
	if job.IsTerminal() {
		log.Debug("job already finished, acking duplicate delivery", "status", job.Status)
		d.settle(ctx, del, true, false)
		return
	}

	if msg.JobType != job.Type {
		d.fail(ctx, del, log, job, fmt.Sprintf("message job_type %q does not match job %q", msg.JobType, job.Type))
		return
	}
	req, err := Validate(msg)
	if err != nil {
		d.fail(ctx, del, log, job, err.Error())
		return
	}
	req.Job = job

	h, ok := d.handlers[job.Type]
	if !ok {
		d.fail(ctx, del, log, job, fmt.Sprintf("no handler registered for %s", job.Type))
		return
	}

	if err := d.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning); err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			log.Debug("job finished by another delivery")
			d.settle(ctx, del, true, false)
			return
		}
		log.Error("marking job running", "error", err)
		d.requeue(ctx, del)
		return
	}

	start := time.Now()
	metrics.JobsInFlight.Add(1)
	out, err := d.invoke(ctx, h, req)
	metrics.JobsInFlight.Add(-1)
	log = log.With("duration_ms", time.Since(start).Milliseconds())

	if err != nil {
		log.Warn("job failed", "error", err)
		d.finish(ctx, del, log, job, models.JobStatusFailed, store.WithErrorMessage(err.Error()))
		metrics.JobsTotal.Inc(string(job.Type), "failed")
		return
	}

	outcome := "done"
	if out.Skipped {
		outcome = "skipped"
	}
	log.Info("job finished", "outcome", outcome, "reason", out.Reason)
	d.finish(ctx, del, log, job, models.JobStatusDone, store.WithResult(out.result()))
	metrics.JobsTotal.Inc(string(job.Type), outcome)
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, req Request) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic recovered",
				"job_id", req.Job.ID,
				"job_type", req.Job.Type,
				"error", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, req)
}

// fail moves a job that never reached a handler straight to FAILED.
func (d *Dispatcher) fail(ctx context.Context, del queue.Delivery, log *slog.Logger, job *models.Job, reason string) {
	log.Warn("job rejected", "error", reason)
	d.finish(ctx, del, log, job, models.JobStatusFailed, store.WithErrorMessage(reason))
	metrics.JobsTotal.Inc(string(job.Type), "rejected")
}

func (d *Dispatcher) finish(ctx context.Context, del queue.Delivery, log *slog.Logger, job *models.Job, status string, opts ...store.JobUpdateOption) {
	err := d.jobs.UpdateJobStatus(ctx, job.ID, status, opts...)
	switch {
	case err == nil, errors.Is(err, store.ErrStaleTransition):
		d.settle(ctx, del, true, false)
	default:
		log.Error("persisting job status", "status", status, "error", err)
		d.requeue(ctx, del)
	}
}

// requeue waits out the requeue delay so a store outage does not turn the
// worker into a tight redelivery loop, then hands del back.
func (d *Dispatcher) requeue(ctx context.Context, del queue.Delivery) {
	if d.requeueDelay > 0 {
		t := time.NewTimer(d.requeueDelay)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}
	metrics.MessagesRequeued.Inc()
	d.settle(ctx, del, false, false)
}

// settle acks, requeues or dead-letters del.
func (d *Dispatcher) settle(ctx context.Context, del queue.Delivery, ack, deadLetter bool) {
	var err error
	switch {
	case ack:
		err = del.Ack(ctx)
	case deadLetter:
		err = del.Nack(ctx, false)
	default:
		err = del.Nack(ctx, true)
	}
	if err != nil {
		d.logger.Error("settling delivery", "ack", ack, "error", err)
	}
}
