package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/queue"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
)

// ErrNotRetryable is returned by Retry for jobs that have not finished.
var ErrNotRetryable = errors.New("job is not in a retryable state")

// Publisher is the sending half of a queue.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Params describes a job to create.
type Params struct {
	TenantID       uuid.UUID
	AOIID          *uuid.UUID
	Type           models.JobType
	Payload        map[string]any
	IdempotencyKey string
}

// Enqueuer writes job rows and publishes them.
type Enqueuer struct {
	jobs   store.JobStore
	pub    Publisher
	logger *slog.Logger
}

func NewEnqueuer(jobs store.JobStore, pub Publisher, logger *slog.Logger) *Enqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enqueuer{jobs: jobs, pub: pub, logger: logger}
}

// NewJob builds an unsaved job row from p.
func NewJob(p Params) *models.Job {
	job := &models.Job{
		ID:       uuid.New(),
		TenantID: p.TenantID,
		AOIID:    p.AOIID,
		Type:     p.Type,
		Status:   models.JobStatusPending,
		Payload:  p.Payload,
	}
	if job.Payload == nil {
		job.Payload = map[string]any{}
	}
	if p.IdempotencyKey != "" {
		key := p.IdempotencyKey
		job.IdempotencyKey = &key
	}
	return job
}

// Enqueue creates the job unless its idempotency key is already taken, then
// publishes it. An existing job is republished only while still PENDING, so
// a publish lost after an earlier create is recovered by calling again.
func (e *Enqueuer) Enqueue(ctx context.Context, p Params) (*models.Job, bool, error) {
	job := NewJob(p)
	created, err := e.jobs.CreateJob(ctx, job)
	if err != nil {
		return nil, false, fmt.Errorf("creating %s job: %w", p.Type, err)
	}
	if err := e.publishPending(ctx, job); err != nil {
		return job, created, err
	}
	if created {
		e.logger.Debug("job enqueued", "job_id", job.ID, "job_type", job.Type, "tenant_id", job.TenantID)
	}
	return job, created, nil
}

// PublishAll publishes every PENDING job in jobs.
func (e *Enqueuer) PublishAll(ctx context.Context, jobs []*models.Job) error {
	for _, job := range jobs {
		if err := e.publishPending(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (e *Enqueuer) publishPending(ctx context.Context, job *models.Job) error {
	if job.Status != models.JobStatusPending {
		return nil
	}
	if err := e.pub.Publish(ctx, queue.NewMessage(job)); err != nil {
		return fmt.Errorf("publishing job %s: %w", job.ID, err)
	}
	return nil
}

// Retry creates and publishes a fresh copy of a finished job. The original
// row is left as it is.
func (e *Enqueuer) Retry(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	orig, err := e.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !orig.IsTerminal() {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotRetryable, orig.ID, orig.Status)
	}

	payload := make(map[string]any, len(orig.Payload)+1)
	for k, v := range orig.Payload {
		if k == "result" || k == "retry_of" {
			continue
		}
		payload[k] = v
	}
	payload["retry_of"] = orig.ID.String()

	job, _, err := e.Enqueue(ctx, Params{
		TenantID: orig.TenantID,
		AOIID:    orig.AOIID,
		Type:     orig.Type,
		Payload:  payload,
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("job retried", "job_id", job.ID, "retry_of", orig.ID, "job_type", job.Type)
	return job, nil
}
