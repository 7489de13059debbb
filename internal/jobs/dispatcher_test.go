package jobs_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/queue"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store/memory"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store      *memory.Store
	queue      *queue.MemoryQueue
	enqueuer   *jobs.Enqueuer
	dispatcher *jobs.Dispatcher
	tenant     uuid.UUID
	aoi        uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memory.New()
	q := queue.NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })
	return &harness{
		store:      st,
		queue:      q,
		enqueuer:   jobs.NewEnqueuer(st, q, nil),
		dispatcher: jobs.NewDispatcher(st, nil),
		tenant:     uuid.New(),
		aoi:        uuid.New(),
	}
}

func (h *harness) enqueueWeek(t *testing.T, jobType models.JobType, payload map[string]any) *models.Job {
	t.Helper()
	if payload == nil {
		payload = map[string]any{"year": 2024, "week": 12}
	}
	aoi := h.aoi
	job, created, err := h.enqueuer.Enqueue(context.Background(), jobs.Params{
		TenantID: h.tenant,
		AOIID:    &aoi,
		Type:     jobType,
		Payload:  payload,
	})
	require.NoError(t, err)
	require.True(t, created)
	return job
}

// drain dispatches until the queue has nothing ready.
func (h *harness) drain(t *testing.T) int {
	t.Helper()
	n := 0
	for {
		del, ok := h.queue.TryReceive()
		if !ok {
			return n
		}
		h.dispatcher.Dispatch(context.Background(), del)
		n++
	}
}

func (h *harness) job(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestDispatch_HandlerSuccessMarksDone(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.Register(models.JobTypeProcessWeek, jobs.HandlerFunc(func(ctx context.Context, req jobs.Request) (jobs.Outcome, error) {
		assert.Equal(t, h.aoi, req.AOIID)
		assert.Equal(t, 12, req.Week.Week)
		assert.Equal(t, models.JobStatusRunning, req.Job.Status)
		return jobs.Done(map[string]any{"scenes": 3}), nil
	}))
	job := h.enqueueWeek(t, models.JobTypeProcessWeek, nil)

	assert.Equal(t, 1, h.drain(t))

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusDone, got.Status)
	assert.Equal(t, map[string]any{"scenes": float64(3)}, got.Payload["result"])
	assert.Equal(t, 1, h.queue.Acked())
	assert.Zero(t, h.queue.InFlight())
}

func TestDispatch_SkipIsDoneWithMarker(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.Register(models.JobTypeCalculateStats, jobs.HandlerFunc(func(context.Context, jobs.Request) (jobs.Outcome, error) {
		return jobs.Skip("no scenes this week"), nil
	}))
	job := h.enqueueWeek(t, models.JobTypeCalculateStats, nil)
	h.drain(t)

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusDone, got.Status)
	assert.Equal(t, map[string]any{"skipped": true, "reason": "no scenes this week"}, got.Payload["result"])
}

func TestDispatch_HandlerErrorMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.Register(models.JobTypeSignalsWeek, jobs.HandlerFunc(func(context.Context, jobs.Request) (jobs.Outcome, error) {
		return jobs.Outcome{}, errors.New("writing signal: constraint violated")
	}))
	job := h.enqueueWeek(t, models.JobTypeSignalsWeek, nil)
	h.drain(t)

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "writing signal: constraint violated", *got.ErrorMessage)
	assert.Equal(t, 1, h.queue.Acked())
}

func TestDispatch_PanicMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.Register(models.JobTypeAlertsWeek, jobs.HandlerFunc(func(context.Context, jobs.Request) (jobs.Outcome, error) {
		panic("boom")
	}))
	job := h.enqueueWeek(t, models.JobTypeAlertsWeek, nil)
	h.drain(t)

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "panic: boom", *got.ErrorMessage)
}

func TestDispatch_InvalidPayloadNeverReachesHandler(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	h.dispatcher.Register(models.JobTypeProcessWeek, jobs.HandlerFunc(func(context.Context, jobs.Request) (jobs.Outcome, error) {
		calls.Add(1)
		return jobs.Outcome{}, nil
	}))

	job, _, err := h.enqueuer.Enqueue(context.Background(), jobs.Params{
		TenantID: h.tenant,
		Type:     models.JobTypeProcessWeek,
		Payload:  map[string]any{"year": 2024, "week": 12},
	})
	require.NoError(t, err)
	h.drain(t)

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "aoi_id is required")
	assert.Zero(t, calls.Load())
	assert.Equal(t, 1, h.queue.Acked())
}

func TestDispatch_UnregisteredTypeFails(t *testing.T) {
	h := newHarness(t)
	job := h.enqueueWeek(t, models.JobTypeForecastWeek, nil)
	h.drain(t)

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Contains(t, *got.ErrorMessage, "no handler registered")
}

func TestDispatch_DuplicateDeliveryOfFinishedJobIsAcked(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	h.dispatcher.Register(models.JobTypeDetectHarvest, jobs.HandlerFunc(func(context.Context, jobs.Request) (jobs.Outcome, error) {
		calls.Add(1)
		return jobs.Outcome{}, nil
	}))
	job := h.enqueueWeek(t, models.JobTypeDetectHarvest, nil)
	require.NoError(t, h.queue.Publish(context.Background(), queue.NewMessage(job)))

	assert.Equal(t, 2, h.drain(t))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 2, h.queue.Acked())
	assert.Equal(t, models.JobStatusDone, h.job(t, job.ID).Status)
}

func TestDispatch_MalformedAndUnknownAreDeadLettered(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.queue.PublishRaw([]byte(`{not json`)))
	require.NoError(t, h.queue.Publish(context.Background(), queue.Message{
		JobID:   uuid.New(),
		JobType: models.JobTypeWarmCache,
		Fields:  map[string]any{"tenant_id": h.tenant.String()},
	}))

	assert.Equal(t, 2, h.drain(t))
	assert.Len(t, h.queue.DeadLetters(), 2)
	assert.Zero(t, h.queue.Acked())
}

func TestDispatch_MismatchedTypeFails(t *testing.T) {
	h := newHarness(t)
	job := h.enqueueWeek(t, models.JobTypeProcessWeek, nil)
	msg := queue.NewMessage(job)
	msg.JobType = models.JobTypeCreateMosaic

	// Drop the original delivery so only the tampered one is dispatched.
	del, ok := h.queue.TryReceive()
	require.True(t, ok)
	require.NoError(t, del.Ack(context.Background()))
	require.NoError(t, h.queue.Publish(context.Background(), msg))
	h.drain(t)

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Contains(t, *got.ErrorMessage, "does not match")
}

// flakyStore fails the first terminal status write.
type flakyStore struct {
	*memory.Store
	failures atomic.Int32
}

func (f *flakyStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	if status != models.JobStatusRunning && f.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return f.Store.UpdateJobStatus(ctx, id, status, opts...)
}

func TestDispatch_StorageErrorRequeuesAndRedeliveryFinishes(t *testing.T) {
	mem := memory.New()
	st := &flakyStore{Store: mem}
	st.failures.Store(1)
	q := queue.NewMemoryQueue()
	defer q.Close()

	var calls atomic.Int32
	d := jobs.NewDispatcher(st, nil, jobs.WithRequeueDelay(0))
	d.Register(models.JobTypeProcessRadarWeek, jobs.HandlerFunc(func(context.Context, jobs.Request) (jobs.Outcome, error) {
		calls.Add(1)
		return jobs.Outcome{}, nil
	}))
	aoi := uuid.New()
	job, _, err := jobs.NewEnqueuer(st, q, nil).Enqueue(context.Background(), jobs.Params{
		TenantID: uuid.New(),
		AOIID:    &aoi,
		Type:     models.JobTypeProcessRadarWeek,
		Payload:  map[string]any{"year": 2024, "week": 1},
	})
	require.NoError(t, err)

	del, ok := q.TryReceive()
	require.True(t, ok)
	d.Dispatch(context.Background(), del)

	stuck, err := mem.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, stuck.Status)
	require.Len(t, q.Pending(), 1)

	del, ok = q.TryReceive()
	require.True(t, ok)
	d.Dispatch(context.Background(), del)

	done, err := mem.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, done.Status)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, q.Acked())
}

// downStore fails every read, like a database that is unreachable.
type downStore struct {
	*memory.Store
}

func (downStore) GetJob(context.Context, uuid.UUID) (*models.Job, error) {
	return nil, errors.New("connection refused")
}

func TestDispatch_StorageErrorWaitsBeforeRequeue(t *testing.T) {
	mem := memory.New()
	q := queue.NewMemoryQueue()
	defer q.Close()
	aoi := uuid.New()
	_, _, err := jobs.NewEnqueuer(mem, q, nil).Enqueue(context.Background(), jobs.Params{
		TenantID: uuid.New(),
		AOIID:    &aoi,
		Type:     models.JobTypeProcessRadarWeek,
		Payload:  map[string]any{"year": 2024, "week": 1},
	})
	require.NoError(t, err)

	d := jobs.NewDispatcher(downStore{Store: mem}, nil, jobs.WithRequeueDelay(50*time.Millisecond))
	del, ok := q.TryReceive()
	require.True(t, ok)

	start := time.Now()
	d.Dispatch(context.Background(), del)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Len(t, q.Pending(), 1)
	assert.Zero(t, q.Acked())
}

func TestDispatch_RequeueDelayStopsWithContext(t *testing.T) {
	mem := memory.New()
	q := queue.NewMemoryQueue()
	defer q.Close()
	aoi := uuid.New()
	_, _, err := jobs.NewEnqueuer(mem, q, nil).Enqueue(context.Background(), jobs.Params{
		TenantID: uuid.New(),
		AOIID:    &aoi,
		Type:     models.JobTypeProcessRadarWeek,
		Payload:  map[string]any{"year": 2024, "week": 1},
	})
	require.NoError(t, err)

	d := jobs.NewDispatcher(downStore{Store: mem}, nil, jobs.WithRequeueDelay(time.Hour))
	del, ok := q.TryReceive()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	d.Dispatch(ctx, del)
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, q.Pending(), 1)
}

func TestRegistered(t *testing.T) {
	h := newHarness(t)
	noop := jobs.HandlerFunc(func(context.Context, jobs.Request) (jobs.Outcome, error) { return jobs.Outcome{}, nil })
	h.dispatcher.Register(models.JobTypeWarmCache, noop)
	h.dispatcher.Register(models.JobTypeBackfill, noop)
	assert.Equal(t, []models.JobType{models.JobTypeBackfill, models.JobTypeWarmCache}, h.dispatcher.Registered())
}

func TestPool_ProcessesEverythingConcurrently(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	h.dispatcher.Register(models.JobTypeProcessWeek, jobs.HandlerFunc(func(context.Context, jobs.Request) (jobs.Outcome, error) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return jobs.Outcome{}, nil
	}))
	for week := 1; week <= 20; week++ {
		h.enqueueWeek(t, models.JobTypeProcessWeek, map[string]any{"year": 2024, "week": week})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- jobs.NewPool(h.queue, h.dispatcher, 4, nil).Run(ctx) }()

	require.Eventually(t, func() bool { return h.queue.Acked() == 20 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
	assert.Equal(t, int32(20), calls.Load())

	list, total, err := h.store.ListJobs(context.Background(), store.JobFilter{Status: models.JobStatusDone, Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 20, total)
	assert.Len(t, list, 20)
}
