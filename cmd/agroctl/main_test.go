package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/breaker"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/queue"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store/memory"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAOIID = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")

type harness struct {
	store    *memory.Store
	queue    *queue.MemoryQueue
	breakers *breaker.MemoryStore
	migrated []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: memory.New(), queue: queue.NewMemoryQueue(), breakers: breaker.NewMemoryStore()}
	require.NoError(t, h.store.UpsertAOI(context.Background(), &models.AOI{
		ID:       testAOIID,
		TenantID: uuid.New(),
		Name:     "talhao-7",
		BBox:     models.BBox{-47.1, -22.9, -47.0, -22.8},
		Active:   true,
	}))
	return h
}

func (h *harness) backends() backends {
	noop := func() {}
	return backends{
		openStore: func(context.Context, *viper.Viper) (store.Store, func(), error) {
			return h.store, noop, nil
		},
		openPublisher: func(context.Context, *viper.Viper) (jobs.Publisher, func(), error) {
			return h.queue, noop, nil
		},
		openBreakers: func(context.Context, *viper.Viper) (breaker.Store, func(), error) {
			return h.breakers, noop, nil
		},
		migrate: func(url, dir string) error {
			h.migrated = append(h.migrated, url+"|"+dir)
			return nil
		},
		version: func(string, string) (uint, bool, error) { return 3, false, nil },
	}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out, h.backends())
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestMigrateUp_UsesFlags(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "migrate", "up", "--database-url", "postgres://db/vc", "--migrations-dir", "/srv/migrations")

	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied")
	assert.Equal(t, []string{"postgres://db/vc|/srv/migrations"}, h.migrated)
}

func TestMigrate_DatabaseURLFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("VIVACAMPO_DATABASE_URL", "postgres://env/vc")
	h := newHarness(t)

	out, err := h.run(t, "migrate", "version", "--json")

	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, float64(3), v["version"])
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("VIVACAMPO_DATABASE_URL", "")
	h := newHarness(t)

	_, err := h.run(t, "migrate", "up")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestBackfill_EnqueuesOncePerKey(t *testing.T) {
	h := newHarness(t)
	args := []string{"backfill", testAOIID.String(), "--weeks", "3", "--end", "2024-W19", "--key", "replant"}

	out, err := h.run(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "created")
	assert.Contains(t, out, "talhao-7")

	out, err = h.run(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "reused")

	list, total, err := h.store.ListJobs(context.Background(), store.JobFilter{Type: models.JobTypeBackfill})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, float64(3), toFloat(list[0].Payload["weeks"]))
	// the row is still PENDING so the second call republishes it
	assert.Len(t, h.queue.Pending(), 2)
}

func TestBackfill_RejectsBadInput(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad aoi", []string{"backfill", "nope"}, "aoi id"},
		{"too many weeks", []string{"backfill", testAOIID.String(), "--weeks", "105"}, "--weeks"},
		{"bad end", []string{"backfill", testAOIID.String(), "--end", "2024-19"}, "--end"},
		{"unknown aoi", []string{"backfill", uuid.NewString()}, "loading aoi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.Empty(t, h.queue.Pending())
}

func TestJobsRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	aoi := testAOIID
	failed := jobs.NewJob(jobs.Params{TenantID: uuid.New(), AOIID: &aoi, Type: models.JobTypeProcessWeek,
		Payload: map[string]any{"year": 2024, "week": 19}})
	failed.Status = models.JobStatusFailed
	_, err := h.store.CreateJob(ctx, failed)
	require.NoError(t, err)
	running := jobs.NewJob(jobs.Params{TenantID: uuid.New(), AOIID: &aoi, Type: models.JobTypeProcessWeek})
	running.Status = models.JobStatusRunning
	_, err = h.store.CreateJob(ctx, running)
	require.NoError(t, err)

	out, err := h.run(t, "jobs", "retry", failed.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "PENDING")
	assert.Len(t, h.queue.Pending(), 1)

	_, err = h.run(t, "jobs", "retry", running.ID.String())
	require.Error(t, err)
	assert.True(t, errors.Is(err, jobs.ErrNotRetryable))
}

func TestJobsList_TableAndFilters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, st := range []string{models.JobStatusDone, models.JobStatusFailed, models.JobStatusFailed} {
		j := jobs.NewJob(jobs.Params{TenantID: uuid.New(), Type: models.JobTypeSignalsWeek})
		j.Status = st
		_, err := h.store.CreateJob(ctx, j)
		require.NoError(t, err)
	}

	out, err := h.run(t, "jobs", "list", "--status", "failed")

	require.NoError(t, err)
	assert.Contains(t, out, "SIGNALS_WEEK")
	assert.Contains(t, out, "2 of 2 jobs")
	assert.NotContains(t, out, "DONE")
}

func TestJobsStale(t *testing.T) {
	h := newHarness(t)
	j := jobs.NewJob(jobs.Params{TenantID: uuid.New(), Type: models.JobTypeWarmCache})
	j.Status = models.JobStatusRunning
	_, err := h.store.CreateJob(context.Background(), j)
	require.NoError(t, err)

	out, err := h.run(t, "jobs", "stale", "--older-than", "1h")
	require.NoError(t, err)
	assert.NotContains(t, out, j.ID.String())

	out, err = h.run(t, "jobs", "stale", "--older-than", "-1m")
	require.NoError(t, err)
	assert.Contains(t, out, j.ID.String())
}

func TestBreakers_Table(t *testing.T) {
	h := newHarness(t)
	opened := time.Now().UTC()
	_, err := h.breakers.CompareAndSet(context.Background(), "weather-primary",
		breaker.Closed("weather-primary"),
		breaker.State{Status: breaker.StatusOpen, ConsecutiveFailures: 5, OpenedAt: &opened})
	require.NoError(t, err)

	out, err := h.run(t, "breakers")

	require.NoError(t, err)
	assert.Contains(t, out, "weather-primary")
	assert.Contains(t, out, "OPEN")
	assert.Contains(t, out, "optical-secondary")
}

func TestKeys_CreateListRevoke(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "keys", "create", "--name", "field-ops", "--scope", "read,operate", "--json")
	require.NoError(t, err)
	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Regexp(t, `^vc_[0-9a-f]{48}$`, created["key"])

	out, err = h.run(t, "keys", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "field-ops")
	assert.Contains(t, out, "read,operate")
	assert.NotContains(t, out, created["key"].(string))

	out, err = h.run(t, "keys", "revoke", created["id"].(string))
	require.NoError(t, err)
	assert.Contains(t, out, "revoked")

	_, err = h.run(t, "keys", "create", "--name", "x", "--scope", "root")
	require.Error(t, err)
}

func TestAOIsList(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "aois", "list")

	require.NoError(t, err)
	assert.Contains(t, out, "talhao-7")
	assert.Contains(t, out, testAOIID.String())
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	}
	return -1
}
