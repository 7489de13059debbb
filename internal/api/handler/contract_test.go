package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api/handler"
	mw "github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api/middleware"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/breaker"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/cache"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/config"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/insight"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider/factory"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/queue"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store/memory"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

var (
	testTenantID = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	testAOIID    = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	testNow      = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	server   *httptest.Server
	store    *memory.Store
	queue    *queue.MemoryQueue
	breakers *breaker.MemoryStore

	readerKey   string
	operatorKey string
	adminKey    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ms := memory.New()
	mq := queue.NewMemoryQueue()
	bs := breaker.NewMemoryStore()
	enq := jobs.NewEnqueuer(ms, mq, nil)

	require.NoError(t, ms.UpsertAOI(context.Background(), &models.AOI{
		ID:       testAOIID,
		TenantID: testTenantID,
		Name:     "talhao-7",
		BBox:     models.BBox{-47.1, -22.9, -47.0, -22.8},
		Active:   true,
	}))

	ts := &testServer{store: ms, queue: mq, breakers: bs}
	ts.readerKey = ts.addKey(t, "reader", models.ScopeRead)
	ts.operatorKey = ts.addKey(t, "operator", models.ScopeRead, models.ScopeOperate)
	ts.adminKey = ts.addKey(t, "admin", models.ScopeRead, models.ScopeAdmin)

	deps := api.Dependencies{
		Auth:      mw.NewAuth(ms),
		RateLimit: mw.NewRateLimit(cache.NewMemoryCache(), 1000),

		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{"database": ms}),
		ListJobs:      handler.NewListJobsHandler(ms),
		GetJob:        handler.NewGetJobHandler(ms),
		RetryJob:      handler.NewRetryJobHandler(enq),
		Backfill:      handler.NewBackfillHandler(ms, enq),
		ListSignals:   handler.NewSignalsHandler(ms),
		ListAlerts:    handler.NewAlertsHandler(ms),
		GetInsights:   handler.NewInsightsHandler(insight.NewEngine(ms, config.DefaultRules()), func() time.Time { return testNow }),
		ListBreakers:  handler.NewBreakersHandler(bs, factory.Names()),
		CreateKey:     handler.NewCreateKeyHandler(ms),
		ListKeys:      handler.NewListKeysHandler(ms),
		RevokeKey:     handler.NewRevokeKeyHandler(ms),
	}

	ts.server = httptest.NewServer(api.NewRouter(deps))
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) addKey(t *testing.T, name string, scopes ...string) string {
	t.Helper()
	raw, key, err := mw.NewOperatorKey(name, scopes)
	require.NoError(t, err)
	require.NoError(t, ts.store.CreateOperatorKey(context.Background(), key))
	return raw
}

func (ts *testServer) do(t *testing.T, key, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) seedJob(t *testing.T, status string) *models.Job {
	t.Helper()
	aoi := testAOIID
	job := jobs.NewJob(jobs.Params{
		TenantID: testTenantID,
		AOIID:    &aoi,
		Type:     models.JobTypeProcessWeek,
		Payload:  map[string]any{"year": 2024, "week": 19},
	})
	job.Status = status
	_, err := ts.store.CreateJob(context.Background(), job)
	require.NoError(t, err)
	return job
}

func parseBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	return parseBody(t, resp)["error"].(map[string]any)["code"].(string)
}

// ─── health ──────────────────────────────────────────────────────────────────

func TestHealth_200_AllOK(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "", "GET", "/api/v1/health", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "ok", data["checks"].(map[string]any)["database"])
}

func TestHealth_503_DependencyDown(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Pinger{
		"database": memory.New(),
		"cache":    failingPinger{},
	})
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "ok", details["database"])
	assert.Equal(t, "unavailable", details["cache"])
}

// ─── jobs ────────────────────────────────────────────────────────────────────

func TestListJobs_200_Paginated(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		ts.seedJob(t, models.JobStatusDone)
	}
	ts.seedJob(t, models.JobStatusFailed)

	resp := ts.do(t, ts.readerKey, "GET", "/api/v1/jobs?limit=2", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := parseBody(t, resp)
	assert.Len(t, body["data"].([]any), 2)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(4), meta["total"])
	assert.Equal(t, true, meta["has_next"])
}

func TestListJobs_200_FiltersApplied(t *testing.T) {
	ts := newTestServer(t)
	ts.seedJob(t, models.JobStatusDone)
	failed := ts.seedJob(t, models.JobStatusFailed)

	resp := ts.do(t, ts.readerKey, "GET", "/api/v1/jobs?status=FAILED&aoi_id="+testAOIID.String(), nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, failed.ID.String(), data[0].(map[string]any)["id"])
}

func TestListJobs_400_InvalidFilter(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.readerKey, "GET", "/api/v1/jobs?status=SLEEPING&tenant_id=nope&job_type=MAKE_COFFEE", nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errObj := parseBody(t, resp)["error"].(map[string]any)
	assert.Equal(t, "INVALID_REQUEST", errObj["code"])
	assert.Len(t, errObj["details"].([]any), 3)
}

func TestGetJob_200(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedJob(t, models.JobStatusDone)

	resp := ts.do(t, ts.readerKey, "GET", "/api/v1/jobs/"+job.ID.String(), nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, job.ID.String(), data["id"])
	assert.Equal(t, "DONE", data["status"])
}

func TestGetJob_404_Missing(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.readerKey, "GET", "/api/v1/jobs/"+uuid.NewString(), nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "RESOURCE_NOT_FOUND", errorCode(t, resp))
}

func TestGetJob_400_MalformedID(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.readerKey, "GET", "/api/v1/jobs/not-a-uuid", nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRetryJob_202_NewJob(t *testing.T) {
	ts := newTestServer(t)
	failed := ts.seedJob(t, models.JobStatusFailed)

	resp := ts.do(t, ts.operatorKey, "POST", "/api/v1/jobs/"+failed.ID.String()+"/retry", nil)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	assert.NotEqual(t, failed.ID.String(), data["id"])
	assert.Equal(t, "PENDING", data["status"])
	assert.Equal(t, failed.ID.String(), data["payload"].(map[string]any)["retry_of"])
	assert.Len(t, ts.queue.Pending(), 1)
}

func TestRetryJob_409_StillRunning(t *testing.T) {
	ts := newTestServer(t)
	running := ts.seedJob(t, models.JobStatusRunning)

	resp := ts.do(t, ts.operatorKey, "POST", "/api/v1/jobs/"+running.ID.String()+"/retry", nil)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICT", errorCode(t, resp))
	assert.Empty(t, ts.queue.Pending())
}

func TestRetryJob_404_Missing(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.operatorKey, "POST", "/api/v1/jobs/"+uuid.NewString()+"/retry", nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRetryJob_403_ReadOnlyKey(t *testing.T) {
	ts := newTestServer(t)
	failed := ts.seedJob(t, models.JobStatusFailed)

	resp := ts.do(t, ts.readerKey, "POST", "/api/v1/jobs/"+failed.ID.String()+"/retry", nil)

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// ─── backfill ────────────────────────────────────────────────────────────────

func TestBackfill_202_ThenReused(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]any{"weeks": 4, "end_year": 2024, "end_week": 19, "idempotency_key": "replant-2024"}

	first := ts.do(t, ts.operatorKey, "POST", "/api/v1/aois/"+testAOIID.String()+"/backfill", body)
	require.Equal(t, http.StatusAccepted, first.StatusCode)
	created := parseBody(t, first)["data"].(map[string]any)
	assert.Equal(t, "BACKFILL", created["job_type"])

	second := ts.do(t, ts.operatorKey, "POST", "/api/v1/aois/"+testAOIID.String()+"/backfill", body)
	require.Equal(t, http.StatusOK, second.StatusCode)
	reused := parseBody(t, second)["data"].(map[string]any)
	assert.Equal(t, created["id"], reused["id"])
}

func TestBackfill_400_Invalid(t *testing.T) {
	ts := newTestServer(t)
	path := "/api/v1/aois/" + testAOIID.String() + "/backfill"

	tests := []struct {
		name string
		body any
	}{
		{"zero weeks", map[string]any{"weeks": 0}},
		{"too many weeks", map[string]any{"weeks": 105}},
		{"half an end week", map[string]any{"weeks": 2, "end_year": 2024}},
		{"week 54", map[string]any{"weeks": 2, "end_year": 2024, "end_week": 54}},
		{"not an object", "weeks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, ts.operatorKey, "POST", path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "INVALID_REQUEST", errorCode(t, resp))
		})
	}
	assert.Empty(t, ts.queue.Pending())
}

func TestBackfill_404_UnknownAOI(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.operatorKey, "POST", "/api/v1/aois/"+uuid.NewString()+"/backfill", map[string]any{"weeks": 2})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ─── signals, alerts, insights ───────────────────────────────────────────────

func TestSignals_200_WeekRange(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	for _, w := range []int{17, 18, 19} {
		require.NoError(t, ts.store.UpsertSignal(ctx, &models.OpportunitySignal{
			TenantID:   testTenantID,
			AOIID:      testAOIID,
			Year:       2024,
			Week:       w,
			SignalType: models.SignalVigorDrop,
			Severity:   models.SeverityHigh,
			Status:     models.SignalStatusActive,
		}))
	}

	resp := ts.do(t, ts.readerKey, "GET", "/api/v1/aois/"+testAOIID.String()+"/signals?from=2024-W18&to=2024-W19", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, float64(18), data[0].(map[string]any)["week"])
}

func TestSignals_400_BadWeek(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.readerKey, "GET", "/api/v1/aois/"+testAOIID.String()+"/signals?from=2024-W60", nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAlerts_200_StatusFilter(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	for _, typ := range []string{models.SignalVigorDrop, models.SignalWaterStress} {
		_, err := ts.store.CreateAlertIfAbsent(ctx, &models.Alert{
			TenantID:  testTenantID,
			AOIID:     testAOIID,
			AlertType: typ,
			Severity:  models.SeverityHigh,
			Status:    models.AlertStatusOpen,
			Year:      2024,
			Week:      19,
		})
		require.NoError(t, err)
	}
	ts.store.ResolveAlerts(testAOIID)
	_, err := ts.store.CreateAlertIfAbsent(ctx, &models.Alert{
		TenantID:  testTenantID,
		AOIID:     testAOIID,
		AlertType: models.SignalVigorDrop,
		Severity:  models.SeverityCritical,
		Status:    models.AlertStatusOpen,
		Year:      2024,
		Week:      20,
	})
	require.NoError(t, err)

	resp := ts.do(t, ts.readerKey, "GET", "/api/v1/aois/"+testAOIID.String()+"/alerts?status=open,ack", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, parseBody(t, resp)["data"].([]any), 1)

	resp = ts.do(t, ts.readerKey, "GET", "/api/v1/aois/"+testAOIID.String()+"/alerts", nil)
	assert.Len(t, parseBody(t, resp)["data"].([]any), 3)

	resp = ts.do(t, ts.readerKey, "GET", "/api/v1/aois/"+testAOIID.String()+"/alerts?status=SNOOZED", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInsights_200_Defaults(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.readerKey, "GET", "/api/v1/aois/"+testAOIID.String()+"/insights", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "2024-W19", data["end"])
	assert.Equal(t, float64(12), data["lookback"])
	assert.Empty(t, data["insights"])
}

func TestInsights_400_LookbackOutOfRange(t *testing.T) {
	ts := newTestServer(t)

	for _, q := range []string{"lookback=0", "lookback=53", "lookback=many", "end=W19"} {
		resp := ts.do(t, ts.readerKey, "GET", "/api/v1/aois/"+testAOIID.String()+"/insights?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

// ─── breakers ────────────────────────────────────────────────────────────────

func TestBreakers_200_AllProviders(t *testing.T) {
	ts := newTestServer(t)
	opened := time.Now().UTC()
	ok, err := ts.breakers.CompareAndSet(context.Background(), factory.RadarPrimary,
		breaker.Closed(factory.RadarPrimary),
		breaker.State{Provider: factory.RadarPrimary, Status: breaker.StatusOpen, ConsecutiveFailures: 5, OpenedAt: &opened})
	require.NoError(t, err)
	require.True(t, ok)

	resp := ts.do(t, ts.readerKey, "GET", "/api/v1/breakers", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].([]any)
	require.Len(t, data, len(factory.Names()))
	states := map[string]string{}
	for _, d := range data {
		m := d.(map[string]any)
		states[m["provider"].(string)] = m["state"].(string)
	}
	assert.Equal(t, "OPEN", states[factory.RadarPrimary])
	assert.Equal(t, "CLOSED", states[factory.OpticalPrimary])
}

// ─── operator keys ───────────────────────────────────────────────────────────

func TestCreateKey_201_WithRawKey(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.adminKey, "POST", "/api/v1/admin/keys", map[string]any{
		"name":   "field-ops",
		"scopes": []string{"read", "operate"},
	})

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	data := parseBody(t, resp)["data"].(map[string]any)
	raw := data["key"].(string)
	assert.Equal(t, "field-ops", data["name"])
	assert.Nil(t, data["key_hash"])

	// the new key authenticates immediately
	listed := ts.do(t, raw, "GET", "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusOK, listed.StatusCode)
}

func TestCreateKey_400_UnknownScope(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.adminKey, "POST", "/api/v1/admin/keys", map[string]any{
		"name":   "root",
		"scopes": []string{"superuser"},
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListKeys_DoesNotExposeHash(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.adminKey, "GET", "/api/v1/admin/keys", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].([]any)
	require.Len(t, data, 3)
	first := data[0].(map[string]any)
	assert.NotEmpty(t, first["key_prefix"])
	assert.Nil(t, first["key_hash"])
	assert.Nil(t, first["key"])
}

func TestRevokeKey_204_ThenRejected(t *testing.T) {
	ts := newTestServer(t)
	keys, err := ts.store.ListOperatorKeys(context.Background())
	require.NoError(t, err)
	var readerID uuid.UUID
	for _, k := range keys {
		if k.Name == "reader" {
			readerID = k.ID
		}
	}
	require.NotEqual(t, uuid.Nil, readerID)

	resp := ts.do(t, ts.adminKey, "DELETE", "/api/v1/admin/keys/"+readerID.String(), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, ts.readerKey, "GET", "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, ts.adminKey, "DELETE", "/api/v1/admin/keys/"+readerID.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminEndpoints_403_WithoutAdminScope(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.operatorKey, "GET", "/api/v1/admin/keys", nil)

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(t, resp))
}

// ─── auth contract ───────────────────────────────────────────────────────────

func TestAuth_AllProtectedEndpoints_Reject401(t *testing.T) {
	ts := newTestServer(t)
	aoi := testAOIID.String()

	endpoints := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/jobs"},
		{"GET", "/api/v1/jobs/" + uuid.NewString()},
		{"POST", "/api/v1/jobs/" + uuid.NewString() + "/retry"},
		{"POST", "/api/v1/aois/" + aoi + "/backfill"},
		{"GET", "/api/v1/aois/" + aoi + "/signals"},
		{"GET", "/api/v1/aois/" + aoi + "/alerts"},
		{"GET", "/api/v1/aois/" + aoi + "/insights"},
		{"GET", "/api/v1/breakers"},
		{"POST", "/api/v1/admin/keys"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			resp := ts.do(t, "", ep.method, ep.path, nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "INVALID_TOKEN", errorCode(t, resp))
		})
	}
}
