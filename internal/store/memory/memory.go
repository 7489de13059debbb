// Package memory provides an in-process store.Store for tests and local runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
)

type weekKey struct {
	aoi  uuid.UUID
	week isoweek.Week
}

type dayKey struct {
	aoi  uuid.UUID
	date string
}

type signalKey struct {
	aoi        uuid.UUID
	week       isoweek.Week
	signalType string
}

type mosaicKey struct {
	tenant     uuid.UUID
	collection string
	week       isoweek.Week
}

// Store keeps every table in maps guarded by one mutex. Values are copied
// on the way in and out so callers never share memory with the store.
type Store struct {
	mu sync.Mutex

	jobs      map[uuid.UUID]*models.Job
	jobKeys   map[string]uuid.UUID
	batches   map[string]*models.BackfillBatch
	aois      map[uuid.UUID]*models.AOI
	seasons   map[uuid.UUID][]*models.Season
	derived   map[weekKey]*models.DerivedAsset
	radar     map[weekKey]*models.DerivedRadarAsset
	weather   map[dayKey]*models.DerivedWeatherDaily
	forecasts map[weekKey]*models.Forecast
	signals   map[signalKey]*models.OpportunitySignal
	alerts    []*models.Alert
	mosaics   map[mosaicKey]*models.MosaicRecord
	keys      map[uuid.UUID]*models.OperatorKey

	// PingErr is returned by Ping when set.
	PingErr error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		jobs:      make(map[uuid.UUID]*models.Job),
		jobKeys:   make(map[string]uuid.UUID),
		batches:   make(map[string]*models.BackfillBatch),
		aois:      make(map[uuid.UUID]*models.AOI),
		seasons:   make(map[uuid.UUID][]*models.Season),
		derived:   make(map[weekKey]*models.DerivedAsset),
		radar:     make(map[weekKey]*models.DerivedRadarAsset),
		weather:   make(map[dayKey]*models.DerivedWeatherDaily),
		forecasts: make(map[weekKey]*models.Forecast),
		signals:   make(map[signalKey]*models.OpportunitySignal),
		mosaics:   make(map[mosaicKey]*models.MosaicRecord),
		keys:      make(map[uuid.UUID]*models.OperatorKey),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.PingErr
}

// --- Jobs ---

// copyMap deep-copies through JSON, matching what a jsonb round trip does.
func copyMap(m map[string]any) map[string]any {
	out := map[string]any{}
	if m == nil {
		return out
	}
	b, err := json.Marshal(m)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}

func copyJob(j *models.Job) *models.Job {
	c := *j
	c.Payload = copyMap(j.Payload)
	return &c
}

func (s *Store) insertJobLocked(job *models.Job) bool {
	if job.IdempotencyKey != nil {
		if id, ok := s.jobKeys[*job.IdempotencyKey]; ok {
			*job = *copyJob(s.jobs[id])
			return false
		}
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	stored := copyJob(job)
	job.Payload = copyMap(stored.Payload)
	s.jobs[job.ID] = stored
	if job.IdempotencyKey != nil {
		s.jobKeys[*job.IdempotencyKey] = job.ID
	}
	return true
}

func (s *Store) CreateJob(ctx context.Context, job *models.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok && job.ID != uuid.Nil {
		return false, store.ErrDuplicateKey
	}
	return s.insertJobLocked(job), nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(j), nil
}

func (s *Store) GetJobByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.jobKeys[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(s.jobs[id]), nil
}

// UpdateJobStatus applies exactly the conditional update the Postgres
// store does; the mutex stands in for row locking.
func (s *Store) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	from := store.AllowedFrom(status)
	if len(from) == 0 {
		return fmt.Errorf("invalid target job status %q", status)
	}
	if !slices.Contains(from, j.Status) {
		return store.ErrStaleTransition
	}
	p := store.ApplyJobUpdateOptions(opts...)
	j.Status = status
	j.UpdatedAt = time.Now().UTC()
	if p.ErrorMessage != nil {
		msg := *p.ErrorMessage
		j.ErrorMessage = &msg
	}
	if p.Result != nil {
		j.Payload["result"] = copyMap(p.Result)
	}
	return nil
}

func (s *Store) ListJobs(ctx context.Context, f store.JobFilter) ([]*models.Job, int, error) {
	s.mu.Lock()
	var matched []*models.Job
	for _, j := range s.jobs {
		if f.TenantID != nil && j.TenantID != *f.TenantID {
			continue
		}
		if f.AOIID != nil && (j.AOIID == nil || *j.AOIID != *f.AOIID) {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Type != "" && j.Type != f.Type {
			continue
		}
		if !f.RunningBefore.IsZero() && (j.Status != models.JobStatusRunning || !j.UpdatedAt.Before(f.RunningBefore)) {
			continue
		}
		matched = append(matched, copyJob(j))
	}
	s.mu.Unlock()

	sort.Slice(matched, func(a, b int) bool {
		if !matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].CreatedAt.After(matched[b].CreatedAt)
		}
		return matched[a].ID.String() < matched[b].ID.String()
	})
	total := len(matched)
	limit, offset := f.Normalize()
	if offset >= total {
		return []*models.Job{}, total, nil
	}
	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}

func (s *Store) CreateBackfillBatch(ctx context.Context, batch *models.BackfillBatch, jobs []*models.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.batches[batch.IdempotencyKey]; ok {
		c := *existing
		c.JobIDs = slices.Clone(existing.JobIDs)
		*batch = c
		return false, nil
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	ids := make([]uuid.UUID, 0, len(jobs))
	for _, j := range jobs {
		s.insertJobLocked(j)
		ids = append(ids, j.ID)
	}
	batch.JobIDs = ids
	stored := *batch
	stored.JobIDs = slices.Clone(ids)
	s.batches[batch.IdempotencyKey] = &stored
	return true, nil
}

func (s *Store) GetBackfillBatch(ctx context.Context, key string) (*models.BackfillBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *b
	c.JobIDs = slices.Clone(b.JobIDs)
	return &c, nil
}

// --- AOIs & Seasons ---

func (s *Store) UpsertAOI(ctx context.Context, aoi *models.AOI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if aoi.ID == uuid.Nil {
		aoi.ID = uuid.New()
	}
	if aoi.CreatedAt.IsZero() {
		aoi.CreatedAt = time.Now().UTC()
	}
	c := *aoi
	s.aois[aoi.ID] = &c
	return nil
}

func (s *Store) GetAOI(ctx context.Context, id uuid.UUID) (*models.AOI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aois[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (s *Store) ListActiveAOIs(ctx context.Context) ([]*models.AOI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.AOI{}
	for _, a := range s.aois {
		if a.Active {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID.String() < out[j].TenantID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Store) UpsertSeason(ctx context.Context, season *models.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *season
	c.StartDate, c.EndDate = dateOnly(c.StartDate), dateOnly(c.EndDate)
	list := s.seasons[season.AOIID]
	for i, existing := range list {
		if existing.StartDate.Equal(c.StartDate) {
			list[i] = &c
			return nil
		}
	}
	s.seasons[season.AOIID] = append(list, &c)
	return nil
}

func (s *Store) GetSeason(ctx context.Context, aoiID uuid.UUID, on time.Time) (*models.Season, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := dateOnly(on)
	var best *models.Season
	for _, se := range s.seasons[aoiID] {
		if se.StartDate.After(day) || se.EndDate.Before(day) {
			continue
		}
		if best == nil || se.StartDate.After(best.StartDate) {
			best = se
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	c := *best
	return &c, nil
}

// --- Derived ---

func inRange(w, from, to isoweek.Week) bool {
	return !w.Before(from) && !to.Before(w)
}

func (s *Store) UpsertDerivedAsset(ctx context.Context, a *models.DerivedAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.UpdatedAt = time.Now().UTC()
	c := *a
	s.derived[weekKey{a.AOIID, isoweek.Week{Year: a.Year, Week: a.Week}}] = &c
	return nil
}

func (s *Store) GetDerivedAsset(ctx context.Context, aoiID uuid.UUID, week isoweek.Week) (*models.DerivedAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.derived[weekKey{aoiID, week}]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (s *Store) ListDerivedAssets(ctx context.Context, aoiID uuid.UUID, from, to isoweek.Week) ([]*models.DerivedAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.DerivedAsset{}
	for k, a := range s.derived {
		if k.aoi == aoiID && inRange(k.week, from, to) {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return isoweek.Week{Year: out[i].Year, Week: out[i].Week}.Before(isoweek.Week{Year: out[j].Year, Week: out[j].Week})
	})
	return out, nil
}

// DerivedCount returns the number of optical rows stored for aoiID.
func (s *Store) DerivedCount(aoiID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.derived {
		if k.aoi == aoiID {
			n++
		}
	}
	return n
}

func (s *Store) UpsertDerivedRadarAsset(ctx context.Context, a *models.DerivedRadarAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.UpdatedAt = time.Now().UTC()
	c := *a
	s.radar[weekKey{a.AOIID, isoweek.Week{Year: a.Year, Week: a.Week}}] = &c
	return nil
}

func (s *Store) GetDerivedRadarAsset(ctx context.Context, aoiID uuid.UUID, week isoweek.Week) (*models.DerivedRadarAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.radar[weekKey{aoiID, week}]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (s *Store) ListDerivedRadarAssets(ctx context.Context, aoiID uuid.UUID, from, to isoweek.Week) ([]*models.DerivedRadarAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.DerivedRadarAsset{}
	for k, a := range s.radar {
		if k.aoi == aoiID && inRange(k.week, from, to) {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return isoweek.Week{Year: out[i].Year, Week: out[i].Week}.Before(isoweek.Week{Year: out[j].Year, Week: out[j].Week})
	})
	return out, nil
}

func (s *Store) UpsertWeatherDaily(ctx context.Context, rows []*models.DerivedWeatherDaily) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, r := range rows {
		r.UpdatedAt = now
		c := *r
		c.Date = dateOnly(r.Date)
		s.weather[dayKey{r.AOIID, c.Date.Format(time.DateOnly)}] = &c
	}
	return nil
}

func (s *Store) ListWeatherDaily(ctx context.Context, aoiID uuid.UUID, from, to time.Time) ([]*models.DerivedWeatherDaily, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lo, hi := dateOnly(from), dateOnly(to)
	out := []*models.DerivedWeatherDaily{}
	for k, w := range s.weather {
		if k.aoi != aoiID || w.Date.Before(lo) || w.Date.After(hi) {
			continue
		}
		c := *w
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// WeatherCount returns the number of daily rows stored for aoiID.
func (s *Store) WeatherCount(aoiID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.weather {
		if k.aoi == aoiID {
			n++
		}
	}
	return n
}

func (s *Store) UpsertForecast(ctx context.Context, f *models.Forecast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.UpdatedAt = time.Now().UTC()
	c := *f
	s.forecasts[weekKey{f.AOIID, isoweek.Week{Year: f.Year, Week: f.Week}}] = &c
	return nil
}

func (s *Store) GetForecast(ctx context.Context, aoiID uuid.UUID, week isoweek.Week) (*models.Forecast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.forecasts[weekKey{aoiID, week}]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *f
	return &c, nil
}

// --- Signals & Alerts ---

func copySignal(sig *models.OpportunitySignal) *models.OpportunitySignal {
	c := *sig
	c.Evidence = copyMap(sig.Evidence)
	c.RecommendedActions = slices.Clone(sig.RecommendedActions)
	return &c
}

func (s *Store) UpsertSignal(ctx context.Context, sig *models.OpportunitySignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := signalKey{sig.AOIID, isoweek.Week{Year: sig.Year, Week: sig.Week}, sig.SignalType}
	now := time.Now().UTC()
	if existing, ok := s.signals[key]; ok {
		existing.Severity = sig.Severity
		existing.Confidence = sig.Confidence
		existing.Score = sig.Score
		existing.Evidence = copyMap(sig.Evidence)
		existing.RecommendedActions = slices.Clone(sig.RecommendedActions)
		existing.UpdatedAt = now
		sig.ID, sig.Status, sig.CreatedAt, sig.UpdatedAt = existing.ID, existing.Status, existing.CreatedAt, now
		return nil
	}
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	if sig.Status == "" {
		sig.Status = models.SignalStatusActive
	}
	if sig.RecommendedActions == nil {
		sig.RecommendedActions = []string{}
	}
	sig.CreatedAt, sig.UpdatedAt = now, now
	s.signals[key] = copySignal(sig)
	return nil
}

func (s *Store) ListSignals(ctx context.Context, f store.SignalFilter) ([]*models.OpportunitySignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.OpportunitySignal{}
	for k, sig := range s.signals {
		if k.aoi != f.AOIID {
			continue
		}
		if f.SignalType != "" && sig.SignalType != f.SignalType {
			continue
		}
		if f.Status != "" && sig.Status != f.Status {
			continue
		}
		if f.From != nil && k.week.Before(*f.From) {
			continue
		}
		if f.To != nil && f.To.Before(k.week) {
			continue
		}
		out = append(out, copySignal(sig))
	}
	sort.Slice(out, func(i, j int) bool {
		wi := isoweek.Week{Year: out[i].Year, Week: out[i].Week}
		wj := isoweek.Week{Year: out[j].Year, Week: out[j].Week}
		if wi != wj {
			return wi.Before(wj)
		}
		return out[i].SignalType < out[j].SignalType
	})
	return out, nil
}

func (s *Store) CreateAlertIfAbsent(ctx context.Context, alert *models.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.AOIID == alert.AOIID && a.AlertType == alert.AlertType &&
			(a.Status == models.AlertStatusOpen || a.Status == models.AlertStatusAck) {
			return false, nil
		}
	}
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.Status == "" {
		alert.Status = models.AlertStatusOpen
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	c := *alert
	s.alerts = append(s.alerts, &c)
	return true, nil
}

func (s *Store) ListAlerts(ctx context.Context, aoiID uuid.UUID, statuses ...string) ([]*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Alert{}
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if a.AOIID != aoiID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, a.Status) {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	return out, nil
}

// ResolveAlerts marks every alert of aoiID RESOLVED.
func (s *Store) ResolveAlerts(aoiID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.AOIID == aoiID {
			a.Status = models.AlertStatusResolved
		}
	}
}

// --- Mosaics ---

func (s *Store) UpsertMosaic(ctx context.Context, rec *models.MosaicRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.UpdatedAt = time.Now().UTC()
	c := *rec
	s.mosaics[mosaicKey{rec.TenantID, rec.Collection, isoweek.Week{Year: rec.Year, Week: rec.Week}}] = &c
	return nil
}

func (s *Store) GetMosaic(ctx context.Context, tenantID uuid.UUID, collection string, week isoweek.Week) (*models.MosaicRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mosaics[mosaicKey{tenantID, collection, week}]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *m
	return &c, nil
}

// --- Operator Keys ---

func (s *Store) GetOperatorKeysByPrefix(ctx context.Context, prefix string) ([]*models.OperatorKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.OperatorKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.RevokedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) UpdateOperatorKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *Store) CreateOperatorKey(ctx context.Context, key *models.OperatorKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if _, ok := s.keys[key.ID]; ok {
		return store.ErrDuplicateKey
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	c := *key
	s.keys[key.ID] = &c
	return nil
}

func (s *Store) ListOperatorKeys(ctx context.Context) ([]*models.OperatorKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.OperatorKey{}
	for _, k := range s.keys {
		if k.RevokedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) RevokeOperatorKey(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.RevokedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.RevokedAt = &now
	return nil
}
