// Package pipeline implements one jobs.Handler per job type. Every handler
// is safe to re-run: derived rows are upserted on their natural keys and
// child jobs carry idempotency keys.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/cache"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/config"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/fallback"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/objectstore"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/signals"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/tiler"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
)

// Deps are the collaborators the handlers compose.
type Deps struct {
	Store    store.Store
	Enqueuer *jobs.Enqueuer
	Optical  *fallback.CatalogChain
	Radar    *fallback.CatalogChain
	Weather  *fallback.WeatherChain
	Tiler    tiler.Service
	Ring     *tiler.Ring
	// Cache holds tile warm markers.
	Cache   cache.Cache
	Objects objectstore.Store
	Rules   config.Rules
}

// Settings are the tunables that are not rule thresholds.
type Settings struct {
	OpticalCollection string
	RadarCollection   string
	WarmMinZoom       int
	WarmMaxZoom       int
	MaxWarmTiles      int
	WarmTTL           time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		OpticalCollection: "sentinel-2-l2a",
		RadarCollection:   "sentinel-1-grd",
		WarmMinZoom:       10,
		WarmMaxZoom:       14,
		MaxWarmTiles:      256,
		WarmTTL:           24 * time.Hour,
	}
}

type Pipeline struct {
	Deps
	settings  Settings
	evaluator *signals.Evaluator
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Pipeline)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithSettings(s Settings) Option {
	return func(p *Pipeline) { p.settings = s }
}

func New(deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		Deps:      deps,
		settings:  DefaultSettings(),
		evaluator: signals.NewEvaluator(deps.Rules),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.Ring == nil {
		p.Ring = tiler.NewRing(nil)
	}
	return p
}

// Register binds every handler to d.
func (p *Pipeline) Register(d *jobs.Dispatcher) {
	handlers := map[models.JobType]jobs.HandlerFunc{
		models.JobTypeBackfill:         p.Backfill,
		models.JobTypeProcessWeek:      p.ProcessWeek,
		models.JobTypeProcessWeather:   p.ProcessWeather,
		models.JobTypeProcessRadarWeek: p.ProcessRadarWeek,
		models.JobTypeCalculateStats:   p.CalculateStats,
		models.JobTypeSignalsWeek:      p.SignalsWeek,
		models.JobTypeAlertsWeek:       p.AlertsWeek,
		models.JobTypeForecastWeek:     p.ForecastWeek,
		models.JobTypeCreateMosaic:     p.CreateMosaic,
		models.JobTypeDetectHarvest:    p.DetectHarvest,
		models.JobTypeWarmCache:        p.WarmCache,
	}
	for t, h := range handlers {
		d.Register(t, h)
	}
}

func (p *Pipeline) log(req jobs.Request) *slog.Logger {
	return p.logger.With("job_id", req.Job.ID, "job_type", req.Job.Type, "aoi_id", req.AOIID)
}

func (p *Pipeline) loadAOI(ctx context.Context, id uuid.UUID) (*models.AOI, error) {
	aoi, err := p.Store.GetAOI(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading aoi %s: %w", id, err)
	}
	return aoi, nil
}

// spawn enqueues a week-scoped child of req. The key includes the parent job
// id: redelivery of the parent reuses the child, a retried parent gets a
// fresh one.
func (p *Pipeline) spawn(ctx context.Context, req jobs.Request, jobType models.JobType) (*models.Job, error) {
	return p.enqueueChild(ctx, req, jobType, req.Week, fmt.Sprintf("%s:%s", req.Job.ID, jobType))
}

// spawnFor enqueues a child of req that targets another week.
func (p *Pipeline) spawnFor(ctx context.Context, req jobs.Request, jobType models.JobType, w isoweek.Week) (*models.Job, error) {
	return p.enqueueChild(ctx, req, jobType, w, fmt.Sprintf("%s:%s:%s", req.Job.ID, jobType, w))
}

func (p *Pipeline) enqueueChild(ctx context.Context, req jobs.Request, jobType models.JobType, w isoweek.Week, key string) (*models.Job, error) {
	aoi := req.AOIID
	job, _, err := p.Enqueuer.Enqueue(ctx, jobs.Params{
		TenantID:       req.TenantID,
		AOIID:          &aoi,
		Type:           jobType,
		Payload:        map[string]any{"year": w.Year, "week": w.Week},
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueueing %s for %s: %w", jobType, w, err)
	}
	return job, nil
}

func (p *Pipeline) spawnAll(ctx context.Context, req jobs.Request, types ...models.JobType) ([]string, error) {
	ids := make([]string, 0, len(types))
	for _, t := range types {
		job, err := p.spawn(ctx, req, t)
		if err != nil {
			return ids, err
		}
		ids = append(ids, job.ID.String())
	}
	return ids, nil
}

// notFoundAsNil turns store.ErrNotFound into a nil row.
func notFoundAsNil[T any](row *T, err error) (*T, error) {
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return row, err
}

func (p *Pipeline) today() time.Time {
	y, m, d := p.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
