// Package scheduler enqueues the weekly acquisition work. Every key it uses
// is unique per AOI (or tenant) and week, so any number of worker processes
// may run it at the same time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/pipeline"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
)

type Scheduler struct {
	aois     store.AOIStore
	enqueuer *jobs.Enqueuer
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func New(aois store.AOIStore, enqueuer *jobs.Enqueuer, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		aois:     aois,
		enqueuer: enqueuer,
		interval: interval,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summary counts what one tick enqueued. Existing keys count as skipped.
type Summary struct {
	Week      isoweek.Week
	Backfills int
	Mosaics   int
	Skipped   int
}

// Run ticks once immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if sum, err := s.Tick(ctx); err != nil {
			s.logger.Error("scheduler tick failed", "week", sum.Week.String(), "error", err)
		} else {
			s.logger.Info("scheduler tick",
				"week", sum.Week.String(),
				"backfills", sum.Backfills,
				"mosaics", sum.Mosaics,
				"skipped", sum.Skipped,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick enqueues the last complete ISO week for every active AOI and one
// mosaic per tenant. It keeps going past individual failures and returns
// them joined.
func (s *Scheduler) Tick(ctx context.Context) (Summary, error) {
	week := isoweek.Of(s.now()).Prev()
	sum := Summary{Week: week}

	aois, err := s.aois.ListActiveAOIs(ctx)
	if err != nil {
		return sum, fmt.Errorf("listing active aois: %w", err)
	}

	var errs []error
	tenants := make(map[uuid.UUID]bool)
	var order []uuid.UUID
	for _, aoi := range aois {
		if !tenants[aoi.TenantID] {
			tenants[aoi.TenantID] = true
			order = append(order, aoi.TenantID)
		}
		_, created, err := s.enqueuer.Enqueue(ctx, pipeline.BackfillParams(pipeline.BackfillRequest{
			TenantID:       aoi.TenantID,
			AOIID:          aoi.ID,
			Weeks:          1,
			End:            &week,
			IdempotencyKey: WeeklyKey(aoi.ID, week),
		}))
		if err != nil {
			errs = append(errs, fmt.Errorf("aoi %s: %w", aoi.ID, err))
			continue
		}
		if created {
			sum.Backfills++
		} else {
			sum.Skipped++
		}
	}

	for _, tenant := range order {
		_, created, err := s.enqueuer.Enqueue(ctx, jobs.Params{
			TenantID:       tenant,
			Type:           models.JobTypeCreateMosaic,
			Payload:        map[string]any{"year": week.Year, "week": week.Week},
			IdempotencyKey: MosaicKey(tenant, week),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s mosaic: %w", tenant, err))
			continue
		}
		if created {
			sum.Mosaics++
		} else {
			sum.Skipped++
		}
	}
	return sum, errors.Join(errs...)
}

func WeeklyKey(aoiID uuid.UUID, w isoweek.Week) string {
	return fmt.Sprintf("weekly:%s:%s", aoiID, w)
}

func MosaicKey(tenantID uuid.UUID, w isoweek.Week) string {
	return fmt.Sprintf("mosaic:%s:%s", tenantID, w)
}
