package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/forecast"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/signals"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

// SignalsWeek applies the weekly rules to the stored optical, radar and
// weather rows, upserts the resulting signals and enqueues ALERTS_WEEK.
func (p *Pipeline) SignalsWeek(ctx context.Context, req jobs.Request) (jobs.Outcome, error) {
	current, err := notFoundAsNil(p.Store.GetDerivedAsset(ctx, req.AOIID, req.Week))
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("loading derived asset: %w", err)
	}
	radar, err := notFoundAsNil(p.Store.GetDerivedRadarAsset(ctx, req.AOIID, req.Week))
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("loading radar asset: %w", err)
	}
	if current == nil && radar == nil {
		return jobs.Skip(fmt.Sprintf("no optical or radar asset for %s", req.Week)), nil
	}
	previous, err := notFoundAsNil(p.Store.GetDerivedAsset(ctx, req.AOIID, req.Week.Prev()))
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("loading previous derived asset: %w", err)
	}
	previousRadar, err := notFoundAsNil(p.Store.GetDerivedRadarAsset(ctx, req.AOIID, req.Week.Prev()))
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("loading previous radar asset: %w", err)
	}
	days, err := p.Store.ListWeatherDaily(ctx, req.AOIID, req.Week.Start(), req.Week.End())
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("listing weather: %w", err)
	}

	raised := p.evaluator.Evaluate(signals.Input{
		TenantID: req.TenantID,
		AOIID:    req.AOIID,
		Week:     req.Week,
		Current:  current,
		Previous: previous,
		Weather:  signals.SummarizeWeather(days),

		Radar:         radar,
		PreviousRadar: previousRadar,
	})
	types := make([]string, 0, len(raised))
	for _, sig := range raised {
		if err := p.Store.UpsertSignal(ctx, sig); err != nil {
			return jobs.Outcome{}, fmt.Errorf("upserting %s signal: %w", sig.SignalType, err)
		}
		types = append(types, sig.SignalType)
	}

	children, err := p.spawnAll(ctx, req, models.JobTypeAlertsWeek)
	if err != nil {
		return jobs.Outcome{}, err
	}
	return jobs.Done(map[string]any{"signals": types, "children": children}), nil
}

// AlertsWeek opens an alert for every active signal of the week at or above
// the severity floor, unless one of that type is already OPEN or ACK.
func (p *Pipeline) AlertsWeek(ctx context.Context, req jobs.Request) (jobs.Outcome, error) {
	week := req.Week
	sigs, err := p.Store.ListSignals(ctx, store.SignalFilter{
		AOIID:  req.AOIID,
		Status: models.SignalStatusActive,
		From:   &week,
		To:     &week,
	})
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("listing signals: %w", err)
	}

	created, existing := 0, 0
	for _, sig := range sigs {
		alert := signals.AlertFor(sig, p.Rules.AlertFloor)
		if alert == nil {
			continue
		}
		ok, err := p.Store.CreateAlertIfAbsent(ctx, alert)
		if err != nil {
			return jobs.Outcome{}, fmt.Errorf("creating %s alert: %w", alert.AlertType, err)
		}
		if ok {
			created++
		} else {
			existing++
		}
	}
	return jobs.Done(map[string]any{"created": created, "already_open": existing}), nil
}

// ForecastWeek projects the yield of the season containing the week.
func (p *Pipeline) ForecastWeek(ctx context.Context, req jobs.Request) (jobs.Outcome, error) {
	// Thursday decides which season an ISO week belongs to.
	season, err := notFoundAsNil(p.Store.GetSeason(ctx, req.AOIID, req.Week.Start().AddDate(0, 0, 3)))
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("loading season: %w", err)
	}
	if season == nil {
		return jobs.Skip(fmt.Sprintf("no season covers %s", req.Week)), nil
	}

	assets, err := p.Store.ListDerivedAssets(ctx, req.AOIID, isoweek.Of(season.StartDate), req.Week)
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("listing derived assets: %w", err)
	}
	f, err := forecast.Compute(season, req.Week, assets)
	if errors.Is(err, forecast.ErrNoObservations) {
		return jobs.Skip(err.Error()), nil
	}
	if err != nil {
		return jobs.Outcome{}, err
	}
	f.TenantID = req.TenantID

	if err := p.Store.UpsertForecast(ctx, f); err != nil {
		return jobs.Outcome{}, fmt.Errorf("upserting forecast: %w", err)
	}
	return jobs.Done(map[string]any{
		"yield_tph":    f.YieldTPH,
		"confidence":   f.Confidence,
		"observations": f.Observations,
	}), nil
}
