package pipeline

import (
	"context"
	"fmt"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

// ProcessWeather fetches the daily series at the AOI centroid and upserts one
// DerivedWeatherDaily row per day, then re-runs SIGNALS_WEEK for every stored
// week in the range. The end date is clamped to today before any provider
// sees it.
func (p *Pipeline) ProcessWeather(ctx context.Context, req jobs.Request) (jobs.Outcome, error) {
	start, _ := req.Date("start_date")
	end, _ := req.Date("end_date")

	today := p.today()
	clamped := false
	if end.After(today) {
		end, clamped = today, true
	}
	if start.After(end) {
		return jobs.Skip(fmt.Sprintf("range starts after %s", today.Format(dateLayout))), nil
	}

	aoi, err := p.loadAOI(ctx, req.AOIID)
	if err != nil {
		return jobs.Outcome{}, err
	}
	lon, lat := aoi.BBox.Centroid()

	res := p.Weather.Fetch(ctx, models.WeatherQuery{
		Latitude:  lat,
		Longitude: lon,
		StartDate: start,
		EndDate:   end,
	})
	if res.IsEmpty() || len(res.Data) == 0 {
		return jobs.Skip("no weather data"), nil
	}

	rows := make([]*models.DerivedWeatherDaily, 0, len(res.Data))
	for _, d := range res.Data {
		if d.Date.Before(start) || d.Date.After(end) {
			continue
		}
		rows = append(rows, &models.DerivedWeatherDaily{
			TenantID:        req.TenantID,
			AOIID:           req.AOIID,
			Date:            d.Date,
			PrecipitationMM: d.PrecipitationMM,
			TempMinC:        d.TempMinC,
			TempMaxC:        d.TempMaxC,
			TempMeanC:       d.TempMeanC,
			ET0MM:           d.ET0MM,
			Source:          res.Source,
		})
	}
	if err := p.Store.UpsertWeatherDaily(ctx, rows); err != nil {
		return jobs.Outcome{}, fmt.Errorf("upserting weather: %w", err)
	}

	// Weeks already evaluated without this weather are evaluated again.
	assets, err := p.Store.ListDerivedAssets(ctx, req.AOIID, isoweek.Of(start), isoweek.Of(end))
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("listing derived assets: %w", err)
	}
	children := make([]string, 0, len(assets))
	for _, a := range assets {
		job, err := p.spawnFor(ctx, req, models.JobTypeSignalsWeek, isoweek.Week{Year: a.Year, Week: a.Week})
		if err != nil {
			return jobs.Outcome{}, err
		}
		children = append(children, job.ID.String())
	}

	return jobs.Done(map[string]any{
		"days":     len(rows),
		"source":   res.Source,
		"degraded": res.IsDegraded(),
		"end_date": end.Format(dateLayout),
		"clamped":  clamped,
		"children": children,
	}), nil
}
