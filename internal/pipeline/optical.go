package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

// ProcessWeek runs CalculateStats for the week and then fans out to
// SIGNALS_WEEK and FORECAST_WEEK. When the following week is already stored
// its SIGNALS_WEEK runs again too. A week without scenes still counts as
// processed.
func (p *Pipeline) ProcessWeek(ctx context.Context, req jobs.Request) (jobs.Outcome, error) {
	stats, err := p.CalculateStats(ctx, req)
	if err != nil {
		return jobs.Outcome{}, err
	}

	children, err := p.spawnAll(ctx, req, models.JobTypeSignalsWeek, models.JobTypeForecastWeek)
	if err != nil {
		return jobs.Outcome{}, err
	}
	if !stats.Skipped {
		// The following week's drop rules compare against this week.
		next := req.Week.Next()
		following, err := notFoundAsNil(p.Store.GetDerivedAsset(ctx, req.AOIID, next))
		if err != nil {
			return jobs.Outcome{}, fmt.Errorf("loading next derived asset: %w", err)
		}
		if following != nil {
			job, err := p.spawnFor(ctx, req, models.JobTypeSignalsWeek, next)
			if err != nil {
				return jobs.Outcome{}, err
			}
			children = append(children, job.ID.String())
		}
	}

	result := map[string]any{"children": children}
	if stats.Skipped {
		result["stats_skipped"] = stats.Reason
	} else {
		result["stats"] = stats.Result
	}
	return jobs.Done(result), nil
}

// CalculateStats picks the clearest scene of the week, asks the tiler for
// zonal statistics over the AOI and upserts the week's DerivedAsset.
func (p *Pipeline) CalculateStats(ctx context.Context, req jobs.Request) (jobs.Outcome, error) {
	aoi, err := p.loadAOI(ctx, req.AOIID)
	if err != nil {
		return jobs.Outcome{}, err
	}

	res := p.Optical.Fetch(ctx, p.weekQuery(aoi, req.Week, p.settings.OpticalCollection, &p.Rules.MaxCloudCover))
	if res.IsEmpty() || len(res.Data) == 0 {
		return jobs.Skip(fmt.Sprintf("no optical scenes for %s", req.Week)), nil
	}

	scene := clearest(res.Data)
	stats, err := p.Tiler.ZonalStats(ctx, rasterRef(scene), aoi.Geometry)
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("zonal stats for %s: %w", scene.ID, err)
	}

	asset := &models.DerivedAsset{
		TenantID:   req.TenantID,
		AOIID:      req.AOIID,
		Year:       req.Week.Year,
		Week:       req.Week.Week,
		SceneID:    scene.ID,
		CloudCover: scene.CloudCover,
		NDVIMean:   index(stats, "ndvi"),
		NDREMean:   index(stats, "ndre"),
		RECIMean:   index(stats, "reci"),
		SRREMean:   index(stats, "srre"),
		NDWIMean:   index(stats, "ndwi"),
		Degraded:   res.IsDegraded(),
	}
	if err := p.Store.UpsertDerivedAsset(ctx, asset); err != nil {
		return jobs.Outcome{}, fmt.Errorf("upserting derived asset: %w", err)
	}

	p.log(req).Info("derived asset stored", "week", req.Week.String(), "scene", scene.ID, "source", res.Source, "degraded", asset.Degraded)
	return jobs.Done(map[string]any{
		"scene_id": scene.ID,
		"source":   res.Source,
		"degraded": asset.Degraded,
		"indices":  len(stats),
	}), nil
}

func (p *Pipeline) weekQuery(aoi *models.AOI, week isoweek.Week, collection string, maxCloud *float64) models.SearchQuery {
	geom := aoi.Geometry
	bbox := aoi.BBox
	q := models.SearchQuery{
		Geometry:    &geom,
		BBox:        &bbox,
		Start:       week.Start(),
		End:         week.End(),
		Collections: []string{collection},
	}
	if maxCloud != nil {
		v := *maxCloud
		q.MaxCloudCover = &v
	}
	return q
}

// clearest returns the least cloudy item, newest first on ties. Items
// without cloud cover sort last.
func clearest(items []models.Item) models.Item {
	sorted := append([]models.Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := sorted[i].CloudCover, sorted[j].CloudCover
		switch {
		case ci == nil && cj == nil:
		case ci == nil:
			return false
		case cj == nil:
			return true
		case *ci != *cj:
			return *ci < *cj
		}
		return sorted[i].Datetime.After(sorted[j].Datetime)
	})
	return sorted[0]
}

func rasterRef(item models.Item) string {
	return item.Collection + "/" + item.ID
}

func index(stats map[string]float64, name string) *float64 {
	v, ok := stats[name]
	if !ok {
		return nil
	}
	return &v
}
