package pipeline

import (
	"context"
	"fmt"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/signals"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

// ProcessRadarWeek averages the radar vegetation index over every scene of
// the week, upserts the DerivedRadarAsset and enqueues DETECT_HARVEST for the
// week, and for the following week when its row is already stored.
func (p *Pipeline) ProcessRadarWeek(ctx context.Context, req jobs.Request) (jobs.Outcome, error) {
	aoi, err := p.loadAOI(ctx, req.AOIID)
	if err != nil {
		return jobs.Outcome{}, err
	}

	res := p.Radar.Fetch(ctx, p.weekQuery(aoi, req.Week, p.settings.RadarCollection, nil))
	if res.IsEmpty() || len(res.Data) == 0 {
		return jobs.Skip(fmt.Sprintf("no radar scenes for %s", req.Week)), nil
	}

	var rvi, vv, vh mean
	for _, scene := range res.Data {
		stats, err := p.Tiler.ZonalStats(ctx, rasterRef(scene), aoi.Geometry)
		if err != nil {
			return jobs.Outcome{}, fmt.Errorf("zonal stats for %s: %w", scene.ID, err)
		}
		sv, okV := stats["vv"]
		sh, okH := stats["vh"]
		if okV && okH {
			vv.add(sv)
			vh.add(sh)
		}
		switch r, ok := stats["rvi"]; {
		case ok:
			rvi.add(r)
		case okV && okH && sv+sh > 0:
			rvi.add(4 * sh / (sv + sh))
		}
	}

	asset := &models.DerivedRadarAsset{
		TenantID:   req.TenantID,
		AOIID:      req.AOIID,
		Year:       req.Week.Year,
		Week:       req.Week.Week,
		SceneCount: len(res.Data),
		RVIMean:    rvi.value(),
		VVMean:     vv.value(),
		VHMean:     vh.value(),
		Degraded:   res.IsDegraded(),
	}
	if err := p.Store.UpsertDerivedRadarAsset(ctx, asset); err != nil {
		return jobs.Outcome{}, fmt.Errorf("upserting radar asset: %w", err)
	}

	children, err := p.spawnAll(ctx, req, models.JobTypeDetectHarvest)
	if err != nil {
		return jobs.Outcome{}, err
	}
	// A following week stored earlier skipped its harvest check for lack of
	// this week; run it again now that both rows exist.
	next := req.Week.Next()
	following, err := notFoundAsNil(p.Store.GetDerivedRadarAsset(ctx, req.AOIID, next))
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("loading next radar asset: %w", err)
	}
	if following != nil {
		job, err := p.spawnFor(ctx, req, models.JobTypeDetectHarvest, next)
		if err != nil {
			return jobs.Outcome{}, err
		}
		children = append(children, job.ID.String())
	}

	result := map[string]any{
		"scenes":   asset.SceneCount,
		"source":   res.Source,
		"degraded": asset.Degraded,
		"children": children,
	}
	if asset.RVIMean != nil {
		result["rvi_mean"] = *asset.RVIMean
	}
	return jobs.Done(result), nil
}

// DetectHarvest raises HARVEST_DETECTED when RVI fell by more than the
// configured threshold since the previous ISO week.
func (p *Pipeline) DetectHarvest(ctx context.Context, req jobs.Request) (jobs.Outcome, error) {
	prevWeek := req.Week.Prev()
	current, err := notFoundAsNil(p.Store.GetDerivedRadarAsset(ctx, req.AOIID, req.Week))
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("loading radar asset: %w", err)
	}
	previous, err := notFoundAsNil(p.Store.GetDerivedRadarAsset(ctx, req.AOIID, prevWeek))
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("loading previous radar asset: %w", err)
	}
	if current == nil || previous == nil || current.RVIMean == nil || previous.RVIMean == nil {
		return jobs.Skip(fmt.Sprintf("radar index missing for %s or %s", prevWeek, req.Week)), nil
	}

	sig := signals.Harvest(req.TenantID, req.AOIID, req.Week, current, previous, p.Rules.HarvestRVIDrop)
	if sig == nil {
		return jobs.Done(map[string]any{"harvest": false}), nil
	}
	if err := p.Store.UpsertSignal(ctx, sig); err != nil {
		return jobs.Outcome{}, fmt.Errorf("upserting harvest signal: %w", err)
	}
	p.log(req).Info("harvest detected", "week", req.Week.String(), "rvi_drop", sig.Evidence["rvi_drop"])
	return jobs.Done(map[string]any{"harvest": true, "signal_id": sig.ID.String()}), nil
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.n++
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}
