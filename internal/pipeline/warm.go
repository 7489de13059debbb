package pipeline

import (
	"context"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/cache"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/metrics"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/tiler"
)

// WarmCache pre-renders the AOI tiles on the cache node that owns each tile.
// Warming is best effort: failures are counted and the job still finishes.
func (p *Pipeline) WarmCache(ctx context.Context, req jobs.Request) (jobs.Outcome, error) {
	logger := p.log(req)

	aoi, err := p.loadAOI(ctx, req.AOIID)
	if err != nil {
		logger.Warn("cache warm skipped", "error", err)
		return jobs.Skip(err.Error()), nil
	}

	minZ, ok := req.Int("min_zoom")
	if !ok {
		minZ = p.settings.WarmMinZoom
	}
	maxZ, ok := req.Int("max_zoom")
	if !ok {
		maxZ = p.settings.WarmMaxZoom
	}
	if maxZ < minZ {
		maxZ = minZ
	}

	aoiID := req.AOIID.String()
	var warmed, cached, failed int
	for _, t := range tiler.Cover(aoi.BBox, minZ, maxZ, p.settings.MaxWarmTiles) {
		if ctx.Err() != nil {
			break
		}
		node := p.Ring.Node(aoiID + "/" + t.String())
		key := cache.TileWarmKey(node, aoiID, t.Z, t.X, t.Y)

		if p.Cache != nil {
			if _, hit, err := p.Cache.Get(ctx, key); err == nil && hit {
				cached++
				metrics.TilesWarmed.Inc("cached")
				continue
			}
		}
		if err := p.Tiler.FetchTile(ctx, node, aoiID, t); err != nil {
			failed++
			metrics.TilesWarmed.Inc("failed")
			logger.Debug("tile warm failed", "tile", t.String(), "node", node, "error", err)
			continue
		}
		warmed++
		metrics.TilesWarmed.Inc("warmed")
		if p.Cache != nil {
			if err := p.Cache.Set(ctx, key, []byte{1}, p.settings.WarmTTL); err != nil {
				logger.Debug("tile warm marker not stored", "tile", t.String(), "error", err)
			}
		}
	}

	if failed > 0 {
		logger.Warn("cache warm incomplete", "warmed", warmed, "cached", cached, "failed", failed)
	}
	return jobs.Done(map[string]any{
		"warmed":   warmed,
		"cached":   cached,
		"failed":   failed,
		"min_zoom": minZ,
		"max_zoom": maxZ,
	}), nil
}
