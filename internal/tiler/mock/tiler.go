// Package mock provides a function-field fake of tiler.Service.
package mock

import (
	"context"
	"sync"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/tiler"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

type Tiler struct {
	ZonalStatsFn     func(ctx context.Context, rasterRef string, geometry models.Geometry) (map[string]float64, error)
	RegisterMosaicFn func(ctx context.Context, def models.MosaicDefinition) (string, error)
	FetchTileFn      func(ctx context.Context, node, aoiID string, t tiler.Tile) error

	mu      sync.Mutex
	rasters []string
	tiles   []tiler.Tile
	mosaics []models.MosaicDefinition
}

var _ tiler.Service = (*Tiler)(nil)

// New returns a tiler that reports stats for every raster.
func New(stats map[string]float64) *Tiler {
	return &Tiler{
		ZonalStatsFn: func(context.Context, string, models.Geometry) (map[string]float64, error) {
			out := make(map[string]float64, len(stats))
			for k, v := range stats {
				out[k] = v
			}
			return out, nil
		},
		RegisterMosaicFn: func(_ context.Context, def models.MosaicDefinition) (string, error) {
			return "mosaic-" + def.Collection, nil
		},
		FetchTileFn: func(context.Context, string, string, tiler.Tile) error { return nil },
	}
}

func (m *Tiler) ZonalStats(ctx context.Context, rasterRef string, geometry models.Geometry) (map[string]float64, error) {
	m.mu.Lock()
	m.rasters = append(m.rasters, rasterRef)
	m.mu.Unlock()
	return m.ZonalStatsFn(ctx, rasterRef, geometry)
}

func (m *Tiler) RegisterMosaic(ctx context.Context, def models.MosaicDefinition) (string, error) {
	m.mu.Lock()
	m.mosaics = append(m.mosaics, def)
	m.mu.Unlock()
	return m.RegisterMosaicFn(ctx, def)
}

func (m *Tiler) FetchTile(ctx context.Context, node, aoiID string, t tiler.Tile) error {
	m.mu.Lock()
	m.tiles = append(m.tiles, t)
	m.mu.Unlock()
	return m.FetchTileFn(ctx, node, aoiID, t)
}

func (m *Tiler) Rasters() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.rasters...)
}

func (m *Tiler) Tiles() []tiler.Tile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tiler.Tile(nil), m.tiles...)
}

func (m *Tiler) Mosaics() []models.MosaicDefinition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.MosaicDefinition(nil), m.mosaics...)
}
