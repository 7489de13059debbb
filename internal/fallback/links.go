package fallback

import (
	"context"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/breaker"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/cache"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

// CatalogChain searches STAC-like catalogs.
type CatalogChain = Chain[models.SearchQuery, []models.Item]

// WeatherChain fetches daily weather series.
type WeatherChain = Chain[models.WeatherQuery, []models.WeatherDay]

// CatalogLink wraps a catalog provider. A nil provider yields ok=false.
func CatalogLink(p models.CatalogProvider, b *breaker.Breaker) (Link[models.SearchQuery, []models.Item], bool) {
	if p == nil {
		return Link[models.SearchQuery, []models.Item]{}, false
	}
	return Link[models.SearchQuery, []models.Item]{
		Name:    p.Name(),
		Breaker: b,
		Call: func(ctx context.Context, q models.SearchQuery) ([]models.Item, error) {
			return p.Search(ctx, q)
		},
	}, true
}

// WeatherLink wraps a weather provider. A nil provider yields ok=false.
func WeatherLink(p models.WeatherProvider, b *breaker.Breaker) (Link[models.WeatherQuery, []models.WeatherDay], bool) {
	if p == nil {
		return Link[models.WeatherQuery, []models.WeatherDay]{}, false
	}
	return Link[models.WeatherQuery, []models.WeatherDay]{
		Name:    p.Name(),
		Breaker: b,
		Call: func(ctx context.Context, q models.WeatherQuery) ([]models.WeatherDay, error) {
			return p.FetchDaily(ctx, q)
		},
	}, true
}

// NewCatalogChain builds a catalog chain keyed by cache.SearchFingerprint.
func NewCatalogChain(kind string, sc *cache.SceneCache, links []Link[models.SearchQuery, []models.Item], opts ...Option) *CatalogChain {
	return New(kind, cache.SearchFingerprint, sc, links, opts...)
}

// NewWeatherChain builds a weather chain keyed by cache.WeatherFingerprint.
func NewWeatherChain(sc *cache.SceneCache, links []Link[models.WeatherQuery, []models.WeatherDay], opts ...Option) *WeatherChain {
	return New("weather", cache.WeatherFingerprint, sc, links, opts...)
}
