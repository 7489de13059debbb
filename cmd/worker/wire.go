package main

import (
	"log/slog"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/breaker"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/cache"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/config"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/fallback"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/metrics"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/pipeline"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider/factory"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

type chains struct {
	optical *fallback.CatalogChain
	radar   *fallback.CatalogChain
	weather *fallback.WeatherChain
}

// buildChains puts a shared-state breaker in front of every configured
// adapter and orders each data kind primary first.
func buildChains(set factory.Set, bstore breaker.Store, sc *cache.SceneCache, cfg config.BreakerConfig, logger *slog.Logger) chains {
	if logger == nil {
		logger = slog.Default()
	}
	settings := breaker.Settings{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		CallTimeout:      cfg.CallTimeout,
	}
	newBreaker := func(name string) *breaker.Breaker {
		return breaker.New(name, bstore, settings,
			breaker.WithLogger(logger),
			breaker.WithRejectHook(func(provider string) { metrics.BreakerRejections.Inc(provider) }))
	}
	catalog := func(providers ...models.CatalogProvider) []fallback.Link[models.SearchQuery, []models.Item] {
		var out []fallback.Link[models.SearchQuery, []models.Item]
		for _, p := range providers {
			if p == nil {
				continue
			}
			if l, ok := fallback.CatalogLink(p, newBreaker(p.Name())); ok {
				out = append(out, l)
			}
		}
		return out
	}
	var weather []fallback.Link[models.WeatherQuery, []models.WeatherDay]
	for _, p := range []models.WeatherProvider{set.WeatherPrimary, set.WeatherSecondary} {
		if p == nil {
			continue
		}
		if l, ok := fallback.WeatherLink(p, newBreaker(p.Name())); ok {
			weather = append(weather, l)
		}
	}

	observe := func(kind string) fallback.Option {
		return fallback.WithObserver(func(o fallback.Outcome) { metrics.FallbackOutcomes.Inc(kind, string(o)) })
	}
	return chains{
		optical: fallback.NewCatalogChain("optical", sc, catalog(set.OpticalPrimary, set.OpticalSecondary),
			fallback.WithLogger(logger), observe("optical")),
		radar: fallback.NewCatalogChain("radar", sc, catalog(set.RadarPrimary, set.RadarSecondary),
			fallback.WithLogger(logger), observe("radar")),
		weather: fallback.NewWeatherChain(sc, weather, fallback.WithLogger(logger), observe("weather")),
	}
}

func pipelineSettings(cfg *config.Config) pipeline.Settings {
	s := pipeline.DefaultSettings()
	s.OpticalCollection = cfg.Providers.OpticalCollection
	s.RadarCollection = cfg.Providers.RadarCollection
	s.WarmMinZoom = cfg.Tiler.WarmMinZ
	s.WarmMaxZoom = cfg.Tiler.WarmMaxZ
	return s
}
