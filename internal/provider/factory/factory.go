// Package factory builds the concrete provider adapters from configuration.
package factory

import (
	"fmt"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/config"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider/stac"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider/weather"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

// Provider names double as circuit breaker keys.
const (
	OpticalPrimary   = "optical-primary"
	OpticalSecondary = "optical-secondary"
	RadarPrimary     = "radar-primary"
	RadarSecondary   = "radar-secondary"
	WeatherPrimary   = "weather-primary"
	WeatherSecondary = "weather-secondary"
)

// Names lists every provider name in chain order.
func Names() []string {
	return []string{OpticalPrimary, OpticalSecondary, RadarPrimary, RadarSecondary, WeatherPrimary, WeatherSecondary}
}

// Set is every adapter the worker needs. Secondary entries are nil when
// no secondary endpoint is configured.
type Set struct {
	OpticalPrimary   models.CatalogProvider
	OpticalSecondary models.CatalogProvider
	RadarPrimary     models.CatalogProvider
	RadarSecondary   models.CatalogProvider
	WeatherPrimary   models.WeatherProvider
	WeatherSecondary models.WeatherProvider
}

// New constructs the adapter set. Called once at worker startup.
func New(cfg config.ProvidersConfig) (Set, error) {
	var set Set
	opts := []stac.Option{stac.WithMaxPages(cfg.MaxPages)}

	set.OpticalPrimary = stac.NewClient(OpticalPrimary, cfg.OpticalPrimaryURL, cfg.HTTPTimeout, opts...)
	if cfg.OpticalSecondaryURL != "" {
		set.OpticalSecondary = stac.NewClient(OpticalSecondary, cfg.OpticalSecondaryURL, cfg.HTTPTimeout, opts...)
	}
	set.RadarPrimary = stac.NewClient(RadarPrimary, cfg.RadarPrimaryURL, cfg.HTTPTimeout, opts...)
	if cfg.RadarSecondaryURL != "" {
		set.RadarSecondary = stac.NewClient(RadarSecondary, cfg.RadarSecondaryURL, cfg.HTTPTimeout, opts...)
	}

	wp, err := NewWeather(cfg.WeatherPrimaryKind, WeatherPrimary, cfg.WeatherPrimaryURL, cfg)
	if err != nil {
		return Set{}, err
	}
	set.WeatherPrimary = wp

	if cfg.WeatherSecondaryURL != "" {
		ws, err := NewWeather(cfg.WeatherSecondaryKind, WeatherSecondary, cfg.WeatherSecondaryURL, cfg)
		if err != nil {
			return Set{}, err
		}
		set.WeatherSecondary = ws
	}

	return set, nil
}

// NewWeather constructs a weather archive adapter by kind.
func NewWeather(kind, name, baseURL string, cfg config.ProvidersConfig) (models.WeatherProvider, error) {
	switch kind {
	case "openmeteo":
		return weather.NewOpenMeteoClient(name, baseURL, cfg.HTTPTimeout), nil
	case "power":
		return weather.NewPowerClient(name, baseURL, cfg.HTTPTimeout), nil
	default:
		return nil, fmt.Errorf("unknown weather provider %q: must be one of openmeteo, power", kind)
	}
}
