package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/breaker"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/cache"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/config"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/fallback"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/metrics"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider/factory"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	name  string
	items []models.Item
	err   error
	calls int
}

func (f *fakeCatalog) Name() string { return f.name }
func (f *fakeCatalog) Search(context.Context, models.SearchQuery) ([]models.Item, error) {
	f.calls++
	return f.items, f.err
}

type fakeWeather struct{ name string }

func (f *fakeWeather) Name() string { return f.name }
func (f *fakeWeather) FetchDaily(context.Context, models.WeatherQuery) ([]models.WeatherDay, error) {
	return []models.WeatherDay{{Date: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}}, nil
}

func testQuery() models.SearchQuery {
	return models.SearchQuery{
		Start:       time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC),
		Collections: []string{"sentinel-2-l2a"},
	}
}

func TestBuildChains_FallsBackAndCountsRejections(t *testing.T) {
	primary := &fakeCatalog{name: factory.OpticalPrimary, err: errors.New("502 bad gateway")}
	secondary := &fakeCatalog{name: factory.OpticalSecondary, items: []models.Item{{ID: "S2A_0510"}}}
	set := factory.Set{
		OpticalPrimary:   primary,
		OpticalSecondary: secondary,
		RadarPrimary:     &fakeCatalog{name: factory.RadarPrimary},
		WeatherPrimary:   &fakeWeather{name: factory.WeatherPrimary},
	}
	sc := cache.NewSceneCache(cache.NewMemoryCache(), time.Hour, 24*time.Hour)
	ch := buildChains(set, breaker.NewMemoryStore(), sc, config.BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	}, nil)

	rejected := metrics.BreakerRejections.Value(factory.OpticalPrimary)
	succeeded := metrics.FallbackOutcomes.Value("optical", string(fallback.Success))

	first := ch.optical.Fetch(context.Background(), testQuery())
	require.Equal(t, fallback.Success, first.Outcome)
	assert.Equal(t, factory.OpticalSecondary, first.Source)

	second := ch.optical.Fetch(context.Background(), testQuery())
	require.Equal(t, fallback.Success, second.Outcome)
	assert.Equal(t, 1, primary.calls, "open breaker must short-circuit the primary")

	assert.Equal(t, rejected+1, metrics.BreakerRejections.Value(factory.OpticalPrimary))
	assert.Equal(t, succeeded+2, metrics.FallbackOutcomes.Value("optical", string(fallback.Success)))
}

func TestBuildChains_SkipsUnconfiguredSecondaries(t *testing.T) {
	set := factory.Set{
		OpticalPrimary: &fakeCatalog{name: factory.OpticalPrimary},
		RadarPrimary:   &fakeCatalog{name: factory.RadarPrimary, err: errors.New("timeout")},
		WeatherPrimary: &fakeWeather{name: factory.WeatherPrimary},
	}
	sc := cache.NewSceneCache(cache.NewMemoryCache(), time.Hour, 24*time.Hour)
	ch := buildChains(set, breaker.NewMemoryStore(), sc, config.BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute}, nil)

	res := ch.radar.Fetch(context.Background(), testQuery())
	assert.Equal(t, fallback.Empty, res.Outcome)

	w := ch.weather.Fetch(context.Background(), models.WeatherQuery{
		Latitude:  -22.85,
		Longitude: -47.05,
		StartDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, factory.WeatherPrimary, w.Source)
	assert.Len(t, w.Data, 1)
}

func TestPipelineSettings_FromConfig(t *testing.T) {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{OpticalCollection: "landsat-c2-l2", RadarCollection: "sentinel-1-rtc"},
		Tiler:     config.TilerConfig{WarmMinZ: 11, WarmMaxZ: 13},
	}

	s := pipelineSettings(cfg)

	assert.Equal(t, "landsat-c2-l2", s.OpticalCollection)
	assert.Equal(t, "sentinel-1-rtc", s.RadarCollection)
	assert.Equal(t, 11, s.WarmMinZoom)
	assert.Equal(t, 13, s.WarmMaxZoom)
	assert.Equal(t, 24*time.Hour, s.WarmTTL)
}

func TestMetricsMux(t *testing.T) {
	mux := metricsMux()

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vivacampo_breaker_rejections_total")

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRun_RequiresMongo(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/vivacampo")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("TILER_BASE_URL", "http://localhost:8000")
	t.Setenv("MONGO_URI", "")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGO_URI")
}
