package fallback

import (
	"context"
	"testing"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/breaker"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/cache"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider/mock"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQuery() models.SearchQuery {
	bbox := models.BBox{-47.1, -22.9, -47.0, -22.8}
	return models.SearchQuery{
		BBox:          &bbox,
		Start:         time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC),
		End:           time.Date(2024, 5, 12, 23, 59, 59, 0, time.UTC),
		Collections:   []string{"sentinel-2-l2a"},
		MaxCloudCover: models.Float(60),
	}
}

func newBreaker(name string, store breaker.Store) *breaker.Breaker {
	return breaker.New(name, store, breaker.Settings{FailureThreshold: 2, RecoveryTimeout: time.Hour})
}

func links(t *testing.T, store breaker.Store, providers ...models.CatalogProvider) []Link[models.SearchQuery, []models.Item] {
	t.Helper()
	var out []Link[models.SearchQuery, []models.Item]
	for _, p := range providers {
		l, ok := CatalogLink(p, newBreaker(p.Name(), store))
		require.True(t, ok)
		out = append(out, l)
	}
	return out
}

func TestFetch_PrimarySuccessWritesThrough(t *testing.T) {
	store := breaker.NewMemoryStore()
	sc := cache.NewSceneCache(cache.NewMemoryCache(), time.Hour, 24*time.Hour)
	primary := mock.NewCatalog("optical-primary", models.Item{ID: "S2A_1"})
	secondary := mock.NewCatalog("optical-secondary", models.Item{ID: "S2B_9"})

	chain := NewCatalogChain("optical", sc, links(t, store, primary, secondary))
	res := chain.Fetch(context.Background(), testQuery())

	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, "optical-primary", res.Source)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "S2A_1", res.Data[0].ID)
	assert.Equal(t, 0, secondary.Calls())

	var cached []models.Item
	ok, err := sc.Fresh(context.Background(), cache.SearchFingerprint(testQuery()), &cached)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "S2A_1", cached[0].ID)
}

func TestFetch_FallsBackToSecondary(t *testing.T) {
	store := breaker.NewMemoryStore()
	primary := mock.NewFailingCatalog("optical-primary")
	secondary := mock.NewCatalog("optical-secondary", models.Item{ID: "S2B_9"})

	chain := NewCatalogChain("optical", nil, links(t, store, primary, secondary))
	res := chain.Fetch(context.Background(), testQuery())

	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, "optical-secondary", res.Source)
	assert.Equal(t, 1, primary.Calls())
}

func TestFetch_PermanentErrorStillProgresses(t *testing.T) {
	store := breaker.NewMemoryStore()
	primary := mock.NewRejectingCatalog("optical-primary")
	secondary := mock.NewCatalog("optical-secondary", models.Item{ID: "S2B_9"})

	res := NewCatalogChain("optical", nil, links(t, store, primary, secondary)).Fetch(context.Background(), testQuery())
	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, "optical-secondary", res.Source)
}

func TestFetch_BothFailServesStaleCacheDegraded(t *testing.T) {
	store := breaker.NewMemoryStore()
	clock := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mem := cache.NewMemoryCache()
	sc := cache.NewSceneCache(mem, time.Hour, 30*24*time.Hour, cache.WithSceneClock(func() time.Time { return clock }))
	fp := cache.SearchFingerprint(testQuery())
	require.NoError(t, sc.Put(context.Background(), fp, []models.Item{{ID: "S2A_cached"}}))

	// Well past TTL, still inside retention.
	clock = clock.Add(48 * time.Hour)

	primary := mock.NewFailingCatalog("optical-primary")
	secondary := mock.NewFailingCatalog("optical-secondary")
	var observed []Outcome
	chain := NewCatalogChain("optical", sc, links(t, store, primary, secondary),
		WithObserver(func(o Outcome) { observed = append(observed, o) }))

	res := chain.Fetch(context.Background(), testQuery())

	assert.Equal(t, Degraded, res.Outcome)
	assert.True(t, res.IsDegraded())
	assert.Equal(t, SourceCache, res.Source)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "S2A_cached", res.Data[0].ID)
	require.NotNil(t, res.StoredAt)
	assert.Equal(t, []Outcome{Degraded}, observed)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 1, secondary.Calls())
}

func TestFetch_BothFailNoCacheReturnsEmpty(t *testing.T) {
	store := breaker.NewMemoryStore()
	sc := cache.NewSceneCache(cache.NewMemoryCache(), time.Hour, time.Hour)
	chain := NewCatalogChain("optical", sc, links(t, store,
		mock.NewFailingCatalog("optical-primary"),
		mock.NewFailingCatalog("optical-secondary"),
	))

	res := chain.Fetch(context.Background(), testQuery())
	assert.Equal(t, Empty, res.Outcome)
	assert.True(t, res.IsEmpty())
	assert.Nil(t, res.Data)
}

func TestFetch_OpenCircuitSkipsProvider(t *testing.T) {
	store := breaker.NewMemoryStore()
	primary := mock.NewFailingCatalog("optical-primary")
	secondary := mock.NewCatalog("optical-secondary", models.Item{ID: "S2B_9"})
	chain := NewCatalogChain("optical", nil, links(t, store, primary, secondary))

	// Threshold is 2.
	chain.Fetch(context.Background(), testQuery())
	chain.Fetch(context.Background(), testQuery())
	require.Equal(t, 2, primary.Calls())

	res := chain.Fetch(context.Background(), testQuery())
	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, "optical-secondary", res.Source)
	assert.Equal(t, 2, primary.Calls(), "open breaker must short-circuit the primary")
}

func TestFetch_ReadThroughServesFreshCache(t *testing.T) {
	store := breaker.NewMemoryStore()
	sc := cache.NewSceneCache(cache.NewMemoryCache(), time.Hour, time.Hour)
	require.NoError(t, sc.Put(context.Background(), cache.SearchFingerprint(testQuery()), []models.Item{{ID: "hot"}}))
	primary := mock.NewCatalog("optical-primary", models.Item{ID: "S2A_1"})

	res := NewCatalogChain("optical", sc, links(t, store, primary), WithReadThrough()).Fetch(context.Background(), testQuery())
	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "hot", res.Data[0].ID)
	assert.Equal(t, 0, primary.Calls())
}

func TestFetch_SuccessfulEmptyIsSuccess(t *testing.T) {
	store := breaker.NewMemoryStore()
	res := NewCatalogChain("optical", nil, links(t, store, mock.NewCatalog("optical-primary"))).Fetch(context.Background(), testQuery())
	assert.Equal(t, Success, res.Outcome)
	assert.Empty(t, res.Data)
}

func TestWeatherChain(t *testing.T) {
	store := breaker.NewMemoryStore()
	primary, _ := WeatherLink(mock.NewFailingWeather("weather-primary"), newBreaker("weather-primary", store))
	secondary, _ := WeatherLink(mock.NewWeather("weather-secondary", 4, 30), nil)

	q := models.WeatherQuery{
		StartDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
	}
	res := NewWeatherChain(nil, []Link[models.WeatherQuery, []models.WeatherDay]{primary, secondary}).Fetch(context.Background(), q)
	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, "weather-secondary", res.Source)
	assert.Len(t, res.Data, 3)
}

func TestCatalogLink_NilProvider(t *testing.T) {
	_, ok := CatalogLink(nil, nil)
	assert.False(t, ok)
	_, ok = WeatherLink(nil, nil)
	assert.False(t, ok)
}
