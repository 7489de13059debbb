package mock_test

import (
	"context"
	"testing"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider/mock"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCatalog_ReturnsItems(t *testing.T) {
	c := mock.NewCatalog("optical", models.Item{ID: "a"}, models.Item{ID: "b"})
	items, err := c.Search(context.Background(), models.SearchQuery{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 1, c.Calls())
	assert.Equal(t, "optical", c.Name())
}

func TestNewFailingCatalog_Transient(t *testing.T) {
	_, err := mock.NewFailingCatalog("optical").Search(context.Background(), models.SearchQuery{})
	require.Error(t, err)
	assert.False(t, provider.IsPermanent(err))
}

func TestNewRejectingCatalog_Permanent(t *testing.T) {
	_, err := mock.NewRejectingCatalog("optical").Search(context.Background(), models.SearchQuery{})
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))
}

func TestNewTimeoutCatalog_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := mock.NewTimeoutCatalog("optical").Search(ctx, models.SearchQuery{})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrTimeout)
}

func TestNewWeather_OneDayPerDate(t *testing.T) {
	w := mock.NewWeather("wx", 3, 30)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	days, err := w.FetchDaily(context.Background(), models.WeatherQuery{StartDate: start, EndDate: start.AddDate(0, 0, 6)})
	require.NoError(t, err)
	assert.Len(t, days, 7)
	assert.Equal(t, start.AddDate(0, 0, 6), w.LastEndDate())
}
