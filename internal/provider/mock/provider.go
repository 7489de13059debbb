package mock

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

// Catalog satisfies models.CatalogProvider for testing.
type Catalog struct {
	Name_      string
	SearchFunc func(ctx context.Context, q models.SearchQuery) ([]models.Item, error)

	calls atomic.Int64
}

func (m *Catalog) Name() string { return m.Name_ }

func (m *Catalog) Search(ctx context.Context, q models.SearchQuery) ([]models.Item, error) {
	m.calls.Add(1)
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, q)
	}
	return []models.Item{}, nil
}

// Calls returns how many times Search was invoked.
func (m *Catalog) Calls() int { return int(m.calls.Load()) }

// NewCatalog returns a Catalog that always returns items.
func NewCatalog(name string, items ...models.Item) *Catalog {
	return &Catalog{
		Name_: name,
		SearchFunc: func(_ context.Context, _ models.SearchQuery) ([]models.Item, error) {
			return items, nil
		},
	}
}

// NewFailingCatalog returns a Catalog that always returns a transient error.
func NewFailingCatalog(name string) *Catalog {
	return &Catalog{
		Name_: name,
		SearchFunc: func(_ context.Context, _ models.SearchQuery) ([]models.Item, error) {
			return nil, provider.Transient(name, provider.ErrUpstream)
		},
	}
}

// NewRejectingCatalog returns a Catalog that always returns a permanent error.
func NewRejectingCatalog(name string) *Catalog {
	return &Catalog{
		Name_: name,
		SearchFunc: func(_ context.Context, _ models.SearchQuery) ([]models.Item, error) {
			return nil, provider.Permanent(name, errors.New("malformed geometry"))
		},
	}
}

// NewTimeoutCatalog returns a Catalog that blocks until context is cancelled.
func NewTimeoutCatalog(name string) *Catalog {
	return &Catalog{
		Name_: name,
		SearchFunc: func(ctx context.Context, _ models.SearchQuery) ([]models.Item, error) {
			<-ctx.Done()
			return nil, provider.ClassifyTransport(name, ctx.Err())
		},
	}
}

// Weather satisfies models.WeatherProvider for testing.
type Weather struct {
	Name_     string
	FetchFunc func(ctx context.Context, q models.WeatherQuery) ([]models.WeatherDay, error)

	calls   atomic.Int64
	lastEnd atomic.Int64
}

func (m *Weather) Name() string { return m.Name_ }

func (m *Weather) FetchDaily(ctx context.Context, q models.WeatherQuery) ([]models.WeatherDay, error) {
	m.calls.Add(1)
	m.lastEnd.Store(q.EndDate.Unix())
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, q)
	}
	return []models.WeatherDay{}, nil
}

func (m *Weather) Calls() int { return int(m.calls.Load()) }

// LastEndDate returns the end date of the most recent request.
func (m *Weather) LastEndDate() time.Time { return time.Unix(m.lastEnd.Load(), 0).UTC() }

// NewWeather returns a Weather provider that yields one day per requested
// date with the given rain and temperature.
func NewWeather(name string, rainMM, tmaxC float64) *Weather {
	return &Weather{
		Name_: name,
		FetchFunc: func(_ context.Context, q models.WeatherQuery) ([]models.WeatherDay, error) {
			var days []models.WeatherDay
			for d := q.StartDate; !d.After(q.EndDate); d = d.AddDate(0, 0, 1) {
				days = append(days, models.WeatherDay{
					Date:            d,
					PrecipitationMM: models.Float(rainMM),
					TempMaxC:        models.Float(tmaxC),
					TempMinC:        models.Float(tmaxC - 10),
					TempMeanC:       models.Float(tmaxC - 5),
				})
			}
			return days, nil
		},
	}
}

// NewFailingWeather returns a Weather provider that always returns a transient error.
func NewFailingWeather(name string) *Weather {
	return &Weather{
		Name_: name,
		FetchFunc: func(_ context.Context, _ models.WeatherQuery) ([]models.WeatherDay, error) {
			return nil, provider.Transient(name, provider.ErrUnreachable)
		},
	}
}

// Compile-time checks.
var (
	_ models.CatalogProvider = (*Catalog)(nil)
	_ models.WeatherProvider = (*Weather)(nil)
)
