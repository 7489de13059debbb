package models

import (
	"context"
	"time"
)

// CatalogProvider searches a STAC-like scene catalog (optical or radar).
// Implementations must not retry internally.
type CatalogProvider interface {
	Search(ctx context.Context, q SearchQuery) ([]Item, error)
	// Name returns the provider identifier used for breaker state and logs.
	Name() string
}

// WeatherProvider fetches a daily weather series from an archive.
// Implementations must not retry internally.
type WeatherProvider interface {
	FetchDaily(ctx context.Context, q WeatherQuery) ([]WeatherDay, error)
	Name() string
}

// SearchQuery is one catalog search. A nil Geometry and BBox means an
// unbounded (tenant-wide) search.
type SearchQuery struct {
	Geometry      *Geometry `json:"geometry,omitempty"`
	BBox          *BBox     `json:"bbox,omitempty"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Collections   []string  `json:"collections"`
	MaxCloudCover *float64  `json:"max_cloud_cover,omitempty"`
	Limit         int       `json:"limit,omitempty"`
}

// Item is one catalog scene.
type Item struct {
	ID         string           `json:"id"`
	Collection string           `json:"collection"`
	Datetime   time.Time        `json:"datetime"`
	CloudCover *float64         `json:"cloud_cover,omitempty"`
	BBox       *BBox            `json:"bbox,omitempty"`
	Assets     map[string]Asset `json:"assets"`
	Properties map[string]any   `json:"properties,omitempty"`
}

// Asset is a downloadable file attached to an Item.
type Asset struct {
	Href  string   `json:"href"`
	Type  string   `json:"type,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// WeatherQuery asks for daily weather at a point over an inclusive date range.
type WeatherQuery struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// WeatherDay is one day of an archive series. Nil fields are missing values.
type WeatherDay struct {
	Date            time.Time `json:"date"`
	PrecipitationMM *float64  `json:"precipitation_mm,omitempty"`
	TempMinC        *float64  `json:"temp_min_c,omitempty"`
	TempMaxC        *float64  `json:"temp_max_c,omitempty"`
	TempMeanC       *float64  `json:"temp_mean_c,omitempty"`
	ET0MM           *float64  `json:"et0_mm,omitempty"`
}
