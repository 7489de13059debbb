package models

import (
	"time"

	"github.com/google/uuid"
)

// Geometry is a GeoJSON geometry. Only Polygon and MultiPolygon are used for AOIs.
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// BBox is [minLon, minLat, maxLon, maxLat].
type BBox [4]float64

// Centroid returns the center of the box.
func (b BBox) Centroid() (lon, lat float64) {
	return (b[0] + b[2]) / 2, (b[1] + b[3]) / 2
}

// AOI is a georeferenced farm parcel.
type AOI struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	TenantID  uuid.UUID `db:"tenant_id"  json:"tenant_id"`
	Name      string    `db:"name"       json:"name"`
	Geometry  Geometry  `db:"geometry"   json:"geometry"`
	BBox      BBox      `db:"bbox"       json:"bbox"`
	Active    bool      `db:"active"     json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Season describes one crop cycle used for yield forecasting.
type Season struct {
	AOIID                 uuid.UUID `db:"aoi_id"                  json:"aoi_id"`
	Crop                  string    `db:"crop"                    json:"crop"`
	StartDate             time.Time `db:"start_date"              json:"start_date"`
	EndDate               time.Time `db:"end_date"                json:"end_date"`
	BaselineYieldTPH      float64   `db:"baseline_yield_tph"      json:"baseline_yield_tph"`
	ReferenceNDVIIntegral float64   `db:"reference_ndvi_integral" json:"reference_ndvi_integral"`
}
