package models

import (
	"time"

	"github.com/google/uuid"
)

// DerivedAsset holds optical vegetation indices for one AOI week.
// Natural key: (aoi_id, year, week).
type DerivedAsset struct {
	TenantID   uuid.UUID `db:"tenant_id"   json:"tenant_id"`
	AOIID      uuid.UUID `db:"aoi_id"      json:"aoi_id"`
	Year       int       `db:"year"        json:"year"`
	Week       int       `db:"week"        json:"week"`
	SceneID    string    `db:"scene_id"    json:"scene_id"`
	CloudCover *float64  `db:"cloud_cover" json:"cloud_cover,omitempty"`
	NDVIMean   *float64  `db:"ndvi_mean"   json:"ndvi_mean,omitempty"`
	NDREMean   *float64  `db:"ndre_mean"   json:"ndre_mean,omitempty"`
	RECIMean   *float64  `db:"reci_mean"   json:"reci_mean,omitempty"`
	SRREMean   *float64  `db:"srre_mean"   json:"srre_mean,omitempty"`
	NDWIMean   *float64  `db:"ndwi_mean"   json:"ndwi_mean,omitempty"`
	Degraded   bool      `db:"degraded"    json:"degraded"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}

// DerivedRadarAsset holds radar indices for one AOI week.
// Natural key: (aoi_id, year, week).
type DerivedRadarAsset struct {
	TenantID   uuid.UUID `db:"tenant_id"   json:"tenant_id"`
	AOIID      uuid.UUID `db:"aoi_id"      json:"aoi_id"`
	Year       int       `db:"year"        json:"year"`
	Week       int       `db:"week"        json:"week"`
	SceneCount int       `db:"scene_count" json:"scene_count"`
	RVIMean    *float64  `db:"rvi_mean"    json:"rvi_mean,omitempty"`
	VVMean     *float64  `db:"vv_mean"     json:"vv_mean,omitempty"`
	VHMean     *float64  `db:"vh_mean"     json:"vh_mean,omitempty"`
	Degraded   bool      `db:"degraded"    json:"degraded"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}

// DerivedWeatherDaily holds one day of weather aggregates for an AOI.
// Natural key: (aoi_id, date).
type DerivedWeatherDaily struct {
	TenantID        uuid.UUID `db:"tenant_id"        json:"tenant_id"`
	AOIID           uuid.UUID `db:"aoi_id"           json:"aoi_id"`
	Date            time.Time `db:"date"             json:"date"`
	PrecipitationMM *float64  `db:"precipitation_mm" json:"precipitation_mm,omitempty"`
	TempMinC        *float64  `db:"temp_min_c"       json:"temp_min_c,omitempty"`
	TempMaxC        *float64  `db:"temp_max_c"       json:"temp_max_c,omitempty"`
	TempMeanC       *float64  `db:"temp_mean_c"      json:"temp_mean_c,omitempty"`
	ET0MM           *float64  `db:"et0_mm"           json:"et0_mm,omitempty"`
	Source          string    `db:"source"           json:"source"`
	UpdatedAt       time.Time `db:"updated_at"       json:"updated_at"`
}

// Forecast is a yield estimate computed for one AOI week.
// Natural key: (aoi_id, year, week).
type Forecast struct {
	TenantID     uuid.UUID `db:"tenant_id"      json:"tenant_id"`
	AOIID        uuid.UUID `db:"aoi_id"         json:"aoi_id"`
	Year         int       `db:"year"           json:"year"`
	Week         int       `db:"week"           json:"week"`
	Crop         string    `db:"crop"           json:"crop"`
	YieldTPH     float64   `db:"yield_tph"      json:"yield_tph"`
	Confidence   float64   `db:"confidence"     json:"confidence"`
	Observations int       `db:"observations"   json:"observations"`
	Model        string    `db:"model"          json:"model"`
	UpdatedAt    time.Time `db:"updated_at"     json:"updated_at"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
