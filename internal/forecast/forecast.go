// Package forecast estimates crop yield from the NDVI integral observed so
// far in a season.
package forecast

import (
	"errors"
	"math"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

const Model = "ndvi-integral-v1"

const (
	minRatio      = 0.3
	maxRatio      = 1.6
	maxConfidence = 0.9
)

// ErrNoObservations means no week of the season had an NDVI value yet.
var ErrNoObservations = errors.New("no ndvi observations in season")

// SeasonWeeks is the number of ISO weeks the season spans.
func SeasonWeeks(s *models.Season) int {
	days := int(s.EndDate.Sub(s.StartDate).Hours()/24) + 1
	return int(math.Ceil(float64(days) / 7))
}

// Compute projects the observed mean NDVI over the full season and scales
// the baseline yield by its ratio to the reference integral. Assets outside
// the season up to week are ignored.
func Compute(season *models.Season, week isoweek.Week, assets []*models.DerivedAsset) (*models.Forecast, error) {
	first := isoweek.Of(season.StartDate)
	var sum float64
	var n int
	for _, a := range assets {
		w := isoweek.Week{Year: a.Year, Week: a.Week}
		if a.NDVIMean == nil || w.Before(first) || week.Before(w) {
			continue
		}
		sum += *a.NDVIMean
		n++
	}
	if n == 0 {
		return nil, ErrNoObservations
	}

	projected := sum / float64(n) * float64(SeasonWeeks(season))
	ratio := 1.0
	if season.ReferenceNDVIIntegral > 0 {
		ratio = projected / season.ReferenceNDVIIntegral
	}
	ratio = math.Max(minRatio, math.Min(maxRatio, ratio))

	return &models.Forecast{
		TenantID:     assets[0].TenantID,
		AOIID:        season.AOIID,
		Year:         week.Year,
		Week:         week.Week,
		Crop:         season.Crop,
		YieldTPH:     round2(season.BaselineYieldTPH * ratio),
		Confidence:   confidence(n),
		Observations: n,
		Model:        Model,
	}, nil
}

func confidence(n int) float64 {
	return math.Min(maxConfidence, round2(0.15+0.05*float64(n)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
