// Package insight joins the persisted optical, radar and weather series of an
// AOI by ISO week and derives read-only insights from consecutive weeks.
package insight

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/config"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
)

// MaxLookback bounds one request in weeks.
const MaxLookback = 52

// WeekRow is one joined week. Nil fields had no observation.
type WeekRow struct {
	Week   isoweek.Week `json:"week"`
	NDVI   *float64     `json:"ndvi,omitempty"`
	RVI    *float64     `json:"rvi,omitempty"`
	RainMM *float64     `json:"rain_mm,omitempty"`
}

func (r WeekRow) empty() bool {
	return r.NDVI == nil && r.RVI == nil && r.RainMM == nil
}

// Engine reads derived tables only.
type Engine struct {
	store store.DerivedStore
	rules config.Rules
}

func NewEngine(s store.DerivedStore, rules config.Rules) *Engine {
	return &Engine{store: s, rules: rules}
}

// Series joins the lookback weeks ending at end, oldest first. Weeks with no
// data at all are left out.
func (e *Engine) Series(ctx context.Context, aoiID uuid.UUID, end isoweek.Week, lookback int) ([]WeekRow, error) {
	if lookback < 1 || lookback > MaxLookback {
		return nil, fmt.Errorf("lookback must be between 1 and %d weeks", MaxLookback)
	}
	weeks := isoweek.LastN(end, lookback)
	from := weeks[0]

	optical, err := e.store.ListDerivedAssets(ctx, aoiID, from, end)
	if err != nil {
		return nil, fmt.Errorf("listing derived assets: %w", err)
	}
	radar, err := e.store.ListDerivedRadarAssets(ctx, aoiID, from, end)
	if err != nil {
		return nil, fmt.Errorf("listing radar assets: %w", err)
	}
	weather, err := e.store.ListWeatherDaily(ctx, aoiID, from.Start(), end.End())
	if err != nil {
		return nil, fmt.Errorf("listing weather: %w", err)
	}
	return Join(weeks, optical, radar, weather), nil
}

// Join lines the three series up on weeks.
func Join(weeks []isoweek.Week, optical []*models.DerivedAsset, radar []*models.DerivedRadarAsset, weather []*models.DerivedWeatherDaily) []WeekRow {
	rows := make(map[isoweek.Week]*WeekRow, len(weeks))
	for _, w := range weeks {
		rows[w] = &WeekRow{Week: w}
	}
	for _, a := range optical {
		if r, ok := rows[isoweek.Week{Year: a.Year, Week: a.Week}]; ok && a.NDVIMean != nil {
			v := *a.NDVIMean
			r.NDVI = &v
		}
	}
	for _, a := range radar {
		if r, ok := rows[isoweek.Week{Year: a.Year, Week: a.Week}]; ok && a.RVIMean != nil {
			v := *a.RVIMean
			r.RVI = &v
		}
	}
	for _, d := range weather {
		r, ok := rows[isoweek.Of(d.Date)]
		if !ok || d.PrecipitationMM == nil {
			continue
		}
		sum := *d.PrecipitationMM
		if r.RainMM != nil {
			sum += *r.RainMM
		}
		r.RainMM = &sum
	}

	out := make([]WeekRow, 0, len(weeks))
	for _, w := range weeks {
		if r := rows[w]; !r.empty() {
			out = append(out, *r)
		}
	}
	return out
}

// Generate returns the insights for the lookback window ending at end.
func (e *Engine) Generate(ctx context.Context, aoiID uuid.UUID, end isoweek.Week, lookback int) ([]models.Insight, error) {
	rows, err := e.Series(ctx, aoiID, end, lookback)
	if err != nil {
		return nil, err
	}
	return Evaluate(rows, e.rules), nil
}

// Evaluate applies the rules to each pair of rows one ISO week apart, so a
// row after a gap is not compared with anything. The radar fallback rule only
// looks at the current row and so also fires on the first.
func Evaluate(rows []WeekRow, rules config.Rules) []models.Insight {
	out := []models.Insight{}
	for i, cur := range rows {
		if cur.NDVI == nil && cur.RVI != nil {
			out = append(out, models.Insight{
				Type:     models.InsightRadarFallback,
				Level:    models.InsightLevelInfo,
				Year:     cur.Week.Year,
				Week:     cur.Week.Week,
				Message:  fmt.Sprintf("No optical data in %s; radar RVI %.2f used instead", cur.Week, *cur.RVI),
				Evidence: map[string]any{"rvi": round4(*cur.RVI)},
			})
		}
		if i == 0 {
			continue
		}
		prev := rows[i-1]
		if prev.Week.Next() != cur.Week || prev.NDVI == nil || cur.NDVI == nil {
			continue
		}
		delta := round4(*cur.NDVI - *prev.NDVI)

		if prev.RainMM != nil && *prev.RainMM > rules.RainEffectRain && delta > rules.RainEffectGain {
			out = append(out, models.Insight{
				Type:    models.InsightRainEffect,
				Level:   models.InsightLevelInfo,
				Year:    cur.Week.Year,
				Week:    cur.Week.Week,
				Message: fmt.Sprintf("%.0fmm of rain in %s was followed by NDVI +%.2f", *prev.RainMM, prev.Week, delta),
				Evidence: map[string]any{
					"rain_mm":    round4(*prev.RainMM),
					"ndvi_delta": delta,
				},
			})
		}
		if -delta > rules.InsightVigorDrop {
			out = append(out, models.Insight{
				Type:    models.InsightVigorDrop,
				Level:   models.InsightLevelWarning,
				Year:    cur.Week.Year,
				Week:    cur.Week.Week,
				Message: fmt.Sprintf("NDVI fell by %.2f since %s", -delta, prev.Week),
				Evidence: map[string]any{
					"ndvi_previous": round4(*prev.NDVI),
					"ndvi_current":  round4(*cur.NDVI),
					"ndvi_drop":     -delta,
				},
			})
		}
	}
	return out
}

// DefaultEnd is the last complete ISO week before now.
func DefaultEnd(now time.Time) isoweek.Week {
	return isoweek.Of(now).Prev()
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
