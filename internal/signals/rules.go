// Package signals turns persisted weekly observations into opportunity
// signals and alerts using threshold rules.
package signals

import (
	"fmt"
	"math"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/config"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
)

// WeekWeather summarizes the daily weather rows of one week.
type WeekWeather struct {
	Days     int
	RainMM   float64
	MaxTempC *float64
}

// SummarizeWeather folds daily rows; days without a value are ignored.
func SummarizeWeather(rows []*models.DerivedWeatherDaily) WeekWeather {
	var w WeekWeather
	for _, r := range rows {
		w.Days++
		if r.PrecipitationMM != nil {
			w.RainMM += *r.PrecipitationMM
		}
		if r.TempMaxC != nil && (w.MaxTempC == nil || *r.TempMaxC > *w.MaxTempC) {
			v := *r.TempMaxC
			w.MaxTempC = &v
		}
	}
	return w
}

// Input is everything the weekly rules look at.
type Input struct {
	TenantID uuid.UUID
	AOIID    uuid.UUID
	Week     isoweek.Week
	Current  *models.DerivedAsset
	Previous *models.DerivedAsset
	Weather  WeekWeather

	Radar         *models.DerivedRadarAsset
	PreviousRadar *models.DerivedRadarAsset
}

// Evaluator applies the configured thresholds.
type Evaluator struct {
	rules config.Rules
}

func NewEvaluator(rules config.Rules) *Evaluator {
	return &Evaluator{rules: rules}
}

// Evaluate returns the signals raised for in in a fixed rule order. The optical
// rules need the week's NDVI; the harvest rule only needs both radar weeks.
func (e *Evaluator) Evaluate(in Input) []*models.OpportunitySignal {
	var out []*models.OpportunitySignal
	if in.Current != nil && in.Current.NDVIMean != nil {
		if sig := e.nitrogen(in); sig != nil {
			out = append(out, sig)
		}
		if sig := e.vigorDrop(in); sig != nil {
			out = append(out, sig)
		}
		if sig := e.waterStress(in); sig != nil {
			out = append(out, sig)
		}
	}
	if sig := Harvest(in.TenantID, in.AOIID, in.Week, in.Radar, in.PreviousRadar, e.rules.HarvestRVIDrop); sig != nil {
		out = append(out, sig)
	}
	return out
}

func (e *Evaluator) nitrogen(in Input) *models.OpportunitySignal {
	ndvi := *in.Current.NDVIMean
	if in.Current.NDREMean == nil || ndvi < e.rules.NDVICanopyFloor {
		return nil
	}
	ndre := *in.Current.NDREMean
	if ndre >= e.rules.NDREFloor {
		return nil
	}
	gap := (e.rules.NDREFloor - ndre) / e.rules.NDREFloor
	sig := newSignal(in, models.SignalNitrogenDeficiency, bySeverity(gap, 0.1, 0.25, 0.4), clamp01(gap), confidence(in.Current))
	sig.Evidence = map[string]any{
		"ndvi":       round4(ndvi),
		"ndre":       round4(ndre),
		"ndre_floor": e.rules.NDREFloor,
	}
	sig.RecommendedActions = []string{
		"Scout the field to confirm chlorosis in older leaves",
		"Plan a nitrogen top-dressing for the affected zones",
	}
	return sig
}

func (e *Evaluator) vigorDrop(in Input) *models.OpportunitySignal {
	drop, ok := ndviDrop(in)
	if !ok || drop <= e.rules.VigorDrop {
		return nil
	}
	prev := *in.Previous.NDVIMean
	sig := newSignal(in, models.SignalVigorDrop, bySeverity(drop, 0.15, 0.2, 0.3), clamp01(drop/math.Max(prev, 0.01)), confidence(in.Current))
	sig.Evidence = map[string]any{
		"ndvi_current":  round4(*in.Current.NDVIMean),
		"ndvi_previous": round4(prev),
		"ndvi_drop":     round4(drop),
	}
	sig.RecommendedActions = []string{
		"Inspect the field for pest, disease or lodging damage",
		"Compare with the radar series to rule out cloud contamination",
	}
	return sig
}

func (e *Evaluator) waterStress(in Input) *models.OpportunitySignal {
	drop, ok := ndviDrop(in)
	w := in.Weather
	if !ok || w.Days == 0 || w.MaxTempC == nil {
		return nil
	}
	if w.RainMM >= e.rules.WaterStressRain || *w.MaxTempC < e.rules.WaterStressTmax || drop <= e.rules.WaterStressDrop {
		return nil
	}
	severity := models.SeverityMedium
	if *w.MaxTempC >= e.rules.WaterStressTmax+3 {
		severity = models.SeverityHigh
	}
	score := clamp01((*w.MaxTempC - e.rules.WaterStressTmax + 1) / 10)
	sig := newSignal(in, models.SignalWaterStress, severity, score, confidence(in.Current))
	sig.Evidence = map[string]any{
		"rain_mm":   round4(w.RainMM),
		"tmax_c":    round4(*w.MaxTempC),
		"ndvi_drop": round4(drop),
	}
	sig.RecommendedActions = []string{
		"Check soil moisture and irrigation schedule",
	}
	return sig
}

// Harvest compares radar RVI of two consecutive weeks. It returns nil when
// either week lacks RVI or the drop does not exceed threshold.
func Harvest(tenantID, aoiID uuid.UUID, week isoweek.Week, current, previous *models.DerivedRadarAsset, threshold float64) *models.OpportunitySignal {
	if current == nil || previous == nil || current.RVIMean == nil || previous.RVIMean == nil {
		return nil
	}
	drop := round4(*previous.RVIMean - *current.RVIMean)
	if drop <= threshold {
		return nil
	}
	in := Input{TenantID: tenantID, AOIID: aoiID, Week: week}
	sig := newSignal(in, models.SignalHarvestDetected, models.SeverityMedium, clamp01(drop), 0.6)
	sig.Evidence = map[string]any{
		"rvi_current":  round4(*current.RVIMean),
		"rvi_previous": round4(*previous.RVIMean),
		"rvi_drop":     drop,
	}
	if current.VHMean != nil && previous.VHMean != nil {
		sig.Evidence["vh_current"] = round4(*current.VHMean)
		sig.Evidence["vh_previous"] = round4(*previous.VHMean)
	}
	sig.RecommendedActions = []string{"Confirm harvest date with the grower"}
	return sig
}

// AlertFor returns the alert a signal raises, or nil when its severity is
// below floor.
func AlertFor(sig *models.OpportunitySignal, floor string) *models.Alert {
	if models.SeverityRank(sig.Severity) < models.SeverityRank(floor) {
		return nil
	}
	id := sig.ID
	alert := &models.Alert{
		TenantID:  sig.TenantID,
		AOIID:     sig.AOIID,
		AlertType: sig.SignalType,
		Severity:  sig.Severity,
		Status:    models.AlertStatusOpen,
		Message:   fmt.Sprintf("%s (%s) detected in %s", sig.SignalType, sig.Severity, isoweek.Week{Year: sig.Year, Week: sig.Week}),
		Year:      sig.Year,
		Week:      sig.Week,
	}
	if id != uuid.Nil {
		alert.SignalID = &id
	}
	return alert
}

func newSignal(in Input, signalType, severity string, score, conf float64) *models.OpportunitySignal {
	return &models.OpportunitySignal{
		TenantID:   in.TenantID,
		AOIID:      in.AOIID,
		Year:       in.Week.Year,
		Week:       in.Week.Week,
		SignalType: signalType,
		Severity:   severity,
		Confidence: conf,
		Score:      round4(score),
		Status:     models.SignalStatusActive,
	}
}

func ndviDrop(in Input) (float64, bool) {
	if in.Previous == nil || in.Previous.NDVIMean == nil || in.Current == nil || in.Current.NDVIMean == nil {
		return 0, false
	}
	return round4(*in.Previous.NDVIMean - *in.Current.NDVIMean), true
}

// bySeverity grades v against ascending medium/high/critical cut points.
func bySeverity(v, medium, high, critical float64) string {
	switch {
	case v >= critical:
		return models.SeverityCritical
	case v >= high:
		return models.SeverityHigh
	case v >= medium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// confidence is lowered for weeks served from stale cache.
func confidence(a *models.DerivedAsset) float64 {
	if a.Degraded {
		return 0.5
	}
	return 0.8
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
