package signals

import (
	"testing"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/config"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func asset(ndvi, ndre float64) *models.DerivedAsset {
	return &models.DerivedAsset{NDVIMean: models.Float(ndvi), NDREMean: models.Float(ndre)}
}

func radar(rvi float64) *models.DerivedRadarAsset {
	return &models.DerivedRadarAsset{RVIMean: models.Float(rvi)}
}

func types(sigs []*models.OpportunitySignal) []string {
	out := make([]string, len(sigs))
	for i, s := range sigs {
		out[i] = s.SignalType
	}
	return out
}

func TestEvaluate(t *testing.T) {
	hot := WeekWeather{Days: 7, RainMM: 1, MaxTempC: models.Float(36)}
	wet := WeekWeather{Days: 7, RainMM: 20, MaxTempC: models.Float(36)}

	tests := []struct {
		name     string
		current  *models.DerivedAsset
		previous *models.DerivedAsset
		weather  WeekWeather
		want     []string
	}{
		{"healthy", asset(0.7, 0.35), asset(0.69, 0.34), wet, []string{}},
		{"nitrogen gap", asset(0.6, 0.15), nil, WeekWeather{}, []string{models.SignalNitrogenDeficiency}},
		{"sparse canopy skips nitrogen", asset(0.3, 0.1), nil, WeekWeather{}, []string{}},
		{"vigor drop", asset(0.45, 0.3), asset(0.6, 0.32), wet, []string{models.SignalVigorDrop}},
		{"drop at threshold is not a signal", asset(0.5, 0.3), asset(0.6, 0.3), wet, []string{}},
		{"water stress", asset(0.65, 0.3), asset(0.7, 0.3), hot, []string{models.SignalWaterStress}},
		{"everything", asset(0.45, 0.1), asset(0.7, 0.3), hot, []string{models.SignalNitrogenDeficiency, models.SignalVigorDrop, models.SignalWaterStress}},
		{"no current ndvi", &models.DerivedAsset{}, asset(0.7, 0.3), hot, []string{}},
	}
	e := NewEvaluator(config.DefaultRules())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sigs := e.Evaluate(Input{Week: isoweek.Week{Year: 2024, Week: 20}, Current: tt.current, Previous: tt.previous, Weather: tt.weather})
			assert.Equal(t, tt.want, types(sigs))
			for _, s := range sigs {
				assert.Equal(t, 2024, s.Year)
				assert.Equal(t, 20, s.Week)
				assert.Equal(t, models.SignalStatusActive, s.Status)
				assert.NotEmpty(t, s.RecommendedActions)
			}
		})
	}
}

func TestEvaluate_VigorDropEvidence(t *testing.T) {
	e := NewEvaluator(config.DefaultRules())
	sigs := e.Evaluate(Input{Current: asset(0.35, 0.3), Previous: asset(0.7, 0.3)})
	require.Len(t, sigs, 1)
	assert.Equal(t, models.SeverityCritical, sigs[0].Severity)
	assert.Equal(t, 0.35, sigs[0].Evidence["ndvi_drop"])
}

func TestEvaluate_RadarWeeks(t *testing.T) {
	e := NewEvaluator(config.DefaultRules())
	week := isoweek.Week{Year: 2024, Week: 19}

	sigs := e.Evaluate(Input{Week: week, Radar: radar(0.2), PreviousRadar: radar(0.6)})
	require.Len(t, sigs, 1)
	assert.Equal(t, models.SignalHarvestDetected, sigs[0].SignalType)
	assert.Equal(t, 19, sigs[0].Week)

	sigs = e.Evaluate(Input{
		Week:          week,
		Current:       asset(0.45, 0.3),
		Previous:      asset(0.6, 0.32),
		Radar:         radar(0.2),
		PreviousRadar: radar(0.6),
	})
	assert.Equal(t, []string{models.SignalVigorDrop, models.SignalHarvestDetected}, types(sigs))

	assert.Empty(t, e.Evaluate(Input{Week: week, Radar: radar(0.2)}))
}

func TestHarvest(t *testing.T) {
	tenant, aoi := uuid.New(), uuid.New()
	week := isoweek.Week{Year: 2024, Week: 1}

	sig := Harvest(tenant, aoi, week, radar(0.2), radar(0.6), 0.3)
	require.NotNil(t, sig)
	assert.Equal(t, models.SignalHarvestDetected, sig.SignalType)
	assert.Equal(t, 0.4, sig.Evidence["rvi_drop"])
	assert.Equal(t, 0.2, sig.Evidence["rvi_current"])
	assert.Equal(t, 0.6, sig.Evidence["rvi_previous"])

	assert.Nil(t, Harvest(tenant, aoi, week, radar(0.45), radar(0.5), 0.3))
	assert.Nil(t, Harvest(tenant, aoi, week, radar(0.2), nil, 0.3))
	assert.Nil(t, Harvest(tenant, aoi, week, &models.DerivedRadarAsset{}, radar(0.6), 0.3))
}

func TestAlertFor(t *testing.T) {
	sig := &models.OpportunitySignal{ID: uuid.New(), SignalType: models.SignalVigorDrop, Severity: models.SeverityHigh, Year: 2024, Week: 3}
	alert := AlertFor(sig, models.SeverityHigh)
	require.NotNil(t, alert)
	assert.Equal(t, models.AlertStatusOpen, alert.Status)
	assert.Equal(t, sig.ID, *alert.SignalID)
	assert.Contains(t, alert.Message, "2024-W03")

	sig.Severity = models.SeverityMedium
	assert.Nil(t, AlertFor(sig, models.SeverityHigh))
}

func TestSummarizeWeather(t *testing.T) {
	rows := []*models.DerivedWeatherDaily{
		{PrecipitationMM: models.Float(2), TempMaxC: models.Float(30)},
		{PrecipitationMM: models.Float(3.5), TempMaxC: models.Float(33)},
		{},
	}
	w := SummarizeWeather(rows)
	assert.Equal(t, 3, w.Days)
	assert.Equal(t, 5.5, w.RainMM)
	assert.Equal(t, 33.0, *w.MaxTempC)
}
