package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules holds the tunable thresholds used by signal, alert and insight rules.
type Rules struct {
	HarvestRVIDrop   float64 `yaml:"harvest_rvi_drop"`
	VigorDrop        float64 `yaml:"vigor_drop"`
	NDVICanopyFloor  float64 `yaml:"ndvi_canopy_floor"`
	NDREFloor        float64 `yaml:"ndre_floor"`
	WaterStressRain  float64 `yaml:"water_stress_rain_mm"`
	WaterStressTmax  float64 `yaml:"water_stress_tmax_c"`
	WaterStressDrop  float64 `yaml:"water_stress_ndvi_drop"`
	AlertFloor       string  `yaml:"alert_severity_floor"`
	RainEffectRain   float64 `yaml:"rain_effect_rain_mm"`
	RainEffectGain   float64 `yaml:"rain_effect_ndvi_gain"`
	InsightVigorDrop float64 `yaml:"insight_vigor_drop"`
	MaxCloudCover    float64 `yaml:"max_cloud_cover"`
}

// DefaultRules returns the thresholds used when no rules file is configured.
func DefaultRules() Rules {
	return Rules{
		HarvestRVIDrop:   0.3,
		VigorDrop:        0.1,
		NDVICanopyFloor:  0.4,
		NDREFloor:        0.25,
		WaterStressRain:  5,
		WaterStressTmax:  32,
		WaterStressDrop:  0.03,
		AlertFloor:       "HIGH",
		RainEffectRain:   10,
		RainEffectGain:   0.05,
		InsightVigorDrop: 0.1,
		MaxCloudCover:    60,
	}
}

// LoadRules reads a YAML thresholds file on top of DefaultRules. An empty
// path returns the defaults. HARVEST_RVI_DROP overrides the file value.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Rules{}, fmt.Errorf("reading rules file: %w", err)
		}
		if err := yaml.Unmarshal(data, &rules); err != nil {
			return Rules{}, fmt.Errorf("parsing rules file %s: %w", path, err)
		}
	}

	rules.HarvestRVIDrop = envFloat("HARVEST_RVI_DROP", rules.HarvestRVIDrop)

	if err := rules.validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func (r Rules) validate() error {
	if r.HarvestRVIDrop <= 0 {
		return fmt.Errorf("harvest_rvi_drop must be positive, got %v", r.HarvestRVIDrop)
	}
	if r.VigorDrop <= 0 || r.InsightVigorDrop <= 0 {
		return fmt.Errorf("vigor drop thresholds must be positive")
	}
	if r.MaxCloudCover < 0 || r.MaxCloudCover > 100 {
		return fmt.Errorf("max_cloud_cover must be within 0..100, got %v", r.MaxCloudCover)
	}
	switch r.AlertFloor {
	case "LOW", "MEDIUM", "HIGH", "CRITICAL":
	default:
		return fmt.Errorf("alert_severity_floor must be one of LOW, MEDIUM, HIGH, CRITICAL; got %q", r.AlertFloor)
	}
	return nil
}
