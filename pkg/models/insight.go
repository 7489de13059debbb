package models

const (
	InsightRainEffect    = "rain_effect"
	InsightRadarFallback = "radar_fallback"
	InsightVigorDrop     = "vigor_drop"
)

const (
	InsightLevelInfo    = "info"
	InsightLevelWarning = "warning"
)

// Insight is a rule-based observation over consecutive weeks of joined series.
type Insight struct {
	Type     string         `json:"type"`
	Level    string         `json:"level"`
	Year     int            `json:"year"`
	Week     int            `json:"week"`
	Message  string         `json:"message"`
	Evidence map[string]any `json:"evidence"`
}
