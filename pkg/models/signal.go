package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SignalHarvestDetected    = "HARVEST_DETECTED"
	SignalNitrogenDeficiency = "NITROGEN_DEFICIENCY"
	SignalVigorDrop          = "VIGOR_DROP"
	SignalWaterStress        = "WATER_STRESS"
)

const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

const (
	SignalStatusActive    = "ACTIVE"
	SignalStatusDismissed = "DISMISSED"
)

const (
	AlertStatusOpen     = "OPEN"
	AlertStatusAck      = "ACK"
	AlertStatusResolved = "RESOLVED"
)

// OpportunitySignal is a rule-derived observation for an AOI week.
// Natural key: (aoi_id, year, week, signal_type).
type OpportunitySignal struct {
	ID                 uuid.UUID      `db:"id"                  json:"id"`
	TenantID           uuid.UUID      `db:"tenant_id"           json:"tenant_id"`
	AOIID              uuid.UUID      `db:"aoi_id"              json:"aoi_id"`
	Year               int            `db:"year"                json:"year"`
	Week               int            `db:"week"                json:"week"`
	SignalType         string         `db:"signal_type"         json:"signal_type"`
	Severity           string         `db:"severity"            json:"severity"`
	Confidence         float64        `db:"confidence"          json:"confidence"`
	Score              float64        `db:"score"               json:"score"`
	Evidence           map[string]any `db:"evidence"            json:"evidence"`
	RecommendedActions []string       `db:"recommended_actions" json:"recommended_actions"`
	Status             string         `db:"status"              json:"status"`
	CreatedAt          time.Time      `db:"created_at"          json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"          json:"updated_at"`
}

// Alert is a user-facing notification derived from a signal. At most one
// OPEN or ACK alert exists per (aoi_id, alert_type).
type Alert struct {
	ID        uuid.UUID  `db:"id"         json:"id"`
	TenantID  uuid.UUID  `db:"tenant_id"  json:"tenant_id"`
	AOIID     uuid.UUID  `db:"aoi_id"     json:"aoi_id"`
	AlertType string     `db:"alert_type" json:"alert_type"`
	Severity  string     `db:"severity"   json:"severity"`
	Status    string     `db:"status"     json:"status"`
	SignalID  *uuid.UUID `db:"signal_id"  json:"signal_id,omitempty"`
	Message   string     `db:"message"    json:"message"`
	Year      int        `db:"year"       json:"year"`
	Week      int        `db:"week"       json:"week"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// SeverityRank orders severities; unknown values rank lowest.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}
