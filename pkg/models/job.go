package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending = "PENDING"
	JobStatusRunning = "RUNNING"
	JobStatusDone    = "DONE"
	JobStatusFailed  = "FAILED"
)

// JobType identifies which pipeline stage a job runs.
type JobType string

const (
	JobTypeBackfill         JobType = "BACKFILL"
	JobTypeProcessWeek      JobType = "PROCESS_WEEK"
	JobTypeProcessWeather   JobType = "PROCESS_WEATHER"
	JobTypeProcessRadarWeek JobType = "PROCESS_RADAR_WEEK"
	JobTypeCalculateStats   JobType = "CALCULATE_STATS"
	JobTypeSignalsWeek      JobType = "SIGNALS_WEEK"
	JobTypeAlertsWeek       JobType = "ALERTS_WEEK"
	JobTypeForecastWeek     JobType = "FORECAST_WEEK"
	JobTypeCreateMosaic     JobType = "CREATE_MOSAIC"
	JobTypeDetectHarvest    JobType = "DETECT_HARVEST"
	JobTypeWarmCache        JobType = "WARM_CACHE"
)

// AllJobTypes lists every job type a worker can dispatch.
var AllJobTypes = []JobType{
	JobTypeBackfill,
	JobTypeProcessWeek,
	JobTypeProcessWeather,
	JobTypeProcessRadarWeek,
	JobTypeCalculateStats,
	JobTypeSignalsWeek,
	JobTypeAlertsWeek,
	JobTypeForecastWeek,
	JobTypeCreateMosaic,
	JobTypeDetectHarvest,
	JobTypeWarmCache,
}

// Job is one unit of pipeline work. Rows are never deleted; reprocessing
// creates a new row.
type Job struct {
	ID             uuid.UUID      `db:"id"              json:"id"`
	TenantID       uuid.UUID      `db:"tenant_id"       json:"tenant_id"`
	AOIID          *uuid.UUID     `db:"aoi_id"          json:"aoi_id,omitempty"`
	Type           JobType        `db:"job_type"        json:"job_type"`
	Status         string         `db:"status"          json:"status"`
	Payload        map[string]any `db:"payload"         json:"payload"`
	ErrorMessage   *string        `db:"error_message"   json:"error_message,omitempty"`
	IdempotencyKey *string        `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time      `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"      json:"updated_at"`
}

// IsTerminal reports whether the job reached DONE or FAILED.
func (j *Job) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

func IsTerminalStatus(status string) bool {
	return status == JobStatusDone || status == JobStatusFailed
}

// BackfillBatch records the jobs created for one backfill idempotency key.
type BackfillBatch struct {
	IdempotencyKey string      `db:"idempotency_key" json:"idempotency_key"`
	TenantID       uuid.UUID   `db:"tenant_id"       json:"tenant_id"`
	AOIID          uuid.UUID   `db:"aoi_id"          json:"aoi_id"`
	JobIDs         []uuid.UUID `db:"job_ids"         json:"job_ids"`
	CreatedAt      time.Time   `db:"created_at"      json:"created_at"`
}
